// Package classifier derives the two classification booleans from a detail
// payload. Classification is a pure function of the declared metadata: a
// language list entry matching a Chinese variant, a category matching the
// trading-card category. No heuristics beyond that.
package classifier

import (
	"strings"
	"time"

	"github.com/luoxia/steamtags/internal/domain"
	"github.com/luoxia/steamtags/internal/steam"
	"golang.org/x/net/html"
)

// Rules is the matching table for both booleans. The strings mirror the
// original rule set; changing them silently changes classification results.
type Rules struct {
	// ChineseMarkers are matched case-insensitively against each entry of
	// the supported-language list after markup stripping.
	ChineseMarkers []string

	// CardCategoryID is the platform's trading-card category id.
	CardCategoryID int

	// CardCategoryName is the fallback match on the category description.
	CardCategoryName string

	// GameType is the detail payload type admitted into the outputs. DLC,
	// soundtracks and demos declare languages and categories too but are
	// never classified.
	GameType string
}

// DefaultRules returns the rule set the output files are built with.
func DefaultRules() Rules {
	return Rules{
		ChineseMarkers: []string{
			"schinese",
			"tchinese",
			"simplified chinese",
			"traditional chinese",
		},
		CardCategoryID:   29,
		CardCategoryName: "Steam Trading Cards",
		GameType:         "game",
	}
}

// Classify evaluates one detail payload into a record stamped with now.
// Non-game types get a record with both booleans false, which keeps them
// out of every output.
func (r Rules) Classify(app domain.App, details *steam.AppDetails, now time.Time) domain.DetailRecord {
	name := details.Name
	if name == "" {
		name = app.Name
	}
	rec := domain.DetailRecord{Name: name, LastChecked: now.UTC()}
	if details.Type != r.GameType {
		return rec
	}
	rec.SupportsChinese = r.supportsChinese(details.SupportedLanguages)
	rec.SupportsCards = r.supportsCards(details.Categories)
	return rec
}

func (r Rules) supportsChinese(supportedLanguages string) bool {
	for _, lang := range splitLanguages(supportedLanguages) {
		for _, marker := range r.ChineseMarkers {
			if strings.Contains(lang, marker) {
				return true
			}
		}
	}
	return false
}

func (r Rules) supportsCards(categories []steam.Category) bool {
	for _, cat := range categories {
		if cat.ID == r.CardCategoryID {
			return true
		}
		if strings.EqualFold(cat.Description, r.CardCategoryName) {
			return true
		}
	}
	return false
}

// splitLanguages turns the raw supported_languages field into lowercase
// entries. The field is a comma-separated list laced with markup, e.g.
// "English<strong>*</strong>, Simplified Chinese<br>* full audio support",
// so tags are stripped before splitting.
func splitLanguages(raw string) []string {
	if raw == "" {
		return nil
	}

	var langs []string
	for _, part := range strings.Split(stripMarkup(raw), ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			langs = append(langs, part)
		}
	}
	return langs
}

// stripMarkup drops HTML elements, keeping only text content. Annotation
// markers like the asterisk for full audio support survive as plain text,
// which is fine: matching is substring-based.
func stripMarkup(raw string) string {
	if !strings.ContainsRune(raw, '<') {
		return raw
	}

	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return raw
	}

	var sb strings.Builder
	var extract func(*html.Node)
	extract = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extract(c)
		}
		// <br> delimits the trailing annotation legend, not a language
		if n.Type == html.ElementNode && n.Data == "br" {
			sb.WriteString("\n")
		}
	}
	extract(doc)

	// Only the first line lists languages; the legend after <br> repeats
	// marker-adjacent words and must not produce false positives.
	text := sb.String()
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = text[:idx]
	}
	return text
}
