package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/luoxia/steamtags/internal/domain"
)

const (
	chineseGamesFile = "chinese_games.json"
	cardGamesFile    = "card_games.json"
	invalidIDsFile   = "invalid_appids.json"
)

// Results is the in-memory state behind the three JSON output files: the
// Chinese-support mapping, the trading-card mapping, and the invalid-ID set.
// Mutations are only visible on disk after Flush, which replaces each file
// atomically so a crash mid-run never exposes partial output.
type Results struct {
	dir     string
	chinese map[int]domain.DetailRecord
	cards   map[int]domain.DetailRecord
	invalid map[int]struct{}
}

// LoadResults reads prior output from dir. Missing files mean empty state.
func LoadResults(dir string) (*Results, error) {
	r := &Results{
		dir:     dir,
		chinese: make(map[int]domain.DetailRecord),
		cards:   make(map[int]domain.DetailRecord),
		invalid: make(map[int]struct{}),
	}

	if err := readRecordFile(filepath.Join(dir, chineseGamesFile), r.chinese); err != nil {
		return nil, err
	}
	if err := readRecordFile(filepath.Join(dir, cardGamesFile), r.cards); err != nil {
		return nil, err
	}

	ids, err := readIDFile(filepath.Join(dir, invalidIDsFile))
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		r.invalid[id] = struct{}{}
	}

	return r, nil
}

// Merge upserts one classification result. The record lands in each mapping
// its boolean claims and is dropped from the one it no longer does, so
// re-classification overwrites rather than accumulates.
func (r *Results) Merge(appID int, rec domain.DetailRecord) {
	if rec.SupportsChinese {
		r.chinese[appID] = rec
	} else {
		delete(r.chinese, appID)
	}
	if rec.SupportsCards {
		r.cards[appID] = rec
	} else {
		delete(r.cards, appID)
	}
}

// MarkInvalid records an ID as permanently unusable. The ID is also purged
// from both output mappings: an invalid ID is never a key of either file.
func (r *Results) MarkInvalid(appID int) {
	r.invalid[appID] = struct{}{}
	delete(r.chinese, appID)
	delete(r.cards, appID)
}

// IsInvalid reports set membership in the invalid-ID set.
func (r *Results) IsInvalid(appID int) bool {
	_, ok := r.invalid[appID]
	return ok
}

// ClearInvalid removes an ID from the invalid set, making it eligible for
// classification again. Returns whether the ID was present.
func (r *Results) ClearInvalid(appID int) bool {
	_, ok := r.invalid[appID]
	delete(r.invalid, appID)
	return ok
}

// InChinese reports membership in the Chinese-support mapping.
func (r *Results) InChinese(appID int) bool {
	_, ok := r.chinese[appID]
	return ok
}

// InCards reports membership in the trading-card mapping.
func (r *Results) InCards(appID int) bool {
	_, ok := r.cards[appID]
	return ok
}

// Classified reports whether the ID is a key of either output mapping.
func (r *Results) Classified(appID int) bool {
	if _, ok := r.chinese[appID]; ok {
		return true
	}
	_, ok := r.cards[appID]
	return ok
}

// Get returns the stored record for an ID, from whichever mapping holds it.
func (r *Results) Get(appID int) (domain.DetailRecord, bool) {
	if rec, ok := r.chinese[appID]; ok {
		return rec, true
	}
	rec, ok := r.cards[appID]
	return rec, ok
}

// ChineseGames returns a copy of the Chinese-support mapping.
func (r *Results) ChineseGames() map[int]domain.DetailRecord {
	return copyRecords(r.chinese)
}

// CardGames returns a copy of the trading-card mapping.
func (r *Results) CardGames() map[int]domain.DetailRecord {
	return copyRecords(r.cards)
}

// InvalidIDs returns the invalid set in ascending order.
func (r *Results) InvalidIDs() []int {
	ids := make([]int, 0, len(r.invalid))
	for id := range r.invalid {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// ChineseCount returns the size of the Chinese-support mapping.
func (r *Results) ChineseCount() int { return len(r.chinese) }

// CardCount returns the size of the trading-card mapping.
func (r *Results) CardCount() int { return len(r.cards) }

// InvalidCount returns the size of the invalid-ID set.
func (r *Results) InvalidCount() int { return len(r.invalid) }

// Flush writes all three files. Each is written to a temp file in the same
// directory and renamed over the target, so readers and crashed runs only
// ever see the previous complete state or the new one.
func (r *Results) Flush() error {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	if err := writeFileAtomic(filepath.Join(r.dir, chineseGamesFile), keyedByString(r.chinese)); err != nil {
		return err
	}
	if err := writeFileAtomic(filepath.Join(r.dir, cardGamesFile), keyedByString(r.cards)); err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(r.dir, invalidIDsFile), r.InvalidIDs())
}

func readRecordFile(path string, into map[int]domain.DetailRecord) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	var raw map[string]domain.DetailRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	for key, rec := range raw {
		id, err := strconv.Atoi(key)
		if err != nil {
			return fmt.Errorf("parse %s: bad app id %q", path, key)
		}
		into[id] = rec
	}
	return nil
}

func readIDFile(path string) ([]int, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var ids []int
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return ids, nil
}

func writeFileAtomic(path string, v any) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	enc := json.NewEncoder(tmp)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		tmp.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp for %s: %w", path, err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

func keyedByString(records map[int]domain.DetailRecord) map[string]domain.DetailRecord {
	out := make(map[string]domain.DetailRecord, len(records))
	for id, rec := range records {
		out[strconv.Itoa(id)] = rec
	}
	return out
}

func copyRecords(records map[int]domain.DetailRecord) map[int]domain.DetailRecord {
	out := make(map[int]domain.DetailRecord, len(records))
	for id, rec := range records {
		out[id] = rec
	}
	return out
}
