// Package runner sequences one scrape run: refresh the catalog, build the
// work queue by set difference (universe minus classified minus invalid),
// classify each remaining app, merge results and flush them atomically.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/luoxia/steamtags/internal/classifier"
	"github.com/luoxia/steamtags/internal/conf"
	"github.com/luoxia/steamtags/internal/domain"
	"github.com/luoxia/steamtags/internal/steam"
	"github.com/luoxia/steamtags/internal/store"
)

// SteamAPI is the slice of the upstream client the runner needs.
type SteamAPI interface {
	GetAppList(ctx context.Context) ([]domain.App, error)
	GetAppDetails(ctx context.Context, appID int) (*steam.AppDetails, error)
}

// Options tweak a single run.
type Options struct {
	// SkipFetch reuses the cached universe instead of hitting the catalog.
	SkipFetch bool

	// Limit overrides the configured batch size when positive.
	Limit int
}

// Runner owns one run of the fetch/filter/classify/flush pipeline.
type Runner struct {
	api      SteamAPI
	universe *store.Universe
	results  *store.Results
	rules    classifier.Rules
	settings *conf.Settings
	log      *slog.Logger
	now      func() time.Time
}

// New assembles a Runner. A nil logger disables logging.
func New(api SteamAPI, universe *store.Universe, results *store.Results, rules classifier.Rules, settings *conf.Settings, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Runner{
		api:      api,
		universe: universe,
		results:  results,
		rules:    rules,
		settings: settings,
		log:      log,
		now:      time.Now,
	}
}

// Run executes one full run. Only a catalog fetch failure is fatal; per-ID
// failures are isolated to that ID. When the time budget expires the run
// stops at the current ID boundary and flushes what it has.
func (r *Runner) Run(ctx context.Context, opts Options) (*domain.Summary, error) {
	start := r.now()
	summary := &domain.Summary{RunID: uuid.New().String()[:8]}
	log := r.log.With("run_id", summary.RunID)

	if r.settings.RunBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.settings.RunBudget)
		defer cancel()
	}

	if !opts.SkipFetch {
		apps, err := r.api.GetAppList(ctx)
		if err != nil {
			return nil, fmt.Errorf("catalog fetch: %w", err)
		}
		newCount, err := r.universe.MergeApps(apps)
		if err != nil {
			return nil, fmt.Errorf("merge catalog: %w", err)
		}
		summary.NewApps = newCount
		log.Info("catalog refreshed", "apps", len(apps), "new", newCount)
	}

	queue, err := r.buildQueue(opts)
	if err != nil {
		return nil, err
	}
	log.Info("work queue built", "apps", len(queue))

	for _, app := range queue {
		// Budget check at the ID boundary; remaining work is deferred to
		// the next scheduled run, nothing is left partially written.
		if ctx.Err() != nil {
			log.Info("time budget spent, stopping", "remaining", len(queue)-summary.Processed-summary.Deferred-summary.MarkedInvalid)
			break
		}
		r.processOne(ctx, log, app, summary)
	}

	if err := r.results.Flush(); err != nil {
		return nil, fmt.Errorf("flush results: %w", err)
	}

	summary.TotalChinese = r.results.ChineseCount()
	summary.TotalCards = r.results.CardCount()
	summary.Elapsed = r.now().Sub(start)

	log.Info("run complete",
		"processed", summary.Processed,
		"new_chinese", summary.NewChinese,
		"new_cards", summary.NewCards,
		"deferred", summary.Deferred,
		"marked_invalid", summary.MarkedInvalid,
		"total_chinese", summary.TotalChinese,
		"total_cards", summary.TotalCards,
		"elapsed", summary.Elapsed)

	return summary, nil
}

// buildQueue computes the work queue: never-checked apps first, then apps
// whose classification is older than the recheck window, minus the invalid
// set. Ascending ID order within each group keeps resumption deterministic.
func (r *Runner) buildQueue(opts Options) ([]domain.App, error) {
	limit := r.settings.BatchSize
	if opts.Limit > 0 {
		limit = opts.Limit
	}

	apps, err := r.universe.PendingApps(limit)
	if err != nil {
		return nil, fmt.Errorf("load pending apps: %w", err)
	}

	if len(apps) < limit && r.settings.RecheckAfter > 0 {
		cutoff := r.now().Add(-r.settings.RecheckAfter)
		stale, err := r.universe.RecheckableApps(limit-len(apps), cutoff)
		if err != nil {
			return nil, fmt.Errorf("load recheckable apps: %w", err)
		}
		apps = append(apps, stale...)
	}

	queue := apps[:0]
	for _, app := range apps {
		if r.results.IsInvalid(app.ID) {
			continue
		}
		queue = append(queue, app)
	}
	return queue, nil
}

func (r *Runner) processOne(ctx context.Context, log *slog.Logger, app domain.App, summary *domain.Summary) {
	details, err := r.api.GetAppDetails(ctx, app.ID)
	switch {
	case errors.Is(err, steam.ErrAppUnavailable):
		// Terminal: the store page is gone or the payload is unusable.
		r.results.MarkInvalid(app.ID)
		if err := r.universe.MarkChecked(app.ID, r.now()); err != nil {
			log.Error("mark checked failed", "appid", app.ID, "error", err)
		}
		summary.MarkedInvalid++
		log.Warn("app marked invalid", "appid", app.ID, "name", app.Name)

	case err != nil:
		// Transient: the retry budget inside the client is already spent,
		// so leave the app unchecked and let the next run pick it up.
		retries, bumpErr := r.universe.BumpRetry(app.ID)
		if bumpErr != nil {
			log.Error("bump retry failed", "appid", app.ID, "error", bumpErr)
		}
		summary.Deferred++
		log.Warn("app deferred", "appid", app.ID, "deferred_runs", retries, "error", err)

	default:
		rec := r.rules.Classify(app, details, r.now())
		if rec.SupportsChinese && !r.results.InChinese(app.ID) {
			summary.NewChinese++
		}
		if rec.SupportsCards && !r.results.InCards(app.ID) {
			summary.NewCards++
		}
		r.results.Merge(app.ID, rec)
		if err := r.universe.MarkChecked(app.ID, r.now()); err != nil {
			log.Error("mark checked failed", "appid", app.ID, "error", err)
		}
		summary.Processed++
		log.Debug("app classified",
			"appid", app.ID,
			"name", rec.Name,
			"chinese", rec.SupportsChinese,
			"cards", rec.SupportsCards)
	}
}

// ReportToScheduler appends the run counters to the file named by
// GITHUB_OUTPUT, when the invoking workflow provides one. A no-op otherwise.
func ReportToScheduler(summary *domain.Summary) error {
	path := os.Getenv("GITHUB_OUTPUT")
	if path == "" {
		return nil
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open scheduler output: %w", err)
	}
	defer f.Close()

	_, err = fmt.Fprintf(f, "processed=%d\nnew_chinese=%d\nnew_cards=%d\n",
		summary.Processed, summary.NewChinese, summary.NewCards)
	if err != nil {
		return fmt.Errorf("write scheduler output: %w", err)
	}
	return nil
}
