package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/luoxia/steamtags/internal/api"
	"github.com/luoxia/steamtags/internal/classifier"
	"github.com/luoxia/steamtags/internal/conf"
	"github.com/luoxia/steamtags/internal/runner"
	"github.com/luoxia/steamtags/internal/steam"
	"github.com/luoxia/steamtags/internal/store"
	"github.com/spf13/cobra"
)

const universeDBFile = "app_list.db"

var (
	configFile string
	dataDir    string
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "steamtags",
		Short: "Classify Steam applications by Chinese language and trading-card support",
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default: steamtags.yaml in . or data/)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data", "", "data directory (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(fetchListCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(invalidCmd())
	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func loadSettings() (*conf.Settings, error) {
	settings, err := conf.Load(configFile)
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		settings.DataDir = dataDir
	}
	return settings, nil
}

func openStores(settings *conf.Settings) (*store.Universe, *store.Results, error) {
	if err := os.MkdirAll(settings.DataDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("create data dir: %w", err)
	}

	universe, err := store.OpenUniverse(filepath.Join(settings.DataDir, universeDBFile))
	if err != nil {
		return nil, nil, err
	}

	results, err := store.LoadResults(settings.DataDir)
	if err != nil {
		universe.Close()
		return nil, nil, err
	}

	return universe, results, nil
}

func newClient(settings *conf.Settings, log *slog.Logger) *steam.Client {
	return steam.NewClient(steam.Config{
		Timeout:     settings.HTTPTimeout,
		PacingDelay: settings.PacingDelay(),
		MaxRetries:  settings.MaxRetries,
	}, log)
}

func runCmd() *cobra.Command {
	var skipFetch bool
	var limit int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one full fetch/classify/flush run",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}
			log := newLogger()

			universe, results, err := openStores(settings)
			if err != nil {
				return err
			}
			defer universe.Close()

			client := newClient(settings, log)
			defer client.Close()

			r := runner.New(client, universe, results, classifier.DefaultRules(), settings, log)
			summary, err := r.Run(cmd.Context(), runner.Options{SkipFetch: skipFetch, Limit: limit})
			if err != nil {
				return err
			}

			if err := runner.ReportToScheduler(summary); err != nil {
				log.Error("scheduler reporting failed", "error", err)
			}

			fmt.Printf("Processed: %d (deferred %d, invalid %d)\n",
				summary.Processed, summary.Deferred, summary.MarkedInvalid)
			fmt.Printf("Chinese games: %d total (+%d)\n", summary.TotalChinese, summary.NewChinese)
			fmt.Printf("Card games:    %d total (+%d)\n", summary.TotalCards, summary.NewCards)
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipFetch, "skip-fetch", false, "reuse the cached universe, skip the catalog fetch")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "override configured batch size")
	return cmd
}

func fetchListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch-list",
		Short: "Refresh the application universe from the catalog endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}
			log := newLogger()

			universe, _, err := openStores(settings)
			if err != nil {
				return err
			}
			defer universe.Close()

			client := newClient(settings, log)
			defer client.Close()

			apps, err := client.GetAppList(cmd.Context())
			if err != nil {
				return err
			}

			newCount, err := universe.MergeApps(apps)
			if err != nil {
				return err
			}

			fmt.Printf("Fetched %d apps, %d new\n", len(apps), newCount)
			return nil
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show store counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}

			universe, results, err := openStores(settings)
			if err != nil {
				return err
			}
			defer universe.Close()

			total, err := universe.CountApps()
			if err != nil {
				return err
			}
			pending, err := universe.CountPending()
			if err != nil {
				return err
			}

			fmt.Printf("Universe:      %d apps (%d pending)\n", total, pending)
			fmt.Printf("Chinese games: %d\n", results.ChineseCount())
			fmt.Printf("Card games:    %d\n", results.CardCount())
			fmt.Printf("Invalid IDs:   %d\n", results.InvalidCount())
			return nil
		},
	}
}

func invalidCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invalid",
		Short: "Inspect or clear the invalid-ID set",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all invalid app IDs",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}

			universe, results, err := openStores(settings)
			if err != nil {
				return err
			}
			defer universe.Close()

			ids := results.InvalidIDs()
			if len(ids) == 0 {
				fmt.Println("No invalid app IDs recorded.")
				return nil
			}
			for _, id := range ids {
				fmt.Println(id)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear [appid]",
		Short: "Remove an app ID from the invalid set so it gets retried",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appID, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid app id %q", args[0])
			}

			settings, err := loadSettings()
			if err != nil {
				return err
			}

			universe, results, err := openStores(settings)
			if err != nil {
				return err
			}
			defer universe.Close()

			if !results.ClearInvalid(appID) {
				return fmt.Errorf("app id %d is not in the invalid set", appID)
			}
			if err := universe.ResetChecked(appID); err != nil {
				return err
			}
			if err := results.Flush(); err != nil {
				return err
			}

			fmt.Printf("Cleared %d; it will be re-classified on the next run\n", appID)
			return nil
		},
	})

	return cmd
}

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the classification results over HTTP, read-only",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = settings.ListenAddr
			}
			log := newLogger()

			universe, results, err := openStores(settings)
			if err != nil {
				return err
			}
			// Note: don't defer universe.Close() as server runs indefinitely

			server := api.New(results, universe, addr, log)
			return server.Run()
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "listen address (default from config)")
	return cmd
}
