// Package conf loads runtime settings from an optional steamtags.yaml,
// STEAMTAGS_* environment variables, and built-in defaults.
package conf

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Settings controls pacing, batching and storage for a scrape run.
type Settings struct {
	// DataDir holds the SQLite universe cache and the JSON output files.
	DataDir string `mapstructure:"data_dir"`

	// BatchSize caps how many applications one run classifies.
	BatchSize int `mapstructure:"batch_size"`

	// RequestsPerMinute paces detail requests against the upstream API.
	RequestsPerMinute int `mapstructure:"requests_per_minute"`

	// MaxRetries bounds per-request retry attempts before an ID is deferred.
	MaxRetries int `mapstructure:"max_retries"`

	// RunBudget is the wall-clock limit for one run; zero means no limit.
	RunBudget time.Duration `mapstructure:"run_budget"`

	// RecheckAfter is how stale a classification may get before the app is
	// queued for re-classification.
	RecheckAfter time.Duration `mapstructure:"recheck_after"`

	// HTTPTimeout applies to each individual upstream request.
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`

	// ListenAddr is where the read-only API serves from.
	ListenAddr string `mapstructure:"listen_addr"`
}

// Load reads settings, optionally from an explicit config file path.
func Load(configFile string) (*Settings, error) {
	v := viper.New()

	v.SetDefault("data_dir", "data")
	v.SetDefault("batch_size", 100)
	v.SetDefault("requests_per_minute", 200)
	v.SetDefault("max_retries", 3)
	v.SetDefault("run_budget", 50*time.Minute)
	v.SetDefault("recheck_after", 30*24*time.Hour)
	v.SetDefault("http_timeout", 30*time.Second)
	v.SetDefault("listen_addr", ":8080")

	v.SetEnvPrefix("STEAMTAGS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("steamtags")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("data")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Settings) validate() error {
	if s.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", s.BatchSize)
	}
	if s.RequestsPerMinute <= 0 {
		return fmt.Errorf("requests_per_minute must be positive, got %d", s.RequestsPerMinute)
	}
	if s.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be at least 1, got %d", s.MaxRetries)
	}
	return nil
}

// PacingDelay converts the requests-per-minute budget into the minimum gap
// between consecutive upstream requests.
func (s *Settings) PacingDelay() time.Duration {
	return time.Minute / time.Duration(s.RequestsPerMinute)
}
