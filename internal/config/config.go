// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/kenyalaw-crawler/internal/fetcher/backoff"
	"github.com/JakeFAU/kenyalaw-crawler/internal/listing"
	"github.com/JakeFAU/kenyalaw-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/kenyalaw-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/kenyalaw-crawler/internal/storage/gcs"
	"github.com/JakeFAU/kenyalaw-crawler/internal/storage/postgres"
)

// Backend names accepted by progress.backend and storage.backend.
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
	BackendMemory   = "memory"
)

// Config captures every knob loaded via Viper.
type Config struct {
	Site     listing.Config `mapstructure:"site"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Output   OutputConfig   `mapstructure:"output"`
	Progress ProgressConfig `mapstructure:"progress"`
	Storage  StorageConfig  `mapstructure:"storage"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// CrawlerConfig governs the page loop and the worker pool.
type CrawlerConfig struct {
	Workers     int           `mapstructure:"workers"`
	MaxPages    int           `mapstructure:"max_pages"`
	StartPage   int           `mapstructure:"start_page"`
	Resume      bool          `mapstructure:"resume"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	DedupWindow int           `mapstructure:"dedup_window"`
	Readability bool          `mapstructure:"readability"`
	// Seed makes identity and delay selection reproducible; 0 is random.
	Seed uint64 `mapstructure:"seed"`
}

// HTTPConfig configures the transport, retries and request admission.
type HTTPConfig struct {
	Timeout      time.Duration    `mapstructure:"timeout"`
	MaxBodyBytes int              `mapstructure:"max_body_bytes"`
	Retry        backoff.Config   `mapstructure:"retry"`
	RateLimit    ratelimit.Config `mapstructure:"rate_limit"`
}

// OutputConfig names the files written under Dir.
type OutputConfig struct {
	Dir          string `mapstructure:"dir"`
	MetadataFile string `mapstructure:"metadata_file"`
	ErrorLog     string `mapstructure:"error_log"`
	SummaryFile  string `mapstructure:"summary_file"`
	ProgressFile string `mapstructure:"progress_file"`
}

// ProgressConfig selects the checkpoint backend.
type ProgressConfig struct {
	Backend  string                       `mapstructure:"backend"`
	Postgres postgres.ProgressStoreConfig `mapstructure:"postgres"`
}

// StorageConfig selects where judgment artifacts are written.
type StorageConfig struct {
	Backend     string     `mapstructure:"backend"`
	ContentType string     `mapstructure:"content_type"`
	GCS         gcs.Config `mapstructure:"gcs"`
}

// PubSubConfig toggles judgment.saved notifications.
type PubSubConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	pubsub.Config `mapstructure:",squash"`
}

// ServerConfig controls the optional status server.
type ServerConfig struct {
	// Addr enables the server when non-empty, e.g. ":8080".
	Addr           string        `mapstructure:"addr"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from defaults, an optional file and CRAWLER_*
// environment variables.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("site.base_url", "https://new.kenyalaw.org/judgments/")
	v.SetDefault("site.search_url", "https://new.kenyalaw.org/judgments/search")
	v.SetDefault("site.page_size", 20)
	v.SetDefault("site.fallback_total_items", 275979)
	v.SetDefault("crawler.workers", 3)
	v.SetDefault("crawler.max_pages", 0)
	v.SetDefault("crawler.start_page", 1)
	v.SetDefault("crawler.resume", true)
	v.SetDefault("crawler.min_delay", time.Second)
	v.SetDefault("crawler.max_delay", 3*time.Second)
	v.SetDefault("crawler.dedup_window", 100000)
	v.SetDefault("crawler.readability", true)
	v.SetDefault("crawler.seed", 0)
	v.SetDefault("http.timeout", 30*time.Second)
	v.SetDefault("http.max_body_bytes", 0)
	v.SetDefault("http.retry.max_attempts", 5)
	v.SetDefault("http.retry.base_delay", time.Second)
	v.SetDefault("http.retry.factor", 2.0)
	v.SetDefault("http.retry.default_retry_after", 60*time.Second)
	v.SetDefault("http.rate_limit.rps", 0)
	v.SetDefault("http.rate_limit.burst", 1)
	v.SetDefault("output.dir", "KLR")
	v.SetDefault("output.metadata_file", "metadata.csv")
	v.SetDefault("output.error_log", "errors.log")
	v.SetDefault("output.summary_file", "summary.json")
	v.SetDefault("output.progress_file", "progress.json")
	v.SetDefault("progress.backend", BackendFile)
	v.SetDefault("progress.postgres.dsn", "")
	v.SetDefault("progress.postgres.checkpoint", "kenyalaw")
	v.SetDefault("progress.postgres.max_conns", 4)
	v.SetDefault("progress.postgres.min_conns", 0)
	v.SetDefault("progress.postgres.max_conn_lifetime", time.Hour)
	v.SetDefault("progress.postgres.auto_migrate", true)
	v.SetDefault("progress.postgres.mirror_metadata", false)
	v.SetDefault("storage.backend", BackendLocal)
	v.SetDefault("storage.content_type", "text/html; charset=utf-8")
	v.SetDefault("storage.gcs.bucket", "")
	v.SetDefault("storage.gcs.prefix", "")
	v.SetDefault("storage.gcs.endpoint", "")
	v.SetDefault("storage.gcs.without_auth", false)
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "judgments")
	v.SetDefault("server.addr", "")
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.request_timeout", 10*time.Second)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if c.Site.BaseURL == "" {
		errs = append(errs, errors.New("site.base_url is required"))
	}
	if c.Site.SearchURL == "" {
		errs = append(errs, errors.New("site.search_url is required"))
	}
	if c.Site.PageSize <= 0 {
		errs = append(errs, errors.New("site.page_size must be > 0"))
	}
	if c.Crawler.Workers <= 0 {
		errs = append(errs, errors.New("crawler.workers must be > 0"))
	}
	if c.Crawler.StartPage < 1 {
		errs = append(errs, errors.New("crawler.start_page must be >= 1"))
	}
	if c.Crawler.MaxPages < 0 {
		errs = append(errs, errors.New("crawler.max_pages must be >= 0"))
	}
	if c.Crawler.MinDelay < 0 || c.Crawler.MaxDelay < c.Crawler.MinDelay {
		errs = append(errs, errors.New("crawler.max_delay must be >= crawler.min_delay >= 0"))
	}
	if c.HTTP.Timeout <= 0 {
		errs = append(errs, errors.New("http.timeout must be > 0"))
	}
	if c.HTTP.Retry.MaxAttempts <= 0 {
		errs = append(errs, errors.New("http.retry.max_attempts must be > 0"))
	}
	if c.Output.Dir == "" {
		errs = append(errs, errors.New("output.dir is required"))
	}
	switch c.Progress.Backend {
	case BackendFile:
	case BackendPostgres:
		if c.Progress.Postgres.DSN == "" {
			errs = append(errs, errors.New("progress.postgres.dsn is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("progress.backend %q is not one of file, postgres", c.Progress.Backend))
	}
	switch c.Storage.Backend {
	case BackendLocal, BackendMemory:
	case BackendGCS:
		if c.Storage.GCS.Bucket == "" {
			errs = append(errs, errors.New("storage.gcs.bucket is required for the gcs backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q is not one of local, gcs, memory", c.Storage.Backend))
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.Topic == "") {
		errs = append(errs, errors.New("pubsub.project_id and pubsub.topic must be set when pubsub is enabled"))
	}
	return errors.Join(errs...)
}
