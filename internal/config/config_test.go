package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "https://new.kenyalaw.org/judgments/", cfg.Site.BaseURL)
	assert.Equal(t, 20, cfg.Site.PageSize)
	assert.Equal(t, 275979, cfg.Site.FallbackTotalItems)
	assert.Equal(t, 3, cfg.Crawler.Workers)
	assert.True(t, cfg.Crawler.Resume)
	assert.Equal(t, time.Second, cfg.Crawler.MinDelay)
	assert.Equal(t, 3*time.Second, cfg.Crawler.MaxDelay)
	assert.Equal(t, 5, cfg.HTTP.Retry.MaxAttempts)
	assert.Equal(t, 60*time.Second, cfg.HTTP.Retry.DefaultRetryAfter)
	assert.InDelta(t, 2.0, cfg.HTTP.Retry.Factor, 0)
	assert.Equal(t, "KLR", cfg.Output.Dir)
	assert.Equal(t, BackendFile, cfg.Progress.Backend)
	assert.Equal(t, BackendLocal, cfg.Storage.Backend)
	assert.False(t, cfg.PubSub.Enabled)
	assert.Equal(t, "judgments", cfg.PubSub.Topic)
}

func TestLoadWithFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	configYAML := `
crawler:
  workers: 6
  max_pages: 10
  min_delay: 500ms
  max_delay: 2s
  readability: false
http:
  timeout: 45s
  retry:
    max_attempts: 3
    base_delay: 250ms
  rate_limit:
    rps: 2
    burst: 4
output:
  dir: /tmp/klr
progress:
  backend: postgres
  postgres:
    dsn: postgres://crawler@localhost/crawl
    checkpoint: nightly
storage:
  backend: gcs
  gcs:
    bucket: judgments
    prefix: raw
pubsub:
  enabled: true
  project_id: my-project
  topic: saved
server:
  addr: ":9090"
  api_key: secret
logging:
  development: false
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 6, cfg.Crawler.Workers)
	assert.Equal(t, 10, cfg.Crawler.MaxPages)
	assert.Equal(t, 500*time.Millisecond, cfg.Crawler.MinDelay)
	assert.False(t, cfg.Crawler.Readability)
	assert.Equal(t, 45*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, 3, cfg.HTTP.Retry.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.HTTP.Retry.BaseDelay)
	assert.InDelta(t, 2.0, cfg.HTTP.RateLimit.RPS, 0)
	assert.Equal(t, 4, cfg.HTTP.RateLimit.Burst)
	assert.Equal(t, "/tmp/klr", cfg.Output.Dir)
	assert.Equal(t, "postgres://crawler@localhost/crawl", cfg.Progress.Postgres.DSN)
	assert.Equal(t, "nightly", cfg.Progress.Postgres.Checkpoint)
	assert.True(t, cfg.Progress.Postgres.AutoMigrate)
	assert.Equal(t, "judgments", cfg.Storage.GCS.Bucket)
	assert.Equal(t, "raw", cfg.Storage.GCS.Prefix)
	assert.Equal(t, "my-project", cfg.PubSub.ProjectID)
	assert.Equal(t, "saved", cfg.PubSub.Topic)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CRAWLER_CRAWLER_WORKERS", "8")
	t.Setenv("CRAWLER_OUTPUT_DIR", "/data/klr")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Crawler.Workers)
	assert.Equal(t, "/data/klr", cfg.Output.Dir)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	require.NoError(t, err)

	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "workers", mutate: func(c *Config) { c.Crawler.Workers = 0 }, want: "crawler.workers must be > 0"},
		{name: "start page", mutate: func(c *Config) { c.Crawler.StartPage = 0 }, want: "crawler.start_page"},
		{name: "delays", mutate: func(c *Config) { c.Crawler.MaxDelay = 0 }, want: "crawler.max_delay"},
		{name: "page size", mutate: func(c *Config) { c.Site.PageSize = 0 }, want: "site.page_size"},
		{name: "postgres dsn", mutate: func(c *Config) { c.Progress.Backend = BackendPostgres }, want: "progress.postgres.dsn"},
		{name: "progress backend", mutate: func(c *Config) { c.Progress.Backend = "redis" }, want: "progress.backend"},
		{name: "gcs bucket", mutate: func(c *Config) { c.Storage.Backend = BackendGCS }, want: "storage.gcs.bucket"},
		{name: "storage backend", mutate: func(c *Config) { c.Storage.Backend = "s3" }, want: "storage.backend"},
		{name: "pubsub", mutate: func(c *Config) { c.PubSub.Enabled = true }, want: "pubsub.project_id"},
		{name: "timeout", mutate: func(c *Config) { c.HTTP.Timeout = 0 }, want: "http.timeout"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
	require.NoError(t, base.Validate())
}
