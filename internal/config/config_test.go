package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
site_urls: "https://example.com/, sc-domain:example.org"
start_date: "2024-01-01T00:00:00Z"
search_appearences: "AMP Blue Link, Video"
oauth:
  client_id: id
  client_secret: secret
  refresh_token: token
api:
  row_limit: 1000
  data_state: all
http:
  timeout_seconds: 45
  max_retries: 4
  requests_per_second: 2.5
sync:
  date_window_days: 7
  streams: [performance_report_date, performance_report_page]
state:
  backend: memory
output:
  stdout: false
  archive:
    backend: local
    dir: /tmp/archive
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if got := strings.Join(cfg.SiteURLs, "|"); got != "https://example.com/|sc-domain:example.org" {
		t.Fatalf("unexpected site urls %q", got)
	}
	start, err := cfg.StartTime()
	if err != nil || !start.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected start %v (%v)", start, err)
	}
	if cfg.SearchAppearances != "AMP Blue Link, Video" {
		t.Fatalf("search appearances should be kept raw, got %q", cfg.SearchAppearances)
	}
	if cfg.API.RowLimit != 1000 || cfg.API.DataState != "all" {
		t.Fatalf("expected api overrides to apply: %+v", cfg.API)
	}
	if cfg.HTTP.RequestsPerSecond != 2.5 || cfg.HTTP.BackoffMaxMs != 60000 {
		t.Fatalf("expected http overrides and defaults: %+v", cfg.HTTP)
	}
	if len(cfg.Sync.Streams) != 2 || cfg.Sync.DateWindowDays != 7 {
		t.Fatalf("expected sync overrides: %+v", cfg.Sync)
	}
	if cfg.Output.Stdout || cfg.Output.Archive.BatchRecords != 5000 {
		t.Fatalf("expected output overrides and defaults: %+v", cfg.Output)
	}
	if cfg.Server.Port != 9090 || !cfg.Auth.Enabled {
		t.Fatalf("expected server overrides")
	}
	if got := cfg.RequestTimeout(); got != 45*time.Second {
		t.Fatalf("expected timeout 45s, got %v", got)
	}
	if _, ok := cfg.EndTime(); ok {
		t.Fatalf("expected no end date")
	}
}

func TestLoadAcceptsCorrectlySpelledAlias(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.json")
	configJSON := `{
  "site_urls": ["https://example.com/"],
  "start_date": "2024-03-01",
  "search_appearances": "AMP",
  "oauth": {"credentials_file": "/secrets/sa.json"}
}`
	if err := os.WriteFile(path, []byte(configJSON), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SearchAppearances != "AMP" {
		t.Fatalf("expected alias to populate search_appearences, got %q", cfg.SearchAppearances)
	}
	if cfg.State.Backend != "file" || cfg.State.Path != "state.json" {
		t.Fatalf("expected file state defaults: %+v", cfg.State)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		SiteURLs:  []string{"https://example.com/"},
		StartDate: "2024-01-01",
		OAuth:     OAuthConfig{ClientID: "id", ClientSecret: "secret", RefreshToken: "token"},
		API:       APIConfig{RowLimit: MaxRowLimit, DataState: "final"},
		HTTP:      HTTPConfig{TimeoutSeconds: 10, RequestsPerSecond: 1},
		Sync:      SyncConfig{DateWindowDays: 30},
		State:     StateConfig{Backend: "memory"},
		Output:    OutputConfig{Archive: ArchiveConfig{Backend: "none"}},
		Server:    ServerConfig{Port: 8080},
		Queue:     QueueConfig{Depth: 1},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should be valid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{name: "no sites", mutate: func(c *Config) { c.SiteURLs = nil }, want: "site_urls"},
		{name: "no start", mutate: func(c *Config) { c.StartDate = "" }, want: "start_date"},
		{name: "bad start", mutate: func(c *Config) { c.StartDate = "yesterday" }, want: "start_date"},
		{name: "end before start", mutate: func(c *Config) { c.EndDate = "2023-12-31" }, want: "end_date"},
		{name: "missing refresh token", mutate: func(c *Config) { c.OAuth.RefreshToken = "" }, want: "oauth.refresh_token"},
		{name: "row limit too big", mutate: func(c *Config) { c.API.RowLimit = MaxRowLimit + 1 }, want: "api.row_limit"},
		{name: "bad data state", mutate: func(c *Config) { c.API.DataState = "fresh" }, want: "api.data_state"},
		{name: "invalid timeout", mutate: func(c *Config) { c.HTTP.TimeoutSeconds = 0 }, want: "http.timeout_seconds"},
		{name: "invalid rate", mutate: func(c *Config) { c.HTTP.RequestsPerSecond = 0 }, want: "http.requests_per_second"},
		{name: "invalid window", mutate: func(c *Config) { c.Sync.DateWindowDays = 0 }, want: "sync.date_window_days"},
		{name: "unknown state backend", mutate: func(c *Config) { c.State.Backend = "etcd" }, want: "state.backend"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.State.Backend = "postgres" }, want: "db.dsn"},
		{name: "redis without addr", mutate: func(c *Config) { c.State.Backend = "redis" }, want: "state.redis_addr"},
		{name: "pubsub half set", mutate: func(c *Config) { c.Output.PubSub.ProjectID = "p" }, want: "output.pubsub"},
		{name: "nats without subject", mutate: func(c *Config) { c.Output.NATS.URL = "nats://localhost:4222" }, want: "output.nats.subject"},
		{name: "s3 without endpoint", mutate: func(c *Config) {
			c.Output.Archive = ArchiveConfig{Backend: "s3", Bucket: "b", BatchRecords: 1}
		}, want: "output.archive.endpoint"},
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "auth missing api key", mutate: func(c *Config) { c.Auth.Enabled = true }, want: "auth.api_key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			cfg.SiteURLs = append([]string(nil), base.SiteURLs...)
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
