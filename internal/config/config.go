// Package config loads and validates tap configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// dateLayout is the calendar-day format the API and bookmarks use.
const dateLayout = "2006-01-02"

// MaxRowLimit is the largest page the searchAnalytics.query method returns.
const MaxRowLimit = 25000

// Config captures all tap configuration knobs loaded via Viper. The top-level
// keys keep the names existing tap config files already use.
type Config struct {
	SiteURLs               []string        `mapstructure:"site_urls"`
	StartDate              string          `mapstructure:"start_date"`
	EndDate                string          `mapstructure:"end_date"`
	SearchAppearances      string          `mapstructure:"search_appearences"`
	SearchAppearanceStrict bool            `mapstructure:"search_appearance_strict"`
	OAuth                  OAuthConfig     `mapstructure:"oauth"`
	API                    APIConfig       `mapstructure:"api"`
	HTTP                   HTTPConfig      `mapstructure:"http"`
	Sync                   SyncConfig      `mapstructure:"sync"`
	State                  StateConfig     `mapstructure:"state"`
	DB                     DBConfig        `mapstructure:"db"`
	Output                 OutputConfig    `mapstructure:"output"`
	Server                 ServerConfig    `mapstructure:"server"`
	Auth                   AuthConfig      `mapstructure:"auth"`
	Queue                  QueueConfig     `mapstructure:"queue"`
	Progress               ProgressConfig  `mapstructure:"progress"`
	Logging                LoggingConfig   `mapstructure:"logging"`
	Telemetry              TelemetryConfig `mapstructure:"telemetry"`
}

// OAuthConfig holds Search Console credentials. Either the refresh-token
// triple or a service-account credentials file must be set.
type OAuthConfig struct {
	ClientID        string `mapstructure:"client_id"`
	ClientSecret    string `mapstructure:"client_secret"`
	RefreshToken    string `mapstructure:"refresh_token"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

// APIConfig shapes outbound searchAnalytics requests.
type APIConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	UserAgent string `mapstructure:"user_agent"`
	RowLimit  int    `mapstructure:"row_limit"`
	DataState string `mapstructure:"data_state"`
}

// HTTPConfig configures HTTP client retry and pacing behavior.
type HTTPConfig struct {
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	MaxRetries        int     `mapstructure:"max_retries"`
	BackoffInitialMs  int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs      int     `mapstructure:"backoff_max_ms"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// SyncConfig controls date windowing and stream selection.
type SyncConfig struct {
	DateWindowDays int      `mapstructure:"date_window_days"`
	LookbackDays   int      `mapstructure:"lookback_days"`
	Streams        []string `mapstructure:"streams"`
}

// StateConfig selects where bookmarks are persisted.
type StateConfig struct {
	Backend   string `mapstructure:"backend"`
	Path      string `mapstructure:"path"`
	Table     string `mapstructure:"table"`
	StateID   string `mapstructure:"state_id"`
	RedisAddr string `mapstructure:"redis_addr"`
	RedisKey  string `mapstructure:"redis_key"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
}

// OutputConfig configures where messages go besides stdout.
type OutputConfig struct {
	Stdout  bool          `mapstructure:"stdout"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	NATS    NATSConfig    `mapstructure:"nats"`
	Archive ArchiveConfig `mapstructure:"archive"`
}

// PubSubConfig holds the Pub/Sub topic records are forwarded to.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// NATSConfig holds the NATS subject records are forwarded to.
type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

// ArchiveConfig controls batched NDJSON archiving of records.
type ArchiveConfig struct {
	Backend      string `mapstructure:"backend"`
	Bucket       string `mapstructure:"bucket"`
	Prefix       string `mapstructure:"prefix"`
	Dir          string `mapstructure:"dir"`
	Endpoint     string `mapstructure:"endpoint"`
	AccessKey    string `mapstructure:"access_key"`
	SecretKey    string `mapstructure:"secret_key"`
	Region       string `mapstructure:"region"`
	UseSSL       bool   `mapstructure:"use_ssl"`
	BatchRecords int    `mapstructure:"batch_records"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// QueueConfig sizes the serve-mode run queue.
type QueueConfig struct {
	Depth int `mapstructure:"depth"`
}

// ProgressConfig tunes the progress hub.
type ProgressConfig struct {
	BufferSize     int `mapstructure:"buffer_size"`
	BatchMaxEvents int `mapstructure:"batch_max_events"`
	BatchMaxWaitMs int `mapstructure:"batch_max_wait_ms"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// TelemetryConfig controls tracing setup.
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Keys without defaults are invisible to Unmarshal unless bound.
	for _, key := range []string{
		"site_urls", "start_date", "end_date", "search_appearences", "search_appearances",
		"oauth.client_id", "oauth.client_secret", "oauth.refresh_token", "oauth.credentials_file",
		"db.dsn", "state.redis_addr", "auth.api_key",
	} {
		if err := v.BindEnv(key); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	if !v.IsSet("search_appearences") && v.IsSet("search_appearances") {
		v.Set("search_appearences", v.GetString("search_appearances"))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.SiteURLs = splitList(cfg.SiteURLs)
	cfg.Sync.Streams = splitList(cfg.Sync.Streams)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("search_appearance_strict", false)
	v.SetDefault("api.user_agent", "search-console-tap/0.1")
	v.SetDefault("api.row_limit", MaxRowLimit)
	v.SetDefault("api.data_state", "final")
	v.SetDefault("http.timeout_seconds", 60)
	v.SetDefault("http.max_retries", 5)
	v.SetDefault("http.backoff_initial_ms", 1000)
	v.SetDefault("http.backoff_max_ms", 60000)
	v.SetDefault("http.requests_per_second", 5)
	v.SetDefault("http.burst", 1)
	v.SetDefault("sync.date_window_days", 30)
	v.SetDefault("sync.lookback_days", 0)
	v.SetDefault("state.backend", "file")
	v.SetDefault("state.path", "state.json")
	v.SetDefault("state.table", "tap_state")
	v.SetDefault("state.state_id", "default")
	v.SetDefault("state.redis_key", "search-console-tap:state")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("output.stdout", true)
	v.SetDefault("output.archive.backend", "none")
	v.SetDefault("output.archive.prefix", "records")
	v.SetDefault("output.archive.batch_records", 5000)
	v.SetDefault("server.port", 8080)
	v.SetDefault("queue.depth", 16)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.batch_max_events", 100)
	v.SetDefault("progress.batch_max_wait_ms", 500)
	v.SetDefault("logging.development", true)
	v.SetDefault("telemetry.service_name", "search-console-tap")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if len(c.SiteURLs) == 0 {
		return errors.New("site_urls must list at least one site")
	}
	if _, err := c.StartTime(); err != nil {
		return err
	}
	if c.EndDate != "" {
		end, err := parseDate(c.EndDate)
		if err != nil {
			return fmt.Errorf("end_date: %w", err)
		}
		start, _ := c.StartTime()
		if end.Before(start) {
			return errors.New("end_date must not be before start_date")
		}
	}
	if c.OAuth.CredentialsFile == "" &&
		(c.OAuth.ClientID == "" || c.OAuth.ClientSecret == "" || c.OAuth.RefreshToken == "") {
		return errors.New("oauth.client_id, oauth.client_secret and oauth.refresh_token are required without oauth.credentials_file")
	}
	if c.API.RowLimit <= 0 || c.API.RowLimit > MaxRowLimit {
		return fmt.Errorf("api.row_limit must be in 1..%d", MaxRowLimit)
	}
	switch c.API.DataState {
	case "final", "all":
	default:
		return fmt.Errorf("api.data_state must be final or all, got %q", c.API.DataState)
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return errors.New("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return errors.New("http.max_retries must be >= 0")
	}
	if c.HTTP.RequestsPerSecond <= 0 {
		return errors.New("http.requests_per_second must be > 0")
	}
	if c.Sync.DateWindowDays <= 0 {
		return errors.New("sync.date_window_days must be > 0")
	}
	if c.Sync.LookbackDays < 0 {
		return errors.New("sync.lookback_days must be >= 0")
	}
	switch c.State.Backend {
	case "file":
		if c.State.Path == "" {
			return errors.New("state.path must be set for the file backend")
		}
	case "memory":
	case "postgres":
		if c.DB.DSN == "" {
			return errors.New("db.dsn must be set for the postgres state backend")
		}
	case "redis":
		if c.State.RedisAddr == "" {
			return errors.New("state.redis_addr must be set for the redis state backend")
		}
	default:
		return fmt.Errorf("state.backend %q is not supported", c.State.Backend)
	}
	if (c.Output.PubSub.ProjectID == "") != (c.Output.PubSub.TopicName == "") {
		return errors.New("output.pubsub.project_id and output.pubsub.topic_name must be set together")
	}
	if c.Output.NATS.URL != "" && c.Output.NATS.Subject == "" {
		return errors.New("output.nats.subject must be set when output.nats.url is set")
	}
	switch c.Output.Archive.Backend {
	case "none", "memory":
	case "local":
		if c.Output.Archive.Dir == "" {
			return errors.New("output.archive.dir must be set for the local archive")
		}
	case "gcs":
		if c.Output.Archive.Bucket == "" {
			return errors.New("output.archive.bucket must be set for the gcs archive")
		}
	case "s3":
		if c.Output.Archive.Bucket == "" || c.Output.Archive.Endpoint == "" {
			return errors.New("output.archive.bucket and output.archive.endpoint must be set for the s3 archive")
		}
	default:
		return fmt.Errorf("output.archive.backend %q is not supported", c.Output.Archive.Backend)
	}
	if c.Output.Archive.Backend != "none" && c.Output.Archive.BatchRecords <= 0 {
		return errors.New("output.archive.batch_records must be > 0")
	}
	if c.Server.Port <= 0 {
		return errors.New("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return errors.New("auth.api_key must be set when auth is enabled")
	}
	if c.Queue.Depth <= 0 {
		return errors.New("queue.depth must be > 0")
	}
	return nil
}

// StartTime parses start_date as a calendar day or an RFC3339 timestamp.
func (c Config) StartTime() (time.Time, error) {
	if c.StartDate == "" {
		return time.Time{}, errors.New("start_date is required")
	}
	t, err := parseDate(c.StartDate)
	if err != nil {
		return time.Time{}, fmt.Errorf("start_date: %w", err)
	}
	return t, nil
}

// EndTime parses end_date; ok is false when no end date is configured.
func (c Config) EndTime() (t time.Time, ok bool) {
	if c.EndDate == "" {
		return time.Time{}, false
	}
	t, err := parseDate(c.EndDate)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// RequestTimeout converts http.timeout_seconds into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

func parseDate(raw string) (time.Time, error) {
	if t, err := time.Parse(dateLayout, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("want YYYY-MM-DD or RFC3339, got %q", raw)
	}
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
}

// splitList flattens comma-joined entries and drops blanks, so both
// "a, b" and ["a", "b"] decode to the same list.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
