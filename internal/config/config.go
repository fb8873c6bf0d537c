// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/contributor-crawler/internal/crawler"
)

// DateLayout is the format of search.start and search.end.
const DateLayout = "2006-01-02"

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Backends shared by the publisher and report sections.
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendPubSub = "pubsub"
	BackendLocal  = "local"
	BackendGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Search    SearchConfig    `mapstructure:"search"`
	GitHub    GitHubConfig    `mapstructure:"github"`
	Processor ProcessorConfig `mapstructure:"processor"`
	Store     StoreConfig     `mapstructure:"store"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	Report    ReportConfig    `mapstructure:"report"`
	Results   ResultsConfig   `mapstructure:"results"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// SearchConfig describes the query and how the period is segmented.
type SearchConfig struct {
	Keyword          string `mapstructure:"keyword"`
	Start            string `mapstructure:"start"`
	End              string `mapstructure:"end"`
	Ceiling          int    `mapstructure:"ceiling"`
	PageSize         int    `mapstructure:"page_size"`
	MaxPages         int    `mapstructure:"max_pages"`
	Sort             string `mapstructure:"sort"`
	Order            string `mapstructure:"order"`
	WindowDays       int    `mapstructure:"window_days"`
	MaxDepth         int    `mapstructure:"max_depth"`
	MinWindowMinutes int    `mapstructure:"min_window_minutes"`
	// SuspendOnRangeFailure stops the run instead of skipping an unreadable sub-range.
	SuspendOnRangeFailure bool `mapstructure:"suspend_on_range_failure"`
}

// GitHubConfig configures the API client, pacing and retries.
type GitHubConfig struct {
	BaseURL              string `mapstructure:"base_url"`
	Token                string `mapstructure:"token"`
	UserAgent            string `mapstructure:"user_agent"`
	TimeoutSeconds       int    `mapstructure:"timeout_seconds"`
	DelayMs              int    `mapstructure:"delay_ms"`
	Burst                int    `mapstructure:"burst"`
	MaxRetries           int    `mapstructure:"max_retries"`
	BackoffInitialMs     int    `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs         int    `mapstructure:"backoff_max_ms"`
	MaxRetryAfterSeconds int    `mapstructure:"max_retry_after_seconds"`
}

// ProcessorConfig tunes commit inspection and contributor extraction.
type ProcessorConfig struct {
	MaxCommits     int      `mapstructure:"max_commits"`
	IdentityPath   string   `mapstructure:"identity_path"`
	NamePath       string   `mapstructure:"name_path"`
	TimestampPath  string   `mapstructure:"timestamp_path"`
	IgnorePatterns []string `mapstructure:"ignore_patterns"`
}

// StoreConfig selects the checkpoint and dedup store.
type StoreConfig struct {
	Driver   string         `mapstructure:"driver"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// SQLiteConfig configures the embedded store.
type SQLiteConfig struct {
	Path          string `mapstructure:"path"`
	BusyTimeoutMs int    `mapstructure:"busy_timeout_ms"`
}

// PostgresConfig controls access to the relational database.
type PostgresConfig struct {
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int    `mapstructure:"max_conns"`
	MinConns               int    `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
	Migrate                bool   `mapstructure:"migrate"`
}

// PublisherConfig selects where contributor batches are handed off.
type PublisherConfig struct {
	Backend   string `mapstructure:"backend"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ReportConfig selects where run summaries are uploaded.
type ReportConfig struct {
	Backend  string `mapstructure:"backend"`
	Prefix   string `mapstructure:"prefix"`
	LocalDir string `mapstructure:"local_dir"`
	Bucket   string `mapstructure:"bucket"`
}

// ResultsConfig names the JSON-lines statistics file. Empty disables it.
type ResultsConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig controls the status HTTP server.
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TelemetryConfig names the service on emitted trace spans.
type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
}

// Load builds a Config from disk/environment.
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
	v.SetDefault("search.keyword", "")
	v.SetDefault("search.start", "")
	v.SetDefault("search.end", "")
	v.SetDefault("search.ceiling", 1000)
	v.SetDefault("search.page_size", 100)
	v.SetDefault("search.max_pages", 0)
	v.SetDefault("search.sort", "stars")
	v.SetDefault("search.order", "desc")
	v.SetDefault("search.window_days", 30)
	v.SetDefault("search.max_depth", 4)
	v.SetDefault("search.min_window_minutes", 60)
	v.SetDefault("search.suspend_on_range_failure", false)
	v.SetDefault("github.base_url", "https://api.github.com")
	v.SetDefault("github.token", "")
	v.SetDefault("github.user_agent", "contributor-crawler/0.1")
	v.SetDefault("github.timeout_seconds", 30)
	v.SetDefault("github.delay_ms", 2000)
	v.SetDefault("github.burst", 1)
	v.SetDefault("github.max_retries", 3)
	v.SetDefault("github.backoff_initial_ms", 1000)
	v.SetDefault("github.backoff_max_ms", 30000)
	v.SetDefault("github.max_retry_after_seconds", 120)
	v.SetDefault("processor.max_commits", 100)
	v.SetDefault("processor.identity_path", "")
	v.SetDefault("processor.name_path", "")
	v.SetDefault("processor.timestamp_path", "")
	v.SetDefault("processor.ignore_patterns", []string{})
	v.SetDefault("store.driver", DriverSQLite)
	v.SetDefault("store.sqlite.path", "data/crawler.db")
	v.SetDefault("store.sqlite.busy_timeout_ms", 5000)
	v.SetDefault("store.postgres.dsn", "")
	v.SetDefault("store.postgres.max_conns", 4)
	v.SetDefault("store.postgres.min_conns", 0)
	v.SetDefault("store.postgres.max_conn_lifetime_minutes", 30)
	v.SetDefault("store.postgres.migrate", true)
	v.SetDefault("publisher.backend", BackendNone)
	v.SetDefault("publisher.project_id", "")
	v.SetDefault("publisher.topic", "contributors")
	v.SetDefault("report.backend", BackendNone)
	v.SetDefault("report.prefix", "reports")
	v.SetDefault("report.local_dir", "data")
	v.SetDefault("report.bucket", "")
	v.SetDefault("results.path", "")
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.api_key", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("telemetry.service_name", "contributor-crawler")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Search.Ceiling <= 0 {
		return errors.New("search.ceiling must be > 0")
	}
	if c.Search.PageSize <= 0 || c.Search.PageSize > 100 {
		return errors.New("search.page_size must be between 1 and 100")
	}
	if c.Search.MaxPages < 0 {
		return errors.New("search.max_pages must be >= 0")
	}
	if c.Search.WindowDays <= 0 {
		return errors.New("search.window_days must be > 0")
	}
	if c.Search.MaxDepth < 0 {
		return errors.New("search.max_depth must be >= 0")
	}
	if c.Search.MinWindowMinutes <= 0 {
		return errors.New("search.min_window_minutes must be > 0")
	}
	if _, _, err := c.Search.Period(time.Now()); err != nil {
		return err
	}
	if c.GitHub.TimeoutSeconds <= 0 {
		return errors.New("github.timeout_seconds must be > 0")
	}
	if c.GitHub.DelayMs < 0 {
		return errors.New("github.delay_ms must be >= 0")
	}
	if c.GitHub.MaxRetries < 0 {
		return errors.New("github.max_retries must be >= 0")
	}
	if c.Processor.MaxCommits <= 0 || c.Processor.MaxCommits > 1000 {
		return errors.New("processor.max_commits must be between 1 and 1000")
	}
	switch c.Store.Driver {
	case DriverSQLite:
		if strings.TrimSpace(c.Store.SQLite.Path) == "" {
			return errors.New("store.sqlite.path must be set for the sqlite driver")
		}
	case DriverPostgres:
		if strings.TrimSpace(c.Store.Postgres.DSN) == "" {
			return errors.New("store.postgres.dsn must be set for the postgres driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("store.driver %q is not one of sqlite, postgres, memory", c.Store.Driver)
	}
	switch c.Publisher.Backend {
	case BackendNone, BackendMemory:
	case BackendPubSub:
		if c.Publisher.ProjectID == "" || c.Publisher.Topic == "" {
			return errors.New("publisher.project_id and publisher.topic must be set for pubsub")
		}
	default:
		return fmt.Errorf("publisher.backend %q is not one of none, memory, pubsub", c.Publisher.Backend)
	}
	switch c.Report.Backend {
	case BackendNone, BackendMemory:
	case BackendLocal:
		if strings.TrimSpace(c.Report.LocalDir) == "" {
			return errors.New("report.local_dir must be set for the local backend")
		}
	case BackendGCS:
		if c.Report.Bucket == "" {
			return errors.New("report.bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("report.backend %q is not one of none, memory, local, gcs", c.Report.Backend)
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Level)) {
	case "", "debug", "info", "warn", "error", "dpanic", "panic", "fatal":
	default:
		return fmt.Errorf("logging.level %q is not a zap level", c.Logging.Level)
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return errors.New("server.port must be > 0")
	}
	return nil
}

// Query converts the search section into a crawler.Query.
func (s SearchConfig) Query() crawler.Query {
	return crawler.Query{
		Keyword:  strings.TrimSpace(s.Keyword),
		Ceiling:  s.Ceiling,
		PageSize: s.PageSize,
		MaxPages: s.MaxPages,
		Sort:     s.Sort,
		Order:    s.Order,
	}
}

// Period parses start and end as UTC dates. A blank start means one year
// before now and a blank end means now. End is exclusive.
func (s SearchConfig) Period(now time.Time) (time.Time, time.Time, error) {
	end := now.UTC()
	if s.End != "" {
		t, err := time.Parse(DateLayout, s.End)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("search.end: %w", err)
		}
		end = t
	}
	start := end.AddDate(-1, 0, 0)
	if s.Start != "" {
		t, err := time.Parse(DateLayout, s.Start)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("search.start: %w", err)
		}
		start = t
	}
	if !start.Before(end) {
		return time.Time{}, time.Time{}, errors.New("search.start must be before search.end")
	}
	return start, end, nil
}

// Window returns the initial planning window width.
func (s SearchConfig) Window() time.Duration {
	return time.Duration(s.WindowDays) * 24 * time.Hour
}

// MinWindow returns the smallest window the planner may bisect down to.
func (s SearchConfig) MinWindow() time.Duration {
	return time.Duration(s.MinWindowMinutes) * time.Minute
}

// Timeout returns the per-request timeout.
func (g GitHubConfig) Timeout() time.Duration {
	return time.Duration(g.TimeoutSeconds) * time.Second
}

// Delay returns the fixed spacing between API requests.
func (g GitHubConfig) Delay() time.Duration {
	return time.Duration(g.DelayMs) * time.Millisecond
}

// InitialBackoff returns the first retry wait.
func (g GitHubConfig) InitialBackoff() time.Duration {
	return time.Duration(g.BackoffInitialMs) * time.Millisecond
}

// MaxBackoff returns the retry wait cap.
func (g GitHubConfig) MaxBackoff() time.Duration {
	return time.Duration(g.BackoffMaxMs) * time.Millisecond
}

// MaxRetryAfter caps server-requested waits.
func (g GitHubConfig) MaxRetryAfter() time.Duration {
	return time.Duration(g.MaxRetryAfterSeconds) * time.Second
}

// BusyTimeout returns the SQLite busy timeout.
func (s SQLiteConfig) BusyTimeout() time.Duration {
	return time.Duration(s.BusyTimeoutMs) * time.Millisecond
}

// MaxConnLifetime returns the pool's connection lifetime.
func (p PostgresConfig) MaxConnLifetime() time.Duration {
	return time.Duration(p.MaxConnLifetimeMinutes) * time.Minute
}
