// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	Proxy    ProxyConfig    `mapstructure:"proxy"`
	Store    StoreConfig    `mapstructure:"store"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Fallback FallbackConfig `mapstructure:"fallback"`
	Announce AnnounceConfig `mapstructure:"announce"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Ops      OpsConfig      `mapstructure:"ops"`
}

// CrawlerConfig governs the download engine and extraction.
type CrawlerConfig struct {
	StartURLs       []string      `mapstructure:"start_urls"`
	AllowedDomains  []string      `mapstructure:"allowed_domains"`
	Concurrency     int           `mapstructure:"concurrency"`
	PerDomain       int           `mapstructure:"per_domain"`
	Delay           time.Duration `mapstructure:"delay"`
	RandomDelay     time.Duration `mapstructure:"random_delay"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	MaxDepth        int           `mapstructure:"max_depth"`
	PaginationLimit int           `mapstructure:"pagination_limit"`
	RetryHTTPCodes  []int         `mapstructure:"retry_http_codes"`
	BackoffBase     time.Duration `mapstructure:"backoff_base"`
	BackoffMax      time.Duration `mapstructure:"backoff_max"`
	DealsPerPage    int           `mapstructure:"deals_per_page"`
	RawHTMLLimit    int           `mapstructure:"raw_html_limit"`

	// RequestsPerSecond caps requests per host on top of Delay; zero disables it.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// ProxyConfig configures outbound identities and proxies.
type ProxyConfig struct {
	List     string `mapstructure:"list"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Disabled bool   `mapstructure:"disabled"`
	// UserAgents overrides the built-in identity list when non-empty.
	UserAgents []string `mapstructure:"user_agents"`
}

// StoreConfig controls access to PostgreSQL.
type StoreConfig struct {
	Disabled       bool          `mapstructure:"disabled"`
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	User           string        `mapstructure:"user"`
	Password       string        `mapstructure:"password"`
	Database       string        `mapstructure:"database"`
	SSLMode        string        `mapstructure:"sslmode"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	MaxConns       int32         `mapstructure:"max_conns"`
}

// SnapshotConfig controls page snapshots.
type SnapshotConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Backend   string `mapstructure:"backend"`
	Dir       string `mapstructure:"dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	GCSPrefix string `mapstructure:"gcs_prefix"`
	Buffer    int    `mapstructure:"buffer"`
}

// PipelineConfig sizes the record queue and writer pool.
type PipelineConfig struct {
	Workers    int `mapstructure:"workers"`
	QueueDepth int `mapstructure:"queue_depth"`
}

// FallbackConfig controls the JSON-lines fallback file.
type FallbackConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// AnnounceConfig selects where new-deal announcements go.
type AnnounceConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TracingConfig controls span sampling.
type TracingConfig struct {
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// OpsConfig controls the operator HTTP server. Port 0 disables it.
type OpsConfig struct {
	Port int `mapstructure:"port"`
}

// Snapshot backends.
const (
	BackendLocal = "local"
	BackendGCS   = "gcs"
)

// Announcement providers.
const (
	ProviderNoop   = "noop"
	ProviderMemory = "memory"
	ProviderPubSub = "pubsub"
)

// legacyEnv maps config keys to the unprefixed variable names operators of
// the scraper already use. The prefixed CRAWLER_ form is always bound first.
var legacyEnv = map[string][]string{
	"proxy.list":       {"PROXY_LIST"},
	"proxy.host":       {"PROXY_HOST"},
	"proxy.port":       {"PROXY_PORT"},
	"proxy.user":       {"PROXY_USER"},
	"proxy.password":   {"PROXY_PASS"},
	"proxy.disabled":   {"DISABLE_PROXY"},
	"store.disabled":   {"DISABLE_STORE", "DISABLE_DB"},
	"store.host":       {"DB_HOST"},
	"store.port":       {"DB_PORT"},
	"store.user":       {"DB_USER"},
	"store.password":   {"DB_PASSWORD"},
	"store.database":   {"DB_NAME"},
	"store.sslmode":    {"DB_SSLMODE"},
	"snapshot.enabled": {"SAVE_HTML_SNAPSHOTS"},
	"snapshot.dir":     {"SNAPSHOTS_DIR"},
}

// flagKeys accept 1/true/yes/on in any case.
var flagKeys = []string{
	"proxy.disabled",
	"store.disabled",
	"snapshot.enabled",
	"fallback.enabled",
	"logging.development",
}

// LoadDotEnv reads KEY=VALUE files into the process environment without
// overriding variables already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	for _, key := range flagKeys {
		v.Set(key, Truthy(v.GetString(key)))
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

func bindLegacyEnv(v *viper.Viper) error {
	for key, names := range legacyEnv {
		prefixed := "CRAWLER_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		args := append([]string{key, prefixed}, names...)
		if err := v.BindEnv(args...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

// Truthy reports whether s spells an enabled flag.
func Truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on", "y":
		return true
	}
	return false
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawler.start_urls", []string{
		"https://www.dealnews.com/",
		"https://www.dealnews.com/categories/",
		"https://www.dealnews.com/online-stores/",
	})
	v.SetDefault("crawler.allowed_domains", []string{"dealnews.com"})
	v.SetDefault("crawler.concurrency", 8)
	v.SetDefault("crawler.per_domain", 4)
	v.SetDefault("crawler.delay", "3s")
	v.SetDefault("crawler.random_delay", "3s")
	v.SetDefault("crawler.timeout", "45s")
	v.SetDefault("crawler.max_retries", 6)
	v.SetDefault("crawler.max_depth", 3)
	v.SetDefault("crawler.pagination_limit", 3)
	v.SetDefault("crawler.retry_http_codes", []int{500, 503, 504, 400, 403, 404, 408})
	v.SetDefault("crawler.backoff_base", "500ms")
	v.SetDefault("crawler.backoff_max", "30s")
	v.SetDefault("crawler.deals_per_page", 50)
	v.SetDefault("crawler.raw_html_limit", 5000)
	v.SetDefault("crawler.requests_per_second", 0)
	v.SetDefault("crawler.burst", 1)

	v.SetDefault("proxy.list", "")
	v.SetDefault("proxy.host", "p.webshare.io")
	v.SetDefault("proxy.port", 80)
	v.SetDefault("proxy.user", "")
	v.SetDefault("proxy.password", "")
	v.SetDefault("proxy.disabled", false)

	v.SetDefault("store.disabled", false)
	v.SetDefault("store.host", "localhost")
	v.SetDefault("store.port", 5432)
	v.SetDefault("store.user", "postgres")
	v.SetDefault("store.password", "")
	v.SetDefault("store.database", "dealnews")
	v.SetDefault("store.sslmode", "disable")
	v.SetDefault("store.connect_timeout", "30s")
	v.SetDefault("store.max_conns", 4)

	v.SetDefault("snapshot.enabled", false)
	v.SetDefault("snapshot.backend", BackendLocal)
	v.SetDefault("snapshot.dir", "exports/html_snapshots")
	v.SetDefault("snapshot.gcs_bucket", "")
	v.SetDefault("snapshot.gcs_prefix", "snapshots")
	v.SetDefault("snapshot.buffer", 64)

	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.queue_depth", 256)

	v.SetDefault("fallback.enabled", true)
	v.SetDefault("fallback.path", "exports/deals.jsonl")

	v.SetDefault("announce.provider", ProviderNoop)
	v.SetDefault("announce.project_id", "")
	v.SetDefault("announce.topic", "")

	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")

	v.SetDefault("tracing.sample_ratio", 1.0)

	v.SetDefault("ops.port", 0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if len(c.Crawler.StartURLs) == 0 {
		return fmt.Errorf("crawler.start_urls must not be empty")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.PerDomain <= 0 {
		return fmt.Errorf("crawler.per_domain must be > 0")
	}
	if c.Crawler.Timeout <= 0 {
		return fmt.Errorf("crawler.timeout must be > 0")
	}
	if c.Crawler.MaxRetries <= 0 {
		return fmt.Errorf("crawler.max_retries must be > 0")
	}
	if c.Crawler.RequestsPerSecond < 0 {
		return fmt.Errorf("crawler.requests_per_second must be >= 0")
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline.workers must be > 0")
	}
	if c.Pipeline.QueueDepth < 0 {
		return fmt.Errorf("pipeline.queue_depth must be >= 0")
	}
	if !c.Proxy.Disabled && strings.TrimSpace(c.Proxy.List) == "" && c.Proxy.Host == "" {
		return fmt.Errorf("proxy.host or proxy.list must be set unless proxy.disabled")
	}
	if c.Snapshot.Enabled {
		switch c.Snapshot.Backend {
		case BackendLocal:
			if c.Snapshot.Dir == "" {
				return fmt.Errorf("snapshot.dir must be set for the local backend")
			}
		case BackendGCS:
			if c.Snapshot.GCSBucket == "" {
				return fmt.Errorf("snapshot.gcs_bucket must be set for the gcs backend")
			}
		default:
			return fmt.Errorf("snapshot.backend %q is not supported", c.Snapshot.Backend)
		}
	}
	if c.Fallback.Enabled && c.Fallback.Path == "" {
		return fmt.Errorf("fallback.path must be set when fallback is enabled")
	}
	switch c.Announce.Provider {
	case "", ProviderNoop, ProviderMemory:
	case ProviderPubSub:
		if c.Announce.ProjectID == "" || c.Announce.Topic == "" {
			return fmt.Errorf("announce.project_id and announce.topic must be set for pubsub")
		}
	default:
		return fmt.Errorf("announce.provider %q is not supported", c.Announce.Provider)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0, 1]")
	}
	if c.Ops.Port < 0 {
		return fmt.Errorf("ops.port must be >= 0")
	}
	return nil
}
