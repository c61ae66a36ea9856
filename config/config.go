package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"slot-sync-backend/internal/apperr"
	"slot-sync-backend/internal/classify"
	"slot-sync-backend/internal/logging"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Upstream   UpstreamConfig   `yaml:"upstream"`
	Sync       SyncConfig       `yaml:"sync"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Database   DatabaseConfig   `yaml:"database"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds the HTTP API configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// UpstreamConfig describes the scheduling vendor API.
type UpstreamConfig struct {
	BaseURL           string        `yaml:"base_url"`
	UserID            string        `yaml:"user_id"`
	APIKey            string        `yaml:"api_key"`
	TimeoutSeconds    int           `yaml:"timeout_seconds"`
	Timeout           time.Duration `yaml:"-"`
	HTTPProxy         string        `yaml:"http_proxy"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	MaxRetries        int           `yaml:"max_retries"`
	// ResultCap is the silent per-query truncation limit of the vendor.
	ResultCap int `yaml:"result_cap"`
}

// SyncConfig controls the sync orchestrator.
type SyncConfig struct {
	Enabled          bool           `yaml:"enabled"`
	Schedule         string         `yaml:"schedule"`
	RunOnStart       bool           `yaml:"run_on_start"`
	Timezone         string         `yaml:"timezone"`
	Location         *time.Location `yaml:"-"`
	PastDays         int            `yaml:"past_days"`
	FutureDays       int            `yaml:"future_days"`
	TypeBatchSize    int            `yaml:"type_batch_size"`
	DateBatchSize    int            `yaml:"date_batch_size"`
	BatchDelayMillis int            `yaml:"batch_delay_ms"`
	BatchDelay       time.Duration  `yaml:"-"`
	FetchConcurrency int            `yaml:"fetch_concurrency"`
	MaxDepth         int            `yaml:"max_depth"`
	UpsertBatchSize  int            `yaml:"upsert_batch_size"`
	ExcludeDefaulted bool           `yaml:"exclude_defaulted"`
	SampleSize       int            `yaml:"sample_size"`
}

// ClassifierConfig overrides the built-in keyword table.
type ClassifierConfig struct {
	DefaultCategory string              `yaml:"default_category"`
	Keywords        map[string][]string `yaml:"keywords"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
	LogQueries             bool   `yaml:"log_queries"`
}

// PushConfig holds the VAPID keys for web push alerts.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// Enabled reports whether alerts can be sent.
func (p PushConfig) Enabled() bool {
	return p.PublicKey != "" && p.PrivateKey != ""
}

// WorkerPoolConfig holds the configuration for the alert worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// LoggingConfig selects the log level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads the configuration from the given path, applies .env and
// environment overrides and fills defaults. It does not validate.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logging.Warn().Err(err).Msg("could not read .env file")
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyEnv() {
	overrides := []struct {
		key string
		dst *string
	}{
		{"UPSTREAM_BASE_URL", &c.Upstream.BaseURL},
		{"UPSTREAM_USER_ID", &c.Upstream.UserID},
		{"UPSTREAM_API_KEY", &c.Upstream.APIKey},
		{"DATABASE_DSN", &c.Database.DSN},
		{"VAPID_PUBLIC_KEY", &c.Push.PublicKey},
		{"VAPID_PRIVATE_KEY", &c.Push.PrivateKey},
	}
	for _, o := range overrides {
		if v, ok := os.LookupEnv(o.key); ok && v != "" {
			*o.dst = v
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port <= 0 {
		c.Server.Port = 8080
	}
	if c.Server.RateLimitPerSec <= 0 {
		c.Server.RateLimitPerSec = 10
	}
	if c.Server.RateLimitBurst <= 0 {
		c.Server.RateLimitBurst = 5
	}
	if c.Server.CacheTTLSeconds <= 0 {
		c.Server.CacheTTLSeconds = 300
	}

	if c.Database.MaxOpenConns <= 0 {
		c.Database.MaxOpenConns = 10
	}
	if c.Database.MaxIdleConns <= 0 {
		c.Database.MaxIdleConns = 2
	}

	if c.Upstream.TimeoutSeconds <= 0 {
		c.Upstream.TimeoutSeconds = 30
	}
	c.Upstream.Timeout = time.Duration(c.Upstream.TimeoutSeconds) * time.Second
	if c.Upstream.RequestsPerSecond <= 0 {
		c.Upstream.RequestsPerSecond = 5
	}
	if c.Upstream.Burst <= 0 {
		c.Upstream.Burst = 5
	}
	if c.Upstream.MaxRetries < 0 {
		c.Upstream.MaxRetries = 0
	} else if c.Upstream.MaxRetries == 0 {
		c.Upstream.MaxRetries = 3
	}
	if c.Upstream.ResultCap <= 0 {
		c.Upstream.ResultCap = 100
	}

	if c.Sync.Schedule == "" {
		c.Sync.Schedule = "0 */2 * * *"
	}
	if c.Sync.Timezone == "" {
		c.Sync.Timezone = "UTC"
	}
	if loc, err := time.LoadLocation(c.Sync.Timezone); err == nil {
		c.Sync.Location = loc
	}
	if c.Sync.PastDays < 0 {
		c.Sync.PastDays = 0
	}
	if c.Sync.FutureDays <= 0 {
		c.Sync.FutureDays = 30
	}
	if c.Sync.TypeBatchSize <= 0 {
		c.Sync.TypeBatchSize = 5
	}
	if c.Sync.DateBatchSize <= 0 {
		c.Sync.DateBatchSize = 5
	}
	if c.Sync.BatchDelayMillis < 0 {
		c.Sync.BatchDelayMillis = 0
	} else if c.Sync.BatchDelayMillis == 0 {
		c.Sync.BatchDelayMillis = 1000
	}
	c.Sync.BatchDelay = time.Duration(c.Sync.BatchDelayMillis) * time.Millisecond
	if c.Sync.FetchConcurrency <= 0 {
		c.Sync.FetchConcurrency = 4
	}
	if c.Sync.MaxDepth <= 0 {
		c.Sync.MaxDepth = 3
	}
	if c.Sync.UpsertBatchSize <= 0 {
		c.Sync.UpsertBatchSize = 500
	}
	if c.Sync.SampleSize <= 0 {
		c.Sync.SampleSize = apperr.DefaultSampleSize
	}

	if c.Classifier.DefaultCategory == "" {
		c.Classifier.DefaultCategory = string(classify.Measurement)
	}

	if c.Push.TTL <= 0 {
		c.Push.TTL = 3600
	}
	if c.WorkerPool.Size <= 0 {
		logging.Info().Msg("worker_pool.size is not set or invalid; defaulting to 1")
		c.WorkerPool.Size = 1
	}
}

// Validate reports every problem that must stop a sync before it fetches
// anything. The returned error is an apperr.Configuration error.
func (c *Config) Validate() error {
	var problems []string
	if c.Upstream.BaseURL == "" {
		problems = append(problems, "upstream.base_url is required")
	}
	if c.Upstream.UserID == "" || c.Upstream.APIKey == "" {
		problems = append(problems, "upstream credentials (user_id, api_key) are required")
	}
	if c.Sync.Location == nil {
		problems = append(problems, fmt.Sprintf("sync.timezone %q is not a valid IANA zone", c.Sync.Timezone))
	}
	if _, err := cron.ParseStandard(c.Sync.Schedule); err != nil {
		problems = append(problems, fmt.Sprintf("sync.schedule %q: %v", c.Sync.Schedule, err))
	}
	if c.Sync.TypeBatchSize <= 0 || c.Sync.DateBatchSize <= 0 {
		problems = append(problems, "sync.type_batch_size and sync.date_batch_size must be positive")
	}
	if _, err := classify.ParseCategory(c.Classifier.DefaultCategory); err != nil {
		problems = append(problems, "classifier.default_category: "+err.Error())
	}
	for name := range c.Classifier.Keywords {
		if _, err := classify.ParseCategory(name); err != nil {
			problems = append(problems, "classifier.keywords: "+err.Error())
		}
	}
	if len(problems) > 0 {
		return apperr.New(apperr.Configuration, "validate config", "", errors.New(strings.Join(problems, "; ")))
	}
	return nil
}

// ClassifierRules returns the configured keyword table, or the built-in
// one when none is configured. Categories keep their built-in order.
func (c *Config) ClassifierRules() []classify.Rule {
	if len(c.Classifier.Keywords) == 0 {
		return classify.DefaultRules()
	}
	var rules []classify.Rule
	for _, cat := range classify.Categories() {
		if kws, ok := c.Classifier.Keywords[string(cat)]; ok {
			rules = append(rules, classify.Rule{Category: cat, Keywords: kws})
		}
	}
	return rules
}
