// Package config loads application configuration from flags, environment
// variables and an optional config file through viper.
package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "NOTIONWIDGETS"

var namespacePattern = regexp.MustCompile(`^[a-z0-9]+$`)

// Config holds the resolved application configuration.
type Config struct {
	DBPath    string
	SecretKey string

	SharedDir       string
	SharedNamespace string

	SyncInterval     time.Duration
	SyncRetryBackoff time.Duration
	SyncBudget       time.Duration
	SyncPageSize     int
	SyncMaxPages     int
	SyncConcurrency  int

	SnapshotTTL    time.Duration
	SnapshotMaxAge time.Duration

	NotionBaseURL    string
	NotionVersion    string
	NotionTimeout    time.Duration
	NotionMaxRetries int

	ListenAddr string

	LogLevel string
	LogFile  string
}

// HasSecretKey reports whether a secret key is configured. Without one the
// secret store rejects reads and writes, so credential commands fail early.
func (c *Config) HasSecretKey() bool {
	return strings.TrimSpace(c.SecretKey) != ""
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	v := viper.New()
	ApplyDefaults(v)
	return v
}

// ApplyDefaults configures defaults and env bindings on the provided viper
// instance. NOTIONWIDGETS_SYNC_INTERVAL overrides sync.interval, and so on.
func ApplyDefaults(v *viper.Viper) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("db.path", "notionwidgets.db")
	v.SetDefault("secret.key", "")

	v.SetDefault("shared.dir", "shared")
	v.SetDefault("shared.namespace", "widget")

	v.SetDefault("sync.interval", 15*time.Minute)
	v.SetDefault("sync.retry_backoff", 5*time.Minute)
	v.SetDefault("sync.budget", 10*time.Minute)
	v.SetDefault("sync.page_size", 100)
	v.SetDefault("sync.max_pages", 10)
	v.SetDefault("sync.concurrency", 4)

	v.SetDefault("snapshot.ttl", time.Hour)
	v.SetDefault("snapshot.max_age", 7*24*time.Hour)

	v.SetDefault("notion.base_url", "https://api.notion.com")
	v.SetDefault("notion.version", "2022-06-28")
	v.SetDefault("notion.timeout", 20*time.Second)
	v.SetDefault("notion.max_retries", 3)

	v.SetDefault("http.listen_addr", "127.0.0.1:8080")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
}

// Load reads configuration from v and returns a validated Config.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		DBPath:    strings.TrimSpace(v.GetString("db.path")),
		SecretKey: v.GetString("secret.key"),

		SharedDir:       strings.TrimSpace(v.GetString("shared.dir")),
		SharedNamespace: strings.TrimSpace(v.GetString("shared.namespace")),

		SyncInterval:     v.GetDuration("sync.interval"),
		SyncRetryBackoff: v.GetDuration("sync.retry_backoff"),
		SyncBudget:       v.GetDuration("sync.budget"),
		SyncPageSize:     v.GetInt("sync.page_size"),
		SyncMaxPages:     v.GetInt("sync.max_pages"),
		SyncConcurrency:  v.GetInt("sync.concurrency"),

		SnapshotTTL:    v.GetDuration("snapshot.ttl"),
		SnapshotMaxAge: v.GetDuration("snapshot.max_age"),

		NotionBaseURL:    strings.TrimRight(strings.TrimSpace(v.GetString("notion.base_url")), "/"),
		NotionVersion:    strings.TrimSpace(v.GetString("notion.version")),
		NotionTimeout:    v.GetDuration("notion.timeout"),
		NotionMaxRetries: v.GetInt("notion.max_retries"),

		ListenAddr: strings.TrimSpace(v.GetString("http.listen_addr")),

		LogLevel: strings.ToLower(strings.TrimSpace(v.GetString("log.level"))),
		LogFile:  strings.TrimSpace(v.GetString("log.file")),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error

	if c.DBPath == "" {
		errs = append(errs, errors.New("db.path is required"))
	}
	if c.SharedDir == "" {
		errs = append(errs, errors.New("shared.dir is required"))
	}
	if !namespacePattern.MatchString(c.SharedNamespace) {
		errs = append(errs, fmt.Errorf("shared.namespace %q must match %s", c.SharedNamespace, namespacePattern))
	}

	for key, d := range map[string]time.Duration{
		"sync.interval":      c.SyncInterval,
		"sync.retry_backoff": c.SyncRetryBackoff,
		"sync.budget":        c.SyncBudget,
		"snapshot.ttl":       c.SnapshotTTL,
		"snapshot.max_age":   c.SnapshotMaxAge,
		"notion.timeout":     c.NotionTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", key, d))
		}
	}

	if c.SyncBudget <= c.SyncRetryBackoff {
		errs = append(errs, fmt.Errorf("sync.budget (%s) must exceed sync.retry_backoff (%s)", c.SyncBudget, c.SyncRetryBackoff))
	}
	if c.SnapshotMaxAge < c.SnapshotTTL {
		errs = append(errs, fmt.Errorf("snapshot.max_age (%s) must not be shorter than snapshot.ttl (%s)", c.SnapshotMaxAge, c.SnapshotTTL))
	}
	if c.SyncPageSize < 1 || c.SyncPageSize > 100 {
		errs = append(errs, fmt.Errorf("sync.page_size must be between 1 and 100, got %d", c.SyncPageSize))
	}
	if c.SyncMaxPages < 1 {
		errs = append(errs, fmt.Errorf("sync.max_pages must be at least 1, got %d", c.SyncMaxPages))
	}
	if c.SyncConcurrency < 1 {
		errs = append(errs, fmt.Errorf("sync.concurrency must be at least 1, got %d", c.SyncConcurrency))
	}
	if c.NotionMaxRetries < 0 {
		errs = append(errs, fmt.Errorf("notion.max_retries must not be negative, got %d", c.NotionMaxRetries))
	}
	if c.NotionBaseURL == "" {
		errs = append(errs, errors.New("notion.base_url is required"))
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q must be one of debug, info, warn, error", c.LogLevel))
	}

	return errors.Join(errs...)
}
