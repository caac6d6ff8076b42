package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	defaultSyncLimit       = 8
	defaultCompletionLimit = 2
	defaultUserAgent       = "Mozilla/5.0 (X11; Linux x86_64; rv:109.0) Gecko/20100101 Firefox/115.0"
)

// Config holds every setting the application consumes.
type Config struct {
	Logging     LoggingConfig `yaml:"logging"`
	HTTP        HTTPConfig    `yaml:"http"`
	Credentials string        `yaml:"credentials_file"`
	Dedup       DedupConfig   `yaml:"dedup"`
	Force       bool          `yaml:"force_content"`
	Feeds       []FeedConfig  `yaml:"feeds"`
}

// LoggingConfig selects the console log level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// HTTPConfig describes the shared HTTP behavior of both fetchers.
type HTTPConfig struct {
	Proxy           string `yaml:"proxy"`
	VerifyTLS       *bool  `yaml:"verify_tls"`
	UserAgent       string `yaml:"user_agent"`
	SyncLimit       int    `yaml:"sync_request_limit"`
	CompletionLimit int    `yaml:"completion_request_limit"`
}

// InsecureSkipVerify reports whether TLS verification is disabled.
func (h HTTPConfig) InsecureSkipVerify() bool {
	return h.VerifyTLS != nil && !*h.VerifyTLS
}

// DedupConfig selects the duplicate-suppression mode. The two modes are
// mutually exclusive; across-feeds wins when both are requested.
type DedupConfig struct {
	WithinFeed  bool `yaml:"within_feed"`
	AcrossFeeds bool `yaml:"across_feeds"`
}

// FeedConfig pairs one source feed with its target file. Online and Appending
// are pointers so a missing attribute is distinguishable from an explicit
// false and can be rejected.
type FeedConfig struct {
	Source    string `yaml:"source"`
	Target    string `yaml:"target"`
	Online    *bool  `yaml:"online"`
	Appending *bool  `yaml:"appending"`
}

// Load reads and validates the YAML configuration file. Every validation
// failure is a fatal configuration error.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	if len(c.Feeds) == 0 {
		return fmt.Errorf("no feeds configured")
	}
	for i, feed := range c.Feeds {
		if feed.Source == "" {
			return fmt.Errorf("feed %d: missing required attribute source", i)
		}
		if feed.Target == "" {
			return fmt.Errorf("feed %d: missing required attribute target", i)
		}
		if feed.Online == nil {
			return fmt.Errorf("feed %d: missing required attribute online", i)
		}
		if feed.Appending == nil {
			return fmt.Errorf("feed %d: missing required attribute appending", i)
		}
	}
	if c.HTTP.SyncLimit < 1 {
		return fmt.Errorf("sync_request_limit must be positive, got %d", c.HTTP.SyncLimit)
	}
	if c.HTTP.CompletionLimit < 1 {
		return fmt.Errorf("completion_request_limit must be positive, got %d", c.HTTP.CompletionLimit)
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		Logging:     LoggingConfig{Level: "info"},
		Credentials: "credentials.yaml",
		Dedup:       DedupConfig{WithinFeed: true},
		HTTP: HTTPConfig{
			UserAgent:       defaultUserAgent,
			SyncLimit:       defaultSyncLimit,
			CompletionLimit: defaultCompletionLimit,
		},
	}
}
