package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/collectica/zipserve/internal/progress"
)

// Config defines configuration for the zipserve server.
type Config struct {
	Listen         string       `yaml:"listen"`
	MediaBucket    string       `yaml:"media_bucket"`
	StateBucket    string       `yaml:"state_bucket"`
	AllowedOrigins []string     `yaml:"allowed_origins"`
	Limits         LimitsConfig `yaml:"limits"`
	Fetch          FetchConfig  `yaml:"fetch"`
	Log            LogConfig    `yaml:"log"`
}

// LimitsConfig bounds downloads and server capacity. A Concurrent of
// zero drains the server: every download is refused until the limit is
// raised again.
type LimitsConfig struct {
	Concurrent   int           `yaml:"concurrent"`
	DownloadSize int64         `yaml:"download_size"`
	ActiveSize   int64         `yaml:"active_size"`
	Files        int           `yaml:"files"`
	TTL          time.Duration `yaml:"ttl"`
}

// FetchConfig tunes the remote image fetcher.
type FetchConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	MaxRedirects int           `yaml:"max_redirects"`
	UserAgent    string        `yaml:"user_agent"`
}

// LogConfig controls log output.
type LogConfig struct {
	Format string `yaml:"format"` // text or json
	Level  string `yaml:"level"`  // debug, info, warn, error
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Listen:      ":8080",
		MediaBucket: "file://./media",
		StateBucket: "file://./state",
		Limits: LimitsConfig{
			Concurrent:   1,
			DownloadSize: 3 << 30,
			ActiveSize:   6 << 30,
			Files:        1000,
			TTL:          7200 * time.Second,
		},
		Fetch: FetchConfig{
			Timeout:      25 * time.Second,
			MaxRedirects: 3,
			UserAgent:    "zipserve/1.0",
		},
		Log: LogConfig{
			Format: "text",
			Level:  "info",
		},
	}
}

// yamlConfig is used for YAML unmarshaling with string sizes and
// durations.
type yamlConfig struct {
	Listen         string   `yaml:"listen"`
	MediaBucket    string   `yaml:"media_bucket"`
	StateBucket    string   `yaml:"state_bucket"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	Limits         struct {
		// Concurrent is a pointer so an explicit 0 (drain mode) is
		// distinguishable from the key being absent.
		Concurrent   *int   `yaml:"concurrent"`
		DownloadSize string `yaml:"download_size"`
		ActiveSize   string `yaml:"active_size"`
		Files        int    `yaml:"files"`
		TTL          int    `yaml:"ttl"` // seconds
	} `yaml:"limits"`
	Fetch struct {
		Timeout      string `yaml:"timeout"`
		MaxRedirects int    `yaml:"max_redirects"`
		UserAgent    string `yaml:"user_agent"`
	} `yaml:"fetch"`
	Log struct {
		Format string `yaml:"format"`
		Level  string `yaml:"level"`
	} `yaml:"log"`
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()

	if yc.Listen != "" {
		cfg.Listen = yc.Listen
	}
	if yc.MediaBucket != "" {
		cfg.MediaBucket = yc.MediaBucket
	}
	if yc.StateBucket != "" {
		cfg.StateBucket = yc.StateBucket
	}
	if len(yc.AllowedOrigins) > 0 {
		cfg.AllowedOrigins = yc.AllowedOrigins
	}
	if yc.Limits.Concurrent != nil {
		cfg.Limits.Concurrent = *yc.Limits.Concurrent
	}
	if yc.Limits.DownloadSize != "" {
		size, err := progress.ParseBytes(yc.Limits.DownloadSize)
		if err != nil {
			return Config{}, fmt.Errorf("parse limits.download_size: %w", err)
		}
		cfg.Limits.DownloadSize = size
	}
	if yc.Limits.ActiveSize != "" {
		size, err := progress.ParseBytes(yc.Limits.ActiveSize)
		if err != nil {
			return Config{}, fmt.Errorf("parse limits.active_size: %w", err)
		}
		cfg.Limits.ActiveSize = size
	}
	if yc.Limits.Files != 0 {
		cfg.Limits.Files = yc.Limits.Files
	}
	if yc.Limits.TTL != 0 {
		cfg.Limits.TTL = time.Duration(yc.Limits.TTL) * time.Second
	}
	if yc.Fetch.Timeout != "" {
		d, err := time.ParseDuration(yc.Fetch.Timeout)
		if err != nil {
			return Config{}, fmt.Errorf("parse fetch.timeout: %w", err)
		}
		cfg.Fetch.Timeout = d
	}
	if yc.Fetch.MaxRedirects != 0 {
		cfg.Fetch.MaxRedirects = yc.Fetch.MaxRedirects
	}
	if yc.Fetch.UserAgent != "" {
		cfg.Fetch.UserAgent = yc.Fetch.UserAgent
	}
	if yc.Log.Format != "" {
		cfg.Log.Format = yc.Log.Format
	}
	if yc.Log.Level != "" {
		cfg.Log.Level = yc.Log.Level
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the ZIPSERVE_ prefix.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("ZIPSERVE_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("ZIPSERVE_MEDIA_BUCKET"); v != "" {
		c.MediaBucket = v
	}
	if v := os.Getenv("ZIPSERVE_STATE_BUCKET"); v != "" {
		c.StateBucket = v
	}
	if v := os.Getenv("ZIPSERVE_LIMITS_CONCURRENT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse ZIPSERVE_LIMITS_CONCURRENT: %w", err)
		}
		c.Limits.Concurrent = n
	}
	if v := os.Getenv("ZIPSERVE_LIMITS_DOWNLOAD_SIZE"); v != "" {
		size, err := progress.ParseBytes(v)
		if err != nil {
			return fmt.Errorf("parse ZIPSERVE_LIMITS_DOWNLOAD_SIZE: %w", err)
		}
		c.Limits.DownloadSize = size
	}
	if v := os.Getenv("ZIPSERVE_LIMITS_ACTIVE_SIZE"); v != "" {
		size, err := progress.ParseBytes(v)
		if err != nil {
			return fmt.Errorf("parse ZIPSERVE_LIMITS_ACTIVE_SIZE: %w", err)
		}
		c.Limits.ActiveSize = size
	}
	if v := os.Getenv("ZIPSERVE_LIMITS_FILES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse ZIPSERVE_LIMITS_FILES: %w", err)
		}
		c.Limits.Files = n
	}
	if v := os.Getenv("ZIPSERVE_LIMITS_TTL"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse ZIPSERVE_LIMITS_TTL: %w", err)
		}
		c.Limits.TTL = time.Duration(n) * time.Second
	}
	if v := os.Getenv("ZIPSERVE_FETCH_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse ZIPSERVE_FETCH_TIMEOUT: %w", err)
		}
		c.Fetch.Timeout = d
	}
	if v := os.Getenv("ZIPSERVE_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	if v := os.Getenv("ZIPSERVE_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	return nil
}

// Validate checks the configuration and clamps fields with hard
// minimums.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return errors.New("config: listen is required")
	}
	if c.MediaBucket == "" {
		return errors.New("config: media_bucket is required")
	}
	if c.StateBucket == "" {
		return errors.New("config: state_bucket is required")
	}
	if c.Limits.Concurrent < 0 {
		return errors.New("config: limits.concurrent must not be negative")
	}
	if c.Limits.DownloadSize <= 0 {
		return errors.New("config: limits.download_size must be positive")
	}
	if c.Limits.ActiveSize < c.Limits.DownloadSize {
		return errors.New("config: limits.active_size must be at least limits.download_size")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown log.format %q", c.Log.Format)
	}
	if c.Limits.Files < 1 {
		c.Limits.Files = 1
	}
	if c.Limits.TTL < 60*time.Second {
		c.Limits.TTL = 60 * time.Second
	}
	return nil
}
