// Package config loads runtime settings from defaults, an optional YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the runtime settings, loaded from YAML and PULSE_* variables
type Config struct {
	DBPath       string        `yaml:"db"`
	Interval     time.Duration `yaml:"interval"`
	Dwell        time.Duration `yaml:"dwell"`
	Grace        time.Duration `yaml:"grace"`
	TickTimeout  time.Duration `yaml:"tick_timeout"`
	QueueSize    int           `yaml:"queue_size"`
	Addr         string        `yaml:"addr"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
	LogLevel     string        `yaml:"log_level"`
	LogFormat    string        `yaml:"log_format"`
}

// DefaultDBPath is ~/.pulse/pulse.db
func DefaultDBPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".pulse", "pulse.db")
}

// Default returns the built-in settings
func Default() Config {
	return Config{
		DBPath:       DefaultDBPath(),
		Interval:     30 * time.Second,
		Dwell:        2 * time.Second,
		Grace:        5 * time.Second,
		QueueSize:    10_000,
		MaxBodyBytes: 1_048_576,
		LogLevel:     "info",
		LogFormat:    "text",
	}
}

// Load reads path (skipped when empty) over the defaults, then applies
// PULSE_* environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.DBPath = getString("PULSE_DB", c.DBPath)
	c.Interval = getDuration("PULSE_INTERVAL", c.Interval)
	c.Dwell = getDuration("PULSE_DWELL", c.Dwell)
	c.Grace = getDuration("PULSE_GRACE", c.Grace)
	c.TickTimeout = getDuration("PULSE_TICK_TIMEOUT", c.TickTimeout)
	c.QueueSize = getInt("PULSE_QUEUE_SIZE", c.QueueSize)
	c.Addr = getString("PULSE_ADDR", c.Addr)
	c.MaxBodyBytes = int64(getInt("PULSE_MAX_BODY_BYTES", int(c.MaxBodyBytes)))
	c.LogLevel = getString("PULSE_LOG_LEVEL", c.LogLevel)
	c.LogFormat = getString("PULSE_LOG_FORMAT", c.LogFormat)
}

// Validate rejects settings the classification loop cannot run with
func (c Config) Validate() error {
	var errs []error
	if c.DBPath == "" {
		errs = append(errs, errors.New("db path is required"))
	}
	if c.Interval <= 0 {
		errs = append(errs, fmt.Errorf("interval must be positive, got %s", c.Interval))
	}
	if c.Dwell < 0 {
		errs = append(errs, fmt.Errorf("dwell must not be negative, got %s", c.Dwell))
	}
	if c.Grace < 0 {
		errs = append(errs, fmt.Errorf("grace must not be negative, got %s", c.Grace))
	}
	if c.TickTimeout < 0 {
		errs = append(errs, fmt.Errorf("tick timeout must not be negative, got %s", c.TickTimeout))
	}
	if c.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("queue size must be positive, got %d", c.QueueSize))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log format must be text or json, got %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

// Logger builds the process logger writing to w
func (c Config) Logger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log level: %w", err)
	}
	return level, nil
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
