// Package config defines the collector's configuration and how it is loaded.
//
// Values are layered, lowest precedence first: built-in defaults, an optional
// YAML file, then LOCAL_EVENTS_* environment variables. Keys are flat
// snake_case names matching the koanf struct tags below.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pfrederiksen/local-events/internal/logger"
)

// Sentinel error kinds for this package.
var (
	ErrInvalidConfig = errors.New("invalid config")
	ErrLoadConfig    = errors.New("load config failed")
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	DatabaseDriver string `koanf:"database_driver"`
	DatabaseDSN    string `koanf:"database_dsn"`

	// Timezone is the IANA zone every parsed date is expressed in.
	Timezone string `koanf:"timezone"`
	// DefaultEventHour is used when a relative date carries no time.
	DefaultEventHour int `koanf:"default_event_hour"`

	// Scheduler
	StaleAfter    time.Duration `koanf:"stale_after"`
	BatchSize     int           `koanf:"batch_size"`
	SourceDelay   time.Duration `koanf:"source_delay"`
	CycleInterval time.Duration `koanf:"cycle_interval"`
	ErrorBackoff  time.Duration `koanf:"error_backoff"`

	// Browser and page handling
	SettleTime        time.Duration `koanf:"settle_time"`
	LaunchTimeout     time.Duration `koanf:"launch_timeout"`
	NavigationTimeout time.Duration `koanf:"navigation_timeout"`
	SelectorTimeout   time.Duration `koanf:"selector_timeout"`
	UserAgent         string        `koanf:"user_agent"`
	ViewportWidth     int           `koanf:"viewport_width"`
	ViewportHeight    int           `koanf:"viewport_height"`
	Headless          bool          `koanf:"headless"`
	ChromePath        string        `koanf:"chrome_path"`

	// Health thresholds, in success-rate percent.
	WarningBelow float64 `koanf:"warning_below"`
	ErrorBelow   float64 `koanf:"error_below"`

	MetricsAddr    string        `koanf:"metrics_addr"`
	ContentHashTTL time.Duration `koanf:"content_hash_ttl"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:          "info",
		DatabaseDriver:    "sqlite",
		DatabaseDSN:       "data/local-events.db",
		Timezone:          "America/New_York",
		DefaultEventHour:  19,
		StaleAfter:        6 * time.Hour,
		BatchSize:         10,
		SourceDelay:       5 * time.Second,
		CycleInterval:     15 * time.Minute,
		ErrorBackoff:      30 * time.Minute,
		SettleTime:        3 * time.Second,
		LaunchTimeout:     30 * time.Second,
		NavigationTimeout: 30 * time.Second,
		SelectorTimeout:   10 * time.Second,
		UserAgent:         "",
		ViewportWidth:     1920,
		ViewportHeight:    1080,
		Headless:          true,
		WarningBelow:      80,
		ErrorBelow:        50,
		MetricsAddr:       ":9090",
		ContentHashTTL:    7 * 24 * time.Hour,
	}
}

// Validate reports the first invalid setting, wrapped in ErrInvalidConfig.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}

	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return invalid("log_level: %v", err)
	}
	if strings.TrimSpace(c.DatabaseDSN) == "" {
		return invalid("database_dsn must not be empty")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil || strings.TrimSpace(c.Timezone) == "" {
		return invalid("unknown timezone %q", c.Timezone)
	}
	if c.DefaultEventHour < 0 || c.DefaultEventHour > 23 {
		return invalid("default_event_hour %d out of range", c.DefaultEventHour)
	}
	if c.BatchSize <= 0 {
		return invalid("batch_size must be positive, got %d", c.BatchSize)
	}
	for name, d := range map[string]time.Duration{
		"stale_after":        c.StaleAfter,
		"cycle_interval":     c.CycleInterval,
		"error_backoff":      c.ErrorBackoff,
		"launch_timeout":     c.LaunchTimeout,
		"navigation_timeout": c.NavigationTimeout,
		"selector_timeout":   c.SelectorTimeout,
	} {
		if d <= 0 {
			return invalid("%s must be positive, got %s", name, d)
		}
	}
	if c.SourceDelay < 0 || c.SettleTime < 0 || c.ContentHashTTL < 0 {
		return invalid("source_delay, settle_time and content_hash_ttl must not be negative")
	}
	if c.ViewportWidth <= 0 || c.ViewportHeight <= 0 {
		return invalid("viewport %dx%d must be positive", c.ViewportWidth, c.ViewportHeight)
	}
	if c.ErrorBelow < 0 || c.ErrorBelow > 100 || c.WarningBelow < 0 || c.WarningBelow > 100 {
		return invalid("health thresholds must be within [0, 100]")
	}
	if c.WarningBelow < c.ErrorBelow {
		return invalid("warning_below %.1f is below error_below %.1f", c.WarningBelow, c.ErrorBelow)
	}
	return nil
}
