// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Playback PlaybackConfig          `yaml:"playback"`
	Cleanup  CleanupConfig           `yaml:"cleanup"`
	Output   OutputConfig            `yaml:"output"`
	Filters  map[string]FilterConfig `yaml:"filters"`
	Metrics  MetricsConfig           `yaml:"metrics"`
	Messages MessagesConfig          `yaml:"messages"`
	Hooks    HooksConfig             `yaml:"hooks"`
}

// HooksConfig represents lifecycle hooks configuration.
type HooksConfig struct {
	OnStarted []string `yaml:"on_started"`
	OnStopped []string `yaml:"on_stopped"`
}

// PlaybackConfig represents player configuration.
type PlaybackConfig struct {
	StopGraceMs      int  `yaml:"stop_grace_ms" default:"500" validate:"gte=10,lte=10000"`
	ResolveTimeoutMs int  `yaml:"resolve_timeout_ms" default:"10000" validate:"gte=100,lte=120000"`
	EventBuffer      int  `yaml:"event_buffer" default:"64" validate:"gte=1,lte=4096"`
	SkipStreamProbe  bool `yaml:"skip_stream_probe"`
}

// StopGrace returns the stop grace period.
func (p PlaybackConfig) StopGrace() time.Duration {
	return time.Duration(p.StopGraceMs) * time.Millisecond
}

// ResolveTimeout returns the per-track resolution timeout.
func (p PlaybackConfig) ResolveTimeout() time.Duration {
	return time.Duration(p.ResolveTimeoutMs) * time.Millisecond
}

// CleanupConfig represents download directory cleanup configuration.
type CleanupConfig struct {
	Disabled    bool   `yaml:"disabled"`
	DownloadDir string `yaml:"download_dir" default:"downloads" validate:"required"`
	GraceMs     int    `yaml:"grace_ms" default:"2000" validate:"gte=0,lte=60000"`
}

// Grace returns the delay before a cleanup pass.
func (c CleanupConfig) Grace() time.Duration {
	return time.Duration(c.GraceMs) * time.Millisecond
}

// OutputConfig selects the audio output driver.
type OutputConfig struct {
	Driver   string         `yaml:"driver" default:"speaker" validate:"oneof=speaker"`
	Settings map[string]any `yaml:"settings,omitempty"`
}

// FilterConfig represents a filter's configuration.
type FilterConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Settings map[string]any `yaml:"settings,omitempty"`
}

// MetricsConfig represents the metrics endpoint configuration.
type MetricsConfig struct {
	Addr string `yaml:"addr" validate:"omitempty,hostname_port"`
}

// MessagesConfig represents user-facing messages.
// Empty player texts fall back to the built-in ones.
type MessagesConfig struct {
	// Player status texts
	NowPlaying     string `yaml:"now_playing"`
	Queued         string `yaml:"queued"`
	PlayError      string `yaml:"play_error"`
	Paused         string `yaml:"paused"`
	AlreadyPaused  string `yaml:"already_paused"`
	NothingPlaying string `yaml:"nothing_playing"`
	Resumed        string `yaml:"resumed"`
	NothingPaused  string `yaml:"nothing_paused"`
	Stopped        string `yaml:"stopped"`
	QueueCleared   string `yaml:"queue_cleared"`
	Skipped        string `yaml:"skipped"`
	SkippedLast    string `yaml:"skipped_last"`
	SkipToNext     string `yaml:"skip_to_next"`
	NothingToSkip  string `yaml:"nothing_to_skip"`
	QueueEmpty     string `yaml:"queue_empty"`
	QueueHeader    string `yaml:"queue_header"`

	// Rejection texts
	DefaultError         string `yaml:"default_error" default:"The track could not be added."`
	SourceMissing        string `yaml:"source_missing" default:"Nothing to play was given."`
	FileNotFound         string `yaml:"file_not_found" default:"The file could not be found."`
	UnsupportedFormat    string `yaml:"unsupported_format" default:"That file format is not supported."`
	FileTooLarge         string `yaml:"file_too_large" default:"The file is too large."`
	InvalidStreamURL     string `yaml:"invalid_stream_url" default:"That does not look like a valid link."`
	StreamHostNotAllowed string `yaml:"stream_host_not_allowed" default:"Streams from that site are not allowed."`
	DuplicateTrack       string `yaml:"duplicate_track" default:"That track is already in the queue."`
	QueueFull            string `yaml:"queue_full" default:"The queue is full. Try again later."`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	return Parse(data)
}

// Parse builds a configuration from YAML data.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	// Override with environment variables
	cfg.overrideFromEnv()

	// Set defaults using creasty/defaults
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() (*Config, error) {
	return Parse(nil)
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("ZULU_DOWNLOAD_DIR"); v != "" {
		c.Cleanup.DownloadDir = v
	}
	if v := os.Getenv("ZULU_FFMPEG_PATH"); v != "" {
		if c.Output.Settings == nil {
			c.Output.Settings = make(map[string]any)
		}
		c.Output.Settings["ffmpeg_path"] = v
	}
	if v := os.Getenv("ZULU_METRICS_ADDR"); v != "" {
		c.Metrics.Addr = v
	}
}

// GetMessage returns the message for the given rejection code.
func (c *Config) GetMessage(code string) string {
	switch code {
	case "source_missing":
		return c.Messages.SourceMissing
	case "file_not_found":
		return c.Messages.FileNotFound
	case "unsupported_format":
		return c.Messages.UnsupportedFormat
	case "file_too_large":
		return c.Messages.FileTooLarge
	case "invalid_stream_url":
		return c.Messages.InvalidStreamURL
	case "stream_host_not_allowed":
		return c.Messages.StreamHostNotAllowed
	case "duplicate_track":
		return c.Messages.DuplicateTrack
	case "queue_full":
		return c.Messages.QueueFull
	default:
		return c.Messages.DefaultError
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}

	if err := c.validateTimings(); err != nil {
		return err
	}

	return nil
}

// validateTimings checks that a cleanup pass cannot start before a stopped track has let go of its file.
func (c *Config) validateTimings() error {
	if c.Cleanup.Disabled {
		return nil
	}
	if c.Cleanup.GraceMs < c.Playback.StopGraceMs {
		return errors.Newf("cleanup.grace_ms (%d) must not be shorter than playback.stop_grace_ms (%d)",
			c.Cleanup.GraceMs, c.Playback.StopGraceMs)
	}
	return nil
}

// IsFilterEnabled checks if a filter is enabled.
func (c *Config) IsFilterEnabled(filterName string) bool {
	if f, ok := c.Filters[filterName]; ok {
		return f.Enabled
	}
	return false
}

// EnabledFilters returns the names of enabled filters.
func (c *Config) EnabledFilters() []string {
	names := make([]string, 0, len(c.Filters))
	for name, f := range c.Filters {
		if f.Enabled {
			names = append(names, name)
		}
	}
	return names
}
