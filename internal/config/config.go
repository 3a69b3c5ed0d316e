// Package config handles persisted daemon configuration via a structured
// YAML file with environment overrides. A broken or missing file never
// prevents startup: Load falls back to in-memory defaults.
package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	apperrors "github.com/rewinddvr/rewind/internal/errors"
)

// Tracking modes.
const (
	ModeWholeDisplay       = "display"
	ModeTrackedApplication = "application"
)

// Config is the complete daemon configuration.
type Config struct {
	Tracking TrackingConfig `mapstructure:"tracking"`
	Capture  CaptureConfig  `mapstructure:"capture"`
	Server   ServerConfig   `mapstructure:"server"`
	Library  LibraryConfig  `mapstructure:"library"`
	Share    ShareConfig    `mapstructure:"share"`
}

// TrackingConfig gates when the rolling buffer records.
type TrackingConfig struct {
	// Enabled turns background recording on or off.
	Enabled bool `mapstructure:"enabled"`
	// Mode is "display" (record whenever enabled) or "application"
	// (record only while the tracked application holds focus).
	Mode string `mapstructure:"mode"`
	// Application is the tracked application name, matched
	// case-insensitively. Only meaningful in application mode.
	Application string `mapstructure:"application"`
}

// CaptureConfig controls the encoder and the rolling buffer.
type CaptureConfig struct {
	// SegmentSeconds is the nominal length of one recorded segment.
	SegmentSeconds int `mapstructure:"segment_seconds"`
	// RetentionSeconds bounds the total duration kept in the buffer.
	RetentionSeconds int `mapstructure:"retention_seconds"`
	// TempDir holds in-flight segment files. Empty means a fresh
	// directory under the OS temp dir.
	TempDir string `mapstructure:"temp_dir"`
	// FFmpegPath overrides the ffmpeg binary looked up on PATH.
	FFmpegPath string `mapstructure:"ffmpeg_path"`
	// Display is the capture input (e.g. ":0.0" on X11).
	Display string `mapstructure:"display"`
	// Framerate for capture.
	Framerate int `mapstructure:"framerate"`
}

// ServerConfig controls the HTTP/WebSocket command boundary.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	// PollIntervalMs is the focus poll interval in milliseconds.
	PollIntervalMs int `mapstructure:"poll_interval_ms"`
}

// LibraryConfig controls where assembled clips and their metadata live.
type LibraryConfig struct {
	Dir          string `mapstructure:"dir"`
	DatabasePath string `mapstructure:"database_path"`
}

// ShareConfig points at the companion sharing server. Empty BaseURL
// disables uploads.
type ShareConfig struct {
	BaseURL  string `mapstructure:"base_url"`
	Username string `mapstructure:"username"`
}

// SegmentDuration returns the nominal segment length.
func (c CaptureConfig) SegmentDuration() time.Duration {
	return time.Duration(c.SegmentSeconds) * time.Second
}

// RetentionBudget returns the maximum total buffered duration.
func (c CaptureConfig) RetentionBudget() time.Duration {
	return time.Duration(c.RetentionSeconds) * time.Second
}

// PollInterval returns the focus poll interval.
func (c ServerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// Default returns the in-memory fallback configuration.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Tracking: TrackingConfig{
			Enabled: false,
			Mode:    ModeWholeDisplay,
		},
		Capture: CaptureConfig{
			SegmentSeconds:   10,
			RetentionSeconds: 300,
			Display:          ":0.0",
			Framerate:        30,
		},
		Server: ServerConfig{
			Addr:           "127.0.0.1:8453",
			PollIntervalMs: 1000,
		},
		Library: LibraryConfig{
			Dir: filepath.Join(home, "Videos", "rewind"),
		},
		Share: ShareConfig{},
	}
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "rewind", "config.yaml")
}

// Store loads and persists configuration at a fixed path.
type Store struct {
	path string
}

// NewStore creates a store for the given file path. Empty path means
// the default location.
func NewStore(path string) *Store {
	if path == "" {
		path = DefaultPath()
	}
	return &Store{path: path}
}

// Path returns the backing file location.
func (s *Store) Path() string { return s.path }

func (s *Store) newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigFile(s.path)
	v.SetEnvPrefix("REWIND")
	v.AutomaticEnv()

	def := Default()
	v.SetDefault("tracking.enabled", def.Tracking.Enabled)
	v.SetDefault("tracking.mode", def.Tracking.Mode)
	v.SetDefault("tracking.application", def.Tracking.Application)
	v.SetDefault("capture.segment_seconds", def.Capture.SegmentSeconds)
	v.SetDefault("capture.retention_seconds", def.Capture.RetentionSeconds)
	v.SetDefault("capture.temp_dir", def.Capture.TempDir)
	v.SetDefault("capture.ffmpeg_path", def.Capture.FFmpegPath)
	v.SetDefault("capture.display", def.Capture.Display)
	v.SetDefault("capture.framerate", def.Capture.Framerate)
	v.SetDefault("server.addr", def.Server.Addr)
	v.SetDefault("server.poll_interval_ms", def.Server.PollIntervalMs)
	v.SetDefault("library.dir", def.Library.Dir)
	v.SetDefault("library.database_path", def.Library.DatabasePath)
	v.SetDefault("share.base_url", def.Share.BaseURL)
	v.SetDefault("share.username", def.Share.Username)
	return v
}

// Load reads the config file. On any failure it logs and returns
// defaults so the daemon keeps operating.
func (s *Store) Load() *Config {
	v := s.newViper()
	if err := v.ReadInConfig(); err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("config file unreadable, using defaults", "path", s.path, "error", err)
		}
		return s.unmarshal(v)
	}
	return s.unmarshal(v)
}

func (s *Store) unmarshal(v *viper.Viper) *Config {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		slog.Warn("config unmarshal failed, using defaults", "path", s.path, "error", err)
		return Default()
	}
	normalize(&cfg)
	return &cfg
}

// Save writes the config back to the file, creating parent directories
// as needed.
func (s *Store) Save(cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return apperrors.Wrap(err, apperrors.CodeConfigInvalid, "create config directory")
	}
	v := s.newViper()
	v.Set("tracking.enabled", cfg.Tracking.Enabled)
	v.Set("tracking.mode", cfg.Tracking.Mode)
	v.Set("tracking.application", cfg.Tracking.Application)
	v.Set("capture.segment_seconds", cfg.Capture.SegmentSeconds)
	v.Set("capture.retention_seconds", cfg.Capture.RetentionSeconds)
	v.Set("capture.temp_dir", cfg.Capture.TempDir)
	v.Set("capture.ffmpeg_path", cfg.Capture.FFmpegPath)
	v.Set("capture.display", cfg.Capture.Display)
	v.Set("capture.framerate", cfg.Capture.Framerate)
	v.Set("server.addr", cfg.Server.Addr)
	v.Set("server.poll_interval_ms", cfg.Server.PollIntervalMs)
	v.Set("library.dir", cfg.Library.Dir)
	v.Set("library.database_path", cfg.Library.DatabasePath)
	v.Set("share.base_url", cfg.Share.BaseURL)
	v.Set("share.username", cfg.Share.Username)
	if err := v.WriteConfigAs(s.path); err != nil {
		return apperrors.Wrap(err, apperrors.CodeConfigInvalid, "write config file")
	}
	return nil
}

// normalize clamps nonsense values back to defaults.
func normalize(cfg *Config) {
	def := Default()
	if cfg.Capture.SegmentSeconds <= 0 {
		cfg.Capture.SegmentSeconds = def.Capture.SegmentSeconds
	}
	if cfg.Capture.RetentionSeconds < cfg.Capture.SegmentSeconds {
		cfg.Capture.RetentionSeconds = def.Capture.RetentionSeconds
	}
	if cfg.Capture.Framerate <= 0 {
		cfg.Capture.Framerate = def.Capture.Framerate
	}
	if cfg.Server.PollIntervalMs <= 0 {
		cfg.Server.PollIntervalMs = def.Server.PollIntervalMs
	}
	if cfg.Tracking.Mode != ModeWholeDisplay && cfg.Tracking.Mode != ModeTrackedApplication {
		cfg.Tracking.Mode = ModeWholeDisplay
	}
}
