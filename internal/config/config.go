// Package config handles configuration file loading and parsing.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pelletier/go-toml/v2"
)

// Default configuration values.
const (
	DefaultLibrary          = "guangchuhecheng"
	DefaultFiringWindow     = time.Second
	DefaultVolume           = 100
	DefaultLoadTimeout      = 15 * time.Second
	DefaultAttempts         = 3
	DefaultAttemptTimeout   = 10 * time.Second
	DefaultBackoffUnit      = time.Second
	DefaultNetworkMode      = "auto"
	DefaultProbeInterval    = 30 * time.Second
	DefaultOverridesTimeout = 10 * time.Second
	DefaultAlertInterval    = 5 * time.Second
	DefaultListFormat       = "plain"
	DefaultSortField        = "time"
	DefaultSortOrder        = "asc"
	DefaultDmenuTmpl        = "{{.Index}} | {{clock .Event.ScheduledTime}} {{.Event.Subject}}: {{.Event.Label}} ({{.RelativeTime}})"
)

// Duration is a time.Duration that can be unmarshaled from human-readable strings.
// Supports formats like "500ms", "10s", "1m", or integer milliseconds.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for TOML parsing.
func (d *Duration) UnmarshalText(text []byte) error {
	s := string(text)

	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}

	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: must be like '500ms', '10s', '1m' or milliseconds: %w", s, err)
	}
	*d = Duration(dur)
	return nil
}

// MarshalText implements encoding.TextMarshaler for TOML output.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Config represents the examcast configuration.
type Config struct {
	Schedule  ScheduleConfig  `toml:"schedule"`
	Library   LibraryConfig   `toml:"library"`
	Audio     AudioConfig     `toml:"audio"`
	Playback  PlaybackConfig  `toml:"playback"`
	Cache     CacheConfig     `toml:"cache"`
	Network   NetworkConfig   `toml:"network"`
	Overrides OverridesConfig `toml:"overrides"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Alerts    AlertsConfig    `toml:"alerts"`
	List      ListConfig      `toml:"list"`
	TUI       TUIConfig       `toml:"tui"`
}

// ScheduleConfig controls event generation and firing.
type ScheduleConfig struct {
	Timezone     string   `toml:"timezone"`      // IANA name, empty = local
	Autoplay     bool     `toml:"autoplay"`      // fire cues automatically
	FiringWindow Duration `toml:"firing_window"` // how late a cue may still fire
}

// LibraryConfig selects where announcement audio comes from.
type LibraryConfig struct {
	Selected   string `toml:"selected"`    // library id
	BaseURL    string `toml:"base_url"`    // prefix for relative catalog paths
	LocalDir   string `toml:"local_dir"`   // used when base_url is empty
	WatchLocal bool   `toml:"watch_local"` // reload local files when they change
}

// AudioConfig holds output settings.
type AudioConfig struct {
	Volume int  `toml:"volume"` // 0-100
	Muted  bool `toml:"muted"`
}

// PlaybackConfig holds playback engine settings.
type PlaybackConfig struct {
	LoadTimeout  Duration `toml:"load_timeout"`
	OfflineMode  bool     `toml:"offline_mode"`  // always prefer cached audio
	FallbackTone bool     `toml:"fallback_tone"` // beep when an autoplayed cue fails
}

// CacheConfig holds audio cache settings.
type CacheConfig struct {
	Path           string   `toml:"path"` // empty = data dir
	Attempts       int      `toml:"attempts"`
	AttemptTimeout Duration `toml:"attempt_timeout"`
	BackoffUnit    Duration `toml:"backoff_unit"`
	MaxSize        string   `toml:"max_size"` // e.g. "200MB", empty = unbounded
}

// NetworkConfig controls reachability detection.
type NetworkConfig struct {
	Mode          string   `toml:"mode"` // auto, probe, online, offline
	ProbeURL      string   `toml:"probe_url"`
	ProbeInterval Duration `toml:"probe_interval"`
}

// OverridesConfig points at the display-name override feed.
type OverridesConfig struct {
	URL     string   `toml:"url"` // empty = disabled
	Timeout Duration `toml:"timeout"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `toml:"addr"` // e.g. "127.0.0.1:9464", empty = disabled
}

// AlertsConfig controls desktop notifications about failures.
type AlertsConfig struct {
	Desktop     bool     `toml:"desktop"`
	MinInterval Duration `toml:"min_interval"` // suppress repeats of the same alert
}

// ListConfig holds defaults for `examcast list`.
type ListConfig struct {
	Format    string `toml:"format"`
	SortField string `toml:"sort_field"` // time, subject, cue
	SortOrder string `toml:"sort_order"` // asc, desc
	Template  string `toml:"template"`   // dmenu format template
}

// TUIConfig holds dashboard settings.
type TUIConfig struct {
	ShowHelp bool `toml:"show_help"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Schedule: ScheduleConfig{
			Autoplay:     true,
			FiringWindow: Duration(DefaultFiringWindow),
		},
		Library: LibraryConfig{
			Selected: DefaultLibrary,
		},
		Audio: AudioConfig{
			Volume: DefaultVolume,
		},
		Playback: PlaybackConfig{
			LoadTimeout:  Duration(DefaultLoadTimeout),
			FallbackTone: true,
		},
		Cache: CacheConfig{
			Attempts:       DefaultAttempts,
			AttemptTimeout: Duration(DefaultAttemptTimeout),
			BackoffUnit:    Duration(DefaultBackoffUnit),
		},
		Network: NetworkConfig{
			Mode:          DefaultNetworkMode,
			ProbeInterval: Duration(DefaultProbeInterval),
		},
		Overrides: OverridesConfig{
			Timeout: Duration(DefaultOverridesTimeout),
		},
		Alerts: AlertsConfig{
			Desktop:     true,
			MinInterval: Duration(DefaultAlertInterval),
		},
		List: ListConfig{
			Format:    DefaultListFormat,
			SortField: DefaultSortField,
			SortOrder: DefaultSortOrder,
			Template:  DefaultDmenuTmpl,
		},
		TUI: TUIConfig{
			ShowHelp: true,
		},
	}
}

// ConfigPath returns the path to the config file.
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config.
func ConfigPath() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, "examcast", "config.toml")
}

// LoadConfig loads configuration from the specified path.
// If path is empty, uses the default config path.
// Returns default config if file doesn't exist.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

// Save writes the configuration to the specified path.
// Creates parent directories if needed.
func (c *Config) Save(path string) error {
	if path == "" {
		path = ConfigPath()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Write atomically via temp file
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return os.Rename(tmpPath, path)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if _, err := c.Location(); err != nil {
		return err
	}

	if w := c.Schedule.FiringWindow.Duration(); w <= 0 || w > time.Minute {
		return fmt.Errorf("firing_window must be between 1ms and 1m, got %s", w)
	}

	if c.Audio.Volume < 0 || c.Audio.Volume > 100 {
		return fmt.Errorf("volume must be between 0 and 100, got %d", c.Audio.Volume)
	}

	if c.Playback.LoadTimeout.Duration() <= 0 {
		return fmt.Errorf("load_timeout must be positive, got %s", c.Playback.LoadTimeout.Duration())
	}

	if c.Cache.Attempts < 1 || c.Cache.Attempts > 10 {
		return fmt.Errorf("cache attempts must be between 1 and 10, got %d", c.Cache.Attempts)
	}
	if c.Cache.AttemptTimeout.Duration() <= 0 {
		return fmt.Errorf("attempt_timeout must be positive, got %s", c.Cache.AttemptTimeout.Duration())
	}
	if c.Cache.BackoffUnit.Duration() < 0 {
		return fmt.Errorf("backoff_unit cannot be negative, got %s", c.Cache.BackoffUnit.Duration())
	}
	if _, err := c.CacheMaxBytes(); err != nil {
		return err
	}

	switch strings.ToLower(c.Network.Mode) {
	case "", "auto", "probe", "online", "offline":
	default:
		return fmt.Errorf("invalid network mode %q, must be one of: auto, probe, online, offline", c.Network.Mode)
	}
	if strings.EqualFold(c.Network.Mode, "probe") && c.Network.ProbeURL == "" {
		return errors.New("network mode probe requires probe_url")
	}

	return nil
}

// Location returns the configured time zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Schedule.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Schedule.Timezone, err)
	}
	return loc, nil
}

// CacheMaxBytes parses cache.max_size. Zero means unbounded.
func (c *Config) CacheMaxBytes() (int64, error) {
	if strings.TrimSpace(c.Cache.MaxSize) == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(c.Cache.MaxSize)
	if err != nil {
		return 0, fmt.Errorf("invalid cache max_size %q: %w", c.Cache.MaxSize, err)
	}
	return int64(n), nil
}

// VolumeFraction returns the volume as 0..1.
func (c *Config) VolumeFraction() float64 {
	return float64(c.Audio.Volume) / 100.0
}

// ExpandPath expands a leading ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
