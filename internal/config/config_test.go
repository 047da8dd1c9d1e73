package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "guangchuhecheng", cfg.Library.Selected)
	assert.True(t, cfg.Schedule.Autoplay)
	assert.Equal(t, time.Second, cfg.Schedule.FiringWindow.Duration())
	assert.Equal(t, 100, cfg.Audio.Volume)
	assert.Equal(t, 15*time.Second, cfg.Playback.LoadTimeout.Duration())
	assert.True(t, cfg.Playback.FallbackTone)
	assert.False(t, cfg.Playback.OfflineMode)
	assert.Equal(t, 3, cfg.Cache.Attempts)
	assert.Equal(t, 10*time.Second, cfg.Cache.AttemptTimeout.Duration())
	assert.Equal(t, time.Second, cfg.Cache.BackoffUnit.Duration())
	assert.Equal(t, "auto", cfg.Network.Mode)
	assert.Equal(t, "plain", cfg.List.Format)
	assert.NotEmpty(t, cfg.List.Template)
	assert.True(t, cfg.TUI.ShowHelp)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_DefaultsWhenNoFile(t *testing.T) {
	cfg, err := LoadConfig("/nonexistent/path/config.toml")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfig_ParsesTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	content := `
[schedule]
timezone = "UTC"
autoplay = false
firing_window = "2s"

[library]
selected = "default"
base_url = "https://cdn.example.org/voices"

[audio]
volume = 60
muted = true

[playback]
load_timeout = "20s"
offline_mode = true
fallback_tone = false

[cache]
attempts = 5
attempt_timeout = "5000"
backoff_unit = "250ms"
max_size = "200MB"

[network]
mode = "probe"
probe_url = "https://cdn.example.org/"
probe_interval = "1m"

[overrides]
url = "https://cdn.example.org/display_names.json"

[metrics]
addr = "127.0.0.1:9464"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "UTC", loc.String())
	assert.False(t, cfg.Schedule.Autoplay)
	assert.Equal(t, 2*time.Second, cfg.Schedule.FiringWindow.Duration())
	assert.Equal(t, "default", cfg.Library.Selected)
	assert.Equal(t, "https://cdn.example.org/voices", cfg.Library.BaseURL)
	assert.InDelta(t, 0.6, cfg.VolumeFraction(), 1e-9)
	assert.True(t, cfg.Audio.Muted)
	assert.Equal(t, 20*time.Second, cfg.Playback.LoadTimeout.Duration())
	assert.True(t, cfg.Playback.OfflineMode)
	assert.False(t, cfg.Playback.FallbackTone)
	assert.Equal(t, 5, cfg.Cache.Attempts)
	assert.Equal(t, 5*time.Second, cfg.Cache.AttemptTimeout.Duration())
	assert.Equal(t, 250*time.Millisecond, cfg.Cache.BackoffUnit.Duration())
	assert.Equal(t, "probe", cfg.Network.Mode)
	assert.Equal(t, time.Minute, cfg.Network.ProbeInterval.Duration())
	assert.Equal(t, "https://cdn.example.org/display_names.json", cfg.Overrides.URL)
	assert.Equal(t, 10*time.Second, cfg.Overrides.Timeout.Duration())
	assert.Equal(t, "127.0.0.1:9464", cfg.Metrics.Addr)

	n, err := cfg.CacheMaxBytes()
	require.NoError(t, err)
	assert.Equal(t, int64(200_000_000), n)
}

func TestLoadConfig_PartialConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[audio]\nvolume = 30\n"), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.Audio.Volume)
	assert.Equal(t, DefaultLibrary, cfg.Library.Selected)
	assert.Equal(t, DefaultAttempts, cfg.Cache.Attempts)
}

func TestLoadConfig_InvalidTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[audio\nvolume = "), 0644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad timezone", func(c *Config) { c.Schedule.Timezone = "Mars/Olympus" }},
		{"zero window", func(c *Config) { c.Schedule.FiringWindow = 0 }},
		{"huge window", func(c *Config) { c.Schedule.FiringWindow = Duration(time.Hour) }},
		{"volume", func(c *Config) { c.Audio.Volume = 101 }},
		{"load timeout", func(c *Config) { c.Playback.LoadTimeout = 0 }},
		{"attempts", func(c *Config) { c.Cache.Attempts = 0 }},
		{"attempt timeout", func(c *Config) { c.Cache.AttemptTimeout = 0 }},
		{"backoff", func(c *Config) { c.Cache.BackoffUnit = Duration(-time.Second) }},
		{"max size", func(c *Config) { c.Cache.MaxSize = "lots" }},
		{"network mode", func(c *Config) { c.Network.Mode = "wifi" }},
		{"probe without url", func(c *Config) { c.Network.Mode = "probe" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadConfig_RejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[audio]\nvolume = 300\n"), 0644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestDuration_UnmarshalText(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"1500", 1500 * time.Millisecond, false},
		{"10s", 10 * time.Second, false},
		{"1m30s", 90 * time.Second, false},
		{"soon", 0, true},
	}
	for _, tt := range tests {
		var d Duration
		err := d.UnmarshalText([]byte(tt.in))
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, d.Duration())

		out, err := d.MarshalText()
		require.NoError(t, err)
		assert.Equal(t, tt.want.String(), string(out))
	}
}

func TestConfig_Save(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "config.toml")

	cfg := DefaultConfig()
	cfg.Library.Selected = "default"
	cfg.Audio.Volume = 42
	require.NoError(t, cfg.Save(path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "default", loaded.Library.Selected)
	assert.Equal(t, 42, loaded.Audio.Volume)
	assert.Equal(t, cfg.Cache.AttemptTimeout, loaded.Cache.AttemptTimeout)
}

func TestConfigPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	assert.Equal(t, "/custom/config/examcast/config.toml", ConfigPath())
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "audio"), ExpandPath("~/audio"))
	assert.Equal(t, "/srv/audio", ExpandPath("/srv/audio"))
}
