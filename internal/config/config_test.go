package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "0.0.0.0:1883", cfg.Server.TCPAddr)
	assert.Equal(t, 1883, cfg.Port())
	assert.Equal(t, 3, cfg.Broker.MaxRetries)
	assert.Equal(t, "json", cfg.Location.Encoding)
	assert.Equal(t, 17, cfg.PitWindow.OpensAfter)
	assert.Equal(t, 6, cfg.PitWindow.Duration)
	assert.Equal(t, 5.0, cfg.PitWindow.StandstillSpeed)
	assert.Equal(t, 10*time.Second, cfg.PitWindow.StandstillHold)
	assert.Equal(t, "info", cfg.Log.Level)
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"default config is valid", func(c *Config) {}, false},
		{"well-known port", func(c *Config) { c.Server.TCPAddr = ":80" }, true},
		{"port out of range", func(c *Config) { c.Server.TCPAddr = ":70000" }, true},
		{"missing port", func(c *Config) { c.Server.TCPAddr = "localhost" }, true},
		{"websocket enabled", func(c *Config) { c.Server.WSAddr = ":8083" }, false},
		{"websocket bad path", func(c *Config) { c.Server.WSAddr = ":8083"; c.Server.WSPath = "mqtt" }, true},
		{"zero sessions", func(c *Config) { c.Broker.MaxSessions = 0 }, true},
		{"negative retries", func(c *Config) { c.Broker.MaxRetries = -1 }, true},
		{"zero retained capacity", func(c *Config) { c.Broker.RetainedCapacity = 0 }, true},
		{"location qos 2", func(c *Config) { c.Location.QoS = 2 }, true},
		{"unknown encoding", func(c *Config) { c.Location.Encoding = "xml" }, true},
		{"generated device id", func(c *Config) { c.Location.DeviceID = "" }, false},
		{"device id", func(c *Config) { c.Location.DeviceID = "car-7" }, false},
		{"blank device id", func(c *Config) { c.Location.DeviceID = "  " }, true},
		{"device id with plus", func(c *Config) { c.Location.DeviceID = "car+7" }, true},
		{"device id with hash", func(c *Config) { c.Location.DeviceID = "car#" }, true},
		{"device id with slash", func(c *Config) { c.Location.DeviceID = "pit/lane" }, true},
		{"device id with NUL", func(c *Config) { c.Location.DeviceID = "car\x007" }, true},
		{"binary encoding", func(c *Config) { c.Location.Encoding = "binary" }, false},
		{"bad race start", func(c *Config) { c.PitWindow.Enabled = true; c.PitWindow.RaceStart = "25:00" }, true},
		{"pit window enabled", func(c *Config) { c.PitWindow.Enabled = true }, false},
		{"standstill disabled", func(c *Config) { c.PitWindow.Enabled = true; c.PitWindow.StandstillSpeed = 0 }, false},
		{"negative standstill speed", func(c *Config) { c.PitWindow.Enabled = true; c.PitWindow.StandstillSpeed = -1 }, true},
		{"zero standstill hold", func(c *Config) { c.PitWindow.Enabled = true; c.PitWindow.StandstillHold = 0 }, true},
		{"archive enabled", func(c *Config) { c.Archive.Enabled = true }, false},
		{"archive bad retention", func(c *Config) { c.Archive.Enabled = true; c.Archive.Retention = "forever" }, true},
		{"archive buffer too small", func(c *Config) { c.Archive.Enabled = true; c.Archive.Buffer = 1 }, true},
		{"bad log level", func(c *Config) { c.Log.Level = "trace" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
server:
  tcp_addr: "127.0.0.1:2883"
broker:
  max_retries: 5
  retry_interval: 2s
location:
  qos: 1
  encoding: binary
pit_window:
  enabled: true
  race_start: "10:30"
  standstill_hold: 20s
debug_mode: true
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2883, cfg.Port())
	assert.Equal(t, 5, cfg.Broker.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Broker.RetryInterval)
	assert.Equal(t, byte(1), cfg.Location.QoS)
	assert.Equal(t, "binary", cfg.Location.Encoding)
	assert.Equal(t, "10:30", cfg.PitWindow.RaceStart)
	assert.Equal(t, 20*time.Second, cfg.PitWindow.StandstillHold)
	assert.True(t, cfg.DebugMode)
	// untouched fields keep their defaults
	assert.Equal(t, 1024, cfg.Broker.RetainedCapacity)
}

func TestLoadInvalid(t *testing.T) {
	dir := t.TempDir()

	broken := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(broken, []byte("server: ["), 0o644))
	_, err := Load(broken)
	assert.Error(t, err)

	invalid := filepath.Join(dir, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("server:\n  tcp_addr: \":22\"\n"), 0o644))
	_, err = Load(invalid)
	assert.ErrorContains(t, err, "invalid configuration")
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := Default()
	cfg.Location.DeviceID = "car-7"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
