package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ola-oye/VitaBand/errors"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "nats://localhost:4222", cfg.Bus.URL)
	assert.Equal(t, 250*time.Millisecond, cfg.Controller.FastTick.Std())
	assert.Equal(t, 30*time.Second, cfg.Window.Size.Std())
	assert.Equal(t, 0.5, cfg.Window.Overlap)
	assert.Equal(t, 8, cfg.Window.MinSamples["pulse_ox"])
	assert.Equal(t, 10000, cfg.Outbox.Capacity)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{
		"bus": {"url": "nats://broker:4222"},
		"window": {"size": "10s", "overlap": 0.25},
		"synchro": {"tolerance": "100ms"},
		"logging": {"level": "debug", "format": "text"}
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "nats://broker:4222", cfg.Bus.URL)
	assert.Equal(t, 10*time.Second, cfg.Window.Size.Std())
	assert.Equal(t, 0.25, cfg.Window.Overlap)
	assert.Equal(t, 100*time.Millisecond, cfg.Synchro.Tolerance.Std())
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Untouched sections keep their defaults
	assert.Equal(t, 2*time.Second, cfg.Inference.Timeout.Std())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.json")
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("VITABAND_BUS_URL", "nats://env-broker:4222")
	t.Setenv("VITABAND_DEVICE_ID", "band-42")
	t.Setenv("VITABAND_LOG_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "nats://env-broker:4222", cfg.Bus.URL)
	assert.Equal(t, "band-42", cfg.Device.ID)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty bus url", func(c *Config) { c.Bus.URL = "" }},
		{"zero tolerance", func(c *Config) { c.Synchro.Tolerance = 0 }},
		{"deadline below tolerance", func(c *Config) { c.Synchro.FrameDeadline = Duration(time.Millisecond) }},
		{"overlap out of range", func(c *Config) { c.Window.Overlap = 1.0 }},
		{"zero outbox capacity", func(c *Config) { c.Outbox.Capacity = 0 }},
		{"bad multiplier", func(c *Config) { c.Publisher.Multiplier = 0.5 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestDuration_UnmarshalForms(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalJSON([]byte(`"1.5s"`)))
	assert.Equal(t, 1500*time.Millisecond, d.Std())

	require.NoError(t, d.UnmarshalJSON([]byte(`1000000`)))
	assert.Equal(t, time.Millisecond, d.Std())

	assert.Error(t, d.UnmarshalJSON([]byte(`"not-a-duration"`)))
	assert.Error(t, d.UnmarshalJSON([]byte(`true`)))
}
