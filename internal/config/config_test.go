package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, ":8441", cfg.ListenAddress)
	assert.Equal(t, 30*time.Second, cfg.Cleaner.Interval)
	assert.Equal(t, 15, cfg.Cleaner.MaxAgeDays)
	assert.Equal(t, 5, cfg.Push.Workers)
	assert.Equal(t, 100, cfg.Push.QueueSize)
	assert.False(t, cfg.Features.InterCloudEnabled)
	assert.False(t, cfg.Features.QoSEnabled)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().ListenAddress, cfg.ListenAddress)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_address: ":9000"
log_level: debug
features:
  qos_enabled: true
cleaner:
  interval: 1m
  max_age_days: 7
push:
  workers: 2
  queue_size: 10
registry:
  endpoint: http://registry.local:8443/lookup
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.ListenAddress)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.Features.QoSEnabled)
	assert.Equal(t, time.Minute, cfg.Cleaner.Interval)
	assert.Equal(t, 7, cfg.Cleaner.MaxAgeDays)
	assert.Equal(t, 2, cfg.Push.Workers)
	assert.Equal(t, "http://registry.local:8443/lookup", cfg.Registry.Endpoint)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ORCH_LISTEN_ADDRESS", ":7000")
	t.Setenv("ORCH_QOS_ENABLED", "true")
	t.Setenv("ORCH_PUSH_WORKERS", "9")
	t.Setenv("ORCH_CLEANER_INTERVAL", "45s")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.ListenAddress)
	assert.True(t, cfg.Features.QoSEnabled)
	assert.Equal(t, 9, cfg.Push.Workers)
	assert.Equal(t, 45*time.Second, cfg.Cleaner.Interval)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty listen address", func(c *Config) { c.ListenAddress = "" }},
		{"zero cleaner interval", func(c *Config) { c.Cleaner.Interval = 0 }},
		{"zero retention", func(c *Config) { c.Cleaner.MaxAgeDays = 0 }},
		{"zero workers", func(c *Config) { c.Push.Workers = 0 }},
		{"zero queue", func(c *Config) { c.Push.QueueSize = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
