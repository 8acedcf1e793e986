package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "softphone.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: debug
  format: json
call:
  dial_timeout: 45s
calllog:
  sink: memory
  encoding: msgpack
network:
  effective_type: 3g
  downlink_mbps: 1.5
`), 0o600))

	cfg, err := LoadWithEnvFile(path, "")
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 45*time.Second, cfg.Call.DialTimeout)
	assert.Equal(t, "msgpack", cfg.CallLog.Encoding)
	assert.Equal(t, 1.5, cfg.Network.DownlinkMbps)
	// Untouched fields keep defaults.
	assert.Equal(t, 4096, cfg.Audio.FrameSize)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "softphone.yaml")
	require.NoError(t, os.WriteFile(path, []byte("call:\n  dial_timeout: 45s\n"), 0o600))

	t.Setenv("SOFTPHONE_DIAL_TIMEOUT", "10s")
	t.Setenv("SOFTPHONE_CALLLOG_SINK", "memory")

	cfg, err := LoadWithEnvFile(path, "")
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, cfg.Call.DialTimeout)
	assert.Equal(t, "memory", cfg.CallLog.Sink)
}

func TestEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("SOFTPHONE_DEVICE_IDENTITY=agent-7\n"), 0o600))
	t.Setenv("SOFTPHONE_DEVICE_IDENTITY", "")
	os.Unsetenv("SOFTPHONE_DEVICE_IDENTITY")

	cfg, err := LoadWithEnvFile("", envFile)
	require.NoError(t, err)
	assert.Equal(t, "agent-7", cfg.Device.Identity)
}

func TestMissingEnvFileIgnored(t *testing.T) {
	_, err := LoadWithEnvFile("", filepath.Join(t.TempDir(), "absent.env"))
	assert.NoError(t, err)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"log level", func(c *Config) { c.Log.Level = "loud" }},
		{"log format", func(c *Config) { c.Log.Format = "xml" }},
		{"transport", func(c *Config) { c.Device.Transport = "carrier-pigeon" }},
		{"no token", func(c *Config) { c.Device.TokenSecret = "" }},
		{"dial timeout", func(c *Config) { c.Call.DialTimeout = 0 }},
		{"cpu load", func(c *Config) { c.Network.CPULoad = 1.5 }},
		{"amqp without url", func(c *Config) { c.CallLog.Sink = "amqp" }},
		{"sink", func(c *Config) { c.CallLog.Sink = "s3" }},
		{"mic", func(c *Config) { c.Mic.Source = "line-in" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestBadEnvValue(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(func(key string) (string, bool) {
		if key == "SOFTPHONE_DIAL_TIMEOUT" {
			return "soon", true
		}
		return "", false
	})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestEventsEndpointSettings(t *testing.T) {
	assert.Equal(t, "127.0.0.1:8089", Default().Events.Addr)

	dir := t.TempDir()
	path := filepath.Join(dir, "softphone.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
events:
  enabled: true
  allowed_origins: ["https://crm.example.com"]
`), 0o600))
	t.Setenv("SOFTPHONE_EVENTS_TOKEN", "s3cret")

	cfg, err := LoadWithEnvFile(path, "")
	require.NoError(t, err)
	assert.True(t, cfg.Events.Enabled)
	assert.Equal(t, []string{"https://crm.example.com"}, cfg.Events.AllowedOrigins)
	assert.Equal(t, "s3cret", cfg.Events.Token)
}
