package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigFromYAML(t *testing.T) {
	path := writeConfig(t, `
server:
  port: "9090"
ledger:
  backend: redis
reminder:
  check_interval: "*/5 * * * *"
  workers: 8
  call_timeout: 3s
  expired_notice: true
notifications:
  sms:
    enabled: true
    gateway_url: http://sms.local/send
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "redis", cfg.Ledger.Backend)
	assert.Equal(t, "*/5 * * * *", cfg.Reminder.CheckInterval)
	assert.Equal(t, 8, cfg.Reminder.Workers)
	assert.Equal(t, 3*time.Second, cfg.Reminder.CallTimeout)
	assert.True(t, cfg.Reminder.ExpiredNotice)
	assert.True(t, cfg.Notifications.SMS.Enabled)
	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.Equal(t, 30*time.Minute, cfg.Reminder.RunTimeout)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  port: "9090"
reminder:
  workers: 2
`)
	t.Setenv("WARRANTY_SERVER_PORT", "7070")
	t.Setenv("WARRANTY_REMINDER_WORKERS", "16")
	t.Setenv("WARRANTY_REMINDER_CALL_TIMEOUT", "250ms")
	t.Setenv("WARRANTY_LOG_LEVEL", "debug")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "7070", cfg.Server.Port)
	assert.Equal(t, 16, cfg.Reminder.Workers)
	assert.Equal(t, 250*time.Millisecond, cfg.Reminder.CallTimeout)
	assert.Equal(t, slog.LevelDebug, cfg.Log.LogLevel())
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "0 9 * * *", cfg.Reminder.CheckInterval)
	assert.Equal(t, 4, cfg.Reminder.Workers)
	assert.Equal(t, 10*time.Second, cfg.Reminder.CallTimeout)
	assert.Equal(t, 30, cfg.Reminder.ExpiringSoonDays)
	assert.Equal(t, "sqlite", cfg.Ledger.Backend)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{name: "unknown database", mutate: func(c *Config) { c.Database.Type = "oracle" }},
		{name: "unknown ledger", mutate: func(c *Config) { c.Ledger.Backend = "etcd" }},
		{name: "email without host", mutate: func(c *Config) { c.Notifications.Email.Enabled = true }},
		{name: "sms without gateway", mutate: func(c *Config) { c.Notifications.SMS.Enabled = true }},
		{name: "bad log format", mutate: func(c *Config) { c.Log.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg Config
			cfg.ApplyDefaults()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	path := writeConfig(t, "server: [unterminated")

	_, err := LoadConfig(path)
	assert.Error(t, err)
}
