package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
twitch:
  clientID: abc
  poll:
    rateLimit: 2
kick:
  poll:
    disabled: true
monitor:
  retryDelaysSecs: [1, 2]
`), 0o600))

	cfg := &Config{}
	require.NoError(t, cfg.LoadConfig(path))

	assert.Equal(t, "abc", cfg.Twitch.ClientID)
	assert.Equal(t, 2, cfg.Twitch.Poll.RateLimit)
	assert.Equal(t, time.Minute, cfg.Twitch.Poll.RateLimitWindow())
	assert.Equal(t, 100, cfg.Twitch.Poll.BatchSize)

	assert.Equal(t, 100, cfg.Google.Poll.RateLimit)
	assert.Equal(t, 100*time.Second, cfg.Google.Poll.RateLimitWindow())
	assert.Equal(t, 2*time.Minute, cfg.Google.Poll.Interval())

	assert.True(t, cfg.Kick.Poll.Disabled)
	assert.Equal(t, 60, cfg.Kick.Poll.RateLimit)

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, cfg.Monitor.RetryDelays())
}

func TestLoadConfig_MissingFile(t *testing.T) {
	cfg := &Config{}
	assert.Error(t, cfg.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")))
}

func TestMonitorConfig_DefaultRetryDelays(t *testing.T) {
	assert.Equal(t, DefaultRetryDelays, MonitorConfig{}.RetryDelays())
}

func TestWebhookConfig_CallbackURLFor(t *testing.T) {
	cfg := WebhookConfig{CallbackURL: "https://example.com"}
	assert.Equal(t, "https://example.com/webhook/twitch", cfg.CallbackURLFor("twitch"))
}
