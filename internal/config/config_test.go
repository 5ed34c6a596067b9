package config

import (
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
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  host: 127.0.0.1
  port: 9090
cache:
  addr: localhost:6379
  default_ttl_secs: 120
services:
  market:
    primary: "https://api.coingecko.com/api/v3"
    fallbacks:
      - "https://pro-api.coinmarketcap.com/v1"
    ttl_secs: 45
    circuit:
      failure_threshold: 5
      open_timeout_secs: 90
    rate_limit:
      rps: 0.5
      burst: 2
      daily_budget: 10000
health:
  interval_secs: 10
  targets:
    - name: coingecko
      url: "https://api.coingecko.com/api/v3/ping"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 2*time.Minute, cfg.Cache.DefaultTTL())

	market := cfg.Service("market")
	assert.Equal(t, 45*time.Second, market.TTL())
	assert.Equal(t, uint32(5), market.Circuit.FailureThreshold)
	assert.Equal(t, 90*time.Second, market.Circuit.OpenTimeout())
	assert.Equal(t, []string{
		"https://api.coingecko.com/api/v3",
		"https://pro-api.coinmarketcap.com/v1",
	}, market.Tiers())

	assert.Equal(t, 10*time.Second, cfg.Health.Interval())
	require.Len(t, cfg.Health.Targets, 1)
	assert.Equal(t, "coingecko", cfg.Health.Targets[0].Name)
}

func TestLoad_DefaultsApplied(t *testing.T) {
	path := writeConfig(t, `
services:
  defi:
    primary: "https://api.llama.fi"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "chainpulse:", cfg.Cache.KeyPrefix)
	assert.Equal(t, time.Minute, cfg.Cache.DefaultTTL())

	defi := cfg.Service("defi")
	assert.Equal(t, uint32(3), defi.Circuit.FailureThreshold)
	assert.Equal(t, uint32(1), defi.Circuit.SuccessThreshold)
	assert.Equal(t, 30*time.Second, defi.Circuit.OpenTimeout())
	assert.Equal(t, float64(1), defi.RateLimit.RPS)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "missing_primary",
			content: `
services:
  market:
    ttl_secs: 60
`,
			wantErr: "primary URL is required",
		},
		{
			name: "bad_port",
			content: `
server:
  port: 99999
`,
			wantErr: "port must be",
		},
		{
			name: "negative_rps",
			content: `
services:
  market:
    primary: "https://example.com"
    rate_limit:
      rps: -1
`,
			wantErr: "rps must not be negative",
		},
		{
			name: "health_target_without_url",
			content: `
health:
  targets:
    - name: coingecko
`,
			wantErr: "needs both name and url",
		},
		{
			name:    "not_yaml",
			content: "{{{",
			wantErr: "parse config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestService_UnknownFallsBackToDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()

	svc := cfg.Service("unknown")
	assert.Equal(t, uint32(3), svc.Circuit.FailureThreshold)
	assert.Equal(t, 30*time.Second, svc.Circuit.OpenTimeout())
	assert.Equal(t, time.Minute, svc.TTL())
}

func TestKeysFromEnv(t *testing.T) {
	t.Setenv("COINGECKO_API_KEY", "cg-key")
	t.Setenv("OPENAI_API_KEY", "oa-key")

	keys := KeysFromEnv()
	assert.Equal(t, "cg-key", keys.CoinGecko)
	assert.Equal(t, "oa-key", keys.OpenAI)
	assert.Empty(t, keys.Alchemy)
}
