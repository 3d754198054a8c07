package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaultsFromEnvironment(t *testing.T) {
	t.Setenv("API_KEY", "gemini-secret")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("PORT", "8081")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	require.NotNil(t, cfg.Providers.Gemini)
	assert.Equal(t, "gemini-secret", cfg.Providers.Gemini.APIKey)
	assert.Equal(t, DefaultGeminiBaseURL, cfg.Providers.Gemini.BaseURL)
	assert.Equal(t, "gemini-2.5-flash", cfg.Routing.FastModel)
	assert.Equal(t, "gemini-2.5-pro", cfg.Routing.CapableModel)
	assert.False(t, cfg.Cache.Enabled())
	assert.False(t, cfg.Telemetry.Enabled())
}

func TestLoadWithoutAPIKeyFails(t *testing.T) {
	t.Setenv("API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key must be provided")
}

func TestGeminiAPIKeyTakesPrecedence(t *testing.T) {
	t.Setenv("API_KEY", "legacy")
	t.Setenv("GEMINI_API_KEY", "preferred")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "preferred", cfg.Providers.Gemini.APIKey)
}

func TestLoadFile(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "from-env")
	t.Setenv("SMART_ROUTER_CAPABLE_MODEL", "big")

	path := writeConfig(t, `
server:
  port: 9000
  write_timeout: 90s
log:
  level: debug
  format: json
providers:
  openai:
    base_url: http://localhost:8000/v1
    models: [small, big]
    aliases:
      quick: small
routing:
  classifier_model: quick
  fast_model: small
  capable_model: small
cache:
  redis_addr: localhost:6379
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 90*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Nil(t, cfg.Providers.Gemini)
	require.NotNil(t, cfg.Providers.OpenAI)
	assert.Equal(t, "from-env", cfg.Providers.OpenAI.APIKey)
	assert.Equal(t, "big", cfg.Routing.CapableModel)
	assert.True(t, cfg.Cache.Enabled())
	assert.Equal(t, 24*time.Hour, cfg.Cache.TTL)
}

func TestLoadFileDefaultsOpenAIBaseURL(t *testing.T) {
	path := writeConfig(t, `
providers:
  openai:
    api_key: key
    models: [gpt-4o-mini]
routing:
  classifier_model: gpt-4o-mini
  fast_model: gpt-4o-mini
  capable_model: gpt-4o-mini
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultOpenAIBaseURL, cfg.Providers.OpenAI.BaseURL)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := Default()
		cfg.Providers.Gemini.APIKey = "key"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults with key",
			mutate: func(*Config) {},
		},
		{
			name:    "invalid port",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "invalid configuration",
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.Log.Level = "loud" },
			wantErr: "invalid configuration",
		},
		{
			name:    "no providers",
			mutate:  func(c *Config) { c.Providers.Gemini = nil },
			wantErr: "at least one provider",
		},
		{
			name:    "routing model not served",
			mutate:  func(c *Config) { c.Routing.CapableModel = "gpt-5" },
			wantErr: `routing.capable_model "gpt-5"`,
		},
		{
			name:    "missing routing model",
			mutate:  func(c *Config) { c.Routing.FastModel = "" },
			wantErr: "invalid configuration",
		},
		{
			name:    "bad header",
			mutate:  func(c *Config) { c.Providers.Gemini.Headers = Headers{"X_Bad": "1"} },
			wantErr: "not a valid canonical HTTP header",
		},
		{
			name:    "empty alias target",
			mutate:  func(c *Config) { c.Providers.Gemini.Aliases = map[string]string{"fast": ""} },
			wantErr: `alias "fast" target must not be empty`,
		},
		{
			name: "alias satisfies routing",
			mutate: func(c *Config) {
				c.Providers.Gemini.Aliases = map[string]string{"fast": "gemini-2.5-flash"}
				c.Routing.FastModel = "fast"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
