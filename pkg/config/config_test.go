package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
models:
  - alias: fast-1
    provider_model: gpt-4o-mini
    context_limit: 128000
`

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "atrium.db", cfg.Database.DSN)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "10", cfg.Turn.LowBalanceThreshold)
	assert.Equal(t, 10, cfg.RateLimit.TurnsPerMinute)
	assert.Equal(t, 120, cfg.RateLimit.TurnsPerHour)
}

func TestParseExpandsEnvVars(t *testing.T) {
	t.Setenv("ATRIUM_TEST_KEY", "sk-secret")
	t.Setenv("ATRIUM_TEST_PORT", "")

	cfg, err := Parse([]byte(`
server:
  port: ${ATRIUM_TEST_PORT:-9090}
llm:
  api_key: ${ATRIUM_TEST_KEY}
models:
  - alias: fast-1
    provider_model: gpt-4o-mini
    context_limit: 128000
`))
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "sk-secret", cfg.LLM.APIKey)
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"no models", `server: {port: 8080}`, "at least one model"},
		{"bad driver", `
database: {driver: oracle}
models: [{alias: a, context_limit: 1000}]`, "unsupported database driver"},
		{"duplicate alias", `
models:
  - {alias: a, context_limit: 1000}
  - {alias: a, context_limit: 2000}`, "duplicate model alias"},
		{"unknown summary model", `
models: [{alias: a, context_limit: 1000}]
turn: {summary_model: missing}`, "not a configured model"},
		{"bad threshold", `
models: [{alias: a, context_limit: 1000}]
turn: {low_balance_threshold: "abc"}`, "low_balance_threshold"},
		{"bad ratio", `
models: [{alias: a, context_limit: 1000}]
turn: {summary_trigger_ratio: 1.5}`, "out of range"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "atrium.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalYAML), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Models, 1)
	assert.Equal(t, "fast-1", cfg.Models[0].Alias)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestWatchPicksUpValidEdits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "atrium.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalYAML), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloads := make(chan *Config, 4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = Watch(ctx, path, nil, func(c *Config) { reloads <- c })
	}()

	// Give the watcher a moment to register before editing.
	time.Sleep(100 * time.Millisecond)

	// An invalid edit is skipped, a valid one is delivered.
	require.NoError(t, os.WriteFile(path, []byte(`database: {driver: oracle}`), 0o644))
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(minimalYAML+`
turn:
  enforce_credits: true
`), 0o644))

	select {
	case cfg := <-reloads:
		assert.True(t, cfg.Turn.EnforceCredits)
	case <-time.After(3 * time.Second):
		t.Fatal("no reload observed")
	}

	cancel()
	<-done
}
