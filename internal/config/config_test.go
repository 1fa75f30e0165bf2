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

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_DefaultsWhenNoFile(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("OPENROUTER_API_KEY", "sk-env")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().CouncilModels, cfg.CouncilModels)
	assert.Equal(t, "anthropic/claude-3-sonnet", cfg.ChairmanModel)
	assert.Equal(t, 120*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, ":8001", cfg.ListenAddr)
	assert.Equal(t, "sk-env", cfg.APIKey)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FileInWorkingDir(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("MY_KEY", "sk-file")
	writeFile(t, dir, "council.yaml", `
apiKey: ${MY_KEY}
councilModels:
  - a/one
  - b/two
chairmanModel: b/two
requestTimeout: 30s
maxParallel: 4
storage:
  backend: kuzu
  path: /tmp/council.kuzu
logLevel: debug
`)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sk-file", cfg.APIKey)
	assert.Equal(t, []string{"a/one", "b/two"}, cfg.CouncilModels)
	assert.Equal(t, "b/two", cfg.ChairmanModel)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 4, cfg.MaxParallel)
	assert.Equal(t, BackendKuzu, cfg.Storage.Backend)
	assert.Equal(t, "/tmp/council.kuzu", cfg.Storage.Path)
	// Unset keys keep their defaults.
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, "openrouter", cfg.Provider)
	require.NoError(t, cfg.Validate())
}

func TestLoad_ExplicitPath(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "custom.yml", "chairmanModel: x/y\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "x/y", cfg.ChairmanModel)

	_, err = Load(filepath.Join(dir, "missing.yml"))
	assert.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "bad.yml", "councilModels: [unterminated\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tooMany := make([]string, MaxCouncilModels+1)
	for i := range tooMany {
		tooMany[i] = string(rune('a'+i%26)) + "/" + string(rune('0'+i/26))
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults ok", func(c *Config) {}, ""},
		{"no models", func(c *Config) { c.CouncilModels = nil }, "at least one model"},
		{"too many models", func(c *Config) { c.CouncilModels = tooMany }, "at most 26"},
		{"duplicate", func(c *Config) { c.CouncilModels = []string{"a", "a"} }, "duplicate"},
		{"no chairman", func(c *Config) { c.ChairmanModel = " " }, "chairmanModel"},
		{"bad backend", func(c *Config) { c.Storage.Backend = "sqlite" }, "unknown backend"},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, "logLevel"},
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }, "maxRetries"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseLevel(t *testing.T) {
	l, err := ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, l)

	l, err = ParseLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, l)

	_, err = ParseLevel("nope")
	assert.Error(t, err)
}
