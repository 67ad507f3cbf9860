package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.toml"))

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, 1000, cfg.RAG.ChunkSize)
	assert.Equal(t, 200, cfg.RAG.ChunkOverlap)
	assert.InDelta(t, 0.3, cfg.RAG.VectorThreshold, 1e-9)
	assert.Equal(t, 1500, cfg.RAG.MaxContextLength)
	assert.Equal(t, "score", cfg.RAG.MergeStrategy)
	assert.Equal(t, 600, cfg.LLM.MaxTokens)
	assert.Empty(t, cfg.LLM.APIKey)
	assert.Equal(t, 100, cfg.RateLimit.Requests)
	assert.Equal(t, 900, cfg.RateLimit.WindowSeconds)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[app]
port = 9000

[rag]
chunk_size = 500
chunk_overlap = 50
merge_strategy = "rank"

[log]
format = "text"
`), 0o644))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("APP_PORT", "9100")
	t.Setenv("RAG_VECTOR_THRESHOLD", "0.25")
	t.Setenv("RATE_LIMIT_ENABLED", "false")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.App.Port)
	assert.Equal(t, 500, cfg.RAG.ChunkSize)
	assert.Equal(t, 50, cfg.RAG.ChunkOverlap)
	assert.Equal(t, 10, cfg.RAG.PagesPerBatch)
	assert.Equal(t, "rank", cfg.RAG.MergeStrategy)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.InDelta(t, 0.25, cfg.RAG.VectorThreshold, 1e-9)
	assert.False(t, cfg.RateLimit.Enabled)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, "0.0.0.0:9100", cfg.HTTPAddr())
}

func TestLoad_BadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[rag\nchunk_size = "), 0o644))
	t.Setenv("CONFIG_FILE", path)

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"overlap not below size", func(c *Config) { c.RAG.ChunkOverlap = c.RAG.ChunkSize }, "rag.chunk_overlap"},
		{"zero chunk size", func(c *Config) { c.RAG.ChunkSize = 0 }, "rag.chunk_size"},
		{"threshold out of range", func(c *Config) { c.RAG.VectorThreshold = 1.5 }, "rag.vector_threshold"},
		{"zero threshold", func(c *Config) { c.RAG.VectorThreshold = 0 }, "rag.vector_threshold"},
		{"unknown strategy", func(c *Config) { c.RAG.MergeStrategy = "random" }, "rag.merge_strategy"},
		{"unknown log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"rate limit window", func(c *Config) { c.RateLimit.WindowSeconds = 0 }, "rate_limit"},
		{"empty secret", func(c *Config) { c.Auth.JWTSecret = " " }, "auth.jwt_secret"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
	assert.NoError(t, defaultConfig().Validate())
}

func TestGetEnvHelpers_FallbackOnGarbage(t *testing.T) {
	t.Setenv("X_INT", "abc")
	t.Setenv("X_FLOAT", "nope")
	t.Setenv("X_BOOL", "maybe")

	assert.Equal(t, 3, getEnvAsInt("X_INT", 3))
	assert.InDelta(t, 0.5, getEnvAsFloat("X_FLOAT", 0.5), 1e-9)
	assert.True(t, getEnvAsBool("X_BOOL", true))
}
