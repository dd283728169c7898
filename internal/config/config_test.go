package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrywu96/AniverseGateway-sub001/internal/subtitle/translate"
)

// isolate points HOME and the working directory at a temp dir so no real
// configuration leaks into the test
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Chdir(dir)
	for _, key := range []string{"PORT", "DATA_PATH", "DB_PATH", "OUTPUT_PATH", "JWT_SECRET", "CORS_ORIGINS",
		"TARGET_LANGUAGE", "MAX_CONCURRENT_TASKS", "TRANSLATE_BACKEND", "TRANSLATE_MODEL", "LOG_LEVEL", "LOG_FORMAT"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	return dir
}

func TestLoadDefaults(t *testing.T) {
	dir := isolate(t)

	cfg, path, exists, err := Load("")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Equal(t, filepath.Join(dir, ".config", "aniverse", "config.toml"), path)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, filepath.Join(dir, "data", "aniverse.db"), cfg.Server.DBPath)
	assert.Equal(t, filepath.Join(dir, "data", "output"), cfg.Server.OutputPath)
	assert.True(t, cfg.GeneratedSecret)
	assert.Len(t, cfg.Server.JWTSecret, 64)
	assert.Equal(t, "ollama", cfg.Backends.Default.Kind)
	assert.Equal(t, 2*time.Minute, cfg.RequestTimeout())
	assert.Equal(t, 3, cfg.RetryPolicy().MaxAttempts)
	assert.Equal(t, time.Hour, cfg.Retention())
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := isolate(t)

	custom := Default()
	custom.Server.Port = 9000
	custom.Server.JWTSecret = "from-file"
	custom.Pipeline.MaxEntries = 15
	custom.Backends.Default.Kind = "openai"
	custom.Backends.Default.Model = "gpt-4o-mini"
	data, err := toml.Marshal(custom)
	require.NoError(t, err)
	path := filepath.Join(dir, "custom.toml")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("TRANSLATE_MODEL=from-dotenv\nLOG_LEVEL=debug\n"), 0o644))
	t.Setenv("PORT", "9100")
	t.Setenv("CORS_ORIGINS", "http://a.example, http://b.example")

	cfg, resolved, exists, err := Load(path)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, path, resolved)

	assert.Equal(t, 9100, cfg.Server.Port, "environment beats file")
	assert.Equal(t, "from-file", cfg.Server.JWTSecret)
	assert.False(t, cfg.GeneratedSecret)
	assert.Equal(t, 15, cfg.Pipeline.MaxEntries)
	assert.Equal(t, "openai", cfg.Backends.Default.Kind)
	assert.Equal(t, "from-dotenv", cfg.Backends.Default.Model)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.Server.CORSOrigins)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"port":        func(c *Config) { c.Server.Port = 0 },
		"max entries": func(c *Config) { c.Pipeline.MaxEntries = 0 },
		"parallelism": func(c *Config) { c.Pipeline.Parallelism = 0 },
		"attempts":    func(c *Config) { c.Pipeline.MaxAttempts = 0 },
		"workers":     func(c *Config) { c.Tasks.MaxConcurrent = 0 },
		"timeout":     func(c *Config) { c.Backends.RequestTimeoutSeconds = 0 },
		"kind":        func(c *Config) { c.Backends.Default.Kind = "babelfish" },
		"per kind":    func(c *Config) { c.Backends.PerKind = map[string]translate.LimitSettings{"nope": {}} },
		"log level":   func(c *Config) { c.Logging.Level = "verbose" },
		"log format":  func(c *Config) { c.Logging.Format = "xml" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := Default()
	assert.NoError(t, cfg.Validate())
}

func TestCreateSampleLoads(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "nested", "config.toml")
	require.NoError(t, CreateSample(path))

	cfg, _, exists, err := Load(path)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, "ollama", cfg.Backends.Default.Kind)
	limits := cfg.KindLimits()
	assert.Equal(t, 2, limits["gemini"].MaxConcurrent)
	assert.Equal(t, 4, cfg.Backends.Limits.MaxConcurrent)
}
