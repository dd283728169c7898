package config

import (
	"crypto/rand"
	_ "embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"github.com/harrywu96/AniverseGateway-sub001/internal/subtitle/translate"
)

//go:embed sample_config.toml
var sampleConfig string

type Server struct {
	Port          int      `toml:"port"`
	DataPath      string   `toml:"data_path"`
	DBPath        string   `toml:"db_path"`
	OutputPath    string   `toml:"output_path"`
	CORSOrigins   []string `toml:"cors_origins"`
	JWTSecret     string   `toml:"jwt_secret"`
	AdminUsername string   `toml:"admin_username"`
	AdminPassword string   `toml:"admin_password"`
	// RequestsPerMinute limits API calls per client IP; 0 disables the limit
	RequestsPerMinute int `toml:"requests_per_minute"`
	MaxUploadMB       int `toml:"max_upload_mb"`
}

type Pipeline struct {
	TargetLanguage  string `toml:"target_language"`
	Style           string `toml:"style"`
	MaxEntries      int    `toml:"max_entries"`
	MaxLoad         int    `toml:"max_load"`
	ContextSize     int    `toml:"context_size"`
	Parallelism     int    `toml:"parallelism"`
	MaxAttempts     int    `toml:"max_attempts"`
	BaseDelayMillis int    `toml:"base_delay_ms"`
	MaxDelaySeconds int    `toml:"max_delay_seconds"`
}

type Tasks struct {
	MaxConcurrent        int `toml:"max_concurrent"`
	RetentionMinutes     int `toml:"retention_minutes"`
	HistoryRetentionDays int `toml:"history_retention_days"`
}

// Backend is the adapter used by the CLI and by API requests that name
// no stored profile
type Backend struct {
	Kind          string  `toml:"kind"`
	Shape         string  `toml:"shape"`
	BaseURL       string  `toml:"base_url"`
	Model         string  `toml:"model"`
	CredentialRef string  `toml:"credential_ref"`
	Temperature   float64 `toml:"temperature"`
}

type Backends struct {
	RequestTimeoutSeconds int                                `toml:"request_timeout_seconds"`
	Default               Backend                            `toml:"default"`
	Limits                translate.LimitSettings            `toml:"limits"`
	PerKind               map[string]translate.LimitSettings `toml:"per_kind"`
}

type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Config holds every setting of the gateway.
//
// Sections:
//   - Server: HTTP listener, storage paths and API auth
//   - Pipeline: default batching, context and retry parameters
//   - Tasks: worker pool size and retention
//   - Backends: default adapter, request timeout and per-kind limits
//   - Logging: zap level and encoder
type Config struct {
	Server   Server   `toml:"server"`
	Pipeline Pipeline `toml:"pipeline"`
	Tasks    Tasks    `toml:"tasks"`
	Backends Backends `toml:"backends"`
	Logging  Logging  `toml:"logging"`

	// GeneratedSecret is set when no JWT secret was configured and a
	// random one was created
	GeneratedSecret bool `toml:"-"`
}

// DefaultConfigPath returns the per-user configuration file location
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/aniverse/config.toml")
}

// Load applies defaults, then the TOML file, then a .env file next to the
// working directory, then environment variables. It returns the resolved
// config path and whether that file existed.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, "", false, fmt.Errorf("load .env: %w", err)
	}
	cfg.applyEnv()

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("aniverse.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	return defaultPath, false, nil
}

// applyEnv overrides file settings with environment variables
func (c *Config) applyEnv() {
	c.Server.Port = envInt("PORT", c.Server.Port)
	c.Server.DataPath = getEnv("DATA_PATH", c.Server.DataPath)
	c.Server.DBPath = getEnv("DB_PATH", c.Server.DBPath)
	c.Server.OutputPath = getEnv("OUTPUT_PATH", c.Server.OutputPath)
	c.Server.JWTSecret = getEnv("JWT_SECRET", c.Server.JWTSecret)
	c.Server.AdminUsername = getEnv("ADMIN_USERNAME", c.Server.AdminUsername)
	c.Server.AdminPassword = getEnv("ADMIN_PASSWORD", c.Server.AdminPassword)

	// comma-separated list or "*"
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		origins := strings.Split(v, ",")
		c.Server.CORSOrigins = make([]string, 0, len(origins))
		for _, o := range origins {
			o = strings.TrimSpace(o)
			if o != "" {
				c.Server.CORSOrigins = append(c.Server.CORSOrigins, o)
			}
		}
	}

	c.Pipeline.TargetLanguage = getEnv("TARGET_LANGUAGE", c.Pipeline.TargetLanguage)
	c.Tasks.MaxConcurrent = envInt("MAX_CONCURRENT_TASKS", c.Tasks.MaxConcurrent)

	c.Backends.Default.Kind = getEnv("TRANSLATE_BACKEND", c.Backends.Default.Kind)
	c.Backends.Default.BaseURL = getEnv("TRANSLATE_BASE_URL", c.Backends.Default.BaseURL)
	c.Backends.Default.Model = getEnv("TRANSLATE_MODEL", c.Backends.Default.Model)
	c.Backends.Default.CredentialRef = getEnv("TRANSLATE_CREDENTIAL", c.Backends.Default.CredentialRef)

	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("LOG_FORMAT", c.Logging.Format)
}

func (c *Config) normalize() error {
	var err error
	if c.Server.DataPath, err = expandPath(c.Server.DataPath); err != nil {
		return err
	}
	if c.Server.DBPath == "" {
		c.Server.DBPath = filepath.Join(c.Server.DataPath, "aniverse.db")
	} else if c.Server.DBPath != ":memory:" {
		if c.Server.DBPath, err = expandPath(c.Server.DBPath); err != nil {
			return err
		}
	}
	if c.Server.OutputPath == "" {
		c.Server.OutputPath = filepath.Join(c.Server.DataPath, "output")
	} else if c.Server.OutputPath, err = expandPath(c.Server.OutputPath); err != nil {
		return err
	}

	// JWT secret: use the configured one or generate a random one
	if c.Server.JWTSecret == "" {
		b := make([]byte, 32)
		if _, err := rand.Read(b); err != nil {
			return fmt.Errorf("generate jwt secret: %w", err)
		}
		c.Server.JWTSecret = hex.EncodeToString(b)
		c.GeneratedSecret = true
	}

	c.Backends.Default.Kind = strings.ToLower(strings.TrimSpace(c.Backends.Default.Kind))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	return nil
}

// EnsureDirectories creates the data and output directories
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Server.DataPath, c.Server.OutputPath} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// RequestTimeout is the per-call backend timeout
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Backends.RequestTimeoutSeconds) * time.Second
}

// RetryPolicy builds the default backend retry policy
func (c *Config) RetryPolicy() translate.RetryPolicy {
	return translate.RetryPolicy{
		MaxAttempts: c.Pipeline.MaxAttempts,
		BaseDelay:   time.Duration(c.Pipeline.BaseDelayMillis) * time.Millisecond,
		MaxDelay:    time.Duration(c.Pipeline.MaxDelaySeconds) * time.Second,
	}
}

// Retention is how long finished tasks stay in memory
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Tasks.RetentionMinutes) * time.Minute
}

// HistoryRetention is how long finished tasks stay in the database; zero
// keeps them forever
func (c *Config) HistoryRetention() time.Duration {
	return time.Duration(c.Tasks.HistoryRetentionDays) * 24 * time.Hour
}

// KindLimits converts the per-kind limit table for translate.NewLimiter
func (c *Config) KindLimits() map[translate.Kind]translate.LimitSettings {
	out := make(map[translate.Kind]translate.LimitSettings, len(c.Backends.PerKind))
	for k, v := range c.Backends.PerKind {
		out[translate.Kind(strings.ToLower(k))] = v
	}
	return out
}

// CreateSample writes a sample configuration file to path
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}

// ExpandPath resolves ~ and relative paths the same way config values are
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
