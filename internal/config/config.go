// Package config provides application configuration with multi-source
// priority.
//
// Sources (highest to lowest):
//  1. Environment variables (CHANTIO_*, DATABASE_URL)
//  2. Config file (~/.chantio/config.yaml, or ./config.yaml)
//  3. Defaults
//
// Sensitive fields (Postgres password, admin token) are masked in
// MarshalJSON and String. Validation is fail-fast: Load returns an error
// before any component sees an invalid value.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrInvalidOllamaHost indicates the model server URL is invalid.
	ErrInvalidOllamaHost = errors.New("invalid ollama host")

	// ErrInvalidModel indicates an embedding or chat model name is empty.
	ErrInvalidModel = errors.New("invalid model name")

	// ErrInvalidCacheCapacity indicates the embedding cache capacity is out of range.
	ErrInvalidCacheCapacity = errors.New("invalid cache capacity")

	// ErrInvalidCacheTTL indicates the embedding cache TTL is out of range.
	ErrInvalidCacheTTL = errors.New("invalid cache ttl")

	// ErrInvalidTopK indicates the retrieval top-K is out of range.
	ErrInvalidTopK = errors.New("invalid top k")

	// ErrInvalidSchedule indicates a scheduler setting is invalid.
	ErrInvalidSchedule = errors.New("invalid schedule")

	// ErrInvalidStorageDriver indicates an unknown storage driver.
	ErrInvalidStorageDriver = errors.New("invalid storage driver")

	// ErrInvalidPostgresConfig indicates incomplete Postgres settings.
	ErrInvalidPostgresConfig = errors.New("invalid postgres configuration")

	// ErrInvalidHistoryLimit indicates the conversation history cap is out of range.
	ErrInvalidHistoryLimit = errors.New("invalid history limit")
)

// Storage driver identifiers used in Config.StorageDriver.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON. When
// adding new secrets, update MarshalJSON.
type Config struct {
	// Local model server (Ollama-compatible).
	OllamaHost  string  `mapstructure:"ollama_host" json:"ollama_host"`
	EmbedModel  string  `mapstructure:"embed_model" json:"embed_model"`
	ChatModel   string  `mapstructure:"chat_model" json:"chat_model"`
	Temperature float32 `mapstructure:"temperature" json:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens" json:"max_tokens"`

	// Query timeout applied by the serve handler and the ask command.
	AnswerTimeout time.Duration `mapstructure:"answer_timeout" json:"answer_timeout"`

	// Embedding cache.
	CacheCapacity int           `mapstructure:"cache_capacity" json:"cache_capacity"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl" json:"cache_ttl"`
	CacheSweep    time.Duration `mapstructure:"cache_sweep" json:"cache_sweep"`

	// Retrieval.
	TopK            int `mapstructure:"top_k" json:"top_k"`
	EmbedInputLimit int `mapstructure:"embed_input_limit" json:"embed_input_limit"`

	// Indexing schedules.
	FullReindexAt    string        `mapstructure:"full_reindex_at" json:"full_reindex_at"` // "HH:MM" local time
	IncrementalEvery time.Duration `mapstructure:"incremental_every" json:"incremental_every"`
	HourlyPass       bool          `mapstructure:"hourly_pass" json:"hourly_pass"`

	// Conversation history.
	HistoryLimit      int `mapstructure:"history_limit" json:"history_limit"`
	HistoryContentMax int `mapstructure:"history_content_max" json:"history_content_max"`

	// Storage.
	StorageDriver    string `mapstructure:"storage_driver" json:"storage_driver"`
	DataDir          string `mapstructure:"data_dir" json:"data_dir"`
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Admin HTTP surface (serve mode).
	Addr       string `mapstructure:"addr" json:"addr"`
	AdminToken string `mapstructure:"admin_token" json:"admin_token"` // SENSITIVE
	RateBurst  int    `mapstructure:"rate_burst" json:"rate_burst"`

	// Tracing.
	TracingEnabled  bool   `mapstructure:"tracing_enabled" json:"tracing_enabled"`
	TracingEndpoint string `mapstructure:"tracing_endpoint" json:"tracing_endpoint"`
	ServiceName     string `mapstructure:"service_name" json:"service_name"`
}

// Load loads configuration with priority env > file > defaults.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}
	configDir := filepath.Join(home, ".chantio")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v, configDir)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.parseDatabaseURL(os.Getenv("DATABASE_URL")); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("ollama_host", "http://localhost:11434")
	v.SetDefault("embed_model", "nomic-embed-text")
	v.SetDefault("chat_model", "llama3.1")
	v.SetDefault("temperature", 0.3)
	v.SetDefault("max_tokens", 1024)
	v.SetDefault("answer_timeout", 2*time.Minute)

	v.SetDefault("cache_capacity", 100)
	v.SetDefault("cache_ttl", time.Hour)
	v.SetDefault("cache_sweep", 10*time.Minute)

	v.SetDefault("top_k", 5)
	v.SetDefault("embed_input_limit", 8*1024)

	v.SetDefault("full_reindex_at", "03:00")
	v.SetDefault("incremental_every", 15*time.Minute)
	v.SetDefault("hourly_pass", false)

	v.SetDefault("history_limit", 20)
	v.SetDefault("history_content_max", 1000)

	v.SetDefault("storage_driver", DriverSQLite)
	v.SetDefault("data_dir", filepath.Join(configDir, "data"))
	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "chantio")
	v.SetDefault("postgres_db_name", "chantio")
	v.SetDefault("postgres_ssl_mode", "disable")

	v.SetDefault("addr", "127.0.0.1:8090")
	v.SetDefault("rate_burst", 60)

	v.SetDefault("tracing_enabled", false)
	v.SetDefault("tracing_endpoint", "localhost:4318")
	v.SetDefault("service_name", "chantio")
}

// bindEnvVariables binds environment overrides explicitly. Hardcoded keys
// cannot fail to bind; a bind error here is a bug, hence the panic.
func bindEnvVariables(v *viper.Viper) {
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("ollama_host", "CHANTIO_OLLAMA_HOST")
	mustBind("embed_model", "CHANTIO_EMBED_MODEL")
	mustBind("chat_model", "CHANTIO_CHAT_MODEL")
	mustBind("storage_driver", "CHANTIO_STORAGE_DRIVER")
	mustBind("data_dir", "CHANTIO_DATA_DIR")
	mustBind("addr", "CHANTIO_ADDR")
	mustBind("admin_token", "CHANTIO_ADMIN_TOKEN")
	mustBind("postgres_password", "CHANTIO_POSTGRES_PASSWORD")
	mustBind("tracing_enabled", "CHANTIO_TRACING_ENABLED")
	mustBind("tracing_endpoint", "CHANTIO_TRACING_ENDPOINT")
}

// parseDatabaseURL overrides Postgres settings from a postgres:// URL.
// An empty input is a no-op; a non-postgres scheme is an error.
func (c *Config) parseDatabaseURL(raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("malformed URL: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	c.StorageDriver = DriverPostgres
	c.PostgresHost = u.Hostname()
	if port := u.Port(); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid port %q", port)
		}
		c.PostgresPort = p
	}
	if u.User != nil {
		c.PostgresUser = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			c.PostgresPassword = pw
		}
	}
	if db := filepath.Base(u.Path); db != "." && db != "/" {
		c.PostgresDBName = db
	}
	if mode := u.Query().Get("sslmode"); mode != "" {
		c.PostgresSSLMode = mode
	}
	return nil
}

// PostgresDSN assembles the pgx connection string.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.PostgresUser), url.QueryEscape(c.PostgresPassword),
		c.PostgresHost, c.PostgresPort, c.PostgresDBName, c.PostgresSSLMode)
}

// maskedValue is the placeholder for masked sensitive data.
const maskedValue = "████████"

// maskSecret masks a secret for safe logging. Short secrets are fully
// masked; longer ones keep the first and last two characters for debugging.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with sensitive field masking.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	a.AdminToken = maskSecret(a.AdminToken)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
