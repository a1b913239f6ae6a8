// Package config provides application configuration with multi-source
// priority:
//
//  1. Environment variables (RAAHI_ prefix, runtime override)
//  2. Config file (config.yaml in the working directory or /etc/raahi)
//  3. Defaults
//
// Sensitive values (API keys, database passwords) are read but never logged;
// Validate() reports problems with sentinel errors so callers can branch with
// errors.Is().
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Sentinel validation errors.
var (
	ErrMissingAPIKey      = errors.New("missing Gemini API key")
	ErrInvalidModelName   = errors.New("invalid model name")
	ErrInvalidRedisAddr   = errors.New("invalid Redis address")
	ErrInvalidPostgresURL = errors.New("invalid Postgres URL")
	ErrInvalidListenAddr  = errors.New("invalid listen address")
	ErrInvalidSessionTTL  = errors.New("invalid session TTL")
	ErrInvalidTopK        = errors.New("invalid knowledge top-k")
)

// Defaults.
const (
	DefaultModelName     = "gemini-2.5-flash"
	DefaultEmbedderModel = "gemini-embedding-001"
	DefaultListenAddr    = ":8080"
	DefaultSessionTTL    = 24 * time.Hour
	DefaultSyncInterval  = 3 * time.Second
	DefaultKnowledgeTopK = 3
)

// Config stores the full application configuration.
type Config struct {
	// Model configuration.
	GeminiAPIKey  string  `mapstructure:"gemini_api_key"`
	ModelName     string  `mapstructure:"model_name"`
	EmbedderModel string  `mapstructure:"embedder_model"`
	Temperature   float32 `mapstructure:"temperature"`

	// Server.
	ListenAddr string `mapstructure:"listen_addr"`

	// Logging.
	LogLevel string `mapstructure:"log_level"`
	LogJSON  bool   `mapstructure:"log_json"`

	// Session storage.
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	PostgresURL   string        `mapstructure:"postgres_url"`
	SessionTTL    time.Duration `mapstructure:"session_ttl"`
	SyncInterval  time.Duration `mapstructure:"sync_interval"`

	// Agent behaviour.
	BasePrompt    string `mapstructure:"base_prompt"`
	KnowledgeTopK int    `mapstructure:"knowledge_top_k"`

	// External service endpoints (builtin tools and post-processors).
	DutiesSearchURL string `mapstructure:"duties_search_url"`
	GeocodeURL      string `mapstructure:"geocode_url"`
	FraudCheckURL   string `mapstructure:"fraud_check_url"`
	AnalyticsURL    string `mapstructure:"analytics_url"`
	OTPVerifyURL    string `mapstructure:"otp_verify_url"`

	// Pre-recorded audio keys to URLs, merged into the feature registry as
	// the base audio map. Per-feature audioMappings override these.
	AudioMap map[string]string `mapstructure:"audio_map"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/raahi")

	v.SetEnvPrefix("RAAHI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine: env vars and defaults may be sufficient.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("model_name", DefaultModelName)
	v.SetDefault("embedder_model", DefaultEmbedderModel)
	v.SetDefault("temperature", 0.2)
	v.SetDefault("listen_addr", DefaultListenAddr)
	v.SetDefault("log_level", "info")
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("session_ttl", DefaultSessionTTL)
	v.SetDefault("sync_interval", DefaultSyncInterval)
	v.SetDefault("knowledge_top_k", DefaultKnowledgeTopK)
	v.SetDefault("audio_map", map[string]string{})
}

// Validate checks the configuration for serving.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("configuration is nil")
	}
	if c.GeminiAPIKey == "" {
		return ErrMissingAPIKey
	}
	if c.ModelName == "" || strings.ContainsAny(c.ModelName, " \t\n") {
		return fmt.Errorf("%w: %q", ErrInvalidModelName, c.ModelName)
	}
	if c.RedisAddr == "" || !strings.Contains(c.RedisAddr, ":") {
		return fmt.Errorf("%w: %q", ErrInvalidRedisAddr, c.RedisAddr)
	}
	if c.PostgresURL == "" {
		return ErrInvalidPostgresURL
	}
	if c.ListenAddr == "" || !strings.Contains(c.ListenAddr, ":") {
		return fmt.Errorf("%w: %q", ErrInvalidListenAddr, c.ListenAddr)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidSessionTTL, c.SessionTTL)
	}
	if c.KnowledgeTopK <= 0 || c.KnowledgeTopK > 50 {
		return fmt.Errorf("%w: %d", ErrInvalidTopK, c.KnowledgeTopK)
	}
	return nil
}
