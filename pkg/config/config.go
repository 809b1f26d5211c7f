// Package config provides layered configuration (defaults, config file,
// environment variables) for the engine via a viper-backed Config
// struct.
package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// Config holds all configuration for the engine.
type Config struct {
	Log            LogConfig            `mapstructure:"log"`
	Database       DatabaseConfig       `mapstructure:"database"`
	LLM            ProviderConfig       `mapstructure:"llm"`
	Embedding      ProviderConfig       `mapstructure:"embedding"`
	Sleep          SleepConfig          `mapstructure:"sleep"`
	Alert          AlertConfig          `mapstructure:"alert"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text, json
}

// DatabaseConfig holds graph backend configuration.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // neo4j (the only backend the CLI builds)
	URI      string `mapstructure:"uri"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

// ProviderConfig holds configuration for an LLM or embedding provider.
type ProviderConfig struct {
	Provider    string  `mapstructure:"provider"` // openai, embedeverything
	Model       string  `mapstructure:"model"`
	SmallModel  string  `mapstructure:"small_model"`
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Temperature float32 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	CachePath   string  `mapstructure:"cache_path"` // badger embedding cache directory
}

// SleepConfig holds default scheduling and phase thresholds for the sleep engine.
type SleepConfig struct {
	Hour              int     `mapstructure:"hour"`
	Minute            int     `mapstructure:"minute"`
	CooldownMinutes   int     `mapstructure:"cooldown_minutes"`
	MinEpisodes       int     `mapstructure:"min_episodes"`
	MaxEntities       int     `mapstructure:"max_entities"`
	SimilarityThresh  float64 `mapstructure:"similarity_threshold"`
	MinGraphSize      int     `mapstructure:"min_graph_size"`
	RebuildThreshold  int     `mapstructure:"rebuild_threshold"`
	MinCommunitySize  int     `mapstructure:"min_community_size"`
	AuditParquetPath  string  `mapstructure:"audit_parquet_path"`
}

// AlertConfig holds SMTP alerting configuration.
type AlertConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	SMTPHost string   `mapstructure:"smtp_host"`
	SMTPPort int      `mapstructure:"smtp_port"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	From     string   `mapstructure:"from"`
	To       []string `mapstructure:"to"`
}

// CircuitBreakerConfig holds gobreaker tuning for the LLM/embedder clients.
type CircuitBreakerConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	MaxRequests      uint32  `mapstructure:"max_requests"`
	IntervalSeconds  int     `mapstructure:"interval_seconds"`
	TimeoutSeconds   int     `mapstructure:"timeout_seconds"`
	ReadyToTripRatio float64 `mapstructure:"ready_to_trip_ratio"`
}

// Load loads configuration from defaults, an optional config file already
// registered on viper, and environment variable overrides.
func Load() (*Config, error) {
	setDefaults()

	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	overrideWithEnv(cfg)
	return cfg, nil
}

func setDefaults() {
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")

	viper.SetDefault("database.driver", "neo4j")
	viper.SetDefault("database.uri", "bolt://localhost:7687")
	viper.SetDefault("database.database", "neo4j")

	viper.SetDefault("llm.provider", "openai")
	viper.SetDefault("llm.model", "gpt-4o-mini")
	viper.SetDefault("llm.small_model", "gpt-4o-mini")
	viper.SetDefault("llm.temperature", 0.1)

	viper.SetDefault("embedding.provider", "openai")
	viper.SetDefault("embedding.model", "text-embedding-3-small")

	viper.SetDefault("sleep.hour", 3)
	viper.SetDefault("sleep.minute", 0)
	viper.SetDefault("sleep.cooldown_minutes", 60)
	viper.SetDefault("sleep.min_episodes", 2)
	viper.SetDefault("sleep.max_entities", 50)
	viper.SetDefault("sleep.similarity_threshold", 0.88)
	viper.SetDefault("sleep.min_graph_size", 15)
	viper.SetDefault("sleep.rebuild_threshold", 10)
	viper.SetDefault("sleep.min_community_size", 3)

	viper.SetDefault("circuit_breaker.enabled", true)
	viper.SetDefault("circuit_breaker.max_requests", 1)
	viper.SetDefault("circuit_breaker.interval_seconds", 60)
	viper.SetDefault("circuit_breaker.timeout_seconds", 30)
	viper.SetDefault("circuit_breaker.ready_to_trip_ratio", 0.6)

	home, err := os.UserHomeDir()
	if err == nil {
		viper.SetDefault("sleep.audit_parquet_path", fmt.Sprintf("%s/.tkgengine/sleep_reports", home))
		viper.SetDefault("embedding.cache_path", fmt.Sprintf("%s/.tkgengine/embed_cache", home))
	}
}

func overrideWithEnv(cfg *Config) {
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		if cfg.LLM.APIKey == "" {
			cfg.LLM.APIKey = apiKey
		}
		if cfg.Embedding.APIKey == "" {
			cfg.Embedding.APIKey = apiKey
		}
	}
	if uri := os.Getenv("NEO4J_URI"); uri != "" {
		cfg.Database.URI = uri
	}
	if user := os.Getenv("NEO4J_USER"); user != "" {
		cfg.Database.Username = user
	}
	if pass := os.Getenv("NEO4J_PASSWORD"); pass != "" {
		cfg.Database.Password = pass
	}
}
