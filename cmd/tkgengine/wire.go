package tkgengine

import (
	"fmt"
	"log/slog"
	"os"

	engine "github.com/soundprediction/tkgengine"
	"github.com/soundprediction/tkgengine/pkg/alert"
	"github.com/soundprediction/tkgengine/pkg/config"
	"github.com/soundprediction/tkgengine/pkg/driver"
	"github.com/soundprediction/tkgengine/pkg/embedder"
	"github.com/soundprediction/tkgengine/pkg/llm"
	tkglogger "github.com/soundprediction/tkgengine/pkg/logger"
	"github.com/soundprediction/tkgengine/pkg/sleep"
)

// buildEngine wires a *tkgengine.Engine from layered configuration:
// constructing the driver, LLM client, and embedder from config.Config and
// composing the optional circuit-breaker/cache decorators around them.
func buildEngine(cfg *config.Config) (*engine.Engine, error) {
	log := tkglogger.NewDefaultLogger(parseLevel(cfg.Log.Level))
	if cfg.Log.Format == "json" {
		log = tkglogger.NewJSON(os.Stderr, parseLevel(cfg.Log.Level))
	}

	graph, err := buildDriver(cfg.Database)
	if err != nil {
		return nil, err
	}

	llmClient, err := buildLLM(cfg)
	if err != nil {
		return nil, err
	}

	embClient, err := buildEmbedder(cfg)
	if err != nil {
		return nil, err
	}

	var audit *sleep.AuditWriter
	if cfg.Sleep.AuditParquetPath != "" {
		audit, err = sleep.NewAuditWriter(cfg.Sleep.AuditParquetPath)
		if err != nil {
			return nil, err
		}
	}

	return engine.New(graph, embClient, llmClient, audit, log), nil
}

func buildDriver(dbCfg config.DatabaseConfig) (driver.GraphDriver, error) {
	switch dbCfg.Driver {
	case "", "neo4j":
		return driver.NewNeo4jDriver(dbCfg.URI, dbCfg.Username, dbCfg.Password, dbCfg.Database)
	default:
		return nil, fmt.Errorf("tkgengine: unsupported database driver %q", dbCfg.Driver)
	}
}

func buildLLM(cfg *config.Config) (llm.Client, error) {
	var client llm.Client
	var err error

	switch cfg.LLM.Provider {
	case "", "openai":
		client, err = llm.NewOpenAIClient(llm.Config{
			Model:       cfg.LLM.Model,
			BaseURL:     cfg.LLM.BaseURL,
			APIKey:      cfg.LLM.APIKey,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
		})
	default:
		return nil, fmt.Errorf("tkgengine: unsupported llm provider %q", cfg.LLM.Provider)
	}
	if err != nil {
		return nil, err
	}

	if cfg.CircuitBreaker.Enabled {
		alerter := buildAlerter(cfg)
		client = llm.NewCircuitBreakerClient(client, cfg.CircuitBreaker, alerter, "llm")
	}
	return client, nil
}

func buildEmbedder(cfg *config.Config) (embedder.Client, error) {
	var client embedder.Client
	var err error

	embCfg := embedder.Config{
		Model:     cfg.Embedding.Model,
		BaseURL:   cfg.Embedding.BaseURL,
		APIKey:    cfg.Embedding.APIKey,
		CachePath: cfg.Embedding.CachePath,
	}

	switch cfg.Embedding.Provider {
	case "", "openai":
		client, err = embedder.NewOpenAIEmbedder(cfg.Embedding.APIKey, embCfg)
	case "embedeverything":
		client, err = embedder.NewEmbedEverythingClient(embCfg)
	default:
		return nil, fmt.Errorf("tkgengine: unsupported embedding provider %q", cfg.Embedding.Provider)
	}
	if err != nil {
		return nil, err
	}

	if embCfg.CachePath != "" {
		client, err = embedder.NewCachedClient(client, embCfg.CachePath)
		if err != nil {
			return nil, err
		}
	}

	if cfg.CircuitBreaker.Enabled {
		alerter := buildAlerter(cfg)
		client = embedder.NewCircuitBreakerClient(client, cfg.CircuitBreaker, alerter, "embedder")
	}
	return client, nil
}

func buildAlerter(cfg *config.Config) alert.Alerter {
	if cfg.Alert.Enabled {
		return alert.NewEmailAlerter(cfg.Alert)
	}
	return &alert.NoOpAlerter{}
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

