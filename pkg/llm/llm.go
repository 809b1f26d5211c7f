// Package llm provides the structured-output LLM client contract used by
// entity resolution, ingestion extraction, and the sleep engine's
// consolidation/community-summary calls. Every call site wants one thing:
// a prompt in, a schema-shaped value out.
package llm

import "context"

// Client is the LLM client contract. GenerateStructured sends prompt
// to the model and unmarshals its response into out, which must be a
// pointer to a value shaped like schema. Implementations are responsible
// for retries, backoff, and repairing near-valid JSON before unmarshalling.
type Client interface {
	GenerateStructured(ctx context.Context, prompt string, schema interface{}, out interface{}) error
	Close() error
}

// Config holds provider-agnostic model parameters, mirroring
// config.ProviderConfig but scoped to what a Client implementation needs
// directly rather than threading the whole app config through.
type Config struct {
	Model       string
	BaseURL     string
	APIKey      string
	Temperature float32
	MaxTokens   int
	MaxRetries  int
}
