// Package embedder provides the embedding client contract (embed(text)
// → vector<f32>) plus OpenAI-backed and local (EmbedEverything) implementations,
// a badger-backed cache, and a circuit-breaker wrapper.
package embedder

import "context"

// Client is the embedder contract consumed by the resolver, ingestion
// pipeline, retrieval engine and sleep engine.
type Client interface {
	// Embed returns one embedding vector per input text, preserving order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedSingle is a convenience wrapper around Embed for a single text.
	EmbedSingle(ctx context.Context, text string) ([]float32, error)
	// Dimensions returns the fixed dimensionality D of vectors this client produces.
	Dimensions() int
	// Close releases any resources held by the client.
	Close() error
}

// Config holds common embedder configuration.
type Config struct {
	Model      string
	BaseURL    string
	APIKey     string
	CachePath  string
	Dimensions int
	BatchSize  int
}
