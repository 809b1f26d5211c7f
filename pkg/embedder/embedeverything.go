package embedder

import (
	"context"
	"fmt"

	"github.com/soundprediction/go-embedeverything/pkg/embedder"
)

// EmbedEverythingClient implements Client using an in-process local model
// via go-embedeverything, avoiding a network round trip for embedding.
type EmbedEverythingClient struct {
	client *embedder.Embedder
	config *Config
}

// NewEmbedEverythingClient creates a local embedder backend.
func NewEmbedEverythingClient(config Config) (*EmbedEverythingClient, error) {
	client, err := embedder.NewEmbedder(config.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to create local embedder: %w", err)
	}
	return &EmbedEverythingClient{client: client, config: &config}, nil
}

// Embed generates embeddings for the given texts.
func (e *EmbedEverythingClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings, err := e.client.Embed(texts)
	if err != nil {
		return nil, fmt.Errorf("local embedding failed: %w", err)
	}
	return embeddings, nil
}

// EmbedSingle embeds a single text.
func (e *EmbedEverythingClient) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}
	return embeddings[0], nil
}

// Dimensions returns the configured embedding dimensionality.
func (e *EmbedEverythingClient) Dimensions() int { return e.config.Dimensions }

// Close releases the underlying local model.
func (e *EmbedEverythingClient) Close() error {
	e.client.Close()
	return nil
}
