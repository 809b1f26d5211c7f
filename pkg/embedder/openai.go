package embedder

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIEmbedder implements Client against the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client *openai.Client
	config *Config
	model  openai.EmbeddingModel
}

// NewOpenAIEmbedder creates an embedder backed by OpenAI (or an
// OpenAI-compatible endpoint when config.BaseURL is set).
func NewOpenAIEmbedder(apiKey string, config Config) (*OpenAIEmbedder, error) {
	if config.Model == "" {
		config.Model = string(openai.SmallEmbedding3)
	}
	if config.Dimensions == 0 {
		config.Dimensions = 1536
	}
	if config.BatchSize == 0 {
		config.BatchSize = 100
	}

	oaiConfig := openai.DefaultConfig(apiKey)
	if config.BaseURL != "" {
		oaiConfig.BaseURL = config.BaseURL
	}

	return &OpenAIEmbedder{
		client: openai.NewClientWithConfig(oaiConfig),
		config: &config,
		model:  openai.EmbeddingModel(config.Model),
	}, nil
}

// Embed generates embeddings for texts in batches of config.BatchSize.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	result := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.config.BatchSize {
		end := start + e.config.BatchSize
		if end > len(texts) {
			end = len(texts)
		}

		resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
			Input: texts[start:end],
			Model: e.model,
		})
		if err != nil {
			return nil, fmt.Errorf("openai embedding request failed: %w", err)
		}
		if len(resp.Data) != end-start {
			return nil, fmt.Errorf("openai embedding response size mismatch: got %d, want %d", len(resp.Data), end-start)
		}

		for _, d := range resp.Data {
			result = append(result, d.Embedding)
		}
	}

	return result, nil
}

// EmbedSingle embeds a single text.
func (e *OpenAIEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return vecs[0], nil
}

// Dimensions returns the configured embedding dimensionality.
func (e *OpenAIEmbedder) Dimensions() int { return e.config.Dimensions }

// Close is a no-op for the HTTP-backed OpenAI client.
func (e *OpenAIEmbedder) Close() error { return nil }
