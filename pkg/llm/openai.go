package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"
	"github.com/sashabaranov/go-openai"
)

// OpenAIClient is a structured-output Client backed by go-openai's chat
// completions API: exponential backoff over a fixed retry budget,
// classifying errors as retriable by substring match on rate-limit and
// transient-server signals.
type OpenAIClient struct {
	client *openai.Client
	cfg    Config
}

// NewOpenAIClient constructs an OpenAIClient. An empty BaseURL uses the
// default OpenAI endpoint; a non-empty one targets any OpenAI-compatible
// provider (Azure, local gateway, etc.).
func NewOpenAIClient(cfg Config) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: openai: api key required")
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	oaCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oaCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(oaCfg), cfg: cfg}, nil
}

// GenerateStructured sends prompt with a JSON-object response format,
// retries transient failures with exponential backoff, repairs near-valid
// JSON via jsonrepair before unmarshalling into out.
func (c *OpenAIClient) GenerateStructured(ctx context.Context, prompt string, schema interface{}, out interface{}) error {
	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("llm: marshal schema: %w", err)
	}

	fullPrompt := fmt.Sprintf(
		"%s\n\nRespond with a single JSON object matching this shape exactly, no prose, no markdown fences:\n%s",
		prompt, string(schemaJSON),
	)

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * 200 * time.Millisecond
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: c.cfg.Model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleUser, Content: fullPrompt},
			},
			Temperature:    c.cfg.Temperature,
			MaxTokens:      c.cfg.MaxTokens,
			ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
		})
		if err != nil {
			lastErr = err
			if !isRetriableError(err) {
				return fmt.Errorf("llm: generate: %w", err)
			}
			continue
		}
		if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
			lastErr = fmt.Errorf("llm: empty response")
			continue
		}

		content := resp.Choices[0].Message.Content
		repaired, repairErr := jsonrepair.JSONRepair(content)
		if repairErr == nil {
			content = repaired
		}
		if err := json.Unmarshal([]byte(content), out); err != nil {
			lastErr = fmt.Errorf("llm: unmarshal response: %w", err)
			continue
		}
		return nil
	}
	return fmt.Errorf("llm: generate exhausted %d retries: %w", c.cfg.MaxRetries, lastErr)
}

// isRetriableError classifies an OpenAI API error as worth retrying by
// substring match rather than typed error inspection, since go-openai's
// APIError doesn't expose a stable enum for every provider it fronts.
func isRetriableError(err error) bool {
	msg := strings.ToLower(err.Error())
	retriablePhrases := []string{
		"rate limit",
		"too many requests",
		"timeout",
		"deadline exceeded",
		"connection reset",
		"503",
		"502",
		"500",
		"temporarily unavailable",
	}
	for _, phrase := range retriablePhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}

// Close is a no-op; go-openai's client holds no closable resources.
func (c *OpenAIClient) Close() error { return nil }
