package embedder

import (
	"context"
	"fmt"

	"github.com/sony/gobreaker"

	"github.com/soundprediction/tkgengine/pkg/alert"
	"github.com/soundprediction/tkgengine/pkg/config"
)

// CircuitBreakerClient wraps a Client in a gobreaker circuit breaker. A
// tripped breaker turns a misbehaving embedding backend into EmbedderError
// quickly rather than letting ingestion/sleep hang retrying a dead
// provider, and alerts the operator.
type CircuitBreakerClient struct {
	inner   Client
	cb      *gobreaker.CircuitBreaker
	alerter alert.Alerter
	name    string
}

// NewCircuitBreakerClient builds a breaker-wrapped embedder client.
func NewCircuitBreakerClient(inner Client, cfg config.CircuitBreakerConfig, alerter alert.Alerter, name string) *CircuitBreakerClient {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 3 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.ReadyToTripRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen && alerter != nil {
				_ = alerter.Alert(
					fmt.Sprintf("embedder circuit breaker opened: %s", name),
					fmt.Sprintf("embedder %q tripped from %s to %s", name, from, to))
			}
		},
	}

	return &CircuitBreakerClient{
		inner:   inner,
		cb:      gobreaker.NewCircuitBreaker(settings),
		alerter: alerter,
		name:    name,
	}
}

// Embed runs the wrapped Embed call through the breaker.
func (c *CircuitBreakerClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	result, err := c.cb.Execute(func() (interface{}, error) {
		return c.inner.Embed(ctx, texts)
	})
	if err != nil {
		return nil, fmt.Errorf("embedder %q: %w", c.name, err)
	}
	return result.([][]float32), nil
}

// EmbedSingle runs the wrapped EmbedSingle call through the breaker.
func (c *CircuitBreakerClient) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	result, err := c.cb.Execute(func() (interface{}, error) {
		return c.inner.EmbedSingle(ctx, text)
	})
	if err != nil {
		return nil, fmt.Errorf("embedder %q: %w", c.name, err)
	}
	return result.([]float32), nil
}

// Dimensions delegates to the wrapped client.
func (c *CircuitBreakerClient) Dimensions() int { return c.inner.Dimensions() }

// Close delegates to the wrapped client.
func (c *CircuitBreakerClient) Close() error { return c.inner.Close() }
