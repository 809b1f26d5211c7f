package llm

import (
	"context"
	"fmt"

	"github.com/sony/gobreaker"

	"github.com/soundprediction/tkgengine/pkg/alert"
	"github.com/soundprediction/tkgengine/pkg/config"
)

// CircuitBreakerClient wraps a Client in a gobreaker circuit breaker,
// mirroring pkg/embedder's CircuitBreakerClient and grounded on the same
// teacher pkg/nlp/circuit_breaker.go pattern. A tripped breaker turns a
// misbehaving LLM provider into a fast LLMError instead of a long string
// of retried timeouts, and alerts the operator.
type CircuitBreakerClient struct {
	inner   Client
	cb      *gobreaker.CircuitBreaker
	alerter alert.Alerter
	name    string
}

// NewCircuitBreakerClient builds a breaker-wrapped LLM client.
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
					fmt.Sprintf("llm circuit breaker opened: %s", name),
					fmt.Sprintf("llm client %q tripped from %s to %s", name, from, to),
				)
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

// GenerateStructured runs the wrapped call through the breaker.
func (c *CircuitBreakerClient) GenerateStructured(ctx context.Context, prompt string, schema interface{}, out interface{}) error {
	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, c.inner.GenerateStructured(ctx, prompt, schema, out)
	})
	if err != nil {
		return fmt.Errorf("llm %q: %w", c.name, err)
	}
	return nil
}

// Close delegates to the wrapped client.
func (c *CircuitBreakerClient) Close() error { return c.inner.Close() }
