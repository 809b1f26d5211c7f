package llm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRetriableError(t *testing.T) {
	assert.True(t, isRetriableError(errors.New("429 Too Many Requests: rate limit exceeded")))
	assert.True(t, isRetriableError(errors.New("context deadline exceeded")))
	assert.True(t, isRetriableError(errors.New("upstream returned 503")))
	assert.False(t, isRetriableError(errors.New("invalid api key")))
	assert.False(t, isRetriableError(errors.New("400 bad request: schema mismatch")))
}
