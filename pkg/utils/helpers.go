// Package utils provides common utility functions shared across packages.
package utils

import (
	"errors"
	"fmt"
	"math"
	"regexp"

	"github.com/google/uuid"
)

var (
	// ErrInvalidGroupID is returned when a group ID contains invalid characters.
	ErrInvalidGroupID = errors.New("group ID contains invalid characters")
)

// GenerateUUID generates a new UUID7 string, used for node and edge identifiers.
func GenerateUUID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// ValidateGroupID validates that a group_id contains only ASCII alphanumeric
// characters, dashes, and underscores. An empty group_id is allowed (default partition).
func ValidateGroupID(groupID string) error {
	if groupID == "" {
		return nil
	}
	matched, err := regexp.MatchString(`^[a-zA-Z0-9_-]+$`, groupID)
	if err != nil {
		return fmt.Errorf("failed to validate group ID: %w", err)
	}
	if !matched {
		return fmt.Errorf("%w: group ID %q contains invalid characters", ErrInvalidGroupID, groupID)
	}
	return nil
}

// NormalizeL2 normalizes a float64 vector using L2 normalization.
func NormalizeL2(embedding []float64) []float64 {
	if len(embedding) == 0 {
		return embedding
	}
	var norm float64
	for _, val := range embedding {
		norm += val * val
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return embedding
	}
	normalized := make([]float64, len(embedding))
	for i, val := range embedding {
		normalized[i] = val / norm
	}
	return normalized
}

// NormalizeL2Float32 normalizes a float32 vector using L2 normalization.
func NormalizeL2Float32(embedding []float32) []float32 {
	if len(embedding) == 0 {
		return embedding
	}
	var norm float32
	for _, val := range embedding {
		norm += val * val
	}
	norm = float32(math.Sqrt(float64(norm)))
	if norm == 0 {
		return embedding
	}
	normalized := make([]float32, len(embedding))
	for i, val := range embedding {
		normalized[i] = val / norm
	}
	return normalized
}
