// Package utils provides small helpers shared across packages:
// UUID generation, group-id validation, vector normalization, and cosine similarity.
package utils
