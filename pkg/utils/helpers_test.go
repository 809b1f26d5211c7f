package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateGroupID(t *testing.T) {
	assert.NoError(t, ValidateGroupID(""))
	assert.NoError(t, ValidateGroupID("tenant-1"))
	assert.NoError(t, ValidateGroupID("tenant_1"))
	assert.Error(t, ValidateGroupID("tenant 1"))
	assert.Error(t, ValidateGroupID("tenant/1"))
}

func TestGenerateUUID(t *testing.T) {
	a := GenerateUUID()
	b := GenerateUUID()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}

func TestNormalizeL2(t *testing.T) {
	out := NormalizeL2([]float64{3, 4})
	assert.InDelta(t, 0.6, out[0], 1e-9)
	assert.InDelta(t, 0.8, out[1], 1e-9)

	assert.Equal(t, []float64{}, NormalizeL2([]float64{}))
	assert.Equal(t, []float64{0, 0}, NormalizeL2([]float64{0, 0}))
}

func TestNormalizeL2Float32(t *testing.T) {
	out := NormalizeL2Float32([]float32{3, 4})
	assert.InDelta(t, 0.6, out[0], 1e-6)
	assert.InDelta(t, 0.8, out[1], 1e-6)
}
