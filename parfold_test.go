package parfold_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parfold/parfold"
)

func TestSum(t *testing.T) {
	if !parfold.Available() {
		t.Skip("WebGPU not available")
	}

	got, err := parfold.Sum([]float64{1, 2, 3, 4, 5})
	require.NoError(t, err)
	assert.InDelta(t, 15.0, got, 1e-3)
}

func TestReduceAllModes(t *testing.T) {
	if !parfold.Available() {
		t.Skip("WebGPU not available")
	}

	for _, mode := range []parfold.SyncMode{parfold.Barrier, parfold.Simd, parfold.Hybrid} {
		got, err := parfold.Reduce([]float64{0.5, 0.25, 0.25}, mode)
		require.NoError(t, err, "mode %s", mode)
		assert.InDelta(t, 1.0, got, 1e-3, "mode %s", mode)
	}
}

func TestCapabilityAccessors(t *testing.T) {
	if !parfold.Available() {
		t.Skip("WebGPU not available")
	}

	maxGroup, err := parfold.MaxGroupSize()
	require.NoError(t, err)
	assert.Positive(t, maxGroup)

	width, err := parfold.SimdWidth()
	require.NoError(t, err)
	assert.Positive(t, width)
	assert.LessOrEqual(t, width, maxGroup)
}
