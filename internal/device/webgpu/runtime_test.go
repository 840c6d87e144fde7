package webgpu_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parfold/parfold/internal/device/webgpu"
	"github.com/parfold/parfold/internal/reduce"
)

// The GPU computes in f32, so a looser tolerance than the simulator's
// applies here.
const gpuTolerance = 1e-2

func newRuntime(t *testing.T) *webgpu.Runtime {
	t.Helper()
	if !webgpu.IsAvailable() {
		t.Skip("WebGPU not available")
	}
	rt, err := webgpu.New()
	require.NoError(t, err)
	return rt
}

func TestCapabilities(t *testing.T) {
	rt := newRuntime(t)
	caps := rt.Capabilities()
	assert.Positive(t, caps.MaxGroupSize)
	assert.Positive(t, caps.SimdWidth)
	assert.LessOrEqual(t, caps.SimdWidth, caps.MaxGroupSize)
}

func TestUploadReadBack(t *testing.T) {
	rt := newRuntime(t)

	buf, err := rt.Upload([]float64{42.5, 1, 2})
	require.NoError(t, err)
	defer buf.Release()

	got, err := rt.ReadScalar(buf)
	require.NoError(t, err)
	assert.InDelta(t, 42.5, got, 1e-6)
}

func TestReduceOnDevice(t *testing.T) {
	rt := newRuntime(t)

	for _, mode := range []reduce.SyncMode{reduce.Barrier, reduce.Simd, reduce.Hybrid} {
		t.Run(mode.String(), func(t *testing.T) {
			engine, err := reduce.New(rt, mode)
			require.NoError(t, err)
			defer engine.Close()

			rng := rand.New(rand.NewSource(7))
			for _, n := range []int{1, 5, 256, 257, 10000} {
				values := make([]float64, n)
				want := 0.0
				for i := range values {
					values[i] = rng.Float64() - 0.5
					want += values[i]
				}
				got, err := engine.Reduce(values)
				require.NoError(t, err, "length %d", n)
				assert.InDelta(t, want, got, gpuTolerance, "length %d", n)
			}
		})
	}
}
