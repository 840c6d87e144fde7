package pointerjump_test

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parfold/parfold/internal/device"
	"github.com/parfold/parfold/internal/device/sim"
	"github.com/parfold/parfold/internal/pointerjump"
)

func randomValues(n int) []float64 {
	rng := rand.New(rand.NewSource(int64(n)))
	values := make([]float64, n)
	for i := range values {
		values[i] = rng.Float64() - 0.5
	}
	return values
}

func TestReduceMatchesSequentialSum(t *testing.T) {
	rt := sim.New(sim.WithCaps(device.Caps{MaxGroupSize: 16, SimdWidth: 4}))
	engine, err := pointerjump.New(rt)
	require.NoError(t, err)
	defer engine.Close()

	// pointer jumping handles any length without power-of-two rounding
	for _, n := range []int{1, 2, 3, 5, 7, 16, 17, 31, 100, 255, 1000} {
		values := randomValues(n)
		want := 0.0
		for _, v := range values {
			want += v
		}
		got, err := engine.Reduce(values)
		require.NoError(t, err, "length %d", n)
		assert.InDelta(t, want, got, 1e-7, "length %d", n)
	}

	require.Zero(t, rt.LiveBuffers(), "leaked device buffers")
	require.Zero(t, rt.DoubleReleases())
}

func TestReduceSingleElementExact(t *testing.T) {
	rt := sim.New()
	engine, err := pointerjump.New(rt)
	require.NoError(t, err)
	defer engine.Close()

	got, err := engine.Reduce([]float64{-2.25})
	require.NoError(t, err)
	assert.Equal(t, -2.25, got)
}

func TestReduceWithMaxOperator(t *testing.T) {
	rt := sim.New(sim.WithCaps(device.Caps{MaxGroupSize: 8, SimdWidth: 2}))
	engine, err := pointerjump.New(rt, pointerjump.WithOperator(device.Max))
	require.NoError(t, err)
	defer engine.Close()

	values := randomValues(500)
	want := math.Inf(-1)
	for _, v := range values {
		want = max(want, v)
	}
	got, err := engine.Reduce(values)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestReduceNoLeakOnFailure(t *testing.T) {
	values := randomValues(100)
	for failAt := 1; failAt <= 3; failAt++ {
		rt := sim.New(
			sim.WithCaps(device.Caps{MaxGroupSize: 16, SimdWidth: 4}),
			sim.WithFailAlloc(failAt),
		)
		engine, err := pointerjump.New(rt)
		require.NoError(t, err)

		_, err = engine.Reduce(values)
		require.Error(t, err)
		require.Zero(t, rt.LiveBuffers(), "allocation failure %d leaked buffers", failAt)

		engine.Close()
		require.Zero(t, rt.LiveKernels())
	}
}

func TestReduceArgumentErrors(t *testing.T) {
	rt := sim.New()
	engine, err := pointerjump.New(rt)
	require.NoError(t, err)

	_, err = engine.Reduce(nil)
	assert.Error(t, err)

	engine.Close()
	engine.Close()
	_, err = engine.Reduce([]float64{1})
	assert.Error(t, err)
}
