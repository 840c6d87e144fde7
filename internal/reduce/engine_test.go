package reduce_test

import (
	"bytes"
	"log/slog"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parfold/parfold/internal/device"
	"github.com/parfold/parfold/internal/device/sim"
	"github.com/parfold/parfold/internal/logger"
	"github.com/parfold/parfold/internal/reduce"
)

// randomValues returns n values in [-0.5, 0.5), seeded per n so runs are
// reproducible.
func randomValues(n int) []float64 {
	rng := rand.New(rand.NewSource(int64(n)))
	values := make([]float64, n)
	for i := range values {
		values[i] = rng.Float64() - 0.5
	}
	return values
}

func sequentialSum(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum
}

// requireClean asserts that a finished call left no device memory behind.
func requireClean(t *testing.T, rt *sim.Runtime) {
	t.Helper()
	require.Zero(t, rt.LiveBuffers(), "leaked device buffers")
	require.Zero(t, rt.DoubleReleases(), "buffer released more than once")
}

func TestReduceMatchesSequentialSum(t *testing.T) {
	lengths := []int{1, 2, 3, 4, 5, 7, 8, 15, 16, 17, 31, 32, 33, 100,
		255, 256, 257, 1000, 4096, 10000}

	for _, mode := range []reduce.SyncMode{reduce.Barrier, reduce.Simd, reduce.Hybrid} {
		t.Run(mode.String(), func(t *testing.T) {
			rt := sim.New()
			engine, err := reduce.New(rt, mode, reduce.WithLogger(logger.Discard()))
			require.NoError(t, err)
			defer engine.Close()

			for _, n := range lengths {
				values := randomValues(n)
				got, err := engine.Reduce(values)
				require.NoError(t, err, "length %d", n)
				assert.InDelta(t, sequentialSum(values), got, 1e-7, "length %d", n)
			}
			requireClean(t, rt)
		})
	}
}

func TestReduceSingleElementExact(t *testing.T) {
	for _, mode := range []reduce.SyncMode{reduce.Barrier, reduce.Simd, reduce.Hybrid} {
		rt := sim.New()
		engine, err := reduce.New(rt, mode)
		require.NoError(t, err)

		got, err := engine.Reduce([]float64{3.7})
		require.NoError(t, err)
		assert.Equal(t, 3.7, got, "mode %s must return a lone element unchanged", mode)

		engine.Close()
		requireClean(t, rt)
	}
}

// The worked scenario: [1 2 3 4 5] with groups of four reduces to group
// sums [10 5], and the final pass rounds its single group up to size
// two, yielding 15. Small integers sum exactly in float64, so the result
// is compared exactly.
func TestReduceFiveElementScenario(t *testing.T) {
	rt := sim.New(sim.WithCaps(device.Caps{MaxGroupSize: 4, SimdWidth: 2}))
	engine, err := reduce.New(rt, reduce.Barrier)
	require.NoError(t, err)
	defer engine.Close()

	got, err := engine.Reduce([]float64{1, 2, 3, 4, 5})
	require.NoError(t, err)
	assert.Equal(t, 15.0, got)
	assert.EqualValues(t, 2, rt.Dispatches(), "two passes: 5 elements, then [10 5]")
	requireClean(t, rt)
}

func TestReduceExactlyOneGroupNoRecursion(t *testing.T) {
	t.Run("barrier full group", func(t *testing.T) {
		rt := sim.New(sim.WithCaps(device.Caps{MaxGroupSize: 16, SimdWidth: 4}))
		engine, err := reduce.New(rt, reduce.Barrier)
		require.NoError(t, err)
		defer engine.Close()

		values := randomValues(16)
		got, err := engine.Reduce(values)
		require.NoError(t, err)
		assert.InDelta(t, sequentialSum(values), got, 1e-7)
		assert.EqualValues(t, 1, rt.Dispatches(), "length == MaxGroupSize must reduce in one pass")
		requireClean(t, rt)
	})

	t.Run("simd full group", func(t *testing.T) {
		rt := sim.New(sim.WithCaps(device.Caps{MaxGroupSize: 16, SimdWidth: 4}))
		engine, err := reduce.New(rt, reduce.Simd)
		require.NoError(t, err)
		defer engine.Close()

		values := randomValues(4)
		got, err := engine.Reduce(values)
		require.NoError(t, err)
		assert.InDelta(t, sequentialSum(values), got, 1e-7)
		assert.EqualValues(t, 1, rt.Dispatches(), "length == SimdWidth must reduce in one pass")
		requireClean(t, rt)
	})
}

// One element past a full group forces a padding group with a single
// live lane; the inert lanes must not disturb the result.
func TestReducePaddingGroupInert(t *testing.T) {
	rt := sim.New(sim.WithCaps(device.Caps{MaxGroupSize: 16, SimdWidth: 4}))

	for _, mode := range []reduce.SyncMode{reduce.Barrier, reduce.Hybrid} {
		engine, err := reduce.New(rt, mode)
		require.NoError(t, err)

		values := randomValues(17)
		got, err := engine.Reduce(values)
		require.NoError(t, err)
		assert.InDelta(t, sequentialSum(values), got, 1e-7, "mode %s", mode)

		engine.Close()
	}
	requireClean(t, rt)
}

// Simd with simdWidth 8 over 16 elements: one lock-step pass into two
// partials, then a second pass combines them.
func TestReduceSimdTwoPassScenario(t *testing.T) {
	rt := sim.New(sim.WithCaps(device.Caps{MaxGroupSize: 256, SimdWidth: 8}))
	engine, err := reduce.New(rt, reduce.Simd)
	require.NoError(t, err)
	defer engine.Close()

	values := randomValues(16)
	got, err := engine.Reduce(values)
	require.NoError(t, err)
	assert.InDelta(t, sequentialSum(values), got, 1e-7)
	assert.EqualValues(t, 2, rt.Dispatches())
	requireClean(t, rt)
}

// A Simd pass whose length is not a multiple of the SIMD width must fall
// back to the hybrid kernel for that pass and say so.
func TestReduceSimdRaggedFallsBackToHybrid(t *testing.T) {
	rt := sim.New(sim.WithCaps(device.Caps{MaxGroupSize: 16, SimdWidth: 4}))

	var buf bytes.Buffer
	log := logger.New(slog.NewTextHandler(&buf, nil))
	engine, err := reduce.New(rt, reduce.Simd, reduce.WithLogger(log))
	require.NoError(t, err)
	defer engine.Close()

	values := randomValues(10) // 10 % 4 != 0, more than one group
	got, err := engine.Reduce(values)
	require.NoError(t, err)
	assert.InDelta(t, sequentialSum(values), got, 1e-7)
	assert.Contains(t, buf.String(), "falling back to hybrid")
	requireClean(t, rt)
}

func TestReduceSimdMultipleWidthNoFallback(t *testing.T) {
	rt := sim.New(sim.WithCaps(device.Caps{MaxGroupSize: 16, SimdWidth: 4}))

	var buf bytes.Buffer
	log := logger.New(slog.NewTextHandler(&buf, nil))
	engine, err := reduce.New(rt, reduce.Simd, reduce.WithLogger(log))
	require.NoError(t, err)
	defer engine.Close()

	values := randomValues(12) // 12 % 4 == 0
	got, err := engine.Reduce(values)
	require.NoError(t, err)
	assert.InDelta(t, sequentialSum(values), got, 1e-7)
	assert.NotContains(t, buf.String(), "falling back")
	requireClean(t, rt)
}

func TestReduceCustomOperators(t *testing.T) {
	t.Run("max", func(t *testing.T) {
		rt := sim.New(sim.WithCaps(device.Caps{MaxGroupSize: 8, SimdWidth: 2}))
		engine, err := reduce.New(rt, reduce.Hybrid, reduce.WithOperator(device.Max))
		require.NoError(t, err)
		defer engine.Close()

		values := randomValues(1000)
		want := math.Inf(-1)
		for _, v := range values {
			want = max(want, v)
		}
		got, err := engine.Reduce(values)
		require.NoError(t, err)
		assert.Equal(t, want, got, "max picks an element, no rounding involved")
		requireClean(t, rt)
	})

	t.Run("product", func(t *testing.T) {
		rt := sim.New(sim.WithCaps(device.Caps{MaxGroupSize: 4, SimdWidth: 2}))
		engine, err := reduce.New(rt, reduce.Barrier, reduce.WithOperator(device.Product))
		require.NoError(t, err)
		defer engine.Close()

		values := []float64{1.1, 0.9, 1.05, 0.97, 1.02, 0.97, 1.01, 1.0, 0.99}
		want := 1.0
		for _, v := range values {
			want *= v
		}
		got, err := engine.Reduce(values)
		require.NoError(t, err)
		assert.InDelta(t, want, got, 1e-9)
		requireClean(t, rt)
	})
}

func TestReduceNoLeakUnderFaultInjection(t *testing.T) {
	// 100 elements with groups of 16 take two passes: 100 -> 7 -> 1,
	// for three allocations (upload + two results buffers) and two
	// dispatches.
	caps := device.Caps{MaxGroupSize: 16, SimdWidth: 4}
	values := randomValues(100)

	t.Run("allocation failures", func(t *testing.T) {
		for failAt := 1; failAt <= 3; failAt++ {
			rt := sim.New(sim.WithCaps(caps), sim.WithFailAlloc(failAt))
			engine, err := reduce.New(rt, reduce.Barrier)
			require.NoError(t, err)

			_, err = engine.Reduce(values)
			require.Error(t, err, "allocation %d was injected to fail", failAt)
			requireClean(t, rt)

			engine.Close()
			require.Zero(t, rt.LiveKernels())
		}
	})

	t.Run("dispatch failures", func(t *testing.T) {
		for failAt := 1; failAt <= 2; failAt++ {
			rt := sim.New(sim.WithCaps(caps), sim.WithFailDispatch(failAt))
			engine, err := reduce.New(rt, reduce.Barrier)
			require.NoError(t, err)

			_, err = engine.Reduce(values)
			require.Error(t, err, "dispatch %d was injected to fail", failAt)
			requireClean(t, rt)

			engine.Close()
			require.Zero(t, rt.LiveKernels())
		}
	})
}

func TestReduceArgumentErrors(t *testing.T) {
	rt := sim.New()

	_, err := reduce.New(rt, reduce.SyncMode(9))
	assert.Error(t, err)

	engine, err := reduce.New(rt, reduce.Barrier)
	require.NoError(t, err)

	_, err = engine.Reduce(nil)
	assert.Error(t, err, "empty input must be rejected")

	engine.Close()
	engine.Close() // idempotent

	_, err = engine.Reduce([]float64{1})
	assert.Error(t, err, "closed engine must refuse work")
	requireClean(t, rt)
}
