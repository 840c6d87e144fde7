// Package parfold computes associative reductions (sums by default) of
// large float64 arrays on a GPU, partitioning the input across parallel
// work-groups and combining partial results hierarchically until a
// single scalar remains.
//
// Example:
//
//	sum, err := parfold.Sum(myValues)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// The GPU context is created lazily on first use and shared for the
// process lifetime. Each call owns its device buffers and kernel
// handles, so calls from different goroutines do not interfere.
//
// Device arithmetic runs in f32 (WGSL has no f64), so results carry
// single precision even though the API traffics in float64.
package parfold

import (
	"github.com/parfold/parfold/internal/device/webgpu"
	"github.com/parfold/parfold/internal/reduce"
)

// SyncMode selects the intra-group synchronization strategy.
type SyncMode = reduce.SyncMode

const (
	// Barrier uses work-group barriers and maximum-size groups.
	Barrier = reduce.Barrier
	// Simd uses lock-step execution with groups limited to the SIMD
	// width.
	Simd = reduce.Simd
	// Hybrid uses barriers first and switches to lock-step for the
	// reduction tail. This is the default.
	Hybrid = reduce.Hybrid
)

// Sum reduces values to their sum using the Hybrid sync mode.
func Sum(values []float64) (float64, error) {
	return Reduce(values, Hybrid)
}

// Reduce reduces values to their sum using the given sync mode. Input
// length must be >= 1.
func Reduce(values []float64, mode SyncMode) (float64, error) {
	rt, err := webgpu.New()
	if err != nil {
		return 0, err
	}
	engine, err := reduce.New(rt, mode)
	if err != nil {
		return 0, err
	}
	defer engine.Close()
	return engine.Reduce(values)
}

// Available reports whether a GPU adapter can be acquired.
func Available() bool {
	return webgpu.IsAvailable()
}

// MaxGroupSize returns the device's maximum work-group size along its
// primary dimension, discovering the device on first use.
func MaxGroupSize() (int, error) {
	rt, err := webgpu.New()
	if err != nil {
		return 0, err
	}
	return rt.Capabilities().MaxGroupSize, nil
}

// SimdWidth returns the device's native lock-step execution width,
// discovering the device on first use.
func SimdWidth() (int, error) {
	rt, err := webgpu.New()
	if err != nil {
		return 0, err
	}
	return rt.Capabilities().SimdWidth, nil
}
