// Package pointerjump reduces an array with the pointer-jumping
// procedure: instead of halving an active-lane count, every lane chases
// a next pointer over the group's local slice, absorbing and skipping
// slots until the whole group accumulates at index 0.
//
// This is a self-contained alternative to the halving engine in
// internal/reduce, kept for comparison benchmarks. It shares the device
// runtime contract and the same buffer-ownership discipline. Because the
// next-pointer scheme handles ragged slices naturally, group sizes need
// no power-of-two rounding.
package pointerjump

import (
	"fmt"

	"github.com/parfold/parfold/internal/device"
)

// Engine reduces arrays by pointer jumping on one device runtime. Not
// safe for concurrent use; create one engine per caller.
type Engine struct {
	rt     device.Runtime
	op     device.Operator
	caps   device.Caps
	kernel device.Kernel
	closed bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithOperator replaces the default Sum combine operator.
func WithOperator(op device.Operator) Option {
	return func(e *Engine) { e.op = op }
}

// New compiles the pointer-jumping kernel on rt. The caller must Close
// the engine to release it.
func New(rt device.Runtime, opts ...Option) (*Engine, error) {
	e := &Engine{
		rt:   rt,
		op:   device.Sum,
		caps: rt.Capabilities(),
	}
	for _, opt := range opts {
		opt(e)
	}

	kernel, err := rt.NewKernel(device.KindPointerJump, e.op)
	if err != nil {
		return nil, fmt.Errorf("pointerjump: compiling kernel: %w", err)
	}
	e.kernel = kernel
	return e, nil
}

// Close releases the compiled kernel handle. Safe to call more than
// once.
func (e *Engine) Close() {
	if e.closed {
		return
	}
	e.closed = true
	e.kernel.Release()
	e.kernel = nil
}

// Reduce uploads values and accumulates them to a single scalar. Input
// length must be >= 1. All device buffers the call allocates are
// released by the time it returns, on success and failure alike.
func (e *Engine) Reduce(values []float64) (float64, error) {
	if e.closed {
		return 0, fmt.Errorf("pointerjump: engine is closed")
	}
	if len(values) == 0 {
		return 0, fmt.Errorf("pointerjump: input must contain at least one element")
	}

	in, err := e.rt.Upload(values)
	if err != nil {
		return 0, fmt.Errorf("pointerjump: uploading input: %w", err)
	}
	return e.reduceRecursively(in, len(values))
}

// reduceRecursively takes ownership of in, releasing it immediately
// after its dispatch completes, and recurses on the per-group results
// until one group remains.
func (e *Engine) reduceRecursively(in device.Buffer, inputLength int) (float64, error) {
	groupSize := min(inputLength, e.caps.MaxGroupSize)
	groupCount := (inputLength + groupSize - 1) / groupSize

	access := device.ReadWrite | device.HostHidden
	if groupCount == 1 {
		access = device.ReadWrite | device.HostReadable
	}
	results, err := e.rt.Alloc(groupCount, access)
	if err != nil {
		in.Release()
		return 0, fmt.Errorf("pointerjump: allocating results buffer for %d groups: %w", groupCount, err)
	}

	err = e.kernel.Dispatch(in, inputLength, groupSize, groupCount, results)
	in.Release()
	if err != nil {
		results.Release()
		return 0, fmt.Errorf("pointerjump: dispatching %d groups of %d: %w", groupCount, groupSize, err)
	}

	if groupCount > 1 {
		return e.reduceRecursively(results, groupCount)
	}

	value, err := e.rt.ReadScalar(results)
	results.Release()
	if err != nil {
		return 0, fmt.Errorf("pointerjump: reading result back: %w", err)
	}
	return value, nil
}
