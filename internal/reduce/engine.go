package reduce

import (
	"fmt"

	"github.com/parfold/parfold/internal/device"
	"github.com/parfold/parfold/internal/logger"
)

// Engine performs parallel reductions on one device runtime with one
// sync mode and one combine operator. It owns the compiled kernel handle
// for its mode; Close releases it.
//
// An Engine is not safe for concurrent use: per-call device buffers and
// the kernel handle are exclusively owned by one in-flight Reduce call.
// Serialize calls at a higher layer or create one Engine per caller.
type Engine struct {
	rt   device.Runtime
	mode SyncMode
	op   device.Operator
	caps device.Caps
	log  logger.Logger

	kernel device.Kernel
	// fallback is the hybrid kernel compiled lazily the first time a
	// Simd pass cannot run lock-step (see reduceRecursively).
	fallback device.Kernel

	closed bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithOperator replaces the default Sum combine operator.
func WithOperator(op device.Operator) Option {
	return func(e *Engine) { e.op = op }
}

// WithLogger replaces the default logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// New compiles the group reducer for mode on rt and returns an engine
// ready for Reduce calls. The caller must Close the engine to release
// the compiled kernel handle.
func New(rt device.Runtime, mode SyncMode, opts ...Option) (*Engine, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("reduce: invalid sync mode %d", int(mode))
	}
	e := &Engine{
		rt:   rt,
		mode: mode,
		op:   device.Sum,
		caps: rt.Capabilities(),
		log:  logger.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.op.Combine == nil {
		return nil, fmt.Errorf("reduce: operator %q has no combine function", e.op.Name)
	}

	kernel, err := rt.NewKernel(mode.Kind(), e.op)
	if err != nil {
		return nil, fmt.Errorf("reduce: compiling %s kernel: %w", mode.Kind(), err)
	}
	e.kernel = kernel
	return e, nil
}

// Mode returns the engine's sync mode.
func (e *Engine) Mode() SyncMode { return e.mode }

// Capabilities returns the device limits of the engine's runtime.
func (e *Engine) Capabilities() device.Caps { return e.caps }

// Close releases the engine's compiled kernel handles. Safe to call
// more than once.
func (e *Engine) Close() {
	if e.closed {
		return
	}
	e.closed = true
	if e.kernel != nil {
		e.kernel.Release()
		e.kernel = nil
	}
	if e.fallback != nil {
		e.fallback.Release()
		e.fallback = nil
	}
}

// Reduce uploads values to the device and reduces them to a single
// scalar. Input length must be >= 1. The result is deterministic up to
// floating-point reassociation across group boundaries.
//
// Every device buffer the call allocates is released by the time it
// returns, on success and on failure alike.
func (e *Engine) Reduce(values []float64) (float64, error) {
	if e.closed {
		return 0, fmt.Errorf("reduce: engine is closed")
	}
	if len(values) == 0 {
		return 0, fmt.Errorf("reduce: input must contain at least one element")
	}

	in, err := e.rt.Upload(values)
	if err != nil {
		return 0, fmt.Errorf("reduce: uploading input: %w", err)
	}
	return e.reduceRecursively(in, len(values))
}

// reduceRecursively runs one reduction pass over in and recurses on the
// buffer of per-group partial results until a single group remains.
//
// Ownership: the callee takes ownership of in and releases it
// immediately after its dispatch completes, success or failure; the
// results buffer it allocates is owned by the recursive call (or read
// back and released here on the final pass).
func (e *Engine) reduceRecursively(in device.Buffer, inputLength int) (float64, error) {
	plan, kernel, err := e.planPass(inputLength)
	if err != nil {
		in.Release()
		return 0, err
	}

	access := device.ReadWrite | device.HostHidden
	if plan.GroupCount == 1 {
		access = device.ReadWrite | device.HostReadable
	}
	results, err := e.rt.Alloc(plan.GroupCount, access)
	if err != nil {
		in.Release()
		return 0, fmt.Errorf("reduce: allocating results buffer for %d groups: %w", plan.GroupCount, err)
	}

	err = kernel.Dispatch(in, inputLength, plan.GroupSize, plan.GroupCount, results)
	in.Release()
	if err != nil {
		results.Release()
		return 0, fmt.Errorf("reduce: dispatching %d groups of %d: %w", plan.GroupCount, plan.GroupSize, err)
	}

	if plan.GroupCount > 1 {
		return e.reduceRecursively(results, plan.GroupCount)
	}

	value, err := e.rt.ReadScalar(results)
	results.Release()
	if err != nil {
		return 0, fmt.Errorf("reduce: reading result back: %w", err)
	}
	return value, nil
}

// planPass computes the layout and picks the kernel for one pass.
//
// Simd mode assumes the pass length is an exact multiple of the SIMD
// width on every non-final pass: the lock-step variant has no barrier
// that would let it skip idle-but-present lanes mid-loop. When the
// assumption does not hold, the pass falls back to Hybrid mode
// (maximum-size groups, hybrid kernel) and a diagnostic is emitted.
// The final pass (a single group, size rounded to a power of two) is
// always safe in Simd mode.
func (e *Engine) planPass(inputLength int) (Plan, device.Kernel, error) {
	plan, err := PlanPass(inputLength, e.mode, e.caps)
	if err != nil {
		return Plan{}, nil, err
	}

	if e.mode == Simd && plan.GroupCount > 1 && inputLength%e.caps.SimdWidth != 0 {
		e.log.Warn("pass length is not a multiple of the SIMD width, falling back to hybrid for this pass",
			"length", inputLength, "simdWidth", e.caps.SimdWidth)
		plan, err = PlanPass(inputLength, Hybrid, e.caps)
		if err != nil {
			return Plan{}, nil, err
		}
		kernel, err := e.fallbackKernel()
		if err != nil {
			return Plan{}, nil, err
		}
		return plan, kernel, nil
	}

	return plan, e.kernel, nil
}

func (e *Engine) fallbackKernel() (device.Kernel, error) {
	if e.fallback == nil {
		kernel, err := e.rt.NewKernel(device.KindHybrid, e.op)
		if err != nil {
			return nil, fmt.Errorf("reduce: compiling fallback hybrid kernel: %w", err)
		}
		e.fallback = kernel
	}
	return e.fallback, nil
}
