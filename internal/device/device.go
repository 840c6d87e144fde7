// Package device defines the contract between the reduction engine and an
// accelerator runtime: opaque device-resident buffers, compiled reducer
// kernels, and the capability values discovered once per runtime.
//
// Two implementations exist: internal/device/webgpu drives a real GPU
// through WebGPU compute pipelines, and internal/device/sim models
// work-group execution on the CPU for tests and machines without a GPU.
package device

// Caps holds the device limits discovered once per runtime.
type Caps struct {
	// MaxGroupSize is the maximum number of work-items a single
	// work-group may contain along its primary dimension.
	MaxGroupSize int

	// SimdWidth is the native lock-step execution width: the number of
	// lanes guaranteed to execute each instruction simultaneously
	// without an explicit barrier.
	SimdWidth int
}

// AccessMode describes how a buffer may be accessed, mirroring the intent
// flags passed to the underlying runtime at allocation time.
type AccessMode uint32

const (
	// ReadOnly marks a buffer the device only reads from.
	ReadOnly AccessMode = 1 << iota
	// ReadWrite marks a buffer the device both reads and writes.
	ReadWrite
	// HostReadable marks a buffer whose contents will be read back to
	// host memory.
	HostReadable
	// HostHidden marks a buffer the host never accesses after creation.
	HostHidden
)

// Buffer is an opaque handle to accelerator-resident memory holding Len
// float64 elements. Exactly one entity logically owns a Buffer at any
// time; the owner must call Release exactly once, including on error
// paths. Using a Buffer after Release is a programming error.
type Buffer interface {
	// Len returns the element count the buffer was created with.
	Len() int

	// Access returns the access-mode intent the buffer was created with.
	Access() AccessMode

	// Release frees the device memory. Must be called exactly once.
	Release()
}

// KernelKind selects which device-side reducer entry point a Kernel is
// compiled from. Each kind is a separate compiled entry point rather than
// a runtime branch inside one kernel, so lock-step groups never diverge
// on the mode check.
type KernelKind int

const (
	// KindBarrier reduces with a full work-group barrier after every
	// halving step.
	KindBarrier KernelKind = iota
	// KindSimd reduces without barriers, relying on lock-step execution;
	// only valid for group sizes up to Caps.SimdWidth.
	KindSimd
	// KindHybrid runs barrier-synchronized halving while more than
	// SimdWidth lanes are active, then switches to the barrier-free
	// lock-step loop for the tail.
	KindHybrid
	// KindPointerJump accumulates by pointer jumping over per-lane next
	// indices instead of halving. A distinct algorithm kept for
	// comparison benchmarks.
	KindPointerJump
)

// String returns the device-side entry point name for the kind.
func (k KernelKind) String() string {
	switch k {
	case KindBarrier:
		return "reduceBarrier"
	case KindSimd:
		return "reduceSimd"
	case KindHybrid:
		return "reduceHybrid"
	case KindPointerJump:
		return "reducePointerJump"
	default:
		return "unknown"
	}
}

// Kernel is a compiled group-reducer handle bound to one KernelKind and
// one Operator. A Kernel is exclusively owned by one engine and must be
// released when the engine is discarded.
type Kernel interface {
	// Dispatch launches the reducer across groupCount groups of
	// groupSize work-items each (total launch width groupSize*groupCount)
	// over the first inputLength elements of in, writing one partial
	// result per group into out. out must hold at least groupCount
	// elements. Dispatch does not take ownership of either buffer.
	//
	// The call blocks until the launch has completed or is guaranteed
	// ordered before any subsequent read of out.
	Dispatch(in Buffer, inputLength, groupSize, groupCount int, out Buffer) error

	// Release frees the compiled kernel handle.
	Release()
}

// Runtime is the accelerator runtime consumed by the reduction engine.
// A Runtime is process-long-lived; per-call resources (buffers, kernels)
// are owned by their creators.
type Runtime interface {
	// Capabilities returns the device limits, discovered once and cached.
	Capabilities() Caps

	// Upload copies values into a new device buffer created read-only
	// and host-hidden. The caller owns the returned buffer.
	Upload(values []float64) (Buffer, error)

	// Alloc creates an uninitialized device buffer of count elements
	// with the given access mode. The caller owns the returned buffer.
	Alloc(count int, mode AccessMode) (Buffer, error)

	// ReadScalar blocks until all dispatches writing b have completed
	// and returns its first element.
	ReadScalar(b Buffer) (float64, error)

	// NewKernel compiles the reducer entry point for kind with the
	// given combine operator. The caller owns the returned kernel.
	NewKernel(kind KernelKind, op Operator) (Kernel, error)
}
