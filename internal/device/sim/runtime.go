// Package sim implements device.Runtime on the CPU, modeling work-group
// and lane execution faithfully enough that the barrier, lock-step and
// hybrid group reducers exercise the same control flow they have on a
// real accelerator.
//
// The simulator is the test vehicle for the reduction core: capabilities
// are configurable, allocations and dispatches can be made to fail on
// demand, and every buffer's lifetime is accounted for so leak properties
// can be asserted.
package sim

import (
	"fmt"
	"math/bits"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/parfold/parfold/internal/device"
)

// Runtime is a CPU-simulated accelerator. Safe for concurrent use by
// multiple engines.
type Runtime struct {
	caps    device.Caps
	workers int

	// fault injection: 1-based sequence numbers, 0 disables
	failAllocAt    int64
	failDispatchAt int64

	allocSeq    atomic.Int64
	dispatchSeq atomic.Int64

	liveBuffers    atomic.Int64
	liveKernels    atomic.Int64
	doubleReleases atomic.Int64
}

// Option configures a simulated runtime.
type Option func(*Runtime)

// WithCaps sets the reported device limits. Both values must be powers
// of two, as on real hardware; the halving-based reducers rely on it.
func WithCaps(caps device.Caps) Option {
	return func(rt *Runtime) { rt.caps = caps }
}

// WithWorkers caps the number of goroutines dispatching groups.
func WithWorkers(n int) Option {
	return func(rt *Runtime) { rt.workers = n }
}

// WithFailAlloc makes the n-th buffer allocation (1-based, uploads
// included) fail with a resource-exhaustion error.
func WithFailAlloc(n int) Option {
	return func(rt *Runtime) { rt.failAllocAt = int64(n) }
}

// WithFailDispatch makes the n-th kernel dispatch (1-based) fail with a
// launch-failure error.
func WithFailDispatch(n int) Option {
	return func(rt *Runtime) { rt.failDispatchAt = int64(n) }
}

// New creates a simulated runtime. Default capabilities: group size 256,
// SIMD width 8.
func New(opts ...Option) *Runtime {
	rt := &Runtime{
		caps:    device.Caps{MaxGroupSize: 256, SimdWidth: 8},
		workers: runtime.NumCPU(),
	}
	for _, opt := range opts {
		opt(rt)
	}
	if !isPowerOfTwo(rt.caps.MaxGroupSize) || !isPowerOfTwo(rt.caps.SimdWidth) {
		panic(fmt.Sprintf("sim: capabilities must be powers of two, got %+v", rt.caps))
	}
	if rt.caps.SimdWidth > rt.caps.MaxGroupSize {
		panic(fmt.Sprintf("sim: SIMD width exceeds max group size: %+v", rt.caps))
	}
	if rt.workers < 1 {
		rt.workers = 1
	}
	return rt
}

func isPowerOfTwo(x int) bool {
	return x >= 1 && bits.OnesCount(uint(x)) == 1
}

// Capabilities implements device.Runtime.
func (rt *Runtime) Capabilities() device.Caps { return rt.caps }

// LiveBuffers returns the number of currently unreleased buffers.
func (rt *Runtime) LiveBuffers() int64 { return rt.liveBuffers.Load() }

// LiveKernels returns the number of currently unreleased kernel handles.
func (rt *Runtime) LiveKernels() int64 { return rt.liveKernels.Load() }

// DoubleReleases returns how many times a buffer was released more than
// once.
func (rt *Runtime) DoubleReleases() int64 { return rt.doubleReleases.Load() }

// Allocs returns the total number of buffer allocations attempted.
func (rt *Runtime) Allocs() int64 { return rt.allocSeq.Load() }

// Dispatches returns the total number of kernel dispatches attempted.
func (rt *Runtime) Dispatches() int64 { return rt.dispatchSeq.Load() }

// buffer is a simulated device allocation.
type buffer struct {
	rt       *Runtime
	data     []float64
	access   device.AccessMode
	released atomic.Bool
}

func (b *buffer) Len() int                  { return len(b.data) }
func (b *buffer) Access() device.AccessMode { return b.access }

func (b *buffer) Release() {
	if !b.released.CompareAndSwap(false, true) {
		b.rt.doubleReleases.Add(1)
		return
	}
	b.rt.liveBuffers.Add(-1)
}

func (rt *Runtime) newBuffer(count int, access device.AccessMode) (*buffer, error) {
	if count < 1 {
		return nil, fmt.Errorf("sim: buffer size must be >= 1, got %d", count)
	}
	if n := rt.allocSeq.Add(1); rt.failAllocAt != 0 && n == rt.failAllocAt {
		return nil, fmt.Errorf("sim: out of device memory (injected, allocation %d)", n)
	}
	rt.liveBuffers.Add(1)
	return &buffer{rt: rt, data: make([]float64, count), access: access}, nil
}

// Upload implements device.Runtime.
func (rt *Runtime) Upload(values []float64) (device.Buffer, error) {
	b, err := rt.newBuffer(len(values), device.ReadOnly|device.HostHidden)
	if err != nil {
		return nil, err
	}
	copy(b.data, values)
	return b, nil
}

// Alloc implements device.Runtime.
func (rt *Runtime) Alloc(count int, mode device.AccessMode) (device.Buffer, error) {
	return rt.newBuffer(count, mode)
}

// ReadScalar implements device.Runtime. Dispatches are synchronous in
// the simulator, so no flush is needed before reading.
func (rt *Runtime) ReadScalar(b device.Buffer) (float64, error) {
	sb, err := rt.own(b)
	if err != nil {
		return 0, err
	}
	if sb.access&device.HostReadable == 0 {
		return 0, fmt.Errorf("sim: buffer is not host readable")
	}
	return sb.data[0], nil
}

// ReadAll copies a buffer's full contents back to the host. Test
// helper; not part of device.Runtime.
func (rt *Runtime) ReadAll(b device.Buffer) ([]float64, error) {
	sb, err := rt.own(b)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(sb.data))
	copy(out, sb.data)
	return out, nil
}

// own checks that b is a live buffer of this runtime.
func (rt *Runtime) own(b device.Buffer) (*buffer, error) {
	sb, ok := b.(*buffer)
	if !ok {
		return nil, fmt.Errorf("sim: foreign buffer %T", b)
	}
	if sb.rt != rt {
		return nil, fmt.Errorf("sim: buffer belongs to a different runtime")
	}
	if sb.released.Load() {
		return nil, fmt.Errorf("sim: buffer used after release")
	}
	return sb, nil
}

// parallelGroups runs f(group) for every group, chunking groups across
// worker goroutines. Small launches run inline.
func (rt *Runtime) parallelGroups(groupCount int, f func(group int)) {
	if rt.workers == 1 || groupCount < 4 {
		for g := 0; g < groupCount; g++ {
			f(g)
		}
		return
	}

	chunk := (groupCount + rt.workers - 1) / rt.workers
	var wg sync.WaitGroup
	for start := 0; start < groupCount; start += chunk {
		end := min(start+chunk, groupCount)
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			for g := s; g < e; g++ {
				f(g)
			}
		}(start, end)
	}
	wg.Wait()
}
