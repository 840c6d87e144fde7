package webgpu

import (
	"fmt"
	"math"
	"sync/atomic"
	"unsafe"

	"github.com/go-webgpu/webgpu/wgpu"

	"github.com/parfold/parfold/internal/device"
)

// Runtime implements device.Runtime on the process-wide WebGPU context.
// The context, device and queue are shared and read-only after
// initialization; buffers and kernels created through the runtime are
// exclusively owned by their callers.
type Runtime struct {
	ctx *Context
}

// New returns a runtime backed by the singleton GPU context,
// initializing the context on first use.
func New() (*Runtime, error) {
	c, err := GetContext()
	if err != nil {
		return nil, err
	}
	return &Runtime{ctx: c}, nil
}

// Capabilities implements device.Runtime.
func (rt *Runtime) Capabilities() device.Caps { return rt.ctx.Caps }

// Name returns a human-readable adapter description.
func (rt *Runtime) Name() string {
	return fmt.Sprintf("WebGPU (%s %s)", rt.ctx.Info.Device, rt.ctx.Info.Vendor)
}

// catch converts a wgpu panic into an error.
func catch(op string, err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("webgpu: %s: %v", op, r)
	}
}

// buffer is a GPU allocation holding count f32 elements. Host values are
// float64; device arithmetic is f32 (see package doc).
type buffer struct {
	buf      *wgpu.Buffer
	count    int
	access   device.AccessMode
	released atomic.Bool
}

func (b *buffer) Len() int                  { return b.count }
func (b *buffer) Access() device.AccessMode { return b.access }

func (b *buffer) Release() {
	if b.released.CompareAndSwap(false, true) {
		b.buf.Release()
	}
}

// Upload implements device.Runtime: copies values into a new read-only
// device buffer via a mapped-at-creation write.
func (rt *Runtime) Upload(values []float64) (_ device.Buffer, err error) {
	defer catch("upload", &err)
	if len(values) == 0 {
		return nil, fmt.Errorf("webgpu: refusing to create empty buffer")
	}

	size := uint64(len(values)) * 4
	buf := rt.ctx.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc,
		Size:             size,
		MappedAtCreation: wgpu.True,
	})
	if buf == nil {
		return nil, fmt.Errorf("webgpu: buffer allocation of %d elements failed", len(values))
	}

	mapped := unsafe.Slice((*float32)(buf.GetMappedRange(0, size)), len(values))
	for i, v := range values {
		mapped[i] = float32(v)
	}
	buf.Unmap()

	return &buffer{buf: buf, count: len(values), access: device.ReadOnly | device.HostHidden}, nil
}

// Alloc implements device.Runtime.
func (rt *Runtime) Alloc(count int, mode device.AccessMode) (_ device.Buffer, err error) {
	defer catch("alloc", &err)
	if count < 1 {
		return nil, fmt.Errorf("webgpu: buffer size must be >= 1, got %d", count)
	}

	buf := rt.ctx.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
		Size:  uint64(count) * 4,
	})
	if buf == nil {
		return nil, fmt.Errorf("webgpu: buffer allocation of %d elements failed", count)
	}
	return &buffer{buf: buf, count: count, access: mode}, nil
}

// ReadScalar implements device.Runtime: copies the buffer's first
// element into a staging buffer and blocks mapping it, which also
// orders the read after every dispatch submitted earlier on the queue.
func (rt *Runtime) ReadScalar(b device.Buffer) (_ float64, err error) {
	defer catch("read back", &err)
	gb, err := rt.own(b)
	if err != nil {
		return 0, err
	}

	const size = 4
	staging := rt.ctx.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
		Size:  size,
	})
	if staging == nil {
		return 0, fmt.Errorf("webgpu: staging buffer allocation failed")
	}
	defer staging.Release()

	encoder := rt.ctx.Device.CreateCommandEncoder(nil)
	encoder.CopyBufferToBuffer(gb.buf, 0, staging, 0, size)
	rt.ctx.Queue.Submit(encoder.Finish(nil))

	if err := staging.MapAsync(rt.ctx.Device, wgpu.MapModeRead, 0, size); err != nil {
		return 0, fmt.Errorf("webgpu: mapping staging buffer: %w", err)
	}
	bits := *(*uint32)(staging.GetMappedRange(0, size))
	staging.Unmap()

	return float64(math.Float32frombits(bits)), nil
}

func (rt *Runtime) own(b device.Buffer) (*buffer, error) {
	gb, ok := b.(*buffer)
	if !ok {
		return nil, fmt.Errorf("webgpu: foreign buffer %T", b)
	}
	if gb.released.Load() {
		return nil, fmt.Errorf("webgpu: buffer used after release")
	}
	return gb, nil
}
