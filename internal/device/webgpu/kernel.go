package webgpu

import (
	"encoding/binary"
	"fmt"
	"sync"
	"unsafe"

	"github.com/go-webgpu/webgpu/wgpu"

	"github.com/parfold/parfold/internal/device"
)

// kernel is a compiled reducer bound to one entry point and one combine
// operator. WGSL bakes the group size into the shader, so the kernel
// caches one pipeline per group size it has been dispatched with; a
// reduction touches at most two sizes (the main passes and the rounded
// final pass), so the cache stays tiny.
type kernel struct {
	rt   *Runtime
	kind device.KernelKind
	op   device.Operator

	mu        sync.Mutex
	shaders   map[int]*wgpu.ShaderModule
	pipelines map[int]*wgpu.ComputePipeline
	released  bool
}

// NewKernel implements device.Runtime.
func (rt *Runtime) NewKernel(kind device.KernelKind, op device.Operator) (device.Kernel, error) {
	// validate eagerly so a bad kind or operator fails at engine
	// construction, not on the first dispatch
	if _, err := shaderSource(kind, rt.ctx.Caps.MaxGroupSize, rt.ctx.Caps.SimdWidth, op); err != nil {
		return nil, err
	}
	return &kernel{
		rt:        rt,
		kind:      kind,
		op:        op,
		shaders:   make(map[int]*wgpu.ShaderModule),
		pipelines: make(map[int]*wgpu.ComputePipeline),
	}, nil
}

// pipelineFor compiles (or returns the cached) pipeline for groupSize.
func (k *kernel) pipelineFor(groupSize int) (_ *wgpu.ComputePipeline, err error) {
	defer catch("compile pipeline", &err)

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.released {
		return nil, fmt.Errorf("webgpu: kernel used after release")
	}
	if p, ok := k.pipelines[groupSize]; ok {
		return p, nil
	}

	src, err := shaderSource(k.kind, groupSize, k.rt.ctx.Caps.SimdWidth, k.op)
	if err != nil {
		return nil, err
	}
	shader := k.rt.ctx.Device.CreateShaderModuleWGSL(src)
	if shader == nil {
		return nil, fmt.Errorf("webgpu: compiling %s shader for group size %d failed", k.kind, groupSize)
	}
	pipeline := k.rt.ctx.Device.CreateComputePipelineSimple(nil, shader, "main")
	if pipeline == nil {
		shader.Release()
		return nil, fmt.Errorf("webgpu: creating %s pipeline for group size %d failed", k.kind, groupSize)
	}

	k.shaders[groupSize] = shader
	k.pipelines[groupSize] = pipeline
	return pipeline, nil
}

// Dispatch implements device.Kernel. Submissions on the shared queue
// execute in order, so a recursive pass consuming this launch's results
// buffer is correctly sequenced without an explicit host wait.
func (k *kernel) Dispatch(in device.Buffer, inputLength, groupSize, groupCount int, out device.Buffer) (err error) {
	defer catch("dispatch", &err)

	src, err := k.rt.own(in)
	if err != nil {
		return err
	}
	dst, err := k.rt.own(out)
	if err != nil {
		return err
	}
	if groupSize < 1 || groupCount < 1 {
		return fmt.Errorf("webgpu: invalid launch %d groups of %d", groupCount, groupSize)
	}
	if groupSize > k.rt.ctx.Caps.MaxGroupSize {
		return fmt.Errorf("webgpu: group size %d exceeds device limit %d", groupSize, k.rt.ctx.Caps.MaxGroupSize)
	}
	if k.kind == device.KindSimd && groupSize > k.rt.ctx.Caps.SimdWidth {
		return fmt.Errorf("webgpu: lock-step kernel launched with group size %d above SIMD width %d",
			groupSize, k.rt.ctx.Caps.SimdWidth)
	}
	if dst.count < groupCount {
		return fmt.Errorf("webgpu: results buffer holds %d elements, need %d", dst.count, groupCount)
	}

	pipeline, err := k.pipelineFor(groupSize)
	if err != nil {
		return err
	}

	// uniform params: input_length, padded to the 16-byte uniform
	// alignment
	params := make([]byte, 16)
	binary.LittleEndian.PutUint32(params[0:4], uint32(inputLength))
	paramsBuf := k.rt.ctx.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
		Size:             16,
		MappedAtCreation: wgpu.True,
	})
	if paramsBuf == nil {
		return fmt.Errorf("webgpu: params buffer allocation failed")
	}
	copy(unsafe.Slice((*byte)(paramsBuf.GetMappedRange(0, 16)), 16), params)
	paramsBuf.Unmap()
	defer paramsBuf.Release()

	layout := pipeline.GetBindGroupLayout(0)
	bindGroup := k.rt.ctx.Device.CreateBindGroupSimple(layout, []wgpu.BindGroupEntry{
		wgpu.BufferBindingEntry(0, src.buf, 0, uint64(src.count)*4),
		wgpu.BufferBindingEntry(1, dst.buf, 0, uint64(dst.count)*4),
		wgpu.BufferBindingEntry(2, paramsBuf, 0, 16),
	})
	if bindGroup == nil {
		return fmt.Errorf("webgpu: bind group creation failed")
	}
	defer bindGroup.Release()

	encoder := k.rt.ctx.Device.CreateCommandEncoder(nil)
	pass := encoder.BeginComputePass(nil)
	pass.SetPipeline(pipeline)
	pass.SetBindGroup(0, bindGroup, nil)
	pass.DispatchWorkgroups(uint32(groupCount), 1, 1)
	pass.End()
	k.rt.ctx.Queue.Submit(encoder.Finish(nil))

	return nil
}

// Release frees the compiled pipelines and shader modules.
func (k *kernel) Release() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.released {
		return
	}
	k.released = true
	for _, p := range k.pipelines {
		p.Release()
	}
	for _, s := range k.shaders {
		s.Release()
	}
	k.pipelines = nil
	k.shaders = nil
}
