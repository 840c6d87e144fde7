// Package webgpu implements device.Runtime on a real GPU through WebGPU
// compute pipelines, using go-webgpu (github.com/go-webgpu/webgpu) for
// zero-CGO bindings.
//
// WGSL has no f64 type, so device-side arithmetic runs in f32 even
// though the host API traffics in float64. Results therefore carry f32
// precision; exact-tolerance properties are verified against the
// simulated runtime instead.
package webgpu

import (
	"fmt"
	"strings"
	"sync"

	"github.com/go-webgpu/webgpu/wgpu"

	"github.com/parfold/parfold/internal/device"
)

// maxGroupSize is the work-group size limit this runtime reports. 256 is
// the WebGPU base limit for both maxComputeInvocationsPerWorkgroup and
// maxComputeWorkgroupSizeX, so it is safe on every conforming adapter.
const maxGroupSize = 256

// Context holds the process-wide WebGPU objects: instance, adapter,
// device and queue are created once on first use and never torn down
// within the process lifetime. Safe for concurrent read access.
type Context struct {
	Instance *wgpu.Instance
	Adapter  *wgpu.Adapter
	Device   *wgpu.Device
	Queue    *wgpu.Queue

	Info wgpu.AdapterInfoGo
	Caps device.Caps
}

var (
	ctx     *Context
	ctxErr  error
	ctxOnce sync.Once
)

// GetContext returns the singleton GPU context, initializing it on the
// first call.
func GetContext() (*Context, error) {
	ctxOnce.Do(func() {
		ctx, ctxErr = newContext()
	})
	return ctx, ctxErr
}

func newContext() (c *Context, err error) {
	// wgpu panics when the native library is missing.
	defer func() {
		if r := recover(); r != nil {
			c = nil
			err = fmt.Errorf("webgpu: native library not available: %v", r)
		}
	}()

	instance, err := wgpu.CreateInstance(nil)
	if err != nil || instance == nil {
		return nil, fmt.Errorf("webgpu: failed to create instance: %v", err)
	}

	adapter, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		adapter, err = instance.RequestAdapter(nil)
	}
	if err != nil {
		instance.Release()
		return nil, fmt.Errorf("webgpu: failed to request adapter: %w", err)
	}

	var info wgpu.AdapterInfoGo
	if ip, ierr := adapter.GetInfo(); ierr == nil && ip != nil {
		info = *ip
	}

	dev, err := adapter.RequestDevice(nil)
	if err != nil {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("webgpu: failed to request device: %w", err)
	}

	queue := dev.GetQueue()
	if queue == nil {
		dev.Release()
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("webgpu: failed to get queue")
	}

	return &Context{
		Instance: instance,
		Adapter:  adapter,
		Device:   dev,
		Queue:    queue,
		Info:     info,
		Caps: device.Caps{
			MaxGroupSize: maxGroupSize,
			SimdWidth:    simdWidthFor(info),
		},
	}, nil
}

// simdWidthFor guesses the native lock-step width from the adapter
// vendor. WebGPU exposes no portable subgroup-size query, so this stays
// a conservative heuristic; the value only bounds the group size of the
// lock-step kernel, correctness never depends on it being maximal.
func simdWidthFor(info wgpu.AdapterInfoGo) int {
	vendor := strings.ToLower(info.Vendor + " " + info.Device)
	switch {
	case strings.Contains(vendor, "intel"):
		return 16
	case strings.Contains(vendor, "amd"), strings.Contains(vendor, "radeon"):
		return 32
	default: // nvidia, apple, unknown
		return 32
	}
}

// IsAvailable checks whether a WebGPU adapter can be acquired on this
// system.
func IsAvailable() (available bool) {
	defer func() {
		if r := recover(); r != nil {
			available = false
		}
	}()
	_, err := GetContext()
	return err == nil
}
