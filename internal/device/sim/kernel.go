package sim

import (
	"fmt"
	"sync/atomic"

	"github.com/parfold/parfold/internal/device"
)

// kernel is a simulated compiled reducer entry point.
type kernel struct {
	rt       *Runtime
	kind     device.KernelKind
	op       device.Operator
	released atomic.Bool
}

// NewKernel implements device.Runtime.
func (rt *Runtime) NewKernel(kind device.KernelKind, op device.Operator) (device.Kernel, error) {
	switch kind {
	case device.KindBarrier, device.KindSimd, device.KindHybrid, device.KindPointerJump:
	default:
		return nil, fmt.Errorf("sim: unknown kernel kind %d", int(kind))
	}
	if op.Combine == nil {
		return nil, fmt.Errorf("sim: operator %q has no combine function", op.Name)
	}
	rt.liveKernels.Add(1)
	return &kernel{rt: rt, kind: kind, op: op}, nil
}

func (k *kernel) Release() {
	if k.released.CompareAndSwap(false, true) {
		k.rt.liveKernels.Add(-1)
	}
}

// Dispatch implements device.Kernel. Groups run concurrently with each
// other; lanes within a group are stepped in an order equivalent to the
// synchronization primitive of the kernel's kind, so the simulated
// control flow matches the device-side procedure exactly.
func (k *kernel) Dispatch(in device.Buffer, inputLength, groupSize, groupCount int, out device.Buffer) error {
	rt := k.rt
	if n := rt.dispatchSeq.Add(1); rt.failDispatchAt != 0 && n == rt.failDispatchAt {
		return fmt.Errorf("sim: device rejected launch (injected, dispatch %d)", n)
	}
	if k.released.Load() {
		return fmt.Errorf("sim: kernel used after release")
	}

	src, err := rt.own(in)
	if err != nil {
		return err
	}
	dst, err := rt.own(out)
	if err != nil {
		return err
	}

	if groupSize < 1 || groupCount < 1 {
		return fmt.Errorf("sim: invalid launch %d groups of %d", groupCount, groupSize)
	}
	if groupSize > rt.caps.MaxGroupSize {
		return fmt.Errorf("sim: group size %d exceeds device limit %d", groupSize, rt.caps.MaxGroupSize)
	}
	if k.kind == device.KindSimd && groupSize > rt.caps.SimdWidth {
		return fmt.Errorf("sim: lock-step kernel launched with group size %d above SIMD width %d",
			groupSize, rt.caps.SimdWidth)
	}
	if inputLength < 1 || inputLength > len(src.data) {
		return fmt.Errorf("sim: input length %d outside buffer of %d", inputLength, len(src.data))
	}
	if groupSize*groupCount < inputLength {
		return fmt.Errorf("sim: launch width %d smaller than input length %d", groupSize*groupCount, inputLength)
	}
	if len(dst.data) < groupCount {
		return fmt.Errorf("sim: results buffer holds %d elements, need %d", len(dst.data), groupCount)
	}

	rt.parallelGroups(groupCount, func(group int) {
		switch k.kind {
		case device.KindBarrier:
			dst.data[group] = k.runBarrier(src.data, inputLength, groupSize, group)
		case device.KindSimd:
			dst.data[group] = k.runSimd(src.data, inputLength, groupSize, group)
		case device.KindHybrid:
			dst.data[group] = k.runHybrid(src.data, inputLength, groupSize, group)
		case device.KindPointerJump:
			dst.data[group] = k.runPointerJump(src.data, inputLength, groupSize, group)
		}
	})
	return nil
}

// copySlice runs the copy phase: each lane copies its input element into
// its scratch slot. Lanes whose global index is beyond the input leave
// their slot untouched; the halving guards ensure it is never read.
func copySlice(in []float64, inputLength, groupSize, group int) []float64 {
	scratch := make([]float64, groupSize)
	base := group * groupSize
	for i := 0; i < groupSize; i++ {
		if g := base + i; g < inputLength {
			scratch[i] = in[g]
		}
	}
	return scratch
}

// runBarrier reduces one group with a full barrier after every halving
// step: after each iteration, scratch slot j (j < active) holds the
// combination of all original values whose local indices reduce to j
// under repeated halving.
func (k *kernel) runBarrier(in []float64, inputLength, groupSize, group int) float64 {
	scratch := copySlice(in, inputLength, groupSize, group)
	base := group * groupSize
	// barrier
	for active := groupSize >> 1; active > 0; active >>= 1 {
		for i := 0; i < active; i++ {
			if base+i+active < inputLength {
				scratch[i] = k.op.Combine(scratch[i], scratch[i+active])
			}
		}
		// barrier
	}
	return scratch[0]
}

// runSimd reduces one group with no barriers. On hardware this is only
// correct when every lane of the group executes each iteration in true
// lock-step; reads target slots in [active, 2*active) while writes land
// in [0, active), so in-order lane stepping reproduces the lock-step
// outcome exactly.
func (k *kernel) runSimd(in []float64, inputLength, groupSize, group int) float64 {
	scratch := copySlice(in, inputLength, groupSize, group)
	base := group * groupSize
	for active := groupSize >> 1; active > 0; active >>= 1 {
		for i := 0; i < active; i++ {
			if base+i+active < inputLength {
				scratch[i] = k.op.Combine(scratch[i], scratch[i+active])
			}
		}
	}
	return scratch[0]
}

// runHybrid reduces one group with barriers while more than SimdWidth
// lanes are active, then switches to the barrier-free lock-step loop.
// Lanes at local index >= SimdWidth stop participating after the switch.
func (k *kernel) runHybrid(in []float64, inputLength, groupSize, group int) float64 {
	scratch := copySlice(in, inputLength, groupSize, group)
	base := group * groupSize
	simdWidth := k.rt.caps.SimdWidth

	active := groupSize >> 1
	for ; active > simdWidth; active >>= 1 {
		for i := 0; i < active; i++ {
			if base+i+active < inputLength {
				scratch[i] = k.op.Combine(scratch[i], scratch[i+active])
			}
		}
		// barrier
	}
	for ; active > 0; active >>= 1 {
		for i := 0; i < active; i++ {
			if base+i+active < inputLength {
				scratch[i] = k.op.Combine(scratch[i], scratch[i+active])
			}
		}
	}
	return scratch[0]
}

// runPointerJump reduces one group by pointer jumping: each lane keeps a
// next index pointing at the closest scratch slot it has not yet
// absorbed, and in each barrier-separated round half of the still-active
// lanes absorb their next slot and jump over it. Terminates when lane 0
// has absorbed the whole group. Works for any group size, power of two
// or not.
func (k *kernel) runPointerJump(in []float64, inputLength, groupSize, group int) float64 {
	scratch := make([]float64, groupSize)
	next := make([]int, groupSize)
	activity := make([]int, groupSize)
	base := group * groupSize

	for i := 0; i < groupSize; i++ {
		activity[i] = i
		g := base + i
		switch {
		case g < inputLength-1:
			next[i] = i + 1
			scratch[i] = in[g]
		case g == inputLength-1:
			next[i] = groupSize // last live lane: nothing further to absorb
			scratch[i] = in[g]
		default:
			next[i] = groupSize // padding lane
		}
	}
	// barrier

	for next[0] < groupSize {
		// a lane acts while its activity indicator is even; readers only
		// ever read lanes idle in the same round
		for i := 0; i < groupSize; i++ {
			if activity[i]&1 == 0 && next[i] < groupSize {
				scratch[i] = k.op.Combine(scratch[i], scratch[next[i]])
				next[i] = next[next[i]]
				activity[i] >>= 1
			}
		}
		// barrier
	}
	return scratch[0]
}
