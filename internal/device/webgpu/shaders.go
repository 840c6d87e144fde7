package webgpu

import (
	"fmt"

	"github.com/parfold/parfold/internal/device"
)

// WGSL reducer shaders. Workgroup array sizes and the workgroup_size
// attribute must be shader-creation-time constants in WGSL, so the
// source is generated per group size (and the combine expression is
// baked in); compiled pipelines are cached per kernel (see kernel.go).
//
// Each sync strategy is a separate entry point rather than a runtime
// branch inside one shader, so a lock-step group never diverges on the
// mode check.

// barrierShaderTmpl reduces one group with a full workgroup barrier
// after every halving step. Args: 1 group size, 2 combine expr.
const barrierShaderTmpl = `
@group(0) @binding(0) var<storage, read> input: array<f32>;
@group(0) @binding(1) var<storage, read_write> results: array<f32>;

struct Params {
    input_length: u32,
}
@group(0) @binding(2) var<uniform> params: Params;

var<workgroup> scratch: array<f32, %[1]d>;

@compute @workgroup_size(%[1]d)
fn main(
    @builtin(local_invocation_id) local_id: vec3<u32>,
    @builtin(global_invocation_id) global_id: vec3<u32>,
    @builtin(workgroup_id) group_id: vec3<u32>,
) {
    let i = local_id.x;
    let gi = global_id.x;

    // copy the group's slice into workgroup memory
    if (gi < params.input_length) {
        scratch[i] = input[gi];
    }
    workgroupBarrier();

    // halving loop with barrier synchronization
    for (var active: u32 = %[1]du / 2u; active > 0u; active = active >> 1u) {
        if (i < active && gi + active < params.input_length) {
            let a = scratch[i];
            let b = scratch[i + active];
            scratch[i] = %[2]s;
        }
        workgroupBarrier();
    }

    if (i == 0u) {
        results[group_id.x] = scratch[0];
    }
}
`

// simdShaderTmpl reduces one group with no barriers. Only valid when the
// group size does not exceed the hardware's native lock-step width, so
// every lane executes each iteration simultaneously. Args: 1 group
// size, 2 combine expr.
const simdShaderTmpl = `
@group(0) @binding(0) var<storage, read> input: array<f32>;
@group(0) @binding(1) var<storage, read_write> results: array<f32>;

struct Params {
    input_length: u32,
}
@group(0) @binding(2) var<uniform> params: Params;

var<workgroup> scratch: array<f32, %[1]d>;

@compute @workgroup_size(%[1]d)
fn main(
    @builtin(local_invocation_id) local_id: vec3<u32>,
    @builtin(global_invocation_id) global_id: vec3<u32>,
    @builtin(workgroup_id) group_id: vec3<u32>,
) {
    let i = local_id.x;
    let gi = global_id.x;

    if (gi < params.input_length) {
        scratch[i] = input[gi];
    }

    // halving loop relying on lock-step execution of the whole group
    for (var active: u32 = %[1]du / 2u; active > 0u; active = active >> 1u) {
        if (i < active && gi + active < params.input_length) {
            let a = scratch[i];
            let b = scratch[i + active];
            scratch[i] = %[2]s;
        }
    }

    if (i == 0u) {
        results[group_id.x] = scratch[0];
    }
}
`

// hybridShaderTmpl runs the barrier loop while more than the SIMD width
// of lanes is active, then the lock-step loop for the tail. Lanes at
// local index >= the SIMD width keep executing the loop structure but
// their writes are no longer consumed. Args: 1 group size, 2 combine
// expr, 3 SIMD width.
const hybridShaderTmpl = `
@group(0) @binding(0) var<storage, read> input: array<f32>;
@group(0) @binding(1) var<storage, read_write> results: array<f32>;

struct Params {
    input_length: u32,
}
@group(0) @binding(2) var<uniform> params: Params;

var<workgroup> scratch: array<f32, %[1]d>;

@compute @workgroup_size(%[1]d)
fn main(
    @builtin(local_invocation_id) local_id: vec3<u32>,
    @builtin(global_invocation_id) global_id: vec3<u32>,
    @builtin(workgroup_id) group_id: vec3<u32>,
) {
    let i = local_id.x;
    let gi = global_id.x;

    if (gi < params.input_length) {
        scratch[i] = input[gi];
    }
    workgroupBarrier();

    var active: u32 = %[1]du / 2u;

    // barrier-synchronized halving while more lanes than the SIMD
    // width are active
    while (active > %[3]du) {
        if (i < active && gi + active < params.input_length) {
            let a = scratch[i];
            let b = scratch[i + active];
            scratch[i] = %[2]s;
        }
        workgroupBarrier();
        active = active >> 1u;
    }

    // lock-step tail, no barriers
    while (active > 0u) {
        if (i < active && gi + active < params.input_length) {
            let a = scratch[i];
            let b = scratch[i + active];
            scratch[i] = %[2]s;
        }
        active = active >> 1u;
    }

    if (i == 0u) {
        results[group_id.x] = scratch[0];
    }
}
`

// pointerJumpShaderTmpl reduces one group by pointer jumping over
// per-lane next indices. Works for any group size. Args: 1 group size,
// 2 combine expr.
const pointerJumpShaderTmpl = `
@group(0) @binding(0) var<storage, read> input: array<f32>;
@group(0) @binding(1) var<storage, read_write> results: array<f32>;

struct Params {
    input_length: u32,
}
@group(0) @binding(2) var<uniform> params: Params;

var<workgroup> scratch: array<f32, %[1]d>;
var<workgroup> next_idx: array<u32, %[1]d>;

@compute @workgroup_size(%[1]d)
fn main(
    @builtin(local_invocation_id) local_id: vec3<u32>,
    @builtin(global_invocation_id) global_id: vec3<u32>,
    @builtin(workgroup_id) group_id: vec3<u32>,
) {
    let i = local_id.x;
    let gi = global_id.x;
    var activity: u32 = i;

    if (gi + 1u < params.input_length) {
        next_idx[i] = i + 1u;
        scratch[i] = input[gi];
    } else {
        next_idx[i] = %[1]du;
        if (gi + 1u == params.input_length) {
            scratch[i] = input[gi];
        }
    }
    workgroupBarrier();

    loop {
        let head = workgroupUniformLoad(&next_idx[0]);
        if (head >= %[1]du) {
            break;
        }
        // a lane acts while its activity indicator is even; readers
        // only ever read lanes idle in the same round
        if ((activity & 1u) == 0u && next_idx[i] < %[1]du) {
            let a = scratch[i];
            let b = scratch[next_idx[i]];
            scratch[i] = %[2]s;
            next_idx[i] = next_idx[next_idx[i]];
            activity = activity >> 1u;
        }
        workgroupBarrier();
    }

    if (i == 0u) {
        results[group_id.x] = scratch[0];
    }
}
`

// shaderSource generates the WGSL source for one reducer entry point.
func shaderSource(kind device.KernelKind, groupSize, simdWidth int, op device.Operator) (string, error) {
	if op.Expr == "" {
		return "", fmt.Errorf("webgpu: operator %q has no WGSL expression", op.Name)
	}
	switch kind {
	case device.KindBarrier:
		return fmt.Sprintf(barrierShaderTmpl, groupSize, op.Expr), nil
	case device.KindSimd:
		return fmt.Sprintf(simdShaderTmpl, groupSize, op.Expr), nil
	case device.KindHybrid:
		return fmt.Sprintf(hybridShaderTmpl, groupSize, op.Expr, simdWidth), nil
	case device.KindPointerJump:
		return fmt.Sprintf(pointerJumpShaderTmpl, groupSize, op.Expr), nil
	default:
		return "", fmt.Errorf("webgpu: unknown kernel kind %d", int(kind))
	}
}
