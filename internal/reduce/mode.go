// Package reduce implements the parallel-reduction core: the partition
// planner that turns an arbitrary-length input into fixed-capacity
// work-groups, and the engine that recursively dispatches group reducers
// over device buffers until a single scalar remains.
package reduce

import (
	"fmt"

	"github.com/parfold/parfold/internal/device"
)

// SyncMode selects the intra-group synchronization strategy used by the
// device-side group reducer.
type SyncMode int

const (
	// Barrier synchronizes lanes with a full work-group barrier after
	// every halving step. Uses maximum-size work-groups.
	Barrier SyncMode = iota

	// Simd relies on lock-step execution instead of barriers, limiting
	// the group size to the device's native SIMD width.
	Simd

	// Hybrid uses barriers while more lanes than the SIMD width are
	// active, then switches to the barrier-free lock-step loop.
	Hybrid
)

// String returns the mode name.
func (m SyncMode) String() string {
	switch m {
	case Barrier:
		return "barrier"
	case Simd:
		return "simd"
	case Hybrid:
		return "hybrid"
	default:
		return fmt.Sprintf("SyncMode(%d)", int(m))
	}
}

// ParseSyncMode converts a mode name to a SyncMode.
func ParseSyncMode(s string) (SyncMode, error) {
	switch s {
	case "barrier":
		return Barrier, nil
	case "simd":
		return Simd, nil
	case "hybrid":
		return Hybrid, nil
	default:
		return 0, fmt.Errorf("reduce: unknown sync mode %q", s)
	}
}

// Kind returns the compiled kernel entry point for the mode.
func (m SyncMode) Kind() device.KernelKind {
	switch m {
	case Barrier:
		return device.KindBarrier
	case Simd:
		return device.KindSimd
	default:
		return device.KindHybrid
	}
}

// Valid reports whether m is one of the three defined modes.
func (m SyncMode) Valid() bool {
	return m == Barrier || m == Simd || m == Hybrid
}
