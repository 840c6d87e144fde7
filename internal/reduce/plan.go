package reduce

import (
	"fmt"
	"math/bits"

	"github.com/parfold/parfold/internal/device"
)

// Plan is the work-group layout of one reduction pass.
//
// Invariants: GroupSize*GroupCount >= inputLength, GroupSize <=
// caps.MaxGroupSize, and for Simd mode GroupSize <= caps.SimdWidth.
// When GroupCount == 1 the group size is rounded up to the next power of
// two so the halving loop of the group reducer terminates cleanly on the
// final pass.
type Plan struct {
	// GroupSize is the number of work-items per group.
	GroupSize int
	// GroupCount is the number of groups launched.
	GroupCount int
	// PaddedTotal is the total launch width, GroupSize*GroupCount.
	// Lanes beyond the input length are launched but inert.
	PaddedTotal int
}

// PlanPass computes the work-group layout for one reduction pass over
// inputLength elements. Pure function of its arguments.
func PlanPass(inputLength int, mode SyncMode, caps device.Caps) (Plan, error) {
	if inputLength < 1 {
		return Plan{}, fmt.Errorf("reduce: input length must be >= 1, got %d", inputLength)
	}
	if caps.MaxGroupSize < 1 || caps.SimdWidth < 1 {
		return Plan{}, fmt.Errorf("reduce: invalid device capabilities %+v", caps)
	}
	if !mode.Valid() {
		return Plan{}, fmt.Errorf("reduce: invalid sync mode %d", int(mode))
	}

	rawGroupSize := caps.MaxGroupSize
	if mode == Simd {
		rawGroupSize = caps.SimdWidth
	}
	groupSize := min(inputLength, rawGroupSize)
	groupCount := (inputLength + groupSize - 1) / groupSize
	if groupCount == 1 {
		groupSize = nextPowerOfTwo(groupSize)
	}

	return Plan{
		GroupSize:   groupSize,
		GroupCount:  groupCount,
		PaddedTotal: groupSize * groupCount,
	}, nil
}

// nextPowerOfTwo returns the smallest power of two >= x, for x >= 1.
func nextPowerOfTwo(x int) int {
	if x <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(x-1))
}
