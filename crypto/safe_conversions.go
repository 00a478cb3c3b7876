package crypto

import (
	"fmt"
	"math"
)

// SafeUint64ToInt64 converts a wire-encoded timestamp back to int64,
// rejecting values that would wrap negative.
//
// CWE-190: Integer Overflow or Wraparound
func SafeUint64ToInt64(val uint64) (int64, error) {
	if val > math.MaxInt64 {
		return 0, fmt.Errorf("uint64 value exceeds int64 max: %d (max: %d)", val, math.MaxInt64)
	}
	return int64(val), nil
}

// SafeInt64ToUint64 converts a timestamp to its unsigned wire form,
// rejecting negative values.
//
// CWE-190: Integer Overflow or Wraparound
func SafeInt64ToUint64(val int64) (uint64, error) {
	if val < 0 {
		return 0, fmt.Errorf("cannot convert negative int64 to uint64: %d", val)
	}
	return uint64(val), nil
}
