// Package memutils holds the small numeric and bookkeeping helpers shared by the heap and the
// memory it runs on.
package memutils

import (
	cerrors "github.com/cockroachdb/errors"
)

type Number interface {
	~int | ~uint | ~uint64
}

// CheckPow2 fails for zero and for any value with more than one bit set
func CheckPow2[T Number](number T, name string) error {
	if number == 0 || number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

// CheckAligned verifies that number is a multiple of alignment, which must be a power of two
func CheckAligned[T Number](number T, alignment uint, name string) error {
	if number&T(alignment-1) != 0 {
		return cerrors.Wrapf(AlignmentError, "%s is %d, which is not a multiple of %d", name, number, alignment)
	}
	return nil
}

// AlignUp rounds value up to the next multiple of alignment, which must be a power of two
func AlignUp(value int, alignment uint) int {
	mask := int(alignment) - 1
	return (value + mask) &^ mask
}
