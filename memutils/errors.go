package memutils

import "github.com/pkg/errors"

var (
	// PowerOfTwoError is wrapped by CheckPow2 failures
	PowerOfTwoError error = errors.New("value must be a power of two")
	// AlignmentError is wrapped by CheckAligned failures
	AlignmentError error = errors.New("value is not a multiple of the required alignment")
)
