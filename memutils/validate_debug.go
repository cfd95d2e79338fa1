//go:build debug_smalloc

package memutils

// DebugValidate panics with the error returned by validatable.Validate, if any. Builds without
// the debug_smalloc tag skip the check entirely.
func DebugValidate(validatable Validatable) {
	err := validatable.Validate()
	if err != nil {
		panic(err)
	}
}

// DebugCheckAligned panics when value is not a multiple of alignment. Builds without the
// debug_smalloc tag skip the check entirely.
func DebugCheckAligned[T Number](value T, alignment uint, name string) {
	err := CheckAligned[T](value, alignment, name)
	if err != nil {
		panic(err)
	}
}
