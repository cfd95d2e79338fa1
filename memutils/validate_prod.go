//go:build !debug_smalloc

package memutils

func DebugValidate(validatable Validatable) {
}

func DebugCheckAligned[T Number](value T, alignment uint, name string) {
}
