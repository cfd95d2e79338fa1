package memutils

// Validatable is anything that can check its own internal consistency
type Validatable interface {
	Validate() error
}
