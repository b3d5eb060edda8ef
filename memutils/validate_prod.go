//go:build !debug_narrow

package memutils

import (
	"reflect"
	"unsafe"
)

const (
	// DebugMargin is the number of bytes of debug data that should be placed between
	// allocations in chunks managed by this module
	DebugMargin int = 0
)

// ValidateMagicValue verifies that the easy-to-identify marker written by WriteMagicValue is
// still present. It returns true if the value is still present and false otherwise.
// This method no-ops unless the debug_narrow build tag is present.
func ValidateMagicValue(data unsafe.Pointer, offset int) bool {
	return true
}

// WriteMagicValue writes an easy-to-identify marker across DebugMargin bytes at the provided
// pointer and offset. This method no-ops unless the debug_narrow build tag is present.
func WriteMagicValue(data unsafe.Pointer, offset int) {
}

// DebugValidate will call Validate on the provided object and panics if any errors are
// returned. This method no-ops unless the debug_narrow build tag is present
func DebugValidate(validatable Validatable) {
}

// DebugCheckPow2 will verify that the numerical value passed in is a power of two, and panics
// if it is not. This method no-ops unless the debug_narrow build tag is present.
func DebugCheckPow2[T Number](value T, name string) {
}

// DebugCheckAligned will verify that value is a multiple of the provided power-of-two
// alignment, and panics if it is not. This method no-ops unless the debug_narrow build
// tag is present.
func DebugCheckAligned(value int, alignment uint, name string) {
}

// DebugCheckEquals will verify that value is exactly the expected value, and panics
// if it is not. This method no-ops unless the debug_narrow build tag is present.
func DebugCheckEquals(value int, expected int, name string) {
}

// DebugCheckAtLeast will verify that value is no smaller than the provided minimum,
// and panics if it is smaller. This method no-ops unless the debug_narrow build tag
// is present.
func DebugCheckAtLeast(value int, minimum int, name string) {
}

// DebugCheckPointerFree will verify that the provided type contains no fields the Go
// runtime would trace (pointers, maps, chans, funcs, slices, strings, or interfaces),
// and panics if it does. Values of such types cannot safely live in storage the Go
// collector does not scan. unsafe.Pointer fields are permitted, since they are already
// outside the runtime's safety rules. This method no-ops unless the debug_narrow build
// tag is present.
func DebugCheckPointerFree(t reflect.Type, name string) {
}
