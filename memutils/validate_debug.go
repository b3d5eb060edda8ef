//go:build debug_narrow

package memutils

import (
	"fmt"
	"reflect"
	"unsafe"
)

const (
	// DebugMargin is the number of bytes of debug data that should be placed between
	// allocations in chunks managed by this module
	DebugMargin int = 16
	// corruptionDetectionMagicValue is a 4-byte pattern that should be copied into debug
	// data placed between allocations in chunks managed by this module
	corruptionDetectionMagicValue uint32 = 0x5AFEC0DE
)

// WriteMagicValue writes an easy-to-identify marker across DebugMargin bytes at the provided
// pointer and offset. This method no-ops unless the debug_narrow build tag is present.
func WriteMagicValue(data unsafe.Pointer, offset int) {
	dest := unsafe.Add(data, offset)
	marginSize := DebugMargin / int(unsafe.Sizeof(uint32(0)))
	for i := 0; i < marginSize; i++ {
		*(*uint32)(dest) = corruptionDetectionMagicValue
		dest = unsafe.Add(dest, unsafe.Sizeof(uint32(0)))
	}
}

// ValidateMagicValue verifies that the easy-to-identify marker written by WriteMagicValue is
// still present. It returns true if the value is still present and false otherwise.
// This method no-ops unless the debug_narrow build tag is present.
func ValidateMagicValue(data unsafe.Pointer, offset int) bool {
	source := unsafe.Add(data, offset)
	marginSize := DebugMargin / int(unsafe.Sizeof(uint32(0)))
	for i := 0; i < marginSize; i++ {
		value := (*uint32)(source)
		if *value != corruptionDetectionMagicValue {
			return false
		}
		source = unsafe.Add(source, unsafe.Sizeof(uint32(0)))
	}

	return true
}

// DebugValidate will call Validate on the provided object and panics if any errors are
// returned. This method no-ops unless the debug_narrow build tag is present
func DebugValidate(validatable Validatable) {
	err := validatable.Validate()
	if err != nil {
		panic(err)
	}
}

// DebugCheckPow2 will verify that the numerical value passed in is a power of two, and panics
// if it is not. This method no-ops unless the debug_narrow build tag is present.
func DebugCheckPow2[T Number](value T, name string) {
	err := CheckPow2[T](value, name)
	if err != nil {
		panic(err)
	}
}

// DebugCheckAligned will verify that value is a multiple of the provided power-of-two
// alignment, and panics if it is not. This method no-ops unless the debug_narrow build
// tag is present.
func DebugCheckAligned(value int, alignment uint, name string) {
	if AlignDown(value, alignment) != value {
		panic(fmt.Sprintf("%s is %d, which is not aligned to %d bytes", name, value, alignment))
	}
}

// DebugCheckEquals will verify that value is exactly the expected value, and panics
// if it is not. This method no-ops unless the debug_narrow build tag is present.
func DebugCheckEquals(value int, expected int, name string) {
	if value != expected {
		panic(fmt.Sprintf("%s is %d, but it must be exactly %d", name, value, expected))
	}
}

// DebugCheckAtLeast will verify that value is no smaller than the provided minimum,
// and panics if it is smaller. This method no-ops unless the debug_narrow build tag
// is present.
func DebugCheckAtLeast(value int, minimum int, name string) {
	if value < minimum {
		panic(fmt.Sprintf("%s is %d, but it must be at least %d", name, value, minimum))
	}
}

// DebugCheckPointerFree will verify that the provided type contains no fields the Go
// runtime would trace (pointers, maps, chans, funcs, slices, strings, or interfaces),
// and panics if it does. Values of such types cannot safely live in storage the Go
// collector does not scan. unsafe.Pointer fields are permitted, since they are already
// outside the runtime's safety rules. This method no-ops unless the debug_narrow build
// tag is present.
func DebugCheckPointerFree(t reflect.Type, name string) {
	if containsTracedReferences(t) {
		panic(fmt.Sprintf("%s has type %s, which contains Go heap references and cannot be placed in unscanned storage", name, t))
	}
}

func containsTracedReferences(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Chan, reflect.Func,
		reflect.Slice, reflect.String, reflect.Interface:
		return true
	case reflect.Array:
		return containsTracedReferences(t.Elem())
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if containsTracedReferences(t.Field(i).Type) {
				return true
			}
		}
	}

	return false
}
