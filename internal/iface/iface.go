package iface

import (
	"fmt"
	"unsafe"
)

// header mirrors the two-word layout the Go runtime uses for interface values. The
// first word identifies the dynamic type (an itab pointer for ordinary interfaces, a
// type descriptor for the empty interface) and the second points at the value.
type header struct {
	tab  unsafe.Pointer
	data unsafe.Pointer
}

// TabOf returns the tab word the runtime uses when a *U is stored in an I. The
// runtime interns tabs, so the returned pointer is stable for the life of the process
// and equal to the tab of every other (*U, I) interface value, which makes it usable
// as a type-identity token. Panics if *U does not implement I.
func TabOf[I any, U any]() unsafe.Pointer {
	typed, ok := any((*U)(nil)).(I)
	if !ok {
		var zero U
		panic(fmt.Sprintf("attempting to take the interface tab of %T, but it does not implement the requested interface", &zero))
	}

	return (*header)(unsafe.Pointer(&typed)).tab
}

// Assemble builds an interface value of type I directly from a tab word and a data
// pointer. The tab must have been produced by TabOf with the same I, and data must
// point at a value of the concrete type the tab was taken from.
func Assemble[I any](tab unsafe.Pointer, data unsafe.Pointer) I {
	var iface I

	ifaceHeader := (*header)(unsafe.Pointer(&iface))
	ifaceHeader.tab = tab
	ifaceHeader.data = data

	return iface
}

// Data returns the data word of an interface value, which points at the value the
// interface holds.
func Data[I any](iface I) unsafe.Pointer {
	return (*header)(unsafe.Pointer(&iface)).data
}
