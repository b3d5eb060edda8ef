package gc

import (
	"fmt"
	"unsafe"
)

// Ref is a single-word typed reference to a value living in collector-managed
// memory. It stays valid for as long as the collector considers the value reachable.
// A Ref held only in Go-managed memory is invisible to the collector's scans; root it
// with Pin, or store it inside collector-managed memory, to keep its target alive
// across Collect.
type Ref[T any] struct {
	p unsafe.Pointer
}

// Get returns the typed pointer this reference manages.
func (r Ref[T]) Get() *T {
	return (*T)(r.p)
}

// Raw returns the address this reference manages.
func (r Ref[T]) Raw() unsafe.Pointer {
	return r.p
}

// RefFromRaw rebuilds a managed reference from an address previously obtained via
// Raw. The address must point into a live collector allocation.
func RefFromRaw[T any](ptr unsafe.Pointer) Ref[T] {
	return Ref[T]{p: ptr}
}

// Pin roots an address for the collector: the allocation containing the pinned
// address, and everything reachable from it, survives Collect until Unpin is called.
type Pin struct {
	collector *Collector
	address   uintptr
}

// Pin registers ptr as a collection root. The same address may be pinned more than
// once; each returned Pin must be unpinned separately.
func (c *Collector) Pin(ptr unsafe.Pointer) *Pin {
	pin := &Pin{
		collector: c,
		address:   uintptr(ptr),
	}
	c.pins.Put(pin, struct{}{})

	return pin
}

// Unpin removes this pin's root. Unpinning the same Pin twice panics.
func (p *Pin) Unpin() {
	if _, ok := p.collector.pins.Get(p); !ok {
		panic(fmt.Sprintf("attempting to unpin address %x, but this pin is no longer registered", p.address))
	}

	p.collector.pins.Delete(p)
}
