package narrowgc

import (
	"fmt"
	"reflect"
	"unsafe"

	"github.com/jacob-hughes/natrob/gc"
	"github.com/jacob-hughes/natrob/internal/iface"
	"github.com/jacob-hughes/natrob/memutils"
)

// Finalizer is the optional destructor contract for values placed behind a handle.
// When the concrete type behind a handle implements Finalizer, the collector invokes
// Finalize through a widened reference exactly once before reclaiming the handle's
// block.
type Finalizer interface {
	Finalize()
}

// Handle is a single-word reference to a collector-managed value of some concrete
// type accessed through the interface I. Unlike the manually-managed variant, the
// handle addresses the block's start: the dispatch descriptor sits in the block's
// first word and the value begins exactly one word in. Fixing the value's offset this
// way restricts concrete types to word-or-smaller alignment, which every Go type
// satisfies, and keeps reclamation free of layout recomputation.
//
// The handle's word is the block's address, so a handle stored inside
// collector-managed memory keeps its block reachable. A handle held only in
// Go-managed memory is invisible to collector scans; root it via a pin on Raw. There
// is no destroy operation: reclamation belongs to the collector.
type Handle[I any] struct {
	base unsafe.Pointer
}

// New copies value into a freshly allocated collector block and returns a Handle to
// it. If the value's type declares Finalize, it is registered to run through a
// widened reference when the collector reclaims the block. Allocation failure panics,
// as does instantiating with a pair of types where *U does not implement I.
func New[I any, U any](c *gc.Collector, value U) Handle[I] {
	memutils.DebugCheckPointerFree(reflect.TypeOf((*U)(nil)).Elem(), "handle payload")

	tab := iface.TabOf[I, U]()

	combined, objOffset := memutils.ExtendWord(memutils.Of[U]())
	memutils.DebugCheckEquals(objOffset, memutils.WordSize, "object storage offset")

	base, err := c.Alloc(combined)
	if err != nil {
		panic(fmt.Sprintf("failed to allocate a %d-byte block for a handle: %s", combined.Size, err))
	}

	*(*unsafe.Pointer)(base) = tab
	if combined.Size > objOffset {
		*(*U)(unsafe.Add(base, memutils.WordSize)) = value
	}

	registerFinalizer[I, U](c, base)

	return Handle[I]{base: base}
}

// NewFromLayout allocates a collector block whose value region follows the provided
// layout rather than U's own, permitting trailing storage for variable-length
// payloads: the layout must be at least as large and at least as aligned as U's. The
// init callback receives the uninitialized value region and must fully initialize the
// U portion before returning; the trailing bytes start out zeroed and may be left
// that way.
func NewFromLayout[I any, U any](c *gc.Collector, layout memutils.Layout, init func(*U)) Handle[I] {
	if init == nil {
		panic("attempting to construct a handle with a nil initializer")
	}
	memutils.DebugCheckPointerFree(reflect.TypeOf((*U)(nil)).Elem(), "handle payload")

	objLayout := memutils.Of[U]()
	memutils.DebugCheckAtLeast(layout.Size, objLayout.Size, "value region size")
	memutils.DebugCheckAtLeast(int(layout.Align), int(objLayout.Align), "value region alignment")

	tab := iface.TabOf[I, U]()

	combined, objOffset := memutils.ExtendWord(layout)
	memutils.DebugCheckEquals(objOffset, memutils.WordSize, "object storage offset")

	base, err := c.Alloc(combined)
	if err != nil {
		panic(fmt.Sprintf("failed to allocate a %d-byte block for a handle: %s", combined.Size, err))
	}

	*(*unsafe.Pointer)(base) = tab
	init((*U)(unsafe.Add(base, memutils.WordSize)))

	registerFinalizer[I, U](c, base)

	return Handle[I]{base: base}
}

// registerFinalizer arranges for a reclaimed block's Finalize to run via dynamic
// dispatch, when U declares one.
func registerFinalizer[I any, U any](c *gc.Collector, base unsafe.Pointer) {
	if _, ok := any((*U)(nil)).(Finalizer); !ok {
		return
	}

	c.SetFinalizer(base, func() {
		handle := Handle[I]{base: base}
		if finalizer, ok := any(handle.Widen()).(Finalizer); ok {
			finalizer.Finalize()
		}
	})
}

// descriptor loads the dispatch descriptor from the block's first word. Every
// operation that needs the descriptor goes through here.
func (h Handle[I]) descriptor() unsafe.Pointer {
	return *(*unsafe.Pointer)(h.base)
}

// Widen reconstructs the ordinary two-word interface value this handle abbreviates.
// It costs one load. The returned value aliases the handle's block and stays valid
// for as long as the collector considers the block reachable.
func (h Handle[I]) Widen() I {
	return iface.Assemble[I](h.descriptor(), unsafe.Add(h.base, memutils.WordSize))
}

// Downcast returns a managed typed reference to the value behind the handle if its
// concrete type is exactly U, and a zero reference with false otherwise. A mismatch
// is an ordinary negative result, not an error.
func Downcast[U any, I any](h Handle[I]) (gc.Ref[U], bool) {
	if h.descriptor() != iface.TabOf[I, U]() {
		return gc.Ref[U]{}, false
	}

	return gc.RefFromRaw[U](unsafe.Add(h.base, memutils.WordSize)), true
}

// Recover rebuilds the handle a managed typed reference came from by stepping back
// over the descriptor word. The reference must have originated from a Downcast of a
// handle with the same I; for any other reference the result is garbage.
func Recover[I any, U any](ref gc.Ref[U]) Handle[I] {
	return Handle[I]{base: unsafe.Add(ref.Raw(), -memutils.WordSize)}
}

// Raw returns the address of the handle's block, suitable for pinning the handle as
// a collection root.
func (h Handle[I]) Raw() unsafe.Pointer {
	return h.base
}

// HandleFromRaw rebuilds a handle from an address previously obtained via Raw.
func HandleFromRaw[I any](base unsafe.Pointer) Handle[I] {
	return Handle[I]{base: base}
}
