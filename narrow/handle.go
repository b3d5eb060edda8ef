package narrow

import (
	"fmt"
	"reflect"
	"unsafe"

	"github.com/jacob-hughes/natrob/internal/iface"
	"github.com/jacob-hughes/natrob/memutils"
)

// Finalizer is the optional destructor contract for values placed behind a handle.
// When the concrete type behind a handle implements Finalizer, Destroy invokes
// Finalize through the widened reference before releasing the block.
type Finalizer interface {
	Finalize()
}

// Handle is a single-word reference to a heap-allocated value of some concrete type
// accessed through the interface I. An ordinary interface value spends two words, one
// for the value's address and one for the dispatch descriptor; a Handle spends one by
// keeping the descriptor in the allocation itself, one word before the value. Widen
// rebuilds the two-word form with a single load whenever dispatch is needed.
//
// A Handle exclusively owns its allocation. The owner must call Destroy exactly once,
// and must not use the handle afterward. Handles are plain values with no internal
// synchronization; sharing one across goroutines requires external synchronization.
// The value stored behind a handle must not contain Go pointers, since the allocation
// is invisible to the Go collector. Nested handles are fine.
type Handle[I any] struct {
	objptr unsafe.Pointer
}

// New copies value into a freshly allocated block and returns a Handle to it. The
// handle owns the copy from this point on; if the value's type declares Finalize, it
// must no longer be finalized through the original. Allocation failure panics, as
// does instantiating with a pair of types where *U does not implement I.
func New[I any, U any](value U) Handle[I] {
	memutils.DebugCheckPointerFree(reflect.TypeOf((*U)(nil)).Elem(), "handle payload")

	tab := iface.TabOf[I, U]()

	combined, objOffset := memutils.ExtendWord(memutils.Of[U]())
	memutils.DebugCheckAligned(objOffset, memutils.WordAlign, "object storage offset")

	base, err := activeAllocator().Alloc(combined)
	if err != nil {
		panic(fmt.Sprintf("failed to allocate a %d-byte block for a handle: %s", combined.Size, err))
	}

	objptr := unsafe.Add(base, objOffset)
	*(*unsafe.Pointer)(unsafe.Add(objptr, -memutils.WordSize)) = tab
	if combined.Size > objOffset {
		*(*U)(objptr) = value
	}

	return Handle[I]{objptr: objptr}
}

// descriptor loads the dispatch descriptor stored one word before the value. Every
// operation that needs the descriptor goes through here.
func (h Handle[I]) descriptor() unsafe.Pointer {
	return *(*unsafe.Pointer)(unsafe.Add(h.objptr, -memutils.WordSize))
}

// Widen reconstructs the ordinary two-word interface value this handle abbreviates.
// It costs one load. The returned value aliases the handle's storage and is valid
// until the handle is destroyed.
func (h Handle[I]) Widen() I {
	return iface.Assemble[I](h.descriptor(), h.objptr)
}

// Downcast returns a typed pointer to the value behind the handle if its concrete
// type is exactly U, and nil with false otherwise. A mismatch is an ordinary negative
// result, not an error. The returned pointer aliases the handle's storage.
func Downcast[U any, I any](h Handle[I]) (*U, bool) {
	if h.descriptor() != iface.TabOf[I, U]() {
		return nil, false
	}

	return (*U)(h.objptr), true
}

// Destroy runs the value's Finalize through the widened reference, if its concrete
// type declares one, and releases the handle's block. The block's layout is
// recomputed from the dynamic type observed through the widened reference, which
// exactly mirrors the computation New performed for that type. The handle must not be
// used again after Destroy, and must not be destroyed twice.
func (h Handle[I]) Destroy() {
	widened := h.Widen()
	if finalizer, ok := any(widened).(Finalizer); ok {
		finalizer.Finalize()
	}

	objType := reflect.TypeOf(widened).Elem()
	objLayout := memutils.Layout{
		Size:  int(objType.Size()),
		Align: uint(objType.Align()),
	}

	combined, objOffset := memutils.ExtendWord(objLayout)
	memutils.DebugCheckAligned(objOffset, memutils.WordAlign, "object storage offset")

	err := activeAllocator().Free(unsafe.Add(h.objptr, -objOffset), combined)
	if err != nil {
		panic(fmt.Sprintf("failed to release a handle's block: %s", err))
	}
}
