package narrow

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/jacob-hughes/natrob/heap"
	"github.com/jacob-hughes/natrob/memutils"
)

// Allocator hands out the blocks that back narrow handles. Alloc must return memory
// satisfying the provided layout, and Free must accept the same pointer and layout
// that a prior Alloc produced. The memory must not be visible to the Go collector,
// since handles store the only reference to it.
type Allocator interface {
	Alloc(layout memutils.Layout) (unsafe.Pointer, error)
	Free(ptr unsafe.Pointer, layout memutils.Layout) error
}

var _ Allocator = &heap.Heap{}

var (
	allocatorInit    sync.Once
	currentAllocator Allocator
)

// SetAllocator replaces the allocator used by every handle in the process. It must be
// called before the first handle is created and at most once: a handle allocated by
// one allocator cannot be destroyed through another.
func SetAllocator(allocator Allocator) {
	if allocator == nil {
		panic("attempting to install a nil allocator for narrow handles")
	}

	allocatorInit.Do(func() {})
	currentAllocator = allocator
}

// activeAllocator returns the installed allocator, standing up a default heap on
// first use when none was installed.
func activeAllocator() Allocator {
	allocatorInit.Do(func() {
		defaultHeap, err := heap.New(nil, heap.CreateOptions{})
		if err != nil {
			panic(fmt.Sprintf("failed to create the default heap for narrow handles: %s", err))
		}

		currentAllocator = defaultHeap
	})

	return currentAllocator
}
