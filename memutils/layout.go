package memutils

import (
	cerrors "github.com/cockroachdb/errors"
	"unsafe"
)

const (
	// WordSize is the size in bytes of a single machine word on the current target.
	WordSize = int(unsafe.Sizeof(uintptr(0)))
	// WordAlign is the alignment in bytes of a single machine word on the current target.
	WordAlign = uint(unsafe.Alignof(uintptr(0)))
)

// Layout describes the size and alignment requirements of a region of memory. The
// zero value describes a zero-sized region, which is legal but must have its Align
// raised to at least 1 before use.
type Layout struct {
	// Size is the number of bytes in the region. It may be 0.
	Size int
	// Align is the required alignment of the region's start address in bytes. It
	// must be a power of two.
	Align uint
}

// Of returns the Layout of the type T, as the Go compiler lays it out.
func Of[T any]() Layout {
	var zero T
	return Layout{
		Size:  int(unsafe.Sizeof(zero)),
		Align: uint(unsafe.Alignof(zero)),
	}
}

// WordLayout returns the Layout of a single machine word.
func WordLayout() Layout {
	return Layout{Size: WordSize, Align: WordAlign}
}

func (l Layout) Validate() error {
	if l.Size < 0 {
		return cerrors.Newf("layout has a negative size %d", l.Size)
	}
	if l.Align == 0 {
		return cerrors.New("layout has an alignment of 0")
	}

	return CheckPow2(l.Align, "layout alignment")
}

// Extend calculates the layout of a region containing this layout followed by next,
// with padding inserted between the two so that next begins at an address satisfying
// next.Align. It returns the combined layout and the offset in bytes of next within
// it. The combined alignment is the larger of the two alignments, and no padding is
// added after next.
//
// Because both alignments are powers of two, the returned offset is always a multiple
// of next.Align, and the combined layout remains valid to pass to further Extend
// calls.
func (l Layout) Extend(next Layout) (Layout, int) {
	DebugValidate(l)
	DebugValidate(next)

	combinedAlign := l.Align
	if next.Align > combinedAlign {
		combinedAlign = next.Align
	}

	offset := AlignUp(l.Size, next.Align)
	return Layout{
		Size:  offset + next.Size,
		Align: combinedAlign,
	}, offset
}

// ExtendWord calculates the layout of a region containing a single leading machine
// word followed by next. It returns the combined layout and the offset of next within
// it, which is exactly WordSize whenever next.Align is no larger than the word's.
func ExtendWord(next Layout) (Layout, int) {
	return WordLayout().Extend(next)
}
