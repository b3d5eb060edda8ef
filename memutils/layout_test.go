package memutils_test

import (
	"testing"

	"github.com/jacob-hughes/natrob/memutils"
	"github.com/stretchr/testify/require"
)

func TestLayoutOf(t *testing.T) {
	require.Equal(t, memutils.Layout{Size: 1, Align: 1}, memutils.Of[byte]())
	require.Equal(t, memutils.Layout{Size: 8, Align: 8}, memutils.Of[uint64]())
	require.Equal(t, memutils.Layout{Size: 0, Align: 1}, memutils.Of[struct{}]())

	type padded struct {
		a byte
		b int32
	}
	require.Equal(t, memutils.Layout{Size: 8, Align: 4}, memutils.Of[padded]())
}

func TestWordLayout(t *testing.T) {
	word := memutils.WordLayout()
	require.Equal(t, memutils.WordSize, word.Size)
	require.Equal(t, memutils.WordAlign, word.Align)
	require.Equal(t, memutils.Of[uintptr](), word)
}

func TestExtend(t *testing.T) {
	combined, offset := memutils.Layout{Size: 4, Align: 4}.Extend(memutils.Layout{Size: 8, Align: 8})
	require.Equal(t, memutils.Layout{Size: 16, Align: 8}, combined)
	require.Equal(t, 8, offset)

	// No padding needed when the extension is already aligned
	combined, offset = memutils.Layout{Size: 8, Align: 8}.Extend(memutils.Layout{Size: 4, Align: 4})
	require.Equal(t, memutils.Layout{Size: 12, Align: 8}, combined)
	require.Equal(t, 8, offset)

	// No trailing padding is added after the extension
	combined, offset = memutils.Layout{Size: 8, Align: 8}.Extend(memutils.Layout{Size: 9, Align: 1})
	require.Equal(t, memutils.Layout{Size: 17, Align: 8}, combined)
	require.Equal(t, 8, offset)
}

func TestExtendZeroSize(t *testing.T) {
	combined, offset := memutils.Layout{Size: 8, Align: 8}.Extend(memutils.Layout{Size: 0, Align: 1})
	require.Equal(t, memutils.Layout{Size: 8, Align: 8}, combined)
	require.Equal(t, 8, offset)
	require.Equal(t, combined.Size, offset)
}

func TestExtendOverAligned(t *testing.T) {
	combined, offset := memutils.Layout{Size: 8, Align: 8}.Extend(memutils.Layout{Size: 32, Align: 32})
	require.Equal(t, memutils.Layout{Size: 64, Align: 32}, combined)
	require.Equal(t, 32, offset)

	combined, offset = memutils.Layout{Size: 1, Align: 1}.Extend(memutils.Layout{Size: 4, Align: 4})
	require.Equal(t, memutils.Layout{Size: 8, Align: 4}, combined)
	require.Equal(t, 4, offset)
}

func TestExtendWordInvariant(t *testing.T) {
	// The offset produced by extending a word must itself land on a word boundary
	// for every legal alignment, so a descriptor placed one word before the offset
	// is always naturally aligned.
	for align := uint(1); align <= 4096; align *= 2 {
		for _, size := range []int{0, 1, 3, 8, 17, 256} {
			combined, offset := memutils.ExtendWord(memutils.Layout{Size: size, Align: align})

			require.GreaterOrEqual(t, offset, memutils.WordSize)
			require.Equal(t, memutils.AlignDown(offset, memutils.WordAlign), offset)
			require.Equal(t, memutils.AlignDown(offset, align), offset)
			require.Equal(t, offset+size, combined.Size)
		}
	}
}

func TestLayoutValidate(t *testing.T) {
	require.NoError(t, memutils.Layout{Size: 16, Align: 8}.Validate())
	require.NoError(t, memutils.Layout{Size: 0, Align: 1}.Validate())

	err := memutils.Layout{Size: 16, Align: 3}.Validate()
	require.ErrorIs(t, err, memutils.PowerOfTwoError)

	require.Error(t, memutils.Layout{Size: -1, Align: 8}.Validate())
	require.Error(t, memutils.Layout{Size: 16, Align: 0}.Validate())
}
