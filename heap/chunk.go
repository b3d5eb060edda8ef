package heap

import (
	"context"
	"sync"
	"unsafe"

	"github.com/jacob-hughes/natrob/memutils"
	"github.com/jacob-hughes/natrob/memutils/metadata"
	"github.com/pkg/errors"
	"golang.org/x/exp/slog"
)

var chunkPool = sync.Pool{
	New: func() any {
		return &chunk{}
	},
}

// chunk is a single mapped region of memory that the heap places allocations into.
// Placement decisions belong to the chunk's metadata; the chunk itself only owns the
// mapping.
type chunk struct {
	id      int
	mapping []byte
	logger  *slog.Logger

	metadata metadata.RegionMetadata
}

func (c *chunk) Init(logger *slog.Logger, mapping []byte, id int) {
	if c.mapping != nil {
		panic("attempting to initialize a chunk that is already in use")
	}

	c.id = id
	c.mapping = mapping
	c.logger = logger
	c.metadata = metadata.NewTLSFMetadata()
	c.metadata.Init(len(mapping))
}

func (c *chunk) Base() unsafe.Pointer {
	return unsafe.Pointer(&c.mapping[0])
}

func (c *chunk) Destroy() error {
	if c.mapping == nil {
		panic("attempting to destroy a chunk, but it did not have a backing mapping")
	}

	var unreleasedErr error
	if !c.metadata.IsEmpty() {
		// Log all remaining allocations, then unmap anyway- the memory is going away
		// with the chunk either way
		err := c.metadata.VisitAllRegions(func(handle metadata.RegionAllocationHandle, offset int, size int, userData any, free bool) error {
			if free {
				return nil
			}

			c.logUnreleasedMemory(offset, size, userData)
			return nil
		})
		if err != nil {
			c.logger.LogAttrs(context.Background(),
				slog.LevelError,
				"[UNRELEASED MEMORY] error while iterating unreleased memory",
				slog.Any("error", err))
		}

		unreleasedErr = errors.New("some allocations were not freed before the destruction of this chunk!")
	}

	err := unmapMemory(c.mapping)
	if err != nil {
		return err
	}

	c.mapping = nil
	c.metadata = nil
	return unreleasedErr
}

func (c *chunk) logUnreleasedMemory(offset, size int, userData any) {
	layout, _ := userData.(memutils.Layout)

	c.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] unfreed allocation",
		slog.Int("chunk.id", c.id),
		slog.Int("offset", offset),
		slog.Int("size", size),
		slog.Int("layout.size", layout.Size),
		slog.Int("layout.align", int(layout.Align)),
	)
}

func (c *chunk) Validate() error {
	if c.mapping == nil {
		return errors.New("no valid mapping for this chunk")
	}
	if c.metadata.Size() < 1 {
		return errors.New("this chunk's metadata has an invalid size")
	}

	err := c.metadata.VisitAllRegions(func(handle metadata.RegionAllocationHandle, offset, size int, userData any, free bool) error {
		_, isLayout := userData.(memutils.Layout)
		if free && isLayout {
			return errors.Errorf("a region at offset %d is marked as free but carries allocation data", offset)
		} else if !free && !isLayout {
			return errors.Errorf("a region at offset %d is marked as allocated but has no allocation data", offset)
		}

		return nil
	})

	if err != nil {
		return err
	}

	return c.metadata.Validate()
}

func (c *chunk) CheckCorruption() error {
	return c.metadata.CheckCorruption(c.Base())
}
