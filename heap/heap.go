package heap

import (
	"context"
	"fmt"
	cerrors "github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/jacob-hughes/natrob/internal/utils"
	"github.com/jacob-hughes/natrob/memutils"
	"github.com/jacob-hughes/natrob/memutils/metadata"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"golang.org/x/exp/slog"
	"io"
	"os"
	"strconv"
	"unsafe"
)

// CreateFlags indicate specific heap behaviors to activate or deactivate
type CreateFlags int32

const (
	// HeapCreateExternallySynchronized ensures that this heap will not be synchronized
	// internally. The consumer must guarantee it is used from only one thread at a time
	// or is synchronized by some other mechanism, but performance may improve because
	// internal mutexes are not used.
	HeapCreateExternallySynchronized CreateFlags = 1 << iota
)

func (f CreateFlags) String() string {
	if f&HeapCreateExternallySynchronized != 0 {
		return "HeapCreateExternallySynchronized"
	}

	return ""
}

const (
	// defaultChunkSize is the value that is used as the PreferredChunkSize when none is
	// provided via CreateOptions. It is equal to 4Mb.
	defaultChunkSize int = 4 * 1024 * 1024
)

// CreateOptions contains optional settings when creating a heap
type CreateOptions struct {
	// Flags indicates specific heap behaviors to activate or deactivate
	Flags CreateFlags
	// PreferredChunkSize is the size of the mappings the heap requests from the
	// operating system. Allocations larger than this get a dedicated mapping of their
	// own size. Rounded up to a multiple of the page size.
	PreferredChunkSize int
	// PreferredStrategy guides where allocations are placed within a chunk. When it is
	// 0, a balanced strategy is used.
	PreferredStrategy metadata.AllocationStrategy
}

type liveAllocation struct {
	chunk  *chunk
	handle metadata.RegionAllocationHandle
	layout memutils.Layout
}

// Heap hands out memory from anonymous mappings it requests from the operating system.
// The memory it manages is invisible to the Go collector, so values placed in it must
// not contain Go heap references. Every successful Alloc must eventually be paired
// with exactly one Free of the same pointer.
type Heap struct {
	logger      *slog.Logger
	createFlags CreateFlags
	chunkSize   int
	strategy    metadata.AllocationStrategy
	pageSize    int

	mutex       utils.OptionalRWMutex
	chunks      []*chunk
	nextChunkId int
	liveAllocs  *swiss.Map[uintptr, liveAllocation]
}

// New creates a new Heap
//
// logger - Destination for diagnostics. It is valid to pass nil, in which case
// diagnostics are discarded
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, options CreateOptions) (*Heap, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard))
	}

	if options.PreferredChunkSize < 0 {
		return nil, cerrors.Newf("heap.CreateOptions.PreferredChunkSize is %d, but chunk sizes cannot be negative", options.PreferredChunkSize)
	}

	pageSize := os.Getpagesize()
	chunkSize := options.PreferredChunkSize
	if chunkSize == 0 {
		chunkSize = defaultChunkSize
	}
	chunkSize = memutils.AlignUp(chunkSize, uint(pageSize))

	useMutex := options.Flags&HeapCreateExternallySynchronized == 0

	return &Heap{
		logger:      logger,
		createFlags: options.Flags,
		chunkSize:   chunkSize,
		strategy:    options.PreferredStrategy,
		pageSize:    pageSize,

		mutex:      utils.OptionalRWMutex{UseMutex: useMutex},
		liveAllocs: swiss.NewMap[uintptr, liveAllocation](42),
	}, nil
}

// Alloc returns a pointer to a region of memory satisfying the provided layout. The
// region's contents are unspecified. Alignments beyond the page size are not
// supported.
func (h *Heap) Alloc(layout memutils.Layout) (unsafe.Pointer, error) {
	err := layout.Validate()
	if err != nil {
		return nil, err
	}
	if layout.Size < 1 {
		return nil, cerrors.Newf("attempting to allocate %d bytes", layout.Size)
	}
	if int(layout.Align) > h.pageSize {
		return nil, cerrors.Newf("layout alignment is %d, but this heap cannot align beyond the page size %d", layout.Align, h.pageSize)
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	for _, c := range h.chunks {
		success, request, err := c.metadata.CreateAllocationRequest(layout.Size, layout.Align, h.strategy)
		if err != nil {
			return nil, err
		}
		if success {
			return h.commitAllocation(c, request, layout)
		}
	}

	// No existing chunk can place this layout- map a new one
	chunkSize := h.chunkSize
	worstCaseSize := layout.Size + memutils.DebugMargin + int(layout.Align)
	if worstCaseSize > chunkSize {
		chunkSize = memutils.AlignUp(worstCaseSize, uint(h.pageSize))
	}

	c, err := h.createChunk(chunkSize)
	if err != nil {
		return nil, err
	}

	success, request, err := c.metadata.CreateAllocationRequest(layout.Size, layout.Align, h.strategy)
	if err != nil {
		return nil, err
	}
	if !success {
		panic(fmt.Sprintf("chunk of size %d was mapped for a layout of size %d, but the layout could not be placed in it", chunkSize, layout.Size))
	}

	return h.commitAllocation(c, request, layout)
}

func (h *Heap) commitAllocation(c *chunk, request metadata.AllocationRequest, layout memutils.Layout) (unsafe.Pointer, error) {
	err := c.metadata.Alloc(request, layout)
	if err != nil {
		return nil, err
	}

	offset, err := c.metadata.AllocationOffset(request.RegionAllocationHandle)
	if err != nil {
		return nil, err
	}

	if memutils.DebugMargin > 0 {
		memutils.WriteMagicValue(c.Base(), offset+layout.Size)
	}

	ptr := unsafe.Add(c.Base(), offset)
	h.liveAllocs.Put(uintptr(ptr), liveAllocation{
		chunk:  c,
		handle: request.RegionAllocationHandle,
		layout: layout,
	})

	h.logger.LogAttrs(context.Background(), slog.LevelDebug, "allocated from chunk",
		slog.Int("chunk.id", c.id),
		slog.Int("offset", offset),
		slog.Int("size", layout.Size),
	)

	return ptr, nil
}

// Free returns the region at ptr to the heap. The layout must be the same layout the
// region was allocated with. Freeing a pointer the heap does not recognize, including
// a pointer that has already been freed, returns an error.
func (h *Heap) Free(ptr unsafe.Pointer, layout memutils.Layout) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	alloc, ok := h.liveAllocs.Get(uintptr(ptr))
	if !ok {
		return cerrors.Newf("attempting to free a pointer that does not map to a live allocation: %p", ptr)
	}

	if memutils.DebugMargin > 0 {
		if alloc.layout != layout {
			panic(fmt.Sprintf("attempting to free an allocation using layout {size %d, align %d}, but it was allocated using layout {size %d, align %d}",
				layout.Size, layout.Align, alloc.layout.Size, alloc.layout.Align))
		}

		offset, err := alloc.chunk.metadata.AllocationOffset(alloc.handle)
		if err != nil {
			return err
		}
		if !memutils.ValidateMagicValue(alloc.chunk.Base(), offset+alloc.layout.Size) {
			panic("MEMORY CORRUPTION DETECTED AFTER FREED ALLOCATION")
		}
	}

	err := alloc.chunk.metadata.Free(alloc.handle)
	if err != nil {
		return err
	}

	h.liveAllocs.Delete(uintptr(ptr))

	// Unmap chunks that no longer hold allocations, keeping one around for reuse
	if alloc.chunk.metadata.IsEmpty() && len(h.chunks) > 1 {
		h.removeChunk(alloc.chunk)
	}

	return nil
}

func (h *Heap) createChunk(size int) (*chunk, error) {
	mapping, err := mapMemory(size)
	if err != nil {
		return nil, err
	}

	c := chunkPool.Get().(*chunk)
	c.Init(h.logger, mapping, h.nextChunkId)
	h.nextChunkId++

	h.chunks = append(h.chunks, c)

	h.logger.LogAttrs(context.Background(), slog.LevelDebug, "mapped new chunk",
		slog.Int("chunk.id", c.id),
		slog.Int("size", size),
	)

	return c, nil
}

func (h *Heap) removeChunk(c *chunk) {
	for chunkIndex := 0; chunkIndex < len(h.chunks); chunkIndex++ {
		if h.chunks[chunkIndex] == c {
			err := c.Destroy()
			if err != nil {
				h.logger.LogAttrs(context.Background(), slog.LevelError, "error while unmapping empty chunk",
					slog.Int("chunk.id", c.id),
					slog.Any("error", err))
				return
			}

			h.logger.LogAttrs(context.Background(), slog.LevelDebug, "unmapped empty chunk", slog.Int("chunk.id", c.id))
			h.chunks = append(h.chunks[0:chunkIndex], h.chunks[chunkIndex+1:]...)
			chunkPool.Put(c)
			return
		}
	}

	panic("attempting to remove a chunk from a heap that did not own it")
}

// Destroy unmaps all of this heap's chunks and renders it unusable. Allocations that
// were never freed are logged through the heap's logger, and their presence is
// reported as an error, but the chunks holding them are unmapped regardless.
func (h *Heap) Destroy() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	var unreleasedErr error
	for _, c := range h.chunks {
		err := c.Destroy()
		if err != nil {
			unreleasedErr = err
			continue
		}
		chunkPool.Put(c)
	}

	h.chunks = nil
	h.liveAllocs = swiss.NewMap[uintptr, liveAllocation](42)
	return unreleasedErr
}

// AllocationCount returns the number of live allocations in this heap.
func (h *Heap) AllocationCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	return h.liveAllocs.Count()
}

// AddStatistics sums this heap's allocation statistics into the statistics currently
// present in the provided memutils.Statistics object.
func (h *Heap) AddStatistics(stats *memutils.Statistics) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	for chunkIndex := 0; chunkIndex < len(h.chunks); chunkIndex++ {
		c := h.chunks[chunkIndex]
		if c == nil {
			panic(fmt.Sprintf("failed to take statistics of nil chunk at index %d", chunkIndex))
		}
		c.metadata.AddStatistics(stats)
	}
}

// AddDetailedStatistics sums this heap's allocation statistics into the statistics
// currently present in the provided memutils.DetailedStatistics object.
func (h *Heap) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	for chunkIndex := 0; chunkIndex < len(h.chunks); chunkIndex++ {
		c := h.chunks[chunkIndex]
		if c == nil {
			panic(fmt.Sprintf("failed to take statistics of nil chunk at index %d", chunkIndex))
		}
		c.metadata.AddDetailedStatistics(stats)
	}
}

// Validate performs internal consistency checks on this heap and all of its chunks.
// When the heap is functioning correctly, it should not be possible for this method to
// return an error.
func (h *Heap) Validate() error {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	liveInChunks := 0
	for _, c := range h.chunks {
		err := c.Validate()
		if err != nil {
			return err
		}

		liveInChunks += c.metadata.AllocationCount()
	}

	if liveInChunks != h.liveAllocs.Count() {
		return cerrors.Newf("the chunk metadata reports %d live allocations, but the heap is tracking %d", liveInChunks, h.liveAllocs.Count())
	}

	return nil
}

// CheckCorruption verifies the anti-corruption markers written after every live
// allocation in every chunk. It only has teeth when the module is built with the
// debug_narrow build tag; without it, markers are not written and this method returns
// nil.
func (h *Heap) CheckCorruption() error {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	for _, c := range h.chunks {
		err := c.CheckCorruption()
		if err != nil {
			return err
		}
	}

	return nil
}

// BuildStatsString writes a json description of the heap's current state, for
// diagnostic purposes.
func (h *Heap) BuildStatsString() (string, error) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	writer := jwriter.NewWriter()
	obj := writer.Object()

	var stats memutils.DetailedStatistics
	stats.Clear()
	for _, c := range h.chunks {
		c.metadata.AddDetailedStatistics(&stats)
	}

	general := obj.Name("General").Object()
	stats.PrintJson(general)
	general.End()

	chunksObj := obj.Name("Chunks").Object()
	for _, c := range h.chunks {
		chunkObj := chunksObj.Name(strconv.Itoa(c.id)).Object()
		c.metadata.RegionJsonData(chunkObj)
		chunkObj.End()
	}
	chunksObj.End()

	obj.End()

	if writer.Error() != nil {
		return "", writer.Error()
	}

	return string(writer.Bytes()), nil
}
