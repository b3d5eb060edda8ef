package gc

import (
	"fmt"
	cerrors "github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/jacob-hughes/natrob/heap"
	"github.com/jacob-hughes/natrob/memutils"
	"golang.org/x/exp/slog"
	"io"
	"unsafe"
)

// object tracks a single collector allocation. size covers the whole scannable span,
// which is a word multiple and slightly larger than the layout the caller requested.
type object struct {
	base      unsafe.Pointer
	size      int
	layout    memutils.Layout
	finalizer func()
	marked    bool
}

// CreateOptions contains optional settings when creating a Collector
type CreateOptions struct {
	// ChunkSize is the size of the mappings the collector's span heap requests from
	// the operating system. When it is 0, the heap's default is used.
	ChunkSize int
}

// Collector is a conservative, non-moving, stop-the-world tracing collector over
// memory it requests from the operating system. Reachability starts from pinned
// addresses: an allocation is live if a pin points into it or if any word inside a
// live allocation holds an address inside it. Allocations the collector decides are
// unreachable have their finalizer run exactly once and are then reclaimed.
//
// The collector never moves allocations, so addresses handed out by Alloc are stable
// for the allocation's lifetime. It performs no locking; all use of one Collector
// must come from a single goroutine or be externally synchronized.
type Collector struct {
	logger *slog.Logger
	spans  *heap.Heap

	objects *swiss.Map[uintptr, *object]
	pins    *swiss.Map[*Pin, struct{}]

	cycleCount int
}

// New creates a new Collector
//
// logger - Destination for diagnostics. It is valid to pass nil, in which case
// diagnostics are discarded
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, options CreateOptions) (*Collector, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard))
	}

	spans, err := heap.New(logger, heap.CreateOptions{
		PreferredChunkSize: options.ChunkSize,
		Flags:              heap.HeapCreateExternallySynchronized,
	})
	if err != nil {
		return nil, err
	}

	return &Collector{
		logger: logger,
		spans:  spans,

		objects: swiss.NewMap[uintptr, *object](42),
		pins:    swiss.NewMap[*Pin, struct{}](42),
	}, nil
}

// Alloc returns zeroed storage satisfying the provided layout. Alignments beyond the
// word size are not supported. The storage stays live until a Collect cycle finds it
// unreachable.
func (c *Collector) Alloc(layout memutils.Layout) (unsafe.Pointer, error) {
	err := layout.Validate()
	if err != nil {
		return nil, err
	}
	if layout.Align > memutils.WordAlign {
		return nil, cerrors.Newf("layout alignment is %d, but collector allocations cannot align beyond the word size %d", layout.Align, memutils.WordSize)
	}

	// The span is padded past the requested size so that addresses one past the end
	// of the value still resolve to it during scans
	spanSize := memutils.AlignUp(layout.Size+1, memutils.WordAlign)
	spanLayout := memutils.Layout{Size: spanSize, Align: memutils.WordAlign}

	base, err := c.spans.Alloc(spanLayout)
	if err != nil {
		return nil, err
	}

	// Reused spans carry stale bytes
	data := unsafe.Slice((*byte)(base), spanSize)
	for byteIndex := range data {
		data[byteIndex] = 0
	}

	c.objects.Put(uintptr(base), &object{
		base:   base,
		size:   spanSize,
		layout: spanLayout,
	})

	return base, nil
}

// SetFinalizer registers fin to run exactly once, just before the collector reclaims
// the allocation at base. base must be an address returned by Alloc that has not been
// reclaimed. Passing a nil fin clears a previously-registered finalizer.
func (c *Collector) SetFinalizer(base unsafe.Pointer, fin func()) {
	obj, ok := c.objects.Get(uintptr(base))
	if !ok {
		panic(fmt.Sprintf("attempting to set a finalizer at %x, which is not a live allocation base", uintptr(base)))
	}

	obj.finalizer = fin
}

// ObjectCount returns the number of live allocations the collector is tracking.
func (c *Collector) ObjectCount() int {
	return c.objects.Count()
}

// AddStatistics sums the collector's span statistics into the statistics currently
// present in the provided memutils.Statistics object.
func (c *Collector) AddStatistics(stats *memutils.Statistics) {
	c.spans.AddStatistics(stats)
}

// AddDetailedStatistics sums the collector's span statistics into the statistics
// currently present in the provided memutils.DetailedStatistics object.
func (c *Collector) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	c.spans.AddDetailedStatistics(stats)
}

// Validate performs internal consistency checks on the collector and its span heap.
// When the collector is functioning correctly, it should not be possible for this
// method to return an error.
func (c *Collector) Validate() error {
	if c.objects.Count() != c.spans.AllocationCount() {
		return cerrors.Newf("the collector is tracking %d objects, but its span heap holds %d allocations", c.objects.Count(), c.spans.AllocationCount())
	}

	return c.spans.Validate()
}

// BuildStatsString writes a json description of the collector's span heap, for
// diagnostic purposes.
func (c *Collector) BuildStatsString() (string, error) {
	return c.spans.BuildStatsString()
}

// Destroy reclaims all of the collector's memory and renders it unusable, regardless
// of reachability. Finalizers do not run; a graceful teardown should Collect with no
// pins first.
func (c *Collector) Destroy() error {
	var freeErr error
	c.objects.Iter(func(base uintptr, obj *object) bool {
		err := c.spans.Free(obj.base, obj.layout)
		if err != nil {
			freeErr = err
			return true
		}

		return false
	})
	if freeErr != nil {
		return freeErr
	}

	c.objects = swiss.NewMap[uintptr, *object](42)
	c.pins = swiss.NewMap[*Pin, struct{}](42)
	return c.spans.Destroy()
}
