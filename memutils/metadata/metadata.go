package metadata

import (
	"unsafe"

	"github.com/jacob-hughes/natrob/memutils"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"golang.org/x/exp/slog"
)

// RegionMetadata tracks suballocations within a single large region of memory owned by
// some system. It decides where allocations are placed, allows them to be freed, and
// supports enumeration and consistency checks. It never touches the memory it describes;
// committing writes to the region is the consumer's responsibility.
type RegionMetadata interface {
	// Init must be called before the RegionMetadata is used. It gives the implementation an
	// opportunity to ensure that metadata structures are prepared for allocations, as well as
	// allows the consumer to inform the implementation of the size in bytes of the region of
	// memory it will be managing, via the size parameter.
	Init(size int)
	// Size retrieves the size in bytes that the region was initialized with
	Size() int

	// Validate performs internal consistency checks on the metadata. These checks may be
	// expensive, depending on the implementation. When the implementation is functioning
	// correctly, it should not be possible for this method to return an error, but this may
	// assist in diagnosing issues with the implementation.
	Validate() error
	// AllocationCount returns the number of suballocations currently live in the
	// implementation. This number should generally be the number of successful allocations
	// minus the number of successful frees.
	AllocationCount() int
	// SumFreeSize returns the number of free bytes of memory in the region.
	SumFreeSize() int
	// IsEmpty will return true if this region has no live suballocations
	IsEmpty() bool

	// VisitAllRegions will call the provided callback once for each allocation and free
	// range in the region. Depending on implementation, this can be slow and should
	// generally not be done except for diagnostic purposes.
	VisitAllRegions(visit func(handle RegionAllocationHandle, offset int, size int, userData any, free bool) error) error
	// AllocationOffset accepts a RegionAllocationHandle that maps to a live allocation
	// within the region and returns the offset in bytes within the region for that
	// allocation.
	//
	// The implementation must return an error if the provided handle does not map to a live
	// allocation within this region.
	AllocationOffset(allocHandle RegionAllocationHandle) (int, error)
	// AllocationUserData accepts a RegionAllocationHandle that maps to a live allocation
	// within the region and returns the userdata value provided by the consumer for that
	// allocation.
	//
	// The implementation must return an error if the provided handle does not map to a live
	// allocation within this region.
	AllocationUserData(allocHandle RegionAllocationHandle) (any, error)
	// SetAllocationUserData accepts a RegionAllocationHandle that maps to a live allocation
	// within the region and a userData value. The allocation's userData is changed to the
	// provided userData.
	//
	// The implementation must return an error if the provided handle does not map to a live
	// allocation within this region.
	SetAllocationUserData(allocHandle RegionAllocationHandle, userData any) error

	// AddDetailedStatistics sums this region's allocation statistics into the statistics
	// currently present in the provided memutils.DetailedStatistics object.
	AddDetailedStatistics(stats *memutils.DetailedStatistics)
	// AddStatistics sums this region's allocation statistics into the statistics currently
	// present in the provided memutils.Statistics object.
	AddStatistics(stats *memutils.Statistics)

	// Clear instantly frees all allocations and returns the metadata to its
	// just-initialized state
	Clear()
	// RegionJsonData populates a json object with information about this region
	RegionJsonData(json jwriter.ObjectState)
	// DebugLogAllAllocations calls the provided callback once for each live allocation in
	// the region, for logging purposes
	DebugLogAllAllocations(logger *slog.Logger, logFunc func(log *slog.Logger, offset int, size int, userData any))

	// CheckCorruption accepts a pointer to the underlying memory that this region manages.
	// It will return nil if anti-corruption memory markers are present after every
	// suballocation in the region. This method is fairly expensive and so should only be run
	// as part of some sort of diagnostic regime.
	//
	// Bear in mind that anti-corruption memory markers are only written when the module is
	// built with the build flag `debug_narrow`. This method will not return an error when
	// that flag is not present, but it is expensive regardless of build flags and so should
	// only be run when memutils.DebugMargin is not 0.
	//
	// Additionally, it is the responsibility of consumers to write the debug markers
	// themselves after allocation, by calling memutils.WriteMagicValue with the same pointer
	// sent to CheckCorruption. If the consumer has failed to write the anti-corruption
	// markers, then this method will return an error.
	CheckCorruption(regionData unsafe.Pointer) error

	// CreateAllocationRequest retrieves an AllocationRequest object indicating where and how
	// the implementation would prefer to allocate the requested memory. That object can be
	// passed to Alloc to commit the allocation.
	//
	// allocSize - the size in bytes of the requested allocation
	//
	// allocAlignment - the minimum alignment of the requested allocation. The implementation
	// may increase the alignment above this value, but may not reduce it below this value
	//
	// strategy - Whether to prioritize memory usage, memory offset, or allocation speed when
	// choosing a place for the requested allocation.
	//
	// The first return value will be false if the region cannot currently fit the requested
	// allocation. That is not an error condition- the consumer is expected to try another
	// region or map a new one.
	CreateAllocationRequest(
		allocSize int, allocAlignment uint,
		strategy AllocationStrategy,
	) (bool, AllocationRequest, error)
	// Alloc commits an AllocationRequest object, creating the suballocation within the
	// region based on the data described in the AllocationRequest. The implementation must
	// return an error if the allocation is no longer valid- i.e. the requested free region
	// no longer exists, is not free, offset has changed, is no longer large enough to
	// support the request, etc.
	Alloc(request AllocationRequest, userData any) error

	// Free frees a suballocation within the region, causing it to become a free range once
	// again.
	//
	// The implementation must return an error if the provided handle does not map to a live
	// allocation within this region.
	Free(allocHandle RegionAllocationHandle) error
}

// RegionMetadataBase is a simple struct that provides a few shared utilities for
// RegionMetadata implementations.
type RegionMetadataBase struct {
	size int
}

// Init prepares this structure for allocations and sizes the region in bytes based on the
// parameter size.
func (m *RegionMetadataBase) Init(size int) {
	m.size = size
}

// Size returns the size of the region in bytes
func (m *RegionMetadataBase) Size() int { return m.size }

// RegionJsonData populates a json object with information about this region
func (m *RegionMetadataBase) RegionJsonData(json jwriter.ObjectState, unusedBytes, allocationCount, unusedRangeCount int) {
	json.Name("TotalBytes").Int(m.Size())
	json.Name("UnusedBytes").Int(unusedBytes)
	json.Name("Allocations").Int(allocationCount)
	json.Name("UnusedRanges").Int(unusedRangeCount)
}
