package metadata

// AllocationRequest is a type returned from RegionMetadata.CreateAllocationRequest which
// indicates where and how the metadata intends to allocate new memory. This allocation can
// be applied to the actual memory system consuming the metadata, and then committed to the
// metadata with RegionMetadata.Alloc
type AllocationRequest struct {
	// RegionAllocationHandle is a numeric handle used to identify individual allocations
	// within the metadata
	RegionAllocationHandle RegionAllocationHandle
	// Size is the total size of the allocation, maybe larger than what was originally
	// requested
	Size int
	// AlgorithmData is arbitrary data used by the RegionMetadata implementation for
	// internal purposes
	AlgorithmData uint64
}
