package metadata

import "math"

// RegionAllocationHandle is a numeric handle used to identify individual allocations
// within a RegionMetadata
type RegionAllocationHandle uint64

const (
	NoAllocation RegionAllocationHandle = math.MaxUint64
)

// Suballocation describes a single region of memory within a RegionMetadata, either
// allocated or free
type Suballocation struct {
	Offset   int
	Size     int
	UserData any
}
