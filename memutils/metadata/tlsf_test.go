package metadata_test

import (
	"math"
	"testing"

	"github.com/jacob-hughes/natrob/memutils"
	"github.com/jacob-hughes/natrob/memutils/metadata"
	"github.com/stretchr/testify/require"
)

func TestTLSFBasicAlloc(t *testing.T) {
	tlsf := metadata.NewTLSFMetadata()
	tlsf.Init(1000)

	var stats memutils.DetailedStatistics
	stats.Clear()
	tlsf.AddDetailedStatistics(&stats)

	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			ChunkCount:      1,
			ChunkBytes:      1000,
			AllocationCount: 0,
			AllocationBytes: 0,
		},
		UnusedRangeCount:   1,
		AllocationSizeMin:  math.MaxInt,
		AllocationSizeMax:  0,
		UnusedRangeSizeMin: 1000,
		UnusedRangeSizeMax: 1000,
	}, stats)

	success, req, err := tlsf.CreateAllocationRequest(100, 1, metadata.AllocationStrategyMinMemory)
	require.NoError(t, err)
	require.True(t, success)

	alloc1 := req.RegionAllocationHandle
	err = tlsf.Alloc(req, &alloc1)
	require.NoError(t, err)

	stats.Clear()
	tlsf.AddDetailedStatistics(&stats)

	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			ChunkCount:      1,
			ChunkBytes:      1000,
			AllocationCount: 1,
			AllocationBytes: 100,
		},
		UnusedRangeCount:   1,
		AllocationSizeMin:  100,
		AllocationSizeMax:  100,
		UnusedRangeSizeMin: 900,
		UnusedRangeSizeMax: 900,
	}, stats)

	err = tlsf.Free(alloc1)
	require.NoError(t, err)

	stats.Clear()
	tlsf.AddDetailedStatistics(&stats)

	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			ChunkCount:      1,
			ChunkBytes:      1000,
			AllocationCount: 0,
			AllocationBytes: 0,
		},
		UnusedRangeCount:   1,
		AllocationSizeMin:  math.MaxInt,
		AllocationSizeMax:  0,
		UnusedRangeSizeMin: 1000,
		UnusedRangeSizeMax: 1000,
	}, stats)
}

func TestTLSFManySmallAllocs(t *testing.T) {
	tlsf := metadata.NewTLSFMetadata()
	tlsf.Init(10000)

	handles := make([]metadata.RegionAllocationHandle, 0, 20)
	for i := 0; i < 20; i++ {
		success, req, err := tlsf.CreateAllocationRequest(100, 1, metadata.AllocationStrategyMinMemory)
		require.NoError(t, err)
		require.True(t, success)

		err = tlsf.Alloc(req, i)
		require.NoError(t, err)
		handles = append(handles, req.RegionAllocationHandle)
	}

	require.Equal(t, 20, tlsf.AllocationCount())
	require.NoError(t, tlsf.Validate())

	// Free every other allocation to fragment the region, then validate merging on
	// the remainder
	for i := 0; i < 20; i += 2 {
		require.NoError(t, tlsf.Free(handles[i]))
	}
	require.Equal(t, 10, tlsf.AllocationCount())
	require.NoError(t, tlsf.Validate())

	for i := 1; i < 20; i += 2 {
		require.NoError(t, tlsf.Free(handles[i]))
	}
	require.Equal(t, 0, tlsf.AllocationCount())
	require.True(t, tlsf.IsEmpty())
	require.NoError(t, tlsf.Validate())
	require.Equal(t, 10000, tlsf.SumFreeSize())
}

func TestTLSFAlignedAllocs(t *testing.T) {
	tlsf := metadata.NewTLSFMetadata()
	tlsf.Init(65536)

	// Unaligned allocation to push subsequent offsets off alignment boundaries
	success, req, err := tlsf.CreateAllocationRequest(13, 1, 0)
	require.NoError(t, err)
	require.True(t, success)
	require.NoError(t, tlsf.Alloc(req, nil))

	for _, align := range []uint{2, 8, 64, 512, 4096} {
		success, req, err = tlsf.CreateAllocationRequest(100, align, 0)
		require.NoError(t, err)
		require.True(t, success)
		require.NoError(t, tlsf.Alloc(req, nil))

		offset, err := tlsf.AllocationOffset(req.RegionAllocationHandle)
		require.NoError(t, err)
		require.Equal(t, memutils.AlignDown(offset, align), offset)
	}

	require.NoError(t, tlsf.Validate())
}

func TestTLSFExhaustion(t *testing.T) {
	tlsf := metadata.NewTLSFMetadata()
	tlsf.Init(1000)

	success, req, err := tlsf.CreateAllocationRequest(900, 1, 0)
	require.NoError(t, err)
	require.True(t, success)
	require.NoError(t, tlsf.Alloc(req, nil))

	// Remaining free space is too small for this request
	success, _, err = tlsf.CreateAllocationRequest(500, 1, 0)
	require.NoError(t, err)
	require.False(t, success)

	// Freeing makes the space available again
	require.NoError(t, tlsf.Free(req.RegionAllocationHandle))
	success, req, err = tlsf.CreateAllocationRequest(1000, 1, 0)
	require.NoError(t, err)
	require.True(t, success)
	require.NoError(t, tlsf.Alloc(req, nil))
	require.Equal(t, 0, tlsf.SumFreeSize())
}

func TestTLSFMinOffsetStrategy(t *testing.T) {
	tlsf := metadata.NewTLSFMetadata()
	tlsf.Init(10000)

	var handles []metadata.RegionAllocationHandle
	for i := 0; i < 5; i++ {
		success, req, err := tlsf.CreateAllocationRequest(1000, 1, 0)
		require.NoError(t, err)
		require.True(t, success)
		require.NoError(t, tlsf.Alloc(req, nil))
		handles = append(handles, req.RegionAllocationHandle)
	}

	// Open a hole at offset 1000 and one at offset 3000- the min offset strategy
	// must take the lower hole
	require.NoError(t, tlsf.Free(handles[1]))
	require.NoError(t, tlsf.Free(handles[3]))

	success, req, err := tlsf.CreateAllocationRequest(1000, 1, metadata.AllocationStrategyMinOffset)
	require.NoError(t, err)
	require.True(t, success)
	require.NoError(t, tlsf.Alloc(req, nil))

	offset, err := tlsf.AllocationOffset(req.RegionAllocationHandle)
	require.NoError(t, err)
	require.Equal(t, 1000, offset)

	require.NoError(t, tlsf.Validate())
}

func TestTLSFUserData(t *testing.T) {
	tlsf := metadata.NewTLSFMetadata()
	tlsf.Init(1000)

	success, req, err := tlsf.CreateAllocationRequest(100, 1, 0)
	require.NoError(t, err)
	require.True(t, success)
	require.NoError(t, tlsf.Alloc(req, "first"))

	userData, err := tlsf.AllocationUserData(req.RegionAllocationHandle)
	require.NoError(t, err)
	require.Equal(t, "first", userData)

	require.NoError(t, tlsf.SetAllocationUserData(req.RegionAllocationHandle, "second"))
	userData, err = tlsf.AllocationUserData(req.RegionAllocationHandle)
	require.NoError(t, err)
	require.Equal(t, "second", userData)

	_, err = tlsf.AllocationUserData(metadata.RegionAllocationHandle(9999))
	require.Error(t, err)
}

func TestTLSFVisitAllRegions(t *testing.T) {
	tlsf := metadata.NewTLSFMetadata()
	tlsf.Init(1000)

	success, req, err := tlsf.CreateAllocationRequest(100, 1, 0)
	require.NoError(t, err)
	require.True(t, success)
	require.NoError(t, tlsf.Alloc(req, "live"))

	var allocated, free int
	err = tlsf.VisitAllRegions(func(handle metadata.RegionAllocationHandle, offset, size int, userData any, isFree bool) error {
		if isFree {
			free++
		} else {
			allocated++
			require.Equal(t, "live", userData)
			require.Equal(t, 0, offset)
			require.Equal(t, 100, size)
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, allocated)
	require.Equal(t, 1, free)
}

func TestTLSFDoubleFree(t *testing.T) {
	tlsf := metadata.NewTLSFMetadata()
	tlsf.Init(1000)

	success, req, err := tlsf.CreateAllocationRequest(100, 1, 0)
	require.NoError(t, err)
	require.True(t, success)
	require.NoError(t, tlsf.Alloc(req, nil))

	require.NoError(t, tlsf.Free(req.RegionAllocationHandle))
	require.Error(t, tlsf.Free(req.RegionAllocationHandle))
}

func TestTLSFClear(t *testing.T) {
	tlsf := metadata.NewTLSFMetadata()
	tlsf.Init(1000)

	for i := 0; i < 5; i++ {
		success, req, err := tlsf.CreateAllocationRequest(100, 1, 0)
		require.NoError(t, err)
		require.True(t, success)
		require.NoError(t, tlsf.Alloc(req, nil))
	}
	require.Equal(t, 5, tlsf.AllocationCount())

	tlsf.Clear()
	require.Equal(t, 0, tlsf.AllocationCount())
	require.True(t, tlsf.IsEmpty())
	require.Equal(t, 1000, tlsf.SumFreeSize())
	require.NoError(t, tlsf.Validate())
}
