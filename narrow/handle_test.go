package narrow_test

import (
	"fmt"
	"math"
	"os"
	"testing"
	"unsafe"

	"github.com/jacob-hughes/natrob/heap"
	"github.com/jacob-hughes/natrob/memutils"
	"github.com/jacob-hughes/natrob/narrow"
	mock_narrow "github.com/jacob-hughes/natrob/narrow/mocks"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// forwardingAllocator lets individual tests redirect allocations without installing a
// second allocator, which SetAllocator forbids.
type forwardingAllocator struct {
	inner narrow.Allocator
}

func (f *forwardingAllocator) Alloc(layout memutils.Layout) (unsafe.Pointer, error) {
	return f.inner.Alloc(layout)
}

func (f *forwardingAllocator) Free(ptr unsafe.Pointer, layout memutils.Layout) error {
	return f.inner.Free(ptr, layout)
}

var (
	testAllocator = &forwardingAllocator{}
	backingHeap   *heap.Heap
)

func TestMain(m *testing.M) {
	var err error
	backingHeap, err = heap.New(nil, heap.CreateOptions{})
	if err != nil {
		fmt.Printf("failed to create the backing heap: %s\n", err)
		os.Exit(1)
	}

	testAllocator.inner = backingHeap
	narrow.SetAllocator(testAllocator)

	os.Exit(m.Run())
}

type shape interface {
	Area() float64
}

type circle struct {
	radius float64
}

func (c *circle) Area() float64 { return math.Pi * c.radius * c.radius }

type square struct {
	side float64
}

func (s *square) Area() float64 { return s.side * s.side }

type marker interface {
	Mark() string
}

type tag struct{}

func (t *tag) Mark() string { return "tagged" }

func TestHandleIsOneWord(t *testing.T) {
	var handle narrow.Handle[shape]
	var widened shape

	require.EqualValues(t, memutils.WordSize, unsafe.Sizeof(handle))
	require.EqualValues(t, 2*memutils.WordSize, unsafe.Sizeof(widened))
}

func TestWidenDispatch(t *testing.T) {
	handle := narrow.New[shape](circle{radius: 2})
	defer handle.Destroy()

	direct := &circle{radius: 2}
	widened := handle.Widen()
	require.InDelta(t, 12.566, widened.Area(), 0.001)
	require.Equal(t, direct.Area(), widened.Area())
}

func TestDowncastRoundTrip(t *testing.T) {
	handle := narrow.New[shape](circle{radius: 2})
	defer handle.Destroy()

	typed, ok := narrow.Downcast[circle](handle)
	require.True(t, ok)
	require.Equal(t, 2.0, typed.radius)
}

func TestDowncastMismatch(t *testing.T) {
	handle := narrow.New[shape](circle{radius: 2})
	defer handle.Destroy()

	typed, ok := narrow.Downcast[square](handle)
	require.False(t, ok)
	require.Nil(t, typed)
}

func TestDowncastAliasesHandleStorage(t *testing.T) {
	handle := narrow.New[shape](circle{radius: 2})
	defer handle.Destroy()

	typed, ok := narrow.Downcast[circle](handle)
	require.True(t, ok)

	typed.radius = 3
	require.InDelta(t, 9*math.Pi, handle.Widen().Area(), 0.001)
}

func TestZeroSizedPayload(t *testing.T) {
	liveBefore := backingHeap.AllocationCount()

	handle := narrow.New[marker](tag{})
	require.Equal(t, "tagged", handle.Widen().Mark())

	typed, ok := narrow.Downcast[tag](handle)
	require.True(t, ok)
	require.NotNil(t, typed)

	handle.Destroy()
	require.Equal(t, liveBefore, backingHeap.AllocationCount())
}

var finalizeCount int

type tracked struct {
	id int32
}

func (t *tracked) Area() float64 { return 0 }
func (t *tracked) Finalize()     { finalizeCount++ }

var zeroFinalizeCount int

type zeroTracked struct{}

func (z *zeroTracked) Mark() string { return "" }
func (z *zeroTracked) Finalize()    { zeroFinalizeCount++ }

func TestDestroyRunsFinalizeOnce(t *testing.T) {
	finalizeCount = 0

	handle := narrow.New[shape](tracked{id: 1})
	require.Equal(t, 0, finalizeCount)

	handle.Destroy()
	require.Equal(t, 1, finalizeCount)
}

func TestDestroyRunsFinalizeOnceForZeroSizedPayload(t *testing.T) {
	zeroFinalizeCount = 0

	handle := narrow.New[marker](zeroTracked{})
	handle.Destroy()
	require.Equal(t, 1, zeroFinalizeCount)
}

func TestDestroyWithoutFinalize(t *testing.T) {
	liveBefore := backingHeap.AllocationCount()

	handle := narrow.New[shape](square{side: 4})
	require.Equal(t, 16.0, handle.Widen().Area())

	handle.Destroy()
	require.Equal(t, liveBefore, backingHeap.AllocationCount())
}

func TestDoubleDestroyPanics(t *testing.T) {
	handle := narrow.New[shape](circle{radius: 2})
	handle.Destroy()

	// The backing heap no longer recognizes the block, so the second release fails
	require.Panics(t, func() {
		handle.Destroy()
	})
}

// pair holds two handles of its own, exercising handles nested inside a payload and
// the Finalize cascade that releases them.
type pair struct {
	left  narrow.Handle[shape]
	right narrow.Handle[shape]
}

func (p *pair) Area() float64 { return p.left.Widen().Area() + p.right.Widen().Area() }

func (p *pair) Finalize() {
	p.left.Destroy()
	p.right.Destroy()
}

func TestNestedHandles(t *testing.T) {
	liveBefore := backingHeap.AllocationCount()

	handle := narrow.New[shape](pair{
		left:  narrow.New[shape](circle{radius: 1}),
		right: narrow.New[shape](square{side: 2}),
	})
	require.Equal(t, liveBefore+3, backingHeap.AllocationCount())
	require.InDelta(t, math.Pi+4, handle.Widen().Area(), 0.001)

	handle.Destroy()
	require.Equal(t, liveBefore, backingHeap.AllocationCount())
}

func TestManyHandles(t *testing.T) {
	liveBefore := backingHeap.AllocationCount()

	var handles []narrow.Handle[shape]
	for handleIndex := 0; handleIndex < 1000; handleIndex++ {
		if handleIndex%2 == 0 {
			handles = append(handles, narrow.New[shape](circle{radius: float64(handleIndex)}))
		} else {
			handles = append(handles, narrow.New[shape](square{side: float64(handleIndex)}))
		}
	}

	for handleIndex, handle := range handles {
		if handleIndex%2 == 0 {
			typed, ok := narrow.Downcast[circle](handle)
			require.True(t, ok)
			require.Equal(t, float64(handleIndex), typed.radius)
		} else {
			require.Equal(t, float64(handleIndex)*float64(handleIndex), handle.Widen().Area())
		}
	}

	require.NoError(t, backingHeap.Validate())

	for _, handle := range handles {
		handle.Destroy()
	}
	require.Equal(t, liveBefore, backingHeap.AllocationCount())
}

func TestHandleAllocatorContract(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockAllocator := mock_narrow.NewMockAllocator(ctrl)
	testAllocator.inner = mockAllocator
	defer func() {
		testAllocator.inner = backingHeap
	}()

	block := make([]byte, 64)
	base := unsafe.Pointer(&block[0])

	combined, _ := memutils.ExtendWord(memutils.Of[circle]())
	mockAllocator.EXPECT().Alloc(combined).Return(base, nil)

	handle := narrow.New[shape](circle{radius: 2})
	require.InDelta(t, 12.566, handle.Widen().Area(), 0.001)

	// Destroy must release the block start with the layout it was allocated with
	mockAllocator.EXPECT().Free(base, combined).Return(nil)
	handle.Destroy()
}

func TestAllocationFailurePanics(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockAllocator := mock_narrow.NewMockAllocator(ctrl)
	testAllocator.inner = mockAllocator
	defer func() {
		testAllocator.inner = backingHeap
	}()

	mockAllocator.EXPECT().Alloc(gomock.Any()).Return(unsafe.Pointer(nil), fmt.Errorf("out of memory"))

	require.Panics(t, func() {
		narrow.New[shape](circle{radius: 2})
	})
}
