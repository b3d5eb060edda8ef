package narrowgc_test

import (
	"math"
	"testing"
	"unsafe"

	"github.com/jacob-hughes/natrob/gc"
	"github.com/jacob-hughes/natrob/memutils"
	"github.com/jacob-hughes/natrob/narrowgc"
	"github.com/stretchr/testify/require"
)

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

func newCollector(t *testing.T) *gc.Collector {
	collector, err := gc.New(nil, gc.CreateOptions{})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, collector.Destroy())
	})

	return collector
}

func TestHandleIsOneWord(t *testing.T) {
	var handle narrowgc.Handle[shape]
	var widened shape

	require.EqualValues(t, memutils.WordSize, unsafe.Sizeof(handle))
	require.EqualValues(t, 2*memutils.WordSize, unsafe.Sizeof(widened))
}

func TestWidenDispatch(t *testing.T) {
	collector := newCollector(t)

	handle := narrowgc.New[shape](collector, circle{radius: 2})
	pin := collector.Pin(handle.Raw())
	defer pin.Unpin()

	direct := &circle{radius: 2}
	widened := handle.Widen()
	require.InDelta(t, 12.566, widened.Area(), 0.001)
	require.Equal(t, direct.Area(), widened.Area())
}

func TestDowncastRoundTrip(t *testing.T) {
	collector := newCollector(t)

	handle := narrowgc.New[shape](collector, circle{radius: 2})
	pin := collector.Pin(handle.Raw())
	defer pin.Unpin()

	ref, ok := narrowgc.Downcast[circle](handle)
	require.True(t, ok)
	require.Equal(t, 2.0, ref.Get().radius)

	ref.Get().radius = 3
	require.InDelta(t, 9*math.Pi, handle.Widen().Area(), 0.001)
}

func TestDowncastMismatch(t *testing.T) {
	collector := newCollector(t)

	handle := narrowgc.New[shape](collector, circle{radius: 2})
	pin := collector.Pin(handle.Raw())
	defer pin.Unpin()

	ref, ok := narrowgc.Downcast[square](handle)
	require.False(t, ok)
	require.Equal(t, unsafe.Pointer(nil), ref.Raw())
}

func TestRecoverRoundTrip(t *testing.T) {
	collector := newCollector(t)

	handle := narrowgc.New[shape](collector, circle{radius: 2})
	pin := collector.Pin(handle.Raw())
	defer pin.Unpin()

	ref, ok := narrowgc.Downcast[circle](handle)
	require.True(t, ok)

	recovered := narrowgc.Recover[shape](ref)
	require.Equal(t, handle.Raw(), recovered.Raw())
	require.InDelta(t, 12.566, recovered.Widen().Area(), 0.001)

	rebuilt := narrowgc.HandleFromRaw[shape](handle.Raw())
	require.Equal(t, handle.Raw(), rebuilt.Raw())
}

func TestZeroSizedPayload(t *testing.T) {
	collector := newCollector(t)

	handle := narrowgc.New[marker](collector, tag{})
	pin := collector.Pin(handle.Raw())
	defer pin.Unpin()

	require.Equal(t, "tagged", handle.Widen().Mark())

	ref, ok := narrowgc.Downcast[tag](handle)
	require.True(t, ok)

	recovered := narrowgc.Recover[marker](ref)
	require.Equal(t, handle.Raw(), recovered.Raw())
}

type blob interface {
	Length() int
}

type blobHeader struct {
	length int64
}

func (b *blobHeader) Length() int { return int(b.length) }

func TestTrailingStorage(t *testing.T) {
	collector := newCollector(t)

	// 64 bytes of payload follow the header in the same block
	layout := memutils.Of[blobHeader]()
	layout.Size += 64

	handle := narrowgc.NewFromLayout[blob](collector, layout, func(header *blobHeader) {
		header.length = 64
	})
	pin := collector.Pin(handle.Raw())
	defer pin.Unpin()

	require.Equal(t, 64, handle.Widen().Length())

	ref, ok := narrowgc.Downcast[blobHeader](handle)
	require.True(t, ok)

	trailing := unsafe.Slice((*byte)(unsafe.Add(ref.Raw(), unsafe.Sizeof(blobHeader{}))), 64)
	for byteIndex := range trailing {
		require.Equal(t, byte(0), trailing[byteIndex])
	}
	for byteIndex := range trailing {
		trailing[byteIndex] = byte(byteIndex)
	}

	require.Equal(t, 64, handle.Widen().Length())
	require.Equal(t, byte(17), trailing[17])
}

func TestNewFromLayoutNilInitializerPanics(t *testing.T) {
	collector := newCollector(t)

	require.Panics(t, func() {
		narrowgc.NewFromLayout[blob, blobHeader](collector, memutils.Of[blobHeader](), nil)
	})
}

type item interface {
	Value() int64
}

var reclaimedIds []int64

type resource struct {
	id int64
}

func (r *resource) Value() int64 { return r.id }
func (r *resource) Finalize()    { reclaimedIds = append(reclaimedIds, r.id) }

func TestFinalizeRunsWhenUnreachable(t *testing.T) {
	collector := newCollector(t)
	reclaimedIds = nil

	handle := narrowgc.New[item](collector, resource{id: 9})
	pin := collector.Pin(handle.Raw())

	collector.Collect()
	require.Empty(t, reclaimedIds)

	pin.Unpin()
	collector.Collect()
	require.Equal(t, []int64{9}, reclaimedIds)
	require.Equal(t, 0, collector.ObjectCount())

	collector.Collect()
	require.Len(t, reclaimedIds, 1)
}

// node carries a handle in its payload, so a chain of nodes stays reachable through
// the collector's scan of the blocks themselves.
type node struct {
	value int64
	next  narrowgc.Handle[item]
}

func (n *node) Value() int64 { return n.value }

func TestHandleInPayloadKeepsChainAlive(t *testing.T) {
	collector := newCollector(t)

	tail := narrowgc.New[item](collector, node{value: 3})
	middle := narrowgc.New[item](collector, node{value: 2, next: tail})
	head := narrowgc.New[item](collector, node{value: 1, next: middle})

	pin := collector.Pin(head.Raw())
	collector.Collect()
	require.Equal(t, 3, collector.ObjectCount())

	var none narrowgc.Handle[item]
	sum := int64(0)
	current := head
	for {
		ref, ok := narrowgc.Downcast[node](current)
		require.True(t, ok)

		sum += ref.Get().value
		if ref.Get().next == none {
			break
		}
		current = ref.Get().next
	}
	require.Equal(t, int64(6), sum)

	// Cutting the chain after the head strands the rest
	headRef, ok := narrowgc.Downcast[node](head)
	require.True(t, ok)
	headRef.Get().next = none

	collector.Collect()
	require.Equal(t, 1, collector.ObjectCount())

	pin.Unpin()
	collector.Collect()
	require.Equal(t, 0, collector.ObjectCount())
}
