package gc

import (
	"context"
	"fmt"
	"unsafe"

	"github.com/jacob-hughes/natrob/memutils"
	"golang.org/x/exp/slices"
	"golang.org/x/exp/slog"
)

// scanState carries one collection cycle's mark phase: the sorted allocation bases
// that addresses resolve against, and the worklist of marked-but-unscanned objects.
type scanState struct {
	collector *Collector
	bases     []uintptr
	worklist  []*object
}

// resolve maps an arbitrary address to the live allocation containing it, or nil.
// Addresses may point anywhere inside an allocation's span, not only at its base.
func (s *scanState) resolve(addr uintptr) *object {
	baseIndex, found := slices.BinarySearch(s.bases, addr)
	if !found {
		baseIndex--
	}
	if baseIndex < 0 {
		return nil
	}

	base := s.bases[baseIndex]
	obj, ok := s.collector.objects.Get(base)
	if !ok {
		return nil
	}
	if addr-base >= uintptr(obj.size) {
		return nil
	}

	return obj
}

func (s *scanState) mark(addr uintptr) {
	obj := s.resolve(addr)
	if obj == nil || obj.marked {
		return
	}

	obj.marked = true
	s.worklist = append(s.worklist, obj)
}

// drain scans every word of every marked object, marking the allocations those words
// address, until no unscanned object remains.
func (s *scanState) drain() {
	for len(s.worklist) > 0 {
		obj := s.worklist[len(s.worklist)-1]
		s.worklist = s.worklist[:len(s.worklist)-1]

		for offset := 0; offset+memutils.WordSize <= obj.size; offset += memutils.WordSize {
			s.mark(*(*uintptr)(unsafe.Add(obj.base, offset)))
		}
	}
}

// Collect runs one full collection cycle: every allocation not reachable from a pin
// has its finalizer run and is reclaimed. Reachability is conservative: any word
// inside a live span whose value is an address inside another span keeps that span
// alive.
//
// All finalizers for a cycle run before any of the cycle's spans are reclaimed, so a
// finalizer may still read other unreachable allocations. Reclamation is
// unconditional once an allocation is found unreachable; finalizers must not attempt
// to resurrect it, and must not call Collect.
func (c *Collector) Collect() {
	scan := &scanState{
		collector: c,
		bases:     make([]uintptr, 0, c.objects.Count()),
		worklist:  make([]*object, 0, c.objects.Count()),
	}
	c.objects.Iter(func(base uintptr, obj *object) bool {
		obj.marked = false
		scan.bases = append(scan.bases, base)
		return false
	})
	slices.Sort(scan.bases)

	c.pins.Iter(func(pin *Pin, _ struct{}) bool {
		scan.mark(pin.address)
		return false
	})
	scan.drain()

	var reclaimed []*object
	c.objects.Iter(func(base uintptr, obj *object) bool {
		if !obj.marked {
			reclaimed = append(reclaimed, obj)
		}

		return false
	})

	for _, obj := range reclaimed {
		if obj.finalizer == nil {
			continue
		}

		fin := obj.finalizer
		obj.finalizer = nil
		fin()
	}

	reclaimedBytes := 0
	for _, obj := range reclaimed {
		err := c.spans.Free(obj.base, obj.layout)
		if err != nil {
			panic(fmt.Sprintf("failed to return a reclaimed span to the heap: %s", err))
		}

		c.objects.Delete(uintptr(obj.base))
		reclaimedBytes += obj.size
	}

	c.cycleCount++
	c.logger.LogAttrs(context.Background(), slog.LevelDebug, "collection cycle complete",
		slog.Int("cycle", c.cycleCount),
		slog.Int("reclaimed.objects", len(reclaimed)),
		slog.Int("reclaimed.bytes", reclaimedBytes),
		slog.Int("live.objects", c.objects.Count()),
	)
}
