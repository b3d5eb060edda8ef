//go:build debug_narrow

package narrowgc_test

import (
	"testing"

	"github.com/jacob-hughes/natrob/memutils"
	"github.com/jacob-hughes/natrob/narrowgc"
	"github.com/stretchr/testify/require"
)

func TestOverAlignedLayoutDetected(t *testing.T) {
	collector := newCollector(t)

	wide := memutils.Layout{Size: 64, Align: 2 * memutils.WordAlign}
	require.Panics(t, func() {
		narrowgc.NewFromLayout[blob, blobHeader](collector, wide, func(*blobHeader) {})
	})
}
