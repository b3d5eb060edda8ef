package iface_test

import (
	"fmt"
	"reflect"
	"testing"
	"unsafe"

	"github.com/jacob-hughes/natrob/internal/iface"
	"github.com/stretchr/testify/require"
)

type phrase struct {
	text string
}

func (p *phrase) String() string { return p.text }

type number struct {
	value int
}

func (n *number) String() string { return fmt.Sprintf("%d", n.value) }

type wordless struct{}

func TestTabOfIsInterned(t *testing.T) {
	first := iface.TabOf[fmt.Stringer, phrase]()
	second := iface.TabOf[fmt.Stringer, phrase]()

	require.NotEqual(t, unsafe.Pointer(nil), first)
	require.Equal(t, first, second)
}

func TestTabOfDistinguishesTypes(t *testing.T) {
	phraseTab := iface.TabOf[fmt.Stringer, phrase]()
	numberTab := iface.TabOf[fmt.Stringer, number]()

	require.NotEqual(t, phraseTab, numberTab)
}

func TestAssembleRoundTrip(t *testing.T) {
	value := phrase{text: "some text"}
	tab := iface.TabOf[fmt.Stringer, phrase]()

	assembled := iface.Assemble[fmt.Stringer](tab, unsafe.Pointer(&value))
	require.Equal(t, "some text", assembled.String())
	require.Equal(t, unsafe.Pointer(&value), iface.Data(assembled))

	// Assembled values must behave like naturally-converted ones
	typed, ok := assembled.(*phrase)
	require.True(t, ok)
	require.Same(t, &value, typed)
	require.Equal(t, reflect.TypeOf(&value), reflect.TypeOf(assembled))
}

func TestAssembleEmptyInterface(t *testing.T) {
	value := number{value: 33}
	tab := iface.TabOf[any, number]()

	assembled := iface.Assemble[any](tab, unsafe.Pointer(&value))
	typed, ok := assembled.(*number)
	require.True(t, ok)
	require.Same(t, &value, typed)
}

func TestTabOfPanicsWhenNotImplemented(t *testing.T) {
	require.Panics(t, func() {
		iface.TabOf[fmt.Stringer, wordless]()
	})
}
