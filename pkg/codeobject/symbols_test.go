package codeobject

import (
	"testing"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/require"
)

func openTestObject(t *testing.T, loadAddress uint64, symbols []testSymbol) *CodeObject {
	t.Helper()
	img := buildELF(t, []testSegment{{vaddr: 0, memsz: 0x10000}}, symbols)
	path := writeImage(t, img)

	co := New(log.NewNopLogger(), 1, "file://"+path, loadAddress, nil)
	require.NoError(t, co.Open())
	return co
}

func TestFindSymbol(t *testing.T) {
	co := openTestObject(t, 0, []testSymbol{
		funcSymbol("f", 0x100, 0x10),
	})

	sym, found := co.FindSymbol(0x105)
	require.True(t, found)
	require.Equal(t, "f", sym.Name)
	require.Equal(t, uint64(0x100), sym.Value)
	require.Equal(t, uint64(0x10), sym.Size)
	require.Equal(t, uint64(5), 0x105-sym.Value)

	// Start address is inclusive, end is exclusive.
	_, found = co.FindSymbol(0x100)
	require.True(t, found)
	_, found = co.FindSymbol(0x110)
	require.False(t, found)

	// Outside any symbol.
	_, found = co.FindSymbol(0x200)
	require.False(t, found)
	_, found = co.FindSymbol(0x50)
	require.False(t, found)
}

func TestFindSymbolLargerSizeWinsOnCollision(t *testing.T) {
	co := openTestObject(t, 0, []testSymbol{
		funcSymbol("small", 0x100, 4),
		funcSymbol("large", 0x100, 8),
	})

	sym, found := co.FindSymbol(0x100)
	require.True(t, found)
	require.Equal(t, "large", sym.Name)
	require.Equal(t, uint64(8), sym.Size)

	// Order must not matter.
	co = openTestObject(t, 0, []testSymbol{
		funcSymbol("large", 0x100, 8),
		funcSymbol("small", 0x100, 4),
	})
	sym, found = co.FindSymbol(0x100)
	require.True(t, found)
	require.Equal(t, "large", sym.Name)
}

func TestFindSymbolAppliesLoadAddress(t *testing.T) {
	co := openTestObject(t, 0x7f0000, []testSymbol{
		funcSymbol("kernel", 0x1000, 0x40),
	})

	_, found := co.FindSymbol(0x1000)
	require.False(t, found)

	sym, found := co.FindSymbol(0x7f1020)
	require.True(t, found)
	require.Equal(t, "kernel", sym.Name)
	require.Equal(t, uint64(0x7f1000), sym.Value)
}

func TestFindSymbolIgnoresNonFunctionSymbols(t *testing.T) {
	object := testSymbol{name: "data", value: 0x100, size: 0x10, info: 0x11} // STB_GLOBAL, STT_OBJECT
	co := openTestObject(t, 0, []testSymbol{object})

	_, found := co.FindSymbol(0x105)
	require.False(t, found)
	require.Empty(t, co.Symbols())
}

func TestFindSymbolDemanglesNames(t *testing.T) {
	co := openTestObject(t, 0, []testSymbol{
		funcSymbol("_Z3addii", 0x100, 0x10),
		funcSymbol("plain_c_name", 0x200, 0x10),
	})

	sym, found := co.FindSymbol(0x100)
	require.True(t, found)
	require.Equal(t, "add(int, int)", sym.Name)

	// A name that does not demangle is returned unchanged.
	sym, found = co.FindSymbol(0x200)
	require.True(t, found)
	require.Equal(t, "plain_c_name", sym.Name)
}

func TestSymbolsSortedByAddress(t *testing.T) {
	co := openTestObject(t, 0, []testSymbol{
		funcSymbol("c", 0x300, 0x10),
		funcSymbol("a", 0x100, 0x10),
		funcSymbol("b", 0x200, 0x10),
	})

	syms := co.Symbols()
	require.Len(t, syms, 3)
	require.Equal(t, []string{"a", "b", "c"}, []string{syms[0].Name, syms[1].Name, syms[2].Name})
}
