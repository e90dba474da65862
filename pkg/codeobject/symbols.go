package codeobject

import (
	"bytes"
	"debug/elf"
	"io"
	"sort"

	"github.com/go-kit/log/level"
	"github.com/ianlancetaylor/demangle"
	"github.com/ulikunitz/xz"
)

// symbols from .symtab, .dynsym, with a .gnu_debugdata fallback

type symbolEntry struct {
	value uint64 // load address + st_value
	size  uint64
	name  string // raw linker name
}

// Symbol is a resolved function symbol enclosing a queried address.
type Symbol struct {
	Name  string
	Value uint64
	Size  uint64
}

// FindSymbol returns the function symbol whose [Value, Value+Size) interval
// contains address. The index is built from the image on first call and
// never rebuilt. Names are demangled best-effort; on demangling failure the
// raw linker name is returned unchanged.
func (co *CodeObject) FindSymbol(address uint64) (Symbol, bool) {
	if !co.opened {
		return Symbol{}, false
	}
	co.loadSymbols()

	// Greatest start address <= the queried one.
	i := sort.Search(len(co.symbols), func(i int) bool {
		return co.symbols[i].value > address
	}) - 1
	if i < 0 {
		return Symbol{}, false
	}
	sym := co.symbols[i]
	if address >= sym.value+sym.size {
		return Symbol{}, false
	}
	return Symbol{
		Name:  demangle.Filter(sym.name),
		Value: sym.value,
		Size:  sym.size,
	}, true
}

// Symbols returns every indexed function symbol, sorted by address.
func (co *CodeObject) Symbols() []Symbol {
	if !co.opened {
		return nil
	}
	co.loadSymbols()

	res := make([]Symbol, len(co.symbols))
	for i, sym := range co.symbols {
		res[i] = Symbol{
			Name:  demangle.Filter(sym.name),
			Value: sym.value,
			Size:  sym.size,
		}
	}
	return res
}

func (co *CodeObject) loadSymbols() {
	if co.symbolsLoaded {
		return
	}
	co.symbolsLoaded = true

	f, err := elf.NewFile(co.reader)
	if err != nil {
		level.Warn(co.logger).Log("msg", "could not parse code object image", "uri", co.uri, "err", err)
		return
	}
	defer f.Close()

	byAddr := make(map[uint64]symbolEntry)
	collectSymbols(f, co.loadAddress, byAddr)

	if len(byAddr) == 0 {
		// Stripped binaries may still carry an xz-compressed MiniDebugInfo
		// image with the function symbols.
		if mdf := co.openMiniDebugInfo(f); mdf != nil {
			collectSymbols(mdf, co.loadAddress, byAddr)
			mdf.Close()
		}
	}

	co.symbols = make([]symbolEntry, 0, len(byAddr))
	for _, sym := range byAddr {
		co.symbols = append(co.symbols, sym)
	}
	sort.Slice(co.symbols, func(i, j int) bool {
		return co.symbols[i].value < co.symbols[j].value
	})
}

// collectSymbols merges the function symbols of both symbol tables into
// byAddr. Where two symbols share a start address the one covering the
// larger range wins.
func collectSymbols(f *elf.File, loadAddress uint64, byAddr map[uint64]symbolEntry) {
	for _, table := range []func() ([]elf.Symbol, error){f.Symbols, f.DynamicSymbols} {
		syms, err := table()
		if err != nil {
			continue
		}
		for _, sym := range syms {
			if elf.ST_TYPE(sym.Info) != elf.STT_FUNC || sym.Section == elf.SHN_UNDEF {
				continue
			}
			entry := symbolEntry{
				value: loadAddress + sym.Value,
				size:  sym.Size,
				name:  sym.Name,
			}
			if prev, ok := byAddr[entry.value]; ok && prev.size >= entry.size {
				continue
			}
			byAddr[entry.value] = entry
		}
	}
}

func (co *CodeObject) openMiniDebugInfo(f *elf.File) *elf.File {
	section := f.Section(".gnu_debugdata")
	if section == nil {
		return nil
	}
	data, err := section.Data()
	if err != nil {
		return nil
	}
	r, err := xz.NewReader(bytes.NewReader(data))
	if err != nil {
		level.Warn(co.logger).Log("msg", "could not decompress .gnu_debugdata", "uri", co.uri, "err", err)
		return nil
	}
	var uncompressed bytes.Buffer
	if _, err := io.Copy(&uncompressed, r); err != nil {
		level.Warn(co.logger).Log("msg", "could not decompress .gnu_debugdata", "uri", co.uri, "err", err)
		return nil
	}
	mdf, err := elf.NewFile(bytes.NewReader(uncompressed.Bytes()))
	if err != nil {
		level.Warn(co.logger).Log("msg", "malformed MiniDebugInfo image", "uri", co.uri, "err", err)
		return nil
	}
	return mdf
}
