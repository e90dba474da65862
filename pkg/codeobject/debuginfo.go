package codeobject

import (
	"debug/dwarf"
	"debug/elf"
	"io"
	"sort"

	"github.com/go-kit/log/level"
)

// LineEntry is the source position recorded for one instruction address.
type LineEntry struct {
	File string
	Line int
}

// cuRange is a compilation unit's [low, high) load-address interval.
type cuRange struct {
	low  uint64
	high uint64
}

// loadDebugInfo builds the line-number map and the compilation-unit range
// table from the image's DWARF data. No-op once built, or when the image
// carries no debug information (absence is not an error).
func (co *CodeObject) loadDebugInfo() {
	if co.debugLoaded {
		return
	}
	co.debugLoaded = true
	co.lines = make(map[uint64]LineEntry)

	f, err := elf.NewFile(co.reader)
	if err != nil {
		return
	}
	defer f.Close()

	data, err := f.DWARF()
	if err != nil {
		level.Debug(co.logger).Log("msg", "no debug info for code object", "uri", co.uri, "err", err)
		return
	}

	r := data.Reader()
	for {
		entry, err := r.Next()
		if err != nil || entry == nil {
			break
		}
		if entry.Tag != dwarf.TagCompileUnit {
			r.SkipChildren()
			continue
		}
		if low, high, ok := cuInterval(entry); ok {
			co.cuRanges = append(co.cuRanges, cuRange{
				low:  co.loadAddress + low,
				high: co.loadAddress + high,
			})
		}
		co.readLineTable(data, entry)
		r.SkipChildren()
	}

	sort.Slice(co.cuRanges, func(i, j int) bool {
		return co.cuRanges[i].low < co.cuRanges[j].low
	})

	co.lineAddrs = make([]uint64, 0, len(co.lines))
	for addr := range co.lines {
		co.lineAddrs = append(co.lineAddrs, addr)
	}
	sort.Slice(co.lineAddrs, func(i, j int) bool {
		return co.lineAddrs[i] < co.lineAddrs[j]
	})
}

// cuInterval extracts a compile unit's low/high pc attributes. The high pc
// may be encoded as an absolute address or as an offset from the low pc.
func cuInterval(entry *dwarf.Entry) (uint64, uint64, bool) {
	low, ok := entry.Val(dwarf.AttrLowpc).(uint64)
	if !ok {
		return 0, 0, false
	}
	f := entry.AttrField(dwarf.AttrHighpc)
	if f == nil {
		return 0, 0, false
	}
	switch f.Class {
	case dwarf.ClassAddress:
		high, ok := f.Val.(uint64)
		return low, high, ok
	case dwarf.ClassConstant:
		offset, ok := f.Val.(int64)
		return low, low + uint64(offset), ok
	default:
		return 0, 0, false
	}
}

// readLineTable records every line-program row with a usable address and
// line number. Zero in either field signifies "unknown" and is excluded
// rather than recorded as valid.
func (co *CodeObject) readLineTable(data *dwarf.Data, cu *dwarf.Entry) {
	lr, err := data.LineReader(cu)
	if err != nil || lr == nil {
		return
	}
	for {
		var entry dwarf.LineEntry
		if err := lr.Next(&entry); err != nil {
			if err != io.EOF {
				level.Debug(co.logger).Log("msg", "truncated line table", "uri", co.uri, "err", err)
			}
			break
		}
		if entry.EndSequence || entry.Address == 0 || entry.Line == 0 || entry.File == nil {
			continue
		}
		co.lines[co.loadAddress+entry.Address] = LineEntry{
			File: entry.File.Name,
			Line: entry.Line,
		}
	}
}

// LineEntryAt returns the source position recorded for addr, if any,
// building the debug-info index on first use.
func (co *CodeObject) LineEntryAt(addr uint64) (LineEntry, bool) {
	if !co.opened {
		return LineEntry{}, false
	}
	co.loadDebugInfo()
	le, ok := co.lines[addr]
	return le, ok
}

// fileLineMapped reports whether some instruction address in the line map
// is recorded against (file, line). Used while interleaving source context
// to avoid printing a line that will be shown again at its own address.
func (co *CodeObject) fileLineMapped(file string, line int) bool {
	for _, le := range co.lines {
		if le.File == file && le.Line == line {
			return true
		}
	}
	return false
}

// cuContaining returns the compilation-unit interval holding pc.
func (co *CodeObject) cuContaining(pc uint64) (cuRange, bool) {
	i := sort.Search(len(co.cuRanges), func(i int) bool {
		return co.cuRanges[i].low > pc
	}) - 1
	if i < 0 || pc >= co.cuRanges[i].high {
		return cuRange{}, false
	}
	return co.cuRanges[i], true
}
