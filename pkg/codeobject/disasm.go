package codeobject

import (
	"fmt"
	"io"
	"sort"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/nakajee/rocr-debug-agent/pkg/sourcecache"
)

// contextByteSize is how many bytes of context the report shows around the
// faulting address.
const contextByteSize = 32

// Disassembler renders a symbolized, source-annotated listing around one
// faulting address. Instruction bytes are fetched through Memory, not from
// the materialized image: the report shows what the device actually ran.
type Disassembler struct {
	Logger  log.Logger
	Arch    Architecture
	Memory  MemoryReader
	Sources *sourcecache.Cache
	Out     io.Writer
}

// Disassemble writes the listing for the instruction window around pc.
// Missing symbols, line tables or source files only degrade the annotation;
// an unreadable address terminates the listing with a marker instead of
// failing it.
func (d *Disassembler) Disassemble(co *CodeObject, pc uint64) {
	if !co.IsOpen() {
		level.Warn(d.Logger).Log("msg", "refusing to disassemble unopened code object", "uri", co.URI())
		return
	}
	co.loadDebugInfo()

	startPC, endPC := d.window(co, pc)

	sym, hasSym := co.FindSymbol(pc)

	fmt.Fprintf(d.Out, "\nDisassembly")
	if hasSym {
		fmt.Fprintf(d.Out, " for function %s", sym.Name)
	}
	fmt.Fprintf(d.Out, ":\n")
	fmt.Fprintf(d.Out, "    code object: %s\n", co.URI())
	fmt.Fprintf(d.Out, "    loaded at: [0x%x-0x%x]\n", co.LoadAddress(), co.LoadAddress()+co.MemSize())

	var prevFile string
	prevLine := 0
	buf := make([]byte, d.Arch.LargestInstructionSize())

	for addr := startPC; addr < endPC; {
		if le, ok := co.lines[addr]; ok {
			d.printSourceContext(co, le, prevFile, prevLine)
			prevFile, prevLine = le.File, le.Line
		}

		n, err := d.Memory.ReadMemory(addr, buf)
		if err != nil || n == 0 {
			fmt.Fprintf(d.Out, "Cannot access memory at address 0x%x\n", addr)
			break
		}

		text, size, err := d.Arch.DisassembleInstruction(addr, buf[:n], func(a uint64) string {
			return d.symbolizeOperand(co, a)
		})
		if err != nil {
			level.Error(d.Logger).Log("msg", "could not disassemble instruction", "addr", fmt.Sprintf("0x%x", addr), "err", err)
			fmt.Fprintf(d.Out, "Cannot disassemble instruction at address 0x%x\n", addr)
			break
		}

		marker := "    "
		if addr == pc {
			marker = " => "
		}
		fmt.Fprintf(d.Out, "%s0x%x", marker, addr)
		if hasSym {
			if addr >= sym.Value {
				fmt.Fprintf(d.Out, " <+%d>", addr-sym.Value)
			} else {
				fmt.Fprintf(d.Out, " <-%d>", sym.Value-addr)
			}
		}
		fmt.Fprintf(d.Out, ":    %s\n", text)

		if size == 0 {
			// A zero-length decode would never advance the cursor.
			break
		}
		addr += size
	}

	fmt.Fprintf(d.Out, "\nEnd of disassembly.\n")
}

// window picks the [start, end) address interval to render. The start is
// walked back along known line-table addresses so the listing begins on a
// validated instruction boundary; without a line table no instructions
// before pc are shown, since variable-size encodings give no reliable way
// to step backwards. Both bounds are clamped to the compilation unit
// containing pc, when known.
func (d *Disassembler) window(co *CodeObject, pc uint64) (uint64, uint64) {
	startPC := pc
	if i := sort.Search(len(co.lineAddrs), func(i int) bool {
		return co.lineAddrs[i] > pc
	}); i > 0 {
		i--
		for i > 0 && pc-co.lineAddrs[i] < contextByteSize {
			i--
		}
		startPC = co.lineAddrs[i]
	}
	endPC := pc + contextByteSize

	if cu, ok := co.cuContaining(pc); ok {
		if cu.low > startPC {
			startPC = cu.low
		}
		if cu.high < endPC {
			endPC = cu.high
		}
	}
	return startPC, endPC
}

// printSourceContext emits the source block leading up to le. Lines that
// are themselves recorded at another instruction address are left out: they
// will be shown when the listing reaches their own address.
func (d *Disassembler) printSourceContext(co *CodeObject, le LineEntry, prevFile string, prevLine int) {
	if le.File != prevFile || le.Line != prevLine {
		fmt.Fprintln(d.Out)
	}
	if le.File != prevFile {
		fmt.Fprintf(d.Out, "%s:\n", le.File)
	}
	if le.Line == prevLine {
		return
	}

	first := le.Line
	if le.File == prevFile && le.Line > prevLine {
		for first-1 > prevLine && !co.fileLineMapped(le.File, first-1) {
			first--
		}
	}

	lines, ok := d.Sources.Lines(le.File)
	for line := first; line <= le.Line; line++ {
		fmt.Fprintf(d.Out, "%-8d", line)
		if !ok {
			fmt.Fprintf(d.Out, "%s: No such file or directory.", le.File)
		} else if line <= len(lines) {
			fmt.Fprint(d.Out, lines[line-1])
		}
		fmt.Fprintln(d.Out)
	}
}

func (d *Disassembler) symbolizeOperand(co *CodeObject, addr uint64) string {
	if sym, ok := co.FindSymbol(addr); ok {
		return fmt.Sprintf("0x%x <%s+%d>", addr, sym.Name, addr-sym.Value)
	}
	return fmt.Sprintf("0x%x", addr)
}
