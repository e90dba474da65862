package codeobject

import (
	"fmt"
)

// MemoryReader reads from the target process's GPU-visible global address
// space. It backs the memory:// URI scheme and the instruction fetches done
// while disassembling.
type MemoryReader interface {
	// ReadMemory reads up to len(p) bytes at addr, returning the number of
	// bytes read.
	ReadMemory(addr uint64, p []byte) (int, error)
}

// SymbolizeFunc renders an address referenced by an instruction operand as
// text, typically "0xADDR <name+offset>".
type SymbolizeFunc func(addr uint64) string

// Architecture is the device instruction-set collaborator: it knows the
// maximum encoded instruction size and how to decode a single instruction.
type Architecture interface {
	// LargestInstructionSize is the upper bound on the byte size of one
	// encoded instruction.
	LargestInstructionSize() uint64
	// DisassembleInstruction decodes the instruction at addr from code,
	// rendering any operand addresses through symbolize. It returns the
	// instruction text and its encoded size.
	DisassembleInstruction(addr uint64, code []byte, symbolize SymbolizeFunc) (string, uint64, error)
}

// ImageMemory serves memory reads out of a code object's materialized image,
// as if the object were loaded at its reported load address. It stands in
// for live process memory when inspecting a code object offline.
type ImageMemory struct {
	Base  uint64
	Image []byte
}

// NewImageMemory returns an ImageMemory over the given open code object.
func NewImageMemory(co *CodeObject) *ImageMemory {
	return &ImageMemory{Base: co.LoadAddress(), Image: co.image}
}

func (m *ImageMemory) ReadMemory(addr uint64, p []byte) (int, error) {
	if addr < m.Base || addr >= m.Base+uint64(len(m.Image)) {
		return 0, fmt.Errorf("address 0x%x outside image [0x%x-0x%x)", addr, m.Base, m.Base+uint64(len(m.Image)))
	}
	n := copy(p, m.Image[addr-m.Base:])
	return n, nil
}
