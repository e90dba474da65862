package codeobject

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

// Minimal ELF64 little-endian image builder for tests: a .text section, the
// requested LOAD segments and a .symtab. Offsets are fixed and generous;
// nothing here needs to be compact.

type testSegment struct {
	vaddr uint64
	memsz uint64
}

type testSymbol struct {
	name  string
	value uint64
	size  uint64
	info  byte // (bind << 4) | type
}

func funcSymbol(name string, value, size uint64) testSymbol {
	return testSymbol{name: name, value: value, size: size, info: byte(elf.STB_GLOBAL)<<4 | byte(elf.STT_FUNC)}
}

const (
	ehdrSize = 64
	phdrSize = 56
	shdrSize = 64
	symSize  = 24

	phdrOff     = ehdrSize
	textOff     = 0x200
	textSize    = 0x40
	symtabOff   = 0x300
	strtabOff   = 0x400
	shstrtabOff = 0x500
	shdrOff     = 0x600
	imageSize   = shdrOff + 5*shdrSize
)

func buildELF(t *testing.T, segments []testSegment, symbols []testSymbol) []byte {
	t.Helper()

	le := binary.LittleEndian
	img := make([]byte, imageSize)

	// ELF header.
	copy(img, []byte{0x7f, 'E', 'L', 'F', 2 /* ELFCLASS64 */, 1 /* LSB */, 1, 0})
	le.PutUint16(img[16:], uint16(elf.ET_DYN))
	le.PutUint16(img[18:], 0xe0) // EM_AMDGPU
	le.PutUint32(img[20:], 1)
	le.PutUint64(img[32:], phdrOff)
	le.PutUint64(img[40:], shdrOff)
	le.PutUint16(img[52:], ehdrSize)
	le.PutUint16(img[54:], phdrSize)
	le.PutUint16(img[56:], uint16(len(segments)))
	le.PutUint16(img[58:], shdrSize)
	le.PutUint16(img[60:], 5)
	le.PutUint16(img[62:], 4) // .shstrtab index

	require.LessOrEqual(t, phdrOff+len(segments)*phdrSize, textOff)
	for i, seg := range segments {
		p := img[phdrOff+i*phdrSize:]
		le.PutUint32(p[0:], uint32(elf.PT_LOAD))
		le.PutUint32(p[4:], uint32(elf.PF_R|elf.PF_X))
		le.PutUint64(p[8:], textOff)
		le.PutUint64(p[16:], seg.vaddr)
		le.PutUint64(p[24:], seg.vaddr)
		le.PutUint64(p[32:], textSize)
		le.PutUint64(p[40:], seg.memsz)
		le.PutUint64(p[48:], 0x1000)
	}

	// .text contents: recognizable filler.
	for i := 0; i < textSize; i++ {
		img[textOff+i] = byte(i)
	}

	// .symtab: null symbol first, then the given symbols.
	var strtab bytes.Buffer
	strtab.WriteByte(0)
	require.LessOrEqual(t, symtabOff+(1+len(symbols))*symSize, strtabOff)
	for i, sym := range symbols {
		nameOff := strtab.Len()
		strtab.WriteString(sym.name)
		strtab.WriteByte(0)

		p := img[symtabOff+(1+i)*symSize:]
		le.PutUint32(p[0:], uint32(nameOff))
		p[4] = sym.info
		le.PutUint16(p[6:], 1) // defined in .text
		le.PutUint64(p[8:], sym.value)
		le.PutUint64(p[16:], sym.size)
	}
	require.LessOrEqual(t, strtabOff+strtab.Len(), shstrtabOff)
	copy(img[strtabOff:], strtab.Bytes())

	shstrtab := []byte("\x00.text\x00.symtab\x00.strtab\x00.shstrtab\x00")
	copy(img[shstrtabOff:], shstrtab)

	writeShdr := func(i int, name uint32, typ elf.SectionType, addr, off, size uint64, link, info uint32, entsize uint64) {
		p := img[shdrOff+i*shdrSize:]
		le.PutUint32(p[0:], name)
		le.PutUint32(p[4:], uint32(typ))
		le.PutUint64(p[24:], off)
		le.PutUint64(p[16:], addr)
		le.PutUint64(p[32:], size)
		le.PutUint32(p[40:], link)
		le.PutUint32(p[44:], info)
		le.PutUint64(p[48:], 8)
		le.PutUint64(p[56:], entsize)
	}

	textAddr := uint64(0)
	if len(segments) > 0 {
		textAddr = segments[0].vaddr
	}
	writeShdr(1, 1, elf.SHT_PROGBITS, textAddr, textOff, textSize, 0, 0, 0)
	writeShdr(2, 7, elf.SHT_SYMTAB, 0, symtabOff, uint64((1+len(symbols))*symSize), 3, 1, symSize)
	writeShdr(3, 15, elf.SHT_STRTAB, 0, strtabOff, uint64(strtab.Len()), 0, 0, 0)
	writeShdr(4, 23, elf.SHT_STRTAB, 0, shstrtabOff, uint64(len(shstrtab)), 0, 0, 0)

	// The builder output must itself be a well-formed ELF.
	_, err := elf.NewFile(bytes.NewReader(img))
	require.NoError(t, err)

	return img
}
