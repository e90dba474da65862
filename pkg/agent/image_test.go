package agent

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

// buildTestImage returns a minimal ELF64 image with a single LOAD segment of
// 0x100 bytes at vaddr 0, padded so instruction fetches inside the segment
// succeed. No sections, no symbols: the session tests only need the
// footprint and readable code bytes.
func buildTestImage(t *testing.T) []byte {
	t.Helper()

	le := binary.LittleEndian
	img := make([]byte, 0x200)

	copy(img, []byte{0x7f, 'E', 'L', 'F', 2, 1, 1, 0})
	le.PutUint16(img[16:], uint16(elf.ET_DYN))
	le.PutUint16(img[18:], 0xe0) // EM_AMDGPU
	le.PutUint32(img[20:], 1)
	le.PutUint64(img[32:], 64) // e_phoff
	le.PutUint16(img[52:], 64) // e_ehsize
	le.PutUint16(img[54:], 56) // e_phentsize
	le.PutUint16(img[56:], 1)  // e_phnum
	le.PutUint16(img[58:], 64) // e_shentsize

	p := img[64:]
	le.PutUint32(p[0:], uint32(elf.PT_LOAD))
	le.PutUint32(p[4:], uint32(elf.PF_R|elf.PF_X))
	le.PutUint64(p[8:], 0)      // p_offset
	le.PutUint64(p[16:], 0)     // p_vaddr
	le.PutUint64(p[32:], 0x100) // p_filesz
	le.PutUint64(p[40:], 0x100) // p_memsz
	le.PutUint64(p[48:], 0x1000)

	_, err := elf.NewFile(bytes.NewReader(img))
	require.NoError(t, err)

	return img
}
