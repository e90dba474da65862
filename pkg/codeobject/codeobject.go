// Package codeobject resolves, indexes and renders loaded GPU code objects.
//
// A code object is an ELF image the runtime loaded onto a device. Its bytes
// originate either from a file or from a region of process memory, as
// described by the object's URI. Open materializes the bytes into an owned
// in-memory image; the symbol and debug-info indices are built lazily from
// that image on first use and kept for the object's lifetime.
package codeobject

import (
	"bytes"
	"debug/elf"
	"encoding/hex"
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
)

// CodeObject is one loaded device binary. A CodeObject is not safe for
// concurrent use; the whole diagnostic pass runs serialized under the
// dispatcher's lock.
type CodeObject struct {
	logger log.Logger
	mem    MemoryReader // backs the memory:// scheme, may be nil

	id          uint64
	uri         string
	loadAddress uint64
	memSize     uint64

	opened bool
	err    error
	image  []byte
	reader *bytes.Reader

	symbols       []symbolEntry
	symbolsLoaded bool

	lineAddrs   []uint64
	lines       map[uint64]LineEntry
	cuRanges    []cuRange
	debugLoaded bool
}

// New returns an unopened CodeObject. id and loadAddress come from the
// runtime's code object metadata; mem is consulted only for the memory://
// scheme and may be nil otherwise.
func New(logger log.Logger, id uint64, uri string, loadAddress uint64, mem MemoryReader) *CodeObject {
	return &CodeObject{
		logger:      log.With(logger, "code_object", id),
		mem:         mem,
		id:          id,
		uri:         uri,
		loadAddress: loadAddress,
	}
}

func (co *CodeObject) ID() uint64 { return co.id }

func (co *CodeObject) URI() string { return co.uri }

func (co *CodeObject) LoadAddress() uint64 { return co.loadAddress }

// MemSize is the object's in-memory footprint, valid only after a
// successful Open. Zero when the footprint could not be determined.
func (co *CodeObject) MemSize() uint64 { return co.memSize }

// IsOpen reports whether the object's bytes have been materialized. The
// symbol, debug-info and disassembly operations refuse to run on an
// unopened object.
func (co *CodeObject) IsOpen() bool { return co.opened }

// Contains reports whether pc falls inside the object's loaded interval.
// Requires a successful Open with a known footprint.
func (co *CodeObject) Contains(pc uint64) bool {
	return co.opened && pc >= co.loadAddress && pc < co.loadAddress+co.memSize
}

// Open materializes the object's bytes according to its URI and computes the
// in-memory footprint from the image's LOAD segments. It is a no-op after
// the first success. Every failure is a warning: it is logged, returned for
// the caller's accounting and leaves the object unopened, but must never
// take down the diagnostic pass.
func (co *CodeObject) Open() error {
	if co.opened {
		return nil
	}

	image, err := co.resolve()
	if err != nil {
		co.err = err
		level.Warn(co.logger).Log("msg", "could not open code object", "uri", co.uri, "err", err)
		return err
	}

	co.image = image
	co.reader = bytes.NewReader(image)
	co.opened = true

	// The footprint is display/clipping metadata only: a malformed ELF
	// leaves it at zero but the materialized image stays usable.
	if err := co.readFootprint(); err != nil {
		level.Warn(co.logger).Log("msg", "could not compute code object footprint", "uri", co.uri, "err", err)
	}

	if id := co.gnuBuildID(); id != "" {
		level.Debug(co.logger).Log("msg", "opened code object", "uri", co.uri, "build_id", id, "mem_size", co.memSize)
	} else {
		level.Debug(co.logger).Log("msg", "opened code object", "uri", co.uri, "mem_size", co.memSize)
	}
	return nil
}

// resolve fetches the raw bytes named by the URI.
func (co *CodeObject) resolve() ([]byte, error) {
	uri, err := ParseURI(co.uri)
	if err != nil {
		return nil, err
	}

	offset, _, err := uri.UintParam("offset")
	if err != nil {
		return nil, err
	}
	size, _, err := uri.UintParam("size")
	if err != nil {
		return nil, err
	}

	switch uri.Scheme {
	case "file":
		return readFileRange(uri.Path, offset, size)
	case "memory":
		if offset == 0 || size == 0 {
			return nil, errors.Errorf("invalid uri %q: offset and size must be non-zero", co.uri)
		}
		if co.mem == nil {
			return nil, errors.Errorf("no memory reader for uri %q", co.uri)
		}
		buf := make([]byte, size)
		n, err := co.mem.ReadMemory(offset, buf)
		if err != nil {
			return nil, errors.Wrapf(err, "could not read memory at 0x%x", offset)
		}
		return buf[:n], nil
	default:
		return nil, errors.Errorf("%q protocol not supported", uri.Scheme)
	}
}

// readFileRange reads size bytes at offset. size zero means "to end of
// file"; a file shorter than offset is rejected.
func readFileRange(path string, offset, size uint64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not open %q", path)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, errors.Wrapf(err, "could not stat %q", path)
	}
	if uint64(fi.Size()) < offset {
		return nil, errors.Errorf("invalid uri for %q: file size < offset", path)
	}
	if size == 0 {
		size = uint64(fi.Size()) - offset
	}

	buf := make([]byte, size)
	n, err := f.ReadAt(buf, int64(offset))
	if err != nil && n == 0 {
		return nil, errors.Wrapf(err, "could not read %q", path)
	}
	return buf[:n], nil
}

// readFootprint parses the image's program headers and records the end of
// the highest LOAD segment as the object's in-memory size.
func (co *CodeObject) readFootprint() error {
	f, err := elf.NewFile(co.reader)
	if err != nil {
		return err
	}
	defer f.Close()

	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		if end := prog.Vaddr + prog.Memsz; end > co.memSize {
			co.memSize = end
		}
	}
	return nil
}

// gnuBuildID extracts the hex GNU build ID note, if the image carries one.
func (co *CodeObject) gnuBuildID() string {
	f, err := elf.NewFile(co.reader)
	if err != nil {
		return ""
	}
	defer f.Close()

	section := f.Section(".note.gnu.build-id")
	if section == nil {
		return ""
	}
	data, err := section.Data()
	if err != nil || len(data) < 16 {
		return ""
	}
	if !bytes.Equal([]byte("GNU"), data[12:15]) {
		return ""
	}
	return hex.EncodeToString(data[16:])
}
