// Package machoutil holds small helpers shared by the annotation engine's
// sub-packages, built only on the exported surface of the macho package (no
// access to its unexported fields).
package machoutil

import (
	"bytes"
	"encoding/binary"
	"fmt"

	macho "github.com/otxgo/otx"
	"github.com/otxgo/otx/types"
)

// Is64 reports whether the image uses 64-bit Mach-O records.
func Is64(f *macho.File) bool {
	return f.FileHeader.Magic == types.Magic64
}

// PointerSize returns 8 for 64-bit images, 4 otherwise.
func PointerSize(f *macho.File) uint64 {
	if Is64(f) {
		return 8
	}
	return 4
}

// ReadAtAddr reads len(buf) bytes starting at the given virtual address.
func ReadAtAddr(f *macho.File, buf []byte, addr uint64) (int, error) {
	off, err := f.GetOffset(addr)
	if err != nil {
		return 0, err
	}
	return f.ReadAt(buf, int64(off))
}

// ReadStruct decodes a fixed-size struct at the given virtual address using
// the image's own byte order, exactly the way objc.go decodes v2 metadata.
func ReadStruct(f *macho.File, addr uint64, out any) error {
	size := binary.Size(out)
	if size < 0 {
		return fmt.Errorf("machoutil: type %T has no fixed size", out)
	}
	buf := make([]byte, size)
	if _, err := ReadAtAddr(f, buf, addr); err != nil {
		return fmt.Errorf("failed to read %T at %#x: %w", out, addr, err)
	}
	return binary.Read(bytes.NewReader(buf), f.ByteOrder, out)
}

// ReadPointer reads one native-width pointer at addr, zero-extended to uint64.
func ReadPointer(f *macho.File, addr uint64) (uint64, error) {
	if Is64(f) {
		var v uint64
		buf := make([]byte, 8)
		if _, err := ReadAtAddr(f, buf, addr); err != nil {
			return 0, err
		}
		v = f.ByteOrder.Uint64(buf)
		return v, nil
	}
	buf := make([]byte, 4)
	if _, err := ReadAtAddr(f, buf, addr); err != nil {
		return 0, err
	}
	return uint64(f.ByteOrder.Uint32(buf)), nil
}
