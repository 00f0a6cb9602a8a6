// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package macho

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/otxgo/otx/types"
)

// A FatFile is a Mach-O universal binary that contains at least one architecture.
type FatFile struct {
	Magic  types.Magic
	Arches []FatArch
	closer io.Closer
}

// A FatArchHeader represents a fat header for a specific image architecture.
type FatArchHeader struct {
	CPU    types.CPU
	SubCPU types.CPUSubtype
	Offset uint32
	Size   uint32
	Align  uint32
}

const fatArchHeaderSize = 5 * 4

// A FatArch is a Mach-O File inside a FatFile.
type FatArch struct {
	FatArchHeader
	*File
}

// ErrNotFat is returned from NewFatFile or OpenFat when the file is not a
// universal binary but may be a thin Mach-O file, to aid the client in
// searching for the correct architecture-specific Mach-O file.
var ErrNotFat = &FormatError{0, "not a fat Mach-O file", nil}

// NewFatFile creates a new FatFile for accessing all the Mach-O images in a
// universal binary. The Mach-O binary is expected to start at position 0 in
// the ReaderAt.
func NewFatFile(r io.ReaderAt) (*FatFile, error) {
	var ff FatFile
	sr := io.NewSectionReader(r, 0, 1<<63-1)

	// Read the magic number and number of fat architectures, then the
	// architecture headers. The fat header and its architecture headers are
	// always stored big-endian, whatever the byte order of the thin images
	// they describe.
	var ihdr struct {
		Magic uint32
		Narch uint32
	}
	if err := binary.Read(sr, binary.BigEndian, &ihdr); err != nil {
		return nil, &FormatError{0, "error reading magic number", nil}
	}
	be := types.Magic(ihdr.Magic)
	if be != types.MagicFat {
		return nil, ErrNotFat
	}
	ff.Magic = be

	if ihdr.Narch == 0 {
		return nil, &FormatError{4, "file contains no images", nil}
	}

	offset := int64(8)
	for i := uint32(0); i < ihdr.Narch; i++ {
		var fatArch32 struct {
			Cputype    uint32
			Cpusubtype uint32
			Offset     uint32
			Size       uint32
			Align      uint32
		}
		if err := binary.Read(sr, binary.BigEndian, &fatArch32); err != nil {
			return nil, &FormatError{offset, "error reading fat arch header", nil}
		}
		fa := FatArch{
			FatArchHeader: FatArchHeader{
				CPU:    types.CPU(fatArch32.Cputype),
				SubCPU: types.CPUSubtype(fatArch32.Cpusubtype),
				Offset: fatArch32.Offset,
				Size:   fatArch32.Size,
				Align:  fatArch32.Align,
			},
		}
		fr := io.NewSectionReader(r, int64(fa.Offset), int64(fa.Size))
		f, err := NewFile(fr)
		if err != nil {
			return nil, fmt.Errorf("error reading fat arch %#x: %w", fa.CPU, err)
		}
		fa.File = f
		ff.Arches = append(ff.Arches, fa)
		offset += fatArchHeaderSize
	}

	return &ff, nil
}

// OpenFat opens the named file using os.Open and prepares it for use as a
// Mach-O universal binary.
func OpenFat(name string) (ff *FatFile, err error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	ff, err = NewFatFile(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	ff.closer = f
	return ff, nil
}

// Close closes the FatFile. If the FatFile was created using NewFatFile
// directly instead of OpenFat, Close has no effect.
func (ff *FatFile) Close() error {
	var err error
	if ff.closer != nil {
		err = ff.closer.Close()
		ff.closer = nil
	}
	return err
}

// Slice returns the fat archive's image matching cpu, or nil if no
// architecture in the archive matches.
func (ff *FatFile) Slice(cpu types.CPU) (*FatArch, bool) {
	for i := range ff.Arches {
		if ff.Arches[i].CPU == cpu {
			return &ff.Arches[i], true
		}
	}
	return nil, false
}
