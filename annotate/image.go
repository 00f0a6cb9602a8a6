package annotate

import (
	"errors"
	"os"

	macho "github.com/otxgo/otx"
	"github.com/otxgo/otx/types"
)

// cpuForSelector maps the closed architecture selector set onto the Mach-O
// CPU type used in headers and fat arch records.
func cpuForSelector(arch string) (types.CPU, bool) {
	switch arch {
	case "ppc":
		return types.CPUPpc, true
	case "ppc64":
		return types.CPUPpc64, true
	case "i386":
		return types.CPU386, true
	case "x86_64":
		return types.CPUAmd64, true
	}
	return 0, false
}

// LoadImage opens the Mach-O executable at path and returns the image for
// the requested architecture. A fat archive yields its matching slice; a
// thin file must itself match. The returned file is read-only for the rest
// of annotation.
func LoadImage(path, arch string) (*macho.File, error) {
	cpu, ok := cpuForSelector(arch)
	if !ok {
		return nil, errf(ErrUnsupported, "unknown architecture %q", arch)
	}

	ff, err := macho.OpenFat(path)
	if err == nil {
		slice, ok := ff.Slice(cpu)
		if !ok {
			ff.Close()
			return nil, errf(ErrUnsupported, "%s: fat archive has no %s slice", path, arch)
		}
		return slice.File, nil
	}
	if !errors.Is(err, macho.ErrNotFat) {
		if os.IsNotExist(err) {
			return nil, wrapErr(ErrIO, err, "%s", path)
		}
		var fe *macho.FormatError
		if errors.As(err, &fe) {
			return nil, wrapErr(ErrFormat, err, "%s", path)
		}
		return nil, wrapErr(ErrIO, err, "%s", path)
	}

	f, err := macho.Open(path)
	if err != nil {
		var fe *macho.FormatError
		if errors.As(err, &fe) {
			return nil, wrapErr(ErrFormat, err, "%s", path)
		}
		return nil, wrapErr(ErrIO, err, "%s", path)
	}
	if f.CPU != cpu {
		f.Close()
		return nil, errf(ErrUnsupported, "%s: image is %s, not %s", path, f.CPU, arch)
	}
	return f, nil
}
