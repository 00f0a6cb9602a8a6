package annotate

import (
	"bufio"
	"io"
	"strings"
	"time"
)

// Demangler turns a mangled C++ symbol name into its readable form. It is
// a scoped collaborator: acquired at annotator construction, released at
// teardown, and consulted one name at a time.
type Demangler interface {
	Demangle(name string) (string, error)
}

// PipeDemangler adapts a line-oriented external filter (c++filt and
// friends): one name written per line, one demangled line read back. A
// read that produces no terminating newline within Timeout falls back to
// the original name and processing continues.
type PipeDemangler struct {
	W       io.Writer
	R       io.Reader
	Timeout time.Duration

	br    *bufio.Reader
	lines chan lineResult
}

type lineResult struct {
	text string
	err  error
}

// NewPipeDemangler wraps the filter's stdin/stdout pipe ends. A zero
// timeout means one second.
func NewPipeDemangler(w io.Writer, r io.Reader, timeout time.Duration) *PipeDemangler {
	if timeout == 0 {
		timeout = time.Second
	}
	d := &PipeDemangler{W: w, R: r, Timeout: timeout, br: bufio.NewReader(r), lines: make(chan lineResult)}
	go d.readLoop()
	return d
}

func (d *PipeDemangler) readLoop() {
	for {
		text, err := d.br.ReadString('\n')
		d.lines <- lineResult{text: strings.TrimRight(text, "\n"), err: err}
		if err != nil {
			return
		}
	}
}

// Demangle writes name to the filter and waits up to Timeout for the
// response line. On timeout or filter failure the original name is
// returned along with the error; the caller keeps going either way.
func (d *PipeDemangler) Demangle(name string) (string, error) {
	if _, err := io.WriteString(d.W, name+"\n"); err != nil {
		return name, err
	}
	select {
	case res := <-d.lines:
		if res.err != nil {
			return name, res.err
		}
		if res.text == "" {
			return name, nil
		}
		return res.text, nil
	case <-time.After(d.Timeout):
		return name, errf(ErrToolchain, "demangler produced no output for %q", name)
	}
}

// isMangledCpp reports whether a symbol looks like an Itanium-ABI mangled
// C++ name, with or without the Mach-O leading underscore.
func isMangledCpp(name string) bool {
	return strings.HasPrefix(name, "__Z") || strings.HasPrefix(name, "_Z")
}
