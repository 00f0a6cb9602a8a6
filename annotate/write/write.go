// Package write renders the annotated listing: field-aligned code lines,
// optional entabification, the output header with its reserved checksum
// line, and the trailing data-section dumps.
package write

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"
)

// Field-width and length caps for one rendered line.
const (
	MaxFieldSpacing   = 50
	MaxOperandsLength = 1000
	MaxCommentLength  = 2000
	MaxLineLength     = 10000
)

// entabWidth is the column granularity for Entabify's tab stops.
const entabWidth = 4

// checksumPlaceholder marks the reserved line the caller overwrites with
// the real digest after the rest of the output exists.
const checksumPlaceholder = "md5: "

// FieldWidths holds the pre-entabification character count of each aligned
// field. A single space between fields is added by the formatter itself.
type FieldWidths struct {
	Offset      uint16
	Address     uint16
	Instruction uint16
	Mnemonic    uint16
	Operands    uint16
}

// Widen grows each width to fit the given rendered field values, capped at
// MaxFieldSpacing so one pathological line cannot blow out every column.
func (w *FieldWidths) Widen(offset, address, instruction, mnemonic, operands string) {
	grow := func(cur *uint16, s string) {
		n := len(s)
		if n > MaxFieldSpacing {
			n = MaxFieldSpacing
		}
		if uint16(n) > *cur {
			*cur = uint16(n)
		}
	}
	grow(&w.Offset, offset)
	grow(&w.Address, address)
	grow(&w.Instruction, instruction)
	grow(&w.Mnemonic, mnemonic)
	grow(&w.Operands, operands)
}

// Writer accumulates the annotated output in memory so the checksum line
// can be filled in after the body is complete, then flushes to the final
// destination in one call.
type Writer struct {
	buf         bytes.Buffer
	checksumOff int // byte offset of the placeholder line, -1 if none
	bodyOff     int // byte offset of the first post-header byte
	entab       bool
}

// NewWriter returns an empty Writer. entab enables column-aware tab
// compression on code lines.
func NewWriter(entab bool) *Writer {
	return &Writer{checksumOff: -1, entab: entab}
}

// WriteHeader emits the leading block: source path, architecture,
// timestamp and the image's signing identity when it carries one, plus the
// reserved checksum line when requested.
func (w *Writer) WriteHeader(path, arch string, ts time.Time, identity string, checksum bool) {
	fmt.Fprintf(&w.buf, "# %s\n", path)
	fmt.Fprintf(&w.buf, "# arch: %s\n", arch)
	fmt.Fprintf(&w.buf, "# %s\n", ts.Format(time.UnixDate))
	if identity != "" {
		fmt.Fprintf(&w.buf, "# signed: %s\n", identity)
	}
	if checksum {
		w.checksumOff = w.buf.Len()
		w.buf.WriteString(checksumPlaceholder + "\n")
	}
	w.buf.WriteString("\n")
	w.bodyOff = w.buf.Len()
}

// WriteLine appends one already-formatted line.
func (w *Writer) WriteLine(text string) {
	if len(text) > MaxLineLength {
		text = text[:MaxLineLength]
	}
	if w.entab {
		text = Entabify(text)
	}
	w.buf.WriteString(text)
	w.buf.WriteByte('\n')
}

// WriteBlankLine emits a logical-block separator.
func (w *Writer) WriteBlankLine() {
	w.buf.WriteByte('\n')
}

// Body returns the bytes written after the header, the region a checksum
// covers.
func (w *Writer) Body() []byte {
	return w.buf.Bytes()[w.bodyOff:]
}

// FillChecksum overwrites the reserved line with the caller's digest. A
// digest longer than the placeholder's line would shift every later byte,
// so the line is rewritten wholesale.
func (w *Writer) FillChecksum(digest string) {
	if w.checksumOff < 0 {
		return
	}
	all := w.buf.Bytes()
	rest := all[w.checksumOff:]
	nl := bytes.IndexByte(rest, '\n')
	if nl < 0 {
		return
	}
	var out bytes.Buffer
	out.Grow(w.buf.Len() + len(digest))
	out.Write(all[:w.checksumOff])
	out.WriteString(checksumPlaceholder)
	out.WriteString(digest)
	shift := out.Len() - (w.checksumOff + nl)
	out.Write(rest[nl:])
	w.bodyOff += shift
	w.buf = out
}

// Flush writes everything accumulated so far to out.
func (w *Writer) Flush(out io.Writer) error {
	_, err := out.Write(w.buf.Bytes())
	return err
}

// FormatCodeLine renders one annotated code line with its five aligned
// fields and optional trailing comment. offset is empty when localOffsets
// is off; comment is emitted as " ; comment" and capped.
func FormatCodeLine(fw FieldWidths, offset, address, instruction, mnemonic, operands, comment string) string {
	if len(operands) > MaxOperandsLength {
		operands = operands[:MaxOperandsLength]
	}
	if len(comment) > MaxCommentLength {
		comment = comment[:MaxCommentLength]
	}

	var b strings.Builder
	if fw.Offset > 0 {
		fmt.Fprintf(&b, "%*s ", int(fw.Offset), offset)
	}
	fmt.Fprintf(&b, "%-*s %-*s %-*s %-*s",
		int(fw.Address), address,
		int(fw.Instruction), instruction,
		int(fw.Mnemonic), mnemonic,
		int(fw.Operands), operands)
	if comment != "" {
		b.WriteString(" ; ")
		b.WriteString(comment)
	}
	return strings.TrimRight(b.String(), " ")
}

// Entabify compresses runs of two or more spaces into tabs wherever the
// run reaches a tab stop, leaving single spaces (and everything inside a
// run that doesn't cross a stop) alone. Columns are counted over the
// original, space-padded text, so alignment survives in any editor with
// matching tab stops.
func Entabify(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	col := 0
	run := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == ' ' {
			run++
			col++
			if col%entabWidth == 0 {
				if run >= 2 {
					b.WriteByte('\t')
				} else {
					b.WriteByte(' ')
				}
				run = 0
			}
			continue
		}
		for ; run > 0; run-- {
			b.WriteByte(' ')
		}
		b.WriteByte(c)
		col++
	}
	for ; run > 0; run-- {
		b.WriteByte(' ')
	}
	return b.String()
}

// DumpSection renders one data section as a hex dump for the dataSections
// option: 16 bytes per row with the row's address.
func DumpSection(w *Writer, segment, name string, addr uint64, data []byte) {
	w.WriteBlankLine()
	w.WriteLine(fmt.Sprintf("(%s,%s) section", segment, name))
	for off := 0; off < len(data); off += 16 {
		end := off + 16
		if end > len(data) {
			end = len(data)
		}
		var hexCol strings.Builder
		for i := off; i < end; i++ {
			fmt.Fprintf(&hexCol, "%02x ", data[i])
		}
		w.WriteLine(fmt.Sprintf("%016x  %-48s %s", addr+uint64(off), hexCol.String(), printable(data[off:end])))
	}
}

func printable(b []byte) string {
	out := make([]byte, len(b))
	for i, c := range b {
		if c >= 0x20 && c < 0x7f {
			out[i] = c
		} else {
			out[i] = '.'
		}
	}
	return string(out)
}
