// Package dline implements the annotation engine's dual-list line model:
// two doubly linked lists of disassembly lines -- one with symbolic
// operands, one with numeric -- sharing an identical address sequence on
// code lines and cross-linked through Line.Alt.
package dline

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Info carries everything the rest of the annotation pipeline needs about a
// line's position in the binary, independent of its rendered text.
type Info struct {
	Address         uint64
	Raw             []byte // raw instruction bytes, at most 16
	ByteCount       int
	IsCode          bool
	IsFunctionStart bool

	// Mnemonic and Operands are split out of the trailing text column at
	// ingest time so later passes (function/block discovery, the simulator,
	// the annotator) don't each re-parse the line.
	Mnemonic string
	Operands string
}

// Line is one node of a dual doubly linked list.
type Line struct {
	Text string
	Info Info

	Next, Prev *Line
	Alt        *Line // the same address's line in the other list
}

// List owns one doubly linked chain plus an address-sorted index over its
// code lines for binary search.
type List struct {
	Head  *Line
	index []*Line // code lines only, ascending by address
}

// Lines returns every line from Head to tail, in list order. Intended for
// tests and the final write-out pass, not hot loops.
func (l *List) Lines() []*Line {
	var out []*Line
	for cur := l.Head; cur != nil; cur = cur.Next {
		out = append(out, cur)
	}
	return out
}

// CodeLines returns the address-ascending index built by Ingest/reindex.
func (l *List) CodeLines() []*Line {
	return l.index
}

// reindex rebuilds the binary-search index over code lines. Called after
// ingestion and after any mutation that could change which lines are code.
func (l *List) reindex() {
	l.index = l.index[:0]
	for cur := l.Head; cur != nil; cur = cur.Next {
		if cur.Info.IsCode {
			l.index = append(l.index, cur)
		}
	}
}

// FindByAddress binary searches the code-line index for an exact address
// match.
func (l *List) FindByAddress(addr uint64) (*Line, bool) {
	lo, hi := 0, len(l.index)
	for lo < hi {
		mid := (lo + hi) / 2
		if l.index[mid].Info.Address < addr {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(l.index) && l.index[lo].Info.Address == addr {
		return l.index[lo], true
	}
	return nil, false
}

// InsertBefore splices newLine immediately before anchor, updating Head if
// anchor was the head.
func (l *List) InsertBefore(newLine, anchor *Line) {
	newLine.Prev = anchor.Prev
	newLine.Next = anchor
	if anchor.Prev != nil {
		anchor.Prev.Next = newLine
	}
	anchor.Prev = newLine
	if l.Head == anchor {
		l.Head = newLine
	}
	l.reindex()
}

// InsertAfter splices newLine immediately after anchor.
func (l *List) InsertAfter(newLine, anchor *Line) {
	newLine.Next = anchor.Next
	newLine.Prev = anchor
	if anchor.Next != nil {
		anchor.Next.Prev = newLine
	}
	anchor.Next = newLine
	l.reindex()
}

// Replace swaps old for replacement in place, preserving old's neighbors and
// (if old carried one) its Alt cross-link.
func (l *List) Replace(old, replacement *Line) {
	replacement.Prev = old.Prev
	replacement.Next = old.Next
	if old.Prev != nil {
		old.Prev.Next = replacement
	}
	if old.Next != nil {
		old.Next.Prev = replacement
	}
	if l.Head == old {
		l.Head = replacement
	}
	if old.Alt != nil {
		replacement.Alt = old.Alt
		old.Alt.Alt = replacement
	}
	l.reindex()
}

// DeleteBefore removes the line immediately preceding anchor, if any.
func (l *List) DeleteBefore(anchor *Line) {
	victim := anchor.Prev
	if victim == nil {
		return
	}
	anchor.Prev = victim.Prev
	if victim.Prev != nil {
		victim.Prev.Next = anchor
	}
	if l.Head == victim {
		l.Head = anchor
	}
	l.reindex()
}

// addressPrefix matches a leading hex address column, e.g.
// "0000000100001f80  55  push %rbp" or "1f80:   55   push %rbp". The byte
// column is either space-separated pairs (x86 listings) or contiguous
// whole words (PPC listings, "7c0802a6").
var addressPrefix = regexp.MustCompile(`^([0-9a-fA-F]{4,16}):?\s+((?:[0-9a-fA-F]{2})+(?:\s(?:[0-9a-fA-F]{2})+)*)\s+(.*)$`)

// Ingest tokenizes one raw disassembler text dump into a List.
// Each output line becomes a Line; lines beginning with a hex address
// followed by a raw-byte column are code lines, everything else (section
// headers, function labels) is not.
func Ingest(raw string) (*List, error) {
	l := &List{}
	var tail *Line

	for _, text := range strings.Split(raw, "\n") {
		trimmed := strings.TrimRight(text, "\r")
		if trimmed == "" {
			continue
		}

		line := &Line{Text: trimmed}
		if m := addressPrefix.FindStringSubmatch(trimmed); m != nil {
			addr, err := strconv.ParseUint(m[1], 16, 64)
			if err != nil {
				return nil, fmt.Errorf("dline: bad address %q: %w", m[1], err)
			}
			rawBytes, err := parseByteColumn(m[2])
			if err != nil {
				return nil, fmt.Errorf("dline: bad byte column %q: %w", m[2], err)
			}
			mnemonic, operands := splitMnemonic(m[3])
			line.Info = Info{
				Address:   addr,
				Raw:       rawBytes,
				ByteCount: len(rawBytes),
				IsCode:    true,
				Mnemonic:  mnemonic,
				Operands:  operands,
			}
		}

		if l.Head == nil {
			l.Head = line
		} else {
			tail.Next = line
			line.Prev = tail
		}
		tail = line
	}

	l.markFunctionStarts()
	l.reindex()
	return l, nil
}

// markFunctionStarts sets IsFunctionStart on the first code line and on any
// code line directly preceded by a non-code label (section break or file
// head). The symbol-table-driven entries are layered on top by the
// function/block discovery package, which has access to the symbol table;
// this only captures the purely textual half.
func (l *List) markFunctionStarts() {
	seenCode := false
	prevWasCode := false
	for cur := l.Head; cur != nil; cur = cur.Next {
		if !cur.Info.IsCode {
			prevWasCode = false
			continue
		}
		if !seenCode || !prevWasCode {
			cur.Info.IsFunctionStart = true
		}
		seenCode = true
		prevWasCode = true
	}
}

// splitMnemonic separates an instruction's trailing text into the mnemonic
// (first whitespace-delimited token) and everything after it. A label-only
// line ("_foo:") has no operand separator and returns it whole as Mnemonic.
func splitMnemonic(text string) (mnemonic, operands string) {
	text = strings.TrimSpace(text)
	i := strings.IndexAny(text, " \t")
	if i < 0 {
		return text, ""
	}
	return text[:i], strings.TrimSpace(text[i+1:])
}

func parseByteColumn(col string) ([]byte, error) {
	var out []byte
	for _, f := range strings.Fields(col) {
		if len(f)%2 != 0 {
			return nil, fmt.Errorf("odd-length byte group %q", f)
		}
		for i := 0; i < len(f) && len(out) < 16; i += 2 {
			v, err := strconv.ParseUint(f[i:i+2], 16, 8)
			if err != nil {
				return nil, err
			}
			out = append(out, byte(v))
		}
	}
	return out, nil
}

// CrossLink walks two code-line sequences of equal length and bijectively
// links each line to its same-address counterpart in the other list via Alt.
// Differing code-line counts or a divergent address sequence are fatal
// input-format errors.
func CrossLink(symbolic, numeric *List) error {
	a, b := symbolic.CodeLines(), numeric.CodeLines()
	if len(a) != len(b) {
		return fmt.Errorf("dline: symbolic and numeric listings disagree on code-line count (%d vs %d)", len(a), len(b))
	}
	for i := range a {
		if a[i].Info.Address != b[i].Info.Address {
			return fmt.Errorf("dline: address mismatch at index %d: symbolic %#x vs numeric %#x", i, a[i].Info.Address, b[i].Info.Address)
		}
		a[i].Alt = b[i]
		b[i].Alt = a[i]
	}
	return nil
}
