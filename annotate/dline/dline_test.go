package dline

import "testing"

const sampleSymbolic = `(__TEXT,__text) section
_main:
0000000000001fa0	55	push %rbp
0000000000001fa1	89 e5	mov %rsp,%rbp
0000000000001fa3	e8 00 00 00 00	call _foo
`

const sampleNumeric = `(__TEXT,__text) section
_main:
0000000000001fa0	55	push %ebp
0000000000001fa1	89 e5	mov %esp,%ebp
0000000000001fa3	e8 00 00 00 00	call 0x2000
`

func TestIngestWordByteColumn(t *testing.T) {
	l, err := Ingest("00001f80\t7c0802a6\tmflr r0\n")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	code := l.CodeLines()
	if len(code) != 1 {
		t.Fatalf("got %d code lines, want 1", len(code))
	}
	want := []byte{0x7c, 0x08, 0x02, 0xa6}
	got := code[0].Info.Raw
	if len(got) != len(want) {
		t.Fatalf("raw = %x, want %x", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("raw = %x, want %x", got, want)
		}
	}
}

func TestIngestMarksCodeLines(t *testing.T) {
	l, err := Ingest(sampleSymbolic)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	code := l.CodeLines()
	if len(code) != 3 {
		t.Fatalf("got %d code lines, want 3", len(code))
	}
	if code[0].Info.Address != 0x1fa0 || !code[0].Info.IsFunctionStart {
		t.Fatalf("first code line = %+v, want address 0x1fa0 and IsFunctionStart", code[0].Info)
	}
	if code[1].Info.IsFunctionStart {
		t.Fatalf("second code line should not be a function start")
	}
	if code[2].Info.ByteCount != 5 {
		t.Fatalf("call line byte count = %d, want 5", code[2].Info.ByteCount)
	}
}

func TestFindByAddress(t *testing.T) {
	l, err := Ingest(sampleSymbolic)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	line, ok := l.FindByAddress(0x1fa1)
	if !ok || line.Info.Address != 0x1fa1 {
		t.Fatalf("FindByAddress(0x1fa1) = %+v, %v", line, ok)
	}
	if _, ok := l.FindByAddress(0xdead); ok {
		t.Fatalf("FindByAddress should miss an address with no code line")
	}
}

func TestCrossLinkIsBijective(t *testing.T) {
	sym, err := Ingest(sampleSymbolic)
	if err != nil {
		t.Fatalf("Ingest symbolic: %v", err)
	}
	num, err := Ingest(sampleNumeric)
	if err != nil {
		t.Fatalf("Ingest numeric: %v", err)
	}
	if err := CrossLink(sym, num); err != nil {
		t.Fatalf("CrossLink: %v", err)
	}
	for _, line := range sym.CodeLines() {
		if line.Alt == nil || line.Alt.Info.Address != line.Info.Address {
			t.Fatalf("line at %#x not cross-linked to matching address", line.Info.Address)
		}
		if line.Alt.Alt != line {
			t.Fatalf("cross-link at %#x is not bijective", line.Info.Address)
		}
	}
}

func TestCrossLinkRejectsCodeLineCountMismatch(t *testing.T) {
	sym, _ := Ingest(sampleSymbolic)
	num, _ := Ingest(`0000000000001fa0	55	push %ebp`)
	if err := CrossLink(sym, num); err == nil {
		t.Fatalf("CrossLink should reject mismatched code-line counts")
	}
}

func TestIngestSplitsMnemonicAndOperands(t *testing.T) {
	l, err := Ingest(sampleSymbolic)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	code := l.CodeLines()
	if code[0].Info.Mnemonic != "push" || code[0].Info.Operands != "%rbp" {
		t.Fatalf("push line = %+v, want mnemonic push, operands %%rbp", code[0].Info)
	}
	if code[2].Info.Mnemonic != "call" || code[2].Info.Operands != "_foo" {
		t.Fatalf("call line = %+v, want mnemonic call, operands _foo", code[2].Info)
	}
}

func TestInsertAfterUpdatesIndex(t *testing.T) {
	l, _ := Ingest(sampleSymbolic)
	anchor, _ := l.FindByAddress(0x1fa0)
	inserted := &Line{Text: "nop", Info: Info{Address: 0x1fa0, IsCode: true}}
	l.InsertAfter(inserted, anchor)
	if anchor.Next != inserted {
		t.Fatalf("InsertAfter did not splice in the new line")
	}
	if len(l.CodeLines()) != 4 {
		t.Fatalf("index not rebuilt after InsertAfter, got %d code lines", len(l.CodeLines()))
	}
}
