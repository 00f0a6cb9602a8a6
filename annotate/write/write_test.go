package write

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestEntabify(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"abcd", "abcd"},
		{"a b", "a b"},
		{"ab  cd", "ab\tcd"},       // two spaces reach the stop at column 4
		{"a   bcd", "a\tbcd"},      // three spaces reach the stop
		{"abc d", "abc d"},         // single space at a stop stays a space
		{"", ""},
		{"ab  ", "ab\t"},
	}
	for _, tt := range tests {
		if got := Entabify(tt.in); got != tt.want {
			t.Errorf("Entabify(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatCodeLineAlignsFields(t *testing.T) {
	fw := FieldWidths{Offset: 4, Address: 8, Instruction: 8, Mnemonic: 5, Operands: 12}
	got := FormatCodeLine(fw, "+4", "00001fa1", "89 e5", "mov", "%esp,%ebp", `"hello"`)
	want := `  +4 00001fa1 89 e5    mov   %esp,%ebp    ; "hello"`
	if got != want {
		t.Errorf("FormatCodeLine:\n got %q\nwant %q", got, want)
	}
}

func TestFormatCodeLineNoCommentTrimsPadding(t *testing.T) {
	fw := FieldWidths{Address: 8, Instruction: 5, Mnemonic: 4, Operands: 10}
	got := FormatCodeLine(fw, "", "00001fa3", "c3", "ret", "", "")
	if strings.HasSuffix(got, " ") {
		t.Errorf("line %q carries trailing padding", got)
	}
}

func TestFieldWidthsWidenCapped(t *testing.T) {
	var fw FieldWidths
	fw.Widen("", "0000000000001fa0", strings.Repeat("x", 200), "mov", "%esp,%ebp")
	if fw.Address != 16 {
		t.Errorf("Address width = %d, want 16", fw.Address)
	}
	if fw.Instruction != MaxFieldSpacing {
		t.Errorf("Instruction width = %d, want capped at %d", fw.Instruction, MaxFieldSpacing)
	}
}

func TestChecksumReservationAndFill(t *testing.T) {
	w := NewWriter(false)
	w.WriteHeader("/bin/ls", "x86_64", time.Unix(0, 0).UTC(), "", true)
	w.WriteLine("00001fa0 55 push %ebp")

	bodyBefore := string(w.Body())
	w.FillChecksum("d41d8cd98f00b204e9800998ecf8427e")

	var buf bytes.Buffer
	if err := w.Flush(&buf); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "md5: d41d8cd98f00b204e9800998ecf8427e\n") {
		t.Fatalf("output missing filled checksum:\n%s", out)
	}
	if got := string(w.Body()); got != bodyBefore {
		t.Fatalf("checksum fill changed the body:\n got %q\nwant %q", got, bodyBefore)
	}
}

func TestNoChecksumLineWhenDisabled(t *testing.T) {
	w := NewWriter(false)
	w.WriteHeader("/bin/ls", "i386", time.Unix(0, 0).UTC(), "", false)
	w.FillChecksum("ffff") // must be a no-op

	var buf bytes.Buffer
	if err := w.Flush(&buf); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if strings.Contains(buf.String(), "md5:") {
		t.Fatalf("disabled checksum still present:\n%s", buf.String())
	}
}

func TestHeaderSigningIdentity(t *testing.T) {
	w := NewWriter(false)
	w.WriteHeader("/bin/ls", "x86_64", time.Unix(0, 0).UTC(), "com.apple.ls (APPLE)", false)

	var buf bytes.Buffer
	if err := w.Flush(&buf); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if !strings.Contains(buf.String(), "# signed: com.apple.ls (APPLE)\n") {
		t.Fatalf("header missing signing identity:\n%s", buf.String())
	}

	w = NewWriter(false)
	w.WriteHeader("/bin/ls", "x86_64", time.Unix(0, 0).UTC(), "", false)
	buf.Reset()
	if err := w.Flush(&buf); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if strings.Contains(buf.String(), "# signed:") {
		t.Fatalf("unsigned image still got a signed line:\n%s", buf.String())
	}
}

func TestDumpSectionRendersPrintable(t *testing.T) {
	w := NewWriter(false)
	DumpSection(w, "__TEXT", "__cstring", 0x4010, []byte("hello\x00wide"))

	var buf bytes.Buffer
	if err := w.Flush(&buf); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "(__TEXT,__cstring) section") {
		t.Fatalf("dump missing section banner:\n%s", out)
	}
	if !strings.Contains(out, "hello.wide") {
		t.Fatalf("dump missing printable column:\n%s", out)
	}
}
