package annotate

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/otxgo/otx/annotate/dline"
)

func linkedPair(symOps, numOps string) (numeric *dline.Line) {
	sym := &dline.Line{Info: dline.Info{IsCode: true, Mnemonic: "mov", Operands: symOps}}
	num := &dline.Line{Info: dline.Info{IsCode: true, Mnemonic: "mov", Operands: numOps}}
	sym.Alt, num.Alt = num, sym
	return num
}

func TestChooseLinePrefersSymbolOverLiteral(t *testing.T) {
	num := linkedPair("_objc_msgSend", "0x3f00")
	if got := chooseLine(num); got != num.Alt {
		t.Fatalf("symbolic operand %q not chosen", num.Alt.Info.Operands)
	}
}

func TestChooseLineKeepsNumericForRegistersOnly(t *testing.T) {
	tests := []string{
		"%esp,%ebp",
		"%rdi,%rsi",
		"r3,r4,r5",
		"$0x10,%eax",
		"0x1fe0",
	}
	for _, ops := range tests {
		num := linkedPair(ops, ops)
		if got := chooseLine(num); got != num {
			t.Errorf("operands %q wrongly judged symbolic", ops)
		}
	}
}

func TestChooseLineMixedOperands(t *testing.T) {
	num := linkedPair("_gBuffer(%rip),%rax", "0x1004020(%rip),%rax")
	if got := chooseLine(num); got != num.Alt {
		t.Fatalf("mixed symbolic operand not chosen")
	}
}

func TestDataAddress(t *testing.T) {
	tests := []struct {
		ops  string
		want uint64
		ok   bool
	}{
		{"0x4010,%eax", 0x4010, true},
		{"$0x4010", 0x4010, true},
		{"%eax,%ebx", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := dataAddress(tt.ops)
		if ok != tt.ok || got != tt.want {
			t.Errorf("dataAddress(%q) = %#x, %v; want %#x, %v", tt.ops, got, ok, tt.want, tt.ok)
		}
	}
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	if !opts.LocalOffsets || !opts.Checksum || !opts.VerboseMsgSends ||
		!opts.DemangleCppNames || !opts.ReturnTypes || !opts.VariableTypes ||
		!opts.ReturnStatements {
		t.Fatalf("defaults flipped off: %+v", opts)
	}
	if opts.EntabOutput || opts.DataSections || opts.SeparateLogicalBlocks {
		t.Fatalf("defaults flipped on: %+v", opts)
	}
}

func TestErrorRendering(t *testing.T) {
	err := errf(ErrUnsupported, "fat archive has no %s slice", "ppc64")
	want := "unsupported: fat archive has no ppc64 slice"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestIsMangledCpp(t *testing.T) {
	if !isMangledCpp("__Z4half") || !isMangledCpp("_Z4half") {
		t.Fatal("mangled names not recognized")
	}
	if isMangledCpp("_main") || isMangledCpp("-[Foo bar]") {
		t.Fatal("plain names misjudged as mangled")
	}
}

func TestPipeDemanglerRoundTrip(t *testing.T) {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	// Fake filter: echoes each line back decorated.
	go func() {
		buf := make([]byte, 256)
		for {
			n, err := inR.Read(buf)
			if err != nil {
				return
			}
			name := strings.TrimRight(string(buf[:n]), "\n")
			io.WriteString(outW, "demangled("+name+")\n")
		}
	}()

	d := NewPipeDemangler(inW, outR, time.Second)
	got, err := d.Demangle("__Z4half")
	if err != nil {
		t.Fatalf("Demangle: %v", err)
	}
	if got != "demangled(__Z4half)" {
		t.Fatalf("Demangle = %q", got)
	}
}

func TestPipeDemanglerTimeoutFallsBack(t *testing.T) {
	inR, inW := io.Pipe()
	go io.Copy(io.Discard, inR)
	outR, _ := io.Pipe() // never written: the filter hangs

	d := NewPipeDemangler(inW, outR, 10*time.Millisecond)
	got, err := d.Demangle("__Z4half")
	if err == nil {
		t.Fatal("expected a timeout error")
	}
	if got != "__Z4half" {
		t.Fatalf("timeout fallback = %q, want the original name", got)
	}
}

func TestCpuForSelector(t *testing.T) {
	for _, arch := range []string{"ppc", "ppc64", "i386", "x86_64"} {
		if _, ok := cpuForSelector(arch); !ok {
			t.Errorf("cpuForSelector(%q) failed", arch)
		}
	}
	if _, ok := cpuForSelector("arm64"); ok {
		t.Error("cpuForSelector(arm64) should fail")
	}
}
