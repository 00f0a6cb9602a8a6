package funcblock

import (
	"testing"

	"github.com/otxgo/otx/annotate/dline"
	"github.com/otxgo/otx/annotate/machstate"
)

// fakeClassifier is a minimal x86-flavored Classifier for tests: it doesn't
// need to recognize real opcodes, only the tokens the fixtures use.
type fakeClassifier struct{}

func (fakeClassifier) IsReturn(m string) bool            { return m == "ret" }
func (fakeClassifier) IsUnconditionalJump(m string) bool { return m == "jmp" }
func (fakeClassifier) IsBranch(m string) bool {
	switch m {
	case "jmp", "je", "jne":
		return true
	}
	return false
}
func (fakeClassifier) BranchTarget(operands string) (uint64, bool) {
	return ParseBranchTarget(operands)
}

func ingestOrFatal(t *testing.T, raw string) *dline.List {
	t.Helper()
	l, err := dline.Ingest(raw)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	return l
}

func TestFindFunctionsFirstCodeLineIsEntry(t *testing.T) {
	l := ingestOrFatal(t, `0000000000001fa0	55	push %ebp
0000000000001fa1	89 e5	mov %esp,%ebp
0000000000001fa3	c3	ret
`)
	funcs := FindFunctions(nil, l, fakeClassifier{})
	if len(funcs) != 1 || funcs[0].StartAddress != 0x1fa0 {
		t.Fatalf("FindFunctions = %+v, want one function starting at 0x1fa0", funcs)
	}
	if funcs[0].GenericIndex != 1 {
		t.Fatalf("GenericIndex = %d, want 1 (no backing symbol)", funcs[0].GenericIndex)
	}
}

func TestFindFunctionsSplitsAfterUnconditionalJump(t *testing.T) {
	l := ingestOrFatal(t, `0000000000001000	e9 00 00 00 00	jmp 0x1040
0000000000001040	55	push %ebp
0000000000001041	c3	ret
`)
	funcs := FindFunctions(nil, l, fakeClassifier{})
	if len(funcs) != 2 {
		t.Fatalf("got %d functions, want 2: %+v", len(funcs), funcs)
	}
	if funcs[0].StartAddress != 0x1000 || funcs[1].StartAddress != 0x1040 {
		t.Fatalf("function starts = %#x, %#x; want 0x1000, 0x1040", funcs[0].StartAddress, funcs[1].StartAddress)
	}
	if funcs[0].GenericIndex != 1 || funcs[1].GenericIndex != 2 {
		t.Fatalf("generic indices = %d, %d; want 1, 2 in address order", funcs[0].GenericIndex, funcs[1].GenericIndex)
	}
}

func TestFindFunctionsBackwardJumpTarget(t *testing.T) {
	// a function at 0x1fc0 containing a backward jump from 0x2000 to 0x1fe0.
	l := ingestOrFatal(t, `0000000000001fc0	55	push %ebp
0000000000001fe0	31 c0	xor %eax,%eax
0000000000002000	eb 00	jmp 0x1fe0
`)
	funcs := FindFunctions(nil, l, fakeClassifier{})
	if len(funcs) != 1 {
		t.Fatalf("got %d functions, want 1 (backward jump stays intra-function)", len(funcs))
	}
}

func TestGatherFuncInfosCreatesBlockOnBackwardJump(t *testing.T) {
	l := ingestOrFatal(t, `0000000000001fc0	55	push %ebp
0000000000001fe0	31 c0	xor %eax,%eax
0000000000002000	eb 00	jmp 0x1fe0
`)
	code := l.CodeLines()
	fn := &FunctionInfo{StartAddress: 0x1fc0}
	GatherFuncInfos(fn, code, fakeClassifier{}, 8, func(*machstate.MachineState, *dline.Line) {})

	if len(fn.Blocks) != 2 {
		t.Fatalf("got %d blocks, want 2 (entry + backward-jump target)", len(fn.Blocks))
	}
	if fn.Blocks[0].BeginAddress != 0x1fc0 || fn.Blocks[1].BeginAddress != 0x1fe0 {
		t.Fatalf("block begin addresses = %#x, %#x; want 0x1fc0, 0x1fe0", fn.Blocks[0].BeginAddress, fn.Blocks[1].BeginAddress)
	}
}

func TestGatherFuncInfosMarksEpilog(t *testing.T) {
	l := ingestOrFatal(t, `0000000000001000	55	push %ebp
0000000000001001	c3	ret
`)
	code := l.CodeLines()
	fn := &FunctionInfo{StartAddress: 0x1000}
	GatherFuncInfos(fn, code, fakeClassifier{}, 8, func(*machstate.MachineState, *dline.Line) {})

	if len(fn.Blocks) != 1 || !fn.Blocks[0].IsEpilog {
		t.Fatalf("blocks = %+v, want a single epilog block", fn.Blocks)
	}
}

func TestBlockForPicksNearestPrecedingBlock(t *testing.T) {
	fn := &FunctionInfo{
		StartAddress: 0x1000,
		Blocks: []*BlockInfo{
			{BeginAddress: 0x1000},
			{BeginAddress: 0x1040},
		},
	}
	b, ok := BlockFor(fn, 0x1030)
	if !ok || b.BeginAddress != 0x1000 {
		t.Fatalf("BlockFor(0x1030) = %+v, %v; want block at 0x1000", b, ok)
	}
	b, ok = BlockFor(fn, 0x1050)
	if !ok || b.BeginAddress != 0x1040 {
		t.Fatalf("BlockFor(0x1050) = %+v, %v; want block at 0x1040", b, ok)
	}
}

func TestFunctionForPicksNearestPrecedingFunction(t *testing.T) {
	funcs := []*FunctionInfo{
		{StartAddress: 0x1000},
		{StartAddress: 0x1040},
	}
	fn, ok := FunctionFor(funcs, 0x1020)
	if !ok || fn.StartAddress != 0x1000 {
		t.Fatalf("FunctionFor(0x1020) = %+v, %v; want function at 0x1000", fn, ok)
	}
}

func TestParseBranchTargetHexPrefixed(t *testing.T) {
	v, ok := ParseBranchTarget("0x1fe0")
	if !ok || v != 0x1fe0 {
		t.Fatalf("ParseBranchTarget(0x1fe0) = %#x, %v", v, ok)
	}
}

func TestParseBranchTargetSymbolic(t *testing.T) {
	if _, ok := ParseBranchTarget("_foo"); ok {
		t.Fatalf("ParseBranchTarget should not resolve a bare symbolic label")
	}
}
