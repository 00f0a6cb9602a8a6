// Package funcblock partitions a dual-list line model into functions and,
// within each function, the intra-function block regions used as register
// simulator save-points.
package funcblock

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	macho "github.com/otxgo/otx"
	"github.com/otxgo/otx/annotate/dline"
	"github.com/otxgo/otx/annotate/machstate"
)

// BlockInfo is a maximal range of instructions entered by exactly one
// address: a save-point for simulated register state, not a compiler basic
// block (it only splits on jumps the simulator actually sees).
type BlockInfo struct {
	BeginAddress uint64
	EndLine      *dline.Line
	IsEpilog     bool
	EntryState   machstate.MachineState
}

// FunctionInfo is one discovered function: its entry address and the blocks
// found within it by GatherFuncInfos. GenericIndex is 0 for a
// symbol-backed function and a 1-based, address-order index for a function
// rendered as AnonN.
type FunctionInfo struct {
	StartAddress uint64
	Blocks       []*BlockInfo
	GenericIndex int
}

// Classifier answers the architecture-specific questions function and block
// discovery needs about one decoded instruction: whether it returns,
// whether it is an unconditional jump with no fall-through, and whether
// (being some kind of branch) its operand names a resolvable target address.
// Each architecture in annotate/sim provides one.
type Classifier interface {
	// IsReturn reports whether mnemonic is an epilog-terminating return
	// (x86 "ret", PPC "blr", and friends).
	IsReturn(mnemonic string) bool
	// IsUnconditionalJump reports whether mnemonic transfers control with no
	// fall-through to the next line (x86 "jmp", PPC "b"/"ba").
	IsUnconditionalJump(mnemonic string) bool
	// IsBranch reports whether mnemonic is any jump or branch, conditional
	// or not, excluding calls -- used to discover block boundaries.
	IsBranch(mnemonic string) bool
	// BranchTarget extracts the literal target address from a branch's
	// operand text, if present.
	BranchTarget(operands string) (uint64, bool)
}

// hexTarget matches a bare or 0x-prefixed hex literal anywhere in an operand
// string, e.g. the "0x1fe0" in "jmp 0x1fe0" once the mnemonic is stripped.
var hexTarget = regexp.MustCompile(`(?i)0x([0-9a-f]+)|^([0-9a-f]{4,16})$`)

// ParseBranchTarget is the hex-literal operand parser shared by every
// Classifier implementation; symbolic operands (a bare label with no hex
// literal) report false since the generic "backward jump elsewhere targets
// this line" rule only applies to the numeric listing.
func ParseBranchTarget(operands string) (uint64, bool) {
	m := hexTarget.FindStringSubmatch(strings.TrimSpace(operands))
	if m == nil {
		return 0, false
	}
	hexDigits := m[1]
	if hexDigits == "" {
		hexDigits = m[2]
	}
	v, err := strconv.ParseUint(hexDigits, 16, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// FindFunctions discovers function entries over the numeric line list (whose
// operands carry literal addresses, unlike the symbolic list's labels):
// a line starts a function if its address is a known function symbol, it is
// the first code line, or the previous code line was an unconditional
// return/jump with no fall-through.
//
// A backward branch targeting a line already interior to one of those
// functions is left alone here: a backward jump inside an already-started
// function produces a new BlockInfo, not a new FunctionInfo. The primary
// functions together cover every address from the first code line onward,
// so the backward jump rule only promotes a target that lies below the
// first code line.
func FindFunctions(f *macho.File, numeric *dline.List, classifier Classifier) []*FunctionInfo {
	code := numeric.CodeLines()
	if len(code) == 0 {
		return nil
	}

	primary := make(map[uint64]bool)
	primary[code[0].Info.Address] = true

	for i, line := range code {
		if hasFunctionSymbol(f, line.Info.Address) {
			primary[line.Info.Address] = true
		}
		if i > 0 {
			prev := code[i-1].Info
			if classifier.IsReturn(prev.Mnemonic) || classifier.IsUnconditionalJump(prev.Mnemonic) {
				primary[line.Info.Address] = true
			}
		}
	}

	entryAddrs := make(map[uint64]bool, len(primary))
	for a := range primary {
		entryAddrs[a] = true
	}
	for i, line := range code {
		if !classifier.IsBranch(line.Info.Mnemonic) {
			continue
		}
		target, ok := classifier.BranchTarget(line.Info.Operands)
		if !ok || target >= line.Info.Address {
			continue
		}
		if !withinAnyPrimaryFunction(primary, code, i, target) {
			entryAddrs[target] = true
		}
	}

	addrs := make([]uint64, 0, len(entryAddrs))
	for a := range entryAddrs {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

	funcs := make([]*FunctionInfo, 0, len(addrs))
	generic := 0
	for _, a := range addrs {
		fn := &FunctionInfo{StartAddress: a}
		if !hasFunctionSymbol(f, a) {
			generic++
			fn.GenericIndex = generic
		}
		funcs = append(funcs, fn)
	}
	return funcs
}

// withinAnyPrimaryFunction reports whether target falls within
// [start, nextStart) for some primary function entry at or before the
// branch instruction located at code[branchIdx].
func withinAnyPrimaryFunction(primary map[uint64]bool, code []*dline.Line, branchIdx int, target uint64) bool {
	starts := make([]uint64, 0, len(primary))
	for a := range primary {
		starts = append(starts, a)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })

	for i, start := range starts {
		var end uint64 = ^uint64(0)
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		if start <= target && target < end {
			return true
		}
	}
	return false
}

func hasFunctionSymbol(f *macho.File, addr uint64) bool {
	if f == nil || f.Symtab == nil {
		return false
	}
	for _, sym := range f.Symtab.Syms {
		if sym.Value == addr {
			return true
		}
	}
	return false
}

// GatherFuncInfos discovers the blocks of one function: it walks the
// function's code lines in address order, maintaining a live MachineState,
// creating a new BlockInfo (with a snapshotted entry state) the first time a
// branch target inside the function is reached, and marking the block
// containing a return instruction as an epilog. regCount sizes the
// MachineState's register file for the calling architecture.
func GatherFuncInfos(fn *FunctionInfo, code []*dline.Line, classifier Classifier, regCount int, update func(state *machstate.MachineState, line *dline.Line)) {
	GatherFuncInfosWithState(fn, code, classifier, machstate.NewMachineState(regCount), update)
}

// GatherFuncInfosWithState is GatherFuncInfos with a caller-provided entry
// state, so the simulator can pre-seed the receiver register of a known
// Objective-C method before block entry states are snapshotted.
func GatherFuncInfosWithState(fn *FunctionInfo, code []*dline.Line, classifier Classifier, initial machstate.MachineState, update func(state *machstate.MachineState, line *dline.Line)) {
	if len(code) == 0 {
		return
	}

	blocksByAddr := make(map[uint64]*BlockInfo, len(fn.Blocks))
	live := initial

	// A backward branch names a line already passed; keep the state each
	// line was first reached with, so such a block's entry state is that
	// first arrival rather than the state at the branch.
	firstArrival := make(map[uint64]machstate.MachineState)

	entry := &BlockInfo{BeginAddress: fn.StartAddress, EntryState: live.Clone()}
	fn.Blocks = append(fn.Blocks, entry)
	blocksByAddr[fn.StartAddress] = entry
	current := entry

	for _, line := range code {
		if b, ok := blocksByAddr[line.Info.Address]; ok && b != current {
			live = b.EntryState.Clone()
			current = b
		}
		if _, seen := firstArrival[line.Info.Address]; !seen {
			firstArrival[line.Info.Address] = live.Clone()
		}

		update(&live, line)
		current.EndLine = line

		if classifier.IsReturn(line.Info.Mnemonic) {
			current.IsEpilog = true
		}

		if classifier.IsBranch(line.Info.Mnemonic) {
			if target, ok := classifier.BranchTarget(line.Info.Operands); ok {
				if target >= fn.StartAddress {
					if _, exists := blocksByAddr[target]; !exists {
						entryState := live.Clone()
						if first, ok := firstArrival[target]; ok {
							entryState = first
						}
						b := &BlockInfo{BeginAddress: target, EntryState: entryState}
						fn.Blocks = append(fn.Blocks, b)
						blocksByAddr[target] = b
					}
				}
			}
		}
	}

	sort.Slice(fn.Blocks, func(i, j int) bool { return fn.Blocks[i].BeginAddress < fn.Blocks[j].BeginAddress })
}

// BlockFor returns the block whose BeginAddress is the greatest one not
// exceeding addr; exactly one block claims any address inside the
// function.
func BlockFor(fn *FunctionInfo, addr uint64) (*BlockInfo, bool) {
	var best *BlockInfo
	for _, b := range fn.Blocks {
		if b.BeginAddress <= addr && (best == nil || b.BeginAddress > best.BeginAddress) {
			best = b
		}
	}
	if best == nil {
		return nil, false
	}
	return best, true
}

// FunctionFor returns the function owning addr: the last function in
// address-ascending funcs whose StartAddress does not exceed addr.
func FunctionFor(funcs []*FunctionInfo, addr uint64) (*FunctionInfo, bool) {
	var best *FunctionInfo
	for _, fn := range funcs {
		if fn.StartAddress <= addr && (best == nil || fn.StartAddress > best.StartAddress) {
			best = fn
		}
	}
	if best == nil {
		return nil, false
	}
	return best, true
}
