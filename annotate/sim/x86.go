package sim

import (
	"strings"

	"golang.org/x/arch/x86/x86asm"

	"github.com/otxgo/otx/annotate/dline"
	"github.com/otxgo/otx/annotate/machstate"
)

// Register indices into the MachineState file, matching the hardware r/m
// encoding. i386 uses the first eight; x86-64 all sixteen.
const (
	regEAX = iota
	regECX
	regEDX
	regEBX
	regESP
	regEBP
	regESI
	regEDI
	regR8
	regR9
	regR10
	regR11
	regR12
	regR13
	regR14
	regR15
)

// x86RegIndex maps an x86asm register (any width) to its file index.
func x86RegIndex(r x86asm.Reg) (int, bool) {
	switch r {
	case x86asm.AL, x86asm.AX, x86asm.EAX, x86asm.RAX:
		return regEAX, true
	case x86asm.CL, x86asm.CX, x86asm.ECX, x86asm.RCX:
		return regECX, true
	case x86asm.DL, x86asm.DX, x86asm.EDX, x86asm.RDX:
		return regEDX, true
	case x86asm.BL, x86asm.BX, x86asm.EBX, x86asm.RBX:
		return regEBX, true
	case x86asm.SP, x86asm.ESP, x86asm.RSP:
		return regESP, true
	case x86asm.BP, x86asm.EBP, x86asm.RBP:
		return regEBP, true
	case x86asm.SI, x86asm.ESI, x86asm.RSI:
		return regESI, true
	case x86asm.DI, x86asm.EDI, x86asm.RDI:
		return regEDI, true
	case x86asm.R8B, x86asm.R8W, x86asm.R8L, x86asm.R8:
		return regR8, true
	case x86asm.R9B, x86asm.R9W, x86asm.R9L, x86asm.R9:
		return regR9, true
	case x86asm.R10B, x86asm.R10W, x86asm.R10L, x86asm.R10:
		return regR10, true
	case x86asm.R11B, x86asm.R11W, x86asm.R11L, x86asm.R11:
		return regR11, true
	case x86asm.R12B, x86asm.R12W, x86asm.R12L, x86asm.R12:
		return regR12, true
	case x86asm.R13B, x86asm.R13W, x86asm.R13L, x86asm.R13:
		return regR13, true
	case x86asm.R14B, x86asm.R14W, x86asm.R14L, x86asm.R14:
		return regR14, true
	case x86asm.R15B, x86asm.R15W, x86asm.R15L, x86asm.R15:
		return regR15, true
	}
	return 0, false
}

// x86 mnemonic classification shared by both widths. The disassembler's
// AT&T output may suffix an operand size ("jmpl", "retq"); strip it.
func x86IsReturn(m string) bool {
	switch strings.TrimSuffix(strings.TrimSuffix(m, "l"), "q") {
	case "ret", "lret":
		return true
	}
	return false
}

func x86IsUncondJump(m string) bool {
	switch strings.TrimSuffix(strings.TrimSuffix(m, "l"), "q") {
	case "jmp":
		return true
	}
	return false
}

func x86IsBranch(m string) bool {
	if x86IsUncondJump(m) {
		return true
	}
	return strings.HasPrefix(m, "j")
}

// I386 is the 32-bit x86 transfer function. Arguments live on the stack, so
// msgSend receiver/selector recovery reads the push shadow; the PC is only
// reachable through get_pc_thunk routines, recovered via Env.Thunks.
type I386 struct{}

func (I386) Name() string                           { return "i386" }
func (I386) RegisterCount() int                     { return 8 }
func (I386) IsReturn(m string) bool                 { return x86IsReturn(m) }
func (I386) IsUnconditionalJump(m string) bool      { return x86IsUncondJump(m) }
func (I386) IsBranch(m string) bool                 { return x86IsBranch(m) }
func (I386) BranchTarget(ops string) (uint64, bool) { return parseBranchTarget(ops) }

func (I386) ResetRegisters(st *machstate.MachineState, env *Env) {
	st.Reset()
	// self is the first stack argument of an instance method; it becomes
	// visible to the simulator only once loaded into a register, handled in
	// the frame-load path of x86Update.
}

func (a I386) UpdateRegisters(st *machstate.MachineState, line *dline.Line, env *Env) string {
	return x86Update(st, line, env, 32)
}

// X8664 is the 64-bit transfer function: register-resident arguments and
// RIP-relative addressing replace the stack shadow and thunks.
type X8664 struct{}

func (X8664) Name() string                           { return "x86_64" }
func (X8664) RegisterCount() int                     { return 16 }
func (X8664) IsReturn(m string) bool                 { return x86IsReturn(m) }
func (X8664) IsUnconditionalJump(m string) bool      { return x86IsUncondJump(m) }
func (X8664) IsBranch(m string) bool                 { return x86IsBranch(m) }
func (X8664) BranchTarget(ops string) (uint64, bool) { return parseBranchTarget(ops) }

func (X8664) ResetRegisters(st *machstate.MachineState, env *Env) {
	st.Reset()
	if env != nil && env.CurrentMethod != nil {
		st.Regs[regEDI] = machstate.Register{ClassPtr: env.CurrentMethod.Class}
	}
}

func (a X8664) UpdateRegisters(st *machstate.MachineState, line *dline.Line, env *Env) string {
	return x86Update(st, line, env, 64)
}

func x86Update(st *machstate.MachineState, line *dline.Line, env *Env, bits int) string {
	raw := line.Info.Raw
	if len(raw) == 0 {
		invalidateAll(st)
		return ""
	}
	inst, err := x86asm.Decode(raw, bits)
	if err != nil {
		invalidateAll(st)
		return ""
	}

	switch inst.Op {
	case x86asm.MOV:
		return x86Mov(st, line, env, inst, bits)

	case x86asm.LEA:
		if dst, ok := regArg(inst.Args[0]); ok {
			if addr, ok := effectiveAddr(st, line, inst, inst.Args[1]); ok {
				st.Regs[dst] = machstate.Register{Value: addr, IsValid: true}
			} else {
				st.Regs[dst] = machstate.Register{}
			}
		}

	case x86asm.XOR:
		// xor r,r is the canonical zero idiom.
		if dst, ok := regArg(inst.Args[0]); ok {
			if src, ok2 := regArg(inst.Args[1]); ok2 && src == dst {
				st.Regs[dst] = machstate.Register{Value: 0, IsValid: true}
			} else {
				st.Regs[dst] = machstate.Register{}
			}
		}

	case x86asm.PUSH:
		if src, ok := regArg(inst.Args[0]); ok {
			st.PushStack(st.Regs[src])
		} else if imm, ok := inst.Args[0].(x86asm.Imm); ok {
			st.PushStack(machstate.Register{Value: uint64(imm), IsValid: true})
		} else {
			st.PushStack(machstate.Register{})
		}

	case x86asm.POP:
		top := st.PopStack()
		if dst, ok := regArg(inst.Args[0]); ok {
			st.Regs[dst] = top
		}

	case x86asm.CALL:
		return x86Call(st, line, env, inst, bits)

	case x86asm.RET, x86asm.LRET:
		// Epilog; block discovery handles it.

	case x86asm.NOP, x86asm.CMP, x86asm.TEST:
		// No register effects the simulator tracks.

	default:
		// Anything else clobbers its destination, if that is a register.
		if dst, ok := regArg(inst.Args[0]); ok {
			st.Regs[dst] = machstate.Register{}
		}
	}
	return ""
}

func regArg(a x86asm.Arg) (int, bool) {
	r, ok := a.(x86asm.Reg)
	if !ok {
		return 0, false
	}
	return x86RegIndex(r)
}

// effectiveAddr computes a memory operand's address when it is statically
// known: absolute displacement, RIP-relative, or based on a register whose
// simulated value is valid.
func effectiveAddr(st *machstate.MachineState, line *dline.Line, inst x86asm.Inst, a x86asm.Arg) (uint64, bool) {
	m, ok := a.(x86asm.Mem)
	if !ok || m.Index != 0 {
		return 0, false
	}
	switch {
	case m.Base == 0:
		return uint64(m.Disp), true
	case m.Base == x86asm.RIP:
		return line.Info.Address + uint64(inst.Len) + uint64(m.Disp), true
	default:
		if idx, ok := x86RegIndex(m.Base); ok && st.Regs[idx].IsValid {
			return st.Regs[idx].Value + uint64(m.Disp), true
		}
	}
	return 0, false
}

func x86Mov(st *machstate.MachineState, line *dline.Line, env *Env, inst x86asm.Inst, bits int) string {
	dst, src := inst.Args[0], inst.Args[1]

	// Register destination.
	if di, ok := regArg(dst); ok {
		switch s := src.(type) {
		case x86asm.Imm:
			st.Regs[di] = machstate.Register{Value: uint64(s), IsValid: true}
		case x86asm.Reg:
			if si, ok := x86RegIndex(s); ok {
				st.Regs[di] = st.Regs[si]
			} else {
				st.Regs[di] = machstate.Register{}
			}
		case x86asm.Mem:
			return x86LoadMem(st, line, env, inst, di, s, bits)
		default:
			st.Regs[di] = machstate.Register{}
		}
		return ""
	}

	// Memory destination: a frame store is the only case tracked.
	if m, ok := dst.(x86asm.Mem); ok {
		if si, ok := regArg(src); ok && isFrameBase(m.Base) && m.Index == 0 {
			lv := machstate.LocalVar{Reg: st.Regs[si], FrameOffset: m.Disp}
			if env != nil && env.CurrentMethod != nil && st.Regs[si].ClassPtr == env.CurrentMethod.Class {
				st.LocalSelves = append(st.LocalSelves, lv)
			} else {
				st.LocalVars = append(st.LocalVars, lv)
			}
		}
	}
	return ""
}

func isFrameBase(r x86asm.Reg) bool {
	return r == x86asm.EBP || r == x86asm.RBP
}

// x86LoadMem handles mov mem->reg: absolute and RIP-relative loads resolve
// through the pointer resolver; frame loads consult the local tables and
// the method receiver argument; loads through a known object pointer
// resolve to ivar names.
func x86LoadMem(st *machstate.MachineState, line *dline.Line, env *Env, inst x86asm.Inst, di int, m x86asm.Mem, bits int) string {
	// Frame slot.
	if isFrameBase(m.Base) && m.Index == 0 {
		// First stack argument of an i386 instance method is self.
		if bits == 32 && m.Disp == 8 && env != nil && env.CurrentMethod != nil {
			st.Regs[di] = machstate.Register{ClassPtr: env.CurrentMethod.Class}
			return ""
		}
		for i := len(st.LocalSelves) - 1; i >= 0; i-- {
			if st.LocalSelves[i].FrameOffset == m.Disp {
				st.Regs[di] = st.LocalSelves[i].Reg
				return ""
			}
		}
		for i := len(st.LocalVars) - 1; i >= 0; i-- {
			if st.LocalVars[i].FrameOffset == m.Disp {
				st.Regs[di] = st.LocalVars[i].Reg
				return ""
			}
		}
		st.Regs[di] = machstate.Register{}
		return ""
	}

	// Indirect load through a known object pointer: an ivar access.
	if m.Base != 0 && m.Base != x86asm.RIP && m.Index == 0 {
		if bi, ok := x86RegIndex(m.Base); ok && st.Regs[bi].ClassPtr != "" {
			note := ivarNote(env, st.Regs[bi].ClassPtr, m.Disp)
			st.Regs[di] = machstate.Register{}
			return note
		}
	}

	if addr, ok := effectiveAddr(st, line, inst, m); ok {
		r := &st.Regs[di]
		loadFromResolver(r, addr, env)
		return ""
	}
	st.Regs[di] = machstate.Register{}
	return ""
}

// x86CallVolatile lists the caller-saved registers an opaque call clobbers.
var (
	x86CallVolatile32 = []int{regEAX, regECX, regEDX}
	x86CallVolatile64 = []int{regEAX, regECX, regEDX, regESI, regEDI, regR8, regR9, regR10, regR11}
)

func x86Call(st *machstate.MachineState, line *dline.Line, env *Env, inst x86asm.Inst, bits int) string {
	target, haveTarget := callTarget(line, inst)

	// get_pc_thunk: the "call" returns immediately, leaving the address of
	// the next instruction in the thunk's register. Nothing else is
	// clobbered.
	if haveTarget {
		if reg, ok := env.thunkReg(target); ok {
			st.Regs[reg] = machstate.Register{Value: line.Info.Address + uint64(inst.Len), IsValid: true}
			return ""
		}
	}

	note := ""
	if haveTarget {
		if name, ok := env.symbolAt(target); ok {
			if send, ok := ClassifySend(name); ok {
				recv, sel := x86SendArgs(st, send, bits)
				note = sendComment(recv, sel, env)
			}
		}
	}

	volatile := x86CallVolatile32
	if bits == 64 {
		volatile = x86CallVolatile64
	}
	for _, r := range volatile {
		st.Regs[r] = machstate.Register{}
	}
	return note
}

func callTarget(line *dline.Line, inst x86asm.Inst) (uint64, bool) {
	switch t := inst.Args[0].(type) {
	case x86asm.Rel:
		return line.Info.Address + uint64(inst.Len) + uint64(int64(t)), true
	case x86asm.Imm:
		return uint64(t), true
	}
	return 0, false
}

// x86SendArgs recovers the receiver and selector registers at a msgSend
// call site. On 64-bit they are argument registers; on 32-bit they are the
// top stack slots, falling back to a register scan when the push sequence
// was not tracked.
func x86SendArgs(st *machstate.MachineState, send SendType, bits int) (recv, sel machstate.Register) {
	shift := 0
	if send.ShiftsArgs() {
		shift = 1
	}

	if bits == 64 {
		argRegs := []int{regEDI, regESI, regEDX, regECX}
		return st.Regs[argRegs[shift]], st.Regs[argRegs[shift+1]]
	}

	if st.StackTop > shift+1 {
		recv = st.Stack[st.StackTop-1-shift]
		sel = st.Stack[st.StackTop-2-shift]
	}
	if recv.ClassPtr == "" && recv.CategoryPtr == "" {
		for _, r := range st.Regs {
			if r.ClassPtr != "" || r.CategoryPtr != "" {
				recv = r
				break
			}
		}
	}
	if sel.Selector == "" && !sel.IsValid {
		for _, r := range st.Regs {
			if r.Selector != "" {
				sel = r
				break
			}
		}
	}
	return recv, sel
}

// FindThunks scans an x86 code listing for get_pc_thunk routines: a
// two-instruction function that copies the return address off the stack
// into a general register and returns. Every discovered routine is keyed
// by address so later calls to it can be simulated.
func FindThunks(code []*dline.Line) []ThunkInfo {
	var thunks []ThunkInfo
	for i, line := range code {
		raw := line.Info.Raw
		if len(raw) < 3 {
			continue
		}
		inst, err := x86asm.Decode(raw, 32)
		if err != nil || inst.Op != x86asm.MOV {
			continue
		}
		m, ok := inst.Args[1].(x86asm.Mem)
		if !ok || m.Base != x86asm.ESP || m.Disp != 0 || m.Index != 0 {
			continue
		}
		reg, ok := regArg(inst.Args[0])
		if !ok {
			continue
		}
		if i+1 < len(code) && len(code[i+1].Info.Raw) > 0 && code[i+1].Info.Raw[0] == 0xc3 {
			thunks = append(thunks, ThunkInfo{Address: line.Info.Address, Reg: reg})
		}
	}
	return thunks
}
