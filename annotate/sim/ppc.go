package sim

import (
	"encoding/binary"
	"strings"

	"github.com/otxgo/otx/annotate/dline"
	"github.com/otxgo/otx/annotate/machstate"
)

// PPC registers are simply r0-r31; the file index is the register number.
// r1 is the stack pointer, r3 the first argument. PIC code commonly uses
// r30 or r31 as the frame/picbase register.
const (
	ppcSP       = 1
	ppcFirstArg = 3
)

func ppcIsReturn(m string) bool {
	return m == "blr" || m == "bctr"
}

func ppcIsUncondJump(m string) bool {
	return m == "b" || m == "ba"
}

func ppcIsCall(m string) bool {
	return m == "bl" || m == "bla"
}

func ppcIsBranch(m string) bool {
	if !strings.HasPrefix(m, "b") || ppcIsCall(m) {
		return false
	}
	return true
}

// PPC is the 32-bit PowerPC transfer function.
type PPC struct{}

func (PPC) Name() string                            { return "ppc" }
func (PPC) RegisterCount() int                      { return 32 }
func (PPC) IsReturn(m string) bool                  { return ppcIsReturn(m) }
func (PPC) IsUnconditionalJump(m string) bool       { return ppcIsUncondJump(m) }
func (PPC) IsBranch(m string) bool                  { return ppcIsBranch(m) }
func (PPC) BranchTarget(ops string) (uint64, bool)  { return parseBranchTarget(ops) }

func (PPC) ResetRegisters(st *machstate.MachineState, env *Env) {
	ppcReset(st, env)
}

func (PPC) UpdateRegisters(st *machstate.MachineState, line *dline.Line, env *Env) string {
	return ppcUpdate(st, line, env, false)
}

// PPC64 shares the PPC decode; only the doubleword load/store forms and
// pointer width differ.
type PPC64 struct{}

func (PPC64) Name() string                           { return "ppc64" }
func (PPC64) RegisterCount() int                     { return 32 }
func (PPC64) IsReturn(m string) bool                 { return ppcIsReturn(m) }
func (PPC64) IsUnconditionalJump(m string) bool      { return ppcIsUncondJump(m) }
func (PPC64) IsBranch(m string) bool                 { return ppcIsBranch(m) }
func (PPC64) BranchTarget(ops string) (uint64, bool) { return parseBranchTarget(ops) }

func (PPC64) ResetRegisters(st *machstate.MachineState, env *Env) {
	ppcReset(st, env)
}

func (PPC64) UpdateRegisters(st *machstate.MachineState, line *dline.Line, env *Env) string {
	return ppcUpdate(st, line, env, true)
}

func ppcReset(st *machstate.MachineState, env *Env) {
	st.Reset()
	if env != nil && env.CurrentMethod != nil {
		st.Regs[ppcFirstArg] = machstate.Register{ClassPtr: env.CurrentMethod.Class}
	}
}

// ppcClobberCall clears the registers a call clobbers under the Darwin PPC
// ABI: r0, r2, the argument/scratch range r3-r12, plus CTR.
func ppcClobberCall(st *machstate.MachineState) {
	st.Regs[0] = machstate.Register{}
	for r := 2; r <= 12; r++ {
		st.Regs[r] = machstate.Register{}
	}
	st.CTR = machstate.Register{}
}

func ppcUpdate(st *machstate.MachineState, line *dline.Line, env *Env, is64 bool) string {
	raw := line.Info.Raw
	if len(raw) < 4 {
		invalidateAll(st)
		return ""
	}
	word := binary.BigEndian.Uint32(raw)
	op := word >> 26
	rD := int((word >> 21) & 31) // also rS for stores
	rA := int((word >> 16) & 31)
	rB := int((word >> 11) & 31)
	simm := int64(int16(word & 0xffff))
	uimm := uint64(word & 0xffff)

	switch op {
	case 14: // addi / li
		if rA == 0 {
			st.Regs[rD] = machstate.Register{Value: uint64(simm), IsValid: true}
		} else if st.Regs[rA].IsValid {
			st.Regs[rD] = machstate.Register{Value: st.Regs[rA].Value + uint64(simm), IsValid: true}
		} else {
			st.Regs[rD] = machstate.Register{}
		}

	case 15: // addis / lis
		if rA == 0 {
			st.Regs[rD] = machstate.Register{Value: uint64(simm) << 16, IsValid: true}
		} else if st.Regs[rA].IsValid {
			st.Regs[rD] = machstate.Register{Value: st.Regs[rA].Value + uint64(simm)<<16, IsValid: true}
		} else {
			st.Regs[rD] = machstate.Register{}
		}

	case 24: // ori; rA is the destination
		if st.Regs[rD].IsValid {
			st.Regs[rA] = machstate.Register{Value: st.Regs[rD].Value | uimm, IsValid: true}
		} else {
			st.Regs[rA] = machstate.Register{}
		}

	case 31:
		ppcUpdateX(st, word, rD, rA, rB)

	case 32: // lwz
		return ppcLoad(st, line, env, rD, rA, simm, 4)

	case 58: // ld (ds-form)
		if is64 {
			return ppcLoad(st, line, env, rD, rA, simm&^3, 8)
		}
		st.Regs[rD] = machstate.Register{}

	case 36: // stw
		ppcStore(st, env, rD, rA, simm)

	case 62: // std (ds-form)
		if is64 {
			ppcStore(st, env, rD, rA, simm&^3)
		}

	case 18: // b/ba/bl/bla
		return ppcBranch(st, line, env, word)

	case 16: // bc/bcl
		if word&1 == 1 {
			// bcl to the very next instruction is the PIC idiom that
			// materializes the program counter in LR.
			bd := int64(int16(word&0xfffc)) &^ 3
			target := line.Info.Address + uint64(bd)
			if word&2 != 0 {
				target = uint64(bd)
			}
			st.LR = machstate.Register{Value: line.Info.Address + 4, IsValid: target == line.Info.Address+4}
		}

	case 19: // blr (xo 16), bctr (xo 528): no register effects tracked

	default:
		st.Regs[rD] = machstate.Register{}
	}
	return ""
}

// ppcUpdateX handles the X-form (opcode 31) instructions the simulator
// cares about: register moves and the LR/CTR special-purpose moves.
func ppcUpdateX(st *machstate.MachineState, word uint32, rD, rA, rB int) {
	xo := (word >> 1) & 0x3ff
	switch xo {
	case 444: // or; mr when rS == rB
		if rD == rB {
			st.Regs[rA] = st.Regs[rD]
		} else if st.Regs[rD].IsValid && st.Regs[rB].IsValid {
			st.Regs[rA] = machstate.Register{Value: st.Regs[rD].Value | st.Regs[rB].Value, IsValid: true}
		} else {
			st.Regs[rA] = machstate.Register{}
		}

	case 266: // add
		if st.Regs[rA].IsValid && st.Regs[rB].IsValid {
			st.Regs[rD] = machstate.Register{Value: st.Regs[rA].Value + st.Regs[rB].Value, IsValid: true}
		} else {
			st.Regs[rD] = machstate.Register{}
		}

	case 339: // mfspr
		switch ppcSPR(word) {
		case 8:
			st.Regs[rD] = st.LR
		case 9:
			st.Regs[rD] = st.CTR
		default:
			st.Regs[rD] = machstate.Register{}
		}

	case 467: // mtspr
		switch ppcSPR(word) {
		case 8:
			st.LR = st.Regs[rD]
		case 9:
			st.CTR = st.Regs[rD]
		}

	default:
		st.Regs[rD] = machstate.Register{}
	}
}

// ppcSPR decodes the split special-purpose-register field.
func ppcSPR(word uint32) uint32 {
	return ((word >> 16) & 31) | (((word >> 11) & 31) << 5)
}

func ppcLoad(st *machstate.MachineState, line *dline.Line, env *Env, rD, rA int, d int64, width int) string {
	if rA == 0 {
		loadFromResolver(&st.Regs[rD], uint64(d), env)
		return ""
	}

	base := st.Regs[rA]

	// Frame slot reload.
	if rA == ppcSP || rA == 30 || rA == 31 {
		for i := len(st.LocalSelves) - 1; i >= 0; i-- {
			if st.LocalSelves[i].FrameOffset == d {
				st.Regs[rD] = st.LocalSelves[i].Reg
				return ""
			}
		}
		for i := len(st.LocalVars) - 1; i >= 0; i-- {
			if st.LocalVars[i].FrameOffset == d {
				st.Regs[rD] = st.LocalVars[i].Reg
				return ""
			}
		}
	}

	// Ivar load through a known object pointer.
	if base.ClassPtr != "" {
		note := ivarNote(env, base.ClassPtr, d)
		st.Regs[rD] = machstate.Register{}
		return note
	}

	if base.IsValid {
		loadFromResolver(&st.Regs[rD], base.Value+uint64(d), env)
		return ""
	}
	st.Regs[rD] = machstate.Register{}
	return ""
}

func ppcStore(st *machstate.MachineState, env *Env, rS, rA int, d int64) {
	if rA != ppcSP && rA != 30 && rA != 31 {
		return
	}
	lv := machstate.LocalVar{Reg: st.Regs[rS], FrameOffset: d}
	if env != nil && env.CurrentMethod != nil && st.Regs[rS].ClassPtr == env.CurrentMethod.Class {
		st.LocalSelves = append(st.LocalSelves, lv)
	} else {
		st.LocalVars = append(st.LocalVars, lv)
	}
}

// ppcBranch handles the I-form branch: plain b/ba fall through to block
// discovery; bl/bla are calls, where the msgSend variants produce notes.
// An absolute branch-and-link to the comm page's routine table pointer is
// objc_msgSend_rtp, which never appears in the symbol table.
func ppcBranch(st *machstate.MachineState, line *dline.Line, env *Env, word uint32) string {
	if word&1 == 0 {
		return ""
	}

	off := int64(int32(word<<6)>>6) &^ 3
	target := uint64(off)
	if word&2 == 0 {
		target = line.Info.Address + uint64(off)
	}

	send, isSend := SendRTP, uint32(target) == ppcRTPAddress
	if !isSend {
		if name, ok := env.symbolAt(target); ok {
			send, isSend = ClassifySend(name)
		}
	}

	note := ""
	if isSend {
		shift := 0
		if send.ShiftsArgs() {
			shift = 1
		}
		recv := st.Regs[ppcFirstArg+shift]
		sel := st.Regs[ppcFirstArg+shift+1]
		note = sendComment(recv, sel, env)
	}

	ppcClobberCall(st)
	st.LR = machstate.Register{Value: line.Info.Address + 4, IsValid: true}
	return note
}
