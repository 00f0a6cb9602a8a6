// Package sim implements the per-architecture register/stack abstract
// interpreter. Each architecture provides an Arch that decodes one code
// line's raw bytes and applies its transfer function to a live
// machstate.MachineState; the annotator drives it line by line and
// consumes the notes it produces (msgSend expansions, ivar names).
package sim

import (
	"fmt"
	"strings"

	"github.com/otxgo/otx/annotate/catalog"
	"github.com/otxgo/otx/annotate/dline"
	"github.com/otxgo/otx/annotate/funcblock"
	"github.com/otxgo/otx/annotate/machstate"
	"github.com/otxgo/otx/annotate/resolve"
	"github.com/otxgo/otx/types"
)

// parseBranchTarget is the shared hex-literal operand parser from block
// discovery, aliased so each Arch can satisfy the Classifier contract.
var parseBranchTarget = funcblock.ParseBranchTarget

// Arch is the architecture trait: block/function classification for
// discovery, plus the three-phase simulator contract. ResetRegisters runs at
// a function's entry line; restoring a block's entry state is done by the
// caller from the snapshot; UpdateRegisters then runs on every line,
// including one just reset or restored.
type Arch interface {
	// Classifier questions, consumed by funcblock discovery.
	IsReturn(mnemonic string) bool
	IsUnconditionalJump(mnemonic string) bool
	IsBranch(mnemonic string) bool
	BranchTarget(operands string) (uint64, bool)

	// Name is the selector string for this architecture ("i386", ...).
	Name() string
	// RegisterCount sizes the MachineState's register file.
	RegisterCount() int
	// ResetRegisters zeros state and seeds the receiver register/slot when
	// the current function is a known Objective-C method.
	ResetRegisters(st *machstate.MachineState, env *Env)
	// UpdateRegisters decodes line's raw bytes, applies the transfer
	// function, and returns a note for the annotator ("" when the line
	// warrants none). Undecodable bytes invalidate the whole register file
	// so downstream comments stay sound.
	UpdateRegisters(st *machstate.MachineState, line *dline.Line, env *Env) string
}

// Env bundles the read-only collaborators a transfer function consults:
// the pointer resolver, the Objective-C catalog, a symbol lookup over the
// image, discovered PC thunks, and the method owning the current function
// (nil for a plain C function).
type Env struct {
	Resolver      *resolve.Resolver
	Catalog       *catalog.Catalog
	SymbolAt      func(addr uint64) (string, bool)
	Thunks        []ThunkInfo
	CurrentMethod *catalog.MethodInfo

	// VariableTypes appends the declared ivar type to ivar-load notes.
	VariableTypes bool
}

func (e *Env) symbolAt(addr uint64) (string, bool) {
	if e == nil || e.SymbolAt == nil {
		return "", false
	}
	return e.SymbolAt(addr)
}

// ThunkInfo records one discovered get_pc_thunk routine: its address and
// the register it copies the instruction pointer into. x86 only; several
// can coexist, one per register.
type ThunkInfo struct {
	Address uint64
	Reg     int
}

// thunkReg returns the destination register of a thunk at addr, if one was
// discovered there.
func (e *Env) thunkReg(addr uint64) (int, bool) {
	if e == nil {
		return 0, false
	}
	for _, t := range e.Thunks {
		if t.Address == addr {
			return t.Reg, true
		}
	}
	return 0, false
}

// SendType is the closed 7-element enum of objc_msgSend variants.
type SendType int

const (
	Send SendType = iota
	SendRTP // ppc only
	SendSuper
	SendStret
	SendSuperStret
	SendFpret // x86 only
	SendVariadic
)

// ClassifySend maps a called symbol name onto its msgSend variant.
func ClassifySend(name string) (SendType, bool) {
	name = strings.TrimPrefix(name, "_")
	switch name {
	case "objc_msgSend":
		return Send, true
	case "objc_msgSend_rtp":
		return SendRTP, true
	case "objc_msgSendSuper":
		return SendSuper, true
	case "objc_msgSend_stret":
		return SendStret, true
	case "objc_msgSendSuper_stret":
		return SendSuperStret, true
	case "objc_msgSend_fpret":
		return SendFpret, true
	case "objc_msgSendv":
		return SendVariadic, true
	}
	return 0, false
}

// ShiftsArgs reports whether the variant returns through a hidden first
// argument (struct or x87 float), shifting the receiver and selector one
// slot right.
func (t SendType) ShiftsArgs() bool {
	return t == SendStret || t == SendSuperStret || t == SendFpret
}

// IsSuper reports whether the receiver slot holds an objc_super rather
// than the object itself.
func (t SendType) IsSuper() bool {
	return t == SendSuper || t == SendSuperStret
}

// ppcRTPAddress is where the shared comm page exports objc_msgSend_rtp;
// a PPC image branches there absolutely, with no symbol to resolve.
const ppcRTPAddress = 0xfffeff00

// ForCPU returns the Arch implementation for a CPU from the image header.
func ForCPU(cpu types.CPU) (Arch, bool) {
	switch cpu {
	case types.CPU386:
		return I386{}, true
	case types.CPUAmd64:
		return X8664{}, true
	case types.CPUPpc:
		return PPC{}, true
	case types.CPUPpc64:
		return PPC64{}, true
	}
	return nil, false
}

// ForName returns the Arch for one of the closed arch selector strings.
func ForName(name string) (Arch, bool) {
	switch name {
	case "i386":
		return I386{}, true
	case "x86_64":
		return X8664{}, true
	case "ppc":
		return PPC{}, true
	case "ppc64":
		return PPC64{}, true
	}
	return nil, false
}

// sendComment renders `-[Class sel]` / `+[Class sel]` from the receiver and
// selector registers at a msgSend call site. Either side may be unknown;
// a wholly unknown call renders nothing.
func sendComment(recv, sel machstate.Register, env *Env) string {
	selName := sel.Selector
	if selName == "" && env != nil && env.Resolver != nil && sel.IsValid && sel.Value != 0 {
		if res, ok := env.Resolver.GetPointer(sel.Value); ok {
			switch res.Kind {
			case resolve.KindCString, resolve.KindOCSelRef, resolve.KindOCMsgRef:
				selName = strings.Trim(res.Text, `"`)
			}
		}
	}

	className := recv.ClassPtr
	if className == "" && recv.CategoryPtr != "" {
		className = recv.CategoryPtr
	}

	switch {
	case className == "" && selName == "":
		return ""
	case className == "":
		return fmt.Sprintf("-[? %s]", selName)
	case selName == "":
		return fmt.Sprintf("-[%s ?]", className)
	}

	sign := "-"
	if env != nil && env.Catalog != nil && env.Catalog.ClassMethodNamed(className, selName) {
		sign = "+"
	}
	return fmt.Sprintf("%s[%s %s]", sign, className, selName)
}

// invalidateAll clears every register: the conservative fallback when a
// line cannot be decoded, so a skipped line leaves the simulator sound
// rather than stale.
func invalidateAll(st *machstate.MachineState) {
	for i := range st.Regs {
		st.Regs[i] = machstate.Register{}
	}
}

// loadFromResolver tags a freshly loaded register with whatever the pointed
// address resolves to: class refs become class pointers, selector refs
// become selectors, everything else just records the value.
func loadFromResolver(r *machstate.Register, addr uint64, env *Env) {
	r.Value = addr
	r.IsValid = true
	r.ClassPtr = ""
	r.CategoryPtr = ""
	r.Selector = ""
	if env == nil || env.Resolver == nil {
		return
	}
	res, ok := env.Resolver.GetPointer(addr)
	if !ok {
		return
	}
	switch res.Kind {
	case resolve.KindOCClassRef, resolve.KindOCSuperRef:
		r.ClassPtr = res.Text
	case resolve.KindOCSelRef, resolve.KindOCMsgRef:
		r.Selector = res.Text
	}
}

// ivarNote resolves an indirect load through a register holding a known
// object of class className at byte offset off to its ivar name, honoring
// the superclass chain.
func ivarNote(env *Env, className string, off int64) string {
	withType := env != nil && env.VariableTypes
	if env == nil || env.Catalog == nil || className == "" {
		return ""
	}
	ci, ok := env.Catalog.ClassFromName(className)
	if !ok {
		return ""
	}
	iv, ok := env.Catalog.IvarInClass(ci, off)
	if !ok {
		return ""
	}
	if withType && iv.Type != "" {
		return fmt.Sprintf("%s (%s)", iv.Name, iv.Type)
	}
	return iv.Name
}
