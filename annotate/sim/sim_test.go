package sim

import (
	"testing"

	"github.com/otxgo/otx/annotate/catalog"
	"github.com/otxgo/otx/annotate/dline"
	"github.com/otxgo/otx/annotate/machstate"
)

func codeLine(addr uint64, raw ...byte) *dline.Line {
	return &dline.Line{Info: dline.Info{
		Address:   addr,
		Raw:       raw,
		ByteCount: len(raw),
		IsCode:    true,
	}}
}

func methodOf(class string) *catalog.MethodInfo {
	return &catalog.MethodInfo{Class: class, Sel: "refresh", IsInstance: true}
}

func TestClassifySend(t *testing.T) {
	tests := []struct {
		name string
		want SendType
		ok   bool
	}{
		{"_objc_msgSend", Send, true},
		{"objc_msgSend", Send, true},
		{"_objc_msgSend_rtp", SendRTP, true},
		{"_objc_msgSendSuper", SendSuper, true},
		{"_objc_msgSend_stret", SendStret, true},
		{"_objc_msgSendSuper_stret", SendSuperStret, true},
		{"_objc_msgSend_fpret", SendFpret, true},
		{"_objc_msgSendv", SendVariadic, true},
		{"_printf", 0, false},
	}
	for _, tt := range tests {
		got, ok := ClassifySend(tt.name)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Errorf("ClassifySend(%q) = %v, %v; want %v, %v", tt.name, got, ok, tt.want, tt.ok)
		}
	}
}

func TestI386ImmediateLoad(t *testing.T) {
	st := machstate.NewMachineState(8)
	// b8 05 00 00 00  mov $0x5,%eax
	I386{}.UpdateRegisters(&st, codeLine(0x1000, 0xb8, 0x05, 0x00, 0x00, 0x00), &Env{})
	if !st.Regs[regEAX].IsValid || st.Regs[regEAX].Value != 5 {
		t.Fatalf("EAX = %+v, want valid 5", st.Regs[regEAX])
	}
}

func TestI386RegisterMovePropagatesClassPtr(t *testing.T) {
	st := machstate.NewMachineState(8)
	st.Regs[regECX] = machstate.Register{Value: 0x4000, IsValid: true, ClassPtr: "NSArray"}
	// 89 c8  mov %ecx,%eax
	I386{}.UpdateRegisters(&st, codeLine(0x1000, 0x89, 0xc8), &Env{})
	if st.Regs[regEAX].ClassPtr != "NSArray" {
		t.Fatalf("EAX = %+v, want class pointer NSArray", st.Regs[regEAX])
	}
}

func TestI386MsgSendFromRegisters(t *testing.T) {
	st := machstate.NewMachineState(8)
	st.Regs[regECX] = machstate.Register{Value: 0x4000, IsValid: true, ClassPtr: "NSArray"}
	st.Regs[regEDX] = machstate.Register{Value: 0x5000, IsValid: true, Selector: "count"}

	env := &Env{SymbolAt: func(addr uint64) (string, bool) {
		if addr == 0x3f00 {
			return "_objc_msgSend", true
		}
		return "", false
	}}

	// e8 xx xx xx xx  call 0x3f00, from 0x3000 (target = 0x3005 + 0xefb)
	note := I386{}.UpdateRegisters(&st, codeLine(0x3000, 0xe8, 0xfb, 0x0e, 0x00, 0x00), env)
	if note != "-[NSArray count]" {
		t.Fatalf("msgSend note = %q, want -[NSArray count]", note)
	}
	if st.Regs[regEAX].IsValid {
		t.Fatalf("EAX still valid after call")
	}
}

func TestI386StackArgsMsgSend(t *testing.T) {
	st := machstate.NewMachineState(8)
	// Caller pushes selector then receiver (right to left).
	st.PushStack(machstate.Register{Selector: "count"})
	st.PushStack(machstate.Register{ClassPtr: "NSArray"})

	env := &Env{SymbolAt: func(addr uint64) (string, bool) { return "_objc_msgSend", true }}
	note := I386{}.UpdateRegisters(&st, codeLine(0x3000, 0xe8, 0xfb, 0x0e, 0x00, 0x00), env)
	if note != "-[NSArray count]" {
		t.Fatalf("msgSend note = %q, want -[NSArray count]", note)
	}
}

func TestFindThunksAndCall(t *testing.T) {
	// 0x100: 8b 1c 24  mov (%esp),%ebx
	// 0x103: c3        ret
	code := []*dline.Line{
		codeLine(0x100, 0x8b, 0x1c, 0x24),
		codeLine(0x103, 0xc3),
	}
	thunks := FindThunks(code)
	if len(thunks) != 1 || thunks[0].Address != 0x100 || thunks[0].Reg != regEBX {
		t.Fatalf("FindThunks = %+v, want one EBX thunk at 0x100", thunks)
	}

	st := machstate.NewMachineState(8)
	env := &Env{Thunks: thunks}
	// call 0x100 from 0x200: e8 rel32 with rel = 0x100 - 0x205 = -0x105
	I386{}.UpdateRegisters(&st, codeLine(0x200, 0xe8, 0xfb, 0xfe, 0xff, 0xff), env)
	if !st.Regs[regEBX].IsValid || st.Regs[regEBX].Value != 0x205 {
		t.Fatalf("EBX = %+v, want valid 0x205 (return address)", st.Regs[regEBX])
	}
}

func TestX8664MsgSendFromArgRegisters(t *testing.T) {
	st := machstate.NewMachineState(16)
	st.Regs[regEDI] = machstate.Register{ClassPtr: "NSString"}
	st.Regs[regESI] = machstate.Register{Selector: "length"}

	env := &Env{SymbolAt: func(addr uint64) (string, bool) { return "_objc_msgSend", true }}
	note := X8664{}.UpdateRegisters(&st, codeLine(0x3000, 0xe8, 0xfb, 0x0e, 0x00, 0x00), env)
	if note != "-[NSString length]" {
		t.Fatalf("msgSend note = %q, want -[NSString length]", note)
	}
}

func TestX8664StretShiftsArgs(t *testing.T) {
	st := machstate.NewMachineState(16)
	st.Regs[regESI] = machstate.Register{ClassPtr: "NSValue"}
	st.Regs[regEDX] = machstate.Register{Selector: "rangeValue"}

	env := &Env{SymbolAt: func(addr uint64) (string, bool) { return "_objc_msgSend_stret", true }}
	note := X8664{}.UpdateRegisters(&st, codeLine(0x3000, 0xe8, 0xfb, 0x0e, 0x00, 0x00), env)
	if note != "-[NSValue rangeValue]" {
		t.Fatalf("stret note = %q, want -[NSValue rangeValue]", note)
	}
}

func TestUndecodableLineInvalidatesEverything(t *testing.T) {
	st := machstate.NewMachineState(8)
	st.Regs[regEAX] = machstate.Register{Value: 1, IsValid: true}
	I386{}.UpdateRegisters(&st, codeLine(0x1000, 0xff, 0xff), &Env{})
	for i, r := range st.Regs {
		if r.IsValid {
			t.Fatalf("register %d still valid after undecodable line", i)
		}
	}
}

func TestPPCLoadImmediate(t *testing.T) {
	st := machstate.NewMachineState(32)
	// 38 60 00 05  li r3,5
	PPC{}.UpdateRegisters(&st, codeLine(0x1000, 0x38, 0x60, 0x00, 0x05), &Env{})
	if !st.Regs[3].IsValid || st.Regs[3].Value != 5 {
		t.Fatalf("r3 = %+v, want valid 5", st.Regs[3])
	}

	// 3c 80 00 10  lis r4,0x10
	PPC{}.UpdateRegisters(&st, codeLine(0x1004, 0x3c, 0x80, 0x00, 0x10), &Env{})
	if !st.Regs[4].IsValid || st.Regs[4].Value != 0x100000 {
		t.Fatalf("r4 = %+v, want valid 0x100000", st.Regs[4])
	}

	// 38 a4 00 08  addi r5,r4,8
	PPC{}.UpdateRegisters(&st, codeLine(0x1008, 0x38, 0xa4, 0x00, 0x08), &Env{})
	if !st.Regs[5].IsValid || st.Regs[5].Value != 0x100008 {
		t.Fatalf("r5 = %+v, want valid 0x100008", st.Regs[5])
	}
}

func TestPPCMoveRegister(t *testing.T) {
	st := machstate.NewMachineState(32)
	st.Regs[3] = machstate.Register{Value: 0x2000, IsValid: true, ClassPtr: "Widget"}
	// 7c 7e 1b 78  mr r30,r3  (or r30,r3,r3)
	PPC{}.UpdateRegisters(&st, codeLine(0x1000, 0x7c, 0x7e, 0x1b, 0x78), &Env{})
	if st.Regs[30].ClassPtr != "Widget" {
		t.Fatalf("r30 = %+v, want Widget class pointer", st.Regs[30])
	}
}

func TestPPCBclMaterializesLR(t *testing.T) {
	st := machstate.NewMachineState(32)
	// 42 9f 00 05  bcl 20,31,$+4
	PPC{}.UpdateRegisters(&st, codeLine(0x1000, 0x42, 0x9f, 0x00, 0x05), &Env{})
	if !st.LR.IsValid || st.LR.Value != 0x1004 {
		t.Fatalf("LR = %+v, want valid 0x1004", st.LR)
	}

	// 7c 68 02 a6  mflr r3
	PPC{}.UpdateRegisters(&st, codeLine(0x1004, 0x7c, 0x68, 0x02, 0xa6), &Env{})
	if !st.Regs[3].IsValid || st.Regs[3].Value != 0x1004 {
		t.Fatalf("r3 = %+v, want LR copy 0x1004", st.Regs[3])
	}
}

func TestPPCMsgSendRTP(t *testing.T) {
	st := machstate.NewMachineState(32)
	st.Regs[3] = machstate.Register{ClassPtr: "NSArray"}
	st.Regs[4] = machstate.Register{Selector: "count"}

	// bla 0xfffeff00: op 18, AA|LK, absolute target sign-extends to
	// 0xfffeff00: 4b fe ff 03
	note := PPC{}.UpdateRegisters(&st, codeLine(0x1000, 0x4b, 0xfe, 0xff, 0x03), &Env{})
	if note != "-[NSArray count]" {
		t.Fatalf("rtp note = %q, want -[NSArray count]", note)
	}
	if !st.LR.IsValid || st.LR.Value != 0x1004 {
		t.Fatalf("LR = %+v, want valid 0x1004 after bla", st.LR)
	}
}

func TestPPCFrameStoreAndReload(t *testing.T) {
	env := &Env{}
	st := machstate.NewMachineState(32)
	st.Regs[3] = machstate.Register{Value: 0x9000, IsValid: true, ClassPtr: "Widget"}

	// 90 61 00 18  stw r3,24(r1)
	PPC{}.UpdateRegisters(&st, codeLine(0x1000, 0x90, 0x61, 0x00, 0x18), env)
	if len(st.LocalVars) != 1 || st.LocalVars[0].FrameOffset != 24 {
		t.Fatalf("LocalVars = %+v, want one slot at offset 24", st.LocalVars)
	}

	// Clobber r3, then reload from the frame: 80 61 00 18  lwz r3,24(r1)
	st.Regs[3] = machstate.Register{}
	PPC{}.UpdateRegisters(&st, codeLine(0x1004, 0x80, 0x61, 0x00, 0x18), env)
	if st.Regs[3].ClassPtr != "Widget" {
		t.Fatalf("r3 = %+v, want Widget restored from frame", st.Regs[3])
	}
}

func TestSelfStoreGoesToLocalSelves(t *testing.T) {
	env := &Env{CurrentMethod: methodOf("Widget")}
	st := machstate.NewMachineState(32)
	PPC{}.ResetRegisters(&st, env)
	if st.Regs[3].ClassPtr != "Widget" {
		t.Fatalf("r3 = %+v, want seeded self", st.Regs[3])
	}

	// 90 61 00 18  stw r3,24(r1)
	PPC{}.UpdateRegisters(&st, codeLine(0x1000, 0x90, 0x61, 0x00, 0x18), env)
	if len(st.LocalSelves) != 1 {
		t.Fatalf("LocalSelves = %+v, want the stored self copy", st.LocalSelves)
	}
}

func TestForName(t *testing.T) {
	for _, name := range []string{"ppc", "ppc64", "i386", "x86_64"} {
		a, ok := ForName(name)
		if !ok || a.Name() != name {
			t.Fatalf("ForName(%q) = %v, %v", name, a, ok)
		}
	}
	if _, ok := ForName("arm64"); ok {
		t.Fatalf("ForName(arm64) should not resolve")
	}
}
