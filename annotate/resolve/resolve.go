package resolve

import (
	"fmt"
	"math"
	"strings"

	macho "github.com/otxgo/otx"
	"github.com/otxgo/otx/annotate/catalog"
	"github.com/otxgo/otx/annotate/machoutil"
)

// nsStringIsaSentinel is the well-known placeholder isa value a handful of
// toolchains leave in a literal's isa slot instead of a real relocation,
// used to disambiguate a raw cfstring_t-shaped literal as an NSString
// rather than a CFString.
const nsStringIsaSentinel = 0x7c8

// Result is one rendered pointer/address resolution: the section kind the
// address fell in, plus the comment text to append. Kind is KindUnknown
// with ok=false when no registered section contains addr, or the
// containing section's kind has no resolver branch.
type Result struct {
	Kind SectionKind
	Text string
}

// Resolver bundles the Registry, the Objective-C catalog and the backing
// image, so the annotator and simulator can share one read-only
// collaborator per function run.
type Resolver struct {
	f   *macho.File
	reg *Registry
	cat *catalog.Catalog
}

// New builds a Resolver over an already-populated Registry and Catalog.
func New(f *macho.File, reg *Registry, cat *catalog.Catalog) *Resolver {
	return &Resolver{f: f, reg: reg, cat: cat}
}

// GetPointer resolves addr to its section kind and a human-readable
// string, or ok=false when the address resolves to nothing (unregistered
// section, or a kind with no rendering rule).
func (r *Resolver) GetPointer(addr uint64) (Result, bool) {
	h, ok := r.reg.LookupByAddress(addr)
	if !ok {
		return Result{}, false
	}

	switch h.Kind {
	case KindCString:
		s, err := r.f.GetCString(addr)
		if err != nil {
			return Result{}, false
		}
		return Result{Kind: h.Kind, Text: fmt.Sprintf("%q", s)}, true

	case KindPString:
		// Length-prefixed Str255, not zero-terminated.
		lenByte, err := r.readRaw(addr, 1)
		if err != nil || lenByte[0] == 0 {
			return Result{}, false
		}
		body, err := r.readRaw(addr+1, int(lenByte[0]))
		if err != nil {
			return Result{}, false
		}
		return Result{Kind: h.Kind, Text: fmt.Sprintf("%q", string(body))}, true

	case KindFloat4:
		bits, err := r.readRaw(addr, 4)
		if err != nil {
			return Result{}, false
		}
		v := math.Float32frombits(r.f.ByteOrder.Uint32(bits))
		return Result{Kind: h.Kind, Text: fmt.Sprintf("%.9g", v)}, true

	case KindDouble8:
		bits, err := r.readRaw(addr, 8)
		if err != nil {
			return Result{}, false
		}
		v := math.Float64frombits(r.f.ByteOrder.Uint64(bits))
		return Result{Kind: h.Kind, Text: fmt.Sprintf("%.17g", v)}, true

	case KindCFString:
		return r.resolveStringLiteral(addr, h.Kind)

	case KindDyld:
		return r.resolveDyldStub(addr, h.Kind)

	case KindNonLazySymbol, KindImportPointer:
		return r.resolveIndirectSymbol(addr, h)

	case KindOCClassRef, KindOCSuperRef:
		return r.resolveClassRef(addr, h.Kind)

	case KindOCSelRef, KindOCMsgRef:
		return r.resolveSelRef(addr, h.Kind)

	default:
		// Registered with a kind this resolver has no rendering rule for
		// (OC-generic, OC-class, OC-module, data-generic, data-const,
		// text-const, OC-cat-list, OC-proto-list, OC-proto-ref): the
		// annotator simply omits a comment.
		return Result{}, false
	}
}

func (r *Resolver) readRaw(addr uint64, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := machoutil.ReadAtAddr(r.f, buf, addr); err != nil {
		return nil, err
	}
	return buf, nil
}

// resolveStringLiteral follows a CFString/NSString literal's embedded
// `chars` pointer to its backing cstring. The literal's own isa slot
// disambiguates CFString from NSString.
func (r *Resolver) resolveStringLiteral(addr uint64, kind SectionKind) (Result, bool) {
	ptrSize := machoutil.PointerSize(r.f)

	isa, err := machoutil.ReadPointer(r.f, addr)
	if err != nil {
		return Result{}, false
	}
	charsAddr := addr + 2*ptrSize
	chars, err := machoutil.ReadPointer(r.f, charsAddr)
	if err != nil || chars == 0 {
		return Result{}, false
	}

	s, err := r.f.GetCString(chars)
	if err != nil {
		return Result{}, false
	}

	label := "CFSTR"
	if isa == nsStringIsaSentinel {
		label = "NSSTR"
	}
	return Result{Kind: kind, Text: fmt.Sprintf("%s(%q)", label, s)}, true
}

// dyldStubFieldIndex is the index (0-based, pointer-sized stride) of
// dyld_stub_binding_helper within the six-pointer dyld_data_section
// layout.
const dyldStubFieldIndex = 5

func (r *Resolver) resolveDyldStub(addr uint64, kind SectionKind) (Result, bool) {
	ptrSize := machoutil.PointerSize(r.f)
	helperAddr := addr + dyldStubFieldIndex*ptrSize
	helper, err := machoutil.ReadPointer(r.f, helperAddr)
	if err != nil {
		return Result{}, false
	}
	if name, ok := r.symbolAt(helper); ok {
		return Result{Kind: kind, Text: name}, true
	}
	return Result{Kind: kind, Text: fmt.Sprintf("dyld_stub_binding_helper@%#x", helper)}, true
}

// resolveIndirectSymbol resolves a non-lazy-symbol-pointer or
// import-pointer slot through the dynamic symbol table's indirect symbol
// array: Reserved1 is the section's base index into IndirectSyms.
func (r *Resolver) resolveIndirectSymbol(addr uint64, h Handle) (Result, bool) {
	if r.f.Dysymtab == nil || r.f.Symtab == nil {
		return Result{}, false
	}
	ptrSize := machoutil.PointerSize(r.f)
	if ptrSize == 0 || addr < h.VMAddr {
		return Result{}, false
	}
	slot := int((addr - h.VMAddr) / ptrSize)
	idx := int(h.Reserved1) + slot
	if idx < 0 || idx >= len(r.f.Dysymtab.IndirectSyms) {
		return Result{}, false
	}
	symIdx := r.f.Dysymtab.IndirectSyms[idx]
	if int(symIdx) >= len(r.f.Symtab.Syms) {
		return Result{}, false
	}
	return Result{Kind: h.Kind, Text: r.f.Symtab.Syms[symIdx].Name}, true
}

// resolveClassRef dereferences an OC-class-ref/OC-super-ref slot (a pointer
// to a class record) and names it via the global symbol the linker exports
// for every class ("_OBJC_CLASS_$_Foo"/"_OBJC_METACLASS_$_Foo"), falling
// back to the bound-import name for classes satisfied by another image.
func (r *Resolver) resolveClassRef(addr uint64, kind SectionKind) (Result, bool) {
	target, err := machoutil.ReadPointer(r.f, addr)
	if err == nil && target != 0 {
		if name, ok := r.symbolAt(target); ok {
			return Result{Kind: kind, Text: stripClassSymbolPrefix(name)}, true
		}
	}
	if name, err := r.f.GetBindName(addr); err == nil && name != "" {
		return Result{Kind: kind, Text: stripClassSymbolPrefix(name)}, true
	}
	return Result{}, false
}

func stripClassSymbolPrefix(name string) string {
	for _, prefix := range []string{"_OBJC_METACLASS_$_", "_OBJC_CLASS_$_"} {
		if strings.HasPrefix(name, prefix) {
			return strings.TrimPrefix(name, prefix)
		}
	}
	return name
}

// resolveSelRef follows an OC-sel-ref/OC-msg-ref slot to its selector
// string: both kinds store a pointer to the selector literal in
// __TEXT,__cstring.
func (r *Resolver) resolveSelRef(addr uint64, kind SectionKind) (Result, bool) {
	target, err := machoutil.ReadPointer(r.f, addr)
	if err != nil || target == 0 {
		return Result{}, false
	}
	s, err := r.f.GetCString(target)
	if err != nil {
		return Result{}, false
	}
	return Result{Kind: kind, Text: s}, true
}

func (r *Resolver) symbolAt(addr uint64) (string, bool) {
	syms, err := r.f.FindAddressSymbols(addr)
	if err != nil || len(syms) == 0 {
		return "", false
	}
	return syms[0].Name, true
}
