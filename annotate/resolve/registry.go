// Package resolve implements the annotation engine's section registry and
// pointer/address resolver: a typed handle for every section the annotator
// consults, and a single GetPointer entry point that turns a data address
// into a rendered comment string.
package resolve

import (
	"fmt"

	macho "github.com/otxgo/otx"
)

// SectionKind is the closed enum of section roles the annotator cares
// about. Two sections can share a kind; no two registered sections may
// overlap in address range.
type SectionKind int

const (
	KindUnknown SectionKind = iota
	KindCString
	KindPString
	KindTextConst
	KindCFString
	KindFloat4
	KindDouble8
	KindDataGeneric
	KindDataConst
	KindDyld
	KindNonLazySymbol
	KindImportPointer
	KindOCGeneric
	KindOCStringObject
	KindOCClass
	KindOCModule
	KindOCClassRef
	KindOCMsgRef
	KindOCSelRef
	KindOCSuperRef
	KindOCCatList
	KindOCProtoList
	KindOCProtoRef
)

func (k SectionKind) String() string {
	switch k {
	case KindCString:
		return "cstring"
	case KindPString:
		return "pstring"
	case KindTextConst:
		return "text-const"
	case KindCFString:
		return "cfstring"
	case KindFloat4:
		return "float4"
	case KindDouble8:
		return "double8"
	case KindDataGeneric:
		return "data-generic"
	case KindDataConst:
		return "data-const"
	case KindDyld:
		return "dyld"
	case KindNonLazySymbol:
		return "non-lazy-symbol"
	case KindImportPointer:
		return "import-pointer"
	case KindOCGeneric:
		return "OC-generic"
	case KindOCStringObject:
		return "OC-string-object"
	case KindOCClass:
		return "OC-class"
	case KindOCModule:
		return "OC-module"
	case KindOCClassRef:
		return "OC-class-ref"
	case KindOCMsgRef:
		return "OC-msg-ref"
	case KindOCSelRef:
		return "OC-sel-ref"
	case KindOCSuperRef:
		return "OC-super-ref"
	case KindOCCatList:
		return "OC-cat-list"
	case KindOCProtoList:
		return "OC-proto-list"
	case KindOCProtoRef:
		return "OC-proto-ref"
	default:
		return "unknown"
	}
}

// Handle is one registered section: a runtime kind tag on top of the file's
// own SectionHeader fields, plus its reserved1 (used by the indirect-symbol
// resolver as the base index into the indirect symbol table).
type Handle struct {
	Name       string
	Segment    string
	VMAddr     uint64
	FileOffset uint32
	Size       uint64
	Reserved1  uint32
	Kind       SectionKind
}

func (h Handle) contains(addr uint64) bool {
	return addr >= h.VMAddr && addr < h.VMAddr+h.Size
}

// Registry is the section registry: at most one handle per (segment,
// section) pair, kinds disjoint, no two handles overlapping in address
// range.
type Registry struct {
	handles []Handle
}

// classifyTable maps exact (segname, sectname) pairs to a SectionKind. Built
// from the well-known Mach-O/Objective-C section names both runtimes use;
// a section absent from this table is registered as KindUnknown, and the
// resolver simply yields no hint for addresses inside it.
var classifyTable = map[[2]string]SectionKind{
	{"__TEXT", "__cstring"}:       KindCString,
	{"__TEXT", "__pstring"}:       KindPString,
	{"__TEXT", "__const"}:         KindTextConst,
	{"__TEXT", "__literal4"}:      KindFloat4,
	{"__TEXT", "__literal8"}:      KindDouble8,
	{"__TEXT", "__cfstring"}:      KindCFString,
	{"__DATA", "__cfstring"}:      KindCFString,
	{"__DATA", "__const"}:         KindDataConst,
	{"__DATA_CONST", "__const"}:   KindDataConst,
	{"__DATA", "__data"}:          KindDataGeneric,
	{"__DATA", "__dyld"}:          KindDyld,
	{"__DATA", "__nl_symbol_ptr"}: KindNonLazySymbol,
	{"__DATA", "__la_symbol_ptr"}: KindImportPointer,
	{"__IMPORT", "__jump_table"}:  KindImportPointer,
	{"__IMPORT", "__pointers"}:    KindImportPointer,

	{"__OBJC", "__module_info"}:    KindOCModule,
	{"__OBJC", "__class"}:          KindOCClass,
	{"__OBJC", "__meta_class"}:     KindOCClass,
	{"__OBJC", "__string_object"}:  KindOCStringObject,
	{"__OBJC", "__cls_refs"}:       KindOCClassRef,
	{"__OBJC", "__message_refs"}:   KindOCMsgRef,
	{"__OBJC", "__selector_refs"}:  KindOCSelRef,
	{"__OBJC", "__super_refs"}:     KindOCSuperRef,
	{"__OBJC", "__category"}:       KindOCCatList,
	{"__OBJC", "__protocol"}:       KindOCProtoList,
	{"__OBJC", "__cat_cls_meth"}:   KindOCGeneric,
	{"__OBJC", "__cat_inst_meth"}:  KindOCGeneric,
	{"__OBJC", "__cls_meth"}:       KindOCGeneric,
	{"__OBJC", "__inst_meth"}:      KindOCGeneric,
	{"__OBJC", "__symbols"}:        KindOCGeneric,
	{"__OBJC", "__instance_vars"}:  KindOCGeneric,
	{"__OBJC", "__protocol_vars"}:  KindOCGeneric,

	{"__DATA", "__objc_classlist"}:  KindOCClass,
	{"__DATA", "__objc_nlclslist"}:  KindOCClass,
	{"__DATA", "__objc_catlist"}:    KindOCCatList,
	{"__DATA", "__objc_nlcatlist"}:  KindOCCatList,
	{"__DATA", "__objc_protolist"}:  KindOCProtoList,
	{"__DATA", "__objc_classrefs"}:  KindOCClassRef,
	{"__DATA", "__objc_superrefs"}:  KindOCSuperRef,
	{"__DATA", "__objc_selrefs"}:    KindOCSelRef,
	{"__DATA", "__objc_msgrefs"}:    KindOCMsgRef,
	{"__DATA", "__objc_protorefs"}:  KindOCProtoRef,
	{"__DATA", "__objc_const"}:      KindOCGeneric,
	{"__DATA", "__objc_data"}:       KindOCGeneric,
	{"__DATA", "__objc_ivar"}:       KindOCGeneric,
	{"__DATA_CONST", "__objc_classlist"}: KindOCClass,
	{"__DATA_CONST", "__objc_catlist"}:   KindOCCatList,
	{"__DATA_CONST", "__objc_protolist"}: KindOCProtoList,
	{"__DATA_CONST", "__objc_selrefs"}:   KindOCSelRef,
	{"__DATA_CONST", "__objc_const"}:     KindOCGeneric,
}

// Classify looks up a section's kind by exact (segname, sectname) match.
func Classify(segment, name string) SectionKind {
	if k, ok := classifyTable[[2]string{segment, name}]; ok {
		return k
	}
	return KindUnknown
}

// Build registers every section of f, tagging each with its classified
// kind. A malformed image producing overlapping section ranges is a format
// error, not tolerated silently.
func Build(f *macho.File) (*Registry, error) {
	r := &Registry{}
	for _, s := range f.Sections {
		h := Handle{
			Name:       s.Name,
			Segment:    s.Seg,
			VMAddr:     s.Addr,
			FileOffset: s.Offset,
			Size:       s.Size,
			Reserved1:  s.Reserved1,
			Kind:       Classify(s.Seg, s.Name),
		}
		if err := r.register(h); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) register(h Handle) error {
	if h.Size == 0 {
		r.handles = append(r.handles, h)
		return nil
	}
	for _, existing := range r.handles {
		if existing.Size == 0 {
			continue
		}
		if h.VMAddr < existing.VMAddr+existing.Size && existing.VMAddr < h.VMAddr+h.Size {
			return fmt.Errorf("resolve: section %s,%s at %#x overlaps %s,%s at %#x",
				h.Segment, h.Name, h.VMAddr, existing.Segment, existing.Name, existing.VMAddr)
		}
	}
	r.handles = append(r.handles, h)
	return nil
}

// LookupByAddress returns the handle whose [VMAddr, VMAddr+Size) contains
// addr, or false if no registered section does.
func (r *Registry) LookupByAddress(addr uint64) (Handle, bool) {
	for _, h := range r.handles {
		if h.contains(addr) {
			return h, true
		}
	}
	return Handle{}, false
}

// Handles returns every registered handle, for tests and data-section
// dumps.
func (r *Registry) Handles() []Handle {
	return append([]Handle(nil), r.handles...)
}
