// Package objc1 describes the on-disk layout of the Objective-C 1.0 runtime
// metadata (the pre-2007, `__OBJC` segment format used by ppc, ppc64 and
// i386 binaries). Unlike the 2.0 runtime's class_ro_t/class_rw_t split, a
// v1 class record is self-contained: method lists and ivar lists are walked
// directly off the class, with no indirection through a read-only side table.
package objc1

// Class32 is the 32-bit "objc1_32_class" record.
type Class32 struct {
	Isa           uint32
	SuperClass    uint32
	Name          uint32
	Version       int32
	Info          int32
	InstanceSize  int32
	Ivars         uint32
	MethodLists   uint32
	Cache         uint32
	Protocols     uint32
}

// Class64 is the 64-bit "objc1_64_class" record.
type Class64 struct {
	Isa          uint64
	SuperClass   uint64
	Name         uint64
	Version      int64
	Info         int64
	InstanceSize int64
	Ivars        uint64
	MethodLists  uint64
	Cache        uint64
	Protocols    uint64
}

// Category32 is the 32-bit "objc1_32_category" record.
type Category32 struct {
	CategoryName     uint32
	ClassName        uint32
	InstanceMethods  uint32
	ClassMethods     uint32
	Protocols        uint32
}

// Category64 is the 64-bit "objc1_64_category" record.
type Category64 struct {
	CategoryName    uint64
	ClassName       uint64
	InstanceMethods uint64
	ClassMethods    uint64
	Protocols       uint64
}

// Ivar32 is one entry of a 32-bit ivar list.
type Ivar32 struct {
	Name   uint32
	Type   uint32
	Offset uint32
}

// Ivar64 is one entry of a 64-bit ivar list. Offset is declared 64-bit in the
// original runtime even though every other field in the surrounding records
// restricts instance size to 32 bits; it must always be read as 64-bit.
type Ivar64 struct {
	Name   uint64
	Type   uint64
	Offset uint64
	_      uint32 // padding, keeps the struct 8-byte aligned
}

// IvarListHeader precedes a run of Ivar32/Ivar64 entries.
type IvarListHeader struct {
	Count int32
}

// Method32 is one entry of a 32-bit method list ("objc1_32_method").
type Method32 struct {
	Name  uint32 // SEL
	Types uint32 // encoded type string
	Imp   uint32 // IMP
}

// Method64 is one entry of a 64-bit method list ("objc1_64_method").
type Method64 struct {
	Name  uint64
	Types uint64
	Imp   uint64
}

// MethodListHeader32 precedes a run of Method32 entries. MethodCount of
// 0xFFFFFFFF is the sentinel terminator used by some compilers to mark an
// empty chain; it must stop the list walk cleanly rather than be treated as
// an enormous count.
type MethodListHeader32 struct {
	Obsolete    int32
	MethodCount int32
}

// MethodListHeader64 precedes a run of Method64 entries.
type MethodListHeader64 struct {
	Obsolete    int64
	MethodCount int64
	_           int32
}

// MethodCountSentinel marks an empty/obsolete method list chain.
const MethodCountSentinel = -1 // 0xFFFFFFFF as int32/int64

// ProtocolListHeader32/64 precede a `count`-length array of protocol
// pointers, chained through `next`.
type ProtocolListHeader32 struct {
	Next  uint32
	Count uint32
}

type ProtocolListHeader64 struct {
	Next  uint64
	Count uint64
}

// Module32/64 is the per-compilation-unit "objc1_*_module" record; the
// symtab it points to enumerates the class and category defs.
type Module32 struct {
	Version uint32
	Size    uint32
	Name    uint32
	Symtab  uint32
}

type Module64 struct {
	Version uint64
	Size    uint64
	Name    uint64
	Symtab  uint64
}

// SymtabHeader32/64 precedes `ClsDefCnt` class pointers followed by
// `CatDefCnt` category pointers (the `defs` flexible array).
type SymtabHeader32 struct {
	SelRefCnt uint32
	Refs      uint32
	ClsDefCnt uint16
	CatDefCnt uint16
}

type SymtabHeader64 struct {
	SelRefCnt uint64
	Refs      uint64
	ClsDefCnt uint16
	CatDefCnt uint16
	_         uint32
}
