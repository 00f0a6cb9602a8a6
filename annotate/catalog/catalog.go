// Package catalog builds the unified Objective-C catalog the annotation
// engine queries: classes, categories, methods and ivars, merged from
// whichever of the 1.0 (legacy __OBJC segment) and 2.0 (class_ro_t/class_rw_t)
// runtimes are present. See types/objc1 for the 1.0 on-disk layout and the
// root package's objc.go for the already-implemented 2.0 half.
package catalog

import (
	"sort"

	macho "github.com/otxgo/otx"
)

// MethodInfo is one flattened, address-searchable method entry, the same
// shape whether it came from the 1.0 or 2.0 runtime.
type MethodInfo struct {
	Sel        string
	Types      string
	Imp        uint64
	Class      string // owning class name
	Category   string // owning category name, empty if none
	IsInstance bool
}

// Catalog is the annotation engine's read-only view of an image's
// Objective-C metadata, queried by C6 (resolver) and C7 (simulator) to turn
// `objc_msgSend` call sites and ivar offsets into symbolic comments.
type Catalog struct {
	classesByName map[string]*ClassInfo
	metaByIsa     map[uint64]*ClassInfo

	// classMethods and categoryMethods are each sorted ascending by Imp, so
	// that FindClassMethodByAddress/FindCategoryMethodByAddress can binary
	// search. Sorting and searching both treat Imp as an already-host-order
	// uint64 (decoded through the image's declared byte order at parse time,
	// see machoutil.ReadStruct), so there is no second, differently-ordered
	// comparator for the search to disagree with.
	classMethods    []MethodInfo
	categoryMethods []MethodInfo
}

// ClassInfo is a catalog-level class record: enough to resolve msgSend
// receivers, ivar offsets and `+[Class method]` / `-[Class method]` comments
// without re-parsing the backing runtime struct.
type ClassInfo struct {
	Name       string
	Super      string
	IsMeta     bool
	Ivars      []IvarInfo
	isaAddr    uint64 // v1 only: address of the metaclass record
	runtimeVer int    // 1 or 2, recorded for diagnostics only
}

// IvarInfo is one instance variable, keyed for exact-offset lookup.
type IvarInfo struct {
	Name   string
	Type   string
	Offset int64
}

// Build parses both runtimes present in f and merges them: a class defined
// under both the 1.0 and 2.0 metadata (which cannot legitimately happen in a
// single well-formed image, but the merge policy is defined regardless) keeps
// its 2.0 definition.
func Build(f *macho.File) (*Catalog, error) {
	c := &Catalog{
		classesByName: make(map[string]*ClassInfo),
		metaByIsa:     make(map[uint64]*ClassInfo),
	}

	if err := c.loadV1(f); err != nil {
		return nil, err
	}
	if err := c.loadV2(f); err != nil {
		return nil, err
	}

	sort.Slice(c.classMethods, func(i, j int) bool { return c.classMethods[i].Imp < c.classMethods[j].Imp })
	sort.Slice(c.categoryMethods, func(i, j int) bool { return c.categoryMethods[i].Imp < c.categoryMethods[j].Imp })

	return c, nil
}

func searchByImp(methods []MethodInfo, addr uint64) (MethodInfo, bool) {
	i := sort.Search(len(methods), func(i int) bool { return methods[i].Imp >= addr })
	if i < len(methods) && methods[i].Imp == addr {
		return methods[i], true
	}
	return MethodInfo{}, false
}

// FindClassMethodByAddress resolves a `call`/`bl` target to the instance or
// class method whose implementation begins there.
func (c *Catalog) FindClassMethodByAddress(addr uint64) (MethodInfo, bool) {
	return searchByImp(c.classMethods, addr)
}

// FindCategoryMethodByAddress is FindClassMethodByAddress restricted to
// methods contributed by a category rather than the class's primary
// @implementation.
func (c *Catalog) FindCategoryMethodByAddress(addr uint64) (MethodInfo, bool) {
	return searchByImp(c.categoryMethods, addr)
}

// MethodsOfClass returns every cataloged method (class and category alike)
// owned by the named class, in Imp order.
func (c *Catalog) MethodsOfClass(name string) []MethodInfo {
	var out []MethodInfo
	for _, mi := range c.classMethods {
		if mi.Class == name {
			out = append(out, mi)
		}
	}
	for _, mi := range c.categoryMethods {
		if mi.Class == name {
			out = append(out, mi)
		}
	}
	return out
}

// ClassFromName looks up a class record by its Objective-C name.
func (c *Catalog) ClassFromName(name string) (*ClassInfo, bool) {
	ci, ok := c.classesByName[name]
	return ci, ok
}

// MetaclassFromClass returns class's metaclass record, the object whose own
// methods are the class (`+`) methods. Only the 1.0 runtime stores a
// separate metaclass record, reached through the class's `isa` pointer and
// cataloged during Build; the 2.0 runtime folds class methods directly onto
// ClassInfo via MethodInfo.IsInstance, so a v2 class reports none.
func (c *Catalog) MetaclassFromClass(class *ClassInfo) (*ClassInfo, bool) {
	if class == nil || class.isaAddr == 0 {
		return nil, false
	}
	meta, ok := c.metaByIsa[class.isaAddr]
	return meta, ok
}

// ClassMethodNamed reports whether sel dispatches as a class (`+`) method
// of the named class. In the 1.0 runtime class methods hang off the
// metaclass, so a v1 class with no cataloged metaclass record cannot
// answer `+` dispatch at all.
func (c *Catalog) ClassMethodNamed(name, sel string) bool {
	ci, ok := c.ClassFromName(name)
	if !ok {
		return false
	}
	if ci.runtimeVer == 1 {
		if _, ok := c.MetaclassFromClass(ci); !ok {
			return false
		}
	}
	for _, mi := range c.MethodsOfClass(name) {
		if mi.Sel == sel && !mi.IsInstance {
			return true
		}
	}
	return false
}

// IvarInClass returns the ivar at the exact byte offset within class, walking
// up the superclass chain the runtime would resolve at dispatch time. offset
// is always treated as a full 64-bit value (v2's ivar_offset is 64-bit "by
// accident" even in 32-bit images; reading it as anything narrower loses the
// high bits silently instead of failing loudly).
func (c *Catalog) IvarInClass(class *ClassInfo, offset int64) (IvarInfo, bool) {
	for cur := class; cur != nil; {
		for _, iv := range cur.Ivars {
			if iv.Offset == offset {
				return iv, true
			}
		}
		if cur.Super == "" {
			break
		}
		next, ok := c.classesByName[cur.Super]
		if !ok {
			break
		}
		cur = next
	}
	return IvarInfo{}, false
}
