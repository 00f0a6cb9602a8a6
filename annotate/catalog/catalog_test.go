package catalog

import "testing"

func TestSearchByImpExactMatch(t *testing.T) {
	methods := []MethodInfo{
		{Sel: "alloc", Imp: 0x1000},
		{Sel: "init", Imp: 0x1010},
		{Sel: "count", Imp: 0x1020},
	}

	got, ok := searchByImp(methods, 0x1010)
	if !ok || got.Sel != "init" {
		t.Fatalf("searchByImp(0x1010) = %+v, %v; want init, true", got, ok)
	}
}

func TestSearchByImpNoMatch(t *testing.T) {
	methods := []MethodInfo{
		{Sel: "alloc", Imp: 0x1000},
		{Sel: "init", Imp: 0x1010},
	}

	if _, ok := searchByImp(methods, 0x1234); ok {
		t.Fatalf("searchByImp(0x1234) found a method that isn't there")
	}
}

func TestSearchByImpEmpty(t *testing.T) {
	if _, ok := searchByImp(nil, 0x1000); ok {
		t.Fatalf("searchByImp on an empty slice should never match")
	}
}

func TestIvarInClassWalksSuperclassChain(t *testing.T) {
	c := &Catalog{classesByName: map[string]*ClassInfo{}}
	base := &ClassInfo{Name: "NSObject", Ivars: []IvarInfo{{Name: "isa", Offset: 0}}}
	mid := &ClassInfo{Name: "Base", Super: "NSObject", Ivars: []IvarInfo{{Name: "_flags", Offset: 8}}}
	leaf := &ClassInfo{Name: "Leaf", Super: "Base", Ivars: []IvarInfo{{Name: "_count", Offset: 16}}}
	c.classesByName["NSObject"] = base
	c.classesByName["Base"] = mid
	c.classesByName["Leaf"] = leaf

	if iv, ok := c.IvarInClass(leaf, 16); !ok || iv.Name != "_count" {
		t.Fatalf("expected to find _count on Leaf itself, got %+v, %v", iv, ok)
	}
	if iv, ok := c.IvarInClass(leaf, 8); !ok || iv.Name != "_flags" {
		t.Fatalf("expected to find _flags on Base via superclass walk, got %+v, %v", iv, ok)
	}
	if iv, ok := c.IvarInClass(leaf, 0); !ok || iv.Name != "isa" {
		t.Fatalf("expected to find isa on NSObject via superclass walk, got %+v, %v", iv, ok)
	}
	if _, ok := c.IvarInClass(leaf, 999); ok {
		t.Fatalf("offset 999 should not resolve to any ivar")
	}
}

func TestMetaclassFromClass(t *testing.T) {
	meta := &ClassInfo{Name: "Widget", IsMeta: true, runtimeVer: 1}
	v1 := &ClassInfo{Name: "Widget", isaAddr: 0x5000, runtimeVer: 1}
	c := &Catalog{
		classesByName: map[string]*ClassInfo{"Widget": v1},
		metaByIsa:     map[uint64]*ClassInfo{0x5000: meta},
	}

	got, ok := c.MetaclassFromClass(v1)
	if !ok || got != meta {
		t.Fatalf("MetaclassFromClass = %+v, %v; want the cataloged metaclass", got, ok)
	}
	if !got.IsMeta {
		t.Fatalf("metaclass record not marked IsMeta: %+v", got)
	}

	// A v2 class has no isa-addressed record; class methods are folded onto
	// the class itself.
	if _, ok := c.MetaclassFromClass(&ClassInfo{Name: "Modern", runtimeVer: 2}); ok {
		t.Fatalf("v2 class yielded a metaclass record")
	}
	if _, ok := c.MetaclassFromClass(nil); ok {
		t.Fatalf("nil class yielded a metaclass record")
	}
}

func TestClassMethodNamed(t *testing.T) {
	v1 := &ClassInfo{Name: "Widget", isaAddr: 0x5000, runtimeVer: 1}
	c := &Catalog{
		classesByName: map[string]*ClassInfo{"Widget": v1},
		metaByIsa:     map[uint64]*ClassInfo{},
		classMethods: []MethodInfo{
			{Sel: "sharedWidget", Imp: 0x1000, Class: "Widget", IsInstance: false},
			{Sel: "refresh", Imp: 0x1010, Class: "Widget", IsInstance: true},
		},
	}

	// Without a metaclass record a v1 class cannot answer `+` dispatch.
	if c.ClassMethodNamed("Widget", "sharedWidget") {
		t.Fatalf("class method answered with no metaclass record")
	}

	c.metaByIsa[0x5000] = &ClassInfo{Name: "Widget", IsMeta: true, runtimeVer: 1}
	if !c.ClassMethodNamed("Widget", "sharedWidget") {
		t.Fatalf("sharedWidget not recognized as a class method")
	}
	if c.ClassMethodNamed("Widget", "refresh") {
		t.Fatalf("instance method refresh misreported as a class method")
	}
	if c.ClassMethodNamed("Gadget", "sharedWidget") {
		t.Fatalf("unknown class answered class-method dispatch")
	}
}
