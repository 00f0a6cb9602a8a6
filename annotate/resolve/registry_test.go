package resolve

import "testing"

func TestClassifyKnownSections(t *testing.T) {
	tests := []struct {
		seg, sect string
		want      SectionKind
	}{
		{"__TEXT", "__cstring", KindCString},
		{"__TEXT", "__literal4", KindFloat4},
		{"__TEXT", "__literal8", KindDouble8},
		{"__DATA", "__dyld", KindDyld},
		{"__DATA", "__nl_symbol_ptr", KindNonLazySymbol},
		{"__OBJC", "__module_info", KindOCModule},
		{"__OBJC", "__cls_refs", KindOCClassRef},
		{"__DATA", "__objc_selrefs", KindOCSelRef},
		{"__DATA_CONST", "__objc_classlist", KindOCClass},
		{"__TEXT", "__nonsense", KindUnknown},
	}
	for _, tt := range tests {
		if got := Classify(tt.seg, tt.sect); got != tt.want {
			t.Errorf("Classify(%s,%s) = %v, want %v", tt.seg, tt.sect, got, tt.want)
		}
	}
}

func TestRegisterRejectsOverlap(t *testing.T) {
	r := &Registry{}
	if err := r.register(Handle{Segment: "__TEXT", Name: "__cstring", VMAddr: 0x4000, Size: 0x100, Kind: KindCString}); err != nil {
		t.Fatalf("register: %v", err)
	}
	err := r.register(Handle{Segment: "__TEXT", Name: "__const", VMAddr: 0x4080, Size: 0x100, Kind: KindTextConst})
	if err == nil {
		t.Fatal("overlapping section registered without error")
	}
}

func TestLookupByAddressBounds(t *testing.T) {
	r := &Registry{}
	if err := r.register(Handle{Segment: "__TEXT", Name: "__cstring", VMAddr: 0x4000, Size: 0x100, Kind: KindCString}); err != nil {
		t.Fatalf("register: %v", err)
	}

	if h, ok := r.LookupByAddress(0x4000); !ok || h.Kind != KindCString {
		t.Fatalf("LookupByAddress(base) = %+v, %v", h, ok)
	}
	if _, ok := r.LookupByAddress(0x40ff); !ok {
		t.Fatal("LookupByAddress(last byte) missed")
	}
	if _, ok := r.LookupByAddress(0x4100); ok {
		t.Fatal("LookupByAddress(end) should miss")
	}
}
