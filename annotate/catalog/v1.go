package catalog

import (
	"fmt"

	macho "github.com/otxgo/otx"
	"github.com/otxgo/otx/annotate/machoutil"
	"github.com/otxgo/otx/types/objc1"
)

// loadV1 walks the classic (pre-2007) __OBJC segment: module list -> symtab
// -> class/category defs -> method lists -> ivar lists. Missing __OBJC
// metadata is not an error; malformed metadata (an overflowing method/ivar
// count) is.
func (c *Catalog) loadV1(f *macho.File) error {
	sec := f.Section("__OBJC", "__module_info")
	if sec == nil {
		return nil
	}

	is64 := machoutil.Is64(f)
	modSize := uint64(16)
	if is64 {
		modSize = 32
	}

	for off := uint64(0); off+modSize <= sec.Size; off += modSize {
		addr := sec.Addr + off
		symtabAddr, err := c.readModuleSymtabAddr(f, addr, is64)
		if err != nil {
			return fmt.Errorf("objc1: malformed module at %#x: %w", addr, err)
		}
		if symtabAddr == 0 {
			continue
		}
		if err := c.loadV1Symtab(f, symtabAddr, is64); err != nil {
			return err
		}
	}
	return nil
}

func (c *Catalog) readModuleSymtabAddr(f *macho.File, addr uint64, is64 bool) (uint64, error) {
	if is64 {
		var m objc1.Module64
		if err := machoutil.ReadStruct(f, addr, &m); err != nil {
			return 0, err
		}
		return m.Symtab, nil
	}
	var m objc1.Module32
	if err := machoutil.ReadStruct(f, addr, &m); err != nil {
		return 0, err
	}
	return uint64(m.Symtab), nil
}

func (c *Catalog) loadV1Symtab(f *macho.File, addr uint64, is64 bool) error {
	ptrSize := uint64(4)
	if is64 {
		ptrSize = 8
	}

	var clsDefCnt, catDefCnt uint16
	var defsAddr uint64

	if is64 {
		var st objc1.SymtabHeader64
		if err := machoutil.ReadStruct(f, addr, &st); err != nil {
			return err
		}
		clsDefCnt, catDefCnt = st.ClsDefCnt, st.CatDefCnt
		defsAddr = addr + uint64(24) // sizeof(SymtabHeader64) with explicit padding
	} else {
		var st objc1.SymtabHeader32
		if err := machoutil.ReadStruct(f, addr, &st); err != nil {
			return err
		}
		clsDefCnt, catDefCnt = st.ClsDefCnt, st.CatDefCnt
		defsAddr = addr + uint64(12)
	}

	if clsDefCnt > 1<<16 || catDefCnt > 1<<16 {
		return fmt.Errorf("objc1: implausible def counts cls=%d cat=%d", clsDefCnt, catDefCnt)
	}

	for i := uint16(0); i < clsDefCnt; i++ {
		ptr, err := machoutil.ReadPointer(f, defsAddr+uint64(i)*ptrSize)
		if err != nil {
			return err
		}
		if err := c.loadV1Class(f, ptr, is64); err != nil {
			return err
		}
	}
	for i := uint16(0); i < catDefCnt; i++ {
		ptr, err := machoutil.ReadPointer(f, defsAddr+uint64(clsDefCnt)*ptrSize+uint64(i)*ptrSize)
		if err != nil {
			return err
		}
		if err := c.loadV1Category(f, ptr, is64); err != nil {
			return err
		}
	}
	return nil
}

func (c *Catalog) loadV1Class(f *macho.File, addr uint64, is64 bool) error {
	if addr == 0 {
		return nil
	}

	var name, super string
	var ivarsAddr, methodListsAddr, isaAddr uint64

	if is64 {
		var cls objc1.Class64
		if err := machoutil.ReadStruct(f, addr, &cls); err != nil {
			return err
		}
		n, _ := f.GetCString(cls.Name)
		name = n
		if cls.SuperClass != 0 {
			if s, err := f.GetCString(cls.SuperClass); err == nil {
				super = s
			}
		}
		ivarsAddr, methodListsAddr, isaAddr = cls.Ivars, cls.MethodLists, cls.Isa
	} else {
		var cls objc1.Class32
		if err := machoutil.ReadStruct(f, addr, &cls); err != nil {
			return err
		}
		n, _ := f.GetCString(uint64(cls.Name))
		name = n
		if cls.SuperClass != 0 {
			if s, err := f.GetCString(uint64(cls.SuperClass)); err == nil {
				super = s
			}
		}
		ivarsAddr, methodListsAddr, isaAddr = uint64(cls.Ivars), uint64(cls.MethodLists), uint64(cls.Isa)
	}

	if name == "" {
		return nil
	}

	ci := &ClassInfo{Name: name, Super: super, isaAddr: isaAddr, runtimeVer: 1}
	if ivarsAddr != 0 {
		ivars, err := c.readV1Ivars(f, ivarsAddr, is64)
		if err != nil {
			return fmt.Errorf("objc1: class %s ivars: %w", name, err)
		}
		ci.Ivars = ivars
	}
	// The class's own methodLists chain holds its instance methods only;
	// class methods live on the isa-addressed metaclass, walked below by
	// loadV1Metaclass.
	if _, exists := c.classesByName[name]; !exists {
		c.classesByName[name] = ci
	}

	if methodListsAddr != 0 {
		methods, err := c.readV1MethodListChain(f, methodListsAddr, is64)
		if err != nil {
			return fmt.Errorf("objc1: class %s methods: %w", name, err)
		}
		for _, m := range methods {
			m.Class = name
			m.IsInstance = true
			c.classMethods = append(c.classMethods, m)
		}
	}

	if isaAddr != 0 {
		if err := c.loadV1Metaclass(f, isaAddr, name, is64); err != nil {
			return fmt.Errorf("objc1: class %s metaclass: %w", name, err)
		}
	}
	return nil
}

// loadV1Metaclass walks the metaclass record a class's isa points at. A
// metaclass is shaped exactly like a class; its method lists are the
// class (`+`) methods. An isa that doesn't resolve within the image (it
// may be bound at load time) simply contributes no class methods.
func (c *Catalog) loadV1Metaclass(f *macho.File, addr uint64, className string, is64 bool) error {
	if _, exists := c.metaByIsa[addr]; exists {
		return nil
	}

	var super string
	var methodListsAddr uint64

	if is64 {
		var cls objc1.Class64
		if err := machoutil.ReadStruct(f, addr, &cls); err != nil {
			return nil
		}
		if cls.SuperClass != 0 {
			if s, err := f.GetCString(cls.SuperClass); err == nil {
				super = s
			}
		}
		methodListsAddr = cls.MethodLists
	} else {
		var cls objc1.Class32
		if err := machoutil.ReadStruct(f, addr, &cls); err != nil {
			return nil
		}
		if cls.SuperClass != 0 {
			if s, err := f.GetCString(uint64(cls.SuperClass)); err == nil {
				super = s
			}
		}
		methodListsAddr = uint64(cls.MethodLists)
	}

	c.metaByIsa[addr] = &ClassInfo{Name: className, Super: super, IsMeta: true, runtimeVer: 1}

	if methodListsAddr == 0 {
		return nil
	}
	methods, err := c.readV1MethodListChain(f, methodListsAddr, is64)
	if err != nil {
		return err
	}
	for _, m := range methods {
		m.Class = className
		m.IsInstance = false
		c.classMethods = append(c.classMethods, m)
	}
	return nil
}

func (c *Catalog) loadV1Category(f *macho.File, addr uint64, is64 bool) error {
	if addr == 0 {
		return nil
	}

	var catName, className string
	var instMethods, classMethods uint64

	if is64 {
		var cat objc1.Category64
		if err := machoutil.ReadStruct(f, addr, &cat); err != nil {
			return err
		}
		catName, _ = f.GetCString(cat.CategoryName)
		className, _ = f.GetCString(cat.ClassName)
		instMethods, classMethods = cat.InstanceMethods, cat.ClassMethods
	} else {
		var cat objc1.Category32
		if err := machoutil.ReadStruct(f, addr, &cat); err != nil {
			return err
		}
		catName, _ = f.GetCString(uint64(cat.CategoryName))
		className, _ = f.GetCString(uint64(cat.ClassName))
		instMethods, classMethods = uint64(cat.InstanceMethods), uint64(cat.ClassMethods)
	}

	if instMethods != 0 {
		methods, err := c.readV1MethodList(f, instMethods, is64)
		if err != nil {
			return fmt.Errorf("objc1: category %s instance methods: %w", catName, err)
		}
		for _, m := range methods {
			m.Class, m.Category, m.IsInstance = className, catName, true
			c.categoryMethods = append(c.categoryMethods, m)
		}
	}
	if classMethods != 0 {
		methods, err := c.readV1MethodList(f, classMethods, is64)
		if err != nil {
			return fmt.Errorf("objc1: category %s class methods: %w", catName, err)
		}
		for _, m := range methods {
			m.Class, m.Category, m.IsInstance = className, catName, false
			c.categoryMethods = append(c.categoryMethods, m)
		}
	}
	return nil
}

// readV1MethodListChain walks a class's methodLists[] array of pointers to
// individual method lists, stopping at the -1 sentinel terminator.
func (c *Catalog) readV1MethodListChain(f *macho.File, addr uint64, is64 bool) ([]MethodInfo, error) {
	ptrSize := uint64(4)
	if is64 {
		ptrSize = 8
	}

	var out []MethodInfo
	for i := 0; ; i++ {
		ptr, err := machoutil.ReadPointer(f, addr+uint64(i)*ptrSize)
		if err != nil {
			return nil, err
		}
		if ptr == 0 || int64(ptr) == -1 || ptr == 0xFFFFFFFF {
			break
		}
		methods, err := c.readV1MethodList(f, ptr, is64)
		if err != nil {
			return nil, err
		}
		out = append(out, methods...)
		if i > 1<<16 {
			return nil, fmt.Errorf("objc1: method list chain at %#x did not terminate", addr)
		}
	}
	return out, nil
}

// readV1MethodList reads one objc_method_list: a header followed by
// method_count entries. method_count == MethodCountSentinel (-1, i.e.
// 0xFFFFFFFF unsigned) means an empty/obsolete list; it must terminate the
// parse cleanly rather than be read as ~4 billion entries.
func (c *Catalog) readV1MethodList(f *macho.File, addr uint64, is64 bool) ([]MethodInfo, error) {
	var count int64
	var entriesAddr uint64
	var entrySize uint64

	if is64 {
		var hdr objc1.MethodListHeader64
		if err := machoutil.ReadStruct(f, addr, &hdr); err != nil {
			return nil, err
		}
		count = hdr.MethodCount
		entriesAddr = addr + 16
		entrySize = 24
	} else {
		var hdr objc1.MethodListHeader32
		if err := machoutil.ReadStruct(f, addr, &hdr); err != nil {
			return nil, err
		}
		count = int64(hdr.MethodCount)
		entriesAddr = addr + 8
		entrySize = 12
	}

	if count == objc1.MethodCountSentinel || count == 0 {
		return nil, nil
	}
	if count < 0 || count > 1<<20 {
		return nil, fmt.Errorf("objc1: implausible method_count %d at %#x", count, addr)
	}

	out := make([]MethodInfo, 0, count)
	for i := int64(0); i < count; i++ {
		ea := entriesAddr + uint64(i)*entrySize
		var sel, types string
		var imp uint64
		if is64 {
			var m objc1.Method64
			if err := machoutil.ReadStruct(f, ea, &m); err != nil {
				return nil, err
			}
			sel, _ = f.GetCString(m.Name)
			types, _ = f.GetCString(m.Types)
			imp = m.Imp
		} else {
			var m objc1.Method32
			if err := machoutil.ReadStruct(f, ea, &m); err != nil {
				return nil, err
			}
			sel, _ = f.GetCString(uint64(m.Name))
			types, _ = f.GetCString(uint64(m.Types))
			imp = uint64(m.Imp)
		}
		out = append(out, MethodInfo{Sel: sel, Types: types, Imp: imp})
	}
	return out, nil
}

func (c *Catalog) readV1Ivars(f *macho.File, addr uint64, is64 bool) ([]IvarInfo, error) {
	var hdr objc1.IvarListHeader
	if err := machoutil.ReadStruct(f, addr, &hdr); err != nil {
		return nil, err
	}
	if hdr.Count <= 0 {
		return nil, nil
	}
	if hdr.Count > 1<<16 {
		return nil, fmt.Errorf("objc1: implausible ivar_count %d at %#x", hdr.Count, addr)
	}

	entriesAddr := addr + 4
	entrySize := uint64(12)
	if is64 {
		entriesAddr = addr + 8 // ivar_count + space, both int32
		entrySize = 20
	}

	out := make([]IvarInfo, 0, hdr.Count)
	for i := int32(0); i < hdr.Count; i++ {
		ea := entriesAddr + uint64(i)*entrySize
		var name, typ string
		var offset int64
		if is64 {
			var iv objc1.Ivar64
			if err := machoutil.ReadStruct(f, ea, &iv); err != nil {
				return nil, err
			}
			name, _ = f.GetCString(iv.Name)
			typ, _ = f.GetCString(iv.Type)
			offset = int64(iv.Offset)
		} else {
			var iv objc1.Ivar32
			if err := machoutil.ReadStruct(f, ea, &iv); err != nil {
				return nil, err
			}
			name, _ = f.GetCString(uint64(iv.Name))
			typ, _ = f.GetCString(uint64(iv.Type))
			offset = int64(iv.Offset)
		}
		out = append(out, IvarInfo{Name: name, Type: typ, Offset: offset})
	}
	return out, nil
}
