package catalog

import (
	macho "github.com/otxgo/otx"
)

// loadV2 walks the modern __DATA,__objc_classlist/__objc_catlist metadata via
// the already-implemented root package, flattens it into MethodInfo/ClassInfo,
// and lets it overwrite any same-named v1 class already in the map.
func (c *Catalog) loadV2(f *macho.File) error {
	if !f.HasObjC() {
		return nil
	}

	classes, err := f.GetObjCClasses()
	if err != nil {
		// No v2 classlist is not a failure: classic-runtime-only images are
		// expected to hit this path.
		return nil
	}

	for _, cls := range classes {
		ci := &ClassInfo{
			Name:       cls.Name,
			Super:      cls.SuperClass,
			IsMeta:     cls.ReadOnlyData.Flags.IsMeta(),
			runtimeVer: 2,
		}
		for _, iv := range cls.Ivars {
			ci.Ivars = append(ci.Ivars, IvarInfo{
				Name:   iv.Name,
				Type:   iv.Type,
				Offset: int64(iv.Offset),
			})
		}
		c.classesByName[cls.Name] = ci

		for _, m := range cls.InstanceMethods {
			c.classMethods = append(c.classMethods, MethodInfo{
				Sel: m.Name, Types: m.Types, Imp: m.ImpVMAddr,
				Class: cls.Name, IsInstance: true,
			})
		}
		for _, m := range cls.ClassMethods {
			c.classMethods = append(c.classMethods, MethodInfo{
				Sel: m.Name, Types: m.Types, Imp: m.ImpVMAddr,
				Class: cls.Name, IsInstance: false,
			})
		}
	}

	cats, err := f.GetObjCCategories()
	if err != nil {
		return nil
	}
	for _, cat := range cats {
		className := cat.Name
		if cat.Class != nil {
			className = cat.Class.Name
		}
		for _, m := range cat.InstanceMethods {
			c.categoryMethods = append(c.categoryMethods, MethodInfo{
				Sel: m.Name, Types: m.Types, Imp: m.ImpVMAddr,
				Class: className, Category: cat.Name, IsInstance: true,
			})
		}
		for _, m := range cat.ClassMethods {
			c.categoryMethods = append(c.categoryMethods, MethodInfo{
				Sel: m.Name, Types: m.Types, Imp: m.ImpVMAddr,
				Class: className, Category: cat.Name, IsInstance: false,
			})
		}
	}

	return nil
}
