package build

import (
	"fmt"
	"reflect"

	"github.com/rs/zerolog"

	"github.com/loamdata/loam"
	"github.com/loamdata/loam/spec"
)

type typeKey struct {
	ns string
	dt string
}

// TypeMap binds the namespace catalog to container classes and object
// mappers. It hands out one mapper per data type, synthesizing classes for
// types with no hand-registered Go type.
type TypeMap struct {
	catalog  *spec.NamespaceCatalog
	classes  map[typeKey]*ContainerClass
	byGoType map[reflect.Type]typeKey
	mappers  map[typeKey]*ObjectMapper
	hooks    map[typeKey]func(*ObjectMapper)
	gen      *ClassGenerator
	log      zerolog.Logger
}

// NewTypeMap creates a type map over a namespace catalog.
func NewTypeMap(catalog *spec.NamespaceCatalog, log zerolog.Logger) *TypeMap {
	return &TypeMap{
		catalog:  catalog,
		classes:  map[typeKey]*ContainerClass{},
		byGoType: map[reflect.Type]typeKey{},
		mappers:  map[typeKey]*ObjectMapper{},
		hooks:    map[typeKey]func(*ObjectMapper){},
		gen:      NewClassGenerator(log),
		log:      log,
	}
}

// Catalog returns the underlying namespace catalog.
func (tm *TypeMap) Catalog() *spec.NamespaceCatalog { return tm.catalog }

// LoadNamespaces loads a namespace document into the catalog. See
// spec.NamespaceCatalog.LoadNamespaces.
func (tm *TypeMap) LoadNamespaces(path string, reader spec.SpecReader) (map[string][]string, error) {
	return tm.catalog.LoadNamespaces(path, reader)
}

// RegisterContainerType registers a hand-authored container class for a
// type. The class's factory must produce instances of cls.GoType so that
// instances can be recognized when mapping back.
func (tm *TypeMap) RegisterContainerType(namespace, dataType string, cls *ContainerClass) error {
	st, err := tm.catalog.GetSpec(namespace, dataType)
	if err != nil {
		return err
	}
	key := typeKey{namespace, dataType}
	if _, ok := tm.classes[key]; ok {
		return fmt.Errorf("build: container class already registered for %s.%s", namespace, dataType)
	}
	cls.Namespace = namespace
	cls.DataType = dataType
	cls.Spec = st
	if cls.GoType != nil {
		tm.byGoType[cls.GoType] = key
	}
	tm.classes[key] = cls
	return nil
}

// RegisterMap installs a mapper customization for a type. The hook runs
// once, when the type's mapper is first created; subtypes without their own
// hook inherit the nearest ancestor's.
func (tm *TypeMap) RegisterMap(namespace, dataType string, hook func(*ObjectMapper)) {
	tm.hooks[typeKey{namespace, dataType}] = hook
}

// GetContainerClass returns the class for a type, synthesizing it (and its
// ancestors) from the spec when none is registered.
func (tm *TypeMap) GetContainerClass(namespace, dataType string) (*ContainerClass, error) {
	key := typeKey{namespace, dataType}
	if cls, ok := tm.classes[key]; ok {
		return cls, nil
	}
	st, err := tm.catalog.GetSpec(namespace, dataType)
	if err != nil {
		return nil, err
	}
	var parent *ContainerClass
	chain, err := tm.catalog.GetHierarchy(namespace, dataType)
	if err != nil {
		return nil, err
	}
	if len(chain) > 1 {
		parent, err = tm.GetContainerClass(namespace, chain[1])
		if err != nil {
			return nil, err
		}
	}
	cls, err := tm.gen.Generate(namespace, st, parent)
	if err != nil {
		return nil, err
	}
	tm.classes[key] = cls
	return cls, nil
}

// DataTypeOf resolves a container instance to its namespace and data type:
// synthesized instances carry both, hand-registered types are recognized by
// their Go type.
func (tm *TypeMap) DataTypeOf(c loam.AbstractContainer) (string, string, error) {
	type typed interface {
		DataType() string
		Namespace() string
	}
	if t, ok := c.(typed); ok && t.DataType() != "" {
		return t.Namespace(), t.DataType(), nil
	}
	if key, ok := tm.byGoType[reflect.TypeOf(c)]; ok {
		return key.ns, key.dt, nil
	}
	return "", "", fmt.Errorf("build: no data type registered for container type %T", c)
}

// GetMap returns the mapper for a container instance.
func (tm *TypeMap) GetMap(c loam.AbstractContainer) (*ObjectMapper, error) {
	ns, dt, err := tm.DataTypeOf(c)
	if err != nil {
		return nil, err
	}
	return tm.GetMapByType(ns, dt)
}

// GetMapByType returns the mapper for a type, creating and caching it on
// first use. The nearest registered customization hook in the type's
// ancestry is applied.
func (tm *TypeMap) GetMapByType(namespace, dataType string) (*ObjectMapper, error) {
	key := typeKey{namespace, dataType}
	if m, ok := tm.mappers[key]; ok {
		return m, nil
	}
	st, err := tm.catalog.GetSpec(namespace, dataType)
	if err != nil {
		return nil, err
	}
	m := NewObjectMapper(st, namespace, tm, tm.log)
	chain, err := tm.catalog.GetHierarchy(namespace, dataType)
	if err != nil {
		return nil, err
	}
	for _, anc := range chain {
		if hook, ok := tm.hooks[typeKey{namespace, anc}]; ok {
			hook(m)
			break
		}
	}
	tm.mappers[key] = m
	return m, nil
}

// GetBuilderDt returns a builder's data type, following links to their
// targets. Empty for untyped builders.
func (tm *TypeMap) GetBuilderDt(b Builder) string {
	s, _ := tm.builderAttr(b, spec.TypeKey).(string)
	return s
}

// GetBuilderNs returns a builder's namespace, following links.
func (tm *TypeMap) GetBuilderNs(b Builder) string {
	s, _ := tm.builderAttr(b, spec.NamespaceKey).(string)
	return s
}

func (tm *TypeMap) builderAttr(b Builder, name string) any {
	switch t := b.(type) {
	case *GroupBuilder:
		return t.Attribute(name)
	case *DatasetBuilder:
		return t.Attribute(name)
	case *LinkBuilder:
		return tm.builderAttr(t.Target(), name)
	default:
		return nil
	}
}

// GetSubspec finds the child spec a builder satisfies under a parent group
// spec. Typed builders match a child spec declaring (or including) any type
// in the builder's ancestry, with named specs taking priority; link builders
// also match the group or dataset specs their targets satisfy. Untyped
// builders match by name only. Among equally ranked candidates, the first
// whose observed count still admits another child wins; counts may be nil.
func (tm *TypeMap) GetSubspec(parent *spec.GroupSpec, child Builder, counts map[spec.Spec]int) spec.Spec {
	dt := tm.GetBuilderDt(child)
	if dt == "" {
		return tm.subspecByName(parent, child)
	}
	ns := tm.GetBuilderNs(child)
	ancestry := map[string]bool{dt: true}
	if ns != "" {
		if chain, err := tm.catalog.GetHierarchy(ns, dt); err == nil {
			for _, a := range chain {
				ancestry[a] = true
			}
		}
	}
	name := child.Name()
	var named, wildcards []spec.Spec
	consider := func(s spec.Spec, specType string) {
		if !ancestry[specType] {
			return
		}
		if s.SpecName() == name {
			named = append(named, s)
			return
		}
		if s.SpecName() == spec.NameWildcard {
			wildcards = append(wildcards, s)
		}
	}
	_, isLink := child.(*LinkBuilder)
	_, isGroup := child.(*GroupBuilder)
	if isLink {
		for _, s := range parent.Links() {
			consider(s, s.TargetType())
		}
	}
	if isGroup || isLink {
		for _, s := range parent.Groups() {
			consider(s, s.DataType())
		}
	}
	if !isGroup {
		for _, s := range parent.Datasets() {
			consider(s, s.DataType())
		}
	}
	if s := preferOpenQuantity(named, counts); s != nil {
		return s
	}
	return preferOpenQuantity(wildcards, counts)
}

// preferOpenQuantity picks the first candidate whose quantity still admits
// another match given the counts observed so far. When every candidate is
// full, the first one wins.
func preferOpenQuantity(cands []spec.Spec, counts map[spec.Spec]int) spec.Spec {
	if len(cands) == 0 {
		return nil
	}
	for _, s := range cands {
		if s.Quantity().Admits(counts[s]) {
			return s
		}
	}
	return cands[0]
}

func (tm *TypeMap) subspecByName(parent *spec.GroupSpec, child Builder) spec.Spec {
	name := child.Name()
	switch child.(type) {
	case *GroupBuilder:
		for _, s := range parent.Groups() {
			if s.SpecName() == name {
				return s
			}
		}
	case *DatasetBuilder:
		for _, s := range parent.Datasets() {
			if s.SpecName() == name {
				return s
			}
		}
	case *LinkBuilder:
		for _, s := range parent.Links() {
			if s.SpecName() == name {
				return s
			}
		}
	}
	return nil
}
