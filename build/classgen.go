package build

import (
	"fmt"
	"reflect"

	"github.com/rs/zerolog"

	"github.com/loamdata/loam"
	"github.com/loamdata/loam/spec"
)

// ContainerFactory creates a container instance for a class. The fields map
// is keyed by class field name; identity (object id, source, parent) is
// restored by the caller afterwards, never passed through here.
type ContainerFactory func(name string, fields map[string]any) (loam.AbstractContainer, error)

// ClassField is one settable field of a container class.
type ClassField struct {
	Name     string
	Doc      string
	Required bool
	// Multi marks a quantity-many child field backed by a name-keyed
	// collection.
	Multi bool
}

// ContainerClass describes a container type: hand-registered for Go types
// authored against the schema, or synthesized from the spec when none is
// registered.
type ContainerClass struct {
	DataType  string
	Namespace string
	Spec      spec.StorageSpec
	// Parent is the class of the included parent type, nil at a hierarchy
	// root.
	Parent *ContainerClass
	// Fields are the fields this class introduces beyond its parent.
	Fields []ClassField
	New    ContainerFactory
	// GoType is the concrete Go type for hand-registered classes, used to
	// recognize instances. Nil for synthesized classes.
	GoType    reflect.Type
	Generated bool
}

// AllFields returns the inherited fields followed by this class's own.
func (c *ContainerClass) AllFields() []ClassField {
	if c.Parent == nil {
		return c.Fields
	}
	out := append([]ClassField{}, c.Parent.AllFields()...)
	return append(out, c.Fields...)
}

// FieldByName returns a field from this class or any ancestor.
func (c *ContainerClass) FieldByName(name string) (ClassField, bool) {
	for cur := c; cur != nil; cur = cur.Parent {
		for _, f := range cur.Fields {
			if f.Name == name {
				return f, true
			}
		}
	}
	return ClassField{}, false
}

// fieldNameFor synthesizes the class field name for a child spec: the
// declared name when fixed, otherwise the snake_cased data type, pluralized
// for quantity-many children.
func fieldNameFor(s spec.Spec) string {
	if s.SpecName() != spec.NameWildcard {
		return s.SpecName()
	}
	var dt string
	switch t := s.(type) {
	case *spec.GroupSpec:
		dt = t.DataType()
	case *spec.DatasetSpec:
		dt = t.DataType()
	case *spec.LinkSpec:
		dt = t.TargetType()
	}
	name := snakeCase(dt)
	if s.Quantity().IsMany() {
		name = pluralize(name)
	}
	return name
}

// ClassGenerator synthesizes container classes from specs for types with no
// hand-registered Go type.
type ClassGenerator struct {
	log zerolog.Logger
}

// NewClassGenerator creates a generator.
func NewClassGenerator(log zerolog.Logger) *ClassGenerator {
	return &ClassGenerator{log: log}
}

// Generate synthesizes the class for a type spec. Only the fields the spec
// adds beyond the parent class become class fields; inherited declarations
// stay with the parent.
func (g *ClassGenerator) Generate(namespace string, st spec.StorageSpec, parent *ContainerClass) (*ContainerClass, error) {
	dt := st.DataTypeDef()
	if dt == "" {
		return nil, fmt.Errorf("build: cannot generate class for spec without %s", spec.DefKey)
	}
	cls := &ContainerClass{
		DataType:  dt,
		Namespace: namespace,
		Spec:      st,
		Parent:    parent,
		Generated: true,
	}
	taken := map[string]bool{}
	if parent != nil {
		for _, f := range parent.AllFields() {
			taken[f.Name] = true
		}
	}
	add := func(f ClassField) {
		if taken[f.Name] {
			return
		}
		taken[f.Name] = true
		cls.Fields = append(cls.Fields, f)
	}

	for _, a := range st.Attributes() {
		if st.IsInheritedAttr(a.SpecName()) {
			continue
		}
		add(ClassField{Name: a.SpecName(), Doc: a.Doc(), Required: a.Required() && a.DefaultValue() == nil})
	}
	switch ts := st.(type) {
	case *spec.DatasetSpec:
		add(ClassField{Name: "data", Doc: "the dataset value", Required: true})
	case *spec.GroupSpec:
		for _, c := range ts.Groups() {
			if inheritedChild(ts, c.DataType()) {
				continue
			}
			add(childField(c, c.Quantity()))
		}
		for _, c := range ts.Datasets() {
			if inheritedChild(ts, c.DataType()) {
				continue
			}
			add(childField(c, c.Quantity()))
		}
		for _, c := range ts.Links() {
			if inheritedChild(ts, c.TargetType()) {
				continue
			}
			add(childField(c, c.Quantity()))
		}
	}

	cls.New = g.factory(cls)
	g.log.Debug().Str("namespace", namespace).Str("data_type", dt).
		Int("fields", len(cls.Fields)).Msg("generated container class")
	return cls, nil
}

func inheritedChild(g *spec.GroupSpec, dataType string) bool {
	return dataType != "" && g.IsInheritedType(dataType)
}

func childField(s spec.Spec, q spec.Quantity) ClassField {
	return ClassField{
		Name:     fieldNameFor(s),
		Doc:      s.Doc(),
		Required: q.Required(),
		Multi:    q.IsMany(),
	}
}

func (g *ClassGenerator) factory(cls *ContainerClass) ContainerFactory {
	_, isDataset := cls.Spec.(*spec.DatasetSpec)
	return func(name string, fields map[string]any) (loam.AbstractContainer, error) {
		if name == "" {
			name = defaultNameOf(cls.Spec)
		}
		if name == "" {
			return nil, fmt.Errorf("build: %s instances need a name", cls.DataType)
		}
		var c loam.AbstractContainer
		var err error
		if isDataset {
			c, err = loam.NewDynamicData(name, cls.Namespace, cls.DataType, fields["data"])
		} else {
			c, err = loam.NewDynamicContainer(name, cls.Namespace, cls.DataType)
		}
		if err != nil {
			return nil, err
		}
		for _, f := range cls.AllFields() {
			v, ok := fields[f.Name]
			if !ok || v == nil {
				if f.Required && !(isDataset && f.Name == "data") {
					return nil, fmt.Errorf("build: %s: missing required field %q", cls.DataType, f.Name)
				}
				continue
			}
			if isDataset && f.Name == "data" {
				continue
			}
			if f.Multi {
				children, ok := v.([]loam.AbstractContainer)
				if !ok {
					if one, okOne := v.(loam.AbstractContainer); okOne {
						children = []loam.AbstractContainer{one}
					} else {
						return nil, fmt.Errorf("build: %s: field %q expects containers, got %T", cls.DataType, f.Name, v)
					}
				}
				for _, ch := range children {
					if err := loam.AddToMultiField(c, f.Name, ch); err != nil {
						return nil, err
					}
				}
				continue
			}
			if err := c.SetField(f.Name, v); err != nil {
				return nil, err
			}
			if ch, ok := v.(loam.AbstractContainer); ok && ch.ParentRef() == nil {
				if err := ch.SetParent(c); err != nil {
					return nil, err
				}
			}
		}
		return c, nil
	}
}

func defaultNameOf(st spec.StorageSpec) string {
	type defaultNamer interface{ DefaultName() string }
	if dn, ok := st.(defaultNamer); ok && dn.DefaultName() != "" {
		return dn.DefaultName()
	}
	if st.SpecName() != spec.NameWildcard {
		return st.SpecName()
	}
	return ""
}
