package build

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/loamdata/loam"
	"github.com/loamdata/loam/spec"
)

// BuildValueHook overrides how one field's value is read from a container
// during build.
type BuildValueHook func(c loam.AbstractContainer) (any, error)

// ConstructValueHook overrides how one field's value is derived from the
// gathered builder values during construct.
type ConstructValueHook func(b Builder, gathered any) (any, error)

// ObjectMapper translates between one container and its builder subtree,
// driven by the container's type spec. The default mapping pairs each spec
// node with a field name (the declared name, or the snake_cased data type);
// RenameField and the value hooks customize it per type.
type ObjectMapper struct {
	spec       spec.StorageSpec
	namespace  string
	tm         *TypeMap
	log        zerolog.Logger
	fieldNames map[spec.Spec]string
	buildHooks map[string]BuildValueHook
	consHooks  map[string]ConstructValueHook
}

// NewObjectMapper creates the default mapper for a type spec.
func NewObjectMapper(st spec.StorageSpec, namespace string, tm *TypeMap, log zerolog.Logger) *ObjectMapper {
	om := &ObjectMapper{
		spec:       st,
		namespace:  namespace,
		tm:         tm,
		log:        log,
		fieldNames: map[spec.Spec]string{},
		buildHooks: map[string]BuildValueHook{},
		consHooks:  map[string]ConstructValueHook{},
	}
	om.index(st)
	return om
}

// index assigns a field name to every spec node reachable without crossing
// into another typed spec. Untyped named groups are structural only: their
// contents map onto this type's fields.
func (om *ObjectMapper) index(st spec.StorageSpec) {
	for _, a := range st.Attributes() {
		om.fieldNames[a] = a.SpecName()
	}
	g, ok := st.(*spec.GroupSpec)
	if !ok {
		return
	}
	for _, c := range g.Groups() {
		if c.DataType() == "" {
			om.index(c)
			continue
		}
		om.fieldNames[c] = fieldNameFor(c)
	}
	for _, c := range g.Datasets() {
		om.fieldNames[c] = fieldNameFor(c)
		if c.DataType() == "" {
			for _, a := range c.Attributes() {
				om.fieldNames[a] = a.SpecName()
			}
		}
	}
	for _, c := range g.Links() {
		om.fieldNames[c] = fieldNameFor(c)
	}
}

// Spec returns the type spec this mapper serves.
func (om *ObjectMapper) Spec() spec.StorageSpec { return om.spec }

// FieldName returns the container field a spec node maps onto.
func (om *ObjectMapper) FieldName(s spec.Spec) string { return om.fieldNames[s] }

// RenameField remaps the spec node at the given spec path onto a different
// container field.
func (om *ObjectMapper) RenameField(specPath, fieldName string) error {
	for s := range om.fieldNames {
		if s.Path() == specPath {
			om.fieldNames[s] = fieldName
			return nil
		}
	}
	return fmt.Errorf("build: no spec at path %q in type %q", specPath, om.spec.DataType())
}

// OnBuild installs a build-side value hook for a field.
func (om *ObjectMapper) OnBuild(fieldName string, h BuildValueHook) {
	om.buildHooks[fieldName] = h
}

// OnConstruct installs a construct-side value hook for a field.
func (om *ObjectMapper) OnConstruct(fieldName string, h ConstructValueHook) {
	om.consHooks[fieldName] = h
}

// GetBuilderName returns the builder name for a container: the spec's fixed
// name when it has one, the container's name otherwise.
func (om *ObjectMapper) GetBuilderName(c loam.AbstractContainer) string {
	if om.spec.SpecName() != spec.NameWildcard {
		return om.spec.SpecName()
	}
	return c.Name()
}

// Build translates one container into its builder subtree, recursing into
// typed children through the manager.
func (om *ObjectMapper) Build(m *BuildManager, c loam.AbstractContainer, opt BuildOpt) (Builder, error) {
	name := om.GetBuilderName(c)
	switch st := om.spec.(type) {
	case *spec.GroupSpec:
		b := NewGroupBuilder(name)
		if err := b.SetSource(opt.Source); err != nil {
			return nil, err
		}
		if err := om.stampType(m, b, c); err != nil {
			return nil, err
		}
		if err := om.buildGroup(m, c, st, b, opt); err != nil {
			return nil, err
		}
		return b, nil
	case *spec.DatasetSpec:
		b := NewDatasetBuilder(name, nil, spec.Dtype{})
		if err := b.SetSource(opt.Source); err != nil {
			return nil, err
		}
		if err := om.stampType(m, b, c); err != nil {
			return nil, err
		}
		if err := om.buildDataset(m, c, st, b); err != nil {
			return nil, err
		}
		if err := om.addAttributes(m, c, st.Attributes(), b); err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("build: mapper for %q has no storage spec", om.spec.DataType())
	}
}

type attrSetter interface {
	Builder
	SetAttribute(name string, value any)
	Attribute(name string) any
}

func (om *ObjectMapper) stampType(m *BuildManager, b attrSetter, c loam.AbstractContainer) error {
	ns, dt, err := m.typeMap.DataTypeOf(c)
	if err != nil {
		return err
	}
	b.SetAttribute(spec.TypeKey, dt)
	b.SetAttribute(spec.NamespaceKey, ns)
	b.SetAttribute(spec.IDKey, c.ObjectID())
	return nil
}

// buildValue reads the container value for a spec node, honoring hooks and,
// for attributes, schema constants and defaults.
func (om *ObjectMapper) buildValue(c loam.AbstractContainer, s spec.Spec) (any, error) {
	field := om.FieldName(s)
	if h, ok := om.buildHooks[field]; ok {
		return h(c)
	}
	if a, ok := s.(*spec.AttributeSpec); ok {
		if a.Value() != nil {
			return a.Value(), nil
		}
		if v := c.GetField(field); v != nil {
			return v, nil
		}
		return a.DefaultValue(), nil
	}
	return c.GetField(field), nil
}

func (om *ObjectMapper) addAttributes(m *BuildManager, c loam.AbstractContainer, attrs []*spec.AttributeSpec, b attrSetter) error {
	for _, a := range attrs {
		v, err := om.buildValue(c, a)
		if err != nil {
			return err
		}
		if v == nil {
			if a.Required() {
				om.log.Warn().Str("type", om.spec.DataType()).Str("attribute", a.SpecName()).
					Msg("missing required attribute value")
			}
			continue
		}
		if a.Dtype().IsRef() {
			if err := om.queueAttrRef(m, b, a.SpecName(), v); err != nil {
				return err
			}
			continue
		}
		conv, _, err := ConvertDtype(a.Dtype(), v, om.log, b.Path()+"."+a.SpecName())
		if err != nil {
			return &BuildError{Builder: b, Reason: "attribute " + a.SpecName(), Err: err}
		}
		b.SetAttribute(a.SpecName(), conv)
	}
	return nil
}

func (om *ObjectMapper) queueAttrRef(m *BuildManager, b attrSetter, name string, v any) error {
	target, ok := v.(loam.AbstractContainer)
	if !ok {
		return &BuildError{Builder: b, Reason: fmt.Sprintf("attribute %s expects a container reference, got %T", name, v)}
	}
	m.QueueRef(func() (bool, error) {
		tb := m.GetBuilder(target)
		if tb == nil {
			if target.ParentRef() == nil {
				return false, &OrphanContainerBuildError{Builder: b, Container: target}
			}
			return false, &ReferenceTargetNotBuiltError{Builder: b, Container: target}
		}
		b.SetAttribute(name, NewReferenceBuilder(tb))
		return true, nil
	})
	return nil
}

func (om *ObjectMapper) buildGroup(m *BuildManager, c loam.AbstractContainer, st *spec.GroupSpec, b *GroupBuilder, opt BuildOpt) error {
	if err := om.addAttributes(m, c, st.Attributes(), b); err != nil {
		return err
	}
	childOpt := BuildOpt{Source: b.Source(), Export: opt.Export}
	for _, gs := range st.Groups() {
		if gs.DataType() != "" {
			if err := om.addTypedChildren(m, c, b, gs, gs.Quantity(), childOpt); err != nil {
				return err
			}
			continue
		}
		// Untyped named group: structural only, fields of c live inside it.
		sub := NewGroupBuilder(gs.SpecName())
		if err := b.AddGroup(sub); err != nil {
			return err
		}
		if err := om.buildGroup(m, c, gs, sub, opt); err != nil {
			return err
		}
	}
	for _, ds := range st.Datasets() {
		if ds.DataType() != "" {
			if err := om.addTypedChildren(m, c, b, ds, ds.Quantity(), childOpt); err != nil {
				return err
			}
			continue
		}
		if err := om.addUntypedDataset(m, c, b, ds); err != nil {
			return err
		}
	}
	for _, ls := range st.Links() {
		if err := om.addLinks(m, c, b, ls, childOpt); err != nil {
			return err
		}
	}
	return nil
}

// childrenFor collects the container children a child spec maps onto.
func (om *ObjectMapper) childrenFor(c loam.AbstractContainer, s spec.Spec) ([]loam.AbstractContainer, error) {
	field := om.FieldName(s)
	if s.Quantity().IsMany() {
		if h, ok := om.buildHooks[field]; ok {
			v, err := h(c)
			if err != nil {
				return nil, err
			}
			children, _ := v.([]loam.AbstractContainer)
			return children, nil
		}
		return loam.MultiFieldValues(c, field), nil
	}
	v, err := om.buildValue(c, s)
	if err != nil || v == nil {
		return nil, err
	}
	switch t := v.(type) {
	case loam.AbstractContainer:
		return []loam.AbstractContainer{t}, nil
	case []loam.AbstractContainer:
		return t, nil
	default:
		return nil, fmt.Errorf("build: field %q of %q expects containers, got %T", field, c.Name(), v)
	}
}

func (om *ObjectMapper) addTypedChildren(m *BuildManager, c loam.AbstractContainer, b *GroupBuilder, s spec.Spec, q spec.Quantity, opt BuildOpt) error {
	children, err := om.childrenFor(c, s)
	if err != nil {
		return err
	}
	if len(children) == 0 {
		if q.Required() {
			om.log.Warn().Str("type", om.spec.DataType()).Str("field", om.FieldName(s)).
				Msg("missing required child")
		}
		return nil
	}
	if n, fixed := q.Fixed(); fixed && len(children) != n {
		om.log.Warn().Str("type", om.spec.DataType()).Str("field", om.FieldName(s)).
			Int("expected", n).Int("received", len(children)).Msg("child count does not match quantity")
	}
	for _, ch := range children {
		owned := ch.Parent() == loam.AbstractContainer(c) || ch.ParentRef() == nil
		sub, err := m.Build(ch, opt)
		if err != nil {
			return err
		}
		if !owned {
			if err := b.AddLink(NewLinkBuilder("", sub)); err != nil {
				return err
			}
			continue
		}
		switch t := sub.(type) {
		case *GroupBuilder:
			if err := b.AddGroup(t); err != nil {
				return err
			}
		case *DatasetBuilder:
			if err := b.AddDataset(t); err != nil {
				return err
			}
		default:
			return &BuildError{Builder: b, Reason: fmt.Sprintf("unexpected child builder %T", sub)}
		}
	}
	return nil
}

func (om *ObjectMapper) addLinks(m *BuildManager, c loam.AbstractContainer, b *GroupBuilder, ls *spec.LinkSpec, opt BuildOpt) error {
	children, err := om.childrenFor(c, ls)
	if err != nil {
		return err
	}
	if len(children) == 0 {
		if ls.Required() {
			om.log.Warn().Str("type", om.spec.DataType()).Str("field", om.FieldName(ls)).
				Msg("missing required link")
		}
		return nil
	}
	for _, ch := range children {
		if ch.ParentRef() == nil {
			return &OrphanContainerBuildError{Builder: b, Container: ch}
		}
		target, err := m.Build(ch, opt)
		if err != nil {
			return err
		}
		name := ls.SpecName()
		if ls.Quantity().IsMany() {
			name = ""
		}
		if err := b.AddLink(NewLinkBuilder(name, target)); err != nil {
			return err
		}
	}
	return nil
}

func (om *ObjectMapper) addUntypedDataset(m *BuildManager, c loam.AbstractContainer, b *GroupBuilder, ds *spec.DatasetSpec) error {
	v, err := om.buildValue(c, ds)
	if err != nil {
		return err
	}
	if v == nil {
		if ds.Required() {
			om.log.Warn().Str("type", om.spec.DataType()).Str("dataset", ds.SpecName()).
				Msg("missing required dataset value")
		}
		return nil
	}
	sub := NewDatasetBuilder(ds.SpecName(), nil, spec.Dtype{})
	if err := b.AddDataset(sub); err != nil {
		return err
	}
	if err := om.setDatasetValue(m, sub, ds.Dtype(), v); err != nil {
		return err
	}
	return om.addAttributes(m, c, ds.Attributes(), sub)
}

// setDatasetValue fills a dataset builder, converting plain values and
// queueing reference values for deferred resolution.
func (om *ObjectMapper) setDatasetValue(m *BuildManager, b *DatasetBuilder, declared spec.Dtype, v any) error {
	if declared.IsRef() {
		return om.queueDatasetRef(m, b, declared, v)
	}
	conv, final, err := ConvertDtype(declared, v, om.log, b.Path())
	if err != nil {
		return &BuildError{Builder: b, Reason: "dataset value", Err: err}
	}
	if err := b.SetData(conv); err != nil {
		return err
	}
	b.SetDtype(final)
	return nil
}

func (om *ObjectMapper) queueDatasetRef(m *BuildManager, b *DatasetBuilder, declared spec.Dtype, v any) error {
	b.SetDtype(declared)
	fill := func(one any) (any, bool, error) {
		switch t := one.(type) {
		case loam.DataRegion:
			tb := m.GetBuilder(t.Target)
			if tb == nil {
				return nil, false, &ReferenceTargetNotBuiltError{Builder: b, Container: t.Target}
			}
			db, ok := tb.(*DatasetBuilder)
			if !ok {
				return nil, false, &BuildError{Builder: b, Reason: "region reference target is not a dataset"}
			}
			return NewRegionBuilder(db, t.Region), true, nil
		case loam.AbstractContainer:
			tb := m.GetBuilder(t)
			if tb == nil {
				if t.ParentRef() == nil {
					return nil, false, &OrphanContainerBuildError{Builder: b, Container: t}
				}
				return nil, false, &ReferenceTargetNotBuiltError{Builder: b, Container: t}
			}
			return NewReferenceBuilder(tb), true, nil
		default:
			return nil, false, &BuildError{Builder: b, Reason: fmt.Sprintf("reference dataset expects containers, got %T", one)}
		}
	}
	m.QueueRef(func() (bool, error) {
		switch t := v.(type) {
		case []loam.AbstractContainer:
			out := make([]any, len(t))
			for i, one := range t {
				r, done, err := fill(one)
				if err != nil || !done {
					return done, err
				}
				out[i] = r
			}
			return true, b.SetData(out)
		default:
			r, done, err := fill(v)
			if err != nil || !done {
				return done, err
			}
			return true, b.SetData(r)
		}
	})
	return nil
}

func (om *ObjectMapper) buildDataset(m *BuildManager, c loam.AbstractContainer, st *spec.DatasetSpec, b *DatasetBuilder) error {
	dc, ok := c.(loam.DataContainer)
	if !ok {
		return &ContainerConfigurationError{Container: c, Reason: "dataset-typed container does not hold data"}
	}
	if dc.Data() == nil {
		return nil
	}
	return om.setDatasetValue(m, b, st.Dtype(), dc.Data())
}

// Construct translates one builder subtree back into a container. Identity
// (object id, source, parent) is restored after instantiation; a parent not
// yet constructed is represented by a proxy.
func (om *ObjectMapper) Construct(m *BuildManager, b Builder) (loam.AbstractContainer, error) {
	values := map[spec.Spec]any{}
	var rootAttrs attrSetter
	switch st := om.spec.(type) {
	case *spec.GroupSpec:
		gb, ok := b.(*GroupBuilder)
		if !ok {
			return nil, &ConstructError{Builder: b, Reason: "group-typed builder expected"}
		}
		rootAttrs = gb
		if err := om.gatherGroup(m, gb, st, values); err != nil {
			return nil, err
		}
	case *spec.DatasetSpec:
		db, ok := b.(*DatasetBuilder)
		if !ok {
			return nil, &ConstructError{Builder: b, Reason: "dataset-typed builder expected"}
		}
		rootAttrs = db
		data, err := derefValue(m, db.Data())
		if err != nil {
			return nil, &ConstructError{Builder: b, Reason: "dataset value", Err: err}
		}
		values[st] = data
		if err := om.gatherAttrs(m, db, st.Attributes(), values); err != nil {
			return nil, err
		}
	}

	fields := map[string]any{}
	for s, v := range values {
		name := om.FieldName(s)
		if s == spec.Spec(om.spec) {
			name = "data"
		}
		if h, ok := om.consHooks[name]; ok {
			hv, err := h(b, v)
			if err != nil {
				return nil, &ConstructError{Builder: b, Reason: "field " + name, Err: err}
			}
			v = hv
		}
		fields[name] = v
	}

	ns := m.typeMap.GetBuilderNs(b)
	dt := m.typeMap.GetBuilderDt(b)
	cls, err := m.typeMap.GetContainerClass(ns, dt)
	if err != nil {
		return nil, &ConstructError{Builder: b, Reason: "no container class", Err: err}
	}
	c, err := cls.New(b.Name(), fields)
	if err != nil {
		return nil, &ConstructError{Builder: b, Reason: "constructor failed", Err: err}
	}

	objectID, _ := rootAttrs.Attribute(spec.IDKey).(string)
	var parent any
	if pb := nearestTypedAncestor(m.typeMap, b); pb != nil {
		if pc := m.GetContainer(pb); pc != nil {
			parent = pc
		} else {
			parent = m.GetProxy(pb)
		}
	}
	if err := loam.RestoreIdentity(c, objectID, b.Source(), parent); err != nil {
		return nil, &ConstructError{Builder: b, Reason: "restoring identity", Err: err}
	}
	c.SetModified(false)
	return c, nil
}

func nearestTypedAncestor(tm *TypeMap, b Builder) Builder {
	for p := b.Parent(); p != nil; p = p.Parent() {
		if tm.GetBuilderDt(p) != "" {
			return p
		}
	}
	return nil
}

func (om *ObjectMapper) gatherAttrs(m *BuildManager, b attrSetter, attrs []*spec.AttributeSpec, values map[spec.Spec]any) error {
	for _, a := range attrs {
		v := b.Attribute(a.SpecName())
		if v == nil {
			continue
		}
		dv, err := derefValue(m, v)
		if err != nil {
			return &ConstructError{Builder: b, Reason: "attribute " + a.SpecName(), Err: err}
		}
		values[a] = dv
	}
	return nil
}

// gatherGroup collects the values every reachable spec node takes in a
// group builder, recursing through untyped structural groups and
// constructing typed children through the manager.
func (om *ObjectMapper) gatherGroup(m *BuildManager, gb *GroupBuilder, st *spec.GroupSpec, values map[spec.Spec]any) error {
	if err := om.gatherAttrs(m, gb, st.Attributes(), values); err != nil {
		return err
	}
	counts := map[spec.Spec]int{}
	for _, child := range gb.Groups() {
		s := m.typeMap.GetSubspec(st, child, counts)
		if s == nil {
			om.log.Warn().Str("path", child.Path()).Msg("builder does not match any spec, skipping")
			continue
		}
		counts[s]++
		gs := s.(*spec.GroupSpec)
		if gs.DataType() == "" {
			if err := om.gatherGroup(m, child, gs, values); err != nil {
				return err
			}
			continue
		}
		cc, err := m.Construct(child)
		if err != nil {
			return err
		}
		accumulate(values, s, cc)
	}
	for _, child := range gb.Datasets() {
		s := m.typeMap.GetSubspec(st, child, counts)
		if s == nil {
			om.log.Warn().Str("path", child.Path()).Msg("builder does not match any spec, skipping")
			continue
		}
		counts[s]++
		ds := s.(*spec.DatasetSpec)
		if ds.DataType() == "" {
			data, err := derefValue(m, child.Data())
			if err != nil {
				return &ConstructError{Builder: child, Reason: "dataset value", Err: err}
			}
			values[s] = data
			if err := om.gatherAttrs(m, child, ds.Attributes(), values); err != nil {
				return err
			}
			continue
		}
		cc, err := m.Construct(child)
		if err != nil {
			return err
		}
		accumulate(values, s, cc)
	}
	for _, child := range gb.Links() {
		s := m.typeMap.GetSubspec(st, child, counts)
		if s == nil {
			om.log.Warn().Str("path", child.Path()).Msg("link does not match any spec, skipping")
			continue
		}
		counts[s]++
		cc, err := m.Construct(child.Target())
		if err != nil {
			return err
		}
		accumulate(values, s, cc)
	}
	return nil
}

// accumulate stores a constructed child under its spec, collecting
// quantity-many children into a slice.
func accumulate(values map[spec.Spec]any, s spec.Spec, c loam.AbstractContainer) {
	if !s.Quantity().IsMany() {
		values[s] = c
		return
	}
	prev, _ := values[s].([]loam.AbstractContainer)
	values[s] = append(prev, c)
}

// derefValue resolves reference builders inside a gathered value into their
// constructed containers.
func derefValue(m *BuildManager, v any) (any, error) {
	switch t := v.(type) {
	case *RegionBuilder:
		c, err := m.Construct(t.Target())
		if err != nil {
			return nil, err
		}
		dc, ok := c.(loam.DataContainer)
		if !ok {
			return nil, fmt.Errorf("build: region reference target %q is not a data container", c.Name())
		}
		return loam.DataRegion{Target: dc, Region: t.Region()}, nil
	case *ReferenceBuilder:
		return m.Construct(t.Target())
	case []*ReferenceBuilder:
		out := make([]loam.AbstractContainer, len(t))
		for i, r := range t {
			c, err := m.Construct(r.Target())
			if err != nil {
				return nil, err
			}
			out[i] = c
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			de, err := derefValue(m, e)
			if err != nil {
				return nil, err
			}
			out[i] = de
		}
		return out, nil
	default:
		return v, nil
	}
}
