package spec

import (
	"fmt"
)

// NameWildcard is the spec name that matches any builder name. Untyped specs
// must carry a concrete name; typed specs may use the wildcard.
const NameWildcard = ""

type quantityKind uint8

const (
	quantityFixed quantityKind = iota
	quantityZeroOrOne
	quantityZeroOrMany
	quantityOneOrMany
)

// Quantity expresses how many matching children a spec admits: exactly one
// (the default), zero-or-one ("?"), zero-or-many ("*"), one-or-many ("+"),
// or a fixed positive count.
type Quantity struct {
	kind quantityKind
	n    int
}

// Quantity constructors.
var (
	QuantityOne        = Quantity{kind: quantityFixed, n: 1}
	QuantityZeroOrOne  = Quantity{kind: quantityZeroOrOne}
	QuantityZeroOrMany = Quantity{kind: quantityZeroOrMany}
	QuantityOneOrMany  = Quantity{kind: quantityOneOrMany}
)

// QuantityExactly returns a fixed-count quantity.
func QuantityExactly(n int) Quantity { return Quantity{kind: quantityFixed, n: n} }

// ParseQuantity accepts the schema encodings: an integer, or one of
// "?", "*", "+".
func ParseQuantity(v any) (Quantity, error) {
	switch q := v.(type) {
	case nil:
		return QuantityOne, nil
	case int:
		if q < 1 {
			return Quantity{}, fmt.Errorf("spec: quantity must be positive, got %d", q)
		}
		return QuantityExactly(q), nil
	case float64:
		return ParseQuantity(int(q))
	case string:
		switch q {
		case "?":
			return QuantityZeroOrOne, nil
		case "*":
			return QuantityZeroOrMany, nil
		case "+":
			return QuantityOneOrMany, nil
		default:
			return Quantity{}, fmt.Errorf("spec: invalid quantity %q", q)
		}
	default:
		return Quantity{}, fmt.Errorf("spec: invalid quantity type %T", v)
	}
}

// IsMany reports whether more than one matching child is admitted.
func (q Quantity) IsMany() bool {
	return q.kind == quantityZeroOrMany || q.kind == quantityOneOrMany || (q.kind == quantityFixed && q.n > 1)
}

// Required reports whether at least one matching child must be present.
func (q Quantity) Required() bool {
	return q.kind == quantityFixed || q.kind == quantityOneOrMany
}

// Fixed returns the fixed count and true for fixed-count quantities.
func (q Quantity) Fixed() (int, bool) {
	if q.kind == quantityFixed {
		return q.n, true
	}
	return 0, false
}

// Admits reports whether the quantity accepts another matching child when n
// children are already assigned.
func (q Quantity) Admits(n int) bool {
	if fixed, ok := q.Fixed(); ok {
		return n < fixed
	}
	if q.kind == quantityZeroOrMany || q.kind == quantityOneOrMany {
		return true
	}
	return n < 1
}

// String renders the schema encoding.
func (q Quantity) String() string {
	switch q.kind {
	case quantityZeroOrOne:
		return "?"
	case quantityZeroOrMany:
		return "*"
	case quantityOneOrMany:
		return "+"
	default:
		return fmt.Sprintf("%d", q.n)
	}
}

// Export returns the schema-source encoding of the quantity: an int for
// fixed counts, a string otherwise.
func (q Quantity) Export() any {
	if q.kind == quantityFixed {
		return q.n
	}
	return q.String()
}

// Spec is any node of the schema tree.
type Spec interface {
	// SpecName returns the declared name, or NameWildcard.
	SpecName() string
	Doc() string
	Required() bool
	Quantity() Quantity
	// Parent returns the enclosing spec, or nil at a root.
	Parent() Spec
	// Path is the '/'-joined chain of spec names from the root, used in
	// validation error identifiers.
	Path() string

	setParent(Spec)
}

type specBase struct {
	name     string
	doc      string
	quantity Quantity
	parent   Spec
}

func (s *specBase) SpecName() string   { return s.name }
func (s *specBase) Doc() string        { return s.doc }
func (s *specBase) Quantity() Quantity { return s.quantity }
func (s *specBase) Required() bool     { return s.quantity.Required() }
func (s *specBase) Parent() Spec       { return s.parent }
func (s *specBase) setParent(p Spec)   { s.parent = p }

func specPath(s Spec) string {
	name := s.SpecName()
	if name == NameWildcard {
		name = typedName(s)
	}
	if p := s.Parent(); p != nil {
		return specPath(p) + "/" + name
	}
	return name
}

func typedName(s Spec) string {
	switch ts := s.(type) {
	case *GroupSpec:
		return ts.DataType()
	case *DatasetSpec:
		return ts.DataType()
	case *LinkSpec:
		return ts.TargetType()
	default:
		return "<unnamed>"
	}
}

// AttributeSpec describes a scalar or small-array metadata field attached to
// a group or dataset.
type AttributeSpec struct {
	specBase
	dtype        Dtype
	shapes       []Shape
	dims         [][]string
	required     bool
	value        any
	defaultValue any
}

// NewAttributeSpec creates an attribute spec. A dtype is mandatory.
func NewAttributeSpec(name, doc string, dtype Dtype, required bool) (*AttributeSpec, error) {
	if name == NameWildcard {
		return nil, fmt.Errorf("spec: attribute must have a name")
	}
	if reservedAttrName(name) {
		return nil, fmt.Errorf("spec: attribute name %q is reserved", name)
	}
	if dtype.IsZero() {
		return nil, fmt.Errorf("spec: attribute %q must declare a dtype", name)
	}
	return &AttributeSpec{
		specBase: specBase{name: name, doc: doc, quantity: QuantityOne},
		dtype:    dtype,
		required: required,
	}, nil
}

func reservedAttrName(name string) bool {
	return name == TypeKey || name == NamespaceKey || name == IDKey
}

// Dtype returns the declared value type.
func (a *AttributeSpec) Dtype() Dtype { return a.dtype }

// Shapes returns the declared shape alternatives; empty means unconstrained.
func (a *AttributeSpec) Shapes() []Shape { return a.shapes }

// Dims returns the declared dimension names per shape alternative.
func (a *AttributeSpec) Dims() [][]string { return a.dims }

// Required reports whether the attribute must be present.
func (a *AttributeSpec) Required() bool { return a.required }

// Value returns the fixed value declared in the schema, or nil.
func (a *AttributeSpec) Value() any { return a.value }

// DefaultValue returns the default used when the object supplies none.
func (a *AttributeSpec) DefaultValue() any { return a.defaultValue }

// SetShapes declares shape alternatives.
func (a *AttributeSpec) SetShapes(shapes ...Shape) { a.shapes = shapes }

// SetValue fixes the attribute's value in the schema.
func (a *AttributeSpec) SetValue(v any) { a.value = v }

// SetDefaultValue declares a default value.
func (a *AttributeSpec) SetDefaultValue(v any) { a.defaultValue = v }

// Path implements Spec.
func (a *AttributeSpec) Path() string { return specPath(a) }

// StorageSpec is the common surface of GroupSpec and DatasetSpec: the specs
// that declare (or include) data types and carry attributes.
type StorageSpec interface {
	Spec
	DataTypeDef() string
	DataTypeInc() string
	// DataType returns the def when this spec defines a type, else the inc.
	DataType() string
	Attributes() []*AttributeSpec
	GetAttribute(name string) *AttributeSpec
	Linkable() bool
	IsInheritedAttr(name string) bool
	// ResolveInclude splices the included parent type's declarations into
	// this spec, marking them inherited.
	ResolveInclude(parent StorageSpec) error
}

type storageSpec struct {
	specBase
	def           string
	inc           string
	defaultName   string
	linkable      bool
	attributes    []*AttributeSpec
	inheritedAttr map[string]bool
	resolved      bool
}

func (s *storageSpec) DataTypeDef() string { return s.def }
func (s *storageSpec) DataTypeInc() string { return s.inc }

func (s *storageSpec) DataType() string {
	if s.def != "" {
		return s.def
	}
	return s.inc
}

func (s *storageSpec) Linkable() bool { return s.linkable }

// DefaultName returns the builder name to use when the spec has no fixed
// name and the container has none either.
func (s *storageSpec) DefaultName() string { return s.defaultName }

func (s *storageSpec) Attributes() []*AttributeSpec { return s.attributes }

func (s *storageSpec) GetAttribute(name string) *AttributeSpec {
	for _, a := range s.attributes {
		if a.SpecName() == name {
			return a
		}
	}
	return nil
}

func (s *storageSpec) IsInheritedAttr(name string) bool { return s.inheritedAttr[name] }

func (s *storageSpec) addAttribute(owner Spec, a *AttributeSpec) error {
	if s.GetAttribute(a.SpecName()) != nil {
		return fmt.Errorf("spec: duplicate attribute %q", a.SpecName())
	}
	a.setParent(owner)
	s.attributes = append(s.attributes, a)
	return nil
}

func (s *storageSpec) resolveAttrs(owner Spec, parent StorageSpec) {
	if s.inheritedAttr == nil {
		s.inheritedAttr = map[string]bool{}
	}
	for _, pa := range parent.Attributes() {
		if s.GetAttribute(pa.SpecName()) == nil {
			cp := *pa
			cp.setParent(owner)
			s.attributes = append(s.attributes, &cp)
			s.inheritedAttr[pa.SpecName()] = true
		}
	}
	s.resolved = true
}

// DatasetSpec describes a dataset: an array- or scalar-valued node with a
// dtype, optional shape constraints, and attributes.
type DatasetSpec struct {
	storageSpec
	dtype  Dtype
	shapes []Shape
	dims   [][]string
}

// DatasetSpecConfig bundles the declaration of a DatasetSpec.
type DatasetSpecConfig struct {
	Name        string
	DefaultName string
	Doc         string
	DataTypeDef string
	DataTypeInc string
	Dtype       Dtype
	Shapes      []Shape
	Dims        [][]string
	Quantity    Quantity
	Linkable    bool
}

// NewDatasetSpec creates a dataset spec. A spec with neither a name nor a
// declared type is rejected.
func NewDatasetSpec(cfg DatasetSpecConfig) (*DatasetSpec, error) {
	if cfg.Name == NameWildcard && cfg.DataTypeDef == "" && cfg.DataTypeInc == "" {
		return nil, fmt.Errorf("spec: dataset spec must have a name or a data type")
	}
	q := cfg.Quantity
	if q == (Quantity{}) {
		q = QuantityOne
	}
	return &DatasetSpec{
		storageSpec: storageSpec{
			specBase:    specBase{name: cfg.Name, doc: cfg.Doc, quantity: q},
			def:         cfg.DataTypeDef,
			inc:         cfg.DataTypeInc,
			defaultName: cfg.DefaultName,
			linkable:    cfg.Linkable,
		},
		dtype:  cfg.Dtype,
		shapes: cfg.Shapes,
		dims:   cfg.Dims,
	}, nil
}

// Dtype returns the declared value type; zero when inherited or undeclared.
func (d *DatasetSpec) Dtype() Dtype { return d.dtype }

// Shapes returns the declared shape alternatives.
func (d *DatasetSpec) Shapes() []Shape { return d.shapes }

// Dims returns the declared dimension names.
func (d *DatasetSpec) Dims() [][]string { return d.dims }

// AddAttribute declares an attribute on this dataset.
func (d *DatasetSpec) AddAttribute(a *AttributeSpec) error { return d.addAttribute(d, a) }

// Path implements Spec.
func (d *DatasetSpec) Path() string { return specPath(d) }

// ResolveInclude splices the included parent dataset type into this spec:
// attributes not overridden here are copied in and marked inherited, and an
// undeclared dtype/shape falls back to the parent's.
func (d *DatasetSpec) ResolveInclude(parent StorageSpec) error {
	pd, ok := parent.(*DatasetSpec)
	if !ok {
		return fmt.Errorf("spec: dataset %q cannot include non-dataset type %q", d.DataType(), d.inc)
	}
	d.resolveAttrs(d, parent)
	if d.dtype.IsZero() {
		d.dtype = pd.dtype
	}
	if d.shapes == nil {
		d.shapes = pd.shapes
		d.dims = pd.dims
	}
	return nil
}

// LinkSpec declares a named or typed link to an instance of a target type
// stored elsewhere in the tree.
type LinkSpec struct {
	specBase
	targetType string
}

// NewLinkSpec creates a link spec. The target type is mandatory.
func NewLinkSpec(name, doc, targetType string, quantity Quantity) (*LinkSpec, error) {
	if targetType == "" {
		return nil, fmt.Errorf("spec: link spec must declare a target type")
	}
	if quantity == (Quantity{}) {
		quantity = QuantityOne
	}
	return &LinkSpec{
		specBase:   specBase{name: name, doc: doc, quantity: quantity},
		targetType: targetType,
	}, nil
}

// TargetType returns the declared type the link must point at.
func (l *LinkSpec) TargetType() string { return l.targetType }

// Path implements Spec.
func (l *LinkSpec) Path() string { return specPath(l) }

// GroupSpec describes a group: a node with named/typed child groups,
// datasets, links, and attributes.
type GroupSpec struct {
	storageSpec
	groups        []*GroupSpec
	datasets      []*DatasetSpec
	links         []*LinkSpec
	inheritedType map[string]bool
	inheritedName map[string]bool
}

// GroupSpecConfig bundles the declaration of a GroupSpec.
type GroupSpecConfig struct {
	Name        string
	DefaultName string
	Doc         string
	DataTypeDef string
	DataTypeInc string
	Quantity    Quantity
	Linkable    bool
}

// NewGroupSpec creates a group spec. A spec with neither a name nor a
// declared type is rejected.
func NewGroupSpec(cfg GroupSpecConfig) (*GroupSpec, error) {
	if cfg.Name == NameWildcard && cfg.DataTypeDef == "" && cfg.DataTypeInc == "" {
		return nil, fmt.Errorf("spec: group spec must have a name or a data type")
	}
	q := cfg.Quantity
	if q == (Quantity{}) {
		q = QuantityOne
	}
	return &GroupSpec{
		storageSpec: storageSpec{
			specBase:    specBase{name: cfg.Name, doc: cfg.Doc, quantity: q},
			def:         cfg.DataTypeDef,
			inc:         cfg.DataTypeInc,
			defaultName: cfg.DefaultName,
			linkable:    cfg.Linkable,
		},
	}, nil
}

// Groups returns the child group specs.
func (g *GroupSpec) Groups() []*GroupSpec { return g.groups }

// Datasets returns the child dataset specs.
func (g *GroupSpec) Datasets() []*DatasetSpec { return g.datasets }

// Links returns the child link specs.
func (g *GroupSpec) Links() []*LinkSpec { return g.links }

// AddAttribute declares an attribute on this group.
func (g *GroupSpec) AddAttribute(a *AttributeSpec) error { return g.addAttribute(g, a) }

// AddGroup declares a child group.
func (g *GroupSpec) AddGroup(child *GroupSpec) error {
	child.setParent(g)
	g.groups = append(g.groups, child)
	return nil
}

// AddDataset declares a child dataset.
func (g *GroupSpec) AddDataset(child *DatasetSpec) error {
	child.setParent(g)
	g.datasets = append(g.datasets, child)
	return nil
}

// AddLink declares a child link.
func (g *GroupSpec) AddLink(child *LinkSpec) error {
	child.setParent(g)
	g.links = append(g.links, child)
	return nil
}

// Path implements Spec.
func (g *GroupSpec) Path() string { return specPath(g) }

// IsInheritedType reports whether a typed child spec came from an included
// parent type rather than being declared on this spec.
func (g *GroupSpec) IsInheritedType(dataType string) bool { return g.inheritedType[dataType] }

// IsInheritedChild reports whether a named child spec came from an included
// parent type.
func (g *GroupSpec) IsInheritedChild(name string) bool { return g.inheritedName[name] }

// ResolveInclude splices the included parent group type into this spec.
// Attributes and typed/named children not overridden here are copied in and
// marked inherited.
func (g *GroupSpec) ResolveInclude(parent StorageSpec) error {
	pg, ok := parent.(*GroupSpec)
	if !ok {
		return fmt.Errorf("spec: group %q cannot include non-group type %q", g.DataType(), g.inc)
	}
	g.resolveAttrs(g, parent)
	if g.inheritedType == nil {
		g.inheritedType = map[string]bool{}
	}
	if g.inheritedName == nil {
		g.inheritedName = map[string]bool{}
	}
	for _, pc := range pg.groups {
		if g.overridesGroup(pc) {
			continue
		}
		g.groups = append(g.groups, pc)
		if dt := pc.DataType(); dt != "" {
			g.inheritedType[dt] = true
		}
		if pc.SpecName() != NameWildcard {
			g.inheritedName[pc.SpecName()] = true
		}
	}
	for _, pc := range pg.datasets {
		if g.overridesDataset(pc) {
			continue
		}
		g.datasets = append(g.datasets, pc)
		if dt := pc.DataType(); dt != "" {
			g.inheritedType[dt] = true
		}
		if pc.SpecName() != NameWildcard {
			g.inheritedName[pc.SpecName()] = true
		}
	}
	for _, pc := range pg.links {
		if g.overridesLink(pc) {
			continue
		}
		g.links = append(g.links, pc)
		g.inheritedType[pc.TargetType()] = true
	}
	return nil
}

func (g *GroupSpec) overridesGroup(pc *GroupSpec) bool {
	for _, c := range g.groups {
		if pc.SpecName() != NameWildcard && c.SpecName() == pc.SpecName() {
			return true
		}
		if pc.DataType() != "" && c.DataType() == pc.DataType() {
			return true
		}
	}
	return false
}

func (g *GroupSpec) overridesDataset(pc *DatasetSpec) bool {
	for _, c := range g.datasets {
		if pc.SpecName() != NameWildcard && c.SpecName() == pc.SpecName() {
			return true
		}
		if pc.DataType() != "" && c.DataType() == pc.DataType() {
			return true
		}
	}
	return false
}

func (g *GroupSpec) overridesLink(pc *LinkSpec) bool {
	for _, c := range g.links {
		if pc.SpecName() != NameWildcard && c.SpecName() == pc.SpecName() {
			return true
		}
		if c.TargetType() == pc.TargetType() {
			return true
		}
	}
	return false
}
