package spec

import (
	"fmt"
)

// IncludeResolver resolves a data_type_inc name to its registered spec while
// a schema source is being loaded. The namespace catalog supplies one that
// consults the catalog being built.
type IncludeResolver func(dataType string) (StorageSpec, error)

// ParseDtype parses the dtype field of a decoded schema source: a primitive
// spelling, a reference map, or a compound member list.
func ParseDtype(v any) (Dtype, error) {
	switch dt := v.(type) {
	case nil:
		return Dtype{}, nil
	case string:
		return PrimitiveDtype(dt)
	case map[string]any:
		target, _ := dt["target_type"].(string)
		if target == "" {
			return Dtype{}, fmt.Errorf("spec: reference dtype missing target_type")
		}
		refType, _ := dt["reftype"].(string)
		if refType == "" {
			refType = RefTypeObject
		}
		if refType != RefTypeObject && refType != RefTypeRegion {
			return Dtype{}, fmt.Errorf("spec: invalid reftype %q", refType)
		}
		return Dtype{Ref: &RefDtype{TargetType: target, RefType: refType}}, nil
	case []any:
		members := make([]CompoundMember, 0, len(dt))
		for _, mv := range dt {
			m, ok := mv.(map[string]any)
			if !ok {
				return Dtype{}, fmt.Errorf("spec: compound dtype member must be a map, got %T", mv)
			}
			name, _ := m["name"].(string)
			if name == "" {
				return Dtype{}, fmt.Errorf("spec: compound dtype member missing name")
			}
			sub, err := ParseDtype(m["dtype"])
			if err != nil {
				return Dtype{}, fmt.Errorf("spec: compound member %q: %w", name, err)
			}
			if sub.IsZero() {
				return Dtype{}, fmt.Errorf("spec: compound member %q missing dtype", name)
			}
			doc, _ := m["doc"].(string)
			members = append(members, CompoundMember{Name: name, Doc: doc, Dtype: sub})
		}
		return Dtype{Compound: members}, nil
	default:
		return Dtype{}, fmt.Errorf("spec: invalid dtype %T", v)
	}
}

// ParseShapes parses the shape field: one shape, or a list of alternatives.
// A nil entry is a wildcard dimension.
func ParseShapes(v any) ([]Shape, error) {
	if v == nil {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("spec: shape must be a list, got %T", v)
	}
	if len(list) == 0 {
		return []Shape{{}}, nil
	}
	if _, nested := list[0].([]any); nested {
		out := make([]Shape, 0, len(list))
		for _, alt := range list {
			inner, ok := alt.([]any)
			if !ok {
				return nil, fmt.Errorf("spec: mixed shape alternatives")
			}
			s, err := parseOneShape(inner)
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		}
		return out, nil
	}
	s, err := parseOneShape(list)
	if err != nil {
		return nil, err
	}
	return []Shape{s}, nil
}

func parseOneShape(list []any) (Shape, error) {
	s := make(Shape, 0, len(list))
	for _, d := range list {
		switch n := d.(type) {
		case nil:
			s = append(s, ShapeWildcard)
		case int:
			s = append(s, n)
		case float64:
			s = append(s, int(n))
		default:
			return nil, fmt.Errorf("spec: invalid shape dimension %T", d)
		}
	}
	return s, nil
}

// ParseDims parses the dims field into dimension-name lists matching the
// shape alternatives.
func ParseDims(v any) ([][]string, error) {
	if v == nil {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("spec: dims must be a list, got %T", v)
	}
	if len(list) == 0 {
		return nil, nil
	}
	if _, nested := list[0].([]any); nested {
		out := make([][]string, 0, len(list))
		for _, alt := range list {
			inner, ok := alt.([]any)
			if !ok {
				return nil, fmt.Errorf("spec: mixed dims alternatives")
			}
			names, err := parseOneDims(inner)
			if err != nil {
				return nil, err
			}
			out = append(out, names)
		}
		return out, nil
	}
	names, err := parseOneDims(list)
	if err != nil {
		return nil, err
	}
	return [][]string{names}, nil
}

func parseOneDims(list []any) ([]string, error) {
	names := make([]string, 0, len(list))
	for _, d := range list {
		s, ok := d.(string)
		if !ok {
			return nil, fmt.Errorf("spec: invalid dimension name %T", d)
		}
		names = append(names, s)
	}
	return names, nil
}

// BuildAttributeSpec parses one decoded attribute declaration.
func BuildAttributeSpec(m map[string]any) (*AttributeSpec, error) {
	name, _ := m["name"].(string)
	doc, _ := m["doc"].(string)
	dtype, err := ParseDtype(m["dtype"])
	if err != nil {
		return nil, fmt.Errorf("spec: attribute %q: %w", name, err)
	}
	required := true
	if r, ok := m["required"].(bool); ok {
		required = r
	}
	a, err := NewAttributeSpec(name, doc, dtype, required)
	if err != nil {
		return nil, err
	}
	shapes, err := ParseShapes(m["shape"])
	if err != nil {
		return nil, fmt.Errorf("spec: attribute %q: %w", name, err)
	}
	a.shapes = shapes
	dims, err := ParseDims(m["dims"])
	if err != nil {
		return nil, fmt.Errorf("spec: attribute %q: %w", name, err)
	}
	a.dims = dims
	a.value = m["value"]
	a.defaultValue = m["default_value"]
	return a, nil
}

// BuildDatasetSpec parses one decoded dataset declaration. When the spec
// includes a parent type and a resolver is given, the include is spliced in.
func BuildDatasetSpec(m map[string]any, resolve IncludeResolver) (*DatasetSpec, error) {
	cfg, err := storageConfig(m)
	if err != nil {
		return nil, err
	}
	dtype, err := ParseDtype(m["dtype"])
	if err != nil {
		return nil, fmt.Errorf("spec: dataset %q: %w", specIdent(m), err)
	}
	shapes, err := ParseShapes(m["shape"])
	if err != nil {
		return nil, fmt.Errorf("spec: dataset %q: %w", specIdent(m), err)
	}
	dims, err := ParseDims(m["dims"])
	if err != nil {
		return nil, fmt.Errorf("spec: dataset %q: %w", specIdent(m), err)
	}
	d, err := NewDatasetSpec(DatasetSpecConfig{
		Name:        cfg.name,
		DefaultName: cfg.defaultName,
		Doc:         cfg.doc,
		DataTypeDef: cfg.def,
		DataTypeInc: cfg.inc,
		Dtype:       dtype,
		Shapes:      shapes,
		Dims:        dims,
		Quantity:    cfg.quantity,
		Linkable:    cfg.linkable,
	})
	if err != nil {
		return nil, err
	}
	if err := addAttributes(d.AddAttribute, m); err != nil {
		return nil, fmt.Errorf("spec: dataset %q: %w", specIdent(m), err)
	}
	return d, resolveIfIncluded(d, cfg, resolve)
}

// BuildGroupSpec parses one decoded group declaration, recursing into child
// groups, datasets, and links.
func BuildGroupSpec(m map[string]any, resolve IncludeResolver) (*GroupSpec, error) {
	cfg, err := storageConfig(m)
	if err != nil {
		return nil, err
	}
	g, err := NewGroupSpec(GroupSpecConfig{
		Name:        cfg.name,
		DefaultName: cfg.defaultName,
		Doc:         cfg.doc,
		DataTypeDef: cfg.def,
		DataTypeInc: cfg.inc,
		Quantity:    cfg.quantity,
		Linkable:    cfg.linkable,
	})
	if err != nil {
		return nil, err
	}
	if err := addAttributes(g.AddAttribute, m); err != nil {
		return nil, fmt.Errorf("spec: group %q: %w", specIdent(m), err)
	}
	for _, cv := range anyList(m["groups"]) {
		cm, ok := cv.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("spec: group %q: child group must be a map", specIdent(m))
		}
		child, err := BuildGroupSpec(cm, resolve)
		if err != nil {
			return nil, err
		}
		if err := g.AddGroup(child); err != nil {
			return nil, err
		}
	}
	for _, cv := range anyList(m["datasets"]) {
		cm, ok := cv.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("spec: group %q: child dataset must be a map", specIdent(m))
		}
		child, err := BuildDatasetSpec(cm, resolve)
		if err != nil {
			return nil, err
		}
		if err := g.AddDataset(child); err != nil {
			return nil, err
		}
	}
	for _, cv := range anyList(m["links"]) {
		cm, ok := cv.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("spec: group %q: child link must be a map", specIdent(m))
		}
		child, err := BuildLinkSpec(cm)
		if err != nil {
			return nil, err
		}
		if err := g.AddLink(child); err != nil {
			return nil, err
		}
	}
	return g, resolveIfIncluded(g, cfg, resolve)
}

// BuildLinkSpec parses one decoded link declaration.
func BuildLinkSpec(m map[string]any) (*LinkSpec, error) {
	name, _ := m["name"].(string)
	doc, _ := m["doc"].(string)
	target, _ := m["target_type"].(string)
	q, err := ParseQuantity(m["quantity"])
	if err != nil {
		return nil, fmt.Errorf("spec: link %q: %w", name, err)
	}
	return NewLinkSpec(name, doc, target, q)
}

type storageCfg struct {
	name        string
	defaultName string
	doc         string
	def         string
	inc         string
	quantity    Quantity
	linkable    bool
}

func storageConfig(m map[string]any) (storageCfg, error) {
	var cfg storageCfg
	cfg.name, _ = m["name"].(string)
	cfg.defaultName, _ = m["default_name"].(string)
	cfg.doc, _ = m["doc"].(string)
	cfg.def, _ = m[DefKey].(string)
	cfg.inc, _ = m[IncKey].(string)
	q, err := ParseQuantity(m["quantity"])
	if err != nil {
		return cfg, fmt.Errorf("spec: %q: %w", specIdent(m), err)
	}
	cfg.quantity = q
	cfg.linkable, _ = m["linkable"].(bool)
	return cfg, nil
}

func addAttributes(add func(*AttributeSpec) error, m map[string]any) error {
	for _, av := range anyList(m["attributes"]) {
		am, ok := av.(map[string]any)
		if !ok {
			return fmt.Errorf("attribute must be a map, got %T", av)
		}
		a, err := BuildAttributeSpec(am)
		if err != nil {
			return err
		}
		if err := add(a); err != nil {
			return err
		}
	}
	return nil
}

func resolveIfIncluded(s StorageSpec, cfg storageCfg, resolve IncludeResolver) error {
	if cfg.inc == "" || cfg.def == "" || resolve == nil {
		return nil
	}
	parent, err := resolve(cfg.inc)
	if err != nil {
		return fmt.Errorf("spec: type %q: %w", cfg.def, err)
	}
	return s.ResolveInclude(parent)
}

func anyList(v any) []any {
	list, _ := v.([]any)
	return list
}

func specIdent(m map[string]any) string {
	if n, _ := m["name"].(string); n != "" {
		return n
	}
	if d, _ := m[DefKey].(string); d != "" {
		return d
	}
	if i, _ := m[IncKey].(string); i != "" {
		return i
	}
	return "<unnamed>"
}
