package spec

import (
	"fmt"
	"sort"
)

// SpecCatalog stores every registered type spec, the source file each came
// from, and the inheritance hierarchy between types.
type SpecCatalog struct {
	specs       map[string]StorageSpec
	sources     map[string]string
	parents     map[string]string
	hierarchies map[string][]string
}

// NewSpecCatalog creates an empty catalog.
func NewSpecCatalog() *SpecCatalog {
	return &SpecCatalog{
		specs:       map[string]StorageSpec{},
		sources:     map[string]string{},
		parents:     map[string]string{},
		hierarchies: map[string][]string{},
	}
}

// RegisterSpec registers a type-defining spec under its data_type_def.
// Re-registering the same spec value is a no-op; registering a different
// spec under an existing type is an error.
func (c *SpecCatalog) RegisterSpec(s StorageSpec, source string) error {
	dt := s.DataTypeDef()
	if dt == "" {
		return fmt.Errorf("spec: cannot register spec without a %s", DefKey)
	}
	if prev, ok := c.specs[dt]; ok {
		if prev == s {
			return nil
		}
		return fmt.Errorf("spec: type %q already registered from %q", dt, c.sources[dt])
	}
	c.specs[dt] = s
	c.sources[dt] = source
	if inc := s.DataTypeInc(); inc != "" {
		c.parents[dt] = inc
	}
	// Any memoized hierarchy may now be extensible through this type.
	c.hierarchies = map[string][]string{}
	return nil
}

// AutoRegister registers the given spec and every non-inherited typed spec
// nested inside it, depth first so that inner definitions are available when
// the outer spec is resolved.
func (c *SpecCatalog) AutoRegister(s StorageSpec, source string) error {
	if g, ok := s.(*GroupSpec); ok {
		for _, ds := range g.Datasets() {
			if ds.DataTypeDef() != "" && !g.IsInheritedType(ds.DataTypeDef()) {
				if err := c.AutoRegister(ds, source); err != nil {
					return err
				}
			}
		}
		for _, gs := range g.Groups() {
			if gs.DataTypeDef() != "" && !g.IsInheritedType(gs.DataTypeDef()) {
				if err := c.AutoRegister(gs, source); err != nil {
					return err
				}
			}
		}
	}
	if s.DataTypeDef() != "" {
		return c.RegisterSpec(s, source)
	}
	return nil
}

// GetSpec returns the registered spec for a data type, or nil.
func (c *SpecCatalog) GetSpec(dataType string) StorageSpec {
	s, ok := c.specs[dataType]
	if !ok {
		return nil
	}
	return s
}

// GetRegisteredTypes returns all registered type names, sorted.
func (c *SpecCatalog) GetRegisteredTypes() []string {
	out := make([]string, 0, len(c.specs))
	for dt := range c.specs {
		out = append(out, dt)
	}
	sort.Strings(out)
	return out
}

// GetSpecSourceFile returns the source a type was registered from, or "".
func (c *SpecCatalog) GetSpecSourceFile(dataType string) string {
	return c.sources[dataType]
}

// GetSources returns every source file types were registered from, sorted.
func (c *SpecCatalog) GetSources() []string {
	seen := map[string]bool{}
	for _, src := range c.sources {
		if src != "" {
			seen[src] = true
		}
	}
	out := make([]string, 0, len(seen))
	for src := range seen {
		out = append(out, src)
	}
	sort.Strings(out)
	return out
}

// GetTypes returns the type names registered from one source file, sorted.
func (c *SpecCatalog) GetTypes(source string) []string {
	var out []string
	for dt, src := range c.sources {
		if src == source {
			out = append(out, dt)
		}
	}
	sort.Strings(out)
	return out
}

// GetHierarchy returns the type and its ancestors, nearest first. Computing
// a chain memoizes every suffix of it.
func (c *SpecCatalog) GetHierarchy(dataType string) ([]string, error) {
	if h, ok := c.hierarchies[dataType]; ok {
		return h, nil
	}
	if _, ok := c.specs[dataType]; !ok {
		return nil, fmt.Errorf("spec: no registered type %q", dataType)
	}
	chain := []string{dataType}
	seen := map[string]bool{dataType: true}
	for cur := dataType; ; {
		parent, ok := c.parents[cur]
		if !ok {
			break
		}
		if seen[parent] {
			return nil, fmt.Errorf("spec: inheritance cycle at type %q", parent)
		}
		seen[parent] = true
		chain = append(chain, parent)
		cur = parent
	}
	for i := range chain {
		suffix := chain[i:]
		cp := make([]string, len(suffix))
		copy(cp, suffix)
		c.hierarchies[suffix[0]] = cp
	}
	return c.hierarchies[dataType], nil
}

// GetFullHierarchy returns the whole inheritance forest as nested maps:
// roots at the top level, each type mapping to the map of its subtypes.
func (c *SpecCatalog) GetFullHierarchy() (map[string]any, error) {
	children := map[string][]string{}
	roots := []string{}
	for dt := range c.specs {
		parent, ok := c.parents[dt]
		if !ok || c.specs[parent] == nil {
			roots = append(roots, dt)
			continue
		}
		children[parent] = append(children[parent], dt)
	}
	sort.Strings(roots)
	var grow func(dt string, path map[string]bool) (map[string]any, error)
	grow = func(dt string, path map[string]bool) (map[string]any, error) {
		if path[dt] {
			return nil, fmt.Errorf("spec: inheritance cycle at type %q", dt)
		}
		path[dt] = true
		defer delete(path, dt)
		kids := children[dt]
		sort.Strings(kids)
		node := map[string]any{}
		for _, k := range kids {
			sub, err := grow(k, path)
			if err != nil {
				return nil, err
			}
			node[k] = sub
		}
		return node, nil
	}
	out := map[string]any{}
	for _, r := range roots {
		sub, err := grow(r, map[string]bool{})
		if err != nil {
			return nil, err
		}
		out[r] = sub
	}
	return out, nil
}

// GetSubtypes returns the types that inherit from the given type. With
// recursive true, transitive subtypes are included.
func (c *SpecCatalog) GetSubtypes(dataType string, recursive bool) []string {
	direct := []string{}
	for dt, parent := range c.parents {
		if parent == dataType {
			direct = append(direct, dt)
		}
	}
	sort.Strings(direct)
	if !recursive {
		return direct
	}
	out := []string{}
	for _, d := range direct {
		out = append(out, d)
		out = append(out, c.GetSubtypes(d, true)...)
	}
	sort.Strings(out)
	return out
}
