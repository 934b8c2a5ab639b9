package spec

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Unversioned is the version sentinel for namespaces declared without one.
const Unversioned = "unversioned"

// SchemaEntry is one entry of a namespace's schema list: either a spec
// source file belonging to this namespace, or an inclusion of types from
// another namespace. Types narrows either form to the listed types.
type SchemaEntry struct {
	Source    string
	Namespace string
	Types     []string
}

// SpecNamespace is one loaded namespace: its descriptor fields plus a
// catalog of every type reachable through it, including types spliced in
// from the namespaces it depends on.
type SpecNamespace struct {
	name     string
	doc      string
	fullName string
	version  string
	date     string
	authors  []string
	contacts []string
	schema   []SchemaEntry
	catalog  *SpecCatalog
}

// NewSpecNamespace creates a namespace over an existing catalog, for
// building schemas programmatically. An empty version gets the Unversioned
// sentinel; a nil catalog gets a fresh one.
func NewSpecNamespace(name, doc, version string, catalog *SpecCatalog) *SpecNamespace {
	if version == "" {
		version = Unversioned
	}
	if catalog == nil {
		catalog = NewSpecCatalog()
	}
	return &SpecNamespace{name: name, doc: doc, version: version, catalog: catalog}
}

// Name returns the namespace name.
func (n *SpecNamespace) Name() string { return n.name }

// Doc returns the namespace description.
func (n *SpecNamespace) Doc() string { return n.doc }

// FullName returns the long-form name, falling back to the name.
func (n *SpecNamespace) FullName() string {
	if n.fullName != "" {
		return n.fullName
	}
	return n.name
}

// Version returns the declared version, or the Unversioned sentinel.
func (n *SpecNamespace) Version() string { return n.version }

// Date returns the declared release date, if any.
func (n *SpecNamespace) Date() string { return n.date }

// Authors returns the declared authors.
func (n *SpecNamespace) Authors() []string { return n.authors }

// Contacts returns the declared contact addresses.
func (n *SpecNamespace) Contacts() []string { return n.contacts }

// Schema returns the namespace's schema entries in declaration order.
func (n *SpecNamespace) Schema() []SchemaEntry { return n.schema }

// Catalog returns the namespace's spec catalog.
func (n *SpecNamespace) Catalog() *SpecCatalog { return n.catalog }

// GetSpec returns the spec registered for a type in this namespace, or an
// error naming the namespace.
func (n *SpecNamespace) GetSpec(dataType string) (StorageSpec, error) {
	s := n.catalog.GetSpec(dataType)
	if s == nil {
		return nil, fmt.Errorf("spec: no type %q in namespace %q", dataType, n.name)
	}
	return s, nil
}

// SpecReader supplies decoded namespace and spec documents. The built-in
// implementation reads YAML and JSON files relative to the namespace file;
// tests substitute an in-memory reader.
type SpecReader interface {
	// ReadNamespace returns the namespace declarations of a namespace
	// document, in declaration order.
	ReadNamespace(path string) ([]map[string]any, error)
	// ReadSpec returns the decoded body of one spec source.
	ReadSpec(path string) (map[string]any, error)
	// Source identifies where this reader reads from, for bookkeeping.
	Source() string
}

// FileSpecReader reads namespace and spec documents from the filesystem,
// resolving spec sources relative to the namespace file's directory. YAML
// and JSON sources are both accepted, chosen by file extension.
type FileSpecReader struct {
	dir string
}

// NewFileSpecReader creates a reader anchored at the namespace file's
// directory.
func NewFileSpecReader(nsPath string) *FileSpecReader {
	return &FileSpecReader{dir: filepath.Dir(nsPath)}
}

// Source implements SpecReader.
func (r *FileSpecReader) Source() string { return r.dir }

// ReadNamespace implements SpecReader.
func (r *FileSpecReader) ReadNamespace(path string) ([]map[string]any, error) {
	doc, err := r.readDoc(path)
	if err != nil {
		return nil, err
	}
	raw, ok := doc["namespaces"].([]any)
	if !ok {
		return nil, fmt.Errorf("spec: %s: missing namespaces list", path)
	}
	out := make([]map[string]any, 0, len(raw))
	for _, v := range raw {
		m, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("spec: %s: namespace entry must be a map", path)
		}
		out = append(out, m)
	}
	return out, nil
}

// ReadSpec implements SpecReader.
func (r *FileSpecReader) ReadSpec(path string) (map[string]any, error) {
	return r.readDoc(path)
}

func (r *FileSpecReader) readDoc(path string) (map[string]any, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(r.dir, path)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("spec: read %s: %w", path, err)
	}
	var doc map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("spec: decode %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("spec: decode %s: %w", path, err)
		}
	}
	return normalizeDoc(doc), nil
}

// normalizeDoc rewrites nested map[any]any values (as older YAML decoders
// produce) into map[string]any so the parse layer sees one shape.
func normalizeDoc(m map[string]any) map[string]any {
	for k, v := range m {
		m[k] = normalizeValue(v)
	}
	return m
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return normalizeDoc(t)
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[fmt.Sprint(k)] = normalizeValue(vv)
		}
		return out
	case []any:
		for i, vv := range t {
			t[i] = normalizeValue(vv)
		}
		return t
	default:
		return v
	}
}

// NamespaceCatalog holds every loaded namespace and remembers which files
// have been loaded so repeat loads are cheap no-ops.
type NamespaceCatalog struct {
	namespaces map[string]*SpecNamespace
	loaded     map[string]map[string][]string
	log        zerolog.Logger
}

// NewNamespaceCatalog creates an empty catalog.
func NewNamespaceCatalog(log zerolog.Logger) *NamespaceCatalog {
	return &NamespaceCatalog{
		namespaces: map[string]*SpecNamespace{},
		loaded:     map[string]map[string][]string{},
		log:        log,
	}
}

// Namespaces returns the loaded namespace names, sorted.
func (c *NamespaceCatalog) Namespaces() []string {
	out := make([]string, 0, len(c.namespaces))
	for n := range c.namespaces {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// AddNamespace registers a programmatically built namespace.
func (c *NamespaceCatalog) AddNamespace(ns *SpecNamespace) error {
	if prev, ok := c.namespaces[ns.name]; ok && prev != ns {
		return fmt.Errorf("spec: namespace %q already loaded", ns.name)
	}
	c.namespaces[ns.name] = ns
	return nil
}

// GetNamespace returns a loaded namespace, or an error.
func (c *NamespaceCatalog) GetNamespace(name string) (*SpecNamespace, error) {
	n, ok := c.namespaces[name]
	if !ok {
		return nil, fmt.Errorf("spec: namespace %q is not loaded", name)
	}
	return n, nil
}

// GetSpec returns the spec for a type in a namespace.
func (c *NamespaceCatalog) GetSpec(namespace, dataType string) (StorageSpec, error) {
	n, err := c.GetNamespace(namespace)
	if err != nil {
		return nil, err
	}
	return n.GetSpec(dataType)
}

// GetHierarchy returns a type's ancestor chain within a namespace.
func (c *NamespaceCatalog) GetHierarchy(namespace, dataType string) ([]string, error) {
	n, err := c.GetNamespace(namespace)
	if err != nil {
		return nil, err
	}
	return n.catalog.GetHierarchy(dataType)
}

// LoadNamespaces loads every namespace declared in the given namespace
// document. Namespaces in one document may depend on each other in any
// declaration order; dependency cycles are rejected. It returns, per
// namespace, the types it registered. Loading the same path again returns
// the cached result.
func (c *NamespaceCatalog) LoadNamespaces(path string, reader SpecReader) (map[string][]string, error) {
	if prev, ok := c.loaded[path]; ok {
		c.log.Debug().Str("path", path).Msg("namespace document already loaded")
		return prev, nil
	}
	if reader == nil {
		reader = NewFileSpecReader(path)
	}
	decls, err := reader.ReadNamespace(path)
	if err != nil {
		return nil, err
	}
	ordered, err := orderByDependency(decls)
	if err != nil {
		return nil, err
	}
	result := map[string][]string{}
	for _, decl := range ordered {
		ns, types, err := c.loadOne(decl, reader)
		if err != nil {
			return nil, err
		}
		if ns == nil {
			continue
		}
		result[ns.name] = types
	}
	c.loaded[path] = result
	return result, nil
}

// orderByDependency sorts namespace declarations so that every namespace a
// declaration includes from appears before it. External dependencies (not
// declared in this document) are left to the already-loaded check.
func orderByDependency(decls []map[string]any) ([]map[string]any, error) {
	index := map[string]int{}
	for i, d := range decls {
		if name, _ := d["name"].(string); name != "" {
			index[name] = i
		}
	}
	const (
		white = iota
		gray
		black
	)
	color := make([]int, len(decls))
	ordered := make([]map[string]any, 0, len(decls))
	var visit func(i int) error
	visit = func(i int) error {
		switch color[i] {
		case black:
			return nil
		case gray:
			name, _ := decls[i]["name"].(string)
			return fmt.Errorf("spec: namespace dependency cycle through %q", name)
		}
		color[i] = gray
		for _, sv := range anyList(decls[i]["schema"]) {
			sm, _ := sv.(map[string]any)
			dep, _ := sm["namespace"].(string)
			if dep == "" {
				continue
			}
			if j, ok := index[dep]; ok {
				if err := visit(j); err != nil {
					return err
				}
			}
		}
		color[i] = black
		ordered = append(ordered, decls[i])
		return nil
	}
	for i := range decls {
		if err := visit(i); err != nil {
			return nil, err
		}
	}
	return ordered, nil
}

func (c *NamespaceCatalog) loadOne(decl map[string]any, reader SpecReader) (*SpecNamespace, []string, error) {
	name, _ := decl["name"].(string)
	if name == "" {
		return nil, nil, fmt.Errorf("spec: namespace declaration missing name")
	}
	version, _ := decl["version"].(string)
	if version == "" {
		version = Unversioned
		c.log.Warn().Str("namespace", name).Msg("namespace declared without a version")
	}
	if prev, ok := c.namespaces[name]; ok {
		if prev.version == version {
			c.log.Debug().Str("namespace", name).Str("version", version).Msg("namespace already loaded")
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("spec: namespace %q already loaded with version %q, cannot load %q",
			name, prev.version, version)
	}

	ns := &SpecNamespace{
		name:     name,
		version:  version,
		catalog:  NewSpecCatalog(),
		authors:  stringList(decl["author"]),
		contacts: stringList(decl["contact"]),
	}
	ns.doc, _ = decl["doc"].(string)
	ns.fullName, _ = decl["full_name"].(string)
	ns.date, _ = decl["date"].(string)

	resolve := func(dataType string) (StorageSpec, error) {
		s := ns.catalog.GetSpec(dataType)
		if s == nil {
			return nil, fmt.Errorf("spec: included type %q is not defined in namespace %q or its dependencies",
				dataType, name)
		}
		return s, nil
	}

	var registered []string
	for _, sv := range anyList(decl["schema"]) {
		sm, ok := sv.(map[string]any)
		if !ok {
			return nil, nil, fmt.Errorf("spec: namespace %q: schema entry must be a map", name)
		}
		entry := SchemaEntry{Types: stringList(sm["data_types"])}
		entry.Source, _ = sm["source"].(string)
		entry.Namespace, _ = sm["namespace"].(string)
		ns.schema = append(ns.schema, entry)
		switch {
		case entry.Source != "":
			types, err := c.loadSource(ns, entry, reader, resolve)
			if err != nil {
				return nil, nil, err
			}
			registered = append(registered, types...)
		case entry.Namespace != "":
			if err := c.spliceNamespace(ns, entry); err != nil {
				return nil, nil, err
			}
		default:
			return nil, nil, fmt.Errorf("spec: namespace %q: schema entry needs a source or a namespace", name)
		}
	}
	c.namespaces[name] = ns
	c.log.Info().Str("namespace", name).Str("version", version).
		Int("types", len(registered)).Msg("loaded namespace")
	return ns, registered, nil
}

func (c *NamespaceCatalog) loadSource(ns *SpecNamespace, entry SchemaEntry, reader SpecReader, resolve IncludeResolver) ([]string, error) {
	doc, err := reader.ReadSpec(entry.Source)
	if err != nil {
		return nil, err
	}
	keep := func(dt string) bool {
		if len(entry.Types) == 0 {
			return true
		}
		for _, t := range entry.Types {
			if t == dt {
				return true
			}
		}
		return false
	}
	var registered []string
	for _, gv := range anyList(doc["groups"]) {
		gm, ok := gv.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("spec: %s: group entry must be a map", entry.Source)
		}
		g, err := BuildGroupSpec(gm, resolve)
		if err != nil {
			return nil, err
		}
		if dt := g.DataTypeDef(); dt != "" && keep(dt) {
			if err := ns.catalog.AutoRegister(g, entry.Source); err != nil {
				return nil, err
			}
			registered = append(registered, dt)
		}
	}
	for _, dv := range anyList(doc["datasets"]) {
		dm, ok := dv.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("spec: %s: dataset entry must be a map", entry.Source)
		}
		d, err := BuildDatasetSpec(dm, resolve)
		if err != nil {
			return nil, err
		}
		if dt := d.DataTypeDef(); dt != "" && keep(dt) {
			if err := ns.catalog.AutoRegister(d, entry.Source); err != nil {
				return nil, err
			}
			registered = append(registered, dt)
		}
	}
	return registered, nil
}

// spliceNamespace copies types from an already-loaded namespace into the
// namespace being built, preserving per-type source bookkeeping.
func (c *NamespaceCatalog) spliceNamespace(ns *SpecNamespace, entry SchemaEntry) error {
	dep, ok := c.namespaces[entry.Namespace]
	if !ok {
		return fmt.Errorf("spec: namespace %q depends on %q, which is not loaded",
			ns.name, entry.Namespace)
	}
	types := entry.Types
	if len(types) == 0 {
		types = dep.catalog.GetRegisteredTypes()
	}
	for _, dt := range types {
		s := dep.catalog.GetSpec(dt)
		if s == nil {
			return fmt.Errorf("spec: namespace %q includes type %q from %q, which does not define it",
				ns.name, dt, entry.Namespace)
		}
		// Pull ancestors first so hierarchy queries work in this namespace.
		chain, err := dep.catalog.GetHierarchy(dt)
		if err != nil {
			return err
		}
		for i := len(chain) - 1; i >= 0; i-- {
			a := dep.catalog.GetSpec(chain[i])
			if a == nil {
				continue
			}
			if err := ns.catalog.RegisterSpec(a, dep.catalog.GetSpecSourceFile(chain[i])); err != nil {
				return err
			}
		}
	}
	return nil
}

func stringList(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return []string{t}
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
