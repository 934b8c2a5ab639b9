package spec

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// Doc is an order-preserving document node. Schema documents are exported
// through Doc so that YAML and JSON output is deterministic and a
// load-then-write cycle is byte stable.
type Doc struct {
	keys []string
	vals map[string]any
}

// NewDoc creates an empty document node.
func NewDoc() *Doc {
	return &Doc{vals: map[string]any{}}
}

// Set appends or replaces a key. Nil values are skipped.
func (d *Doc) Set(key string, v any) *Doc {
	if v == nil {
		return d
	}
	if _, ok := d.vals[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.vals[key] = v
	return d
}

// Get returns a key's value, or nil.
func (d *Doc) Get(key string) any { return d.vals[key] }

// MarshalJSON emits keys in insertion order.
func (d *Doc) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range d.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(d.vals[k])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalYAML emits keys in insertion order.
func (d *Doc) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, k := range d.keys {
		kn := &yaml.Node{}
		if err := kn.Encode(k); err != nil {
			return nil, err
		}
		vn := &yaml.Node{}
		if err := vn.Encode(d.vals[k]); err != nil {
			return nil, err
		}
		node.Content = append(node.Content, kn, vn)
	}
	return node, nil
}

// ExportDtype renders a dtype in schema-source form.
func ExportDtype(dt Dtype) any {
	switch {
	case dt.IsZero():
		return nil
	case dt.IsRef():
		return NewDoc().
			Set("target_type", dt.Ref.TargetType).
			Set("reftype", dt.Ref.RefType)
	case dt.IsCompound():
		out := make([]any, 0, len(dt.Compound))
		for _, m := range dt.Compound {
			d := NewDoc().Set("name", m.Name)
			if m.Doc != "" {
				d.Set("doc", m.Doc)
			}
			d.Set("dtype", ExportDtype(m.Dtype))
			out = append(out, d)
		}
		return out
	default:
		return dt.Name
	}
}

func exportShapes(shapes []Shape) any {
	if shapes == nil {
		return nil
	}
	one := func(s Shape) []any {
		out := make([]any, len(s))
		for i, d := range s {
			if d == ShapeWildcard {
				out[i] = nil
			} else {
				out[i] = d
			}
		}
		return out
	}
	if len(shapes) == 1 {
		return one(shapes[0])
	}
	out := make([]any, len(shapes))
	for i, s := range shapes {
		out[i] = one(s)
	}
	return out
}

func exportDims(dims [][]string) any {
	if dims == nil {
		return nil
	}
	if len(dims) == 1 {
		out := make([]any, len(dims[0]))
		for i, n := range dims[0] {
			out[i] = n
		}
		return out
	}
	out := make([]any, len(dims))
	for i, names := range dims {
		inner := make([]any, len(names))
		for j, n := range names {
			inner[j] = n
		}
		out[i] = inner
	}
	return out
}

// ExportAttribute renders an attribute spec in schema-source form.
func ExportAttribute(a *AttributeSpec) *Doc {
	d := NewDoc().Set("name", a.SpecName())
	if a.Doc() != "" {
		d.Set("doc", a.Doc())
	}
	d.Set("dtype", ExportDtype(a.Dtype()))
	d.Set("shape", exportShapes(a.Shapes()))
	d.Set("dims", exportDims(a.Dims()))
	if !a.Required() {
		d.Set("required", false)
	}
	d.Set("value", a.Value())
	d.Set("default_value", a.DefaultValue())
	return d
}

func exportStorageHead(d *Doc, s *storageSpec) {
	if s.def != "" {
		d.Set(DefKey, s.def)
	}
	if s.inc != "" {
		d.Set(IncKey, s.inc)
	}
	if s.name != NameWildcard {
		d.Set("name", s.name)
	}
	if s.defaultName != "" {
		d.Set("default_name", s.defaultName)
	}
	if s.doc != "" {
		d.Set("doc", s.doc)
	}
	if s.quantity != QuantityOne {
		d.Set("quantity", s.quantity.Export())
	}
	if s.linkable {
		d.Set("linkable", true)
	}
}

func exportAttrs(d *Doc, s *storageSpec) {
	var out []any
	for _, a := range s.attributes {
		if s.inheritedAttr[a.SpecName()] {
			continue
		}
		out = append(out, ExportAttribute(a))
	}
	if len(out) > 0 {
		d.Set("attributes", out)
	}
}

// ExportDataset renders a dataset spec in schema-source form, excluding
// declarations spliced in from an included parent type.
func ExportDataset(ds *DatasetSpec) *Doc {
	d := NewDoc()
	exportStorageHead(d, &ds.storageSpec)
	d.Set("dtype", ExportDtype(ds.dtype))
	d.Set("shape", exportShapes(ds.shapes))
	d.Set("dims", exportDims(ds.dims))
	exportAttrs(d, &ds.storageSpec)
	return d
}

// ExportLink renders a link spec in schema-source form.
func ExportLink(l *LinkSpec) *Doc {
	d := NewDoc()
	if l.SpecName() != NameWildcard {
		d.Set("name", l.SpecName())
	}
	if l.Doc() != "" {
		d.Set("doc", l.Doc())
	}
	d.Set("target_type", l.TargetType())
	if l.Quantity() != QuantityOne {
		d.Set("quantity", l.Quantity().Export())
	}
	return d
}

// ExportGroup renders a group spec in schema-source form, excluding
// declarations spliced in from an included parent type.
func ExportGroup(g *GroupSpec) *Doc {
	d := NewDoc()
	exportStorageHead(d, &g.storageSpec)
	exportAttrs(d, &g.storageSpec)
	var groups, datasets, links []any
	for _, c := range g.groups {
		if dt := c.DataType(); dt != "" && g.inheritedType[dt] {
			continue
		}
		if g.IsInheritedChild(c.SpecName()) {
			continue
		}
		groups = append(groups, ExportGroup(c))
	}
	for _, c := range g.datasets {
		if dt := c.DataType(); dt != "" && g.inheritedType[dt] {
			continue
		}
		if g.IsInheritedChild(c.SpecName()) {
			continue
		}
		datasets = append(datasets, ExportDataset(c))
	}
	for _, c := range g.links {
		if g.inheritedType[c.TargetType()] {
			continue
		}
		links = append(links, ExportLink(c))
	}
	if len(groups) > 0 {
		d.Set("groups", groups)
	}
	if len(datasets) > 0 {
		d.Set("datasets", datasets)
	}
	if len(links) > 0 {
		d.Set("links", links)
	}
	return d
}

// ExportNamespace renders a namespace descriptor in namespace-document form.
func ExportNamespace(ns *SpecNamespace) *Doc {
	d := NewDoc().Set("name", ns.name)
	if ns.fullName != "" {
		d.Set("full_name", ns.fullName)
	}
	if ns.doc != "" {
		d.Set("doc", ns.doc)
	}
	d.Set("version", ns.version)
	if ns.date != "" {
		d.Set("date", ns.date)
	}
	if len(ns.authors) > 0 {
		d.Set("author", toAnyList(ns.authors))
	}
	if len(ns.contacts) > 0 {
		d.Set("contact", toAnyList(ns.contacts))
	}
	var schema []any
	for _, e := range ns.schema {
		ed := NewDoc()
		if e.Source != "" {
			ed.Set("source", e.Source)
		}
		if e.Namespace != "" {
			ed.Set("namespace", e.Namespace)
		}
		if len(e.Types) > 0 {
			ed.Set("data_types", toAnyList(e.Types))
		}
		schema = append(schema, ed)
	}
	d.Set("schema", schema)
	return d
}

func toAnyList(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

// MarshalDoc encodes a document node by format: "json" or "yaml".
func MarshalDoc(doc any, format string) ([]byte, error) {
	switch format {
	case "json":
		raw, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(raw, '\n'), nil
	case "yaml", "yml", "":
		return yaml.Marshal(doc)
	default:
		return nil, fmt.Errorf("spec: unsupported format %q", format)
	}
}

// NamespaceWriter writes a namespace and its spec sources back to disk in a
// deterministic form. Loading the written files yields the same specs, and
// writing those again yields identical bytes.
type NamespaceWriter struct {
	// Dir is the output directory for the namespace file and every source.
	Dir string
}

// WriteNamespace writes the namespace document and one file per schema
// source, using each file's extension to pick YAML or JSON.
func (w *NamespaceWriter) WriteNamespace(ns *SpecNamespace, nsFile string) error {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return fmt.Errorf("spec: %w", err)
	}
	bySource := map[string][]string{}
	for _, dt := range ns.catalog.GetRegisteredTypes() {
		src := ns.catalog.GetSpecSourceFile(dt)
		if src == "" {
			continue
		}
		bySource[src] = append(bySource[src], dt)
	}
	sources := make([]string, 0, len(bySource))
	for src := range bySource {
		sources = append(sources, src)
	}
	sort.Strings(sources)
	for _, src := range sources {
		if err := w.writeSource(ns, src, bySource[src]); err != nil {
			return err
		}
	}
	nsDoc := NewDoc().Set("namespaces", []any{ExportNamespace(ns)})
	raw, err := MarshalDoc(nsDoc, formatOf(nsFile))
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(w.Dir, nsFile), raw, 0o644)
}

func (w *NamespaceWriter) writeSource(ns *SpecNamespace, src string, types []string) error {
	var groups, datasets []any
	for _, dt := range types {
		// Only top-level definitions get a document entry; nested type
		// definitions are emitted inside their enclosing group.
		s := ns.catalog.GetSpec(dt)
		if nestedDefinition(s) {
			continue
		}
		switch t := s.(type) {
		case *GroupSpec:
			groups = append(groups, ExportGroup(t))
		case *DatasetSpec:
			datasets = append(datasets, ExportDataset(t))
		}
	}
	doc := NewDoc()
	if len(groups) > 0 {
		doc.Set("groups", groups)
	}
	if len(datasets) > 0 {
		doc.Set("datasets", datasets)
	}
	raw, err := MarshalDoc(doc, formatOf(src))
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(w.Dir, src), raw, 0o644)
}

func nestedDefinition(s StorageSpec) bool {
	for p := s.Parent(); p != nil; p = p.Parent() {
		if ps, ok := p.(StorageSpec); ok && ps.DataTypeDef() != "" {
			return true
		}
	}
	return s.Parent() != nil
}

func formatOf(path string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if ext == "" {
		return "yaml"
	}
	return ext
}
