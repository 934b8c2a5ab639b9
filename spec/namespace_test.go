package spec_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/loamdata/loam/spec"
)

// memReader serves namespace and spec documents from memory.
type memReader struct {
	namespaces map[string][]map[string]any
	specs      map[string]map[string]any
}

func (r *memReader) ReadNamespace(path string) ([]map[string]any, error) {
	ns, ok := r.namespaces[path]
	if !ok {
		return nil, fmt.Errorf("no namespace document %q", path)
	}
	return ns, nil
}

func (r *memReader) ReadSpec(path string) (map[string]any, error) {
	doc, ok := r.specs[path]
	if !ok {
		return nil, fmt.Errorf("no spec document %q", path)
	}
	return doc, nil
}

func (r *memReader) Source() string { return "memory" }

func barFooReader() *memReader {
	return &memReader{
		namespaces: map[string][]map[string]any{
			"test.namespace.yaml": {
				{
					"name":    "test",
					"doc":     "test namespace",
					"version": "0.1.0",
					"author":  "somebody",
					"schema":  []any{map[string]any{"source": "test.types.yaml"}},
				},
			},
		},
		specs: map[string]map[string]any{
			"test.types.yaml": {
				"groups": []any{
					map[string]any{
						"data_type_def": "Bar",
						"doc":           "a bar",
						"attributes": []any{
							map[string]any{"name": "attr1", "doc": "a string attribute", "dtype": "text"},
						},
						"datasets": []any{
							map[string]any{"name": "data", "doc": "payload", "dtype": "int"},
						},
					},
					map[string]any{
						"data_type_def": "Foo",
						"doc":           "holds bars",
						"groups": []any{
							map[string]any{"data_type_inc": "Bar", "doc": "contained bars", "quantity": "*"},
						},
					},
				},
			},
		},
	}
}

func TestLoadNamespaces_RegistersTypes(t *testing.T) {
	cat := spec.NewNamespaceCatalog(zerolog.Nop())
	got, err := cat.LoadNamespaces("test.namespace.yaml", barFooReader())
	if err != nil {
		t.Fatalf("LoadNamespaces: %v", err)
	}
	types := got["test"]
	if len(types) != 2 {
		t.Fatalf("expected 2 registered types, got %v", types)
	}
	ns, err := cat.GetNamespace("test")
	if err != nil {
		t.Fatalf("GetNamespace: %v", err)
	}
	if ns.Version() != "0.1.0" {
		t.Fatalf("unexpected version %q", ns.Version())
	}
	if _, err := ns.GetSpec("Foo"); err != nil {
		t.Fatalf("GetSpec(Foo): %v", err)
	}
	if _, err := ns.GetSpec("Qux"); err == nil {
		t.Fatalf("expected error for unknown type")
	}
	// Loading the same document again is a cached no-op.
	again, err := cat.LoadNamespaces("test.namespace.yaml", barFooReader())
	if err != nil {
		t.Fatalf("second LoadNamespaces: %v", err)
	}
	if len(again["test"]) != 2 {
		t.Fatalf("expected cached result, got %v", again)
	}
}

func TestLoadNamespaces_UnversionedSentinel(t *testing.T) {
	r := barFooReader()
	delete(r.namespaces["test.namespace.yaml"][0], "version")
	cat := spec.NewNamespaceCatalog(zerolog.Nop())
	if _, err := cat.LoadNamespaces("test.namespace.yaml", r); err != nil {
		t.Fatalf("LoadNamespaces: %v", err)
	}
	ns, _ := cat.GetNamespace("test")
	if ns.Version() != spec.Unversioned {
		t.Fatalf("expected %q sentinel, got %q", spec.Unversioned, ns.Version())
	}
}

func TestLoadNamespaces_DependencyOrderWithinDocument(t *testing.T) {
	r := barFooReader()
	// The extension is declared before its dependency in the document.
	r.namespaces["ext.namespace.yaml"] = []map[string]any{
		{
			"name":    "ext",
			"doc":     "extends test",
			"version": "0.2.0",
			"schema": []any{
				map[string]any{"namespace": "test", "data_types": []any{"Bar"}},
				map[string]any{"source": "ext.types.yaml"},
			},
		},
		r.namespaces["test.namespace.yaml"][0],
	}
	r.specs["ext.types.yaml"] = map[string]any{
		"groups": []any{
			map[string]any{"data_type_def": "BigBar", "data_type_inc": "Bar", "doc": "a bigger bar"},
		},
	}
	cat := spec.NewNamespaceCatalog(zerolog.Nop())
	if _, err := cat.LoadNamespaces("ext.namespace.yaml", r); err != nil {
		t.Fatalf("LoadNamespaces: %v", err)
	}
	ext, err := cat.GetNamespace("ext")
	if err != nil {
		t.Fatalf("GetNamespace(ext): %v", err)
	}
	if _, err := ext.GetSpec("Bar"); err != nil {
		t.Fatalf("expected Bar to be spliced into ext: %v", err)
	}
	chain, err := cat.GetHierarchy("ext", "BigBar")
	if err != nil {
		t.Fatalf("GetHierarchy: %v", err)
	}
	if len(chain) != 2 || chain[1] != "Bar" {
		t.Fatalf("unexpected hierarchy %v", chain)
	}
}

func TestLoadNamespaces_RejectsDependencyCycle(t *testing.T) {
	r := &memReader{
		namespaces: map[string][]map[string]any{
			"cycle.namespace.yaml": {
				{"name": "a", "doc": "a", "version": "1", "schema": []any{map[string]any{"namespace": "b"}}},
				{"name": "b", "doc": "b", "version": "1", "schema": []any{map[string]any{"namespace": "a"}}},
			},
		},
	}
	cat := spec.NewNamespaceCatalog(zerolog.Nop())
	_, err := cat.LoadNamespaces("cycle.namespace.yaml", r)
	if err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("expected dependency cycle error, got %v", err)
	}
}

func TestLoadNamespaces_MissingDependency(t *testing.T) {
	r := &memReader{
		namespaces: map[string][]map[string]any{
			"dangling.namespace.yaml": {
				{"name": "d", "doc": "d", "version": "1", "schema": []any{map[string]any{"namespace": "nowhere"}}},
			},
		},
	}
	cat := spec.NewNamespaceCatalog(zerolog.Nop())
	_, err := cat.LoadNamespaces("dangling.namespace.yaml", r)
	if err == nil || !strings.Contains(err.Error(), "not loaded") {
		t.Fatalf("expected missing dependency error, got %v", err)
	}
}

func TestLoadNamespaces_VersionConflict(t *testing.T) {
	cat := spec.NewNamespaceCatalog(zerolog.Nop())
	if _, err := cat.LoadNamespaces("test.namespace.yaml", barFooReader()); err != nil {
		t.Fatalf("LoadNamespaces: %v", err)
	}
	r := barFooReader()
	r.namespaces["test2.namespace.yaml"] = []map[string]any{
		{
			"name":    "test",
			"doc":     "same name, different version",
			"version": "0.9.0",
			"schema":  []any{map[string]any{"source": "test.types.yaml"}},
		},
	}
	_, err := cat.LoadNamespaces("test2.namespace.yaml", r)
	if err == nil || !strings.Contains(err.Error(), "already loaded") {
		t.Fatalf("expected version conflict error, got %v", err)
	}
}

func TestExportGroup_ExcludesInheritedDeclarations(t *testing.T) {
	cat := spec.NewNamespaceCatalog(zerolog.Nop())
	r := barFooReader()
	r.specs["test.types.yaml"]["groups"] = append(
		r.specs["test.types.yaml"]["groups"].([]any),
		map[string]any{
			"data_type_def": "FancyBar",
			"data_type_inc": "Bar",
			"doc":           "bar with extras",
			"attributes": []any{
				map[string]any{"name": "attr2", "doc": "extra", "dtype": "float"},
			},
		},
	)
	if _, err := cat.LoadNamespaces("test.namespace.yaml", r); err != nil {
		t.Fatalf("LoadNamespaces: %v", err)
	}
	ns, _ := cat.GetNamespace("test")
	st, _ := ns.GetSpec("FancyBar")
	doc := spec.ExportGroup(st.(*spec.GroupSpec))
	raw, err := spec.MarshalDoc(doc, "yaml")
	if err != nil {
		t.Fatalf("MarshalDoc: %v", err)
	}
	out := string(raw)
	if !strings.Contains(out, "attr2") {
		t.Fatalf("expected own attribute in export:\n%s", out)
	}
	if strings.Contains(out, "attr1") {
		t.Fatalf("inherited attribute must not be exported:\n%s", out)
	}
	// Deterministic output: marshalling twice yields identical bytes.
	raw2, _ := spec.MarshalDoc(spec.ExportGroup(st.(*spec.GroupSpec)), "yaml")
	if string(raw2) != out {
		t.Fatalf("export is not deterministic")
	}
}
