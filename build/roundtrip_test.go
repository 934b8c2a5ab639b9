package build_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"

	"github.com/loamdata/loam"
	"github.com/loamdata/loam/build"
	"github.com/loamdata/loam/spec"
)

// memReader serves schema documents from memory.
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

// newTestTypeMap loads a namespace with a Bar group type, a Baz dataset
// type holding references to Bars, and a Foo group type containing both.
func newTestTypeMap(t *testing.T) *build.TypeMap {
	t.Helper()
	r := &memReader{
		namespaces: map[string][]map[string]any{
			"test.namespace.yaml": {
				{
					"name":    "test",
					"doc":     "test namespace",
					"version": "0.1.0",
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
						"datasets": []any{
							map[string]any{"data_type_inc": "Baz", "doc": "optional reference holder", "quantity": "?"},
						},
					},
				},
				"datasets": []any{
					map[string]any{
						"data_type_def": "Baz",
						"doc":           "a reference to a bar",
						"dtype":         map[string]any{"target_type": "Bar", "reftype": "object"},
					},
				},
			},
		},
	}
	cat := spec.NewNamespaceCatalog(zerolog.Nop())
	if _, err := cat.LoadNamespaces("test.namespace.yaml", r); err != nil {
		t.Fatalf("LoadNamespaces: %v", err)
	}
	return build.NewTypeMap(cat, zerolog.Nop())
}

func newBar(t *testing.T, tm *build.TypeMap, name, attr1 string, data []int32) loam.AbstractContainer {
	t.Helper()
	cls, err := tm.GetContainerClass("test", "Bar")
	if err != nil {
		t.Fatalf("GetContainerClass(Bar): %v", err)
	}
	c, err := cls.New(name, map[string]any{"attr1": attr1, "data": data})
	if err != nil {
		t.Fatalf("new Bar: %v", err)
	}
	return c
}

func newFoo(t *testing.T, tm *build.TypeMap, name string, fields map[string]any) loam.AbstractContainer {
	t.Helper()
	cls, err := tm.GetContainerClass("test", "Foo")
	if err != nil {
		t.Fatalf("GetContainerClass(Foo): %v", err)
	}
	c, err := cls.New(name, fields)
	if err != nil {
		t.Fatalf("new Foo: %v", err)
	}
	return c
}

func TestBuild_ProducesTypedBuilderTree(t *testing.T) {
	tm := newTestTypeMap(t)
	m := build.NewManager(tm, zerolog.Nop())

	bar1 := newBar(t, tm, "bar1", "hello", []int32{1, 2, 3})
	bar2 := newBar(t, tm, "bar2", "world", []int32{4, 5})
	foo := newFoo(t, tm, "foo", map[string]any{
		"bars": []loam.AbstractContainer{bar1, bar2},
	})

	b, err := m.Build(foo, build.BuildOpt{Source: "test.dat", Root: true})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	gb, ok := b.(*build.GroupBuilder)
	if !ok {
		t.Fatalf("expected group builder, got %T", b)
	}
	if got := gb.Attribute(spec.TypeKey); got != "Foo" {
		t.Fatalf("expected data_type Foo, got %v", got)
	}
	if got := gb.Attribute(spec.NamespaceKey); got != "test" {
		t.Fatalf("expected namespace test, got %v", got)
	}
	if got := gb.Attribute(spec.IDKey); got != foo.ObjectID() {
		t.Fatalf("expected object id %q, got %v", foo.ObjectID(), got)
	}
	if len(gb.Groups()) != 2 {
		t.Fatalf("expected 2 child groups, got %d", len(gb.Groups()))
	}
	barB := gb.Group("bar1")
	if barB == nil {
		t.Fatalf("expected child builder bar1")
	}
	if got := barB.Attribute("attr1"); got != "hello" {
		t.Fatalf("unexpected attr1 %v", got)
	}
	data := barB.Dataset("data")
	if data == nil {
		t.Fatalf("expected dataset 'data' under bar1")
	}
	if data.Dtype().Name != spec.DtypeInt32 {
		t.Fatalf("expected int32 dtype, got %q", data.Dtype().Name)
	}
	if data.Source() != "test.dat" {
		t.Fatalf("expected inherited source, got %q", data.Source())
	}
}

func TestBuildConstruct_RoundTripPreservesIdentity(t *testing.T) {
	tm := newTestTypeMap(t)
	m := build.NewManager(tm, zerolog.Nop())

	bar1 := newBar(t, tm, "bar1", "hello", []int32{1, 2, 3})
	foo := newFoo(t, tm, "foo", map[string]any{
		"bars": []loam.AbstractContainer{bar1},
	})
	b, err := m.Build(foo, build.BuildOpt{Source: "test.dat", Root: true})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	m2 := build.NewManager(tm, zerolog.Nop())
	got, err := m2.Construct(b)
	if err != nil {
		t.Fatalf("Construct: %v", err)
	}
	if got.Name() != "foo" {
		t.Fatalf("unexpected name %q", got.Name())
	}
	if got.ObjectID() != foo.ObjectID() {
		t.Fatalf("object id not preserved: %q vs %q", got.ObjectID(), foo.ObjectID())
	}
	if got.ContainerSource() != "test.dat" {
		t.Fatalf("unexpected source %q", got.ContainerSource())
	}
	bars := loam.MultiFieldValues(got, "bars")
	if len(bars) != 1 {
		t.Fatalf("expected 1 bar, got %d", len(bars))
	}
	gotBar := bars[0]
	if gotBar.ObjectID() != bar1.ObjectID() {
		t.Fatalf("child object id not preserved")
	}
	if gotBar.GetField("attr1") != "hello" {
		t.Fatalf("unexpected attr1 %v", gotBar.GetField("attr1"))
	}
	if gotBar.Parent() != got {
		t.Fatalf("expected constructed bar to be parented to constructed foo")
	}
	if got.Modified() {
		t.Fatalf("freshly constructed containers must not be modified")
	}
	// Constructing the same builder again returns the cached instance.
	again, err := m2.Construct(b)
	if err != nil {
		t.Fatalf("second Construct: %v", err)
	}
	if again != got {
		t.Fatalf("expected cached container on repeat construct")
	}
}

func TestBuild_ReferencesResolveRegardlessOfOrder(t *testing.T) {
	tm := newTestTypeMap(t)
	m := build.NewManager(tm, zerolog.Nop())

	bar1 := newBar(t, tm, "zz_bar", "hello", []int32{1})
	bazCls, err := tm.GetContainerClass("test", "Baz")
	if err != nil {
		t.Fatalf("GetContainerClass(Baz): %v", err)
	}
	// The reference target sorts after the referencing dataset, so the
	// target is built later.
	baz, err := bazCls.New("aa_baz", map[string]any{"data": bar1})
	if err != nil {
		t.Fatalf("new Baz: %v", err)
	}
	foo := newFoo(t, tm, "foo", map[string]any{
		"bars": []loam.AbstractContainer{bar1},
		"baz":  baz,
	})

	b, err := m.Build(foo, build.BuildOpt{Source: "test.dat", Root: true})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	gb := b.(*build.GroupBuilder)
	bazB := gb.Dataset("aa_baz")
	if bazB == nil {
		t.Fatalf("expected dataset builder for baz")
	}
	ref, ok := bazB.Data().(*build.ReferenceBuilder)
	if !ok {
		t.Fatalf("expected reference data, got %T", bazB.Data())
	}
	if ref.Target() != build.Builder(gb.Group("zz_bar")) {
		t.Fatalf("reference points at the wrong builder")
	}

	// Round trip: the constructed baz holds the same bar instance the
	// constructed foo holds.
	m2 := build.NewManager(tm, zerolog.Nop())
	got, err := m2.Construct(b)
	if err != nil {
		t.Fatalf("Construct: %v", err)
	}
	gotBaz, ok := got.GetField("baz").(loam.DataContainer)
	if !ok {
		t.Fatalf("expected baz data container, got %T", got.GetField("baz"))
	}
	bars := loam.MultiFieldValues(got, "bars")
	if len(bars) != 1 || gotBaz.Data() != bars[0] {
		t.Fatalf("expected reference to resolve to the constructed bar")
	}
}

func TestBuild_RefQueueDeadlock(t *testing.T) {
	tm := newTestTypeMap(t)
	m := build.NewManager(tm, zerolog.Nop())

	// The target bar is parented outside the tree being built and never
	// gets built itself.
	stranger, _ := loam.NewContainer("stranger")
	lost := newBar(t, tm, "lost", "x", []int32{1})
	if err := lost.SetParent(stranger); err != nil {
		t.Fatalf("SetParent: %v", err)
	}
	bazCls, _ := tm.GetContainerClass("test", "Baz")
	baz, err := bazCls.New("baz0", map[string]any{"data": lost})
	if err != nil {
		t.Fatalf("new Baz: %v", err)
	}
	foo := newFoo(t, tm, "foo", map[string]any{"baz": baz})

	_, err = m.Build(foo, build.BuildOpt{Source: "test.dat", Root: true})
	if !errors.Is(err, build.ErrRefQueueDeadlock) {
		t.Fatalf("expected ErrRefQueueDeadlock, got %v", err)
	}
	var nb *build.ReferenceTargetNotBuiltError
	if !errors.As(err, &nb) {
		t.Fatalf("expected the stalled target to be named, got %v", err)
	}
	if nb.Container.Name() != "lost" {
		t.Fatalf("expected the stalled target %q, got %q", "lost", nb.Container.Name())
	}
}

func TestBuild_OrphanReferenceTarget(t *testing.T) {
	tm := newTestTypeMap(t)
	m := build.NewManager(tm, zerolog.Nop())

	orphan := newBar(t, tm, "orphan", "x", []int32{1})
	bazCls, _ := tm.GetContainerClass("test", "Baz")
	baz, err := bazCls.New("baz0", map[string]any{"data": orphan})
	if err != nil {
		t.Fatalf("new Baz: %v", err)
	}
	foo := newFoo(t, tm, "foo", map[string]any{"baz": baz})

	_, err = m.Build(foo, build.BuildOpt{Source: "test.dat", Root: true})
	var oe *build.OrphanContainerBuildError
	if !errors.As(err, &oe) {
		t.Fatalf("expected OrphanContainerBuildError, got %v", err)
	}
}

func TestBuild_ForeignChildBecomesLink(t *testing.T) {
	tm := newTestTypeMap(t)
	m := build.NewManager(tm, zerolog.Nop())

	bar1 := newBar(t, tm, "bar1", "hello", []int32{1})
	owner := newFoo(t, tm, "owner", map[string]any{
		"bars": []loam.AbstractContainer{bar1},
	})
	if _, err := m.Build(owner, build.BuildOpt{Source: "test.dat", Root: true}); err != nil {
		t.Fatalf("Build(owner): %v", err)
	}

	// A second Foo holds the same bar, which already belongs to owner.
	borrower := newFoo(t, tm, "borrower", map[string]any{
		"bars": []loam.AbstractContainer{bar1},
	})
	b, err := m.Build(borrower, build.BuildOpt{Source: "test.dat", Root: true})
	if err != nil {
		t.Fatalf("Build(borrower): %v", err)
	}
	gb := b.(*build.GroupBuilder)
	if len(gb.Groups()) != 0 {
		t.Fatalf("foreign child must not be owned, got groups %v", gb.Groups())
	}
	links := gb.Links()
	if len(links) != 1 || links[0].Target().Name() != "bar1" {
		t.Fatalf("expected a link to bar1, got %v", links)
	}
}

func TestConstruct_LinkTargetCountsAsTypedChild(t *testing.T) {
	tm := newTestTypeMap(t)
	m := build.NewManager(tm, zerolog.Nop())

	bar1 := newBar(t, tm, "bar1", "hello", []int32{1})
	owner := newFoo(t, tm, "owner", map[string]any{
		"bars": []loam.AbstractContainer{bar1},
	})
	ob, err := m.Build(owner, build.BuildOpt{Source: "test.dat", Root: true})
	if err != nil {
		t.Fatalf("Build(owner): %v", err)
	}
	// The borrower holds the same bar, so its builder carries a link.
	borrower := newFoo(t, tm, "borrower", map[string]any{
		"bars": []loam.AbstractContainer{bar1},
	})
	bb, err := m.Build(borrower, build.BuildOpt{Source: "test.dat", Root: true})
	if err != nil {
		t.Fatalf("Build(borrower): %v", err)
	}

	m2 := build.NewManager(tm, zerolog.Nop())
	gotOwner, err := m2.Construct(ob)
	if err != nil {
		t.Fatalf("Construct(owner): %v", err)
	}
	gotBorrower, err := m2.Construct(bb)
	if err != nil {
		t.Fatalf("Construct(borrower): %v", err)
	}
	ownerBars := loam.MultiFieldValues(gotOwner, "bars")
	borrowerBars := loam.MultiFieldValues(gotBorrower, "bars")
	if len(borrowerBars) != 1 {
		t.Fatalf("expected the linked bar in the borrower's bars, got %d", len(borrowerBars))
	}
	if len(ownerBars) != 1 || borrowerBars[0] != ownerBars[0] {
		t.Fatalf("expected the link to resolve to the owner's constructed bar")
	}
	if gotOwner.Modified() || gotBorrower.Modified() {
		t.Fatalf("freshly constructed containers must not be modified")
	}
}

func TestManager_CacheAndPurge(t *testing.T) {
	tm := newTestTypeMap(t)
	m := build.NewManager(tm, zerolog.Nop())

	bar1 := newBar(t, tm, "bar1", "hello", []int32{1})
	foo := newFoo(t, tm, "foo", map[string]any{
		"bars": []loam.AbstractContainer{bar1},
	})
	b1, err := m.Build(foo, build.BuildOpt{Source: "test.dat", Root: true})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	b2, err := m.Build(foo, build.BuildOpt{Source: "test.dat", Root: true})
	if err != nil {
		t.Fatalf("second Build: %v", err)
	}
	if b1 != b2 {
		t.Fatalf("expected cached builder for unmodified container")
	}

	foo.SetModified(true)
	if n := m.PurgeOutdated(); n == 0 {
		t.Fatalf("expected purge to drop the modified container's builder")
	}
	if m.GetBuilder(foo) != nil {
		t.Fatalf("expected no cached builder after purge")
	}
}
