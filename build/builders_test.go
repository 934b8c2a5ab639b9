package build_test

import (
	"testing"

	"github.com/loamdata/loam/build"
	"github.com/loamdata/loam/spec"
)

func TestGroupBuilder_DisjointChildNamespaces(t *testing.T) {
	g := build.NewGroupBuilder("root")
	if err := g.AddGroup(build.NewGroupBuilder("x")); err != nil {
		t.Fatalf("AddGroup: %v", err)
	}
	if err := g.AddDataset(build.NewDatasetBuilder("x", int64(1), spec.Dtype{})); err == nil {
		t.Fatalf("expected collision error for dataset named like a group")
	}
	if err := g.AddLink(build.NewLinkBuilder("x", build.NewGroupBuilder("t"))); err == nil {
		t.Fatalf("expected collision error for link named like a group")
	}
	g.SetAttribute("a", 1)
	if err := g.AddGroup(build.NewGroupBuilder("a")); err == nil {
		t.Fatalf("expected collision error for group named like an attribute")
	}
}

func TestBuilder_PathAndSourceInheritance(t *testing.T) {
	root := build.NewGroupBuilder("root")
	if err := root.SetSource("f.dat"); err != nil {
		t.Fatalf("SetSource: %v", err)
	}
	mid := build.NewGroupBuilder("mid")
	leaf := build.NewDatasetBuilder("leaf", int64(1), spec.Dtype{})
	if err := root.AddGroup(mid); err != nil {
		t.Fatalf("AddGroup: %v", err)
	}
	if err := mid.AddDataset(leaf); err != nil {
		t.Fatalf("AddDataset: %v", err)
	}
	if got := leaf.Path(); got != "root/mid/leaf" {
		t.Fatalf("unexpected path %q", got)
	}
	if leaf.Source() != "f.dat" {
		t.Fatalf("expected child to inherit source, got %q", leaf.Source())
	}
	if err := leaf.SetSource("g.dat"); err == nil {
		t.Fatalf("expected error reassigning source")
	}
}

func TestGroupBuilder_GetResolvesPaths(t *testing.T) {
	root := build.NewGroupBuilder("root")
	mid := build.NewGroupBuilder("mid")
	_ = root.AddGroup(mid)
	ds := build.NewDatasetBuilder("data", []int64{1, 2}, spec.Dtype{})
	_ = mid.AddDataset(ds)
	mid.SetAttribute("attr1", "v")

	if got := root.Get("mid/data"); got != ds {
		t.Fatalf("expected dataset, got %v", got)
	}
	if got := root.Get("mid/attr1"); got != "v" {
		t.Fatalf("expected attribute value, got %v", got)
	}
	if got := root.Get("mid/none"); got != nil {
		t.Fatalf("expected nil for missing path, got %v", got)
	}
	if got := root.Get("mid"); got != mid {
		t.Fatalf("expected group, got %v", got)
	}
}

func TestDatasetBuilder_DataSetOnce(t *testing.T) {
	d := build.NewDatasetBuilder("d", nil, spec.Dtype{})
	if err := d.SetData(int64(1)); err != nil {
		t.Fatalf("SetData: %v", err)
	}
	if err := d.SetData(int64(2)); err == nil {
		t.Fatalf("expected error replacing dataset data")
	}
}

func TestBuilder_WrittenIsMonotonic(t *testing.T) {
	g := build.NewGroupBuilder("g")
	if g.Written() {
		t.Fatalf("fresh builder must not be written")
	}
	g.MarkWritten()
	if !g.Written() {
		t.Fatalf("expected written after MarkWritten")
	}
	// Children added to a written group are treated as written.
	child := build.NewGroupBuilder("c")
	_ = g.AddGroup(child)
	if !child.Written() {
		t.Fatalf("expected child of written group to inherit written state")
	}
}

func TestGroupBuilder_DeepUpdateMergesRecursively(t *testing.T) {
	a := build.NewGroupBuilder("root")
	aSub := build.NewGroupBuilder("shared")
	_ = a.AddGroup(aSub)
	_ = aSub.AddDataset(build.NewDatasetBuilder("left", int64(1), spec.Dtype{}))

	b := build.NewGroupBuilder("root")
	bSub := build.NewGroupBuilder("shared")
	_ = b.AddGroup(bSub)
	_ = bSub.AddDataset(build.NewDatasetBuilder("right", int64(2), spec.Dtype{}))
	b.SetAttribute("attr1", "v")

	if err := a.DeepUpdate(b); err != nil {
		t.Fatalf("DeepUpdate: %v", err)
	}
	if a.Group("shared").Dataset("left") == nil || a.Group("shared").Dataset("right") == nil {
		t.Fatalf("expected both datasets after merge")
	}
	if a.Attribute("attr1") != "v" {
		t.Fatalf("expected attribute to be merged")
	}
}

func TestGroupBuilder_IsEmptyIgnoresReservedAttributes(t *testing.T) {
	g := build.NewGroupBuilder("g")
	g.SetAttribute(spec.TypeKey, "Foo")
	g.SetAttribute(spec.NamespaceKey, "test")
	g.SetAttribute(spec.IDKey, "xyz")
	if !g.IsEmpty() {
		t.Fatalf("reserved attributes alone must leave the group empty")
	}
	g.SetAttribute("attr1", 1)
	if g.IsEmpty() {
		t.Fatalf("expected non-empty group")
	}
}
