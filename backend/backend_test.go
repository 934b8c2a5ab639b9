package backend_test

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/loamdata/loam/backend"
	"github.com/loamdata/loam/build"
	"github.com/loamdata/loam/spec"
)

func newTree(t *testing.T) *build.GroupBuilder {
	t.Helper()
	root := build.NewGroupBuilder("root")
	child := build.NewGroupBuilder("child")
	if err := root.AddGroup(child); err != nil {
		t.Fatalf("AddGroup: %v", err)
	}
	ds := build.NewDatasetBuilder("data", []int32{1, 2}, spec.Dtype{Name: spec.DtypeInt32})
	if err := child.AddDataset(ds); err != nil {
		t.Fatalf("AddDataset: %v", err)
	}
	return root
}

func TestMemory_WriteReadRoundTrip(t *testing.T) {
	m := backend.NewMemory(zerolog.Nop())
	root := newTree(t)
	if err := m.Write(context.Background(), "a.dat", root); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := m.Read(context.Background(), "a.dat")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != root {
		t.Fatalf("expected the stored tree back, got %v", got)
	}
}

func TestMemory_WriteLatchesWrittenFlag(t *testing.T) {
	m := backend.NewMemory(zerolog.Nop())
	root := newTree(t)
	if err := m.Write(context.Background(), "a.dat", root); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !root.Written() {
		t.Fatalf("expected root to be marked written")
	}
	child := root.Group("child")
	if !child.Written() {
		t.Fatalf("expected child group to be marked written")
	}
	if !child.Dataset("data").Written() {
		t.Fatalf("expected dataset to be marked written")
	}
}

func TestMemory_ReadUnknownSource(t *testing.T) {
	m := backend.NewMemory(zerolog.Nop())
	if _, err := m.Read(context.Background(), "missing.dat"); !errors.Is(err, backend.ErrUnknownSource) {
		t.Fatalf("expected ErrUnknownSource, got %v", err)
	}
}

func TestMemory_WriteNeedsSource(t *testing.T) {
	m := backend.NewMemory(zerolog.Nop())
	if err := m.Write(context.Background(), "", newTree(t)); err == nil {
		t.Fatalf("expected error for empty source")
	}
}

func TestMemory_SourceConflict(t *testing.T) {
	m := backend.NewMemory(zerolog.Nop())
	first := newTree(t)
	if err := m.Write(context.Background(), "a.dat", first); err != nil {
		t.Fatalf("Write: %v", err)
	}
	// Rewriting the same tree is fine, a different tree is not.
	if err := m.Write(context.Background(), "a.dat", first); err != nil {
		t.Fatalf("rewrite of same tree: %v", err)
	}
	if err := m.Write(context.Background(), "a.dat", newTree(t)); err == nil {
		t.Fatalf("expected conflict storing a different tree under the same source")
	}
}

func TestMemory_HonorsContext(t *testing.T) {
	m := backend.NewMemory(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.Write(ctx, "a.dat", newTree(t)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, err := m.Read(ctx, "a.dat"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestMemory_SourcesSorted(t *testing.T) {
	m := backend.NewMemory(zerolog.Nop())
	for _, s := range []string{"c.dat", "a.dat", "b.dat"} {
		if err := m.Write(context.Background(), s, newTree(t)); err != nil {
			t.Fatalf("Write(%s): %v", s, err)
		}
	}
	got := m.Sources()
	want := []string{"a.dat", "b.dat", "c.dat"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
