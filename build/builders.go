// Package build converts between the container object model and the
// format-agnostic builder tree: a TypeMap resolves data types to specs,
// container classes, and object mappers; a BuildManager drives whole-graph
// build and construct with identity caching and deferred reference
// resolution.
package build

import (
	"fmt"
	"sort"
	"strings"

	"github.com/loamdata/loam"
	"github.com/loamdata/loam/spec"
)

// Builder is one node of the intermediate tree handed to storage backends.
type Builder interface {
	Name() string
	// Source identifies where the builder was read from or will be written.
	Source() string
	// SetSource records the source. Settable once.
	SetSource(source string) error
	Parent() *GroupBuilder
	// Path is the '/'-joined chain of names from the root builder down to
	// this node, the root's own name included. Proxy keys and issue
	// locations use this same form on both sides of a round trip.
	Path() string
	// Written reports whether the node has been flushed by a backend.
	Written() bool
	// MarkWritten latches the written flag. It never clears.
	MarkWritten()

	base() *builderBase
}

type builderBase struct {
	name    string
	source  string
	parent  *GroupBuilder
	written bool
}

func (b *builderBase) base() *builderBase    { return b }
func (b *builderBase) Name() string          { return b.name }
func (b *builderBase) Source() string        { return b.source }
func (b *builderBase) Parent() *GroupBuilder { return b.parent }
func (b *builderBase) Written() bool         { return b.written }
func (b *builderBase) MarkWritten()          { b.written = true }

func (b *builderBase) SetSource(source string) error {
	if b.source != "" && b.source != source {
		return fmt.Errorf("build: cannot reassign source of %q from %q to %q", b.name, b.source, source)
	}
	b.source = source
	return nil
}

func (b *builderBase) Path() string {
	names := []string{b.name}
	for p := b.parent; p != nil; p = p.parent {
		names = append([]string{p.name}, names...)
	}
	return strings.Join(names, "/")
}

// Location returns the path of the builder's parent, i.e. where in the tree
// the node lives. Empty at the root.
func (b *builderBase) Location() string {
	if b.parent == nil {
		return ""
	}
	return b.parent.Path()
}

// adopt wires a child under a group: parent pointer, source inheritance,
// written-state inheritance.
func (b *builderBase) adopt(parent *GroupBuilder) {
	b.parent = parent
	if b.source == "" {
		b.source = parent.source
	}
	if parent.written {
		b.written = true
	}
}

type attributed struct {
	attributes map[string]any
}

// Attribute returns a builder attribute value, or nil.
func (a *attributed) Attribute(name string) any {
	return a.attributes[name]
}

// HasAttribute reports whether the attribute is set.
func (a *attributed) HasAttribute(name string) bool {
	_, ok := a.attributes[name]
	return ok
}

// SetAttribute sets a builder attribute. Attributes may be overwritten.
func (a *attributed) SetAttribute(name string, value any) {
	if a.attributes == nil {
		a.attributes = map[string]any{}
	}
	a.attributes[name] = value
}

// AttributeNames returns the attribute names, sorted.
func (a *attributed) AttributeNames() []string {
	out := make([]string, 0, len(a.attributes))
	for k := range a.attributes {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// GroupBuilder is the tree node for groups. Child groups, datasets, and
// links live in disjoint namespaces; a name may be used by at most one of
// them (and not by an attribute).
type GroupBuilder struct {
	builderBase
	attributed
	groups   map[string]*GroupBuilder
	datasets map[string]*DatasetBuilder
	links    map[string]*LinkBuilder
}

// NewGroupBuilder creates an empty group node.
func NewGroupBuilder(name string) *GroupBuilder {
	return &GroupBuilder{
		builderBase: builderBase{name: name},
		groups:      map[string]*GroupBuilder{},
		datasets:    map[string]*DatasetBuilder{},
		links:       map[string]*LinkBuilder{},
	}
}

func (g *GroupBuilder) nameTaken(name string) bool {
	if _, ok := g.groups[name]; ok {
		return true
	}
	if _, ok := g.datasets[name]; ok {
		return true
	}
	if _, ok := g.links[name]; ok {
		return true
	}
	return g.HasAttribute(name)
}

// AddGroup attaches a child group.
func (g *GroupBuilder) AddGroup(child *GroupBuilder) error {
	if g.nameTaken(child.name) {
		return fmt.Errorf("build: %q already contains a child named %q", g.Path(), child.name)
	}
	child.adopt(g)
	g.groups[child.name] = child
	return nil
}

// AddDataset attaches a child dataset.
func (g *GroupBuilder) AddDataset(child *DatasetBuilder) error {
	if g.nameTaken(child.name) {
		return fmt.Errorf("build: %q already contains a child named %q", g.Path(), child.name)
	}
	child.adopt(g)
	g.datasets[child.name] = child
	return nil
}

// AddLink attaches a child link.
func (g *GroupBuilder) AddLink(child *LinkBuilder) error {
	if g.nameTaken(child.name) {
		return fmt.Errorf("build: %q already contains a child named %q", g.Path(), child.name)
	}
	child.adopt(g)
	g.links[child.name] = child
	return nil
}

// Group returns the named child group, or nil.
func (g *GroupBuilder) Group(name string) *GroupBuilder { return g.groups[name] }

// Dataset returns the named child dataset, or nil.
func (g *GroupBuilder) Dataset(name string) *DatasetBuilder { return g.datasets[name] }

// Link returns the named child link, or nil.
func (g *GroupBuilder) Link(name string) *LinkBuilder { return g.links[name] }

// Groups returns the child groups sorted by name.
func (g *GroupBuilder) Groups() []*GroupBuilder {
	out := make([]*GroupBuilder, 0, len(g.groups))
	for _, c := range g.groups {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// Datasets returns the child datasets sorted by name.
func (g *GroupBuilder) Datasets() []*DatasetBuilder {
	out := make([]*DatasetBuilder, 0, len(g.datasets))
	for _, c := range g.datasets {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// Links returns the child links sorted by name.
func (g *GroupBuilder) Links() []*LinkBuilder {
	out := make([]*LinkBuilder, 0, len(g.links))
	for _, c := range g.links {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// IsEmpty reports whether the group carries nothing but the reserved
// attributes, recursively.
func (g *GroupBuilder) IsEmpty() bool {
	if len(g.datasets) > 0 || len(g.links) > 0 {
		return false
	}
	for name := range g.attributes {
		if name != spec.TypeKey && name != spec.NamespaceKey && name != spec.IDKey {
			return false
		}
	}
	for _, c := range g.groups {
		if !c.IsEmpty() {
			return false
		}
	}
	return true
}

// Get resolves a posix-style path relative to this group. The final segment
// may name a child of any kind or an attribute. Returns nil when any
// segment is missing.
func (g *GroupBuilder) Get(path string) any {
	segs := strings.Split(strings.Trim(path, "/"), "/")
	cur := g
	for i, seg := range segs {
		last := i == len(segs)-1
		if c, ok := cur.groups[seg]; ok {
			if last {
				return c
			}
			cur = c
			continue
		}
		if last {
			if c, ok := cur.datasets[seg]; ok {
				return c
			}
			if c, ok := cur.links[seg]; ok {
				return c
			}
			if v, ok := cur.attributes[seg]; ok {
				return v
			}
		}
		return nil
	}
	return cur
}

// DeepUpdate merges another group's contents into this one. Child groups
// with matching names merge recursively; datasets, links, and attributes
// from the other group replace same-named entries here.
func (g *GroupBuilder) DeepUpdate(other *GroupBuilder) error {
	for name, oc := range other.groups {
		if mine, ok := g.groups[name]; ok {
			if err := mine.DeepUpdate(oc); err != nil {
				return err
			}
			continue
		}
		if err := g.AddGroup(oc); err != nil {
			return err
		}
	}
	for name, oc := range other.datasets {
		if _, ok := g.datasets[name]; ok {
			g.datasets[name] = oc
			oc.adopt(g)
			continue
		}
		if err := g.AddDataset(oc); err != nil {
			return err
		}
	}
	for name, oc := range other.links {
		if _, ok := g.links[name]; ok {
			g.links[name] = oc
			oc.adopt(g)
			continue
		}
		if err := g.AddLink(oc); err != nil {
			return err
		}
	}
	for name, v := range other.attributes {
		g.SetAttribute(name, v)
	}
	return nil
}

// DatasetBuilder is the tree node for datasets: a value, its resolved
// dtype, and attributes.
type DatasetBuilder struct {
	builderBase
	attributed
	data  any
	dtype spec.Dtype
}

// NewDatasetBuilder creates a dataset node holding the given value.
func NewDatasetBuilder(name string, data any, dtype spec.Dtype) *DatasetBuilder {
	return &DatasetBuilder{
		builderBase: builderBase{name: name},
		data:        data,
		dtype:       dtype,
	}
}

// Data returns the dataset value.
func (d *DatasetBuilder) Data() any { return d.data }

// SetData sets the value once. Replacing a non-nil value is an error.
func (d *DatasetBuilder) SetData(data any) error {
	if d.data != nil {
		return fmt.Errorf("build: dataset %q already holds data", d.Path())
	}
	d.data = data
	return nil
}

// Dtype returns the resolved value type.
func (d *DatasetBuilder) Dtype() spec.Dtype { return d.dtype }

// SetDtype records the resolved value type.
func (d *DatasetBuilder) SetDtype(dt spec.Dtype) { d.dtype = dt }

// LinkBuilder names a builder stored elsewhere in the tree.
type LinkBuilder struct {
	builderBase
	target Builder
}

// NewLinkBuilder creates a link to target. An empty name takes the
// target's name.
func NewLinkBuilder(name string, target Builder) *LinkBuilder {
	if name == "" {
		name = target.Name()
	}
	return &LinkBuilder{builderBase: builderBase{name: name}, target: target}
}

// Target returns the linked builder.
func (l *LinkBuilder) Target() Builder { return l.target }

// ReferenceBuilder is a value-level pointer at another builder, stored in a
// dataset or attribute rather than in the tree itself.
type ReferenceBuilder struct {
	target Builder
}

// NewReferenceBuilder creates a reference to target.
func NewReferenceBuilder(target Builder) *ReferenceBuilder {
	return &ReferenceBuilder{target: target}
}

// Target returns the referenced builder.
func (r *ReferenceBuilder) Target() Builder { return r.target }

// RegionBuilder is a reference narrowed to a region of its target dataset.
type RegionBuilder struct {
	ReferenceBuilder
	region []loam.Slice
}

// NewRegionBuilder creates a region reference into target.
func NewRegionBuilder(target *DatasetBuilder, region []loam.Slice) *RegionBuilder {
	return &RegionBuilder{ReferenceBuilder: ReferenceBuilder{target: target}, region: region}
}

// Region returns the selected slices, one per dimension.
func (r *RegionBuilder) Region() []loam.Slice { return r.region }
