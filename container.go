package loam

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ErrParentReassign indicates an attempt to change a container's parent after
// it has been set to a concrete container.
var ErrParentReassign = errors.New("loam: cannot reassign parent once set")

// ErrSourceReassign indicates an attempt to change a container's source after
// it has been set.
var ErrSourceReassign = errors.New("loam: cannot reassign container source once set")

// ParentPlaceholder stands in for a container's parent while the real parent
// is not yet known. build.Proxy implements this. A placeholder parent may be
// replaced by a concrete container that matches it.
type ParentPlaceholder interface {
	// MatchesContainer reports whether the candidate container is the real
	// parent this placeholder stands for.
	MatchesContainer(AbstractContainer) bool
	// AddCandidate records a container that may later resolve this
	// placeholder.
	AddCandidate(AbstractContainer)
	// Location is the unique path of the object the placeholder represents.
	Location() string
}

// AbstractContainer is the object-model node. Concrete container types embed
// Container (or Data) to satisfy it.
type AbstractContainer interface {
	Name() string
	// ObjectID is a stable UUID, generated once on first access.
	ObjectID() string
	// Parent returns the parent container, or nil when the parent is unset
	// or still a placeholder.
	Parent() AbstractContainer
	// ParentRef returns the raw parent: an AbstractContainer, a
	// ParentPlaceholder, or nil.
	ParentRef() any
	// SetParent assigns the parent. The parent is exclusive: once set to a
	// concrete container it is immutable. A placeholder parent is replaced
	// when the new parent matches it; otherwise the new parent is recorded
	// as a candidate.
	SetParent(parent any) error
	Children() []AbstractContainer
	Modified() bool
	// SetModified sets the modified flag; setting it true propagates to the
	// parent chain.
	SetModified(modified bool)
	ContainerSource() string
	// SetContainerSource records the origin of this container. Settable once.
	SetContainerSource(source string) error
	// GetField returns the value of a declared field, or nil.
	GetField(name string) any
	// SetField sets a declared field. A field may be set only once.
	SetField(name string, value any) error
	Fields() map[string]any

	base() *Container
}

// Container is the base implementation of AbstractContainer for group-like
// data types. Embed it in concrete container types.
type Container struct {
	name     string
	objectID string
	source   string
	parent   any // AbstractContainer, ParentPlaceholder, or nil
	children []AbstractContainer
	modified bool
	fields   map[string]any
}

// NewContainer creates a container with the given name. Names may not contain
// '/' because they become path segments in the builder tree.
func NewContainer(name string) (*Container, error) {
	if strings.Contains(name, "/") {
		return nil, fmt.Errorf("loam: name %q cannot contain '/'", name)
	}
	return &Container{
		name:     name,
		modified: true,
		fields:   map[string]any{},
	}, nil
}

func (c *Container) base() *Container { return c }

// Name returns the container's name.
func (c *Container) Name() string { return c.name }

// ObjectID returns the container's stable id, generating it on first access.
func (c *Container) ObjectID() string {
	if c.objectID == "" {
		c.objectID = uuid.New().String()
	}
	return c.objectID
}

// Modified reports whether this container was created or mutated since the
// flag was last cleared.
func (c *Container) Modified() bool { return c.modified }

// SetModified sets the modified flag. Setting it propagates up the parent
// chain so that a whole graph can be detected as dirty from its root.
func (c *Container) SetModified(modified bool) {
	c.modified = modified
	if modified {
		if p, ok := c.parent.(AbstractContainer); ok {
			p.SetModified(true)
		}
	}
}

// Children returns the containers whose parent is this container.
func (c *Container) Children() []AbstractContainer {
	out := make([]AbstractContainer, len(c.children))
	copy(out, c.children)
	return out
}

// ContainerSource returns the origin identifier of this container, e.g. the
// file it was read from. Empty when the container was created in memory and
// has not been written.
func (c *Container) ContainerSource() string { return c.source }

// SetContainerSource sets the origin identifier. It may be set exactly once.
func (c *Container) SetContainerSource(source string) error {
	if c.source != "" {
		return ErrSourceReassign
	}
	c.source = source
	return nil
}

// Parent returns the parent container, or nil when unset or unresolved.
func (c *Container) Parent() AbstractContainer {
	if p, ok := c.parent.(AbstractContainer); ok {
		return p
	}
	return nil
}

// ParentRef returns the raw parent reference.
func (c *Container) ParentRef() any { return c.parent }

// SetParent assigns this container's parent. The argument must be an
// AbstractContainer, a ParentPlaceholder, or nil.
//
// Ownership is exclusive: once the parent is a concrete container it can
// never change. When the current parent is a placeholder, a matching
// concrete container replaces it; a non-matching one is recorded as a
// resolution candidate.
func (c *Container) SetParent(parent any) error {
	if c.parent == parent {
		return nil
	}
	switch cur := c.parent.(type) {
	case nil:
		return c.adopt(parent)
	case AbstractContainer:
		return fmt.Errorf("%w: %q already has parent %q", ErrParentReassign, c.name, cur.Name())
	case ParentPlaceholder:
		np, ok := parent.(AbstractContainer)
		if !ok {
			return fmt.Errorf("loam: cannot overwrite placeholder parent of %q with %T", c.name, parent)
		}
		if cur.MatchesContainer(np) {
			c.parent = np
			np.base().attach(c)
			return nil
		}
		cur.AddCandidate(np)
		return nil
	default:
		return fmt.Errorf("loam: invalid parent type %T for %q", c.parent, c.name)
	}
}

func (c *Container) adopt(parent any) error {
	switch p := parent.(type) {
	case nil:
		return nil
	case AbstractContainer:
		c.parent = p
		p.base().attach(c)
		return nil
	case ParentPlaceholder:
		c.parent = p
		return nil
	default:
		return fmt.Errorf("loam: invalid parent type %T for %q", parent, c.name)
	}
}

func (c *Container) attach(child AbstractContainer) {
	c.children = append(c.children, child)
	c.SetModified(true)
}

// adoptRestored records a child without touching modified flags. The
// construct path reproduces existing state rather than mutating it.
func (c *Container) adoptRestored(child AbstractContainer) {
	c.children = append(c.children, child)
}

// resolveParent swaps a placeholder parent for its resolved container. Used
// by the build package during the post-construct resolution pass.
func (c *Container) resolveParent(parent AbstractContainer) {
	c.parent = parent
	parent.base().adoptRestored(c)
}

// GetField returns the value of a declared field, or nil when unset.
func (c *Container) GetField(name string) any { return c.fields[name] }

// SetField sets a declared field exactly once and marks the container
// modified.
func (c *Container) SetField(name string, value any) error {
	if value == nil {
		return nil
	}
	if _, ok := c.fields[name]; ok {
		return fmt.Errorf("loam: field %q already set on %q", name, c.name)
	}
	c.fields[name] = value
	c.modified = true
	return nil
}

// Fields returns the container's field map. The map is live; callers must
// not mutate it directly.
func (c *Container) Fields() map[string]any { return c.fields }

// GetAncestor walks the parent chain and returns the first ancestor, or nil.
// With a predicate, it returns the first ancestor satisfying it.
func GetAncestor(c AbstractContainer, match func(AbstractContainer) bool) AbstractContainer {
	p := c.Parent()
	if match == nil {
		return p
	}
	for p != nil {
		if match(p) {
			return p
		}
		p = p.Parent()
	}
	return nil
}

// RestoreIdentity fixes a freshly allocated container's identity fields
// before its fields are populated. It is used by the construct path so that
// computed identity can never be supplied or altered by initialization.
// Unset arguments are skipped. A concrete parent adopts the container
// without being marked modified.
func RestoreIdentity(c AbstractContainer, objectID, source string, parent any) error {
	b := c.base()
	if objectID != "" && b.objectID == "" {
		b.objectID = objectID
	}
	if source != "" && b.source == "" {
		b.source = source
	}
	if parent != nil && b.parent == nil {
		switch p := parent.(type) {
		case AbstractContainer:
			b.parent = p
			p.base().adoptRestored(c)
		case ParentPlaceholder:
			b.parent = p
		default:
			return fmt.Errorf("loam: invalid parent type %T for %q", parent, b.name)
		}
	}
	return nil
}

// ResolvePlaceholderParent replaces c's placeholder parent with the resolved
// container. It is an error if the current parent is not a placeholder.
func ResolvePlaceholderParent(c AbstractContainer, parent AbstractContainer) error {
	b := c.base()
	if _, ok := b.parent.(ParentPlaceholder); !ok {
		return fmt.Errorf("loam: parent of %q is not a placeholder", b.name)
	}
	b.resolveParent(parent)
	return nil
}
