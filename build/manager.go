package build

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/loamdata/loam"
)

// BuildOpt controls a Build call.
type BuildOpt struct {
	// Source identifies where the resulting builders will be written.
	// Required at the root; children inherit it.
	Source string
	// Root marks the top of the graph. Non-root containers must be
	// reachable from a root through parents.
	Root bool
	// Export rebuilds everything for writing to a new source, ignoring
	// cached builders and written flags.
	Export bool
}

// Proxy stands in for a container that has not been constructed yet. It
// satisfies loam.ParentPlaceholder so containers can be parented before
// their parent exists; the manager resolves all proxies in one pass after
// the top-level construct finishes.
type Proxy struct {
	manager   *BuildManager
	source    string
	path      string
	namespace string
	dataType  string
	candidate []loam.AbstractContainer
}

// Location implements loam.ParentPlaceholder.
func (p *Proxy) Location() string { return p.source + ":" + p.path }

// MatchesContainer reports whether the candidate was constructed from the
// builder this proxy stands for.
func (p *Proxy) MatchesContainer(c loam.AbstractContainer) bool {
	b := p.manager.builders[c]
	if b == nil {
		return false
	}
	return b.Source() == p.source && b.base().Path() == p.path
}

// AddCandidate implements loam.ParentPlaceholder.
func (p *Proxy) AddCandidate(c loam.AbstractContainer) {
	p.candidate = append(p.candidate, c)
}

// Resolve returns the constructed container this proxy stands for.
func (p *Proxy) Resolve() (loam.AbstractContainer, error) {
	for _, c := range p.candidate {
		if p.MatchesContainer(c) {
			return c, nil
		}
	}
	if c, ok := p.manager.containers[p.manager.builderAt(p.source, p.path)]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("build: unresolved proxy for %s (%s %s)", p.Location(), p.namespace, p.dataType)
}

type proxyKey struct {
	source string
	path   string
}

// RefFiller is one deferred reference: it returns true once the reference
// value could be written into its builder.
type RefFiller func() (bool, error)

// BuildManager drives whole-graph translation in both directions with
// identity caching. A manager and its caches are single-threaded.
type BuildManager struct {
	typeMap    *TypeMap
	builders   map[loam.AbstractContainer]Builder
	containers map[Builder]loam.AbstractContainer
	active     map[loam.AbstractContainer]bool
	proxies    map[proxyKey]*Proxy
	refQueue   []RefFiller
	depth      int
	log        zerolog.Logger
}

// NewManager creates a build manager over a type map.
func NewManager(tm *TypeMap, log zerolog.Logger) *BuildManager {
	return &BuildManager{
		typeMap:    tm,
		builders:   map[loam.AbstractContainer]Builder{},
		containers: map[Builder]loam.AbstractContainer{},
		active:     map[loam.AbstractContainer]bool{},
		proxies:    map[proxyKey]*Proxy{},
		log:        log,
	}
}

// TypeMap returns the manager's type map.
func (m *BuildManager) TypeMap() *TypeMap { return m.typeMap }

// Build translates a container graph into a builder tree. Unmodified
// containers with a cached builder are returned from cache. At the top
// level, the deferred reference queue is drained before returning, so
// references may point at containers anywhere in the graph regardless of
// build order.
func (m *BuildManager) Build(c loam.AbstractContainer, opt BuildOpt) (Builder, error) {
	if cached, ok := m.builders[c]; ok && !c.Modified() && !opt.Export {
		return cached, nil
	}
	if m.active[c] {
		return nil, fmt.Errorf("build: cycle detected while building %q", c.Name())
	}
	mapper, err := m.typeMap.GetMap(c)
	if err != nil {
		return nil, err
	}
	m.active[c] = true
	m.depth++
	defer func() {
		m.depth--
		delete(m.active, c)
	}()

	b, err := mapper.Build(m, c, opt)
	if err != nil {
		return nil, err
	}
	m.builders[c] = b
	m.containers[b] = c
	c.SetModified(false)
	if c.ContainerSource() == "" && !opt.Export {
		// Best effort; an already-sourced container keeps its origin.
		_ = c.SetContainerSource(opt.Source)
	}
	if m.depth == 1 {
		if err := m.ResolveReferences(); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// GetBuilder returns the cached builder for a container, or nil.
func (m *BuildManager) GetBuilder(c loam.AbstractContainer) Builder {
	return m.builders[c]
}

// Prebuilt seeds the caches with a container/builder pair produced outside
// this manager, e.g. a tree a backend read from storage. Build and Construct
// then treat the pair as already processed.
func (m *BuildManager) Prebuilt(c loam.AbstractContainer, b Builder) {
	m.builders[c] = b
	m.containers[b] = c
}

// GetContainer returns the container a builder was built from or
// constructed into, or nil.
func (m *BuildManager) GetContainer(b Builder) loam.AbstractContainer {
	return m.containers[b]
}

// QueueRef defers a reference fill until its target has been built.
func (m *BuildManager) QueueRef(f RefFiller) {
	m.refQueue = append(m.refQueue, f)
}

// ResolveReferences drains the deferred reference queue. Each pass retries
// every pending filler; two consecutive passes with no progress mean some
// reference can never resolve, which is fatal. The deadlock error names the
// targets that were never built.
func (m *BuildManager) ResolveReferences() error {
	stalled := 0
	for len(m.refQueue) > 0 {
		pending := m.refQueue[:0]
		var notBuilt []error
		progress := false
		for _, f := range m.refQueue {
			done, err := f()
			if err != nil {
				var nb *ReferenceTargetNotBuiltError
				if !errors.As(err, &nb) {
					return err
				}
				notBuilt = append(notBuilt, err)
			}
			if done {
				progress = true
				continue
			}
			pending = append(pending, f)
		}
		m.refQueue = pending
		if progress {
			stalled = 0
			continue
		}
		stalled++
		if stalled >= 2 {
			m.refQueue = nil
			if len(notBuilt) > 0 {
				return fmt.Errorf("%w: %w", ErrRefQueueDeadlock, errors.Join(notBuilt...))
			}
			return fmt.Errorf("%w: %d reference(s) pending", ErrRefQueueDeadlock, len(pending))
		}
	}
	return nil
}

// GetProxy returns the placeholder for the container a builder will
// construct into, creating it on first use.
func (m *BuildManager) GetProxy(b Builder) *Proxy {
	key := proxyKey{source: b.Source(), path: b.base().Path()}
	if p, ok := m.proxies[key]; ok {
		return p
	}
	p := &Proxy{
		manager:   m,
		source:    b.Source(),
		path:      b.base().Path(),
		namespace: m.typeMap.GetBuilderNs(b),
		dataType:  m.typeMap.GetBuilderDt(b),
	}
	m.proxies[key] = p
	return p
}

func (m *BuildManager) builderAt(source, path string) Builder {
	for b := range m.containers {
		if b.Source() == source && b.base().Path() == path {
			return b
		}
	}
	return nil
}

// Construct translates a builder tree back into containers. Repeat calls on
// the same builder return the cached container. At the top level, every
// proxy parent left behind by out-of-order construction is resolved;
// a proxy with no matching container is an error.
func (m *BuildManager) Construct(b Builder) (loam.AbstractContainer, error) {
	if c, ok := m.containers[b]; ok {
		return c, nil
	}
	dt := m.typeMap.GetBuilderDt(b)
	ns := m.typeMap.GetBuilderNs(b)
	if dt == "" || ns == "" {
		return nil, &ConstructError{Builder: b, Reason: "builder carries no data type"}
	}
	mapper, err := m.typeMap.GetMapByType(ns, dt)
	if err != nil {
		return nil, err
	}
	m.depth++
	defer func() { m.depth-- }()

	c, err := mapper.Construct(m, b)
	if err != nil {
		return nil, err
	}
	m.containers[b] = c
	m.builders[c] = b
	if m.depth == 1 {
		if err := m.resolveProxies(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// resolveProxies replaces every proxy parent with its constructed
// container in one pass over the constructed set.
func (m *BuildManager) resolveProxies() error {
	for b, c := range m.containers {
		p, ok := c.ParentRef().(*Proxy)
		if !ok {
			continue
		}
		parent, err := p.Resolve()
		if err != nil {
			return &ConstructError{Builder: b, Reason: "orphaned container", Err: err}
		}
		if err := loam.ResolvePlaceholderParent(c, parent); err != nil {
			return err
		}
		m.log.Debug().Str("child", c.Name()).Str("parent", parent.Name()).
			Msg("resolved deferred parent")
	}
	return nil
}

// PurgeOutdated drops cached builders whose containers have been modified
// since they were built, forcing a rebuild on next use.
func (m *BuildManager) PurgeOutdated() int {
	purged := 0
	for c, b := range m.builders {
		if !c.Modified() {
			continue
		}
		delete(m.builders, c)
		delete(m.containers, b)
		purged++
	}
	if purged > 0 {
		m.log.Debug().Int("purged", purged).Msg("purged outdated builders")
	}
	return purged
}

// Clear empties every cache and the reference queue.
func (m *BuildManager) Clear() {
	m.builders = map[loam.AbstractContainer]Builder{}
	m.containers = map[Builder]loam.AbstractContainer{}
	m.proxies = map[proxyKey]*Proxy{}
	m.refQueue = nil
}
