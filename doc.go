package loam

// Package loam is a schema-driven data-modeling engine. It converts between a
// typed in-memory object graph (Containers) and a format-agnostic hierarchical
// tree (Builders) of named groups, datasets, links, attributes, and
// references, driven by a declarative schema with inheritance and namespaces.
//
// The library provides:
//
// - A spec/namespace type system (spec/): versioned namespaces of data type
//   specifications with inheritance, dependency ordering, and round-trippable
//   YAML/JSON sources.
// - The builder tree (build/): the intermediate representation produced by
//   building and consumed by constructing, independent of any storage format.
// - An object-mapping engine (build/): per-type translation between one
//   Container and its Builder subtree, including dtype resolution and
//   deferred reference handling.
// - A validator (validate/): schema-conformance checking of a builder tree
//   that accumulates every nonconformance instead of failing on the first.
// - A narrow backend contract (backend/): storage formats plug in at the
//   builder-tree boundary; the core performs no I/O of its own.
//
// Design policy:
// - Keep the container object model in the root package; put the schema
//   system under spec/, the mapping engine under build/, and validation
//   under validate/.
// - A BuildManager and its caches are single-threaded. Using one manager
//   from multiple goroutines concurrently is unsupported; create one
//   manager per goroutine instead.
//
// Typical usage:
//
//	tm := build.NewTypeMap(nsCatalog, logger)
//	m := build.NewManager(tm, logger)
//	root, err := m.Build(container, build.BuildOpt{Source: "file.dat", Root: true})
//	got, err := m.Construct(root)
//	errs := vmap.Validate(root)
