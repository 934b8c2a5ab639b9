// Package backend defines the narrow contract storage formats implement.
// The core never performs I/O itself: a backend receives a fully built
// builder tree (references already resolved by the build manager) and hands
// back builder trees on read.
package backend

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/loamdata/loam/build"
)

// ErrUnknownSource indicates a read from a source the backend never wrote.
var ErrUnknownSource = errors.New("backend: unknown source")

// Backend is a storage format. Write is handed the root of a builder tree
// whose deferred references have been drained; it must latch the written
// flag on every node it persists. Read returns the tree stored under a
// source.
type Backend interface {
	Write(ctx context.Context, source string, root *build.GroupBuilder) error
	Read(ctx context.Context, source string) (*build.GroupBuilder, error)
	Close() error
}

// Memory is the in-memory reference backend: it keeps builder trees keyed
// by source. Useful for tests and for staging exports.
type Memory struct {
	files map[string]*build.GroupBuilder
	log   zerolog.Logger
}

// NewMemory creates an empty in-memory backend.
func NewMemory(log zerolog.Logger) *Memory {
	return &Memory{files: map[string]*build.GroupBuilder{}, log: log}
}

// Write stores the tree under source and marks every node written.
func (m *Memory) Write(ctx context.Context, source string, root *build.GroupBuilder) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if source == "" {
		return fmt.Errorf("backend: write needs a source")
	}
	if prev, ok := m.files[source]; ok && prev != root {
		return fmt.Errorf("backend: source %q already holds a different tree", source)
	}
	markWritten(root)
	m.files[source] = root
	m.log.Debug().Str("source", source).Msg("stored builder tree")
	return nil
}

// Read returns the tree stored under source.
func (m *Memory) Read(ctx context.Context, source string) (*build.GroupBuilder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	root, ok := m.files[source]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, source)
	}
	return root, nil
}

// Sources returns every stored source, sorted.
func (m *Memory) Sources() []string {
	out := make([]string, 0, len(m.files))
	for s := range m.files {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Close implements Backend.
func (m *Memory) Close() error { return nil }

func markWritten(g *build.GroupBuilder) {
	g.MarkWritten()
	for _, c := range g.Groups() {
		markWritten(c)
	}
	for _, c := range g.Datasets() {
		c.MarkWritten()
	}
	for _, c := range g.Links() {
		c.MarkWritten()
	}
}
