package build

import (
	"errors"
	"fmt"

	"github.com/loamdata/loam"
)

// ErrRefQueueDeadlock indicates the deferred-reference queue stopped making
// progress: some queued reference can never be satisfied.
var ErrRefQueueDeadlock = errors.New("build: deferred reference queue made no progress")

// BuildError reports a failure while translating a container into builders.
type BuildError struct {
	Builder Builder
	Reason  string
	Err     error
}

func (e *BuildError) Error() string {
	msg := fmt.Sprintf("build: %s (%s): %s", e.Builder.Name(), e.Builder.Path(), e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *BuildError) Unwrap() error { return e.Err }

// OrphanContainerBuildError reports a container referenced from the graph
// being built that is not attached to the same root.
type OrphanContainerBuildError struct {
	Builder   Builder
	Container loam.AbstractContainer
}

func (e *OrphanContainerBuildError) Error() string {
	return fmt.Sprintf("build: %s (%s): container %q is not attached to the tree being built",
		e.Builder.Name(), e.Builder.Path(), e.Container.Name())
}

// ReferenceTargetNotBuiltError reports a reference whose target container
// has not been built. Fillers return it while their target is pending;
// ResolveReferences surfaces it when the queue deadlocks.
type ReferenceTargetNotBuiltError struct {
	Builder   Builder
	Container loam.AbstractContainer
}

func (e *ReferenceTargetNotBuiltError) Error() string {
	return fmt.Sprintf("build: %s (%s): referenced container %q (%s) has not been built",
		e.Builder.Name(), e.Builder.Path(), e.Container.Name(), e.Container.ObjectID())
}

// ConstructError reports a failure while translating builders back into a
// container.
type ConstructError struct {
	Builder Builder
	Reason  string
	Err     error
}

func (e *ConstructError) Error() string {
	msg := fmt.Sprintf("build: could not construct %s (%s): %s", e.Builder.Name(), e.Builder.Path(), e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConstructError) Unwrap() error { return e.Err }

// ContainerConfigurationError reports a container whose in-memory state
// cannot be expressed under its spec.
type ContainerConfigurationError struct {
	Container loam.AbstractContainer
	Reason    string
}

func (e *ContainerConfigurationError) Error() string {
	return fmt.Sprintf("build: container %q misconfigured: %s", e.Container.Name(), e.Reason)
}
