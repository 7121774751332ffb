package graph

import (
	"errors"
	"fmt"
)

var (
	// ErrArtifactNotFound is returned by operations that require an existing artifact.
	ErrArtifactNotFound = errors.New("artifact not found")

	// ErrDuplicateArtifact is returned when an externally supplied id is already taken.
	ErrDuplicateArtifact = errors.New("artifact already registered")

	// ErrInvalidArtifact is returned for records that cannot be inserted at all.
	ErrInvalidArtifact = errors.New("invalid artifact")
)

// UnknownParentError is returned when a derivation names a parent the graph does
// not hold. The graph is left unchanged.
type UnknownParentError struct {
	ParentID string
}

func (e *UnknownParentError) Error() string {
	return fmt.Sprintf("unknown parent artifact %q", e.ParentID)
}

// CycleError is returned when a derivation would make an artifact its own
// ancestor. Path lists the chain from the offending parent upward.
type CycleError struct {
	ArtifactID string
	Path       []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("artifact %q cannot derive from itself (via %v)", e.ArtifactID, e.Path)
}
