// Package geomerr holds the error taxonomy shared by every layer of the
// kernel. Packages wrap these sentinels with context using fmt.Errorf and
// %w, so callers classify failures with errors.Is.
package geomerr

import (
	"errors"
	"fmt"
)

// Sentinel errors for kernel operations.
var (
	// ErrNonManifoldMesh is returned when an operation that requires a
	// watertight, consistently wound mesh receives one that is not.
	ErrNonManifoldMesh = errors.New("non-manifold mesh")

	// ErrDimensionMismatch is returned when two grids do not share a
	// lattice and resampling is disabled.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrCycleRejected is returned when a graph edit would create a cycle.
	ErrCycleRejected = errors.New("cycle rejected")

	// ErrTypeMismatch is returned when an output is wired into an input
	// slot of a different value type.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrInvalidParameters is returned for out-of-range or malformed
	// operation parameters.
	ErrInvalidParameters = errors.New("invalid parameters")

	// ErrResourceLimitExceeded is returned before allocating a grid or mesh
	// larger than the configured limits.
	ErrResourceLimitExceeded = errors.New("resource limit exceeded")

	// ErrEmptyVolume is returned when voxelization yields no inside cells.
	ErrEmptyVolume = errors.New("empty volume")
)

// Invalidf wraps ErrInvalidParameters with a formatted detail message.
func Invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidParameters, fmt.Sprintf(format, args...))
}
