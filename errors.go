package segstats

import (
	"errors"
	"fmt"
	"slices"
)

var (
	// ErrShape is matched by every *ShapeError via errors.Is.
	ErrShape = errors.New("segstats: shape error")

	// ErrInvalidRepeat is returned when a row multiplicity below 1 is requested.
	ErrInvalidRepeat = errors.New("segstats: repeat must be at least 1")
)

// ShapeError reports a grid or partition whose geometry cannot be split or
// extracted.
type ShapeError struct {
	Op     string
	Shape  []int
	Chunks int
	Reason string
}

func newShapeError(op string, shape []int, chunks int, reason string) *ShapeError {
	return &ShapeError{Op: op, Shape: slices.Clone(shape), Chunks: chunks, Reason: reason}
}

func (e *ShapeError) Error() string {
	if e.Chunks != 0 {
		return fmt.Sprintf("segstats: %s: shape %v, chunks %d: %s", e.Op, e.Shape, e.Chunks, e.Reason)
	}
	return fmt.Sprintf("segstats: %s: shape %v: %s", e.Op, e.Shape, e.Reason)
}

// Is reports whether target is ErrShape.
func (e *ShapeError) Is(target error) bool {
	return target == ErrShape
}
