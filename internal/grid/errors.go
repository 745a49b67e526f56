package grid

import "errors"

var (
	// ErrAllocation is returned when the library refuses or fails an allocation.
	ErrAllocation = errors.New("grid: allocation failed")
	// ErrDimensionMismatch is returned for non-conformable operands or ragged input.
	ErrDimensionMismatch = errors.New("grid: dimension mismatch")
	// ErrIndexOutOfBounds is returned for element access outside the grid's shape.
	ErrIndexOutOfBounds = errors.New("grid: index out of bounds")
	// ErrClosed is returned by every operation on a grid after Close or Take.
	ErrClosed = errors.New("grid: use of closed grid")
	// ErrLibraryMismatch is returned when operands live in different libraries.
	ErrLibraryMismatch = errors.New("grid: operands belong to different libraries")
)
