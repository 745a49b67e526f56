package device

import "errors"

// Handle is an opaque reference to a buffer owned by a Library.
// The zero value is the null handle.
type Handle uintptr

// NullHandle is returned by a Library when it cannot satisfy an allocation.
const NullHandle Handle = 0

var (
	// ErrOutOfMemory is returned when the allocator cannot provide the buffer.
	ErrOutOfMemory = errors.New("device: out of memory")
	// ErrInvalidShape is returned for non-positive or overflowing dimensions.
	ErrInvalidShape = errors.New("device: invalid shape")
	// ErrUnknownHandle is returned when a handle was never issued or is already freed.
	ErrUnknownHandle = errors.New("device: unknown handle")
	// ErrShapeMismatch is returned by MulNoTrans for non-conformable operands.
	ErrShapeMismatch = errors.New("device: shape mismatch")
)

// Library is the contract with the external numeric library: it owns the
// storage behind every Handle it issues.
type Library interface {
	// Name identifies the allocator and kernel in logs and metrics.
	Name() string

	// ID is unique per library instance. Grids can only be combined when
	// their libraries report the same ID, so implementations need not be
	// comparable.
	ID() uint64

	// AllocZeroed returns a handle to a zero-filled row-major rows x cols
	// buffer, or NullHandle and an error.
	AllocZeroed(rows, cols int) (Handle, error)

	// Free releases the buffer. It must be called at most once per handle.
	Free(h Handle)

	// At returns element (i, j). Bounds checking is up to the implementation.
	At(h Handle, i, j int) float64

	// Set writes element (i, j).
	Set(h Handle, i, j int, v float64)

	// MulNoTrans computes out = a * b. out must already be allocated with
	// shape (rows(a), cols(b)) and be zeroed.
	MulNoTrans(a, b, out Handle) error
}

// Kernel performs the dense product c = a * b on row-major slices where a is
// m x k, b is k x n and c is m x n. c is zero on entry.
type Kernel interface {
	MulInto(m, n, k int, a, b, c []float64)
}
