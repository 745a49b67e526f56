// Package grid wraps buffers owned by a device.Library in a Grid that
// releases its buffer exactly once.
package grid

import (
	"context"
	"fmt"
	"runtime"

	"github.com/23skdu/longbow-gridmul/internal/device"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("gridmul-grid")

// noCopy makes go vet flag Grid values copied by assignment.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Grid is a dense row-major matrix of float64 whose storage belongs to a
// device.Library. A Grid owns its handle exclusively: Clone makes a deep copy
// and Take moves ownership, closing the source.
//
// Grids must be released with Close. A finalizer frees buffers of grids that
// become unreachable while still open, but that is a fallback, not a contract.
//
// A Grid is not safe for concurrent use.
type Grid struct {
	_ noCopy

	lib  device.Library
	h    device.Handle
	rows int
	cols int
}

// New allocates a zero-filled rows x cols grid.
// Non-positive dimensions are refused with ErrAllocation.
func New(lib device.Library, rows, cols int) (*Grid, error) {
	if lib == nil {
		gridErrors.WithLabelValues("allocation").Inc()
		return nil, fmt.Errorf("%w: nil library", ErrAllocation)
	}

	h, err := lib.AllocZeroed(rows, cols)
	if err != nil {
		gridErrors.WithLabelValues("allocation").Inc()
		return nil, fmt.Errorf("%w: %dx%d: %w", ErrAllocation, rows, cols, err)
	}
	if h == device.NullHandle {
		gridErrors.WithLabelValues("allocation").Inc()
		return nil, fmt.Errorf("%w: %dx%d: %s returned a null handle", ErrAllocation, rows, cols, lib.Name())
	}

	return own(lib, h, rows, cols), nil
}

func own(lib device.Library, h device.Handle, rows, cols int) *Grid {
	g := &Grid{
		lib:  lib,
		h:    h,
		rows: rows,
		cols: cols,
	}
	runtime.SetFinalizer(g, (*Grid).finalize)
	liveGrids.Inc()
	return g
}

// FromRows allocates a grid shaped like data and copies data into it.
// data must be non-empty and rectangular.
func FromRows(lib device.Library, data [][]float64) (*Grid, error) {
	rows := len(data)
	cols := 0
	if rows > 0 {
		cols = len(data[0])
	}
	for i, row := range data {
		if len(row) != cols {
			gridErrors.WithLabelValues("dimension").Inc()
			return nil, fmt.Errorf("%w: row %d has %d columns, want %d", ErrDimensionMismatch, i, len(row), cols)
		}
	}

	g, err := New(lib, rows, cols)
	if err != nil {
		return nil, err
	}
	for i, row := range data {
		for j, v := range row {
			if err := g.Set(i, j, v); err != nil {
				g.Close()
				return nil, err
			}
		}
	}
	return g, nil
}

// Dims returns the allocation-time shape.
func (g *Grid) Dims() (int, int) {
	return g.rows, g.cols
}

// Closed reports whether the grid no longer owns a buffer.
func (g *Grid) Closed() bool {
	return g == nil || g.h == device.NullHandle
}

func (g *Grid) check(i, j int) error {
	if g.Closed() {
		return ErrClosed
	}
	if i < 0 || i >= g.rows || j < 0 || j >= g.cols {
		gridErrors.WithLabelValues("bounds").Inc()
		return fmt.Errorf("%w: (%d, %d) outside %dx%d", ErrIndexOutOfBounds, i, j, g.rows, g.cols)
	}
	return nil
}

// At returns element (i, j).
func (g *Grid) At(i, j int) (float64, error) {
	if err := g.check(i, j); err != nil {
		return 0, err
	}
	v := g.lib.At(g.h, i, j)
	runtime.KeepAlive(g)
	return v, nil
}

// Set writes element (i, j). No other element changes.
func (g *Grid) Set(i, j int, v float64) error {
	if err := g.check(i, j); err != nil {
		return err
	}
	g.lib.Set(g.h, i, j, v)
	runtime.KeepAlive(g)
	return nil
}

// Mul returns a new grid holding a * b. See MulContext.
func Mul(a, b *Grid) (*Grid, error) {
	return MulContext(context.Background(), a, b)
}

// MulContext returns a new grid of shape (rows(a), cols(b)) holding a * b.
// Operands are not modified. Nothing is allocated when a's columns do not
// match b's rows.
func MulContext(ctx context.Context, a, b *Grid) (*Grid, error) {
	_, span := tracer.Start(ctx, "grid.Mul")
	defer span.End()

	if a.Closed() || b.Closed() {
		span.SetStatus(codes.Error, ErrClosed.Error())
		return nil, ErrClosed
	}
	if a.lib.ID() != b.lib.ID() {
		span.SetStatus(codes.Error, ErrLibraryMismatch.Error())
		return nil, fmt.Errorf("%w: %s and %s", ErrLibraryMismatch, a.lib.Name(), b.lib.Name())
	}
	if a.cols != b.rows {
		gridErrors.WithLabelValues("dimension").Inc()
		err := fmt.Errorf("%w: %dx%d * %dx%d", ErrDimensionMismatch, a.rows, a.cols, b.rows, b.cols)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("m", a.rows),
		attribute.Int("n", b.cols),
		attribute.Int("k", a.cols),
		attribute.String("library", a.lib.Name()),
	)

	out, err := New(a.lib, a.rows, b.cols)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if err := a.lib.MulNoTrans(a.h, b.h, out.h); err != nil {
		out.Close()
		err = fmt.Errorf("grid: multiply: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	runtime.KeepAlive(a)
	runtime.KeepAlive(b)

	return out, nil
}

// Clone returns an independently owned deep copy of g.
func (g *Grid) Clone() (*Grid, error) {
	if g.Closed() {
		return nil, ErrClosed
	}
	c, err := New(g.lib, g.rows, g.cols)
	if err != nil {
		return nil, err
	}
	for i := 0; i < g.rows; i++ {
		for j := 0; j < g.cols; j++ {
			c.lib.Set(c.h, i, j, g.lib.At(g.h, i, j))
		}
	}
	runtime.KeepAlive(g)
	return c, nil
}

// Take moves ownership of g's buffer to a new Grid. g is closed afterwards
// and closing it again does not touch the buffer.
func (g *Grid) Take() (*Grid, error) {
	if g.Closed() {
		return nil, ErrClosed
	}
	h := g.h
	g.h = device.NullHandle
	runtime.SetFinalizer(g, nil)
	liveGrids.Dec()
	return own(g.lib, h, g.rows, g.cols), nil
}

// ToRows copies the grid into a fresh [][]float64.
func (g *Grid) ToRows() ([][]float64, error) {
	if g.Closed() {
		return nil, ErrClosed
	}
	out := make([][]float64, g.rows)
	for i := range out {
		out[i] = make([]float64, g.cols)
		for j := range out[i] {
			out[i][j] = g.lib.At(g.h, i, j)
		}
	}
	runtime.KeepAlive(g)
	return out, nil
}

// Close releases the buffer. Calling Close more than once is a no-op.
func (g *Grid) Close() error {
	if g.Closed() {
		return nil
	}
	runtime.SetFinalizer(g, nil)
	g.release()
	return nil
}

func (g *Grid) release() {
	h := g.h
	g.h = device.NullHandle
	g.lib.Free(h)
	liveGrids.Dec()
}

func (g *Grid) finalize() {
	if g.h == device.NullHandle {
		return
	}
	finalizedGrids.Inc()
	log.Warn().Int("rows", g.rows).Int("cols", g.cols).Msg("Grid was not closed, releasing in finalizer")
	g.release()
}
