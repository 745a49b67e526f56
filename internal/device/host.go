package device

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog/log"
)

// ensure interface compliance
var _ Library = (*HostLibrary)(nil)

const float64Size = 8

var lastLibraryID atomic.Uint64

// HostLibrary hands out host memory obtained from an arrow memory.Allocator
// and multiplies through a Kernel. Handles are opaque ids into a registry so
// callers never see the buffers themselves.
//
// HostLibrary is safe for concurrent use.
type HostLibrary struct {
	id       uint64
	mem      memory.Allocator
	kernel   Kernel
	maxBytes int64

	mu      sync.Mutex
	next    Handle
	buffers map[Handle]*hostBuffer
	bytes   int64
}

type hostBuffer struct {
	raw  []byte // as returned by the allocator, needed for Free
	data []float64
	rows int
	cols int
}

// NewHostLibrary creates a library. A nil allocator selects the arrow Go
// allocator, a nil kernel selects BlasKernel and maxBytes <= 0 disables the
// per-allocation ceiling.
func NewHostLibrary(mem memory.Allocator, kernel Kernel, maxBytes int64) *HostLibrary {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	if kernel == nil {
		kernel = BlasKernel{}
	}
	return &HostLibrary{
		id:       lastLibraryID.Add(1),
		mem:      mem,
		kernel:   kernel,
		maxBytes: maxBytes,
		buffers:  make(map[Handle]*hostBuffer),
	}
}

func (l *HostLibrary) Name() string {
	return fmt.Sprintf("host/%v", l.kernel)
}

func (l *HostLibrary) ID() uint64 {
	return l.id
}

func (l *HostLibrary) AllocZeroed(rows, cols int) (Handle, error) {
	if rows <= 0 || cols <= 0 {
		allocationFailures.WithLabelValues("shape").Inc()
		return NullHandle, fmt.Errorf("%w: %dx%d", ErrInvalidShape, rows, cols)
	}
	if rows > math.MaxInt/cols || rows*cols > math.MaxInt/float64Size {
		allocationFailures.WithLabelValues("overflow").Inc()
		return NullHandle, fmt.Errorf("%w: %dx%d overflows", ErrInvalidShape, rows, cols)
	}

	size := rows * cols * float64Size
	if l.maxBytes > 0 && int64(size) > l.maxBytes {
		allocationFailures.WithLabelValues("limit").Inc()
		log.Warn().Int("rows", rows).Int("cols", cols).Int("bytes", size).Int64("max_bytes", l.maxBytes).Msg("Allocation refused")
		return NullHandle, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrOutOfMemory, size, l.maxBytes)
	}

	raw, err := l.allocate(size)
	if err != nil {
		allocationFailures.WithLabelValues("allocator").Inc()
		return NullHandle, err
	}
	if len(raw) < size {
		allocationFailures.WithLabelValues("allocator").Inc()
		if raw != nil {
			l.mem.Free(raw)
		}
		return NullHandle, fmt.Errorf("%w: allocator returned %d of %d bytes", ErrOutOfMemory, len(raw), size)
	}

	// Allocators are not required to hand back zeroed memory
	memory.Set(raw[:size], 0)

	buf := &hostBuffer{
		raw:  raw,
		data: arrow.Float64Traits.CastFromBytes(raw[:size]),
		rows: rows,
		cols: cols,
	}

	l.mu.Lock()
	l.next++
	h := l.next
	l.buffers[h] = buf
	l.bytes += int64(size)
	l.mu.Unlock()

	allocations.Inc()
	liveBuffers.Inc()
	liveBytes.Add(float64(size))
	log.Debug().Uint64("handle", uint64(h)).Int("rows", rows).Int("cols", cols).Msg("Allocated buffer")

	return h, nil
}

func (l *HostLibrary) allocate(size int) (raw []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			raw = nil
			err = fmt.Errorf("%w: %v", ErrOutOfMemory, r)
		}
	}()
	return l.mem.Allocate(size), nil
}

func (l *HostLibrary) Free(h Handle) {
	l.mu.Lock()
	buf, ok := l.buffers[h]
	if ok {
		delete(l.buffers, h)
		l.bytes -= int64(len(buf.data) * float64Size)
	}
	l.mu.Unlock()

	if !ok {
		invalidFrees.Inc()
		log.Error().Uint64("handle", uint64(h)).Msg("Free of unknown handle")
		return
	}

	size := len(buf.data) * float64Size
	buf.data = nil
	l.mem.Free(buf.raw)
	buf.raw = nil

	frees.Inc()
	liveBuffers.Dec()
	liveBytes.Sub(float64(size))
	log.Debug().Uint64("handle", uint64(h)).Msg("Freed buffer")
}

// lookup panics on unknown handles, like a C library would crash on a
// dangling pointer.
func (l *HostLibrary) lookup(h Handle) *hostBuffer {
	l.mu.Lock()
	buf, ok := l.buffers[h]
	l.mu.Unlock()
	if !ok {
		panic(fmt.Sprintf("%v: %d", ErrUnknownHandle, h))
	}
	return buf
}

func (l *HostLibrary) At(h Handle, i, j int) float64 {
	buf := l.lookup(h)
	return buf.data[i*buf.cols+j]
}

func (l *HostLibrary) Set(h Handle, i, j int, v float64) {
	buf := l.lookup(h)
	buf.data[i*buf.cols+j] = v
}

func (l *HostLibrary) MulNoTrans(a, b, out Handle) error {
	l.mu.Lock()
	ba, okA := l.buffers[a]
	bb, okB := l.buffers[b]
	bc, okC := l.buffers[out]
	l.mu.Unlock()

	if !okA || !okB || !okC {
		return fmt.Errorf("%w: mul(%d, %d) -> %d", ErrUnknownHandle, a, b, out)
	}
	if ba.cols != bb.rows {
		return fmt.Errorf("%w: A cols (%d) != B rows (%d)", ErrShapeMismatch, ba.cols, bb.rows)
	}
	if bc.rows != ba.rows || bc.cols != bb.cols {
		return fmt.Errorf("%w: expected %dx%d result, got %dx%d", ErrShapeMismatch, ba.rows, bb.cols, bc.rows, bc.cols)
	}

	start := time.Now()
	l.kernel.MulInto(ba.rows, bb.cols, ba.cols, ba.data, bb.data, bc.data)
	mulDuration.WithLabelValues(fmt.Sprint(l.kernel)).Observe(time.Since(start).Seconds())

	return nil
}

// Live returns the number of buffers that have not been freed.
func (l *HostLibrary) Live() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buffers)
}

// Bytes returns the total size of live buffers.
func (l *HostLibrary) Bytes() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bytes
}
