package main

import (
	"bytes"
	"context"
	"strconv"
	"strings"
	"testing"

	"github.com/23skdu/longbow-gridmul/internal/device"
	"github.com/23skdu/longbow-gridmul/internal/export"
	"github.com/23skdu/longbow-gridmul/internal/grid"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBytes(t *testing.T) {
	valid := map[string]int64{
		"":      0,
		"0":     0,
		"1024":  1024,
		"64B":   64,
		"4KB":   4 * 1024,
		"512MB": 512 * 1024 * 1024,
		"1GB":   1024 * 1024 * 1024,
		"2g":    2 * 1024 * 1024 * 1024,
		"64TB":  64 << 40,
	}
	for in, want := range valid {
		got, err := parseBytes(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, in := range []string{"abc", "-1GB", "1.5GB", "12XB", "GB", "1 GB", "9223372036854775807K", "99999999999999999999"} {
		_, err := parseBytes(in)
		assert.Error(t, err, in)
	}
}

func TestNewLibrary(t *testing.T) {
	lib, err := newLibrary("go", "naive", 0)
	require.NoError(t, err)
	assert.Equal(t, "host/naive", lib.Name())

	_, err = newLibrary("go", "cublas", 0)
	assert.Error(t, err)

	_, err = newLibrary("tcmalloc", "blas", 0)
	assert.Error(t, err)
}

func expectedProduct() [][]float64 {
	out := make([][]float64, len(exampleA))
	for i := range exampleA {
		out[i] = make([]float64, len(exampleB[0]))
		for j := range exampleB[0] {
			var sum float64
			for k := range exampleB {
				sum += exampleA[i][k] * exampleB[k][j]
			}
			out[i][j] = sum
		}
	}
	return out
}

func TestRun_Text(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	lib := device.NewHostLibrary(mem, device.NaiveKernel{}, 0)

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), &out, lib, "text"))

	sections := strings.Split(out.String(), "\n\n")
	require.Len(t, sections, 4)
	assert.Equal(t, "", sections[3])

	assert.Equal(t, "2.15, 1.1, 5.15\n1.25, 2.35, 7.55\n2.44, 3.55, 8.25", sections[0])
	assert.Equal(t, "10.21, 9.22\n12.15, 7.22\n1.25, 3.25", sections[1])

	want := expectedProduct()
	lines := strings.Split(sections[2], "\n")
	require.Len(t, lines, 3)
	for i, line := range lines {
		fields := strings.Split(line, ", ")
		require.Len(t, fields, 2)
		for j, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			require.NoError(t, err)
			assert.InDelta(t, want[i][j], v, 1e-9)
		}
	}

	// Everything the example allocated has been released
	assert.Equal(t, 0, lib.Live())
	mem.AssertSize(t, 0)
}

func TestRun_CBOR(t *testing.T) {
	lib := device.NewHostLibrary(nil, nil, 0)

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), &out, lib, "cbor"))

	docs, err := export.ReadCBOR(&out)
	require.NoError(t, err)
	require.Len(t, docs, 3)

	assert.Equal(t, "a", docs[0].Name)
	assert.Equal(t, exampleA, docs[0].Data)
	assert.Equal(t, exampleB, docs[1].Data)
	assert.Equal(t, "a*b", docs[2].Name)
	assert.Equal(t, 3, docs[2].Rows)
	assert.Equal(t, 2, docs[2].Cols)
	assert.Equal(t, 0, lib.Live())
}

func TestRun_Arrow(t *testing.T) {
	lib := device.NewHostLibrary(nil, nil, 0)

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), &out, lib, "arrow"))

	reader, err := ipc.NewReader(&out)
	require.NoError(t, err)
	defer reader.Release()

	require.True(t, reader.Next())
	// 3 rows for a, 3 for b, 3 for the product
	assert.Equal(t, int64(9), reader.Record().NumRows())
	assert.Equal(t, 0, lib.Live())
}

func TestRun_Failures(t *testing.T) {
	t.Run("UnknownFormat", func(t *testing.T) {
		lib := device.NewHostLibrary(nil, nil, 0)
		err := run(context.Background(), &bytes.Buffer{}, lib, "yaml")
		assert.Error(t, err)
		assert.Equal(t, 0, lib.Live())
	})

	t.Run("AllocationRefused", func(t *testing.T) {
		// a alone needs 72 bytes
		lib := device.NewHostLibrary(nil, nil, 64)
		var out bytes.Buffer
		err := run(context.Background(), &out, lib, "text")
		assert.Error(t, err)
		assert.Empty(t, out.String())
		assert.Equal(t, 0, lib.Live())
	})
}

func TestExecute(t *testing.T) {
	base := config{kernel: "naive", allocator: "go", maxAlloc: "1MB", format: "text"}

	t.Run("Example", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, execute(context.Background(), base, &out))
		assert.True(t, strings.HasPrefix(out.String(), "2.15, 1.1, 5.15\n"))
	})

	t.Run("BadMaxAlloc", func(t *testing.T) {
		cfg := base
		cfg.maxAlloc = "1.5GB"
		var out bytes.Buffer
		err := execute(context.Background(), cfg, &out)
		assert.ErrorContains(t, err, "-max-alloc")
		assert.Empty(t, out.String())
	})

	t.Run("AllocationRefused", func(t *testing.T) {
		cfg := base
		cfg.maxAlloc = "64B"
		err := execute(context.Background(), cfg, &bytes.Buffer{})
		assert.ErrorIs(t, err, grid.ErrAllocation)
	})
}

func TestExecute_ShutsDownTracer(t *testing.T) {
	orig := newTracer
	t.Cleanup(func() { newTracer = orig })

	shutdowns := 0
	newTracer = func() (func(context.Context) error, error) {
		return func(context.Context) error {
			shutdowns++
			return nil
		}, nil
	}

	cfg := config{kernel: "blas", allocator: "go", maxAlloc: "1GB", format: "yaml", otel: true}
	require.Error(t, execute(context.Background(), cfg, &bytes.Buffer{}))
	assert.Equal(t, 1, shutdowns, "failed runs flush their spans")

	cfg.format = "text"
	require.NoError(t, execute(context.Background(), cfg, &bytes.Buffer{}))
	assert.Equal(t, 2, shutdowns)
}

func TestLogMetrics(t *testing.T) {
	lib := device.NewHostLibrary(nil, nil, 0)
	require.NoError(t, run(context.Background(), &bytes.Buffer{}, lib, "text"))

	assert.NotPanics(t, func() { logMetrics(prometheus.DefaultGatherer) })
}
