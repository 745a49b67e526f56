package device

import (
	"runtime"
	"sync"

	"github.com/23skdu/longbow-gridmul/internal/simd"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
)

// ensure interface compliance
var _ Kernel = BlasKernel{}
var _ Kernel = NaiveKernel{}

// numWorkers defines the default parallelism for the naive kernel
var numWorkers = runtime.NumCPU()

// BlasKernel forwards to blas64.Gemm: system BLAS through netlib when built
// with the netlib tag, gonum's pure Go dgemm otherwise.
type BlasKernel struct{}

func (BlasKernel) String() string { return "blas64" }

func (BlasKernel) MulInto(m, n, k int, a, b, c []float64) {
	blas64.Gemm(blas.NoTrans, blas.NoTrans,
		1,
		blas64.General{Rows: m, Cols: k, Stride: k, Data: a},
		blas64.General{Rows: k, Cols: n, Stride: n, Data: b},
		0,
		blas64.General{Rows: m, Cols: n, Stride: n, Data: c},
	)
}

// NaiveKernel is the sum-of-products reference implementation.
// Rows of the result are split across workers.
type NaiveKernel struct{}

func (NaiveKernel) String() string { return "naive" }

func (NaiveKernel) MulInto(m, n, k int, a, b, c []float64) {
	// Columns of b, contiguous
	bt := make([]float64, k*n)
	simd.Transpose(bt, b, k, n)

	var wg sync.WaitGroup
	rowsPerWorker := (m + numWorkers - 1) / numWorkers

	for w := 0; w < numWorkers; w++ {
		startRow := w * rowsPerWorker
		endRow := startRow + rowsPerWorker
		if startRow >= m {
			break
		}
		if endRow > m {
			endRow = m
		}

		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for i := start; i < end; i++ {
				rowA := a[i*k : (i+1)*k]
				for j := 0; j < n; j++ {
					c[i*n+j] = simd.DotProduct(rowA, bt[j*k:(j+1)*k])
				}
			}
		}(startRow, endRow)
	}
	wg.Wait()
}

// KernelByName resolves the -kernel flag.
func KernelByName(name string) (Kernel, bool) {
	switch name {
	case "", "blas":
		return BlasKernel{}, true
	case "naive":
		return NaiveKernel{}, true
	default:
		return nil, false
	}
}
