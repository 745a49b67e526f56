//go:build cgo && netlib

package device

// This file registers the netlib BLAS implementation which uses system BLAS
// (Accelerate on macOS, OpenBLAS on Linux). Build with -tags netlib and point
// CGO_LDFLAGS at the BLAS library, e.g. CGO_LDFLAGS="-lopenblas".

import (
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/netlib/blas/netlib"
)

func init() {
	// Register netlib BLAS for float64 operations (dgemm)
	blas64.Use(netlib.Implementation{})
	log.Debug().Msg("CGO/BLAS Acceleration Enabled (netlib)")
}
