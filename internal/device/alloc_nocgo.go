//go:build !cgo

package device

import (
	"errors"

	"github.com/apache/arrow-go/v18/arrow/memory"
)

func newMallocator() (memory.Allocator, error) {
	return nil, errors.New("malloc allocator requires cgo")
}
