//go:build cgo

package device

import (
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/arrow/memory/mallocator"
)

func newMallocator() (memory.Allocator, error) {
	return mallocator.NewMallocator(), nil
}
