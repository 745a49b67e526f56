package device

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow/memory"
)

// NewAllocator resolves the -allocator flag. "go" uses Go heap memory,
// "malloc" uses C calloc/free and needs cgo.
func NewAllocator(name string) (memory.Allocator, error) {
	switch name {
	case "", "go":
		return memory.NewGoAllocator(), nil
	case "malloc":
		return newMallocator()
	default:
		return nil, fmt.Errorf("unknown allocator: %s", name)
	}
}
