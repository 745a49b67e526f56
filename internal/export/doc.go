// Package export converts grids into Arrow and CBOR representations.
package export

import (
	"github.com/23skdu/longbow-gridmul/internal/grid"
)

// Doc is a detached, serialisable copy of a grid.
type Doc struct {
	Name string      `cbor:"name,omitempty"`
	Rows int         `cbor:"rows"`
	Cols int         `cbor:"cols"`
	Data [][]float64 `cbor:"data"`
}

// Snapshot copies g into a Doc.
func Snapshot(name string, g *grid.Grid) (Doc, error) {
	data, err := g.ToRows()
	if err != nil {
		return Doc{}, err
	}
	rows, cols := g.Dims()
	return Doc{Name: name, Rows: rows, Cols: cols, Data: data}, nil
}
