package main

import (
	"context"
	"fmt"
	"io"

	"github.com/23skdu/longbow-gridmul/internal/device"
	"github.com/23skdu/longbow-gridmul/internal/export"
	"github.com/23skdu/longbow-gridmul/internal/grid"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

var (
	exampleA = [][]float64{
		{2.15, 1.10, 5.15},
		{1.25, 2.35, 7.55},
		{2.44, 3.55, 8.25},
	}

	exampleB = [][]float64{
		{10.21, 9.22},
		{12.15, 7.22},
		{1.25, 3.25},
	}
)

type namedGrid struct {
	name string
	g    *grid.Grid
}

// run multiplies the example grids and writes all three to w.
func run(ctx context.Context, w io.Writer, lib device.Library, format string) error {
	switch format {
	case "text", "arrow", "cbor":
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}

	a, err := grid.FromRows(lib, exampleA)
	if err != nil {
		return fmt.Errorf("failed to build a: %w", err)
	}
	defer a.Close()

	b, err := grid.FromRows(lib, exampleB)
	if err != nil {
		return fmt.Errorf("failed to build b: %w", err)
	}
	defer b.Close()

	c, err := grid.MulContext(ctx, a, b)
	if err != nil {
		return fmt.Errorf("failed to multiply: %w", err)
	}
	defer c.Close()

	return writeGrids(w, format, []namedGrid{{"a", a}, {"b", b}, {"a*b", c}})
}

func writeGrids(w io.Writer, format string, grids []namedGrid) error {
	if format == "text" {
		for _, ng := range grids {
			if err := ng.g.Render(w); err != nil {
				return err
			}
			if _, err := io.WriteString(w, "\n"); err != nil {
				return err
			}
		}
		return nil
	}

	docs := make([]export.Doc, 0, len(grids))
	for _, ng := range grids {
		doc, err := export.Snapshot(ng.name, ng.g)
		if err != nil {
			return err
		}
		docs = append(docs, doc)
	}

	switch format {
	case "cbor":
		return export.WriteCBOR(w, docs)
	case "arrow":
		rec, err := export.NewRecordBatchBuilder(memory.NewGoAllocator()).BuildRecordBatch(docs)
		if err != nil {
			return err
		}
		defer rec.Release()
		return export.WriteArrowStream(w, rec)
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}
