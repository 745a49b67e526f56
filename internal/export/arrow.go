package export

import (
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Schema: { "grid": utf8, "row": int32, "values": list<float64> }
var Schema = arrow.NewSchema(
	[]arrow.Field{
		{Name: "grid", Type: arrow.BinaryTypes.String},
		{Name: "row", Type: arrow.PrimitiveTypes.Int32},
		{Name: "values", Type: arrow.ListOf(arrow.PrimitiveTypes.Float64)},
	},
	nil,
)

// RecordBatchBuilder creates Arrow RecordBatches from grid snapshots.
type RecordBatchBuilder struct {
	mem memory.Allocator
}

// NewRecordBatchBuilder creates a new builder.
func NewRecordBatchBuilder(mem memory.Allocator) *RecordBatchBuilder {
	return &RecordBatchBuilder{mem: mem}
}

// BuildRecordBatch lays the docs out one grid row per record row.
// Returns nil when there is nothing to write.
func (b *RecordBatchBuilder) BuildRecordBatch(docs []Doc) (arrow.RecordBatch, error) {
	numRows := 0
	for _, d := range docs {
		numRows += len(d.Data)
	}
	if numRows == 0 {
		return nil, nil
	}

	gridBuilder := array.NewStringBuilder(b.mem)
	defer gridBuilder.Release()
	rowBuilder := array.NewInt32Builder(b.mem)
	defer rowBuilder.Release()
	listBuilder := array.NewListBuilder(b.mem, arrow.PrimitiveTypes.Float64)
	defer listBuilder.Release()

	valueBuilder := listBuilder.ValueBuilder().(*array.Float64Builder)

	for _, d := range docs {
		for i, row := range d.Data {
			gridBuilder.Append(d.Name)
			rowBuilder.Append(int32(i))
			listBuilder.Append(true)
			valueBuilder.AppendValues(row, nil)
		}
	}

	cols := []arrow.Array{
		gridBuilder.NewArray(),
		rowBuilder.NewArray(),
		listBuilder.NewArray(),
	}
	defer func() {
		for _, c := range cols {
			c.Release()
		}
	}()

	return array.NewRecordBatch(Schema, cols, int64(numRows)), nil
}

// WriteArrowStream writes rec as a single-batch Arrow IPC stream.
func WriteArrowStream(w io.Writer, rec arrow.RecordBatch) error {
	writer := ipc.NewWriter(w, ipc.WithSchema(rec.Schema()))
	if err := writer.Write(rec); err != nil {
		_ = writer.Close()
		return err
	}
	return writer.Close()
}
