package export

import (
	"bytes"
	"testing"

	"github.com/23skdu/longbow-gridmul/internal/device"
	"github.com/23skdu/longbow-gridmul/internal/grid"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDocs() []Doc {
	return []Doc{
		{Name: "a", Rows: 2, Cols: 2, Data: [][]float64{{1, 2}, {3, 4}}},
		{Name: "b", Rows: 1, Cols: 3, Data: [][]float64{{2.15, 1.10, 5.15}}},
	}
}

func TestSnapshot(t *testing.T) {
	lib := device.NewHostLibrary(nil, nil, 0)

	g, err := grid.FromRows(lib, [][]float64{{10.21, 9.22}, {12.15, 7.22}})
	require.NoError(t, err)

	doc, err := Snapshot("b", g)
	require.NoError(t, err)
	assert.Equal(t, Doc{Name: "b", Rows: 2, Cols: 2, Data: [][]float64{{10.21, 9.22}, {12.15, 7.22}}}, doc)

	require.NoError(t, g.Close())
	_, err = Snapshot("b", g)
	assert.ErrorIs(t, err, grid.ErrClosed)
}

func TestBuildRecordBatch(t *testing.T) {
	pool := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer pool.AssertSize(t, 0)
	builder := NewRecordBatchBuilder(pool)

	t.Run("Empty input", func(t *testing.T) {
		rb, err := builder.BuildRecordBatch(nil)
		assert.NoError(t, err)
		assert.Nil(t, rb)
	})

	t.Run("Valid input", func(t *testing.T) {
		rb, err := builder.BuildRecordBatch(testDocs())
		require.NoError(t, err)
		require.NotNil(t, rb)
		defer rb.Release()

		assert.Equal(t, int64(3), rb.NumRows())
		assert.Equal(t, int64(3), rb.NumCols())
		assert.Equal(t, "grid", rb.ColumnName(0))
		assert.Equal(t, "values", rb.ColumnName(2))

		names := rb.Column(0).(*array.String)
		assert.Equal(t, "a", names.Value(1))
		assert.Equal(t, "b", names.Value(2))

		rows := rb.Column(1).(*array.Int32)
		assert.Equal(t, []int32{0, 1, 0}, rows.Int32Values())

		listArr := rb.Column(2).(*array.List)
		assert.Equal(t, []int32{0, 2, 4, 7}, listArr.Offsets())

		values := listArr.ListValues().(*array.Float64)
		assert.Equal(t, 7, values.Len())
		assert.Equal(t, 2.15, values.Value(4))
	})
}

func TestWriteArrowStream(t *testing.T) {
	rb, err := NewRecordBatchBuilder(memory.NewGoAllocator()).BuildRecordBatch(testDocs())
	require.NoError(t, err)
	defer rb.Release()

	var buf bytes.Buffer
	require.NoError(t, WriteArrowStream(&buf, rb))

	reader, err := ipc.NewReader(&buf)
	require.NoError(t, err)
	defer reader.Release()

	assert.True(t, reader.Schema().Equal(Schema))
	require.True(t, reader.Next())
	assert.Equal(t, int64(3), reader.Record().NumRows())
	assert.False(t, reader.Next())
}

func TestCBOR(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCBOR(&buf, testDocs()))

	docs, err := ReadCBOR(&buf)
	require.NoError(t, err)
	assert.Equal(t, testDocs(), docs)

	_, err = ReadCBOR(bytes.NewReader([]byte{0xff}))
	assert.Error(t, err)
}
