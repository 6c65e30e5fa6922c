package client

import (
	"errors"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/longbow-fixpoint/internal/convert"
)

// Column names shared by the HTTP and Flight transports.
const (
	ColumnInput     = "input"
	ColumnCode      = "code"
	ColumnValue     = "value"
	ColumnSaturated = "saturated"
)

// ErrNoInputColumn is returned for records without a value or code column.
var ErrNoInputColumn = errors.New("record has no float64 value or int32 code column")

// ResultSchema is the layout of a converted batch. The code column is null
// for operations that do not produce codes.
var ResultSchema = arrow.NewSchema(
	[]arrow.Field{
		{Name: ColumnInput, Type: arrow.PrimitiveTypes.Float64},
		{Name: ColumnCode, Type: arrow.PrimitiveTypes.Int32, Nullable: true},
		{Name: ColumnValue, Type: arrow.PrimitiveTypes.Float64},
		{Name: ColumnSaturated, Type: arrow.FixedWidthTypes.Boolean},
	},
	nil,
)

// RecordBatchBuilder creates Arrow RecordBatches from conversion results.
type RecordBatchBuilder struct {
	mem memory.Allocator
}

// NewRecordBatchBuilder creates a new builder.
func NewRecordBatchBuilder(mem memory.Allocator) *RecordBatchBuilder {
	return &RecordBatchBuilder{mem: mem}
}

// BuildRecordBatch converts a Result into a RecordBatch with ResultSchema.
// A nil result yields a nil batch; an empty one yields a zero-row batch.
func (b *RecordBatchBuilder) BuildRecordBatch(res *convert.Result) (arrow.RecordBatch, error) {
	if res == nil {
		return nil, nil
	}
	numRows := res.Len()
	if len(res.Inputs) != numRows || len(res.Flags) != numRows {
		return nil, fmt.Errorf("inconsistent result: %d values, %d inputs, %d flags",
			numRows, len(res.Inputs), len(res.Flags))
	}

	inputBuilder := array.NewFloat64Builder(b.mem)
	defer inputBuilder.Release()
	inputBuilder.AppendValues(res.Inputs, nil)

	codeBuilder := array.NewInt32Builder(b.mem)
	defer codeBuilder.Release()
	if res.Codes != nil {
		codeBuilder.AppendValues(res.Codes, nil)
	} else {
		codeBuilder.AppendNulls(numRows)
	}

	valueBuilder := array.NewFloat64Builder(b.mem)
	defer valueBuilder.Release()
	valueBuilder.AppendValues(res.Values, nil)

	satBuilder := array.NewBooleanBuilder(b.mem)
	defer satBuilder.Release()
	satBuilder.AppendValues(res.Flags, nil)

	cols := []arrow.Array{
		inputBuilder.NewArray(),
		codeBuilder.NewArray(),
		valueBuilder.NewArray(),
		satBuilder.NewArray(),
	}
	defer func() {
		for _, c := range cols {
			c.Release()
		}
	}()

	return array.NewRecordBatch(ResultSchema, cols, int64(numRows)), nil
}

// BuildInputBatch wraps values in a single-column record named "value".
func (b *RecordBatchBuilder) BuildInputBatch(values []float64) arrow.RecordBatch {
	schema := arrow.NewSchema([]arrow.Field{{Name: ColumnValue, Type: arrow.PrimitiveTypes.Float64}}, nil)

	vb := array.NewFloat64Builder(b.mem)
	defer vb.Release()
	vb.AppendValues(values, nil)
	arr := vb.NewArray()
	defer arr.Release()

	return array.NewRecordBatch(schema, []arrow.Array{arr}, int64(len(values)))
}

// InputColumns extracts the values or codes to convert from rec. A float64
// "value" column wins over an int32 "code" column. Null slots read as zero.
func InputColumns(rec arrow.RecordBatch) (values []float64, codes []int32, err error) {
	schema := rec.Schema()
	if idx := schema.FieldIndices(ColumnValue); len(idx) > 0 {
		if col, ok := rec.Column(idx[0]).(*array.Float64); ok {
			values = make([]float64, col.Len())
			for i := range values {
				if col.IsValid(i) {
					values[i] = col.Value(i)
				}
			}
			return values, nil, nil
		}
	}
	if idx := schema.FieldIndices(ColumnCode); len(idx) > 0 {
		if col, ok := rec.Column(idx[0]).(*array.Int32); ok {
			codes = make([]int32, col.Len())
			for i := range codes {
				if col.IsValid(i) {
					codes[i] = col.Value(i)
				}
			}
			return nil, codes, nil
		}
	}
	return nil, nil, ErrNoInputColumn
}
