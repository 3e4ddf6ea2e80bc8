package sink

import (
	"fmt"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	errs "github.com/paveg/tuplejoin/internal/errors"
	"github.com/paveg/tuplejoin/internal/tuple"
)

const millisPerDay = 24 * 60 * 60 * 1000

// ArrowSink builds an Arrow record from emitted rows. The schema is taken
// from the first row: its columns in declared order, each typed by the tag of
// its first value. Columns whose first value is null, or whose tag has no
// Arrow counterpart, become nullable strings.
//
// ArrowSink is safe for concurrent use.
type ArrowSink struct {
	mu      sync.Mutex
	mem     memory.Allocator
	schema  *arrow.Schema
	columns []string
	builder *array.RecordBuilder
	rows    int64
}

// NewArrowSink returns a sink allocating from mem. A nil mem uses the Go
// allocator.
func NewArrowSink(mem memory.Allocator) *ArrowSink {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	return &ArrowSink{mem: mem}
}

// Emit appends row to the record under construction.
func (s *ArrowSink) Emit(row *tuple.Tuple) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.builder == nil {
		s.init(row)
	}
	for i, col := range s.columns {
		v, _ := row.Get(col)
		if err := appendValue(s.builder.Field(i), v); err != nil {
			return fmt.Errorf("column %s: %w", col, err)
		}
	}
	s.rows++
	return nil
}

func (s *ArrowSink) init(row *tuple.Tuple) {
	s.columns = row.Columns()
	fields := make([]arrow.Field, len(s.columns))
	for i, col := range s.columns {
		v, _ := row.Get(col)
		fields[i] = arrow.Field{Name: col, Type: ArrowType(v), Nullable: true}
	}
	s.schema = arrow.NewSchema(fields, nil)
	s.builder = array.NewRecordBuilder(s.mem, s.schema)
}

// Schema returns the inferred schema, or nil before the first row.
func (s *ArrowSink) Schema() *arrow.Schema {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schema
}

// Rows returns the number of rows appended since the last NewRecord.
func (s *ArrowSink) Rows() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows
}

// NewRecord returns the rows appended so far and resets the builder; the
// schema is kept. The caller must Release the record.
func (s *ArrowSink) NewRecord() arrow.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.builder == nil {
		schema := arrow.NewSchema(nil, nil)
		return array.NewRecord(schema, nil, 0)
	}
	s.rows = 0
	return s.builder.NewRecord()
}

// Release frees the builder.
func (s *ArrowSink) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.builder != nil {
		s.builder.Release()
		s.builder = nil
	}
}

// ArrowType maps a tuple value to the Arrow type of its column.
func ArrowType(v any) arrow.DataType {
	tag, err := tuple.TagOf(tuple.Unwrap(v))
	if err != nil {
		return arrow.BinaryTypes.String
	}
	switch tag {
	case tuple.TagByte:
		return arrow.PrimitiveTypes.Int8
	case tuple.TagShort:
		return arrow.PrimitiveTypes.Int16
	case tuple.TagInt:
		return arrow.PrimitiveTypes.Int32
	case tuple.TagLong:
		return arrow.PrimitiveTypes.Int64
	case tuple.TagFloat:
		return arrow.PrimitiveTypes.Float32
	case tuple.TagDouble:
		return arrow.PrimitiveTypes.Float64
	case tuple.TagBoolean:
		return arrow.FixedWidthTypes.Boolean
	case tuple.TagBytes:
		return arrow.BinaryTypes.Binary
	case tuple.TagDate:
		return arrow.FixedWidthTypes.Date64
	case tuple.TagTime:
		return arrow.FixedWidthTypes.Time32ms
	case tuple.TagTimestamp:
		return arrow.FixedWidthTypes.Timestamp_ns
	default:
		return arrow.BinaryTypes.String
	}
}

func appendValue(b array.Builder, v any) error {
	v = tuple.Unwrap(v)
	if v == nil {
		b.AppendNull()
		return nil
	}
	switch b := b.(type) {
	case *array.Int8Builder:
		return appendAs(b.Append, v)
	case *array.Int16Builder:
		return appendAs(b.Append, v)
	case *array.Int32Builder:
		return appendAs(b.Append, v)
	case *array.Int64Builder:
		return appendAs(b.Append, v)
	case *array.Float32Builder:
		return appendAs(b.Append, v)
	case *array.Float64Builder:
		if f, ok := tuple.ToFloat64(v); ok {
			b.Append(f)
			return nil
		}
		return mismatch(b.Type(), v)
	case *array.BooleanBuilder:
		return appendAs(b.Append, v)
	case *array.BinaryBuilder:
		return appendAs(b.Append, v)
	case *array.Date64Builder:
		d, ok := v.(tuple.Date)
		if !ok {
			return mismatch(b.Type(), v)
		}
		b.Append(arrow.Date64(d.Millis()))
	case *array.Time32Builder:
		t, ok := v.(tuple.Time)
		if !ok {
			return mismatch(b.Type(), v)
		}
		b.Append(arrow.Time32(t.Millis() % millisPerDay))
	case *array.TimestampBuilder:
		ts, ok := v.(tuple.Timestamp)
		if !ok {
			return mismatch(b.Type(), v)
		}
		b.Append(arrow.Timestamp(ts.Nanos()))
	case *array.StringBuilder:
		if str, ok := v.(string); ok {
			b.Append(str)
		} else {
			b.Append(fmt.Sprint(v))
		}
	default:
		return errs.NewInternalError("ArrowSink.Emit", fmt.Errorf("no appender for %s", b.Type()))
	}
	return nil
}

func appendAs[T any](appendFn func(T), v any) error {
	x, ok := v.(T)
	if !ok {
		var zero T
		return errs.NewTypeMismatchError("ArrowSink.Emit", fmt.Sprintf("%T", zero), fmt.Sprintf("%T", v))
	}
	appendFn(x)
	return nil
}

func mismatch(t arrow.DataType, v any) error {
	return errs.NewTypeMismatchError("ArrowSink.Emit", t.String(), fmt.Sprintf("%T", v))
}
