package io

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/paveg/tuplejoin/internal/sink"
	"github.com/paveg/tuplejoin/internal/tuple"
)

// Read reads Parquet data and returns one tuple per row.
func (r *ParquetReader) Read() ([]*tuple.Tuple, error) {
	// Read all data into memory for Parquet reading
	data, err := io.ReadAll(r.reader)
	if err != nil {
		return nil, fmt.Errorf("reading data: %w", err)
	}

	pqReader, err := file.NewParquetReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating parquet file reader: %w", err)
	}
	defer pqReader.Close()

	arrowReader, err := pqarrow.NewFileReader(pqReader, pqarrow.ArrowReadProperties{}, r.mem)
	if err != nil {
		return nil, fmt.Errorf("creating arrow file reader: %w", err)
	}

	table, err := arrowReader.ReadTable(context.Background())
	if err != nil {
		return nil, fmt.Errorf("reading table: %w", err)
	}
	defer table.Release()

	return tableToTuples(table)
}

func tableToTuples(table arrow.Table) ([]*tuple.Tuple, error) {
	schema := table.Schema()
	columns := make([]string, schema.NumFields())
	for i, f := range schema.Fields() {
		columns[i] = f.Name
	}

	rows := make([]*tuple.Tuple, 0, table.NumRows())
	tr := array.NewTableReader(table, DefaultBatchSize)
	defer tr.Release()

	for tr.Next() {
		rec := tr.Record()
		for i := range int(rec.NumRows()) {
			t := tuple.New()
			for c, name := range columns {
				v, err := arrowValue(rec.Column(c), i)
				if err != nil {
					return nil, fmt.Errorf("column %s: %w", name, err)
				}
				if err := t.Set(name, v); err != nil {
					return nil, err
				}
			}
			if err := t.AttachSchema(columns); err != nil {
				return nil, err
			}
			rows = append(rows, t)
		}
	}
	if err := tr.Err(); err != nil {
		return nil, fmt.Errorf("reading records: %w", err)
	}
	return rows, nil
}

// arrowValue converts one cell of an Arrow array to a tuple value.
func arrowValue(arr arrow.Array, i int) (any, error) {
	if arr.IsNull(i) {
		return nil, nil
	}
	switch a := arr.(type) {
	case *array.Int8:
		return a.Value(i), nil
	case *array.Int16:
		return a.Value(i), nil
	case *array.Int32:
		return a.Value(i), nil
	case *array.Int64:
		return a.Value(i), nil
	case *array.Float32:
		return a.Value(i), nil
	case *array.Float64:
		return a.Value(i), nil
	case *array.Boolean:
		return a.Value(i), nil
	case *array.String:
		return a.Value(i), nil
	case *array.Binary:
		return bytes.Clone(a.Value(i)), nil
	case *array.Date32:
		return tuple.NewDate(a.Value(i).ToTime()), nil
	case *array.Date64:
		return tuple.DateFromMillis(int64(a.Value(i))), nil
	case *array.Time32:
		unit := a.DataType().(*arrow.Time32Type).Unit
		return tuple.NewTime(a.Value(i).ToTime(unit)), nil
	case *array.Timestamp:
		unit := a.DataType().(*arrow.TimestampType).Unit
		return tuple.NewTimestamp(a.Value(i).ToTime(unit)), nil
	default:
		return nil, fmt.Errorf("unsupported Arrow type: %s", arr.DataType())
	}
}

// ParquetWriter buffers emitted rows in an Arrow record and writes them as a
// single Parquet file on Close.
type ParquetWriter struct {
	writer  io.Writer
	options ParquetOptions
	rows    *sink.ArrowSink
}

// NewParquetWriter creates a new Parquet writer with the specified options
func NewParquetWriter(writer io.Writer, options ParquetOptions, mem memory.Allocator) *ParquetWriter {
	return &ParquetWriter{
		writer:  writer,
		options: options,
		rows:    sink.NewArrowSink(mem),
	}
}

// Emit buffers row.
func (w *ParquetWriter) Emit(row *tuple.Tuple) error {
	return w.rows.Emit(row)
}

// Close writes the buffered rows.
func (w *ParquetWriter) Close() error {
	defer w.rows.Release()

	rec := w.rows.NewRecord()
	defer rec.Release()

	props := parquet.NewWriterProperties(
		parquet.WithCompression(parquetCodec(w.options.Compression)),
		parquet.WithBatchSize(int64(max(w.options.BatchSize, 1))),
		parquet.WithVersion(parquet.V2_LATEST),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema())

	// The file writer closes a sink that implements io.Closer; the
	// destination belongs to the caller.
	writer, err := pqarrow.NewFileWriter(rec.Schema(), struct{ io.Writer }{w.writer}, props, arrowProps)
	if err != nil {
		return fmt.Errorf("creating file writer: %w", err)
	}
	if rec.NumRows() > 0 {
		if err := writer.Write(rec); err != nil {
			_ = writer.Close()
			return fmt.Errorf("writing record: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("closing file writer: %w", err)
	}
	return nil
}

func parquetCodec(name string) compress.Compression {
	switch name {
	case "gzip":
		return compress.Codecs.Gzip
	case "lz4":
		return compress.Codecs.Lz4Raw
	case "zstd":
		return compress.Codecs.Zstd
	case "uncompressed", "none":
		return compress.Codecs.Uncompressed
	default:
		return compress.Codecs.Snappy
	}
}
