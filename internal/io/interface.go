// Package io reads dataset rows from files and writes result rows back out.
//
// Readers turn CSV, JSON and Parquet input into tuples with inferred column
// types; writers implement the engine's Emitter so a run can stream its output
// straight to CSV, JSON or Parquet.
//
// Key components:
//   - RowReader/RowWriter interfaces for pluggable formats
//   - CSVReader/CSVWriter for delimited text
//   - JSONReader/JSONWriter for JSON arrays and JSON Lines
//   - ParquetReader/ParquetWriter backed by Apache Arrow
package io

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/paveg/tuplejoin/internal/tuple"
)

const (
	// DefaultBatchSize is the default row group batch size for Parquet output
	DefaultBatchSize = 1000
)

// RowReader reads every row of a source.
type RowReader interface {
	Read() ([]*tuple.Tuple, error)
}

// RowWriter receives rows one at a time. Close flushes buffered output and
// must be called once after the last row.
type RowWriter interface {
	Emit(row *tuple.Tuple) error
	Close() error
}

// CSVOptions contains configuration options for CSV operations
type CSVOptions struct {
	// Delimiter is the field delimiter (default: comma)
	Delimiter rune
	// Comment is the comment character (default: 0 = disabled)
	Comment rune
	// Header indicates whether the first row contains headers
	Header bool
	// SkipInitialSpace indicates whether to skip initial whitespace
	SkipInitialSpace bool
	// TypeInference converts columns to bool, long or double when every
	// non-empty cell parses; otherwise cells stay strings
	TypeInference bool
}

// DefaultCSVOptions returns default CSV options
func DefaultCSVOptions() CSVOptions {
	return CSVOptions{
		Delimiter:     ',',
		Header:        true,
		TypeInference: true,
	}
}

// CSVReader reads CSV data into tuples
type CSVReader struct {
	reader  io.Reader
	options CSVOptions
}

// NewCSVReader creates a new CSV reader with the specified options
func NewCSVReader(reader io.Reader, options CSVOptions) *CSVReader {
	return &CSVReader{
		reader:  reader,
		options: options,
	}
}

// JSONFormat selects the JSON layout.
type JSONFormat int

const (
	// JSONArray is a single top-level array of objects
	JSONArray JSONFormat = iota
	// JSONLines is one object per line
	JSONLines
)

// JSONOptions contains configuration options for JSON operations
type JSONOptions struct {
	Format JSONFormat
	// MaxRecords stops reading after this many records (0 = no limit)
	MaxRecords int
}

// DefaultJSONOptions returns default JSON options
func DefaultJSONOptions() JSONOptions {
	return JSONOptions{Format: JSONLines}
}

// JSONReader reads JSON objects into tuples
type JSONReader struct {
	reader  io.Reader
	options JSONOptions
}

// NewJSONReader creates a new JSON reader with the specified options
func NewJSONReader(reader io.Reader, options JSONOptions) *JSONReader {
	return &JSONReader{
		reader:  reader,
		options: options,
	}
}

// ParquetOptions contains configuration options for Parquet operations
type ParquetOptions struct {
	// Compression type for Parquet files
	Compression string
	// BatchSize for writing operations
	BatchSize int
}

// DefaultParquetOptions returns default Parquet options
func DefaultParquetOptions() ParquetOptions {
	return ParquetOptions{
		Compression: "snappy",
		BatchSize:   DefaultBatchSize,
	}
}

// ParquetReader reads Parquet data into tuples
type ParquetReader struct {
	reader io.Reader
	mem    memory.Allocator
}

// NewParquetReader creates a new Parquet reader
func NewParquetReader(reader io.Reader, mem memory.Allocator) *ParquetReader {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	return &ParquetReader{
		reader: reader,
		mem:    mem,
	}
}

// Format names a file format by extension.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatJSON    Format = "json"
	FormatJSONL   Format = "jsonl"
	FormatParquet Format = "parquet"
)

// DetectFormat picks a format from a file name's extension.
func DetectFormat(path string) (Format, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv", ".tsv":
		return FormatCSV, nil
	case ".json":
		return FormatJSON, nil
	case ".jsonl", ".ndjson":
		return FormatJSONL, nil
	case ".parquet":
		return FormatParquet, nil
	default:
		return "", fmt.Errorf("unsupported file format: %q", ext)
	}
}

// NewReader returns a reader for format with default options. TSV input is
// read with a tab delimiter when path ends in .tsv.
func NewReader(r io.Reader, format Format, path string) (RowReader, error) {
	switch format {
	case FormatCSV:
		opts := DefaultCSVOptions()
		if strings.EqualFold(filepath.Ext(path), ".tsv") {
			opts.Delimiter = '\t'
		}
		return NewCSVReader(r, opts), nil
	case FormatJSON:
		return NewJSONReader(r, JSONOptions{Format: JSONArray}), nil
	case FormatJSONL:
		return NewJSONReader(r, JSONOptions{Format: JSONLines}), nil
	case FormatParquet:
		return NewParquetReader(r, nil), nil
	default:
		return nil, fmt.Errorf("unsupported file format: %q", format)
	}
}

// NewWriter returns a writer for format with default options.
func NewWriter(w io.Writer, format Format) (RowWriter, error) {
	switch format {
	case FormatCSV:
		return NewCSVWriter(w, DefaultCSVOptions()), nil
	case FormatJSON:
		return NewJSONWriter(w, JSONOptions{Format: JSONArray}), nil
	case FormatJSONL:
		return NewJSONWriter(w, JSONOptions{Format: JSONLines}), nil
	case FormatParquet:
		return NewParquetWriter(w, DefaultParquetOptions(), nil), nil
	default:
		return nil, fmt.Errorf("unsupported file format: %q", format)
	}
}
