package io

import (
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/paveg/tuplejoin/internal/tuple"
)

const (
	// Boolean string constants
	trueStr  = "true"
	falseStr = "false"
)

type columnType int

const (
	typeString columnType = iota
	typeBool
	typeLong
	typeDouble
)

// Read reads CSV data and returns one tuple per data row. Empty cells are
// null. Columns are named by the header row, or column_0.. without one.
func (r *CSVReader) Read() ([]*tuple.Tuple, error) {
	csvReader := csv.NewReader(r.reader)
	csvReader.Comma = r.options.Delimiter
	csvReader.Comment = r.options.Comment
	csvReader.TrimLeadingSpace = r.options.SkipInitialSpace
	csvReader.FieldsPerRecord = -1

	records, err := csvReader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading CSV: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	var headers []string
	dataRows := records
	if r.options.Header {
		headers = records[0]
		dataRows = records[1:]
	} else {
		headers = make([]string, len(records[0]))
		for i := range headers {
			headers[i] = fmt.Sprintf("column_%d", i)
		}
	}

	types := make([]columnType, len(headers))
	if r.options.TypeInference {
		for i := range headers {
			types[i] = inferColumnType(dataRows, i)
		}
	}

	rows := make([]*tuple.Tuple, 0, len(dataRows))
	for line, record := range dataRows {
		t := tuple.New()
		for i, name := range headers {
			var cell string
			if i < len(record) {
				cell = record[i]
			}
			if err := t.Set(name, parseCell(cell, types[i])); err != nil {
				return nil, fmt.Errorf("row %d: %w", line+1, err)
			}
		}
		if err := t.AttachSchema(headers); err != nil {
			return nil, fmt.Errorf("row %d: %w", line+1, err)
		}
		rows = append(rows, t)
	}
	return rows, nil
}

// inferColumnType determines the most specific type every non-empty cell of
// column i parses as.
func inferColumnType(records [][]string, i int) columnType {
	canBeBool, canBeLong, canBeDouble := true, true, true
	hasNonEmptyValue := false

	for _, record := range records {
		if i >= len(record) || record[i] == "" {
			continue // Skip empty values for type inference
		}
		value := record[i]
		hasNonEmptyValue = true

		if canBeBool {
			lower := strings.ToLower(value)
			canBeBool = lower == trueStr || lower == falseStr
		}
		if canBeLong {
			_, err := strconv.ParseInt(value, 10, 64)
			canBeLong = err == nil
		}
		if canBeDouble {
			_, err := strconv.ParseFloat(value, 64)
			canBeDouble = err == nil
		}
	}

	switch {
	case !hasNonEmptyValue:
		return typeString
	case canBeBool:
		return typeBool
	case canBeLong:
		return typeLong
	case canBeDouble:
		return typeDouble
	default:
		return typeString
	}
}

func parseCell(cell string, ct columnType) any {
	if cell == "" {
		return nil
	}
	switch ct {
	case typeBool:
		return strings.EqualFold(cell, trueStr)
	case typeLong:
		v, _ := strconv.ParseInt(cell, 10, 64)
		return v
	case typeDouble:
		v, _ := strconv.ParseFloat(cell, 64)
		return v
	default:
		return cell
	}
}

// CSVWriter streams rows as CSV. The header, when enabled, is the first
// row's column list; later rows are written in that column order.
type CSVWriter struct {
	writer  *csv.Writer
	options CSVOptions
	columns []string
	rows    int
}

// NewCSVWriter creates a new CSV writer with the specified options
func NewCSVWriter(writer io.Writer, options CSVOptions) *CSVWriter {
	w := csv.NewWriter(writer)
	if options.Delimiter != 0 {
		w.Comma = options.Delimiter
	}
	return &CSVWriter{writer: w, options: options}
}

// Emit writes row.
func (w *CSVWriter) Emit(row *tuple.Tuple) error {
	if w.columns == nil {
		w.columns = row.Columns()
		if w.options.Header {
			if err := w.writer.Write(w.columns); err != nil {
				return fmt.Errorf("writing headers: %w", err)
			}
		}
	}
	record := make([]string, len(w.columns))
	for i, col := range w.columns {
		v, _ := row.Get(col)
		record[i] = FormatCell(v)
	}
	if err := w.writer.Write(record); err != nil {
		return fmt.Errorf("writing row %d: %w", w.rows, err)
	}
	w.rows++
	return nil
}

// Close flushes buffered output.
func (w *CSVWriter) Close() error {
	w.writer.Flush()
	return w.writer.Error()
}

// FormatCell renders a value as a CSV cell. Null is the empty string.
func FormatCell(v any) string {
	switch v := tuple.Unwrap(v).(type) {
	case nil:
		return ""
	case string:
		return v
	case int8:
		return strconv.FormatInt(int64(v), 10)
	case int16:
		return strconv.FormatInt(int64(v), 10)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case []byte:
		return hex.EncodeToString(v)
	default:
		return fmt.Sprint(v)
	}
}
