package io

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/paveg/tuplejoin/internal/tuple"
)

const maxJSONLine = 16 << 20

// Read reads JSON data and returns one tuple per object. Integral numbers
// become longs and other numbers doubles; nested objects become nested
// tuples and arrays are kept as their JSON text.
func (r *JSONReader) Read() ([]*tuple.Tuple, error) {
	switch r.options.Format {
	case JSONArray:
		return r.readJSONArray()
	case JSONLines:
		return r.readJSONLines()
	default:
		return nil, fmt.Errorf("unsupported JSON format: %d", r.options.Format)
	}
}

func (r *JSONReader) readJSONArray() ([]*tuple.Tuple, error) {
	dec := json.NewDecoder(r.reader)
	dec.UseNumber()

	var records []map[string]any
	if err := dec.Decode(&records); err != nil {
		return nil, fmt.Errorf("unmarshaling JSON array: %w", err)
	}
	if r.options.MaxRecords > 0 && len(records) > r.options.MaxRecords {
		records = records[:r.options.MaxRecords]
	}

	rows := make([]*tuple.Tuple, 0, len(records))
	for i, record := range records {
		t, err := objectTuple(record)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		rows = append(rows, t)
	}
	return rows, nil
}

func (r *JSONReader) readJSONLines() ([]*tuple.Tuple, error) {
	scanner := bufio.NewScanner(r.reader)
	scanner.Buffer(make([]byte, 0, 64*1024), maxJSONLine)

	var rows []*tuple.Tuple
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue // Skip empty lines
		}

		dec := json.NewDecoder(strings.NewReader(line))
		dec.UseNumber()
		var record map[string]any
		if err := dec.Decode(&record); err != nil {
			return nil, fmt.Errorf("unmarshaling JSON line %d: %w", lineNum, err)
		}
		t, err := objectTuple(record)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
		rows = append(rows, t)

		if r.options.MaxRecords > 0 && len(rows) >= r.options.MaxRecords {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning JSON lines: %w", err)
	}
	return rows, nil
}

// objectTuple orders the columns by name; JSON objects carry no order once
// decoded.
func objectTuple(record map[string]any) (*tuple.Tuple, error) {
	t := tuple.New()
	for _, name := range slices.Sorted(maps.Keys(record)) {
		v, err := jsonValue(record[name])
		if err != nil {
			return nil, err
		}
		if err := t.Set(name, v); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func jsonValue(raw any) (any, error) {
	switch v := raw.(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, nil
		}
		return v.Float64()
	case map[string]any:
		return objectTuple(v)
	case []any:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(data), nil
	default:
		// nil, bool and string map directly
		return v, nil
	}
}

// JSONWriter streams rows as JSON objects with keys in column order.
type JSONWriter struct {
	writer  *bufio.Writer
	options JSONOptions
	rows    int
	buf     bytes.Buffer
}

// NewJSONWriter creates a new JSON writer with the specified options
func NewJSONWriter(writer io.Writer, options JSONOptions) *JSONWriter {
	return &JSONWriter{writer: bufio.NewWriter(writer), options: options}
}

// Emit writes row.
func (w *JSONWriter) Emit(row *tuple.Tuple) error {
	w.buf.Reset()
	if err := appendObject(&w.buf, row); err != nil {
		return fmt.Errorf("encoding row %d: %w", w.rows, err)
	}

	var sep string
	switch w.options.Format {
	case JSONArray:
		sep = ",\n"
		if w.rows == 0 {
			sep = "[\n"
		}
	case JSONLines:
		if w.rows > 0 {
			sep = "\n"
		}
	default:
		return fmt.Errorf("unsupported JSON format: %d", w.options.Format)
	}
	if _, err := w.writer.WriteString(sep); err != nil {
		return err
	}
	if _, err := w.writer.Write(w.buf.Bytes()); err != nil {
		return err
	}
	w.rows++
	return nil
}

// Close terminates the document and flushes buffered output.
func (w *JSONWriter) Close() error {
	var tail string
	switch {
	case w.options.Format == JSONArray && w.rows == 0:
		tail = "[]\n"
	case w.options.Format == JSONArray:
		tail = "\n]\n"
	case w.rows > 0:
		tail = "\n"
	}
	if _, err := w.writer.WriteString(tail); err != nil {
		return err
	}
	return w.writer.Flush()
}

func appendObject(buf *bytes.Buffer, row *tuple.Tuple) error {
	buf.WriteByte('{')
	for i, col := range row.Columns() {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(col)
		buf.Write(key)
		buf.WriteByte(':')

		v, _ := row.Get(col)
		if nested, ok := tuple.Unwrap(v).(*tuple.Tuple); ok {
			if err := appendObject(buf, nested); err != nil {
				return err
			}
			continue
		}
		data, err := json.Marshal(jsonOutput(v))
		if err != nil {
			return err
		}
		buf.Write(data)
	}
	buf.WriteByte('}')
	return nil
}

// jsonOutput converts tuple values without a native JSON form. Date-like
// values are written as their string form and bytes as base64.
func jsonOutput(v any) any {
	switch v := tuple.Unwrap(v).(type) {
	case tuple.Date, tuple.Time, tuple.Timestamp:
		return fmt.Sprint(v)
	case tuple.Map:
		return map[string]string(v)
	case tuple.Writable:
		return fmt.Sprint(v)
	default:
		return v
	}
}
