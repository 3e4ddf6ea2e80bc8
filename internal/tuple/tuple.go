package tuple

import (
	"fmt"
	"slices"
	"strings"

	errs "github.com/paveg/tuplejoin/internal/errors"
)

// Tuple is a row of named, typed values.
//
// Values are stored in canonical column order (lower-cased names sorted
// alphabetically). A declared schema may be attached to control the order of
// Columns and Values; it does not affect the encoding. A tuple decoded without
// a schema has values but no names until AttachSchema is called.
type Tuple struct {
	names  []string
	values []any
	schema []string
}

// New returns an empty tuple.
func New() *Tuple {
	return &Tuple{names: []string{}, values: []any{}}
}

// FromMap builds a tuple from a column map.
func FromMap(m map[string]any) (*Tuple, error) {
	t := New()
	for name, v := range m {
		if err := t.Set(name, v); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Of builds a tuple from alternating name/value arguments. The declared schema
// is the argument order. It panics on malformed input and is meant for tests
// and literals.
func Of(pairs ...any) *Tuple {
	if len(pairs)%2 != 0 {
		panic("tuple.Of: odd number of arguments")
	}
	t := New()
	schema := make([]string, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		name, ok := pairs[i].(string)
		if !ok {
			panic(fmt.Sprintf("tuple.Of: column name %v is not a string", pairs[i]))
		}
		if err := t.Set(name, pairs[i+1]); err != nil {
			panic(err.Error())
		}
		schema = append(schema, name)
	}
	if err := t.AttachSchema(schema); err != nil {
		panic(err.Error())
	}
	return t
}

// Set stores a value under the lower-cased column name, replacing any
// previous value.
func (t *Tuple) Set(name string, v any) error {
	if t.names == nil && len(t.values) > 0 {
		return errs.NewInvalidInputError("Set", "tuple has no schema attached")
	}
	name = strings.ToLower(name)
	v = Normalize(v)
	if _, err := TagOf(v); err != nil {
		return errs.NewUnsupportedTypeError("Set", name, fmt.Sprintf("%T", v))
	}
	if t.names == nil {
		t.names = []string{}
	}
	i, found := slices.BinarySearch(t.names, name)
	if found {
		t.values[i] = v
		return nil
	}
	t.names = slices.Insert(t.names, i, name)
	t.values = slices.Insert(t.values, i, v)
	if t.schema != nil {
		t.schema = append(t.schema, name)
	}
	return nil
}

// Get returns the value of a column.
func (t *Tuple) Get(name string) (any, bool) {
	if t == nil || t.names == nil {
		return nil, false
	}
	i, found := slices.BinarySearch(t.names, strings.ToLower(name))
	if !found {
		return nil, false
	}
	return t.values[i], true
}

// Has reports whether the tuple has the column.
func (t *Tuple) Has(name string) bool {
	_, ok := t.Get(name)
	return ok
}

// Len returns the number of columns.
func (t *Tuple) Len() int {
	if t == nil {
		return 0
	}
	return len(t.values)
}

// Names returns the column names in canonical order, or nil when no schema
// is attached. The slice must not be modified.
func (t *Tuple) Names() []string {
	return t.names
}

// ValueAt returns the i-th value in canonical order.
func (t *Tuple) ValueAt(i int) any {
	return t.values[i]
}

// Columns returns the declared schema, falling back to canonical order.
func (t *Tuple) Columns() []string {
	if t.schema != nil {
		return slices.Clone(t.schema)
	}
	return slices.Clone(t.names)
}

// Values returns the values in Columns order.
func (t *Tuple) Values() []any {
	if t.schema == nil {
		return slices.Clone(t.values)
	}
	out := make([]any, len(t.schema))
	for i, name := range t.schema {
		out[i], _ = t.Get(name)
	}
	return out
}

// Schema returns the attached schema, or nil.
func (t *Tuple) Schema() []string {
	return t.schema
}

// AttachSchema declares the column order of the tuple. For a tuple without
// names (freshly decoded) the schema supplies them and must have exactly one
// entry per value. Otherwise the schema must name exactly the tuple's columns.
func (t *Tuple) AttachSchema(columns []string) error {
	schema := make([]string, len(columns))
	for i, c := range columns {
		schema[i] = strings.ToLower(c)
	}
	canonical := slices.Clone(schema)
	slices.Sort(canonical)
	if len(slices.Compact(slices.Clone(canonical))) != len(canonical) {
		return errs.NewInvalidInputError("AttachSchema", "duplicate column in schema")
	}
	if len(schema) != len(t.values) {
		return errs.NewInvalidInputError("AttachSchema",
			fmt.Sprintf("schema has %d columns, tuple has %d values", len(schema), len(t.values)))
	}
	if t.names != nil && !slices.Equal(canonical, t.names) {
		return errs.NewInvalidInputError("AttachSchema",
			fmt.Sprintf("schema %v does not match columns %v", schema, t.names))
	}
	t.names = canonical
	t.schema = schema
	return nil
}

// Clone returns a deep copy.
func (t *Tuple) Clone() *Tuple {
	if t == nil {
		return nil
	}
	c := &Tuple{
		names:  slices.Clone(t.names),
		values: make([]any, len(t.values)),
		schema: slices.Clone(t.schema),
	}
	for i, v := range t.values {
		c.values[i] = cloneValue(v)
	}
	return c
}

// Merge returns the column-wise union of t and other. Columns present in both
// take other's value. The merged schema is t's columns followed by other's new
// columns.
func (t *Tuple) Merge(other *Tuple) (*Tuple, error) {
	if t.names == nil || other.names == nil {
		return nil, errs.NewInvalidInputError("Merge", "tuple has no schema attached")
	}
	out := &Tuple{
		names:  make([]string, 0, len(t.names)+len(other.names)),
		values: make([]any, 0, len(t.values)+len(other.values)),
	}
	i, j := 0, 0
	for i < len(t.names) || j < len(other.names) {
		switch {
		case j == len(other.names) || (i < len(t.names) && t.names[i] < other.names[j]):
			out.names = append(out.names, t.names[i])
			out.values = append(out.values, t.values[i])
			i++
		case i == len(t.names) || other.names[j] < t.names[i]:
			out.names = append(out.names, other.names[j])
			out.values = append(out.values, other.values[j])
			j++
		default:
			out.names = append(out.names, other.names[j])
			out.values = append(out.values, other.values[j])
			i++
			j++
		}
	}
	if t.schema != nil || other.schema != nil {
		out.schema = t.Columns()
		for _, c := range other.Columns() {
			if !slices.Contains(out.schema, c) {
				out.schema = append(out.schema, c)
			}
		}
	}
	return out, nil
}

// Project returns a new tuple with only the given columns, in that order.
func (t *Tuple) Project(columns ...string) (*Tuple, error) {
	out := New()
	for _, c := range columns {
		v, ok := t.Get(c)
		if !ok {
			return nil, errs.NewColumnNotFoundError("Project", c)
		}
		if err := out.Set(c, v); err != nil {
			return nil, err
		}
	}
	if err := out.AttachSchema(columns); err != nil {
		return nil, err
	}
	return out, nil
}

// Compare orders tuples lexicographically by their values in canonical order,
// then by length. Column names are not compared.
func (t *Tuple) Compare(other *Tuple) (int, error) {
	n := min(len(t.values), len(other.values))
	for i := 0; i < n; i++ {
		c, err := Compare(t.values[i], other.values[i])
		if err != nil {
			return 0, err
		}
		if c != 0 {
			return c, nil
		}
	}
	switch {
	case len(t.values) < len(other.values):
		return -1, nil
	case len(t.values) > len(other.values):
		return 1, nil
	default:
		return 0, nil
	}
}

// Equal reports whether two tuples hold equal values.
func (t *Tuple) Equal(other *Tuple) bool {
	c, err := t.Compare(other)
	return err == nil && c == 0
}

// Size returns an estimate of the encoded size in bytes.
func (t *Tuple) Size() int64 {
	var n int64 = 1
	for i, v := range t.values {
		n += 1 + valueSize(v)
		if t.names != nil {
			n += int64(len(t.names[i]))
		}
	}
	return n
}

func valueSize(v any) int64 {
	switch v := v.(type) {
	case nil, bool, int8:
		return 1
	case int16:
		return 2
	case int32, float32:
		return 4
	case string:
		return int64(len(v)) + 2
	case []byte:
		return int64(len(v)) + 2
	case Map:
		var n int64 = 2
		for k, val := range v {
			n += int64(len(k)+len(val)) + 4
		}
		return n
	case *Tuple:
		return v.Size()
	case Partial:
		return 1 + valueSize(v.Value)
	default:
		return 8
	}
}

func (t *Tuple) String() string {
	if t == nil {
		return "()"
	}
	var sb strings.Builder
	sb.WriteByte('(')
	if t.names == nil {
		for i, v := range t.values {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(formatValue(v))
		}
	} else {
		for i, name := range t.Columns() {
			if i > 0 {
				sb.WriteString(", ")
			}
			v, _ := t.Get(name)
			sb.WriteString(name)
			sb.WriteByte('=')
			sb.WriteString(formatValue(v))
		}
	}
	sb.WriteByte(')')
	return sb.String()
}
