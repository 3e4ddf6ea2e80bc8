package tuple

import (
	"encoding"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"
)

// Date is a calendar value stored as UTC epoch milliseconds.
type Date struct{ t time.Time }

// NewDate truncates t to millisecond precision in UTC.
func NewDate(t time.Time) Date { return Date{t: t.UTC().Truncate(time.Millisecond)} }

// DateFromMillis builds a Date from epoch milliseconds.
func DateFromMillis(ms int64) Date { return Date{t: time.UnixMilli(ms).UTC()} }

// Millis returns the epoch milliseconds.
func (d Date) Millis() int64 { return d.t.UnixMilli() }

// Time returns the underlying UTC time.
func (d Date) Time() time.Time { return d.t }

func (d Date) String() string { return d.t.Format(time.DateOnly) }

// Time is a time-of-day value stored as UTC epoch milliseconds.
type Time struct{ t time.Time }

// NewTime truncates t to millisecond precision in UTC.
func NewTime(t time.Time) Time { return Time{t: t.UTC().Truncate(time.Millisecond)} }

// TimeFromMillis builds a Time from epoch milliseconds.
func TimeFromMillis(ms int64) Time { return Time{t: time.UnixMilli(ms).UTC()} }

// Millis returns the epoch milliseconds.
func (t Time) Millis() int64 { return t.t.UnixMilli() }

// Time returns the underlying UTC time.
func (t Time) Time() time.Time { return t.t }

func (t Time) String() string { return t.t.Format(time.TimeOnly) }

// Timestamp is an instant with nanosecond precision.
type Timestamp struct{ t time.Time }

// NewTimestamp converts t to UTC, dropping any monotonic clock reading.
func NewTimestamp(t time.Time) Timestamp { return Timestamp{t: t.UTC()} }

// TimestampFromNanos builds a Timestamp from epoch nanoseconds.
func TimestampFromNanos(ns int64) Timestamp { return Timestamp{t: time.Unix(0, ns).UTC()} }

// Millis returns the epoch milliseconds.
func (ts Timestamp) Millis() int64 { return ts.t.UnixMilli() }

// Nanos returns the epoch nanoseconds.
func (ts Timestamp) Nanos() int64 { return ts.t.UnixNano() }

// Time returns the underlying UTC time.
func (ts Timestamp) Time() time.Time { return ts.t }

func (ts Timestamp) String() string { return ts.t.Format(time.RFC3339Nano) }

// Map is a case-insensitive string to string map. Keys are stored lower-cased.
type Map map[string]string

// NewMap returns an empty Map.
func NewMap() Map { return make(Map) }

// Put stores v under the lower-cased key.
func (m Map) Put(key, v string) { m[strings.ToLower(key)] = v }

// Get looks a key up case-insensitively.
func (m Map) Get(key string) (string, bool) {
	v, ok := m[strings.ToLower(key)]
	return v, ok
}

func (m Map) sortedKeys() []string {
	return slices.Sorted(maps.Keys(m))
}

func (m Map) clone() Map {
	return maps.Clone(m)
}

// Partial wraps the intermediate result produced by a combiner. It compares
// and hashes as the wrapped value; group functions recognise it and merge it
// into their running state instead of counting it as a raw row.
type Partial struct {
	Value any
}

// Unwrap strips any Partial wrappers from v.
func Unwrap(v any) any {
	for {
		p, ok := v.(Partial)
		if !ok {
			return v
		}
		v = p.Value
	}
}

// IsPartial reports whether v is a combiner partial result.
func IsPartial(v any) bool {
	_, ok := v.(Partial)
	return ok
}

// Writable is an externally serializable value. The name identifies the
// decoder registered with RegisterWritable.
type Writable interface {
	encoding.BinaryMarshaler
	WritableName() string
}

// Comparable is a Writable with its own total order.
type Comparable interface {
	Writable
	CompareTo(other Comparable) (int, error)
}

// WritableFactory rebuilds a Writable from its marshalled bytes.
type WritableFactory func(data []byte) (Writable, error)

var (
	writableMu       sync.RWMutex
	writableRegistry = make(map[string]WritableFactory)
)

// RegisterWritable makes a Writable type decodable. Registering a name twice
// replaces the previous factory.
func RegisterWritable(name string, factory WritableFactory) {
	writableMu.Lock()
	defer writableMu.Unlock()
	writableRegistry[name] = factory
}

func lookupWritable(name string) (WritableFactory, bool) {
	writableMu.RLock()
	defer writableMu.RUnlock()
	f, ok := writableRegistry[name]
	return f, ok
}

// cloneValue deep-copies mutable values.
func cloneValue(v any) any {
	switch v := v.(type) {
	case []byte:
		return slices.Clone(v)
	case Map:
		return v.clone()
	case *Tuple:
		return v.Clone()
	case Partial:
		return Partial{Value: cloneValue(v.Value)}
	default:
		return v
	}
}

func formatValue(v any) string {
	switch v := v.(type) {
	case nil:
		return "null"
	case string:
		return fmt.Sprintf("%q", v)
	case []byte:
		return fmt.Sprintf("0x%x", v)
	case Partial:
		return fmt.Sprintf("partial(%s)", formatValue(v.Value))
	case Map:
		var sb strings.Builder
		sb.WriteByte('{')
		for i, k := range v.sortedKeys() {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%s: %q", k, v[k])
		}
		sb.WriteByte('}')
		return sb.String()
	default:
		return fmt.Sprint(v)
	}
}
