// Package tuple implements the typed row used throughout the engine and its
// self-describing binary codec.
//
// A Tuple maps lower-cased column names to values drawn from a closed set of
// types. Every value is written with a one-byte Tag in front of it so that a
// reader can dispatch without knowing the schema, and columns are always
// written in canonical (alphabetical) order so two tuples with the same columns
// encode identically no matter how they were built.
package tuple

import (
	"fmt"
	"time"

	errs "github.com/paveg/tuplejoin/internal/errors"
)

// Tag identifies the type of an encoded value.
type Tag byte

// Value tags. The numbering is part of the wire format.
const (
	TagByte Tag = iota + 1
	TagShort
	TagInt
	TagLong
	TagFloat
	TagDouble
	TagBoolean
	TagString
	TagDate
	TagTime
	TagTimestamp
	TagMap
	TagBytes
	TagTuple
	TagWritable
	TagComparable
	TagNull
	TagPartial
)

var tagNames = [...]string{
	TagByte:       "byte",
	TagShort:      "short",
	TagInt:        "int",
	TagLong:       "long",
	TagFloat:      "float",
	TagDouble:     "double",
	TagBoolean:    "boolean",
	TagString:     "string",
	TagDate:       "date",
	TagTime:       "time",
	TagTimestamp:  "timestamp",
	TagMap:        "map",
	TagBytes:      "bytes",
	TagTuple:      "tuple",
	TagWritable:   "writable",
	TagComparable: "comparable",
	TagNull:       "null",
	TagPartial:    "partial",
}

func (t Tag) String() string {
	if t.Valid() {
		return tagNames[t]
	}
	return fmt.Sprintf("tag(%d)", byte(t))
}

// Valid reports whether t is one of the defined tags.
func (t Tag) Valid() bool {
	return t >= TagByte && t <= TagPartial
}

// IsNumeric reports whether values of this tag promote to float64 when
// compared with another numeric tag.
func (t Tag) IsNumeric() bool {
	switch t {
	case TagByte, TagShort, TagInt, TagLong, TagFloat, TagDouble:
		return true
	default:
		return false
	}
}

// IsDateLike reports whether values of this tag promote to epoch millis when
// compared with another date-like tag.
func (t Tag) IsDateLike() bool {
	return t == TagDate || t == TagTime || t == TagTimestamp
}

// TagOf returns the tag for a Go value. Comparable is checked before Writable
// since every Comparable is also a Writable.
func TagOf(v any) (Tag, error) {
	switch v := v.(type) {
	case nil:
		return TagNull, nil
	case int8:
		return TagByte, nil
	case int16:
		return TagShort, nil
	case int32:
		return TagInt, nil
	case int64:
		return TagLong, nil
	case float32:
		return TagFloat, nil
	case float64:
		return TagDouble, nil
	case bool:
		return TagBoolean, nil
	case string:
		return TagString, nil
	case Date:
		return TagDate, nil
	case Time:
		return TagTime, nil
	case Timestamp:
		return TagTimestamp, nil
	case Map:
		return TagMap, nil
	case []byte:
		return TagBytes, nil
	case *Tuple:
		if v == nil {
			return TagNull, nil
		}
		return TagTuple, nil
	case Partial:
		return TagPartial, nil
	case Comparable:
		return TagComparable, nil
	case Writable:
		return TagWritable, nil
	default:
		return 0, errs.NewUnsupportedTypeError("TagOf", "", fmt.Sprintf("%T", v))
	}
}

// Normalize converts convenience Go types into their tagged form: int becomes
// a long and time.Time becomes a Timestamp. Other values are returned as-is.
func Normalize(v any) any {
	switch v := v.(type) {
	case int:
		return int64(v)
	case time.Time:
		return NewTimestamp(v)
	case *Tuple:
		if v == nil {
			return nil
		}
		return v
	default:
		return v
	}
}
