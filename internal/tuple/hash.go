package tuple

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"
)

// Hash returns the xxhash of the tuple's values in canonical order. Tuples
// that compare equal hash equally.
func (t *Tuple) Hash() uint64 {
	d := xxhash.New()
	var buf []byte
	for _, v := range t.values {
		buf = appendHashValue(buf[:0], v)
		_, _ = d.Write(buf)
	}
	return d.Sum64()
}

// HashValue hashes a single value consistently with Compare: numerics hash
// their float64 image and date-like values hash epoch millis.
func HashValue(v any) uint64 {
	return xxhash.Sum64(appendHashValue(nil, v))
}

// appendHashValue writes a normalised image of v. The leading byte separates
// value classes that Compare never treats as equal.
func appendHashValue(dst []byte, v any) []byte {
	v = Unwrap(v)
	switch v := v.(type) {
	case nil:
		return append(dst, 0)
	case int8, int16, int32, int64, float32, float64:
		f := toFloat(v)
		switch {
		case f == 0:
			f = 0
		case math.IsNaN(f):
			f = math.NaN()
		}
		dst = append(dst, 1)
		return binary.BigEndian.AppendUint64(dst, math.Float64bits(f))
	case bool:
		if v {
			return append(dst, 2, 1)
		}
		return append(dst, 2, 0)
	case string:
		dst = append(dst, 3)
		dst = binary.AppendUvarint(dst, uint64(len(v)))
		return append(dst, v...)
	case []byte:
		dst = append(dst, 4)
		dst = binary.AppendUvarint(dst, uint64(len(v)))
		return append(dst, v...)
	case Date, Time:
		dst = append(dst, 5)
		return binary.BigEndian.AppendUint64(dst, uint64(toMillis(v)))
	case Timestamp:
		// Timestamps equal at nanosecond precision are equal at millis too.
		dst = append(dst, 5)
		return binary.BigEndian.AppendUint64(dst, uint64(v.Millis()))
	case Map:
		dst = append(dst, 6)
		dst = binary.AppendUvarint(dst, uint64(len(v)))
		for _, k := range v.sortedKeys() {
			dst = binary.AppendUvarint(dst, uint64(len(k)))
			dst = append(dst, k...)
			dst = binary.AppendUvarint(dst, uint64(len(v[k])))
			dst = append(dst, v[k]...)
		}
		return dst
	case *Tuple:
		dst = append(dst, 7)
		dst = binary.AppendUvarint(dst, uint64(len(v.values)))
		for _, inner := range v.values {
			dst = appendHashValue(dst, inner)
		}
		return dst
	case Writable:
		dst = append(dst, 8)
		dst = append(dst, v.WritableName()...)
		data, err := v.MarshalBinary()
		if err == nil {
			dst = append(dst, data...)
		}
		return dst
	default:
		return append(dst, 9)
	}
}
