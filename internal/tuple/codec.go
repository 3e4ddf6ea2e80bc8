package tuple

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	errs "github.com/paveg/tuplejoin/internal/errors"
)

// maxFieldLen bounds any length prefix read from the wire so that a corrupt
// stream fails fast instead of allocating gigabytes.
const maxFieldLen = 1 << 30

// MarshalBinary encodes the tuple: a uvarint column count followed by each
// value, tag first, in canonical column order. Names are not written.
func (t *Tuple) MarshalBinary() ([]byte, error) {
	return AppendTuple(nil, t)
}

// UnmarshalBinary decodes values written by MarshalBinary. A schema already
// attached to t is reattached when its length matches.
func (t *Tuple) UnmarshalBinary(data []byte) error {
	d := NewDecoder(bytes.NewReader(data))
	decoded, err := d.Decode(nil)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return errs.NewDecodeError("UnmarshalBinary", "empty input", io.ErrUnexpectedEOF)
		}
		return err
	}
	schema := t.schema
	*t = *decoded
	if schema != nil && len(schema) == len(t.values) {
		return t.AttachSchema(schema)
	}
	return nil
}

// Decode decodes a tuple from data and attaches schema when it is non-nil.
func Decode(data []byte, schema []string) (*Tuple, error) {
	t, err := NewDecoder(bytes.NewReader(data)).Decode(schema)
	if errors.Is(err, io.EOF) {
		return nil, errs.NewDecodeError("Decode", "empty input", io.ErrUnexpectedEOF)
	}
	return t, err
}

// AppendTuple appends the encoding of t to dst.
func AppendTuple(dst []byte, t *Tuple) ([]byte, error) {
	dst = binary.AppendUvarint(dst, uint64(len(t.values)))
	for i, v := range t.values {
		var err error
		dst, err = AppendValue(dst, v)
		if err != nil {
			if ee, ok := err.(*errs.EngineError); ok && ee.Column == "" && t.names != nil {
				ee.Column = t.names[i]
			}
			return nil, err
		}
	}
	return dst, nil
}

// AppendValue appends a tag byte and the value payload to dst.
func AppendValue(dst []byte, v any) ([]byte, error) {
	tag, err := TagOf(v)
	if err != nil {
		return nil, err
	}
	dst = append(dst, byte(tag))
	switch tag {
	case TagNull:
		return dst, nil
	case TagByte:
		return append(dst, byte(v.(int8))), nil
	case TagShort:
		return binary.BigEndian.AppendUint16(dst, uint16(v.(int16))), nil
	case TagInt:
		return binary.BigEndian.AppendUint32(dst, uint32(v.(int32))), nil
	case TagLong:
		return binary.BigEndian.AppendUint64(dst, uint64(v.(int64))), nil
	case TagFloat:
		return binary.BigEndian.AppendUint32(dst, math.Float32bits(v.(float32))), nil
	case TagDouble:
		return binary.BigEndian.AppendUint64(dst, math.Float64bits(v.(float64))), nil
	case TagBoolean:
		if v.(bool) {
			return append(dst, 1), nil
		}
		return append(dst, 0), nil
	case TagString:
		return appendString(dst, v.(string)), nil
	case TagDate:
		return binary.BigEndian.AppendUint64(dst, uint64(v.(Date).Millis())), nil
	case TagTime:
		return binary.BigEndian.AppendUint64(dst, uint64(v.(Time).Millis())), nil
	case TagTimestamp:
		return binary.BigEndian.AppendUint64(dst, uint64(v.(Timestamp).Nanos())), nil
	case TagMap:
		m := v.(Map)
		dst = binary.AppendUvarint(dst, uint64(len(m)))
		for _, k := range m.sortedKeys() {
			dst = appendString(dst, k)
			dst = appendString(dst, m[k])
		}
		return dst, nil
	case TagBytes:
		b := v.([]byte)
		dst = binary.AppendUvarint(dst, uint64(len(b)))
		return append(dst, b...), nil
	case TagTuple:
		block, err := appendNested(nil, v.(*Tuple))
		if err != nil {
			return nil, err
		}
		dst = binary.AppendUvarint(dst, uint64(len(block)))
		return append(dst, block...), nil
	case TagWritable, TagComparable:
		w := v.(Writable)
		data, err := w.MarshalBinary()
		if err != nil {
			return nil, errs.NewInternalError("AppendValue", err)
		}
		dst = appendString(dst, w.WritableName())
		dst = binary.AppendUvarint(dst, uint64(len(data)))
		return append(dst, data...), nil
	case TagPartial:
		return AppendValue(dst, v.(Partial).Value)
	default:
		return nil, errs.NewUnsupportedTypeError("AppendValue", "", tag.String())
	}
}

// appendNested writes a nested tuple with its column names, since a nested
// value has no outer schema to reattach.
func appendNested(dst []byte, t *Tuple) ([]byte, error) {
	dst = binary.AppendUvarint(dst, uint64(len(t.names)))
	for _, n := range t.names {
		dst = appendString(dst, n)
	}
	return AppendTuple(dst, t)
}

func appendString(dst []byte, s string) []byte {
	dst = binary.AppendUvarint(dst, uint64(len(s)))
	return append(dst, s...)
}

// Encoder writes tuples and values to a stream. It reuses one scratch buffer
// and is not safe for concurrent use.
type Encoder struct {
	w   io.Writer
	buf []byte
}

// NewEncoder returns an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w, buf: make([]byte, 0, 256)}
}

// Encode writes the encoding of t.
func (e *Encoder) Encode(t *Tuple) error {
	var err error
	e.buf, err = AppendTuple(e.buf[:0], t)
	if err != nil {
		e.buf = e.buf[:0]
		return err
	}
	_, err = e.w.Write(e.buf)
	return err
}

// EncodeValue writes a single tagged value.
func (e *Encoder) EncodeValue(v any) error {
	var err error
	e.buf, err = AppendValue(e.buf[:0], v)
	if err != nil {
		e.buf = e.buf[:0]
		return err
	}
	_, err = e.w.Write(e.buf)
	return err
}

type byteReader interface {
	io.Reader
	io.ByteReader
}

// Decoder reads tuples and values from a stream. Readers without ReadByte are
// wrapped in a bufio.Reader, so the decoder must own the stream from then on.
type Decoder struct {
	r       byteReader
	scratch [8]byte
}

// NewDecoder returns a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	br, ok := r.(byteReader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &Decoder{r: br}
}

// Decode reads one tuple and attaches schema when it is non-nil. It returns
// io.EOF when the stream ends cleanly before a tuple starts.
func (d *Decoder) Decode(schema []string) (*Tuple, error) {
	n, err := binary.ReadUvarint(d.r)
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, d.decodeErr("read column count", err)
	}
	t, err := d.readTupleBody(n)
	if err != nil {
		return nil, err
	}
	if schema != nil {
		if err := t.AttachSchema(schema); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// DecodeValue reads one tagged value. It returns io.EOF when the stream ends
// cleanly before the tag byte.
func (d *Decoder) DecodeValue() (any, error) {
	b, err := d.r.ReadByte()
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, d.decodeErr("read tag", err)
	}
	return d.readPayload(Tag(b))
}

func (d *Decoder) readTupleBody(n uint64) (*Tuple, error) {
	if n > maxFieldLen {
		return nil, errs.NewDecodeError("Decode", fmt.Sprintf("column count %d out of range", n), nil)
	}
	t := &Tuple{values: make([]any, n)}
	for i := range t.values {
		v, err := d.DecodeValue()
		if err != nil {
			return nil, d.decodeErr("read value", err)
		}
		t.values[i] = v
	}
	return t, nil
}

func (d *Decoder) readPayload(tag Tag) (any, error) {
	switch tag {
	case TagNull:
		return nil, nil
	case TagByte:
		b, err := d.r.ReadByte()
		if err != nil {
			return nil, d.decodeErr("read byte", err)
		}
		return int8(b), nil
	case TagShort:
		if err := d.fill(2); err != nil {
			return nil, err
		}
		return int16(binary.BigEndian.Uint16(d.scratch[:2])), nil
	case TagInt:
		if err := d.fill(4); err != nil {
			return nil, err
		}
		return int32(binary.BigEndian.Uint32(d.scratch[:4])), nil
	case TagLong:
		u, err := d.readUint64()
		return int64(u), err
	case TagFloat:
		if err := d.fill(4); err != nil {
			return nil, err
		}
		return math.Float32frombits(binary.BigEndian.Uint32(d.scratch[:4])), nil
	case TagDouble:
		u, err := d.readUint64()
		return math.Float64frombits(u), err
	case TagBoolean:
		b, err := d.r.ReadByte()
		if err != nil {
			return nil, d.decodeErr("read boolean", err)
		}
		return b != 0, nil
	case TagString:
		return d.readString()
	case TagDate:
		u, err := d.readUint64()
		return DateFromMillis(int64(u)), err
	case TagTime:
		u, err := d.readUint64()
		return TimeFromMillis(int64(u)), err
	case TagTimestamp:
		u, err := d.readUint64()
		return TimestampFromNanos(int64(u)), err
	case TagMap:
		n, err := d.readLen()
		if err != nil {
			return nil, err
		}
		m := make(Map, n)
		for i := 0; i < n; i++ {
			k, err := d.readString()
			if err != nil {
				return nil, err
			}
			v, err := d.readString()
			if err != nil {
				return nil, err
			}
			m[k] = v
		}
		return m, nil
	case TagBytes:
		return d.readBytes()
	case TagTuple:
		return d.readNested()
	case TagWritable, TagComparable:
		name, err := d.readString()
		if err != nil {
			return nil, err
		}
		data, err := d.readBytes()
		if err != nil {
			return nil, err
		}
		factory, ok := lookupWritable(name)
		if !ok {
			return nil, errs.NewDecodeError("Decode", fmt.Sprintf("no writable registered as %q", name), nil)
		}
		w, err := factory(data)
		if err != nil {
			return nil, errs.NewDecodeError("Decode", fmt.Sprintf("writable %q", name), err)
		}
		return w, nil
	case TagPartial:
		v, err := d.DecodeValue()
		if err != nil {
			return nil, d.decodeErr("read partial", err)
		}
		return Partial{Value: v}, nil
	default:
		return nil, errs.NewDecodeError("Decode", fmt.Sprintf("unknown tag %d", byte(tag)), nil)
	}
}

func (d *Decoder) readNested() (*Tuple, error) {
	// The block length lets readers skip nested values; decoding walks it.
	if _, err := d.readLen(); err != nil {
		return nil, err
	}
	nameCount, err := d.readLen()
	if err != nil {
		return nil, err
	}
	var names []string
	if nameCount > 0 {
		names = make([]string, nameCount)
		for i := range names {
			if names[i], err = d.readString(); err != nil {
				return nil, err
			}
		}
	}
	n, err := binary.ReadUvarint(d.r)
	if err != nil {
		return nil, d.decodeErr("read nested column count", err)
	}
	t, err := d.readTupleBody(n)
	if err != nil {
		return nil, err
	}
	if names != nil {
		if len(names) != len(t.values) {
			return nil, errs.NewDecodeError("Decode",
				fmt.Sprintf("nested tuple has %d names for %d values", len(names), len(t.values)), nil)
		}
		t.names = names
	} else if n == 0 {
		t.names = []string{}
	}
	return t, nil
}

func (d *Decoder) fill(n int) error {
	if _, err := io.ReadFull(d.r, d.scratch[:n]); err != nil {
		return d.decodeErr("read fixed-width value", err)
	}
	return nil
}

func (d *Decoder) readUint64() (uint64, error) {
	if err := d.fill(8); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(d.scratch[:8]), nil
}

func (d *Decoder) readLen() (int, error) {
	n, err := binary.ReadUvarint(d.r)
	if err != nil {
		return 0, d.decodeErr("read length", err)
	}
	if n > maxFieldLen {
		return 0, errs.NewDecodeError("Decode", fmt.Sprintf("length %d out of range", n), nil)
	}
	return int(n), nil
}

func (d *Decoder) readBytes() ([]byte, error) {
	n, err := d.readLen()
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(d.r, b); err != nil {
		return nil, d.decodeErr("read bytes", err)
	}
	return b, nil
}

func (d *Decoder) readString() (string, error) {
	b, err := d.readBytes()
	return string(b), err
}

// decodeErr turns a mid-value end of stream into a truncation error and keeps
// existing decode errors as they are.
func (d *Decoder) decodeErr(what string, err error) error {
	var ee *errs.EngineError
	if errors.As(err, &ee) {
		return err
	}
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return errs.NewDecodeError("Decode", what, err)
}

// WriteValue writes a single tagged value to w.
func WriteValue(w io.Writer, v any) error {
	buf, err := AppendValue(nil, v)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// ReadValue reads a single tagged value from r. Callers reading several values
// from the same stream should use a Decoder so buffering is shared.
func ReadValue(r io.Reader) (any, error) {
	return NewDecoder(r).DecodeValue()
}
