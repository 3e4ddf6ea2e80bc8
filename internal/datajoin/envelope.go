// Package datajoin defines the keyed envelope exchanged between the shuffle
// and the join engine: a user key and a row, both tagged with the dataset
// they came from, plus the ordering and partitioning contracts over keys.
package datajoin

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	errs "github.com/paveg/tuplejoin/internal/errors"
	"github.com/paveg/tuplejoin/internal/tuple"
)

// Tag identifies a dataset. It is written as two big-endian bytes so that the
// byte order of encoded tags matches their numeric order.
type Tag uint16

// MaxDatasets is the number of distinct dataset tags.
const MaxDatasets = 1 << 16

// Key is a user key tagged with the dataset it belongs to. Payload is a
// *tuple.Tuple or a tuple.Writable.
type Key struct {
	Tag     Tag
	Payload any
}

// Value is a row tagged with the dataset it belongs to.
type Value struct {
	Tag     Tag
	Payload any
}

// NewKey builds a key for the given dataset.
func NewKey(tag Tag, payload any) Key { return Key{Tag: tag, Payload: payload} }

// NewValue builds a value for the given dataset.
func NewValue(tag Tag, payload any) Value { return Value{Tag: tag, Payload: payload} }

// Tuple returns the payload as a tuple, or nil when it is not one.
func (k Key) Tuple() *tuple.Tuple {
	t, _ := k.Payload.(*tuple.Tuple)
	return t
}

// Tuple returns the payload as a tuple, or nil when it is not one.
func (v Value) Tuple() *tuple.Tuple {
	t, _ := v.Payload.(*tuple.Tuple)
	return t
}

func (k Key) String() string { return fmt.Sprintf("key[%d]%v", k.Tag, k.Payload) }

func (v Value) String() string { return fmt.Sprintf("value[%d]%v", v.Tag, v.Payload) }

// MarshalBinary encodes the tag followed by the tagged payload.
func (k Key) MarshalBinary() ([]byte, error) {
	return marshalTagged(k.Tag, k.Payload)
}

// UnmarshalBinary decodes data written by MarshalBinary.
func (k *Key) UnmarshalBinary(data []byte) error {
	tag, payload, err := unmarshalTagged("Key.UnmarshalBinary", data)
	if err != nil {
		return err
	}
	k.Tag, k.Payload = tag, payload
	return nil
}

// MarshalBinary encodes the tag followed by the tagged payload.
func (v Value) MarshalBinary() ([]byte, error) {
	return marshalTagged(v.Tag, v.Payload)
}

// UnmarshalBinary decodes data written by MarshalBinary.
func (v *Value) UnmarshalBinary(data []byte) error {
	tag, payload, err := unmarshalTagged("Value.UnmarshalBinary", data)
	if err != nil {
		return err
	}
	v.Tag, v.Payload = tag, payload
	return nil
}

func checkPayload(op string, payload any) error {
	switch payload.(type) {
	case *tuple.Tuple, tuple.Writable:
		return nil
	default:
		return errs.NewInvalidInputError(op, fmt.Sprintf("payload must be a tuple or writable, got %T", payload))
	}
}

func marshalTagged(tag Tag, payload any) ([]byte, error) {
	if err := checkPayload("MarshalBinary", payload); err != nil {
		return nil, err
	}
	buf := binary.BigEndian.AppendUint16(make([]byte, 0, 64), uint16(tag))
	return tuple.AppendValue(buf, payload)
}

func unmarshalTagged(op string, data []byte) (Tag, any, error) {
	if len(data) < 2 {
		return 0, nil, errs.NewDecodeError(op, "missing dataset tag", io.ErrUnexpectedEOF)
	}
	tag := Tag(binary.BigEndian.Uint16(data))
	d := tuple.NewDecoder(bytes.NewReader(data[2:]))
	payload, err := d.DecodeValue()
	if err == io.EOF {
		return 0, nil, errs.NewDecodeError(op, "missing payload", io.ErrUnexpectedEOF)
	}
	if err != nil {
		return 0, nil, err
	}
	if err := checkPayload(op, payload); err != nil {
		return 0, nil, errs.NewDecodeError(op, err.Error(), nil)
	}
	return tag, payload, nil
}
