package datajoin

import (
	"fmt"

	errs "github.com/paveg/tuplejoin/internal/errors"
	"github.com/paveg/tuplejoin/internal/tuple"
)

// Envelope tuple columns. A shuffled record is stored as a tuple so it can be
// buffered in an external multiset.
const (
	EnvelopeKey   = "k"
	EnvelopeTag   = "t"
	EnvelopeValue = "v"
)

// EnvelopeTuple packs a key/value pair into a tuple. The key's tag is used for
// both halves.
func EnvelopeTuple(k Key, v Value) (*tuple.Tuple, error) {
	if err := checkPayload("EnvelopeTuple", k.Payload); err != nil {
		return nil, err
	}
	t := tuple.New()
	if err := t.Set(EnvelopeKey, k.Payload); err != nil {
		return nil, err
	}
	if err := t.Set(EnvelopeTag, int32(k.Tag)); err != nil {
		return nil, err
	}
	if err := t.Set(EnvelopeValue, v.Payload); err != nil {
		return nil, err
	}
	return t, nil
}

// FromEnvelopeTuple unpacks a tuple built by EnvelopeTuple.
func FromEnvelopeTuple(t *tuple.Tuple) (Key, Value, error) {
	kp, ok := t.Get(EnvelopeKey)
	if !ok {
		return Key{}, Value{}, errs.NewColumnNotFoundError("FromEnvelopeTuple", EnvelopeKey)
	}
	rawTag, ok := t.Get(EnvelopeTag)
	if !ok {
		return Key{}, Value{}, errs.NewColumnNotFoundError("FromEnvelopeTuple", EnvelopeTag)
	}
	tag, ok := rawTag.(int32)
	if !ok || tag < 0 || tag >= MaxDatasets {
		return Key{}, Value{}, errs.NewInvalidInputError("FromEnvelopeTuple", fmt.Sprintf("bad dataset tag %v", rawTag))
	}
	vp, _ := t.Get(EnvelopeValue)
	return Key{Tag: Tag(tag), Payload: kp}, Value{Tag: Tag(tag), Payload: vp}, nil
}

// EnvelopeComparator adapts c to envelope tuples.
func EnvelopeComparator(c *Comparator) func(a, b *tuple.Tuple) (int, error) {
	return func(a, b *tuple.Tuple) (int, error) {
		ka, _, err := FromEnvelopeTuple(a)
		if err != nil {
			return 0, err
		}
		kb, _, err := FromEnvelopeTuple(b)
		if err != nil {
			return 0, err
		}
		return c.Compare(ka, kb)
	}
}
