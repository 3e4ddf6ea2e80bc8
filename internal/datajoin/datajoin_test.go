package datajoin_test

import (
	"math/rand"
	"slices"
	"testing"

	"github.com/paveg/tuplejoin/internal/datajoin"
	errs "github.com/paveg/tuplejoin/internal/errors"
	"github.com/paveg/tuplejoin/internal/tuple"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func key(tag datajoin.Tag, pairs ...any) datajoin.Key {
	return datajoin.NewKey(tag, tuple.Of(pairs...))
}

func TestKeyRoundTrip(t *testing.T) {
	k := key(7, "user", "alice", "region", int32(3))
	data, err := k.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 7}, data[:2])

	var got datajoin.Key
	require.NoError(t, got.UnmarshalBinary(data))
	assert.Equal(t, datajoin.Tag(7), got.Tag)
	assert.True(t, k.Tuple().Equal(got.Tuple()))
	v, ok := got.Tuple().Get("user")
	assert.True(t, ok)
	assert.Equal(t, "alice", v)
}

func TestValueRoundTrip(t *testing.T) {
	v := datajoin.NewValue(1, tuple.Of("amount", 12.5))
	data, err := v.MarshalBinary()
	require.NoError(t, err)

	var got datajoin.Value
	require.NoError(t, got.UnmarshalBinary(data))
	assert.Equal(t, datajoin.Tag(1), got.Tag)
	assert.True(t, v.Tuple().Equal(got.Tuple()))
}

func TestMarshalRejectsBadPayload(t *testing.T) {
	_, err := datajoin.NewKey(0, "plain string").MarshalBinary()
	assert.ErrorIs(t, err, errs.ErrInvalidInput)

	var k datajoin.Key
	assert.ErrorIs(t, k.UnmarshalBinary([]byte{0}), errs.ErrDecode)
	assert.ErrorIs(t, k.UnmarshalBinary([]byte{0, 1}), errs.ErrDecode)
}

func TestComparatorTagTieBreak(t *testing.T) {
	c := datajoin.NewComparator()

	r, err := c.Compare(key(0, "id", int64(1)), key(1, "id", int64(1)))
	require.NoError(t, err)
	assert.Equal(t, -1, r)

	r, err = c.Compare(key(5, "id", int64(1)), key(0, "id", int64(2)))
	require.NoError(t, err)
	assert.Equal(t, -1, r, "payload decides before tag")

	eq, err := datajoin.GroupEqual(key(0, "id", int64(1)), key(3, "id", int64(1)))
	require.NoError(t, err)
	assert.True(t, eq)
}

func TestComparatorSortColumns(t *testing.T) {
	tests := []struct {
		name    string
		columns []datajoin.SortColumn
		a, b    datajoin.Key
		want    int
	}{
		{
			name:    "descending",
			columns: []datajoin.SortColumn{datajoin.Desc("n")},
			a:       key(0, "n", int64(1)),
			b:       key(0, "n", int64(2)),
			want:    1,
		},
		{
			name:    "second column decides",
			columns: []datajoin.SortColumn{datajoin.Asc("a"), datajoin.Desc("b")},
			a:       key(0, "a", "x", "b", int64(1)),
			b:       key(0, "a", "x", "b", int64(2)),
			want:    1,
		},
		{
			name:    "lexical string order",
			columns: []datajoin.SortColumn{datajoin.Asc("s")},
			a:       key(0, "s", "10"),
			b:       key(0, "s", "9"),
			want:    -1,
		},
		{
			name:    "force numeric",
			columns: []datajoin.SortColumn{{Name: "S", ForceNumeric: true}},
			a:       key(0, "s", "10"),
			b:       key(0, "s", "9"),
			want:    1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := datajoin.NewComparator(tt.columns...)
			got, err := c.Compare(tt.a, tt.b)
			require.NoError(t, err)
			assert.Equal(t, tt.want, sign(got))
		})
	}
}

func TestComparatorForceNumericError(t *testing.T) {
	c := datajoin.NewComparator(datajoin.SortColumn{Name: "s", ForceNumeric: true})
	_, err := c.Compare(key(0, "s", "abc"), key(0, "s", "1"))
	assert.ErrorIs(t, err, errs.ErrTypeMismatch)
}

func TestComparatorTotalOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	keys := make([]datajoin.Key, 200)
	for i := range keys {
		keys[i] = key(datajoin.Tag(rng.Intn(3)), "id", int64(rng.Intn(20)), "name", string(rune('a'+rng.Intn(3))))
	}
	c := datajoin.NewComparator(datajoin.Desc("name"))

	var sortErr error
	slices.SortFunc(keys, func(a, b datajoin.Key) int {
		r, err := c.Compare(a, b)
		if err != nil {
			sortErr = err
		}
		return r
	})
	require.NoError(t, sortErr)

	for i := 1; i < len(keys); i++ {
		r, err := c.Compare(keys[i-1], keys[i])
		require.NoError(t, err)
		assert.LessOrEqual(t, r, 0)

		// antisymmetry
		back, err := c.Compare(keys[i], keys[i-1])
		require.NoError(t, err)
		assert.Equal(t, -sign(r), sign(back))

		// within a key group tags never decrease
		same, err := datajoin.GroupEqual(keys[i-1], keys[i])
		require.NoError(t, err)
		if same {
			assert.LessOrEqual(t, keys[i-1].Tag, keys[i].Tag)
		}
	}
}

func TestCompareEncoded(t *testing.T) {
	c := datajoin.NewComparator()
	a, err := key(1, "id", int64(1)).MarshalBinary()
	require.NoError(t, err)
	b, err := key(0, "id", int64(1)).MarshalBinary()
	require.NoError(t, err)

	r, err := c.CompareEncoded(a, b)
	require.NoError(t, err)
	assert.Equal(t, 1, r)
}

func TestPartitionerIgnoresTag(t *testing.T) {
	var p datajoin.Partitioner
	for i := int64(0); i < 50; i++ {
		a := p.Partition(key(0, "id", i), 7)
		b := p.Partition(key(9, "id", i), 7)
		assert.Equal(t, a, b)
		assert.GreaterOrEqual(t, a, 0)
		assert.Less(t, a, 7)
	}
	assert.Equal(t, 0, p.Partition(key(0, "id", int64(3)), 1))
}

func TestEnvelopeTuple(t *testing.T) {
	k := key(2, "id", int64(9))
	v := datajoin.NewValue(2, tuple.Of("id", int64(9), "name", "x"))

	env, err := datajoin.EnvelopeTuple(k, v)
	require.NoError(t, err)

	// survives a trip through the codec
	data, err := env.MarshalBinary()
	require.NoError(t, err)
	decoded, err := tuple.Decode(data, env.Columns())
	require.NoError(t, err)

	gk, gv, err := datajoin.FromEnvelopeTuple(decoded)
	require.NoError(t, err)
	assert.Equal(t, datajoin.Tag(2), gk.Tag)
	assert.Equal(t, datajoin.Tag(2), gv.Tag)
	assert.True(t, k.Tuple().Equal(gk.Tuple()))
	name, _ := gv.Tuple().Get("name")
	assert.Equal(t, "x", name)

	cmp := datajoin.EnvelopeComparator(datajoin.NewComparator())
	other, err := datajoin.EnvelopeTuple(key(1, "id", int64(9)), v)
	require.NoError(t, err)
	r, err := cmp(env, other)
	require.NoError(t, err)
	assert.Equal(t, 1, r)
}

func sign(c int) int {
	switch {
	case c < 0:
		return -1
	case c > 0:
		return 1
	default:
		return 0
	}
}
