package io_test

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/paveg/tuplejoin/internal/io"
	"github.com/paveg/tuplejoin/internal/tuple"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONReader(t *testing.T) {
	t.Run("array", func(t *testing.T) {
		data := `[{"name": "Alice", "age": 25, "score": 1.5, "ok": true},
		          {"name": "Bob", "age": null, "tags": [1, 2], "addr": {"city": "Oslo"}}]`

		rows, err := io.NewJSONReader(strings.NewReader(data), io.JSONOptions{Format: io.JSONArray}).Read()
		require.NoError(t, err)
		require.Len(t, rows, 2)

		age, _ := rows[0].Get("age")
		assert.Equal(t, int64(25), age)
		score, _ := rows[0].Get("score")
		assert.Equal(t, 1.5, score)

		age, ok := rows[1].Get("age")
		assert.True(t, ok)
		assert.Nil(t, age)
		tags, _ := rows[1].Get("tags")
		assert.Equal(t, "[1,2]", tags)
		addr, _ := rows[1].Get("addr")
		require.IsType(t, &tuple.Tuple{}, addr)
		city, _ := addr.(*tuple.Tuple).Get("city")
		assert.Equal(t, "Oslo", city)
	})

	t.Run("lines with limit", func(t *testing.T) {
		data := "{\"id\": 1}\n\n{\"id\": 2}\n{\"id\": 3}\n"

		rows, err := io.NewJSONReader(strings.NewReader(data), io.JSONOptions{Format: io.JSONLines, MaxRecords: 2}).Read()
		require.NoError(t, err)
		require.Len(t, rows, 2)
		id, _ := rows[1].Get("id")
		assert.Equal(t, int64(2), id)
	})

	t.Run("bad line reports line number", func(t *testing.T) {
		data := "{\"id\": 1}\n{oops}\n"

		_, err := io.NewJSONReader(strings.NewReader(data), io.DefaultJSONOptions()).Read()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "line 2")
	})

	t.Run("array is not objects", func(t *testing.T) {
		_, err := io.NewJSONReader(strings.NewReader(`[1, 2]`), io.JSONOptions{Format: io.JSONArray}).Read()
		assert.Error(t, err)
	})
}

func TestJSONWriter(t *testing.T) {
	at := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	rows := []*tuple.Tuple{
		tuple.Of("name", "Alice", "total", int64(2), "day", tuple.NewDate(at)),
		tuple.Of("name", "Bob", "total", nil, "day", tuple.NewDate(at)),
	}

	t.Run("lines", func(t *testing.T) {
		var buf bytes.Buffer
		w := io.NewJSONWriter(&buf, io.JSONOptions{Format: io.JSONLines})
		for _, row := range rows {
			require.NoError(t, w.Emit(row))
		}
		require.NoError(t, w.Close())

		want := `{"name":"Alice","total":2,"day":"2024-05-06"}` + "\n" +
			`{"name":"Bob","total":null,"day":"2024-05-06"}` + "\n"
		assert.Equal(t, want, buf.String())
	})

	t.Run("array", func(t *testing.T) {
		var buf bytes.Buffer
		w := io.NewJSONWriter(&buf, io.JSONOptions{Format: io.JSONArray})
		for _, row := range rows {
			require.NoError(t, w.Emit(row))
		}
		require.NoError(t, w.Close())

		back, err := io.NewJSONReader(&buf, io.JSONOptions{Format: io.JSONArray}).Read()
		require.NoError(t, err)
		require.Len(t, back, 2)
		name, _ := back[1].Get("name")
		assert.Equal(t, "Bob", name)
	})

	t.Run("empty array", func(t *testing.T) {
		var buf bytes.Buffer
		w := io.NewJSONWriter(&buf, io.JSONOptions{Format: io.JSONArray})
		require.NoError(t, w.Close())
		assert.Equal(t, "[]\n", buf.String())
	})

	t.Run("nested tuple", func(t *testing.T) {
		var buf bytes.Buffer
		w := io.NewJSONWriter(&buf, io.DefaultJSONOptions())
		require.NoError(t, w.Emit(tuple.Of("k", "a", "inner", tuple.Of("z", int64(1), "a", int64(2)))))
		require.NoError(t, w.Close())
		assert.Equal(t, `{"k":"a","inner":{"z":1,"a":2}}`+"\n", buf.String())
	})
}
