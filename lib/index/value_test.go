package index

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoerce(t *testing.T) {
	date := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		raw    any
		target DataType
		want   Value
	}{
		{"int from int", 42, TypeInt, Int(42)},
		{"int from integral float", 60000.0, TypeInt, Int(60000)},
		{"int from string", " 17 ", TypeInt, Int(17)},
		{"double from int", int32(3), TypeDouble, Double(3)},
		{"string from int", 7, TypeString, String("7")},
		{"bool from string", "true", TypeBool, Bool(true)},
		{"datetime from time", date, TypeDateTime, DateTime(date)},
		{"datetime from string", "2024-03-01T12:00:00Z", TypeDateTime, DateTime(date)},
		{"datetime from ticks", date.UnixNano(), TypeDateTime, Ticks(date.UnixNano())},
		{"nil stays null", nil, TypeInt, Null()},
		{"json number", json.Number("12"), TypeInt, Int(12)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Coerce(tt.raw, tt.target)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCoerceFailure(t *testing.T) {
	for _, tc := range []struct {
		raw    any
		target DataType
	}{
		{"abc", TypeInt},
		{1.5, TypeInt},
		{"not a date", TypeDateTime},
		{true, TypeDateTime},
		{struct{}{}, TypeString},
	} {
		_, err := Coerce(tc.raw, tc.target)
		var ce *ConversionError
		require.Error(t, err)
		assert.True(t, errors.As(err, &ce), "expected ConversionError for %v -> %s", tc.raw, tc.target)
	}
}

func TestValueCompare(t *testing.T) {
	assert.Equal(t, 0, Int(5).Compare(Double(5)))
	assert.Equal(t, -1, Int(4).Compare(Double(4.5)))
	assert.Equal(t, 1, String("b").Compare(String("a")))
	assert.False(t, Int(1).Comparable(String("null")))
	assert.True(t, Null().Compare(Int(0)) < 0, "null sorts first")
	assert.Equal(t, String(NullSentinel), Null().IndexValue())
}

func TestValueBinaryCodec(t *testing.T) {
	values := []Value{Null(), Int(-3), Double(2.5), String("hello"), Ticks(123456789), Bool(true)}

	var buf bytes.Buffer
	for _, v := range values {
		require.NoError(t, WriteValue(&buf, v))
	}
	for _, want := range values {
		got, err := ReadValue(&buf)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestValueJSON(t *testing.T) {
	for _, v := range []Value{Null(), Int(60000), Double(1.25), String("x"), Bool(false), Ticks(time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC).UnixNano())} {
		data, err := json.Marshal(v)
		require.NoError(t, err)

		var got Value
		require.NoError(t, json.Unmarshal(data, &got))
		assert.Equal(t, v, got, "json %s", data)
	}
}

func TestLikeMatch(t *testing.T) {
	assert.True(t, likeMatch("Jo*", "John"))
	assert.True(t, likeMatch("J?hn", "John"))
	assert.True(t, likeMatch("%oh%", "John"))
	assert.False(t, likeMatch("Jo?", "John"))
	assert.True(t, likeMatch("*", ""))
}
