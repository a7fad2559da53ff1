package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keysOf(keys ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		m[k] = struct{}{}
	}
	return m
}

func fillStore(s Store) {
	s.Add(Int(10), "a")
	s.Add(Int(20), "b")
	s.Add(Int(20), "c")
	s.Add(Int(30), "d")
	s.Add(String(NullSentinel), "n")
}

func TestStoresGetData(t *testing.T) {
	tests := []struct {
		op    ComparisonType
		pivot Value
		want  map[string]struct{}
	}{
		{Equals, Int(20), keysOf("b", "c")},
		{NotEquals, Int(20), keysOf("a", "d", "n")},
		{GreaterThan, Int(10), keysOf("b", "c", "d")},
		{GreaterEquals, Int(20), keysOf("b", "c", "d")},
		{LessThan, Int(30), keysOf("a", "b", "c")},
		{LessEquals, Int(10), keysOf("a")},
		{GreaterThan, Double(15.5), keysOf("b", "c", "d")},
		{Equals, String(NullSentinel), keysOf("n")},
		{Like, String("2*"), keysOf("b", "c")},
		{NotLike, String("2*"), keysOf("a", "d", "n")},
	}

	stores := map[string]func() Store{
		"rb":   func() Store { return NewRBStore("Salary", TypeInt) },
		"hash": func() Store { return NewHashStore("Salary") },
	}

	for name, newStore := range stores {
		for _, tt := range tests {
			t.Run(name+" "+tt.op.String()+" "+tt.pivot.String(), func(t *testing.T) {
				s := newStore()
				fillStore(s)
				assert.Equal(t, tt.want, s.GetData(tt.pivot, tt.op))
			})
		}
	}
}

func TestStoreRemoveByPosition(t *testing.T) {
	for _, s := range []Store{NewRBStore("x", TypeInt), NewHashStore("x")} {
		pos := s.Add(Int(1), "k1")
		s.Add(Int(1), "k2")
		require.Equal(t, 1, s.Len())
		require.Equal(t, 2, s.Count())

		assert.True(t, s.Remove(Int(1), "k1", pos))
		assert.False(t, s.Remove(Int(1), "k1", pos), "second remove finds nothing")
		assert.True(t, s.Remove(Int(1), "k2", nil), "remove without position looks up the value")

		assert.Equal(t, 0, s.Len())
		assert.Equal(t, 0, s.Count())
		assert.Equal(t, int64(0), s.Size())
	}
}

func TestStoreClearDetachesPositions(t *testing.T) {
	s := NewRBStore("x", TypeInt)
	pos := s.Add(Int(1), "k")
	s.Clear()
	s.Add(Int(1), "k")

	// the stale position must not be used, the lookup finds the new bucket
	assert.True(t, s.Remove(Int(1), "k", pos))
	assert.Equal(t, 0, s.Count())
}

func TestHashStoreNumericKeys(t *testing.T) {
	s := NewHashStore("x")
	s.Add(Double(5), "a")
	assert.Equal(t, keysOf("a"), s.GetData(Int(5), Equals))
}

func TestParseComparison(t *testing.T) {
	for in, want := range map[string]ComparisonType{">": GreaterThan, "gte": GreaterEquals, "LIKE": Like, "<>": NotEquals} {
		got, err := ParseComparison(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseComparison("~")
	assert.Error(t, err)
}
