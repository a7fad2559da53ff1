package index

import (
	"fmt"
	"strings"
)

// --------------------------------------------------------------------------
// Comparison operators
// --------------------------------------------------------------------------

// ComparisonType selects the keys a store returns relative to a pivot value.
type ComparisonType uint8

const (
	Equals ComparisonType = iota
	NotEquals
	LessThan
	GreaterThan
	LessEquals
	GreaterEquals
	Like
	NotLike
)

func (c ComparisonType) String() string {
	switch c {
	case Equals:
		return "="
	case NotEquals:
		return "!="
	case LessThan:
		return "<"
	case GreaterThan:
		return ">"
	case LessEquals:
		return "<="
	case GreaterEquals:
		return ">="
	case Like:
		return "LIKE"
	case NotLike:
		return "NOT LIKE"
	default:
		return fmt.Sprintf("op(%d)", uint8(c))
	}
}

// ParseComparison parses an operator in symbolic (">=") or short word ("gte") form.
func ParseComparison(s string) (ComparisonType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "=", "==", "eq":
		return Equals, nil
	case "!=", "<>", "ne", "neq":
		return NotEquals, nil
	case "<", "lt":
		return LessThan, nil
	case ">", "gt":
		return GreaterThan, nil
	case "<=", "lte", "le":
		return LessEquals, nil
	case ">=", "gte", "ge":
		return GreaterEquals, nil
	case "like":
		return Like, nil
	case "not like", "notlike", "nlike":
		return NotLike, nil
	default:
		return Equals, fmt.Errorf("unknown comparison operator %q", s)
	}
}

// matches reports whether a stored value satisfies op against pivot. Ordering operators
// never match values of a different kind rank, so the null sentinel never shows up in
// numeric range results.
func (c ComparisonType) matches(stored, pivot Value) bool {
	switch c {
	case Equals:
		return stored.Comparable(pivot) && stored.Compare(pivot) == 0
	case NotEquals:
		return !stored.Comparable(pivot) || stored.Compare(pivot) != 0
	case LessThan:
		return stored.Comparable(pivot) && stored.Compare(pivot) < 0
	case GreaterThan:
		return stored.Comparable(pivot) && stored.Compare(pivot) > 0
	case LessEquals:
		return stored.Comparable(pivot) && stored.Compare(pivot) <= 0
	case GreaterEquals:
		return stored.Comparable(pivot) && stored.Compare(pivot) >= 0
	case Like:
		return likeMatch(pivot.String(), stored.String())
	case NotLike:
		return !likeMatch(pivot.String(), stored.String())
	default:
		return false
	}
}

// likeMatch matches s against a wildcard pattern where '*' or '%' match any run of
// characters and '?' or '_' match exactly one.
func likeMatch(pattern, s string) bool {
	p, t := []rune(pattern), []rune(s)
	pi, ti := 0, 0
	star, mark := -1, 0

	for ti < len(t) {
		switch {
		case pi < len(p) && (p[pi] == '?' || p[pi] == '_' || p[pi] == t[ti]):
			pi++
			ti++
		case pi < len(p) && (p[pi] == '*' || p[pi] == '%'):
			star, mark = pi, ti
			pi++
		case star >= 0:
			pi = star + 1
			mark++
			ti = mark
		default:
			return false
		}
	}
	for pi < len(p) && (p[pi] == '*' || p[pi] == '%') {
		pi++
	}
	return pi == len(p)
}

// --------------------------------------------------------------------------
// Store
// --------------------------------------------------------------------------

// Bucket holds all keys filed under one value. A bucket is the position handle returned by
// Store.Add and recorded in IndexInformation.
type Bucket struct {
	value    Value
	keys     map[string]struct{}
	detached bool
}

func newBucket(v Value) *Bucket {
	return &Bucket{value: v, keys: make(map[string]struct{})}
}

// Value returns the value the bucket is filed under.
func (b *Bucket) Value() Value { return b.value }

// Len returns the number of keys in the bucket.
func (b *Bucket) Len() int { return len(b.keys) }

func (b *Bucket) collect(dst map[string]struct{}) {
	for k := range b.keys {
		dst[k] = struct{}{}
	}
}

// Store maps values to the set of keys holding them.
//
// Concurrency: stores are not thread-safe, the owning index serializes access.
type Store interface {
	// Name returns the store name (the attribute or tag store name).
	Name() string

	// Add files key under value and returns the bucket position.
	Add(value Value, key string) *Bucket

	// Remove removes key from value. A valid position avoids the lookup. Empty buckets
	// are dropped. Returns false if the key was not filed under value.
	Remove(value Value, key string, pos *Bucket) bool

	// GetData returns the keys whose value satisfies op against value.
	GetData(value Value, op ComparisonType) map[string]struct{}

	// Len returns the number of distinct values.
	Len() int

	// Count returns the number of (value, key) pairs.
	Count() int

	// Clear removes everything.
	Clear()

	// Size returns the approximate memory held by the store in bytes.
	Size() int64
}

const keyOverhead = 48

// storeStats keeps the counters shared by both store variants.
type storeStats struct {
	name  string
	count int
	size  int64
}

func (s *storeStats) Name() string { return s.name }
func (s *storeStats) Count() int { return s.count }
func (s *storeStats) Size() int64 { return s.size }

func (s *storeStats) added(b *Bucket, key string, fresh bool) {
	s.count++
	s.size += int64(len(key)) + keyOverhead
	if fresh {
		s.size += b.value.Size()
	}
}

func (s *storeStats) removed(b *Bucket, key string) {
	s.count--
	s.size -= int64(len(key)) + keyOverhead
	if len(b.keys) == 0 {
		s.size -= b.value.Size()
	}
}

func (s *storeStats) reset() {
	s.count = 0
	s.size = 0
}
