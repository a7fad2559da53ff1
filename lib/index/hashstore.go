package index

import "math"

// HashStore is the flat store used for tags, named tags and continuous-query evaluation.
// Equality lookups are O(1); every other operator scans all buckets.
type HashStore struct {
	storeStats
	buckets map[Value]*Bucket
}

// NewHashStore creates an empty hash store.
func NewHashStore(name string) *HashStore {
	return &HashStore{
		storeStats: storeStats{name: name},
		buckets:    make(map[Value]*Bucket),
	}
}

// hashKey makes numerically equal Int and Double values share a bucket.
func hashKey(v Value) Value {
	if v.kind == TypeDouble && v.f == math.Trunc(v.f) && math.Abs(v.f) < 1<<62 {
		return Int(int64(v.f))
	}
	return v
}

func (s *HashStore) Add(value Value, key string) *Bucket {
	hk := hashKey(value)
	b, ok := s.buckets[hk]
	if !ok {
		b = newBucket(value)
		s.buckets[hk] = b
	}
	if _, dup := b.keys[key]; dup {
		return b
	}
	b.keys[key] = struct{}{}
	s.added(b, key, !ok)
	return b
}

func (s *HashStore) Remove(value Value, key string, pos *Bucket) bool {
	b := pos
	if b == nil || b.detached {
		var ok bool
		if b, ok = s.buckets[hashKey(value)]; !ok {
			return false
		}
	}
	if _, ok := b.keys[key]; !ok {
		return false
	}
	delete(b.keys, key)
	s.removed(b, key)
	if len(b.keys) == 0 {
		b.detached = true
		delete(s.buckets, hashKey(b.value))
	}
	return true
}

func (s *HashStore) GetData(value Value, op ComparisonType) map[string]struct{} {
	result := make(map[string]struct{})
	if op == Equals {
		if b, ok := s.buckets[hashKey(value)]; ok {
			b.collect(result)
		}
		return result
	}
	for _, b := range s.buckets {
		if op.matches(b.value, value) {
			b.collect(result)
		}
	}
	return result
}

func (s *HashStore) Len() int { return len(s.buckets) }

func (s *HashStore) Clear() {
	for _, b := range s.buckets {
		b.detached = true
	}
	s.buckets = make(map[Value]*Bucket)
	s.reset()
}
