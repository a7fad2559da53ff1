package index

import "github.com/google/btree"

// RBStore is the ordered store: a B-tree of buckets sorted by value. Equality lookups and
// range comparisons are O(log n + k).
type RBStore struct {
	storeStats
	dataType DataType
	tree     *btree.BTreeG[*Bucket]
}

func bucketLess(a, b *Bucket) bool {
	return a.value.Compare(b.value) < 0
}

// NewRBStore creates an empty ordered store for an attribute of the given type.
func NewRBStore(name string, dataType DataType) *RBStore {
	return &RBStore{
		storeStats: storeStats{name: name},
		dataType:   dataType,
		tree:       btree.NewG[*Bucket](16, bucketLess),
	}
}

// DataType returns the declared type of the attribute.
func (s *RBStore) DataType() DataType { return s.dataType }

func (s *RBStore) lookup(v Value) (*Bucket, bool) {
	return s.tree.Get(&Bucket{value: v})
}

func (s *RBStore) Add(value Value, key string) *Bucket {
	b, ok := s.lookup(value)
	if !ok {
		b = newBucket(value)
		s.tree.ReplaceOrInsert(b)
	}
	if _, dup := b.keys[key]; dup {
		return b
	}
	b.keys[key] = struct{}{}
	s.added(b, key, !ok)
	return b
}

func (s *RBStore) Remove(value Value, key string, pos *Bucket) bool {
	b := pos
	if b == nil || b.detached {
		var ok bool
		if b, ok = s.lookup(value); !ok {
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
		s.tree.Delete(b)
	}
	return true
}

func (s *RBStore) GetData(value Value, op ComparisonType) map[string]struct{} {
	result := make(map[string]struct{})
	pivot := &Bucket{value: value}

	// range scans stop as soon as they leave the pivot's kind rank
	sameRank := func(b *Bucket) bool { return b.value.Comparable(value) }

	switch op {
	case Equals:
		if b, ok := s.tree.Get(pivot); ok {
			b.collect(result)
		}
	case GreaterThan, GreaterEquals:
		s.tree.AscendGreaterOrEqual(pivot, func(b *Bucket) bool {
			if !sameRank(b) {
				return false
			}
			if op == GreaterEquals || b.value.Compare(value) != 0 {
				b.collect(result)
			}
			return true
		})
	case LessThan, LessEquals:
		s.tree.DescendLessOrEqual(pivot, func(b *Bucket) bool {
			if !sameRank(b) {
				return false
			}
			if op == LessEquals || b.value.Compare(value) != 0 {
				b.collect(result)
			}
			return true
		})
	default:
		s.tree.Ascend(func(b *Bucket) bool {
			if op.matches(b.value, value) {
				b.collect(result)
			}
			return true
		})
	}
	return result
}

func (s *RBStore) Len() int { return s.tree.Len() }

func (s *RBStore) Clear() {
	s.tree.Ascend(func(b *Bucket) bool {
		b.detached = true
		return true
	})
	s.tree.Clear(false)
	s.reset()
}
