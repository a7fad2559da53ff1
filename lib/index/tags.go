package index

// TagIndexManager extends Manager with free-form tag indexing. Tags are filed in the
// "$Tag$" store of the entry's type, which is created on demand.
type TagIndexManager struct {
	*Manager
}

// NewTagIndexManager creates an uninitialized manager that indexes attributes and tags.
func NewTagIndexManager() *TagIndexManager {
	t := &TagIndexManager{Manager: NewManager()}
	t.self = t
	return t
}

// AddToIndex indexes the attributes first, then the tags of the entry.
func (t *TagIndexManager) AddToIndex(key string, meta *MetaInfo, info *IndexInformation) error {
	if err := t.Manager.AddToIndex(key, meta, info); err != nil {
		return err
	}
	if meta == nil || len(meta.Tags) == 0 {
		return nil
	}
	return t.withTagIndex(meta, func(idx Index) {
		idx.AddTags(key, meta.Tags, info)
	})
}

// withTagIndex runs fn with the index of the entry's type, creating a key-only index for
// undeclared types.
func (t *TagIndexManager) withTagIndex(meta *MetaInfo, fn func(Index)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkState(); err != nil {
		return err
	}
	idx, _ := t.indexForLocked(t.types.TypeOf(meta), true)
	fn(idx)
	return nil
}

// NamedTagIndexManager extends TagIndexManager with named tags. Each tag name gets its own
// "$NamedTagAttribute$<name>" store.
type NamedTagIndexManager struct {
	*TagIndexManager
}

// NewNamedTagIndexManager creates an uninitialized manager that indexes attributes, tags
// and named tags.
func NewNamedTagIndexManager() *NamedTagIndexManager {
	n := &NamedTagIndexManager{TagIndexManager: NewTagIndexManager()}
	n.self = n
	return n
}

// AddToIndex indexes attributes and tags through the embedded managers, then named tags.
func (n *NamedTagIndexManager) AddToIndex(key string, meta *MetaInfo, info *IndexInformation) error {
	if err := n.TagIndexManager.AddToIndex(key, meta, info); err != nil {
		return err
	}
	if meta == nil || len(meta.NamedTags) == 0 {
		return nil
	}
	values, err := NamedTagValues(meta)
	if err != nil {
		conversionErrors.Inc()
		return err
	}
	return n.withTagIndex(meta, func(idx Index) {
		idx.AddNamedTags(key, values, info)
	})
}
