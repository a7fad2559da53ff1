package index

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

const (
	// TagStoreName is the store holding free-form tags.
	TagStoreName = "$Tag$"

	// NamedTagPrefix prefixes the store names of named tags.
	NamedTagPrefix = "$NamedTagAttribute$"
)

// isTagStore reports whether a store holds tags or named tags. Emptied tag stores are
// dropped from the index, emptied attribute stores are kept.
func isTagStore(name string) bool {
	return name == TagStoreName || strings.HasPrefix(name, NamedTagPrefix)
}

// AttributeIndexOptions tunes an AttributeIndex.
type AttributeIndexOptions struct {
	// DisableIndexNotDefinedError makes GetStore materialize an empty store for unknown
	// attributes instead of failing.
	DisableIndexNotDefinedError bool

	// HashStores makes every attribute store a HashStore.
	HashStores bool
}

// AttributeIndex holds the attribute, tag and named tag stores of one type.
//
// Thread-safety: all methods are safe for concurrent use, guarded by one mutex per index.
type AttributeIndex struct {
	mu       sync.Mutex
	typeName string
	info     *TypeInfo
	opts     AttributeIndexOptions
	stores   map[string]Store
	keys     map[string]struct{}
}

// NewAttributeIndex creates the index of a type. info may be nil for a type that is only
// indexed by key and tags.
func NewAttributeIndex(typeName string, info *TypeInfo, opts AttributeIndexOptions) *AttributeIndex {
	ai := &AttributeIndex{
		typeName: typeName,
		info:     info,
		opts:     opts,
		stores:   make(map[string]Store),
		keys:     make(map[string]struct{}),
	}
	if info != nil {
		for _, a := range info.Attributes {
			ai.stores[a.Name] = ai.newStore(a.Name, a.Type)
		}
	}
	return ai
}

func (ai *AttributeIndex) newStore(name string, dt DataType) Store {
	if ai.opts.HashStores || isTagStore(name) {
		return NewHashStore(name)
	}
	return NewRBStore(name, dt)
}

// TypeName returns the name of the indexed type.
func (ai *AttributeIndex) TypeName() string { return ai.typeName }

// AddToIndex files key under the values of all declared attributes. Attributes missing
// from values are filed under the null sentinel. Every store position is recorded in info.
func (ai *AttributeIndex) AddToIndex(key string, values map[string]Value, info *IndexInformation) error {
	ai.mu.Lock()
	defer ai.mu.Unlock()

	ai.keys[key] = struct{}{}
	if ai.info == nil {
		return nil
	}

	for _, a := range ai.info.Attributes {
		store, ok := ai.stores[a.Name]
		if !ok {
			store = ai.newStore(a.Name, a.Type)
			ai.stores[a.Name] = store
		}
		ai.addLocked(store, values[a.Name].IndexValue(), key, info)
	}
	return nil
}

// AddTags files key under each tag in the tag store.
func (ai *AttributeIndex) AddTags(key string, tags []string, info *IndexInformation) {
	if len(tags) == 0 {
		return
	}
	ai.mu.Lock()
	defer ai.mu.Unlock()

	ai.keys[key] = struct{}{}
	store := ai.storeLocked(TagStoreName)
	for _, tag := range tags {
		ai.addLocked(store, String(tag), key, info)
	}
}

// AddNamedTags files key under each named tag value in the tag's own store.
func (ai *AttributeIndex) AddNamedTags(key string, tags map[string]Value, info *IndexInformation) {
	if len(tags) == 0 {
		return
	}
	ai.mu.Lock()
	defer ai.mu.Unlock()

	ai.keys[key] = struct{}{}
	for name, v := range tags {
		store := ai.storeLocked(NamedTagPrefix + name)
		ai.addLocked(store, v.IndexValue(), key, info)
	}
}

func (ai *AttributeIndex) storeLocked(name string) Store {
	store, ok := ai.stores[name]
	if !ok {
		store = NewHashStore(name)
		ai.stores[name] = store
	}
	return store
}

func (ai *AttributeIndex) addLocked(store Store, v Value, key string, info *IndexInformation) {
	pos := store.Add(v, key)
	if info != nil {
		info.Add(&StoreInformation{StoreName: store.Name(), Store: store, Value: v, Position: pos})
	}
}

// RemoveFromIndex removes key from every store recorded in info and resets info. Only the
// recorded positions are visited.
func (ai *AttributeIndex) RemoveFromIndex(key string, info *IndexInformation) {
	ai.mu.Lock()
	defer ai.mu.Unlock()

	for _, si := range info.Entries() {
		si.Store.Remove(si.Value, key, si.Position)
		if si.Store.Count() > 0 {
			continue
		}
		if isTagStore(si.StoreName) {
			if cur, ok := ai.stores[si.StoreName]; ok && cur == si.Store {
				delete(ai.stores, si.StoreName)
			}
		} else {
			si.Store.Clear()
		}
	}
	delete(ai.keys, key)
	if info != nil {
		info.Reset()
	}
}

// GetStore returns the store of an attribute, falling back to the named tag store of the
// same name. Unknown names fail with ErrAttributeNotDefined unless the index was created
// with DisableIndexNotDefinedError, in which case an empty store is materialized.
func (ai *AttributeIndex) GetStore(attr string) (Store, error) {
	ai.mu.Lock()
	defer ai.mu.Unlock()
	return ai.getStoreLocked(attr)
}

func (ai *AttributeIndex) getStoreLocked(attr string) (Store, error) {
	if store, ok := ai.stores[attr]; ok {
		return store, nil
	}
	if store, ok := ai.stores[NamedTagPrefix+attr]; ok {
		return store, nil
	}
	if !ai.opts.DisableIndexNotDefinedError {
		return nil, fmt.Errorf("%w: %s.%s", ErrAttributeNotDefined, ai.typeName, attr)
	}
	store := ai.newStore(attr, TypeNull)
	ai.stores[attr] = store
	return store, nil
}

// GetData returns the keys whose attribute value satisfies op against value.
func (ai *AttributeIndex) GetData(attr string, value Value, op ComparisonType) (map[string]struct{}, error) {
	ai.mu.Lock()
	defer ai.mu.Unlock()

	store, err := ai.getStoreLocked(attr)
	if err != nil {
		return nil, err
	}
	return store.GetData(value.IndexValue(), op), nil
}

// AttributeType returns the declared type of an attribute.
func (ai *AttributeIndex) AttributeType(attr string) (DataType, bool) {
	if ai.info == nil {
		return TypeNull, false
	}
	a, ok := ai.info.Attribute(attr)
	return a.Type, ok
}

// Keys returns a copy of all keys in the index.
func (ai *AttributeIndex) Keys() map[string]struct{} {
	ai.mu.Lock()
	defer ai.mu.Unlock()

	keys := make(map[string]struct{}, len(ai.keys))
	for k := range ai.keys {
		keys[k] = struct{}{}
	}
	return keys
}

// Contains reports whether key is indexed.
func (ai *AttributeIndex) Contains(key string) bool {
	ai.mu.Lock()
	defer ai.mu.Unlock()
	_, ok := ai.keys[key]
	return ok
}

// Count returns the number of indexed keys.
func (ai *AttributeIndex) Count() int {
	ai.mu.Lock()
	defer ai.mu.Unlock()
	return len(ai.keys)
}

// StoreNames returns the names of all present stores, sorted.
func (ai *AttributeIndex) StoreNames() []string {
	ai.mu.Lock()
	defer ai.mu.Unlock()

	names := make([]string, 0, len(ai.stores))
	for name := range ai.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clear empties all stores. Tag stores are dropped, attribute stores are reset.
func (ai *AttributeIndex) Clear() {
	ai.mu.Lock()
	defer ai.mu.Unlock()

	for name, store := range ai.stores {
		store.Clear()
		if isTagStore(name) {
			delete(ai.stores, name)
		}
	}
	ai.keys = make(map[string]struct{})
}

// Size returns the approximate memory held by all stores in bytes.
func (ai *AttributeIndex) Size() int64 {
	ai.mu.Lock()
	defer ai.mu.Unlock()

	var size int64
	for _, store := range ai.stores {
		size += store.Size()
	}
	for k := range ai.keys {
		size += int64(len(k)) + keyOverhead
	}
	return size
}
