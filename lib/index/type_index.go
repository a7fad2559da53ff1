package index

import "fmt"

// Index is implemented by every per-type index variant.
type Index interface {
	TypeName() string
	AddToIndex(key string, values map[string]Value, info *IndexInformation) error
	AddTags(key string, tags []string, info *IndexInformation)
	AddNamedTags(key string, tags map[string]Value, info *IndexInformation)
	RemoveFromIndex(key string, info *IndexInformation)
	GetStore(attr string) (Store, error)
	GetData(attr string, value Value, op ComparisonType) (map[string]struct{}, error)
	AttributeType(attr string) (DataType, bool)
	Keys() map[string]struct{}
	Contains(key string) bool
	Count() int
	Clear()
	Size() int64
}

var (
	_ Index = (*AttributeIndex)(nil)
	_ Index = (*TypeIndex)(nil)
	_ Index = (*VirtualIndex)(nil)
)

// --------------------------------------------------------------------------
// TypeIndex
// --------------------------------------------------------------------------

// TypeIndex indexes a type by key only. Attribute values are ignored, tags are still
// indexed when a tag manager is in use.
type TypeIndex struct {
	*AttributeIndex
}

// NewTypeIndex creates a key-only index.
func NewTypeIndex(typeName string, opts AttributeIndexOptions) *TypeIndex {
	return &TypeIndex{AttributeIndex: NewAttributeIndex(typeName, nil, opts)}
}

// AddToIndex records key without touching any attribute store.
func (ti *TypeIndex) AddToIndex(key string, _ map[string]Value, info *IndexInformation) error {
	return ti.AttributeIndex.AddToIndex(key, nil, info)
}

// --------------------------------------------------------------------------
// VirtualIndex
// --------------------------------------------------------------------------

// VirtualIndex stands in for a type when indexing is disabled. Writes are ignored and
// lookups fail with ErrTypeNotIndexed.
type VirtualIndex struct {
	typeName string
}

// NewVirtualIndex creates a disabled index.
func NewVirtualIndex(typeName string) *VirtualIndex {
	return &VirtualIndex{typeName: typeName}
}

func (vi *VirtualIndex) TypeName() string { return vi.typeName }

func (vi *VirtualIndex) AddToIndex(string, map[string]Value, *IndexInformation) error { return nil }

func (vi *VirtualIndex) AddTags(string, []string, *IndexInformation) {}

func (vi *VirtualIndex) AddNamedTags(string, map[string]Value, *IndexInformation) {}

func (vi *VirtualIndex) RemoveFromIndex(_ string, info *IndexInformation) {
	if info != nil {
		info.Reset()
	}
}

func (vi *VirtualIndex) GetStore(attr string) (Store, error) {
	return nil, fmt.Errorf("%w: %s", ErrTypeNotIndexed, vi.typeName)
}

func (vi *VirtualIndex) GetData(string, Value, ComparisonType) (map[string]struct{}, error) {
	return nil, fmt.Errorf("%w: %s", ErrTypeNotIndexed, vi.typeName)
}

func (vi *VirtualIndex) AttributeType(string) (DataType, bool) { return TypeNull, false }

func (vi *VirtualIndex) Keys() map[string]struct{} { return map[string]struct{}{} }

func (vi *VirtualIndex) Contains(string) bool { return false }

func (vi *VirtualIndex) Count() int { return 0 }

func (vi *VirtualIndex) Clear() {}

func (vi *VirtualIndex) Size() int64 { return 0 }
