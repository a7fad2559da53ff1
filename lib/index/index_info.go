package index

// StoreInformation records one (store, position) pair holding an entry's key.
type StoreInformation struct {
	StoreName string
	Store     Store
	Value     Value
	Position  *Bucket
}

// IndexInformation is kept per cache entry and lists every store position that holds the
// entry's key. Most entries live in a single store, so the first record is kept inline.
type IndexInformation struct {
	single *StoreInformation
	list   []*StoreInformation
}

// Add appends a record.
func (ii *IndexInformation) Add(si *StoreInformation) {
	if ii.single == nil && len(ii.list) == 0 {
		ii.single = si
		return
	}
	if ii.single != nil {
		ii.list = append(ii.list, ii.single)
		ii.single = nil
	}
	ii.list = append(ii.list, si)
}

// Remove drops every record for the named store.
func (ii *IndexInformation) Remove(storeName string) {
	if ii.single != nil {
		if ii.single.StoreName == storeName {
			ii.single = nil
		}
		return
	}
	kept := ii.list[:0]
	for _, si := range ii.list {
		if si.StoreName != storeName {
			kept = append(kept, si)
		}
	}
	for i := len(kept); i < len(ii.list); i++ {
		ii.list[i] = nil
	}
	ii.list = kept
}

// Entries returns the records.
func (ii *IndexInformation) Entries() []*StoreInformation {
	if ii == nil {
		return nil
	}
	if ii.single != nil {
		return []*StoreInformation{ii.single}
	}
	return append([]*StoreInformation(nil), ii.list...)
}

// Len returns the number of records.
func (ii *IndexInformation) Len() int {
	if ii == nil {
		return 0
	}
	if ii.single != nil {
		return 1
	}
	return len(ii.list)
}

// Reset drops all records.
func (ii *IndexInformation) Reset() {
	ii.single = nil
	ii.list = nil
}
