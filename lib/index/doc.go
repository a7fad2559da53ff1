// Package index maintains secondary indexes over cached objects.
//
// Every cached entry may carry a MetaInfo: the name (or numeric handle) of its type, the
// raw values of the type's queryable attributes, free-form tags and named tags. The
// Manager coerces these values into the closed Value variant and files the entry key into
// per-attribute stores of the type's AttributeIndex. Each entry keeps an IndexInformation
// that records exactly which (store, position) pairs hold its key, so removal never has to
// search.
//
// Store variants:
//   - RBStore: an ordered tree (google/btree) supporting range and pattern comparisons
//   - HashStore: a flat map used for tags, named tags and continuous-query scratch indexes
//
// Index variants:
//   - AttributeIndex: attribute, tag and named tag stores for one type
//   - TypeIndex: key-only indexing for types declared without attributes
//   - VirtualIndex: indexing disabled, every call is a no-op
//
// TagIndexManager and NamedTagIndexManager extend the base Manager by embedding and add
// tag indexing on top of attribute indexing.
package index
