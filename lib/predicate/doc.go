// Package predicate implements parsed query predicate trees.
//
// Predicates are evaluated against a Source (a live AttributeIndex or a continuous-query
// evaluation index) and return the set of matching keys. Every node can be inverted;
// an inverted node returns the complement of its result within Source.Keys().
//
// Spec is the JSON form of a tree. It is what the RPC surface and the CLI exchange; it is
// not a query language.
package predicate
