// Package lstore implements a local, in-memory, single-node query cache store based on the
// store.IStore interface. It is a thin wrapper around one cache.Cache created by a
// store.CacheFactory. Data is stored entirely in memory and is not persisted between
// process restarts.
//
// All cache errors are mapped to *store.Error values with store.FromError, so callers see
// the same return codes as with the distributed store.
//
// Usage Example:
//
//	s, err := lstore.NewLocalStore(store.ConfigFactory(cache.Config{
//		TypeSchema: "Employee(Name:string,Salary:int)",
//	}))
//
//	err = s.Insert("e1", data, &index.MetaInfo{
//		TypeName:   "Employee",
//		Attributes: map[string]any{"Name": "Ann", "Salary": 60000},
//	})
//
//	keys, err := s.Search("Employee", predicate.Spec{Op: "gt", Attr: "Salary", Value: 50000}, nil)
//
// For distributed scenarios requiring consensus across multiple nodes, use the dstore
// package instead, which provides a RAFT-based implementation of the same interface.
package lstore
