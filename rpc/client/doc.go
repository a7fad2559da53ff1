// Package client implements the RPC client of a dCache server. NewRPCStore returns a
// store.IStore whose operations are forwarded to one shard of a remote server through
// the configured transport and serializer.
//
// Errors reported by the server are returned as *store.Error values with the original
// return code, so callers can distinguish schema, conversion and not-found errors the
// same way they would with a local store.
//
// Usage Example:
//
//	config := common.ClientConfig{
//	  Endpoints:     []string{"localhost:8080"},
//	  TimeoutSecond: 5,
//	  RetryCount:    3,
//	}
//
//	s, _ := client.NewRPCStore(1, config, http.NewHttpClientTransport(), serializer.NewBinarySerializer())
//
//	_ = s.Insert("e1", []byte("alice"), &index.MetaInfo{
//	  TypeName:   "Employee",
//	  Attributes: map[string]any{"Salary": 60000},
//	})
//	keys, _ := s.Search("Employee", predicate.Spec{Op: "gt", Attr: "Salary", Value: 50000}, nil)
//
// Thread Safety:
//
//	The store is safe for concurrent use if the transport is.
package client
