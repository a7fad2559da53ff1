package lstore

import (
	"github.com/ValentinKolb/dCache/lib/cache"
	"github.com/ValentinKolb/dCache/lib/cq"
	"github.com/ValentinKolb/dCache/lib/index"
	"github.com/ValentinKolb/dCache/lib/predicate"
	"github.com/ValentinKolb/dCache/lib/store"
)

type storeImpl struct {
	cache *cache.Cache
}

// NewLocalStore creates a new local store instance.
// This store implementation is not distributed and only works on a single node.
func NewLocalStore(factory store.CacheFactory) (store.IStore, error) {
	c, err := factory()
	if err != nil {
		return nil, store.FromError(err)
	}
	return &storeImpl{cache: c}, nil
}

// Cache returns the cache behind a store created by NewLocalStore, nil for other stores.
func Cache(s store.IStore) *cache.Cache {
	if impl, ok := s.(*storeImpl); ok {
		return impl.cache
	}
	return nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Insert(key string, value []byte, meta *index.MetaInfo) error {
	return store.FromError(s.cache.Insert(key, value, meta))
}

func (s *storeImpl) Add(key string, value []byte, meta *index.MetaInfo) error {
	return store.FromError(s.cache.Add(key, value, meta))
}

func (s *storeImpl) Remove(key string) (bool, error) {
	ok, err := s.cache.Remove(key)
	return ok, store.FromError(err)
}

func (s *storeImpl) Clear() error {
	return store.FromError(s.cache.Clear())
}

func (s *storeImpl) Get(key string) (*cache.Entry, bool, error) {
	e, ok := s.cache.Get(key)
	return e, ok, nil
}

func (s *storeImpl) Has(key string) (bool, error) {
	return s.cache.Has(key), nil
}

func (s *storeImpl) Search(typeName string, query predicate.Spec, bindings map[string]index.Value) ([]string, error) {
	keys, err := s.cache.SearchSpec(typeName, query, bindings)
	return keys, store.FromError(err)
}

func (s *storeImpl) RegisterQuery(req cache.RegisterRequest) (*cq.StateInfo, []string, error) {
	info, keys, err := s.cache.RegisterQuery(req)
	return info, keys, store.FromError(err)
}

func (s *storeImpl) UnRegisterQuery(clientQueryID string) error {
	return store.FromError(s.cache.UnRegisterQuery(clientQueryID))
}

func (s *storeImpl) DisconnectClient(clientID string) error {
	s.cache.DisconnectClient(clientID)
	return nil
}

func (s *storeImpl) QueryResults(id string) ([]string, error) {
	keys, err := s.cache.QueryResults(id)
	return keys, store.FromError(err)
}

func (s *storeImpl) Poll(clientID string, max int) ([]cache.ClientNotification, error) {
	return s.cache.Poll(clientID, max), nil
}

func (s *storeImpl) GetInfo() (cache.Info, error) {
	return s.cache.GetInfo(), nil
}
