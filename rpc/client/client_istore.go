package client

import (
	"encoding/json"
	"fmt"

	"github.com/ValentinKolb/dCache/lib/cache"
	"github.com/ValentinKolb/dCache/lib/cq"
	"github.com/ValentinKolb/dCache/lib/index"
	"github.com/ValentinKolb/dCache/lib/predicate"
	"github.com/ValentinKolb/dCache/lib/store"
	"github.com/ValentinKolb/dCache/rpc/common"
	"github.com/ValentinKolb/dCache/rpc/serializer"
	"github.com/ValentinKolb/dCache/rpc/transport"
)

// NewRPCStore creates a new RPC store
// The function takes a shard ID, a config, a transport and a serializer as parameters
// It returns a store.IStore and an error
func NewRPCStore(
	shardId uint64,
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (store.IStore, error) {

	if err := transport.Connect(config); err != nil {
		return nil, err
	}

	return &rpcStore{
		rpcClientAdapter{
			shardId:    shardId,
			config:     config,
			transport:  transport,
			serializer: serializer,
		},
	}, nil
}

type rpcStore struct {
	rpcClientAdapter
}

func encodeMetaInfo(meta *index.MetaInfo) ([]byte, error) {
	if meta == nil {
		return nil, nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, store.NewError(store.RetCInvalidOperation, fmt.Sprintf("invalid metadata: %v", err))
	}
	return data, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see the store package in interface.go)
// --------------------------------------------------------------------------

func (i *rpcStore) Insert(key string, value []byte, meta *index.MetaInfo) error {
	data, err := encodeMetaInfo(meta)
	if err != nil {
		return err
	}
	_, err = i.invoke(common.NewSetRequest(key, value, data))
	return err
}

func (i *rpcStore) Add(key string, value []byte, meta *index.MetaInfo) error {
	data, err := encodeMetaInfo(meta)
	if err != nil {
		return err
	}
	_, err = i.invoke(common.NewAddRequest(key, value, data))
	return err
}

func (i *rpcStore) Remove(key string) (bool, error) {
	resp, err := i.invoke(common.NewDeleteRequest(key))
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}

func (i *rpcStore) Clear() error {
	_, err := i.invoke(common.NewClearRequest())
	return err
}

func (i *rpcStore) Get(key string) (*cache.Entry, bool, error) {
	resp, err := i.invoke(common.NewGetRequest(key))
	if err != nil || !resp.Ok {
		return nil, false, err
	}
	entry := &cache.Entry{Key: key, Value: resp.Value}
	if len(resp.Meta) > 0 {
		if err := resp.DecodeMeta(&entry.Meta); err != nil {
			return nil, false, err
		}
	}
	return entry, true, nil
}

func (i *rpcStore) Has(key string) (bool, error) {
	resp, err := i.invoke(common.NewHasRequest(key))
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}

func (i *rpcStore) Search(typeName string, query predicate.Spec, bindings map[string]index.Value) ([]string, error) {
	resp, err := i.invoke(common.NewSearchRequest(typeName, common.SearchRequest{
		Query:    query,
		Bindings: bindings,
	}))
	if err != nil {
		return nil, err
	}
	var keys []string
	return keys, resp.DecodeMeta(&keys)
}

func (i *rpcStore) RegisterQuery(req cache.RegisterRequest) (*cq.StateInfo, []string, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, nil, store.NewError(store.RetCInvalidOperation, err.Error())
	}
	resp, err := i.invoke(common.NewCQRegisterRequest(data))
	if err != nil {
		return nil, nil, err
	}
	var res common.RegisterResponse
	if err := resp.DecodeMeta(&res); err != nil {
		return nil, nil, err
	}
	return &cq.StateInfo{
		QueryUID:      res.QueryUID,
		ClientID:      res.ClientID,
		ClientQueryID: res.ClientQueryID,
		IsNew:         res.IsNew,
	}, res.Keys, nil
}

func (i *rpcStore) UnRegisterQuery(clientQueryID string) error {
	_, err := i.invoke(common.NewCQUnregisterRequest(clientQueryID))
	return err
}

func (i *rpcStore) DisconnectClient(clientID string) error {
	_, err := i.invoke(common.NewCQDisconnectRequest(clientID))
	return err
}

func (i *rpcStore) QueryResults(id string) ([]string, error) {
	resp, err := i.invoke(common.NewCQResultsRequest(id))
	if err != nil {
		return nil, err
	}
	var keys []string
	return keys, resp.DecodeMeta(&keys)
}

func (i *rpcStore) Poll(clientID string, max int) ([]cache.ClientNotification, error) {
	if max < 0 {
		max = 0
	}
	resp, err := i.invoke(common.NewCQPollRequest(clientID, uint64(max)))
	if err != nil {
		return nil, err
	}
	var notes []cache.ClientNotification
	return notes, resp.DecodeMeta(&notes)
}

func (i *rpcStore) GetInfo() (cache.Info, error) {
	var info cache.Info
	resp, err := i.invoke(common.NewInfoRequest())
	if err != nil {
		return info, err
	}
	return info, resp.DecodeMeta(&info)
}
