package dstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/dCache/lib/cache"
	"github.com/ValentinKolb/dCache/lib/cq"
	"github.com/ValentinKolb/dCache/lib/index"
	"github.com/ValentinKolb/dCache/lib/predicate"
	"github.com/ValentinKolb/dCache/lib/store"
	"github.com/ValentinKolb/dCache/lib/store/dstore/internal"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/client"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	retries = 5
	log     = logger.GetLogger("store")
)

// storeImpl is the concrete implementation of the distributed store.
// It encapsulates a Dragonboat NodeHost which is used to communicate with the state machine.
type storeImpl struct {
	nh      *dragonboat.NodeHost
	shardID uint64
	cs      *client.Session
	timeout time.Duration
}

// NewDistributedStore creates a new distributed store instance which uses raft consensus to ensure strict linearizability
// across multiple nodes.
func NewDistributedStore(nh *dragonboat.NodeHost, shardID uint64, timeout time.Duration) store.IStore {
	cs := nh.GetNoOPSession(shardID)
	return &storeImpl{
		nh:      nh,
		shardID: shardID,
		cs:      cs,
		timeout: timeout,
	}
}

// --------------------------------------------------------------------------
// Internal write and read operations (used by interface methods)
// --------------------------------------------------------------------------

// write serializes a Command and sends it via SyncPropose.
// It returns the decoded result of the state machine or a *store.Error.
func (s *storeImpl) write(cmd internal.Command) (internal.UpdateResult, error) {
	var out internal.UpdateResult
	for i := 0; i < retries; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)

		res, err := s.nh.SyncPropose(ctx, s.cs, cmd.Serialize())
		cancel()

		// Check for system busy errors
		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncPropose: System busy, retrying (%d/%d)...", i+1, retries)
			time.Sleep(s.timeout / 10)
			continue
		}

		if err != nil {
			return out, store.NewError(store.RetCInternalError, err.Error())
		}
		if res.Value != uint64(store.RetCSuccess) {
			return out, store.NewError(store.RetCode(res.Value), string(res.Data))
		}
		if err := json.Unmarshal(res.Data, &out); err != nil {
			return out, store.NewError(store.RetCInternalError, fmt.Sprintf("invalid command result: %v", err))
		}
		return out, nil
	}
	return out, store.NewError(store.RetCInternalError, "timeout")
}

// read is a generic helper function that queries the state machine
// and attempts to convert the response into the expected type R.
//
// This function uses the SyncRead function (dragonboat) by default to Query the state machine.
// If linearizability is not required, the stale parameter can be set to true to use the faster StaleRead function.
//
// If the read operation fails due to a system busy error, the function retries up to 5 times.
func read[R any](r *storeImpl, q internal.Query, stale bool) (R, error) {
	var zero R
	for i := 0; i < retries; i++ {

		var res interface{}
		var err error

		// Query the state machine, use StaleRead if stale is set otherwise use SyncRead (default)
		if stale {
			res, err = r.nh.StaleRead(r.shardID, q)
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
			res, err = r.nh.SyncRead(ctx, r.shardID, q)
			cancel()
		}

		// Check for system busy errors
		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncRead: System busy, retrying (%d/%d)...", i+1, retries)
			time.Sleep(r.timeout / 10)
			continue
		}

		if err != nil {
			var se *store.Error
			if errors.As(err, &se) {
				return zero, se
			}
			return zero, store.NewError(store.RetCInternalError, err.Error())
		}

		// The state machine is expected to return the response in the expected type R.
		casted, ok := res.(R)
		if !ok {
			return zero, store.NewError(store.RetCInternalError,
				fmt.Sprintf("unexpected type: received %T, expected %T", res, zero))
		}
		return casted, nil
	}
	return zero, store.NewError(store.RetCInternalError, "timeout")
}

func (s *storeImpl) insert(t internal.CommandType, key string, value []byte, meta *index.MetaInfo) error {
	cmd := internal.Command{Type: t, Key: key, Value: value}
	if meta != nil {
		data, err := json.Marshal(meta)
		if err != nil {
			return store.NewError(store.RetCInvalidOperation, err.Error())
		}
		cmd.Meta = data
	}
	_, err := s.write(cmd)
	return err
}

// --------------------------------------------------------------------------
// Interface Methods (docs see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Insert(key string, value []byte, meta *index.MetaInfo) error {
	return s.insert(internal.CommandTInsert, key, value, meta)
}

func (s *storeImpl) Add(key string, value []byte, meta *index.MetaInfo) error {
	return s.insert(internal.CommandTAdd, key, value, meta)
}

func (s *storeImpl) Remove(key string) (bool, error) {
	res, err := s.write(internal.Command{
		Type: internal.CommandTRemove,
		Key:  key,
	})
	return res.Removed, err
}

func (s *storeImpl) Clear() error {
	_, err := s.write(internal.Command{Type: internal.CommandTClear})
	return err
}

func (s *storeImpl) Get(key string) (*cache.Entry, bool, error) {
	res, err := read[entryResult](s, internal.Query{
		Type: internal.QueryTGet,
		Key:  key,
	}, false)
	if err != nil {
		return nil, false, err
	}
	return res.Entry, res.Ok, nil
}

func (s *storeImpl) Has(key string) (bool, error) {
	return read[bool](s, internal.Query{
		Type: internal.QueryTHas,
		Key:  key,
	}, false)
}

func (s *storeImpl) Search(typeName string, query predicate.Spec, bindings map[string]index.Value) ([]string, error) {
	return read[[]string](s, internal.Query{
		Type:     internal.QueryTSearch,
		TypeName: typeName,
		Spec:     query,
		Bindings: bindings,
	}, false)
}

// RegisterQuery generates a missing client query id before proposing, so all replicas
// register the same id.
func (s *storeImpl) RegisterQuery(req cache.RegisterRequest) (*cq.StateInfo, []string, error) {
	if req.ClientQueryID == "" {
		req.ClientQueryID = uuid.NewString()
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, nil, store.NewError(store.RetCInvalidOperation, err.Error())
	}
	res, err := s.write(internal.Command{
		Type: internal.CommandTRegister,
		Meta: data,
	})
	if err != nil {
		return nil, nil, err
	}
	return res.Info, res.Keys, nil
}

func (s *storeImpl) UnRegisterQuery(clientQueryID string) error {
	_, err := s.write(internal.Command{
		Type: internal.CommandTUnregister,
		Key:  clientQueryID,
	})
	return err
}

func (s *storeImpl) DisconnectClient(clientID string) error {
	_, err := s.write(internal.Command{
		Type: internal.CommandTDisconnect,
		Key:  clientID,
	})
	return err
}

func (s *storeImpl) QueryResults(id string) ([]string, error) {
	return read[[]string](s, internal.Query{
		Type: internal.QueryTResults,
		Key:  id,
	}, false)
}

func (s *storeImpl) Poll(clientID string, max int) ([]cache.ClientNotification, error) {
	return read[[]cache.ClientNotification](s, internal.Query{
		Type: internal.QueryTPoll,
		Key:  clientID,
		Max:  max,
	}, false)
}

func (s *storeImpl) GetInfo() (cache.Info, error) {
	return read[cache.Info](
		s,
		internal.Query{
			Type: internal.QueryTGetInfo,
		},
		true, // Note: allow for stale reads
	)
}
