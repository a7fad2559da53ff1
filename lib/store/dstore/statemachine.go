package dstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/ValentinKolb/dCache/lib/cache"
	"github.com/ValentinKolb/dCache/lib/index"
	"github.com/ValentinKolb/dCache/lib/store"
	"github.com/ValentinKolb/dCache/lib/store/dstore/internal"
	sm "github.com/lni/dragonboat/v4/statemachine"
)

// --------------------------------------------------------------------------
// State Machine Implementation
// --------------------------------------------------------------------------

// CacheStateMachine is a state machine implementation for Dragonboat RAFT. Every replica
// holds a full cache and evaluates the continuous queries on its own.
type CacheStateMachine struct {
	replicaID uint64
	shardID   uint64
	cache     *cache.Cache
}

// CreateStateMachineFactory returns a function that can be used by dragonboat to create a new state machine for a node host.
// The factory pattern is used to enable the caller to pass an interchangeable cacheFactory.
func CreateStateMachineFactory(cacheFactory store.CacheFactory) func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
	return func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
		c, err := cacheFactory()
		if err != nil {
			// the factory signature leaves no way to report the error
			panic(fmt.Sprintf("shard %d replica %d: cannot create cache: %v", shardID, replicaID, err))
		}
		return &CacheStateMachine{
			replicaID: replicaID,
			shardID:   shardID,
			cache:     c,
		}
	}
}

// Lookup handles read-only queries by mapping each Query operation to the corresponding cache method.
// Poll drains the inbox of the local replica only.
func (fsm *CacheStateMachine) Lookup(itf interface{}) (interface{}, error) {
	q, ok := itf.(internal.Query)
	if !ok {
		return nil, store.NewError(store.RetCInternalError, fmt.Sprintf("invalid Query type: %T", itf))
	}

	switch q.Type {
	case internal.QueryTGet:
		e, ok := fsm.cache.Get(q.Key)
		return entryResult{Entry: e, Ok: ok}, nil
	case internal.QueryTHas:
		return fsm.cache.Has(q.Key), nil
	case internal.QueryTSearch:
		keys, err := fsm.cache.SearchSpec(q.TypeName, q.Spec, q.Bindings)
		if err != nil {
			return nil, store.FromError(err)
		}
		return keys, nil
	case internal.QueryTResults:
		keys, err := fsm.cache.QueryResults(q.Key)
		if err != nil {
			return nil, store.FromError(err)
		}
		return keys, nil
	case internal.QueryTPoll:
		return fsm.cache.Poll(q.Key, q.Max), nil
	case internal.QueryTGetInfo:
		return fsm.cache.GetInfo(), nil
	default:
		return nil, store.NewError(store.RetCInvalidOperation, fmt.Sprintf("unknown Query operation: %d", q.Type))
	}
}

// entryResult is the result of a QueryTGet operation.
type entryResult struct {
	Entry *cache.Entry
	Ok    bool
}

func failed(err error) sm.Result {
	se, _ := store.FromError(err).(*store.Error)
	return sm.Result{Value: uint64(se.Code), Data: []byte(se.Msg)}
}

func succeeded(res internal.UpdateResult) sm.Result {
	data, err := json.Marshal(res)
	if err != nil {
		return failed(err)
	}
	return sm.Result{Value: uint64(store.RetCSuccess), Data: data}
}

func decodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// apply executes a single command on the cache.
func (fsm *CacheStateMachine) apply(cmd internal.Command) sm.Result {
	switch cmd.Type {
	case internal.CommandTInsert, internal.CommandTAdd:
		var meta *index.MetaInfo
		if len(cmd.Meta) > 0 {
			if err := decodeJSON(cmd.Meta, &meta); err != nil {
				return sm.Result{
					Value: uint64(store.RetCInvalidOperation),
					Data:  []byte(fmt.Sprintf("invalid metadata: %v", err)),
				}
			}
		}
		var err error
		if cmd.Type == internal.CommandTAdd {
			err = fsm.cache.Add(cmd.Key, cmd.Value, meta)
		} else {
			err = fsm.cache.Insert(cmd.Key, cmd.Value, meta)
		}
		if err != nil {
			return failed(err)
		}
		return succeeded(internal.UpdateResult{})
	case internal.CommandTRemove:
		removed, err := fsm.cache.Remove(cmd.Key)
		if err != nil {
			return failed(err)
		}
		return succeeded(internal.UpdateResult{Removed: removed})
	case internal.CommandTClear:
		if err := fsm.cache.Clear(); err != nil {
			return failed(err)
		}
		return succeeded(internal.UpdateResult{})
	case internal.CommandTRegister:
		var req cache.RegisterRequest
		if err := decodeJSON(cmd.Meta, &req); err != nil {
			return sm.Result{
				Value: uint64(store.RetCInvalidOperation),
				Data:  []byte(fmt.Sprintf("invalid register request: %v", err)),
			}
		}
		info, keys, err := fsm.cache.RegisterQuery(req)
		if err != nil {
			return failed(err)
		}
		return succeeded(internal.UpdateResult{Info: info, Keys: keys})
	case internal.CommandTUnregister:
		if err := fsm.cache.UnRegisterQuery(cmd.Key); err != nil {
			return failed(err)
		}
		return succeeded(internal.UpdateResult{})
	case internal.CommandTDisconnect:
		fsm.cache.DisconnectClient(cmd.Key)
		return succeeded(internal.UpdateResult{})
	default:
		return sm.Result{
			Value: uint64(store.RetCInvalidOperation),
			Data:  []byte(fmt.Sprintf("unknown Command operation: %s", cmd.Type)),
		}
	}
}

// Update handles write commands on the cache.
// All write operations are serialized into []byte and are accessible via the entries struct
func (fsm *CacheStateMachine) Update(entries []sm.Entry) ([]sm.Entry, error) {

	// Nothing to do
	if len(entries) == 0 {
		return entries, nil
	}

	// Stats
	start := time.Now()

	for idx, e := range entries {
		if len(e.Cmd) == 0 {
			entries[idx].Result = sm.Result{Value: uint64(store.RetCInvalidOperation), Data: []byte("empty command ignored")}
			continue
		}
		cmd := internal.Command{}
		if err := cmd.Deserialize(e.Cmd); err != nil {
			entries[idx].Result = sm.Result{
				Value: uint64(store.RetCInternalError),
				Data:  []byte(fmt.Sprintf("failed to deserialize command: %v", err)),
			}
			continue
		}
		entries[idx].Result = fsm.apply(cmd)
	}

	// Log if the update took long
	if elapsed := time.Since(start); elapsed > time.Millisecond {
		log.Infof("State machine took long to update. Batch updated %d entries, took %.2fms:", len(entries), float64(elapsed)/float64(time.Millisecond))
	}
	return entries, nil
}

// PrepareSnapshot captures the cache state. Dragonboat does not run Update concurrently
// with PrepareSnapshot, so the captured state matches the applied index.
func (fsm *CacheStateMachine) PrepareSnapshot() (interface{}, error) {
	var buf bytes.Buffer
	if err := fsm.cache.SaveState(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SaveSnapshot writes the state captured by PrepareSnapshot.
func (fsm *CacheStateMachine) SaveSnapshot(ctx interface{}, writer io.Writer, _ sm.ISnapshotFileCollection, done <-chan struct{}) error {
	data, ok := ctx.([]byte)
	if !ok {
		return fmt.Errorf("unexpected snapshot context %T", ctx)
	}
	select {
	case <-done:
		return sm.ErrSnapshotStopped
	default:
	}
	_, err := writer.Write(data)
	return err
}

// RecoverFromSnapshot replaces the cache content with the snapshot.
func (fsm *CacheStateMachine) RecoverFromSnapshot(r io.Reader, _ []sm.SnapshotFile, done <-chan struct{}) error {
	select {
	case <-done:
		return sm.ErrSnapshotStopped
	default:
	}
	return fsm.cache.LoadState(r)
}

// Close performs any necessary cleanup.
func (fsm *CacheStateMachine) Close() error {
	fsm.cache.Close()
	return nil
}

func (fsm *CacheStateMachine) String() string {
	return fmt.Sprintf("shard %d replica %d: %d entries", fsm.shardID, fsm.replicaID, fsm.cache.Count())
}
