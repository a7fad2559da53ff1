package dstore

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/ValentinKolb/dCache/lib/cache"
	"github.com/ValentinKolb/dCache/lib/cq"
	"github.com/ValentinKolb/dCache/lib/predicate"
	"github.com/ValentinKolb/dCache/lib/store"
	"github.com/ValentinKolb/dCache/lib/store/dstore/internal"
	sm "github.com/lni/dragonboat/v4/statemachine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMachine(t *testing.T) *CacheStateMachine {
	t.Helper()
	factory := CreateStateMachineFactory(store.ConfigFactory(cache.Config{
		TypeSchema:          "Employee(Name:string,Salary:int)",
		SyncQueryEvaluation: true,
	}))
	fsm := factory(1, 1).(*CacheStateMachine)
	t.Cleanup(func() { _ = fsm.Close() })
	return fsm
}

func apply(t *testing.T, fsm *CacheStateMachine, cmds ...internal.Command) []sm.Result {
	t.Helper()
	entries := make([]sm.Entry, len(cmds))
	for i, c := range cmds {
		entries[i] = sm.Entry{Index: uint64(i + 1), Cmd: c.Serialize()}
	}
	out, err := fsm.Update(entries)
	require.NoError(t, err)
	results := make([]sm.Result, len(out))
	for i, e := range out {
		results[i] = e.Result
	}
	return results
}

func insertCmd(key string, salary int) internal.Command {
	return internal.Command{
		Type:  internal.CommandTInsert,
		Key:   key,
		Meta:  []byte(`{"type":"Employee","attributes":{"Name":"x","Salary":` + jsonInt(salary) + `}}`),
		Value: []byte(key),
	}
}

func jsonInt(i int) string {
	data, _ := json.Marshal(i)
	return string(data)
}

func registerCmd(t *testing.T, req cache.RegisterRequest) internal.Command {
	data, err := json.Marshal(req)
	require.NoError(t, err)
	return internal.Command{Type: internal.CommandTRegister, Meta: data}
}

func TestStateMachineUpdateAndLookup(t *testing.T) {
	fsm := newTestMachine(t)

	results := apply(t, fsm,
		insertCmd("e1", 60000),
		insertCmd("e2", 10),
		internal.Command{Type: internal.CommandTAdd, Key: "e1"},
		internal.Command{Type: internal.CommandTRemove, Key: "e2"},
	)
	assert.Equal(t, uint64(store.RetCSuccess), results[0].Value)
	assert.Equal(t, uint64(store.RetCSuccess), results[1].Value)
	assert.Equal(t, uint64(store.RetCInvalidOperation), results[2].Value, "add of a present key")

	var res internal.UpdateResult
	require.NoError(t, json.Unmarshal(results[3].Data, &res))
	assert.True(t, res.Removed)

	got, err := fsm.Lookup(internal.Query{Type: internal.QueryTGet, Key: "e1"})
	require.NoError(t, err)
	assert.True(t, got.(entryResult).Ok)
	assert.Equal(t, []byte("e1"), got.(entryResult).Entry.Value)

	has, err := fsm.Lookup(internal.Query{Type: internal.QueryTHas, Key: "e2"})
	require.NoError(t, err)
	assert.False(t, has.(bool))

	keys, err := fsm.Lookup(internal.Query{
		Type:     internal.QueryTSearch,
		TypeName: "Employee",
		Spec:     predicate.Spec{Op: "gt", Attr: "Salary", Value: 50000},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"e1"}, keys)
}

func TestStateMachineErrorCodes(t *testing.T) {
	fsm := newTestMachine(t)

	results := apply(t, fsm,
		internal.Command{
			Type: internal.CommandTInsert,
			Key:  "bad",
			Meta: []byte(`{"type":"Employee","attributes":{"Salary":"a lot"}}`),
		},
		internal.Command{Type: internal.CommandTInsert, Key: "k", Meta: []byte("{")},
		internal.Command{Type: internal.CommandTUnregister, Key: "missing"},
		internal.Command{Type: internal.CommandType(99)},
	)
	assert.Equal(t, uint64(store.RetCConversionError), results[0].Value)
	assert.Equal(t, uint64(store.RetCInvalidOperation), results[1].Value)
	assert.Equal(t, uint64(store.RetCNotFound), results[2].Value)
	assert.Equal(t, uint64(store.RetCInvalidOperation), results[3].Value)

	out, err := fsm.Update([]sm.Entry{{Index: 9, Cmd: []byte{1, 2}}})
	require.NoError(t, err)
	assert.Equal(t, uint64(store.RetCInternalError), out[0].Result.Value)

	_, err = fsm.Lookup("not a query")
	assert.Error(t, err)
	_, err = fsm.Lookup(internal.Query{Type: internal.QueryTResults, Key: "missing"})
	var se *store.Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, store.RetCNotFound, se.Code)
}

func TestStateMachineContinuousQueries(t *testing.T) {
	fsm := newTestMachine(t)

	results := apply(t, fsm,
		insertCmd("e1", 60000),
		registerCmd(t, cache.RegisterRequest{
			ClientID:      "c1",
			ClientQueryID: "q1",
			TypeName:      "Employee",
			Query:         predicate.Spec{Op: "gt", Attr: "Salary", Value: 50000},
		}),
		insertCmd("e2", 70000),
	)
	var res internal.UpdateResult
	require.NoError(t, json.Unmarshal(results[1].Data, &res))
	require.NotNil(t, res.Info)
	assert.True(t, res.Info.IsNew)
	assert.Equal(t, []string{"e1"}, res.Keys)

	keys, err := fsm.Lookup(internal.Query{Type: internal.QueryTResults, Key: "q1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"e1", "e2"}, keys)

	notes, err := fsm.Lookup(internal.Query{Type: internal.QueryTPoll, Key: "c1"})
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "e2", notes.([]cache.ClientNotification)[0].Key)
	assert.Equal(t, cq.ChangeAdd, notes.([]cache.ClientNotification)[0].ChangeType)

	apply(t, fsm, internal.Command{Type: internal.CommandTDisconnect, Key: "c1"})
	_, err = fsm.Lookup(internal.Query{Type: internal.QueryTResults, Key: "q1"})
	assert.Error(t, err)
}

func TestStateMachineSnapshot(t *testing.T) {
	src := newTestMachine(t)
	apply(t, src,
		insertCmd("e1", 60000),
		registerCmd(t, cache.RegisterRequest{
			ClientID:      "c1",
			ClientQueryID: "q1",
			TypeName:      "Employee",
			Query:         predicate.Spec{Op: "gt", Attr: "Salary", Value: 50000},
		}),
	)

	ctx, err := src.PrepareSnapshot()
	require.NoError(t, err)
	apply(t, src, insertCmd("after", 90000))

	var buf bytes.Buffer
	require.NoError(t, src.SaveSnapshot(ctx, &buf, nil, make(chan struct{})))

	dst := newTestMachine(t)
	require.NoError(t, dst.RecoverFromSnapshot(&buf, nil, make(chan struct{})))

	has, err := dst.Lookup(internal.Query{Type: internal.QueryTHas, Key: "after"})
	require.NoError(t, err)
	assert.False(t, has.(bool), "snapshot reflects the state at prepare time")

	keys, err := dst.Lookup(internal.Query{Type: internal.QueryTResults, Key: "q1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"e1"}, keys)

	info, err := dst.Lookup(internal.Query{Type: internal.QueryTGetInfo})
	require.NoError(t, err)
	assert.Equal(t, 1, info.(cache.Info).Entries)
	assert.Equal(t, 1, info.(cache.Info).RegisteredQueries)

	stopped := make(chan struct{})
	close(stopped)
	assert.ErrorIs(t, dst.RecoverFromSnapshot(&buf, nil, stopped), sm.ErrSnapshotStopped)
}
