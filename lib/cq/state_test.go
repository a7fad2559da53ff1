package cq

import (
	"bytes"
	"testing"

	"github.com/ValentinKolb/dCache/lib/index"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateRoundTrip(t *testing.T) {
	m := NewManager()
	q1 := NewContinuousQuery(`{"op":"gt","attr":"Salary","value":50000}`, "Employee",
		map[string]index.Value{"min": index.Int(7), "name": index.String("x")}, nil)
	q2 := NewContinuousQuery(`{"op":"all"}`, "Department", nil, nil)

	_, err := m.Register(q1, "c1", "c1-a", NotifyAll, Filters{Add: FilterData, Update: FilterMetadata})
	require.NoError(t, err)
	_, err = m.Register(q1, "c2", "c2-a", NotifyAdd|NotifyRemove, Filters{Remove: FilterMetadata})
	require.NoError(t, err)
	_, err = m.Register(q2, "c1", "c1-b", NotifyUpdate, Filters{Update: FilterData})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, m.GetState().Serialize(&buf))

	s, err := DeserializeState(&buf)
	require.NoError(t, err)
	assert.Equal(t, m.GetState(), s)

	restored := NewManager()
	restored.SetState(s)
	assert.Equal(t, m.GetState(), restored.GetState())
	assert.Equal(t, m.GetTargets(q1.UniqueID, ChangeAdd), restored.GetTargets(q1.UniqueID, ChangeAdd))

	_, last, err := restored.UnRegister("c1-b")
	require.NoError(t, err)
	assert.True(t, last)
	assert.True(t, m.Exists(q2.UniqueID), "restored state is a copy")
}

func TestStateEmptyRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewManager().GetState().Serialize(&buf))

	s, err := DeserializeState(&buf)
	require.NoError(t, err)
	assert.Empty(t, s.Queries)
	assert.Empty(t, s.Subscriptions)
}

func TestStateRejectsBadHeader(t *testing.T) {
	_, err := DeserializeState(bytes.NewReader([]byte("NOPE\x01")))
	assert.Error(t, err)

	_, err = DeserializeState(bytes.NewReader([]byte("DCQS\x09")))
	assert.Error(t, err)

	_, err = DeserializeState(bytes.NewReader([]byte("DCQS\x01\x00\x00\x00\x05")))
	assert.Error(t, err, "truncated")
}
