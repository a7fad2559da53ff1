package cq

import (
	"bytes"
	"testing"

	"github.com/ValentinKolb/dCache/lib/index"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func query(text string) *ContinuousQuery {
	return NewContinuousQuery(text, "Employee", map[string]index.Value{"min": index.Int(50000)}, nil)
}

func TestContinuousQueryEquals(t *testing.T) {
	a := query("SELECT Employee WHERE Salary > ?")
	b := query("SELECT  Employee\n WHERE Salary > ?")
	assert.NotEqual(t, a.UniqueID, b.UniqueID)
	assert.True(t, a.Equals(b))
	assert.False(t, a.Equals(query("select Employee where Salary > ?")))

	b.AttributeValues["min"] = index.Int(1)
	assert.False(t, a.Equals(b))

	c := query("SELECT Employee WHERE Salary > ?")
	c.ObjectType = "Department"
	assert.False(t, a.Equals(c))
}

func TestContinuousQueryLiteralsAreExact(t *testing.T) {
	ann := query(`{"op":"eq","attr":"Name","value":"Ann"}`)
	assert.False(t, ann.Equals(query(`{"op":"eq","attr":"Name","value":"ann"}`)))
	assert.False(t, ann.Equals(query(`{"op":"eq","attr":"Name","value":"Ann  Lee"}`)))
	assert.True(t, query(`{"op":"eq", "attr":"Name"}`).Equals(query("{\"op\":\"eq\",\n\t\"attr\":\"Name\"}")))
	assert.False(t, query(`{"value":"Ann  Lee"}`).Equals(query(`{"value":"Ann Lee"}`)))
	assert.False(t, query(`{"value":"say \"hi  there\""}`).Equals(query(`{"value":"say \"hi there\""}`)))
}

func TestManagerRegisterSharesEqualQueries(t *testing.T) {
	m := NewManager()

	first, err := m.Register(query("q"), "c1", "c1-a", NotifyAll, Filters{Add: FilterMetadata})
	require.NoError(t, err)
	assert.True(t, first.IsNew)

	second, err := m.Register(query("q"), "c2", "c2-a", NotifyAdd, Filters{Add: FilterNone})
	require.NoError(t, err)
	assert.False(t, second.IsNew)
	assert.Equal(t, first.QueryUID, second.QueryUID)
	assert.Equal(t, 1, m.Count())

	_, err = m.Register(query("q"), "c1", "c1-a", NotifyAll, Filters{})
	assert.ErrorIs(t, err, ErrDuplicateClientQuery)

	targets := m.GetTargets(first.QueryUID, ChangeAdd)
	require.Len(t, targets, 2)
	assert.Equal(t, FilterMetadata, targets["c1"].Filter)
	assert.Equal(t, []string{"c2-a"}, targets["c2"].ClientQueryIDs)

	targets = m.GetTargets(first.QueryUID, ChangeRemove)
	assert.Len(t, targets, 1, "c2 only subscribed to adds")
}

func TestManagerFiltersTakeMaximum(t *testing.T) {
	m := NewManager()
	info, err := m.Register(query("q"), "c1", "a", NotifyAll, Filters{Add: FilterNone, Update: FilterData})
	require.NoError(t, err)
	_, err = m.Register(query("q"), "c1", "b", NotifyAll, Filters{Add: FilterData, Update: FilterNone})
	require.NoError(t, err)

	assert.Equal(t, FilterData, m.GetTargets(info.QueryUID, ChangeAdd)["c1"].Filter)
	assert.Equal(t, FilterData, m.GetTargets(info.QueryUID, ChangeUpdate)["c1"].Filter)
	assert.Equal(t, []string{"a", "b"}, m.GetTargets(info.QueryUID, ChangeAdd)["c1"].ClientQueryIDs)

	// dropping b recomputes the add filter from a alone
	_, last, err := m.UnRegister("b")
	require.NoError(t, err)
	assert.False(t, last)
	assert.Equal(t, FilterNone, m.GetTargets(info.QueryUID, ChangeAdd)["c1"].Filter)
	assert.Equal(t, FilterData, m.GetTargets(info.QueryUID, ChangeUpdate)["c1"].Filter)
}

func TestManagerUnRegisterLastReference(t *testing.T) {
	m := NewManager()
	info, err := m.Register(query("q"), "c1", "a", NotifyAll, Filters{})
	require.NoError(t, err)
	_, err = m.Register(query("q"), "c2", "b", NotifyAll, Filters{})
	require.NoError(t, err)

	uid, last, err := m.UnRegister("a")
	require.NoError(t, err)
	assert.Equal(t, info.QueryUID, uid)
	assert.False(t, last)
	assert.True(t, m.Exists(uid))

	_, last, err = m.UnRegister("b")
	require.NoError(t, err)
	assert.True(t, last)
	assert.False(t, m.Exists(uid))
	assert.Empty(t, m.GetTargets(uid, ChangeAdd))

	_, _, err = m.UnRegister("b")
	assert.ErrorIs(t, err, ErrClientQueryNotFound)
}

func TestManagerUnRegisterClient(t *testing.T) {
	m := NewManager()
	shared, err := m.Register(query("shared"), "c1", "a", NotifyAll, Filters{})
	require.NoError(t, err)
	_, err = m.Register(query("shared"), "c2", "b", NotifyAll, Filters{})
	require.NoError(t, err)
	own, err := m.Register(query("own"), "c1", "c", NotifyAll, Filters{})
	require.NoError(t, err)

	removed := m.UnRegisterClient("c1")
	assert.Equal(t, []string{own.QueryUID}, removed)
	assert.True(t, m.Exists(shared.QueryUID))

	_, ok := m.Subscription("a")
	assert.False(t, ok)
	sub, ok := m.Subscription("b")
	require.True(t, ok)
	assert.Equal(t, "c2", sub.ClientID)
}

func TestStateInfoRoundTrip(t *testing.T) {
	in := &StateInfo{QueryUID: "uid", ClientID: "c1", ClientQueryID: "a", IsNew: true}
	out, err := DeserializeStateInfo(bytes.NewReader(in.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestParseFilterAndNotification(t *testing.T) {
	f, err := ParseDataFilter("meta")
	require.NoError(t, err)
	assert.Equal(t, FilterMetadata, f)
	_, err = ParseDataFilter("everything")
	assert.Error(t, err)

	n, err := ParseNotificationType("add, remove")
	require.NoError(t, err)
	assert.True(t, n.Has(ChangeAdd))
	assert.False(t, n.Has(ChangeUpdate))
	assert.True(t, n.Has(ChangeRemove))
}
