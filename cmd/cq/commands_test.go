package cq

import (
	"testing"

	"github.com/ValentinKolb/dCache/lib/cq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterRequest(t *testing.T) {
	cmd := registerCmd
	require.NoError(t, cmd.Flags().Set("id", "q1"))
	require.NoError(t, cmd.Flags().Set("notify", "add,remove"))
	require.NoError(t, cmd.Flags().Set("data-add", "meta"))
	require.NoError(t, cmd.Flags().Set("bindings", `{"min":{"type":"int","value":5}}`))

	req, err := registerRequest(cmd, []string{"c1", "Employee", `{"op":"gt","attr":"Salary","param":"min"}`})
	require.NoError(t, err)
	assert.Equal(t, "c1", req.ClientID)
	assert.Equal(t, "q1", req.ClientQueryID)
	assert.Equal(t, "Employee", req.TypeName)
	assert.Equal(t, "gt", req.Query.Op)
	assert.Equal(t, cq.NotifyAdd|cq.NotifyRemove, req.Notify)
	assert.Equal(t, cq.FilterMetadata, req.Filters.Add)
	assert.Equal(t, cq.FilterNone, req.Filters.Remove)
	assert.Equal(t, int64(5), req.Values["min"].AsInt())

	_, err = registerRequest(cmd, []string{"c1", "Employee", `{`})
	assert.Error(t, err)

	require.NoError(t, cmd.Flags().Set("notify", "sometimes"))
	_, err = registerRequest(cmd, []string{"c1", "Employee", `{"op":"gt","attr":"Salary","value":1}`})
	assert.Error(t, err)
}
