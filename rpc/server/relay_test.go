package server

import (
	"net"
	"testing"
	"time"

	"github.com/ValentinKolb/dCache/lib/cache"
	"github.com/ValentinKolb/dCache/lib/cq"
	"github.com/ValentinKolb/dCache/lib/gcs"
	"github.com/ValentinKolb/dCache/lib/predicate"
	"github.com/ValentinKolb/dCache/lib/store"
	"github.com/ValentinKolb/dCache/rpc/client"
	"github.com/ValentinKolb/dCache/rpc/common"
	"github.com/ValentinKolb/dCache/rpc/serializer"
	"github.com/ValentinKolb/dCache/rpc/transport/tcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func newPeerStore(t *testing.T, endpoint string, members ...string) (store.IStore, *RPCServer) {
	t.Helper()
	lb := &loopback{}
	ser := serializer.NewJSONSerializer()
	srv := NewRPCServer(common.ServerConfig{
		Shards:   []common.ServerShard{{ShardID: 1, Type: common.ShardTypeLocal}},
		LogLevel: "error",
		Cache: common.CacheConfig{
			TypeSchema:          "Employee(Name:string,Salary:int)",
			SyncQueryEvaluation: true,
		},
		Peers: common.PeerConfig{Endpoint: endpoint, Members: members, RetransmitMillisecond: 20},
	}, lb, ser)
	require.NoError(t, srv.init())
	t.Cleanup(srv.Close)

	s, err := client.NewRPCStore(1, common.ClientConfig{}, lb, ser)
	require.NoError(t, err)
	return s, srv
}

func TestRelayMirrorsNotificationsToPeers(t *testing.T) {
	addrA, addrB := freeAddr(t), freeAddr(t)
	a, _ := newPeerStore(t, addrA, addrB)
	b, _ := newPeerStore(t, addrB, addrA)

	_, _, err := a.RegisterQuery(cache.RegisterRequest{
		ClientID:      "c1",
		ClientQueryID: "q1",
		TypeName:      "Employee",
		Query:         predicate.Spec{Op: "gt", Attr: "Salary", Value: 50000},
		Filters:       cq.Filters{Add: cq.FilterMetadata},
	})
	require.NoError(t, err)
	require.NoError(t, a.Insert("e1", nil, employee("alice", 60000)))

	var mirrored []cache.ClientNotification
	require.Eventually(t, func() bool {
		notes, err := b.Poll("c1", 0)
		if err != nil {
			return false
		}
		mirrored = append(mirrored, notes...)
		return len(mirrored) == 1
	}, 3*time.Second, 10*time.Millisecond)

	n := mirrored[0]
	assert.Equal(t, "e1", n.Key)
	assert.Equal(t, []string{"q1"}, n.ClientQueryIDs)
	assert.Equal(t, cq.ChangeAdd, n.ChangeType)
	require.NotNil(t, n.Meta)
	assert.Equal(t, "Employee", n.Meta.TypeName)

	local, err := a.Poll("c1", 0)
	require.NoError(t, err)
	require.Len(t, local, 1)
	assert.Equal(t, local[0].EventID, n.EventID)

	info, err := b.GetInfo()
	require.NoError(t, err)
	assert.Equal(t, 0, info.RegisteredQueries, "the peer only holds the inbox")
}

func TestRelaySuspectsUnreachablePeers(t *testing.T) {
	gone := freeAddr(t)
	_, srv := newPeerStore(t, freeAddr(t), gone)

	srv.relay.checkMembers()
	assert.True(t, srv.relay.group.IsSuspected(gcs.Address(gone)))

	peer := tcp.NewPeerTransport(gone, tcp.Options{})
	require.NoError(t, peer.Start())
	defer peer.Close()

	srv.relay.checkMembers()
	assert.False(t, srv.relay.group.IsSuspected(gcs.Address(gone)))
}
