package common

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/ValentinKolb/dCache/lib/cache"
	"github.com/ValentinKolb/dCache/lib/store"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseErrorCarriesCode(t *testing.T) {
	msg := NewDeleteResponse(false, store.NewError(store.RetCNotFound, "no such query"))
	assert.Equal(t, "no such query", msg.Err)
	assert.Equal(t, uint64(store.RetCNotFound), msg.Code)

	var se *store.Error
	require.ErrorAs(t, msg.ToError(), &se)
	assert.Equal(t, store.RetCNotFound, se.Code)

	plain := NewClearResponse(errors.New("boom"))
	assert.Equal(t, uint64(store.RetCInternalError), plain.Code)

	assert.NoError(t, NewHasResponse(true, nil).ToError())
}

func TestDecodeMetaKeepsIntegers(t *testing.T) {
	msg := NewCQResultsResponse([]string{"a", "b"}, nil)
	var keys []string
	require.NoError(t, msg.DecodeMeta(&keys))
	assert.Equal(t, []string{"a", "b"}, keys)

	msg = &Message{MsgType: MsgTInfo, Meta: []byte(`{"n":9007199254740993}`)}
	var v map[string]any
	require.NoError(t, msg.DecodeMeta(&v))
	assert.Equal(t, json.Number("9007199254740993"), v["n"])

	msg.Meta = []byte("{")
	assert.ErrorContains(t, msg.DecodeMeta(&v), "invalid info payload")
}

func TestMessageTypeJSON(t *testing.T) {
	data, err := MsgTCQDisconnect.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"cqDisconnect"`, string(data))

	var mt MessageType
	require.NoError(t, mt.UnmarshalJSON(data))
	assert.Equal(t, MsgTCQDisconnect, mt)
	assert.Error(t, mt.UnmarshalJSON([]byte(`"kvSet"`)))
	assert.Equal(t, "unknown", MessageType(200).String())
}

func TestCacheConfigDefaults(t *testing.T) {
	cfg := CacheConfig{TypeSchema: "Employee(Name:string)"}.ToCacheConfig()
	def := cache.DefaultConfig()
	assert.Equal(t, "Employee(Name:string)", cfg.TypeSchema)
	assert.Equal(t, def.EvalIndexPoolSize, cfg.EvalIndexPoolSize)
	assert.Equal(t, def.NotificationBuffer, cfg.NotificationBuffer)

	cfg = CacheConfig{EvalIndexPoolSize: 3, NotificationBuffer: 7}.ToCacheConfig()
	assert.Equal(t, 3, cfg.EvalIndexPoolSize)
	assert.Equal(t, 7, cfg.NotificationBuffer)
}

func TestServerConfigString(t *testing.T) {
	local := ServerConfig{
		Endpoint: ":8080",
		Shards:   []ServerShard{{ShardID: 1, Type: ShardTypeLocal}},
	}
	assert.False(t, local.HasReplicatedShard())
	assert.NotContains(t, local.String(), "RAFT")
	assert.NotContains(t, local.String(), "PEERS")

	local.Peers = PeerConfig{Endpoint: "a:7070", Members: []string{"b:7070"}, RetransmitMillisecond: 50}
	require.True(t, local.Peers.Enabled())
	assert.Contains(t, local.String(), "Peer 1")

	replicated := ServerConfig{
		Endpoint:       ":8080",
		ReplicaID:      2,
		RTTMillisecond: 100,
		ClusterMembers: map[uint64]string{2: "b:63001", 1: "a:63001"},
		Shards:         []ServerShard{{ShardID: 1, Type: ShardTypeReplicated}},
	}
	require.True(t, replicated.HasReplicatedShard())
	out := replicated.String()
	assert.Contains(t, out, "RAFT")
	assert.Contains(t, out, "1000 ms")
	assert.Less(t, strings.Index(out, "Replica 1"), strings.Index(out, "Replica 2"))

	dc := replicated.ToDragonboatConfig(1)
	assert.Equal(t, uint64(2), dc.ReplicaID)
	assert.Equal(t, "b:63001", replicated.ToNodeHostConfig().RaftAddress)
}

func TestParseLogLevels(t *testing.T) {
	levels, err := ParseLogLevels("warn,cq=debug, gcs = error")
	require.NoError(t, err)
	assert.Equal(t, logger.WARNING, levels.Base)
	assert.Equal(t, logger.DEBUG, levels.Of("cq"))
	assert.Equal(t, logger.ERROR, levels.Of("gcs"))
	assert.Equal(t, logger.WARNING, levels.Of("cache"))
	assert.Contains(t, levels.String(), "cq=debug gcs=error index=warn")

	levels, err = ParseLogLevels("")
	require.NoError(t, err)
	assert.Equal(t, logger.INFO, levels.Base)

	_, err = ParseLogLevels("loud")
	assert.Error(t, err)
	_, err = ParseLogLevels("info,raftdb=debug")
	assert.ErrorContains(t, err, "unknown logger")
}

func TestCreateLoggerNames(t *testing.T) {
	assert.Equal(t, "cq", CreateLogger("cq").(*cacheLogger).name)
	assert.Equal(t, "raft/rsm", CreateLogger("rsm").(*cacheLogger).name)
}
