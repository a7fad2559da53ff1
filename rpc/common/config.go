package common

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinKolb/dCache/lib/cache"
	"github.com/lni/dragonboat/v4/config"
)

// --------------------------------------------------------------------------
// helper functions for to interface with Dragonboat (for the server util)
// --------------------------------------------------------------------------

// Dragonboat uses RTT (Round Trip Time) to determine the timing of elections and heartbeats.
// These default values are selected according to the RAFT Paper
const (
	electionRTTFactor  = 10
	heartbeatRTTFactor = 1
)

// ToDragonboatConfig converts the ServerConfig to Dragonboat Config
func (c *ServerConfig) ToDragonboatConfig(shardId uint64) config.Config {
	return config.Config{
		ReplicaID:          c.ReplicaID,
		ShardID:            shardId,
		ElectionRTT:        electionRTTFactor,  // = c.RTTMillisecond * 10
		HeartbeatRTT:       heartbeatRTTFactor, // = c.RTTMillisecond * 2
		CheckQuorum:        true,
		SnapshotEntries:    c.SnapshotEntries,
		CompactionOverhead: c.CompactionOverhead,
		MaxInMemLogSize:    0,
	}
}

// ToNodeHostConfig creates a NodeHostConfig for Dragonboat
func (c *ServerConfig) ToNodeHostConfig() config.NodeHostConfig {
	return config.NodeHostConfig{
		WALDir:         c.DataDir,
		NodeHostDir:    c.DataDir,
		RTTMillisecond: c.RTTMillisecond,
		RaftAddress:    c.ClusterMembers[c.ReplicaID],
	}
}

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

// ServerShardType selects the store backing a shard.
type ServerShardType string

const (
	// ShardTypeLocal is a cache that lives in the server process only (lstore).
	ShardTypeLocal ServerShardType = "lstore"
	// ShardTypeReplicated is a cache replicated with raft across the cluster (dstore).
	ShardTypeReplicated ServerShardType = "dstore"
)

type ServerShard struct {
	ShardID uint64
	Type    ServerShardType
}

// ServerConfig holds all configuration parameters of a dcache server.
type ServerConfig struct {
	Shards []ServerShard

	// Dragonboat parameters, only used by replicated shards
	RTTMillisecond     uint64
	SnapshotEntries    uint64
	CompactionOverhead uint64
	DataDir            string
	ReplicaID          uint64
	ClusterMembers     map[uint64]string

	// timeout of proposals and reads on replicated shards
	TimeoutSecond int64

	// address the rpc transport listens on
	Endpoint string

	LogLevel string

	// Cache settings shared by all shards
	Cache CacheConfig

	// Peers mirror client notifications of local shards to other servers
	Peers PeerConfig
}

// PeerConfig configures the group of servers that mirror client notifications, so a
// client may poll any of them. Disabled when Endpoint is empty.
type PeerConfig struct {
	// Endpoint is the address the peer transport listens on and the identity of this
	// server in the group
	Endpoint string

	// Members are the peer endpoints of the other servers
	Members []string

	// RetransmitMillisecond is the first retransmission delay, doubled up to 16 times
	// its value
	RetransmitMillisecond int64
}

// Enabled reports whether the server joins a peer group
func (c PeerConfig) Enabled() bool {
	return c.Endpoint != ""
}

// CacheConfig holds the cache settings of a server.
type CacheConfig struct {
	TypeSchema                  string
	IndexForAll                 bool
	AsyncIndexing               bool
	SyncQueryEvaluation         bool
	DisableIndexNotDefinedError bool
	EvalIndexPoolSize           int
	NotificationBuffer          int
}

// ToCacheConfig converts the CacheConfig to a cache.Config. Zero sizes keep the cache defaults.
func (c CacheConfig) ToCacheConfig() cache.Config {
	cfg := cache.DefaultConfig()
	cfg.TypeSchema = c.TypeSchema
	cfg.IndexForAll = c.IndexForAll
	cfg.AsyncIndexing = c.AsyncIndexing
	cfg.SyncQueryEvaluation = c.SyncQueryEvaluation
	cfg.DisableIndexNotDefinedError = c.DisableIndexNotDefinedError
	if c.EvalIndexPoolSize > 0 {
		cfg.EvalIndexPoolSize = c.EvalIndexPoolSize
	}
	if c.NotificationBuffer > 0 {
		cfg.NotificationBuffer = c.NotificationBuffer
	}
	return cfg
}

// Timeout returns the configured timeout of replicated operations
func (c *ServerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecond) * time.Second
}

// HasReplicatedShard reports whether any shard needs a raft node host
func (c *ServerConfig) HasReplicatedShard() bool {
	for _, shard := range c.Shards {
		if shard.Type == ShardTypeReplicated {
			return true
		}
	}
	return false
}

// printer renders the sectioned key/value layout used by the config String methods.
type printer struct {
	sb strings.Builder
}

func (p *printer) section(title string) {
	p.sb.WriteString("\n")
	p.sb.WriteString(strings.ToUpper(title))
	p.sb.WriteString("\n")
}

func (p *printer) field(name string, value any) {
	fmt.Fprintf(&p.sb, "  %-24s: %v\n", name, value)
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var p printer

	p.section("RPC Server")
	p.field("Endpoint", c.Endpoint)
	p.field("Log Level", c.LogLevel)

	p.section("Cache")
	p.field("Type Schema", c.Cache.TypeSchema)
	p.field("Index For All", c.Cache.IndexForAll)
	p.field("Async Indexing", c.Cache.AsyncIndexing)
	p.field("Sync Query Evaluation", c.Cache.SyncQueryEvaluation)
	p.field("Ignore Undefined Attr", c.Cache.DisableIndexNotDefinedError)
	p.field("Eval Index Pool", c.Cache.EvalIndexPoolSize)
	p.field("Notification Buffer", c.Cache.NotificationBuffer)

	p.section("Shards")
	for _, shard := range c.Shards {
		p.field(strconv.FormatUint(shard.ShardID, 10), shard.Type)
	}

	if c.Peers.Enabled() {
		p.section("Peers")
		p.field("Peer Endpoint", c.Peers.Endpoint)
		p.field("Retransmit Interval", fmt.Sprintf("%d ms", c.Peers.RetransmitMillisecond))
		for i, member := range c.Peers.Members {
			p.field(fmt.Sprintf("Peer %d", i+1), member)
		}
	}

	if !c.HasReplicatedShard() {
		return p.sb.String()
	}

	p.section("Raft")
	p.field("Replica ID", c.ReplicaID)
	p.field("Raft Address", c.ClusterMembers[c.ReplicaID])
	p.field("Round Trip Time", fmt.Sprintf("%d ms", c.RTTMillisecond))
	p.field("Election Timeout", fmt.Sprintf("%d ms", c.RTTMillisecond*electionRTTFactor))
	p.field("Heartbeat Interval", fmt.Sprintf("%d ms", c.RTTMillisecond*heartbeatRTTFactor))
	p.field("Snapshot Entries", c.SnapshotEntries)
	p.field("Compaction Overhead", c.CompactionOverhead)
	p.field("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	p.field("Data Directory", c.DataDir)

	p.section("Cluster Members")
	ids := make([]uint64, 0, len(c.ClusterMembers))
	for id := range c.ClusterMembers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		p.field(fmt.Sprintf("Replica %d", id), c.ClusterMembers[id])
	}
	return p.sb.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

type ClientConfig struct {
	Endpoints              []string
	TimeoutSecond          int
	RetryCount             int
	ConnectionsPerEndpoint int
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var p printer

	p.section("Client")
	p.field("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	p.field("Retry Count", c.RetryCount)
	p.field("Connections Per Endpoint", max(1, c.ConnectionsPerEndpoint))

	p.section("Endpoints")
	for i, endpoint := range c.Endpoints {
		p.field(strconv.Itoa(i), endpoint)
	}
	return p.sb.String()
}
