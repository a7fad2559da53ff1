package serve

import (
	"fmt"
	"strconv"
	"strings"

	cmdUtil "github.com/ValentinKolb/dCache/cmd/util"
	"github.com/ValentinKolb/dCache/lib/util"
	"github.com/ValentinKolb/dCache/rpc/common"
	"github.com/ValentinKolb/dCache/rpc/server"
	"github.com/ValentinKolb/dCache/rpc/transport"
	"github.com/ValentinKolb/dCache/rpc/transport/http"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the dCache server",
		Long:    `Start the dCache server with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is DCACHE_<flag> (e.g. DCACHE_TIMEOUT=15)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	cobra.OnInitialize(cmdUtil.InitConfig)

	key := "shards"
	ServeCmd.PersistentFlags().String(key, "1=lstore", cmdUtil.WrapString("Comma-separated list of shards to serve. Format: ID=TYPE where TYPE is one of: dstore (raft replicated cache), lstore (local cache)"))

	key = "rtt-millisecond"
	ServeCmd.PersistentFlags().Int(key, 100, cmdUtil.WrapString("(Cluster Mode) RTTMillisecond defines the average Round Trip Time (RTT) in milliseconds between two NodeHost instances. Election and heartbeat timeouts are derived from this value"))

	key = "snapshot-entries"
	ServeCmd.PersistentFlags().Int(key, 1000, cmdUtil.WrapString("(Cluster Mode) SnapshotEntries defines after how many applied Raft log entries the cache is snapshotted. 0 disables automatic snapshots (not recommended)"))

	key = "compaction-overhead"
	ServeCmd.PersistentFlags().Int(key, 500, cmdUtil.WrapString("(Cluster Mode) CompactionOverhead defines how many log entries are kept after a snapshot was taken"))

	key = "data-dir"
	ServeCmd.PersistentFlags().String(key, "data", cmdUtil.WrapString("(Cluster Mode) DataDir is the directory used for the raft log and the snapshots"))

	key = "replica-id"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("(Cluster Mode) ReplicaID is the unique identifier for this NodeHost instance (e.g. 'node-1')"))

	key = "cluster-members"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("(Cluster Mode) ClusterMembers is a comma-separated list of NodeHost addresses in the format 'node-1=localhost:63001,node-2=localhost:63002,...'"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, 5, cmdUtil.WrapString("(Cluster Mode) Timeout of raft proposals and reads in seconds"))

	key = "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:8080", cmdUtil.WrapString("The address on which the API will listen"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error). Single cache loggers can be overridden, e.g. 'info,cq=debug,gcs=warn'"))

	// cache settings

	key = "types"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Type schema of the indexed entries, e.g. 'Employee(Name:string,Salary:int);Worker=Employee'. Attribute kinds: int, double, string, datetime, bool"))

	key = "index-all"
	ServeCmd.PersistentFlags().Bool(key, false, cmdUtil.WrapString("Index entries of types missing in the schema with dynamically typed attributes"))

	key = "async-indexing"
	ServeCmd.PersistentFlags().Bool(key, false, cmdUtil.WrapString("Update the attribute indexes in the background instead of on the writing request"))

	key = "sync-cq"
	ServeCmd.PersistentFlags().Bool(key, false, cmdUtil.WrapString("Evaluate continuous queries on the writing request instead of in the background"))

	key = "disable-index-error"
	ServeCmd.PersistentFlags().Bool(key, false, cmdUtil.WrapString("Ignore attributes that are not declared in the type schema instead of rejecting the entry"))

	key = "eval-pool-size"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("Number of evaluation indexes kept per type for re-evaluating continuous queries (0 = default)"))

	// peer settings

	key = "peer-endpoint"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("(Peer Mode) Address the peer transport listens on, e.g. 'node-1:7070'. Peers mirror the client notifications of lstore shards so clients can poll any server. Empty disables peer mode"))

	key = "peers"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("(Peer Mode) Comma-separated list of the peer endpoints of the other servers, e.g. 'node-2:7070,node-3:7070'"))

	key = "peer-retransmit"
	ServeCmd.PersistentFlags().Int64(key, 100, cmdUtil.WrapString("(Peer Mode) First retransmission delay of unacknowledged peer messages in milliseconds"))

	key = "notification-buffer"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("Notifications buffered per client until they are polled, further notifications are dropped (0 = default)"))
}

// parseShards parses the shards flag
func parseShards(shardsConfig string) ([]common.ServerShard, error) {
	shards := []common.ServerShard{}
	for _, shardConfig := range strings.Split(shardsConfig, ",") {
		parts := strings.Split(shardConfig, "=")
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid shard format: %s (expected ID=TYPE)", shardConfig)
		}

		shardID, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid shard ID %s: %v", parts[0], err)
		}

		var shardType common.ServerShardType
		switch t := strings.TrimSpace(parts[1]); t {
		case "dstore":
			shardType = common.ShardTypeReplicated
		case "lstore":
			shardType = common.ShardTypeLocal
		default:
			return nil, fmt.Errorf("invalid shard type: %s (expected one of: dstore, lstore)", t)
		}

		shards = append(shards, common.ServerShard{ShardID: shardID, Type: shardType})
	}
	return shards, nil
}

// parseClusterMembers parses the cluster-members flag, replica names are hashed to ids
func parseClusterMembers(clusterMembers string) (map[uint64]string, error) {
	members := make(map[uint64]string)
	for _, member := range strings.Split(clusterMembers, ",") {
		parts := strings.Split(member, "=")
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid cluster member format: %s (expected ID=address)", member)
		}
		members[util.HashString(parts[0], 0)] = parts[1]
	}
	return members, nil
}

// parsePeers parses the peers flag, empty entries are skipped
func parsePeers(peers string) []string {
	var members []string
	for _, peer := range strings.Split(peers, ",") {
		if peer = strings.TrimSpace(peer); peer != "" {
			members = append(members, peer)
		}
	}
	return members
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	shards, err := parseShards(viper.GetString("shards"))
	if err != nil {
		return err
	}
	serveCmdConfig.Shards = shards

	serveCmdConfig.RTTMillisecond = viper.GetUint64("rtt-millisecond")
	serveCmdConfig.SnapshotEntries = viper.GetUint64("snapshot-entries")
	serveCmdConfig.CompactionOverhead = viper.GetUint64("compaction-overhead")
	serveCmdConfig.DataDir = viper.GetString("data-dir")
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	serveCmdConfig.Cache = common.CacheConfig{
		TypeSchema:                  viper.GetString("types"),
		IndexForAll:                 viper.GetBool("index-all"),
		AsyncIndexing:               viper.GetBool("async-indexing"),
		SyncQueryEvaluation:         viper.GetBool("sync-cq"),
		DisableIndexNotDefinedError: viper.GetBool("disable-index-error"),
		EvalIndexPoolSize:           viper.GetInt("eval-pool-size"),
		NotificationBuffer:          viper.GetInt("notification-buffer"),
	}

	serveCmdConfig.Peers = common.PeerConfig{
		Endpoint:              viper.GetString("peer-endpoint"),
		Members:               parsePeers(viper.GetString("peers")),
		RetransmitMillisecond: viper.GetInt64("peer-retransmit"),
	}
	if len(serveCmdConfig.Peers.Members) > 0 && !serveCmdConfig.Peers.Enabled() {
		return fmt.Errorf("peers require a peer endpoint")
	}

	if id := viper.GetString("replica-id"); id != "" {
		serveCmdConfig.ReplicaID = util.HashString(id, 0)
	} else if serveCmdConfig.HasReplicatedShard() {
		return fmt.Errorf("ReplicaId is required for remote shards")
	}

	if clusterMembers := viper.GetString("cluster-members"); clusterMembers != "" {
		if serveCmdConfig.ClusterMembers, err = parseClusterMembers(clusterMembers); err != nil {
			return err
		}
	} else if serveCmdConfig.HasReplicatedShard() {
		return fmt.Errorf("ClusterMembers is required for remote shards")
	}

	if _, ok := serveCmdConfig.ClusterMembers[serveCmdConfig.ReplicaID]; !ok && serveCmdConfig.HasReplicatedShard() {
		return fmt.Errorf("no address found for replica ID %d in cluster members", serveCmdConfig.ReplicaID)
	}

	return nil
}

// run starts the dCache server
func run(_ *cobra.Command, _ []string) error {
	s, err := cmdUtil.GetSerializer()
	if err != nil {
		return err
	}

	var t transport.IRPCServerTransport
	switch viper.GetString("transport") {
	case "http":
		t = http.NewHttpServerTransport()
	default:
		return fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}

	return server.NewRPCServer(*serveCmdConfig, t, s).Serve()
}
