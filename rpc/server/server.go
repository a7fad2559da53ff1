package server

import (
	"fmt"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/ValentinKolb/dCache/lib/cache"
	"github.com/ValentinKolb/dCache/lib/store"
	"github.com/ValentinKolb/dCache/lib/store/dstore"
	"github.com/ValentinKolb/dCache/lib/store/lstore"
	"github.com/ValentinKolb/dCache/rpc/common"
	"github.com/ValentinKolb/dCache/rpc/serializer"
	"github.com/ValentinKolb/dCache/rpc/transport"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("rpc")

// serverShard is a struct that represents a shard in the RPC server
// It contains the store it encapsulates and the adapter that handles requests for the store
type serverShard struct {
	Store   store.IStore
	Adapter IRPCServerAdapter
}

// NewRPCServer creates a new RPC server
// It takes a config, transport and serializer as parameters
//
// Usage:
//
//	s := server.NewRPCServer(
//		*config,
//		http.NewHttpServerTransport(),
//		serializer.NewBinarySerializer(),
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	 }
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
) *RPCServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	Logger.Infof("Created RPC Server")
	Logger.Infof(config.String())

	return &RPCServer{
		config:     config,
		transport:  transport,
		serializer: serializer,
		shards:     xsync.NewMapOf[uint64, serverShard](),
	}
}

// RPCServer routes serialized requests of a transport to the cache shards it hosts.
type RPCServer struct {
	config     common.ServerConfig
	transport  transport.IRPCServerTransport
	serializer serializer.IRPCSerializer
	shards     *xsync.MapOf[uint64, serverShard]
	nodeHost   *dragonboat.NodeHost
	relay      *notificationRelay
}

// handle processes one serialized request for a shard
func (s *RPCServer) handle(shardId uint64, req []byte) []byte {
	var msg common.Message
	var respMsg *common.Message

	if shard, ok := s.shards.Load(shardId); !ok {
		respMsg = common.NewErrorResponse(fmt.Sprintf("shard %d not found", shardId))
	} else if err := s.serializer.Deserialize(req, &msg); err != nil {
		respMsg = common.NewErrorResponse(fmt.Sprintf("failed to deserialize request: %s", err))
	} else {
		respMsg = shard.Adapter.Handle(&msg, shard.Store)
		metrics.GetOrCreateCounter(fmt.Sprintf(`dcache_rpc_messages_total{type=%q}`, msg.MsgType)).Inc()
	}

	val, err := s.serializer.Serialize(*respMsg)
	if err != nil {
		Logger.Errorf("failed to serialize response: %v", err)
		val, _ = s.serializer.Serialize(*common.NewErrorResponse(fmt.Sprintf("failed to serialize response: %s", err)))
	}
	return val
}

func (s *RPCServer) init() error {
	if err := common.InitLoggers(s.config); err != nil {
		return err
	}

	cacheFactory := store.ConfigFactory(s.config.Cache.ToCacheConfig())

	// Only create the NodeHost if we have remote shards
	if s.config.HasReplicatedShard() {
		nodeHost, err := dragonboat.NewNodeHost(s.config.ToNodeHostConfig())
		if err != nil {
			return fmt.Errorf("failed to create node host: %w", err)
		}
		s.nodeHost = nodeHost
	}

	/*
		Note: A single RPC Server can have any number of remote and or local shards.
		Every shard holds its own cache with the same type schema.
	*/

	for _, shardConfig := range s.config.Shards {
		switch shardConfig.Type {
		case common.ShardTypeLocal:
			st, err := lstore.NewLocalStore(cacheFactory)
			if err != nil {
				return fmt.Errorf("failed to create local store for shard %d: %w", shardConfig.ShardID, err)
			}
			s.shards.Store(shardConfig.ShardID, serverShard{
				Store:   st,
				Adapter: NewIStoreServerAdapter(),
			})
			Logger.Infof("created local store for shard %d", shardConfig.ShardID)

		case common.ShardTypeReplicated:
			if s.nodeHost == nil {
				return fmt.Errorf("node host is nil, cannot create remote store")
			}
			if err := s.nodeHost.StartConcurrentReplica(
				s.config.ClusterMembers,
				false,
				dstore.CreateStateMachineFactory(cacheFactory),
				s.config.ToDragonboatConfig(shardConfig.ShardID),
			); err != nil {
				return fmt.Errorf("failed to start shard %d: %w", shardConfig.ShardID, err)
			}
			s.shards.Store(shardConfig.ShardID, serverShard{
				Store:   dstore.NewDistributedStore(s.nodeHost, shardConfig.ShardID, s.config.Timeout()),
				Adapter: NewIStoreServerAdapter(),
			})
			Logger.Infof("started raft replica for shard %d", shardConfig.ShardID)

		default:
			return fmt.Errorf("invalid shard type: %s", shardConfig.Type)
		}
	}

	if s.config.Peers.Enabled() {
		if err := s.startRelay(); err != nil {
			return err
		}
	}

	Logger.Infof("dCache setup completed successfully")

	s.transport.RegisterHandler(s.handle)
	return nil
}

// startRelay joins the peer group and mirrors the notifications of local shards to it.
// Replicated shards are skipped, every replica produces their notifications itself.
func (s *RPCServer) startRelay() error {
	relay, err := newNotificationRelay(s.config.Peers, s.localCache)
	if err != nil {
		return fmt.Errorf("failed to join peer group: %w", err)
	}
	s.relay = relay
	s.shards.Range(func(id uint64, shard serverShard) bool {
		if c := lstore.Cache(shard.Store); c != nil {
			c.SetForwarder(relay.forwarder(id))
		}
		return true
	})
	return nil
}

// localCache returns the cache of a local shard, nil for unknown or replicated shards.
func (s *RPCServer) localCache(shardID uint64) *cache.Cache {
	shard, ok := s.shards.Load(shardID)
	if !ok {
		return nil
	}
	return lstore.Cache(shard.Store)
}

// Serve starts the RPC server
// This function will also initialize the server plus the shards and start the transport layer
func (s *RPCServer) Serve() error {
	if err := s.init(); err != nil {
		return err
	}
	defer s.Close()
	return s.transport.Listen(s.config)
}

// Close leaves the peer group, releases the caches of local shards and stops the raft
// node host.
func (s *RPCServer) Close() {
	if s.relay != nil {
		s.relay.Close()
		s.relay = nil
	}
	s.shards.Range(func(id uint64, shard serverShard) bool {
		if c := lstore.Cache(shard.Store); c != nil {
			c.Close()
		}
		return true
	})
	if s.nodeHost != nil {
		s.nodeHost.Close()
		s.nodeHost = nil
	}
}
