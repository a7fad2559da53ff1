package client

import (
	"fmt"

	"github.com/ValentinKolb/dCache/rpc/common"
	"github.com/ValentinKolb/dCache/rpc/serializer"
	"github.com/ValentinKolb/dCache/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	Logger = logger.GetLogger("rpc")
)

// rpcClientAdapter is a struct that stores all data needed for an implementation of an RPC client
type rpcClientAdapter struct {
	shardId    uint64
	config     common.ClientConfig
	transport  transport.IRPCClientTransport
	serializer serializer.IRPCSerializer
}

// invoke sends a request to the shard of the adapter
func (a *rpcClientAdapter) invoke(req *common.Message) (*common.Message, error) {
	return invokeRPCRequest(a.shardId, req, a.transport, a.serializer)
}

// invokeRPCRequest is a helper function used for all RPC Clients to send requests
// It takes a shard ID, a request message, a transport layer and a serializer as parameters
// It returns a response message and an error if any occurs
// Error responses are converted back into *store.Error values carrying the original code
func invokeRPCRequest(shardId uint64, req *common.Message, transport transport.IRPCClientTransport, serializer serializer.IRPCSerializer) (*common.Message, error) {
	reqBytes, err := serializer.Serialize(*req)
	if err != nil {
		return nil, err
	}

	respBytes, err := transport.Send(shardId, reqBytes)
	if err != nil {
		return nil, err
	}

	resp := &common.Message{}
	if err = serializer.Deserialize(respBytes, resp); err != nil {
		return nil, fmt.Errorf("RPC client - invalid response: %w", err)
	}

	if err := resp.ToError(); err != nil {
		return nil, err
	}
	if resp.MsgType == common.MsgTError {
		return nil, fmt.Errorf("RPC client - error response without message")
	}

	if resp.MsgType != req.MsgType {
		return nil, fmt.Errorf("RPC client - unexpected message type: %s, expected %s", resp.MsgType, req.MsgType)
	}

	return resp, nil
}
