package server

import (
	"encoding/json"
	"fmt"

	"github.com/ValentinKolb/dCache/lib/cache"
	"github.com/ValentinKolb/dCache/lib/index"
	"github.com/ValentinKolb/dCache/lib/store"
	"github.com/ValentinKolb/dCache/rpc/common"
)

func NewIStoreServerAdapter() IRPCServerAdapter {
	return &iStoreServerAdapterImpl{}
}

type iStoreServerAdapterImpl struct{}

func (adapter *iStoreServerAdapterImpl) Handle(req *common.Message, s store.IStore) *common.Message {
	if s == nil {
		return common.NewErrorResponse("handler: store is nil")
	}

	switch req.MsgType {
	case common.MsgTSet, common.MsgTAdd:
		var meta *index.MetaInfo
		if err := req.DecodeMeta(&meta); err != nil {
			return common.NewErrorResponse(err.Error())
		}
		if req.MsgType == common.MsgTAdd {
			return common.NewAddResponse(s.Add(req.Key, req.Value, meta))
		}
		return common.NewSetResponse(s.Insert(req.Key, req.Value, meta))

	case common.MsgTDelete:
		removed, err := s.Remove(req.Key)
		return common.NewDeleteResponse(removed, err)

	case common.MsgTClear:
		return common.NewClearResponse(s.Clear())

	case common.MsgTGet:
		entry, ok, err := s.Get(req.Key)
		if err != nil || !ok {
			return common.NewGetResponse(nil, nil, false, err)
		}
		var meta []byte
		if entry.Meta != nil {
			if meta, err = json.Marshal(entry.Meta); err != nil {
				return common.NewGetResponse(nil, nil, false, err)
			}
		}
		value := entry.Value
		if value == nil {
			value = []byte{}
		}
		return common.NewGetResponse(value, meta, true, nil)

	case common.MsgTHas:
		ok, err := s.Has(req.Key)
		return common.NewHasResponse(ok, err)

	case common.MsgTSearch:
		var search common.SearchRequest
		if err := req.DecodeMeta(&search); err != nil {
			return common.NewErrorResponse(err.Error())
		}
		keys, err := s.Search(req.Key, search.Query, search.Bindings)
		return common.NewSearchResponse(keys, err)

	case common.MsgTCQRegister:
		var reg cache.RegisterRequest
		if err := req.DecodeMeta(&reg); err != nil {
			return common.NewErrorResponse(err.Error())
		}
		info, keys, err := s.RegisterQuery(reg)
		if err != nil {
			return common.NewCQRegisterResponse(nil, err)
		}
		return common.NewCQRegisterResponse(&common.RegisterResponse{
			QueryUID:      info.QueryUID,
			ClientID:      info.ClientID,
			ClientQueryID: info.ClientQueryID,
			IsNew:         info.IsNew,
			Keys:          keys,
		}, nil)

	case common.MsgTCQUnregister:
		return common.NewCQUnregisterResponse(s.UnRegisterQuery(req.Key))

	case common.MsgTCQDisconnect:
		return common.NewCQDisconnectResponse(s.DisconnectClient(req.ID))

	case common.MsgTCQResults:
		keys, err := s.QueryResults(req.Key)
		return common.NewCQResultsResponse(keys, err)

	case common.MsgTCQPoll:
		notes, err := s.Poll(req.ID, int(req.Count))
		if err != nil {
			return common.NewCQPollResponse(nil, err)
		}
		data, err := json.Marshal(notes)
		return common.NewCQPollResponse(data, err)

	case common.MsgTInfo:
		info, err := s.GetInfo()
		if err != nil {
			return common.NewInfoResponse(nil, err)
		}
		data, err := json.Marshal(info)
		return common.NewInfoResponse(data, err)

	default:
		return common.NewErrorResponse(
			fmt.Sprintf("RPC IStoreAdapter - Unsupported message type: %s", req.MsgType),
		)
	}
}
