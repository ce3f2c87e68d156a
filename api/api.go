package api

import (
	"encoding/hex"

	"github.com/lunfardo314/nodexec/global"
	"github.com/lunfardo314/nodexec/store"
)

const (
	PrefixAPIV1 = "/api/v1"

	PathGetNodeInfo  = PrefixAPIV1 + "/get_node_info"
	PathGetSyncInfo  = PrefixAPIV1 + "/get_sync_info"
	PathGetPeersInfo = PrefixAPIV1 + "/get_peers_info"
	PathGetTip       = PrefixAPIV1 + "/get_tip"
	PathGetHeader    = PrefixAPIV1 + "/get_header"
	// PathSubscribe is websocket endpoint of the subscription API
	PathSubscribe = PrefixAPIV1 + "/subscribe"
	// PathDashboard is HTML page which polls the query API
	PathDashboard = "/dashboard"
)

const ErrHeaderNotFound = "header not found"

type (
	// NodeReader is what query API needs from the node
	NodeReader interface {
		GetNodeInfo() *global.NodeInfo
		GetSyncInfo() *SyncInfo
		GetPeersInfo() *PeersInfo
		GetTip() *store.Header
		GetHeader(height uint64) (*store.Header, bool)
	}

	Error struct {
		// empty string when no error
		Error string `json:"error,omitempty"`
	}

	SyncInfo struct {
		Error
		Synced         bool              `json:"synced"`
		TipHeight      uint64            `json:"tip_height"`
		BestPeerHeight uint64            `json:"best_peer_height"`
		PerPeer        map[string]uint64 `json:"per_peer,omitempty"`
	}

	PeersInfo struct {
		Error
		HostID string     `json:"host_id"`
		Peers  []PeerInfo `json:"peers,omitempty"`
	}

	PeerInfo struct {
		// The libp2p identifier of the peer.
		ID string `json:"id"`
		// The libp2p multi addresses of the peer.
		MultiAddresses []string `json:"multiAddresses,omitempty"`
		IsStatic       bool     `json:"is_static"`
		WhenAdded      int64    `json:"when_added"`
		// tip height reported by the peer, 0 if not known yet
		TipHeight uint64 `json:"tip_height"`
	}

	// Header is returned by 'get_tip' and 'get_header'
	Header struct {
		Error
		Height uint64 `json:"height"`
		// hex-encoded hashes
		Hash   string `json:"hash,omitempty"`
		Parent string `json:"parent,omitempty"`
		// unix nano
		Time int64 `json:"time"`
		// hex-encoded data
		Data string `json:"data,omitempty"`
	}
)

func HeaderFromStore(h *store.Header) *Header {
	return &Header{
		Height: h.Height,
		Hash:   h.Hash().String(),
		Parent: h.Parent.String(),
		Time:   h.Time,
		Data:   hex.EncodeToString(h.Data),
	}
}

// Decode converts JSON form back to header and checks the hash
func (h *Header) Decode() (*store.Header, error) {
	parent, err := hex.DecodeString(h.Parent)
	if err != nil {
		return nil, err
	}
	data, err := hex.DecodeString(h.Data)
	if err != nil {
		return nil, err
	}
	ret := &store.Header{
		Height: h.Height,
		Time:   h.Time,
	}
	if len(data) > 0 {
		ret.Data = data
	}
	if ret.Parent, err = store.HashFromBytes(parent); err != nil {
		return nil, err
	}
	if ret.Hash().String() != h.Hash {
		return nil, errWrongHash
	}
	return ret, nil
}
