package peering

import (
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/lunfardo314/nodexec/api"
	"github.com/lunfardo314/nodexec/store"
	"github.com/multiformats/go-multiaddr"
)

type (
	Peer struct {
		mutex     sync.RWMutex
		id        peer.ID
		name      string
		isStatic  bool
		whenAdded time.Time
		connected bool
		tip       *PeerTip
	}

	// PeerTip is the chain tip reported by the peer
	PeerTip struct {
		Genesis store.Hash
		Height  uint64
		Hash    store.Hash
		When    time.Time
	}
)

func newPeer(id peer.ID, name string, static bool) *Peer {
	return &Peer{
		id:        id,
		name:      name,
		isStatic:  static,
		whenAdded: time.Now(),
	}
}

func (p *Peer) staticOrDynamic() string {
	if p.isStatic {
		return "static"
	}
	return "dynamic"
}

// setConnected returns true if status changed
func (p *Peer) setConnected(connected bool) bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.connected == connected {
		return false
	}
	p.connected = connected
	return true
}

func (p *Peer) setTip(tip *PeerTip) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.tip = tip
}

func (p *Peer) getTip() *PeerTip {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	return p.tip
}

// rank of the dynamic peer: the longer chain, the better
func (p *Peer) rank() uint64 {
	if tip := p.getTip(); tip != nil {
		return tip.Height
	}
	return 0
}

func (p *Peer) info(addrs []multiaddr.Multiaddr) api.PeerInfo {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	ret := api.PeerInfo{
		ID:             p.id.String(),
		MultiAddresses: make([]string, len(addrs)),
		IsStatic:       p.isStatic,
		WhenAdded:      p.whenAdded.UnixNano(),
	}
	for i := range addrs {
		ret.MultiAddresses[i] = addrs[i].String()
	}
	if p.tip != nil {
		ret.TipHeight = p.tip.Height
	}
	return ret
}
