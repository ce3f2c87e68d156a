package peering

import (
	"math/rand"
	"sort"
	"time"

	"github.com/libp2p/go-libp2p/core/discovery"
	"github.com/libp2p/go-libp2p/core/peer"
	dutil "github.com/libp2p/go-libp2p/p2p/discovery/util"
	"github.com/lunfardo314/nodexec/util"
)

const (
	TraceTagAutopeering = "autopeering"
	checkPeersEvery     = 3 * time.Second
	// dynamic peer is not dropped as excess during this period after added
	gracePeriodAfterAdded = 10 * time.Second
)

func (ps *Peers) startAutopeering() {
	util.Assertf(ps.cfg.isAutopeeringEnabled(), "ps.cfg.isAutopeeringEnabled()")

	dutil.Advertise(ps.Ctx(), ps.routingDiscovery, ps.rendezvousString)
	ps.Log().Infof("[peering] autopeering started. Rendezvous: '%s', max dynamic peers: %d", ps.rendezvousString, ps.cfg.MaxDynamicPeers)

	ps.RepeatInBackground("autopeering_loop", checkPeersEvery, func() bool {
		ps.discoverPeersIfNeeded()
		ps.dropExcessPeersIfNeeded() // dropping excess dynamic peers one-by-one
		return true
	}, true)
}

func (ps *Peers) numConnectedDynamic() (ret int) {
	ps.mutex.RLock()
	defer ps.mutex.RUnlock()

	for id, p := range ps.peers {
		if !p.isStatic && ps.isConnected(id) {
			ret++
		}
	}
	return
}

func (ps *Peers) isCandidateToConnect(id peer.ID) bool {
	return id != ps.host.ID() && ps.getPeer(id) == nil
}

func (ps *Peers) discoverPeersIfNeeded() {
	aliveDynamic := ps.numConnectedDynamic()
	ps.Tracef(TraceTagAutopeering, "FindPeers: num alive dynamic = %d", aliveDynamic)

	if aliveDynamic >= ps.cfg.MaxDynamicPeers {
		return
	}
	maxToAdd := ps.cfg.MaxDynamicPeers - aliveDynamic
	util.Assertf(maxToAdd > 0, "maxToAdd > 0")

	const peerDiscoveryLimit = 20
	peerChan, err := ps.routingDiscovery.FindPeers(ps.Ctx(), ps.rendezvousString, discovery.Limit(peerDiscoveryLimit))
	if err != nil {
		ps.Log().Errorf("[peering] unexpected error while trying to discover peers: %v", err)
		return
	}

	candidates := make([]peer.AddrInfo, 0)
	for addrInfo := range peerChan {
		if ps.isCandidateToConnect(addrInfo.ID) && len(addrInfo.Addrs) > 0 {
			candidates = append(candidates, addrInfo)
		}
	}
	ps.Tracef(TraceTagAutopeering, "FindPeers: len(candidates) = %d", len(candidates))

	if len(candidates) == 0 {
		return
	}
	rand.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	if len(candidates) > maxToAdd {
		candidates = candidates[:maxToAdd]
	}
	for _, a := range candidates {
		a := a
		if ps.addPeer(&a, "", false) {
			go func() {
				_ = ps.host.Connect(ps.Ctx(), a)
			}()
		}
	}
}

func (ps *Peers) dropExcessPeersIfNeeded() {
	sortedDynamicPeers := ps.sortedDynamicPeersByRankAsc()
	if len(sortedDynamicPeers) <= ps.cfg.MaxDynamicPeers {
		return
	}
	for _, p := range sortedDynamicPeers[:len(sortedDynamicPeers)-ps.cfg.MaxDynamicPeers] {
		if time.Since(p.whenAdded) > gracePeriodAfterAdded {
			ps.dropPeer(p.id, "excess peer (by rank)")
		}
	}
}

func (ps *Peers) sortedDynamicPeersByRankAsc() []*Peer {
	ps.mutex.RLock()
	defer ps.mutex.RUnlock()

	peers := util.FilterSlice(util.Values(ps.peers), func(p *Peer) bool {
		return !p.isStatic
	})
	sort.Slice(peers, func(i, j int) bool {
		return peers[i].rank() < peers[j].rank()
	})
	return peers
}
