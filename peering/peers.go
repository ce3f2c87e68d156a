package peering

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	"github.com/libp2p/go-libp2p/core/protocol"
	drouting "github.com/libp2p/go-libp2p/p2p/discovery/routing"
	"github.com/libp2p/go-libp2p/p2p/transport/tcp"
	"github.com/lunfardo314/nodexec/api"
	"github.com/lunfardo314/nodexec/global"
	"github.com/lunfardo314/nodexec/store"
	"github.com/lunfardo314/nodexec/util"
	"github.com/multiformats/go-multiaddr"
	"github.com/prometheus/client_golang/prometheus"
)

type (
	environment interface {
		global.NodeGlobal
	}

	// ChainReader is the local chain served to peers
	ChainReader interface {
		Tip() *store.Header
		GenesisHash() store.Hash
		HeadersFrom(from uint64, maxHeaders int) []*store.Header
	}

	Peers struct {
		environment
		mutex            sync.RWMutex
		cfg              *Config
		chain            ChainReader
		host             host.Host
		peers            map[peer.ID]*Peer // except self
		kademliaDHT      *dht.IpfsDHT
		routingDiscovery *drouting.RoutingDiscovery
		rendezvousString string
		onPeerStatus     func(id peer.ID, connected bool)
		stopOnce         sync.Once
		// metrics
		inMsgCounter   prometheus.Counter
		outMsgCounter  prometheus.Counter
		peersAll       prometheus.Gauge
		peersStatic    prometheus.Gauge
		peersConnected prometheus.Gauge
	}

	peersStats struct {
		peersAll       int
		peersStatic    int
		peersConnected int
	}
)

const (
	TraceTag = "peering"

	protocolPrefix = "/nodexec"
	// period of peers status check and reconnection of static peers
	checkPeersStatusEvery = time.Second
)

var ErrSeedingFailed = errors.New("seeding failed")

func New(env environment, chain ChainReader, cfg *Config) (*Peers, error) {
	privKey, err := crypto.UnmarshalEd25519PrivateKey(cfg.HostIDPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("wrong private key: %w", err)
	}
	opts := []libp2p.Option{
		libp2p.Identity(privKey),
		libp2p.ListenAddrStrings(fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", cfg.HostPort)),
		libp2p.Transport(tcp.NewTCPTransport),
		libp2p.NoSecurity,
	}
	if !cfg.AllowLocal {
		opts = append(opts, libp2p.AddrsFactory(FilterAddresses(false)))
	}
	lppHost, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("unable create libp2p host: %w", err)
	}

	ret := &Peers{
		environment:      env,
		cfg:              cfg,
		chain:            chain,
		host:             lppHost,
		peers:            make(map[peer.ID]*Peer),
		rendezvousString: protocolPrefix + "/" + cfg.NetworkName,
		onPeerStatus:     func(_ peer.ID, _ bool) {},
	}

	for name, addrInfo := range cfg.Seeds {
		if addrInfo.ID == lppHost.ID() {
			_ = lppHost.Close()
			return nil, fmt.Errorf("seed '%s' is the host itself", name)
		}
		ret.addPeer(&addrInfo, name, true)
	}

	if cfg.isAutopeeringEnabled() {
		ret.kademliaDHT, err = dht.New(env.Ctx(), lppHost,
			dht.Mode(dht.ModeServer),
			dht.ProtocolPrefix(protocol.ID(protocolPrefix)),
			dht.BootstrapPeers(util.Values(cfg.Seeds)...),
		)
		if err != nil {
			_ = lppHost.Close()
			return nil, fmt.Errorf("unable to create DHT: %w", err)
		}
		ret.routingDiscovery = drouting.NewRoutingDiscovery(ret.kademliaDHT)
	}

	ret.registerMetrics()
	ret.registerProtocols()
	lppHost.Network().Notify(&network.NotifyBundle{
		ConnectedF:    ret.connected,
		DisconnectedF: ret.disconnected,
	})

	env.Log().Infof("[peering] initialized. Host ID: %s, addresses: %v, static peers: %d, max dynamic peers: %d",
		lppHost.ID().String(), lppHost.Addrs(), len(cfg.Seeds), cfg.MaxDynamicPeers)
	return ret, nil
}

// OnPeerStatus sets handler of connection status changes of known peers. Must be set before Run
func (ps *Peers) OnPeerStatus(fun func(id peer.ID, connected bool)) {
	ps.onPeerStatus = fun
}

// Run starts background loops of the peering
func (ps *Peers) Run() {
	ps.RepeatInBackground("peering_status_loop", checkPeersStatusEvery, func() bool {
		ps.reconnectStaticPeers()
		ps.updatePeerMetrics(ps.peerStats())
		return true
	}, true)

	if ps.cfg.isAutopeeringEnabled() {
		ps.startAutopeering()
	}
	ps.Log().Infof("[peering] started")
}

// Seed connects to the static peers and bootstraps DHT if autopeering is enabled.
// Succeeds if there are no static peers or at least one of them is connected
func (ps *Peers) Seed(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, ps.cfg.SeedTimeout)
	defer cancel()

	if ps.kademliaDHT != nil {
		if err := ps.kademliaDHT.Bootstrap(ctx); err != nil {
			return fmt.Errorf("%w: DHT bootstrap: %v", ErrSeedingFailed, err)
		}
	}
	static := ps.staticPeers()
	if len(static) == 0 {
		ps.Log().Infof("[peering] no static peers configured, nothing to seed from")
		return nil
	}

	errs := make([]error, len(static))
	var wg sync.WaitGroup
	wg.Add(len(static))
	for i, p := range static {
		go func(i int, p *Peer) {
			defer wg.Done()
			errs[i] = ps.connectUntil(ctx, p)
		}(i, p)
	}
	wg.Wait()

	numConnected := 0
	for _, err := range errs {
		if err == nil {
			numConnected++
		}
	}
	if numConnected == 0 {
		return fmt.Errorf("%w: none of %d static peers connected: %v", ErrSeedingFailed, len(static), errors.Join(errs...))
	}
	ps.Log().Infof("[peering] seeded from %d of %d static peers", numConnected, len(static))
	return nil
}

const reconnectPeriod = 500 * time.Millisecond

// connectUntil repeats connection attempts until success or context is done
func (ps *Peers) connectUntil(ctx context.Context, p *Peer) error {
	for {
		err := ps.host.Connect(ctx, peer.AddrInfo{ID: p.id, Addrs: ps.host.Peerstore().Addrs(p.id)})
		if err == nil {
			return nil
		}
		ps.Tracef(TraceTag, "connect to %s failed: %v", ShortPeerIDString(p.id), err)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s ('%s'): %w", ShortPeerIDString(p.id), p.name, err)
		case <-time.After(reconnectPeriod):
		}
	}
}

func (ps *Peers) reconnectStaticPeers() {
	for _, p := range ps.staticPeers() {
		if ps.isConnected(p.id) {
			continue
		}
		go func(id peer.ID) {
			ctx, cancel := context.WithTimeout(ps.Ctx(), checkPeersStatusEvery)
			defer cancel()
			_ = ps.host.Connect(ctx, peer.AddrInfo{ID: id, Addrs: ps.host.Peerstore().Addrs(id)})
		}(p.id)
	}
}

func (ps *Peers) Stop() {
	ps.stopOnce.Do(func() {
		ps.Log().Infof("[peering] stopping libp2p host %s..", ShortPeerIDString(ps.host.ID()))
		if ps.kademliaDHT != nil {
			_ = ps.kademliaDHT.Close()
		}
		_ = ps.host.Close()
		ps.Log().Infof("[peering] libp2p host %s has been stopped", ShortPeerIDString(ps.host.ID()))
	})
}

func (ps *Peers) SelfID() peer.ID {
	return ps.host.ID()
}

// MultiAddrs returns full multiaddresses of the host, including /p2p/ part
func (ps *Peers) MultiAddrs() []string {
	p2pPart, err := multiaddr.NewComponent("p2p", ps.host.ID().String())
	util.AssertNoError(err)
	ret := make([]string, 0)
	for _, a := range ps.host.Addrs() {
		ret = append(ret, a.Encapsulate(p2pPart).String())
	}
	sort.Strings(ret)
	return ret
}

func (ps *Peers) addPeer(addrInfo *peer.AddrInfo, name string, static bool) bool {
	ps.mutex.Lock()
	defer ps.mutex.Unlock()

	if _, already := ps.peers[addrInfo.ID]; already || addrInfo.ID == ps.host.ID() {
		return false
	}
	ps.host.Peerstore().AddAddrs(addrInfo.ID, addrInfo.Addrs, peerstore.PermanentAddrTTL)
	ps.peers[addrInfo.ID] = newPeer(addrInfo.ID, name, static)
	ps.Log().Infof("[peering] added %s peer %s ('%s')", util.Cond(static, "static", "dynamic"), ShortPeerIDString(addrInfo.ID), name)
	return true
}

func (ps *Peers) dropPeer(id peer.ID, reason string) {
	ps.mutex.Lock()
	p, found := ps.peers[id]
	if found {
		delete(ps.peers, id)
	}
	ps.mutex.Unlock()

	if !found {
		return
	}
	ps.host.Peerstore().RemovePeer(id)
	_ = ps.host.Network().ClosePeer(id)
	ps.Log().Infof("[peering] dropped %s peer %s ('%s'). Reason: %s", p.staticOrDynamic(), ShortPeerIDString(id), p.name, reason)
}

func (ps *Peers) getPeer(id peer.ID) *Peer {
	ps.mutex.RLock()
	defer ps.mutex.RUnlock()

	return ps.peers[id]
}

func (ps *Peers) staticPeers() []*Peer {
	ps.mutex.RLock()
	defer ps.mutex.RUnlock()

	return util.FilterSlice(util.Values(ps.peers), func(p *Peer) bool {
		return p.isStatic
	})
}

func (ps *Peers) isConnected(id peer.ID) bool {
	return ps.host.Network().Connectedness(id) == network.Connected
}

// ConnectedPeers returns known peers with open connection
func (ps *Peers) ConnectedPeers() []peer.ID {
	ps.mutex.RLock()
	defer ps.mutex.RUnlock()

	ret := make([]peer.ID, 0, len(ps.peers))
	for id := range ps.peers {
		if ps.isConnected(id) {
			ret = append(ret, id)
		}
	}
	sort.Slice(ret, func(i, j int) bool {
		return ret[i] < ret[j]
	})
	return ret
}

func (ps *Peers) NumPeers() (all, connected int) {
	stats := ps.peerStats()
	return stats.peersAll, stats.peersConnected
}

func (ps *Peers) connected(_ network.Network, conn network.Conn) {
	id := conn.RemotePeer()
	p := ps.getPeer(id)
	if p == nil {
		if !ps.cfg.isAutopeeringEnabled() {
			// node does not take incoming dynamic peers. It still serves them
			ps.Tracef(TraceTag, "autopeering disabled: connection from unknown peer %s", id.String)
			return
		}
		ps.addPeer(&peer.AddrInfo{ID: id, Addrs: []multiaddr.Multiaddr{conn.RemoteMultiaddr()}}, "", false)
		if p = ps.getPeer(id); p == nil {
			return
		}
	}
	if p.setConnected(true) {
		ps.Log().Infof("[peering] CONNECTED to %s peer %s ('%s')", p.staticOrDynamic(), ShortPeerIDString(id), p.name)
		ps.onPeerStatus(id, true)
	}
}

func (ps *Peers) disconnected(n network.Network, conn network.Conn) {
	id := conn.RemotePeer()
	if n.Connectedness(id) == network.Connected {
		// other connections still open
		return
	}
	p := ps.getPeer(id)
	if p == nil {
		return
	}
	if p.setConnected(false) {
		ps.Log().Infof("[peering] LOST CONNECTION with %s peer %s ('%s')", p.staticOrDynamic(), ShortPeerIDString(id), p.name)
		ps.onPeerStatus(id, false)
	}
}

func (ps *Peers) peerStats() (ret peersStats) {
	ps.mutex.RLock()
	defer ps.mutex.RUnlock()

	for id, p := range ps.peers {
		ret.peersAll++
		if p.isStatic {
			ret.peersStatic++
		}
		if ps.isConnected(id) {
			ret.peersConnected++
		}
	}
	return
}

func (ps *Peers) GetPeersInfo() *api.PeersInfo {
	ps.mutex.RLock()
	defer ps.mutex.RUnlock()

	ret := &api.PeersInfo{
		HostID: ps.host.ID().String(),
		Peers:  make([]api.PeerInfo, 0, len(ps.peers)),
	}
	for _, id := range util.KeysSorted(ps.peers) {
		ret.Peers = append(ret.Peers, ps.peers[id].info(ps.host.Peerstore().Addrs(id)))
	}
	return ret
}
