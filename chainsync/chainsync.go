// Package chainsync keeps the local header chain in sync with the tips of connected peers
package chainsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/lunfardo314/nodexec/api"
	"github.com/lunfardo314/nodexec/global"
	"github.com/lunfardo314/nodexec/peering"
	"github.com/lunfardo314/nodexec/store"
	"github.com/lunfardo314/nodexec/util"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
)

type (
	environment interface {
		global.NodeGlobal
	}

	// Chain is the local chain
	Chain interface {
		Tip() *store.Header
		GenesisHash() store.Hash
		Append(headers ...*store.Header) (int, error)
	}

	// Peers is the source of remote tips and headers
	Peers interface {
		ConnectedPeers() []peer.ID
		QueryTip(ctx context.Context, id peer.ID) (*peering.PeerTip, error)
		PullHeaders(ctx context.Context, id peer.ID, from uint64, maxHeaders int) ([]*store.Header, error)
	}

	Config struct {
		// synchronized must be reached within timeout
		Timeout     time.Duration
		CheckPeriod time.Duration
		// max headers pulled in one request
		PortionSize int
	}

	// SyncClient periodically compares local tip with tips of the connected peers and pulls
	// missing headers from the best compatible peer. Synchronized milestone is reported once,
	// when local tip reaches the best compatible tip known at the time. After that the client keeps
	// following the peers until the context is done
	SyncClient struct {
		environment
		cfg    Config
		chain  Chain
		peers  Peers
		synced atomic.Bool

		mutex          sync.RWMutex
		peerTips       map[peer.ID]*peering.PeerTip
		bestPeerHeight uint64

		onNewTip func(h *store.Header)
		onFault  func(err error)

		tipHeight     prometheus.Gauge
		bestHeight    prometheus.Gauge
		pulledHeaders prometheus.Counter
	}
)

const (
	Name     = "sync"
	TraceTag = Name
)

var ErrSyncTimeout = errors.New("synchronization timeout")

func New(env environment, chain Chain, peers Peers, cfg Config) *SyncClient {
	util.Assertf(cfg.CheckPeriod > 0 && cfg.Timeout > 0, "chainsync: wrong config")
	if cfg.PortionSize <= 0 || cfg.PortionSize > peering.MaxHeadersPerRequest {
		cfg.PortionSize = peering.MaxHeadersPerRequest
	}
	ret := &SyncClient{
		environment: env,
		cfg:         cfg,
		chain:       chain,
		peers:       peers,
		peerTips:    make(map[peer.ID]*peering.PeerTip),
		onNewTip:    func(_ *store.Header) {},
		onFault:     func(_ error) {},
	}
	ret.registerMetrics()
	return ret
}

func (d *SyncClient) registerMetrics() {
	d.tipHeight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "nodexec_sync_tipHeight",
		Help: "height of the local tip",
	})
	d.bestHeight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "nodexec_sync_bestPeerHeight",
		Help: "best tip height among compatible peers",
	})
	d.pulledHeaders = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nodexec_sync_pulledHeaders",
		Help: "number of headers pulled from peers and appended",
	})
	d.MetricsRegistry().MustRegister(d.tipHeight, d.bestHeight, d.pulledHeaders)
}

// OnNewTip is called after headers are appended to the local chain. Must be set before Start
func (d *SyncClient) OnNewTip(fun func(h *store.Header)) {
	d.onNewTip = fun
}

// OnFault is called when the local chain fails to append valid headers. Must be set before Start
func (d *SyncClient) OnFault(fun func(err error)) {
	d.onFault = fun
}

// Start runs the sync loop as a work process. synchronized is called exactly once,
// with nil when synced and with ErrSyncTimeout or cancellation error otherwise
func (d *SyncClient) Start(synchronized func(err error)) {
	d.MarkWorkProcessStarted(Name)
	go func() {
		defer d.MarkWorkProcessStopped(Name)
		d.syncClientLoop(synchronized)
	}()
}

func (d *SyncClient) syncClientLoop(synchronized func(err error)) {
	d.Log().Infof("[sync client] has been started. Timeout: %v, check period: %v", d.cfg.Timeout, d.cfg.CheckPeriod)

	reported := false
	report := func(err error) {
		if !reported {
			reported = true
			synchronized(err)
		}
	}
	deadline := time.After(d.cfg.Timeout)
	for {
		if d.checkSync() {
			if !reported {
				d.Log().Infof("[sync client] synchronized at height %s", util.GoTh(d.chain.Tip().Height))
			}
			report(nil)
		}
		select {
		case <-d.Ctx().Done():
			report(fmt.Errorf("synchronization interrupted: %w", d.Ctx().Err()))
			d.Log().Infof("[sync client] stopped")
			return
		case <-deadline:
			if !reported {
				tip := d.chain.Tip()
				d.Log().Warnf("[sync client] not synchronized in %v: local height %s, best peer height %s",
					d.cfg.Timeout, util.GoTh(tip.Height), util.GoTh(d.BestPeerHeight()))
				report(fmt.Errorf("%w: local height %d, best peer height %d after %v",
					ErrSyncTimeout, tip.Height, d.BestPeerHeight(), d.cfg.Timeout))
			}
		case <-time.After(d.cfg.CheckPeriod):
		}
	}
}

// checkSync queries tips of peers and pulls one portion of headers from the best peer if behind.
// Returns true if the local tip is not behind the best compatible peer
func (d *SyncClient) checkSync() bool {
	d.refreshPeerTips()

	tip := d.chain.Tip()
	d.tipHeight.Set(float64(tip.Height))

	best, bestID := d.bestPeer()
	if best == nil || best.Height <= tip.Height {
		d.synced.Store(true)
		return true
	}
	d.synced.Store(false)
	d.Tracef(TraceTag, "behind peer %s: local %d, peer %d", bestID.String, tip.Height, best.Height)

	headers, err := d.peers.PullHeaders(d.Ctx(), bestID, tip.Height+1, d.cfg.PortionSize)
	if err != nil {
		d.Log().Warnf("[sync client] failed to pull headers from %s: %v", peering.ShortPeerIDString(bestID), err)
		return false
	}
	if len(headers) == 0 {
		return false
	}
	n, err := d.chain.Append(headers...)
	if err != nil {
		if errors.Is(err, store.ErrWrongLinkage) {
			// the peer is on the other chain
			d.Log().Warnf("[sync client] headers from %s rejected: %v", peering.ShortPeerIDString(bestID), err)
			d.forgetPeer(bestID)
			return false
		}
		d.Log().Errorf("[sync client] failed to append headers: %v", err)
		d.onFault(err)
		return false
	}
	if n > 0 {
		d.pulledHeaders.Add(float64(n))
		newTip := d.chain.Tip()
		d.tipHeight.Set(float64(newTip.Height))
		d.Log().Infof("[sync client] appended %d headers from %s, new tip %s", n, peering.ShortPeerIDString(bestID), newTip.String())
		d.onNewTip(newTip)
		if newTip.Height >= best.Height {
			d.synced.Store(true)
			return true
		}
	}
	return false
}

func (d *SyncClient) refreshPeerTips() {
	ids := d.peers.ConnectedPeers()
	tips := make(map[peer.ID]*peering.PeerTip)
	genesis := d.chain.GenesisHash()
	for _, id := range ids {
		tip, err := d.peers.QueryTip(d.Ctx(), id)
		if err != nil {
			d.Tracef(TraceTag, "failed to query tip of %s: %v", id.String, err)
			continue
		}
		if tip.Genesis != genesis {
			d.Tracef(TraceTag, "peer %s is on other network", id.String)
			continue
		}
		tips[id] = tip
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.peerTips = tips
	d.bestPeerHeight = 0
	for _, tip := range tips {
		if tip.Height > d.bestPeerHeight {
			d.bestPeerHeight = tip.Height
		}
	}
	d.bestHeight.Set(float64(d.bestPeerHeight))
}

func (d *SyncClient) bestPeer() (*peering.PeerTip, peer.ID) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	var best *peering.PeerTip
	var bestID peer.ID
	for _, id := range util.KeysSorted(d.peerTips) {
		if tip := d.peerTips[id]; best == nil || tip.Height > best.Height {
			best, bestID = tip, id
		}
	}
	return best, bestID
}

func (d *SyncClient) forgetPeer(id peer.ID) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	delete(d.peerTips, id)
}

func (d *SyncClient) IsSynced() bool {
	return d.synced.Load()
}

func (d *SyncClient) BestPeerHeight() uint64 {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	return d.bestPeerHeight
}

func (d *SyncClient) GetSyncInfo() *api.SyncInfo {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	ret := &api.SyncInfo{
		Synced:         d.synced.Load(),
		TipHeight:      d.chain.Tip().Height,
		BestPeerHeight: d.bestPeerHeight,
		PerPeer:        make(map[string]uint64),
	}
	for id, tip := range d.peerTips {
		ret.PerPeer[id.String()] = tip.Height
	}
	return ret
}
