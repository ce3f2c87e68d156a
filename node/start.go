package node

import (
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/lunfardo314/nodexec/api"
	"github.com/lunfardo314/nodexec/chainsync"
	"github.com/lunfardo314/nodexec/global"
	"github.com/lunfardo314/nodexec/metrics"
	"github.com/lunfardo314/nodexec/peering"
	"github.com/lunfardo314/nodexec/store"
	"github.com/lunfardo314/nodexec/util"
)

// Start opens the node. On error everything opened so far is released.
// Seeding runs in the background and reports to seeded
func (n *ServerNode) Start(seeded ResultHandler) error {
	util.Assertf(!n.startIssued.Swap(true), "node already started")

	n.queryTable.Seal()
	n.subscriptionTable.Seal()

	n.Log().Info(global.BannerString())
	n.StartTracingTags(n.cfg.Logger.TraceTags...)

	n.started = time.Now()
	err := util.CatchPanicOrError(n.start)
	if err != nil {
		n.Log().Errorf("[node] error on startup: %v", err)
		n.Close()
		return err
	}
	n.Log().Infof("[node] node has been started successfully")
	n.Log().Debug("running in debug mode")

	go n.seed(seeded)
	return nil
}

func (n *ServerNode) start() error {
	if err := n.openChainStore(); err != nil {
		return err
	}
	if err := n.initPeering(); err != nil {
		return err
	}
	n.initSyncClient()

	if n.cfg.API.Query.Enable {
		if err := n.startAPIServer(n.queryTable, n.cfg.API.Query.Port, true); err != nil {
			return err
		}
	}
	if n.cfg.API.Subscription.Enable {
		if err := n.startAPIServer(n.subscriptionTable, n.cfg.API.Subscription.Port, false); err != nil {
			return err
		}
	}
	if n.cfg.Metrics.Enable {
		var err error
		if n.metricsServer, err = metrics.Start(n.Global, n.cfg.Metrics.Port, n.reportFault); err != nil {
			return err
		}
	}
	n.peers.Run()
	n.startDatabaseGC()
	n.startMemoryLogging()
	return nil
}

func (n *ServerNode) initPeering() error {
	hostKey, err := store.ReadHostKey(n.cfg.Store.Dir)
	if err != nil {
		return err
	}
	cfg, err := peering.MakeConfig(&n.cfg.Peering, n.cfg.Network.Name, hostKey)
	if err != nil {
		return err
	}
	if n.peers, err = peering.New(n.Global, n.chain, cfg); err != nil {
		return err
	}
	n.peers.OnPeerStatus(func(id peer.ID, connected bool) {
		typ := util.Cond(connected, api.EventPeerConnected, api.EventPeerDisconnected)
		n.postEvent(typ, "peer", id.String())
	})
	return nil
}

func (n *ServerNode) initSyncClient() {
	n.syncClient = chainsync.New(n.Global, n.chain, n.peers, chainsync.Config{
		Timeout:     n.cfg.Sync.Timeout,
		CheckPeriod: n.cfg.Sync.CheckPeriod,
		PortionSize: global.MaxHeadersPortion,
	})
	n.syncClient.OnNewTip(func(h *store.Header) {
		n.postEvent(api.EventNewTip, "height", h.Height, "hash", h.Hash().String())
	})
	n.syncClient.OnFault(func(err error) {
		n.reportFault(fmt.Errorf("chain store: %w", err))
	})
}

func (n *ServerNode) seed(seeded ResultHandler) {
	err := n.peers.Seed(n.Ctx())
	if err == nil {
		n.seeded.Store(true)
		_, connected := n.peers.NumPeers()
		n.postEvent(api.EventSeeded, "peers", connected)
	}
	seeded(err)
}

// Run starts synchronization with peers. It can only be called after successful Start
func (n *ServerNode) Run(synchronized ResultHandler) {
	util.Assertf(n.startIssued.Load() && n.syncClient != nil, "node must be started before Run")
	util.Assertf(!n.runIssued.Swap(true), "node already running")

	n.syncClient.Start(func(err error) {
		if err == nil {
			n.postEvent(api.EventSynchronized, "tip_height", n.chain.Tip().Height)
		}
		synchronized(err)
	})
}
