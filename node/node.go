package node

import (
	"sync"
	"time"

	"github.com/lunfardo314/nodexec/api"
	"github.com/lunfardo314/nodexec/chainsync"
	"github.com/lunfardo314/nodexec/config"
	"github.com/lunfardo314/nodexec/global"
	"github.com/lunfardo314/nodexec/metrics"
	"github.com/lunfardo314/nodexec/peering"
	"github.com/lunfardo314/nodexec/store"
	"go.uber.org/atomic"
)

type (
	// ResultHandler receives the result of an asynchronous node operation. nil means success
	ResultHandler func(err error)

	// Node is the long-running node as seen by the executor
	Node interface {
		api.NodeReader
		// QueryTable and SubscriptionTable accept handlers until Start
		QueryTable() *api.Table
		SubscriptionTable() *api.Table
		OnEvent(fun func(ev api.Event))
		// Start opens resources synchronously. Error means nothing is running.
		// seeded is called once, asynchronously, with the result of seeding
		Start(seeded ResultHandler) error
		// Run starts synchronization. synchronized is called once
		Run(synchronized ResultHandler)
		// SubscribeFault registers handler of a fault the node reports about itself. Reported at most once
		SubscribeFault(handler ResultHandler)
		// Stop stops the node asynchronously
		Stop(stopped ResultHandler)
		// Close releases everything still held. Idempotent
		Close()
	}

	ServerNode struct {
		*global.Global
		cfg               *config.Configuration
		queryTable        *api.Table
		subscriptionTable *api.Table
		events            *events

		// opened by Start
		chain         *store.ChainStore
		peers         *peering.Peers
		syncClient    *chainsync.SyncClient
		endpoints     []*endpoint
		metricsServer *metrics.Server

		started     time.Time
		startIssued atomic.Bool
		runIssued   atomic.Bool
		seeded      atomic.Bool
		stopOnce    sync.Once
		stopDone    chan struct{}
		stopErr     error
		closeOnce   sync.Once

		faultMutex    sync.Mutex
		faultHandlers []ResultHandler
		fault         error
	}
)

const TraceTag = "node"

// New creates node. Nothing is opened until Start
func New(env *global.Global, cfg *config.Configuration) *ServerNode {
	return &ServerNode{
		Global:            env,
		cfg:               cfg,
		queryTable:        api.NewTable("query"),
		subscriptionTable: api.NewTable("subscription"),
		events:            newEvents(),
	}
}

func (n *ServerNode) QueryTable() *api.Table {
	return n.queryTable
}

func (n *ServerNode) SubscriptionTable() *api.Table {
	return n.subscriptionTable
}

func (n *ServerNode) OnEvent(fun func(ev api.Event)) {
	n.events.onEvent(fun)
}

func (n *ServerNode) postEvent(typ string, kv ...any) {
	n.Tracef(TraceTag, "event '%s'", typ)
	n.events.post(api.NewEvent(typ, kv...))
}

// SubscribeFault registers fault handler. Handler subscribed after the fault is called immediately
func (n *ServerNode) SubscribeFault(handler ResultHandler) {
	n.faultMutex.Lock()
	defer n.faultMutex.Unlock()

	if n.fault != nil {
		go handler(n.fault)
		return
	}
	n.faultHandlers = append(n.faultHandlers, handler)
}

// reportFault notifies fault subscribers about the first fault. Subsequent faults are only logged
func (n *ServerNode) reportFault(err error) {
	n.faultMutex.Lock()
	defer n.faultMutex.Unlock()

	if n.fault != nil {
		n.Log().Warnf("[node] fault ignored: %v", err)
		return
	}
	n.Log().Errorf("[node] fault: %v", err)
	n.fault = err
	for _, h := range n.faultHandlers {
		go h(err)
	}
	n.faultHandlers = nil
}

func (n *ServerNode) UpTime() time.Duration {
	if n.started.IsZero() {
		return 0
	}
	return time.Since(n.started)
}

func (n *ServerNode) GetNodeInfo() *global.NodeInfo {
	ret := &global.NodeInfo{
		Network:   n.cfg.Network.Name,
		Version:   global.Version,
		Seeded:    n.seeded.Load(),
		UptimeSec: uint64(n.UpTime().Seconds()),
	}
	if n.peers != nil {
		ret.ID = n.peers.SelfID().String()
		_, connected := n.peers.NumPeers()
		ret.NumPeers = uint16(connected)
	}
	if n.chain != nil {
		ret.TipHeight = n.chain.Tip().Height
	}
	if n.syncClient != nil {
		ret.Synced = n.syncClient.IsSynced()
	}
	return ret
}

const errNotStarted = "node is not started"

func (n *ServerNode) GetSyncInfo() *api.SyncInfo {
	if n.syncClient == nil {
		return &api.SyncInfo{Error: api.Error{Error: errNotStarted}}
	}
	return n.syncClient.GetSyncInfo()
}

func (n *ServerNode) GetPeersInfo() *api.PeersInfo {
	if n.peers == nil {
		return &api.PeersInfo{Error: api.Error{Error: errNotStarted}}
	}
	return n.peers.GetPeersInfo()
}

// GetTip returns nil if the node is not started
func (n *ServerNode) GetTip() *store.Header {
	if n.chain == nil {
		return nil
	}
	return n.chain.Tip()
}

func (n *ServerNode) GetHeader(height uint64) (*store.Header, bool) {
	if n.chain == nil {
		return nil, false
	}
	return n.chain.HeaderAt(height)
}
