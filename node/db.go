package node

import (
	"fmt"
	"time"

	"github.com/lunfardo314/nodexec/store"
)

const badgerGCPeriod = 5 * time.Minute

// openChainStore opens the chain database of the store directory and checks it belongs to the configured network
func (n *ServerNode) openChainStore() error {
	dir := store.ChainDir(n.cfg.Store.Dir)
	chain, err := store.OpenChainStore(dir)
	if err != nil {
		return err
	}
	genesis := store.GenesisHeader(n.cfg.Network.Name)
	if chain.GenesisHash() != genesis.Hash() {
		_ = chain.Close()
		return fmt.Errorf("chain database '%s' does not belong to network '%s'", dir, n.cfg.Network.Name)
	}
	n.chain = chain
	n.Log().Infof("[node] opened chain database '%s'. Tip: %s", dir, chain.Tip().String())
	return nil
}

func (n *ServerNode) startDatabaseGC() {
	n.RepeatInBackground("badger_gc_loop", badgerGCPeriod, func() bool {
		start := time.Now()
		if err := n.chain.RunGC(); err != nil {
			n.reportFault(fmt.Errorf("badger GC: %w", err))
			return false
		}
		n.Log().Infof("[node] badger DB GC (%v)", time.Since(start))
		return true
	}, true)
}

func (n *ServerNode) closeChainStore() {
	if n.chain == nil || n.chain.IsClosed() {
		return
	}
	if err := n.chain.Close(); err != nil {
		n.Log().Warnf("[node] error while closing chain database: %v", err)
		return
	}
	n.Log().Infof("[node] chain database has been closed")
}
