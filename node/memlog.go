package node

import (
	"fmt"

	"github.com/lunfardo314/nodexec/memlog"
)

func (n *ServerNode) startMemoryLogging() {
	if n.cfg.Node.MemLogPeriod <= 0 {
		return
	}
	memlog.Start(n.Global, n.cfg.Node.MemLogPeriod, n.statusString)
}

func (n *ServerNode) statusString() string {
	sync := "NO SYNC"
	if n.syncClient.IsSynced() {
		sync = "SYNC"
	}
	_, connected := n.peers.NumPeers()
	return fmt.Sprintf("%s, tip: %s, peers: %d", sync, n.chain.Tip().String(), connected)
}
