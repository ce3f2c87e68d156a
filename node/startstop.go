package node

import (
	"github.com/lunfardo314/nodexec/api"
)

// Stop stops the node in the background: API servers, work processes, peering and, finally, the database.
// stopped receives nil or the error of waiting for the work processes. Repeated calls receive the same result
func (n *ServerNode) Stop(stopped ResultHandler) {
	n.stopOnce.Do(func() {
		n.stopDone = make(chan struct{})
		go func() {
			n.Log().Info("[node] stopping the node..")
			n.postEvent(api.EventStopping)
			n.stopErr = n.release()
			close(n.stopDone)
		}()
	})
	go func() {
		<-n.stopDone
		stopped(n.stopErr)
	}()
}

// Close releases everything still open. Does nothing after Stop
func (n *ServerNode) Close() {
	_ = n.release()
}

func (n *ServerNode) release() (err error) {
	n.closeOnce.Do(func() {
		// delivers the 'stopping' event, if posted, before API servers go down
		n.events.close()
		n.stopAPIServers()
		if n.metricsServer != nil {
			n.metricsServer.Stop()
		}
		n.Global.Stop()
		if n.peers != nil {
			n.peers.Stop()
		}
		n.Log().Infof("[node] waiting all processes to stop for up to %v", n.cfg.Node.ShutdownTimeout)
		if err = n.WaitAllWorkProcessesStop(n.cfg.Node.ShutdownTimeout); err != nil {
			n.Log().Warnf("[node] forced close of chain database: %v", err)
		}
		n.closeChainStore()
		n.Log().Info("[node] node stopped")
	})
	return
}
