package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/lunfardo314/nodexec/api"
)

const (
	queryServerTimeout  = 10 * time.Second
	endpointStopTimeout = 2 * time.Second
	readHeaderTimeout   = 5 * time.Second
)

// endpoint serves one API table on its own port
type endpoint struct {
	name     string
	listener net.Listener
	srv      *http.Server
	done     chan struct{}
}

// startAPIServer listens synchronously, so a busy port is a start error. Serve error after that is a fault
func (n *ServerNode) startAPIServer(table *api.Table, port int, timeouts bool) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("%s API server: %w", table.Name(), err)
	}
	ep := &endpoint{
		name:     table.Name(),
		listener: ln,
		srv: &http.Server{
			Handler:           table.Mux(),
			ReadHeaderTimeout: readHeaderTimeout,
		},
		done: make(chan struct{}),
	}
	if timeouts {
		// websocket connections are long-lived, only the query server limits them
		ep.srv.ReadTimeout = queryServerTimeout
		ep.srv.WriteTimeout = queryServerTimeout
		ep.srv.IdleTimeout = queryServerTimeout
	}
	n.endpoints = append(n.endpoints, ep)

	go func() {
		defer close(ep.done)
		err := ep.srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			n.reportFault(fmt.Errorf("%s API server: %w", ep.name, err))
		}
	}()
	n.Log().Infof("[node] %s API server listening on %s. Paths: %v", ep.name, ln.Addr().String(), table.Paths())
	return nil
}

func (n *ServerNode) stopAPIServers() {
	for _, ep := range n.endpoints {
		ctx, cancel := context.WithTimeout(context.Background(), endpointStopTimeout)
		if err := ep.srv.Shutdown(ctx); err != nil {
			_ = ep.srv.Close()
		}
		cancel()
		<-ep.done
		n.Log().Infof("[node] %s API server has been stopped", ep.name)
	}
	n.endpoints = nil
}

// APIAddr returns listening address of the API server of the table with the name, nil if not listening
func (n *ServerNode) APIAddr(name string) net.Addr {
	for _, ep := range n.endpoints {
		if ep.name == name {
			return ep.listener.Addr()
		}
	}
	return nil
}
