package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/lunfardo314/nodexec/global"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	Path            = "/metrics"
	shutdownTimeout = 2 * time.Second
)

type (
	Environment interface {
		global.Logging
		global.Metrics
		Ctx() context.Context
	}

	// Server exposes the metrics registry of the environment for Prometheus
	Server struct {
		env      Environment
		listener net.Listener
		srv      *http.Server
		done     chan struct{}
	}
)

// Start registers runtime collectors and serves the registry on the port. Port 0 means any free port.
// The server is shut down when the environment context is done. Serve error after start is passed to onFail
func Start(env Environment, port int, onFail func(err error)) (*Server, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	registerCollectors(env)

	mux := http.NewServeMux()
	mux.Handle(Path, promhttp.HandlerFor(
		env.MetricsRegistry(),
		promhttp.HandlerOpts{
			Registry: env.MetricsRegistry(),
		},
	))
	ret := &Server{
		env:      env,
		listener: ln,
		srv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		done: make(chan struct{}),
	}
	go func() {
		defer close(ret.done)
		if err := ret.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			env.Log().Errorf("[metrics] server failed: %v", err)
			if onFail != nil {
				onFail(err)
			}
		}
	}()
	go func() {
		<-env.Ctx().Done()
		ret.Stop()
	}()
	env.Log().Infof("Prometheus metrics exposed on %s%s", ln.Addr().String(), Path)
	return ret, nil
}

func registerCollectors(env Environment) {
	// registration error means the collectors are already there
	_ = env.MetricsRegistry().Register(collectors.NewGoCollector())
	_ = env.MetricsRegistry().Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Stop shuts the server down and waits until it stops serving
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = s.srv.Shutdown(ctx)
	<-s.done
}
