package server

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	totalRequests prometheus.Counter
}

func (srv *server) registerMetrics() error {
	srv.metrics.totalRequests = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nodexec_api_totalRequests",
		Help: "total query API requests",
	})
	err := srv.MetricsRegistry().Register(srv.metrics.totalRequests)
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		srv.metrics.totalRequests = already.ExistingCollector.(prometheus.Counter)
		return nil
	}
	return err
}
