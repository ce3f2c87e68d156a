package executor

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const TraceTag = "executor"

func (e *Executor) registerMetrics() {
	e.phaseGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "nodexec_executor_phase",
		Help: "lifecycle phase of the node process",
	})
	var already prometheus.AlreadyRegisteredError
	if err := e.env.MetricsRegistry().Register(e.phaseGauge); err != nil {
		if !errors.As(err, &already) {
			panic(err)
		}
		e.phaseGauge = already.ExistingCollector.(prometheus.Gauge)
	}
}
