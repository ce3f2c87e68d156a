package peering

import "github.com/prometheus/client_golang/prometheus"

func (ps *Peers) registerMetrics() {
	ps.inMsgCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nodexec_peering_inMsgCounter",
		Help: "counts number of incoming requests",
	})
	ps.outMsgCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nodexec_peering_outMsgCounter",
		Help: "counts number of requests sent to peers",
	})
	ps.MetricsRegistry().MustRegister(ps.inMsgCounter, ps.outMsgCounter)

	// peers metrics
	ps.peersAll = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "nodexec_peers_all",
		Help: "number of current peers",
	})
	ps.peersStatic = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "nodexec_peers_static",
		Help: "number of static peers",
	})
	ps.peersConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "nodexec_peers_connected",
		Help: "number of connected peers",
	})
	ps.MetricsRegistry().MustRegister(ps.peersAll, ps.peersStatic, ps.peersConnected)
}

func (ps *Peers) updatePeerMetrics(stats peersStats) {
	ps.peersAll.Set(float64(stats.peersAll))
	ps.peersStatic.Set(float64(stats.peersStatic))
	ps.peersConnected.Set(float64(stats.peersConnected))
}
