package agent

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	faultEvents     prometheus.Counter
	faultyWaves     prometheus.Counter
	protocolErrors  prometheus.Counter
	unresolvedSites prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	return &metrics{
		faultEvents: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "debug_agent_memory_fault_events_total",
			Help: "Total number of device memory fault events handled.",
		}),
		faultyWaves: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "debug_agent_faulty_waves_total",
			Help: "Total number of waves found in XNACK error state.",
		}),
		protocolErrors: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "debug_agent_protocol_errors_total",
			Help: "Events rejected before diagnosis (wrong type, unsupported ISA).",
		}),
		unresolvedSites: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "debug_agent_unresolved_fault_sites_total",
			Help: "Fault sites not covered by any open code object.",
		}),
	}
}
