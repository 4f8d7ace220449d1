package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the counters and gauges backing the error-handling
// policy: every local error is a dropped unit of work plus a counter
// bump, never a propagated failure.
type Metrics struct {
	PoolExhausted    *prometheus.CounterVec // label: pool ("packet"|"buffer"), side ("sender"|"receiver")
	ValidatorDrop    *prometheus.CounterVec // label: reason
	FECRecovered     prometheus.Counter
	FECUnrecoverable prometheus.Counter
	WatchdogDeaths   prometheus.Counter
	RouterDropped    prometheus.Counter
	ActiveSessions   prometheus.Gauge
	SessionLatency   *prometheus.GaugeVec // label: ssrc
	MixCPULoad       prometheus.Gauge
}

// NewMetrics registers the domain metric set against reg. Pass
// prometheus.DefaultRegisterer in production, a fresh
// prometheus.NewRegistry() in tests to avoid cross-test collisions.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PoolExhausted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roc_pool_exhausted_total",
			Help: "Pool acquisition failures by pool and pipeline side.",
		}, []string{"pool", "side"}),
		ValidatorDrop: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roc_validator_dropped_total",
			Help: "Packets rejected by the per-session validator by reason.",
		}, []string{"reason"}),
		FECRecovered: factory.NewCounter(prometheus.CounterOpts{
			Name: "roc_fec_recovered_total",
			Help: "Source packets reconstructed by the FEC reader.",
		}),
		FECUnrecoverable: factory.NewCounter(prometheus.CounterOpts{
			Name: "roc_fec_unrecoverable_total",
			Help: "FEC blocks that closed with source packets still missing.",
		}),
		WatchdogDeaths: factory.NewCounter(prometheus.CounterOpts{
			Name: "roc_watchdog_deaths_total",
			Help: "Sessions declared dead by the watchdog.",
		}),
		RouterDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "roc_router_dropped_total",
			Help: "Packets matching no registered route.",
		}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "roc_active_sessions",
			Help: "Sessions currently open on the receiver.",
		}),
		SessionLatency: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "roc_session_latency_samples",
			Help: "Instantaneous jitter-buffer latency per session, in samples.",
		}, []string{"ssrc"}),
		MixCPULoad: factory.NewGauge(prometheus.GaugeOpts{
			Name: "roc_mix_cpu_load_ratio",
			Help: "Moving average of mix-cycle wall-clock time over nominal playback duration.",
		}),
	}
}
