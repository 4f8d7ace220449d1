package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNewMetricsRegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.FECRecovered.Add(3)
	m.WatchdogDeaths.Inc()
	m.ValidatorDrop.WithLabelValues("sn_jump").Inc()
	m.ActiveSessions.Set(2)
	// Vec collectors only gather once at least one child exists.
	m.PoolExhausted.WithLabelValues("packet", "receiver").Inc()
	m.SessionLatency.WithLabelValues("0000aaaa").Set(441)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	byName := map[string]*dto.MetricFamily{}
	for _, f := range families {
		byName[f.GetName()] = f
	}
	for _, name := range []string{
		"roc_pool_exhausted_total",
		"roc_validator_dropped_total",
		"roc_fec_recovered_total",
		"roc_fec_unrecoverable_total",
		"roc_watchdog_deaths_total",
		"roc_router_dropped_total",
		"roc_active_sessions",
		"roc_session_latency_samples",
		"roc_mix_cpu_load_ratio",
	} {
		if _, ok := byName[name]; !ok {
			t.Errorf("expected registered metric family %q, not found", name)
		}
	}

	fec := byName["roc_fec_recovered_total"]
	if got := fec.GetMetric()[0].GetCounter().GetValue(); got != 3 {
		t.Fatalf("roc_fec_recovered_total = %v, want 3", got)
	}
}

func TestNewMetricsSeparateRegistriesDoNotCollide(t *testing.T) {
	reg1 := prometheus.NewRegistry()
	reg2 := prometheus.NewRegistry()
	if NewMetrics(reg1) == nil || NewMetrics(reg2) == nil {
		t.Fatal("NewMetrics should succeed against independent registries")
	}
}
