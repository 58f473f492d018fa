package sys

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.DashboardTicks.WithLabelValues("online").Inc()
	m.DashboardWrites.WithLabelValues("create", "ok").Inc()
	m.DashboardChannelMissing.Inc()
	m.StatsFetchDuration.Observe(0.2)
	m.AuditPosts.WithLabelValues("welcome", "ok").Inc()

	if n, err := testutil.GatherAndCount(reg); err != nil || n != 5 {
		t.Fatalf("expected 5 metrics, got %d (%v)", n, err)
	}
	if v := testutil.ToFloat64(m.DashboardTicks.WithLabelValues("online")); v != 1 {
		t.Fatalf("expected 1 online tick, got %v", v)
	}
}

func TestNewMetrics_NilRegistryIsPrivate(t *testing.T) {
	a := NewMetrics(nil)
	b := NewMetrics(nil)
	a.DashboardChannelMissing.Inc()
	if v := testutil.ToFloat64(b.DashboardChannelMissing); v != 0 {
		t.Fatalf("expected independent registries, got %v", v)
	}
}
