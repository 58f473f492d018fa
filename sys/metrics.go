package sys

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	// Ticks by rendered state: online, offline
	DashboardTicks *prometheus.CounterVec

	// Platform writes by op (create, edit) and status (ok, error)
	DashboardWrites *prometheus.CounterVec

	DashboardChannelMissing prometheus.Counter

	StatsFetchDuration prometheus.Histogram

	// Log channel posts by kind (welcome, member_join, message_edit, ...) and status
	AuditPosts *prometheus.CounterVec
}

// MetricsRegistry backs /metrics.
var MetricsRegistry = prometheus.NewRegistry()

// AppMetrics is the process-wide instance registered on MetricsRegistry.
var AppMetrics = NewMetrics(MetricsRegistry)

// NewMetrics registers the bot's collectors on reg; a nil reg gets a private registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		DashboardTicks: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "nijisupport_dashboard_ticks_total",
			Help: "Dashboard ticks by rendered API state.",
		}, []string{"result"}),

		DashboardWrites: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "nijisupport_dashboard_writes_total",
			Help: "Dashboard message writes by operation and outcome.",
		}, []string{"op", "status"}),

		DashboardChannelMissing: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "nijisupport_dashboard_channel_missing_total",
			Help: "Ticks skipped because the stats channel could not be resolved.",
		}),

		StatsFetchDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "nijisupport_stats_fetch_seconds",
			Help:    "Latency of the stats API request.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),

		AuditPosts: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "nijisupport_audit_posts_total",
			Help: "Welcome and log channel posts by kind and outcome.",
		}, []string{"kind", "status"}),
	}
}

// ServeMetrics exposes MetricsRegistry on addr until ctx is cancelled.
func ServeMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(MetricsRegistry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	LogMetrics(MsgMetricsListening, addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		LogMetrics(MsgMetricsServeFail, err)
	}
}
