package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/foker/tgflats-sub000/internal/platform/logger"
)

// Manager holds the custom Prometheus metrics for the ingestion pipeline.
type Manager struct {
	Registry *prometheus.Registry

	JobsProcessedTotal *prometheus.CounterVec // by stage
	JobsFailedTotal    *prometheus.CounterVec // by stage, terminal failures only
	ExtractionsTotal   *prometheus.CounterVec // by source: provider|heuristic|cache
	GeocodeTotal       *prometheus.CounterVec // by provider
	BroadcastMatches   prometheus.Counter
	AISpendUSD         prometheus.Counter
	StageDuration      *prometheus.HistogramVec
}

func NewManager(namespace string) *Manager {
	registry := prometheus.NewRegistry()

	m := &Manager{
		Registry: registry,
		JobsProcessedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_jobs_processed_total",
			Help:      "Pipeline jobs completed successfully, by stage.",
		}, []string{"stage"}),
		JobsFailedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_jobs_failed_total",
			Help:      "Pipeline jobs dropped after exhausting retries, by stage.",
		}, []string{"stage"}),
		ExtractionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extractions_total",
			Help:      "Extraction results produced, by source path.",
		}, []string{"source"}),
		GeocodeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_resolutions_total",
			Help:      "Successful geocode resolutions, by provider.",
		}, []string{"provider"}),
		BroadcastMatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_matches_total",
			Help:      "Listing-to-subscription matches pushed to connections.",
		}),
		AISpendUSD: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ai_spend_usd_total",
			Help:      "Cumulative cost of paid inference calls in USD.",
		}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_stage_duration_seconds",
			Help:      "Job handler duration by stage.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
	}

	registry.MustRegister(
		m.JobsProcessedTotal,
		m.JobsFailedTotal,
		m.ExtractionsTotal,
		m.GeocodeTotal,
		m.BroadcastMatches,
		m.AISpendUSD,
		m.StageDuration,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

// Server exposes /metrics on its own port.
type Server struct {
	srv *http.Server
}

func NewServer(port string, m *Manager) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	return &Server{srv: &http.Server{Addr: ":" + port, Handler: mux}}
}

func (s *Server) Start(log logger.Logger) {
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("metrics server stopped: %v", err)
		}
	}()
}

func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}
