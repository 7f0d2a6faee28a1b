package federation

import (
	"errors"
	"net/http"

	"blockgraph/pkg/types"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// CrawlMetrics tracks one crawl run
type CrawlMetrics struct {
	// Fetch metrics
	RosterSize        prometheus.Gauge
	FetchesInFlight   prometheus.Gauge
	FetchOutcomes     *prometheus.CounterVec
	FetchLatency      prometheus.Histogram
	ModerationEntries prometheus.Counter

	// Graph metrics
	GraphNodes       prometheus.Gauge
	GraphEdges       prometheus.Gauge
	DroppedEntries   prometheus.Counter
	LastRunTimestamp prometheus.Gauge
}

// NewCrawlMetrics creates and registers Prometheus metrics
func NewCrawlMetrics(registry prometheus.Registerer) *CrawlMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	m := &CrawlMetrics{
		RosterSize: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
			Name: "blockgraph_roster_size",
			Help: "Number of instances returned by the directory",
		}),
		FetchesInFlight: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
			Name: "blockgraph_fetches_in_flight",
			Help: "Number of moderation fetches currently outstanding",
		}),
		FetchOutcomes: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "blockgraph_fetch_outcomes_total",
			Help: "Moderation fetches by outcome kind",
		}, []string{"kind"}),
		FetchLatency: promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
			Name:    "blockgraph_fetch_latency_seconds",
			Help:    "Moderation fetch latency",
			Buckets: prometheus.DefBuckets,
		}),
		ModerationEntries: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "blockgraph_moderation_entries_total",
			Help: "Moderation entries received from published lists",
		}),
		GraphNodes: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
			Name: "blockgraph_graph_nodes",
			Help: "Nodes in the last written graph",
		}),
		GraphEdges: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
			Name: "blockgraph_graph_edges",
			Help: "Edges in the last written graph",
		}),
		DroppedEntries: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "blockgraph_dropped_entries_total",
			Help: "Moderation entries targeting domains outside the roster",
		}),
		LastRunTimestamp: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
			Name: "blockgraph_last_run_timestamp",
			Help: "Unix time at which the last run started",
		}),
	}

	// Expose every kind from the start so rate() works on the first scrape
	for _, kind := range types.AllOutcomeKinds {
		m.FetchOutcomes.WithLabelValues(string(kind))
	}

	return m
}

// ObserveOutcome records a finished fetch. Safe on a nil receiver.
func (m *CrawlMetrics) ObserveOutcome(o types.FetchOutcome) {
	if m == nil {
		return
	}
	m.FetchOutcomes.WithLabelValues(string(o.Kind)).Inc()
	if o.Kind != types.OutcomeInvalidDomain && o.Kind != types.OutcomeSkipped {
		m.FetchLatency.Observe(o.Duration.Seconds())
	}
	m.ModerationEntries.Add(float64(len(o.Entries)))
}

func (m *CrawlMetrics) fetchStarted() {
	if m != nil {
		m.FetchesInFlight.Inc()
	}
}

func (m *CrawlMetrics) fetchFinished() {
	if m != nil {
		m.FetchesInFlight.Dec()
	}
}

// StartMetricsServer serves /metrics and /health/live in the background
// until the returned server is shut down.
func StartMetricsServer(addr string, gatherer prometheus.Gatherer, logger *zap.Logger) *http.Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health/live", handleLiveness)

	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		logger.Info("Starting metrics server", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	return server
}

// handleLiveness checks if the process is alive
func handleLiveness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
