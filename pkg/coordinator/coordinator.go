// Package coordinator runs one crawl: roster, fan-out, fold, write.
package coordinator

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"blockgraph/pkg/config"
	"blockgraph/pkg/directory"
	"blockgraph/pkg/federation"
	"blockgraph/pkg/graph"
	"blockgraph/pkg/progress"
	"blockgraph/pkg/publish"
	"blockgraph/pkg/types"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Publisher uploads the serialized graph somewhere other than the local file
type Publisher interface {
	Publish(ctx context.Context, data []byte) error
	Location() string
}

type Coordinator struct {
	runID      string
	config     *config.Config
	logger     *zap.Logger
	httpClient *http.Client
	registry   *prometheus.Registry
	metrics    *federation.CrawlMetrics
	progress   *progress.Reporter
	publisher  Publisher
}

// Option customises a Coordinator
type Option func(*Coordinator)

// WithHTTPClient sets the client used for the directory and every instance
func WithHTTPClient(client *http.Client) Option {
	return func(c *Coordinator) { c.httpClient = client }
}

// WithProgressOutput sends progress lines to w instead of stdout
func WithProgressOutput(w io.Writer) Option {
	return func(c *Coordinator) { c.progress = progress.NewReporter(w) }
}

// WithPublisher overrides the publisher built from the configuration
func WithPublisher(p Publisher) Option {
	return func(c *Coordinator) { c.publisher = p }
}

// New creates a coordinator for one run. The configuration must already
// be validated.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) (*Coordinator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	registry := prometheus.NewRegistry()
	c := &Coordinator{
		runID:      uuid.NewString(),
		config:     cfg,
		httpClient: &http.Client{},
		registry:   registry,
		metrics:    federation.NewCrawlMetrics(registry),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logger.With(zap.String("run_id", c.runID))
	if c.progress == nil {
		c.progress = progress.NewReporter(os.Stdout)
	}

	if c.publisher == nil && cfg.Publish.Enabled() {
		p, err := publish.NewS3Publisher(cfg.Publish, c.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create publisher: %w", err)
		}
		c.publisher = p
	}

	return c, nil
}

// RunID identifies this run in logs
func (c *Coordinator) RunID() string {
	return c.runID
}

// Registry exposes the run's metrics for a scrape endpoint
func (c *Coordinator) Registry() *prometheus.Registry {
	return c.registry
}

// Run performs the crawl and writes the graph. Only a directory transport
// failure, an interrupted crawl or an output failure is returned as an
// error. Per-instance failures are absorbed into the outcome stream.
func (c *Coordinator) Run(ctx context.Context) (*types.Graph, error) {
	started := time.Now().UTC()
	timestamp := started.Format(time.RFC3339)
	c.metrics.LastRunTimestamp.Set(float64(started.Unix()))

	c.logger.Info("Starting crawl",
		zap.String("directory", c.config.DirectoryURL),
		zap.Int("count", c.config.RosterCount),
		zap.Int("max_concurrent", c.config.MaxConcurrent))

	dir := directory.NewClient(c.config.DirectoryURL, c.config.RosterCount, c.httpClient, c.logger)
	roster, err := dir.FetchRoster(ctx, c.config.APIKey)
	if err != nil {
		return nil, err
	}
	c.metrics.RosterSize.Set(float64(len(roster)))
	c.progress.Roster(len(roster))

	acc, err := c.crawl(ctx, roster)
	if err != nil {
		return nil, err
	}

	g := acc.Snapshot(timestamp)
	stats := acc.Stats()
	c.metrics.GraphNodes.Set(float64(len(g.Nodes)))
	c.metrics.GraphEdges.Set(float64(len(g.Links)))
	c.metrics.DroppedEntries.Add(float64(stats.Dropped))

	c.progress.Summary(len(g.Nodes), len(g.Links))

	if err := graph.WriteFile(c.config.OutputPath, g); err != nil {
		return nil, fmt.Errorf("failed to write graph: %w", err)
	}
	c.progress.Wrote(c.config.OutputPath)

	if c.publisher != nil {
		if err := c.publish(ctx, g); err != nil {
			return g, err
		}
	}

	c.logger.Info("Crawl completed",
		zap.Int("instances", len(roster)),
		zap.Int("public", stats.Public),
		zap.Int("entries", stats.Entries),
		zap.Int("dropped", stats.Dropped),
		zap.Int("nodes", len(g.Nodes)),
		zap.Int("edges", len(g.Links)),
		zap.Duration("elapsed", time.Since(started)))

	return g, nil
}

// crawl fans out over the roster and folds every outcome on this goroutine
func (c *Coordinator) crawl(ctx context.Context, roster []types.Instance) (*graph.Accumulator, error) {
	fetcher := federation.NewFetcher(c.httpClient, c.logger,
		federation.WithTimeout(c.config.FetchTimeout),
		federation.WithMaxBodyBytes(c.config.MaxBodyBytes),
		federation.WithMetrics(c.metrics))
	scheduler := federation.NewScheduler(fetcher, c.config.MaxConcurrent, c.logger,
		federation.WithRateLimit(c.config.RateLimit),
		federation.WithSchedulerMetrics(c.metrics))

	acc := graph.NewAccumulator(roster)
	done := 0
	for outcome := range scheduler.RunAll(ctx, roster) {
		acc.Fold(outcome)
		done++
		c.progress.Outcome(done, len(roster), outcome)
	}

	// Keep the previous graph.json rather than replace it with a partial one
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("crawl interrupted: %w", err)
	}
	return acc, nil
}

func (c *Coordinator) publish(ctx context.Context, g *types.Graph) error {
	data, err := graph.Marshal(g)
	if err != nil {
		return err
	}
	if err := c.publisher.Publish(ctx, data); err != nil {
		c.logger.Error("Failed to publish graph", zap.String("location", c.publisher.Location()), zap.Error(err))
		return fmt.Errorf("failed to publish graph: %w", err)
	}
	c.progress.Published(c.publisher.Location())
	return nil
}
