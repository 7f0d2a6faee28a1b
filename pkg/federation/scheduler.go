package federation

import (
	"context"
	"math"

	"blockgraph/pkg/types"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// DefaultMaxConcurrent bounds the number of outstanding moderation fetches
const DefaultMaxConcurrent = 100

// ModerationFetcher is the unit of work the scheduler fans out.
type ModerationFetcher interface {
	FetchModeration(ctx context.Context, inst types.Instance) types.FetchOutcome
}

// Scheduler drives a ModerationFetcher over a roster with bounded
// concurrency
type Scheduler struct {
	fetcher       ModerationFetcher
	maxConcurrent int
	limiter       *rate.Limiter
	metrics       *CrawlMetrics
	logger        *zap.Logger
}

// SchedulerOption customises a Scheduler
type SchedulerOption func(*Scheduler)

// WithRateLimit spaces out dispatches to at most perSecond requests per
// second across all workers. Zero or less disables the limiter.
func WithRateLimit(perSecond float64) SchedulerOption {
	return func(s *Scheduler) {
		if perSecond <= 0 {
			s.limiter = nil
			return
		}
		burst := int(math.Max(1, math.Floor(perSecond)))
		s.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithSchedulerMetrics records outcomes the scheduler produces itself
// (instances skipped before their fetch started).
func WithSchedulerMetrics(m *CrawlMetrics) SchedulerOption {
	return func(s *Scheduler) { s.metrics = m }
}

// NewScheduler creates a scheduler. maxConcurrent <= 0 uses
// DefaultMaxConcurrent.
func NewScheduler(fetcher ModerationFetcher, maxConcurrent int, logger *zap.Logger, opts ...SchedulerOption) *Scheduler {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Scheduler{
		fetcher:       fetcher,
		maxConcurrent: maxConcurrent,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MaxConcurrent returns the in-flight bound.
func (s *Scheduler) MaxConcurrent() int {
	return s.maxConcurrent
}

// RunAll starts fetching every instance and returns a channel that yields
// exactly one outcome per instance, in completion order. The channel is
// closed after the last outcome. Callers must drain it.
func (s *Scheduler) RunAll(ctx context.Context, instances []types.Instance) <-chan types.FetchOutcome {
	buffer := s.maxConcurrent
	if len(instances) < buffer {
		buffer = len(instances)
	}
	out := make(chan types.FetchOutcome, buffer)

	go func() {
		defer close(out)

		var g errgroup.Group
		g.SetLimit(s.maxConcurrent)

		for _, inst := range instances {
			inst := inst
			// Blocks while maxConcurrent fetches are outstanding
			g.Go(func() error {
				out <- s.fetchOne(ctx, inst)
				return nil
			})
		}

		// Per-instance failures are carried inside the outcome
		_ = g.Wait()
		s.logger.Debug("All moderation fetches completed", zap.Int("instances", len(instances)))
	}()

	return out
}

func (s *Scheduler) fetchOne(ctx context.Context, inst types.Instance) types.FetchOutcome {
	if err := ctx.Err(); err != nil {
		return s.skip(inst, err)
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return s.skip(inst, err)
		}
	}
	return s.fetcher.FetchModeration(ctx, inst)
}

func (s *Scheduler) skip(inst types.Instance, err error) types.FetchOutcome {
	s.logger.Debug("Skipping fetch", zap.String("instance", inst.Name), zap.Error(err))
	out := types.NoData(inst.Name, types.OutcomeSkipped, 0, err)
	s.metrics.ObserveOutcome(out)
	return out
}
