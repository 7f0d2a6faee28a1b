package federation

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"blockgraph/pkg/types"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// countingFetcher records how many calls are outstanding at once.
type countingFetcher struct {
	inFlight    int32
	maxInFlight int32
	calls       int32
	delay       func(name string) time.Duration
	fail        func(name string) bool
}

func (f *countingFetcher) FetchModeration(ctx context.Context, inst types.Instance) types.FetchOutcome {
	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	atomic.AddInt32(&f.calls, 1)

	for {
		peak := atomic.LoadInt32(&f.maxInFlight)
		if n <= peak || atomic.CompareAndSwapInt32(&f.maxInFlight, peak, n) {
			break
		}
	}

	if f.delay != nil {
		select {
		case <-time.After(f.delay(inst.Name)):
		case <-ctx.Done():
			return types.NoData(inst.Name, types.OutcomeTransportError, 0, ctx.Err())
		}
	}
	if f.fail != nil && f.fail(inst.Name) {
		return types.NoData(inst.Name, types.OutcomeTransportError, 0, errors.New("connection refused"))
	}
	return types.FetchOutcome{Source: inst.Name, Public: true, Kind: types.OutcomePublished}
}

func roster(n int) []types.Instance {
	out := make([]types.Instance, n)
	for i := range out {
		out[i] = types.Instance{Name: fmt.Sprintf("i%03d.example", i), Users: i}
	}
	return out
}

func drain(ch <-chan types.FetchOutcome) []types.FetchOutcome {
	var outcomes []types.FetchOutcome
	for o := range ch {
		outcomes = append(outcomes, o)
	}
	return outcomes
}

func TestScheduler_ExactlyOneOutcomePerInstance(t *testing.T) {
	tests := []struct {
		name  string
		size  int
		limit int
	}{
		{"empty roster", 0, 4},
		{"smaller than limit", 3, 10},
		{"equal to limit", 8, 8},
		{"many more than limit", 200, 7},
		{"limit of one", 25, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rng := rand.New(rand.NewSource(int64(tt.size)))
			delays := make(map[string]time.Duration)
			instances := roster(tt.size)
			for _, inst := range instances {
				delays[inst.Name] = time.Duration(rng.Intn(3)) * time.Millisecond
			}

			fetcher := &countingFetcher{
				delay: func(name string) time.Duration { return delays[name] },
				fail:  func(name string) bool { return name[len(name)-9] == '3' },
			}
			s := NewScheduler(fetcher, tt.limit, zap.NewNop())

			outcomes := drain(s.RunAll(context.Background(), instances))

			require.Len(t, outcomes, tt.size)
			seen := make(map[string]int)
			for _, o := range outcomes {
				seen[o.Source]++
			}
			for _, inst := range instances {
				assert.Equal(t, 1, seen[inst.Name], "instance %s", inst.Name)
			}
			assert.LessOrEqual(t, atomic.LoadInt32(&fetcher.maxInFlight), int32(tt.limit))
			assert.Equal(t, int32(tt.size), atomic.LoadInt32(&fetcher.calls))
		})
	}
}

func TestScheduler_ReachesConcurrencyLimit(t *testing.T) {
	fetcher := &countingFetcher{
		delay: func(string) time.Duration { return 20 * time.Millisecond },
	}
	s := NewScheduler(fetcher, 5, nil)

	outcomes := drain(s.RunAll(context.Background(), roster(30)))

	assert.Len(t, outcomes, 30)
	assert.Equal(t, int32(5), atomic.LoadInt32(&fetcher.maxInFlight))
}

func TestScheduler_CompletionOrder(t *testing.T) {
	// The first instance is the slowest, so it must be delivered last
	instances := roster(4)
	fetcher := &countingFetcher{
		delay: func(name string) time.Duration {
			if name == instances[0].Name {
				return 100 * time.Millisecond
			}
			return time.Millisecond
		},
	}
	s := NewScheduler(fetcher, 4, nil)

	outcomes := drain(s.RunAll(context.Background(), instances))

	require.Len(t, outcomes, 4)
	assert.Equal(t, instances[0].Name, outcomes[3].Source)
}

func TestScheduler_DefaultLimit(t *testing.T) {
	s := NewScheduler(&countingFetcher{}, 0, nil)
	assert.Equal(t, DefaultMaxConcurrent, s.MaxConcurrent())
}

func TestScheduler_CancelledContextStillYieldsEveryOutcome(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	registry := prometheus.NewRegistry()
	metrics := NewCrawlMetrics(registry)
	fetcher := &countingFetcher{}
	s := NewScheduler(fetcher, 3, nil, WithSchedulerMetrics(metrics))

	outcomes := drain(s.RunAll(ctx, roster(10)))

	require.Len(t, outcomes, 10)
	for _, o := range outcomes {
		assert.Equal(t, types.OutcomeSkipped, o.Kind)
		assert.ErrorIs(t, o.Err, context.Canceled)
		assert.False(t, o.Public)
	}
	assert.Zero(t, atomic.LoadInt32(&fetcher.calls))
	assert.Equal(t, 10.0, testutil.ToFloat64(metrics.FetchOutcomes.WithLabelValues("skipped")))
}

func TestScheduler_CancelMidRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fetcher := &countingFetcher{
		delay: func(string) time.Duration { return time.Hour },
	}
	s := NewScheduler(fetcher, 2, nil)

	ch := s.RunAll(ctx, roster(6))
	time.AfterFunc(20*time.Millisecond, cancel)

	outcomes := drain(ch)
	assert.Len(t, outcomes, 6)
}

func TestScheduler_RateLimit(t *testing.T) {
	fetcher := &countingFetcher{}
	s := NewScheduler(fetcher, 10, nil, WithRateLimit(50))

	start := time.Now()
	outcomes := drain(s.RunAll(context.Background(), roster(60)))
	elapsed := time.Since(start)

	assert.Len(t, outcomes, 60)
	// 50 burst tokens then 10 more at 50/s
	assert.GreaterOrEqual(t, elapsed, 150*time.Millisecond)
}

func TestScheduler_RateLimitDisabled(t *testing.T) {
	s := NewScheduler(&countingFetcher{}, 10, nil, WithRateLimit(5), WithRateLimit(0))
	assert.Nil(t, s.limiter)
}

func TestScheduler_ConcurrentRuns(t *testing.T) {
	fetcher := &countingFetcher{}
	s := NewScheduler(fetcher, 4, nil)

	var wg sync.WaitGroup
	counts := make([]int, 5)
	for i := range counts {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			counts[i] = len(drain(s.RunAll(context.Background(), roster(20))))
		}(i)
	}
	wg.Wait()

	for _, c := range counts {
		assert.Equal(t, 20, c)
	}
}
