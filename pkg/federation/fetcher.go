package federation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"blockgraph/pkg/types"
	"blockgraph/pkg/utils"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	DefaultFetchTimeout = 5 * time.Second
	DefaultMaxBodyBytes = 16 << 20

	tracerName = "blockgraph/federation"
)

var errNotArray = errors.New("moderation list is not a JSON array")

// Fetcher polls one instance's published domain-block list. It holds no
// per-instance state and is safe for concurrent use.
type Fetcher struct {
	client       *http.Client
	timeout      time.Duration
	maxBodyBytes int64
	metrics      *CrawlMetrics
	tracer       trace.Tracer
	logger       *zap.Logger
}

// FetcherOption customises a Fetcher
type FetcherOption func(*Fetcher)

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) FetcherOption {
	return func(f *Fetcher) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithMaxBodyBytes caps how much of a response body is read.
func WithMaxBodyBytes(n int64) FetcherOption {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxBodyBytes = n
		}
	}
}

// WithMetrics records every outcome in m.
func WithMetrics(m *CrawlMetrics) FetcherOption {
	return func(f *Fetcher) { f.metrics = m }
}

// WithTracer replaces the global otel tracer.
func WithTracer(t trace.Tracer) FetcherOption {
	return func(f *Fetcher) { f.tracer = t }
}

// NewFetcher creates a moderation fetcher
func NewFetcher(client *http.Client, logger *zap.Logger, opts ...FetcherOption) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	f := &Fetcher{
		client:       client,
		timeout:      DefaultFetchTimeout,
		maxBodyBytes: DefaultMaxBodyBytes,
		tracer:       otel.Tracer(tracerName),
		logger:       logger,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FetchModeration performs one GET against the instance's domain_blocks
// endpoint. Every failure is mapped to a no-data outcome; nothing here
// aborts the run.
func (f *Fetcher) FetchModeration(ctx context.Context, inst types.Instance) (out types.FetchOutcome) {
	start := time.Now()
	ctx, span := f.tracer.Start(ctx, "federation.FetchModeration",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("instance", inst.Name)))

	defer func() {
		out.Duration = time.Since(start)
		span.SetAttributes(
			attribute.String("outcome", string(out.Kind)),
			attribute.Int("http.status_code", out.Status),
			attribute.Int("entries", len(out.Entries)))
		if out.Err != nil {
			span.RecordError(out.Err)
			span.SetStatus(codes.Error, out.Err.Error())
		}
		span.End()
		f.metrics.ObserveOutcome(out)
	}()

	domain, err := ParseDomain(inst.Name)
	if err != nil {
		f.logger.Warn("Skipping instance with invalid domain",
			zap.String("instance", inst.Name),
			zap.Error(err))
		return types.NoData(inst.Name, types.OutcomeInvalidDomain, 0, err)
	}

	f.metrics.fetchStarted()
	defer f.metrics.fetchFinished()

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, DomainBlocksURL(domain), nil)
	if err != nil {
		return types.NoData(inst.Name, types.OutcomeInvalidDomain, 0, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.Warn("Moderation fetch failed",
			zap.String("instance", inst.Name),
			zap.Error(err))
		return types.NoData(inst.Name, types.OutcomeTransportError, 0, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		entries, err := f.decode(resp.Body)
		if err != nil {
			f.logger.Warn("Failed to parse moderation list",
				zap.String("instance", inst.Name),
				zap.Error(err))
			return types.NoData(inst.Name, types.OutcomeUnparseable, resp.StatusCode, err)
		}
		return types.FetchOutcome{
			Source:  inst.Name,
			Public:  true,
			Entries: entries,
			Kind:    types.OutcomePublished,
			Status:  resp.StatusCode,
		}
	case http.StatusNotFound:
		f.logger.Debug("No public moderation list", zap.String("instance", inst.Name))
		return types.NoData(inst.Name, types.OutcomeNotPublished, resp.StatusCode, nil)
	default:
		f.logger.Warn("Unexpected moderation response",
			zap.String("instance", inst.Name),
			zap.Int("status", resp.StatusCode))
		return types.NoData(inst.Name, types.OutcomeBadStatus, resp.StatusCode,
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
}

func (f *Fetcher) decode(body io.Reader) ([]types.ModerationEntry, error) {
	raw, err := io.ReadAll(io.LimitReader(body, f.maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	if int64(len(raw)) > f.maxBodyBytes {
		return nil, fmt.Errorf("body exceeds %s", utils.FormatDataSize(f.maxBodyBytes))
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, errNotArray
	}

	var entries []types.ModerationEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}
