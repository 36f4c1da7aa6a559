package llm

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dslhub/dslhub/internal/model"
	"github.com/dslhub/dslhub/internal/telemetry"
)

// Resilient defaults.
const (
	DefaultTimeout         = 30 * time.Second
	DefaultRetries         = 3
	defaultInitialInterval = 500 * time.Millisecond
)

// ResilientOptions configures a Resilient client.
type ResilientOptions struct {
	// Timeout bounds each attempt. Defaults to DefaultTimeout.
	Timeout time.Duration
	// Retries is the number of additional attempts after the first failure.
	// Defaults to DefaultRetries.
	Retries int
	// Fallback answers when every attempt failed. Defaults to Static.
	Fallback Client
	// Metrics records call counters and latency when set.
	Metrics *telemetry.Metrics
}

// Resilient wraps a provider client with per-attempt timeouts, exponential
// backoff retries and a deterministic fallback, so agent runs always obtain
// an answer.
type Resilient struct {
	inner    Client
	fallback Client
	timeout  time.Duration
	retries  uint64
	metrics  *telemetry.Metrics
}

var _ Client = (*Resilient)(nil)

// NewResilient wraps inner.
func NewResilient(inner Client, opts ResilientOptions) *Resilient {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Retries <= 0 {
		opts.Retries = DefaultRetries
	}
	if opts.Fallback == nil {
		opts.Fallback = NewStatic()
	}
	return &Resilient{
		inner:    inner,
		fallback: opts.Fallback,
		timeout:  opts.Timeout,
		retries:  uint64(opts.Retries),
		metrics:  opts.Metrics,
	}
}

// Name implements Client.
func (r *Resilient) Name() string { return r.inner.Name() }

// GeneratePipeline implements Client.
func (r *Resilient) GeneratePipeline(ctx context.Context, prompt string, lctx Context) (map[string]any, error) {
	return call(ctx, r, "generate_pipeline",
		func(ctx context.Context) (map[string]any, error) { return r.inner.GeneratePipeline(ctx, prompt, lctx) },
		func(ctx context.Context) (map[string]any, error) { return r.fallback.GeneratePipeline(ctx, prompt, lctx) },
	)
}

// SelfCheck implements Client.
func (r *Resilient) SelfCheck(ctx context.Context, pipeline map[string]any, lctx Context) (CheckResult, error) {
	return call(ctx, r, "self_check",
		func(ctx context.Context) (CheckResult, error) { return r.inner.SelfCheck(ctx, pipeline, lctx) },
		func(ctx context.Context) (CheckResult, error) { return r.fallback.SelfCheck(ctx, pipeline, lctx) },
	)
}

// Summarize implements Client.
func (r *Resilient) Summarize(ctx context.Context, messages []model.Message, prior *model.FlowSummary) (Summary, error) {
	return call(ctx, r, "summarize",
		func(ctx context.Context) (Summary, error) { return r.inner.Summarize(ctx, messages, prior) },
		func(ctx context.Context) (Summary, error) { return r.fallback.Summarize(ctx, messages, prior) },
	)
}

func call[T any](ctx context.Context, r *Resilient, method string, attempt, fallback func(ctx context.Context) (T, error)) (T, error) {
	start := time.Now()
	var result T
	op := func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		out, err := attempt(attemptCtx)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		result = out
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = defaultInitialInterval
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, r.retries), ctx))
	if err == nil {
		r.record(ctx, method, r.inner.Name(), "ok", start)
		return result, nil
	}
	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		r.record(ctx, method, r.inner.Name(), "error", start)
		return result, err
	}

	out, ferr := fallback(ctx)
	if ferr != nil {
		r.record(ctx, method, r.inner.Name(), "error", start)
		return result, errors.Join(err, ferr)
	}
	r.record(ctx, method, r.inner.Name(), "fallback", start)
	return out, nil
}

func (r *Resilient) record(ctx context.Context, method, provider, status string, start time.Time) {
	if r.metrics != nil {
		r.metrics.RecordLLMCall(ctx, method, provider, status, time.Since(start))
	}
}
