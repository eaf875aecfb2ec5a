package retry

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"go.uber.org/zap"

	"hedge_bot/internal/metrics"
)

type Policy struct {
	MaxRetries int           `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
}

func DefaultPolicy() Policy {
	return Policy{MaxRetries: 3, BaseDelay: 2 * time.Second}
}

// Delay before the retry that follows a failed attempt (0-based): base^attempt seconds.
func (p Policy) Delay(attempt int) time.Duration {
	base := p.BaseDelay.Seconds()
	if base <= 0 {
		base = DefaultPolicy().BaseDelay.Seconds()
	}
	return time.Duration(math.Pow(base, float64(attempt)) * float64(time.Second))
}

// PermanentOperationError is returned by Do when a critical operation has failed for good.
type PermanentOperationError struct {
	Op  string
	Err error
}

func (e *PermanentOperationError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *PermanentOperationError) Unwrap() error { return e.Err }

type Sleeper func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type Executor struct {
	policy  Policy
	log     *zap.Logger
	tracer  opentracing.Tracer
	metrics *metrics.Collector
	sleep   Sleeper
}

type Option func(*Executor)

func WithTracer(t opentracing.Tracer) Option { return func(e *Executor) { e.tracer = t } }

func WithMetrics(m *metrics.Collector) Option { return func(e *Executor) { e.metrics = m } }

func WithSleeper(s Sleeper) Option { return func(e *Executor) { e.sleep = s } }

func NewExecutor(policy Policy, log *zap.Logger, opts ...Option) *Executor {
	if policy.MaxRetries <= 0 {
		policy.MaxRetries = DefaultPolicy().MaxRetries
	}
	e := &Executor{
		policy: policy,
		log:    log,
		tracer: opentracing.NoopTracer{},
		sleep:  sleepCtx,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Executor) Policy() Policy { return e.policy }

func (e *Executor) try(ctx context.Context, name string, attempt int, call func(ctx context.Context) error) error {
	span, spanCtx := opentracing.StartSpanFromContextWithTracer(ctx, e.tracer, name)
	span.SetTag("attempt", attempt+1)
	defer span.Finish()

	err := call(spanCtx)
	if err != nil {
		ext.Error.Set(span, true)
		span.LogKV("error", err.Error())
	}
	return err
}

// Do runs op with classification-aware retries.
//
// Transient failures are retried up to the policy limit, sleeping base^attempt seconds in
// between; a permanent failure stops at once. When every attempt failed a non-critical call
// gets a failed Result and a nil error, a critical call additionally gets a
// *PermanentOperationError so the caller halts that action.
func Do[T any](ctx context.Context, e *Executor, name string, critical bool, op func(ctx context.Context) (T, error)) (Result[T], error) {
	log := e.log.With(zap.String("op", name))
	var lastErr error

	for attempt := 0; attempt < e.policy.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}

		var v T
		err := e.try(ctx, name, attempt, func(ctx context.Context) error {
			var opErr error
			v, opErr = op(ctx)
			return opErr
		})
		if err == nil {
			e.metrics.Attempt(name, "ok")
			if attempt > 0 {
				log.Info("succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return Ok(v), nil
		}
		lastErr = err

		if Classify(err) == Permanent {
			e.metrics.Attempt(name, "permanent")
			log.Error("permanent failure", zap.Error(err))
			break
		}
		e.metrics.Attempt(name, "transient")

		if attempt == e.policy.MaxRetries-1 {
			log.Error("still failing after retries", zap.Int("attempts", e.policy.MaxRetries), zap.Error(err))
			break
		}

		delay := e.policy.Delay(attempt)
		log.Warn("transient failure, retrying",
			zap.Int("attempt", attempt+1),
			zap.Int("max", e.policy.MaxRetries),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if err := e.sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}
	}

	res := Fail[T](lastErr)
	if !critical {
		log.Error("failed, continuing with degraded result", zap.Error(lastErr))
		return res, nil
	}
	res.Critical = true
	return res, &PermanentOperationError{Op: name, Err: lastErr}
}
