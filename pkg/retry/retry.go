// Package retry runs store calls with bounded exponential backoff, retrying only
// failures classified as transient.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/noah-isme/meal-voucher-api/pkg/config"
	"github.com/noah-isme/meal-voucher-api/pkg/database"
	appErrors "github.com/noah-isme/meal-voucher-api/pkg/errors"
)

// Classifier decides whether an error is worth another attempt.
type Classifier func(error) bool

// Progress describes an upcoming retry.
type Progress struct {
	Label       string
	Attempt     int
	MaxAttempts int
	Delay       time.Duration
	Err         error
}

// ProgressFunc is informed before every retry.
type ProgressFunc func(Progress)

// Observer receives retry counters, typically backed by Prometheus.
type Observer interface {
	ObserveRetry(label string)
	ObserveRetryExhausted(label string)
}

// Policy bounds attempts and delays.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	MaxElapsed time.Duration
}

// PolicyFromConfig maps configuration into a policy with defaults applied.
func PolicyFromConfig(cfg config.RetryConfig) Policy {
	return Policy{
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  cfg.BaseDelay,
		MaxDelay:   cfg.MaxDelay,
		MaxElapsed: cfg.MaxElapsed,
	}.withDefaults()
}

func (p Policy) withDefaults() Policy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 8 * p.BaseDelay
	}
	if p.MaxElapsed <= 0 {
		p.MaxElapsed = 15 * time.Second
	}
	return p
}

// MaxAttempts is the total number of calls including the first one.
func (p Policy) MaxAttempts() int {
	return p.MaxRetries + 1
}

// Executor wraps operations with the retry policy.
type Executor struct {
	policy   Policy
	classify Classifier
	observer Observer
	logger   *zap.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithClassifier overrides the transient-error classifier.
func WithClassifier(c Classifier) Option {
	return func(e *Executor) {
		if c != nil {
			e.classify = c
		}
	}
}

// WithObserver attaches retry metrics.
func WithObserver(o Observer) Option {
	return func(e *Executor) {
		e.observer = o
	}
}

// WithLogger sets the executor logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// Transient is the default classifier. Errors already mapped into the taxonomy were
// classified by an inner call and are never retried again.
func Transient(err error) bool {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return false
	}
	return database.IsTransient(err)
}

// NewExecutor builds an executor using the Transient classifier.
func NewExecutor(policy Policy, opts ...Option) *Executor {
	e := &Executor{
		policy:   policy.withDefaults(),
		classify: Transient,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Policy returns the effective policy.
func (e *Executor) Policy() Policy {
	return e.policy
}

type progressKey struct{}

// WithProgress attaches a progress callback to ctx; Do reports retries to it.
func WithProgress(ctx context.Context, fn ProgressFunc) context.Context {
	if fn == nil {
		return ctx
	}
	return context.WithValue(ctx, progressKey{}, fn)
}

func progressFrom(ctx context.Context) ProgressFunc {
	fn, _ := ctx.Value(progressKey{}).(ProgressFunc)
	return fn
}

// Do runs op until it succeeds, fails permanently or the policy is exhausted.
// Exhaustion surfaces as CONNECTIVITY_ERROR wrapping the last failure.
func (e *Executor) Do(ctx context.Context, label string, op func(ctx context.Context) error) error {
	_, err := Value(ctx, e, label, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Value is Do for operations returning a result.
func Value[T any](ctx context.Context, e *Executor, label string, op func(ctx context.Context) (T, error)) (T, error) {
	policy := e.policy
	attempt := 0
	var lastErr error
	progress := progressFrom(ctx)

	operation := func() (T, error) {
		attempt++
		res, err := op(ctx)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !e.classify(err) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}

	notify := func(err error, delay time.Duration) {
		e.logger.Warn("transient store failure, retrying",
			zap.String("operation", label),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", policy.MaxAttempts()),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if e.observer != nil {
			e.observer.ObserveRetry(label)
		}
		if progress != nil {
			progress(Progress{
				Label:       label,
				Attempt:     attempt + 1,
				MaxAttempts: policy.MaxAttempts(),
				Delay:       delay,
				Err:         err,
			})
		}
	}

	b := &backoff.ExponentialBackOff{
		InitialInterval:     policy.BaseDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         policy.MaxDelay,
	}
	b.Reset()

	res, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(policy.MaxAttempts())),
		backoff.WithMaxElapsedTime(policy.MaxElapsed),
		backoff.WithNotify(notify),
	)
	if err == nil {
		return res, nil
	}

	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return res, err
	}
	if lastErr != nil && !e.classify(lastErr) {
		return res, lastErr
	}

	if e.observer != nil {
		e.observer.ObserveRetryExhausted(label)
	}
	e.logger.Error("store operation exhausted retries",
		zap.String("operation", label),
		zap.Int("attempts", attempt),
		zap.Error(err),
	)
	cause := lastErr
	if cause == nil {
		cause = err
	}
	return res, appErrors.WithCause(appErrors.ErrConnectivity, cause)
}
