// Package retry runs idempotent outbound calls with bounded retries and
// decorrelated-jitter backoff.
package retry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
	"github.com/wayfarer/wayfarer/internal/config"
	"github.com/wayfarer/wayfarer/internal/failure"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	DefaultMaxRetries     = 3
	DefaultBaseDelay      = time.Second
	DefaultMaxDelay       = 30 * time.Second
	DefaultAttemptTimeout = 30 * time.Second
)

// Policy bounds a retry loop. Total attempts are MaxRetries+1.
type Policy struct {
	// Name labels log lines and metrics, e.g. "generate".
	Name           string
	MaxRetries     int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	AttemptTimeout time.Duration
}

func DefaultPolicy(name string) Policy {
	return Policy{
		Name:           name,
		MaxRetries:     DefaultMaxRetries,
		BaseDelay:      DefaultBaseDelay,
		MaxDelay:       DefaultMaxDelay,
		AttemptTimeout: DefaultAttemptTimeout,
	}
}

// PolicyFromConfig builds a named policy from the RETRY_* settings.
func PolicyFromConfig(name string, cfg config.RetryConfig) Policy {
	return Policy{
		Name:           name,
		MaxRetries:     cfg.MaxRetries,
		BaseDelay:      cfg.BaseDelay,
		MaxDelay:       cfg.MaxDelay,
		AttemptTimeout: cfg.AttemptTimeout,
	}
}

var (
	metricsOnce    sync.Once
	attemptCounter metric.Int64Counter
)

func initMetrics() {
	metricsOnce.Do(func() {
		var err error
		attemptCounter, err = otel.Meter("github.com/wayfarer/wayfarer/internal/retry").Int64Counter(
			"retry.attempts",
			metric.WithDescription("Outbound call attempts made under a retry policy"),
		)
		if err != nil {
			otel.Handle(err)
		}
	})
}

// Execute runs op until it succeeds, fails permanently, or MaxRetries retries
// have been spent. Each attempt runs under AttemptTimeout; an attempt that
// times out while ctx is still live counts as transient.
//
// Exhaustion returns a failure.KindTransient error; a permanent failure is
// returned with its own kind. Both carry the attempt count. Cancellation of
// ctx stops the loop with a failure.KindTransient error wrapping ctx.Err().
func Execute[T any](ctx context.Context, policy Policy, op func(ctx context.Context) (T, error)) (T, error) {
	initMetrics()

	attempts := 0
	attempt := func() (T, error) {
		attempts++
		recordAttempt(ctx, policy.Name, attempts)

		attemptCtx, cancel := attemptContext(ctx, policy.AttemptTimeout)
		defer cancel()

		res, err := op(attemptCtx)
		if err == nil {
			return res, nil
		}

		if ctx.Err() != nil {
			// the caller is gone; stop immediately
			return res, backoff.Permanent(ctx.Err())
		}

		if attemptCtx.Err() != nil && errors.Is(err, context.DeadlineExceeded) {
			err = failure.Wrap(failure.KindTransient, policy.Name, err, "attempt timed out")
		}

		if !Transient(err) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}

	res, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(NewDecorrelatedJitter(policy.BaseDelay, policy.MaxDelay)),
		backoff.WithMaxTries(uint(policy.MaxRetries+1)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Ctx(ctx).Warn().
				Err(err).
				Str("policy", policy.Name).
				Int("attempt", attempts).
				Dur("delay", next).
				Msg("transient failure, retrying")
		}),
	)
	if err == nil {
		return res, nil
	}

	if ctx.Err() != nil {
		return res, &failure.Error{
			Kind:     failure.KindTransient,
			Op:       policy.Name,
			Detail:   "cancelled",
			Attempts: attempts,
			Err:      ctx.Err(),
		}
	}

	return res, annotate(policy.Name, err, attempts)
}

func attemptContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// annotate attaches the attempt count, tagging exhausted transient errors.
func annotate(name string, err error, attempts int) error {
	var fe *failure.Error
	if errors.As(err, &fe) {
		if fe.Kind != failure.KindTransient {
			annotated := *fe
			annotated.Attempts = attempts
			return &annotated
		}
		return &failure.Error{
			Kind:       failure.KindTransient,
			Op:         name,
			Detail:     "retries exhausted",
			StatusCode: fe.StatusCode,
			Attempts:   attempts,
			Err:        err,
		}
	}

	kind := failure.KindPermanent
	detail := "call failed"
	if Transient(err) {
		kind = failure.KindTransient
		detail = "retries exhausted"
	}
	return &failure.Error{
		Kind:     kind,
		Op:       name,
		Detail:   detail,
		Attempts: attempts,
		Err:      err,
	}
}

func recordAttempt(ctx context.Context, name string, attempt int) {
	if attemptCounter == nil {
		return
	}
	attemptCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("retry.policy", name),
		attribute.Bool("retry.is_retry", attempt > 1),
	))
}
