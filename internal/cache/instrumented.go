package cache

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/wayfarer/wayfarer/internal/cache"

type instruments struct {
	operations metric.Int64Counter
	duration   metric.Float64Histogram
}

// cacheInstruments are created on first use so that they bind to the meter
// provider configured at startup.
var cacheInstruments = sync.OnceValue(func() instruments {
	meter := otel.Meter(instrumentationName)

	operations, err := meter.Int64Counter(
		"cache.operations",
		metric.WithDescription("Credential cache operations by outcome"),
	)
	if err != nil {
		otel.Handle(err)
	}

	duration, err := meter.Float64Histogram(
		"cache.operation.duration",
		metric.WithDescription("Credential cache operation duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		otel.Handle(err)
	}

	return instruments{operations: operations, duration: duration}
})

// Instrumented records metrics for every operation on a TokenCache and adds
// the outcome to the active span. Keys are credential scopes, which are not
// secret, so they are recorded on the span.
type Instrumented[T any] struct {
	wrapped   TokenCache[T]
	cacheType string
}

// NewInstrumented wraps cache. cacheType ("memory" or "distributed") is
// recorded as the cache.type attribute.
func NewInstrumented[T any](cache TokenCache[T], cacheType string) *Instrumented[T] {
	return &Instrumented[T]{wrapped: cache, cacheType: cacheType}
}

func (i *Instrumented[T]) Get(ctx context.Context, key string) (T, bool, error) {
	started := time.Now()
	token, found, err := i.wrapped.Get(ctx, key)

	outcome := "miss"
	if err != nil {
		outcome = "error"
	} else if found {
		outcome = "hit"
	}
	i.observe(ctx, "get", key, outcome, started)

	return token, found, err
}

func (i *Instrumented[T]) Set(ctx context.Context, key string, token T) error {
	started := time.Now()
	err := i.wrapped.Set(ctx, key, token)
	i.observe(ctx, "set", key, errorOutcome(err), started)
	return err
}

func (i *Instrumented[T]) Invalidate(ctx context.Context, key string) error {
	started := time.Now()
	err := i.wrapped.Invalidate(ctx, key)
	i.observe(ctx, "invalidate", key, errorOutcome(err), started)
	return err
}

func (i *Instrumented[T]) Close() error {
	return i.wrapped.Close()
}

func errorOutcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (i *Instrumented[T]) observe(ctx context.Context, operation, scope, outcome string, started time.Time) {
	elapsed := time.Since(started).Seconds()
	common := []attribute.KeyValue{
		attribute.String("cache.type", i.cacheType),
		attribute.String("cache.operation", operation),
	}

	inst := cacheInstruments()
	if inst.operations != nil {
		inst.operations.Add(ctx, 1, metric.WithAttributes(append(common, attribute.String("cache.status", outcome))...))
	}
	if inst.duration != nil {
		inst.duration.Record(ctx, elapsed, metric.WithAttributes(common...))
	}

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("cache.type", i.cacheType),
		attribute.String("cache.scope", scope),
		attribute.String("cache."+operation+".status", outcome),
		attribute.Float64("cache."+operation+".duration", elapsed),
	)
}
