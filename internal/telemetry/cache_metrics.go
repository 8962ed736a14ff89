package telemetry

import (
	"context"
	"errors"
	"fmt"

	"github.com/Amund211/weakcache/internal/adapters/cache"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ObservableCache is the part of cache.Cache the metrics need
type ObservableCache interface {
	Subscribe(event cache.Event, fn func()) (func(), error)
	Len() int
}

// RegisterCacheMetrics counts hits, misses and weak hits of c, and reports the
// number of entries in its table. Call the returned function to stop.
func RegisterCacheMetrics(ctx context.Context, meter metric.Meter, cacheName string, c ObservableCache) (func() error, error) {
	attributesOption := metric.WithAttributes(attribute.String("cache", cacheName))

	counters := map[cache.Event]metric.Int64Counter{}
	for event, description := range map[cache.Event]string{
		cache.EventHit:     "Lookups that found a live value",
		cache.EventMiss:    "Lookups that created a new value",
		cache.EventWeakHit: "Lookups that recovered a value from the weak reference",
	} {
		counter, err := meter.Int64Counter(
			fmt.Sprintf("cache/%s_count", event),
			metric.WithDescription(description),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s count metric: %w", event, err)
		}
		counters[event] = counter
	}

	entries, err := meter.Int64ObservableGauge(
		"cache/entries",
		metric.WithDescription("Entries in the cache table, including ones whose value is gone"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create entries metric: %w", err)
	}

	registration, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(entries, int64(c.Len()), attributesOption)
		return nil
	}, entries)
	if err != nil {
		return nil, fmt.Errorf("failed to register entries callback: %w", err)
	}

	unsubscribes := []func(){}
	stop := func() error {
		for _, unsubscribe := range unsubscribes {
			unsubscribe()
		}
		return registration.Unregister()
	}

	// Subscribers get no context, so counting uses the registration context
	counterCtx := context.WithoutCancel(ctx)
	for event, counter := range counters {
		unsubscribe, err := c.Subscribe(event, func() {
			counter.Add(counterCtx, 1, attributesOption)
		})
		if err != nil {
			return nil, errors.Join(fmt.Errorf("failed to subscribe to %s: %w", event, err), stop())
		}
		unsubscribes = append(unsubscribes, unsubscribe)
	}

	return stop, nil
}
