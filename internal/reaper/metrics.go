package reaper

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

type reaperMetricsCollection struct {
	demotedCount     metric.Int64Counter
	removedCount     metric.Int64Counter
	lockTimeoutCount metric.Int64Counter
	abandonedCount   metric.Int64Counter
}

var metrics reaperMetricsCollection

func init() {
	const name = "weakcache/reaper"
	meter := otel.Meter(name)

	newCounter := func(metricName, description string) metric.Int64Counter {
		counter, err := meter.Int64Counter(metricName, metric.WithDescription(description))
		if err != nil {
			panic(fmt.Errorf("failed to create %s metric: %w", metricName, err))
		}
		return counter
	}

	metrics = reaperMetricsCollection{
		demotedCount:     newCounter("reaper/demoted_count", "Entries whose strong reference was dropped"),
		removedCount:     newCounter("reaper/removed_count", "Entries removed from the cache table"),
		lockTimeoutCount: newCounter("reaper/lock_timeout_count", "Attempts that gave up waiting for the exclusive table lock"),
		abandonedCount:   newCounter("reaper/abandoned_count", "Scheduled removals given up after retrying for too long"),
	}
}
