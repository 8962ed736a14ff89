package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Amund211/weakcache/internal/adapters/cache"
	"github.com/Amund211/weakcache/internal/logging"
	"go.opentelemetry.io/otel/attribute"
)

type ListEntries func(ctx context.Context) []cache.EntryState

type snapshotter interface {
	Snapshot() []cache.EntryState
}

func BuildListEntries(resourceCache snapshotter) ListEntries {
	return func(ctx context.Context) []cache.EntryState {
		_, span := tracer.Start(ctx, "ListEntries")
		defer span.End()

		return resourceCache.Snapshot()
	}
}

type RemovalOutcome int

const (
	// The entry is no longer in the cache
	RemovalDone RemovalOutcome = iota
	// The table lock was busy, the entry will be removed by the reaper later
	RemovalScheduled
)

type entryRemover interface {
	Remove(ctx context.Context, key string, timeout time.Duration) (bool, error)
}

type RemovalScheduler interface {
	ScheduleRemoval(key string)
}

type RemoveEntry func(ctx context.Context, key string) (RemovalOutcome, error)

func BuildRemoveEntry(resourceCache entryRemover, scheduler RemovalScheduler, timeout time.Duration) RemoveEntry {
	return func(ctx context.Context, key string) (RemovalOutcome, error) {
		ctx, span := tracer.Start(ctx, "RemoveEntry")
		defer span.End()

		if err := validateKey(key); err != nil {
			return RemovalDone, err
		}

		removed, err := resourceCache.Remove(ctx, key, timeout)
		if errors.Is(err, cache.ErrLockTimeout) {
			logging.FromContext(ctx).InfoContext(ctx, "Table lock busy, scheduling removal", "timeout", timeout.String())
			scheduler.ScheduleRemoval(key)
			return RemovalScheduled, nil
		}
		if err != nil {
			return RemovalDone, fmt.Errorf("failed to remove entry: %w", err)
		}
		span.SetAttributes(attribute.Bool("removed", removed))

		return RemovalDone, nil
	}
}
