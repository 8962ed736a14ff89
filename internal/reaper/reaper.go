package reaper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Amund211/weakcache/internal/adapters/cache"
	"github.com/Amund211/weakcache/internal/logging"
	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/time/rate"
)

const (
	defaultInterval    = 1 * time.Minute
	defaultGiveUpAfter = 10 * time.Minute
)

// Maintainer is the maintenance surface of a cache
type Maintainer interface {
	RemoveExpired(ctx context.Context, timeout time.Duration) (cache.ReapResult, error)
	Remove(ctx context.Context, key string, timeout time.Duration) (bool, error)
}

// Config controls how often the reaper runs. Zero values use the defaults.
type Config struct {
	// Time between sweeps. Default 1 minute
	Interval time.Duration
	// Time to wait before retrying a sweep that timed out. Default Interval/4
	RetryDelay time.Duration
	// How long to wait for the exclusive table lock per attempt. Default cache.DefaultRemovalTimeout
	RemovalTimeout time.Duration
	// Scheduled removals are dropped if they have not succeeded after this long. Default 10 minutes
	GiveUpAfter time.Duration
	// Max exclusive lock attempts per second. Default one per RemovalTimeout
	AttemptLimit rate.Limit
}

func (cfg Config) withDefaults() Config {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = cfg.Interval / 4
	}
	if cfg.RemovalTimeout <= 0 {
		cfg.RemovalTimeout = cache.DefaultRemovalTimeout
	}
	if cfg.GiveUpAfter <= 0 {
		cfg.GiveUpAfter = defaultGiveUpAfter
	}
	if cfg.AttemptLimit <= 0 {
		cfg.AttemptLimit = rate.Every(cfg.RemovalTimeout)
	}
	return cfg
}

// Reaper periodically demotes idle entries and removes dead ones from a cache.
// Attempts that time out waiting for the table lock are retried later.
type Reaper struct {
	cache   Maintainer
	cfg     Config
	logger  *slog.Logger
	limiter *rate.Limiter

	// Keys whose removal has been requested but not yet succeeded
	pending *ttlcache.Cache[string, time.Time]
}

func New(c Maintainer, cfg Config, logger *slog.Logger) *Reaper {
	cfg = cfg.withDefaults()

	pending := ttlcache.New[string, time.Time](
		ttlcache.WithTTL[string, time.Time](cfg.GiveUpAfter),
		ttlcache.WithDisableTouchOnHit[string, time.Time](),
	)

	r := &Reaper{
		cache:   c,
		cfg:     cfg,
		logger:  logger,
		limiter: rate.NewLimiter(cfg.AttemptLimit, 1),
		pending: pending,
	}

	pending.OnEviction(func(ctx context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, time.Time]) {
		if reason != ttlcache.EvictionReasonExpired {
			return
		}
		metrics.abandonedCount.Add(ctx, 1)
		r.logger.WarnContext(
			ctx,
			"Giving up scheduled removal",
			"key", item.Key(),
			"scheduledAt", item.Value(),
		)
	})

	return r
}

// ScheduleRemoval queues key for removal on the next sweep
func (r *Reaper) ScheduleRemoval(key string) {
	if r.pending.Has(key) {
		return
	}
	r.pending.Set(key, time.Now(), ttlcache.DefaultTTL)
}

// Pending returns the number of scheduled removals not yet completed
func (r *Reaper) Pending() int {
	r.pending.DeleteExpired()
	return r.pending.Len()
}

func (r *Reaper) attempt(ctx context.Context, fn func() error) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("failed waiting for attempt limiter: %w", err)
	}
	err := fn()
	if errors.Is(err, cache.ErrLockTimeout) {
		metrics.lockTimeoutCount.Add(ctx, 1)
	}
	return err
}

// removePending returns the number of scheduled keys that were still in the table
func (r *Reaper) removePending(ctx context.Context) (int, error) {
	r.pending.DeleteExpired()

	removedCount := 0
	for _, key := range r.pending.Keys() {
		removed := false
		err := r.attempt(ctx, func() error {
			var err error
			removed, err = r.cache.Remove(ctx, key, r.cfg.RemovalTimeout)
			return err
		})
		if err != nil {
			return removedCount, fmt.Errorf("failed to remove %s: %w", key, err)
		}
		r.pending.Delete(key)
		if removed {
			removedCount++
			metrics.removedCount.Add(ctx, 1)
		}
	}
	return removedCount, nil
}

// Sweep runs one pass: scheduled removals first, then expiry of the whole table.
// A returned cache.ErrLockTimeout means the pass should be retried later.
func (r *Reaper) Sweep(ctx context.Context) error {
	ctx = logging.AddToContext(ctx, r.logger)

	scheduledRemoved, err := r.removePending(ctx)
	if err != nil {
		return err
	}

	var result cache.ReapResult
	err = r.attempt(ctx, func() error {
		var err error
		result, err = r.cache.RemoveExpired(ctx, r.cfg.RemovalTimeout)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to remove expired entries: %w", err)
	}

	metrics.demotedCount.Add(ctx, int64(result.Demoted))
	metrics.removedCount.Add(ctx, int64(result.Removed))

	r.logger.InfoContext(
		ctx,
		"Swept cache",
		"scheduledRemoved", scheduledRemoved,
		"demoted", result.Demoted,
		"removed", result.Removed,
		"remaining", result.Remaining,
	)
	return nil
}

// Run sweeps every interval until ctx is cancelled
func (r *Reaper) Run(ctx context.Context) error {
	timer := time.NewTimer(r.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		next := r.cfg.Interval
		err := r.Sweep(ctx)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, cache.ErrLockTimeout):
			r.logger.InfoContext(ctx, "Cache busy, retrying sweep later", "error", err.Error(), "retryIn", r.cfg.RetryDelay)
			next = r.cfg.RetryDelay
		default:
			r.logger.ErrorContext(ctx, "Failed to sweep cache", "error", err.Error())
		}

		timer.Reset(next)
	}
}
