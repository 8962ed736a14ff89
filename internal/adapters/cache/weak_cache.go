package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Amund211/weakcache/internal/logging"
	"golang.org/x/sync/semaphore"
)

// Give up acquiring the exclusive table lock after this long by default
const DefaultRemovalTimeout = 1 * time.Second

// Weight of the exclusive hold on the table lock. Shared holds weigh 1.
const exclusiveWeight int64 = math.MaxInt64

var (
	ErrLockTimeout       = errors.New("timed out waiting for exclusive table lock")
	ErrInvalidLifetime   = errors.New("rolling lifetime must be positive")
	ErrNilValue          = errors.New("factory returned a nil value")
	ErrUnknownEvent      = errors.New("unknown event")
	ErrInvalidSubscriber = errors.New("invalid subscriber")
)

// EntryState is a point-in-time view of one cache entry
type EntryState struct {
	Key          string
	LastAccessed time.Time
	// The entry holds a strong reference, keeping the value alive
	StrongHeld bool
	// The value is still reachable, either strongly or through the weak reference
	Alive bool
}

type ReapResult struct {
	Demoted   int
	Removed   int
	Remaining int
}

// Cache keys *T values by string. Values are kept alive by the cache for the
// rolling lifetime after their last access, and after that only as long as
// something else in the program holds them.
//
// Each instance is completely separate, make sure you use one instance per
// logical cache.
type Cache[T any] struct {
	entries sync.Map // string -> *entry[T]

	// Shared holds for lookups, exclusive hold for removing entries from the table
	removalLock *semaphore.Weighted

	rollingLifetime time.Duration
	nowFunc         func() time.Time
	logger          *slog.Logger
	notifier        *notifier
}

// New creates a new cache. rollingLifetime is how long entries keep a strong
// reference after they were last accessed. It is enforced by RemoveExpired.
func New[T any](rollingLifetime time.Duration, options ...Option) (*Cache[T], error) {
	if rollingLifetime <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidLifetime, rollingLifetime)
	}

	opts, err := getOpts(options)
	if err != nil {
		return nil, err
	}

	return &Cache[T]{
		removalLock:     semaphore.NewWeighted(exclusiveWeight),
		rollingLifetime: rollingLifetime,
		nowFunc:         opts.nowFunc,
		logger:          opts.logger,
		notifier:        newNotifier(opts.onPanic),
	}, nil
}

func (c *Cache[T]) loggerFor(ctx context.Context) *slog.Logger {
	if c.logger != nil {
		return c.logger
	}
	return logging.FromContext(ctx).With("component", "cache")
}

func (c *Cache[T]) RollingLifetime() time.Duration {
	return c.rollingLifetime
}

// GetOrCreate returns the value stored for key, calling create if there is no
// live value. Concurrent calls for the same key call create at most once and
// all receive the same value.
//
// Errors from create are returned as is and nothing is stored, so a later call
// will try again. create must not call GetOrCreate for the same key.
func (c *Cache[T]) GetOrCreate(ctx context.Context, key string, create func() (*T, error)) (*T, error) {
	// Lookups are not cancellable, ctx is only used for logging and notifications
	if err := c.removalLock.Acquire(context.WithoutCancel(ctx), 1); err != nil {
		return nil, fmt.Errorf("failed to acquire table lock: %w", err)
	}
	defer c.removalLock.Release(1)

	now := c.nowFunc()

	e, ok := c.entries.Load(key)
	if !ok {
		e, _ = c.entries.LoadOrStore(key, newEntry[T](now))
	}

	value, created, recoveredFromWeak, err := e.(*entry[T]).getOrCreate(create, now)
	if err != nil {
		return nil, err
	}

	if created {
		c.loggerFor(ctx).DebugContext(ctx, "Getting cache entry", "cache", "miss")
		c.notifier.notify(ctx, EventMiss)
	} else {
		c.loggerFor(ctx).DebugContext(ctx, "Getting cache entry", "cache", "hit")
		c.notifier.notify(ctx, EventHit)
	}

	if recoveredFromWeak {
		c.notifier.notify(ctx, EventWeakHit)
	}

	return value, nil
}

// Subscribe registers fn to be called synchronously every time event fires.
// A panicking subscriber is recovered and handed to the panic handler.
//
// The returned function removes the subscription. It is safe to call more than once.
func (c *Cache[T]) Subscribe(event Event, fn func()) (func(), error) {
	return c.notifier.subscribe(event, fn)
}

func (c *Cache[T]) Len() int {
	count := 0
	c.entries.Range(func(_, _ any) bool {
		count++
		return true
	})
	return count
}

// Snapshot returns the state of every entry, ordered by key
func (c *Cache[T]) Snapshot() []EntryState {
	// Acquire only fails when the context is done, Background never is
	_ = c.removalLock.Acquire(context.Background(), 1)
	defer c.removalLock.Release(1)

	states := []EntryState{}
	c.entries.Range(func(key, value any) bool {
		state := value.(*entry[T]).state()
		states = append(states, EntryState{
			Key:          key.(string),
			LastAccessed: state.lastAccessed,
			StrongHeld:   state.strongHeld,
			Alive:        state.alive,
		})
		return true
	})

	slices.SortFunc(states, func(a, b EntryState) int {
		return strings.Compare(a.Key, b.Key)
	})
	return states
}

// Demote drops the strong reference held for key, leaving only the weak one.
// Returns true if a strong reference was dropped.
func (c *Cache[T]) Demote(key string) bool {
	e, ok := c.entries.Load(key)
	if !ok {
		return false
	}
	return e.(*entry[T]).demote()
}

func (c *Cache[T]) lockExclusive(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultRemovalTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := c.removalLock.Acquire(ctx, exclusiveWeight); err != nil {
		return fmt.Errorf("%w: %w", ErrLockTimeout, err)
	}
	return nil
}

// Remove deletes the entry for key and reports whether there was one. If the
// exclusive table lock can't be acquired within timeout, ErrLockTimeout is
// returned and nothing is removed.
func (c *Cache[T]) Remove(ctx context.Context, key string, timeout time.Duration) (bool, error) {
	if err := c.lockExclusive(ctx, timeout); err != nil {
		return false, err
	}
	defer c.removalLock.Release(exclusiveWeight)

	_, removed := c.entries.LoadAndDelete(key)
	return removed, nil
}

// RemoveExpired drops the strong reference of every entry that has not been
// accessed for the rolling lifetime, and removes entries whose value is gone.
//
// If the exclusive table lock can't be acquired within timeout,
// ErrLockTimeout is returned and nothing is changed. Try again later.
func (c *Cache[T]) RemoveExpired(ctx context.Context, timeout time.Duration) (ReapResult, error) {
	if err := c.lockExclusive(ctx, timeout); err != nil {
		return ReapResult{}, err
	}
	defer c.removalLock.Release(exclusiveWeight)

	now := c.nowFunc()
	result := ReapResult{}

	c.entries.Range(func(key, value any) bool {
		e := value.(*entry[T])
		state := e.state()

		if state.strongHeld && now.Sub(state.lastAccessed) >= c.rollingLifetime {
			if e.demote() {
				result.Demoted++
			}
		}

		if !e.alive() {
			c.entries.Delete(key)
			result.Removed++
			return true
		}

		result.Remaining++
		return true
	})

	c.loggerFor(ctx).DebugContext(
		ctx,
		"Removed expired cache entries",
		"demoted", result.Demoted,
		"removed", result.Removed,
		"remaining", result.Remaining,
	)

	return result, nil
}
