package cache

import (
	"sync"
	"sync/atomic"
	"time"
	"weak"
)

// entry holds the weak/strong reference pair for a single key.
//
// The weak reference is always set before the strong one, so whenever strong
// holds a value, weak resolves to the same pointer.
type entry[T any] struct {
	weak         atomic.Pointer[weak.Pointer[T]]
	strong       atomic.Pointer[T]
	lastAccessed atomic.Int64

	// Serializes creation
	mu sync.Mutex
}

type entryState struct {
	lastAccessed time.Time
	strongHeld   bool
	alive        bool
}

func newEntry[T any](now time.Time) *entry[T] {
	e := &entry[T]{}
	e.touch(now)
	return e
}

func (e *entry[T]) touch(now time.Time) {
	e.lastAccessed.Store(now.UnixNano())
}

// resolve returns the strong value if held, otherwise the weak value if it is
// still alive. A weak hit is promoted back into the strong slot.
func (e *entry[T]) resolve() *T {
	if value := e.strong.Load(); value != nil {
		return value
	}

	wp := e.weak.Load()
	if wp == nil {
		return nil
	}

	value := wp.Value()
	if value == nil {
		return nil
	}

	if !e.strong.CompareAndSwap(nil, value) {
		// Someone else filled the strong slot. The only writers are promotions
		// of this same weak value and creations, which only happen once the weak
		// value is dead, so prefer what is stored.
		if stored := e.strong.Load(); stored != nil {
			return stored
		}
	}
	return value
}

// Returns value, created, recoveredFromWeak, error
//
// recoveredFromWeak is best effort: two callers racing on an entry with an
// empty strong slot may both report it.
//
// create must not call back into this entry, that would deadlock.
func (e *entry[T]) getOrCreate(create func() (*T, error), now time.Time) (*T, bool, bool, error) {
	e.touch(now)

	strongWasEmpty := e.strong.Load() == nil
	if value := e.resolve(); value != nil {
		return value, false, strongWasEmpty, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Someone may have created it while we waited for the lock
	if value := e.resolve(); value != nil {
		return value, false, false, nil
	}

	value, err := create()
	if err != nil {
		return nil, false, false, err
	}
	if value == nil {
		return nil, false, false, ErrNilValue
	}

	wp := weak.Make(value)
	e.weak.Store(&wp)
	e.strong.Store(value)

	return value, true, false, nil
}

// demote drops the strong reference. Returns true if one was held.
func (e *entry[T]) demote() bool {
	return e.strong.Swap(nil) != nil
}

func (e *entry[T]) alive() bool {
	if e.strong.Load() != nil {
		return true
	}
	wp := e.weak.Load()
	return wp != nil && wp.Value() != nil
}

func (e *entry[T]) state() entryState {
	return entryState{
		lastAccessed: time.Unix(0, e.lastAccessed.Load()),
		strongHeld:   e.strong.Load() != nil,
		alive:        e.alive(),
	}
}
