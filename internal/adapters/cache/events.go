package cache

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
)

type Event int

const (
	// The value was found in the cache
	EventHit Event = iota
	// The value was created by the factory
	EventMiss
	// The value was only reachable through the weak reference and was promoted
	// back to a strong reference. May be over-reported under races.
	EventWeakHit
)

func (e Event) String() string {
	switch e {
	case EventHit:
		return "hit"
	case EventMiss:
		return "miss"
	case EventWeakHit:
		return "weak_hit"
	}
	return fmt.Sprintf("Event(%d)", int(e))
}

const numEvents = int(EventWeakHit) + 1

// PanicHandler is called when a subscriber panics. It must not panic itself.
type PanicHandler func(ctx context.Context, event Event, recovered any)

type subscriber struct {
	id int64
	fn func()
}

// notifier holds a copy-on-write subscriber list per event so dispatch never
// takes a lock.
type notifier struct {
	subscribers [numEvents]atomic.Pointer[[]subscriber]
	writeLock   sync.Mutex
	nextID      int64
	onPanic     PanicHandler
}

func newNotifier(onPanic PanicHandler) *notifier {
	return &notifier{onPanic: onPanic}
}

func (n *notifier) subscribe(event Event, fn func()) (func(), error) {
	if event < 0 || int(event) >= len(n.subscribers) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, event)
	}
	if fn == nil {
		return nil, fmt.Errorf("%w: nil subscriber", ErrInvalidSubscriber)
	}

	n.writeLock.Lock()
	defer n.writeLock.Unlock()

	n.nextID++
	id := n.nextID

	var current []subscriber
	if old := n.subscribers[event].Load(); old != nil {
		current = *old
	}
	updated := append(slices.Clone(current), subscriber{id: id, fn: fn})
	n.subscribers[event].Store(&updated)

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			n.unsubscribe(event, id)
		})
	}
	return unsubscribe, nil
}

func (n *notifier) unsubscribe(event Event, id int64) {
	n.writeLock.Lock()
	defer n.writeLock.Unlock()

	old := n.subscribers[event].Load()
	if old == nil {
		return
	}
	updated := slices.DeleteFunc(slices.Clone(*old), func(s subscriber) bool {
		return s.id == id
	})
	n.subscribers[event].Store(&updated)
}

func (n *notifier) notify(ctx context.Context, event Event) {
	current := n.subscribers[event].Load()
	if current == nil {
		return
	}
	for _, s := range *current {
		n.call(ctx, event, s.fn)
	}
}

func (n *notifier) call(ctx context.Context, event Event, fn func()) {
	defer func() {
		if recovered := recover(); recovered != nil {
			n.onPanic(ctx, event, recovered)
		}
	}()
	fn()
}
