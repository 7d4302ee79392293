package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"zappy-ai/internal/domain"
)

// DefaultMailbox is the per-subscriber queue length used when New is given
// a non-positive size.
const DefaultMailbox = 64

type delivery struct {
	ctx   context.Context
	event domain.Event
}

type subscription struct {
	id      uint64
	mailbox chan delivery
}

// Bus is an in-process, goroutine-safe event bus. Every subscriber owns a
// bounded mailbox drained by its own goroutine, so a subscriber sees events
// in publish order and Publish never blocks: when a mailbox is full the event
// is dropped for that subscriber and counted.
type Bus struct {
	mu      sync.RWMutex
	typed   map[domain.EventType][]subscription
	allSubs []subscription
	nextID  atomic.Uint64
	dropped atomic.Uint64
	size    int
	logger  *slog.Logger
	wg      sync.WaitGroup
	closed  atomic.Bool
}

// New creates an event bus with mailboxes of the given size.
func New(logger *slog.Logger, mailbox int) *Bus {
	if mailbox <= 0 {
		mailbox = DefaultMailbox
	}
	return &Bus{
		typed:  make(map[domain.EventType][]subscription),
		size:   mailbox,
		logger: logger,
	}
}

// Publish queues an event for matching typed subscribers and all-event
// subscribers.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	if b.closed.Load() {
		return
	}
	d := delivery{ctx: context.WithoutCancel(ctx), event: event}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.typed[event.Type] {
		b.offer(sub, d)
	}
	for _, sub := range b.allSubs {
		b.offer(sub, d)
	}
}

func (b *Bus) offer(sub subscription, d delivery) {
	select {
	case sub.mailbox <- d:
	default:
		b.dropped.Add(1)
		b.logger.Warn("event dropped, subscriber mailbox full",
			"event", string(d.event.Type),
			"subscriber", sub.id,
		)
	}
}

// Dropped returns how many deliveries were discarded because a mailbox was full.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

func (b *Bus) start(handler domain.EventHandler) subscription {
	sub := subscription{id: b.nextID.Add(1), mailbox: make(chan delivery, b.size)}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for d := range sub.mailbox {
			b.invoke(handler, d)
		}
	}()
	return sub
}

func (b *Bus) invoke(handler domain.EventHandler, d delivery) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event", string(d.event.Type),
				"panic", r,
			)
		}
	}()
	handler(d.ctx, d.event)
}

// Subscribe registers a handler for a specific event type.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType domain.EventType, handler domain.EventHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed.Load() {
		return func() {}
	}
	sub := b.start(handler)
	b.typed[eventType] = append(b.typed[eventType], sub)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.typed[eventType] = remove(b.typed[eventType], sub.id)
	}
}

// SubscribeAll registers a handler that receives every event.
// Returns an unsubscribe function.
func (b *Bus) SubscribeAll(handler domain.EventHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed.Load() {
		return func() {}
	}
	sub := b.start(handler)
	b.allSubs = append(b.allSubs, sub)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.allSubs = remove(b.allSubs, sub.id)
	}
}

// remove drops the subscription with id from subs and closes its mailbox.
// Callers hold b.mu.
func remove(subs []subscription, id uint64) []subscription {
	for i, s := range subs {
		if s.id == id {
			close(s.mailbox)
			return append(subs[:i], subs[i+1:]...)
		}
	}
	return subs
}

// Close prevents new publishes and waits until every queued event has been
// handled. Close is idempotent and safe to call multiple times.
func (b *Bus) Close() {
	if b.closed.Swap(true) {
		return
	}
	b.mu.Lock()
	for _, subs := range b.typed {
		for _, s := range subs {
			close(s.mailbox)
		}
	}
	for _, s := range b.allSubs {
		close(s.mailbox)
	}
	b.typed = make(map[domain.EventType][]subscription)
	b.allSubs = nil
	b.mu.Unlock()
	b.wg.Wait()
}
