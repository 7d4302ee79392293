package eventbus

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"zappy-ai/internal/domain"
)

func newTestBus() *Bus {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)), 0)
}

func newEvent(t domain.EventType) domain.Event {
	return domain.Event{Type: t, Timestamp: time.Now()}
}

func TestPublishSubscribe(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	bus.Subscribe(domain.EventAgentLevel, func(_ context.Context, e domain.Event) {
		if e.Type == domain.EventAgentLevel {
			got.Add(1)
		}
	})

	bus.Publish(context.Background(), newEvent(domain.EventAgentLevel))
	bus.Publish(context.Background(), newEvent(domain.EventAgentDead))
	bus.Close() // drain
	if got.Load() != 1 {
		t.Fatalf("expected 1, got %d", got.Load())
	}
}

func TestSubscribeAll(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	bus.SubscribeAll(func(_ context.Context, _ domain.Event) {
		got.Add(1)
	})

	bus.Publish(context.Background(), newEvent(domain.EventConnectionState))
	bus.Publish(context.Background(), newEvent(domain.EventSessionEstablished))
	bus.Close()

	if got.Load() != 2 {
		t.Fatalf("expected 2, got %d", got.Load())
	}
}

func TestDeliveryIsOrderedPerSubscriber(t *testing.T) {
	bus := newTestBus()

	var mu sync.Mutex
	var states []string
	bus.Subscribe(domain.EventConnectionState, func(_ context.Context, e domain.Event) {
		mu.Lock()
		states = append(states, e.SessionID)
		mu.Unlock()
	})

	want := []string{"connecting", "handshaking", "active", "closing", "disconnected"}
	for _, s := range want {
		ev := newEvent(domain.EventConnectionState)
		ev.SessionID = s
		bus.Publish(context.Background(), ev)
	}
	bus.Close()

	if len(states) != len(want) {
		t.Fatalf("got %v", states)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("order mismatch: got %v, want %v", states, want)
		}
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	unsub := bus.Subscribe(domain.EventAgentLoop, func(_ context.Context, _ domain.Event) {
		got.Add(1)
	})
	unsub()
	unsub() // idempotent

	bus.Publish(context.Background(), newEvent(domain.EventAgentLoop))
	bus.Close()

	if got.Load() != 0 {
		t.Fatalf("expected no delivery after unsubscribe, got %d", got.Load())
	}
}

func TestConcurrentPublish(t *testing.T) {
	bus := New(slog.New(slog.NewTextHandler(io.Discard, nil)), 128)

	var got atomic.Int32
	bus.Subscribe(domain.EventAgentLevel, func(_ context.Context, _ domain.Event) {
		got.Add(1)
	})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Publish(context.Background(), newEvent(domain.EventAgentLevel))
		}()
	}
	wg.Wait()
	bus.Close()

	if got.Load() != 100 {
		t.Fatalf("expected 100, got %d", got.Load())
	}
}

func TestFullMailboxDrops(t *testing.T) {
	bus := New(slog.New(slog.NewTextHandler(io.Discard, nil)), 1)

	release := make(chan struct{})
	var got atomic.Int32
	bus.Subscribe(domain.EventAgentLevel, func(_ context.Context, _ domain.Event) {
		<-release
		got.Add(1)
	})

	start := time.Now()
	for i := 0; i < 10; i++ {
		bus.Publish(context.Background(), newEvent(domain.EventAgentLevel))
	}
	if time.Since(start) > time.Second {
		t.Fatal("Publish blocked on a slow subscriber")
	}
	close(release)
	bus.Close()

	if bus.Dropped() == 0 {
		t.Fatal("expected dropped deliveries")
	}
	if int(got.Load())+int(bus.Dropped()) != 10 {
		t.Fatalf("delivered %d + dropped %d != 10", got.Load(), bus.Dropped())
	}
}

func TestPanicRecovery(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	bus.Subscribe(domain.EventAgentDead, func(_ context.Context, _ domain.Event) {
		panic("boom")
	})
	bus.Subscribe(domain.EventAgentDead, func(_ context.Context, _ domain.Event) {
		got.Add(1)
	})

	bus.Publish(context.Background(), newEvent(domain.EventAgentDead))
	bus.Publish(context.Background(), newEvent(domain.EventAgentDead))
	bus.Close()

	if got.Load() != 2 {
		t.Fatalf("expected 2 (second handler), got %d", got.Load())
	}
}

func TestCloseDrainsAndRejectsNew(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	bus.Subscribe(domain.EventAgentLevel, func(_ context.Context, _ domain.Event) {
		time.Sleep(50 * time.Millisecond)
		got.Add(1)
	})

	bus.Publish(context.Background(), newEvent(domain.EventAgentLevel))
	bus.Close() // should block until the handler finishes

	if got.Load() != 1 {
		t.Fatalf("expected handler to have run, got %d", got.Load())
	}

	bus.Publish(context.Background(), newEvent(domain.EventAgentLevel))
	bus.Subscribe(domain.EventAgentLevel, func(_ context.Context, _ domain.Event) { got.Add(1) })()
	bus.Close()
	if got.Load() != 1 {
		t.Fatalf("expected no delivery after close, got %d", got.Load())
	}
}

func TestHandlerContextOutlivesPublisher(t *testing.T) {
	bus := newTestBus()

	errs := make(chan error, 1)
	bus.Subscribe(domain.EventAgentDead, func(ctx context.Context, _ domain.Event) {
		errs <- ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	bus.Publish(ctx, newEvent(domain.EventAgentDead))
	cancel()
	bus.Close()

	if err := <-errs; err != nil {
		t.Fatalf("handler saw cancelled context: %v", err)
	}
}
