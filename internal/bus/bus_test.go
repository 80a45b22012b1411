package bus

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestBusDispatchByEntityAndWildcard(t *testing.T) {
	b := New()
	go b.Run(context.Background())

	var mu sync.Mutex
	var got []string

	b.AddEventListener(EventOutput, "relay.one", "l1", func(e Event) {
		mu.Lock()
		got = append(got, "specific:"+e.EntityID)
		mu.Unlock()
	})
	b.AddEventListener(EventOutput, wildcardEntity, "l2", func(e Event) {
		mu.Lock()
		got = append(got, "wildcard:"+e.EntityID)
		mu.Unlock()
	})

	b.Trigger(Event{Type: EventOutput, EntityID: "relay.one"})
	b.Trigger(Event{Type: EventOutput, EntityID: "relay.two"})

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 3 {
		t.Fatalf("expected 3 deliveries (1 specific + 2 wildcard), got %v", got)
	}
}

func TestBusRemoveEventListenerClearsAllSubscriptions(t *testing.T) {
	b := New()
	go b.Run(context.Background())

	calls := 0
	var mu sync.Mutex
	b.AddEventListener(EventInput, "btn.a", "conn1", func(Event) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	b.AddEventListener(EventCover, "cover.a", "conn1", func(Event) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	b.RemoveEventListener(nil, nil, "conn1")

	b.Trigger(Event{Type: EventInput, EntityID: "btn.a"})
	b.Trigger(Event{Type: EventCover, EntityID: "cover.a"})
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if calls != 0 {
		t.Fatalf("expected no deliveries after removing all of conn1's subscriptions, got %d", calls)
	}
}

func TestBusListenerPanicDoesNotStopDispatch(t *testing.T) {
	b := New()
	go b.Run(context.Background())

	delivered := make(chan struct{}, 1)
	b.AddEventListener(EventSensor, "a", "panicker", func(Event) {
		panic("boom")
	})
	b.AddEventListener(EventSensor, "a", "survivor", func(Event) {
		delivered <- struct{}{}
	})

	b.Trigger(Event{Type: EventSensor, EntityID: "a"})

	select {
	case <-delivered:
	case <-time.After(time.Second):
		t.Fatal("survivor listener was never called after the panicking listener ran")
	}
}

func TestRunPeriodicGrowsIntervalOnRepeatedFailures(t *testing.T) {
	var mu sync.Mutex
	var intervals []time.Duration
	last := time.Now()

	ctx, cancel := context.WithCancel(context.Background())
	offlineCalled := make(chan struct{}, 1)

	calls := 0
	go RunPeriodic(ctx, 5*time.Millisecond, func(now time.Time) bool {
		mu.Lock()
		intervals = append(intervals, now.Sub(last))
		last = now
		calls++
		done := calls >= 4
		mu.Unlock()
		if done {
			cancel()
		}
		return false
	}, func() {
		select {
		case offlineCalled <- struct{}{}:
		default:
		}
	})

	<-ctx.Done()
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(intervals) < 2 {
		t.Fatalf("expected multiple ticks, got %d", len(intervals))
	}
	// each failing tick should grow the interval by x1.5 over the previous.
	if intervals[1] <= intervals[0] {
		t.Fatalf("expected growing interval, got %v then %v", intervals[0], intervals[1])
	}
}
