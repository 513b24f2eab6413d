package events

import (
	"sync"
	"testing"
	"time"
)

// recv pulls one event or fails the test after a second.
func recv(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestBus_NilSafe(t *testing.T) {
	var b *Bus
	// Neither call may panic on a nil bus.
	b.Publish(Event{Source: SourceAgent, Kind: KindRequestStart})
	if got := b.SubscriberCount(); got != 0 {
		t.Errorf("SubscriberCount() on nil bus = %d, want 0", got)
	}
}

func TestBus_DeliversToSubscriber(t *testing.T) {
	b := New()
	ch := b.Subscribe(8)
	defer b.Unsubscribe(ch)

	b.Publish(Event{
		Timestamp: time.Now(),
		Source:    SourceAgent,
		Kind:      KindRequestStart,
		Data:      map[string]any{"request_id": "r_abc"},
	})

	got := recv(t, ch)
	if got.Source != SourceAgent || got.Kind != KindRequestStart {
		t.Errorf("got %s/%s, want %s/%s", got.Source, got.Kind, SourceAgent, KindRequestStart)
	}
	if id, _ := got.Data["request_id"].(string); id != "r_abc" {
		t.Errorf("request_id = %v, want r_abc", got.Data["request_id"])
	}
}

func TestBus_FanOut(t *testing.T) {
	b := New()
	const n = 5
	channels := make([]<-chan Event, n)
	for i := range n {
		channels[i] = b.Subscribe(8)
	}
	defer func() {
		for _, ch := range channels {
			b.Unsubscribe(ch)
		}
	}()

	b.Publish(Event{Source: SourceTelegram, Kind: KindMessageReceived})

	for i, ch := range channels {
		got := recv(t, ch)
		if got.Kind != KindMessageReceived {
			t.Errorf("subscriber %d got kind %q", i, got.Kind)
		}
	}
}

func TestBus_DropsWhenSubscriberFull(t *testing.T) {
	b := New()
	ch := b.Subscribe(1)
	defer b.Unsubscribe(ch)

	b.Publish(Event{Kind: "first"})
	b.Publish(Event{Kind: "second"})

	if got := recv(t, ch); got.Kind != "first" {
		t.Errorf("got kind %q, want first", got.Kind)
	}
	select {
	case evt := <-ch:
		t.Errorf("overflow event should have been dropped, got %v", evt)
	default:
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	b := New()
	ch := b.Subscribe(8)

	b.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after Unsubscribe")
	}

	// A second Unsubscribe and a Publish into the now-empty bus are
	// both no-ops, not panics.
	b.Unsubscribe(ch)
	b.Publish(Event{Source: SourceScheduler, Kind: KindTaskFired})
}

func TestBus_SubscriberCount(t *testing.T) {
	b := New()
	if got := b.SubscriberCount(); got != 0 {
		t.Fatalf("fresh bus count = %d, want 0", got)
	}

	ch1 := b.Subscribe(4)
	ch2 := b.Subscribe(4)
	if got := b.SubscriberCount(); got != 2 {
		t.Errorf("count = %d, want 2", got)
	}

	b.Unsubscribe(ch1)
	b.Unsubscribe(ch2)
	if got := b.SubscriberCount(); got != 0 {
		t.Errorf("count after unsubscribes = %d, want 0", got)
	}
}

func TestBus_ConcurrentPublishers(t *testing.T) {
	b := New()
	ch := b.Subscribe(64)

	var drained sync.WaitGroup
	drained.Add(1)
	go func() {
		defer drained.Done()
		// Drain until close. Drops are fine; the point is that
		// concurrent publishes never race or deadlock.
		for range ch {
		}
	}()

	var pubs sync.WaitGroup
	for i := range 10 {
		pubs.Add(1)
		go func() {
			defer pubs.Done()
			for j := range 100 {
				b.Publish(Event{
					Timestamp: time.Now(),
					Source:    SourceAgent,
					Kind:      KindToolCall,
					Data:      map[string]any{"publisher": i, "seq": j},
				})
			}
		}()
	}

	pubs.Wait()
	b.Unsubscribe(ch)
	drained.Wait()
}
