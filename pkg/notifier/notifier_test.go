package notifier

import (
	"sync"
	"testing"
	"time"
)

func TestSubscribeReceivesMatchingEvent(t *testing.T) {
	n := New()
	sub := n.Subscribe(Filter{IncidentID: "inc-1"}, DropOldest)

	n.Publish(Event{Type: EventProposalReady, IncidentID: "inc-1"})
	n.Publish(Event{Type: EventProposalReady, IncidentID: "inc-2"})

	select {
	case e := <-sub.Events():
		if e.IncidentID != "inc-1" {
			t.Errorf("IncidentID = %q, want inc-1", e.IncidentID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	select {
	case e := <-sub.Events():
		t.Fatalf("unexpected second event delivered: %+v", e)
	default:
	}
}

func TestPublishPreservesFIFOOrderPerSubscription(t *testing.T) {
	n := New(WithBufferSize(10))
	sub := n.Subscribe(Filter{}, DropOldest)

	for i := 0; i < 5; i++ {
		n.Publish(Event{Type: EventStatusChanged, IncidentID: string(rune('a' + i))})
	}

	for i := 0; i < 5; i++ {
		e := <-sub.Events()
		want := string(rune('a' + i))
		if e.IncidentID != want {
			t.Fatalf("event %d IncidentID = %q, want %q", i, e.IncidentID, want)
		}
	}
}

func TestDropOldestEvictsOldestOnOverflow(t *testing.T) {
	n := New(WithBufferSize(2))
	sub := n.Subscribe(Filter{}, DropOldest)

	n.Publish(Event{Type: EventStatusChanged, IncidentID: "1"})
	n.Publish(Event{Type: EventStatusChanged, IncidentID: "2"})
	n.Publish(Event{Type: EventStatusChanged, IncidentID: "3"})

	first := <-sub.Events()
	second := <-sub.Events()
	if first.IncidentID != "2" || second.IncidentID != "3" {
		t.Errorf("got %q, %q, want 2, 3 (oldest dropped)", first.IncidentID, second.IncidentID)
	}
}

func TestDropNewestKeepsQueueOnOverflow(t *testing.T) {
	n := New(WithBufferSize(2))
	sub := n.Subscribe(Filter{}, DropNewest)

	n.Publish(Event{Type: EventStatusChanged, IncidentID: "1"})
	n.Publish(Event{Type: EventStatusChanged, IncidentID: "2"})
	n.Publish(Event{Type: EventStatusChanged, IncidentID: "3"})

	first := <-sub.Events()
	second := <-sub.Events()
	if first.IncidentID != "1" || second.IncidentID != "2" {
		t.Errorf("got %q, %q, want 1, 2 (newest dropped)", first.IncidentID, second.IncidentID)
	}
}

func TestBlockPolicyBlocksPublisherThenFallsBackToDropOldest(t *testing.T) {
	n := New(WithBufferSize(2), WithBlockTimeout(50*time.Millisecond))
	sub := n.Subscribe(Filter{}, Block)

	n.Publish(Event{Type: EventStatusChanged, IncidentID: "0"})
	n.Publish(Event{Type: EventStatusChanged, IncidentID: "1"})

	var wg sync.WaitGroup
	wg.Add(1)
	start := time.Now()
	go func() {
		defer wg.Done()
		n.Publish(Event{Type: EventStatusChanged, IncidentID: "2"})
	}()
	wg.Wait()
	elapsed := time.Since(start)
	if elapsed < 50*time.Millisecond {
		t.Errorf("Publish() returned after %v, want >= block timeout", elapsed)
	}

	first := <-sub.Events()
	if first.IncidentID != "2" {
		t.Errorf("IncidentID = %q, want 2 (oldest dropped after block timeout)", first.IncidentID)
	}
	second := <-sub.Events()
	if second.Type != EventOverflowWarning {
		t.Errorf("second event type = %q, want overflow_warning", second.Type)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	n := New()
	sub := n.Subscribe(Filter{}, DropOldest)
	n.Unsubscribe(sub)

	_, ok := <-sub.Events()
	if ok {
		t.Error("Events() channel still open after Unsubscribe")
	}
}

func TestDisconnectedSubscriptionExpiresAfterGracePeriod(t *testing.T) {
	n := New(WithGracePeriod(20 * time.Millisecond))
	sub := n.Subscribe(Filter{}, DropOldest)
	n.Disconnect(sub)

	time.Sleep(30 * time.Millisecond)
	n.Publish(Event{Type: EventStatusChanged, IncidentID: "1"})

	n.mu.RLock()
	_, stillExists := n.subs[sub.ID()]
	n.mu.RUnlock()
	if stillExists {
		t.Error("subscription still registered after its grace period elapsed")
	}
}

func TestFilterByEventType(t *testing.T) {
	n := New()
	sub := n.Subscribe(Filter{Types: []EventType{EventProposalReady}}, DropOldest)

	n.Publish(Event{Type: EventStatusChanged, IncidentID: "1"})
	n.Publish(Event{Type: EventProposalReady, IncidentID: "2"})

	e := <-sub.Events()
	if e.Type != EventProposalReady || e.IncidentID != "2" {
		t.Errorf("got %+v, want only the proposal_ready event", e)
	}
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Notify(e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func TestSinkReceivesEveryPublishedEvent(t *testing.T) {
	sink := &recordingSink{}
	n := New(WithSink(sink))

	n.Publish(Event{Type: EventProposalReady, IncidentID: "1"})
	n.Publish(Event{Type: EventStatusChanged, IncidentID: "2"})

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.events) != 2 {
		t.Fatalf("sink received %d events, want 2", len(sink.events))
	}
}
