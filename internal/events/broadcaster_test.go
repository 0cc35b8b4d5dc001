package events

import (
	"testing"
	"time"
)

func TestSubscribeUnsubscribe(t *testing.T) {
	// Start with no subscribers
	initial := SubscriberCount()

	sub1 := Subscribe()
	if SubscriberCount() != initial+1 {
		t.Errorf("expected %d subscribers after first subscribe, got %d", initial+1, SubscriberCount())
	}

	sub2 := Subscribe()
	if SubscriberCount() != initial+2 {
		t.Errorf("expected %d subscribers after second subscribe, got %d", initial+2, SubscriberCount())
	}

	Unsubscribe(sub1)
	if SubscriberCount() != initial+1 {
		t.Errorf("expected %d subscribers after unsubscribe, got %d", initial+1, SubscriberCount())
	}

	Unsubscribe(sub2)
	if SubscriberCount() != initial {
		t.Errorf("expected %d subscribers after all unsubscribed, got %d", initial, SubscriberCount())
	}
}

func TestBroadcastToSubscribers(t *testing.T) {
	sub := Subscribe()
	defer Unsubscribe(sub)

	// Emit an event
	Emit("info", "engine.query", "test", map[string]interface{}{"query": "explore_state"})

	// Should receive the event
	select {
	case e := <-sub:
		if e.Name != "engine.query" {
			t.Errorf("expected event name 'node.started', got '%s'", e.Name)
		}
		if e.Fields["query"] != "explore_state" {
			t.Errorf("expected query 'explore_state', got '%v'", e.Fields["query"])
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("timeout waiting for broadcast event")
	}
}

func TestRecentEvents(t *testing.T) {
	Clear()

	// Emit some events
	for i := 0; i < 10; i++ {
		Emit("info", "engine.query", "", map[string]interface{}{"i": i})
	}

	// Get recent 5
	recent := RecentEvents(5)
	if len(recent) != 5 {
		t.Errorf("expected 5 recent events, got %d", len(recent))
	}

	// First recent event should be i=5 (the 6th event, since we're getting last 5)
	if recent[0].Fields["i"] != 5 {
		t.Errorf("expected first recent event i=5, got %v", recent[0].Fields["i"])
	}

	// Get more than available
	all := RecentEvents(100)
	if len(all) != 10 {
		t.Errorf("expected 10 events when requesting 100, got %d", len(all))
	}

	// Get 0 should return all
	zero := RecentEvents(0)
	if len(zero) != 10 {
		t.Errorf("expected 10 events when requesting 0, got %d", len(zero))
	}
}

func TestMultipleSubscribersReceiveEvents(t *testing.T) {
	sub1 := Subscribe()
	sub2 := Subscribe()
	defer Unsubscribe(sub1)
	defer Unsubscribe(sub2)

	Emit("info", "modelcheck.started", "", map[string]interface{}{"job_id": "job-1"})

	// Both should receive
	select {
	case e := <-sub1:
		if e.Name != "modelcheck.started" {
			t.Errorf("sub1: expected 'modelcheck.started', got '%s'", e.Name)
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("sub1: timeout waiting for event")
	}

	select {
	case e := <-sub2:
		if e.Name != "modelcheck.started" {
			t.Errorf("sub2: expected 'modelcheck.started', got '%s'", e.Name)
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("sub2: timeout waiting for event")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	sub := Subscribe()
	Unsubscribe(sub)

	// Channel should be closed
	_, ok := <-sub
	if ok {
		t.Error("expected channel to be closed after unsubscribe")
	}
}

func TestCloseAllSubscribers(t *testing.T) {
	// Clear any existing subscribers
	CloseAllSubscribers()

	// Create multiple subscribers
	sub1 := Subscribe()
	sub2 := Subscribe()
	sub3 := Subscribe()

	if SubscriberCount() != 3 {
		t.Errorf("expected 3 subscribers, got %d", SubscriberCount())
	}

	// Close all subscribers
	CloseAllSubscribers()

	// All channels should be closed
	_, ok1 := <-sub1
	_, ok2 := <-sub2
	_, ok3 := <-sub3

	if ok1 || ok2 || ok3 {
		t.Error("expected all channels to be closed")
	}

	// Subscriber count should be 0
	if SubscriberCount() != 0 {
		t.Errorf("expected 0 subscribers after CloseAllSubscribers, got %d", SubscriberCount())
	}
}

func TestFilteredSubscriber(t *testing.T) {
	sub := Subscribe("replay.")
	defer Unsubscribe(sub)

	Emit("info", "engine.query", "", nil)
	Emit("info", "replay.step", "", map[string]interface{}{"step": 0})

	select {
	case e := <-sub:
		if e.Name != "replay.step" {
			t.Errorf("expected only replay events, got '%s'", e.Name)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for filtered event")
	}
	select {
	case e := <-sub:
		t.Errorf("unexpected extra event %s", e.Name)
	default:
	}
}

func TestRecentEventsFiltered(t *testing.T) {
	Clear()
	Emit("info", "modelcheck.started", "", nil)
	Emit("info", "engine.query", "", nil)
	Emit("info", "modelcheck.finished", "", nil)

	got := RecentEvents(1, "modelcheck.")
	if len(got) != 1 || got[0].Name != "modelcheck.finished" {
		t.Errorf("unexpected filtered events %v", got)
	}
	if n := len(Snapshot("modelcheck.", "engine.")); n != 3 {
		t.Errorf("expected 3 events for two prefixes, got %d", n)
	}
}

func TestParseFilter(t *testing.T) {
	f := ParseFilter(" modelcheck., ,replay.")
	if len(f) != 2 || f[0] != "modelcheck." || f[1] != "replay." {
		t.Errorf("unexpected filter %v", f)
	}
	if len(ParseFilter("")) != 0 {
		t.Error("expected empty filter")
	}
	if !Filter(nil).Match("anything") {
		t.Error("empty filter must match everything")
	}
}
