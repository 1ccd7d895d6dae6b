package supervisor

import (
	"fmt"
	"strings"
	"testing"
)

func TestNotifier(t *testing.T) {
	t.Run("PerSessionDelivery", func(t *testing.T) {
		n := newNotifier()
		a := n.subscribe("a", 8)
		b := n.subscribe("b", 8)
		defer a.Cancel()
		defer b.Cancel()

		n.publish(Event{Type: EventData, SessionID: "a", Line: "one"})

		select {
		case ev := <-a.C:
			if ev.Line != "one" {
				t.Errorf("expected line 'one', got %q", ev.Line)
			}
		default:
			t.Fatal("subscriber a received nothing")
		}
		select {
		case ev := <-b.C:
			t.Fatalf("subscriber b received foreign event: %+v", ev)
		default:
		}
	})

	t.Run("GlobalSeesAllSessions", func(t *testing.T) {
		n := newNotifier()
		g := n.subscribe("", 8)
		defer g.Cancel()

		n.publish(Event{Type: EventData, SessionID: "a"})
		n.publish(Event{Type: EventData, SessionID: "b"})

		if len(g.C) != 2 {
			t.Errorf("expected 2 events on global feed, got %d", len(g.C))
		}
	})

	t.Run("ProductionOrderPreserved", func(t *testing.T) {
		n := newNotifier()
		sub := n.subscribe("s", 16)
		defer sub.Cancel()

		for i := 0; i < 10; i++ {
			n.publish(Event{Type: EventData, SessionID: "s", Line: fmt.Sprintf("%d", i)})
		}
		for i := 0; i < 10; i++ {
			ev := <-sub.C
			if ev.Line != fmt.Sprintf("%d", i) {
				t.Fatalf("event %d out of order: got %q", i, ev.Line)
			}
		}
	})

	t.Run("FullSubscriberDropsWithoutBlocking", func(t *testing.T) {
		n := newNotifier()
		sub := n.subscribe("s", 1)
		defer sub.Cancel()

		n.publish(Event{Type: EventData, SessionID: "s", Line: "kept"})
		n.publish(Event{Type: EventData, SessionID: "s", Line: "dropped"})

		ev := <-sub.C
		if ev.Line != "kept" {
			t.Errorf("expected first event kept, got %q", ev.Line)
		}
		if len(sub.C) != 0 {
			t.Error("overflow event should have been dropped")
		}
	})

	t.Run("CancelStopsDelivery", func(t *testing.T) {
		n := newNotifier()
		sub := n.subscribe("s", 8)
		sub.Cancel()

		n.publish(Event{Type: EventData, SessionID: "s"})
		if len(sub.C) != 0 {
			t.Error("cancelled subscription still received events")
		}
	})

	t.Run("TimestampAssigned", func(t *testing.T) {
		n := newNotifier()
		sub := n.subscribe("s", 1)
		defer sub.Cancel()

		n.publish(Event{Type: EventExit, SessionID: "s"})
		if ev := <-sub.C; ev.Time.IsZero() {
			t.Error("publish should stamp event time")
		}
	})
}

func TestTail(t *testing.T) {
	var tl tail
	for i := 0; i < tailLines+15; i++ {
		tl.add(fmt.Sprintf("line %d", i))
	}
	out := tl.String()
	if len(out) == 0 {
		t.Fatal("expected tail content")
	}
	if want := fmt.Sprintf("line %d", tailLines+14); !strings.Contains(out, want) {
		t.Errorf("tail missing newest line %q", want)
	}
	if !strings.Contains(out, "line 15") {
		t.Error("tail should keep the last lines within the ring")
	}
	if strings.Contains(out, "line 14\n") {
		t.Error("tail kept a line past the ring size")
	}
}
