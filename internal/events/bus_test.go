package events

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(EventOrderFilled, 1)
	defer unsub()

	bus.Publish(EventOrderFilled, OrderFilled{TradeID: 1})
	select {
	case got := <-ch:
		if got.(OrderFilled).TradeID != 1 {
			t.Fatalf("payload = %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("no delivery")
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	bus := NewBus()
	_, unsub := bus.Subscribe(EventNotification, 1)
	defer unsub()

	bus.Publish(EventNotification, Notification{Title: "a"})
	bus.Publish(EventNotification, Notification{Title: "b"})
	if got := bus.Dropped(); got != 1 {
		t.Fatalf("dropped = %d, want 1", got)
	}
}

func TestNilBusPublish(t *testing.T) {
	var bus *Bus
	bus.Publish(EventOrderFilled, OrderFilled{})
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(EventTrailingRemoved, 1)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("channel still open")
	}
	bus.Publish(EventTrailingRemoved, TrailingRemoved{})
}

func TestSubscribeManyTagsTopics(t *testing.T) {
	bus := NewBus()
	stream, cancel := bus.SubscribeMany(StreamTopics, 10)

	bus.Publish(EventTrailingRepriced, TrailingRepriced{TrailingID: "t1"})
	bus.Publish(EventTrailingRemoved, TrailingRemoved{TrailingID: "t1", Reason: ReasonUser})

	seen := map[Event]bool{}
	deadline := time.After(time.Second)
	for len(seen) < 2 {
		select {
		case env := <-stream:
			seen[env.Type] = true
		case <-deadline:
			t.Fatalf("seen %v", seen)
		}
	}

	cancel()
	for range stream {
	}
}
