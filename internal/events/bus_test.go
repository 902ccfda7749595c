package events

import (
	"testing"
	"time"
)

func TestSubscribePublish(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(EventPriceTick, 2)
	defer unsub()

	bus.Publish(EventPriceTick, 42)

	select {
	case got := <-ch:
		if got != 42 {
			t.Errorf("payload = %v, want 42", got)
		}
	case <-time.After(time.Second):
		t.Fatal("payload never delivered")
	}
}

func TestPublishDropsWhenSubscriberFull(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(EventPriceTick, 1)
	defer unsub()

	bus.Publish(EventPriceTick, 1)
	bus.Publish(EventPriceTick, 2) // buffer full, dropped

	if got := <-ch; got != 1 {
		t.Errorf("payload = %v, want 1", got)
	}
	select {
	case got := <-ch:
		t.Errorf("unexpected second payload %v", got)
	default:
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(EventBalanceUpdate, 1)
	unsub()

	bus.Publish(EventBalanceUpdate, "x")

	if _, open := <-ch; open {
		t.Error("channel still open after unsubscribe")
	}
}

func TestSubscribeFunc(t *testing.T) {
	bus := NewBus()
	received := make(chan any, 4)
	unsub := bus.SubscribeFunc(EventCandleUpdate, 4, func(payload any) {
		received <- payload
	})
	defer unsub()

	bus.Publish(EventCandleUpdate, "bar")

	select {
	case got := <-received:
		if got != "bar" {
			t.Errorf("payload = %v, want bar", got)
		}
	case <-time.After(time.Second):
		t.Fatal("callback never invoked")
	}
}
