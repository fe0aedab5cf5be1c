package eventbus

import (
	"testing"
	"time"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := New()

	got := make(chan BatchCompleted, 1)
	err := bus.Subscribe(TopicBatchCompleted, func(ev BatchCompleted) {
		got <- ev
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	bus.Publish(TopicBatchCompleted, BatchCompleted{BatchID: "b-1", TotalImages: 3, Successful: 2, Failed: 1})

	select {
	case ev := <-got:
		if ev.BatchID != "b-1" || ev.Failed != 1 {
			t.Errorf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBus_AsyncDelivery(t *testing.T) {
	bus := New()

	got := make(chan BreakerStateChanged, 1)
	err := bus.SubscribeAsync(TopicBreakerStateChanged, func(ev BreakerStateChanged) {
		got <- ev
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	bus.Publish(TopicBreakerStateChanged, BreakerStateChanged{From: "closed", To: "open"})
	bus.WaitAsync()

	select {
	case ev := <-got:
		if ev.To != "open" {
			t.Errorf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}
