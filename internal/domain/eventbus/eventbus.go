// Package eventbus carries in-process notifications between the pipeline and
// observers (logging, metrics, health). Subscribers must not block.
package eventbus

import (
	evbus "github.com/asaskevich/EventBus"
)

// Topics published by the moderation pipeline.
const (
	TopicBreakerStateChanged = "moderation.breaker.state_changed"
	TopicBatchCompleted      = "moderation.batch.completed"
)

// BreakerStateChanged is the payload for TopicBreakerStateChanged.
type BreakerStateChanged struct {
	From string
	To   string
}

// BatchCompleted is the payload for TopicBatchCompleted.
type BatchCompleted struct {
	BatchID     string
	TotalImages int
	Successful  int
	Failed      int
	ElapsedMs   int64
}

// Bus wraps the underlying event bus. One instance is created at bootstrap
// and injected; there is no package-level singleton.
type Bus struct {
	bus evbus.Bus
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{bus: evbus.New()}
}

// Publish delivers the event to current subscribers synchronously.
func (b *Bus) Publish(topic string, args ...interface{}) {
	b.bus.Publish(topic, args...)
}

// Subscribe registers a handler for a topic.
func (b *Bus) Subscribe(topic string, fn interface{}) error {
	return b.bus.Subscribe(topic, fn)
}

// SubscribeAsync registers a handler invoked on its own goroutine.
func (b *Bus) SubscribeAsync(topic string, fn interface{}) error {
	return b.bus.SubscribeAsync(topic, fn, false)
}

// Unsubscribe removes a previously registered handler.
func (b *Bus) Unsubscribe(topic string, fn interface{}) error {
	return b.bus.Unsubscribe(topic, fn)
}

// WaitAsync blocks until all async handlers have finished.
func (b *Bus) WaitAsync() {
	b.bus.WaitAsync()
}
