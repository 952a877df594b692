package events

import (
	"encoding/json"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
)

// EventSink receives the events produced by the store and the runner.
type EventSink interface {
	PublishEvent(event Event) error
}

// WatermillSink publishes each event as JSON on its own topic.
type WatermillSink struct {
	publisher message.Publisher
}

func NewWatermillSink(publisher message.Publisher) *WatermillSink {
	return &WatermillSink{publisher: publisher}
}

func (w *WatermillSink) PublishEvent(event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "failed to marshal event")
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("event_type", string(event.Type()))
	return w.publisher.Publish(event.Topic(), msg)
}

var _ EventSink = &WatermillSink{}

// MemorySink keeps published events in memory.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (m *MemorySink) PublishEvent(event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *MemorySink) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	ret := make([]Event, len(m.events))
	copy(ret, m.events)
	return ret
}

// OfType returns the published events of type t, oldest first.
func (m *MemorySink) OfType(t EventType) []Event {
	var ret []Event
	for _, e := range m.Events() {
		if e.Type() == t {
			ret = append(ret, e)
		}
	}
	return ret
}

var _ EventSink = &MemorySink{}
