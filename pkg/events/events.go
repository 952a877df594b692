package events

import (
	"encoding/json"
	"time"

	"github.com/go-go-golems/deepdiagram/pkg/conversation"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type EventType string

const (
	// EventTypeRetry asks the chat runner to regenerate the assistant message at Index.
	EventTypeRetry EventType = "retry"
	// EventTypeToast carries a transient notification for the user.
	EventTypeToast EventType = "toast"
	// EventTypeViewChanged is published whenever the current code or agent changes.
	EventTypeViewChanged EventType = "view-changed"
)

const (
	TopicRetry = "deepdiagram-retry"
	TopicToast = "deepdiagram-toast"
	TopicView  = "deepdiagram-view"
)

type ToastType string

const (
	ToastError   ToastType = "error"
	ToastSuccess ToastType = "success"
)

type EventMetadata struct {
	ID        uuid.UUID              `json:"id"`
	SessionID conversation.SessionID `json:"session_id,omitempty"`
	Time      time.Time              `json:"time"`
}

func NewEventMetadata(sessionID conversation.SessionID) EventMetadata {
	return EventMetadata{
		ID:        uuid.New(),
		SessionID: sessionID,
		Time:      time.Now(),
	}
}

type Event interface {
	Type() EventType
	// Topic is the watermill topic the event is published on.
	Topic() string
	Metadata() EventMetadata
	Payload() []byte
}

type EventImpl struct {
	Type_     EventType     `json:"type"`
	Metadata_ EventMetadata `json:"meta"`

	// store payload if the event was deserialized from JSON
	payload []byte
}

func (e *EventImpl) Type() EventType {
	return e.Type_
}

func (e *EventImpl) Metadata() EventMetadata {
	return e.Metadata_
}

func (e *EventImpl) Payload() []byte {
	return e.payload
}

type EventRetry struct {
	EventImpl
	Index int `json:"index"`
}

func NewRetryEvent(metadata EventMetadata, index int) *EventRetry {
	return &EventRetry{
		EventImpl: EventImpl{Type_: EventTypeRetry, Metadata_: metadata},
		Index:     index,
	}
}

func (e *EventRetry) Topic() string {
	return TopicRetry
}

type EventToast struct {
	EventImpl
	Message   string    `json:"message"`
	ToastType ToastType `json:"toast_type"`
}

func NewToastEvent(metadata EventMetadata, msg string, toastType ToastType) *EventToast {
	return &EventToast{
		EventImpl: EventImpl{Type_: EventTypeToast, Metadata_: metadata},
		Message:   msg,
		ToastType: toastType,
	}
}

func (e *EventToast) Topic() string {
	return TopicToast
}

type EventViewChanged struct {
	EventImpl
	View conversation.View `json:"view"`
}

func NewViewChangedEvent(metadata EventMetadata, view conversation.View) *EventViewChanged {
	return &EventViewChanged{
		EventImpl: EventImpl{Type_: EventTypeViewChanged, Metadata_: metadata},
		View:      view,
	}
}

func (e *EventViewChanged) Topic() string {
	return TopicView
}

var _ Event = &EventRetry{}
var _ Event = &EventToast{}
var _ Event = &EventViewChanged{}

// NewEventFromJson decodes a published event back into its concrete type.
func NewEventFromJson(b []byte) (Event, error) {
	var e EventImpl
	err := json.Unmarshal(b, &e)
	if err != nil {
		return nil, errors.Wrap(err, "could not decode event")
	}
	e.payload = b

	switch e.Type_ {
	case EventTypeRetry:
		ret := &EventRetry{EventImpl: e}
		if err := json.Unmarshal(b, ret); err != nil {
			return nil, errors.Wrap(err, "could not decode retry event")
		}
		return ret, nil
	case EventTypeToast:
		ret := &EventToast{EventImpl: e}
		if err := json.Unmarshal(b, ret); err != nil {
			return nil, errors.Wrap(err, "could not decode toast event")
		}
		return ret, nil
	case EventTypeViewChanged:
		ret := &EventViewChanged{EventImpl: e}
		if err := json.Unmarshal(b, ret); err != nil {
			return nil, errors.Wrap(err, "could not decode view event")
		}
		return ret, nil
	}

	return nil, errors.Errorf("unknown event type: %s", e.Type_)
}
