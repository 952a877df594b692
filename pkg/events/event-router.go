package events

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/deepdiagram/pkg/helpers"
)

// Handler receives the typed events of the bus. Embed NopHandler to only
// implement the events a component cares about.
type Handler interface {
	HandleRetry(ctx context.Context, e *EventRetry) error
	HandleToast(ctx context.Context, e *EventToast) error
	HandleViewChanged(ctx context.Context, e *EventViewChanged) error
}

type NopHandler struct{}

func (NopHandler) HandleRetry(context.Context, *EventRetry) error             { return nil }
func (NopHandler) HandleToast(context.Context, *EventToast) error             { return nil }
func (NopHandler) HandleViewChanged(context.Context, *EventViewChanged) error { return nil }

var _ Handler = NopHandler{}

type EventRouter struct {
	logger     watermill.LoggerAdapter
	Publisher  message.Publisher
	Subscriber message.Subscriber
	router     *message.Router
}

type EventRouterOption func(*EventRouter)

func WithLogger(logger watermill.LoggerAdapter) EventRouterOption {
	return func(r *EventRouter) {
		r.logger = logger
	}
}

func WithVerbose(verbose bool) EventRouterOption {
	return func(r *EventRouter) {
		if verbose {
			r.logger = helpers.NewWatermill(log.Logger)
		}
	}
}

func NewEventRouter(options ...EventRouterOption) (*EventRouter, error) {
	ret := &EventRouter{
		logger: watermill.NopLogger{},
	}

	for _, o := range options {
		o(ret)
	}

	goPubSub := gochannel.NewGoChannel(gochannel.Config{
		BlockPublishUntilSubscriberAck: true,
	}, ret.logger)
	ret.Publisher = goPubSub
	ret.Subscriber = goPubSub

	router, err := message.NewRouter(message.RouterConfig{}, ret.logger)
	if err != nil {
		return nil, err
	}

	ret.router = router

	return ret, nil
}

// Sink returns an EventSink publishing onto this router's pubsub.
func (e *EventRouter) Sink() *WatermillSink {
	return NewWatermillSink(e.Publisher)
}

func (e *EventRouter) Close() error {
	log.Debug().Msg("Closing publisher")
	err := e.Publisher.Close()
	if err != nil {
		log.Error().Err(err).Msg("Failed to close pubsub")
	}

	log.Debug().Msg("Closing router")
	err = e.router.Close()
	if err != nil {
		log.Error().Err(err).Msg("Failed to close router")
	}

	return nil
}

func (e *EventRouter) AddHandler(name string, topic string, f func(msg *message.Message) error) {
	e.router.AddNoPublisherHandler(name, topic, e.Subscriber, f)
}

// AddEventHandler subscribes handler to topic, decoding each message into its typed event.
func (e *EventRouter) AddEventHandler(name string, topic string, handler Handler) {
	e.AddHandler(name, topic, DispatchHandler(handler))
}

// DispatchHandler creates a watermill handler function that parses events
// and dispatches them to the matching method of handler.
func DispatchHandler(handler Handler) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		e, err := NewEventFromJson(msg.Payload)
		if err != nil {
			// a single bad message must not stop the handler
			log.Error().Err(err).
				Str("message_id", msg.UUID).
				Str("payload", string(msg.Payload)).
				Msg("Failed to parse event from message payload")
			return nil
		}

		log.Trace().
			Str("message_id", msg.UUID).
			Str("event_type", string(e.Type())).
			Msg("Dispatching event")

		ctx := msg.Context()
		var handlerErr error
		switch ev := e.(type) {
		case *EventRetry:
			handlerErr = handler.HandleRetry(ctx, ev)
		case *EventToast:
			handlerErr = handler.HandleToast(ctx, ev)
		case *EventViewChanged:
			handlerErr = handler.HandleViewChanged(ctx, ev)
		default:
			log.Warn().Str("event_type", string(e.Type())).Msg("Unhandled event type")
		}

		if handlerErr != nil {
			// returning the error would nack the message and have gochannel redeliver it forever
			log.Error().Err(handlerErr).
				Str("message_id", msg.UUID).
				Str("event_type", string(e.Type())).
				Msg("Error processing event")
		}

		return nil
	}
}

func (e *EventRouter) Running() chan struct{} {
	return e.router.Running()
}

func (e *EventRouter) IsRunning() bool {
	return e.router.IsRunning()
}

func (e *EventRouter) Run(ctx context.Context) error {
	return e.router.Run(ctx)
}
