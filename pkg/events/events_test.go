package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-go-golems/deepdiagram/pkg/conversation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestNewEventFromJson(t *testing.T) {
	in := NewViewChangedEvent(NewEventMetadata(7), conversation.View{Code: "graph TD; a-->b", Agent: conversation.AgentFlowchart})
	b, err := json.Marshal(in)
	require.NoError(t, err)

	out, err := NewEventFromJson(b)
	require.NoError(t, err)
	view, ok := out.(*EventViewChanged)
	require.True(t, ok)
	assert.Equal(t, in.View, view.View)
	assert.Equal(t, conversation.SessionID(7), view.Metadata().SessionID)
	assert.Equal(t, b, view.Payload())

	_, err = NewEventFromJson([]byte(`{"type": "bogus"}`))
	assert.Error(t, err)
	_, err = NewEventFromJson([]byte(`not json`))
	assert.Error(t, err)
}

func TestRetryPayloadCarriesIndex(t *testing.T) {
	b, err := json.Marshal(NewRetryEvent(NewEventMetadata(1), 3))
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &raw))
	assert.Equal(t, "retry", raw["type"])
	assert.Equal(t, float64(3), raw["index"])
}

type recordingHandler struct {
	NopHandler
	retries chan int
	toasts  chan string
}

func (r *recordingHandler) HandleRetry(_ context.Context, e *EventRetry) error {
	r.retries <- e.Index
	return nil
}

func (r *recordingHandler) HandleToast(_ context.Context, e *EventToast) error {
	r.toasts <- e.Message
	return nil
}

func TestRouterDispatchesToHandler(t *testing.T) {
	router, err := NewEventRouter()
	require.NoError(t, err)

	h := &recordingHandler{retries: make(chan int, 1), toasts: make(chan string, 1)}
	router.AddEventHandler("retry", TopicRetry, h)
	router.AddEventHandler("toast", TopicToast, h)

	ctx, cancel := context.WithCancel(context.Background())
	eg := errgroup.Group{}
	eg.Go(func() error {
		return router.Run(ctx)
	})
	<-router.Running()

	sink := router.Sink()
	require.NoError(t, sink.PublishEvent(NewRetryEvent(NewEventMetadata(1), 5)))
	require.NoError(t, sink.PublishEvent(NewToastEvent(NewEventMetadata(1), "boom", ToastError)))

	select {
	case idx := <-h.retries:
		assert.Equal(t, 5, idx)
	case <-time.After(5 * time.Second):
		t.Fatal("retry event not delivered")
	}
	select {
	case m := <-h.toasts:
		assert.Equal(t, "boom", m)
	case <-time.After(5 * time.Second):
		t.Fatal("toast event not delivered")
	}

	cancel()
	require.NoError(t, eg.Wait())
	require.NoError(t, router.Close())
}

func TestMemorySink(t *testing.T) {
	sink := NewMemorySink()
	require.NoError(t, sink.PublishEvent(NewRetryEvent(NewEventMetadata(1), 1)))
	require.NoError(t, sink.PublishEvent(NewToastEvent(NewEventMetadata(1), "x", ToastSuccess)))
	assert.Len(t, sink.Events(), 2)
	assert.Len(t, sink.OfType(EventTypeToast), 1)
}
