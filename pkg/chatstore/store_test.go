package chatstore

import (
	"context"
	"testing"
	"time"

	"github.com/go-go-golems/deepdiagram/pkg/conversation"
	"github.com/go-go-golems/deepdiagram/pkg/events"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	sessions []conversation.Session
	messages map[conversation.SessionID][]*conversation.Message
	deleted  []conversation.SessionID
	err      error
}

func (f *fakeBackend) ListSessions(context.Context) ([]conversation.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.sessions, nil
}

func (f *fakeBackend) GetSessionMessages(_ context.Context, id conversation.SessionID) ([]*conversation.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	// hand out fresh copies, the store mutates what it hydrates
	var ret []*conversation.Message
	for _, m := range f.messages[id] {
		c := *m
		c.Steps = append([]conversation.Step{}, m.Steps...)
		ret = append(ret, &c)
	}
	return ret, nil
}

func (f *fakeBackend) DeleteSession(_ context.Context, id conversation.SessionID) error {
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func toolEnd(code string) conversation.Step {
	return conversation.NewStep(conversation.StepToolEnd, "Result", code, conversation.StepDone)
}

func branchingHistory() []*conversation.Message {
	return []*conversation.Message{
		conversation.NewMessage(conversation.RoleUser, "draw", conversation.WithID(1)),
		conversation.NewMessage(conversation.RoleAssistant, "v1", conversation.WithID(2), conversation.WithParentID(1),
			conversation.WithAgent(conversation.AgentMermaid), conversation.WithSteps(toolEnd("graph TD; a-->b"))),
		conversation.NewMessage(conversation.RoleAssistant, "v2", conversation.WithID(3), conversation.WithParentID(1),
			conversation.WithAgent(conversation.AgentFlowchart), conversation.WithSteps(toolEnd("graph TD; a-->c"))),
	}
}

func newTestStore(backend SessionBackend) (*Store, *events.MemorySink) {
	sink := events.NewMemorySink()
	store := NewStore(
		WithBackend(backend),
		WithEventSink(sink),
		WithClock(func() time.Time { return time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC) }),
	)
	return store, sink
}

func TestAddMessageStampsTimeAndSetsTarget(t *testing.T) {
	store, _ := newTestStore(nil)

	user := store.AddMessage(conversation.NewMessage(conversation.RoleUser, "hi"))
	assert.Equal(t, 2026, user.CreatedAt.Year())
	assert.Nil(t, store.StreamTarget())

	assistant := store.AddMessage(conversation.NewMessage(conversation.RoleAssistant, ""))
	assert.Same(t, assistant, store.StreamTarget())
	assert.Len(t, store.Messages(), 2)
	assert.Len(t, store.AllMessages(), 2)

	store.EndStreaming()
	assert.Nil(t, store.StreamTarget())
}

func TestSetMessagesLeavesArenaUntouched(t *testing.T) {
	store, _ := newTestStore(nil)
	store.Hydrate(1, branchingHistory())
	require.Len(t, store.Messages(), 2)

	store.SetMessages(store.Messages()[:1])
	assert.Len(t, store.Messages(), 1)
	assert.Len(t, store.AllMessages(), 3)
}

func TestUpdateLastMessageOnlyTouchesAssistant(t *testing.T) {
	store, _ := newTestStore(nil)
	store.AddMessage(conversation.NewMessage(conversation.RoleUser, "hi"))
	store.UpdateLastMessage("overwritten")
	assert.Equal(t, "hi", store.Messages()[0].Content)

	store.AddMessage(conversation.NewMessage(conversation.RoleAssistant, ""))
	store.UpdateLastMessage("hello")
	assert.Equal(t, "hello", store.Messages()[1].Content)
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	store, _ := newTestStore(nil)
	store.Hydrate(1, branchingHistory())

	snapshot := store.Snapshot()
	require.Len(t, snapshot.Messages, 2)
	assert.Same(t, snapshot.Messages[1], snapshot.AllMessages[2])

	snapshot.Messages[1].Content = "changed"
	assert.Equal(t, "v2", store.Messages()[1].Content)
	assert.Equal(t, conversation.Selections{1: 3}, snapshot.Selections)
}

func TestConfirmMessage(t *testing.T) {
	store, _ := newTestStore(nil)
	store.Hydrate(1, branchingHistory())

	store.AddMessage(conversation.NewMessage(conversation.RoleUser, "again"))
	store.AddMessage(conversation.NewMessage(conversation.RoleAssistant, ""))

	store.ConfirmMessage(conversation.RoleUser, 4)
	store.ConfirmMessage(conversation.RoleAssistant, 5)

	path := store.Messages()
	assert.Equal(t, []conversation.MessageID{1, 3, 4, 5}, path.IDs())
	assert.Equal(t, conversation.MessageID(3), path[2].ParentID)
	assert.Equal(t, conversation.MessageID(4), path[3].ParentID)
	assert.Equal(t, conversation.MessageID(4), store.Selections()[3])
	assert.Equal(t, conversation.MessageID(5), store.Selections()[4])

	// a retried user message is already known
	store.ConfirmMessage(conversation.RoleUser, 4)
	assert.Equal(t, []conversation.MessageID{1, 3, 4, 5}, store.Messages().IDs())
}

func TestRequestRegenerate(t *testing.T) {
	store, sink := newTestStore(nil)

	_, ok := store.RequestRegenerate()
	assert.False(t, ok)

	store.Hydrate(1, branchingHistory())
	store.AddMessage(conversation.NewMessage(conversation.RoleUser, "more"))

	idx, ok := store.RequestRegenerate()
	require.True(t, ok)
	assert.Equal(t, 1, idx)

	retries := sink.OfType(events.EventTypeRetry)
	require.Len(t, retries, 1)
	assert.Equal(t, 1, retries[0].(*events.EventRetry).Index)
	assert.Equal(t, events.TopicRetry, retries[0].Topic())
}

func TestViewChangesArePublished(t *testing.T) {
	store, sink := newTestStore(nil)
	store.Hydrate(1, branchingHistory())

	views := sink.OfType(events.EventTypeViewChanged)
	require.Len(t, views, 1)
	assert.Equal(t, conversation.View{Code: "graph TD; a-->c", Agent: conversation.AgentFlowchart},
		views[0].(*events.EventViewChanged).View)

	// re-deriving an unchanged view is silent
	store.SyncToLatest()
	assert.Len(t, sink.OfType(events.EventTypeViewChanged), 1)
}

func TestLoadSessionsKeepsListingOnError(t *testing.T) {
	backend := &fakeBackend{sessions: []conversation.Session{{ID: 1, Title: "a"}}}
	store, _ := newTestStore(backend)
	require.NoError(t, store.LoadSessions(context.Background()))
	assert.Len(t, store.Sessions(), 1)

	backend.err = errors.New("connection refused")
	assert.Error(t, store.LoadSessions(context.Background()))
	assert.Len(t, store.Sessions(), 1)
}

func TestStoreWithoutBackend(t *testing.T) {
	store, _ := newTestStore(nil)
	assert.ErrorIs(t, store.LoadSessions(context.Background()), ErrNoBackend)
	assert.ErrorIs(t, store.SelectSession(context.Background(), 1), ErrNoBackend)
	assert.ErrorIs(t, store.DeleteSession(context.Background(), 1), ErrNoBackend)
}

func TestInputBuffer(t *testing.T) {
	store, _ := newTestStore(nil)
	store.SetInput("draw a graph")
	store.SetInputImages([]string{"data:image/png;base64,AAA"})
	store.AddInputImage("data:image/png;base64,BBB")
	assert.Equal(t, "draw a graph", store.Input())
	assert.Len(t, store.InputImages(), 2)

	store.ClearInputImages()
	assert.Empty(t, store.InputImages())
	assert.NotNil(t, store.InputImages())
}
