package chatstore

import (
	"context"
	"testing"

	"github.com/go-go-golems/deepdiagram/pkg/conversation"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectSessionHydrates(t *testing.T) {
	backend := &fakeBackend{messages: map[conversation.SessionID][]*conversation.Message{
		4: branchingHistory(),
	}}
	store, _ := newTestStore(backend)

	require.NoError(t, store.SelectSession(context.Background(), 4))
	assert.Equal(t, conversation.SessionID(4), store.SessionID())
	assert.False(t, store.IsLoading())
	assert.Equal(t, []conversation.MessageID{1, 3}, store.Messages().IDs())
	assert.Equal(t, conversation.Selections{1: 3}, store.Selections())
	assert.Equal(t, conversation.View{Code: "graph TD; a-->c", Agent: conversation.AgentFlowchart}, store.View())
}

func TestSelectSessionFailureClearsLoading(t *testing.T) {
	backend := &fakeBackend{err: errors.New("timeout")}
	store, _ := newTestStore(backend)
	store.AddMessage(conversation.NewMessage(conversation.RoleUser, "old"))

	assert.Error(t, store.SelectSession(context.Background(), 4))
	assert.False(t, store.IsLoading())
	assert.Empty(t, store.Messages())
	assert.Equal(t, conversation.SessionID(4), store.SessionID())
}

func TestHydrateWithoutCodeUsesDefaultAgent(t *testing.T) {
	store, _ := newTestStore(nil)
	store.SetAgent(conversation.AgentCharts)
	store.Hydrate(1, []*conversation.Message{
		conversation.NewMessage(conversation.RoleUser, "hi", conversation.WithID(1)),
	})
	assert.Equal(t, conversation.View{Agent: conversation.DefaultAgent}, store.View())
}

func TestSwitchMessageVersion(t *testing.T) {
	store, _ := newTestStore(nil)
	store.Hydrate(1, branchingHistory())

	require.True(t, store.SwitchMessageVersion(2))
	assert.Equal(t, []conversation.MessageID{1, 2}, store.Messages().IDs())
	assert.Equal(t, conversation.View{Code: "graph TD; a-->b", Agent: conversation.AgentMermaid}, store.View())
	assert.Equal(t, conversation.MessageID(2), store.Selections()[1])

	assert.False(t, store.SwitchMessageVersion(99))
	assert.Equal(t, []conversation.MessageID{1, 2}, store.Messages().IDs())
}

func TestNextAndPreviousVersion(t *testing.T) {
	store, _ := newTestStore(nil)
	store.Hydrate(1, branchingHistory())

	info, ok := store.VersionInfo(3)
	require.True(t, ok)
	assert.Equal(t, conversation.VersionInfo{Current: 2, Total: 2}, info)

	assert.False(t, store.NextVersion(3))
	require.True(t, store.PreviousVersion(3))
	assert.Equal(t, []conversation.MessageID{1, 2}, store.Messages().IDs())
	assert.False(t, store.PreviousVersion(2))
	require.True(t, store.NextVersion(2))
	assert.Equal(t, []conversation.MessageID{1, 3}, store.Messages().IDs())
}

func TestSyncCodeToMessage(t *testing.T) {
	store, _ := newTestStore(nil)
	store.Hydrate(1, branchingHistory())

	require.True(t, store.SyncCodeToMessage(2))
	assert.Equal(t, conversation.View{Code: "graph TD; a-->b", Agent: conversation.AgentMermaid}, store.View())
	assert.Equal(t, []conversation.MessageID{1, 3}, store.Messages().IDs())

	assert.False(t, store.SyncCodeToMessage(1))
	store.SyncToLatest()
	assert.Equal(t, "graph TD; a-->c", store.View().Code)
}

func TestCreateNewChat(t *testing.T) {
	store, _ := newTestStore(nil)
	store.Hydrate(1, branchingHistory())
	store.SetInput("draft")
	store.AddInputImage("img")

	store.CreateNewChat()
	assert.Empty(t, store.Messages())
	assert.Empty(t, store.AllMessages())
	assert.Empty(t, store.Selections())
	assert.False(t, store.SessionID().IsSet())
	assert.Empty(t, store.Input())
	assert.Empty(t, store.InputImages())
	assert.Equal(t, conversation.View{Agent: conversation.DefaultAgent}, store.View())
}

func TestDeleteActiveSession(t *testing.T) {
	backend := &fakeBackend{
		sessions: []conversation.Session{{ID: 1}, {ID: 2}},
		messages: map[conversation.SessionID][]*conversation.Message{1: branchingHistory()},
	}
	store, _ := newTestStore(backend)
	require.NoError(t, store.LoadSessions(context.Background()))
	require.NoError(t, store.SelectSession(context.Background(), 1))

	require.NoError(t, store.DeleteSession(context.Background(), 1))
	assert.False(t, store.SessionID().IsSet())
	assert.Empty(t, store.Messages())
	assert.Equal(t, "", store.View().Code)
	require.Len(t, store.Sessions(), 1)
	assert.Equal(t, conversation.SessionID(2), store.Sessions()[0].ID)
}

func TestDeleteOtherSession(t *testing.T) {
	backend := &fakeBackend{
		sessions: []conversation.Session{{ID: 1}, {ID: 2}},
		messages: map[conversation.SessionID][]*conversation.Message{1: branchingHistory()},
	}
	store, _ := newTestStore(backend)
	require.NoError(t, store.LoadSessions(context.Background()))
	require.NoError(t, store.SelectSession(context.Background(), 1))

	require.NoError(t, store.DeleteSession(context.Background(), 2))
	assert.Equal(t, conversation.SessionID(1), store.SessionID())
	assert.Equal(t, []conversation.MessageID{1, 3}, store.Messages().IDs())
	require.Len(t, store.Sessions(), 1)
	assert.Equal(t, conversation.SessionID(1), store.Sessions()[0].ID)
}

func TestDeleteSessionFailureKeepsState(t *testing.T) {
	backend := &fakeBackend{sessions: []conversation.Session{{ID: 1}}}
	store, _ := newTestStore(backend)
	require.NoError(t, store.LoadSessions(context.Background()))

	backend.err = errors.New("500")
	assert.Error(t, store.DeleteSession(context.Background(), 1))
	assert.Len(t, store.Sessions(), 1)
}
