package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-go-golems/deepdiagram/pkg/conversation"
	"github.com/go-go-golems/deepdiagram/pkg/helpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewClient(server.URL + "/")
	require.NoError(t, err)
	return client
}

func TestListSessions(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/sessions", r.URL.Path)
		assert.Equal(t, "req-1", r.Header.Get(helpers.CorrelationIDHeader))
		_, _ = w.Write([]byte(`[
			{"id": 2, "title": "flowchart", "created_at": "2026-10-01T10:00:00.123456", "updated_at": "2026-10-01T10:05:00+00:00"}
		]`))
	}))

	ctx := helpers.ContextWithCorrelationID(context.Background(), "req-1")
	sessions, err := client.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, conversation.SessionID(2), sessions[0].ID)
	assert.Equal(t, "flowchart", sessions[0].Title)
	assert.True(t, time.Date(2026, 10, 1, 10, 0, 0, 123456000, time.UTC).Equal(sessions[0].CreatedAt))
	assert.True(t, time.Date(2026, 10, 1, 10, 5, 0, 0, time.UTC).Equal(sessions[0].UpdatedAt))
}

func TestGetSessionMessagesFillsMissingLists(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/sessions/3", r.URL.Path)
		_, _ = w.Write([]byte(`[
			{"id": 1, "session_id": 3, "parent_id": null, "role": "user", "content": "hi", "images": null, "steps": null, "agent": null, "created_at": "2026-10-01T10:00:00"},
			{"id": 2, "session_id": 3, "parent_id": 1, "role": "assistant", "content": "ok", "agent": "charts",
			 "steps": [{"type": "tool_end", "name": "Result", "content": "{}", "status": "done", "timestamp": 1790000000000}],
			 "created_at": "2026-10-01T10:00:01"}
		]`))
	}))

	msgs, err := client.GetSessionMessages(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, []string{}, msgs[0].Images)
	assert.Equal(t, []conversation.Step{}, msgs[0].Steps)
	assert.Equal(t, conversation.AgentType(""), msgs[0].Agent)
	assert.False(t, msgs[0].ParentID.IsSet())
	assert.Equal(t, conversation.MessageID(1), msgs[1].ParentID)
	assert.Equal(t, conversation.AgentCharts, msgs[1].Agent)
	code, ok := msgs[1].DiagramCode()
	assert.True(t, ok)
	assert.Equal(t, "{}", code)
}

func TestDeleteSessionStatusError(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		http.Error(w, "no such session", http.StatusNotFound)
	}))

	err := client.DeleteSession(context.Background(), 9)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, "/api/sessions/9", statusErr.Path)
	assert.Equal(t, "no such session", statusErr.Body)
}

func TestStreamChat(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat/completions", r.URL.Path)
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))

		var body map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "draw", body["prompt"])
		assert.Nil(t, body["parent_id"])
		assert.NotContains(t, body, "session_id")
		assert.Equal(t, []interface{}{}, body["images"])
		assert.Equal(t, map[string]interface{}{"current_code": "old"}, body["context"])

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("event: message_created\ndata: {\"id\": 5, \"role\": \"user\"}\n\n"))
	}))

	stream, err := client.StreamChat(context.Background(), ChatRequest{
		Prompt:  "draw",
		Context: ChatContext{CurrentCode: "old"},
	})
	require.NoError(t, err)
	defer func() { _ = stream.Close() }()

	ev, err := stream.Next()
	require.NoError(t, err)
	var created MessageCreated
	require.NoError(t, ev.Decode(&created))
	assert.Equal(t, MessageCreated{ID: 5, Role: conversation.RoleUser}, created)
}

func TestNewClientRejectsBadURL(t *testing.T) {
	_, err := NewClient("localhost:8000")
	assert.Error(t, err)
	_, err = NewClient("ftp://example.com")
	assert.Error(t, err)
}
