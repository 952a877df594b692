package api

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/go-go-golems/deepdiagram/pkg/conversation"
	"github.com/pkg/errors"
)

// Timestamp accepts the datetime encodings the backend produces, with or
// without a zone. Zone-less values are taken as UTC.
type Timestamp time.Time

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*t = Timestamp(time.Time{})
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return errors.Wrap(err, "timestamp is not a string")
	}
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		parsed, err := time.Parse(layout, s)
		if err == nil {
			*t = Timestamp(parsed.UTC())
			return nil
		}
	}
	return errors.Errorf("unsupported timestamp %q", s)
}

func (t Timestamp) Time() time.Time {
	return time.Time(t)
}

type sessionRecord struct {
	ID        conversation.SessionID `json:"id"`
	Title     string                 `json:"title"`
	CreatedAt Timestamp              `json:"created_at"`
	UpdatedAt Timestamp              `json:"updated_at"`
}

func (r *sessionRecord) toSession() conversation.Session {
	return conversation.Session{
		ID:        r.ID,
		Title:     r.Title,
		CreatedAt: r.CreatedAt.Time(),
		UpdatedAt: r.UpdatedAt.Time(),
	}
}

type messageRecord struct {
	ID        conversation.MessageID  `json:"id"`
	SessionID conversation.SessionID  `json:"session_id"`
	ParentID  conversation.MessageID  `json:"parent_id"`
	Role      conversation.Role       `json:"role"`
	Content   string                  `json:"content"`
	Images    []string                `json:"images"`
	Steps     []conversation.Step     `json:"steps"`
	Agent     *conversation.AgentType `json:"agent"`
	CreatedAt Timestamp               `json:"created_at"`
}

// toMessage maps a persisted record onto the data model. Missing images and
// steps become empty lists.
func (r *messageRecord) toMessage() *conversation.Message {
	ret := &conversation.Message{
		ID:        r.ID,
		ParentID:  r.ParentID,
		Role:      r.Role,
		Content:   r.Content,
		Images:    r.Images,
		Steps:     r.Steps,
		CreatedAt: r.CreatedAt.Time(),
	}
	if ret.Images == nil {
		ret.Images = []string{}
	}
	if ret.Steps == nil {
		ret.Steps = []conversation.Step{}
	}
	if r.Agent != nil {
		ret.Agent = *r.Agent
	}
	return ret
}

// ChatContext is the canvas state sent along with a prompt.
type ChatContext struct {
	CurrentCode string `json:"current_code"`
}

// ChatRequest is the body of POST /api/chat/completions.
type ChatRequest struct {
	SessionID conversation.SessionID `json:"session_id,omitempty"`
	AgentID   conversation.AgentType `json:"agent_id,omitempty"`
	Prompt    string                 `json:"prompt"`
	Images    []string               `json:"images"`
	ParentID  conversation.MessageID `json:"parent_id"`
	IsRetry   bool                   `json:"is_retry"`
	Context   ChatContext            `json:"context"`
}
