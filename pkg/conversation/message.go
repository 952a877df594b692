package conversation

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// MessageID is the backend-assigned identifier of a persisted message.
// NoMessage marks a message that has not been persisted yet, and, used as a
// parent id, a root message.
type MessageID int64

const NoMessage MessageID = 0

func (id MessageID) IsSet() bool {
	return id != NoMessage
}

func (id MessageID) String() string {
	if id == NoMessage {
		return "none"
	}
	return strconv.FormatInt(int64(id), 10)
}

func (id MessageID) MarshalJSON() ([]byte, error) {
	if id == NoMessage {
		return []byte("null"), nil
	}
	return json.Marshal(int64(id))
}

func (id *MessageID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*id = NoMessage
		return nil
	}
	var v int64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*id = MessageID(v)
	return nil
}

func (id MessageID) MarshalYAML() (interface{}, error) {
	if id == NoMessage {
		return nil, nil
	}
	return int64(id), nil
}

type Role string

const (
	RoleSystem    Role = "system"
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
)

// AgentType names the rendering agent a message's diagram code is meant for.
type AgentType string

const (
	AgentMindmap     AgentType = "mindmap"
	AgentFlowchart   AgentType = "flowchart"
	AgentCharts      AgentType = "charts"
	AgentDrawio      AgentType = "drawio"
	AgentMermaid     AgentType = "mermaid"
	AgentInfographic AgentType = "infographic"
	AgentGeneral     AgentType = "general"
)

// DefaultAgent is shown when no message of the active path carries diagram code.
const DefaultAgent = AgentMindmap

var AllAgents = []AgentType{
	AgentMindmap,
	AgentFlowchart,
	AgentCharts,
	AgentDrawio,
	AgentMermaid,
	AgentInfographic,
	AgentGeneral,
}

func (a AgentType) IsValid() bool {
	for _, known := range AllAgents {
		if a == known {
			return true
		}
	}
	return false
}

func ParseAgentType(s string) (AgentType, error) {
	a := AgentType(s)
	if !a.IsValid() {
		return "", errors.Errorf("unknown agent %q", s)
	}
	return a, nil
}

type StepType string

const (
	StepAgentSelect StepType = "agent_select"
	StepToolStart   StepType = "tool_start"
	StepToolEnd     StepType = "tool_end"
	StepDocAnalysis StepType = "doc_analysis"
	StepAgentEnd    StepType = "agent_end"
)

type StepStatus string

const (
	StepRunning StepStatus = "running"
	StepDone    StepStatus = "done"
	StepError   StepStatus = "error"
)

// Step is one entry of an assistant message's execution trace.
type Step struct {
	Type        StepType   `json:"type" yaml:"type"`
	Name        string     `json:"name,omitempty" yaml:"name,omitempty"`
	Content     string     `json:"content,omitempty" yaml:"content,omitempty"`
	Status      StepStatus `json:"status" yaml:"status"`
	Timestamp   int64      `json:"timestamp" yaml:"timestamp"`
	IsStreaming bool       `json:"isStreaming,omitempty" yaml:"isStreaming,omitempty"`
	IsError     bool       `json:"isError,omitempty" yaml:"isError,omitempty"`
	Error       string     `json:"error,omitempty" yaml:"error,omitempty"`
}

// NewStep creates a step stamped with the current time in milliseconds,
// the unit the backend uses.
func NewStep(type_ StepType, name string, content string, status StepStatus) Step {
	return Step{
		Type:      type_,
		Name:      name,
		Content:   content,
		Status:    status,
		Timestamp: time.Now().UnixMilli(),
	}
}

// Message is a single node of the conversation tree.
type Message struct {
	ID        MessageID `json:"id,omitempty" yaml:"id,omitempty"`
	ParentID  MessageID `json:"parent_id" yaml:"parent_id"`
	Role      Role      `json:"role" yaml:"role"`
	Content   string    `json:"content" yaml:"content"`
	Images    []string  `json:"images" yaml:"images"`
	Steps     []Step    `json:"steps,omitempty" yaml:"steps,omitempty"`
	Agent     AgentType `json:"agent,omitempty" yaml:"agent,omitempty"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

type MessageOption func(*Message)

func WithID(id MessageID) MessageOption {
	return func(m *Message) {
		m.ID = id
	}
}

func WithParentID(parentID MessageID) MessageOption {
	return func(m *Message) {
		m.ParentID = parentID
	}
}

func WithAgent(agent AgentType) MessageOption {
	return func(m *Message) {
		m.Agent = agent
	}
}

func WithImages(images ...string) MessageOption {
	return func(m *Message) {
		m.Images = append(m.Images, images...)
	}
}

func WithSteps(steps ...Step) MessageOption {
	return func(m *Message) {
		m.Steps = append(m.Steps, steps...)
	}
}

func WithTime(t time.Time) MessageOption {
	return func(m *Message) {
		m.CreatedAt = t
	}
}

// NewMessage creates an unpersisted message. CreatedAt is left zero so that
// the store can stamp it on insertion.
func NewMessage(role Role, content string, options ...MessageOption) *Message {
	ret := &Message{
		Role:    role,
		Content: content,
		Images:  []string{},
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

func (m *Message) IsAssistant() bool {
	return m != nil && m.Role == RoleAssistant
}

// LastStep returns the tail of the execution trace, or nil.
func (m *Message) LastStep() *Step {
	if m == nil || len(m.Steps) == 0 {
		return nil
	}
	return &m.Steps[len(m.Steps)-1]
}

// DiagramCode returns the content of the latest tool_end step carrying output.
func (m *Message) DiagramCode() (string, bool) {
	if m == nil {
		return "", false
	}
	for i := len(m.Steps) - 1; i >= 0; i-- {
		s := m.Steps[i]
		if s.Type == StepToolEnd && s.Content != "" {
			return s.Content, true
		}
	}
	return "", false
}

// Conversation is a linear sequence of messages, typically the active path.
type Conversation []*Message

func (c Conversation) Last() *Message {
	if len(c) == 0 {
		return nil
	}
	return c[len(c)-1]
}

func (c Conversation) IDs() []MessageID {
	ret := make([]MessageID, 0, len(c))
	for _, m := range c {
		ret = append(ret, m.ID)
	}
	return ret
}

// LastIndexOfRole returns the position of the newest message with the given role, or -1.
func (c Conversation) LastIndexOfRole(role Role) int {
	for i := len(c) - 1; i >= 0; i-- {
		if c[i].Role == role {
			return i
		}
	}
	return -1
}

// LastPersistedID returns the id of the newest message that has one.
func (c Conversation) LastPersistedID() MessageID {
	for i := len(c) - 1; i >= 0; i-- {
		if c[i].ID.IsSet() {
			return c[i].ID
		}
	}
	return NoMessage
}

type SessionID int64

const NoSession SessionID = 0

func (id SessionID) IsSet() bool {
	return id != NoSession
}

func (id SessionID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// Session is an entry of the session listing.
type Session struct {
	ID        SessionID `json:"id" yaml:"id"`
	Title     string    `json:"title" yaml:"title"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}
