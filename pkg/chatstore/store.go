package chatstore

import (
	"context"
	"sync"
	"time"

	"github.com/go-go-golems/deepdiagram/pkg/conversation"
	"github.com/go-go-golems/deepdiagram/pkg/events"
	clone "github.com/huandu/go-clone"
	"github.com/rs/zerolog/log"
)

// SessionBackend is the part of the backend API the store hydrates from.
type SessionBackend interface {
	ListSessions(ctx context.Context) ([]conversation.Session, error)
	GetSessionMessages(ctx context.Context, id conversation.SessionID) ([]*conversation.Message, error)
	DeleteSession(ctx context.Context, id conversation.SessionID) error
}

// StepRef addresses the step a rendering agent is currently working for.
type StepRef struct {
	MessageIndex int `json:"messageIndex" yaml:"messageIndex"`
	StepIndex    int `json:"stepIndex" yaml:"stepIndex"`
}

type Toast struct {
	Message string           `json:"message" yaml:"message"`
	Type    events.ToastType `json:"type" yaml:"type"`
}

// Store holds the conversation state of one client instance.
//
// All mutations are serialised by a mutex. Events produced while the lock is
// held are published once it is released, so that bus handlers may call back
// into the store.
type Store struct {
	mu sync.Mutex

	backend SessionBackend
	sink    events.EventSink
	now     func() time.Time

	tree       *conversation.Tree
	messages   conversation.Conversation
	selections conversation.Selections
	view       conversation.View

	sessionID conversation.SessionID
	sessions  []conversation.Session

	input           string
	inputImages     []string
	isLoading       bool
	isStreamingCode bool
	toast           *Toast
	activeStepRef   *StepRef

	// target is the assistant message currently being streamed into
	target *conversation.Message
	// generation is bumped on every session switch and new chat
	generation uint64

	pending []events.Event
}

type Option func(*Store)

func WithBackend(backend SessionBackend) Option {
	return func(s *Store) {
		s.backend = backend
	}
}

func WithEventSink(sink events.EventSink) Option {
	return func(s *Store) {
		s.sink = sink
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func NewStore(options ...Option) *Store {
	ret := &Store{
		now:         time.Now,
		tree:        conversation.NewTree(),
		selections:  conversation.Selections{},
		view:        conversation.View{Agent: conversation.DefaultAgent},
		inputImages: []string{},
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

func (s *Store) lock() {
	s.mu.Lock()
}

func (s *Store) unlock() {
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	if s.sink == nil {
		return
	}
	for _, e := range pending {
		if err := s.sink.PublishEvent(e); err != nil {
			log.Error().Err(err).Str("event_type", string(e.Type())).Msg("failed to publish store event")
		}
	}
}

func (s *Store) emit(e events.Event) {
	s.pending = append(s.pending, e)
}

func (s *Store) metadata() events.EventMetadata {
	return events.NewEventMetadata(s.sessionID)
}

// State is a deep copy of the store, safe to read without locking.
type State struct {
	Messages        conversation.Conversation `json:"messages" yaml:"messages"`
	AllMessages     conversation.Conversation `json:"all_messages" yaml:"all_messages"`
	Selections      conversation.Selections   `json:"selected_versions" yaml:"selected_versions"`
	View            conversation.View         `json:"view" yaml:"view"`
	SessionID       conversation.SessionID    `json:"session_id" yaml:"session_id"`
	Sessions        []conversation.Session    `json:"sessions" yaml:"sessions"`
	Input           string                    `json:"input" yaml:"input"`
	InputImages     []string                  `json:"input_images" yaml:"input_images"`
	IsLoading       bool                      `json:"is_loading" yaml:"is_loading"`
	IsStreamingCode bool                      `json:"is_streaming_code" yaml:"is_streaming_code"`
	Toast           *Toast                    `json:"toast,omitempty" yaml:"toast,omitempty"`
	ActiveStepRef   *StepRef                  `json:"active_step_ref,omitempty" yaml:"active_step_ref,omitempty"`
}

// Snapshot returns a deep copy of the current state. Messages shared by
// Messages and AllMessages stay shared in the copy.
func (s *Store) Snapshot() *State {
	s.lock()
	defer s.unlock()

	state := &State{
		Messages:        s.messages,
		AllMessages:     s.tree.Messages(),
		Selections:      s.selections,
		View:            s.view,
		SessionID:       s.sessionID,
		Sessions:        s.sessions,
		Input:           s.input,
		InputImages:     s.inputImages,
		IsLoading:       s.isLoading,
		IsStreamingCode: s.isStreamingCode,
		Toast:           s.toast,
		ActiveStepRef:   s.activeStepRef,
	}
	return clone.Slowly(state).(*State)
}

// Messages returns the active path. The messages are live; use Snapshot to
// inspect them while a stream may be writing.
func (s *Store) Messages() conversation.Conversation {
	s.lock()
	defer s.unlock()
	ret := make(conversation.Conversation, len(s.messages))
	copy(ret, s.messages)
	return ret
}

// AllMessages returns every message known for the session, in arrival order.
func (s *Store) AllMessages() conversation.Conversation {
	s.lock()
	defer s.unlock()
	return s.tree.Messages()
}

func (s *Store) Selections() conversation.Selections {
	s.lock()
	defer s.unlock()
	return s.selections.Clone()
}

func (s *Store) View() conversation.View {
	s.lock()
	defer s.unlock()
	return s.view
}

func (s *Store) SessionID() conversation.SessionID {
	s.lock()
	defer s.unlock()
	return s.sessionID
}

func (s *Store) Toast() *Toast {
	s.lock()
	defer s.unlock()
	if s.toast == nil {
		return nil
	}
	t := *s.toast
	return &t
}

func (s *Store) IsLoading() bool {
	s.lock()
	defer s.unlock()
	return s.isLoading
}

func (s *Store) IsStreamingCode() bool {
	s.lock()
	defer s.unlock()
	return s.isStreamingCode
}

func (s *Store) Input() string {
	s.lock()
	defer s.unlock()
	return s.input
}

func (s *Store) InputImages() []string {
	s.lock()
	defer s.unlock()
	return append([]string{}, s.inputImages...)
}

func (s *Store) SetInput(input string) {
	s.lock()
	defer s.unlock()
	s.input = input
}

func (s *Store) SetInputImages(images []string) {
	s.lock()
	defer s.unlock()
	s.inputImages = append([]string{}, images...)
}

func (s *Store) AddInputImage(image string) {
	s.lock()
	defer s.unlock()
	s.inputImages = append(s.inputImages, image)
}

func (s *Store) ClearInputImages() {
	s.lock()
	defer s.unlock()
	s.inputImages = []string{}
}

func (s *Store) SetLoading(loading bool) {
	s.lock()
	defer s.unlock()
	s.isLoading = loading
}

func (s *Store) SetStreamingCode(streaming bool) {
	s.lock()
	defer s.unlock()
	s.isStreamingCode = streaming
}

func (s *Store) SetSessionID(id conversation.SessionID) {
	s.lock()
	defer s.unlock()
	s.sessionID = id
}

// SetAgent changes the active agent without touching the current code.
func (s *Store) SetAgent(agent conversation.AgentType) {
	s.lock()
	defer s.unlock()
	s.setViewLocked(conversation.View{Code: s.view.Code, Agent: agent})
}

// SetCurrentCode replaces the code shown on the canvas.
func (s *Store) SetCurrentCode(code string) {
	s.lock()
	defer s.unlock()
	s.setViewLocked(conversation.View{Code: code, Agent: s.view.Agent})
}

func (s *Store) setViewLocked(view conversation.View) {
	if view == s.view {
		return
	}
	s.view = view
	s.emit(events.NewViewChangedEvent(s.metadata(), view))
}

// AddMessage appends m to the active path and to the arena. An assistant
// message becomes the streaming target.
func (s *Store) AddMessage(m *conversation.Message) *conversation.Message {
	s.lock()
	defer s.unlock()
	return s.addMessageLocked(m)
}

func (s *Store) addMessageLocked(m *conversation.Message) *conversation.Message {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	if m.Images == nil {
		m.Images = []string{}
	}

	s.messages = append(s.messages, m)
	s.tree.Insert(m)
	s.selectLocked(m)

	if m.IsAssistant() {
		s.target = m
	} else {
		s.target = nil
	}

	log.Trace().
		Str("role", string(m.Role)).
		Str("message_id", m.ID.String()).
		Int("path_length", len(s.messages)).
		Msg("added message")
	return m
}

// SetMessages replaces the active path. The arena is left untouched.
func (s *Store) SetMessages(msgs conversation.Conversation) {
	s.lock()
	defer s.unlock()

	s.messages = append(conversation.Conversation{}, msgs...)
	if s.target != nil && s.messages.Last() != s.target {
		s.target = nil
	}
}

// UpdateLastMessage overwrites the content of the streaming assistant message.
func (s *Store) UpdateLastMessage(content string) {
	s.lock()
	defer s.unlock()
	updateContent(s.tailLocked(), content)
}

func updateContent(m *conversation.Message, content string) {
	if !m.IsAssistant() {
		return
	}
	m.Content = content
}

// ConfirmMessage attaches the backend id of a freshly persisted message to the
// newest unpersisted message of that role on the active path.
func (s *Store) ConfirmMessage(role conversation.Role, id conversation.MessageID) {
	s.lock()
	defer s.unlock()
	s.confirmMessageLocked(role, id)
}

func (s *Store) confirmMessageLocked(role conversation.Role, id conversation.MessageID) {
	if !id.IsSet() {
		return
	}
	if _, ok := s.tree.Get(id); ok {
		log.Trace().Str("message_id", id.String()).Msg("message already known")
		return
	}

	for i := len(s.messages) - 1; i >= 0; i-- {
		m := s.messages[i]
		if m.Role != role || m.ID.IsSet() {
			continue
		}
		m.ID = id
		if !m.ParentID.IsSet() {
			m.ParentID = s.messages[:i].LastPersistedID()
		}
		s.tree.Index(m)
		s.selectLocked(m)
		log.Debug().
			Str("role", string(role)).
			Str("message_id", id.String()).
			Str("parent_id", m.ParentID.String()).
			Msg("confirmed message")
		return
	}

	log.Debug().Str("role", string(role)).Str("message_id", id.String()).Msg("no pending message to confirm")
}

// selectLocked records m as the chosen version of its parent.
func (s *Store) selectLocked(m *conversation.Message) {
	if m.ID.IsSet() && m.ParentID.IsSet() {
		s.selections[m.ParentID] = m.ID
	}
}

// LastAssistantIndex returns the position of the newest assistant message on
// the active path, or -1.
func (s *Store) LastAssistantIndex() int {
	s.lock()
	defer s.unlock()
	return s.messages.LastIndexOfRole(conversation.RoleAssistant)
}

// RequestRegenerate broadcasts the retry signal for the newest assistant
// message of the active path. It returns false when there is none.
func (s *Store) RequestRegenerate() (int, bool) {
	s.lock()
	defer s.unlock()

	idx := s.messages.LastIndexOfRole(conversation.RoleAssistant)
	if idx < 0 {
		return -1, false
	}
	s.emit(events.NewRetryEvent(s.metadata(), idx))
	return idx, true
}
