package chatstore

import (
	"github.com/go-go-golems/deepdiagram/pkg/conversation"
	"github.com/go-go-golems/deepdiagram/pkg/events"
	"github.com/rs/zerolog/log"
)

// StepUpdate modifies the streamed step after its content delta is applied.
type StepUpdate func(*conversation.Step)

func WithStreaming(streaming bool) StepUpdate {
	return func(s *conversation.Step) {
		s.IsStreaming = streaming
	}
}

func WithStatus(status conversation.StepStatus) StepUpdate {
	return func(s *conversation.Step) {
		s.Status = status
	}
}

// StreamTicket ties streamed events to the session and the assistant message
// they were started for.
type StreamTicket struct {
	generation uint64
	target     *conversation.Message
}

func (t StreamTicket) Target() *conversation.Message {
	return t.target
}

// tailLocked is the message untagged streaming updates apply to: the
// streaming target while it is last on the path, or the last message when no
// stream is in progress.
func (s *Store) tailLocked() *conversation.Message {
	last := s.messages.Last()
	if s.target == nil {
		return last
	}
	if s.target != last {
		log.Debug().Msg("streaming target is no longer the tail of the path")
		return nil
	}
	return s.target
}

func (s *Store) StreamTarget() *conversation.Message {
	s.lock()
	defer s.unlock()
	return s.target
}

// BeginStream returns a ticket for the current session and streaming target.
func (s *Store) BeginStream() StreamTicket {
	s.lock()
	defer s.unlock()
	return StreamTicket{generation: s.generation, target: s.target}
}

// ApplyWithTicket runs apply atomically if the ticket still belongs to the
// current session. Stale tickets are logged and dropped.
func (s *Store) ApplyWithTicket(ticket StreamTicket, apply func(tx *Tx)) bool {
	s.lock()
	defer s.unlock()

	if ticket.generation != s.generation {
		log.Debug().
			Uint64("ticket_generation", ticket.generation).
			Uint64("generation", s.generation).
			Msg("dropping streamed event for a previous session")
		return false
	}
	apply(&Tx{store: s, ticket: ticket})
	return true
}

func (s *Store) AddStepToLastMessage(step conversation.Step) {
	s.lock()
	defer s.unlock()
	addStep(s.tailLocked(), step)
}

func addStep(m *conversation.Message, step conversation.Step) {
	if !m.IsAssistant() {
		return
	}
	m.Steps = append(m.Steps, step)
}

// UpdateLastStepContent appends delta to the content of the last step of the
// streaming message.
func (s *Store) UpdateLastStepContent(delta string, updates ...StepUpdate) {
	s.lock()
	defer s.unlock()
	updateLastStep(s.tailLocked(), delta, updates...)
}

func updateLastStep(m *conversation.Message, delta string, updates ...StepUpdate) {
	if !m.IsAssistant() {
		return
	}
	step := m.LastStep()
	if step == nil {
		return
	}
	step.Content += delta
	for _, u := range updates {
		u(step)
	}
}

// finishRunningStep marks the newest running step of the given type done.
func finishRunningStep(m *conversation.Message, type_ conversation.StepType) {
	if !m.IsAssistant() {
		return
	}
	for i := len(m.Steps) - 1; i >= 0; i-- {
		step := &m.Steps[i]
		if step.Type == type_ && step.Status == conversation.StepRunning {
			step.Status = conversation.StepDone
			step.IsStreaming = false
			return
		}
	}
}

func (s *Store) SetActiveStepRef(ref *StepRef) {
	s.lock()
	defer s.unlock()
	if ref == nil {
		s.activeStepRef = nil
		return
	}
	r := *ref
	s.activeStepRef = &r
}

func (s *Store) ActiveStepRef() *StepRef {
	s.lock()
	defer s.unlock()
	if s.activeStepRef == nil {
		return nil
	}
	r := *s.activeStepRef
	return &r
}

func (s *Store) referencedStepLocked() *conversation.Step {
	ref := s.activeStepRef
	if ref.MessageIndex < 0 || ref.MessageIndex >= len(s.messages) {
		return nil
	}
	m := s.messages[ref.MessageIndex]
	if ref.StepIndex < 0 || ref.StepIndex >= len(m.Steps) {
		return nil
	}
	return &m.Steps[ref.StepIndex]
}

// ReportError marks the step named by the active step reference as failed,
// or the last step of the last message when no reference is set, and raises
// an error toast in every case.
func (s *Store) ReportError(msg string) {
	s.lock()
	defer s.unlock()
	s.reportErrorLocked(msg, s.messages.Last())
}

func (s *Store) reportErrorLocked(msg string, fallback *conversation.Message) {
	var step *conversation.Step
	if s.activeStepRef != nil {
		step = s.referencedStepLocked()
	} else if fallback != nil {
		step = fallback.LastStep()
	}

	if step != nil {
		step.IsError = true
		step.Error = msg
	}

	s.toast = &Toast{Message: msg, Type: events.ToastError}
	s.emit(events.NewToastEvent(s.metadata(), msg, events.ToastError))
}

// ReportSuccess clears the error of the referenced step. Without an active
// step reference it does nothing.
func (s *Store) ReportSuccess() {
	s.lock()
	defer s.unlock()

	if s.activeStepRef == nil {
		return
	}
	if step := s.referencedStepLocked(); step != nil {
		step.IsError = false
		step.Error = ""
	}
}

func (s *Store) ClearToast() {
	s.lock()
	defer s.unlock()
	s.toast = nil
}

// EndStreaming releases the streaming target.
func (s *Store) EndStreaming() {
	s.lock()
	defer s.unlock()
	s.endStreamingLocked(s.target)
}

func (s *Store) endStreamingLocked(target *conversation.Message) {
	if target != nil {
		for i := range target.Steps {
			target.Steps[i].IsStreaming = false
		}
	}
	if s.target != target {
		return
	}
	s.target = nil
	s.isStreamingCode = false
	s.isLoading = false
}

// Tx applies streamed events for the ticket it was created with. It is only
// valid inside ApplyWithTicket.
type Tx struct {
	store  *Store
	ticket StreamTicket
}

// tail is the ticket's target while it is still last on the active path.
func (tx *Tx) tail() *conversation.Message {
	s := tx.store
	if tx.ticket.target == nil {
		return s.tailLocked()
	}
	if s.messages.Last() != tx.ticket.target {
		log.Debug().Msg("ticket target is no longer the tail of the path")
		return nil
	}
	return tx.ticket.target
}

func (tx *Tx) ConfirmMessage(role conversation.Role, id conversation.MessageID) {
	tx.store.confirmMessageLocked(role, id)
}

func (tx *Tx) SetSessionID(id conversation.SessionID) {
	tx.store.sessionID = id
}

// SelectAgent records the agent chosen by the backend on the message and on the canvas.
func (tx *Tx) SelectAgent(agent conversation.AgentType) {
	if m := tx.tail(); m.IsAssistant() {
		m.Agent = agent
	}
	tx.store.setViewLocked(conversation.View{Code: tx.store.view.Code, Agent: agent})
}

func (tx *Tx) UpdateContent(content string) {
	updateContent(tx.tail(), content)
}

func (tx *Tx) AddStep(step conversation.Step) {
	addStep(tx.tail(), step)
}

func (tx *Tx) UpdateLastStepContent(delta string, updates ...StepUpdate) {
	updateLastStep(tx.tail(), delta, updates...)
}

func (tx *Tx) FinishRunningStep(type_ conversation.StepType) {
	finishRunningStep(tx.tail(), type_)
}

func (tx *Tx) SetStreamingCode(streaming bool) {
	tx.store.isStreamingCode = streaming
}

// AppendCode streams a code delta onto the canvas.
func (tx *Tx) AppendCode(delta string) {
	s := tx.store
	s.setViewLocked(conversation.View{Code: s.view.Code + delta, Agent: s.view.Agent})
}

func (tx *Tx) SetCode(code string) {
	s := tx.store
	s.setViewLocked(conversation.View{Code: code, Agent: s.view.Agent})
}

// SyncToLatest re-derives the view from the active path.
func (tx *Tx) SyncToLatest() {
	tx.store.syncToLatestLocked()
}

func (tx *Tx) ReportError(msg string) {
	tx.store.reportErrorLocked(msg, tx.tail())
}

func (tx *Tx) End() {
	tx.store.endStreamingLocked(tx.ticket.target)
}
