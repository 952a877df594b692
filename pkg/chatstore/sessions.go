package chatstore

import (
	"context"

	"github.com/go-go-golems/deepdiagram/pkg/conversation"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var ErrNoBackend = errors.New("store has no session backend")

func (s *Store) Sessions() []conversation.Session {
	s.lock()
	defer s.unlock()
	return append([]conversation.Session{}, s.sessions...)
}

// LoadSessions refreshes the session listing. On failure the listing is kept.
func (s *Store) LoadSessions(ctx context.Context) error {
	if s.backend == nil {
		return ErrNoBackend
	}
	sessions, err := s.backend.ListSessions(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to load sessions")
		return errors.Wrap(err, "failed to load sessions")
	}

	s.lock()
	defer s.unlock()
	s.sessions = sessions
	return nil
}

// SelectSession makes id the active session and hydrates it from the backend.
// The previous path is cleared right away; a failed fetch leaves it empty.
func (s *Store) SelectSession(ctx context.Context, id conversation.SessionID) error {
	if s.backend == nil {
		return ErrNoBackend
	}

	s.lock()
	s.resetLocked()
	s.sessionID = id
	s.isLoading = true
	generation := s.generation
	s.unlock()

	msgs, err := s.backend.GetSessionMessages(ctx, id)

	s.lock()
	defer s.unlock()

	if generation != s.generation {
		log.Debug().Str("session_id", id.String()).Msg("session changed while loading, discarding history")
		return nil
	}
	if err != nil {
		s.isLoading = false
		log.Error().Err(err).Str("session_id", id.String()).Msg("failed to load session history")
		return errors.Wrapf(err, "failed to load session %s", id)
	}

	s.hydrateLocked(msgs)
	s.isLoading = false
	log.Debug().
		Str("session_id", id.String()).
		Int("messages", len(msgs)).
		Int("path_length", len(s.messages)).
		Msg("hydrated session")
	return nil
}

// Hydrate replaces the session with an already fetched message list.
func (s *Store) Hydrate(id conversation.SessionID, msgs []*conversation.Message) {
	s.lock()
	defer s.unlock()
	s.resetLocked()
	s.sessionID = id
	s.hydrateLocked(msgs)
}

// hydrateLocked builds the arena and resolves the path ending at the last
// message of the list.
func (s *Store) hydrateLocked(msgs []*conversation.Message) {
	s.tree = conversation.NewTree(msgs...)
	s.selections = conversation.Selections{}
	s.messages = nil
	if len(msgs) > 0 {
		s.messages = s.tree.ResolveFrom(msgs[len(msgs)-1], s.selections)
	}
	s.setViewLocked(conversation.DeriveView(s.messages, conversation.DefaultAgent))
}

// resetLocked drops the current conversation and cancels any stream in flight.
func (s *Store) resetLocked() {
	s.generation++
	s.target = nil
	s.isStreamingCode = false
	s.activeStepRef = nil
	s.tree = conversation.NewTree()
	s.messages = nil
	s.selections = conversation.Selections{}
}

// CreateNewChat starts an empty, unsaved conversation.
func (s *Store) CreateNewChat() {
	s.lock()
	defer s.unlock()

	s.resetLocked()
	s.sessionID = conversation.NoSession
	s.isLoading = false
	s.input = ""
	s.inputImages = []string{}
	s.setViewLocked(conversation.DeriveView(nil, s.view.Agent))
}

// DeleteSession deletes id on the backend. Deleting the active session also
// clears the conversation.
func (s *Store) DeleteSession(ctx context.Context, id conversation.SessionID) error {
	if s.backend == nil {
		return ErrNoBackend
	}
	if err := s.backend.DeleteSession(ctx, id); err != nil {
		log.Error().Err(err).Str("session_id", id.String()).Msg("failed to delete session")
		return errors.Wrapf(err, "failed to delete session %s", id)
	}

	s.lock()
	defer s.unlock()

	sessions := s.sessions[:0]
	for _, session := range s.sessions {
		if session.ID != id {
			sessions = append(sessions, session)
		}
	}
	s.sessions = sessions

	if s.sessionID == id {
		s.resetLocked()
		s.sessionID = conversation.NoSession
		s.setViewLocked(conversation.DeriveView(nil, s.view.Agent))
	}
	return nil
}

// SwitchMessageVersion makes id part of the active path, keeping the chosen
// versions below it. Unknown ids are ignored.
func (s *Store) SwitchMessageVersion(id conversation.MessageID) bool {
	s.lock()
	defer s.unlock()
	return s.switchLocked(id)
}

func (s *Store) switchLocked(id conversation.MessageID) bool {
	path := s.tree.ResolvePath(id, s.selections)
	if path == nil {
		log.Debug().Str("message_id", id.String()).Msg("cannot switch to unknown message")
		return false
	}
	s.messages = path
	if s.target != nil && s.messages.Last() != s.target {
		s.target = nil
	}
	s.setViewLocked(conversation.DeriveView(s.messages, s.view.Agent))
	return true
}

func (s *Store) VersionInfo(id conversation.MessageID) (conversation.VersionInfo, bool) {
	s.lock()
	defer s.unlock()
	return s.tree.VersionInfo(id)
}

// NextVersion switches to the sibling created after id.
func (s *Store) NextVersion(id conversation.MessageID) bool {
	return s.shiftVersion(id, 1)
}

// PreviousVersion switches to the sibling created before id.
func (s *Store) PreviousVersion(id conversation.MessageID) bool {
	return s.shiftVersion(id, -1)
}

func (s *Store) shiftVersion(id conversation.MessageID, offset int) bool {
	s.lock()
	defer s.unlock()

	siblings := s.tree.Siblings(id)
	for i, m := range siblings {
		if m.ID != id {
			continue
		}
		j := i + offset
		if j < 0 || j >= len(siblings) {
			return false
		}
		return s.switchLocked(siblings[j].ID)
	}
	return false
}

// SyncCodeToMessage shows the diagram of a single message without changing
// the active path.
func (s *Store) SyncCodeToMessage(id conversation.MessageID) bool {
	s.lock()
	defer s.unlock()

	m, ok := s.tree.Get(id)
	if !ok {
		return false
	}
	code, ok := m.DiagramCode()
	if !ok {
		return false
	}
	s.setViewLocked(conversation.ViewOf(m, code, s.view.Agent))
	return true
}

// SyncToLatest re-derives the view from the active path.
func (s *Store) SyncToLatest() {
	s.lock()
	defer s.unlock()
	s.syncToLatestLocked()
}

func (s *Store) syncToLatestLocked() {
	s.setViewLocked(conversation.DeriveView(s.messages, s.view.Agent))
}
