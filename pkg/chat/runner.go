package chat

import (
	"context"
	"io"
	"strings"

	"github.com/go-go-golems/deepdiagram/pkg/api"
	"github.com/go-go-golems/deepdiagram/pkg/chatstore"
	"github.com/go-go-golems/deepdiagram/pkg/conversation"
	"github.com/go-go-golems/deepdiagram/pkg/events"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// EventStream is an open chat completion response.
type EventStream interface {
	Next() (*api.StreamEvent, error)
	Close() error
}

type Streamer interface {
	StreamChat(ctx context.Context, request api.ChatRequest) (EventStream, error)
}

// ClientStreamer adapts an api.Client to Streamer.
type ClientStreamer struct {
	Client *api.Client
}

func (c ClientStreamer) StreamChat(ctx context.Context, request api.ChatRequest) (EventStream, error) {
	return c.Client.StreamChat(ctx, request)
}

// Runner sends prompts to the backend and applies the streamed answer to a store.
type Runner struct {
	events.NopHandler

	store    *chatstore.Store
	streamer Streamer
	agent    conversation.AgentType
	onEvent  func(*api.StreamEvent)
}

type RunnerOption func(*Runner)

// WithForcedAgent asks the backend to skip routing and use agent.
func WithForcedAgent(agent conversation.AgentType) RunnerOption {
	return func(r *Runner) {
		r.agent = agent
	}
}

// WithEventCallback is called for every streamed event after it was applied.
func WithEventCallback(f func(*api.StreamEvent)) RunnerOption {
	return func(r *Runner) {
		r.onEvent = f
	}
}

func NewRunner(store *chatstore.Store, streamer Streamer, options ...RunnerOption) *Runner {
	ret := &Runner{
		store:    store,
		streamer: streamer,
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

var _ events.Handler = &Runner{}

// Send appends the prompt and an empty assistant answer to the active path,
// then streams the backend's reply into that answer.
func (r *Runner) Send(ctx context.Context, prompt string, images []string) error {
	path := r.store.Messages()
	parentID := path.LastPersistedID()

	r.store.AddMessage(conversation.NewMessage(conversation.RoleUser, prompt,
		conversation.WithParentID(parentID),
		conversation.WithImages(images...)))
	r.store.AddMessage(conversation.NewMessage(conversation.RoleAssistant, ""))

	return r.run(ctx, api.ChatRequest{
		SessionID: r.store.SessionID(),
		AgentID:   r.agent,
		Prompt:    prompt,
		Images:    images,
		ParentID:  parentID,
		Context:   api.ChatContext{CurrentCode: r.store.View().Code},
	})
}

// Regenerate replaces the assistant message at index of the active path with
// a new version, re-sending the user prompt it answered.
func (r *Runner) Regenerate(ctx context.Context, index int) error {
	path := r.store.Messages()
	if index <= 0 || index >= len(path) {
		return errors.Errorf("no message at index %d", index)
	}
	assistant, user := path[index], path[index-1]
	if !assistant.IsAssistant() {
		return errors.Errorf("message at index %d is not an assistant message", index)
	}
	if user.Role != conversation.RoleUser || !user.ID.IsSet() {
		return errors.Errorf("message at index %d does not answer a persisted prompt", index)
	}

	r.store.SetMessages(path[:index])
	r.store.AddMessage(conversation.NewMessage(conversation.RoleAssistant, "",
		conversation.WithParentID(user.ID)))

	return r.run(ctx, api.ChatRequest{
		SessionID: r.store.SessionID(),
		AgentID:   r.agent,
		Prompt:    user.Content,
		Images:    user.Images,
		ParentID:  user.ID,
		IsRetry:   true,
		Context:   api.ChatContext{CurrentCode: r.store.View().Code},
	})
}

// HandleRetry regenerates in response to the retry signal.
func (r *Runner) HandleRetry(ctx context.Context, e *events.EventRetry) error {
	log.Debug().Int("index", e.Index).Msg("regenerating assistant message")
	if err := r.Regenerate(ctx, e.Index); err != nil {
		r.store.ReportError(err.Error())
		return err
	}
	return nil
}

func (r *Runner) run(ctx context.Context, request api.ChatRequest) error {
	r.store.SetLoading(true)
	ticket := r.store.BeginStream()
	end := func() {
		r.store.ApplyWithTicket(ticket, func(tx *chatstore.Tx) {
			tx.End()
		})
	}

	stream, err := r.streamer.StreamChat(ctx, request)
	if err != nil {
		r.store.ApplyWithTicket(ticket, func(tx *chatstore.Tx) {
			tx.ReportError(err.Error())
		})
		end()
		return errors.Wrap(err, "could not start chat stream")
	}
	defer func() {
		_ = stream.Close()
	}()

	a := &applier{}
	for {
		ev, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			r.store.ApplyWithTicket(ticket, func(tx *chatstore.Tx) {
				tx.ReportError(err.Error())
			})
			end()
			return errors.Wrap(err, "chat stream interrupted")
		}

		var applyErr error
		applied := r.store.ApplyWithTicket(ticket, func(tx *chatstore.Tx) {
			applyErr = a.apply(tx, ev)
		})
		if applyErr != nil {
			log.Warn().Err(applyErr).Str("event_type", ev.Event).Msg("skipping malformed stream event")
		}
		if !applied {
			// the session changed under us, nobody is interested in the rest
			return nil
		}
		if r.onEvent != nil {
			r.onEvent(ev)
		}
	}

	end()
	return nil
}

// applier translates stream events into store mutations. It keeps the
// assistant text accumulated so far.
type applier struct {
	content strings.Builder
	// streaming is set once the running tool has started emitting code
	streaming bool
}

func (a *applier) apply(tx *chatstore.Tx, ev *api.StreamEvent) error {
	log.Trace().Str("event_type", ev.Event).Int("size", len(ev.Data)).Msg("applying stream event")

	switch ev.Event {
	case api.EventSessionCreated:
		var p api.SessionCreated
		if err := ev.Decode(&p); err != nil {
			return err
		}
		tx.SetSessionID(p.SessionID)

	case api.EventMessageCreated:
		var p api.MessageCreated
		if err := ev.Decode(&p); err != nil {
			return err
		}
		tx.ConfirmMessage(p.Role, p.ID)

	case api.EventAgentSelected:
		var p api.AgentSelected
		if err := ev.Decode(&p); err != nil {
			return err
		}
		tx.SelectAgent(p.Agent)
		tx.AddStep(conversation.NewStep(conversation.StepAgentSelect, string(p.Agent), "", conversation.StepDone))

	case api.EventThought:
		var p api.ContentDelta
		if err := ev.Decode(&p); err != nil {
			return err
		}
		a.content.WriteString(p.Content)
		tx.UpdateContent(a.content.String())

	case api.EventToolStart:
		var p api.ToolStart
		if err := ev.Decode(&p); err != nil {
			return err
		}
		step := conversation.NewStep(conversation.StepToolStart, p.Tool, inputText(p.Input), conversation.StepRunning)
		step.IsStreaming = true
		tx.AddStep(step)
		a.streaming = false

	case api.EventToolCode:
		var p api.ContentDelta
		if err := ev.Decode(&p); err != nil {
			return err
		}
		a.streamCode(tx, p.Content)

	case api.EventToolArgsStream:
		var p api.ToolArgsDelta
		if err := ev.Decode(&p); err != nil {
			return err
		}
		if p.Args != "" {
			tx.SetStreamingCode(true)
		}

	case api.EventToolEnd:
		var p api.ToolEnd
		if err := ev.Decode(&p); err != nil {
			return err
		}
		tx.FinishRunningStep(conversation.StepToolStart)
		tx.AddStep(conversation.NewStep(conversation.StepToolEnd, "Result", p.Text(), conversation.StepDone))
		tx.SetStreamingCode(false)
		tx.SyncToLatest()
		a.streaming = false

	case api.EventError:
		var p api.StreamError
		if err := ev.Decode(&p); err != nil {
			return err
		}
		tx.ReportError(p.Message)

	default:
		log.Debug().Str("event_type", ev.Event).Msg("ignoring unknown stream event")
	}
	return nil
}

func (a *applier) streamCode(tx *chatstore.Tx, delta string) {
	if delta == "" {
		return
	}
	tx.UpdateLastStepContent(delta, chatstore.WithStreaming(true))
	tx.SetStreamingCode(true)
	if a.streaming {
		tx.AppendCode(delta)
	} else {
		tx.SetCode(delta)
		a.streaming = true
	}
}

func inputText(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if s == "null" {
		return ""
	}
	return s
}
