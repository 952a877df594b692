package canvas

import (
	"context"
	"sync"

	"github.com/go-go-golems/deepdiagram/pkg/conversation"
	"github.com/go-go-golems/deepdiagram/pkg/events"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type Format string

const (
	FormatPNG    Format = "png"
	FormatSVG    Format = "svg"
	FormatSource Format = "source"
)

// Agent renders the diagram code of one agent type.
type Agent interface {
	HandleDownload(ctx context.Context, format Format) error
}

// ViewResetter is implemented by agents whose viewport can be reset.
type ViewResetter interface {
	ResetView()
}

// CodeSetter is implemented by agents that want to be fed the current code.
type CodeSetter interface {
	SetCode(agent conversation.AgentType, code string)
}

// Reporter receives rendering outcomes. *chatstore.Store implements it.
type Reporter interface {
	ReportError(msg string)
	ReportSuccess()
}

type ViewSource interface {
	View() conversation.View
}

// Canvas dispatches the current view to the registered rendering agents.
type Canvas struct {
	mu       sync.Mutex
	agents   map[conversation.AgentType]Agent
	fallback Agent
	reporter Reporter
	source   ViewSource

	events.NopHandler
}

type Option func(*Canvas)

// WithFallback serves agent types that have no agent of their own.
func WithFallback(agent Agent) Option {
	return func(c *Canvas) {
		c.fallback = agent
	}
}

func WithAgent(agentType conversation.AgentType, agent Agent) Option {
	return func(c *Canvas) {
		c.agents[agentType] = agent
	}
}

func New(source ViewSource, reporter Reporter, options ...Option) *Canvas {
	ret := &Canvas{
		agents:   map[conversation.AgentType]Agent{},
		reporter: reporter,
		source:   source,
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

func (c *Canvas) Register(agentType conversation.AgentType, agent Agent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.agents[agentType] = agent
}

func (c *Canvas) agentFor(agentType conversation.AgentType) Agent {
	c.mu.Lock()
	defer c.mu.Unlock()
	if a, ok := c.agents[agentType]; ok {
		return a
	}
	return c.fallback
}

// Refresh feeds the current view to its agent and returns that agent.
func (c *Canvas) Refresh() (Agent, conversation.View) {
	view := c.source.View()
	agent := c.agentFor(view.Agent)
	if setter, ok := agent.(CodeSetter); ok {
		setter.SetCode(view.Agent, view.Code)
	}
	return agent, view
}

// Download asks the active agent to export the current diagram. The outcome
// is reported back to the store.
func (c *Canvas) Download(ctx context.Context, format Format) error {
	agent, view := c.Refresh()
	if agent == nil {
		err := errors.Errorf("no rendering agent for %s", view.Agent)
		c.reporter.ReportError(err.Error())
		return err
	}

	if err := agent.HandleDownload(ctx, format); err != nil {
		log.Debug().Err(err).Str("agent", string(view.Agent)).Str("format", string(format)).Msg("download failed")
		c.reporter.ReportError(err.Error())
		return err
	}
	c.reporter.ReportSuccess()
	return nil
}

// ResetView resets the active agent's viewport. It returns false if the
// agent does not support it.
func (c *Canvas) ResetView() bool {
	agent, _ := c.Refresh()
	resetter, ok := agent.(ViewResetter)
	if !ok {
		return false
	}
	resetter.ResetView()
	return true
}

func (c *Canvas) HandleViewChanged(_ context.Context, e *events.EventViewChanged) error {
	log.Trace().Str("agent", string(e.View.Agent)).Int("code_length", len(e.View.Code)).Msg("view changed")
	c.Refresh()
	return nil
}

var _ events.Handler = &Canvas{}
