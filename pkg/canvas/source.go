package canvas

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-go-golems/deepdiagram/pkg/conversation"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// SourceAgent exports the raw diagram code to a file.
type SourceAgent struct {
	mu    sync.Mutex
	dir   string
	now   func() time.Time
	agent conversation.AgentType
	code  string
	last  string
}

type SourceAgentOption func(*SourceAgent)

func WithClock(now func() time.Time) SourceAgentOption {
	return func(s *SourceAgent) {
		s.now = now
	}
}

func NewSourceAgent(dir string, options ...SourceAgentOption) *SourceAgent {
	ret := &SourceAgent{
		dir: dir,
		now: time.Now,
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

// Extension is the file extension used for the code of an agent.
func Extension(agent conversation.AgentType) string {
	switch agent {
	case conversation.AgentMermaid:
		return ".mmd"
	case conversation.AgentDrawio:
		return ".drawio"
	case conversation.AgentFlowchart, conversation.AgentCharts:
		return ".json"
	case conversation.AgentInfographic:
		return ".txt"
	default:
		return ".md"
	}
}

func (s *SourceAgent) SetCode(agent conversation.AgentType, code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agent = agent
	s.code = code
}

func (s *SourceAgent) HandleDownload(_ context.Context, format Format) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if format != FormatSource {
		return errors.Errorf("%s export is not supported for %s, only source", format, s.agent)
	}
	if s.code == "" {
		return errors.New("no diagram to export")
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return errors.Wrapf(err, "could not create %s", s.dir)
	}

	name := fmt.Sprintf("%s-%s%s", s.agent, s.now().Format("20060102-150405"), Extension(s.agent))
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, []byte(s.code), 0o644); err != nil {
		return errors.Wrapf(err, "could not write %s", path)
	}
	s.last = path
	log.Info().Str("path", path).Str("agent", string(s.agent)).Msg("exported diagram source")
	return nil
}

// LastExport returns the path written by the latest successful download.
func (s *SourceAgent) LastExport() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}
