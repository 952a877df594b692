package config

import (
	"time"

	"github.com/go-go-golems/deepdiagram/pkg/conversation"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	DefaultBaseURL   = "http://localhost:8000"
	DefaultTimeout   = 60 * time.Second
	DefaultExportDir = "."
)

// Settings are the client settings, read from flags, DEEPDIAGRAM_* environment
// variables and the config file, in that order of precedence.
type Settings struct {
	BaseURL      string        `mapstructure:"base-url"`
	Timeout      time.Duration `mapstructure:"timeout"`
	DefaultAgent string        `mapstructure:"default-agent"`
	ExportDir    string        `mapstructure:"export-dir"`
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("base-url", DefaultBaseURL)
	v.SetDefault("timeout", DefaultTimeout)
	v.SetDefault("default-agent", string(conversation.DefaultAgent))
	v.SetDefault("export-dir", DefaultExportDir)
}

func Load(v *viper.Viper) (*Settings, error) {
	SetDefaults(v)

	ret := &Settings{}
	if err := v.Unmarshal(ret); err != nil {
		return nil, errors.Wrap(err, "could not decode settings")
	}
	if err := ret.Validate(); err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *Settings) Validate() error {
	if s.BaseURL == "" {
		return errors.New("base-url must not be empty")
	}
	if s.Timeout < 0 {
		return errors.Errorf("timeout must not be negative, got %s", s.Timeout)
	}
	if _, err := conversation.ParseAgentType(s.DefaultAgent); err != nil {
		return errors.Wrap(err, "invalid default-agent")
	}
	return nil
}

func (s *Settings) Agent() conversation.AgentType {
	return conversation.AgentType(s.DefaultAgent)
}
