package cmds

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/go-go-golems/deepdiagram/pkg/api"
	"github.com/go-go-golems/deepdiagram/pkg/chatstore"
	"github.com/go-go-golems/deepdiagram/pkg/config"
	"github.com/go-go-golems/deepdiagram/pkg/conversation"
	"github.com/go-go-golems/deepdiagram/pkg/events"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// App bundles what a command needs to talk to the backend.
type App struct {
	Settings *config.Settings
	Client   *api.Client
	Store    *chatstore.Store
}

func NewApp(options ...chatstore.Option) (*App, error) {
	settings, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	client, err := api.NewClient(settings.BaseURL, api.WithTimeout(settings.Timeout))
	if err != nil {
		return nil, err
	}

	options = append([]chatstore.Option{chatstore.WithBackend(client)}, options...)
	store := chatstore.NewStore(options...)
	store.SetAgent(settings.Agent())

	log.Debug().Str("base_url", settings.BaseURL).Msg("created client")
	return &App{
		Settings: settings,
		Client:   client,
		Store:    store,
	}, nil
}

// NewRouter creates the event bus of a command, logging through zerolog with --verbose.
func NewRouter() (*events.EventRouter, error) {
	return events.NewEventRouter(events.WithVerbose(viper.GetBool("verbose")))
}

// toastPrinter prints toasts to the terminal as they are raised.
type toastPrinter struct {
	events.NopHandler
	w io.Writer
}

func (t *toastPrinter) HandleToast(_ context.Context, e *events.EventToast) error {
	_, err := fmt.Fprintf(t.w, "[%s] %s\n", e.ToastType, e.Message)
	return err
}

const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

func addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("output", "o", outputText, "Output format (text, json, yaml)")
	cmd.Flags().Bool("render", false, "Render assistant answers as markdown")
}

type outputSettings struct {
	Format string
	Render bool
}

func getOutputSettings(cmd *cobra.Command) (*outputSettings, error) {
	format, err := cmd.Flags().GetString("output")
	if err != nil {
		return nil, err
	}
	switch format {
	case outputText, outputJSON, outputYAML:
	default:
		return nil, errors.Errorf("unknown output format %s", format)
	}
	render, err := cmd.Flags().GetBool("render")
	if err != nil {
		return nil, err
	}
	return &outputSettings{Format: format, Render: render}, nil
}

func writeStructured(w io.Writer, format string, v interface{}) error {
	switch format {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer func(enc *yaml.Encoder) {
			_ = enc.Close()
		}(enc)
		return enc.Encode(v)
	}
	return errors.Errorf("unknown output format %s", format)
}

// pathOutput is the structured rendition of the active path of a store.
type pathOutput struct {
	SessionID  conversation.SessionID    `json:"session_id" yaml:"session_id"`
	Messages   conversation.Conversation `json:"messages" yaml:"messages"`
	Versions   map[string]string         `json:"versions" yaml:"versions"`
	Selections conversation.Selections   `json:"selected_versions" yaml:"selected_versions"`
	View       conversation.View         `json:"view" yaml:"view"`
}

func writeState(w io.Writer, store *chatstore.Store, settings *outputSettings) error {
	state := store.Snapshot()

	versions := map[string]string{}
	for _, m := range state.Messages {
		if info, ok := store.VersionInfo(m.ID); ok && info.Total > 1 {
			versions[m.ID.String()] = fmt.Sprintf("%d/%d", info.Current, info.Total)
		}
	}

	if settings.Format != outputText {
		return writeStructured(w, settings.Format, &pathOutput{
			SessionID:  state.SessionID,
			Messages:   state.Messages,
			Versions:   versions,
			Selections: state.Selections,
			View:       state.View,
		})
	}

	if state.SessionID.IsSet() {
		_, _ = fmt.Fprintf(w, "session %s\n\n", state.SessionID)
	}
	for _, m := range state.Messages {
		header := fmt.Sprintf("[%s] %s", m.ID, m.Role)
		if m.Agent != "" {
			header += " (" + string(m.Agent) + ")"
		}
		if v, ok := versions[m.ID.String()]; ok {
			header += " version " + v
		}
		_, _ = fmt.Fprintln(w, header)

		content := m.Content
		if settings.Render && m.IsAssistant() && content != "" {
			rendered, err := glamour.Render(content, "dark")
			if err != nil {
				return errors.Wrap(err, "could not render markdown")
			}
			content = rendered
		}
		if content != "" {
			_, _ = fmt.Fprintln(w, indent(content, "  "))
		}
		for _, s := range m.Steps {
			line := fmt.Sprintf("  - %s", s.Type)
			if s.Name != "" {
				line += " " + s.Name
			}
			line += " [" + string(s.Status) + "]"
			if s.IsError {
				line += " error: " + s.Error
			}
			_, _ = fmt.Fprintln(w, line)
		}
	}

	_, _ = fmt.Fprintf(w, "\nagent: %s\n", state.View.Agent)
	if state.View.Code == "" {
		_, _ = fmt.Fprintln(w, "no diagram")
		return nil
	}
	_, _ = fmt.Fprintf(w, "--- code ---\n%s\n", strings.TrimRight(state.View.Code, "\n"))
	return nil
}

func indent(s string, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}
