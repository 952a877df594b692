package cmds

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/go-go-golems/deepdiagram/pkg/api"
	"github.com/go-go-golems/deepdiagram/pkg/canvas"
	"github.com/go-go-golems/deepdiagram/pkg/chat"
	"github.com/go-go-golems/deepdiagram/pkg/chatstore"
	"github.com/go-go-golems/deepdiagram/pkg/conversation"
	"github.com/go-go-golems/deepdiagram/pkg/events"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// imageDataURL reads an image into the data URL form the backend expects.
func imageDataURL(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrapf(err, "could not read image %s", path)
	}
	mime := http.DetectContentType(b)
	if !strings.HasPrefix(mime, "image/") {
		return "", errors.Errorf("%s is not an image (%s)", path, mime)
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(b), nil
}

// session is a store wired to the event bus, with the runner and the canvas
// subscribed to it.
type session struct {
	app    *App
	router *events.EventRouter
	runner *chat.Runner
	canvas *canvas.Canvas
}

func newSession(w io.Writer, runnerOptions ...chat.RunnerOption) (*session, error) {
	router, err := NewRouter()
	if err != nil {
		return nil, err
	}

	app, err := NewApp(chatstore.WithEventSink(router.Sink()))
	if err != nil {
		_ = router.Close()
		return nil, err
	}

	runner := chat.NewRunner(app.Store, chat.ClientStreamer{Client: app.Client}, runnerOptions...)
	c := canvas.New(app.Store, app.Store, canvas.WithFallback(canvas.NewSourceAgent(app.Settings.ExportDir)))

	router.AddEventHandler("runner", events.TopicRetry, runner)
	router.AddEventHandler("canvas", events.TopicView, c)
	router.AddEventHandler("toasts", events.TopicToast, &toastPrinter{w: w})

	return &session{app: app, router: router, runner: runner, canvas: c}, nil
}

// run executes f once the router is up and stops the router when f returns.
func (s *session) run(ctx context.Context, f func(ctx context.Context) error) error {
	defer func() {
		_ = s.router.Close()
	}()

	eg := errgroup.Group{}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	eg.Go(func() error {
		defer cancel()
		return s.router.Run(ctx)
	})

	eg.Go(func() error {
		defer cancel()
		<-s.router.Running()
		return f(ctx)
	})

	return eg.Wait()
}

// printThoughts streams the assistant text to w as it arrives.
func printThoughts(w io.Writer) chat.RunnerOption {
	return chat.WithEventCallback(func(ev *api.StreamEvent) {
		switch ev.Event {
		case api.EventThought:
			var p api.ContentDelta
			if err := ev.Decode(&p); err == nil {
				_, _ = fmt.Fprint(w, p.Content)
			}
		case api.EventToolStart:
			var p api.ToolStart
			if err := ev.Decode(&p); err == nil {
				_, _ = fmt.Fprintf(w, "\n> %s\n", p.Tool)
			}
		}
	})
}

func NewChatCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat <prompt>",
		Short: "Send a prompt and stream the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := getOutputSettings(cmd)
			if err != nil {
				return err
			}
			sessionID, err := cmd.Flags().GetInt64("session")
			if err != nil {
				return err
			}
			parentID, err := cmd.Flags().GetInt64("parent")
			if err != nil {
				return err
			}
			imagePaths, err := cmd.Flags().GetStringSlice("image")
			if err != nil {
				return err
			}
			agentName, err := cmd.Flags().GetString("agent")
			if err != nil {
				return err
			}

			images := make([]string, 0, len(imagePaths))
			for _, p := range imagePaths {
				img, err := imageDataURL(p)
				if err != nil {
					return err
				}
				images = append(images, img)
			}

			w := cmd.OutOrStdout()
			var runnerOptions []chat.RunnerOption
			if settings.Format == outputText {
				runnerOptions = append(runnerOptions, printThoughts(w))
			}
			if agentName != "" {
				agent, err := conversation.ParseAgentType(agentName)
				if err != nil {
					return err
				}
				runnerOptions = append(runnerOptions, chat.WithForcedAgent(agent))
			}

			s, err := newSession(cmd.ErrOrStderr(), runnerOptions...)
			if err != nil {
				return err
			}
			prompt := strings.Join(args, " ")

			err = s.run(cmd.Context(), func(ctx context.Context) error {
				store := s.app.Store
				if sessionID > 0 {
					if err := store.SelectSession(ctx, conversation.SessionID(sessionID)); err != nil {
						return err
					}
				} else {
					store.CreateNewChat()
				}
				if parentID > 0 {
					// answering an earlier message forks the conversation there
					if !store.SwitchMessageVersion(conversation.MessageID(parentID)) {
						return errors.Errorf("message %d is not part of the session", parentID)
					}
					path := store.Messages()
					for i, m := range path {
						if m.ID == conversation.MessageID(parentID) {
							store.SetMessages(path[:i+1])
							break
						}
					}
				}
				return s.runner.Send(ctx, prompt, images)
			})
			if err != nil {
				return err
			}

			if settings.Format == outputText {
				_, _ = fmt.Fprintln(w)
			}
			log.Debug().Str("session_id", s.app.Store.SessionID().String()).Msg("chat finished")
			return writeState(w, s.app.Store, settings)
		},
	}
	addOutputFlags(cmd)
	cmd.Flags().Int64("session", 0, "Continue this session instead of starting a new one")
	cmd.Flags().Int64("parent", 0, "Answer this message instead of the end of the active path")
	cmd.Flags().StringSlice("image", nil, "Attach an image file")
	cmd.Flags().String("agent", "", "Force the agent instead of letting the backend choose")
	return cmd
}

func NewRegenerateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "regenerate <session-id>",
		Short: "Generate a new version of the last answer of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := getOutputSettings(cmd)
			if err != nil {
				return err
			}
			id, err := parseSessionID(args[0])
			if err != nil {
				return err
			}
			switches, err := cmd.Flags().GetInt64Slice("switch")
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			var runnerOptions []chat.RunnerOption
			if settings.Format == outputText {
				runnerOptions = append(runnerOptions, printThoughts(w))
			}
			s, err := newSession(cmd.ErrOrStderr(), runnerOptions...)
			if err != nil {
				return err
			}

			err = s.run(cmd.Context(), func(ctx context.Context) error {
				if err := s.app.Store.SelectSession(ctx, id); err != nil {
					return err
				}
				if err := switchVersions(s.app, switches); err != nil {
					return err
				}
				// the retry handler runs before the publish returns
				if _, ok := s.app.Store.RequestRegenerate(); !ok {
					return errors.Errorf("session %s has no answer to regenerate", id)
				}
				return nil
			})
			if err != nil {
				return err
			}

			if settings.Format == outputText {
				_, _ = fmt.Fprintln(w)
			}
			return writeState(w, s.app.Store, settings)
		},
	}
	addOutputFlags(cmd)
	cmd.Flags().Int64Slice("switch", nil, "Switch to these message versions before regenerating")
	return cmd
}
