package cmds

import (
	"fmt"
	"strconv"

	"github.com/go-go-golems/deepdiagram/pkg/conversation"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func NewSessionsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List, show and delete chat sessions",
	}
	cmd.AddCommand(
		newSessionsListCommand(),
		newSessionsShowCommand(),
		newSessionsDeleteCommand(),
	)
	return cmd
}

func parseSessionID(s string) (conversation.SessionID, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v <= 0 {
		return conversation.NoSession, errors.Errorf("invalid session id %q", s)
	}
	return conversation.SessionID(v), nil
}

func newSessionsListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the sessions of the backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := getOutputSettings(cmd)
			if err != nil {
				return err
			}
			app, err := NewApp()
			if err != nil {
				return err
			}
			if err := app.Store.LoadSessions(cmd.Context()); err != nil {
				return err
			}

			sessions := app.Store.Sessions()
			w := cmd.OutOrStdout()
			if settings.Format != outputText {
				return writeStructured(w, settings.Format, sessions)
			}
			for _, s := range sessions {
				_, _ = fmt.Fprintf(w, "%-6s %s  %s\n", s.ID, s.UpdatedAt.Format("2006-01-02 15:04"), s.Title)
			}
			return nil
		},
	}
	addOutputFlags(cmd)
	return cmd
}

func newSessionsShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show the active path and the current diagram of a session",
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

			app, err := NewApp()
			if err != nil {
				return err
			}
			if err := app.Store.SelectSession(cmd.Context(), id); err != nil {
				return err
			}
			if err := switchVersions(app, switches); err != nil {
				return err
			}
			return writeState(cmd.OutOrStdout(), app.Store, settings)
		},
	}
	addOutputFlags(cmd)
	cmd.Flags().Int64Slice("switch", nil, "Switch to these message versions, in order")
	return cmd
}

func switchVersions(app *App, ids []int64) error {
	for _, id := range ids {
		if !app.Store.SwitchMessageVersion(conversation.MessageID(id)) {
			return errors.Errorf("message %d is not part of the session", id)
		}
	}
	return nil
}

func newSessionsDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseSessionID(args[0])
			if err != nil {
				return err
			}
			app, err := NewApp()
			if err != nil {
				return err
			}
			if err := app.Store.DeleteSession(cmd.Context(), id); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "deleted session %s\n", id)
			return nil
		},
	}
}
