package cmds

import (
	"fmt"

	"github.com/go-go-golems/deepdiagram/pkg/canvas"
	"github.com/go-go-golems/deepdiagram/pkg/conversation"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func NewExportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <session-id>",
		Short: "Export the current diagram of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseSessionID(args[0])
			if err != nil {
				return err
			}
			messageID, err := cmd.Flags().GetInt64("message")
			if err != nil {
				return err
			}
			format, err := cmd.Flags().GetString("format")
			if err != nil {
				return err
			}
			out, err := cmd.Flags().GetString("out")
			if err != nil {
				return err
			}

			app, err := NewApp()
			if err != nil {
				return err
			}
			if out == "" {
				out = app.Settings.ExportDir
			}
			if err := app.Store.SelectSession(cmd.Context(), id); err != nil {
				return err
			}
			if messageID > 0 && !app.Store.SyncCodeToMessage(conversation.MessageID(messageID)) {
				return errors.Errorf("message %d has no diagram", messageID)
			}

			source := canvas.NewSourceAgent(out)
			c := canvas.New(app.Store, app.Store, canvas.WithFallback(source))
			if err := c.Download(cmd.Context(), canvas.Format(format)); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), source.LastExport())
			return nil
		},
	}
	cmd.Flags().Int64("message", 0, "Export the diagram of this message instead of the active path's")
	cmd.Flags().String("format", string(canvas.FormatSource), "Export format")
	cmd.Flags().String("out", "", "Output directory, defaults to export-dir")
	return cmd
}
