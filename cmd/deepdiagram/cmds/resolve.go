package cmds

import (
	"github.com/go-go-golems/deepdiagram/pkg/chatstore"
	"github.com/go-go-golems/deepdiagram/pkg/conversation"
	"github.com/spf13/cobra"
)

// NewResolveCommand resolves the active path of a message dump without a backend.
func NewResolveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve <file>",
		Short: "Resolve the active path of a JSON or YAML message dump",
		Long: `Loads a flat list of messages, as returned by GET /api/sessions/{id},
builds the active path ending at the last message and applies the given
version switches in order.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := getOutputSettings(cmd)
			if err != nil {
				return err
			}
			switches, err := cmd.Flags().GetInt64Slice("switch")
			if err != nil {
				return err
			}

			msgs, err := conversation.LoadFromFile(args[0])
			if err != nil {
				return err
			}

			app := &App{Store: chatstore.NewStore()}
			app.Store.Hydrate(conversation.NoSession, msgs)
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
