package cmds

import (
	"fmt"

	"github.com/go-go-golems/forkchat/pkg/conversation"
	"github.com/go-go-golems/forkchat/pkg/persistence"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func NewExportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "export <conversation-id> <file>",
		Short: "Write a stored conversation to a JSON file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseConversationID(args[0])
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			tree, err := persistence.LoadTree(cmd.Context(), store, id)
			if err != nil {
				return err
			}
			if err := tree.SaveToFile(args[1]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "exported %s to %s\n", id, args[1])
			return nil
		},
	}
}

// NewImportCommand stores a conversation exported with `forkchat export`.
// Versions are reset so the import works against an empty store.
func NewImportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Store a conversation from a JSON export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tree, err := conversation.LoadTreeFromFile(args[0])
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			snapshot := tree.Snapshot()
			snapshot.Conversation.Version = 0
			for _, m := range snapshot.Messages {
				m.Version = 0
			}
			for _, b := range snapshot.Branches {
				b.Version = 0
			}
			if err := persistence.SaveConversationSnapshot(cmd.Context(), store, snapshot); err != nil {
				return err
			}
			log.Debug().Str("conversation_id", tree.ID().String()).Str("file", args[0]).Msg("imported conversation")
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "imported %s (%d messages)\n", tree.ID(), len(snapshot.Messages))
			return nil
		},
	}
}
