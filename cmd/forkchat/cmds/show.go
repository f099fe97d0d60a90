package cmds

import (
	"context"
	"fmt"

	"github.com/go-go-golems/forkchat/pkg/conversation"
	"github.com/go-go-golems/forkchat/pkg/persistence"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/go-go-golems/glazed/pkg/cmds/parameters"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/pkg/errors"
)

const (
	ViewPath     = "path"
	ViewMessages = "messages"
	ViewBranches = "branches"
)

type ShowSettings struct {
	ConversationID string `glazed.parameter:"conversation-id"`
	View           string `glazed.parameter:"view"`
}

type ShowCommand struct {
	*cmds.CommandDescription
}

var _ cmds.GlazeCommand = (*ShowCommand)(nil)

func NewShowCommand() (*ShowCommand, error) {
	glazedParameterLayer, err := settings.NewGlazedParameterLayers()
	if err != nil {
		return nil, errors.Wrap(err, "could not create Glazed parameter layer")
	}

	return &ShowCommand{
		CommandDescription: cmds.NewCommandDescription(
			"show",
			cmds.WithShort("Print a stored conversation"),
			cmds.WithLong("Print the active path of a conversation, every message with its branch and version, or the branch list."),
			cmds.WithFlags(
				parameters.NewParameterDefinition(
					"view",
					parameters.ParameterTypeString,
					parameters.WithHelp("What to list: path (the active path), messages or branches"),
					parameters.WithDefault(ViewPath),
				),
			),
			cmds.WithArguments(
				parameters.NewParameterDefinition(
					"conversation-id",
					parameters.ParameterTypeString,
					parameters.WithHelp("Conversation to print"),
					parameters.WithRequired(true),
				),
			),
			cmds.WithLayersList(glazedParameterLayer),
		),
	}, nil
}

func (c *ShowCommand) RunIntoGlazeProcessor(ctx context.Context, parsedLayers *layers.ParsedLayers, gp middlewares.Processor) error {
	s := &ShowSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, s); err != nil {
		return err
	}
	return runShow(ctx, s, gp)
}

func runShow(ctx context.Context, s *ShowSettings, gp middlewares.Processor) error {
	id, err := parseConversationID(s.ConversationID)
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

	tree, err := persistence.LoadTree(ctx, store, id)
	if err != nil {
		return err
	}

	switch s.View {
	case ViewPath, "":
		for i, m := range tree.ActivePath() {
			row := messageRow(tree, m, types.MRP("position", i+1))
			if err := gp.AddRow(ctx, row); err != nil {
				return err
			}
		}
	case ViewMessages:
		onPath := map[conversation.ID]bool{}
		for _, id := range tree.ActivePath().IDs() {
			onPath[id] = true
		}
		for _, m := range tree.Messages() {
			row := messageRow(tree, m, types.MRP("active", onPath[m.ID]))
			if err := gp.AddRow(ctx, row); err != nil {
				return err
			}
		}
	case ViewBranches:
		owned := map[conversation.ID]int{}
		for _, m := range tree.Messages() {
			owned[m.BranchID]++
		}
		for _, b := range tree.Branches() {
			row := types.NewRow(
				types.MRP("id", b.ID.String()),
				types.MRP("name", b.Name),
				types.MRP("parent", branchName(tree, b.ParentBranchID)),
				types.MRP("root_message_id", idOrEmpty(b.RootMessageID)),
				types.MRP("head_message_id", idOrEmpty(b.HeadMessageID)),
				types.MRP("messages", owned[b.ID]),
				types.MRP("active", b.IsActive),
			)
			if err := gp.AddRow(ctx, row); err != nil {
				return err
			}
		}
	default:
		return errors.Errorf("unknown view %q", s.View)
	}
	return nil
}

// messageRow puts lead columns first, then the message fields.
func messageRow(tree *conversation.Tree, m *conversation.Message, lead ...types.MapRowPair) types.Row {
	version := "1/1"
	if v, err := tree.Navigator().Versions(m.ID); err == nil {
		version = fmt.Sprintf("%d/%d", v.Position, v.Total)
	}
	return types.NewRow(append(lead,
		types.MRP("id", m.ID.String()),
		types.MRP("parent_id", idOrEmpty(m.ParentID)),
		types.MRP("role", m.Role.String()),
		types.MRP("content", m.Content),
		types.MRP("branch", branchName(tree, m.BranchID)),
		types.MRP("version", version),
		types.MRP("edited", m.IsEdited),
	)...)
}

func branchName(tree *conversation.Tree, id conversation.ID) string {
	if id.IsNull() {
		return ""
	}
	b, err := tree.Branch(id)
	if err != nil {
		return id.String()
	}
	return b.Name
}

func idOrEmpty(id conversation.ID) string {
	if id.IsNull() {
		return ""
	}
	return id.String()
}
