package cmds

import (
	"context"

	"github.com/go-go-golems/forkchat/pkg/persistence"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// CheckCommand loads every stored conversation and verifies its message
// forest. It emits one row per conversation and fails if any is invalid.
type CheckCommand struct {
	*cmds.CommandDescription
}

var _ cmds.GlazeCommand = (*CheckCommand)(nil)

func NewCheckCommand() (*CheckCommand, error) {
	glazedParameterLayer, err := settings.NewGlazedParameterLayers()
	if err != nil {
		return nil, errors.Wrap(err, "could not create Glazed parameter layer")
	}

	return &CheckCommand{
		CommandDescription: cmds.NewCommandDescription(
			"check",
			cmds.WithShort("Load every stored conversation and verify its message forest"),
			cmds.WithLayersList(glazedParameterLayer),
		),
	}, nil
}

func (c *CheckCommand) RunIntoGlazeProcessor(ctx context.Context, _ *layers.ParsedLayers, gp middlewares.Processor) error {
	return runCheck(ctx, gp)
}

func runCheck(ctx context.Context, gp middlewares.Processor) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	list, err := store.ListConversations(ctx)
	if err != nil {
		return err
	}
	failed := 0
	for _, c := range list {
		row := types.NewRow(
			types.MRP("conversation_id", c.ID.String()),
			types.MRP("title", c.Title),
		)
		tree, err := persistence.LoadTree(ctx, store, c.ID)
		if err == nil {
			err = tree.Validate()
		}
		if err != nil {
			failed++
			log.Error().Err(err).Str("conversation_id", c.ID.String()).Msg("conversation is invalid")
			row.Set("status", "fail")
			row.Set("messages", 0)
			row.Set("branches", 0)
			row.Set("error", err.Error())
		} else {
			row.Set("status", "ok")
			row.Set("messages", len(tree.Messages()))
			row.Set("branches", len(tree.Branches()))
			row.Set("error", "")
		}
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}
	if failed > 0 {
		return errors.Errorf("%d of %d conversations failed the check", failed, len(list))
	}
	return nil
}
