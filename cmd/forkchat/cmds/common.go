package cmds

import (
	"github.com/go-go-golems/forkchat/pkg/config"
	"github.com/go-go-golems/forkchat/pkg/conversation"
	"github.com/go-go-golems/forkchat/pkg/persistence"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

func loadConfig() (*config.Config, error) {
	return config.FromViper(viper.GetViper())
}

func openStore(cfg *config.Config) (persistence.Adapter, error) {
	store, err := persistence.Open(cfg.Store)
	if err != nil {
		return nil, errors.Wrap(err, "opening store")
	}
	return store, nil
}

func parseConversationID(raw string) (conversation.ID, error) {
	id, err := conversation.ParseID(raw)
	if err != nil {
		return conversation.NullID, err
	}
	if id.IsNull() {
		return conversation.NullID, errors.New("conversation id is required")
	}
	return id, nil
}
