package responder

import (
	"context"
	"strings"

	"github.com/go-go-golems/forkchat/pkg/conversation"
	"github.com/pkg/errors"
)

const (
	ProviderNone   = "none"
	ProviderEcho   = "echo"
	ProviderOpenAI = "openai"
)

// ErrNoResponder is returned when a reply is requested but no provider is
// configured.
var ErrNoResponder = errors.New("no responder configured")

// Responder produces assistant text for the thread ending in the message
// being answered.
type Responder interface {
	Respond(ctx context.Context, thread conversation.Thread) (string, error)
}

type Settings struct {
	Provider  string
	Model     string
	BaseURL   string
	APIKey    string
	MaxTokens int
	// AllowLocalBaseURL accepts http and local network base URLs.
	AllowLocalBaseURL bool
	Temperature       *float32
}

// Disabled always fails with ErrNoResponder.
type Disabled struct{}

func (Disabled) Respond(context.Context, conversation.Thread) (string, error) {
	return "", ErrNoResponder
}

// New builds the responder named by settings.Provider. An empty provider is
// the same as "none".
func New(settings Settings) (Responder, error) {
	switch strings.ToLower(strings.TrimSpace(settings.Provider)) {
	case "", ProviderNone:
		return Disabled{}, nil
	case ProviderEcho:
		return NewEchoResponder(), nil
	case ProviderOpenAI:
		return NewOpenAIResponder(settings)
	default:
		return nil, errors.Errorf("unknown responder provider %q", settings.Provider)
	}
}
