package responder

import (
	"context"
	"fmt"

	"github.com/go-go-golems/forkchat/pkg/conversation"
	"github.com/pkg/errors"
)

// EchoResponder answers with the last user message of the thread. It is
// used for local runs and tests.
type EchoResponder struct {
	Prefix string
}

func NewEchoResponder() *EchoResponder {
	return &EchoResponder{Prefix: "echo: "}
}

func (e *EchoResponder) Respond(ctx context.Context, thread conversation.Thread) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	for i := len(thread) - 1; i >= 0; i-- {
		if thread[i].Role == conversation.RoleUser {
			return fmt.Sprintf("%s%s", e.Prefix, thread[i].Content), nil
		}
	}
	return "", errors.New("thread has no user message to answer")
}
