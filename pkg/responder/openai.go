package responder

import (
	"context"

	"github.com/go-go-golems/forkchat/pkg/conversation"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	go_openai "github.com/sashabaranov/go-openai"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIResponder asks an OpenAI compatible chat completion endpoint for the
// next assistant message.
type OpenAIResponder struct {
	client   *go_openai.Client
	settings Settings
}

func NewOpenAIResponder(settings Settings) (*OpenAIResponder, error) {
	client, err := MakeClient(settings)
	if err != nil {
		return nil, err
	}
	if settings.Model == "" {
		settings.Model = defaultOpenAIModel
	}
	return &OpenAIResponder{client: client, settings: settings}, nil
}

func MakeClient(settings Settings) (*go_openai.Client, error) {
	if settings.APIKey == "" {
		return nil, errors.New("no API key for openai responder")
	}
	config := go_openai.DefaultConfig(settings.APIKey)
	if settings.BaseURL != "" {
		if err := ValidateBaseURL(settings.BaseURL, settings.AllowLocalBaseURL); err != nil {
			return nil, err
		}
		config.BaseURL = settings.BaseURL
	}
	return go_openai.NewClientWithConfig(config), nil
}

// MakeCompletionRequest maps the thread onto chat completion messages, in
// order.
func MakeCompletionRequest(settings Settings, thread conversation.Thread) go_openai.ChatCompletionRequest {
	msgs := make([]go_openai.ChatCompletionMessage, 0, len(thread))
	for _, m := range thread {
		role := go_openai.ChatMessageRoleUser
		if m.Role == conversation.RoleAssistant {
			role = go_openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, go_openai.ChatCompletionMessage{
			Role:    role,
			Content: m.Content,
		})
	}
	req := go_openai.ChatCompletionRequest{
		Model:     settings.Model,
		Messages:  msgs,
		MaxTokens: settings.MaxTokens,
	}
	if settings.Temperature != nil {
		req.Temperature = *settings.Temperature
	}
	return req
}

func (o *OpenAIResponder) Respond(ctx context.Context, thread conversation.Thread) (string, error) {
	if len(thread) == 0 {
		return "", errors.New("cannot respond to an empty thread")
	}
	req := MakeCompletionRequest(o.settings, thread)

	log.Debug().
		Str("model", req.Model).
		Int("messages", len(req.Messages)).
		Int("max_tokens", req.MaxTokens).
		Msg("sending chat completion request")

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", errors.Wrap(err, "chat completion failed")
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices returned from OpenAI")
	}

	log.Debug().
		Str("model", resp.Model).
		Int("prompt_tokens", resp.Usage.PromptTokens).
		Int("completion_tokens", resp.Usage.CompletionTokens).
		Str("finish_reason", string(resp.Choices[0].FinishReason)).
		Msg("chat completion received")

	return resp.Choices[0].Message.Content, nil
}
