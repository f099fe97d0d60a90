package responder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-go-golems/forkchat/pkg/conversation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testThread() conversation.Thread {
	convID := conversation.NewID()
	u1 := conversation.NewMessage(convID, conversation.RoleUser, "What is a fork?")
	a1 := conversation.NewMessage(convID, conversation.RoleAssistant, "A copy that diverges.", conversation.WithParentID(u1.ID))
	u2 := conversation.NewMessage(convID, conversation.RoleUser, "And a branch?", conversation.WithParentID(a1.ID))
	return conversation.Thread{u1, a1, u2}
}

func TestNewSelectsProvider(t *testing.T) {
	r, err := New(Settings{})
	require.NoError(t, err)
	assert.IsType(t, Disabled{}, r)

	r, err = New(Settings{Provider: "Echo"})
	require.NoError(t, err)
	assert.IsType(t, &EchoResponder{}, r)

	_, err = New(Settings{Provider: "openai"})
	require.Error(t, err, "openai without api key")

	_, err = New(Settings{Provider: "llama"})
	require.Error(t, err)
}

func TestDisabledResponder(t *testing.T) {
	_, err := Disabled{}.Respond(context.Background(), testThread())
	assert.ErrorIs(t, err, ErrNoResponder)
}

func TestEchoResponderAnswersLastUserMessage(t *testing.T) {
	out, err := NewEchoResponder().Respond(context.Background(), testThread())
	require.NoError(t, err)
	assert.Equal(t, "echo: And a branch?", out)

	_, err = NewEchoResponder().Respond(context.Background(), conversation.Thread{})
	require.Error(t, err)
}

func TestMakeCompletionRequest(t *testing.T) {
	temp := float32(0.2)
	req := MakeCompletionRequest(Settings{Model: "gpt-test", MaxTokens: 64, Temperature: &temp}, testThread())
	require.Len(t, req.Messages, 3)
	assert.Equal(t, "user", req.Messages[0].Role)
	assert.Equal(t, "assistant", req.Messages[1].Role)
	assert.Equal(t, "And a branch?", req.Messages[2].Content)
	assert.Equal(t, "gpt-test", req.Model)
	assert.Equal(t, 64, req.MaxTokens)
	assert.Equal(t, temp, req.Temperature)
}

func TestOpenAIResponderCallsChatCompletions(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"model": "gpt-test",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "A named line of work."}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 5, "total_tokens": 17}
		}`))
	}))
	defer srv.Close()

	r, err := NewOpenAIResponder(Settings{Provider: ProviderOpenAI, APIKey: "sk-test", BaseURL: srv.URL + "/v1", AllowLocalBaseURL: true, Model: "gpt-test"})
	require.NoError(t, err)

	out, err := r.Respond(context.Background(), testThread())
	require.NoError(t, err)
	assert.Equal(t, "A named line of work.", out)
	assert.Equal(t, "gpt-test", got.Model)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, "user", got.Messages[2].Role)
}

func TestOpenAIResponderSurfacesEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","choices":[]}`))
	}))
	defer srv.Close()

	r, err := NewOpenAIResponder(Settings{APIKey: "sk-test", BaseURL: srv.URL, AllowLocalBaseURL: true})
	require.NoError(t, err)
	_, err = r.Respond(context.Background(), testThread())
	require.Error(t, err)
}
