package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/support-widget/internal/model"
	"github.com/capitalize-ai/support-widget/pkg/logger"
)

type stubClient struct {
	resp *CompletionResponse
	err  error
	last *CompletionRequest
}

func (s *stubClient) Complete(_ context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	s.last = req
	return s.resp, s.err
}

func (s *stubClient) Name() string { return "stub" }

var helper = &model.Chatbot{
	ID:   7,
	Name: "Helper",
	Characteristics: []model.Characteristic{
		{Content: "Open 9-5 Mon-Fri"},
		{Content: "  "},
		{Content: "Ships worldwide"},
	},
}

func TestSystemPrompt(t *testing.T) {
	prompt := SystemPrompt(helper, "Ann")

	assert.Contains(t, prompt, "You are Helper")
	assert.Contains(t, prompt, "talking to Ann")
	assert.Contains(t, prompt, "- Open 9-5 Mon-Fri\n- Ships worldwide")
	assert.NotContains(t, prompt, "-   ")
}

func TestSystemPrompt_NoCharacteristics(t *testing.T) {
	prompt := SystemPrompt(&model.Chatbot{Name: "Bare"}, "")

	assert.Contains(t, prompt, "You are Bare")
	assert.NotContains(t, prompt, "talking to")
	assert.Contains(t, prompt, "If you do not know the answer")
}

func TestTranscript(t *testing.T) {
	history := []model.Message{
		{Sender: model.SenderAgent, Content: "Welcome Ann!"},
		{Sender: model.SenderVisitor, Content: "hi"},
		{Sender: model.SenderAgent, Content: "hello"},
	}

	got := Transcript(history, 2, "What are your hours?")

	assert.Equal(t, []ChatMessage{
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "hello"},
		{Role: RoleUser, Content: "What are your hours?"},
	}, got)
}

func TestAlternatingTurns(t *testing.T) {
	got := alternatingTurns("be nice", []ChatMessage{
		{Role: RoleAssistant, Content: "Welcome!"},
		{Role: RoleUser, Content: "hi"},
		{Role: RoleUser, Content: "anyone?"},
	})

	assert.Equal(t, []ChatMessage{
		{Role: RoleUser, Content: "be nice"},
		{Role: RoleAssistant, Content: "Welcome!"},
		{Role: RoleUser, Content: "hi\n\nanyone?"},
	}, got)

	got = alternatingTurns("", []ChatMessage{{Role: RoleAssistant, Content: "Welcome!"}, {Role: RoleUser, Content: "hi"}})
	require.Len(t, got, 3)
	assert.Equal(t, RoleUser, got[0].Role)
}

func TestResponder_Reply(t *testing.T) {
	stub := &stubClient{resp: &CompletionResponse{Content: " 9-5 Mon-Fri \n", TokensIn: 10, TokensOut: 4}}
	r := NewResponder(stub, ResponderConfig{Model: "m"}, logger.Nop())

	resp, err := r.Reply(context.Background(), helper, "Ann", nil, "What are your hours?")

	require.NoError(t, err)
	assert.Equal(t, "9-5 Mon-Fri", resp.Content)
	require.NotNil(t, stub.last)
	assert.Equal(t, "m", stub.last.Model)
	assert.Contains(t, stub.last.System, "Open 9-5 Mon-Fri")
	assert.Equal(t, []ChatMessage{{Role: RoleUser, Content: "What are your hours?"}}, stub.last.Messages)
}

func TestResponder_ReplyErrors(t *testing.T) {
	boom := errors.New("rate limited")
	r := NewResponder(&stubClient{err: boom}, ResponderConfig{}, logger.Nop())
	_, err := r.Reply(context.Background(), helper, "Ann", nil, "hi")
	assert.ErrorIs(t, err, boom)

	r = NewResponder(&stubClient{resp: &CompletionResponse{Content: "   "}}, ResponderConfig{}, logger.Nop())
	_, err = r.Reply(context.Background(), helper, "Ann", nil, "hi")
	assert.ErrorIs(t, err, ErrEmptyReply)
}

func TestNewClient(t *testing.T) {
	_, err := NewClient("mistral", "key")
	assert.Error(t, err)

	_, err = NewClient(ProviderOpenAI, "")
	assert.Error(t, err)

	c, err := NewClient(ProviderOpenAI, "sk-test")
	require.NoError(t, err)
	assert.Equal(t, "openai", c.Name())

	c, err = NewClient(ProviderAnthropic, "sk-ant-test")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", c.Name())
}
