package agent

import (
	"context"
	"errors"

	openai "github.com/sashabaranov/go-openai"

	"homeoclinic-agent/internal/consultation"
)

// Backend produces one doctor reply from the full conversation so far. The
// remote model is stateless between calls; every call carries the whole
// history including the persona preamble.
type Backend interface {
	Complete(ctx context.Context, messages []consultation.Message) (string, error)
}

// OpenAIBackend calls the OpenAI chat completion API.
type OpenAIBackend struct {
	client *openai.Client
	model  string
}

func NewOpenAIBackend(apiKey, model string) *OpenAIBackend {
	return &OpenAIBackend{
		client: openai.NewClient(apiKey),
		model:  model,
	}
}

func (b *OpenAIBackend) Complete(ctx context.Context, messages []consultation.Message) (string, error) {
	if b.client == nil {
		return "", errors.New("openai client not initialized")
	}

	oaMsgs := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		role := m.Role
		if role != openai.ChatMessageRoleSystem && role != openai.ChatMessageRoleUser && role != openai.ChatMessageRoleAssistant {
			role = openai.ChatMessageRoleUser
		}
		oaMsgs = append(oaMsgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       b.model,
		Messages:    oaMsgs,
		Temperature: 0.7,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}
