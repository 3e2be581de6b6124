package openai

import (
	"github.com/sashabaranov/go-openai"

	"github.com/dskvich/character-chat/pkg/domain"
)

const doneSentinel = "[DONE]"

// streamChunk is one data payload of a streamed chat completion. Some
// OpenAI-compatible providers report failures in-band with an error object.
type streamChunk struct {
	openai.ChatCompletionStreamResponse
	Error *openai.APIError `json:"error,omitempty"`
}

func buildRequest(model string, req domain.CompletionRequest) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.History)+2)

	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}

	for _, turn := range req.History {
		role := openai.ChatMessageRoleUser
		if turn.Role == domain.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: turn.Content})
	}

	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.UserText,
	})

	return openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
		Stream:   true,
	}
}
