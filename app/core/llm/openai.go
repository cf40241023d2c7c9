package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"peeragent/app/pkg/types"
)

// OpenAIClient invokes OpenAI chat completions.
type OpenAIClient struct {
	client      openai.Client
	model       string
	temperature float64
}

func NewOpenAIClient(apiKey, model string, temperature float64) (*OpenAIClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if strings.TrimSpace(model) == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIClient{
		client:      openai.NewClient(option.WithAPIKey(apiKey)),
		model:       model,
		temperature: temperature,
	}, nil
}

func (c *OpenAIClient) Provider() string {
	return "openai"
}

func (c *OpenAIClient) Invoke(ctx context.Context, messages []types.ChatMessage) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Temperature: openai.Float(c.temperature),
		Messages:    make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)),
	}
	for _, m := range messages {
		switch m.Role {
		case types.RoleSystem:
			params.Messages = append(params.Messages, openai.SystemMessage(m.Content))
		case types.RoleAssistant:
			params.Messages = append(params.Messages, openai.AssistantMessage(m.Content))
		default:
			params.Messages = append(params.Messages, openai.UserMessage(m.Content))
		}
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", &ProviderError{Provider: c.Provider(), Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &ProviderError{Provider: c.Provider(), Err: fmt.Errorf("empty completion")}
	}
	return resp.Choices[0].Message.Content, nil
}
