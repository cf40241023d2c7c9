package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"peeragent/app/pkg/types"
)

const anthropicMaxTokens = 2048

// AnthropicClient invokes the Anthropic Messages API.
type AnthropicClient struct {
	client anthropic.Client
	model  anthropic.Model
}

func NewAnthropicClient(apiKey, model string) (*AnthropicClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("anthropic api key is required")
	}
	m := anthropic.Model(model)
	if strings.TrimSpace(model) == "" {
		m = anthropic.ModelClaudeSonnet4_20250514
	}
	return &AnthropicClient{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  m,
	}, nil
}

func (c *AnthropicClient) Provider() string {
	return "anthropic"
}

func (c *AnthropicClient) Invoke(ctx context.Context, messages []types.ChatMessage) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: anthropicMaxTokens,
	}
	for _, m := range messages {
		switch m.Role {
		case types.RoleSystem:
			params.System = append(params.System, anthropic.TextBlockParam{Text: m.Content})
		case types.RoleAssistant:
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", &ProviderError{Provider: c.Provider(), Err: err}
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(variant.Text)
		}
	}
	if b.Len() == 0 {
		return "", &ProviderError{Provider: c.Provider(), Err: fmt.Errorf("empty completion")}
	}
	return b.String(), nil
}
