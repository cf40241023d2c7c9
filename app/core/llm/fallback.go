package llm

import (
	"context"

	"peeragent/app/pkg/logger"
	"peeragent/app/pkg/types"
)

// FallbackClient tries the primary provider first and switches to the
// fallback when the primary fails with a credential-shaped error. Other
// failures are returned as-is: a timeout on one provider says nothing about
// the other and callers own the decision to give up.
type FallbackClient struct {
	primary  Client
	fallback Client
}

func NewFallbackClient(primary Client, fallback Client) *FallbackClient {
	return &FallbackClient{primary: primary, fallback: fallback}
}

func (c *FallbackClient) Provider() string {
	return c.primary.Provider()
}

func (c *FallbackClient) Invoke(ctx context.Context, messages []types.ChatMessage) (string, error) {
	out, err := c.primary.Invoke(ctx, messages)
	if err == nil {
		return out, nil
	}
	if c.fallback == nil || !authShaped(err) {
		return "", err
	}
	logger.Warn("Provider %s failed with auth-shaped error, retrying with %s: %v",
		c.primary.Provider(), c.fallback.Provider(), err)
	return c.fallback.Invoke(ctx, messages)
}
