// Package llm abstracts the model providers behind a single Invoke call so
// handlers and the dialogue engine never depend on a concrete SDK.
package llm

import (
	"context"
	"fmt"
	"strings"

	"peeragent/app/pkg/types"
)

// Client is the collaborator interface to a model provider: prompt in, text
// out. No retry contract is assumed here; callers decide whether a provider
// error is fatal to their current step.
type Client interface {
	Invoke(ctx context.Context, messages []types.ChatMessage) (string, error)
	Provider() string
}

// ProviderError marks a failed or timed-out model call. Handlers catch it at
// their boundary and convert it into a structured error result.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// authShaped reports whether an error looks like a credential problem, in
// which case switching providers may help where retrying will not.
func authShaped(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, term := range []string{"invalid api key", "unauthorized", "authentication", "api key", "invalid_api_key", "401", "403"} {
		if strings.Contains(msg, term) {
			return true
		}
	}
	return false
}
