package llm

import (
	"context"
	"errors"
	"testing"

	"peeragent/app/pkg/types"
)

func TestFallbackOnAuthShapedError(t *testing.T) {
	primary := NewMockClientWithFunc(func(ctx context.Context, messages []types.ChatMessage) (string, error) {
		return "", &ProviderError{Provider: "openai", Err: errors.New("invalid api key")}
	})
	fallback := NewMockClientWithFunc(func(ctx context.Context, messages []types.ChatMessage) (string, error) {
		return "from fallback", nil
	})

	client := NewFallbackClient(primary, fallback)
	out, err := client.Invoke(context.Background(), []types.ChatMessage{{Role: types.RoleUser, Content: "hi"}})
	if err != nil {
		t.Fatalf("invoke failed: %v", err)
	}
	if out != "from fallback" {
		t.Fatalf("unexpected output: %q", out)
	}
	if fallback.CallCount() != 1 {
		t.Fatalf("expected fallback call, got %d", fallback.CallCount())
	}
}

func TestNoFallbackOnOtherErrors(t *testing.T) {
	primary := NewMockClientWithFunc(func(ctx context.Context, messages []types.ChatMessage) (string, error) {
		return "", errors.New("rate limited")
	})
	fallback := NewMockClient()

	client := NewFallbackClient(primary, fallback)
	if _, err := client.Invoke(context.Background(), []types.ChatMessage{{Role: types.RoleUser, Content: "hi"}}); err == nil {
		t.Fatal("expected error to surface")
	}
	if fallback.CallCount() != 0 {
		t.Fatal("non-auth errors must not trigger the fallback provider")
	}
}

func TestFallbackErrorSurfacesBoth(t *testing.T) {
	primary := NewMockClientWithFunc(func(ctx context.Context, messages []types.ChatMessage) (string, error) {
		return "", errors.New("401 unauthorized")
	})
	fallback := NewMockClientWithFunc(func(ctx context.Context, messages []types.ChatMessage) (string, error) {
		return "", errors.New("also down")
	})

	client := NewFallbackClient(primary, fallback)
	if _, err := client.Invoke(context.Background(), []types.ChatMessage{{Role: types.RoleUser, Content: "hi"}}); err == nil {
		t.Fatal("expected error when both providers fail")
	}
}

func TestProviderErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := &ProviderError{Provider: "openai", Err: inner}
	if !errors.Is(err, inner) {
		t.Fatal("expected Unwrap to expose the inner error")
	}
}
