package llm

import (
	"context"
	"fmt"
	"sync"

	"peeragent/app/pkg/types"
)

// MockClient is an in-memory Client for tests. If InvokeFunc is nil it echoes
// the last user message.
type MockClient struct {
	InvokeFunc func(ctx context.Context, messages []types.ChatMessage) (string, error)

	mu           sync.Mutex
	callCount    int
	lastMessages []types.ChatMessage
}

func NewMockClient() *MockClient {
	return &MockClient{}
}

// NewMockClientWithFunc creates a mock with scripted behavior.
func NewMockClientWithFunc(fn func(ctx context.Context, messages []types.ChatMessage) (string, error)) *MockClient {
	return &MockClient{InvokeFunc: fn}
}

func (m *MockClient) Provider() string {
	return "mock"
}

func (m *MockClient) Invoke(ctx context.Context, messages []types.ChatMessage) (string, error) {
	m.mu.Lock()
	m.callCount++
	m.lastMessages = messages
	fn := m.InvokeFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, messages)
	}

	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == types.RoleUser {
			return fmt.Sprintf("echo: %s", messages[i].Content), nil
		}
	}
	return "echo", nil
}

func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

func (m *MockClient) LastMessages() []types.ChatMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastMessages
}
