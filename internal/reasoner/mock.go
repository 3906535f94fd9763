package reasoner

import (
	"context"
	"fmt"
	"sync"
)

// MockClient replays scripted responses in order. Used for offline runs and
// tests; once the script runs out it keeps returning the last response.
type MockClient struct {
	mu        sync.Mutex
	responses []string
	prompts   []string
	err       error
}

// NewMock creates a mock reasoner that cycles through the given responses.
func NewMock(responses ...string) *MockClient {
	return &MockClient{responses: responses}
}

// Fail makes every subsequent call return err.
func (m *MockClient) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// GenerateText records the prompt and returns the next scripted response.
func (m *MockClient) GenerateText(_ context.Context, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.prompts = append(m.prompts, prompt)
	if m.err != nil {
		return "", m.err
	}
	if len(m.responses) == 0 {
		return "", fmt.Errorf("mock reasoner has no scripted responses")
	}
	idx := len(m.prompts) - 1
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	return m.responses[idx], nil
}

// Prompts returns the prompts received so far.
func (m *MockClient) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.prompts))
	copy(out, m.prompts)
	return out
}

// Calls returns how many times GenerateText ran.
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}
