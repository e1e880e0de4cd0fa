package llm

import (
	"context"
	"sync"
)

// MockClient is a test double for the LLM Client interface.
// Block, when set, makes Complete wait for ctx to finish before returning.
type MockClient struct {
	Response *Response
	Err      error
	Block    bool

	mu    sync.Mutex
	Calls []Request
}

// Complete records the call and returns the mock response.
func (m *MockClient) Complete(ctx context.Context, r Request) (*Response, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, r)
	m.mu.Unlock()

	if m.Block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return m.Response, m.Err
}
