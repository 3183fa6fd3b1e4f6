package providers

import (
	"context"
	"sync"

	"github.com/charterworks/charterd/pkg/llm"
)

// Mock is a scripted provider for tests and local development. Responses
// are consumed in FIFO order; when the script is empty, Default is
// returned.
type Mock struct {
	name string

	mu      sync.Mutex
	script  []MockReply
	Default string
	calls   []llm.ProviderRequest
}

// MockReply is one scripted response or error.
type MockReply struct {
	Text string
	Err  error
}

// NewMock creates a mock provider with an empty script.
func NewMock(name string) *Mock {
	return &Mock{name: name, Default: "ok"}
}

// Name implements llm.Provider.
func (m *Mock) Name() string { return m.name }

// Enqueue appends scripted replies.
func (m *Mock) Enqueue(replies ...MockReply) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, replies...)
}

// Calls returns a snapshot of every request the mock has seen.
func (m *Mock) Calls() []llm.ProviderRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]llm.ProviderRequest, len(m.calls))
	copy(out, m.calls)
	return out
}

// Complete implements llm.Provider.
func (m *Mock) Complete(ctx context.Context, req llm.ProviderRequest) (*llm.ProviderResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.calls = append(m.calls, req)
	var reply MockReply
	if len(m.script) > 0 {
		reply = m.script[0]
		m.script = m.script[1:]
	} else {
		reply = MockReply{Text: m.Default}
	}
	m.mu.Unlock()

	if reply.Err != nil {
		return nil, reply.Err
	}
	return &llm.ProviderResponse{
		Text:         reply.Text,
		InputTokens:  len(req.Prompt) / 4,
		OutputTokens: len(reply.Text) / 4,
	}, nil
}
