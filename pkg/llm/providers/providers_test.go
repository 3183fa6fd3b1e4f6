package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charterworks/charterd/pkg/llm"
)

func TestOpenAI_Complete(t *testing.T) {
	var gotBody map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "hello back"}},
			},
			"usage": map[string]any{"prompt_tokens": 12, "completion_tokens": 4},
		})
	}))
	defer ts.Close()

	p := NewOpenAI("openai", "test-key", ts.URL, ts.Client())
	resp, err := p.Complete(context.Background(), llm.ProviderRequest{
		Model: "gpt-4o-mini", System: "be terse", Prompt: "hi", MaxTokens: 64,
	})
	require.NoError(t, err)

	assert.Equal(t, "hello back", resp.Text)
	assert.Equal(t, 12, resp.InputTokens)
	assert.Equal(t, 4, resp.OutputTokens)
	assert.Equal(t, "gpt-4o-mini", gotBody["model"])
}

func TestAnthropic_Complete(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.NotEmpty(t, r.Header.Get("anthropic-version"))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]any{
				{"type": "text", "text": "claude "},
				{"type": "text", "text": "reply"},
			},
			"usage": map[string]any{"input_tokens": 20, "output_tokens": 6},
		})
	}))
	defer ts.Close()

	p := NewAnthropic("anthropic", "test-key", ts.URL, ts.Client())
	resp, err := p.Complete(context.Background(), llm.ProviderRequest{Model: "claude", Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "claude reply", resp.Text)
	assert.Equal(t, 20, resp.InputTokens)
}

func TestOllama_Complete(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"message":           map[string]any{"content": "local reply"},
			"prompt_eval_count": 9,
			"eval_count":        3,
		})
	}))
	defer ts.Close()

	p := NewOllama("ollama", ts.URL, ts.Client())
	resp, err := p.Complete(context.Background(), llm.ProviderRequest{Model: "llama3.1:8b", Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "local reply", resp.Text)
	assert.Equal(t, 9, resp.InputTokens)
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		header     http.Header
		wantKind   llm.ErrorKind
		wantRetry  bool
		retryAfter time.Duration
	}{
		{name: "503 is transient", status: 503, body: "upstream down", wantKind: llm.KindTransient, wantRetry: true},
		{name: "500 is transient", status: 500, body: "oops", wantKind: llm.KindTransient, wantRetry: true},
		{
			name: "429 carries retry hint", status: 429, body: "slow down",
			header: http.Header{"Retry-After": []string{"7"}}, wantKind: llm.KindRateLimited,
			wantRetry: true, retryAfter: 7 * time.Second,
		},
		{name: "400 is permanent", status: 400, body: "bad param", wantKind: llm.KindBadRequest, wantRetry: false},
		{name: "context length is permanent", status: 400, body: `{"error": "maximum context length exceeded"}`, wantKind: llm.KindContextLength, wantRetry: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				for k, vs := range tt.header {
					for _, v := range vs {
						w.Header().Set(k, v)
					}
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer ts.Close()

			p := NewOpenAI("openai", "k", ts.URL, ts.Client())
			_, err := p.Complete(context.Background(), llm.ProviderRequest{Model: "m", Prompt: "hi"})
			require.Error(t, err)

			var perr *llm.ProviderError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tt.wantKind, perr.Kind)
			assert.Equal(t, tt.wantRetry, perr.Retryable())
			assert.Equal(t, tt.retryAfter, perr.RetryAfter)
			assert.Equal(t, tt.status, perr.StatusCode)
		})
	}
}

func TestTransportErrorIsTransient(t *testing.T) {
	p := NewOpenAI("openai", "k", "http://127.0.0.1:1", &http.Client{Timeout: 200 * time.Millisecond})
	_, err := p.Complete(context.Background(), llm.ProviderRequest{Model: "m", Prompt: "hi"})
	require.Error(t, err)

	var perr *llm.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, llm.KindTransient, perr.Kind)
	assert.True(t, perr.Retryable())
}

func TestOpenAI_EmptyChoices(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer ts.Close()

	p := NewOpenAI("openai", "k", ts.URL, ts.Client())
	_, err := p.Complete(context.Background(), llm.ProviderRequest{Model: "m", Prompt: "hi"})
	require.Error(t, err)

	var perr *llm.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.True(t, perr.Retryable())
}

func TestMock_ScriptAndDefault(t *testing.T) {
	m := NewMock("mock")
	m.Enqueue(MockReply{Text: "first"}, MockReply{Err: context.DeadlineExceeded})

	resp, err := m.Complete(context.Background(), llm.ProviderRequest{Prompt: "a"})
	require.NoError(t, err)
	assert.Equal(t, "first", resp.Text)

	_, err = m.Complete(context.Background(), llm.ProviderRequest{Prompt: "b"})
	assert.Error(t, err)

	resp, err = m.Complete(context.Background(), llm.ProviderRequest{Prompt: "c"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)

	assert.Len(t, m.Calls(), 3)
}
