package providers

import (
	"context"
	"net/http"
	"strings"

	"github.com/charterworks/charterd/pkg/llm"
)

const ollamaDefaultBaseURL = "http://localhost:11434"

// Ollama speaks the local Ollama chat API; backs the LOCAL tier.
type Ollama struct {
	name       string
	baseURL    string
	httpClient *http.Client
}

// NewOllama creates an Ollama adapter.
func NewOllama(name, baseURL string, httpClient *http.Client) *Ollama {
	if baseURL == "" {
		baseURL = ollamaDefaultBaseURL
	}
	return &Ollama{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// Name implements llm.Provider.
func (p *Ollama) Name() string { return p.name }

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	PromptEvalCount int `json:"prompt_eval_count"`
	EvalCount       int `json:"eval_count"`
}

// Complete implements llm.Provider.
func (p *Ollama) Complete(ctx context.Context, req llm.ProviderRequest) (*llm.ProviderResponse, error) {
	messages := make([]ollamaMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, ollamaMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, ollamaMessage{Role: "user", Content: req.Prompt})

	body := ollamaChatRequest{
		Model:    req.Model,
		Messages: messages,
		Stream:   false,
	}
	if req.MaxTokens > 0 {
		body.Options = map[string]any{"num_predict": req.MaxTokens}
	}

	var resp ollamaChatResponse
	err := doJSON(ctx, p.httpClient, p.name, http.MethodPost, p.baseURL+"/api/chat", nil, body, &resp)
	if err != nil {
		return nil, err
	}

	return &llm.ProviderResponse{
		Text:         resp.Message.Content,
		InputTokens:  resp.PromptEvalCount,
		OutputTokens: resp.EvalCount,
	}, nil
}
