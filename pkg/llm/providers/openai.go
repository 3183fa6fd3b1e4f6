package providers

import (
	"context"
	"net/http"
	"strings"

	"github.com/charterworks/charterd/pkg/llm"
)

const openaiDefaultBaseURL = "https://api.openai.com"

// OpenAI speaks the Chat Completions API. Also covers OpenAI-compatible
// endpoints via a custom base URL.
type OpenAI struct {
	name       string
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewOpenAI creates an OpenAI adapter.
func NewOpenAI(name, apiKey, baseURL string, httpClient *http.Client) *OpenAI {
	if baseURL == "" {
		baseURL = openaiDefaultBaseURL
	}
	return &OpenAI{
		name:       name,
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// Name implements llm.Provider.
func (p *OpenAI) Name() string { return p.name }

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiChatRequest struct {
	Model     string          `json:"model"`
	Messages  []openaiMessage `json:"messages"`
	MaxTokens int             `json:"max_completion_tokens,omitempty"`
}

type openaiChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Complete implements llm.Provider.
func (p *OpenAI) Complete(ctx context.Context, req llm.ProviderRequest) (*llm.ProviderResponse, error) {
	messages := make([]openaiMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openaiMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, openaiMessage{Role: "user", Content: req.Prompt})

	body := openaiChatRequest{
		Model:     req.Model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
	}

	var resp openaiChatResponse
	err := doJSON(ctx, p.httpClient, p.name, http.MethodPost, p.baseURL+"/v1/chat/completions",
		map[string]string{"Authorization": "Bearer " + p.apiKey}, body, &resp)
	if err != nil {
		return nil, err
	}

	if len(resp.Choices) == 0 {
		return nil, &llm.ProviderError{
			Provider: p.name,
			Kind:     llm.KindTransient,
			Message:  "reply contained no choices",
		}
	}

	return &llm.ProviderResponse{
		Text:         resp.Choices[0].Message.Content,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}
