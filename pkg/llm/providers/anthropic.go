package providers

import (
	"context"
	"net/http"
	"strings"

	"github.com/charterworks/charterd/pkg/llm"
)

const (
	anthropicDefaultBaseURL = "https://api.anthropic.com"
	anthropicAPIVersion     = "2023-06-01"
)

// Anthropic speaks the native Messages API.
type Anthropic struct {
	name       string
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewAnthropic creates an Anthropic adapter.
func NewAnthropic(name, apiKey, baseURL string, httpClient *http.Client) *Anthropic {
	if baseURL == "" {
		baseURL = anthropicDefaultBaseURL
	}
	return &Anthropic{
		name:       name,
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// Name implements llm.Provider.
func (p *Anthropic) Name() string { return p.name }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	MaxTokens int                `json:"max_tokens"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Complete implements llm.Provider.
func (p *Anthropic) Complete(ctx context.Context, req llm.ProviderRequest) (*llm.ProviderResponse, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024 // the Messages API requires max_tokens
	}

	body := anthropicRequest{
		Model:     req.Model,
		System:    req.System,
		Messages:  []anthropicMessage{{Role: "user", Content: req.Prompt}},
		MaxTokens: maxTokens,
	}

	var resp anthropicResponse
	err := doJSON(ctx, p.httpClient, p.name, http.MethodPost, p.baseURL+"/v1/messages",
		map[string]string{
			"x-api-key":         p.apiKey,
			"anthropic-version": anthropicAPIVersion,
		}, body, &resp)
	if err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, &llm.ProviderError{
			Provider: p.name,
			Kind:     llm.KindTransient,
			Message:  "reply contained no text blocks",
		}
	}

	return &llm.ProviderResponse{
		Text:         text.String(),
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}, nil
}
