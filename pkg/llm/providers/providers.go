// Package providers contains the vendor adapters behind the LLM router.
// Each adapter maps its vendor's native errors onto the router's closed
// error classification; new vendors plug in without touching the router.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charterworks/charterd/pkg/config"
	"github.com/charterworks/charterd/pkg/llm"
)

// defaultHTTPTimeout bounds the transport independently of the router's
// per-attempt context timeout, as a backstop against leaked connections.
const defaultHTTPTimeout = 120 * time.Second

// BuildAll constructs adapters for every configured provider. Hosted
// providers with a missing credential are skipped with a warning; the
// build fails only when no provider could be constructed at all, so a
// single-vendor deployment does not need every vendor's key.
func BuildAll(cfg *config.Config) (map[string]llm.Provider, error) {
	out := make(map[string]llm.Provider)
	var lastErr error
	for name, pc := range cfg.Providers.GetAll() {
		p, err := New(name, pc)
		if err != nil {
			slog.Warn("Skipping LLM provider", "provider", name, "reason", err)
			lastErr = fmt.Errorf("provider %s: %w", name, err)
			continue
		}
		out[name] = p
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no usable LLM providers: %w", lastErr)
	}
	return out, nil
}

// New constructs one adapter from its configuration.
func New(name string, pc *config.ProviderConfig) (llm.Provider, error) {
	httpClient := &http.Client{Timeout: defaultHTTPTimeout}
	switch pc.Type {
	case config.ProviderTypeOpenAI:
		key := os.Getenv(pc.APIKeyEnv)
		if key == "" {
			return nil, fmt.Errorf("missing %s", pc.APIKeyEnv)
		}
		return NewOpenAI(name, key, pc.BaseURL, httpClient), nil
	case config.ProviderTypeAnthropic:
		key := os.Getenv(pc.APIKeyEnv)
		if key == "" {
			return nil, fmt.Errorf("missing %s", pc.APIKeyEnv)
		}
		return NewAnthropic(name, key, pc.BaseURL, httpClient), nil
	case config.ProviderTypeOllama:
		return NewOllama(name, pc.BaseURL, httpClient), nil
	case config.ProviderTypeMock:
		return NewMock(name), nil
	default:
		return nil, fmt.Errorf("unknown provider type %q", pc.Type)
	}
}

// doJSON posts a JSON body and decodes a JSON reply, classifying HTTP
// failures into the router's error kinds.
func doJSON(ctx context.Context, client *http.Client, providerName, method, url string, headers map[string]string, body, out any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return &llm.ProviderError{Provider: providerName, Kind: llm.KindBadRequest, Message: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return &llm.ProviderError{Provider: providerName, Kind: llm.KindBadRequest, Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		// Transport-level failure (DNS, connect, reset, context deadline).
		return &llm.ProviderError{Provider: providerName, Kind: llm.KindTransient, Message: err.Error()}
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return &llm.ProviderError{Provider: providerName, Kind: llm.KindTransient, Message: readErr.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifyHTTP(providerName, resp, raw)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return &llm.ProviderError{
			Provider: providerName,
			Kind:     llm.KindTransient,
			Message:  fmt.Sprintf("undecodable reply: %v", err),
		}
	}
	return nil
}

// classifyHTTP maps an HTTP failure onto the closed error kinds: 5xx and
// 408 are transient, 429 is rate-limited with the Retry-After hint
// honored, context-length rejections and other 4xx are permanent.
func classifyHTTP(providerName string, resp *http.Response, raw []byte) *llm.ProviderError {
	msg := strings.TrimSpace(string(raw))
	if len(msg) > 512 {
		msg = msg[:512]
	}

	perr := &llm.ProviderError{
		Provider:   providerName,
		StatusCode: resp.StatusCode,
		Message:    fmt.Sprintf("http %d: %s", resp.StatusCode, msg),
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		perr.Kind = llm.KindRateLimited
		perr.RetryAfter = retryAfter(resp)
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusRequestTimeout:
		perr.Kind = llm.KindTransient
	case isContextLength(msg):
		perr.Kind = llm.KindContextLength
	default:
		perr.Kind = llm.KindBadRequest
	}
	return perr
}

func retryAfter(resp *http.Response) time.Duration {
	v := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func isContextLength(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "context_length") ||
		strings.Contains(lower, "context length") ||
		strings.Contains(lower, "maximum context") ||
		strings.Contains(lower, "prompt is too long")
}
