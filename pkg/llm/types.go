// Package llm implements the tiered LLM router: per-tier fallback chains,
// bounded retry with backoff, classified provider errors, and structured
// usage records.
package llm

import (
	"context"
	"time"

	"github.com/charterworks/charterd/pkg/config"
)

// Request is one completion request routed by tier.
type Request struct {
	// System is the instruction prompt; Prompt is the user content.
	System string
	Prompt string

	Tier config.Tier

	// MaxTokens overrides the tier default when > 0.
	MaxTokens int

	// Timeout is per attempt, not cumulative. Zero means the tier (or
	// router) default applies.
	Timeout time.Duration
}

// Completion is the router's result for one request.
type Completion struct {
	Text         string
	ModelUsed    string
	ProviderUsed string
	InputTokens  int
	OutputTokens int
	LatencyMS    int64
}

// ProviderRequest is the adapter-level request for one attempt.
type ProviderRequest struct {
	Model     string
	System    string
	Prompt    string
	MaxTokens int
}

// ProviderResponse is the adapter-level result of one attempt.
type ProviderResponse struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// Provider executes one completion attempt against a single vendor.
// Adapters map native errors to *ProviderError so the router can classify
// retryability without vendor knowledge.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req ProviderRequest) (*ProviderResponse, error)
}

// Outcome classifies how a routed attempt terminated.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeTransient Outcome = "transient_error"
	OutcomePermanent Outcome = "permanent_error"
	OutcomeTimeout   Outcome = "timeout"
)

// UsageRecord is emitted for every terminal attempt. Observability only:
// consumed by no component for correctness.
type UsageRecord struct {
	Tier         config.Tier
	Provider     string
	Model        string
	InputTokens  int
	OutputTokens int
	Latency      time.Duration
	Outcome      Outcome
}

// UsageRecorder receives usage records. Implementations must be safe for
// concurrent use; records may arrive out of order across sessions.
type UsageRecorder interface {
	Record(rec UsageRecord)
}
