package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/charterworks/charterd/pkg/config"
)

// Router resolves a tier to its fallback chain and drives bounded retries
// against each (provider, model) pair in order. The router holds no
// per-session state: it is a pure function of configuration plus input.
type Router struct {
	cfg       *config.Config
	providers map[string]Provider
	recorder  UsageRecorder
	sem       map[string]chan struct{}
}

// NewRouter creates a router over the given provider adapters. providers
// is keyed by provider name as referenced in tier chains.
func NewRouter(cfg *config.Config, providers map[string]Provider, recorder UsageRecorder) *Router {
	if recorder == nil {
		recorder = NopRecorder{}
	}
	sem := make(map[string]chan struct{})
	for name, pc := range cfg.Providers.GetAll() {
		if pc.MaxConcurrent > 0 {
			sem[name] = make(chan struct{}, pc.MaxConcurrent)
		}
	}
	return &Router{
		cfg:       cfg,
		providers: providers,
		recorder:  recorder,
		sem:       sem,
	}
}

// Complete routes one request through the tier's fallback chain. Each pair
// is attempted up to MaxAttemptsPerPair times with exponential backoff
// before the chain falls through; ErrProviderExhausted is returned when
// every pair has failed.
func (r *Router) Complete(ctx context.Context, req Request) (*Completion, error) {
	tierCfg, err := r.cfg.Tiers.Get(req.Tier)
	if err != nil {
		return nil, err
	}

	chain := r.resolveChain(req.Tier, tierCfg)
	timeout := r.attemptTimeout(req, tierCfg)
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = tierCfg.MaxTokens
	}

	var lastErr error
	for _, ref := range chain {
		provider, ok := r.providers[ref.Provider]
		if !ok {
			lastErr = fmt.Errorf("%w: %s", config.ErrProviderNotFound, ref.Provider)
			continue
		}

		completion, err := r.tryPair(ctx, req.Tier, provider, ref, ProviderRequest{
			Model:     ref.Model,
			System:    req.System,
			Prompt:    req.Prompt,
			MaxTokens: maxTokens,
		}, timeout)
		if err == nil {
			return completion, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		var perr *ProviderError
		if errors.As(err, &perr) && !perr.Retryable() {
			// A bad request would fail identically on every pair that
			// shares the request shape, so it ends the chain. Other
			// non-retryable kinds fall through, since a different model
			// may accept the request (e.g. a longer context).
			if perr.Kind == KindBadRequest {
				return nil, err
			}
		}

		slog.Warn("Fallback chain advancing",
			"tier", req.Tier,
			"failed_provider", ref.Provider,
			"failed_model", ref.Model,
			"error", err)
	}

	return nil, fmt.Errorf("%w: tier %s: %v", ErrProviderExhausted, req.Tier, lastErr)
}

// tryPair attempts one (provider, model) pair up to MaxAttemptsPerPair
// times with exponential backoff. Timeout applies per attempt.
func (r *Router) tryPair(
	ctx context.Context,
	tier config.Tier,
	provider Provider,
	ref config.ModelRef,
	preq ProviderRequest,
	timeout time.Duration,
) (*Completion, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.cfg.Router.BackoffBase
	bo.Multiplier = r.cfg.Router.BackoffFactor
	bo.RandomizationFactor = r.cfg.Router.BackoffJitter
	bo.MaxInterval = r.cfg.Router.BackoffCap
	bo.Reset()

	var lastErr error
	for attempt := 1; attempt <= r.cfg.Router.MaxAttemptsPerPair; attempt++ {
		completion, err := r.attempt(ctx, tier, provider, ref, preq, timeout)
		if err == nil {
			return completion, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		var perr *ProviderError
		if errors.As(err, &perr) && !perr.Retryable() {
			return nil, err
		}
		if attempt == r.cfg.Router.MaxAttemptsPerPair {
			break
		}

		wait := bo.NextBackOff()
		// A 429's backoff hint wins over the computed interval.
		if errors.As(err, &perr) && perr.Kind == KindRateLimited && perr.RetryAfter > 0 {
			wait = perr.RetryAfter
			if wait > r.cfg.Router.BackoffCap {
				wait = r.cfg.Router.BackoffCap
			}
		}

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// attempt runs a single provider call under the per-attempt timeout and
// the provider's concurrency cap, and emits a usage record.
func (r *Router) attempt(
	ctx context.Context,
	tier config.Tier,
	provider Provider,
	ref config.ModelRef,
	preq ProviderRequest,
	timeout time.Duration,
) (*Completion, error) {
	if sem, ok := r.sem[ref.Provider]; ok {
		select {
		case sem <- struct{}{}:
			defer func() { <-sem }()
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	resp, err := provider.Complete(attemptCtx, preq)
	latency := time.Since(start)

	rec := UsageRecord{
		Tier:     tier,
		Provider: ref.Provider,
		Model:    ref.Model,
		Latency:  latency,
	}

	if err != nil {
		switch {
		case errors.Is(attemptCtx.Err(), context.DeadlineExceeded):
			rec.Outcome = OutcomeTimeout
			err = &ProviderError{
				Provider: ref.Provider,
				Kind:     KindTransient,
				Message:  fmt.Sprintf("attempt timed out after %s", timeout),
			}
		default:
			var perr *ProviderError
			if errors.As(err, &perr) && !perr.Retryable() {
				rec.Outcome = OutcomePermanent
			} else {
				rec.Outcome = OutcomeTransient
			}
		}
		r.recorder.Record(rec)
		return nil, err
	}

	rec.Outcome = OutcomeSuccess
	rec.InputTokens = resp.InputTokens
	rec.OutputTokens = resp.OutputTokens
	r.recorder.Record(rec)

	return &Completion{
		Text:         resp.Text,
		ModelUsed:    ref.Model,
		ProviderUsed: ref.Provider,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		LatencyMS:    latency.Milliseconds(),
	}, nil
}

// resolveChain orders the tier chain. In cost-optimization mode FAST
// prefers the cheapest provider order and POWERFUL the most capable; all
// other tiers (and the mode being off) use the configured order verbatim.
func (r *Router) resolveChain(tier config.Tier, tierCfg *config.TierConfig) []config.ModelRef {
	chain := make([]config.ModelRef, len(tierCfg.Chain))
	copy(chain, tierCfg.Chain)

	if !r.cfg.Router.CostOptimization {
		return chain
	}

	rank := func(ref config.ModelRef) int {
		pc, err := r.cfg.Providers.Get(ref.Provider)
		if err != nil {
			return int(^uint(0) >> 1)
		}
		switch tier {
		case config.TierFast:
			return pc.CostRank
		case config.TierPowerful:
			return pc.CapabilityRank
		default:
			return 0
		}
	}

	if tier == config.TierFast || tier == config.TierPowerful {
		sort.SliceStable(chain, func(i, j int) bool {
			return rank(chain[i]) < rank(chain[j])
		})
	}
	return chain
}

// attemptTimeout resolves the per-attempt timeout: request override, then
// tier override, then router default.
func (r *Router) attemptTimeout(req Request, tierCfg *config.TierConfig) time.Duration {
	if req.Timeout > 0 {
		return req.Timeout
	}
	if tierCfg.Timeout > 0 {
		return tierCfg.Timeout
	}
	return r.cfg.Router.DefaultTimeout
}
