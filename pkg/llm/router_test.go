package llm_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charterworks/charterd/pkg/config"
	"github.com/charterworks/charterd/pkg/llm"
	"github.com/charterworks/charterd/pkg/llm/providers"
)

func testConfig(t *testing.T, costOptimization bool) *config.Config {
	t.Helper()
	cfg, err := config.Initialize(context.Background(), t.TempDir())
	require.NoError(t, err)
	cfg.Router.CostOptimization = costOptimization
	cfg.Router.BackoffBase = time.Millisecond
	cfg.Router.BackoffCap = 5 * time.Millisecond
	return cfg
}

// chainConfig rebuilds the BALANCED tier with the given provider chain.
func chainConfig(t *testing.T, cfg *config.Config, refs ...config.ModelRef) *config.Config {
	t.Helper()
	tiers := cfg.Tiers.GetAll()
	tiers[config.TierBalanced] = &config.TierConfig{Chain: refs, MaxTokens: 256}
	return &config.Config{
		Providers: cfg.Providers,
		Tiers:     config.NewTierRegistry(tiers),
		Router:    cfg.Router,
		Interview: cfg.Interview,
		Injection: cfg.Injection,
	}
}

func transientErr(provider string) *llm.ProviderError {
	return &llm.ProviderError{Provider: provider, Kind: llm.KindTransient, StatusCode: 503, Message: "upstream unavailable"}
}

// recordingSink captures usage records for assertions.
type recordingSink struct {
	mu   sync.Mutex
	recs []llm.UsageRecord
}

func (r *recordingSink) Record(rec llm.UsageRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, rec)
}

func (r *recordingSink) all() []llm.UsageRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]llm.UsageRecord, len(r.recs))
	copy(out, r.recs)
	return out
}

func TestRouter_ProviderFailover(t *testing.T) {
	primary := providers.NewMock("primary")
	secondary := providers.NewMock("secondary")

	// Primary 503s on all 3 attempts; secondary succeeds on attempt 1.
	primary.Enqueue(
		providers.MockReply{Err: transientErr("primary")},
		providers.MockReply{Err: transientErr("primary")},
		providers.MockReply{Err: transientErr("primary")},
	)
	secondary.Enqueue(providers.MockReply{Text: "from secondary"})

	cfg := chainConfig(t, testConfig(t, false),
		config.ModelRef{Provider: "primary", Model: "model-a"},
		config.ModelRef{Provider: "secondary", Model: "model-b"},
	)

	sink := &recordingSink{}
	router := llm.NewRouter(cfg, map[string]llm.Provider{
		"primary": primary, "secondary": secondary,
	}, sink)

	completion, err := router.Complete(context.Background(), llm.Request{
		Tier: config.TierBalanced, Prompt: "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, "from secondary", completion.Text)
	assert.Equal(t, "secondary", completion.ProviderUsed)
	assert.Equal(t, "model-b", completion.ModelUsed)

	// 3 failed attempts on primary + 1 success on secondary.
	recs := sink.all()
	require.Len(t, recs, 4)
	assert.Equal(t, llm.OutcomeSuccess, recs[3].Outcome)
	assert.Equal(t, "secondary", recs[3].Provider)
	for _, rec := range recs[:3] {
		assert.Equal(t, "primary", rec.Provider)
		assert.Equal(t, llm.OutcomeTransient, rec.Outcome)
	}
}

func TestRouter_ProviderExhausted(t *testing.T) {
	only := providers.NewMock("only")
	only.Enqueue(
		providers.MockReply{Err: transientErr("only")},
		providers.MockReply{Err: transientErr("only")},
		providers.MockReply{Err: transientErr("only")},
	)

	cfg := chainConfig(t, testConfig(t, false),
		config.ModelRef{Provider: "only", Model: "m"},
	)
	router := llm.NewRouter(cfg, map[string]llm.Provider{"only": only}, nil)

	_, err := router.Complete(context.Background(), llm.Request{
		Tier: config.TierBalanced, Prompt: "hello",
	})
	assert.ErrorIs(t, err, llm.ErrProviderExhausted)
	assert.Len(t, only.Calls(), 3)
}

func TestRouter_NonRetryableStopsImmediately(t *testing.T) {
	only := providers.NewMock("only")
	only.Enqueue(providers.MockReply{Err: &llm.ProviderError{
		Provider: "only", Kind: llm.KindBadRequest, StatusCode: 400, Message: "malformed request",
	}})

	cfg := chainConfig(t, testConfig(t, false),
		config.ModelRef{Provider: "only", Model: "m"},
	)
	router := llm.NewRouter(cfg, map[string]llm.Provider{"only": only}, nil)

	_, err := router.Complete(context.Background(), llm.Request{
		Tier: config.TierBalanced, Prompt: "hello",
	})

	var perr *llm.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, llm.KindBadRequest, perr.Kind)
	assert.Len(t, only.Calls(), 1, "bad requests must not be retried")
}

func TestRouter_RateLimitHintHonored(t *testing.T) {
	only := providers.NewMock("only")
	only.Enqueue(
		providers.MockReply{Err: &llm.ProviderError{
			Provider: "only", Kind: llm.KindRateLimited, StatusCode: 429,
			Message: "slow down", RetryAfter: 2 * time.Millisecond,
		}},
		providers.MockReply{Text: "recovered"},
	)

	cfg := chainConfig(t, testConfig(t, false),
		config.ModelRef{Provider: "only", Model: "m"},
	)
	router := llm.NewRouter(cfg, map[string]llm.Provider{"only": only}, nil)

	completion, err := router.Complete(context.Background(), llm.Request{
		Tier: config.TierBalanced, Prompt: "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, "recovered", completion.Text)
	assert.Len(t, only.Calls(), 2)
}

func TestRouter_CostOptimizationReordersFast(t *testing.T) {
	cheap := providers.NewMock("cheap")
	pricey := providers.NewMock("pricey")
	cheap.Default = "cheap answer"

	providerCfgs := map[string]*config.ProviderConfig{
		"cheap":  {Type: config.ProviderTypeMock, CostRank: 1, CapabilityRank: 2},
		"pricey": {Type: config.ProviderTypeMock, CostRank: 2, CapabilityRank: 1},
	}
	tiers := map[config.Tier]*config.TierConfig{
		config.TierFast: {
			// Configured order lists pricey first; cost mode flips it.
			Chain: []config.ModelRef{
				{Provider: "pricey", Model: "big"},
				{Provider: "cheap", Model: "small"},
			},
		},
	}
	base := testConfig(t, true)
	cfg := &config.Config{
		Providers: config.NewProviderRegistry(providerCfgs),
		Tiers:     config.NewTierRegistry(tiers),
		Router:    base.Router,
		Interview: base.Interview,
	}

	router := llm.NewRouter(cfg, map[string]llm.Provider{"cheap": cheap, "pricey": pricey}, nil)

	completion, err := router.Complete(context.Background(), llm.Request{
		Tier: config.TierFast, Prompt: "quick",
	})
	require.NoError(t, err)
	assert.Equal(t, "cheap", completion.ProviderUsed)
	assert.Empty(t, pricey.Calls())
}

func TestRouter_VerbatimOrderWhenCostModeOff(t *testing.T) {
	first := providers.NewMock("first")
	second := providers.NewMock("second")
	first.Default = "first answer"

	cfg := chainConfig(t, testConfig(t, false),
		config.ModelRef{Provider: "first", Model: "a"},
		config.ModelRef{Provider: "second", Model: "b"},
	)
	router := llm.NewRouter(cfg, map[string]llm.Provider{"first": first, "second": second}, nil)

	completion, err := router.Complete(context.Background(), llm.Request{
		Tier: config.TierBalanced, Prompt: "go",
	})
	require.NoError(t, err)
	assert.Equal(t, "first", completion.ProviderUsed)
	assert.Empty(t, second.Calls())
}

func TestRouter_UnknownTier(t *testing.T) {
	cfg := chainConfig(t, testConfig(t, false),
		config.ModelRef{Provider: "x", Model: "m"},
	)
	router := llm.NewRouter(cfg, nil, nil)

	_, err := router.Complete(context.Background(), llm.Request{Tier: "MYSTERY"})
	assert.ErrorIs(t, err, config.ErrTierNotFound)
}
