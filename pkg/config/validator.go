package config

import (
	"fmt"
	"regexp"
)

// validate checks the merged configuration snapshot component by
// component and stops at the first failure, which is returned with full
// context.
func validate(cfg *Config) error {
	for name, p := range cfg.Providers.GetAll() {
		if err := validateProvider(name, p); err != nil {
			return err
		}
	}

	for tier, t := range cfg.Tiers.GetAll() {
		if err := validateTier(cfg, tier, t); err != nil {
			return err
		}
	}

	if err := validateRouter(cfg.Router); err != nil {
		return err
	}
	if err := validateInterview(cfg.Interview); err != nil {
		return err
	}

	for i, pattern := range cfg.Injection.Patterns {
		if _, err := regexp.Compile("(?i)" + pattern); err != nil {
			return NewValidationError("injection", fmt.Sprintf("pattern[%d]", i), "", fmt.Errorf("%w: %v", ErrInvalidValue, err))
		}
	}

	return nil
}

func validateProvider(name string, p *ProviderConfig) error {
	switch p.Type {
	case ProviderTypeOpenAI, ProviderTypeAnthropic, ProviderTypeOllama, ProviderTypeMock:
	default:
		return NewValidationError("llm_provider", name, "type", fmt.Errorf("%w: %q", ErrInvalidValue, p.Type))
	}
	// Ollama and mock run without credentials; hosted providers need a key env.
	if p.Type == ProviderTypeOpenAI || p.Type == ProviderTypeAnthropic {
		if p.APIKeyEnv == "" {
			return NewValidationError("llm_provider", name, "api_key_env", ErrMissingRequiredField)
		}
	}
	if p.MaxConcurrent < 0 {
		return NewValidationError("llm_provider", name, "max_concurrent", fmt.Errorf("%w: must be >= 0", ErrInvalidValue))
	}
	return nil
}

func validateTier(cfg *Config, tier Tier, t *TierConfig) error {
	switch tier {
	case TierFast, TierBalanced, TierPowerful, TierLocal:
	default:
		return NewValidationError("tier", string(tier), "", fmt.Errorf("%w: unknown tier", ErrInvalidValue))
	}
	if len(t.Chain) == 0 {
		return NewValidationError("tier", string(tier), "chain", fmt.Errorf("%w: fallback chain is empty", ErrMissingRequiredField))
	}
	for i, ref := range t.Chain {
		if ref.Provider == "" || ref.Model == "" {
			return NewValidationError("tier", string(tier), fmt.Sprintf("chain[%d]", i), ErrMissingRequiredField)
		}
		if !cfg.Providers.Has(ref.Provider) {
			return NewValidationError("tier", string(tier), fmt.Sprintf("chain[%d].provider", i),
				fmt.Errorf("%w: %s", ErrProviderNotFound, ref.Provider))
		}
	}
	if t.Timeout < 0 {
		return NewValidationError("tier", string(tier), "timeout", fmt.Errorf("%w: must be >= 0", ErrInvalidValue))
	}
	return nil
}

func validateRouter(r RouterConfig) error {
	if r.MaxAttemptsPerPair < 1 {
		return NewValidationError("router", "router", "max_attempts_per_pair", fmt.Errorf("%w: must be >= 1", ErrInvalidValue))
	}
	if r.BackoffBase <= 0 || r.BackoffCap <= 0 {
		return NewValidationError("router", "router", "backoff", fmt.Errorf("%w: backoff durations must be positive", ErrInvalidValue))
	}
	if r.BackoffFactor < 1 {
		return NewValidationError("router", "router", "backoff_factor", fmt.Errorf("%w: must be >= 1", ErrInvalidValue))
	}
	if r.BackoffJitter < 0 || r.BackoffJitter > 1 {
		return NewValidationError("router", "router", "backoff_jitter", fmt.Errorf("%w: must be in [0,1]", ErrInvalidValue))
	}
	if r.DefaultTimeout <= 0 {
		return NewValidationError("router", "router", "default_timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}

func validateInterview(i InterviewConfig) error {
	if i.QualityThreshold < 0 || i.QualityThreshold > 10 {
		return NewValidationError("interview", "interview", "quality_threshold", fmt.Errorf("%w: must be in [0,10]", ErrInvalidValue))
	}
	if i.MaxAttempts < 1 {
		return NewValidationError("interview", "interview", "max_attempts", fmt.Errorf("%w: must be >= 1", ErrInvalidValue))
	}
	if i.EvaluationTimeout <= 0 {
		return NewValidationError("interview", "interview", "evaluation_timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if i.MaxResponseChars < 1 || i.MaxQuestionChars < 1 || i.MaxFollowUpChars < 1 {
		return NewValidationError("interview", "interview", "bounds", fmt.Errorf("%w: length bounds must be positive", ErrInvalidValue))
	}
	return nil
}
