// Package config loads and validates the charterd configuration snapshot.
// Configuration is immutable after Initialize; reload is via process restart.
package config

import "time"

// Config is the umbrella configuration object returned by Initialize and
// passed to components at construction. No ambient singletons.
type Config struct {
	configDir string

	// LLM routing
	Providers *ProviderRegistry
	Tiers     *TierRegistry
	Router    RouterConfig

	// Interview behaviour
	Interview InterviewConfig

	// Prompt-injection screening
	Injection InjectionConfig
}

// RouterConfig holds router-wide retry and cost knobs.
type RouterConfig struct {
	// MaxAttemptsPerPair is how many times one (provider, model) pair is
	// tried before the chain falls through to the next pair.
	MaxAttemptsPerPair int `yaml:"max_attempts_per_pair"`

	// Backoff parameters for retries within one pair.
	BackoffBase   time.Duration `yaml:"backoff_base"`
	BackoffFactor float64       `yaml:"backoff_factor"`
	BackoffJitter float64       `yaml:"backoff_jitter"`
	BackoffCap    time.Duration `yaml:"backoff_cap"`

	// DefaultTimeout is the per-attempt timeout unless a tier overrides it.
	DefaultTimeout time.Duration `yaml:"default_timeout"`

	// CostOptimization reorders provider chains by cost/capability rank.
	CostOptimization bool `yaml:"cost_optimization"`
}

// InterviewConfig holds conversation-loop and quality knobs.
type InterviewConfig struct {
	// QualityThreshold is the minimum acceptable response score (0..10).
	QualityThreshold int `yaml:"quality_threshold"`

	// MaxAttempts is the per-question attempt budget before FORCE_ACCEPT.
	MaxAttempts int `yaml:"max_attempts"`

	// EvaluationTimeout bounds the wall clock of one response evaluation.
	EvaluationTimeout time.Duration `yaml:"evaluation_timeout"`

	// Input bounds.
	MaxResponseChars int `yaml:"max_response_chars"`
	MaxQuestionChars int `yaml:"max_question_chars"`
	MaxFollowUpChars int `yaml:"max_follow_up_chars"`
}

// InjectionConfig carries the prompt-injection pattern list. Patterns are
// regular expressions compiled case-insensitively by the conversation loop.
type InjectionConfig struct {
	// PatternsFile optionally points at a YAML file with extra patterns.
	PatternsFile string `yaml:"patterns_file"`

	// Patterns is the merged list: built-in defaults plus user additions.
	Patterns []string `yaml:"patterns"`
}

// ConfigStats contains statistics about loaded configuration.
type ConfigStats struct {
	Providers int
	Tiers     int
	Patterns  int
}

// Stats returns configuration statistics for logging and the health check.
func (c *Config) Stats() ConfigStats {
	return ConfigStats{
		Providers: c.Providers.Len(),
		Tiers:     c.Tiers.Len(),
		Patterns:  len(c.Injection.Patterns),
	}
}

// ConfigDir returns the configuration directory path.
func (c *Config) ConfigDir() string { return c.configDir }
