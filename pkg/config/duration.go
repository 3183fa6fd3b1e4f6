package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// parseDuration parses a YAML duration string ("500ms", "30s"), treating
// empty as zero.
func parseDuration(field, raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidValue, field, err)
	}
	return d, nil
}

// UnmarshalYAML decodes router configuration, parsing duration strings.
func (r *RouterConfig) UnmarshalYAML(value *yaml.Node) error {
	type raw struct {
		MaxAttemptsPerPair int     `yaml:"max_attempts_per_pair"`
		BackoffBase        string  `yaml:"backoff_base"`
		BackoffFactor      float64 `yaml:"backoff_factor"`
		BackoffJitter      float64 `yaml:"backoff_jitter"`
		BackoffCap         string  `yaml:"backoff_cap"`
		DefaultTimeout     string  `yaml:"default_timeout"`
		CostOptimization   bool    `yaml:"cost_optimization"`
	}
	var parsed raw
	if err := value.Decode(&parsed); err != nil {
		return err
	}

	r.MaxAttemptsPerPair = parsed.MaxAttemptsPerPair
	r.BackoffFactor = parsed.BackoffFactor
	r.BackoffJitter = parsed.BackoffJitter
	r.CostOptimization = parsed.CostOptimization

	var err error
	if r.BackoffBase, err = parseDuration("backoff_base", parsed.BackoffBase); err != nil {
		return err
	}
	if r.BackoffCap, err = parseDuration("backoff_cap", parsed.BackoffCap); err != nil {
		return err
	}
	if r.DefaultTimeout, err = parseDuration("default_timeout", parsed.DefaultTimeout); err != nil {
		return err
	}
	return nil
}

// UnmarshalYAML decodes interview configuration, parsing duration strings.
func (i *InterviewConfig) UnmarshalYAML(value *yaml.Node) error {
	type raw struct {
		QualityThreshold  int    `yaml:"quality_threshold"`
		MaxAttempts       int    `yaml:"max_attempts"`
		EvaluationTimeout string `yaml:"evaluation_timeout"`
		MaxResponseChars  int    `yaml:"max_response_chars"`
		MaxQuestionChars  int    `yaml:"max_question_chars"`
		MaxFollowUpChars  int    `yaml:"max_follow_up_chars"`
	}
	var parsed raw
	if err := value.Decode(&parsed); err != nil {
		return err
	}

	i.QualityThreshold = parsed.QualityThreshold
	i.MaxAttempts = parsed.MaxAttempts
	i.MaxResponseChars = parsed.MaxResponseChars
	i.MaxQuestionChars = parsed.MaxQuestionChars
	i.MaxFollowUpChars = parsed.MaxFollowUpChars

	var err error
	if i.EvaluationTimeout, err = parseDuration("evaluation_timeout", parsed.EvaluationTimeout); err != nil {
		return err
	}
	return nil
}

// UnmarshalYAML decodes a tier chain, parsing its timeout override.
func (t *TierConfig) UnmarshalYAML(value *yaml.Node) error {
	type raw struct {
		Chain     []ModelRef `yaml:"chain"`
		Timeout   string     `yaml:"timeout"`
		MaxTokens int        `yaml:"max_tokens"`
	}
	var parsed raw
	if err := value.Decode(&parsed); err != nil {
		return err
	}

	t.Chain = parsed.Chain
	t.MaxTokens = parsed.MaxTokens

	var err error
	if t.Timeout, err = parseDuration("timeout", parsed.Timeout); err != nil {
		return err
	}
	return nil
}
