// Package conversation implements the bounded ask/validate/re-ask cycle
// for one interview question, including input screening and sanitization.
package conversation

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/charterworks/charterd/pkg/config"
)

// Screener screens user input for prompt-injection patterns and enforces
// length bounds. Patterns are compiled eagerly at creation time; invalid
// patterns are logged and skipped. Thread-safe and stateless aside from
// compiled patterns.
type Screener struct {
	patterns         []*regexp.Regexp
	maxResponseChars int
	maxQuestionChars int
	maxFollowUpChars int
}

// NewScreener compiles the configured injection pattern list.
func NewScreener(cfg config.InterviewConfig, injection config.InjectionConfig) *Screener {
	s := &Screener{
		maxResponseChars: cfg.MaxResponseChars,
		maxQuestionChars: cfg.MaxQuestionChars,
		maxFollowUpChars: cfg.MaxFollowUpChars,
	}
	for _, pattern := range injection.Patterns {
		compiled, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			slog.Warn("Skipping invalid injection pattern", "pattern", pattern, "error", err)
			continue
		}
		s.patterns = append(s.patterns, compiled)
	}
	slog.Info("Input screener initialized", "patterns", len(s.patterns))
	return s
}

// ScreenResponse validates one user response. Length is checked in runes;
// injection matching runs case-insensitively over NFKC-normalized input so
// Unicode compatibility tricks do not slip past the pattern list. An
// injection match wins over the length bound regardless of position.
func (s *Screener) ScreenResponse(response string) error {
	normalized := norm.NFKC.String(response)
	for _, pattern := range s.patterns {
		if pattern.MatchString(normalized) {
			return ErrSuspectedInjection
		}
	}
	if len([]rune(response)) > s.maxResponseChars {
		return fmt.Errorf("%w: %d characters exceeds limit of %d",
			ErrResponseTooLong, len([]rune(response)), s.maxResponseChars)
	}
	return nil
}

// ScreenQuestion validates a generated question's length bound.
func (s *Screener) ScreenQuestion(question string) error {
	if len([]rune(question)) > s.maxQuestionChars {
		return fmt.Errorf("%w: %d characters exceeds limit of %d",
			ErrQuestionTooLong, len([]rune(question)), s.maxQuestionChars)
	}
	return nil
}

// BoundFollowUp truncates a follow-up to its length bound.
func (s *Screener) BoundFollowUp(followUp string) string {
	runes := []rune(followUp)
	if len(runes) <= s.maxFollowUpChars {
		return followUp
	}
	return string(runes[:s.maxFollowUpChars])
}

// Sanitize escapes delimiters that could break out of prompt templates
// before user text is embedded in any LLM prompt: triple quotes and
// mustache-style template delimiters.
func Sanitize(input string) string {
	out := strings.ReplaceAll(input, `"""`, `\"\"\"`)
	out = strings.ReplaceAll(out, "{{", "{ {")
	out = strings.ReplaceAll(out, "}}", "} }")
	return out
}
