package conversation

import "errors"

var (
	// ErrSuspectedInjection rejects input matching an injection pattern.
	// Rejections do not count toward the attempt budget.
	ErrSuspectedInjection = errors.New("suspected injection")

	// ErrResponseTooLong rejects over-length user input.
	ErrResponseTooLong = errors.New("response too long")

	// ErrQuestionTooLong rejects an over-length generated question.
	ErrQuestionTooLong = errors.New("question too long")

	// ErrEvaluationTimeout is raised when one response evaluation exceeds
	// the hard wall-clock bound even after the single in-loop retry.
	ErrEvaluationTimeout = errors.New("evaluation timeout")
)
