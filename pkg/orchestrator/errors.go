package orchestrator

import "errors"

var (
	// ErrSessionTerminal rejects mutation of a completed, abandoned, or
	// failed session.
	ErrSessionTerminal = errors.New("session is in a terminal state")

	// ErrStageAlreadyCommitted rejects running a stage whose gate has
	// already passed; amending committed stages is not supported.
	ErrStageAlreadyCommitted = errors.New("stage already committed")

	// ErrStageNotReady rejects running a stage ahead of the session's
	// current stage.
	ErrStageNotReady = errors.New("stage not yet reachable")

	// ErrStageNotRun means advance was requested with no deliverable
	// pending from a prior run_stage call.
	ErrStageNotRun = errors.New("stage has not been run")

	// ErrInterviewIncomplete rejects charter generation before all five
	// gates have passed.
	ErrInterviewIncomplete = errors.New("interview incomplete")

	// ErrCharterBlocked rejects charter generation when the consistency
	// checker finds the project infeasible.
	ErrCharterBlocked = errors.New("charter blocked: deliverables inconsistent")

	// ErrCancelled marks an operation interrupted by external
	// cancellation. Checkpoints already taken stand.
	ErrCancelled = errors.New("operation cancelled")
)
