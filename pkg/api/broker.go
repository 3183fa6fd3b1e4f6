package api

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/charterworks/charterd/pkg/conversation"
)

var (
	// ErrNoPendingQuestion means an answer arrived while no question was
	// outstanding for the session.
	ErrNoPendingQuestion = errors.New("no pending question")

	// ErrTurnMismatch means the submitted turn_id does not match the
	// question currently awaiting an answer.
	ErrTurnMismatch = errors.New("turn id mismatch")
)

// PendingQuestion describes the question a session is currently waiting
// on, if any.
type PendingQuestion struct {
	TurnID   string `json:"turn_id"`
	Question string `json:"question"`
	// RejectReason is set when the previous submission was refused
	// (injection or length) and must be re-supplied.
	RejectReason string `json:"reject_reason,omitempty"`
}

// AnswerBroker bridges the synchronous conversation loop and the
// asynchronous answer endpoint: the loop blocks in NextAnswer while
// POST /sessions/:id/answer feeds it.
type AnswerBroker struct {
	mu       sync.Mutex
	sessions map[string]*brokerEntry
}

type brokerEntry struct {
	pending *PendingQuestion
	ch      chan string
}

// NewAnswerBroker creates an answer broker.
func NewAnswerBroker() *AnswerBroker {
	return &AnswerBroker{sessions: make(map[string]*brokerEntry)}
}

// Source returns the AnswerSource for one session. Each queued answer in
// seed is consumed before the broker starts blocking, which lets batch
// clients supply all answers in the execute request body.
func (b *AnswerBroker) Source(sessionID string, seed []string) conversation.AnswerSource {
	queue := append([]string(nil), seed...)
	return conversation.AnswerFunc(func(ctx context.Context, question string, reject error) (string, error) {
		if len(queue) > 0 {
			answer := queue[0]
			queue = queue[1:]
			return answer, nil
		}
		return b.await(ctx, sessionID, question, reject)
	})
}

// await publishes the pending question and blocks until an answer is
// submitted or the context ends.
func (b *AnswerBroker) await(ctx context.Context, sessionID, question string, reject error) (string, error) {
	entry := &brokerEntry{
		pending: &PendingQuestion{
			TurnID:   uuid.New().String(),
			Question: question,
		},
		ch: make(chan string, 1),
	}
	if reject != nil {
		entry.pending.RejectReason = reject.Error()
	}

	b.mu.Lock()
	b.sessions[sessionID] = entry
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		if b.sessions[sessionID] == entry {
			delete(b.sessions, sessionID)
		}
		b.mu.Unlock()
	}()

	select {
	case answer := <-entry.ch:
		return answer, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Pending returns the question a session is waiting on, or nil.
func (b *AnswerBroker) Pending(sessionID string) *PendingQuestion {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.sessions[sessionID]
	if !ok {
		return nil
	}
	out := *entry.pending
	return &out
}

// Submit delivers one user answer to the in-flight turn.
func (b *AnswerBroker) Submit(sessionID, turnID, text string) error {
	b.mu.Lock()
	entry, ok := b.sessions[sessionID]
	if !ok {
		b.mu.Unlock()
		return ErrNoPendingQuestion
	}
	if entry.pending.TurnID != turnID {
		b.mu.Unlock()
		return ErrTurnMismatch
	}
	delete(b.sessions, sessionID)
	b.mu.Unlock()

	entry.ch <- text
	return nil
}
