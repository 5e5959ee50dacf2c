package memory

import (
	"context"
	"sync"

	"arena-duel-service/internal/domain"
)

// RecordedOutcome is one notification captured by the recorder.
type RecordedOutcome struct {
	PlayerID string
	Outcome  domain.Outcome
}

// RewardsRecorder captures rewards-ledger notifications so tests can assert
// exactly-once delivery on completion.
type RewardsRecorder struct {
	mu       sync.Mutex
	outcomes []RecordedOutcome
}

func NewRewardsRecorder() *RewardsRecorder {
	return &RewardsRecorder{}
}

func (r *RewardsRecorder) RecordOutcome(_ context.Context, playerID string, outcome domain.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, RecordedOutcome{PlayerID: playerID, Outcome: outcome})
}

// Outcomes returns a copy of everything recorded so far.
func (r *RewardsRecorder) Outcomes() []RecordedOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RecordedOutcome, len(r.outcomes))
	copy(out, r.outcomes)
	return out
}
