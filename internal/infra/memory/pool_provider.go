package memory

import (
	"context"

	"arena-duel-service/internal/domain"
)

// PoolProvider serves question candidates from a static per-context map
// (useful for tests/demos; swap for the Postgres-backed provider in production).
type PoolProvider struct {
	pools map[string][]domain.QuestionRef
}

func NewPoolProvider(pools map[string][]domain.QuestionRef) *PoolProvider {
	return &PoolProvider{pools: pools}
}

func (p *PoolProvider) ListCandidates(_ context.Context, contextID string) ([]domain.QuestionRef, error) {
	refs := p.pools[contextID]
	out := make([]domain.QuestionRef, len(refs))
	copy(out, refs)
	return out, nil
}
