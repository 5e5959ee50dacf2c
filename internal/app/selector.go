package app

import (
	"math/rand"

	"arena-duel-service/internal/domain"
)

// SelectQuestions draws count refs from the pool snapshot, uniformly at
// random and without replacement. The resulting order is the play order and
// is fixed for the life of the duel. The caller supplies the entropy source
// so selection is reproducible under a seeded rng.
func SelectQuestions(rng *rand.Rand, pool []domain.QuestionRef, count int) ([]domain.QuestionRef, error) {
	distinct := dedupeByID(pool)
	if len(distinct) < count {
		return nil, domain.ErrInsufficientPool
	}

	// Partial Fisher-Yates: each of the first count slots ends up holding a
	// uniform draw from the remaining candidates.
	picked := make([]domain.QuestionRef, len(distinct))
	copy(picked, distinct)
	for i := 0; i < count; i++ {
		j := i + rng.Intn(len(picked)-i)
		picked[i], picked[j] = picked[j], picked[i]
	}
	return picked[:count:count], nil
}

func dedupeByID(pool []domain.QuestionRef) []domain.QuestionRef {
	seen := make(map[string]struct{}, len(pool))
	out := make([]domain.QuestionRef, 0, len(pool))
	for _, ref := range pool {
		if _, ok := seen[ref.ID]; ok {
			continue
		}
		seen[ref.ID] = struct{}{}
		out = append(out, ref)
	}
	return out
}
