package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"arena-duel-service/internal/domain"

	"github.com/jackc/pgx/v4/pgxpool"
)

// PoolProvider reads candidate questions for a context from the question bank.
type PoolProvider struct {
	pool *pgxpool.Pool
}

func NewPoolProvider(pool *pgxpool.Pool) *PoolProvider {
	return &PoolProvider{pool: pool}
}

func (p *PoolProvider) ListCandidates(ctx context.Context, contextID string) ([]domain.QuestionRef, error) {
	rows, err := p.pool.Query(ctx, `SELECT id, prompt, kind, content FROM question_bank WHERE context_id=$1 ORDER BY id`, contextID)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	defer rows.Close()

	var refs []domain.QuestionRef
	for rows.Next() {
		var (
			id, prompt, kind string
			raw              []byte
		)
		if err := rows.Scan(&id, &prompt, &kind, &raw); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		content, err := domain.ContentFromJSON(domain.QuestionKind(kind), json.RawMessage(raw))
		if err != nil {
			return nil, fmt.Errorf("decode candidate %s: %w", id, err)
		}
		refs = append(refs, domain.QuestionRef{ID: id, Prompt: prompt, Content: content})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	return refs, nil
}
