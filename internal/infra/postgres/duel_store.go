package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"arena-duel-service/internal/domain"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"
)

const pgUniqueViolation = "23505"

type duelRow struct {
	bun.BaseModel `bun:"table:duels,alias:d"`

	ID              string     `bun:"id,pk"`
	ChallengerID    string     `bun:"challenger_id,notnull"`
	OpponentID      string     `bun:"opponent_id,notnull"`
	ContextID       string     `bun:"context_id,notnull"`
	Status          string     `bun:"status,notnull"`
	QuestionCount   int        `bun:"question_count,notnull"`
	ChallengerScore int        `bun:"challenger_score,notnull"`
	OpponentScore   int        `bun:"opponent_score,notnull"`
	WinnerID        *string    `bun:"winner_id"`
	CreatedAt       time.Time  `bun:"created_at,notnull"`
	ExpiresAt       time.Time  `bun:"expires_at,notnull"`
	CompletedAt     *time.Time `bun:"completed_at"`
}

type duelQuestionRow struct {
	bun.BaseModel `bun:"table:duel_questions,alias:dq"`

	DuelID string `bun:"duel_id,notnull"`
	RefID  string `bun:"ref_id,notnull"`
	Ord    int    `bun:"ord,notnull"`
}

type answerRow struct {
	bun.BaseModel `bun:"table:answers,alias:a"`

	DuelID        string    `bun:"duel_id,notnull"`
	QuestionID    string    `bun:"question_id,notnull"`
	PlayerID      string    `bun:"player_id,notnull"`
	SubmittedText string    `bun:"submitted_text,notnull"`
	IsCorrect     bool      `bun:"is_correct,notnull"`
	LatencyMs     int       `bun:"latency_ms,notnull"`
	SubmittedAt   time.Time `bun:"submitted_at,notnull"`
}

// DuelStore is the bun-backed implementation of app.DuelStore. Accept,
// score increments, expiry, and the completion transition are each one
// conditional UPDATE whose affected-row count tells the caller whether it
// won the race; the (duel_id, question_id, player_id) primary key on answers
// closes the double-submit window without a check-then-insert.
type DuelStore struct {
	db *bun.DB
}

func NewDuelStore(db *bun.DB) *DuelStore {
	return &DuelStore{db: db}
}

func (s *DuelStore) CreateDuel(ctx context.Context, duel domain.Duel, questions []domain.DuelQuestion) error {
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		row := toDuelRow(duel)
		if _, err := tx.NewInsert().Model(&row).Exec(ctx); err != nil {
			return err
		}
		qrows := make([]duelQuestionRow, len(questions))
		for i, q := range questions {
			qrows[i] = duelQuestionRow{DuelID: q.DuelID, RefID: q.RefID, Ord: q.Order}
		}
		if len(qrows) > 0 {
			if _, err := tx.NewInsert().Model(&qrows).Exec(ctx); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return storageError("create duel", err)
	}
	return nil
}

func (s *DuelStore) GetDuel(ctx context.Context, duelID string) (domain.Duel, error) {
	row := new(duelRow)
	err := s.db.NewSelect().Model(row).Where("id = ?", duelID).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Duel{}, domain.ErrDuelNotFound
		}
		return domain.Duel{}, storageError("get duel", err)
	}
	return fromDuelRow(*row), nil
}

func (s *DuelStore) GetQuestions(ctx context.Context, duelID string) ([]domain.DuelQuestion, error) {
	var rows []duelQuestionRow
	err := s.db.NewSelect().Model(&rows).Where("duel_id = ?", duelID).Order("ord ASC").Scan(ctx)
	if err != nil {
		return nil, storageError("get questions", err)
	}
	out := make([]domain.DuelQuestion, len(rows))
	for i, r := range rows {
		out[i] = domain.DuelQuestion{DuelID: r.DuelID, RefID: r.RefID, Order: r.Ord}
	}
	return out, nil
}

func (s *DuelStore) MarkAccepted(ctx context.Context, duelID string) (bool, error) {
	res, err := s.db.NewUpdate().
		Model((*duelRow)(nil)).
		Set("status = ?", string(domain.StatusActive)).
		Where("id = ? AND status = ?", duelID, string(domain.StatusPending)).
		Exec(ctx)
	if err != nil {
		return false, storageError("mark accepted", err)
	}
	return oneRowAffected(res)
}

func (s *DuelStore) AppendAnswer(ctx context.Context, answer domain.Answer) (int, error) {
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		row := answerRow{
			DuelID:        answer.DuelID,
			QuestionID:    answer.QuestionID,
			PlayerID:      answer.PlayerID,
			SubmittedText: answer.SubmittedText,
			IsCorrect:     answer.IsCorrect,
			LatencyMs:     answer.LatencyMs,
			SubmittedAt:   answer.SubmittedAt,
		}
		if _, err := tx.NewInsert().Model(&row).Exec(ctx); err != nil {
			if isUniqueViolation(err) {
				return domain.ErrDuplicateAnswer
			}
			return storageError("insert answer", err)
		}

		// The score delta rides on the same conditional statement as the
		// status check: a zero-delta update still proves the duel is active,
		// and a one-delta update is a store-native atomic increment, so
		// concurrent submitters can never lose a point.
		delta := 0
		if answer.IsCorrect {
			delta = 1
		}
		res, err := tx.NewUpdate().
			Model((*duelRow)(nil)).
			Set("challenger_score = challenger_score + CASE WHEN challenger_id = ? THEN ? ELSE 0 END", answer.PlayerID, delta).
			Set("opponent_score = opponent_score + CASE WHEN opponent_id = ? THEN ? ELSE 0 END", answer.PlayerID, delta).
			Where("id = ? AND status = ?", answer.DuelID, string(domain.StatusActive)).
			Exec(ctx)
		if err != nil {
			return storageError("bump score", err)
		}
		applied, err := oneRowAffected(res)
		if err != nil {
			return err
		}
		if !applied {
			return domain.ErrInvalidState
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	// Counted after commit so that whichever of two racing submitters
	// finishes last observes the full set.
	count, err := s.db.NewSelect().
		Model((*answerRow)(nil)).
		Where("duel_id = ?", answer.DuelID).
		Count(ctx)
	if err != nil {
		return 0, storageError("count answers", err)
	}
	return count, nil
}

func (s *DuelStore) CompleteDuel(ctx context.Context, duelID string, completedAt time.Time) (domain.Duel, bool, error) {
	// Winner and completedAt are set in the same statement as the status
	// flip, so readers never observe a partially completed duel and at most
	// one concurrent caller gets rows=1. RETURNING hands the winner back
	// without a follow-up read.
	row := new(duelRow)
	res, err := s.db.NewUpdate().
		Model(row).
		Set("status = ?", string(domain.StatusCompleted)).
		Set("winner_id = CASE WHEN challenger_score > opponent_score THEN challenger_id WHEN opponent_score > challenger_score THEN opponent_id ELSE NULL END").
		Set("completed_at = ?", completedAt).
		Where("id = ? AND status = ?", duelID, string(domain.StatusActive)).
		Returning("*").
		Exec(ctx)
	if err != nil {
		return domain.Duel{}, false, storageError("complete duel", err)
	}
	applied, err := oneRowAffected(res)
	if err != nil || !applied {
		return domain.Duel{}, false, err
	}
	return fromDuelRow(*row), true, nil
}

func (s *DuelStore) MarkExpired(ctx context.Context, duelID string) (bool, error) {
	res, err := s.db.NewUpdate().
		Model((*duelRow)(nil)).
		Set("status = ?", string(domain.StatusExpired)).
		Where("id = ? AND status = ?", duelID, string(domain.StatusPending)).
		Exec(ctx)
	if err != nil {
		return false, storageError("mark expired", err)
	}
	return oneRowAffected(res)
}

func (s *DuelStore) ListCompleted(ctx context.Context, contextID string, start, end time.Time) ([]domain.Duel, error) {
	var rows []duelRow
	err := s.db.NewSelect().
		Model(&rows).
		Where("context_id = ? AND status = ?", contextID, string(domain.StatusCompleted)).
		Where("completed_at >= ? AND completed_at < ?", start, end).
		Order("completed_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, storageError("list completed", err)
	}
	out := make([]domain.Duel, len(rows))
	for i, r := range rows {
		out[i] = fromDuelRow(r)
	}
	return out, nil
}

func (s *DuelStore) ListOverduePending(ctx context.Context, asOf time.Time) ([]string, error) {
	var ids []string
	err := s.db.NewSelect().
		Model((*duelRow)(nil)).
		Column("id").
		Where("status = ? AND expires_at <= ?", string(domain.StatusPending), asOf).
		Order("expires_at ASC").
		Scan(ctx, &ids)
	if err != nil {
		return nil, storageError("list overdue", err)
	}
	return ids, nil
}

func toDuelRow(d domain.Duel) duelRow {
	return duelRow{
		ID:              d.ID,
		ChallengerID:    d.ChallengerID,
		OpponentID:      d.OpponentID,
		ContextID:       d.ContextID,
		Status:          string(d.Status),
		QuestionCount:   d.QuestionCount,
		ChallengerScore: d.ChallengerScore,
		OpponentScore:   d.OpponentScore,
		WinnerID:        d.WinnerID,
		CreatedAt:       d.CreatedAt,
		ExpiresAt:       d.ExpiresAt,
		CompletedAt:     d.CompletedAt,
	}
}

func fromDuelRow(r duelRow) domain.Duel {
	return domain.Duel{
		ID:              r.ID,
		ChallengerID:    r.ChallengerID,
		OpponentID:      r.OpponentID,
		ContextID:       r.ContextID,
		Status:          domain.DuelStatus(r.Status),
		QuestionCount:   r.QuestionCount,
		ChallengerScore: r.ChallengerScore,
		OpponentScore:   r.OpponentScore,
		WinnerID:        r.WinnerID,
		CreatedAt:       r.CreatedAt,
		ExpiresAt:       r.ExpiresAt,
		CompletedAt:     r.CompletedAt,
	}
}

func oneRowAffected(res sql.Result) (bool, error) {
	rows, err := res.RowsAffected()
	if err != nil {
		return false, storageError("rows affected", err)
	}
	return rows == 1, nil
}

func isUniqueViolation(err error) bool {
	var pgErr pgdriver.Error
	return errors.As(err, &pgErr) && pgErr.Field('C') == pgUniqueViolation
}

func storageError(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", domain.ErrStorage, op, err)
}
