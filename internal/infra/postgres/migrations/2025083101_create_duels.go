package migrations

import (
	"context"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

var Migrations = migrate.NewMigrations()

var createStatements = []string{
	`CREATE TABLE IF NOT EXISTS duels (
		id TEXT PRIMARY KEY,
		challenger_id TEXT NOT NULL,
		opponent_id TEXT NOT NULL,
		context_id TEXT NOT NULL,
		status TEXT NOT NULL,
		question_count INT NOT NULL CHECK (question_count >= 1),
		challenger_score INT NOT NULL DEFAULT 0 CHECK (challenger_score >= 0),
		opponent_score INT NOT NULL DEFAULT 0 CHECK (opponent_score >= 0),
		winner_id TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ,
		CHECK (challenger_id <> opponent_id)
	)`,
	`CREATE INDEX IF NOT EXISTS duels_context_completed_idx
		ON duels (context_id, completed_at) WHERE status = 'completed'`,
	`CREATE INDEX IF NOT EXISTS duels_pending_expiry_idx
		ON duels (expires_at) WHERE status = 'pending'`,
	`CREATE TABLE IF NOT EXISTS duel_questions (
		duel_id TEXT NOT NULL REFERENCES duels (id),
		ref_id TEXT NOT NULL,
		ord INT NOT NULL CHECK (ord >= 1),
		PRIMARY KEY (duel_id, ord)
	)`,
	`CREATE TABLE IF NOT EXISTS answers (
		duel_id TEXT NOT NULL REFERENCES duels (id),
		question_id TEXT NOT NULL,
		player_id TEXT NOT NULL,
		submitted_text TEXT NOT NULL,
		is_correct BOOLEAN NOT NULL,
		latency_ms INT NOT NULL,
		submitted_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (duel_id, question_id, player_id)
	)`,
	`CREATE TABLE IF NOT EXISTS question_bank (
		id TEXT PRIMARY KEY,
		context_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		prompt TEXT NOT NULL,
		content JSONB NOT NULL DEFAULT '{}'
	)`,
	`CREATE INDEX IF NOT EXISTS question_bank_context_idx ON question_bank (context_id)`,
}

var dropStatements = []string{
	`DROP TABLE IF EXISTS answers`,
	`DROP TABLE IF EXISTS duel_questions`,
	`DROP TABLE IF EXISTS duels`,
	`DROP TABLE IF EXISTS question_bank`,
}

func init() {
	Migrations.MustRegister(
		func(ctx context.Context, db *bun.DB) error {
			for _, stmt := range createStatements {
				if _, err := db.ExecContext(ctx, stmt); err != nil {
					return err
				}
			}
			return nil
		},
		func(ctx context.Context, db *bun.DB) error {
			for _, stmt := range dropStatements {
				if _, err := db.ExecContext(ctx, stmt); err != nil {
					return err
				}
			}
			return nil
		},
	)
}
