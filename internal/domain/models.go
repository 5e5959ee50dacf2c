package domain

import "time"

// DuelStatus is the lifecycle stage of a duel. Transitions only move forward:
// pending -> active -> completed, or pending -> expired.
type DuelStatus string

const (
	StatusPending   DuelStatus = "pending"
	StatusActive    DuelStatus = "active"
	StatusCompleted DuelStatus = "completed"
	StatusExpired   DuelStatus = "expired"
)

// Terminal reports whether no further transitions are possible.
func (s DuelStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusExpired
}

// Duel is the aggregate root for one asynchronous two-player contest.
// DuelQuestion and Answer rows are owned by it and never outlive it.
type Duel struct {
	ID              string     `json:"id"`
	ChallengerID    string     `json:"challengerId"`
	OpponentID      string     `json:"opponentId"`
	ContextID       string     `json:"contextId"`
	Status          DuelStatus `json:"status"`
	QuestionCount   int        `json:"questionCount"`
	ChallengerScore int        `json:"challengerScore"`
	OpponentScore   int        `json:"opponentScore"`
	WinnerID        *string    `json:"winnerId,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	ExpiresAt       time.Time  `json:"expiresAt"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
}

// IsParticipant reports whether playerID is one of the duel's two players.
func (d Duel) IsParticipant(playerID string) bool {
	return playerID == d.ChallengerID || playerID == d.OpponentID
}

// DuelQuestion pins one question of the fixed play order.
// The (DuelID, Order) pairs for a duel cover exactly 1..QuestionCount.
type DuelQuestion struct {
	DuelID string `json:"duelId"`
	RefID  string `json:"refId"`
	Order  int    `json:"order"`
}

// Answer is one immutable submission by one player for one question.
// At most one Answer exists per (DuelID, QuestionID, PlayerID).
type Answer struct {
	DuelID        string    `json:"duelId"`
	QuestionID    string    `json:"questionId"`
	PlayerID      string    `json:"playerId"`
	SubmittedText string    `json:"submittedText"`
	IsCorrect     bool      `json:"isCorrect"`
	LatencyMs     int       `json:"latencyMs"`
	SubmittedAt   time.Time `json:"submittedAt"`
}

// Outcome is what the rewards ledger is told about each participant
// when a duel completes.
type Outcome string

const (
	OutcomeWon  Outcome = "won"
	OutcomeLost Outcome = "lost"
	OutcomeTied Outcome = "tied"
)

// LeaderboardEntry is one row of the rolling-window tally.
type LeaderboardEntry struct {
	PlayerID   string `json:"playerId"`
	Wins       int    `json:"wins"`
	TotalDuels int    `json:"totalDuels"`
}

// Leaderboard is the ranked win/loss view over completed duels in a window.
type Leaderboard struct {
	ContextID   string             `json:"contextId"`
	WindowStart time.Time          `json:"windowStart"`
	WindowEnd   time.Time          `json:"windowEnd"`
	Entries     []LeaderboardEntry `json:"entries"`
	ComputedAt  time.Time          `json:"computedAt"`
}

// DuelView is the read-only snapshot streamed to watch subscribers.
type DuelView struct {
	DuelID          string     `json:"duelId"`
	Status          DuelStatus `json:"status"`
	ChallengerScore int        `json:"challengerScore"`
	OpponentScore   int        `json:"opponentScore"`
	AnswerCount     int        `json:"answerCount"`
	QuestionCount   int        `json:"questionCount"`
	WinnerID        *string    `json:"winnerId,omitempty"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}
