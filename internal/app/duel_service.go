package app

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"arena-duel-service/internal/domain"

	"github.com/google/uuid"
)

// DuelStore abstracts how duel state is persisted (in-memory, Postgres, etc).
// Every mutating method is a single atomic operation with an explicit
// precondition on prior state; the bool results report whether the caller's
// precondition held, so races surface as "someone else got there first"
// rather than lost writes.
type DuelStore interface {
	// CreateDuel persists a pending duel together with its fixed question set.
	// All-or-nothing: on error no rows exist.
	CreateDuel(ctx context.Context, duel domain.Duel, questions []domain.DuelQuestion) error
	// GetDuel returns domain.ErrDuelNotFound for unknown ids.
	GetDuel(ctx context.Context, duelID string) (domain.Duel, error)
	// GetQuestions returns the duel's questions in play order.
	GetQuestions(ctx context.Context, duelID string) ([]domain.DuelQuestion, error)
	// MarkAccepted transitions pending -> active. false means the duel was
	// not pending at the time of the update.
	MarkAccepted(ctx context.Context, duelID string) (bool, error)
	// AppendAnswer inserts the answer and, when correct, atomically adds one
	// to the submitter's score, both conditioned on status == active. It
	// returns the duel's total answer count after the append. Fails with
	// domain.ErrDuplicateAnswer on the (duel, question, player) uniqueness
	// constraint and domain.ErrInvalidState when the duel is not active.
	AppendAnswer(ctx context.Context, answer domain.Answer) (int, error)
	// CompleteDuel transitions active -> completed, computing winnerID from
	// the stored scores and setting completedAt in the same atomic operation.
	// On success it returns the completed duel; false means another caller
	// already completed it.
	CompleteDuel(ctx context.Context, duelID string, completedAt time.Time) (domain.Duel, bool, error)
	// MarkExpired transitions pending -> expired. false means the duel left
	// pending before the update applied.
	MarkExpired(ctx context.Context, duelID string) (bool, error)
	// ListCompleted returns completed duels for a context whose completedAt
	// falls in [start, end).
	ListCompleted(ctx context.Context, contextID string, start, end time.Time) ([]domain.Duel, error)
	// ListOverduePending returns ids of pending duels with expiresAt <= asOf.
	ListOverduePending(ctx context.Context, asOf time.Time) ([]string, error)
}

// PoolProvider supplies candidate questions for a context snapshot.
type PoolProvider interface {
	ListCandidates(ctx context.Context, contextID string) ([]domain.QuestionRef, error)
}

// RewardsLedger is notified once per participant when a duel completes.
// Fire-and-forget: implementations must not fail the completion.
type RewardsLedger interface {
	RecordOutcome(ctx context.Context, playerID string, outcome domain.Outcome)
}

// DuelService owns the duel lifecycle and the completion arbitration.
type DuelService struct {
	store     DuelStore
	pool      PoolProvider
	rewards   RewardsLedger
	acceptTTL time.Duration
	watch     *watchHub
	now       func() time.Time

	rngMu sync.Mutex
	rng   *rand.Rand
}

func NewDuelService(store DuelStore, pool PoolProvider, rewards RewardsLedger, acceptTTL time.Duration) *DuelService {
	return NewDuelServiceWithDeps(store, pool, rewards, acceptTTL, time.Now, rand.New(rand.NewSource(time.Now().UnixNano())))
}

// NewDuelServiceWithDeps injects the clock and entropy source for deterministic tests.
func NewDuelServiceWithDeps(store DuelStore, pool PoolProvider, rewards RewardsLedger, acceptTTL time.Duration, now func() time.Time, rng *rand.Rand) *DuelService {
	return &DuelService{
		store:     store,
		pool:      pool,
		rewards:   rewards,
		acceptTTL: acceptTTL,
		watch:     newWatchHub(),
		now:       now,
		rng:       rng,
	}
}

// CreateChallenge selects the question set and persists a pending duel.
// Nothing is persisted when selection fails.
func (s *DuelService) CreateChallenge(ctx context.Context, challengerID, opponentID, contextID string, questionCount int) (domain.Duel, []domain.DuelQuestion, error) {
	if challengerID == "" || opponentID == "" || challengerID == opponentID {
		return domain.Duel{}, nil, domain.ErrInvalidParticipants
	}
	if questionCount < 1 {
		return domain.Duel{}, nil, fmt.Errorf("question count must be at least 1, got %d", questionCount)
	}

	candidates, err := s.pool.ListCandidates(ctx, contextID)
	if err != nil {
		return domain.Duel{}, nil, err
	}
	refs, err := s.selectRefs(candidates, questionCount)
	if err != nil {
		return domain.Duel{}, nil, err
	}

	now := s.now()
	duel := domain.Duel{
		ID:            uuid.NewString(),
		ChallengerID:  challengerID,
		OpponentID:    opponentID,
		ContextID:     contextID,
		Status:        domain.StatusPending,
		QuestionCount: questionCount,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.acceptTTL),
	}
	questions := make([]domain.DuelQuestion, len(refs))
	for i, ref := range refs {
		questions[i] = domain.DuelQuestion{
			DuelID: duel.ID,
			RefID:  ref.ID,
			Order:  i + 1,
		}
	}

	if err := s.store.CreateDuel(ctx, duel, questions); err != nil {
		return domain.Duel{}, nil, err
	}
	s.broadcast(duel, 0)
	return duel, questions, nil
}

func (s *DuelService) selectRefs(candidates []domain.QuestionRef, count int) ([]domain.QuestionRef, error) {
	// rand.Rand is not goroutine-safe; challenges may be created concurrently.
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return SelectQuestions(s.rng, candidates, count)
}

// AcceptChallenge transitions a pending duel to active. Only the invited
// opponent may accept; under a concurrent double-accept exactly one caller
// succeeds and the other receives domain.ErrInvalidState.
func (s *DuelService) AcceptChallenge(ctx context.Context, duelID, accepterID string) (domain.Duel, error) {
	duel, err := s.store.GetDuel(ctx, duelID)
	if err != nil {
		return domain.Duel{}, err
	}
	if duel.Status != domain.StatusPending {
		return domain.Duel{}, domain.ErrInvalidState
	}
	if accepterID != duel.OpponentID {
		return domain.Duel{}, domain.ErrForbidden
	}

	accepted, err := s.store.MarkAccepted(ctx, duelID)
	if err != nil {
		return domain.Duel{}, err
	}
	if !accepted {
		return domain.Duel{}, domain.ErrInvalidState
	}
	duel.Status = domain.StatusActive
	s.broadcast(duel, 0)
	return duel, nil
}

// SubmitAnswer appends one immutable answer, bumps the submitter's score when
// correct, and re-evaluates completion. The returned bool reports whether
// *this* call caused the duel to complete, so completion-only side effects
// fire exactly once across concurrent submitters.
func (s *DuelService) SubmitAnswer(ctx context.Context, duelID, questionID, playerID, text string, isCorrect bool, latencyMs int) (bool, error) {
	duel, err := s.store.GetDuel(ctx, duelID)
	if err != nil {
		return false, err
	}
	if duel.Status != domain.StatusActive {
		return false, domain.ErrInvalidState
	}
	if !duel.IsParticipant(playerID) {
		return false, domain.ErrForbidden
	}
	questions, err := s.store.GetQuestions(ctx, duelID)
	if err != nil {
		return false, err
	}
	if !hasQuestion(questions, questionID) {
		return false, domain.ErrQuestionNotFound
	}

	total, err := s.store.AppendAnswer(ctx, domain.Answer{
		DuelID:        duelID,
		QuestionID:    questionID,
		PlayerID:      playerID,
		SubmittedText: text,
		IsCorrect:     isCorrect,
		LatencyMs:     latencyMs,
		SubmittedAt:   s.now(),
	})
	if err != nil {
		return false, err
	}

	caused := false
	var completed domain.Duel
	if total >= duel.QuestionCount*2 {
		completed, caused, err = s.store.CompleteDuel(ctx, duelID, s.now())
		if err != nil {
			return false, err
		}
	}

	if caused {
		s.broadcast(completed, total)
		s.notifyRewards(ctx, completed)
	} else if fresh, ferr := s.store.GetDuel(ctx, duelID); ferr == nil {
		s.broadcast(fresh, total)
	}
	return caused, nil
}

func (s *DuelService) notifyRewards(ctx context.Context, duel domain.Duel) {
	if s.rewards == nil {
		return
	}
	if duel.WinnerID == nil {
		s.rewards.RecordOutcome(ctx, duel.ChallengerID, domain.OutcomeTied)
		s.rewards.RecordOutcome(ctx, duel.OpponentID, domain.OutcomeTied)
		return
	}
	loser := duel.OpponentID
	if *duel.WinnerID == duel.OpponentID {
		loser = duel.ChallengerID
	}
	s.rewards.RecordOutcome(ctx, *duel.WinnerID, domain.OutcomeWon)
	s.rewards.RecordOutcome(ctx, loser, domain.OutcomeLost)
}

// ExpireIfOverdue expires a pending duel whose acceptance window has passed.
// Idempotent: unexpired, active, completed, or already-expired duels are a
// safe no-op so batch sweeps never abort. The bool reports whether this call
// performed the transition.
func (s *DuelService) ExpireIfOverdue(ctx context.Context, duelID string) (bool, error) {
	duel, err := s.store.GetDuel(ctx, duelID)
	if err != nil {
		return false, err
	}
	if duel.Status != domain.StatusPending {
		return false, nil
	}
	if s.now().Before(duel.ExpiresAt) {
		return false, nil
	}
	expired, err := s.store.MarkExpired(ctx, duelID)
	if err != nil {
		return false, err
	}
	if expired {
		duel.Status = domain.StatusExpired
		s.broadcast(duel, 0)
	}
	return expired, nil
}

// SweepOverdue expires every overdue pending duel, returning how many were
// transitioned. Intended for the external timer collaborator.
func (s *DuelService) SweepOverdue(ctx context.Context) (int, error) {
	ids, err := s.store.ListOverduePending(ctx, s.now())
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, id := range ids {
		did, err := s.ExpireIfOverdue(ctx, id)
		if err != nil {
			return expired, err
		}
		if did {
			expired++
		}
	}
	return expired, nil
}

// GetDuel exposes a read-only snapshot of the duel.
func (s *DuelService) GetDuel(ctx context.Context, duelID string) (domain.Duel, error) {
	return s.store.GetDuel(ctx, duelID)
}

// GetQuestions returns the fixed play order of a duel.
func (s *DuelService) GetQuestions(ctx context.Context, duelID string) ([]domain.DuelQuestion, error) {
	if _, err := s.store.GetDuel(ctx, duelID); err != nil {
		return nil, err
	}
	return s.store.GetQuestions(ctx, duelID)
}

// Watch returns a channel that receives duel snapshots after every mutation.
// The caller must invoke the returned cancel function to avoid leaks.
func (s *DuelService) Watch(ctx context.Context, duelID string) (<-chan domain.DuelView, func(), error) {
	duel, err := s.store.GetDuel(ctx, duelID)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := s.watch.subscribe(duelID)
	ch <- s.view(duel, -1)
	return ch, cancel, nil
}

func (s *DuelService) broadcast(duel domain.Duel, answerCount int) {
	s.watch.broadcast(duel.ID, s.view(duel, answerCount))
}

func (s *DuelService) view(duel domain.Duel, answerCount int) domain.DuelView {
	if answerCount < 0 {
		answerCount = 0
	}
	return domain.DuelView{
		DuelID:          duel.ID,
		Status:          duel.Status,
		ChallengerScore: duel.ChallengerScore,
		OpponentScore:   duel.OpponentScore,
		AnswerCount:     answerCount,
		QuestionCount:   duel.QuestionCount,
		WinnerID:        duel.WinnerID,
		UpdatedAt:       s.now(),
	}
}

func hasQuestion(questions []domain.DuelQuestion, refID string) bool {
	for _, q := range questions {
		if q.RefID == refID {
			return true
		}
	}
	return false
}
