package app_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"arena-duel-service/internal/app"
	"arena-duel-service/internal/domain"
	"arena-duel-service/internal/infra/memory"
)

type fixture struct {
	service *app.DuelService
	store   *memory.DuelStore
	rewards *memory.RewardsRecorder
	clock   *fakeClock
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newFixture(t *testing.T, poolSize int) *fixture {
	t.Helper()
	store := memory.NewDuelStore()
	rewards := memory.NewRewardsRecorder()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	pool := memory.NewPoolProvider(map[string][]domain.QuestionRef{
		"class-1": testPool(poolSize),
	})
	service := app.NewDuelServiceWithDeps(store, pool, rewards, time.Hour, clock.Now, rand.New(rand.NewSource(1)))
	return &fixture{service: service, store: store, rewards: rewards, clock: clock}
}

func testPool(n int) []domain.QuestionRef {
	refs := make([]domain.QuestionRef, n)
	for i := range refs {
		refs[i] = domain.QuestionRef{ID: fmt.Sprintf("q%d", i+1), Prompt: "prompt"}
	}
	return refs
}

func (f *fixture) activeDuel(t *testing.T, questionCount int) (domain.Duel, []domain.DuelQuestion) {
	t.Helper()
	ctx := context.Background()
	duel, questions, err := f.service.CreateChallenge(ctx, "alice", "bob", "class-1", questionCount)
	if err != nil {
		t.Fatalf("create challenge: %v", err)
	}
	if _, err := f.service.AcceptChallenge(ctx, duel.ID, "bob"); err != nil {
		t.Fatalf("accept challenge: %v", err)
	}
	return duel, questions
}

func TestCreateChallengeValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 5)

	if _, _, err := f.service.CreateChallenge(ctx, "alice", "alice", "class-1", 3); err != domain.ErrInvalidParticipants {
		t.Fatalf("expected invalid participants, got %v", err)
	}
	if _, _, err := f.service.CreateChallenge(ctx, "alice", "bob", "class-1", 6); err != domain.ErrInsufficientPool {
		t.Fatalf("expected insufficient pool, got %v", err)
	}
	// Unknown contexts have empty pools.
	if _, _, err := f.service.CreateChallenge(ctx, "alice", "bob", "class-9", 1); err != domain.ErrInsufficientPool {
		t.Fatalf("expected insufficient pool for unknown context, got %v", err)
	}
}

func TestCreateChallengeFixesQuestionSet(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 8)

	duel, questions, err := f.service.CreateChallenge(ctx, "alice", "bob", "class-1", 4)
	if err != nil {
		t.Fatalf("create challenge: %v", err)
	}
	if duel.Status != domain.StatusPending {
		t.Fatalf("expected pending duel, got %s", duel.Status)
	}
	if duel.ExpiresAt != duel.CreatedAt.Add(time.Hour) {
		t.Fatalf("expected expiry one hour after creation, got %s", duel.ExpiresAt)
	}
	if len(questions) != 4 {
		t.Fatalf("expected 4 questions, got %d", len(questions))
	}
	ordersSeen := map[int]bool{}
	refsSeen := map[string]bool{}
	for _, q := range questions {
		if q.Order < 1 || q.Order > 4 || ordersSeen[q.Order] {
			t.Fatalf("bad order %d", q.Order)
		}
		if refsSeen[q.RefID] {
			t.Fatalf("duplicate ref %s", q.RefID)
		}
		ordersSeen[q.Order] = true
		refsSeen[q.RefID] = true
	}

	stored, err := f.service.GetQuestions(ctx, duel.ID)
	if err != nil {
		t.Fatalf("get questions: %v", err)
	}
	if len(stored) != 4 {
		t.Fatalf("expected stored question set, got %d", len(stored))
	}
}

func TestAcceptChallenge(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 5)

	duel, _, err := f.service.CreateChallenge(ctx, "alice", "bob", "class-1", 2)
	if err != nil {
		t.Fatalf("create challenge: %v", err)
	}

	if _, err := f.service.AcceptChallenge(ctx, "missing", "bob"); err != domain.ErrDuelNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := f.service.AcceptChallenge(ctx, duel.ID, "mallory"); err != domain.ErrForbidden {
		t.Fatalf("expected forbidden for stranger, got %v", err)
	}
	if _, err := f.service.AcceptChallenge(ctx, duel.ID, "alice"); err != domain.ErrForbidden {
		t.Fatalf("expected forbidden for challenger, got %v", err)
	}

	accepted, err := f.service.AcceptChallenge(ctx, duel.ID, "bob")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if accepted.Status != domain.StatusActive {
		t.Fatalf("expected active, got %s", accepted.Status)
	}

	if _, err := f.service.AcceptChallenge(ctx, duel.ID, "bob"); err != domain.ErrInvalidState {
		t.Fatalf("expected invalid state on second accept, got %v", err)
	}
}

func TestConcurrentAcceptExactlyOneWins(t *testing.T) {
	ctx := context.Background()

	for i := 0; i < 200; i++ {
		f := newFixture(t, 5)
		duel, _, err := f.service.CreateChallenge(ctx, "alice", "bob", "class-1", 1)
		if err != nil {
			t.Fatalf("create challenge: %v", err)
		}

		const callers = 4
		results := make(chan error, callers)
		var start sync.WaitGroup
		start.Add(1)
		for c := 0; c < callers; c++ {
			go func() {
				start.Wait()
				_, err := f.service.AcceptChallenge(ctx, duel.ID, "bob")
				results <- err
			}()
		}
		start.Done()

		wins, conflicts := 0, 0
		for c := 0; c < callers; c++ {
			switch err := <-results; {
			case err == nil:
				wins++
			case errors.Is(err, domain.ErrInvalidState):
				conflicts++
			default:
				t.Fatalf("unexpected accept error: %v", err)
			}
		}
		if wins != 1 || conflicts != callers-1 {
			t.Fatalf("run %d: expected exactly one winner, got wins=%d conflicts=%d", i, wins, conflicts)
		}
	}
}

func TestSubmitAnswerPreconditions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 5)

	duel, questions, err := f.service.CreateChallenge(ctx, "alice", "bob", "class-1", 2)
	if err != nil {
		t.Fatalf("create challenge: %v", err)
	}

	// Pending duels accept no answers.
	if _, err := f.service.SubmitAnswer(ctx, duel.ID, questions[0].RefID, "alice", "x", true, 100); err != domain.ErrInvalidState {
		t.Fatalf("expected invalid state on pending duel, got %v", err)
	}

	if _, err := f.service.AcceptChallenge(ctx, duel.ID, "bob"); err != nil {
		t.Fatalf("accept: %v", err)
	}

	if _, err := f.service.SubmitAnswer(ctx, "missing", questions[0].RefID, "alice", "x", true, 100); err != domain.ErrDuelNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := f.service.SubmitAnswer(ctx, duel.ID, questions[0].RefID, "mallory", "x", true, 100); err != domain.ErrForbidden {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := f.service.SubmitAnswer(ctx, duel.ID, "not-a-question", "alice", "x", true, 100); err != domain.ErrQuestionNotFound {
		t.Fatalf("expected question not found, got %v", err)
	}
}

func TestDuplicateAnswerNeverDoubleScores(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 5)
	duel, questions := f.activeDuel(t, 2)

	if _, err := f.service.SubmitAnswer(ctx, duel.ID, questions[0].RefID, "alice", "4", true, 900); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if _, err := f.service.SubmitAnswer(ctx, duel.ID, questions[0].RefID, "alice", "4", true, 900); err != domain.ErrDuplicateAnswer {
		t.Fatalf("expected duplicate answer, got %v", err)
	}

	current, err := f.service.GetDuel(ctx, duel.ID)
	if err != nil {
		t.Fatalf("get duel: %v", err)
	}
	if current.ChallengerScore != 1 {
		t.Fatalf("duplicate changed score: %d", current.ChallengerScore)
	}
}

func TestFullDuelCompletesWithWinner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 5)
	duel, questions := f.activeDuel(t, 2)

	completions := 0
	submit := func(refID, player string, correct bool) {
		t.Helper()
		caused, err := f.service.SubmitAnswer(ctx, duel.ID, refID, player, "answer", correct, 500)
		if err != nil {
			t.Fatalf("submit %s/%s: %v", refID, player, err)
		}
		if caused {
			completions++
		}
	}

	submit(questions[0].RefID, "alice", true)
	submit(questions[1].RefID, "alice", true)
	submit(questions[0].RefID, "bob", true)
	submit(questions[1].RefID, "bob", false)

	if completions != 1 {
		t.Fatalf("expected exactly one completing call, got %d", completions)
	}

	final, err := f.service.GetDuel(ctx, duel.ID)
	if err != nil {
		t.Fatalf("get duel: %v", err)
	}
	if final.Status != domain.StatusCompleted {
		t.Fatalf("expected completed, got %s", final.Status)
	}
	if final.WinnerID == nil || *final.WinnerID != "alice" {
		t.Fatalf("expected alice to win, got %v", final.WinnerID)
	}
	if final.CompletedAt == nil {
		t.Fatalf("expected completedAt set")
	}
	if final.ChallengerScore != 2 || final.OpponentScore != 1 {
		t.Fatalf("unexpected scores %d-%d", final.ChallengerScore, final.OpponentScore)
	}

	outcomes := f.rewards.Outcomes()
	if len(outcomes) != 2 {
		t.Fatalf("expected two rewards notifications, got %d", len(outcomes))
	}
	byPlayer := map[string]domain.Outcome{}
	for _, o := range outcomes {
		byPlayer[o.PlayerID] = o.Outcome
	}
	if byPlayer["alice"] != domain.OutcomeWon || byPlayer["bob"] != domain.OutcomeLost {
		t.Fatalf("unexpected outcomes %v", byPlayer)
	}
}

func TestTieProducesNoWinner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 5)
	duel, questions := f.activeDuel(t, 1)

	if _, err := f.service.SubmitAnswer(ctx, duel.ID, questions[0].RefID, "alice", "x", true, 100); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := f.service.SubmitAnswer(ctx, duel.ID, questions[0].RefID, "bob", "x", true, 100); err != nil {
		t.Fatalf("submit: %v", err)
	}

	final, err := f.service.GetDuel(ctx, duel.ID)
	if err != nil {
		t.Fatalf("get duel: %v", err)
	}
	if final.Status != domain.StatusCompleted || final.WinnerID != nil {
		t.Fatalf("expected completed tie, got status=%s winner=%v", final.Status, final.WinnerID)
	}
	for _, o := range f.rewards.Outcomes() {
		if o.Outcome != domain.OutcomeTied {
			t.Fatalf("expected tied outcome for %s, got %s", o.PlayerID, o.Outcome)
		}
	}
}

// Both players submit every answer from separate goroutines, fully
// interleaved. Whatever the interleaving, no score increment may be lost and
// exactly one call reports causing completion.
func TestConcurrentSubmissionsCompleteExactlyOnce(t *testing.T) {
	ctx := context.Background()
	const runs = 200
	const questionCount = 3

	for run := 0; run < runs; run++ {
		f := newFixture(t, questionCount)
		duel, questions := f.activeDuel(t, questionCount)

		type submission struct {
			refID   string
			player  string
			correct bool
		}
		var subs []submission
		for i, q := range questions {
			subs = append(subs, submission{q.RefID, "alice", true})
			subs = append(subs, submission{q.RefID, "bob", i%2 == 0})
		}

		var start sync.WaitGroup
		start.Add(1)
		completions := make(chan bool, len(subs))
		errs := make(chan error, len(subs))
		for _, sub := range subs {
			go func(sub submission) {
				start.Wait()
				caused, err := f.service.SubmitAnswer(ctx, duel.ID, sub.refID, sub.player, "x", sub.correct, 250)
				completions <- caused
				errs <- err
			}(sub)
		}
		start.Done()

		causedCount := 0
		for range subs {
			if <-completions {
				causedCount++
			}
			if err := <-errs; err != nil {
				t.Fatalf("run %d: submit failed: %v", run, err)
			}
		}
		if causedCount != 1 {
			t.Fatalf("run %d: duel completed %d times", run, causedCount)
		}

		final, err := f.service.GetDuel(ctx, duel.ID)
		if err != nil {
			t.Fatalf("run %d: get duel: %v", run, err)
		}
		if final.Status != domain.StatusCompleted {
			t.Fatalf("run %d: expected completed, got %s", run, final.Status)
		}
		_, correct := f.store.CountAnswers(duel.ID)
		if final.ChallengerScore+final.OpponentScore != correct {
			t.Fatalf("run %d: lost increments: scores %d+%d != correct answers %d",
				run, final.ChallengerScore, final.OpponentScore, correct)
		}
		if final.WinnerID == nil || *final.WinnerID != "alice" {
			t.Fatalf("run %d: expected alice to win, got %v", run, final.WinnerID)
		}
		if len(f.rewards.Outcomes()) != 2 {
			t.Fatalf("run %d: rewards notified %d times", run, len(f.rewards.Outcomes()))
		}
	}
}

func TestExpireIfOverdue(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 5)

	duel, _, err := f.service.CreateChallenge(ctx, "alice", "bob", "class-1", 1)
	if err != nil {
		t.Fatalf("create challenge: %v", err)
	}

	// Not yet overdue: no-op.
	expired, err := f.service.ExpireIfOverdue(ctx, duel.ID)
	if err != nil || expired {
		t.Fatalf("expected no-op before expiry, got expired=%v err=%v", expired, err)
	}

	f.clock.Advance(2 * time.Hour)
	expired, err = f.service.ExpireIfOverdue(ctx, duel.ID)
	if err != nil || !expired {
		t.Fatalf("expected expiry, got expired=%v err=%v", expired, err)
	}

	// Idempotent on the terminal state.
	expired, err = f.service.ExpireIfOverdue(ctx, duel.ID)
	if err != nil || expired {
		t.Fatalf("expected no-op on expired duel, got expired=%v err=%v", expired, err)
	}

	if _, err := f.service.AcceptChallenge(ctx, duel.ID, "bob"); err != domain.ErrInvalidState {
		t.Fatalf("expected invalid state accepting expired duel, got %v", err)
	}
}

func TestExpireIgnoresActiveDuels(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 5)
	duel, _ := f.activeDuel(t, 1)

	f.clock.Advance(48 * time.Hour)
	expired, err := f.service.ExpireIfOverdue(ctx, duel.ID)
	if err != nil {
		t.Fatalf("expected no error on active duel, got %v", err)
	}
	if expired {
		t.Fatalf("active duel must ignore expiry")
	}

	current, _ := f.service.GetDuel(ctx, duel.ID)
	if current.Status != domain.StatusActive {
		t.Fatalf("expected duel still active, got %s", current.Status)
	}
}

func TestSweepOverdueExpiresOnlyPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 5)

	first, _, err := f.service.CreateChallenge(ctx, "alice", "bob", "class-1", 1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, _, err := f.service.CreateChallenge(ctx, "carol", "dave", "class-1", 1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	accepted, _ := f.activeDuel(t, 1)

	f.clock.Advance(2 * time.Hour)
	expired, err := f.service.SweepOverdue(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if expired != 2 {
		t.Fatalf("expected 2 expired, got %d", expired)
	}
	for _, id := range []string{first.ID, second.ID} {
		d, _ := f.service.GetDuel(ctx, id)
		if d.Status != domain.StatusExpired {
			t.Fatalf("expected %s expired, got %s", id, d.Status)
		}
	}
	d, _ := f.service.GetDuel(ctx, accepted.ID)
	if d.Status != domain.StatusActive {
		t.Fatalf("sweep touched an active duel: %s", d.Status)
	}
}

func TestWatchReceivesSnapshots(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 5)
	duel, questions := f.activeDuel(t, 1)

	ch, cancel, err := f.service.Watch(ctx, duel.ID)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer cancel()

	initial := <-ch
	if initial.Status != domain.StatusActive {
		t.Fatalf("expected active snapshot, got %s", initial.Status)
	}

	if _, err := f.service.SubmitAnswer(ctx, duel.ID, questions[0].RefID, "alice", "x", true, 100); err != nil {
		t.Fatalf("submit: %v", err)
	}

	update := <-ch
	if update.ChallengerScore != 1 || update.AnswerCount != 1 {
		t.Fatalf("expected score/count update, got %+v", update)
	}
}
