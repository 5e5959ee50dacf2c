package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"arena-duel-service/internal/domain"
)

type answerKey struct {
	questionID string
	playerID   string
}

// DuelStore is an in-memory implementation of app.DuelStore. A single mutex
// stands in for the conditional updates a durable store would use: every
// mutating method checks its precondition and applies the change under the
// same critical section.
type DuelStore struct {
	mu        sync.RWMutex
	duels     map[string]*domain.Duel
	questions map[string][]domain.DuelQuestion
	answers   map[string]map[answerKey]domain.Answer
}

func NewDuelStore() *DuelStore {
	return &DuelStore{
		duels:     make(map[string]*domain.Duel),
		questions: make(map[string][]domain.DuelQuestion),
		answers:   make(map[string]map[answerKey]domain.Answer),
	}
}

func (s *DuelStore) CreateDuel(_ context.Context, duel domain.Duel, questions []domain.DuelQuestion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := duel
	s.duels[duel.ID] = &d
	qs := make([]domain.DuelQuestion, len(questions))
	copy(qs, questions)
	s.questions[duel.ID] = qs
	s.answers[duel.ID] = make(map[answerKey]domain.Answer)
	return nil
}

func (s *DuelStore) GetDuel(_ context.Context, duelID string) (domain.Duel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	duel, ok := s.duels[duelID]
	if !ok {
		return domain.Duel{}, domain.ErrDuelNotFound
	}
	return *duel, nil
}

func (s *DuelStore) GetQuestions(_ context.Context, duelID string) ([]domain.DuelQuestion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	qs, ok := s.questions[duelID]
	if !ok {
		return nil, domain.ErrDuelNotFound
	}
	out := make([]domain.DuelQuestion, len(qs))
	copy(out, qs)
	return out, nil
}

func (s *DuelStore) MarkAccepted(_ context.Context, duelID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	duel, ok := s.duels[duelID]
	if !ok {
		return false, domain.ErrDuelNotFound
	}
	if duel.Status != domain.StatusPending {
		return false, nil
	}
	duel.Status = domain.StatusActive
	return true, nil
}

func (s *DuelStore) AppendAnswer(_ context.Context, answer domain.Answer) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	duel, ok := s.duels[answer.DuelID]
	if !ok {
		return 0, domain.ErrDuelNotFound
	}
	if duel.Status != domain.StatusActive {
		return 0, domain.ErrInvalidState
	}
	key := answerKey{questionID: answer.QuestionID, playerID: answer.PlayerID}
	if _, exists := s.answers[answer.DuelID][key]; exists {
		return 0, domain.ErrDuplicateAnswer
	}
	s.answers[answer.DuelID][key] = answer
	if answer.IsCorrect {
		if answer.PlayerID == duel.ChallengerID {
			duel.ChallengerScore++
		} else {
			duel.OpponentScore++
		}
	}
	return len(s.answers[answer.DuelID]), nil
}

func (s *DuelStore) CompleteDuel(_ context.Context, duelID string, completedAt time.Time) (domain.Duel, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	duel, ok := s.duels[duelID]
	if !ok {
		return domain.Duel{}, false, domain.ErrDuelNotFound
	}
	if duel.Status != domain.StatusActive {
		return domain.Duel{}, false, nil
	}
	duel.Status = domain.StatusCompleted
	switch {
	case duel.ChallengerScore > duel.OpponentScore:
		winner := duel.ChallengerID
		duel.WinnerID = &winner
	case duel.OpponentScore > duel.ChallengerScore:
		winner := duel.OpponentID
		duel.WinnerID = &winner
	}
	at := completedAt
	duel.CompletedAt = &at
	return *duel, true, nil
}

func (s *DuelStore) MarkExpired(_ context.Context, duelID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	duel, ok := s.duels[duelID]
	if !ok {
		return false, domain.ErrDuelNotFound
	}
	if duel.Status != domain.StatusPending {
		return false, nil
	}
	duel.Status = domain.StatusExpired
	return true, nil
}

func (s *DuelStore) ListCompleted(_ context.Context, contextID string, start, end time.Time) ([]domain.Duel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Duel
	for _, duel := range s.duels {
		if duel.Status != domain.StatusCompleted || duel.ContextID != contextID || duel.CompletedAt == nil {
			continue
		}
		at := *duel.CompletedAt
		if at.Before(start) || !at.Before(end) {
			continue
		}
		out = append(out, *duel)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CompletedAt.Before(*out[j].CompletedAt) })
	return out, nil
}

func (s *DuelStore) ListOverduePending(_ context.Context, asOf time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, duel := range s.duels {
		if duel.Status == domain.StatusPending && !duel.ExpiresAt.After(asOf) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// CountAnswers is a test helper for verifying score conservation.
func (s *DuelStore) CountAnswers(duelID string) (total, correct int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ans := range s.answers[duelID] {
		total++
		if ans.IsCorrect {
			correct++
		}
	}
	return total, correct
}
