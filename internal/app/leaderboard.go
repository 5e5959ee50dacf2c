package app

import (
	"context"
	"sort"
	"time"

	"arena-duel-service/internal/domain"
)

// LeaderboardAggregator computes the win/loss tally over a rolling window.
// Implementations may cache freely: the computation is a stateless read over
// completed duels and never writes back to duel state.
type LeaderboardAggregator interface {
	ComputeLeaderboard(ctx context.Context, contextID string, windowStart, windowEnd time.Time) (domain.Leaderboard, error)
}

// Aggregator is the canonical store-backed implementation.
type Aggregator struct {
	store DuelStore
	now   func() time.Time
}

func NewAggregator(store DuelStore) *Aggregator {
	return &Aggregator{store: store, now: time.Now}
}

// NewAggregatorWithClock is test-only for deterministic timestamps.
func NewAggregatorWithClock(store DuelStore, now func() time.Time) *Aggregator {
	return &Aggregator{store: store, now: now}
}

// ComputeLeaderboard tallies completed duels in [windowStart, windowEnd) for
// the context. Each duel counts toward both participants' totals; the winner
// gains a win; ties credit neither player. Ranking is wins descending with
// player id as the deterministic tie-break.
func (a *Aggregator) ComputeLeaderboard(ctx context.Context, contextID string, windowStart, windowEnd time.Time) (domain.Leaderboard, error) {
	duels, err := a.store.ListCompleted(ctx, contextID, windowStart, windowEnd)
	if err != nil {
		return domain.Leaderboard{}, err
	}

	type tally struct {
		wins  int
		total int
	}
	tallies := make(map[string]*tally)
	bump := func(playerID string) *tally {
		t, ok := tallies[playerID]
		if !ok {
			t = &tally{}
			tallies[playerID] = t
		}
		return t
	}
	for _, duel := range duels {
		bump(duel.ChallengerID).total++
		bump(duel.OpponentID).total++
		if duel.WinnerID != nil {
			bump(*duel.WinnerID).wins++
		}
	}

	entries := make([]domain.LeaderboardEntry, 0, len(tallies))
	for playerID, t := range tallies {
		entries = append(entries, domain.LeaderboardEntry{
			PlayerID:   playerID,
			Wins:       t.wins,
			TotalDuels: t.total,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Wins != entries[j].Wins {
			return entries[i].Wins > entries[j].Wins
		}
		return entries[i].PlayerID < entries[j].PlayerID
	})

	return domain.Leaderboard{
		ContextID:   contextID,
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
		Entries:     entries,
		ComputedAt:  a.now(),
	}, nil
}
