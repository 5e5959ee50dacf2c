package memory

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"arena-duel-service/internal/domain"
)

type countingAggregator struct {
	calls int64
}

func (a *countingAggregator) ComputeLeaderboard(_ context.Context, contextID string, start, end time.Time) (domain.Leaderboard, error) {
	atomic.AddInt64(&a.calls, 1)
	return domain.Leaderboard{
		ContextID:   contextID,
		WindowStart: start,
		WindowEnd:   end,
		Entries:     []domain.LeaderboardEntry{{PlayerID: "p1", Wins: 1, TotalDuels: 1}},
	}, nil
}

func TestLeaderboardCacheMemoizes(t *testing.T) {
	ctx := context.Background()
	inner := &countingAggregator{}
	cache := NewLeaderboardCache(inner, time.Minute)

	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	board, err := cache.ComputeLeaderboard(ctx, "class-1", start, end)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if len(board.Entries) != 1 {
		t.Fatalf("unexpected board %+v", board)
	}
	if _, err := cache.ComputeLeaderboard(ctx, "class-1", start, end); err != nil {
		t.Fatalf("compute 2: %v", err)
	}
	if inner.calls != 1 {
		t.Fatalf("expected cache hit, inner called %d times", inner.calls)
	}

	// Different window is a different cache entry.
	if _, err := cache.ComputeLeaderboard(ctx, "class-1", start, start.Add(time.Hour)); err != nil {
		t.Fatalf("compute 3: %v", err)
	}
	if inner.calls != 2 {
		t.Fatalf("expected recompute for new window, inner called %d times", inner.calls)
	}
}
