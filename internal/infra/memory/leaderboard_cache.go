package memory

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"arena-duel-service/internal/app"
	"arena-duel-service/internal/domain"

	"golang.org/x/sync/singleflight"
)

// LeaderboardCache memoizes aggregator results with a TTL. Safe because the
// leaderboard is a stateless recomputation over completed duels.
type LeaderboardCache struct {
	inner app.LeaderboardAggregator
	ttl   time.Duration
	clock func() time.Time
	sf    singleflight.Group
	rnd   *rand.Rand

	mu    sync.RWMutex
	cache map[string]cachedBoard
}

type cachedBoard struct {
	board     domain.Leaderboard
	expiresAt time.Time
}

func NewLeaderboardCache(inner app.LeaderboardAggregator, ttl time.Duration) *LeaderboardCache {
	return &LeaderboardCache{
		inner: inner,
		ttl:   ttl,
		clock: time.Now,
		rnd:   rand.New(rand.NewSource(time.Now().UnixNano())),
		cache: make(map[string]cachedBoard),
	}
}

func (c *LeaderboardCache) ComputeLeaderboard(ctx context.Context, contextID string, windowStart, windowEnd time.Time) (domain.Leaderboard, error) {
	key := cacheKey(contextID, windowStart, windowEnd)
	now := c.clock()

	c.mu.RLock()
	if entry, ok := c.cache[key]; ok && entry.expiresAt.After(now) {
		c.mu.RUnlock()
		return entry.board, nil
	}
	c.mu.RUnlock()

	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		now := c.clock()
		c.mu.RLock()
		if entry, ok := c.cache[key]; ok && entry.expiresAt.After(now) {
			c.mu.RUnlock()
			return entry.board, nil
		}
		c.mu.RUnlock()

		board, err := c.inner.ComputeLeaderboard(ctx, contextID, windowStart, windowEnd)
		if err != nil {
			return domain.Leaderboard{}, err
		}

		c.mu.Lock()
		c.cache[key] = cachedBoard{board: board, expiresAt: now.Add(c.ttlWithJitter())}
		c.mu.Unlock()
		return board, nil
	})
	if err != nil {
		return domain.Leaderboard{}, err
	}
	return result.(domain.Leaderboard), nil
}

func cacheKey(contextID string, start, end time.Time) string {
	return fmt.Sprintf("leaderboard:%s:%d:%d", contextID, start.Unix(), end.Unix())
}

func (c *LeaderboardCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
