package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"arena-duel-service/internal/app"
	"arena-duel-service/internal/domain"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// LeaderboardCache stores computed leaderboards in Redis so several engine
// instances share one cache. Values are stored as:
//
//	SET leaderboard:{contextID}:{startUnix}:{endUnix} {json} EX ttl
//
// Misses fall through to the wrapped aggregator behind a singleflight group.
type LeaderboardCache struct {
	client *redis.Client
	inner  app.LeaderboardAggregator
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewLeaderboardCache(client *redis.Client, inner app.LeaderboardAggregator, ttl time.Duration) *LeaderboardCache {
	return &LeaderboardCache{
		client: client,
		inner:  inner,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *LeaderboardCache) ComputeLeaderboard(ctx context.Context, contextID string, windowStart, windowEnd time.Time) (domain.Leaderboard, error) {
	key := c.key(contextID, windowStart, windowEnd)

	if board, ok := c.fetch(ctx, key); ok {
		return board, nil
	}

	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if board, ok := c.fetch(ctx, key); ok {
			return board, nil
		}

		board, err := c.inner.ComputeLeaderboard(ctx, contextID, windowStart, windowEnd)
		if err != nil {
			return domain.Leaderboard{}, err
		}

		if raw, err := json.Marshal(board); err == nil {
			// best-effort: a failed cache write never fails the read
			_ = c.client.Set(ctx, key, raw, c.ttlWithJitter()).Err()
		}
		return board, nil
	})
	if err != nil {
		return domain.Leaderboard{}, err
	}
	return result.(domain.Leaderboard), nil
}

func (c *LeaderboardCache) fetch(ctx context.Context, key string) (domain.Leaderboard, bool) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return domain.Leaderboard{}, false
	}
	var board domain.Leaderboard
	if err := json.Unmarshal(raw, &board); err != nil {
		return domain.Leaderboard{}, false
	}
	return board, true
}

func (c *LeaderboardCache) key(contextID string, start, end time.Time) string {
	return fmt.Sprintf("leaderboard:%s:%d:%d", contextID, start.Unix(), end.Unix())
}

func (c *LeaderboardCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
