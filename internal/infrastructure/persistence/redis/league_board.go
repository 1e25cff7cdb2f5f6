package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alem-hub/mastery-engine/internal/domain/progress"
	"github.com/alem-hub/mastery-engine/pkg/timeutil"
)

// LeagueBoard keeps weekly XP per account in one sorted set per week.
type LeagueBoard struct {
	cache *Cache
}

// NewLeagueBoard creates a new LeagueBoard.
func NewLeagueBoard(cache *Cache) *LeagueBoard {
	return &LeagueBoard{cache: cache}
}

// Record stores the account's weekly XP for the league week starting at
// weekStart. The ledger's weekly total only grows within a week, so the
// score is written with GT: a late or replayed event carrying an older,
// lower total never overwrites a newer one. Requires Redis 6.2+.
func (b *LeagueBoard) Record(ctx context.Context, accountID string, weeklyXP int, weekStart time.Time) error {
	key := LeagueWeekKey(timeutil.StartOfWeek(weekStart))

	pipe := b.cache.client.TxPipeline()
	pipe.ZAddArgs(ctx, key, redis.ZAddArgs{
		GT:      true,
		Members: []redis.Z{{Score: float64(weeklyXP), Member: accountID}},
	})
	pipe.Expire(ctx, key, TTLLeagueWeek)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("league board: record %s: %w", accountID, err)
	}
	return nil
}

// Top returns the best n accounts of the week containing at.
func (b *LeagueBoard) Top(ctx context.Context, n int, at time.Time) ([]progress.Standing, error) {
	if n <= 0 {
		return []progress.Standing{}, nil
	}
	key := LeagueWeekKey(timeutil.StartOfWeek(at))

	zs, err := b.cache.client.ZRevRangeWithScores(ctx, key, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("league board: top: %w", err)
	}

	out := make([]progress.Standing, 0, len(zs))
	for i, z := range zs {
		member, _ := z.Member.(string)
		out = append(out, progress.Standing{AccountID: member, WeeklyXP: int64(z.Score), Rank: int64(i + 1)})
	}
	return out, nil
}

// Rank returns the account's 1-based position. ok is false when the
// account has no XP recorded this week.
func (b *LeagueBoard) Rank(ctx context.Context, accountID string, at time.Time) (progress.Standing, bool, error) {
	key := LeagueWeekKey(timeutil.StartOfWeek(at))

	rank, err := b.cache.client.ZRevRank(ctx, key, accountID).Result()
	if errors.Is(err, redis.Nil) {
		return progress.Standing{}, false, nil
	}
	if err != nil {
		return progress.Standing{}, false, fmt.Errorf("league board: rank: %w", err)
	}
	score, err := b.cache.client.ZScore(ctx, key, accountID).Result()
	if err != nil {
		return progress.Standing{}, false, fmt.Errorf("league board: score: %w", err)
	}
	return progress.Standing{AccountID: accountID, WeeklyXP: int64(score), Rank: rank + 1}, true, nil
}
