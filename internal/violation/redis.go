package violation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// SnapshotPrefix is the Redis key prefix for persisted counts:
	//
	//	Key:   violations:<YYYY-MM-DD>
	//	Value: hash author -> count
	SnapshotPrefix = "violations:"

	// SnapshotTTL keeps a day's snapshot around long enough to survive a
	// restart shortly after midnight.
	SnapshotTTL = 48 * time.Hour
)

// RedisSnapshotter persists store snapshots in Redis so counts survive a
// restart of the moderator within the same day.
type RedisSnapshotter struct {
	client *redis.Client
}

func NewRedisSnapshotter(client *redis.Client) *RedisSnapshotter {
	return &RedisSnapshotter{client: client}
}

// Save replaces the snapshot for date with counts.
func (r *RedisSnapshotter) Save(ctx context.Context, date string, counts map[string]int) error {
	key := SnapshotPrefix + date

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, key)
	if len(counts) > 0 {
		values := make(map[string]interface{}, len(counts))
		for author, n := range counts {
			values[author] = n
		}
		pipe.HSet(ctx, key, values)
		pipe.Expire(ctx, key, SnapshotTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("violation: save snapshot %s: %w", date, err)
	}
	return nil
}

// Load returns the snapshot for date, or an empty map if none was saved.
func (r *RedisSnapshotter) Load(ctx context.Context, date string) (map[string]int, error) {
	raw, err := r.client.HGetAll(ctx, SnapshotPrefix+date).Result()
	if err != nil {
		return nil, fmt.Errorf("violation: load snapshot %s: %w", date, err)
	}
	counts := make(map[string]int, len(raw))
	for author, v := range raw {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("violation: load snapshot %s: author %q: %w", date, author, err)
		}
		counts[author] = n
	}
	return counts, nil
}

// Persist saves the store's current snapshot under its reset date.
func (r *RedisSnapshotter) Persist(ctx context.Context, s *Store) error {
	date, counts := s.DatedSnapshot()
	return r.Save(ctx, date, counts)
}
