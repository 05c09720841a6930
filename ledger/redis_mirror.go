package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"Gin_postgres_redis_rent_tracker/models"
)

const RecentKey = "ledger:recent"

// RedisMirror keeps the newest entries in a capped Redis list so every
// instance can serve the recent feed.
type RedisMirror struct {
	rdb *redis.Client
	key string
	cap int64
}

func NewRedisMirror(rdb *redis.Client) *RedisMirror {
	return &RedisMirror{rdb: rdb, key: RecentKey, cap: models.LedgerCap}
}

func (m *RedisMirror) Push(ctx context.Context, entry models.LedgerEntry) error {
	b, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	pipe := m.rdb.TxPipeline()
	pipe.LPush(ctx, m.key, b)
	pipe.LTrim(ctx, m.key, 0, m.cap-1)
	_, err = pipe.Exec(ctx)
	return err
}

// Recent reads up to n entries from the list, newest first.
func (m *RedisMirror) Recent(ctx context.Context, n int) ([]models.LedgerEntry, error) {
	if n <= 0 || int64(n) > m.cap {
		n = int(m.cap)
	}
	raw, err := m.rdb.LRange(ctx, m.key, 0, int64(n-1)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]models.LedgerEntry, 0, len(raw))
	for _, s := range raw {
		var e models.LedgerEntry
		if err := json.Unmarshal([]byte(s), &e); err != nil {
			return nil, fmt.Errorf("decode ledger entry: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}
