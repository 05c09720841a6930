package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrInFlight means another rent/return/status action on the same unit has not finished.
var ErrInFlight = errors.New("another action on this unit is in progress")

const DefaultActionTTL = 30 * time.Second

// Locker serializes actions per equipment id. Acquire returns a release func.
type Locker interface {
	Acquire(ctx context.Context, equipmentID string) (func(), error)
}

// ActionLock guards one unit against duplicate submissions across instances.
type ActionLock struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewActionLock(rdb *redis.Client, ttl time.Duration) *ActionLock {
	if ttl <= 0 {
		ttl = DefaultActionTTL
	}
	return &ActionLock{rdb: rdb, ttl: ttl}
}

func lockKey(equipmentID string) string { return "rt:inflight:" + equipmentID }

// only the holder's token may release the lock
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Acquire takes the lock for equipmentID. The returned func releases it; the
// TTL frees it anyway if the holder dies.
func (l *ActionLock) Acquire(ctx context.Context, equipmentID string) (func(), error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, lockKey(equipmentID), token, l.ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInFlight
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.rdb, []string{lockKey(equipmentID)}, token).Err()
	}, nil
}

// LocalLock is the single-process equivalent, used when Redis is not configured and in tests.
type LocalLock struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocalLock() *LocalLock { return &LocalLock{held: make(map[string]struct{})} }

func (l *LocalLock) Acquire(_ context.Context, equipmentID string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[equipmentID]; busy {
		return nil, ErrInFlight
	}
	l.held[equipmentID] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, equipmentID)
			l.mu.Unlock()
		})
	}, nil
}
