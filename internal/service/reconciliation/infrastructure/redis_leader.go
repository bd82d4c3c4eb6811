package infrastructure

import (
	"context"
	"sync"
	"time"

	"checkoutcore/internal/pkg/redis"
)

const leaderKey = "checkout:sweeper:leader"

// RedisLeader 用带 TTL 的 Redis 锁做租约，每次 tick 续期。
// 续期失败（租约过期被他人取得）时自动降级为跟随者。
type RedisLeader struct {
	mu      sync.Mutex
	mutex   *redis.Mutex
	leading bool
}

func NewRedisLeader(client *redis.Client, leaseTTL time.Duration) *RedisLeader {
	return &RedisLeader{mutex: client.NewMutex(leaderKey, leaseTTL)}
}

func (l *RedisLeader) TryLead(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.leading {
		ok, err := l.mutex.Extend(ctx)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		l.leading = false
	}
	ok, err := l.mutex.TryLock(ctx)
	if err != nil {
		return false, err
	}
	l.leading = ok
	return ok, nil
}

func (l *RedisLeader) Resign(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.leading {
		return nil
	}
	l.leading = false
	return l.mutex.Unlock(ctx)
}
