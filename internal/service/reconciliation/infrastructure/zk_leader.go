package infrastructure

import (
	"context"
	"errors"
	"sync"
	"time"

	"checkoutcore/internal/pkg/zookeeper"
)

// ZookeeperLeader 以临时顺序节点选主。会话存活期间节点一直存在，
// 因此领导权只需在会话失效后重新竞争。
type ZookeeperLeader struct {
	mu      sync.Mutex
	lock    *zookeeper.DistributedLock
	wait    time.Duration
	leading bool
}

// NewZookeeperLeader 中 wait 是每次 tick 排队等待领导权的最长时间。
func NewZookeeperLeader(lock *zookeeper.DistributedLock, wait time.Duration) *ZookeeperLeader {
	return &ZookeeperLeader{lock: lock, wait: wait}
}

func (l *ZookeeperLeader) TryLead(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.leading {
		held, err := l.lock.Held()
		if err != nil {
			return false, err
		}
		if held {
			return true, nil
		}
		l.leading = false
	}

	lockCtx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()
	err := l.lock.Lock(lockCtx)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	l.leading = true
	return true, nil
}

func (l *ZookeeperLeader) Resign(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.leading {
		return nil
	}
	l.leading = false
	return l.lock.Unlock()
}
