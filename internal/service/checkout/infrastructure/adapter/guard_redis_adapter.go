package adapter

import (
	"context"
	"fmt"
	"time"

	"checkoutcore/internal/pkg/logger"
	"checkoutcore/internal/pkg/redis"
	"checkoutcore/internal/service/checkout/domain"
)

// RedisGuard 用 Redis 互斥锁保证同一订单在所有实例中只有一个结算在执行。
type RedisGuard struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisGuard(client *redis.Client, ttl time.Duration) *RedisGuard {
	return &RedisGuard{client: client, ttl: ttl}
}

func (g *RedisGuard) Acquire(ctx context.Context, orderID string) (func(), error) {
	mu := g.client.NewMutex(fmt.Sprintf("checkout:guard:{%s}", orderID), g.ttl)
	ok, err := mu.TryLock(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrCheckoutInProgress
	}
	return func() {
		// 调用方的 ctx 可能已超时，解锁单独设置期限
		unlockCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := mu.Unlock(unlockCtx); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("order_id", orderID).Msg("Failed to release checkout guard")
		}
	}, nil
}
