package application

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"checkoutcore/internal/pkg/logger"
	"checkoutcore/internal/pkg/metrics"
	"checkoutcore/internal/service/inventory/domain"
)

// RetryPolicy 控制锁冲突时的重试次数与退避。
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

var DefaultRetryPolicy = RetryPolicy{Attempts: 3, Backoff: 20 * time.Millisecond}

// retryOnContention 在 fn 返回 ErrLockContention 时按指数退避加抖动重试。
// 重试耗尽后返回最后一次的 ErrLockContention。
func retryOnContention(ctx context.Context, p RetryPolicy, m *metrics.Metrics, op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		err = fn()
		if !errors.Is(err, domain.ErrLockContention) || attempt == p.Attempts {
			return err
		}
		m.LockContentionRetries.Inc()
		logger.Ctx(ctx).Warn().Str("op", op).Int("attempt", attempt).Msg("Lock contention, retrying")

		delay := p.Backoff << (attempt - 1)
		if delay > 0 {
			delay += time.Duration(rand.Int64N(int64(delay)))
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
