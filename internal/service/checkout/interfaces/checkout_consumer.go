package interfaces

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"checkoutcore/internal/pkg/logger"
	"checkoutcore/internal/pkg/mq"
	"checkoutcore/internal/service/checkout/domain"

	"github.com/segmentio/kafka-go"
)

// MessageReader 是 kafka.Reader 中消费者用到的部分。
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// CheckoutFunc 执行一次结算。
type CheckoutFunc func(ctx context.Context, orderID, instrument string) error

// CheckoutConsumer 是一个驱动适配器，它监听结算请求主题并驱动应用服务。
type CheckoutConsumer struct {
	reader   MessageReader
	checkout CheckoutFunc
	wg       sync.WaitGroup
	stopped  atomic.Bool
}

func NewCheckoutConsumer(reader MessageReader, checkout CheckoutFunc) *CheckoutConsumer {
	return &CheckoutConsumer{reader: reader, checkout: checkout}
}

// Start 开始监听。处理完成（无论成功与否）后提交 offset，重复投递由结算本身的幂等性吸收。
func (a *CheckoutConsumer) Start(ctx context.Context) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		logger.Ctx(ctx).Info().Msg("✅ Checkout consumer started.")
		for {
			if a.stopped.Load() {
				return
			}
			msg, err := a.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil || a.stopped.Load() {
					logger.Ctx(ctx).Info().Msg("🛑 Checkout consumer shutting down.")
					return
				}
				logger.Ctx(ctx).Error().Err(err).Msg("Could not read message, retrying")
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
				}
				continue
			}

			msgCtx := mq.ExtractTraceContext(ctx, msg)
			if err := a.processMessage(msgCtx, msg); err != nil {
				logger.Ctx(msgCtx).Error().Err(err).Int64("offset", msg.Offset).Msg("Checkout request failed")
			}
			if err := a.reader.CommitMessages(ctx, msg); err != nil {
				logger.Ctx(ctx).Error().Err(err).Msg("Failed to commit messages")
			}
		}
	}()
}

// Stop 优雅地停止消费者。
func (a *CheckoutConsumer) Stop(ctx context.Context) {
	a.stopped.Store(true)
	a.reader.Close()
	a.wg.Wait()
	logger.Ctx(ctx).Info().Msg("✅ Checkout consumer stopped.")
}

func (a *CheckoutConsumer) processMessage(ctx context.Context, msg kafka.Message) error {
	var req domain.CheckoutRequested
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		return err
	}
	if req.OrderID == "" {
		return domain.ErrInvalidOrder
	}
	err := a.checkout(ctx, req.OrderID, req.Instrument)
	if settled(err) {
		logger.Ctx(ctx).Info().Err(err).Str("order_id", req.OrderID).Msg("Checkout request settled without completion")
		return nil
	}
	return err
}

// settled 表示订单已经有了结论（取消或待对账），不算消费失败。
func settled(err error) bool {
	var (
		authErr *domain.PaymentAuthorizationError
		capErr  *domain.PaymentCaptureError
	)
	return errors.Is(err, domain.ErrOrderClosed) ||
		errors.Is(err, domain.ErrReconciliationRequired) ||
		errors.As(err, &authErr) ||
		errors.As(err, &capErr)
}
