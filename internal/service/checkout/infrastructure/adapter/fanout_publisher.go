package adapter

import (
	"context"
	"errors"

	"checkoutcore/internal/service/checkout/domain"
	"checkoutcore/internal/service/checkout/domain/port"
)

// FanoutPublisher 把同一事件发给所有下游，汇总全部错误。
type FanoutPublisher []port.EventPublisher

func (f FanoutPublisher) Publish(ctx context.Context, event *domain.OrderEvent) error {
	var errs error
	for _, p := range f {
		errs = errors.Join(errs, p.Publish(ctx, event))
	}
	return errs
}

// DiscardPublisher 丢弃事件，用于未配置消息队列的部署。
type DiscardPublisher struct{}

func (DiscardPublisher) Publish(context.Context, *domain.OrderEvent) error { return nil }
