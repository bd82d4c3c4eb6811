package infrastructure

import (
	"context"
	"sort"
	"sync"
	"time"

	"checkoutcore/internal/service/checkout/domain"
)

// MemoryRepository 同时实现订单与支付仓储，供单机部署和测试使用。
type MemoryRepository struct {
	mu       sync.RWMutex
	orders   map[string]*domain.Order
	payments map[string][]*domain.PaymentAttempt
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		orders:   make(map[string]*domain.Order),
		payments: make(map[string][]*domain.PaymentAttempt),
	}
}

func (r *MemoryRepository) Create(_ context.Context, order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[order.ID]; ok {
		return domain.ErrOrderExists
	}
	r.orders[order.ID] = order.Clone()
	return nil
}

func (r *MemoryRepository) Save(_ context.Context, order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[order.ID]; !ok {
		return domain.ErrOrderNotFound
	}
	r.orders[order.ID] = order.Clone()
	return nil
}

func (r *MemoryRepository) FindByID(_ context.Context, id string) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return o.Clone(), nil
}

// Payments 返回支付仓储视图。
func (r *MemoryRepository) Payments() *MemoryPaymentRepository {
	return &MemoryPaymentRepository{r}
}

// MemoryPaymentRepository 与订单共用同一份内存数据，便于按订单状态过滤。
type MemoryPaymentRepository struct {
	r *MemoryRepository
}

func (p *MemoryPaymentRepository) Save(_ context.Context, attempt *domain.PaymentAttempt) error {
	p.r.mu.Lock()
	defer p.r.mu.Unlock()
	list := p.r.payments[attempt.OrderID]
	idx := -1
	for i, a := range list {
		if a.ID == attempt.ID {
			idx = i
			continue
		}
		if attempt.State == domain.PaymentCaptured && a.State == domain.PaymentCaptured {
			return domain.ErrDuplicateCapture
		}
	}
	if idx >= 0 {
		list[idx] = attempt.Clone()
	} else {
		p.r.payments[attempt.OrderID] = append(list, attempt.Clone())
	}
	return nil
}

func (p *MemoryPaymentRepository) FindByOrder(_ context.Context, orderID string) ([]*domain.PaymentAttempt, error) {
	p.r.mu.RLock()
	defer p.r.mu.RUnlock()
	list := p.r.payments[orderID]
	out := make([]*domain.PaymentAttempt, 0, len(list))
	for _, a := range list {
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (p *MemoryPaymentRepository) ListUnsettledCaptures(_ context.Context, cutoff time.Time, limit int) ([]*domain.PaymentAttempt, error) {
	p.r.mu.RLock()
	defer p.r.mu.RUnlock()
	var out []*domain.PaymentAttempt
	for orderID, list := range p.r.payments {
		o, ok := p.r.orders[orderID]
		if !ok || o.Status == domain.StatusCompleted || o.ReviewRequired {
			continue
		}
		for _, a := range list {
			if a.State == domain.PaymentCaptured && a.UpdatedAt.Before(cutoff) {
				out = append(out, a.Clone())
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
