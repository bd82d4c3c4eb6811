package adapter

import (
	"context"
	"sync"

	"checkoutcore/internal/service/checkout/domain"
)

// LocalGuard 是单实例部署使用的进程内结算锁。
type LocalGuard struct {
	mu     sync.Mutex
	active map[string]struct{}
}

func NewLocalGuard() *LocalGuard {
	return &LocalGuard{active: make(map[string]struct{})}
}

func (g *LocalGuard) Acquire(_ context.Context, orderID string) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.active[orderID]; busy {
		return nil, domain.ErrCheckoutInProgress
	}
	g.active[orderID] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.active, orderID)
			g.mu.Unlock()
		})
	}, nil
}
