package infrastructure

import (
	"context"
	"sort"
	"sync"
	"time"

	"checkoutcore/internal/service/inventory/domain"
)

// MemoryStore 是进程内的 domain.Store 实现，用于单机部署和测试。
// 每一行有独立的排他锁；事务内的写入先暂存，提交时一次性生效，出错即丢弃。
type MemoryStore struct {
	mu        sync.RWMutex
	records   map[string]domain.InventoryRecord
	variants  map[string]domain.VariantRecord
	holds     map[string]*domain.Hold
	active    map[string]string // orderID -> 当前 ACTIVE 的 holdID
	latest    map[string]string // orderID -> 最近创建的 holdID
	movements []domain.StockMovement

	locksMu  sync.Mutex
	locks    map[string]chan struct{}
	lockWait time.Duration
}

type MemoryOption func(*MemoryStore)

// WithLockWait 设置行锁等待上限，超时返回 domain.ErrLockContention（对应 innodb_lock_wait_timeout）。
func WithLockWait(d time.Duration) MemoryOption {
	return func(s *MemoryStore) { s.lockWait = d }
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		records:  make(map[string]domain.InventoryRecord),
		variants: make(map[string]domain.VariantRecord),
		holds:    make(map[string]*domain.Hold),
		active:   make(map[string]string),
		latest:   make(map[string]string),
		locks:    make(map[string]chan struct{}),
		lockWait: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func recordKey(productID, locationID string) string { return "rec|" + productID + "|" + locationID }

func variantKey(productID, variantID, locationID string) string {
	return "var|" + productID + "|" + variantID + "|" + locationID
}

func holdLockKey(orderID string) string { return "hold|" + orderID }

func (s *MemoryStore) rowLock(key string) chan struct{} {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	ch, ok := s.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[key] = ch
	}
	return ch
}

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	tx := &memTx{
		store:    s,
		ctx:      ctx,
		held:     make(map[string]chan struct{}),
		records:  make(map[string]domain.InventoryRecord),
		variants: make(map[string]domain.VariantRecord),
		holds:    make(map[string]*domain.Hold),
	}
	defer tx.unlockAll()

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.commit(tx)
	return nil
}

func (s *MemoryStore) commit(tx *memTx) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, r := range tx.records {
		s.records[k] = r
	}
	for k, v := range tx.variants {
		s.variants[k] = v
	}
	for id, h := range tx.holds {
		s.holds[id] = h
		if h.IsActive() {
			s.active[h.OrderID] = id
		} else if s.active[h.OrderID] == id {
			delete(s.active, h.OrderID)
		}
		if cur, ok := s.holds[s.latest[h.OrderID]]; !ok || !h.CreatedAt.Before(cur.CreatedAt) {
			s.latest[h.OrderID] = id
		}
	}
	s.movements = append(s.movements, tx.movements...)
}

func (s *MemoryStore) Record(_ context.Context, productID, locationID string) (*domain.InventoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[recordKey(productID, locationID)]
	if !ok {
		return nil, domain.ErrRecordNotFound
	}
	return &r, nil
}

func (s *MemoryStore) Variant(_ context.Context, productID, variantID, locationID string) (*domain.VariantRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.variants[variantKey(productID, variantID, locationID)]
	if !ok {
		return nil, domain.ErrRecordNotFound
	}
	return &v, nil
}

func (s *MemoryStore) RecordsAt(_ context.Context, locationID string, productIDs []string) ([]domain.InventoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.InventoryRecord
	for _, p := range productIDs {
		if r, ok := s.records[recordKey(p, locationID)]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *MemoryStore) VariantsAt(_ context.Context, locationID string, productIDs []string) ([]domain.VariantRecord, error) {
	wanted := make(map[string]bool, len(productIDs))
	for _, p := range productIDs {
		wanted[p] = true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.VariantRecord
	for _, v := range s.variants {
		if v.LocationID == locationID && wanted[v.ProductID] {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key().Less(out[j].Key()) })
	return out, nil
}

func (s *MemoryStore) LatestHold(_ context.Context, orderID string) (*domain.Hold, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.holds[s.latest[orderID]]
	if !ok {
		return nil, nil
	}
	return h.Clone(), nil
}

func (s *MemoryStore) ListActiveHoldsOlderThan(_ context.Context, cutoff time.Time, limit int) ([]domain.Hold, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Hold
	for _, id := range s.active {
		h := s.holds[id]
		if h.CreatedAt.Before(cutoff) {
			out = append(out, *h.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) MovementsByReference(_ context.Context, reference string) ([]domain.StockMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.StockMovement
	for _, m := range s.movements {
		if m.Reference == reference {
			out = append(out, m)
		}
	}
	return out, nil
}

// memTx 实现 domain.Tx。
type memTx struct {
	store     *MemoryStore
	ctx       context.Context
	held      map[string]chan struct{}
	records   map[string]domain.InventoryRecord
	variants  map[string]domain.VariantRecord
	holds     map[string]*domain.Hold
	movements []domain.StockMovement
}

func (t *memTx) lock(key string) error {
	if _, ok := t.held[key]; ok {
		return nil
	}
	ch := t.store.rowLock(key)

	timer := time.NewTimer(t.store.lockWait)
	defer timer.Stop()
	select {
	case ch <- struct{}{}:
		t.held[key] = ch
		return nil
	case <-t.ctx.Done():
		return t.ctx.Err()
	case <-timer.C:
		return domain.ErrLockContention
	}
}

func (t *memTx) unlockAll() {
	for _, ch := range t.held {
		<-ch
	}
	t.held = nil
}

func (t *memTx) LockRecord(productID, locationID string) (*domain.InventoryRecord, error) {
	key := recordKey(productID, locationID)
	if err := t.lock(key); err != nil {
		return nil, err
	}
	if r, ok := t.records[key]; ok {
		return &r, nil
	}
	return t.store.Record(t.ctx, productID, locationID)
}

func (t *memTx) LockVariant(productID, variantID, locationID string) (*domain.VariantRecord, error) {
	key := variantKey(productID, variantID, locationID)
	if err := t.lock(key); err != nil {
		return nil, err
	}
	if v, ok := t.variants[key]; ok {
		return &v, nil
	}
	return t.store.Variant(t.ctx, productID, variantID, locationID)
}

func (t *memTx) LockActiveHold(orderID string) (*domain.Hold, error) {
	if err := t.lock(holdLockKey(orderID)); err != nil {
		return nil, err
	}
	for _, h := range t.holds {
		if h.OrderID == orderID && h.IsActive() {
			return h.Clone(), nil
		}
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	id, ok := t.store.active[orderID]
	if !ok {
		return nil, nil
	}
	if staged, ok := t.holds[id]; ok && !staged.IsActive() {
		return nil, nil
	}
	return t.store.holds[id].Clone(), nil
}

func (t *memTx) SaveRecord(r *domain.InventoryRecord) error {
	key := recordKey(r.ProductID, r.LocationID)
	if err := t.lock(key); err != nil {
		return err
	}
	t.records[key] = *r
	return nil
}

func (t *memTx) SaveVariant(v *domain.VariantRecord) error {
	key := variantKey(v.ProductID, v.VariantID, v.LocationID)
	if err := t.lock(key); err != nil {
		return err
	}
	t.variants[key] = *v
	return nil
}

func (t *memTx) CreateHold(h *domain.Hold) error {
	if err := t.lock(holdLockKey(h.OrderID)); err != nil {
		return err
	}
	t.holds[h.ID] = h.Clone()
	return nil
}

func (t *memTx) UpdateHoldState(h *domain.Hold) error {
	return t.CreateHold(h)
}

func (t *memTx) AppendMovement(m *domain.StockMovement) error {
	t.movements = append(t.movements, *m)
	return nil
}
