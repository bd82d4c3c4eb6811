package application

import (
	"context"
	"errors"
	"time"

	"checkoutcore/internal/pkg/logger"
	"checkoutcore/internal/pkg/metrics"
	"checkoutcore/internal/service/inventory/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type options struct {
	retry RetryPolicy
	now   func() time.Time
}

type Option func(*options)

func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *options) {
		if p.Attempts > 0 {
			o.retry = p
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{retry: DefaultRetryPolicy, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// HoldManager 负责预留、出库和释放。所有库存变更都在单个事务内按固定顺序加行锁完成。
type HoldManager struct {
	store   domain.Store
	tracer  trace.Tracer
	metrics *metrics.Metrics
	opts    options
}

func NewHoldManager(store domain.Store, tracer trace.Tracer, m *metrics.Metrics, opts ...Option) *HoldManager {
	return &HoldManager{store: store, tracer: tracer, metrics: m, opts: buildOptions(opts)}
}

// Reserve 按计划为订单建立预留，全有或全无。
// 订单已有 ACTIVE Hold 时：计划相同视为幂等成功，不同则返回 ErrHoldStateConflict。
// 锁冲突重试耗尽后以 InsufficientInventoryError 返回。
func (m *HoldManager) Reserve(ctx context.Context, orderID string, reqs []domain.ClaimRequest) (*domain.Hold, error) {
	ctx, span := m.tracer.Start(ctx, "inventory.Reserve", trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.Int("claims.requested", len(reqs)),
	))
	defer span.End()

	if orderID == "" {
		return nil, domain.ErrInvalidClaim
	}
	claims, err := domain.NormalizeClaims(reqs)
	if err != nil {
		return nil, err
	}
	if len(claims) == 0 {
		return nil, domain.ErrEmptyPlan
	}

	var (
		hold    *domain.Hold
		created bool
	)
	err = retryOnContention(ctx, m.opts.retry, m.metrics, "reserve", func() error {
		var e error
		hold, created, e = m.reserveOnce(ctx, orderID, claims)
		return e
	})
	if errors.Is(err, domain.ErrLockContention) {
		err = contentionFailure(claims, err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reservation failed")
		m.metrics.Reservations.WithLabelValues(reservationResult(err)).Inc()
		logger.Ctx(ctx).Warn().Err(err).Str("order_id", orderID).Msg("Reservation rejected")
		return nil, err
	}

	if !created {
		m.metrics.Reservations.WithLabelValues("idempotent").Inc()
		span.AddEvent("Existing active hold reused")
		return hold, nil
	}
	m.metrics.Reservations.WithLabelValues("reserved").Inc()
	span.SetAttributes(attribute.String("hold.id", hold.ID))
	logger.Ctx(ctx).Info().Str("order_id", orderID).Str("hold_id", hold.ID).Int("claims", len(hold.Claims)).Msg("Inventory reserved")
	return hold, nil
}

func (m *HoldManager) reserveOnce(ctx context.Context, orderID string, claims []domain.ClaimRequest) (*domain.Hold, bool, error) {
	var (
		hold    *domain.Hold
		created bool
	)
	err := m.store.WithinTx(ctx, func(tx domain.Tx) error {
		existing, err := tx.LockActiveHold(orderID)
		if err != nil {
			return err
		}
		if existing != nil {
			if !existing.Matches(claims) {
				return domain.ErrHoldStateConflict
			}
			hold = existing
			return nil
		}

		var keys []rowKey
		for _, c := range claims {
			keys = append(keys, rowsForItem(c.Item, c.LocationID)...)
		}
		rows, err := lockRows(tx, keys)
		if err != nil {
			return err
		}

		held := make([]domain.Claim, 0, len(claims))
		for _, req := range claims {
			c, err := rows.allocate(req)
			if err != nil {
				return err
			}
			held = append(held, c)
		}

		now := m.opts.now()
		if err := rows.save(tx, now); err != nil {
			return err
		}
		hold = domain.NewHold(orderID, held, now)
		created = true
		return tx.CreateHold(hold)
	})
	if err != nil {
		return nil, false, err
	}
	return hold, created, nil
}

// Finalize 把订单的 ACTIVE Hold 出库：扣减在库、归还预留、写出库流水。
// 没有 ACTIVE Hold 时什么都不做，因此可以安全重试。
func (m *HoldManager) Finalize(ctx context.Context, orderID string) error {
	return m.settle(ctx, orderID, true)
}

// Release 归还订单 ACTIVE Hold 的全部预留。没有 ACTIVE Hold 时什么都不做。
func (m *HoldManager) Release(ctx context.Context, orderID string) error {
	return m.settle(ctx, orderID, false)
}

func (m *HoldManager) settle(ctx context.Context, orderID string, commit bool) error {
	op := "release"
	if commit {
		op = "finalize"
	}
	ctx, span := m.tracer.Start(ctx, "inventory."+op, trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	var hold *domain.Hold
	err := retryOnContention(ctx, m.opts.retry, m.metrics, op, func() error {
		var e error
		hold, e = m.settleOnce(ctx, orderID, commit)
		return e
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, op+" failed")
		logger.Ctx(ctx).Error().Err(err).Str("order_id", orderID).Str("op", op).Msg("Hold settlement failed")
		return err
	}
	if hold == nil {
		span.AddEvent("No active hold, nothing to do")
		return nil
	}
	logger.Ctx(ctx).Info().Str("order_id", orderID).Str("hold_id", hold.ID).Str("state", string(hold.State)).Msg("Hold settled")
	return nil
}

func (m *HoldManager) settleOnce(ctx context.Context, orderID string, commit bool) (*domain.Hold, error) {
	var settled *domain.Hold
	err := m.store.WithinTx(ctx, func(tx domain.Tx) error {
		hold, err := tx.LockActiveHold(orderID)
		if err != nil || hold == nil {
			return err
		}

		var keys []rowKey
		for _, c := range hold.Claims {
			keys = append(keys, rowsForItem(c.Item, c.LocationID)...)
		}
		rows, err := lockRows(tx, keys)
		if err != nil {
			return err
		}

		now := m.opts.now()
		for _, c := range hold.Claims {
			if err := rows.settle(c, commit); err != nil {
				return err
			}
			if commit {
				if err := tx.AppendMovement(domain.SaleMovement(orderID, c, now)); err != nil {
					return err
				}
			}
		}
		if err := rows.save(tx, now); err != nil {
			return err
		}

		if commit {
			err = hold.MarkFinalized(now)
		} else {
			err = hold.MarkReleased(now)
		}
		if err != nil {
			return err
		}
		settled = hold
		return tx.UpdateHoldState(hold)
	})
	return settled, err
}

// Hold 返回订单最近的 Hold（任意状态），没有时返回 nil。
func (m *HoldManager) Hold(ctx context.Context, orderID string) (*domain.Hold, error) {
	return m.store.LatestHold(ctx, orderID)
}

// HasReservation 判断订单最近的 Hold 是否仍占用或已消耗库存。
func (m *HoldManager) HasReservation(ctx context.Context, orderID string) (bool, error) {
	h, err := m.store.LatestHold(ctx, orderID)
	if err != nil {
		return false, err
	}
	return h != nil && h.State != domain.HoldReleased, nil
}

// ExpiredHolds 列出创建早于 cutoff 仍处于 ACTIVE 的 Hold。
func (m *HoldManager) ExpiredHolds(ctx context.Context, cutoff time.Time, limit int) ([]domain.Hold, error) {
	return m.store.ListActiveHoldsOlderThan(ctx, cutoff, limit)
}

func reservationResult(err error) string {
	var insufficient *domain.InsufficientInventoryError
	switch {
	case errors.As(err, &insufficient) && insufficient.Contended:
		return "contended"
	case errors.As(err, &insufficient):
		return "insufficient"
	case errors.Is(err, domain.ErrHoldStateConflict):
		return "conflict"
	default:
		return "error"
	}
}
