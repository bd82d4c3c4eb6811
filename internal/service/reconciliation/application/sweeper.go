package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"checkoutcore/internal/pkg/logger"
	"checkoutcore/internal/pkg/metrics"
	checkout "checkoutcore/internal/service/checkout/domain"
	"checkoutcore/internal/service/checkout/domain/port"
	invdomain "checkoutcore/internal/service/inventory/domain"
	"checkoutcore/internal/service/reconciliation/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Config struct {
	Interval     time.Duration
	HoldTTL      time.Duration
	CaptureGrace time.Duration
	BatchSize    int
}

type Dependencies struct {
	Holds    domain.HoldService
	Orders   checkout.OrderRepository
	Payments checkout.PaymentRepository
	Gateway  port.PaymentGateway
	Events   port.EventPublisher
	Guard    port.CheckoutGuard
	Leader   domain.LeaderLock
}

// Report 汇总一次清扫的结果。
type Report struct {
	FinalizedCaptures int
	FlaggedForReview  int
	ExpiredHolds      int
	VoidedAuths       int
	Skipped           int
}

// Sweeper 修复结算请求路径留下的不一致状态：
// 已扣款未出库的订单补做出库，过期的预留释放并取消订单。
type Sweeper struct {
	cfg     Config
	deps    Dependencies
	tracer  trace.Tracer
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewSweeper(cfg Config, deps Dependencies, tracer trace.Tracer, m *metrics.Metrics) *Sweeper {
	return &Sweeper{cfg: cfg, deps: deps, tracer: tracer, metrics: m, now: time.Now}
}

func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

// Run 按固定间隔清扫，只有持有领导权的实例会执行。ctx 取消时交出领导权并返回。
func (s *Sweeper) Run(ctx context.Context) {
	logger.Ctx(ctx).Info().Dur("interval", s.cfg.Interval).Msg("✅ Reconciliation sweeper started.")
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	defer func() {
		resignCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.deps.Leader.Resign(resignCtx); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Msg("Failed to resign sweeper leadership")
		}
	}()

	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-ctx.Done():
			logger.Ctx(ctx).Info().Msg("🛑 Reconciliation sweeper stopped.")
			return
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	leading, err := s.deps.Leader.TryLead(ctx)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("Leader election failed")
		return
	}
	if !leading {
		logger.Ctx(ctx).Debug().Msg("Not the sweeper leader, skipping")
		return
	}
	report, err := s.Sweep(ctx)
	log := logger.Ctx(ctx).Info()
	if err != nil {
		log = logger.Ctx(ctx).Error().Err(err)
	}
	log.Int("finalized", report.FinalizedCaptures).
		Int("flagged", report.FlaggedForReview).
		Int("expired", report.ExpiredHolds).
		Int("voided", report.VoidedAuths).
		Int("skipped", report.Skipped).
		Msg("Sweep finished")
}

// Sweep 执行一次完整清扫：先处理已扣款未完成的订单，再处理过期预留。
// 单个订单失败不会中断整轮清扫，所有错误合并返回。
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	ctx, span := s.tracer.Start(ctx, "sweeper.Sweep")
	defer span.End()
	start := s.now()
	defer func() { s.metrics.SweepDuration.Observe(s.now().Sub(start).Seconds()) }()

	var report Report
	var errs error

	captures, err := s.deps.Payments.ListUnsettledCaptures(ctx, start.Add(-s.cfg.CaptureGrace), s.cfg.BatchSize)
	if err != nil {
		errs = errors.Join(errs, fmt.Errorf("list unsettled captures: %w", err))
	}
	for _, attempt := range captures {
		if err := s.settleCapture(ctx, attempt, &report); err != nil {
			errs = errors.Join(errs, fmt.Errorf("order %s: %w", attempt.OrderID, err))
		}
	}

	holds, err := s.deps.Holds.ExpiredHolds(ctx, start.Add(-s.cfg.HoldTTL), s.cfg.BatchSize)
	if err != nil {
		errs = errors.Join(errs, fmt.Errorf("list expired holds: %w", err))
	}
	for _, hold := range holds {
		if err := s.expireHold(ctx, hold, &report); err != nil {
			errs = errors.Join(errs, fmt.Errorf("order %s: %w", hold.OrderID, err))
		}
	}

	span.SetAttributes(
		attribute.Int("sweep.finalized", report.FinalizedCaptures),
		attribute.Int("sweep.flagged", report.FlaggedForReview),
		attribute.Int("sweep.expired", report.ExpiredHolds),
	)
	if errs != nil {
		span.RecordError(errs)
		span.SetStatus(codes.Error, "sweep incomplete")
	}
	return report, errs
}

// settleCapture 补齐扣款之后缺失的出库。预留已经不在时只标记人工复核，从不自动撤销扣款。
func (s *Sweeper) settleCapture(ctx context.Context, attempt *checkout.PaymentAttempt, report *Report) error {
	ctx, span := s.tracer.Start(ctx, "sweeper.SettleCapture", trace.WithAttributes(attribute.String("order.id", attempt.OrderID)))
	defer span.End()

	release, ok, err := s.acquire(ctx, attempt.OrderID, report)
	if !ok {
		return err
	}
	defer release()

	order, err := s.deps.Orders.FindByID(ctx, attempt.OrderID)
	if err != nil {
		return err
	}
	if order.Status == checkout.StatusCompleted || order.ReviewRequired {
		return nil
	}
	hold, err := s.deps.Holds.Hold(ctx, order.ID)
	if err != nil {
		return err
	}
	before := order.Status

	if hold == nil || !hold.IsActive() {
		state := "absent"
		if hold != nil {
			state = string(hold.State)
		}
		return s.flagReview(ctx, order, fmt.Sprintf("payment %s captured but inventory hold is %s", attempt.IdempotencyKey, state), report)
	}

	if err := s.deps.Holds.Finalize(ctx, order.ID); err != nil {
		span.RecordError(err)
		return err
	}
	if order.Status == checkout.StatusAuthorized {
		if err := order.MarkCaptured(s.now()); err != nil {
			return err
		}
	}
	if err := order.Complete(s.now()); err != nil {
		// 库存已出库但订单无法完成，只能交给人工
		return s.flagReview(ctx, order, fmt.Sprintf("inventory finalized but order cannot complete: %v", err), report)
	}
	if err := s.deps.Orders.Save(ctx, order); err != nil {
		return err
	}
	report.FinalizedCaptures++
	s.record(ctx, domain.ActionFinalizeCapture, order, before)
	s.publish(ctx, order)
	return nil
}

// expireHold 处理超过 TTL 的预留：撤销仍处于授权状态的支付，释放库存并取消订单。
func (s *Sweeper) expireHold(ctx context.Context, hold invdomain.Hold, report *Report) error {
	ctx, span := s.tracer.Start(ctx, "sweeper.ExpireHold", trace.WithAttributes(
		attribute.String("order.id", hold.OrderID),
		attribute.String("hold.id", hold.ID),
	))
	defer span.End()

	release, ok, err := s.acquire(ctx, hold.OrderID, report)
	if !ok {
		return err
	}
	defer release()

	// 拿到锁之后重新确认，请求路径可能刚刚完成了这笔订单
	current, err := s.deps.Holds.Hold(ctx, hold.OrderID)
	if err != nil {
		return err
	}
	if current == nil || !current.IsActive() || current.ID != hold.ID {
		return nil
	}

	order, err := s.deps.Orders.FindByID(ctx, hold.OrderID)
	if errors.Is(err, checkout.ErrOrderNotFound) {
		// 通过库存接口直接创建的预留，没有对应的结算订单
		if err := s.deps.Holds.Release(ctx, hold.OrderID); err != nil {
			return err
		}
		report.ExpiredHolds++
		s.metrics.SweeperActions.WithLabelValues(string(domain.ActionReleaseOrphan)).Inc()
		logger.Ctx(ctx).Warn().Str("order_id", hold.OrderID).Str("hold_id", hold.ID).Msg("Released orphan hold")
		return nil
	}
	if err != nil {
		return err
	}
	if order.Status == checkout.StatusCompleted || order.ReviewRequired {
		return nil
	}

	attempts, err := s.deps.Payments.FindByOrder(ctx, order.ID)
	if err != nil {
		return err
	}
	for _, a := range attempts {
		if a.State == checkout.PaymentCaptured {
			// 已扣款的订单由 settleCapture 处理
			return nil
		}
	}
	for _, a := range attempts {
		if a.State != checkout.PaymentAuthorized {
			continue
		}
		if err := s.deps.Gateway.Void(ctx, a.AuthorizationID); err != nil {
			span.RecordError(err)
			s.metrics.SweeperActions.WithLabelValues(string(domain.ActionVoidFailed)).Inc()
			if ferr := s.flagReview(ctx, order, fmt.Sprintf("void of %s failed: %v", a.IdempotencyKey, err), report); ferr != nil {
				return errors.Join(err, ferr)
			}
			return err
		}
		if err := a.MarkVoided(s.now()); err != nil {
			return err
		}
		if err := s.deps.Payments.Save(ctx, a); err != nil {
			return err
		}
		report.VoidedAuths++
		s.metrics.SweeperActions.WithLabelValues(string(domain.ActionVoid)).Inc()
	}

	if err := s.deps.Holds.Release(ctx, order.ID); err != nil {
		span.RecordError(err)
		return err
	}
	report.ExpiredHolds++

	before := order.Status
	if !order.Status.IsTerminal() {
		if err := order.Cancel(checkout.ReasonHoldExpired, s.now()); err != nil {
			return err
		}
		if err := s.deps.Orders.Save(ctx, order); err != nil {
			return err
		}
		s.publish(ctx, order)
	}
	s.record(ctx, domain.ActionExpireHold, order, before)
	return nil
}

// acquire 取得订单的结算锁。订单正在结算时跳过，留给下一轮。
func (s *Sweeper) acquire(ctx context.Context, orderID string, report *Report) (func(), bool, error) {
	release, err := s.deps.Guard.Acquire(ctx, orderID)
	if errors.Is(err, checkout.ErrCheckoutInProgress) {
		report.Skipped++
		s.metrics.SweeperActions.WithLabelValues(string(domain.ActionSkipBusy)).Inc()
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return release, true, nil
}

func (s *Sweeper) flagReview(ctx context.Context, order *checkout.Order, reason string, report *Report) error {
	order.FlagReview(reason, s.now())
	if err := s.deps.Orders.Save(ctx, order); err != nil {
		return err
	}
	report.FlaggedForReview++
	s.metrics.SweeperActions.WithLabelValues(string(domain.ActionFlagReview)).Inc()
	logger.Ctx(ctx).Error().Str("order_id", order.ID).Str("status", string(order.Status)).Str("reason", reason).
		Msg("Order flagged for manual review")
	s.publish(ctx, order)
	return nil
}

func (s *Sweeper) record(ctx context.Context, action domain.Action, order *checkout.Order, before checkout.Status) {
	s.metrics.SweeperActions.WithLabelValues(string(action)).Inc()
	logger.Ctx(ctx).Info().
		Str("action", string(action)).
		Str("order_id", order.ID).
		Str("before", string(before)).
		Str("after", string(order.Status)).
		Msg("Reconciliation action applied")
}

func (s *Sweeper) publish(ctx context.Context, order *checkout.Order) {
	event := checkout.EventFor(order, s.now())
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		event.TraceID = sc.TraceID().String()
	}
	if err := s.deps.Events.Publish(ctx, event); err != nil {
		s.metrics.EventPublishFailures.Inc()
		logger.Ctx(ctx).Error().Err(err).Str("order_id", order.ID).Str("type", string(event.Type)).Msg("Failed to publish order event")
	}
}
