package application

import (
	"context"
	"errors"
	"sync"
	"time"

	"checkoutcore/internal/pkg/logger"
	"checkoutcore/internal/pkg/metrics"
	"checkoutcore/internal/service/checkout/application/saga"
	"checkoutcore/internal/service/checkout/domain"
	"checkoutcore/internal/service/checkout/domain/port"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

// Config 是编排器的显式配置。
type Config struct {
	ProcessingTimeout time.Duration
	GatewayTimeout    time.Duration
	FinalizeAttempts  int
	FinalizeBackoff   time.Duration
}

// Dependencies 汇总编排器的出站端口。
type Dependencies struct {
	Orders   domain.OrderRepository
	Payments domain.PaymentRepository
	Routing  port.RoutingService
	Stock    port.InventoryService
	Gateway  port.PaymentGateway
	Events   port.EventPublisher
	Guard    port.CheckoutGuard
}

// CheckoutService 编排路由、预留、授权、扣款与库存提交。
type CheckoutService struct {
	cfg     Config
	deps    Dependencies
	tracer  trace.Tracer
	metrics *metrics.Metrics
	now     func() time.Time

	flight singleflight.Group
	wg     sync.WaitGroup
}

func NewCheckoutService(cfg Config, deps Dependencies, tracer trace.Tracer, m *metrics.Metrics) *CheckoutService {
	return &CheckoutService{cfg: cfg, deps: deps, tracer: tracer, metrics: m, now: time.Now}
}

// WithClock 替换时钟，便于测试。
func (s *CheckoutService) WithClock(now func() time.Time) *CheckoutService {
	s.now = now
	return s
}

// PlaceOrder 登记一个待结算的订单。
func (s *CheckoutService) PlaceOrder(ctx context.Context, req *PlaceOrderRequest) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "app.PlaceOrder")
	defer span.End()

	id := req.OrderID
	if id == "" {
		id = uuid.NewString()
	}
	order, err := domain.NewOrder(id, req.VendorID, req.Lines, req.Amount, s.now())
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := s.deps.Orders.Create(ctx, order); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to save order")
		return nil, err
	}
	logger.Ctx(ctx).Info().Str("order_id", id).Str("vendor_id", req.VendorID).Msg("Order placed")
	return order, nil
}

func (s *CheckoutService) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	return s.deps.Orders.FindByID(ctx, orderID)
}

// Checkout 执行一次结算。已结束的订单直接返回记录的结果：
// COMPLETED 返回 nil，CANCELLED 返回 ErrOrderClosed，
// NEEDS_RECONCILIATION 返回 ErrReconciliationRequired。
// 同一进程内的并发重复请求合并为一次执行。
func (s *CheckoutService) Checkout(ctx context.Context, orderID, instrument string) (*CheckoutResult, error) {
	v, err, shared := s.flight.Do(orderID, func() (any, error) {
		return s.checkout(ctx, orderID, instrument)
	})
	if shared {
		logger.Ctx(ctx).Debug().Str("order_id", orderID).Msg("Joined in-flight checkout")
	}
	res, _ := v.(*CheckoutResult)
	return res, err
}

func (s *CheckoutService) checkout(ctx context.Context, orderID, instrument string) (*CheckoutResult, error) {
	ctx, span := s.tracer.Start(ctx, "app.Checkout", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	release, err := s.deps.Guard.Acquire(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer release()

	order, err := s.deps.Orders.FindByID(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	switch {
	case order.Status == domain.StatusCompleted:
		return resultFor(order), nil
	case order.Status == domain.StatusCancelled:
		return resultFor(order), domain.ErrOrderClosed
	case order.Status == domain.StatusNeedsReconciliation:
		return resultFor(order), domain.ErrReconciliationRequired
	case !order.Startable():
		return resultFor(order), domain.ErrCheckoutInProgress
	}

	start := s.now()
	processingCtx, cancel := ctx, context.CancelFunc(func() {})
	if s.cfg.ProcessingTimeout > 0 {
		processingCtx, cancel = context.WithTimeout(ctx, s.cfg.ProcessingTimeout)
	}
	defer cancel()

	cc := &saga.CheckoutContext{
		Ctx:        processingCtx,
		Order:      order,
		Instrument: instrument,
		Tracer:     s.tracer,
		Now:        s.now,
		Settings: saga.Settings{
			GatewayTimeout:   s.cfg.GatewayTimeout,
			FinalizeAttempts: s.cfg.FinalizeAttempts,
			FinalizeBackoff:  s.cfg.FinalizeBackoff,
		},
		Orders:   s.deps.Orders,
		Payments: s.deps.Payments,
		Routing:  s.deps.Routing,
		Stock:    s.deps.Stock,
		Gateway:  s.deps.Gateway,
	}

	logger.Ctx(ctx).Info().Str("order_id", orderID).Int("attempt", order.AttemptSeq+1).Msg("Starting checkout")
	chainErr := s.buildChain().Handle(cc)

	// 收尾使用不带超时的上下文，保留链路信息
	finishCtx := trace.ContextWithRemoteSpanContext(context.Background(), trace.SpanContextFromContext(ctx))
	resultErr := s.settle(finishCtx, cc, chainErr)

	res := resultFor(order)
	if cc.Plan != nil {
		res.Assignments = cc.Plan.Assignments
	}
	if cc.Hold != nil {
		res.HoldID = cc.Hold.ID
	}

	s.metrics.CheckoutDuration.Observe(s.now().Sub(start).Seconds())
	s.metrics.CheckoutOutcomes.WithLabelValues(string(order.Status), string(order.CancelReason)).Inc()
	span.SetAttributes(attribute.String("order.status", string(order.Status)))
	if resultErr != nil {
		span.RecordError(resultErr)
		span.SetStatus(codes.Error, "checkout did not complete")
	}
	return res, resultErr
}

// settle 根据责任链的结果执行补偿并落定订单状态，返回给调用方的错误。
func (s *CheckoutService) settle(ctx context.Context, cc *saga.CheckoutContext, chainErr error) error {
	order := cc.Order
	log := logger.Ctx(ctx)
	if chainErr == nil {
		log.Info().Str("order_id", order.ID).Msg("✅ Checkout completed")
		s.publish(ctx, order)
		return nil
	}

	var failure *saga.Failure
	if !errors.As(chainErr, &failure) {
		// 基础设施故障：尚未授权，回滚已做的预留并允许调用方重试
		log.Error().Err(chainErr).Str("order_id", order.ID).Msg("Checkout aborted, compensating")
		cc.TriggerCompensation(ctx)
		if order.Status != domain.StatusPending {
			if err := order.Reset(s.now()); err == nil {
				if err := s.deps.Orders.Save(ctx, order); err != nil {
					log.Error().Err(err).Str("order_id", order.ID).Msg("Failed to reset order after aborted checkout")
				}
			}
		}
		return chainErr
	}

	if failure.Reconcile {
		log.Error().Err(failure.Err).Str("order_id", order.ID).Str("status", string(order.Status)).
			Msg("Checkout outcome is ambiguous, deferring to reconciliation")
		if err := order.NeedsReconciliation(s.now()); err != nil {
			log.Error().Err(err).Str("order_id", order.ID).Msg("Cannot mark order for reconciliation")
		} else if err := s.deps.Orders.Save(ctx, order); err != nil {
			log.Error().Err(err).Str("order_id", order.ID).Msg("Failed to save order for reconciliation")
		}
		s.publish(ctx, order)
		return errors.Join(domain.ErrReconciliationRequired, failure.Err)
	}

	log.Warn().Err(failure.Err).Str("order_id", order.ID).Str("reason", string(failure.Reason)).Msg("Checkout cancelled, compensating")
	cc.TriggerCompensation(ctx)
	if err := order.Cancel(failure.Reason, s.now()); err != nil {
		log.Error().Err(err).Str("order_id", order.ID).Msg("Cannot cancel order")
	} else if err := s.deps.Orders.Save(ctx, order); err != nil {
		log.Error().Err(err).Str("order_id", order.ID).Msg("Failed to save cancelled order")
	}
	s.publish(ctx, order)
	return failure.Err
}

// publish 异步发布订单事件，发布失败不影响结算结果。
func (s *CheckoutService) publish(ctx context.Context, order *domain.Order) {
	event := domain.EventFor(order, s.now())
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		event.TraceID = sc.TraceID().String()
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.deps.Events.Publish(ctx, event); err != nil {
			s.metrics.EventPublishFailures.Inc()
			logger.Ctx(ctx).Error().Err(err).Str("order_id", event.OrderID).Str("type", string(event.Type)).Msg("Failed to publish order event")
		}
	}()
}

// Wait 等待所有已发起的事件发布结束。
func (s *CheckoutService) Wait() {
	s.wg.Wait()
}

func (s *CheckoutService) buildChain() saga.Handler {
	chain := new(saga.RouteHandler)
	chain.
		SetNext(new(saga.ReserveHandler)).
		SetNext(new(saga.AuthorizeHandler)).
		SetNext(new(saga.CommitHandler))
	return chain
}
