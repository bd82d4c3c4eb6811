package domain

import (
	"fmt"
	"time"

	rdomain "checkoutcore/internal/service/routing/domain"

	"github.com/shopspring/decimal"
)

// Order 是结算聚合的根实体。
type Order struct {
	ID             string
	VendorID       string
	Lines          []rdomain.Line
	Amount         decimal.Decimal
	Status         Status
	CancelReason   CancelReason
	AttemptSeq     int
	ReviewRequired bool
	ReviewReason   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewOrder 校验并创建一个 PENDING 订单。
func NewOrder(id, vendorID string, lines []rdomain.Line, amount decimal.Decimal, now time.Time) (*Order, error) {
	if id == "" || vendorID == "" || len(lines) == 0 {
		return nil, fmt.Errorf("%w: id, vendor and lines are required", ErrInvalidOrder)
	}
	for _, l := range lines {
		if l.Item.ProductID == "" || l.Quantity <= 0 {
			return nil, fmt.Errorf("%w: bad line %s x%d", ErrInvalidOrder, l.Item, l.Quantity)
		}
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidOrder)
	}
	return &Order{
		ID:        id,
		VendorID:  vendorID,
		Lines:     append([]rdomain.Line(nil), lines...),
		Amount:    amount,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (o *Order) transition(next Status, now time.Time) error {
	if !o.Status.canTransitionTo(next) {
		return fmt.Errorf("%w: order %s %s -> %s", ErrInvalidTransition, o.ID, o.Status, next)
	}
	o.Status = next
	o.UpdatedAt = now
	return nil
}

// Startable 表示订单可以开始（或重新开始）一次结算。
func (o *Order) Startable() bool {
	return o.Status == StatusPending || o.Status == StatusRouted
}

func (o *Order) MarkRouted(now time.Time) error     { return o.transition(StatusRouted, now) }
func (o *Order) MarkReserved(now time.Time) error   { return o.transition(StatusReserved, now) }
func (o *Order) MarkAuthorized(now time.Time) error { return o.transition(StatusAuthorized, now) }
func (o *Order) MarkCaptured(now time.Time) error   { return o.transition(StatusCaptured, now) }
func (o *Order) Complete(now time.Time) error       { return o.transition(StatusCompleted, now) }

// Reset 把尚未授权的订单退回 PENDING，以便调用方重试。
func (o *Order) Reset(now time.Time) error { return o.transition(StatusPending, now) }

func (o *Order) Cancel(reason CancelReason, now time.Time) error {
	if err := o.transition(StatusCancelled, now); err != nil {
		return err
	}
	o.CancelReason = reason
	return nil
}

func (o *Order) NeedsReconciliation(now time.Time) error {
	return o.transition(StatusNeedsReconciliation, now)
}

// FlagReview 标记订单需要人工复核，不改变状态。
func (o *Order) FlagReview(reason string, now time.Time) {
	o.ReviewRequired = true
	o.ReviewReason = reason
	o.UpdatedAt = now
}

// BeginAttempt 递增并返回支付尝试序号。
func (o *Order) BeginAttempt(now time.Time) int {
	o.AttemptSeq++
	o.UpdatedAt = now
	return o.AttemptSeq
}

// Routable 返回路由所需的订单视图。
func (o *Order) Routable() *rdomain.RoutableOrder {
	return &rdomain.RoutableOrder{
		OrderID:  o.ID,
		VendorID: o.VendorID,
		Lines:    append([]rdomain.Line(nil), o.Lines...),

		PlanLocked: o.Status.PlanCommitted(),
	}
}

func (o *Order) Clone() *Order {
	c := *o
	c.Lines = append([]rdomain.Line(nil), o.Lines...)
	return &c
}
