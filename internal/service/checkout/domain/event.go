package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventOrderCompleted           EventType = "ORDER_COMPLETED"
	EventOrderCancelled           EventType = "ORDER_CANCELLED"
	EventOrderNeedsReconciliation EventType = "ORDER_NEEDS_RECONCILIATION"
	EventOrderReviewRequired      EventType = "ORDER_REVIEW_REQUIRED"
)

// OrderEvent 是订单进入终态或需要关注时对外发布的事件。
type OrderEvent struct {
	EventID      string          `json:"eventId"`
	Type         EventType       `json:"type"`
	OrderID      string          `json:"orderId"`
	VendorID     string          `json:"vendorId"`
	Status       Status          `json:"status"`
	CancelReason CancelReason    `json:"cancelReason,omitempty"`
	ReviewReason string          `json:"reviewReason,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
	AttemptSeq   int             `json:"attemptSeq"`
	OccurredAt   time.Time       `json:"occurredAt"`
	TraceID      string          `json:"traceId,omitempty"`
}

// EventFor 根据订单当前状态生成事件。
func EventFor(o *Order, now time.Time) *OrderEvent {
	typ := EventOrderNeedsReconciliation
	switch {
	case o.ReviewRequired:
		typ = EventOrderReviewRequired
	case o.Status == StatusCompleted:
		typ = EventOrderCompleted
	case o.Status == StatusCancelled:
		typ = EventOrderCancelled
	}
	return &OrderEvent{
		EventID:      uuid.NewString(),
		Type:         typ,
		OrderID:      o.ID,
		VendorID:     o.VendorID,
		Status:       o.Status,
		CancelReason: o.CancelReason,
		ReviewReason: o.ReviewReason,
		Amount:       o.Amount,
		AttemptSeq:   o.AttemptSeq,
		OccurredAt:   now,
	}
}

// CheckoutRequested 是通过消息队列提交的结算请求。
type CheckoutRequested struct {
	OrderID    string `json:"orderId"`
	Instrument string `json:"instrument"`
}
