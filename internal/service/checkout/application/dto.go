package application

import (
	"checkoutcore/internal/service/checkout/domain"
	rdomain "checkoutcore/internal/service/routing/domain"

	"github.com/shopspring/decimal"
)

// PlaceOrderRequest 是登记订单用例的输入。OrderID 为空时自动生成。
type PlaceOrderRequest struct {
	OrderID  string          `json:"orderId"`
	VendorID string          `json:"vendorId"`
	Lines    []rdomain.Line  `json:"lines"`
	Amount   decimal.Decimal `json:"amount"`
}

// CheckoutResult 是结算用例的输出。
type CheckoutResult struct {
	OrderID        string               `json:"orderId"`
	Status         domain.Status        `json:"status"`
	CancelReason   domain.CancelReason  `json:"cancelReason,omitempty"`
	AttemptSeq     int                  `json:"attemptSeq"`
	ReviewRequired bool                 `json:"reviewRequired,omitempty"`
	HoldID         string               `json:"holdId,omitempty"`
	Assignments    []rdomain.Assignment `json:"assignments,omitempty"`
}

func resultFor(o *domain.Order) *CheckoutResult {
	return &CheckoutResult{
		OrderID:        o.ID,
		Status:         o.Status,
		CancelReason:   o.CancelReason,
		AttemptSeq:     o.AttemptSeq,
		ReviewRequired: o.ReviewRequired,
	}
}
