package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentState string

const (
	PaymentAuthorized PaymentState = "AUTHORIZED"
	PaymentCaptured   PaymentState = "CAPTURED"
	PaymentVoided     PaymentState = "VOIDED"
	PaymentFailed     PaymentState = "FAILED"
)

// PaymentAttempt 是一次对支付工具的扣款尝试。同一订单至多一个尝试能到达 CAPTURED。
type PaymentAttempt struct {
	ID              string
	OrderID         string
	Sequence        int
	IdempotencyKey  string
	AuthorizationID string
	Amount          decimal.Decimal
	State           PaymentState
	FailureReason   string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IdempotencyKey 由订单号和尝试序号组成，网关据此去重。
func IdempotencyKey(orderID string, seq int) string {
	return fmt.Sprintf("%s:%d", orderID, seq)
}

func NewAuthorizedAttempt(orderID string, seq int, authorizationID string, amount decimal.Decimal, now time.Time) *PaymentAttempt {
	return &PaymentAttempt{
		ID:              uuid.NewString(),
		OrderID:         orderID,
		Sequence:        seq,
		IdempotencyKey:  IdempotencyKey(orderID, seq),
		AuthorizationID: authorizationID,
		Amount:          amount,
		State:           PaymentAuthorized,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func NewFailedAttempt(orderID string, seq int, amount decimal.Decimal, reason string, now time.Time) *PaymentAttempt {
	return &PaymentAttempt{
		ID:             uuid.NewString(),
		OrderID:        orderID,
		Sequence:       seq,
		IdempotencyKey: IdempotencyKey(orderID, seq),
		Amount:         amount,
		State:          PaymentFailed,
		FailureReason:  reason,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (p *PaymentAttempt) MarkCaptured(now time.Time) error {
	return p.move(PaymentCaptured, now)
}

func (p *PaymentAttempt) MarkVoided(now time.Time) error {
	return p.move(PaymentVoided, now)
}

func (p *PaymentAttempt) Fail(reason string, now time.Time) error {
	if err := p.move(PaymentFailed, now); err != nil {
		return err
	}
	p.FailureReason = reason
	return nil
}

// 只有 AUTHORIZED 可以继续流转，其余状态都是终态。
func (p *PaymentAttempt) move(next PaymentState, now time.Time) error {
	if p.State != PaymentAuthorized {
		return fmt.Errorf("%w: payment %s %s -> %s", ErrInvalidTransition, p.IdempotencyKey, p.State, next)
	}
	p.State = next
	p.UpdatedAt = now
	return nil
}

func (p *PaymentAttempt) Clone() *PaymentAttempt {
	c := *p
	return &c
}
