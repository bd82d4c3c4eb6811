package domain

import (
	"errors"
	"fmt"
)

var (
	ErrOrderNotFound          = errors.New("order not found")
	ErrOrderExists            = errors.New("order already exists")
	ErrInvalidOrder           = errors.New("invalid order")
	ErrInvalidTransition      = errors.New("invalid state transition")
	ErrReconciliationRequired = errors.New("order requires reconciliation")
	ErrCheckoutInProgress     = errors.New("checkout already in progress for order")
	ErrOrderClosed            = errors.New("order is already cancelled")
	ErrDuplicateCapture       = errors.New("order already has a captured payment")
)

// PaymentAuthorizationError 表示网关拒绝或未能完成授权。
type PaymentAuthorizationError struct {
	OrderID        string
	IdempotencyKey string
	Err            error
}

func (e *PaymentAuthorizationError) Error() string {
	return fmt.Sprintf("authorize payment for order %s (key %s): %v", e.OrderID, e.IdempotencyKey, e.Err)
}

func (e *PaymentAuthorizationError) Unwrap() error { return e.Err }

// PaymentCaptureError 表示扣款失败。Definitive 为 true 时网关明确拒绝，
// 否则扣款结果未知。
type PaymentCaptureError struct {
	OrderID        string
	IdempotencyKey string
	Definitive     bool
	Err            error
}

func (e *PaymentCaptureError) Error() string {
	kind := "ambiguous"
	if e.Definitive {
		kind = "declined"
	}
	return fmt.Sprintf("capture payment for order %s (key %s, %s): %v", e.OrderID, e.IdempotencyKey, kind, e.Err)
}

func (e *PaymentCaptureError) Unwrap() error { return e.Err }
