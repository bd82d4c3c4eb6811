package infrastructure

import (
	"encoding/json"

	"checkoutcore/internal/service/checkout/domain"
	rdomain "checkoutcore/internal/service/routing/domain"
)

func fromDomainOrder(o *domain.Order) (*OrderModel, error) {
	lines, err := json.Marshal(o.Lines)
	if err != nil {
		return nil, err
	}
	return &OrderModel{
		ID:             o.ID,
		VendorID:       o.VendorID,
		Lines:          string(lines),
		Amount:         o.Amount,
		Status:         string(o.Status),
		CancelReason:   string(o.CancelReason),
		AttemptSeq:     o.AttemptSeq,
		ReviewRequired: o.ReviewRequired,
		ReviewReason:   o.ReviewReason,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}, nil
}

func toDomainOrder(m *OrderModel) (*domain.Order, error) {
	var lines []rdomain.Line
	if err := json.Unmarshal([]byte(m.Lines), &lines); err != nil {
		return nil, err
	}
	return &domain.Order{
		ID:             m.ID,
		VendorID:       m.VendorID,
		Lines:          lines,
		Amount:         m.Amount,
		Status:         domain.Status(m.Status),
		CancelReason:   domain.CancelReason(m.CancelReason),
		AttemptSeq:     m.AttemptSeq,
		ReviewRequired: m.ReviewRequired,
		ReviewReason:   m.ReviewReason,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}, nil
}

func fromDomainAttempt(a *domain.PaymentAttempt) *PaymentAttemptModel {
	m := &PaymentAttemptModel{
		ID:              a.ID,
		OrderID:         a.OrderID,
		Sequence:        a.Sequence,
		IdempotencyKey:  a.IdempotencyKey,
		AuthorizationID: a.AuthorizationID,
		Amount:          a.Amount,
		State:           string(a.State),
		FailureReason:   a.FailureReason,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
	if a.State == domain.PaymentCaptured {
		id := a.OrderID
		m.CapturedOrderID = &id
	}
	return m
}

func toDomainAttempt(m *PaymentAttemptModel) *domain.PaymentAttempt {
	return &domain.PaymentAttempt{
		ID:              m.ID,
		OrderID:         m.OrderID,
		Sequence:        m.Sequence,
		IdempotencyKey:  m.IdempotencyKey,
		AuthorizationID: m.AuthorizationID,
		Amount:          m.Amount,
		State:           domain.PaymentState(m.State),
		FailureReason:   m.FailureReason,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}
