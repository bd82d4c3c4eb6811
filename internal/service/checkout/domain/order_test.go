package domain

import (
	"testing"
	"time"

	invdomain "checkoutcore/internal/service/inventory/domain"
	rdomain "checkoutcore/internal/service/routing/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestOrder(t *testing.T) *Order {
	t.Helper()
	o, err := NewOrder("o1", "v1", []rdomain.Line{{Item: invdomain.ItemKey{ProductID: "p1"}, Quantity: 2}}, decimal.NewFromInt(10), now)
	require.NoError(t, err)
	return o
}

func TestNewOrder_Validation(t *testing.T) {
	line := []rdomain.Line{{Item: invdomain.ItemKey{ProductID: "p1"}, Quantity: 1}}
	tests := []struct {
		name   string
		id     string
		lines  []rdomain.Line
		amount decimal.Decimal
	}{
		{"missing id", "", line, decimal.NewFromInt(1)},
		{"no lines", "o1", nil, decimal.NewFromInt(1)},
		{"zero quantity", "o1", []rdomain.Line{{Item: invdomain.ItemKey{ProductID: "p1"}}}, decimal.NewFromInt(1)},
		{"zero amount", "o1", line, decimal.Zero},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewOrder(tt.id, "v1", tt.lines, tt.amount, now)
			assert.ErrorIs(t, err, ErrInvalidOrder)
		})
	}
}

func TestOrder_HappyPathTransitions(t *testing.T) {
	o := newTestOrder(t)
	assert.True(t, o.Startable())
	for _, step := range []func(time.Time) error{o.MarkRouted, o.MarkReserved, o.MarkAuthorized, o.MarkCaptured, o.Complete} {
		require.NoError(t, step(now))
	}
	assert.Equal(t, StatusCompleted, o.Status)
	assert.True(t, o.Status.IsTerminal())
	assert.Equal(t, EventOrderCompleted, EventFor(o, now).Type)
}

func TestOrder_RejectsIllegalTransitions(t *testing.T) {
	o := newTestOrder(t)
	assert.ErrorIs(t, o.MarkAuthorized(now), ErrInvalidTransition)

	require.NoError(t, o.MarkRouted(now))
	require.NoError(t, o.MarkReserved(now))
	require.NoError(t, o.MarkAuthorized(now))
	// 授权之后不能再退回 PENDING
	assert.ErrorIs(t, o.Reset(now), ErrInvalidTransition)

	require.NoError(t, o.Cancel(ReasonPaymentCaptureFailed, now))
	assert.Equal(t, ReasonPaymentCaptureFailed, o.CancelReason)
	assert.ErrorIs(t, o.MarkRouted(now), ErrInvalidTransition)
}

func TestOrder_ReconciliationCanResolveEitherWay(t *testing.T) {
	for _, resolve := range []Status{StatusCompleted, StatusCancelled} {
		o := newTestOrder(t)
		require.NoError(t, o.MarkRouted(now))
		require.NoError(t, o.MarkReserved(now))
		require.NoError(t, o.NeedsReconciliation(now))
		assert.False(t, o.Startable())
		assert.Equal(t, EventOrderNeedsReconciliation, EventFor(o, now).Type)

		if resolve == StatusCompleted {
			require.NoError(t, o.Complete(now))
		} else {
			require.NoError(t, o.Cancel(ReasonHoldExpired, now))
		}
		assert.Equal(t, resolve, o.Status)
	}
}

func TestEventFor_ReviewTakesPrecedence(t *testing.T) {
	o := newTestOrder(t)
	o.FlagReview("captured payment without inventory", now)
	ev := EventFor(o, now)
	assert.Equal(t, EventOrderReviewRequired, ev.Type)
	assert.Equal(t, "captured payment without inventory", ev.ReviewReason)
}

func TestPaymentAttempt_TerminalStates(t *testing.T) {
	a := NewAuthorizedAttempt("o1", 2, "auth-1", decimal.NewFromInt(10), now)
	assert.Equal(t, "o1:2", a.IdempotencyKey)
	require.NoError(t, a.MarkCaptured(now))
	assert.ErrorIs(t, a.MarkVoided(now), ErrInvalidTransition)

	f := NewFailedAttempt("o1", 3, decimal.NewFromInt(10), "declined", now)
	assert.Equal(t, PaymentFailed, f.State)
	assert.ErrorIs(t, f.MarkCaptured(now), ErrInvalidTransition)
}
