package domain

// Status 定义订单在结算流程中的生命周期状态。
type Status string

const (
	StatusPending             Status = "PENDING"
	StatusRouted              Status = "ROUTED"
	StatusReserved            Status = "RESERVED"
	StatusAuthorized          Status = "AUTHORIZED"
	StatusCaptured            Status = "CAPTURED"
	StatusCompleted           Status = "COMPLETED"
	StatusCancelled           Status = "CANCELLED"
	StatusNeedsReconciliation Status = "NEEDS_RECONCILIATION" // 扣款与库存提交之间状态不明，交给清扫器
)

// CancelReason 说明订单被取消的原因。
type CancelReason string

const (
	ReasonNone                 CancelReason = ""
	ReasonLocationUnavailable  CancelReason = "LOCATION_UNAVAILABLE"
	ReasonInsufficientStock    CancelReason = "INSUFFICIENT_INVENTORY"
	ReasonPaymentDeclined      CancelReason = "PAYMENT_DECLINED"
	ReasonPaymentCaptureFailed CancelReason = "PAYMENT_CAPTURE_FAILED"
	ReasonHoldExpired          CancelReason = "HOLD_EXPIRED"
)

var transitions = map[Status][]Status{
	StatusPending:             {StatusRouted, StatusCancelled},
	StatusRouted:              {StatusRouted, StatusReserved, StatusPending, StatusCancelled},
	StatusReserved:            {StatusAuthorized, StatusPending, StatusCancelled, StatusNeedsReconciliation},
	StatusAuthorized:          {StatusCaptured, StatusCancelled, StatusNeedsReconciliation},
	StatusCaptured:            {StatusCompleted, StatusNeedsReconciliation},
	StatusNeedsReconciliation: {StatusCompleted, StatusCancelled},
}

func (s Status) canTransitionTo(next Status) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// PlanCommitted 表示库存已按保存的分配预留过，不能再重新路由。
func (s Status) PlanCommitted() bool {
	switch s {
	case StatusReserved, StatusAuthorized, StatusCaptured, StatusCompleted, StatusNeedsReconciliation:
		return true
	}
	return false
}

// IsTerminal 表示结算流程已经结束，不会再被请求路径推进。
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}
