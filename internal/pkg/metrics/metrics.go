// Package metrics 定义结算核心对外暴露的 Prometheus 指标。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "checkout"

// Metrics 汇总所有业务指标。通过 New 传入不同的 Registerer，测试之间互不干扰。
type Metrics struct {
	CheckoutOutcomes      *prometheus.CounterVec
	CheckoutDuration      prometheus.Histogram
	Reservations          *prometheus.CounterVec
	LockContentionRetries prometheus.Counter
	SweeperActions        *prometheus.CounterVec
	SweepDuration         prometheus.Histogram
	EventPublishFailures  prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CheckoutOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outcomes_total",
			Help:      "Checkout attempts by final order status and cancel reason.",
		}, []string{"status", "reason"}),
		CheckoutDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "duration_seconds",
			Help:      "End-to-end checkout latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		Reservations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inventory",
			Name:      "reservations_total",
			Help:      "Hold reservations by result.",
		}, []string{"result"}),
		LockContentionRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inventory",
			Name:      "lock_contention_retries_total",
			Help:      "Ledger transactions retried after deadlock or lock wait timeout.",
		}),
		SweeperActions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "actions_total",
			Help:      "Reconciliation actions taken by the sweeper.",
		}, []string{"action"}),
		SweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of one reconciliation sweep.",
			Buckets:   prometheus.DefBuckets,
		}),
		EventPublishFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_publish_failures_total",
			Help:      "Outbound order events that could not be published.",
		}),
	}
}

// NewUnregistered 创建一组不注册到任何 Registry 的指标。
func NewUnregistered() *Metrics {
	return New(nil)
}
