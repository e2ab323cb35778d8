package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BusinessMetrics holds Prometheus metrics for business-level
// observability of the checkout and restart flows.
type BusinessMetrics struct {
	// Checkout funnel
	CheckoutRequests  *prometheus.CounterVec
	CheckoutItems     *prometheus.CounterVec
	CheckoutItemValue *prometheus.HistogramVec

	// Charges
	ChargeAttempts  *prometheus.CounterVec
	ChargeOutcomes  *prometheus.CounterVec
	ChargeDeclines  *prometheus.CounterVec
	ChallengeRaised *prometheus.CounterVec
	ChallengeResult *prometheus.CounterVec

	// Orders
	OrdersCreated  *prometheus.CounterVec
	OrderValue     *prometheus.HistogramVec
	OrderItemCount *prometheus.HistogramVec

	// Subscription restarts
	RestartAttempts  *prometheus.CounterVec
	RestartOutcomes  *prometheus.CounterVec
	RestartRollbacks *prometheus.CounterVec
	RestartBlocked   *prometheus.CounterVec

	// Carts
	CartsConverted *prometheus.CounterVec

	// Notifications
	NotificationsSent       *prometheus.CounterVec
	NotificationsSuppressed *prometheus.CounterVec

	// Item panics isolated by the per-item recover
	ItemPanics *prometheus.CounterVec
}

// NewBusinessMetrics creates and registers all business metrics.
func NewBusinessMetrics(namespace string) *BusinessMetrics {
	if namespace == "" {
		namespace = "saga"
	}

	subsystem := "business"

	m := &BusinessMetrics{
		CheckoutRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "checkout_requests_total",
				Help:      "Total checkout calls received",
			},
			[]string{"buyer_type"}, // buyer_type: account, guest
		),
		CheckoutItems: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "checkout_items_total",
				Help:      "Total line items processed, by resolution path",
			},
			[]string{"path"}, // path: fresh, restart, rejected
		),
		CheckoutItemValue: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "checkout_item_value_cents",
				Help:      "Line item value distribution in cents",
				Buckets:   []float64{500, 1000, 2500, 5000, 10000, 25000, 50000, 100000},
			},
			[]string{"path"},
		),

		ChargeAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "charge_attempts_total",
				Help:      "Total charges issued to processors",
			},
			[]string{"processor", "off_session"},
		),
		ChargeOutcomes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "charge_outcomes_total",
				Help:      "Charge results by normalized status",
			},
			[]string{"processor", "status"}, // status: succeeded, requires_action, failed
		),
		ChargeDeclines: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "charge_declines_total",
				Help:      "Declined charges by processor subcode",
			},
			[]string{"processor", "subcode"},
		),
		ChallengeRaised: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "challenges_raised_total",
				Help:      "Charges that required buyer authentication",
			},
			[]string{"processor", "origin"}, // origin: fresh, restart
		),
		ChallengeResult: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "challenge_results_total",
				Help:      "Confirmation outcomes after buyer authentication",
			},
			[]string{"processor", "status"},
		),

		OrdersCreated: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "orders_created_total",
				Help:      "Total orders persisted",
			},
			[]string{"buyer_type"},
		),
		OrderValue: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "order_value_cents",
				Help:      "Order value distribution in cents",
				Buckets:   []float64{1000, 2500, 5000, 10000, 25000, 50000, 100000, 250000},
			},
			[]string{"buyer_type"},
		),
		OrderItemCount: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "order_item_count",
				Help:      "Number of purchases per order",
				Buckets:   []float64{1, 2, 3, 5, 10, 15, 20},
			},
			[]string{"buyer_type"},
		),

		RestartAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "restart_attempts_total",
				Help:      "Subscription restart attempts",
			},
			[]string{"processor"},
		),
		RestartOutcomes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "restart_outcomes_total",
				Help:      "Restart results by normalized status",
			},
			[]string{"status"}, // status: revived, pending_confirmation, failed
		),
		RestartRollbacks: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "restart_rollbacks_total",
				Help:      "Restarts unwound after a failed charge",
			},
			[]string{"processor"},
		),
		RestartBlocked: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "restart_blocked_total",
				Help:      "Restarts rejected by a precondition",
			},
			[]string{"reason"}, // reason: seller_cancelled, product_deleted, plan_complete
		),

		CartsConverted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "carts_converted_total",
				Help:      "Carts closed after checkout",
			},
			[]string{"reason"}, // reason: order_linked, all_succeeded
		),

		NotificationsSent: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "notifications_sent_total",
				Help:      "Notifications handed to the broker",
			},
			[]string{"kind"},
		),
		NotificationsSuppressed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "notifications_suppressed_total",
				Help:      "Notifications silenced by the dedupe window",
			},
			[]string{"kind"},
		),

		ItemPanics: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "item_panics_total",
				Help:      "Panics recovered while processing a single line item",
			},
			[]string{"path"},
		),
	}

	return m
}

// Global instance for easy access from handlers
var Business *BusinessMetrics

// InitBusinessMetrics initializes the global business metrics instance
func InitBusinessMetrics(namespace string) *BusinessMetrics {
	Business = NewBusinessMetrics(namespace)
	return Business
}
