package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "orders"

// Metrics groups the collectors shared by the service, consumer and HTTP layer.
type Metrics struct {
	OrdersCreated        prometheus.Counter
	OrdersPaid           prometheus.Counter
	DuplicatePayments    prometheus.Counter
	ChargeMismatches     prometheus.Counter
	IntegrityErrors      prometheus.Counter
	DependencyErrors     *prometheus.CounterVec
	PaymentNotifications *prometheus.CounterVec
	HTTPRequests         *prometheus.CounterVec
	HTTPLatency          *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OrdersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "created_total",
			Help:      "Orders persisted.",
		}),
		OrdersPaid: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "paid_total",
			Help:      "Orders transitioned to paid by a payment confirmation.",
		}),
		DuplicatePayments: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_notifications_duplicate_total",
			Help:      "Payment confirmations for orders that were already paid.",
		}),
		ChargeMismatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_charge_mismatch_total",
			Help:      "Duplicate confirmations carrying a different charge id.",
		}),
		IntegrityErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "integrity_errors_total",
			Help:      "Payment confirmations referencing unknown orders.",
		}),
		DependencyErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dependency_errors_total",
			Help:      "Failed calls to remote services.",
		}, []string{"dependency"}),
		PaymentNotifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_notifications_total",
			Help:      "Payment notifications consumed, by outcome.",
		}, []string{"outcome"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "status"}),
		HTTPLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"method"}),
	}

	reg.MustRegister(
		m.OrdersCreated,
		m.OrdersPaid,
		m.DuplicatePayments,
		m.ChargeMismatches,
		m.IntegrityErrors,
		m.DependencyErrors,
		m.PaymentNotifications,
		m.HTTPRequests,
		m.HTTPLatency,
	)

	return m
}

// NewNop returns collectors that are not registered anywhere.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

// Handler exposes the collectors registered with g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
