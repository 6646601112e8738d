// Package metrics holds the Prometheus collectors of the exchange. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "smashdex"

type Metrics struct {
	registry *prometheus.Registry

	ordersSubmitted       *prometheus.CounterVec
	ringExecutions        prometheus.Counter
	ringSize              prometheus.Histogram
	bilateralExecutions   prometheus.Counter
	settlementFailures    *prometheus.CounterVec
	restingOrders         prometheus.Gauge
	dormantOrders         prometheus.Gauge
	eventDeliveryFailures *prometheus.CounterVec
}

// New creates the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ordersSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_submitted_total",
			Help:      "Submitted orders by outcome",
		}, []string{"result"}),
		ringExecutions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ring_executions_total",
			Help:      "Committed ring settlements",
		}),
		ringSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ring_size",
			Help:      "Number of orders in committed rings",
			Buckets:   []float64{3, 4, 5, 6},
		}),
		bilateralExecutions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bilateral_executions_total",
			Help:      "Committed direct executions",
		}),
		settlementFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlement_failures_total",
			Help:      "Executions rolled back, by reason",
		}, []string{"reason"}),
		restingOrders: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "resting_orders",
			Help:      "Orders currently in the book",
		}),
		dormantOrders: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dormant_orders",
			Help:      "Conditional orders waiting for their trigger",
		}),
		eventDeliveryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_delivery_failures_total",
			Help:      "Failed event delivery attempts per subscriber",
		}, []string{"subscriber"}),
	}
	m.registry.MustRegister(
		m.ordersSubmitted,
		m.ringExecutions,
		m.ringSize,
		m.bilateralExecutions,
		m.settlementFailures,
		m.restingOrders,
		m.dormantOrders,
		m.eventDeliveryFailures,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) OrderSubmitted(result string) {
	if m == nil {
		return
	}
	m.ordersSubmitted.WithLabelValues(result).Inc()
}

func (m *Metrics) RingExecuted(size int) {
	if m == nil {
		return
	}
	m.ringExecutions.Inc()
	m.ringSize.Observe(float64(size))
}

func (m *Metrics) BilateralExecuted() {
	if m == nil {
		return
	}
	m.bilateralExecutions.Inc()
}

func (m *Metrics) SettlementFailed(reason string) {
	if m == nil {
		return
	}
	m.settlementFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) SetResting(n int) {
	if m == nil {
		return
	}
	m.restingOrders.Set(float64(n))
}

func (m *Metrics) SetDormant(n int) {
	if m == nil {
		return
	}
	m.dormantOrders.Set(float64(n))
}

func (m *Metrics) EventDeliveryFailed(subscriber string) {
	if m == nil {
		return
	}
	m.eventDeliveryFailures.WithLabelValues(subscriber).Inc()
}
