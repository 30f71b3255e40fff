package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

func (m *Metrics) registerDomain(registerer prometheus.Registerer) {
	m.salesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sales_total",
		Help:      "Committed sales by sale type.",
	}, []string{"sale_type"})
	m.salesValue = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sales_value_total",
		Help:      "Sum of committed sale totals by sale type.",
	}, []string{"sale_type"})
	m.saleRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sale_rejections_total",
		Help:      "Sales rolled back, by reason.",
	}, []string{"reason"})
	m.retries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tx_retries_total",
		Help:      "Optimistic transaction retries by operation.",
	}, []string{"operation"})
	registerer.MustRegister(m.salesTotal, m.salesValue, m.saleRejections, m.retries)
}

// SaleCreated counts a committed sale and its total.
func (m *Metrics) SaleCreated(saleType string, total decimal.Decimal) {
	if m == nil {
		return
	}
	m.salesTotal.WithLabelValues(saleType).Inc()
	m.salesValue.WithLabelValues(saleType).Add(total.InexactFloat64())
}

// SaleRejected counts a sale that did not commit.
func (m *Metrics) SaleRejected(reason string) {
	if m == nil {
		return
	}
	m.saleRejections.WithLabelValues(reason).Inc()
}

// RetryHook returns a callback for db.RetryPolicy.OnRetry labelled with
// operation.
func (m *Metrics) RetryHook(operation string) func(attempt int, err error) {
	return func(int, error) {
		if m == nil {
			return
		}
		m.retries.WithLabelValues(operation).Inc()
	}
}
