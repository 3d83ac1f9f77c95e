/*
Package metrics exposes the engine's prometheus collectors.

The unreconciled-transactions counter is the alarm surface for the one
partial state the engine cannot clean up on its own (delivered but not
journaled); it should be wired to a paging alert, not a dashboard.
*/
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kasa/datavend/core"
)

// Metrics holds the engine's collectors and implements core.AlarmSink.
type Metrics struct {
	Purchases    *prometheus.CounterVec
	Fulfillment  *prometheus.CounterVec
	Unreconciled prometheus.Counter

	log *zap.Logger
}

// New registers the collectors on reg and returns the set.
func New(reg prometheus.Registerer, log *zap.Logger) *Metrics {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Metrics{
		Purchases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "datavend_purchases_total",
			Help: "Purchase attempts by funding path and outcome.",
		}, []string{"path", "outcome"}),
		Fulfillment: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "datavend_fulfillment_calls_total",
			Help: "Calls to the provisioning provider by outcome.",
		}, []string{"outcome"}),
		Unreconciled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "datavend_unreconciled_transactions_total",
			Help: "Journal writes that failed after money moved and data was delivered. Requires manual reconciliation.",
		}),
		log: log,
	}
	reg.MustRegister(m.Purchases, m.Fulfillment, m.Unreconciled)
	return m
}

// RaiseUnreconciled implements core.AlarmSink.
func (m *Metrics) RaiseUnreconciled(rec core.TransactionRecord, cause error) {
	m.Unreconciled.Inc()
	m.log.Error("UNRECONCILED TRANSACTION - manual intervention required",
		zap.String("transaction_id", rec.ID),
		zap.String("account", string(rec.AccountID)),
		zap.String("amount", rec.Amount.StringFixed(2)),
		zap.String("fulfillment_ref", rec.FulfillmentRef),
		zap.String("payment_ref", rec.PaymentRef),
		zap.Error(cause))
}

// RecordPurchase counts a purchase attempt outcome.
func (m *Metrics) RecordPurchase(path core.PaymentMode, outcome string) {
	m.Purchases.WithLabelValues(string(path), outcome).Inc()
}

// RecordFulfillment counts a provisioning call outcome.
func (m *Metrics) RecordFulfillment(outcome string) {
	m.Fulfillment.WithLabelValues(outcome).Inc()
}
