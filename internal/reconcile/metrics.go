package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	depositsCredited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_crypto_deposits_credited_total",
		Help: "Chain deposits credited to accounts",
	})

	depositsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_crypto_deposits_skipped_total",
		Help: "Chain transactions not credited, labeled by reason",
	}, []string{"reason"})

	depositWatermark = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_crypto_deposit_watermark",
		Help: "Highest chain logical time processed",
	})

	paymentChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_gateway_payment_checks_total",
		Help: "Gateway payment status checks, labeled by observed status",
	}, []string{"status"})

	paymentsSettled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_gateway_payments_settled_total",
		Help: "Gateway payments credited to accounts",
	})
)
