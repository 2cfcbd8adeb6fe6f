package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Operation outcomes.
const (
	outcomeSuccess  = "success"
	outcomeRejected = "rejected"
	outcomeFailed   = "failed"
)

// Batch write outcomes.
const (
	batchSuccess   = "success"
	batchRetry     = "retry"
	batchExhausted = "exhausted"
)

var (
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricing_campaign_operations_total",
			Help: "Campaign operations by outcome",
		},
		[]string{"operation", "outcome"},
	)

	batchWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricing_campaign_batch_writes_total",
			Help: "Sale price batch write attempts by campaign phase and outcome",
		},
		[]string{"phase", "outcome"},
	)

	campaignActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pricing_campaign_active",
		Help: "1 while a campaign holds store prices, 0 when idle",
	})
)
