package kafka

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Consumer outcomes. Received is counted on fetch; every received message
// then ends in exactly one of processed, failed or undecodable.
const (
	outcomeReceived     = "received"
	outcomeProcessed    = "processed"
	outcomeFailed       = "failed"
	outcomeUndecodable  = "undecodable"
	outcomeDeadLettered = "dead_lettered"
)

// Producer outcomes.
const (
	outcomePublished = "published"
	outcomeError     = "error"
)

var (
	consumerMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_consumer_messages_total",
			Help: "Kafka messages seen by consumers, by outcome",
		},
		[]string{"topic", "consumer_group", "outcome"},
	)

	consumerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_consumer_processing_duration_seconds",
			Help:    "Handler time per Kafka message, retries included",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"topic", "consumer_group"},
	)

	duplicateEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_consumer_duplicate_events_total",
			Help: "Events skipped by the idempotency guard",
		},
		[]string{"event_type"},
	)

	producerMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_producer_messages_total",
			Help: "Kafka publish attempts, by outcome",
		},
		[]string{"topic", "outcome"},
	)

	producerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_producer_publish_duration_seconds",
			Help:    "Duration of Kafka publish operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"topic"},
	)
)
