package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

const DLQTopicPrefix = "ecommerce.dlq"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// DLQProducer parks messages a consumer gave up on. The original key, value
// and headers are kept; the failure is described in dlq.* headers.
type DLQProducer struct {
	writer messageWriter
	logger *slog.Logger
	now    func() time.Time
}

// NewDLQProducer writes synchronously with one message per batch, since dead
// letters are rare and must not sit in a buffer at shutdown.
func NewDLQProducer(brokers []string, logger *slog.Logger) *DLQProducer {
	return &DLQProducer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.LeastBytes{},
			BatchSize:    1,
			BatchTimeout: 100 * time.Millisecond,
			RequiredAcks: kafka.RequireAll,
		},
		logger: logger,
		now:    time.Now,
	}
}

func DLQTopic(originalTopic string) string {
	return DLQTopicPrefix + "." + originalTopic
}

func (d *DLQProducer) deadLetterHeaders(msg kafka.Message, cause error, group string) []kafka.Header {
	h := make([]kafka.Header, 0, len(msg.Headers)+6)
	h = append(h, msg.Headers...)
	add := func(k, v string) { h = append(h, kafka.Header{Key: "dlq." + k, Value: []byte(v)}) }
	add("original_topic", msg.Topic)
	add("original_partition", strconv.Itoa(msg.Partition))
	add("original_offset", strconv.FormatInt(msg.Offset, 10))
	add("consumer_group", group)
	now := time.Now
	if d.now != nil {
		now = d.now
	}
	add("failed_at", now().UTC().Format(time.RFC3339))
	if cause != nil {
		add("error", cause.Error())
	}
	return h
}

// Publish implements DeadLetterPublisher.
func (d *DLQProducer) Publish(ctx context.Context, msg kafka.Message, cause error, group string) error {
	topic := DLQTopic(msg.Topic)
	log := d.logger.With(
		slog.String("dlq_topic", topic),
		slog.Int64("offset", msg.Offset),
		slog.String("consumer_group", group),
	)

	err := d.writer.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: d.deadLetterHeaders(msg, cause, group),
	})
	if err != nil {
		log.ErrorContext(ctx, "dead letter publish failed", slog.String("error", err.Error()))
		return fmt.Errorf("publish to DLQ %s: %w", topic, err)
	}
	log.WarnContext(ctx, "message dead-lettered")
	return nil
}

func (d *DLQProducer) Close() error {
	return d.writer.Close()
}
