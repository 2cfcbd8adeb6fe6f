package kafka

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	goredis "github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeReader struct {
	mu        sync.Mutex
	pending   []kafka.Message
	committed []kafka.Message
	closed    int
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.pending) > 0 {
		m := r.pending[0]
		r.pending = r.pending[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed++
	return nil
}

func (r *fakeReader) committedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed)
}

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func eventMessage(t *testing.T, topic string, offset int64) kafka.Message {
	t.Helper()
	ev, err := NewEvent("product.price_changed", "p-1", "product", "product-service", map[string]string{"price": "24.00"})
	require.NoError(t, err)
	data, err := ev.Marshal()
	require.NoError(t, err)
	return kafka.Message{Topic: topic, Offset: offset, Value: data}
}

func runConsumer(t *testing.T, c *Consumer, reader *fakeReader, want int) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	require.Eventually(t, func() bool { return reader.committedCount() == want }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
}

// ---------------------------------------------------------------------------
// Event
// ---------------------------------------------------------------------------

func TestNewEvent_Envelope(t *testing.T) {
	ev, err := NewEvent("pricing.campaign_applied", "c-1", "pricing_campaign", "pricing-engine", map[string]int{"affected": 2})
	require.NoError(t, err)
	ev.WithCorrelationID("req-1").WithMetadata("actor", "admin")

	raw, err := ev.Marshal()
	require.NoError(t, err)
	back, err := UnmarshalEvent(raw)
	require.NoError(t, err)

	assert.NotEmpty(t, back.EventID)
	assert.Equal(t, 1, back.Version)
	assert.Equal(t, "req-1", back.CorrelationID)
	assert.Equal(t, "admin", back.Metadata["actor"])

	var data map[string]int
	require.NoError(t, back.UnmarshalData(&data))
	assert.Equal(t, 2, data["affected"])
}

func TestNewEvent_UnserializableData(t *testing.T) {
	_, err := NewEvent("x", "a", "t", "s", make(chan int))
	assert.Error(t, err)
}

func TestUnmarshalEvent_Rejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `not json`},
		{"no event type", `{"version":1,"data":{}}`},
		{"future version", `{"event_type":"x","version":2,"data":{}}`},
		{"no data", `{"event_type":"x","version":1}`},
		{"null data", `{"event_type":"x","version":1,"data":null}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UnmarshalEvent([]byte(tt.raw))
			assert.ErrorIs(t, err, ErrMalformedEvent)
		})
	}
}

func TestEvent_Headers(t *testing.T) {
	ev, err := NewEvent("pricing.campaign_reverted", "c-1", "pricing_campaign", "pricing-engine", struct{}{})
	require.NoError(t, err)
	assert.Len(t, ev.headers(), 2)

	ev.WithCorrelationID("req-9")
	h := ev.headers()
	assert.Equal(t, "req-9", NewHeaderCarrier(&h).Get("correlation_id"))
}

func TestTopic(t *testing.T) {
	assert.Equal(t, "ecommerce.pricing.campaign_applied", Topic("pricing", "campaign_applied"))
	assert.Equal(t, "ecommerce.dlq.ecommerce.product.price_changed", DLQTopic("ecommerce.product.price_changed"))
}

// ---------------------------------------------------------------------------
// Consumer
// ---------------------------------------------------------------------------

func TestConsumer_ProcessesAndCommits(t *testing.T) {
	reader := &fakeReader{pending: []kafka.Message{eventMessage(t, "t", 1), eventMessage(t, "t", 2)}}
	var handled atomic.Int32
	c := NewConsumer(ConsumerConfig{Topic: "t", GroupID: "g"}, func(_ context.Context, ev *Event) error {
		handled.Add(1)
		return nil
	}, testLogger(), WithReader(reader))

	runConsumer(t, c, reader, 2)
	assert.Equal(t, int32(2), handled.Load())
	assert.Equal(t, 1, reader.closed)
}

func TestConsumer_RetriesThenDeadLetters(t *testing.T) {
	reader := &fakeReader{pending: []kafka.Message{eventMessage(t, "ecommerce.product.price_changed", 7)}}
	writer := &fakeWriter{}
	dlq := &DLQProducer{writer: writer, logger: testLogger()}

	var attempts atomic.Int32
	c := NewConsumer(ConsumerConfig{Topic: "ecommerce.product.price_changed", GroupID: "pricing"}, func(context.Context, *Event) error {
		attempts.Add(1)
		return errors.New("campaign store unavailable")
	}, testLogger(), WithReader(reader), WithDeadLetter(dlq), WithRetryBackoff(time.Millisecond))

	runConsumer(t, c, reader, 1)
	assert.Equal(t, int32(maxHandlerRetries), attempts.Load())

	require.Len(t, writer.msgs, 1)
	dead := writer.msgs[0]
	assert.Equal(t, "ecommerce.dlq.ecommerce.product.price_changed", dead.Topic)
	carrier := NewHeaderCarrier(&dead.Headers)
	assert.Equal(t, "7", carrier.Get("dlq.original_offset"))
	assert.Equal(t, "pricing", carrier.Get("dlq.consumer_group"))
	assert.Equal(t, "campaign store unavailable", carrier.Get("dlq.error"))
	assert.NotEmpty(t, carrier.Get("dlq.failed_at"))
}

func TestConsumer_UndecodableMessageIsCommitted(t *testing.T) {
	reader := &fakeReader{pending: []kafka.Message{{Topic: "t", Value: []byte("not json")}}}
	var handled atomic.Int32
	c := NewConsumer(ConsumerConfig{Topic: "t", GroupID: "g"}, func(context.Context, *Event) error {
		handled.Add(1)
		return nil
	}, testLogger(), WithReader(reader))

	runConsumer(t, c, reader, 1)
	assert.Zero(t, handled.Load())
}

// ---------------------------------------------------------------------------
// Producer
// ---------------------------------------------------------------------------

func TestProducer_PublishKeysByAggregate(t *testing.T) {
	writer := &fakeWriter{}
	p := &Producer{writer: writer, logger: testLogger()}

	ev, err := NewEvent("pricing.campaign_reverted", "c-9", "pricing_campaign", "pricing-engine", nil)
	require.NoError(t, err)
	ev.WithCorrelationID("req-3")

	require.NoError(t, p.Publish(context.Background(), "ecommerce.pricing.campaign_reverted", ev))
	require.Len(t, writer.msgs, 1)
	msg := writer.msgs[0]
	assert.Equal(t, "c-9", string(msg.Key))
	assert.Equal(t, "pricing.campaign_reverted", NewHeaderCarrier(&msg.Headers).Get("event_type"))
	assert.Equal(t, "req-3", NewHeaderCarrier(&msg.Headers).Get("correlation_id"))
}

func TestProducer_PublishError(t *testing.T) {
	p := &Producer{writer: &fakeWriter{err: errors.New("leader not available")}, logger: testLogger()}
	ev, _ := NewEvent("x", "a", "t", "s", nil)

	err := p.Publish(context.Background(), "topic", ev)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish event to topic")
}

func TestPingBrokers_NoBrokers(t *testing.T) {
	assert.Error(t, PingBrokers(context.Background(), nil))
}

func TestHeaderCarrier(t *testing.T) {
	headers := []kafka.Header{{Key: "a", Value: []byte("1")}}
	c := NewHeaderCarrier(&headers)

	c.Set("a", "2")
	c.Set("traceparent", "00-abc")
	assert.Equal(t, "2", c.Get("a"))
	assert.Equal(t, "", c.Get("missing"))
	assert.ElementsMatch(t, []string{"a", "traceparent"}, c.Keys())
}

// ---------------------------------------------------------------------------
// Idempotency
// ---------------------------------------------------------------------------

func TestIdempotentHandler_SkipsDuplicates(t *testing.T) {
	store := NewMemoryIdempotencyStore(time.Minute)
	var calls int
	h := IdempotentHandler(store, func(context.Context, *Event) error {
		calls++
		return nil
	}, testLogger())

	before := testutil.ToFloat64(duplicateEvents.WithLabelValues("product.price_changed"))
	ev := &Event{EventID: "e-1", EventType: "product.price_changed"}
	require.NoError(t, h(context.Background(), ev))
	require.NoError(t, h(context.Background(), ev))
	require.NoError(t, h(context.Background(), &Event{}))

	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, store.Len())
	assert.Equal(t, before+1, testutil.ToFloat64(duplicateEvents.WithLabelValues("product.price_changed")))
}

func TestIdempotentHandler_FailureIsNotRecorded(t *testing.T) {
	store := NewMemoryIdempotencyStore(time.Minute)
	h := IdempotentHandler(store, func(context.Context, *Event) error {
		return errors.New("transient")
	}, testLogger())

	assert.Error(t, h(context.Background(), &Event{EventID: "e-2"}))
	seen, err := store.Contains(context.Background(), "e-2")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestMemoryIdempotencyStore_ExpiresAndSweeps(t *testing.T) {
	store := NewMemoryIdempotencyStore(time.Minute)
	now := time.Now()
	store.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, "e-1"))
	seen, _ := store.Contains(ctx, "e-1")
	assert.True(t, seen)

	now = now.Add(2 * time.Minute)
	seen, _ = store.Contains(ctx, "e-1")
	assert.False(t, seen)

	require.NoError(t, store.Add(ctx, "e-2"))
	assert.Equal(t, 1, store.Len())
}

func TestRedisIdempotencyStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := NewRedisIdempotencyStore(client, "pricing:drift", time.Hour)
	ctx := context.Background()

	seen, err := store.Contains(ctx, "e-1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, store.Add(ctx, "e-1"))
	assert.True(t, mr.Exists("pricing:drift:e-1"))

	seen, err = store.Contains(ctx, "e-1")
	require.NoError(t, err)
	assert.True(t, seen)

	mr.FastForward(2 * time.Hour)
	seen, err = store.Contains(ctx, "e-1")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestRedisIdempotencyStore_Unavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	_, err := NewRedisIdempotencyStore(client, "p", time.Minute).Contains(context.Background(), "e")
	assert.Error(t, err)
}
