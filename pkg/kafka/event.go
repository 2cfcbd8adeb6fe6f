package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// EnvelopeVersion is the only envelope layout this package writes or accepts.
const EnvelopeVersion = 1

// ErrMalformedEvent is wrapped by UnmarshalEvent for payloads that decode as
// JSON but are not usable envelopes. The consumer dead-letters them.
var ErrMalformedEvent = errors.New("malformed event envelope")

// Event is the envelope every message on the bus is wrapped in. AggregateID
// doubles as the partition key, so events of one campaign stay ordered.
type Event struct {
	EventID       string            `json:"event_id"`
	EventType     string            `json:"event_type"`
	AggregateID   string            `json:"aggregate_id"`
	AggregateType string            `json:"aggregate_type"`
	Version       int               `json:"version"`
	Timestamp     time.Time         `json:"timestamp"`
	Source        string            `json:"source"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Data          json.RawMessage   `json:"data"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// NewEvent marshals data into a fresh envelope stamped with a random id and
// the current UTC time.
func NewEvent(eventType, aggregateID, aggregateType, source string, data any) (*Event, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return &Event{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		Version:       EnvelopeVersion,
		Timestamp:     time.Now().UTC(),
		Source:        source,
		Data:          payload,
	}, nil
}

func (e *Event) WithCorrelationID(id string) *Event {
	e.CorrelationID = id
	return e
}

func (e *Event) WithMetadata(key, value string) *Event {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string, 1)
	}
	e.Metadata[key] = value
	return e
}

// Validate reports the first envelope field a consumer cannot work without.
func (e *Event) Validate() error {
	switch {
	case e.EventType == "":
		return fmt.Errorf("%w: event_type is empty", ErrMalformedEvent)
	case e.Version != EnvelopeVersion:
		return fmt.Errorf("%w: unsupported version %d", ErrMalformedEvent, e.Version)
	case len(e.Data) == 0 || string(e.Data) == "null":
		return fmt.Errorf("%w: %s has no data", ErrMalformedEvent, e.EventType)
	}
	return nil
}

func (e *Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// headers projects the routing fields onto Kafka headers so consumers and the
// DLQ tooling can filter without decoding the body.
func (e *Event) headers() []kafka.Header {
	h := []kafka.Header{
		{Key: "event_type", Value: []byte(e.EventType)},
		{Key: "source", Value: []byte(e.Source)},
	}
	if e.CorrelationID != "" {
		h = append(h, kafka.Header{Key: "correlation_id", Value: []byte(e.CorrelationID)})
	}
	return h
}

// UnmarshalEvent decodes and validates an envelope.
func UnmarshalEvent(raw []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

// UnmarshalData decodes the payload into target.
func (e *Event) UnmarshalData(target any) error {
	if err := json.Unmarshal(e.Data, target); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.EventType, err)
	}
	return nil
}
