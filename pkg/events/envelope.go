// Package events carries domain events between the request path and
// asynchronous consumers such as the cost log writer.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EnvelopeVersion is stamped on every envelope built by NewEnvelope.
const EnvelopeVersion = "1.0.0"

// Envelope wraps a JSON payload with routing and deduplication metadata.
type Envelope struct {
	// ID uniquely identifies this emission.
	ID string `json:"id"`

	// Type routes the event, e.g. "cost.recorded".
	Type string `json:"type"`

	// Source names the emitting component.
	Source string `json:"source"`

	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`

	// IdempotencyKey is stable across re-emissions of the same logical event.
	// Kafka messages are keyed by it.
	IdempotencyKey string `json:"idempotency_key"`

	// CorrelationID ties the event to the originating request.
	CorrelationID string `json:"correlation_id,omitempty"`

	Payload json.RawMessage `json:"payload"`
}

// NewEnvelope marshals payload into a fresh envelope.
func NewEnvelope(eventType, source, idempotencyKey string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Envelope{
		ID:             uuid.NewString(),
		Type:           eventType,
		Source:         source,
		Version:        EnvelopeVersion,
		Timestamp:      time.Now().UTC(),
		IdempotencyKey: idempotencyKey,
		Payload:        raw,
	}, nil
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// EventSink publishes envelopes to downstream consumers.
//
// Append returns an error when the event could not be handed off. Callers
// that must not lose the event are expected to fall back to a synchronous
// path on error.
type EventSink interface {
	Append(ctx context.Context, envelope Envelope) error
}

// NoOpEventSink discards every event.
type NoOpEventSink struct{}

// Append implements EventSink.
func (NoOpEventSink) Append(context.Context, Envelope) error { return nil }

// NewNoOpEventSink returns a sink that discards events.
func NewNoOpEventSink() EventSink { return NoOpEventSink{} }
