package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"
)

// Handler processes one decoded envelope.
type Handler func(ctx context.Context, env Envelope) error

// Dispatcher routes Kafka messages to handlers by envelope type.
// It implements sarama.ConsumerGroupHandler. Messages are marked after
// handling whether or not the handler succeeded; a failing message is
// logged and skipped rather than blocking the partition.
type Dispatcher struct {
	handlers map[string]Handler
	logger   *slog.Logger
}

// NewDispatcher returns an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string]Handler),
		logger:   slog.Default().With("component", "event_dispatcher"),
	}
}

// Handle registers h for eventType, replacing any previous handler.
func (d *Dispatcher) Handle(eventType string, h Handler) { d.handlers[eventType] = h }

// Setup implements sarama.ConsumerGroupHandler.
func (d *Dispatcher) Setup(sarama.ConsumerGroupSession) error { return nil }

// Cleanup implements sarama.ConsumerGroupHandler.
func (d *Dispatcher) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim implements sarama.ConsumerGroupHandler.
func (d *Dispatcher) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := d.Dispatch(sess.Context(), msg); err != nil {
				d.logger.Error("event handling failed",
					"topic", msg.Topic,
					"partition", msg.Partition,
					"offset", msg.Offset,
					"error", err)
			}
			sess.MarkMessage(msg, "")
		case <-sess.Context().Done():
			return nil
		}
	}
}

// Dispatch decodes msg and runs its handler. Unknown types are ignored.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var env Envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	h, ok := d.handlers[env.Type]
	if !ok {
		d.logger.Debug("no handler for event type", "type", env.Type)
		return nil
	}
	return h(ctx, env)
}

// Consume joins group and dispatches until ctx ends or the group closes.
func Consume(ctx context.Context, group sarama.ConsumerGroup, topics []string, d *Dispatcher) error {
	for {
		if err := group.Consume(ctx, topics, d); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			return fmt.Errorf("consume %v: %w", topics, err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// NewConsumerGroup joins groupID on brokers, starting from the oldest
// offset when the group has no commit.
func NewConsumerGroup(cfg KafkaConfig, groupID string) (sarama.ConsumerGroup, error) {
	cfg = cfg.withDefaults()

	sc := sarama.NewConfig()
	sc.ClientID = cfg.ClientID
	sc.Version = sarama.V3_6_0_0
	sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	sc.Consumer.Return.Errors = true

	g, err := sarama.NewConsumerGroup(cfg.Brokers, groupID, sc)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer group %s: %w", groupID, err)
	}
	return g, nil
}
