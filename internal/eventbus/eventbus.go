// Package eventbus optionally fans Orchestrator events out to Kafka, per
// spec.md §4.7's onEvent callback and the domain stack's Kafka entry.
//
// Grounded on internal/orchestrator/kafka.go/handler.go's producer usage
// (kafka.Writer, topic naming, JSON envelope marshal-then-WriteMessages)
// but repurposed from a bidirectional command/response bus into a
// one-way event publisher: there is no reply topic, no dedupe, no
// consumer loop, since an Orchestrator event has no response to wait for.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/ubix08/orix/internal/config"
)

// Envelope is the wire shape written to the configured Kafka topic.
type Envelope struct {
	SessionID string `json:"sessionId"`
	BoardID   string `json:"boardId"`
	Type      string `json:"type"`
	Payload   any    `json:"payload,omitempty"`
}

// Publisher fans events out to an external sink. Implementations must not
// block the Orchestrator's event callback for long; Kafka writes are
// fire-and-forget from the caller's perspective beyond logging failures.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
	Close() error
}

// noopPublisher is used when Kafka publishing is disabled, so the
// Orchestrator never needs to branch on whether a bus is configured.
type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, Envelope) error { return nil }
func (noopPublisher) Close() error                             { return nil }

// KafkaPublisher writes event envelopes to a single configured topic.
type KafkaPublisher struct {
	writer *kafka.Writer
	topic  string
}

// New returns a KafkaPublisher when cfg.Enabled, or a no-op Publisher
// otherwise.
func New(cfg config.KafkaConfig) Publisher {
	if !cfg.Enabled || cfg.Topic == "" || len(cfg.Brokers) == 0 {
		return noopPublisher{}
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(cfg.Brokers...),
			Topic:    cfg.Topic,
			Balancer: &kafka.LeastBytes{},
		},
		topic: cfg.Topic,
	}
}

// Publish marshals env and writes it to the configured topic, keyed by
// boardId so a consumer partitions by board.
func (p *KafkaPublisher) Publish(ctx context.Context, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("eventbus: marshal envelope: %w", err)
	}
	msg := kafka.Message{Topic: p.topic, Key: []byte(env.BoardID), Value: payload}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("eventbus: write message: %w", err)
	}
	return nil
}

// Close releases the underlying Kafka writer.
func (p *KafkaPublisher) Close() error { return p.writer.Close() }
