// Package kafka publishes ledger events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"wallet-ledger-engine/config"
	"wallet-ledger-engine/internal/core/domain"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// Publisher implements ports.EventPublisher over a Kafka topic. Events are
// JSON encoded; wallet events are keyed by wallet uuid so that per-wallet
// ordering is preserved across partitions.
type Publisher struct {
	writer *kafka.Writer
	log    zerolog.Logger
}

// NewPublisher creates a Kafka publisher from configuration.
func NewPublisher(cfg config.KafkaConfig, log zerolog.Logger) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(cfg.Brokers...),
			Topic:    cfg.Topic,
			Balancer: &kafka.Hash{},
		},
		log: log,
	}
}

// Publish encodes and writes one event.
func (p *Publisher) Publish(ctx context.Context, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	msg := kafka.Message{Value: data}
	switch e := event.(type) {
	case domain.WalletCreatedEvent:
		msg.Key = []byte(e.WalletUUID)
	case domain.BalanceUpdatedEvent:
		msg.Key = []byte(e.WalletUUID)
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

// NopPublisher discards every event. Used when no broker is configured.
type NopPublisher struct{}

// Publish drops the event.
func (NopPublisher) Publish(context.Context, any) error {
	return nil
}
