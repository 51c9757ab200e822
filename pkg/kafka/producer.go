package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/ngram-language-model/pkg/config"
)

// Record is one text message. Key selects the partition; records sharing a
// key keep their relative order.
type Record struct {
	Key   string
	Value string
}

// Producer publishes text records to a Kafka topic.
type Producer struct {
	writer    *kafka.Writer
	logger    *slog.Logger
	batchSize int
}

// NewProducer creates a Producer for the given topic.
func NewProducer(cfg config.KafkaConfig, topic string) *Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		MaxAttempts:  3,
		RequiredAcks: kafka.RequireAll,
		Async:        false,
	}
	return &Producer{
		writer:    w,
		logger:    slog.Default().With("component", "kafka-producer", "topic", topic),
		batchSize: 1000,
	}
}

// Publish writes a single record synchronously.
func (p *Producer) Publish(ctx context.Context, rec Record) error {
	msg := kafka.Message{
		Key:   []byte(rec.Key),
		Value: []byte(rec.Value),
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("failed to publish message",
			"key", rec.Key,
			"error", err,
		)
		return fmt.Errorf("publishing to kafka: %w", err)
	}
	p.logger.Debug("message published",
		"key", rec.Key,
		"value_size", len(rec.Value),
	)
	return nil
}

// PublishBatch writes records in chunks of the producer's batch size and
// returns how many were written before any failure.
func (p *Producer) PublishBatch(ctx context.Context, records []Record) (int, error) {
	written := 0
	for start := 0; start < len(records); start += p.batchSize {
		end := start + p.batchSize
		if end > len(records) {
			end = len(records)
		}
		messages := make([]kafka.Message, 0, end-start)
		for _, rec := range records[start:end] {
			messages = append(messages, kafka.Message{
				Key:   []byte(rec.Key),
				Value: []byte(rec.Value),
			})
		}
		if err := p.writer.WriteMessages(ctx, messages...); err != nil {
			p.logger.Error("failed to publish batch",
				"count", len(messages),
				"written", written,
				"error", err,
			)
			return written, fmt.Errorf("publishing batch to kafka: %w", err)
		}
		written += len(messages)
	}
	p.logger.Debug("batch published", "count", written)
	return written, nil
}

// Close flushes pending writes and closes the underlying Kafka writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
