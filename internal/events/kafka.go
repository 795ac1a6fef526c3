package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// messageWriter is the subset of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes every event to one topic, keyed by the event key so all
// events of an attempt land on the same partition.
type KafkaSink struct {
	writer messageWriter
	topic  string
}

// NewKafkaSink creates a synchronous, hash-balanced producer.
func NewKafkaSink(brokers []string, topic, compression string) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("events/kafka: brokers are required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Compression:  parseCompression(compression),
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		BatchTimeout: 50 * time.Millisecond,
	}
	return &KafkaSink{writer: w, topic: topic}, nil
}

// Name implements Sink.
func (k *KafkaSink) Name() string { return "kafka" }

// Deliver implements Sink.
func (k *KafkaSink) Deliver(ctx context.Context, ev domain.Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events/kafka: marshal: %w", err)
	}
	key := ev.Key
	if key == "" {
		key = ev.ID
	}
	msg := kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  ev.At,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(ev.Kind)},
			{Key: "event_id", Value: []byte(ev.ID)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("events/kafka: write %s: %w", k.topic, err)
	}
	return nil
}

// Close flushes and closes the producer.
func (k *KafkaSink) Close() error {
	return k.writer.Close()
}

func parseCompression(s string) kafka.Compression {
	switch s {
	case "gzip":
		return kafka.Gzip
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Snappy
	}
}
