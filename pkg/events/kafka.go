package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
)

// messageWriter is the part of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes events as JSON, keyed by stream so that the events of
// one order land on one partition in order.
type KafkaSink struct {
	writer messageWriter
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

func (k *KafkaSink) Deliver(ctx context.Context, e Event) error {
	value, err := json.Marshal(e)
	if err != nil {
		return backoff.Permanent(err)
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.StreamKey()),
		Value: value,
	})
}

func (k *KafkaSink) Close() error {
	return k.writer.Close()
}
