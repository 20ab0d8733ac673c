package events

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaProducer publishes portfolio events to one Kafka topic, keyed by
// account so per-account ordering is preserved within a partition.
type KafkaProducer struct {
	writer *kafka.Writer
}

// NewKafkaProducer constructs a producer for the given brokers and topic.
func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 200 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return &KafkaProducer{writer: w}
}

// Publish writes one event message.
func (p *KafkaProducer) Publish(ctx context.Context, key string, data []byte) error {
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: data,
	})
}

// Close flushes and closes the underlying writer.
func (p *KafkaProducer) Close() error { return p.writer.Close() }
