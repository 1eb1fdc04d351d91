package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/segmentio/kafka-go"
)

// messageWriter is the part of kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes events as JSON messages keyed by session ID so a
// session's events stay ordered within a partition.
type KafkaSink struct {
	w messageWriter
}

func newKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		Async:        true,
		BatchTimeout: 50 * time.Millisecond,
	}
}

// NewKafkaSink creates a sink writing to topic on brokers. Writes are
// asynchronous so publishing never stalls the tick loop.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{w: newKafkaWriter(brokers, topic)}
}

func (k *KafkaSink) Publish(ctx context.Context, events ...Event) error {
	msgs := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		b, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(e.SessionID),
			Value: b,
			Time:  eventTime(e),
			Headers: []kafka.Header{
				{Key: "kind", Value: []byte(e.Kind)},
			},
		})
	}
	if err := k.w.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka write failed: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (k *KafkaSink) Close() error {
	return k.w.Close()
}

// Configured sets up the event publisher. Events always go to the log and
// additionally to Kafka when brokers are configured.
func Configured() *Publisher {
	brokers := lflag.String("kafka-brokers", "", "comma-delimited Kafka brokers for session events (empty disables)")
	topic := lflag.String("kafka-topic", "ups-twin-events", "Kafka topic for session events")

	p := &Publisher{}

	lflag.Do(func() {
		p.sinks = []Sink{LogSink{}}
		if *brokers == "" {
			return
		}
		var list []string
		for _, b := range strings.Split(*brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				list = append(list, b)
			}
		}
		k := NewKafkaSink(list, *topic)
		p.sinks = append(p.sinks, k)
		p.closer = k.Close
	})

	return p
}
