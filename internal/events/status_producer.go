package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/CodingDoug/universal-translator/internal/pipeline"
	"github.com/CodingDoug/universal-translator/internal/recording"
)

const (
	StatusCompleted = "recording.completed"
	StatusFailed    = "recording.failed"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// StatusProducer publishes terminal record states to Kafka.
type StatusProducer struct {
	writer messageWriter
}

func NewStatusProducer(brokers []string, topic string) *StatusProducer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	return &StatusProducer{writer: writer}
}

// PublishStatus keys messages by record id so events of one record stay
// ordered within a partition.
func (p *StatusProducer) PublishStatus(ctx context.Context, event pipeline.StatusEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	eventType := StatusCompleted
	if event.State == recording.StateFailed {
		eventType = StatusFailed
	}

	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(event.RecordID),
		Value:   payload,
		Headers: []kafka.Header{{Key: "type", Value: []byte(eventType)}},
		Time:    time.Now(),
	})
}

func (p *StatusProducer) Close() error {
	return p.writer.Close()
}
