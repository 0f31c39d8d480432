package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/minio/minio-go/v7/pkg/notification"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var ErrEmptyNotification = errors.New("bucket notification carries no records")

// blobMessage is the payload the MinIO Kafka target publishes per event.
type blobMessage struct {
	EventName string               `json:"EventName"`
	Key       string               `json:"Key"`
	Records   []notification.Event `json:"Records"`
}

func DecodeBlobMessage(value []byte) ([]notification.Event, error) {
	var msg blobMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal bucket notification: %w", err)
	}
	if len(msg.Records) == 0 {
		return nil, ErrEmptyNotification
	}
	return msg.Records, nil
}

// KafkaBlobConsumer reads bucket notifications from a Kafka topic. Offsets
// are committed only after every event of a message was handled.
type KafkaBlobConsumer struct {
	reader     *kafka.Reader
	dispatcher *Dispatcher
	logger     *zap.Logger
	topic      string
	groupID    string
}

func NewKafkaBlobConsumer(brokers []string, topic, groupID string, dispatcher *Dispatcher, logger *zap.Logger) *KafkaBlobConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})

	return &KafkaBlobConsumer{
		reader:     reader,
		dispatcher: dispatcher,
		logger:     logger.With(zap.String("component", "kafka_blob_consumer")),
		topic:      topic,
		groupID:    groupID,
	}
}

// Start reads messages until ctx is cancelled.
func (c *KafkaBlobConsumer) Start(ctx context.Context) error {
	c.logger.Info("kafka consumer started", zap.String("topic", c.topic), zap.String("group", c.groupID))

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("read message", zap.Error(err))
			continue
		}

		if err := c.handleMessage(ctx, msg.Value); err != nil && ctx.Err() != nil {
			// leave the offset uncommitted so the message is redelivered
			return ctx.Err()
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("commit message", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

// handleMessage dispatches every record of a message concurrently. Handler
// failures are logged; the first one is returned.
func (c *KafkaBlobConsumer) handleMessage(ctx context.Context, value []byte) error {
	records, err := DecodeBlobMessage(value)
	if err != nil {
		c.logger.Warn("dropping undecodable message", zap.Error(err))
		return nil
	}

	var g errgroup.Group
	for _, ev := range records {
		g.Go(func() error {
			if err := c.dispatcher.Dispatch(ctx, ev); err != nil {
				c.logger.Error("handle bucket event",
					zap.String("event", ev.EventName),
					zap.String("object", ev.S3.Object.Key),
					zap.Error(err),
				)
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

func (c *KafkaBlobConsumer) Close() error {
	return c.reader.Close()
}
