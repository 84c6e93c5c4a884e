// Package publish fans persisted activities out to Kafka.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"cloudproof/internal/ingest"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of *kafka.Writer used by the sink.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink is an ingest.ActivitySink publishing each activity as a JSON message
// keyed by user id, so all activities of a user land on one partition.
type KafkaSink struct {
	writer MessageWriter
}

// Publish writes the activities as one batch.
func (s *KafkaSink) Publish(ctx context.Context, activities []ingest.Activity) error {
	if len(activities) == 0 {
		return nil
	}

	messages := make([]kafka.Message, 0, len(activities))
	for _, activity := range activities {
		value, err := json.Marshal(activity)
		if err != nil {
			return fmt.Errorf("encode activity: %w", err)
		}
		messages = append(messages, kafka.Message{
			Key:   []byte(strconv.FormatInt(activity.UserID, 10)),
			Value: value,
		})
	}

	if err := s.writer.WriteMessages(ctx, messages...); err != nil {
		return fmt.Errorf("publish %d activities: %w", len(messages), err)
	}
	return nil
}

// Close closes the writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

// NewKafkaSink creates a sink writing to topic on brokers.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return NewKafkaSinkWithWriter(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		WriteTimeout:           10 * time.Second,
		ReadTimeout:            10 * time.Second,
		MaxAttempts:            3,
	})
}

// NewKafkaSinkWithWriter creates a sink over an existing writer.
func NewKafkaSinkWithWriter(writer MessageWriter) *KafkaSink {
	return &KafkaSink{writer: writer}
}
