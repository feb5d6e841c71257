package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/corefold/eventsourcing"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var _ eventsourcing.EventBus = (*EventBus)(nil)

// message is the wire format published to the topic. Field values travel
// in their JSON forms; consumers that share the event type definitions
// rebuild typed events with NewStoredEvent.
type message struct {
	EventID           uuid.UUID      `json:"event_id"`
	StreamID          string         `json:"stream_id"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	EventName         string         `json:"event_name"`
	OriginatorID      uuid.UUID      `json:"originator_id"`
	OriginatorVersion uint64         `json:"originator_version"`
	GlobalVersion     uint64         `json:"global_version"`
	Timestamp         time.Time      `json:"timestamp"`
	Fields            map[string]any `json:"fields,omitempty"`
}

// EventBus publishes stored events to a Kafka topic. Messages are keyed by
// stream id so one stream's events stay ordered within a partition.
type EventBus struct {
	writer *kafkago.Writer
}

func NewEventBus(brokers []string, topic string) *EventBus {
	return &EventBus{
		writer: &kafkago.Writer{
			Addr:         kafkago.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafkago.LeastBytes{},
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

func (b *EventBus) Dispatch(ctx context.Context, env *eventsourcing.Envelope) error {
	ev := env.Event
	payload, err := json.Marshal(message{
		EventID:           env.EventID,
		StreamID:          env.StreamID,
		Metadata:          env.Metadata,
		EventName:         ev.Name(),
		OriginatorID:      ev.OriginatorID(),
		OriginatorVersion: ev.OriginatorVersion(),
		GlobalVersion:     env.GlobalVersion,
		Timestamp:         ev.Timestamp(),
		Fields:            ev.Fields(),
	})
	if err != nil {
		return fmt.Errorf("marshal event %q: %w", ev.Name(), err)
	}

	err = b.writer.WriteMessages(ctx, kafkago.Message{
		Key:   []byte(env.StreamID),
		Value: payload,
		Time:  env.OccurredAt,
	})
	if err != nil {
		return fmt.Errorf("publish event %q to %s: %w", ev.Name(), b.writer.Topic, err)
	}
	return nil
}

func (b *EventBus) Close() error {
	return b.writer.Close()
}
