package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/KafClaw/agentcore/internal/timeline"
	"github.com/segmentio/kafka-go"
)

// messageWriter is the part of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes events as JSON to a Kafka topic, keyed by session id
// so one session's events stay ordered within a partition.
type KafkaSink struct {
	topic   string
	writer  messageWriter
	timeout time.Duration
}

// NewKafkaSink creates a sink for a comma-separated broker list.
func NewKafkaSink(brokers, topic string, sec KafkaSecurity) (*KafkaSink, error) {
	addrs := splitBrokers(brokers)
	if len(addrs) == 0 {
		return nil, fmt.Errorf("kafka sink: no brokers configured")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka sink: no topic configured")
	}
	transport, err := sec.Transport(10 * time.Second)
	if err != nil {
		return nil, fmt.Errorf("kafka sink: %w", err)
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(addrs...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		Transport:              transport,
	}
	return &KafkaSink{topic: topic, writer: w, timeout: 10 * time.Second}, nil
}

func (k *KafkaSink) Name() string { return "kafka:" + k.topic }

// Write produces one message, retrying leader changes.
func (k *KafkaSink) Write(ctx context.Context, evt Event) error {
	value, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	msg := kafka.Message{
		Key:     []byte(evt.SessionID),
		Value:   value,
		Headers: []kafka.Header{{Key: "event_type", Value: []byte(evt.Type)}},
		Time:    evt.Timestamp,
	}

	var writeErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * 500 * time.Millisecond
			slog.Debug("Kafka produce retry", "topic", k.topic, "attempt", attempt, "backoff", backoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
		writeCtx, cancel := context.WithTimeout(ctx, k.timeout)
		writeErr = k.writer.WriteMessages(writeCtx, msg)
		cancel()
		if writeErr == nil {
			return nil
		}
		if !errors.Is(writeErr, kafka.NotLeaderForPartition) && !errors.Is(writeErr, kafka.LeaderNotAvailable) {
			break
		}
	}
	return fmt.Errorf("kafka produce: %w", writeErr)
}

// Close flushes and closes the writer.
func (k *KafkaSink) Close() error {
	return k.writer.Close()
}

// EventStore persists lifecycle events. *timeline.TimelineService
// implements it.
type EventStore interface {
	AddEvent(ctx context.Context, evt *timeline.AgentEvent) error
}

// StoreSink records events in the local event log. Text deltas are not
// stored.
type StoreSink struct {
	Store EventStore
}

func (s StoreSink) Name() string { return "timeline" }

func (s StoreSink) Write(ctx context.Context, evt Event) error {
	if evt.Type == EventText {
		return nil
	}
	return s.Store.AddEvent(ctx, &timeline.AgentEvent{
		SessionID: evt.SessionID,
		RunID:     evt.RunID,
		EventType: string(evt.Type),
		Detail:    detail(evt),
		CreatedAt: evt.Timestamp,
	})
}

func detail(evt Event) string {
	d := map[string]any{}
	if evt.Turn > 0 {
		d["turn"] = evt.Turn
	}
	if evt.ToolName != "" {
		d["tool"] = evt.ToolName
	}
	if evt.ToolCallID != "" {
		d["tool_call_id"] = evt.ToolCallID
	}
	if evt.IsError {
		d["is_error"] = true
	}
	if evt.Reason != "" {
		d["reason"] = evt.Reason
	}
	for k, v := range evt.Data {
		d[k] = v
	}
	if len(d) == 0 {
		return ""
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return ""
	}
	return string(raw)
}
