package events

import (
	"context"
	"encoding/json"

	"github.com/example/mealdelivery/pkg/config"
	"github.com/example/mealdelivery/pkg/models"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// MessageWriter is the part of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer MessageWriter
}

func NewKafkaWriter(cfg *config.KafkaConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: kafka.RequireAll,
	}
}

func NewKafkaPublisher(writer MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: writer}
}

// Publish keys the message by order id so all events of an order land on
// one partition, and carries the trace context of the request that wrote
// the event in the headers.
func (p *KafkaPublisher) Publish(ctx context.Context, event models.OutboxEvent) error {
	carrier := storedCarrier(event)
	ctx = otel.GetTextMapPropagator().Extract(ctx, carrier)

	headers := []kafka.Header{
		{Key: "event-type", Value: []byte(event.Type)},
		{Key: "event-id", Value: []byte(event.ID)},
	}
	for k, v := range carrier {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(event.AggregateID),
		Value:   []byte(event.Payload),
		Headers: headers,
		Time:    event.CreatedAt,
	})
}

// storedCarrier decodes the trace context saved with the event. A malformed
// value yields an empty carrier; the event is still published.
func storedCarrier(event models.OutboxEvent) propagation.MapCarrier {
	carrier := propagation.MapCarrier{}
	if event.TraceContext == "" {
		return carrier
	}
	if err := json.Unmarshal([]byte(event.TraceContext), &carrier); err != nil {
		return propagation.MapCarrier{}
	}
	return carrier
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// LogPublisher stands in when no broker is configured; events are marked
// published after being logged.
type LogPublisher struct {
	Log func(event models.OutboxEvent)
}

func (p LogPublisher) Publish(_ context.Context, event models.OutboxEvent) error {
	if p.Log != nil {
		p.Log(event)
	}
	return nil
}

