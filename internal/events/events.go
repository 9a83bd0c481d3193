// Package events publishes purchase events for downstream consumers
// (fulfilment mail, analytics).
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mbd888/blueprintstore/internal/logging"
	"github.com/mbd888/blueprintstore/internal/metrics"
	"github.com/mbd888/blueprintstore/internal/payments"
	"github.com/segmentio/kafka-go"
)

// TypePurchaseCompleted is the event type for a completed purchase.
const TypePurchaseCompleted = "purchase.completed"

// PurchaseEvent is the message body published for a completed purchase.
type PurchaseEvent struct {
	Type        string    `json:"type"`
	IntentID    string    `json:"intentId"`
	BlueprintID string    `json:"blueprintId"`
	Amount      int64     `json:"amount"`
	Currency    string    `json:"currency"`
	CompletedAt time.Time `json:"completedAt"`
}

// Publisher sends purchase events.
type Publisher interface {
	Publish(ctx context.Context, ev PurchaseEvent) error
	Close() error
}

// NopPublisher drops every event. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, PurchaseEvent) error { return nil }
func (NopPublisher) Close() error                                 { return nil }

// messageWriter is the part of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events to a Kafka topic keyed by intent id, so all
// events of one payment land on the same partition.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
}

var _ Publisher = (*KafkaPublisher)(nil)

// NewKafkaPublisher creates a publisher for brokers and topic.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		WriteTimeout:           10 * time.Second,
	}
	return &KafkaPublisher{writer: w, topic: topic}
}

func newKafkaPublisherWithWriter(w messageWriter, topic string) *KafkaPublisher {
	return &KafkaPublisher{writer: w, topic: topic}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev PurchaseEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.IntentID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(ev.Type)},
		},
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Listener publishes a PurchaseEvent for every completed payment.
type Listener struct {
	publisher Publisher
}

var _ payments.CompletionListener = (*Listener)(nil)

// NewListener creates a completion listener that publishes to p.
func NewListener(p Publisher) *Listener {
	return &Listener{publisher: p}
}

// PaymentCompleted implements payments.CompletionListener.
func (l *Listener) PaymentCompleted(ctx context.Context, rec *payments.Record) {
	ev := PurchaseEvent{
		Type:        TypePurchaseCompleted,
		IntentID:    rec.IntentID,
		BlueprintID: rec.BlueprintID,
		Amount:      rec.Amount,
		Currency:    rec.Currency,
		CompletedAt: time.Now().UTC(),
	}
	if rec.CompletedAt != nil {
		ev.CompletedAt = *rec.CompletedAt
	}
	if err := l.publisher.Publish(ctx, ev); err != nil {
		metrics.SideEffectFailuresTotal.WithLabelValues("event_publish").Inc()
		logging.L(ctx).Error("failed to publish purchase event",
			"intent_id", rec.IntentID, "error", err)
	}
}
