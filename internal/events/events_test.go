package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/mbd888/blueprintstore/internal/metrics"
	"github.com/mbd888/blueprintstore/internal/payments"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisher_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := newKafkaPublisherWithWriter(w, "blueprint.purchases")

	at := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	err := p.Publish(context.Background(), PurchaseEvent{
		Type:        TypePurchaseCompleted,
		IntentID:    "pi_1",
		BlueprintID: "lead-generation-system",
		Amount:      9700,
		Currency:    "eur",
		CompletedAt: at,
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "pi_1", string(msg.Key))
	var ev PurchaseEvent
	require.NoError(t, json.Unmarshal(msg.Value, &ev))
	assert.Equal(t, "lead-generation-system", ev.BlueprintID)
	assert.True(t, ev.CompletedAt.Equal(at))

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestListener_PublishesCompletion(t *testing.T) {
	w := &fakeWriter{}
	l := NewListener(newKafkaPublisherWithWriter(w, "t"))
	at := time.Now().UTC()

	l.PaymentCompleted(context.Background(), &payments.Record{
		IntentID:    "pi_2",
		BlueprintID: "bp",
		Amount:      100,
		Currency:    "eur",
		Status:      payments.StatusCompleted,
		CompletedAt: &at,
	})
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "pi_2", string(w.msgs[0].Key))
}

func TestListener_FailureIsCounted(t *testing.T) {
	before := testutil.ToFloat64(metrics.SideEffectFailuresTotal.WithLabelValues("event_publish"))
	l := NewListener(newKafkaPublisherWithWriter(&fakeWriter{err: errors.New("broker down")}, "t"))

	l.PaymentCompleted(context.Background(), &payments.Record{IntentID: "pi_3", BlueprintID: "bp"})

	after := testutil.ToFloat64(metrics.SideEffectFailuresTotal.WithLabelValues("event_publish"))
	assert.Equal(t, before+1, after)
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	assert.NoError(t, p.Publish(context.Background(), PurchaseEvent{}))
	assert.NoError(t, p.Close())
}
