// Package notify publishes templated notification events to Kafka. Delivery
// is fire-and-forget from the caller's point of view: a publish failure is
// reported back for logging but never rolls back the transition that
// triggered it; a downstream consumer renders and sends the actual messages.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/vitalblend/commerce-api/internal/domain/order"
	"github.com/vitalblend/commerce-api/internal/metrics"
)

// Event is the wire shape of one notification on the topic.
type Event struct {
	Template string            `json:"template"`
	OrderID  string            `json:"orderId,omitempty"`
	Number   string            `json:"orderNumber,omitempty"`
	UserID   string            `json:"userId,omitempty"`
	Data     map[string]string `json:"data,omitempty"`
	SentAt   time.Time         `json:"sentAt"`
}

var _ order.Notifier = (*KafkaNotifier)(nil)

// KafkaNotifier publishes notification events to a single topic, keyed by
// user so one user's notifications stay ordered.
type KafkaNotifier struct {
	writer *kafka.Writer
}

// NewKafkaNotifier creates a notifier writing to the given brokers and topic.
func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
	}
	return &KafkaNotifier{writer: writer}
}

// Notify publishes one notification event.
func (n *KafkaNotifier) Notify(ctx context.Context, note order.Notification) error {
	ev := Event{
		Template: note.Template,
		OrderID:  note.OrderID,
		Number:   note.Number,
		UserID:   note.UserID,
		Data:     note.Data,
		SentAt:   time.Now().UTC(),
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding notification event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(note.UserID),
		Value: value,
		Time:  ev.SentAt,
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		metrics.NotificationFailures.Inc()
		return fmt.Errorf("publishing notification %q: %w", note.Template, err)
	}

	metrics.NotificationsPublished.WithLabelValues(note.Template).Inc()
	return nil
}

// Close flushes and closes the underlying writer.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

// NopNotifier discards notifications. Used when no brokers are configured.
type NopNotifier struct{}

// Notify implements order.Notifier.
func (NopNotifier) Notify(context.Context, order.Notification) error { return nil }
