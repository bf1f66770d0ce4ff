package services

import (
	"context"
	"log/slog"

	"saldo/internal/amqp"
	"saldo/internal/feed"
)

// Notifier announces a committed write: first to in-process subscribers
// through the broker, then to other processes through the publisher.
// Publishing is best effort; the write already happened.
type Notifier struct {
	broker    *feed.Broker
	publisher ChangePublisher
}

// NewNotifier accepts a nil publisher when cross-process messaging is off.
func NewNotifier(broker *feed.Broker, publisher ChangePublisher) *Notifier {
	return &Notifier{broker: broker, publisher: publisher}
}

func (n *Notifier) Changed(ctx context.Context, msg *amqp.ChangeMessage) {
	if n == nil {
		return
	}
	if n.broker != nil {
		n.broker.Notify()
	}
	if n.publisher == nil {
		return
	}
	if err := n.publisher.PublishChange(ctx, msg); err != nil {
		slog.WarnContext(ctx, "Failed to publish change message",
			"kind", msg.Kind,
			"group_id", msg.GroupID,
			"error", err)
	}
}
