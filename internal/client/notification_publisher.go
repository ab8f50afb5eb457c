package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/proplio/be-fm-engine/internal/service"
)

// NotificationPublisher publishes engine lifecycle events to NATS JetStream
// for consumption by the platform notifications service.
//
// Subject convention: notifications.fm.<event_type>
// Event types: work_order.created, work_order.assigned, work_order.approved,
//              work_order.rejected, work_order.closed, approval.requested,
//              approval.approved, approval.rejected, approval.escalated
type NotificationPublisher struct {
	nats *NATSClient
	log  zerolog.Logger
}

// NewNotificationPublisher creates a publisher backed by the given NATS client.
func NewNotificationPublisher(nats *NATSClient, log zerolog.Logger) *NotificationPublisher {
	return &NotificationPublisher{nats: nats, log: log}
}

// PublishNotification publishes one notification. Subject:
// notifications.fm.<event_type>
func (p *NotificationPublisher) PublishNotification(ctx context.Context, n *service.Notification) error {
	if p.nats == nil {
		return nil
	}

	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	subject := fmt.Sprintf("notifications.fm.%s", n.EventType)
	if err := p.nats.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	p.log.Debug().
		Str("subject", subject).
		Int("recipients", len(n.Recipients)).
		Msg("notification: event published")
	return nil
}
