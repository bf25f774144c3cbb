// Package client holds adapters for external collaborators of the payment
// orders service.
package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/medipagos/be-payment-orders/internal/service"
)

// NotificationPublisher publishes order lifecycle events to NATS for the
// notifications service.
//
// Subject convention: <prefix>.<new_status>
//
// All publish operations are non-fatal. Errors are logged and dropped, so
// notification failures never interrupt a committed lifecycle transition.
type NotificationPublisher struct {
	conn    *nats.Conn
	subject string
	log     zerolog.Logger
}

// NewNotificationPublisher connects to NATS. An empty URL returns a disabled
// publisher so local runs work without a broker.
func NewNotificationPublisher(url, subjectPrefix string, log zerolog.Logger) (*NotificationPublisher, error) {
	p := &NotificationPublisher{subject: subjectPrefix, log: log}
	if url == "" {
		return p, nil
	}

	conn, err := nats.Connect(url,
		nats.Name("be-payment-orders"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	p.conn = conn
	return p, nil
}

// Close drains the connection.
func (p *NotificationPublisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}

// PublishOrderEvent publishes one committed transition.
func (p *NotificationPublisher) PublishOrderEvent(ctx context.Context, event service.OrderEvent) {
	if p.conn == nil {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).
			Str("order_id", event.OrderID).
			Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("%s.%s", p.subject, event.NewStatus)
	if err := p.conn.Publish(subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("order_id", event.OrderID).
			Msg("notification: failed to publish event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("order_id", event.OrderID).
		Str("new_status", event.NewStatus).
		Int("recipients", len(event.Recipients)).
		Msg("notification: event published")
}
