package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"custodytrail/internal/model"
)

type CaptureEventPublisher struct {
	conn      *amqp.Connection
	queueName string
}

func NewCaptureEventPublisher(conn *amqp.Connection, queueName string) *CaptureEventPublisher {
	return &CaptureEventPublisher{
		conn:      conn,
		queueName: queueName,
	}
}

// PublishCommitted announces a finished commit to downstream consumers
// (timeline cache invalidation, export, audit).
func (p *CaptureEventPublisher) PublishCommitted(ctx context.Context, event model.CaptureCommittedEvent) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("open rabbitmq channel failed: %w", err)
	}
	defer ch.Close()

	if _, err := DeclareQueue(ch, p.queueName); err != nil {
		return err
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal capture event failed: %w", err)
	}

	if err := ch.PublishWithContext(
		ctx,
		"",
		p.queueName,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Type:         "capture.committed",
			Body:         payload,
			DeliveryMode: amqp.Persistent,
		},
	); err != nil {
		return fmt.Errorf("publish capture event failed: %w", err)
	}
	return nil
}
