package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"docuchat/internal/model"
)

// UploadEventPublisher delivers upload-completed events to the
// vectorize queue. Publishes are persistent so an event survives a
// broker restart between upload and indexing.
type UploadEventPublisher struct {
	conn      *amqp.Connection
	queueName string
}

func NewUploadEventPublisher(conn *amqp.Connection, queueName string) *UploadEventPublisher {
	return &UploadEventPublisher{
		conn:      conn,
		queueName: queueName,
	}
}

func (p *UploadEventPublisher) Publish(ctx context.Context, event model.UploadEvent) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("open rabbitmq channel failed: %w", err)
	}
	defer ch.Close()

	_, err = ch.QueueDeclare(
		p.queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare queue failed: %w", err)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal upload event failed: %w", err)
	}

	if err := ch.PublishWithContext(
		ctx,
		"",
		p.queueName,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         payload,
			DeliveryMode: amqp.Persistent,
		},
	); err != nil {
		return fmt.Errorf("publish upload event failed: %w", err)
	}
	return nil
}
