// Package amqp consumes trigger events from a RabbitMQ queue.
package amqp

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"school_mailman/internal/app"
	"school_mailman/internal/domain/event"
)

const reconnectDelay = 5 * time.Second

// Consumer feeds queue messages to the event handler with manual acks.
type Consumer struct {
	url     string
	queue   string
	handler app.EventHandler
	log     *logrus.Entry
}

func NewConsumer(url, queue string, handler app.EventHandler, log *logrus.Entry) *Consumer {
	return &Consumer{url: url, queue: queue, handler: handler, log: log.WithField("queue", queue)}
}

// Run consumes until ctx is cancelled, reconnecting when the broker drops
// the connection.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		err := c.consume(ctx)
		if ctx.Err() != nil {
			return nil
		}
		c.log.WithError(err).Warn("AMQP consumer stopped, reconnecting")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(reconnectDelay):
		}
	}
}

func (c *Consumer) consume(ctx context.Context) error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return errors.Wrap(err, "connect to broker")
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return errors.Wrap(err, "open channel")
	}
	defer ch.Close()

	if err := ch.Qos(1, 0, false); err != nil {
		return errors.Wrap(err, "set qos")
	}
	q, err := ch.QueueDeclare(
		c.queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return errors.Wrap(err, "declare queue")
	}
	msgs, err := ch.Consume(
		q.Name,
		"mailman",
		false, // manual ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return errors.Wrap(err, "register consumer")
	}

	c.log.Info("AMQP consumer waiting for events")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("delivery channel closed")
			}
			c.deliver(ctx, d)
		}
	}
}

// deliver handles one message. Events that can never succeed are rejected
// without requeue. Other failures are requeued once; a redelivered message
// that fails again is rejected so it cannot loop.
func (c *Consumer) deliver(ctx context.Context, d amqp.Delivery) {
	log := c.log.WithFields(logrus.Fields{
		"delivery_tag": d.DeliveryTag,
		"message_id":   d.MessageId,
		"redelivered":  d.Redelivered,
	})

	e, err := event.Parse(d.Body)
	if err == nil {
		log = log.WithField("event_type", e.Type)
		_, err = c.handler.Handle(ctx, e)
	}

	var ackErr error
	switch {
	case err == nil:
		ackErr = d.Ack(false)
	case event.Permanent(err):
		log.WithError(err).Warn("Rejecting event")
		ackErr = d.Reject(false)
	case d.Redelivered:
		log.WithError(err).Error("Event failed again, dropping")
		ackErr = d.Reject(false)
	default:
		log.WithError(err).Warn("Event failed, requeueing")
		ackErr = d.Nack(false, true)
	}
	if ackErr != nil {
		log.WithError(ackErr).Error("Could not acknowledge delivery")
	}
}
