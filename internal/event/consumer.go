package event

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// HandlerFunc processes one message body.
type HandlerFunc func(ctx context.Context, body []byte) error

// Consumer reads a durable queue and hands each delivery to a handler.
// Successful deliveries are acked. Failures the handler marks retryable are
// requeued; anything else is rejected so a poison message cannot spin.
type Consumer struct {
	url       string
	queue     string
	handler   HandlerFunc
	retryable func(error) bool
	prefetch  int
}

func NewConsumer(url, queue string, handler HandlerFunc, retryable func(error) bool) *Consumer {
	if retryable == nil {
		retryable = func(error) bool { return false }
	}
	return &Consumer{
		url:       url,
		queue:     queue,
		handler:   handler,
		retryable: retryable,
		prefetch:  50,
	}
}

// Run consumes until ctx is cancelled, reconnecting with backoff.
func (c *Consumer) Run(ctx context.Context) {
	backoff := time.Second
	for ctx.Err() == nil {
		conn, err := amqp.Dial(c.url)
		if err != nil {
			log.Printf("consumer[%s]: failed to dial broker: %v; retrying in %s", c.queue, err, backoff)
			if !sleep(ctx, backoff) {
				return
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		if err := c.consumeLoop(ctx, conn); err != nil {
			log.Printf("consumer[%s]: consume loop ended: %v; reconnecting", c.queue, err)
			sleep(ctx, 2*time.Second)
		}
		_ = conn.Close()
	}
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		log.Printf("consumer[%s]: set QoS failed: %v", c.queue, err)
	}

	if _, err := ch.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}

	msgs, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			c.deliver(ctx, d)
		}
	}
}

func (c *Consumer) deliver(ctx context.Context, d amqp.Delivery) {
	ack, requeue := c.disposition(c.handler(ctx, d.Body))
	if ack {
		_ = d.Ack(false)
		return
	}
	_ = d.Nack(false, requeue)
}

func (c *Consumer) disposition(err error) (ack, requeue bool) {
	if err == nil {
		return true, false
	}
	if c.retryable(err) {
		log.Printf("consumer[%s]: transient failure, requeueing: %v", c.queue, err)
		return false, true
	}
	log.Printf("consumer[%s]: rejecting message: %v", c.queue, err)
	return false, false
}
