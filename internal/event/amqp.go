package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const defaultBuffer = 1024

// AMQPPublisher publishes lifecycle events to a durable topic exchange.
// Publish only enqueues; a background loop owns the broker connection and
// reconnects with backoff. Events are dropped (and counted) when the buffer is full.
type AMQPPublisher struct {
	url      string
	exchange string
	queue    chan Event
	dropped  atomic.Int64
}

func NewAMQPPublisher(url, exchange string, buffer int) *AMQPPublisher {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &AMQPPublisher{
		url:      url,
		exchange: exchange,
		queue:    make(chan Event, buffer),
	}
}

func (p *AMQPPublisher) Publish(_ context.Context, ev Event) {
	select {
	case p.queue <- ev:
	default:
		n := p.dropped.Add(1)
		log.Printf("event-publisher: buffer full, dropped %s for %s (total dropped %d)", ev.Type, ev.BookingReference, n)
	}
}

// Dropped returns how many events were discarded because the buffer was full.
func (p *AMQPPublisher) Dropped() int64 {
	return p.dropped.Load()
}

// Run delivers queued events until ctx is cancelled.
func (p *AMQPPublisher) Run(ctx context.Context) {
	backoff := time.Second
	for ctx.Err() == nil {
		conn, err := amqp.Dial(p.url)
		if err != nil {
			log.Printf("event-publisher: failed to dial broker: %v; retrying in %s", err, backoff)
			if !sleep(ctx, backoff) {
				return
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		if err := p.publishLoop(ctx, conn); err != nil {
			log.Printf("event-publisher: publish loop ended: %v; reconnecting", err)
		}
		_ = conn.Close()
	}
	if n := p.Dropped(); n > 0 {
		log.Printf("event-publisher: stopped with %d events dropped", n)
	}
}

func (p *AMQPPublisher) publishLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("exchange declare: %w", err)
	}

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	for {
		select {
		case <-ctx.Done():
			return nil
		case amqpErr := <-closed:
			return fmt.Errorf("connection closed: %v", amqpErr)
		case ev := <-p.queue:
			if err := p.send(ctx, ch, ev); err != nil {
				// Put it back for the next connection if there is room.
				p.Publish(ctx, ev)
				return err
			}
		}
	}
}

func (p *AMQPPublisher) send(ctx context.Context, ch *amqp.Channel, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		log.Printf("event-publisher: marshal %s failed: %v", ev.Type, err)
		return nil
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return ch.PublishWithContext(pubCtx, p.exchange, ev.Type, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    ev.OccurredAt,
		MessageId:    ev.BookingReference + ":" + ev.Type,
		Body:         body,
	})
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
