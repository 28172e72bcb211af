// Package event carries booking lifecycle notifications to downstream listeners
// (email, audit). Publishing never blocks the caller.
package event

import (
	"context"
	"encoding/json"
	"log"
	"time"
)

// Lifecycle event types. They double as AMQP routing keys.
const (
	BookingCreated    = "booking.created"
	BookingConfirmed  = "booking.confirmed"
	BookingCancelled  = "booking.cancelled"
	BookingCheckedIn  = "booking.checked_in"
	BookingCheckedOut = "booking.checked_out"
	BookingCompleted  = "booking.completed"
)

// Event is the wire shape of a lifecycle notification.
type Event struct {
	Type             string    `json:"type"`
	BookingID        string    `json:"booking_id"`
	BookingReference string    `json:"booking_reference"`
	PropertyID       string    `json:"property_id"`
	GuestID          string    `json:"guest_id"`
	Status           string    `json:"status"`
	Reason           string    `json:"reason,omitempty"`
	Actor            string    `json:"actor,omitempty"`
	OccurredAt       time.Time `json:"occurred_at"`
}

// Publisher hands events to a transport. Implementations must return promptly.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// LogPublisher writes events to the process log. It is the fallback when no broker is configured.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, ev Event) {
	body, err := json.Marshal(ev)
	if err != nil {
		log.Printf("event: marshal %s failed: %v", ev.Type, err)
		return
	}
	log.Printf("event: %s", body)
}
