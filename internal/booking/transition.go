package booking

import "fmt"

// Event is a request to move a booking along its lifecycle.
type Event string

const (
	EventPaymentCompleted Event = "payment_completed"
	EventPaymentFailed    Event = "payment_failed"
	EventPaymentTimeout   Event = "payment_timeout"
	EventCancel           Event = "cancel"
	EventCheckIn          Event = "check_in"
	EventCheckOut         Event = "check_out"
	EventFinalize         Event = "finalize"
)

var Events = []Event{
	EventPaymentCompleted, EventPaymentFailed, EventPaymentTimeout,
	EventCancel, EventCheckIn, EventCheckOut, EventFinalize,
}

// Role is the capacity in which an actor requests a transition.
type Role string

const (
	RoleGuest  Role = "guest"
	RoleHost   Role = "host"
	RoleAdmin  Role = "admin"
	RoleSystem Role = "system"
)

type transitionKey struct {
	from  Status
	event Event
}

type rule struct {
	to    Status
	roles []Role
}

// transitions is the complete lifecycle. Anything missing is illegal.
var transitions = map[transitionKey]rule{
	{StatusPending, EventPaymentCompleted}: {StatusConfirmed, []Role{RoleSystem}},
	{StatusPending, EventPaymentFailed}:    {StatusCancelled, []Role{RoleSystem}},
	{StatusPending, EventPaymentTimeout}:   {StatusCancelled, []Role{RoleSystem}},
	{StatusPending, EventCancel}:           {StatusCancelled, []Role{RoleGuest, RoleHost, RoleAdmin}},
	{StatusConfirmed, EventCancel}:         {StatusCancelled, []Role{RoleGuest, RoleHost, RoleAdmin}},
	{StatusConfirmed, EventCheckIn}:        {StatusCheckedIn, []Role{RoleHost, RoleAdmin}},
	{StatusCheckedIn, EventCheckOut}:       {StatusCheckedOut, []Role{RoleHost, RoleAdmin}},
	{StatusCheckedOut, EventFinalize}:      {StatusCompleted, []Role{RoleHost, RoleAdmin, RoleSystem}},
}

// Next returns the state reached by applying ev to from when the actor holds one of roles.
// It fails with ErrInvalidTransition when the table has no such edge and with
// ErrForbidden when none of roles may take it. Date and dispute guards are checked by the service.
func Next(from Status, ev Event, roles []Role) (Status, error) {
	r, ok := transitions[transitionKey{from, ev}]
	if !ok {
		return "", ErrInvalidTransition.WithMessage(fmt.Sprintf("cannot apply %s to a %s booking", ev, from))
	}
	for _, want := range r.roles {
		for _, have := range roles {
			if want == have {
				return r.to, nil
			}
		}
	}
	return "", ErrForbidden.WithMessage(fmt.Sprintf("%s on a %s booking requires one of %v", ev, from, r.roles))
}
