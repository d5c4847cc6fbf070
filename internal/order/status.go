package order

import (
	"time"
)

// forward is the single-step progression of a healthy order.
var forward = map[GuestOrderStatus]GuestOrderStatus{
	StatusReceived:       StatusInPreparation,
	StatusInPreparation:  StatusReadyForPickup,
	StatusReadyForPickup: StatusClosed,
}

// recall is the single step back a kitchen can take.
var recall = map[GuestOrderStatus]GuestOrderStatus{
	StatusReadyForPickup: StatusInPreparation,
	StatusInPreparation:  StatusReceived,
}

// ValidateTransition accepts one step forward, one step back (recall), or a
// void from any non-terminal status.
func ValidateTransition(from, to GuestOrderStatus) error {
	if !from.Valid() || !to.Valid() || from.Terminal() {
		return &TransitionError{From: from, To: to}
	}
	if to == StatusVoided {
		return nil
	}
	if forward[from] == to || recall[from] == to {
		return nil
	}
	return &TransitionError{From: from, To: to}
}

// Next returns the forward step from s, if any.
func Next(s GuestOrderStatus) (GuestOrderStatus, bool) {
	n, ok := forward[s]
	return n, ok
}

// Previous returns the recall step from s, if any.
func Previous(s GuestOrderStatus) (GuestOrderStatus, bool) {
	p, ok := recall[s]
	return p, ok
}

// ApplyStatus validates and applies a transition, stamping the lifecycle
// timestamp for the new status.
func (o *Order) ApplyStatus(to GuestOrderStatus, at time.Time) error {
	if err := ValidateTransition(o.Status, to); err != nil {
		return err
	}

	ts := &o.Timestamps
	switch to {
	case StatusInPreparation:
		if ts.PrepStartAt == nil {
			ts.PrepStartAt = &at
		}
	case StatusReadyForPickup:
		ts.ReadyAt = &at
	case StatusClosed:
		ts.ClosedAt = &at
	case StatusVoided:
		ts.VoidedAt = &at
	case StatusReceived:
		ts.PrepStartAt = nil
	}
	if o.Status == StatusReadyForPickup && to == StatusInPreparation {
		ts.ReadyAt = nil
	}

	o.Status = to
	o.Touch(at)
	return nil
}

// FireCourseLocally marks a course FIRED and sends every selection in it.
// It mirrors what the backend does when it supports course firing.
func (o *Order) FireCourseLocally(courseID string, at time.Time) error {
	c, ok := o.Course(courseID)
	if !ok {
		return ErrCourseNotFound
	}
	c.FireStatus = FireFired
	c.FiredAt = &at

	for i := range o.Checks {
		for j := range o.Checks[i].Selections {
			s := &o.Checks[i].Selections[j]
			if s.CourseID == courseID {
				s.FulfillmentStatus = FulfillmentSent
			}
		}
	}
	o.Touch(at)
	return nil
}

// Backend status vocabulary.
const (
	backendPending   = "pending"
	backendConfirmed = "confirmed"
	backendPreparing = "preparing"
	backendReady     = "ready"
	backendCompleted = "completed"
	backendCancelled = "cancelled"
)

var inbound = map[string]GuestOrderStatus{
	backendPending:   StatusReceived,
	backendConfirmed: StatusReceived,
	backendPreparing: StatusInPreparation,
	backendReady:     StatusReadyForPickup,
	backendCompleted: StatusClosed,
	backendCancelled: StatusVoided,
	// current backends sometimes echo the internal vocabulary
	string(StatusReceived):       StatusReceived,
	string(StatusInPreparation):  StatusInPreparation,
	string(StatusReadyForPickup): StatusReadyForPickup,
	string(StatusClosed):         StatusClosed,
	string(StatusVoided):         StatusVoided,
}

var outbound = map[GuestOrderStatus]string{
	StatusReceived:       backendPending,
	StatusInPreparation:  backendPreparing,
	StatusReadyForPickup: backendReady,
	StatusClosed:         backendCompleted,
	StatusVoided:         backendCancelled,
}

// StatusFromBackend maps a backend status string. Values outside the table
// return an *UnknownStatusError.
func StatusFromBackend(s string) (GuestOrderStatus, error) {
	if st, ok := inbound[s]; ok {
		return st, nil
	}
	return "", &UnknownStatusError{Value: s}
}

// StatusToBackend maps an internal status to the backend vocabulary.
func StatusToBackend(s GuestOrderStatus) (string, error) {
	if b, ok := outbound[s]; ok {
		return b, nil
	}
	return "", &UnknownStatusError{Value: string(s)}
}

// sentOnArrival reports whether items without an explicit fulfillment status
// are already with the kitchen.
func sentOnArrival(backend string) bool {
	switch backend {
	case backendPreparing, backendReady, backendCompleted,
		string(StatusInPreparation), string(StatusReadyForPickup), string(StatusClosed):
		return true
	}
	return false
}

// BackendConfirmed is the backend status a station sends to acknowledge a
// received order without starting it.
const BackendConfirmed = backendConfirmed

// Confirm stamps ConfirmedAt on a received order.
func (o *Order) Confirm(at time.Time) error {
	if o.Status != StatusReceived {
		return &TransitionError{From: o.Status, To: StatusReceived}
	}
	if o.Timestamps.ConfirmedAt == nil {
		o.Timestamps.ConfirmedAt = &at
	}
	o.Touch(at)
	return nil
}
