package order

import (
	"errors"
	"fmt"
)

var (
	// -- Validation --
	ErrNoItems              = errors.New("order has no items")
	ErrInvalidQuantity      = errors.New("item quantity must be greater than zero")
	ErrMissingMenuItem      = errors.New("item is missing a menu item id")
	ErrUnknownDiningOption  = errors.New("unknown dining option")
	ErrMissingTable         = errors.New("dine-in order requires a table")
	ErrMissingAddress       = errors.New("delivery order requires an address")
	ErrMissingVehicle       = errors.New("curbside order requires a vehicle description")
	ErrMissingCateringEvent = errors.New("catering order requires an event date and headcount")

	// -- Mapping --
	ErrEmptyRecord = errors.New("empty order record")
	ErrMissingID   = errors.New("order record has no id")

	// -- Resource State --
	ErrCourseNotFound = errors.New("course not found")
)

// TransitionError rejects a status change that the lifecycle does not allow.
type TransitionError struct {
	From GuestOrderStatus
	To   GuestOrderStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}

// UnknownStatusError is returned for a backend status outside the mapping table.
type UnknownStatusError struct {
	Value string
}

func (e *UnknownStatusError) Error() string {
	return fmt.Sprintf("unknown backend order status %q", e.Value)
}
