package order

import (
	"time"
)

// GuestOrderStatus is the kitchen-facing lifecycle state of an order.
type GuestOrderStatus string

const (
	StatusReceived       GuestOrderStatus = "RECEIVED"
	StatusInPreparation  GuestOrderStatus = "IN_PREPARATION"
	StatusReadyForPickup GuestOrderStatus = "READY_FOR_PICKUP"
	StatusClosed         GuestOrderStatus = "CLOSED"
	StatusVoided         GuestOrderStatus = "VOIDED"
)

// Terminal reports whether no further transition is allowed.
func (s GuestOrderStatus) Terminal() bool {
	return s == StatusClosed || s == StatusVoided
}

func (s GuestOrderStatus) Valid() bool {
	switch s {
	case StatusReceived, StatusInPreparation, StatusReadyForPickup, StatusClosed, StatusVoided:
		return true
	}
	return false
}

type FulfillmentStatus string

const (
	FulfillmentNew      FulfillmentStatus = "NEW"
	FulfillmentHold     FulfillmentStatus = "HOLD"
	FulfillmentSent     FulfillmentStatus = "SENT"
	FulfillmentOnTheFly FulfillmentStatus = "ON_THE_FLY"
)

// Released reports whether the kitchen has the item (sent or made on the fly).
func (f FulfillmentStatus) Released() bool {
	return f == FulfillmentSent || f == FulfillmentOnTheFly
}

type FireStatus string

const (
	FirePending FireStatus = "PENDING"
	FireFired   FireStatus = "FIRED"
	FireReady   FireStatus = "READY"
)

type DiningOptionType string

const (
	DiningDineIn   DiningOptionType = "dine-in"
	DiningTakeout  DiningOptionType = "takeout"
	DiningDelivery DiningOptionType = "delivery"
	DiningCurbside DiningOptionType = "curbside"
	DiningCatering DiningOptionType = "catering"
)

// Money is an amount in minor currency units (cents).
type Money int64

func (m Money) Float() float64 {
	return float64(m) / 100
}

type Order struct {
	ID             string
	RestaurantID   string
	OrderNumber    string
	Status         GuestOrderStatus
	DiningOption   DiningOption
	Checks         []Check
	Courses        []Course
	Timestamps     Timestamps
	PaymentStatus  string
	Customer       *Customer
	Instructions   string
	SourceDeviceID string

	Subtotal    Money
	TaxAmount   Money
	TipAmount   Money
	TotalAmount Money

	// Queued marks a local placeholder the backend has not acknowledged yet.
	Queued bool
}

// DiningOption is a tagged variant; only the sub-object matching Type is set.
type DiningOption struct {
	Type        DiningOptionType
	Name        string
	TableID     string
	TableNumber string
	Delivery    *DeliveryInfo
	Curbside    *CurbsideInfo
	Catering    *CateringInfo
}

type DeliveryInfo struct {
	Address        string
	Instructions   string
	DeliveryStatus string
	EstimatedAt    *time.Time
}

type CurbsideInfo struct {
	VehicleDescription string
	ArrivedAt          *time.Time
}

type CateringInfo struct {
	EventDate      time.Time
	Headcount      int
	ApprovalStatus string
}

type Customer struct {
	Name    string
	Email   string
	Phone   string
	Address string
}

type Check struct {
	ID         string
	Selections []Selection
	Payments   []Payment

	Subtotal    Money
	TaxAmount   Money
	TipAmount   Money
	TotalAmount Money
}

type Payment struct {
	ID     string
	Method string
	Status string
	Amount Money
}

type Selection struct {
	ID                string
	MenuItemID        string
	Name              string
	Quantity          int
	UnitPrice         Money
	Total             Money
	Modifiers         []Modifier
	Instructions      string
	FulfillmentStatus FulfillmentStatus
	// CourseID is empty when the selection is not coursed.
	CourseID string
}

type Modifier struct {
	ID              string
	Name            string
	PriceAdjustment Money
}

type Course struct {
	ID         string
	Name       string
	SortOrder  int
	FireStatus FireStatus
	FiredAt    *time.Time
}

type Timestamps struct {
	CreatedAt      time.Time
	ConfirmedAt    *time.Time
	PrepStartAt    *time.Time
	ReadyAt        *time.Time
	ClosedAt       *time.Time
	VoidedAt       *time.Time
	LastModifiedAt time.Time
}

// Selections returns every selection across all checks, in check order.
func (o *Order) Selections() []Selection {
	var out []Selection
	for _, c := range o.Checks {
		out = append(out, c.Selections...)
	}
	return out
}

// Course returns the course with the given id.
func (o *Order) Course(id string) (*Course, bool) {
	for i := range o.Courses {
		if o.Courses[i].ID == id {
			return &o.Courses[i], true
		}
	}
	return nil, false
}

// RecomputeTotals sets the order financials to the sum of its checks.
func (o *Order) RecomputeTotals() {
	var sub, tax, tip, total Money
	for _, c := range o.Checks {
		sub += c.Subtotal
		tax += c.TaxAmount
		tip += c.TipAmount
		total += c.TotalAmount
	}
	o.Subtotal, o.TaxAmount, o.TipAmount, o.TotalAmount = sub, tax, tip, total
}

// Touch advances LastModifiedAt to at, or just past the previous value when
// at does not move it forward.
func (o *Order) Touch(at time.Time) {
	if !at.After(o.Timestamps.LastModifiedAt) {
		at = o.Timestamps.LastModifiedAt.Add(time.Millisecond)
	}
	o.Timestamps.LastModifiedAt = at
}

// Clone returns a deep copy safe to hand to another goroutine.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.DiningOption = o.DiningOption.clone()
	c.Timestamps = o.Timestamps.clone()
	if o.Customer != nil {
		cu := *o.Customer
		c.Customer = &cu
	}
	if o.Checks != nil {
		c.Checks = make([]Check, len(o.Checks))
		for i, ch := range o.Checks {
			c.Checks[i] = ch.clone()
		}
	}
	if o.Courses != nil {
		c.Courses = make([]Course, len(o.Courses))
		for i, co := range o.Courses {
			co.FiredAt = cloneTime(co.FiredAt)
			c.Courses[i] = co
		}
	}
	return &c
}

func (ch Check) clone() Check {
	out := ch
	if ch.Selections != nil {
		out.Selections = make([]Selection, len(ch.Selections))
		for i, s := range ch.Selections {
			if s.Modifiers != nil {
				s.Modifiers = append([]Modifier(nil), s.Modifiers...)
			}
			out.Selections[i] = s
		}
	}
	if ch.Payments != nil {
		out.Payments = append([]Payment(nil), ch.Payments...)
	}
	return out
}

func (d DiningOption) clone() DiningOption {
	out := d
	if d.Delivery != nil {
		v := *d.Delivery
		v.EstimatedAt = cloneTime(v.EstimatedAt)
		out.Delivery = &v
	}
	if d.Curbside != nil {
		v := *d.Curbside
		v.ArrivedAt = cloneTime(v.ArrivedAt)
		out.Curbside = &v
	}
	if d.Catering != nil {
		v := *d.Catering
		out.Catering = &v
	}
	return out
}

func (t Timestamps) clone() Timestamps {
	out := t
	out.ConfirmedAt = cloneTime(t.ConfirmedAt)
	out.PrepStartAt = cloneTime(t.PrepStartAt)
	out.ReadyAt = cloneTime(t.ReadyAt)
	out.ClosedAt = cloneTime(t.ClosedAt)
	out.VoidedAt = cloneTime(t.VoidedAt)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
