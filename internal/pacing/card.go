package pacing

import (
	"math"
	"sort"
	"time"

	"orderstack-kds/internal/order"
)

type Urgency string

const (
	UrgencyOK      Urgency = "ok"
	UrgencyWarning Urgency = "warning"
	UrgencyOverdue Urgency = "overdue"
)

// unestimatedOverdue applies to orders with no prep estimate.
const unestimatedOverdue = 10

type ItemState string

const (
	ItemActive    ItemState = "active"
	ItemCountdown ItemState = "countdown"
	ItemWaiting   ItemState = "waiting"
)

// Action is the bump a station performs next on a card.
type Action struct {
	Label  string
	Status order.GuestOrderStatus
}

func NextAction(s order.GuestOrderStatus) (Action, bool) {
	switch s {
	case order.StatusReceived:
		return Action{Label: "START", Status: order.StatusInPreparation}, true
	case order.StatusInPreparation:
		return Action{Label: "READY", Status: order.StatusReadyForPickup}, true
	case order.StatusReadyForPickup:
		return Action{Label: "COMPLETE", Status: order.StatusClosed}, true
	}
	return Action{}, false
}

func CanRecall(s order.GuestOrderStatus) bool {
	return s == order.StatusInPreparation || s == order.StatusReadyForPickup
}

type CardItem struct {
	SelectionID string
	Name        string
	Quantity    int
	Prep        time.Duration
	FireDelay   time.Duration
	State       ItemState
	Remaining   time.Duration
	Held        bool
}

type CardGroup struct {
	CourseID   string
	Label      string
	FireStatus order.FireStatus
	MaxPrep    time.Duration
	Items      []CardItem
	// Countdown is the auto-fire countdown in seconds, when one is running.
	Countdown int
}

// Card is the kitchen display view of one order at a point in time.
type Card struct {
	OrderID          string
	OrderNumber      string
	Status           order.GuestOrderStatus
	DiningOption     order.DiningOptionType
	ElapsedMinutes   int
	EstimatedMinutes int
	Progress         int
	RemainingMinutes int
	Urgency          Urgency
	NextAction       *Action
	CanRecall        bool
	Rushed           bool
	Grouped          bool
	Groups           []CardGroup
}

// Card builds the display view for orderID as of now.
func (e *Engine) Card(orderID string) (Card, error) {
	now := e.clock.Now()
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.cards[orderID]
	if !ok {
		return Card{}, ErrUnknownOrder
	}
	return e.buildCard(c, now), nil
}

// Cards returns views for every tracked order, oldest first.
func (e *Engine) Cards() []Card {
	now := e.clock.Now()
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Card, 0, len(e.cards))
	for _, c := range e.cards {
		out = append(out, e.buildCard(c, now))
	}
	sortCards(out, e.cards)
	return out
}

func sortCards(cards []Card, state map[string]*card) {
	sort.SliceStable(cards, func(i, j int) bool {
		a := state[cards[i].OrderID].order.Timestamps.CreatedAt
		b := state[cards[j].OrderID].order.Timestamps.CreatedAt
		if a.Equal(b) {
			return cards[i].OrderID < cards[j].OrderID
		}
		return a.Before(b)
	})
}

func (e *Engine) buildCard(c *card, now time.Time) Card {
	o := c.order
	elapsed := int(now.Sub(o.Timestamps.CreatedAt) / time.Minute)
	if elapsed < 0 {
		elapsed = 0
	}
	est := EstimatedPrepMinutes(o, e.settings)

	v := Card{
		OrderID:          o.ID,
		OrderNumber:      o.OrderNumber,
		Status:           o.Status,
		DiningOption:     o.DiningOption.Type,
		ElapsedMinutes:   elapsed,
		EstimatedMinutes: est,
		CanRecall:        CanRecall(o.Status),
		Rushed:           c.rushed,
		Grouped:          hasCourses(o, e.settings) || e.settings.PrepTimeFiring,
	}
	if est > 0 {
		v.Progress = int(math.Round(float64(elapsed) / float64(est) * 100))
		v.RemainingMinutes = max(0, est-elapsed)
	}
	v.Urgency = urgency(v.Progress, est, elapsed)
	if a, ok := NextAction(o.Status); ok {
		v.NextAction = &a
	}

	for _, g := range Groups(o, e.settings) {
		cg := CardGroup{Label: g.Label, FireStatus: g.FireStatus, MaxPrep: g.MaxPrep}
		start := c.staggerStart
		if g.Course != nil {
			cg.CourseID = g.Course.ID
			cg.Countdown = c.countdowns[g.Course.ID]
			start = courseStart(g.Course, c.staggerStart)
		}
		for _, it := range g.Items {
			cg.Items = append(cg.Items, e.cardItem(c, g, it, start, now))
		}
		v.Groups = append(v.Groups, cg)
	}
	return v
}

func urgency(progress, est, elapsed int) Urgency {
	if est <= 0 {
		if elapsed > unestimatedOverdue {
			return UrgencyOverdue
		}
		return UrgencyOK
	}
	switch {
	case progress >= 100:
		return UrgencyOverdue
	case progress >= 70:
		return UrgencyWarning
	}
	return UrgencyOK
}

// courseStart is when a fired course's stagger begins. Pending courses have
// not started.
func courseStart(c *order.Course, stagger *time.Time) *time.Time {
	if c.FireStatus == order.FirePending {
		return nil
	}
	if c.FiredAt != nil {
		return c.FiredAt
	}
	return stagger
}

func (e *Engine) cardItem(c *card, g Group, it Item, start *time.Time, now time.Time) CardItem {
	sel := it.Selection
	ci := CardItem{
		SelectionID: sel.ID,
		Name:        sel.Name,
		Quantity:    sel.Quantity,
		Prep:        it.Prep,
		FireDelay:   it.FireDelay,
		Remaining:   it.FireDelay,
		Held: sel.FulfillmentStatus == order.FulfillmentHold ||
			(g.Course != nil && g.FireStatus == order.FirePending && e.settings.Mode != ModeDisabled),
	}
	if start != nil {
		ci.Remaining = max(0, it.FireDelay-now.Sub(*start))
	}

	switch {
	case !e.settings.PrepTimeFiring, it.FireDelay <= 0, c.manual[sel.ID], c.rushed:
		ci.State = ItemActive
		ci.Remaining = 0
	case start == nil:
		ci.State = ItemWaiting
	case ci.Remaining <= 0:
		ci.State = ItemActive
	default:
		ci.State = ItemCountdown
	}
	return ci
}
