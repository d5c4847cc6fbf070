package pacing

import (
	"context"
	"errors"
	"sync"
	"time"

	"orderstack-kds/internal/clock"
	"orderstack-kds/internal/logger"
	"orderstack-kds/internal/metrics"
	"orderstack-kds/internal/order"

	"go.uber.org/zap"
)

var (
	ErrUnknownOrder     = errors.New("order is not tracked by pacing")
	ErrUnknownSelection = errors.New("selection not found on order")
)

const TickInterval = time.Second

// Firer releases a course to the kitchen.
type Firer interface {
	FireCourse(ctx context.Context, orderID, courseID string) error
}

type Option func(*Engine)

func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.log = l }
}

func WithMetrics(r *metrics.Registry) Option {
	return func(e *Engine) { e.metrics = r }
}

// card is the per-order pacing state. It lives as long as the order is
// active, independent of how the order is displayed.
type card struct {
	order        *order.Order
	staggerStart *time.Time
	manual       map[string]bool
	countdowns   map[string]int
	autoFired    map[string]bool
	rushed       bool
}

type fireRequest struct {
	orderID  string
	courseID string
}

// Engine keeps pacing state keyed by order id and drives auto-fire from
// one-second ticks.
type Engine struct {
	settings Settings
	firer    Firer
	clock    clock.Clock
	log      *zap.Logger
	metrics  *metrics.Registry

	mu    sync.Mutex
	cards map[string]*card
}

func NewEngine(settings Settings, firer Firer, opts ...Option) *Engine {
	e := &Engine{
		settings: settings,
		firer:    firer,
		clock:    clock.Real(),
		log:      logger.Named("pacing"),
		cards:    make(map[string]*card),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Settings() Settings {
	return e.settings
}

// Sync replaces the tracked orders with the active ones in orders. State of
// orders that are still present carries over; the rest is dropped.
func (e *Engine) Sync(orders []*order.Order) {
	now := e.clock.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	seen := make(map[string]bool, len(orders))
	for _, o := range orders {
		if o == nil || o.Status.Terminal() {
			continue
		}
		seen[o.ID] = true
		c, ok := e.cards[o.ID]
		if !ok {
			c = &card{
				manual:     map[string]bool{},
				countdowns: map[string]int{},
				autoFired:  map[string]bool{},
			}
			e.cards[o.ID] = c
		}
		c.order = o.Clone()
		observeStagger(c, now)
	}
	for id := range e.cards {
		if !seen[id] {
			delete(e.cards, id)
		}
	}
}

// Forget stops pacing orderID.
func (e *Engine) Forget(orderID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.cards, orderID)
}

func (e *Engine) Tracked() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.cards)
}

// Start ticks the engine every second on its clock until the returned timer
// is stopped.
func (e *Engine) Start(ctx context.Context) clock.Timer {
	return e.clock.Every(TickInterval, func() { e.Tick(ctx, e.clock.Now()) })
}

// Tick advances every card by one second: it captures stagger start times and
// steps auto-fire countdowns, firing courses whose countdown reaches zero.
func (e *Engine) Tick(ctx context.Context, now time.Time) {
	e.mu.Lock()
	var fires []fireRequest
	for id, c := range e.cards {
		observeStagger(c, now)
		if e.settings.Mode == ModeAutoFireTimed {
			for _, courseID := range e.stepCountdowns(c) {
				fires = append(fires, fireRequest{orderID: id, courseID: courseID})
			}
		}
	}
	e.mu.Unlock()

	for _, f := range fires {
		e.metrics.Counter("pacing.auto_fires").Inc()
		e.log.Info("auto-firing course",
			zap.String("order_id", f.orderID),
			zap.String("course_id", f.courseID),
		)
		if e.firer == nil {
			continue
		}
		if err := e.firer.FireCourse(ctx, f.orderID, f.courseID); err != nil {
			e.metrics.Counter("pacing.fire_errors").Inc()
			e.log.Warn("auto-fire failed",
				zap.String("order_id", f.orderID),
				zap.String("course_id", f.courseID),
				zap.Error(err),
			)
		}
	}
}

func observeStagger(c *card, now time.Time) {
	if c.staggerStart != nil || c.order.Status != order.StatusInPreparation {
		return
	}
	start := now
	if c.order.Timestamps.PrepStartAt != nil {
		start = *c.order.Timestamps.PrepStartAt
	}
	c.staggerStart = &start
}

// stepCountdowns returns the courses due to fire on this tick. A pending
// course is eligible once the course before it is READY and every selection
// in it is SENT or ON_THE_FLY. The uncoursed group never arms a countdown. Its countdown starts at the
// auto-fire delay the first tick it is eligible and fires once at zero.
func (e *Engine) stepCountdowns(c *card) []string {
	delay := int(e.settings.AutoFireDelay / time.Second)
	groups := Groups(c.order, e.settings)

	var due []string
	for i := 1; i < len(groups); i++ {
		g, prev := groups[i], groups[i-1]
		if g.Course == nil {
			continue
		}
		id := g.Course.ID
		if g.FireStatus != order.FirePending {
			delete(c.countdowns, id)
			continue
		}
		if prev.Course == nil || prev.FireStatus != order.FireReady || !allReleased(prev) {
			continue
		}

		remaining, started := c.countdowns[id]
		switch {
		case !started:
			c.countdowns[id] = delay
			if delay <= 0 && !c.autoFired[id] {
				c.autoFired[id] = true
				due = append(due, id)
			}
		case remaining > 0:
			remaining--
			c.countdowns[id] = remaining
			if remaining == 0 && !c.autoFired[id] {
				c.autoFired[id] = true
				due = append(due, id)
			}
		}
	}
	return due
}

func allReleased(g Group) bool {
	for _, it := range g.Items {
		if !it.Selection.FulfillmentStatus.Released() {
			return false
		}
	}
	return true
}

// Countdown returns the seconds left before courseID auto-fires.
func (e *Engine) Countdown(orderID, courseID string) (int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.cards[orderID]
	if !ok {
		return 0, false
	}
	secs, ok := c.countdowns[courseID]
	return secs, ok
}

// FireItemNow exempts one selection from its fire delay.
func (e *Engine) FireItemNow(orderID, selectionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.cards[orderID]
	if !ok {
		return ErrUnknownOrder
	}
	for _, sel := range c.order.Selections() {
		if sel.ID == selectionID {
			c.manual[selectionID] = true
			return nil
		}
	}
	return ErrUnknownSelection
}

// ToggleRush flips the rush flag and returns the new value.
func (e *Engine) ToggleRush(orderID string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.cards[orderID]
	if !ok {
		return false, ErrUnknownOrder
	}
	c.rushed = !c.rushed
	return c.rushed, nil
}

func (e *Engine) Rushed(orderID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.cards[orderID]
	return ok && c.rushed
}

// StaggerStart reports when orderID's uncoursed items started their stagger.
func (e *Engine) StaggerStart(orderID string) (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.cards[orderID]
	if !ok || c.staggerStart == nil {
		return time.Time{}, false
	}
	return *c.staggerStart, true
}
