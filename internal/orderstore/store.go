// Package orderstore is the terminal's single source of truth for current
// orders. Readers get immutable snapshots with per-status views.
package orderstore

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"orderstack-kds/internal/api"
	"orderstack-kds/internal/clock"
	"orderstack-kds/internal/logger"
	"orderstack-kds/internal/metrics"
	"orderstack-kds/internal/order"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// -- Resource State --
	ErrOrderNotFound     = errors.New("order not found")
	ErrNotRecallable     = errors.New("order cannot be recalled from its current status")
	ErrQueuedOrder       = errors.New("order is queued offline and not yet on the server")
	ErrWrongDiningOption = errors.New("action does not apply to this order's dining option")

	// -- Connectivity --
	ErrOffline = errors.New("offline and no queue configured")
)

const DefaultLoadLimit = 50

// API is the subset of the REST client the store calls.
type API interface {
	ListOrders(ctx context.Context, limit int) ([]json.RawMessage, error)
	CreateOrder(ctx context.Context, payload order.CreatePayload) (json.RawMessage, error)
	UpdateStatus(ctx context.Context, orderID, status string) (json.RawMessage, error)
	FireCourse(ctx context.Context, orderID, courseID string) (json.RawMessage, error)
	UpdateDeliveryStatus(ctx context.Context, orderID, deliveryStatus string) (json.RawMessage, error)
	SetApproval(ctx context.Context, orderID string, approved bool) (json.RawMessage, error)
	NotifyArrival(ctx context.Context, orderID string) (json.RawMessage, error)
	ProfitInsight(ctx context.Context, orderID string) (*api.ProfitInsight, error)
}

// Connectivity reports whether the realtime channel is up.
type Connectivity interface {
	Connected() bool
}

// Enqueuer takes creations while offline and returns their placeholder.
type Enqueuer interface {
	Enqueue(ctx context.Context, payload order.CreatePayload) (*order.Order, error)
}

// Printer starts a kitchen ticket print for an order.
type Printer interface {
	Begin(orderID string)
}

type Option func(*Store)

func WithConnectivity(c Connectivity) Option {
	return func(s *Store) { s.conn = c }
}

func WithQueue(q Enqueuer) Option {
	return func(s *Store) { s.queue = q }
}

func WithPrinter(p Printer) Option {
	return func(s *Store) { s.printer = p }
}

func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.log = l }
}

func WithMetrics(r *metrics.Registry) Option {
	return func(s *Store) { s.metrics = r }
}

// Snapshot is a point-in-time copy of the store. Orders are deep copies and
// may be read freely; the views share those copies.
type Snapshot struct {
	Orders      []*order.Order
	Pending     []*order.Order
	Preparing   []*order.Order
	Ready       []*order.Order
	Completed   []*order.Order
	ActiveCount int
	QueuedCount int
	Loading     bool
	Err         string
	// Retryable marks Err as a network or server failure the user can retry.
	Retryable bool
}

type capability int

const (
	capabilityUnknown capability = iota
	capabilitySupported
	capabilityUnsupported
)

type subscriber struct {
	id int
	fn func(Snapshot)
}

type Store struct {
	api     API
	conn    Connectivity
	queue   Enqueuer
	printer Printer
	clock   clock.Clock
	log     *zap.Logger
	metrics *metrics.Registry

	mu          sync.Mutex
	orders      []*order.Order
	loading     bool
	errMsg      string
	retryable   bool
	fireCourse  capability
	subscribers []subscriber
	nextID      int
}

func New(client API, opts ...Option) *Store {
	s := &Store{
		api:   client,
		clock: clock.Real(),
		log:   logger.Named("orderstore"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot returns the current orders and derived views.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{
		Orders:    make([]*order.Order, 0, len(s.orders)),
		Loading:   s.loading,
		Err:       s.errMsg,
		Retryable: s.retryable,
	}
	for _, o := range s.orders {
		c := o.Clone()
		snap.Orders = append(snap.Orders, c)
		switch c.Status {
		case order.StatusReceived:
			snap.Pending = append(snap.Pending, c)
		case order.StatusInPreparation:
			snap.Preparing = append(snap.Preparing, c)
		case order.StatusReadyForPickup:
			snap.Ready = append(snap.Ready, c)
		case order.StatusClosed:
			snap.Completed = append(snap.Completed, c)
		}
		if !c.Status.Terminal() {
			snap.ActiveCount++
		}
		if c.Queued {
			snap.QueuedCount++
		}
	}
	return snap
}

// GetOrder returns a copy of the order with id.
func (s *Store) GetOrder(id string) (*order.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(id); i >= 0 {
		return s.orders[i].Clone(), true
	}
	return nil, false
}

func (s *Store) Err() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errMsg
}

func (s *Store) ClearError() {
	s.mu.Lock()
	changed := s.errMsg != ""
	s.errMsg, s.retryable = "", false
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

func (s *Store) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Subscribe registers fn for a snapshot after every change. fn is called
// without store locks held and may call back into the store.
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.subscribers = append(s.subscribers, subscriber{id: id, fn: fn})
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, sub := range s.subscribers {
			if sub.id == id {
				s.subscribers = append(s.subscribers[:i:i], s.subscribers[i+1:]...)
				return
			}
		}
	}
}

func (s *Store) notify() {
	s.mu.Lock()
	if len(s.subscribers) == 0 {
		s.mu.Unlock()
		return
	}
	snap := s.snapshotLocked()
	subs := append([]subscriber(nil), s.subscribers...)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.fn(snap)
	}
}

// begin starts an operation that talks to the backend. It clears the
// previous error signal and tags ctx with a request id.
func (s *Store) begin(ctx context.Context) context.Context {
	s.ClearError()
	if logger.RequestIDFrom(ctx) == "" {
		ctx = logger.WithRequestID(ctx, uuid.NewString())
	}
	return ctx
}

// fail records err as the store's error signal and returns it.
func (s *Store) fail(err error) error {
	return s.setError(err, false)
}

// failBackend is fail for errors returned by the REST client.
func (s *Store) failBackend(err error) error {
	return s.setError(err, api.Retryable(err))
}

func (s *Store) setError(err error, retryable bool) error {
	s.mu.Lock()
	s.errMsg, s.retryable = err.Error(), retryable
	s.mu.Unlock()
	s.metrics.Counter("orderstore.errors").Inc()
	s.notify()
	return err
}

func (s *Store) indexLocked(id string) int {
	for i, o := range s.orders {
		if o.ID == id {
			return i
		}
	}
	return -1
}

// LoadOrders replaces the collection with the backend's latest orders.
// Placeholders for orders still queued offline are kept in front, since the
// backend does not know them yet.
func (s *Store) LoadOrders(ctx context.Context, limit int) error {
	if limit <= 0 {
		limit = DefaultLoadLimit
	}
	ctx = s.begin(ctx)
	s.mu.Lock()
	s.loading = true
	s.mu.Unlock()
	s.notify()

	raws, err := s.api.ListOrders(ctx, limit)
	if err != nil {
		s.mu.Lock()
		s.loading = false
		s.mu.Unlock()
		s.log.Warn("load orders failed", zap.String("request_id", logger.RequestIDFrom(ctx)), zap.Error(err))
		return s.failBackend(err)
	}

	loaded := make([]*order.Order, 0, len(raws))
	for _, raw := range raws {
		o, err := order.MapOrder(raw)
		if err != nil {
			s.metrics.Counter("orderstore.unmapped").Inc()
			s.log.Warn("skipping unmappable order", zap.Error(err))
			continue
		}
		loaded = append(loaded, o)
	}

	s.mu.Lock()
	var queued []*order.Order
	for _, o := range s.orders {
		if o.Queued {
			queued = append(queued, o)
		}
	}
	s.orders = append(queued, loaded...)
	s.loading = false
	s.mu.Unlock()

	s.log.Debug("orders loaded", zap.Int("count", len(loaded)), zap.Int("queued", len(queued)))
	s.notify()
	return nil
}

// ReplacePlaceholder swaps the placeholder localID for the server's order.
// If the server order already arrived (via realtime), the placeholder is
// simply removed. A nil order removes the placeholder.
func (s *Store) ReplacePlaceholder(localID string, o *order.Order) {
	s.mu.Lock()
	idx := s.indexLocked(localID)
	switch {
	case o == nil || s.indexLocked(o.ID) >= 0:
		if idx >= 0 {
			s.orders = append(s.orders[:idx], s.orders[idx+1:]...)
		}
	case idx >= 0:
		s.orders[idx] = o.Clone()
	default:
		s.orders = append([]*order.Order{o.Clone()}, s.orders...)
	}
	s.mu.Unlock()

	fields := []zap.Field{zap.String("local_id", localID)}
	if o != nil {
		fields = append(fields, zap.String("order_id", o.ID))
	}
	s.log.Info("placeholder reconciled", fields...)
	s.notify()
}

// RestorePlaceholders puts back placeholders for orders queued by a previous
// session.
func (s *Store) RestorePlaceholders(placeholders []*order.Order) {
	if len(placeholders) == 0 {
		return
	}
	s.mu.Lock()
	var fresh []*order.Order
	for _, p := range placeholders {
		if s.indexLocked(p.ID) < 0 {
			fresh = append(fresh, p.Clone())
		}
	}
	s.orders = append(fresh, s.orders...)
	s.mu.Unlock()
	s.notify()
}

// replace swaps in o at the position of the order with the same id.
func (s *Store) replace(o *order.Order) bool {
	s.mu.Lock()
	idx := s.indexLocked(o.ID)
	if idx >= 0 {
		s.orders[idx] = o
	}
	s.mu.Unlock()
	if idx >= 0 {
		s.notify()
	}
	return idx >= 0
}

func (s *Store) prepend(o *order.Order) {
	s.mu.Lock()
	if idx := s.indexLocked(o.ID); idx >= 0 {
		s.orders[idx] = o
	} else {
		s.orders = append([]*order.Order{o}, s.orders...)
	}
	s.mu.Unlock()
	s.notify()
}
