// Package kds wires one restaurant's order engine together: REST client,
// realtime channel, order store, offline queue, pacing and print tracking.
package kds

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"

	"orderstack-kds/internal/api"
	"orderstack-kds/internal/auth"
	"orderstack-kds/internal/clock"
	"orderstack-kds/internal/config"
	"orderstack-kds/internal/logger"
	"orderstack-kds/internal/metrics"
	"orderstack-kds/internal/offline"
	"orderstack-kds/internal/order"
	"orderstack-kds/internal/orderstore"
	"orderstack-kds/internal/pacing"
	"orderstack-kds/internal/printing"
	"orderstack-kds/internal/realtime"
	"orderstack-kds/internal/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const DefaultRole = "kitchen"

var (
	ErrNoRestaurant = errors.New("no restaurant id in config or auth token")
	ErrNotReady     = errors.New("order is not ready for expo")
)

type Option func(*Terminal)

// WithStorage uses kv instead of opening STORAGE_DRIVER/STORAGE_DSN.
func WithStorage(kv storage.KV) Option {
	return func(t *Terminal) { t.kv = kv }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(t *Terminal) { t.httpClient = hc }
}

func WithDialer(d realtime.Dialer) Option {
	return func(t *Terminal) { t.dialer = d }
}

func WithClock(c clock.Clock) Option {
	return func(t *Terminal) { t.clock = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(t *Terminal) { t.log = l }
}

func WithMetrics(r *metrics.Registry) Option {
	return func(t *Terminal) { t.metrics = r }
}

// WithRole sets the role announced when joining the restaurant channel.
func WithRole(role string) Option {
	return func(t *Terminal) { t.role = role }
}

// Terminal is a single kitchen display station.
type Terminal struct {
	restaurantID string
	role         string
	deviceID     string

	kv         storage.KV
	closer     io.Closer
	httpClient *http.Client
	dialer     realtime.Dialer
	clock      clock.Clock
	log        *zap.Logger
	metrics    *metrics.Registry

	client    *api.Client
	transport *realtime.Transport
	tracker   *printing.Tracker
	queue     *offline.Queue
	store     *orderstore.Store
	engine    *pacing.Engine

	mu      sync.Mutex
	cancel  context.CancelFunc
	ticker  clock.Timer
	unsubs  []func()
	joined  atomic.Bool
	loaded  atomic.Bool
	closed  bool
	syncing sync.WaitGroup
}

// New builds a terminal from cfg. The auth token must be present and
// unexpired; the restaurant comes from cfg or, failing that, the token.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Terminal, error) {
	t := &Terminal{
		role:    DefaultRole,
		clock:   clock.Real(),
		metrics: metrics.NewRegistry(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.log == nil {
		t.log = logger.Named("kds")
	}

	claims, err := auth.CheckToken(cfg.AuthToken, t.clock.Now())
	if err != nil {
		return nil, err
	}
	t.restaurantID = cfg.RestaurantID
	if t.restaurantID == "" {
		t.restaurantID = claims.RestaurantID
	}
	if t.restaurantID == "" {
		return nil, ErrNoRestaurant
	}
	t.log = t.log.With(zap.String("restaurant_id", t.restaurantID))

	settings, err := pacing.FromConfig(cfg.Pacing)
	if err != nil {
		return nil, err
	}

	if t.kv == nil {
		st, err := storage.Open(cfg.StorageDriver, cfg.StorageDSN)
		if err != nil {
			return nil, err
		}
		t.kv, t.closer = st, st
	}

	t.deviceID, err = realtime.DeviceID(ctx, t.kv)
	if err != nil {
		t.closeStorage()
		return nil, err
	}

	apiOpts := []api.Option{
		api.WithDeviceID(t.deviceID),
		api.WithRateLimit(cfg.APIRateLimit, cfg.APIRateBurst),
		api.WithLogger(t.log.Named("api")),
		api.WithMetrics(t.metrics),
	}
	if t.httpClient != nil {
		apiOpts = append(apiOpts, api.WithHTTPClient(t.httpClient))
	}
	t.client = api.NewClient(cfg.APIURL, t.restaurantID, cfg.AuthToken, apiOpts...)

	rtOpts := []realtime.Option{
		realtime.WithClock(t.clock),
		realtime.WithLogger(t.log.Named("realtime")),
		realtime.WithMetrics(t.metrics),
		realtime.WithDeviceID(t.deviceID),
	}
	if t.dialer != nil {
		rtOpts = append(rtOpts, realtime.WithDialer(t.dialer))
	}
	t.transport = realtime.New(realtime.DefaultConfig(cfg.SocketURL, cfg.AuthToken), rtOpts...)

	t.tracker = printing.NewTracker(
		printing.WithClock(t.clock),
		printing.WithReprinter(t.client),
		printing.WithLogger(t.log.Named("printing")),
		printing.WithMetrics(t.metrics),
	)

	t.queue = offline.New(t.restaurantID, t.kv, t.client,
		offline.WithNow(t.clock.Now),
		offline.WithLogger(t.log.Named("offline")),
		offline.WithMetrics(t.metrics),
	)

	t.store = orderstore.New(t.client,
		orderstore.WithConnectivity(t.transport),
		orderstore.WithQueue(t.queue),
		orderstore.WithPrinter(t.tracker),
		orderstore.WithClock(t.clock),
		orderstore.WithLogger(t.log.Named("orderstore")),
		orderstore.WithMetrics(t.metrics),
	)
	t.queue.SetReconciler(t.store)

	t.engine = pacing.NewEngine(settings, t.store,
		pacing.WithClock(t.clock),
		pacing.WithLogger(t.log.Named("pacing")),
		pacing.WithMetrics(t.metrics),
	)

	return t, nil
}

func (t *Terminal) RestaurantID() string           { return t.restaurantID }
func (t *Terminal) DeviceID() string               { return t.deviceID }
func (t *Terminal) Store() *orderstore.Store       { return t.store }
func (t *Terminal) Queue() *offline.Queue          { return t.queue }
func (t *Terminal) Engine() *pacing.Engine         { return t.engine }
func (t *Terminal) Tracker() *printing.Tracker     { return t.tracker }
func (t *Terminal) Transport() *realtime.Transport { return t.transport }
func (t *Terminal) Metrics() *metrics.Registry     { return t.metrics }

// Start restores queued orders, loads the current orders, joins the realtime
// channel and starts pacing. A failed initial load is logged, not returned:
// the terminal keeps working offline and refreshes once connected.
func (t *Terminal) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(logger.WithRestaurant(ctx, t.restaurantID))

	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()

	if err := t.queue.Load(ctx); err != nil {
		t.log.Error("offline queue unreadable, starting empty", zap.Error(err))
	}
	t.store.RestorePlaceholders(t.queue.Placeholders())

	unsubs := []func(){
		t.store.Subscribe(t.syncPacing),
		t.transport.OnEvent(t.route),
		t.transport.OnStatus(func(s realtime.Status) { t.onStatus(ctx, s) }),
		t.transport.OnPoll(func(ctx context.Context) { t.refresh(ctx) }),
	}
	t.mu.Lock()
	t.unsubs = append(t.unsubs, unsubs...)
	t.mu.Unlock()

	if err := t.store.LoadOrders(ctx, 0); err != nil {
		t.log.Warn("initial order load failed", zap.Error(err))
	} else {
		t.loaded.Store(true)
	}

	if err := t.transport.Connect(ctx, t.restaurantID, t.role); err != nil {
		cancel()
		return fmt.Errorf("connect realtime: %w", err)
	}

	t.mu.Lock()
	t.ticker = t.engine.Start(ctx)
	t.mu.Unlock()

	t.log.Info("terminal started", zap.String("device_id", t.deviceID), zap.String("role", t.role))
	return nil
}

// Close stops the channel and timers and waits for an in-flight resync.
func (t *Terminal) Close() error {
	t.mu.Lock()
	cancel, ticker, unsubs := t.cancel, t.ticker, t.unsubs
	t.cancel, t.ticker, t.unsubs = nil, nil, nil
	t.closed = true
	t.mu.Unlock()

	t.transport.Disconnect()
	if ticker != nil {
		ticker.Stop()
	}
	for _, u := range unsubs {
		u()
	}
	if cancel != nil {
		cancel()
	}
	t.syncing.Wait()
	return t.closeStorage()
}

func (t *Terminal) closeStorage() error {
	if t.closer == nil {
		return nil
	}
	err := t.closer.Close()
	t.closer = nil
	return err
}

// syncPacing hands the server-side orders to the pacing engine. Queued
// placeholders cannot be fired, so they are left out.
func (t *Terminal) syncPacing(snap orderstore.Snapshot) {
	live := make([]*order.Order, 0, len(snap.Orders))
	for _, o := range snap.Orders {
		if !offline.IsPlaceholder(o) {
			live = append(live, o)
		}
	}
	t.engine.Sync(live)
}

func (t *Terminal) route(ev realtime.Event) {
	switch ev.Kind {
	case realtime.EventPrinted:
		t.tracker.MarkPrinted(ev.OrderID)
	case realtime.EventPrintFailed:
		t.tracker.MarkFailed(ev.OrderID)
	default:
		if err := t.store.ApplyEvent(ev); err != nil {
			t.log.Debug("realtime event not applied", zap.String("event", string(ev.Kind)), zap.Error(err))
			return
		}
		if ev.Kind == realtime.EventOrderCancelled && ev.OrderID != "" {
			t.tracker.Forget(ev.OrderID)
		}
	}
}

// onStatus replays the offline queue and refreshes orders after every
// reconnect. The first connect skips the refresh when Start already loaded
// and nothing is queued.
func (t *Terminal) onStatus(ctx context.Context, s realtime.Status) {
	t.log.Info("realtime status", zap.String("status", string(s)))
	if s != realtime.StatusConnected {
		return
	}
	first := !t.joined.Swap(true)
	if first && t.loaded.Load() && t.queue.Len() == 0 {
		return
	}

	// Add happens under mu so it cannot race Close's Wait.
	t.mu.Lock()
	if t.closed || ctx.Err() != nil {
		t.mu.Unlock()
		return
	}
	t.syncing.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.syncing.Done()
		t.resync(logger.WithRequestID(ctx, uuid.NewString()))
	}()
}

func (t *Terminal) resync(ctx context.Context) {
	if t.queue.Len() > 0 {
		res, err := t.queue.Sync(ctx)
		if err != nil {
			t.log.Warn("offline sync halted",
				zap.String("request_id", logger.RequestIDFrom(ctx)),
				zap.Int("synced", res.Synced),
				zap.Int("remaining", res.Remaining),
				zap.Error(err),
			)
		} else if !res.Skipped {
			t.log.Info("offline queue replayed", zap.Int("synced", res.Synced))
		}
	}
	t.refresh(ctx)
}

func (t *Terminal) refresh(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if err := t.store.LoadOrders(ctx, 0); err != nil {
		t.log.Warn("order refresh failed", zap.Error(err))
	}
}

// ExpoCheck confirms a ready order at the expo station and prints its ticket.
func (t *Terminal) ExpoCheck(orderID string) error {
	o, ok := t.store.GetOrder(orderID)
	if !ok {
		return orderstore.ErrOrderNotFound
	}
	if o.Status != order.StatusReadyForPickup {
		return fmt.Errorf("%w: %s is %s", ErrNotReady, orderID, o.Status)
	}
	t.tracker.Begin(orderID)
	return nil
}

// RetryPrint asks the backend to reprint orderID's ticket.
func (t *Terminal) RetryPrint(ctx context.Context, orderID string) error {
	if _, ok := t.store.GetOrder(orderID); !ok {
		return orderstore.ErrOrderNotFound
	}
	return t.tracker.Retry(ctx, orderID)
}

// SyncQueue replays the offline queue now, without waiting for a reconnect.
func (t *Terminal) SyncQueue(ctx context.Context) (offline.SyncResult, error) {
	t.mu.Lock()
	started := t.cancel != nil
	t.mu.Unlock()
	if !started {
		if err := t.queue.Load(ctx); err != nil {
			return offline.SyncResult{}, err
		}
	}
	return t.queue.Sync(ctx)
}
