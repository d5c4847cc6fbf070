package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"orderstack-kds/internal/auth"
	"orderstack-kds/internal/clock"
	"orderstack-kds/internal/logger"
	"orderstack-kds/internal/metrics"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	ErrNoRestaurant = errors.New("restaurant id is required")
	ErrNotConnected = errors.New("realtime channel is not connected")
)

// Config controls connection, reconnect and keep-alive behaviour.
type Config struct {
	URL   string
	Token string

	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
	MaxRetries    int

	HeartbeatInterval time.Duration
	PollInterval      time.Duration
	DialTimeout       time.Duration
	WriteTimeout      time.Duration
}

func DefaultConfig(socketURL, token string) Config {
	return Config{
		URL:               socketURL,
		Token:             token,
		RetryDelay:        1 * time.Second,
		MaxRetryDelay:     30 * time.Second,
		MaxRetries:        5,
		HeartbeatInterval: 15 * time.Second,
		PollInterval:      30 * time.Second,
		DialTimeout:       10 * time.Second,
		WriteTimeout:      5 * time.Second,
	}
}

// Dialer opens the websocket. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

type Option func(*Transport)

func WithDialer(d Dialer) Option {
	return func(t *Transport) { t.dialer = d }
}

func WithClock(c clock.Clock) Option {
	return func(t *Transport) { t.clock = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(t *Transport) { t.log = l }
}

func WithMetrics(r *metrics.Registry) Option {
	return func(t *Transport) { t.metrics = r }
}

func WithDeviceID(id string) Option {
	return func(t *Transport) { t.deviceID = id }
}

type subscriber[T any] struct {
	id int
	fn T
}

// Transport keeps one restaurant's event channel alive. After MaxRetries
// failed reconnects it degrades to polling: poll observers run every
// PollInterval and each poll also retries the socket.
type Transport struct {
	cfg      Config
	dialer   Dialer
	clock    clock.Clock
	log      *zap.Logger
	metrics  *metrics.Registry
	deviceID string

	mu           sync.Mutex
	status       Status
	restaurantID string
	role         string
	session      uint64
	conn         *websocket.Conn
	attempts     int
	heartbeat    clock.Timer
	reconnect    clock.Timer
	poll         clock.Timer

	nextID     int
	events     []subscriber[func(Event)]
	statusSubs []subscriber[func(Status)]
	pollSubs   []subscriber[func(context.Context)]

	writeMu sync.Mutex
}

func New(cfg Config, opts ...Option) *Transport {
	t := &Transport{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.DialTimeout, Proxy: http.ProxyFromEnvironment},
		clock:  clock.Real(),
		log:    logger.Named("realtime"),
		status: StatusDisconnected,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Transport) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *Transport) Connected() bool {
	return t.Status() == StatusConnected
}

func (t *Transport) DeviceID() string {
	return t.deviceID
}

// Connect joins restaurantID's channel. Dial failures are not returned; they
// feed the reconnect path and show up through Status and OnStatus.
func (t *Transport) Connect(ctx context.Context, restaurantID, role string) error {
	if restaurantID == "" {
		return ErrNoRestaurant
	}

	t.mu.Lock()
	if t.status == StatusConnected && t.conn != nil {
		t.restaurantID, t.role = restaurantID, role
		t.mu.Unlock()
		return t.join()
	}
	t.stopTimersLocked()
	t.session++
	session := t.session
	t.restaurantID, t.role = restaurantID, role
	t.attempts = 0
	changed := t.setStatusLocked(StatusConnecting)
	t.mu.Unlock()

	t.notifyStatus(changed)
	t.dial(ctx, session)
	return nil
}

// Disconnect closes the channel and cancels heartbeat, reconnect and poll
// timers. Subscribers are kept.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	t.session++
	t.stopTimersLocked()
	conn := t.conn
	t.conn = nil
	t.attempts = 0
	changed := t.setStatusLocked(StatusDisconnected)
	t.mu.Unlock()

	if conn != nil {
		t.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(t.cfg.WriteTimeout))
		t.writeMu.Unlock()
		conn.Close()
	}
	t.notifyStatus(changed)
}

// OnEvent registers cb for every inbound event and returns a function that
// removes only that registration.
func (t *Transport) OnEvent(cb func(Event)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	id := t.nextID
	t.events = append(t.events, subscriber[func(Event)]{id: id, fn: cb})
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		t.events = removeSub(t.events, id)
	}
}

func (t *Transport) OnStatus(cb func(Status)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	id := t.nextID
	t.statusSubs = append(t.statusSubs, subscriber[func(Status)]{id: id, fn: cb})
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		t.statusSubs = removeSub(t.statusSubs, id)
	}
}

// OnPoll registers cb to run on every poll tick while degraded.
func (t *Transport) OnPoll(cb func(context.Context)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	id := t.nextID
	t.pollSubs = append(t.pollSubs, subscriber[func(context.Context)]{id: id, fn: cb})
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		t.pollSubs = removeSub(t.pollSubs, id)
	}
}

func removeSub[T any](subs []subscriber[T], id int) []subscriber[T] {
	out := subs[:0:0]
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}

func (t *Transport) endpoint(restaurantID, role string) string {
	u, err := url.Parse(t.cfg.URL)
	if err != nil {
		return t.cfg.URL
	}
	q := u.Query()
	q.Set("restaurantId", restaurantID)
	if t.deviceID != "" {
		q.Set("deviceId", t.deviceID)
	}
	if role != "" {
		q.Set("role", role)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (t *Transport) dial(ctx context.Context, session uint64) {
	t.mu.Lock()
	if session != t.session {
		t.mu.Unlock()
		return
	}
	target := t.endpoint(t.restaurantID, t.role)
	t.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	dialCtx, cancel := context.WithTimeout(ctx, t.cfg.DialTimeout)
	defer cancel()

	t.metrics.Counter("realtime.dials").Inc()
	conn, _, err := t.dialer.DialContext(dialCtx, target, auth.Header(t.cfg.Token, t.deviceID))

	t.mu.Lock()
	if session != t.session {
		t.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		t.handleDialFailureLocked(session, err)
		return
	}

	t.conn = conn
	t.attempts = 0
	if t.poll != nil {
		t.poll.Stop()
		t.poll = nil
	}
	if t.reconnect != nil {
		t.reconnect.Stop()
		t.reconnect = nil
	}
	t.heartbeat = t.clock.Every(t.cfg.HeartbeatInterval, func() { t.beat(conn) })
	changed := t.setStatusLocked(StatusConnected)
	restaurantID := t.restaurantID
	t.mu.Unlock()

	t.metrics.Counter("realtime.connects").Inc()
	t.log.Info("realtime channel connected", zap.String("restaurant_id", restaurantID))
	t.notifyStatus(changed)

	go t.readLoop(conn)
	if err := t.join(); err != nil {
		t.log.Warn("join restaurant failed", zap.Error(err))
		conn.Close()
	}
}

// handleDialFailureLocked must be called with t.mu held; it releases it.
func (t *Transport) handleDialFailureLocked(session uint64, err error) {
	if t.status == StatusPolling {
		t.mu.Unlock()
		t.log.Debug("reconnect from polling failed", zap.Error(err))
		return
	}
	prev := t.status
	t.status = StatusDisconnected
	t.scheduleReconnectLocked(session)
	status := t.status
	attempts := t.attempts
	t.mu.Unlock()

	t.log.Warn("realtime dial failed",
		zap.Error(err),
		zap.Int("attempt", attempts),
		zap.String("status", string(status)),
	)
	t.notifyStatus(status != prev)
}

// scheduleReconnectLocked arms the next backoff timer, or switches to polling
// once MaxRetries attempts have failed.
func (t *Transport) scheduleReconnectLocked(session uint64) {
	t.attempts++
	t.metrics.Counter("realtime.reconnect_attempts").Inc()
	if t.attempts >= t.cfg.MaxRetries {
		t.startPollingLocked(session)
		return
	}
	delay := Backoff(t.attempts, t.cfg.RetryDelay, t.cfg.MaxRetryDelay)
	t.log.Debug("scheduling reconnect", zap.Int("attempt", t.attempts), zap.Duration("delay", delay))
	t.reconnect = t.clock.AfterFunc(delay, func() { t.retry(session) })
}

func (t *Transport) retry(session uint64) {
	t.mu.Lock()
	if session != t.session || t.status == StatusConnected {
		t.mu.Unlock()
		return
	}
	t.reconnect = nil
	changed := false
	if t.status != StatusPolling {
		changed = t.setStatusLocked(StatusConnecting)
	}
	t.mu.Unlock()

	t.notifyStatus(changed)
	t.dial(context.Background(), session)
}

func (t *Transport) startPollingLocked(session uint64) {
	t.status = StatusPolling
	t.metrics.Counter("realtime.polling").Inc()
	t.log.Warn("reconnect attempts exhausted, falling back to polling",
		zap.Int("attempts", t.attempts),
		zap.Duration("interval", t.cfg.PollInterval),
	)
	t.poll = t.clock.Every(t.cfg.PollInterval, func() { t.pollTick(session) })
}

func (t *Transport) pollTick(session uint64) {
	t.mu.Lock()
	if session != t.session || t.status != StatusPolling {
		t.mu.Unlock()
		return
	}
	subs := append([]subscriber[func(context.Context)](nil), t.pollSubs...)
	t.mu.Unlock()

	ctx := context.Background()
	for _, s := range subs {
		s.fn(ctx)
	}
	t.retry(session)
}

func (t *Transport) readLoop(conn *websocket.Conn) {
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			t.connLost(conn, err)
			return
		}
		ev, ok := decodeEvent(frame)
		if !ok {
			continue
		}
		t.metrics.Counter("realtime.events").Inc()
		t.dispatch(ev)
	}
}

func (t *Transport) dispatch(ev Event) {
	t.mu.Lock()
	subs := append([]subscriber[func(Event)](nil), t.events...)
	t.mu.Unlock()
	for _, s := range subs {
		s.fn(ev)
	}
}

// connLost handles a dropped connection. Drops of connections that are no
// longer current (closed by Disconnect or replaced) are ignored.
func (t *Transport) connLost(conn *websocket.Conn, cause error) {
	t.mu.Lock()
	if t.conn != conn {
		t.mu.Unlock()
		return
	}
	t.conn = nil
	if t.heartbeat != nil {
		t.heartbeat.Stop()
		t.heartbeat = nil
	}
	conn.Close()
	prev := t.status
	t.status = StatusDisconnected
	t.scheduleReconnectLocked(t.session)
	changed := t.status != prev
	t.mu.Unlock()

	t.log.Warn("realtime channel dropped", zap.Error(cause))
	t.notifyStatus(changed)
}

func (t *Transport) beat(conn *websocket.Conn) {
	msg := heartbeatMessage{DeviceID: t.deviceID, Timestamp: t.clock.Now().UTC()}
	if err := t.write(conn, msgHeartbeat, msg); err != nil {
		t.log.Warn("heartbeat failed", zap.Error(err))
		// Closing unblocks the read loop, which takes the reconnect path.
		conn.Close()
		return
	}
	t.metrics.Counter("realtime.heartbeats").Inc()
}

func (t *Transport) join() error {
	t.mu.Lock()
	conn := t.conn
	msg := joinMessage{RestaurantID: t.restaurantID, DeviceID: t.deviceID, Role: t.role}
	t.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return t.write(conn, msgJoinRestaurant, msg)
}

func (t *Transport) write(conn *websocket.Conn, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(envelope{Event: event, Data: data})
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, frame)
}

func (t *Transport) setStatusLocked(s Status) bool {
	if t.status == s {
		return false
	}
	t.status = s
	return true
}

func (t *Transport) notifyStatus(changed bool) {
	if !changed {
		return
	}
	t.mu.Lock()
	status := t.status
	subs := append([]subscriber[func(Status)](nil), t.statusSubs...)
	t.mu.Unlock()
	for _, s := range subs {
		s.fn(status)
	}
}

func (t *Transport) stopTimersLocked() {
	for _, tm := range []*clock.Timer{&t.heartbeat, &t.reconnect, &t.poll} {
		if *tm != nil {
			(*tm).Stop()
			*tm = nil
		}
	}
}

// Backoff returns base * 2^(attempt-1), capped at limit.
func Backoff(attempt int, base, limit time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 31 {
		return limit
	}
	delay := base * time.Duration(1<<uint(attempt-1))
	if delay > limit || delay <= 0 {
		delay = limit
	}
	return delay
}
