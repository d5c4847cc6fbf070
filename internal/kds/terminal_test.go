package kds

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"orderstack-kds/internal/auth"
	"orderstack-kds/internal/clock"
	"orderstack-kds/internal/config"
	"orderstack-kds/internal/offline"
	"orderstack-kds/internal/order"
	"orderstack-kds/internal/printing"
	"orderstack-kds/internal/realtime"
	"orderstack-kds/internal/storage"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var start = time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

// backend fakes the restaurant REST API and realtime socket on one server.
type backend struct {
	srv *httptest.Server

	mu       sync.Mutex
	orders   []json.RawMessage
	lists    int
	created  int
	fires    []string
	reprints []string
	acceptWS bool
	conns    chan *websocket.Conn
}

func newBackend(t *testing.T, acceptWS bool, orders ...json.RawMessage) *backend {
	t.Helper()
	b := &backend{orders: orders, acceptWS: acceptWS, conns: make(chan *websocket.Conn, 4)}
	upgrader := websocket.Upgrader{}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /restaurant/r-1/orders", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.lists++
		_ = json.NewEncoder(w).Encode(b.orders)
	})
	mux.HandleFunc("POST /restaurant/r-1/orders", func(w http.ResponseWriter, r *http.Request) {
		var p order.CreatePayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			http.Error(w, `{"message":"bad payload"}`, http.StatusBadRequest)
			return
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		b.created++
		raw := json.RawMessage(fmt.Sprintf(
			`{"id":"srv-%d","orderNumber":"%d","status":"pending","orderType":%q,"createdAt":"2026-03-01T18:00:00Z","items":[{"id":"srv-%d-i1","menuItemId":%q,"quantity":%d}]}`,
			b.created, 1000+b.created, p.OrderType, b.created, p.Items[0].MenuItemID, p.Items[0].Quantity))
		b.orders = append([]json.RawMessage{raw}, b.orders...)
		_, _ = w.Write(raw)
	})
	mux.HandleFunc("PATCH /restaurant/r-1/orders/{id}/fire-course", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			CourseID string `json:"courseId"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		b.mu.Lock()
		b.fires = append(b.fires, r.PathValue("id")+"/"+body.CourseID)
		b.mu.Unlock()
		_, _ = w.Write([]byte(`{}`))
	})
	mux.HandleFunc("POST /restaurant/r-1/orders/{id}/reprint", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.reprints = append(b.reprints, r.PathValue("id"))
		b.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/socket", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		accept := b.acceptWS
		b.mu.Unlock()
		if !accept {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		b.conns <- conn
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	})

	b.srv = httptest.NewServer(mux)
	t.Cleanup(b.srv.Close)
	return b
}

func (b *backend) setAcceptWS(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.acceptWS = v
}

func (b *backend) listCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lists
}

func (b *backend) fired() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.fires...)
}

func (b *backend) push(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func token(t *testing.T, restaurantID string, exp time.Time) string {
	t.Helper()
	claims := &auth.Claims{
		UserID:       "u-1",
		Role:         "kitchen",
		RestaurantID: restaurantID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

func testConfig(t *testing.T, b *backend) *config.Config {
	return &config.Config{
		AppEnv:    "test",
		APIURL:    b.srv.URL,
		SocketURL: "ws" + strings.TrimPrefix(b.srv.URL, "http") + "/socket",
		AuthToken: token(t, "r-1", start.Add(time.Hour)),
		Pacing: config.Pacing{
			Mode:                 "disabled",
			DefaultPrepMinutes:   10,
			AutoFireDelaySeconds: 300,
		},
	}
}

func newTestTerminal(t *testing.T, cfg *config.Config, fc *clock.Fake) *Terminal {
	t.Helper()
	term, err := New(context.Background(), cfg,
		WithStorage(storage.NewMemory()),
		WithClock(fc),
		WithLogger(zap.NewNop()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = term.Close() })
	return term
}

func TestNew(t *testing.T) {
	b := newBackend(t, true)

	t.Run("restaurant from token", func(t *testing.T) {
		term := newTestTerminal(t, testConfig(t, b), clock.NewFake(start))
		assert.Equal(t, "r-1", term.RestaurantID())
		assert.NotEmpty(t, term.DeviceID())
	})

	t.Run("expired token", func(t *testing.T) {
		cfg := testConfig(t, b)
		cfg.AuthToken = token(t, "r-1", start.Add(-time.Minute))
		_, err := New(context.Background(), cfg, WithStorage(storage.NewMemory()), WithClock(clock.NewFake(start)), WithLogger(zap.NewNop()))
		assert.ErrorIs(t, err, auth.ErrTokenExpired)
	})

	t.Run("no restaurant anywhere", func(t *testing.T) {
		cfg := testConfig(t, b)
		cfg.AuthToken = token(t, "", start.Add(time.Hour))
		_, err := New(context.Background(), cfg, WithStorage(storage.NewMemory()), WithClock(clock.NewFake(start)), WithLogger(zap.NewNop()))
		assert.ErrorIs(t, err, ErrNoRestaurant)
	})

	t.Run("bad pacing mode", func(t *testing.T) {
		cfg := testConfig(t, b)
		cfg.Pacing.Mode = "whenever"
		_, err := New(context.Background(), cfg, WithStorage(storage.NewMemory()), WithClock(clock.NewFake(start)), WithLogger(zap.NewNop()))
		assert.Error(t, err)
	})

	t.Run("device id is stable across restarts", func(t *testing.T) {
		kv := storage.NewMemory()
		first, err := New(context.Background(), testConfig(t, b), WithStorage(kv), WithClock(clock.NewFake(start)), WithLogger(zap.NewNop()))
		require.NoError(t, err)
		second, err := New(context.Background(), testConfig(t, b), WithStorage(kv), WithClock(clock.NewFake(start)), WithLogger(zap.NewNop()))
		require.NoError(t, err)
		assert.Equal(t, first.DeviceID(), second.DeviceID())
	})
}

func TestTerminal_OfflineRoundTrip(t *testing.T) {
	b := newBackend(t, false, json.RawMessage(`{"id":"srv-0","orderNumber":"999","status":"preparing","createdAt":"2026-03-01T17:30:00Z"}`))
	fc := clock.NewFake(start)
	term := newTestTerminal(t, testConfig(t, b), fc)
	ctx := context.Background()

	require.NoError(t, term.Start(ctx))
	require.False(t, term.Transport().Connected())

	placeholder, err := term.Store().CreateOrder(ctx, order.CreatePayload{
		OrderType: "takeout",
		Items:     []order.PayloadItem{{MenuItemID: "burger", Name: "Burger", Quantity: 1}, {MenuItemID: "fries", Name: "Fries", Quantity: 1}},
	})
	require.NoError(t, err)

	snap := term.Store().Snapshot()
	require.Len(t, snap.Pending, 1)
	assert.True(t, strings.HasPrefix(snap.Pending[0].OrderNumber, offline.PlaceholderPrefix))
	assert.True(t, snap.Pending[0].Queued)
	assert.Equal(t, 1, snap.QueuedCount)
	assert.Equal(t, 1, term.Queue().Len())
	assert.Equal(t, 1, term.Engine().Tracked(), "placeholders are not paced")

	b.setAcceptWS(true)
	fc.Advance(time.Second)
	require.True(t, term.Transport().Connected())

	require.Eventually(t, func() bool {
		return term.Store().Snapshot().QueuedCount == 0 && term.Queue().Len() == 0
	}, 3*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		_, ok := term.Store().GetOrder("srv-1")
		return ok
	}, 3*time.Second, 10*time.Millisecond)

	snap = term.Store().Snapshot()
	var ids []string
	for _, o := range snap.Orders {
		ids = append(ids, o.ID)
		assert.False(t, o.Queued)
	}
	assert.ElementsMatch(t, []string{"srv-1", "srv-0"}, ids)
	_, stillThere := term.Store().GetOrder(placeholder.ID)
	assert.False(t, stillThere)

	got, _ := term.Store().GetOrder("srv-1")
	assert.Equal(t, "1001", got.OrderNumber)
	assert.Equal(t, uint64(1), term.Metrics().Counter("offline.replayed").Load())
}

const coursedOrder = `{"id":"o-1","orderNumber":"1042","status":"preparing","createdAt":"2026-03-01T17:55:00Z",
	"courses":[{"guid":"c-app","name":"Starters","sortOrder":1,"fireStatus":"READY","firedAt":"2026-03-01T17:56:00Z"},
		{"guid":"c-main","name":"Mains","sortOrder":2,"fireStatus":"PENDING"}],
	"items":[
		{"id":"s-1","menuItemId":"soup","quantity":1,"courseGuid":"c-app","fulfillmentStatus":"SENT"},
		{"id":"s-2","menuItemId":"steak","quantity":1,"courseGuid":"c-main","fulfillmentStatus":"HOLD"}
	]}`

func TestTerminal_AutoFire(t *testing.T) {
	b := newBackend(t, true, json.RawMessage(coursedOrder))
	fc := clock.NewFake(start)
	cfg := testConfig(t, b)
	cfg.Pacing.Mode = "auto_fire_timed"
	term := newTestTerminal(t, cfg, fc)

	require.NoError(t, term.Start(context.Background()))
	require.True(t, term.Transport().Connected())

	fc.Advance(time.Second)
	secs, ok := term.Engine().Countdown("o-1", "c-main")
	require.True(t, ok)
	assert.Equal(t, 300, secs)

	for i := 0; i < 299; i++ {
		fc.Advance(time.Second)
	}
	assert.Empty(t, b.fired())

	fc.Advance(time.Second)
	assert.Equal(t, []string{"o-1/c-main"}, b.fired())

	o, _ := term.Store().GetOrder("o-1")
	c, _ := o.Course("c-main")
	assert.Equal(t, order.FireFired, c.FireStatus)

	for i := 0; i < 30; i++ {
		fc.Advance(time.Second)
	}
	assert.Len(t, b.fired(), 1)
	_, ok = term.Engine().Countdown("o-1", "c-main")
	assert.False(t, ok, "fired course has no countdown")
}

func TestTerminal_PrintFlow(t *testing.T) {
	b := newBackend(t, true,
		json.RawMessage(`{"id":"o-ready","status":"ready","createdAt":"2026-03-01T17:00:00Z"}`),
		json.RawMessage(`{"id":"o-prep","status":"preparing","createdAt":"2026-03-01T17:10:00Z"}`),
	)
	fc := clock.NewFake(start)
	term := newTestTerminal(t, testConfig(t, b), fc)
	ctx := context.Background()
	require.NoError(t, term.Start(ctx))
	server := <-b.conns

	t.Run("expo check prints and printed event resolves", func(t *testing.T) {
		require.NoError(t, term.ExpoCheck("o-ready"))
		assert.Equal(t, printing.StatusPrinting, term.Tracker().Status("o-ready"))

		b.push(t, server, `{"event":"printed","data":{"orderId":"o-ready"}}`)
		require.Eventually(t, func() bool {
			return term.Tracker().Status("o-ready") == printing.StatusPrinted
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("expo check needs a ready order", func(t *testing.T) {
		assert.ErrorIs(t, term.ExpoCheck("o-prep"), ErrNotReady)
		assert.Error(t, term.ExpoCheck("missing"))
	})

	t.Run("timeout then manual retry", func(t *testing.T) {
		term.Tracker().Begin("o-prep")
		fc.Advance(printing.DefaultTimeout)
		assert.Equal(t, printing.StatusFailed, term.Tracker().Status("o-prep"))

		require.NoError(t, term.RetryPrint(ctx, "o-prep"))
		assert.Equal(t, printing.StatusPrinting, term.Tracker().Status("o-prep"))
		b.mu.Lock()
		assert.Equal(t, []string{"o-prep"}, b.reprints)
		b.mu.Unlock()

		b.push(t, server, `{"event":"print_failed","data":{"orderId":"o-prep"}}`)
		require.Eventually(t, func() bool {
			return term.Tracker().Status("o-prep") == printing.StatusFailed
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("realtime order events reach the store", func(t *testing.T) {
		b.push(t, server, `{"event":"order:new","data":{"id":"o-new","status":"pending"}}`)
		require.Eventually(t, func() bool {
			_, ok := term.Store().GetOrder("o-new")
			return ok
		}, 2*time.Second, 10*time.Millisecond)

		b.push(t, server, `{"event":"order:cancelled","data":{"id":"o-ready","status":"ready"}}`)
		require.Eventually(t, func() bool {
			o, _ := term.Store().GetOrder("o-ready")
			return o.Status == order.StatusVoided
		}, 2*time.Second, 10*time.Millisecond)
		assert.Equal(t, printing.StatusNone, term.Tracker().Status("o-ready"))
	})
}

func TestTerminal_ReconnectDuringClose(t *testing.T) {
	b := newBackend(t, true, json.RawMessage(`{"id":"o-1","orderNumber":"1001","status":"pending","createdAt":"2026-03-01T17:50:00Z"}`))
	fc := clock.NewFake(start)
	term := newTestTerminal(t, testConfig(t, b), fc)

	require.NoError(t, term.Start(context.Background()))
	require.Equal(t, 1, b.listCalls())
	assert.Positive(t, term.Metrics().Counter("api.requests").Load())

	require.NoError(t, term.Close())

	// A dial already in flight reports connected after shutdown.
	term.onStatus(context.Background(), realtime.StatusConnected)
	term.onStatus(context.Background(), realtime.StatusConnected)
	term.syncing.Wait()
	assert.Equal(t, 1, b.listCalls(), "no resync after close")
}
