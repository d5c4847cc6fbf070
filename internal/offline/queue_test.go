package offline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"orderstack-kds/internal/metrics"
	"orderstack-kds/internal/order"
	"orderstack-kds/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockSubmitter struct {
	mock.Mock
}

func (m *MockSubmitter) CreateOrder(ctx context.Context, payload order.CreatePayload) (json.RawMessage, error) {
	args := m.Called(ctx, payload)
	raw, _ := args.Get(0).(json.RawMessage)
	return raw, args.Error(1)
}

type recordingReconciler struct {
	mu       sync.Mutex
	replaced map[string]*order.Order
	order    []string
}

func (r *recordingReconciler) ReplacePlaceholder(localID string, o *order.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.replaced == nil {
		r.replaced = map[string]*order.Order{}
	}
	r.replaced[localID] = o
	r.order = append(r.order, localID)
}

type MockKV struct {
	mock.Mock
}

func (m *MockKV) Get(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)
	raw, _ := args.Get(0).([]byte)
	return raw, args.Error(1)
}

func (m *MockKV) Put(ctx context.Context, key string, value []byte) error {
	return m.Called(ctx, key, value).Error(0)
}

func (m *MockKV) Delete(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

var queuedAt = time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)

func takeout(menuItems ...string) order.CreatePayload {
	p := order.CreatePayload{
		OrderType: "takeout",
		Customer:  &order.PayloadCustomer{Name: "Ana"},
	}
	for _, id := range menuItems {
		p.Items = append(p.Items, order.PayloadItem{MenuItemID: id, Name: strings.ToUpper(id), Quantity: 1, UnitPrice: 9.5})
	}
	return p
}

func newTestQueue(kv storage.KV, sub Submitter) *Queue {
	return New("r-1", kv, sub,
		WithLogger(zap.NewNop()),
		WithNow(func() time.Time { return queuedAt }),
	)
}

func TestQueue_Enqueue(t *testing.T) {
	kv := storage.NewMemory()
	q := newTestQueue(kv, new(MockSubmitter))
	ctx := context.Background()

	ph, err := q.Enqueue(ctx, takeout("burger", "fries"))
	require.NoError(t, err)

	assert.True(t, ph.Queued)
	assert.True(t, IsPlaceholder(ph))
	assert.True(t, strings.HasPrefix(ph.OrderNumber, PlaceholderPrefix))
	assert.Equal(t, order.StatusReceived, ph.Status)
	assert.Equal(t, order.DiningTakeout, ph.DiningOption.Type)
	assert.Equal(t, queuedAt, ph.Timestamps.CreatedAt)
	require.Len(t, ph.Checks, 1)
	assert.Len(t, ph.Checks[0].Selections, 2)
	assert.Equal(t, order.Money(0), ph.TotalAmount)
	assert.Equal(t, order.Money(0), ph.Checks[0].Selections[0].Total)
	assert.Equal(t, "Ana", ph.Customer.Name)

	t.Run("persisted immediately", func(t *testing.T) {
		raw, err := kv.Get(ctx, "offline_queue:r-1")
		require.NoError(t, err)
		var stored []QueuedOrder
		require.NoError(t, json.Unmarshal(raw, &stored))
		require.Len(t, stored, 1)
		assert.Equal(t, ph.ID, stored[0].LocalID)
		assert.Equal(t, "r-1", stored[0].RestaurantID)
		assert.Equal(t, 0, stored[0].RetryCount)
	})

	t.Run("reload restores placeholders", func(t *testing.T) {
		again := newTestQueue(kv, new(MockSubmitter))
		require.NoError(t, again.Load(ctx))
		assert.Equal(t, 1, again.Len())
		phs := again.Placeholders()
		require.Len(t, phs, 1)
		assert.Equal(t, ph, phs[0])
	})

	t.Run("queues are restaurant scoped", func(t *testing.T) {
		other := New("r-2", kv, new(MockSubmitter), WithLogger(zap.NewNop()))
		require.NoError(t, other.Load(ctx))
		assert.Equal(t, 0, other.Len())
	})
}

func TestQueue_EnqueuePersistFailure(t *testing.T) {
	kv := new(MockKV)
	kv.On("Put", mock.Anything, "offline_queue:r-1", mock.Anything).Return(errors.New("disk full"))
	q := newTestQueue(kv, new(MockSubmitter))

	_, err := q.Enqueue(context.Background(), takeout("burger"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 0, q.Len())
}

func TestQueue_Sync(t *testing.T) {
	ctx := context.Background()

	t.Run("replays in order and reconciles", func(t *testing.T) {
		kv := storage.NewMemory()
		sub := new(MockSubmitter)
		reg := metrics.NewRegistry()
		q := New("r-1", kv, sub, WithLogger(zap.NewNop()), WithMetrics(reg))
		rec := &recordingReconciler{}
		q.SetReconciler(rec)

		first, err := q.Enqueue(ctx, takeout("burger"))
		require.NoError(t, err)
		second, err := q.Enqueue(ctx, takeout("salad"))
		require.NoError(t, err)

		sub.On("CreateOrder", mock.Anything, mock.MatchedBy(func(p order.CreatePayload) bool {
			return p.Items[0].MenuItemID == "burger"
		})).Return(json.RawMessage(`{"id":"srv-1","orderNumber":"1001","status":"pending"}`), nil).Once()
		sub.On("CreateOrder", mock.Anything, mock.MatchedBy(func(p order.CreatePayload) bool {
			return p.Items[0].MenuItemID == "salad"
		})).Return(json.RawMessage(`{"id":"srv-2","orderNumber":"1002","status":"pending"}`), nil).Once()

		res, err := q.Sync(ctx)
		require.NoError(t, err)
		assert.Equal(t, SyncResult{Synced: 2}, res)
		assert.Equal(t, 0, q.Len())
		assert.Equal(t, []string{first.ID, second.ID}, rec.order)
		assert.Equal(t, "srv-1", rec.replaced[first.ID].ID)
		assert.False(t, rec.replaced[first.ID].Queued)
		assert.Equal(t, uint64(2), reg.Counter("offline.replayed").Load())

		_, err = kv.Get(ctx, "offline_queue:r-1")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		sub.AssertExpectations(t)
	})

	t.Run("first failure halts the pass", func(t *testing.T) {
		kv := storage.NewMemory()
		sub := new(MockSubmitter)
		q := newTestQueue(kv, sub)
		rec := &recordingReconciler{}
		q.SetReconciler(rec)

		_, err := q.Enqueue(ctx, takeout("burger"))
		require.NoError(t, err)
		_, err = q.Enqueue(ctx, takeout("salad"))
		require.NoError(t, err)

		sub.On("CreateOrder", mock.Anything, mock.Anything).Return(nil, errors.New("network down")).Once()

		res, err := q.Sync(ctx)
		require.Error(t, err)
		assert.Equal(t, 0, res.Synced)
		assert.Equal(t, 2, res.Remaining)
		sub.AssertNumberOfCalls(t, "CreateOrder", 1)
		assert.Empty(t, rec.order)

		entries := q.Entries()
		assert.Equal(t, 1, entries[0].RetryCount)
		assert.Equal(t, 0, entries[1].RetryCount)

		reloaded := newTestQueue(kv, sub)
		require.NoError(t, reloaded.Load(ctx))
		assert.Equal(t, 1, reloaded.Entries()[0].RetryCount, "retry count is persisted")
	})

	t.Run("unmappable response still dequeues", func(t *testing.T) {
		sub := new(MockSubmitter)
		q := newTestQueue(storage.NewMemory(), sub)
		rec := &recordingReconciler{}
		q.SetReconciler(rec)

		ph, err := q.Enqueue(ctx, takeout("burger"))
		require.NoError(t, err)
		sub.On("CreateOrder", mock.Anything, mock.Anything).Return(json.RawMessage(`{"orderNumber":"1001"}`), nil)

		res, err := q.Sync(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Synced)
		require.Contains(t, rec.replaced, ph.ID)
		assert.Nil(t, rec.replaced[ph.ID])
	})

	t.Run("overlapping sync is skipped", func(t *testing.T) {
		sub := new(MockSubmitter)
		q := newTestQueue(storage.NewMemory(), sub)
		_, err := q.Enqueue(ctx, takeout("burger"))
		require.NoError(t, err)

		entered := make(chan struct{})
		release := make(chan struct{})
		sub.On("CreateOrder", mock.Anything, mock.Anything).
			Run(func(mock.Arguments) {
				close(entered)
				<-release
			}).
			Return(json.RawMessage(`{"id":"srv-1"}`), nil).Once()

		done := make(chan SyncResult)
		go func() {
			res, _ := q.Sync(ctx)
			done <- res
		}()
		<-entered

		res, err := q.Sync(ctx)
		require.NoError(t, err)
		assert.True(t, res.Skipped)

		close(release)
		assert.Equal(t, 1, (<-done).Synced)
		sub.AssertNumberOfCalls(t, "CreateOrder", 1)
	})

	t.Run("empty queue", func(t *testing.T) {
		q := newTestQueue(storage.NewMemory(), new(MockSubmitter))
		res, err := q.Sync(ctx)
		require.NoError(t, err)
		assert.Equal(t, SyncResult{}, res)
	})
}

func TestQueue_LoadCorrupt(t *testing.T) {
	kv := storage.NewMemory()
	require.NoError(t, kv.Put(context.Background(), StorageKey("r-1"), []byte("{broken")))
	q := newTestQueue(kv, new(MockSubmitter))
	err := q.Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode offline queue")
}
