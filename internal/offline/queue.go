// Package offline holds orders created while the terminal had no connection
// and replays them once it is back.
package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"orderstack-kds/internal/logger"
	"orderstack-kds/internal/metrics"
	"orderstack-kds/internal/order"
	"orderstack-kds/internal/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PlaceholderPrefix marks the order number of a queued order.
const PlaceholderPrefix = "QUEUED-"

var ErrNoRestaurant = errors.New("offline queue needs a restaurant id")

type QueuedOrder struct {
	LocalID      string              `json:"localId"`
	Payload      order.CreatePayload `json:"orderPayload"`
	QueuedAt     time.Time           `json:"queuedAt"`
	RestaurantID string              `json:"restaurantId"`
	RetryCount   int                 `json:"retryCount"`
}

// Submitter sends a create request to the backend and returns the raw order.
type Submitter interface {
	CreateOrder(ctx context.Context, payload order.CreatePayload) (json.RawMessage, error)
}

// Reconciler swaps a placeholder for the order the backend created. A nil
// order means the backend accepted the entry but its response could not be
// mapped; the placeholder is dropped and the next full load brings the order.
type Reconciler interface {
	ReplacePlaceholder(localID string, o *order.Order)
}

type Option func(*Queue)

func WithLogger(l *zap.Logger) Option {
	return func(q *Queue) { q.log = l }
}

func WithMetrics(r *metrics.Registry) Option {
	return func(q *Queue) { q.metrics = r }
}

func WithNow(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// SyncResult reports one sync pass.
type SyncResult struct {
	Synced    int
	Remaining int
	// Skipped is set when another sync was already running.
	Skipped bool
}

// Queue is one restaurant's pending creations, persisted under
// offline_queue:<restaurantID>.
type Queue struct {
	restaurantID string
	kv           storage.KV
	submitter    Submitter
	log          *zap.Logger
	metrics      *metrics.Registry
	now          func() time.Time

	mu         sync.Mutex
	entries    []QueuedOrder
	reconciler Reconciler
	syncing    bool
}

func New(restaurantID string, kv storage.KV, submitter Submitter, opts ...Option) *Queue {
	q := &Queue{
		restaurantID: restaurantID,
		kv:           kv,
		submitter:    submitter,
		log:          logger.Named("offline"),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func StorageKey(restaurantID string) string {
	return "offline_queue:" + restaurantID
}

// SetReconciler connects the queue to the store that shows its placeholders.
func (q *Queue) SetReconciler(r Reconciler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.reconciler = r
}

// Load reads the persisted queue, replacing whatever is in memory.
func (q *Queue) Load(ctx context.Context) error {
	raw, err := q.kv.Get(ctx, StorageKey(q.restaurantID))
	if errors.Is(err, storage.ErrNotFound) {
		q.mu.Lock()
		q.entries = nil
		q.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("load offline queue: %w", err)
	}

	var entries []QueuedOrder
	if err := json.Unmarshal(raw, &entries); err != nil {
		return fmt.Errorf("decode offline queue: %w", err)
	}
	q.mu.Lock()
	q.entries = entries
	q.mu.Unlock()
	q.log.Info("offline queue loaded",
		zap.String("restaurant_id", q.restaurantID),
		zap.Int("entries", len(entries)),
	)
	return nil
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Entries returns a copy of the queue in replay order.
func (q *Queue) Entries() []QueuedOrder {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]QueuedOrder(nil), q.entries...)
}

// Placeholders rebuilds the placeholder order of every queued entry.
func (q *Queue) Placeholders() []*order.Order {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*order.Order, 0, len(q.entries))
	for _, e := range q.entries {
		out = append(out, Placeholder(e))
	}
	return out
}

// Enqueue stores payload for later replay and returns the placeholder order
// to show in its place. The queue is persisted before Enqueue returns.
func (q *Queue) Enqueue(ctx context.Context, payload order.CreatePayload) (*order.Order, error) {
	if q.restaurantID == "" {
		return nil, ErrNoRestaurant
	}
	entry := QueuedOrder{
		LocalID:      uuid.NewString(),
		Payload:      payload,
		QueuedAt:     q.now().UTC(),
		RestaurantID: q.restaurantID,
	}

	q.mu.Lock()
	q.entries = append(q.entries, entry)
	if err := q.persistLocked(ctx); err != nil {
		q.entries = q.entries[:len(q.entries)-1]
		q.mu.Unlock()
		return nil, err
	}
	size := len(q.entries)
	q.mu.Unlock()

	q.metrics.Counter("offline.enqueued").Inc()
	q.log.Info("order queued offline",
		zap.String("restaurant_id", q.restaurantID),
		zap.String("local_id", entry.LocalID),
		zap.Int("queue_size", size),
	)
	return Placeholder(entry), nil
}

// Sync replays the queue in order. The first failure increments that entry's
// retry count and ends the pass; later entries wait for the next sync.
// Overlapping calls return immediately with Skipped set.
func (q *Queue) Sync(ctx context.Context) (SyncResult, error) {
	q.mu.Lock()
	if q.syncing {
		q.mu.Unlock()
		return SyncResult{Skipped: true}, nil
	}
	q.syncing = true
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.syncing = false
		q.mu.Unlock()
	}()

	var res SyncResult
	for {
		q.mu.Lock()
		if len(q.entries) == 0 {
			q.mu.Unlock()
			break
		}
		head := q.entries[0]
		q.mu.Unlock()

		raw, err := q.submitter.CreateOrder(ctx, head.Payload)
		if err != nil {
			q.mu.Lock()
			if len(q.entries) > 0 && q.entries[0].LocalID == head.LocalID {
				q.entries[0].RetryCount++
			}
			if perr := q.persistLocked(ctx); perr != nil {
				q.log.Warn("persist after failed replay", zap.Error(perr))
			}
			res.Remaining = len(q.entries)
			q.mu.Unlock()

			q.metrics.Counter("offline.replay_failures").Inc()
			q.log.Warn("offline replay failed, halting sync",
				zap.String("local_id", head.LocalID),
				zap.Int("remaining", res.Remaining),
				zap.Error(err),
			)
			return res, fmt.Errorf("replay %s: %w", head.LocalID, err)
		}

		mapped, mapErr := order.MapOrder(raw)
		if mapErr != nil {
			q.log.Error("replayed order response could not be mapped",
				zap.String("local_id", head.LocalID),
				zap.Error(mapErr),
			)
			mapped = nil
		}

		q.mu.Lock()
		q.removeLocked(head.LocalID)
		if perr := q.persistLocked(ctx); perr != nil {
			q.log.Warn("persist after replay", zap.Error(perr))
		}
		reconciler := q.reconciler
		q.mu.Unlock()

		if reconciler != nil {
			reconciler.ReplacePlaceholder(head.LocalID, mapped)
		}
		res.Synced++
		q.metrics.Counter("offline.replayed").Inc()
	}

	if res.Synced > 0 {
		q.log.Info("offline queue synced",
			zap.String("restaurant_id", q.restaurantID),
			zap.Int("synced", res.Synced),
		)
	}
	return res, nil
}

func (q *Queue) removeLocked(localID string) {
	for i, e := range q.entries {
		if e.LocalID == localID {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return
		}
	}
}

func (q *Queue) persistLocked(ctx context.Context) error {
	key := StorageKey(q.restaurantID)
	if len(q.entries) == 0 {
		if err := q.kv.Delete(ctx, key); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("clear offline queue: %w", err)
		}
		return nil
	}
	raw, err := json.Marshal(q.entries)
	if err != nil {
		return fmt.Errorf("encode offline queue: %w", err)
	}
	if err := q.kv.Put(ctx, key, raw); err != nil {
		return fmt.Errorf("persist offline queue: %w", err)
	}
	return nil
}
