// Package printing tracks kitchen ticket print jobs per order.
package printing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"orderstack-kds/internal/clock"
	"orderstack-kds/internal/logger"
	"orderstack-kds/internal/metrics"

	"go.uber.org/zap"
)

type Status string

const (
	StatusNone     Status = "none"
	StatusPrinting Status = "printing"
	StatusPrinted  Status = "printed"
	StatusFailed   Status = "failed"
)

const DefaultTimeout = 30 * time.Second

var ErrNoReprinter = errors.New("no reprint endpoint configured")

// Reprinter asks the backend to print an order's ticket again.
type Reprinter interface {
	Reprint(ctx context.Context, orderID string) error
}

type Option func(*Tracker)

func WithClock(c clock.Clock) Option {
	return func(t *Tracker) { t.clock = c }
}

func WithTimeout(d time.Duration) Option {
	return func(t *Tracker) { t.timeout = d }
}

func WithReprinter(r Reprinter) Option {
	return func(t *Tracker) { t.reprinter = r }
}

func WithLogger(l *zap.Logger) Option {
	return func(t *Tracker) { t.log = l }
}

func WithMetrics(r *metrics.Registry) Option {
	return func(t *Tracker) { t.metrics = r }
}

type job struct {
	status Status
	gen    uint64
	timer  clock.Timer
}

type listener struct {
	id int
	fn func(orderID string, s Status)
}

// Tracker holds print status per order id. A job left in printing for longer
// than the timeout becomes failed.
type Tracker struct {
	clock     clock.Clock
	timeout   time.Duration
	reprinter Reprinter
	log       *zap.Logger
	metrics   *metrics.Registry

	mu        sync.Mutex
	jobs      map[string]*job
	listeners []listener
	nextID    int
}

func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		clock:   clock.Real(),
		timeout: DefaultTimeout,
		log:     logger.Named("printing"),
		jobs:    make(map[string]*job),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tracker) Status(orderID string) Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	if j, ok := t.jobs[orderID]; ok {
		return j.status
	}
	return StatusNone
}

// Snapshot returns every tracked order's status.
func (t *Tracker) Snapshot() map[string]Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]Status, len(t.jobs))
	for id, j := range t.jobs {
		out[id] = j.status
	}
	return out
}

// Subscribe registers fn for every status change.
func (t *Tracker) Subscribe(fn func(orderID string, s Status)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	id := t.nextID
	t.listeners = append(t.listeners, listener{id: id, fn: fn})
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		for i, l := range t.listeners {
			if l.id == id {
				t.listeners = append(t.listeners[:i:i], t.listeners[i+1:]...)
				return
			}
		}
	}
}

// Begin enters printing for orderID and (re)arms its timeout.
func (t *Tracker) Begin(orderID string) {
	if orderID == "" {
		return
	}
	t.mu.Lock()
	j := t.jobLocked(orderID)
	if j.timer != nil {
		j.timer.Stop()
	}
	j.gen++
	gen := j.gen
	j.status = StatusPrinting
	j.timer = t.clock.AfterFunc(t.timeout, func() { t.expire(orderID, gen) })
	t.mu.Unlock()

	t.metrics.Counter("printing.started").Inc()
	t.log.Debug("print started", zap.String("order_id", orderID), zap.Duration("timeout", t.timeout))
	t.notify(orderID, StatusPrinting)
}

func (t *Tracker) MarkPrinted(orderID string) {
	t.resolve(orderID, StatusPrinted)
}

func (t *Tracker) MarkFailed(orderID string) {
	t.resolve(orderID, StatusFailed)
}

// Retry re-enters printing and asks the backend to reprint. A rejected
// request fails the job immediately.
func (t *Tracker) Retry(ctx context.Context, orderID string) error {
	if t.reprinter == nil {
		return ErrNoReprinter
	}
	t.Begin(orderID)
	t.metrics.Counter("printing.retries").Inc()
	if err := t.reprinter.Reprint(ctx, orderID); err != nil {
		t.log.Warn("reprint request failed", zap.String("order_id", orderID), zap.Error(err))
		t.MarkFailed(orderID)
		return fmt.Errorf("reprint %s: %w", orderID, err)
	}
	return nil
}

// Forget drops orderID and cancels its timeout.
func (t *Tracker) Forget(orderID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if j, ok := t.jobs[orderID]; ok {
		if j.timer != nil {
			j.timer.Stop()
		}
		delete(t.jobs, orderID)
	}
}

func (t *Tracker) resolve(orderID string, s Status) {
	if orderID == "" {
		return
	}
	t.mu.Lock()
	j := t.jobLocked(orderID)
	if j.timer != nil {
		j.timer.Stop()
		j.timer = nil
	}
	j.gen++
	changed := j.status != s
	j.status = s
	t.mu.Unlock()

	if s == StatusPrinted {
		t.metrics.Counter("printing.printed").Inc()
	} else {
		t.metrics.Counter("printing.failed").Inc()
	}
	if changed {
		t.notify(orderID, s)
	}
}

func (t *Tracker) expire(orderID string, gen uint64) {
	t.mu.Lock()
	j, ok := t.jobs[orderID]
	if !ok || j.gen != gen || j.status != StatusPrinting {
		t.mu.Unlock()
		return
	}
	j.status = StatusFailed
	j.timer = nil
	t.mu.Unlock()

	t.metrics.Counter("printing.timeouts").Inc()
	t.log.Warn("print timed out", zap.String("order_id", orderID), zap.Duration("timeout", t.timeout))
	t.notify(orderID, StatusFailed)
}

func (t *Tracker) jobLocked(orderID string) *job {
	j, ok := t.jobs[orderID]
	if !ok {
		j = &job{status: StatusNone}
		t.jobs[orderID] = j
	}
	return j
}

func (t *Tracker) notify(orderID string, s Status) {
	t.mu.Lock()
	ls := append([]listener(nil), t.listeners...)
	t.mu.Unlock()
	for _, l := range ls {
		l.fn(orderID, s)
	}
}
