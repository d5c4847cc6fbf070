package printing

import (
	"context"
	"errors"
	"testing"
	"time"

	"orderstack-kds/internal/clock"
	"orderstack-kds/internal/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type MockReprinter struct {
	mock.Mock
}

func (m *MockReprinter) Reprint(ctx context.Context, orderID string) error {
	args := m.Called(ctx, orderID)
	return args.Error(0)
}

func newTestTracker(opts ...Option) (*Tracker, *clock.Fake) {
	fc := clock.NewFake(time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC))
	base := []Option{WithClock(fc), WithLogger(zap.NewNop())}
	return NewTracker(append(base, opts...)...), fc
}

func TestTracker_Timeout(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	tr, fc := newTestTracker(WithLogger(zap.New(core)))

	assert.Equal(t, StatusNone, tr.Status("o-1"))

	tr.Begin("o-1")
	assert.Equal(t, StatusPrinting, tr.Status("o-1"))

	fc.Advance(29 * time.Second)
	assert.Equal(t, StatusPrinting, tr.Status("o-1"))

	fc.Advance(time.Second)
	assert.Equal(t, StatusFailed, tr.Status("o-1"))
	require.Equal(t, 1, logs.FilterMessage("print timed out").Len())
}

func TestTracker_ResolutionCancelsTimeout(t *testing.T) {
	reg := metrics.NewRegistry()
	tr, fc := newTestTracker(WithMetrics(reg))

	tr.Begin("o-1")
	fc.Advance(10 * time.Second)
	tr.MarkPrinted("o-1")
	assert.Equal(t, 0, fc.Pending())

	fc.Advance(time.Minute)
	assert.Equal(t, StatusPrinted, tr.Status("o-1"))
	assert.Equal(t, uint64(0), reg.Counter("printing.timeouts").Load())

	tr.Begin("o-2")
	tr.MarkFailed("o-2")
	assert.Equal(t, StatusFailed, tr.Status("o-2"))
	assert.Equal(t, 0, fc.Pending())
}

func TestTracker_BeginRearmsTimeout(t *testing.T) {
	tr, fc := newTestTracker()

	tr.Begin("o-1")
	fc.Advance(20 * time.Second)
	tr.Begin("o-1")
	fc.Advance(20 * time.Second)
	assert.Equal(t, StatusPrinting, tr.Status("o-1"), "first timer must not fail the second job")

	fc.Advance(10 * time.Second)
	assert.Equal(t, StatusFailed, tr.Status("o-1"))
}

func TestTracker_Retry(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		rp := new(MockReprinter)
		rp.On("Reprint", mock.Anything, "o-1").Return(nil)
		tr, fc := newTestTracker(WithReprinter(rp))

		tr.Begin("o-1")
		fc.Advance(30 * time.Second)
		require.Equal(t, StatusFailed, tr.Status("o-1"))

		require.NoError(t, tr.Retry(context.Background(), "o-1"))
		assert.Equal(t, StatusPrinting, tr.Status("o-1"))
		assert.Equal(t, 1, fc.Pending())

		fc.Advance(30 * time.Second)
		assert.Equal(t, StatusFailed, tr.Status("o-1"))
		rp.AssertExpectations(t)
	})

	t.Run("Backend rejects", func(t *testing.T) {
		rp := new(MockReprinter)
		rp.On("Reprint", mock.Anything, "o-2").Return(errors.New("printer offline"))
		tr, fc := newTestTracker(WithReprinter(rp))

		err := tr.Retry(context.Background(), "o-2")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "printer offline")
		assert.Equal(t, StatusFailed, tr.Status("o-2"))
		assert.Equal(t, 0, fc.Pending())
	})

	t.Run("No reprinter", func(t *testing.T) {
		tr, _ := newTestTracker()
		assert.ErrorIs(t, tr.Retry(context.Background(), "o-3"), ErrNoReprinter)
		assert.Equal(t, StatusNone, tr.Status("o-3"))
	})
}

func TestTracker_SubscribeAndForget(t *testing.T) {
	tr, fc := newTestTracker()

	var seen []Status
	unsubscribe := tr.Subscribe(func(id string, s Status) {
		assert.Equal(t, "o-1", id)
		seen = append(seen, s)
	})

	tr.Begin("o-1")
	fc.Advance(30 * time.Second)
	assert.Equal(t, []Status{StatusPrinting, StatusFailed}, seen)

	unsubscribe()
	tr.Begin("o-1")
	assert.Len(t, seen, 2)

	tr.Forget("o-1")
	assert.Equal(t, 0, fc.Pending())
	assert.Equal(t, StatusNone, tr.Status("o-1"))
	assert.Empty(t, tr.Snapshot())
}
