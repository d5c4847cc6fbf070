package orderstore

import (
	"fmt"

	"orderstack-kds/internal/order"
	"orderstack-kds/internal/realtime"

	"go.uber.org/zap"
)

// ApplyEvent merges a realtime order event. New orders are prepended unless
// already present; updates and cancellations replace an existing entry in
// place and are dropped for unknown ids.
func (s *Store) ApplyEvent(ev realtime.Event) error {
	switch ev.Kind {
	case realtime.EventOrderNew, realtime.EventOrderUpdated, realtime.EventOrderCancelled:
	default:
		return nil
	}

	o, err := order.MapOrder(ev.Order)
	if err != nil {
		s.metrics.Counter("orderstore.unmapped").Inc()
		s.log.Warn("dropping unmappable realtime order", zap.String("event", string(ev.Kind)), zap.Error(err))
		return fmt.Errorf("%s: %w", ev.Kind, err)
	}
	if ev.Kind == realtime.EventOrderCancelled && o.Status != order.StatusVoided {
		now := s.clock.Now()
		o.Status = order.StatusVoided
		o.Timestamps.VoidedAt = &now
		o.Touch(now)
	}

	log := s.log.With(zap.String("event", string(ev.Kind)), zap.String("order_id", o.ID))

	s.mu.Lock()
	idx := s.indexLocked(o.ID)
	applied := false
	switch ev.Kind {
	case realtime.EventOrderNew:
		if idx < 0 {
			s.orders = append([]*order.Order{o}, s.orders...)
			applied = true
		}
	default:
		if idx >= 0 {
			s.orders[idx] = o
			applied = true
		}
	}
	s.mu.Unlock()

	if !applied {
		log.Debug("realtime event ignored")
		return nil
	}
	s.metrics.Counter("orderstore.events_applied").Inc()
	log.Debug("realtime event applied")
	s.notify()
	return nil
}
