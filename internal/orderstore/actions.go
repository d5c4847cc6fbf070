package orderstore

import (
	"context"
	"encoding/json"
	"fmt"

	"orderstack-kds/internal/api"
	"orderstack-kds/internal/logger"
	"orderstack-kds/internal/order"

	"go.uber.org/zap"
)

// UpdateOptions tunes UpdateOrderStatus.
type UpdateOptions struct {
	// SuppressPrint skips the ticket print normally started on ready.
	SuppressPrint bool
}

// CreateOrder validates payload, then submits it when connected or queues it
// offline. Either way the resulting order is prepended right away.
func (s *Store) CreateOrder(ctx context.Context, payload order.CreatePayload) (*order.Order, error) {
	ctx = s.begin(ctx)
	if err := payload.Validate(); err != nil {
		return nil, s.fail(err)
	}

	if s.conn != nil && !s.conn.Connected() {
		if s.queue == nil {
			return nil, s.fail(ErrOffline)
		}
		ph, err := s.queue.Enqueue(ctx, payload)
		if err != nil {
			s.log.Error("offline enqueue failed", zap.Error(err))
			return nil, s.fail(err)
		}
		s.prepend(ph)
		s.metrics.Counter("orderstore.created_offline").Inc()
		return ph.Clone(), nil
	}

	raw, err := s.api.CreateOrder(ctx, payload)
	if err != nil {
		s.log.Warn("create order failed", zap.Error(err))
		return nil, s.failBackend(fmt.Errorf("create order: %w", err))
	}
	o, err := order.MapOrder(raw)
	if err != nil {
		return nil, s.fail(fmt.Errorf("create order: %w", err))
	}
	s.prepend(o)
	s.metrics.Counter("orderstore.created").Inc()
	return o.Clone(), nil
}

// current returns a private copy of order id for mutation.
func (s *Store) current(id string) (*order.Order, error) {
	o, ok := s.GetOrder(id)
	if !ok {
		return nil, ErrOrderNotFound
	}
	if o.Queued {
		return nil, ErrQueuedOrder
	}
	return o, nil
}

// UpdateOrderStatus validates the transition, PATCHes it and replaces the
// order in place. Moving to READY_FOR_PICKUP starts a ticket print unless
// opts.SuppressPrint is set.
func (s *Store) UpdateOrderStatus(ctx context.Context, id string, to order.GuestOrderStatus, opts UpdateOptions) (*order.Order, error) {
	ctx = s.begin(ctx)
	cur, err := s.current(id)
	if err != nil {
		return nil, s.fail(err)
	}
	if err := order.ValidateTransition(cur.Status, to); err != nil {
		return nil, s.fail(err)
	}
	backend, err := order.StatusToBackend(to)
	if err != nil {
		return nil, s.fail(err)
	}

	raw, err := s.api.UpdateStatus(ctx, id, backend)
	if err != nil {
		s.log.Warn("status update failed",
			zap.String("order_id", id),
			zap.String("status", string(to)),
			zap.String("request_id", logger.RequestIDFrom(ctx)),
			zap.Error(err),
		)
		return nil, s.failBackend(fmt.Errorf("update order %s: %w", id, err))
	}

	now := s.clock.Now()
	local := cur.Clone()
	if err := local.ApplyStatus(to, now); err != nil {
		return nil, s.fail(err)
	}
	updated := s.merge(cur, local, raw)
	if updated.Status != to {
		// The response predates the change; trust the accepted transition.
		updated = local
	}
	s.replace(updated)

	if to == order.StatusReadyForPickup && !opts.SuppressPrint && s.printer != nil {
		s.printer.Begin(id)
	}
	return updated.Clone(), nil
}

// merge prefers the backend's copy of the order and falls back to the local
// mutation. The result's LastModifiedAt always moves past cur's.
func (s *Store) merge(cur, local *order.Order, raw json.RawMessage) *order.Order {
	out := local
	if len(raw) > 0 {
		if mapped, err := order.MapOrder(raw); err == nil && mapped.ID == cur.ID {
			out = mapped
		} else if err != nil {
			s.log.Debug("using local state, response not mappable", zap.String("order_id", cur.ID), zap.Error(err))
		}
	}
	if !out.Timestamps.LastModifiedAt.After(cur.Timestamps.LastModifiedAt) {
		out.Timestamps.LastModifiedAt = cur.Timestamps.LastModifiedAt
		out.Touch(s.clock.Now())
	}
	return out
}

func (s *Store) StartPreparing(ctx context.Context, id string) (*order.Order, error) {
	return s.UpdateOrderStatus(ctx, id, order.StatusInPreparation, UpdateOptions{})
}

func (s *Store) MarkReady(ctx context.Context, id string) (*order.Order, error) {
	return s.UpdateOrderStatus(ctx, id, order.StatusReadyForPickup, UpdateOptions{})
}

func (s *Store) CompleteOrder(ctx context.Context, id string) (*order.Order, error) {
	return s.UpdateOrderStatus(ctx, id, order.StatusClosed, UpdateOptions{})
}

// CancelOrder voids the order.
func (s *Store) CancelOrder(ctx context.Context, id string) (*order.Order, error) {
	return s.UpdateOrderStatus(ctx, id, order.StatusVoided, UpdateOptions{})
}

// ConfirmOrder acknowledges a received order without moving its status.
func (s *Store) ConfirmOrder(ctx context.Context, id string) (*order.Order, error) {
	ctx = s.begin(ctx)
	cur, err := s.current(id)
	if err != nil {
		return nil, s.fail(err)
	}
	local := cur.Clone()
	if err := local.Confirm(s.clock.Now()); err != nil {
		return nil, s.fail(err)
	}
	raw, err := s.api.UpdateStatus(ctx, id, order.BackendConfirmed)
	if err != nil {
		return nil, s.failBackend(fmt.Errorf("confirm order %s: %w", id, err))
	}
	updated := s.merge(cur, local, raw)
	if updated.Timestamps.ConfirmedAt == nil {
		updated.Timestamps.ConfirmedAt = local.Timestamps.ConfirmedAt
	}
	s.replace(updated)
	return updated.Clone(), nil
}

// RecallOrder moves the order back one step. Only IN_PREPARATION and
// READY_FOR_PICKUP can be recalled.
func (s *Store) RecallOrder(ctx context.Context, id string) (*order.Order, error) {
	ctx = s.begin(ctx)
	cur, err := s.current(id)
	if err != nil {
		return nil, s.fail(err)
	}
	prev, ok := order.Previous(cur.Status)
	if !ok {
		return nil, s.fail(fmt.Errorf("%w: %s", ErrNotRecallable, cur.Status))
	}
	return s.UpdateOrderStatus(ctx, id, prev, UpdateOptions{SuppressPrint: true})
}

// FireCourse releases a course to the kitchen. The backend endpoint is tried
// until it answers 404/405/501 once; from then on courses fire locally.
// Other backend errors are returned.
func (s *Store) FireCourse(ctx context.Context, orderID, courseID string) error {
	ctx = s.begin(ctx)
	cur, err := s.current(orderID)
	if err != nil {
		return s.fail(err)
	}
	if _, ok := cur.Course(courseID); !ok {
		return s.fail(fmt.Errorf("%w: %s", order.ErrCourseNotFound, courseID))
	}

	log := s.log.With(
		zap.String("order_id", orderID),
		zap.String("course_id", courseID),
		zap.String("request_id", logger.RequestIDFrom(ctx)),
	)

	s.mu.Lock()
	capable := s.fireCourse
	s.mu.Unlock()

	var raw json.RawMessage
	if capable != capabilityUnsupported {
		raw, err = s.api.FireCourse(ctx, orderID, courseID)
		switch {
		case err == nil:
			s.setFireCapability(capabilitySupported)
		case api.IsUnsupported(err):
			s.setFireCapability(capabilityUnsupported)
			log.Info("backend does not support course firing, firing locally", zap.Error(err))
			raw = nil
		default:
			log.Warn("fire course failed", zap.Error(err))
			return s.failBackend(fmt.Errorf("fire course %s: %w", courseID, err))
		}
	}

	local := cur.Clone()
	if err := local.FireCourseLocally(courseID, s.clock.Now()); err != nil {
		return s.fail(err)
	}
	updated := s.merge(cur, local, raw)
	if c, ok := updated.Course(courseID); !ok || c.FireStatus == order.FirePending {
		updated = local
	}
	s.replace(updated)
	s.metrics.Counter("orderstore.courses_fired").Inc()
	return nil
}

func (s *Store) setFireCapability(c capability) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fireCourse = c
}

// FireCourseSupported reports the cached capability: known is false until
// the backend has answered once.
func (s *Store) FireCourseSupported() (supported, known bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fireCourse == capabilitySupported, s.fireCourse != capabilityUnknown
}

func (s *Store) requireDining(id string, typ order.DiningOptionType) (*order.Order, error) {
	cur, err := s.current(id)
	if err != nil {
		return nil, err
	}
	if cur.DiningOption.Type != typ {
		return nil, fmt.Errorf("%w: %s is %s", ErrWrongDiningOption, id, cur.DiningOption.Type)
	}
	return cur, nil
}

// UpdateDeliveryStatus records a delivery's dispatch progress.
func (s *Store) UpdateDeliveryStatus(ctx context.Context, id, deliveryStatus string) (*order.Order, error) {
	ctx = s.begin(ctx)
	cur, err := s.requireDining(id, order.DiningDelivery)
	if err != nil {
		return nil, s.fail(err)
	}
	raw, err := s.api.UpdateDeliveryStatus(ctx, id, deliveryStatus)
	if err != nil {
		return nil, s.failBackend(fmt.Errorf("delivery status %s: %w", id, err))
	}
	local := cur.Clone()
	if local.DiningOption.Delivery == nil {
		local.DiningOption.Delivery = &order.DeliveryInfo{}
	}
	local.DiningOption.Delivery.DeliveryStatus = deliveryStatus
	return s.commit(cur, local, raw), nil
}

// ApproveOrder approves or rejects a catering order.
func (s *Store) ApproveOrder(ctx context.Context, id string, approved bool) (*order.Order, error) {
	ctx = s.begin(ctx)
	cur, err := s.requireDining(id, order.DiningCatering)
	if err != nil {
		return nil, s.fail(err)
	}
	raw, err := s.api.SetApproval(ctx, id, approved)
	if err != nil {
		return nil, s.failBackend(fmt.Errorf("approval %s: %w", id, err))
	}
	local := cur.Clone()
	if local.DiningOption.Catering == nil {
		local.DiningOption.Catering = &order.CateringInfo{}
	}
	local.DiningOption.Catering.ApprovalStatus = "REJECTED"
	if approved {
		local.DiningOption.Catering.ApprovalStatus = "APPROVED"
	}
	return s.commit(cur, local, raw), nil
}

// MarkArrived records that a curbside guest has arrived.
func (s *Store) MarkArrived(ctx context.Context, id string) (*order.Order, error) {
	ctx = s.begin(ctx)
	cur, err := s.requireDining(id, order.DiningCurbside)
	if err != nil {
		return nil, s.fail(err)
	}
	raw, err := s.api.NotifyArrival(ctx, id)
	if err != nil {
		return nil, s.failBackend(fmt.Errorf("arrival %s: %w", id, err))
	}
	local := cur.Clone()
	if local.DiningOption.Curbside == nil {
		local.DiningOption.Curbside = &order.CurbsideInfo{}
	}
	now := s.clock.Now()
	local.DiningOption.Curbside.ArrivedAt = &now
	return s.commit(cur, local, raw), nil
}

func (s *Store) commit(cur, local *order.Order, raw json.RawMessage) *order.Order {
	updated := s.merge(cur, local, raw)
	s.replace(updated)
	return updated.Clone()
}

// ProfitInsight passes through to the backend's analytics for an order.
func (s *Store) ProfitInsight(ctx context.Context, id string) (*api.ProfitInsight, error) {
	ctx = s.begin(ctx)
	if _, ok := s.GetOrder(id); !ok {
		return nil, ErrOrderNotFound
	}
	ins, err := s.api.ProfitInsight(ctx, id)
	if err != nil {
		return nil, s.failBackend(fmt.Errorf("profit insight %s: %w", id, err))
	}
	return ins, nil
}
