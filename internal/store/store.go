package store

import (
	"fmt"
	"sync"
	"time"

	"delivery-sync/internal/apperr"
	"delivery-sync/internal/domain"
	"delivery-sync/internal/logx"
)

type counter interface {
	Inc()
}

// AppliedResult reports what an authoritative merge did.
type AppliedResult struct {
	Accepted       bool
	StatusRejected bool
	Delivery       domain.Delivery
}

type observer struct {
	id int
	fn func(domain.Delivery)
}

// Store is the canonical in-memory table of delivery entities. All writes
// funnel through one mutex, so merges never interleave and observers see a
// consistent sequence of snapshots; reads are value copies.
type Store struct {
	logger           logx.Logger
	invariantRejects counter
	now              func() time.Time

	mu         sync.Mutex
	deliveries map[domain.DeliveryID]domain.Delivery
	observers  map[domain.DeliveryID][]observer
	nextObsID  int
}

// New creates an empty Store.
func New(logger logx.Logger, invariantRejects counter) *Store {
	return &Store{
		logger:           logger,
		invariantRejects: invariantRejects,
		now:              func() time.Time { return time.Now().UTC() },
		deliveries:       make(map[domain.DeliveryID]domain.Delivery),
		observers:        make(map[domain.DeliveryID][]observer),
	}
}

// WithNow sets the clock source.
func (s *Store) WithNow(now func() time.Time) *Store {
	if now != nil {
		s.now = now
	}
	return s
}

// Snapshot returns a copy of the delivery, synchronously and without
// blocking on any network activity.
func (s *Store) Snapshot(id domain.DeliveryID) (domain.Delivery, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deliveries[id]
	return d, ok
}

// Observe registers a callback invoked with a fresh snapshot after every
// accepted merge for the delivery. The returned function unsubscribes.
func (s *Store) Observe(id domain.DeliveryID, fn func(domain.Delivery)) func() {
	s.mu.Lock()
	s.nextObsID++
	obsID := s.nextObsID
	s.observers[id] = append(s.observers[id], observer{id: obsID, fn: fn})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		obs := s.observers[id]
		for i, o := range obs {
			if o.id == obsID {
				s.observers[id] = append(obs[:i:i], obs[i+1:]...)
				break
			}
		}
		if len(s.observers[id]) == 0 {
			delete(s.observers, id)
		}
	}
}

// CreateOptimistic inserts a delivery under a local-only ID so the UI sees
// it immediately; the server-assigned ID arrives via Rebind once the queued
// create flushes.
func (s *Store) CreateOptimistic(pickup, dropoff domain.Coordinates, proposedPrice float64, bidding bool) (domain.Delivery, error) {
	if !pickup.Valid() || !dropoff.Valid() {
		return domain.Delivery{}, fmt.Errorf("%w: coordinates out of range", apperr.ErrInvariant)
	}

	status := domain.StatusPending
	if bidding {
		status = domain.StatusBidding
	}
	d := domain.Delivery{
		ID:            domain.NewLocalDeliveryID(),
		Status:        status,
		Pickup:        pickup,
		Dropoff:       dropoff,
		ProposedPrice: proposedPrice,
		Version:       1,
	}

	s.mu.Lock()
	s.deliveries[d.ID] = d
	notify := s.notifyLocked(d.ID, d)
	s.mu.Unlock()
	notify()

	return d, nil
}

// ApplyOptimistic applies a local mutation immediately, bumping the
// version. Status changes are validated against the transition table; an
// illegal local transition is a caller bug and is rejected whole.
func (s *Store) ApplyOptimistic(id domain.DeliveryID, m domain.DeliveryMutation) (domain.Delivery, error) {
	s.mu.Lock()
	cur, ok := s.deliveries[id]
	if !ok {
		s.mu.Unlock()
		return domain.Delivery{}, fmt.Errorf("delivery %s: %w", id, apperr.ErrNotFound)
	}

	if m.Status != nil && *m.Status != cur.Status {
		if !cur.Status.CanTransitionTo(*m.Status) {
			s.mu.Unlock()
			s.rejectStatus(id, cur.Status, *m.Status, "optimistic")
			return domain.Delivery{}, fmt.Errorf("%w: %s -> %s", apperr.ErrInvariant, cur.Status, *m.Status)
		}
		cur.Status = *m.Status
	}
	applyFields(&cur, m)
	cur.Version++

	s.deliveries[id] = cur
	notify := s.notifyLocked(id, cur)
	s.mu.Unlock()
	notify()

	return cur, nil
}

// ApplyAuthoritative merges a full authoritative delivery snapshot (a REST
// response). A payload whose version is not materially newer is a no-op.
// The status field is still routed through the transition validator: a
// replayed or out-of-order payload naming an illegal edge merges every
// field except status.
func (s *Store) ApplyAuthoritative(in domain.Delivery) AppliedResult {
	return s.merge(in, false)
}

// ApplyServerPush merges an authoritative push event. Pushes always win
// regardless of local version (the server is the source of truth), but the
// status field obeys the same validator: forward jumps over unseen states
// are accepted as server overrides, regressions are field-rejected.
func (s *Store) ApplyServerPush(in domain.Delivery) AppliedResult {
	return s.merge(in, true)
}

func (s *Store) merge(in domain.Delivery, push bool) AppliedResult {
	s.mu.Lock()
	cur, exists := s.deliveries[in.ID]
	if !exists {
		in.LastServerSyncAt = s.now()
		s.deliveries[in.ID] = in
		notify := s.notifyLocked(in.ID, in)
		s.mu.Unlock()
		notify()
		return AppliedResult{Accepted: true, Delivery: in}
	}

	if !push && in.Version <= cur.Version {
		s.mu.Unlock()
		return AppliedResult{Accepted: false, Delivery: cur}
	}

	var rejected bool
	var from domain.Status
	merged := in
	if in.Status != cur.Status {
		if s.statusAcceptable(cur.Status, in.Status) {
			if !cur.Status.CanTransitionTo(in.Status) {
				// legal only because the server says so; worth a trace
				s.logger.Info("server status override accepted",
					logx.String("event", "status_override"),
					logx.String("delivery_id", string(in.ID)),
					logx.String("from", cur.Status.String()),
					logx.String("to", in.Status.String()),
				)
			}
		} else {
			rejected = true
			from = cur.Status
			merged.Status = cur.Status
		}
	}

	if merged.Version < cur.Version {
		merged.Version = cur.Version
	}
	merged.LastServerSyncAt = s.now()
	s.deliveries[in.ID] = merged
	notify := s.notifyLocked(in.ID, merged)
	s.mu.Unlock()

	if rejected {
		s.rejectStatus(in.ID, from, in.Status, "authoritative")
	}
	notify()

	return AppliedResult{Accepted: true, StatusRejected: rejected, Delivery: merged}
}

// Rebind moves a locally-created delivery to its server-assigned ID after
// the create flushes. Observers of the local ID keep firing with the
// server-backed entity; the status never regresses below what the user
// already saw.
func (s *Store) Rebind(localID domain.DeliveryID, server domain.Delivery) domain.Delivery {
	s.mu.Lock()
	cur, exists := s.deliveries[localID]
	if exists {
		delete(s.deliveries, localID)
		if cur.Status != server.Status && !s.statusAcceptable(cur.Status, server.Status) {
			server.Status = cur.Status
		}
		if server.Version < cur.Version {
			server.Version = cur.Version
		}
	}
	server.LastServerSyncAt = s.now()
	s.deliveries[server.ID] = server

	// carry observers over to the server ID
	if obs := s.observers[localID]; len(obs) > 0 {
		s.observers[server.ID] = append(s.observers[server.ID], obs...)
		delete(s.observers, localID)
	}
	notify := s.notifyLocked(server.ID, server)
	s.mu.Unlock()
	notify()

	return server
}

// statusAcceptable is the authoritative-path status rule: a legal edge, or
// a strictly-forward jump (the client missed intermediate states).
func (s *Store) statusAcceptable(from, to domain.Status) bool {
	return from.CanTransitionTo(to) || to.Later(from)
}

func (s *Store) rejectStatus(id domain.DeliveryID, from, to domain.Status, path string) {
	if s.invariantRejects != nil {
		s.invariantRejects.Inc()
	}
	s.logger.Warn("illegal status transition rejected",
		logx.String("event", "status_rejected"),
		logx.String("delivery_id", string(id)),
		logx.String("from", from.String()),
		logx.String("to", to.String()),
		logx.String("path", path),
	)
}

// notifyLocked snapshots the observer list under the lock and returns a
// closure that fans out after the lock is released, so callbacks can call
// back into the store without deadlocking.
func (s *Store) notifyLocked(id domain.DeliveryID, d domain.Delivery) func() {
	obs := s.observers[id]
	if len(obs) == 0 {
		return func() {}
	}
	fns := make([]func(domain.Delivery), len(obs))
	for i, o := range obs {
		fns[i] = o.fn
	}
	return func() {
		for _, fn := range fns {
			fn(d)
		}
	}
}

func applyFields(d *domain.Delivery, m domain.DeliveryMutation) {
	if m.CourierID != nil {
		d.CourierID = *m.CourierID
	}
	if m.ProposedPrice != nil {
		d.ProposedPrice = *m.ProposedPrice
	}
	if m.FinalPrice != nil {
		d.FinalPrice = *m.FinalPrice
	}
	if m.Dropoff != nil {
		d.Dropoff = *m.Dropoff
	}
}
