package engine

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"delivery-sync/internal/domain"
	"delivery-sync/internal/gateway/rest"
	"delivery-sync/internal/logx"
	"delivery-sync/internal/queue"
	"delivery-sync/internal/realtime"
	"delivery-sync/internal/store"
	"delivery-sync/internal/tracking"
)

// Engine is the synchronization facade the UI talks to. Every mutation is
// applied to the local store immediately and queued for durable delivery;
// authoritative state flows back in through flush results, REST refreshes
// and push events, all funnelled into the store's merge rules.
type Engine struct {
	store    *store.Store
	queue    *queue.Queue
	realtime *realtime.Manager
	interp   *tracking.Interpolator
	reader   rest.Reader
	logger   logx.Logger
	now      func() time.Time

	mu     sync.Mutex
	onDead func(domain.PendingOperation, error)
}

// New wires the engine's collaborators together and installs the queue
// result handlers.
func New(
	st *store.Store,
	q *queue.Queue,
	rt *realtime.Manager,
	interp *tracking.Interpolator,
	reader rest.Reader,
	logger logx.Logger,
) *Engine {
	e := &Engine{
		store:    st,
		queue:    q,
		realtime: rt,
		interp:   interp,
		reader:   reader,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
	q.SetHandlers(e.onFlushed, e.onOperationDead)
	return e
}

// WithNow sets the clock source.
func (e *Engine) WithNow(now func() time.Time) *Engine {
	if now != nil {
		e.now = now
	}
	return e
}

// Run starts the queue and the realtime transport and blocks until ctx
// cancels.
func (e *Engine) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = e.queue.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		_ = e.realtime.Run(ctx)
	}()
	wg.Wait()
	return ctx.Err()
}

// CreateDelivery creates a delivery under a local ID, visible to the UI
// immediately, and queues the create for the server. The local ID is
// rebound to the server-assigned one when the flush result arrives.
func (e *Engine) CreateDelivery(ctx context.Context, pickup, dropoff domain.Coordinates, proposedPrice float64, bidding bool) (domain.Delivery, error) {
	d, err := e.store.CreateOptimistic(pickup, dropoff, proposedPrice, bidding)
	if err != nil {
		return domain.Delivery{}, err
	}

	payload, err := json.Marshal(createDeliveryPayload{
		Pickup:        coordinatesPayload{Lat: pickup.Lat, Lng: pickup.Lng},
		Dropoff:       coordinatesPayload{Lat: dropoff.Lat, Lng: dropoff.Lng},
		ProposedPrice: proposedPrice,
		Bidding:       bidding,
	})
	if err != nil {
		return domain.Delivery{}, err
	}
	e.queue.Enqueue(ctx, domain.OpCreateDelivery, string(d.ID), payload)
	return d, nil
}

// CancelDelivery cancels optimistically and queues the cancellation.
func (e *Engine) CancelDelivery(ctx context.Context, id domain.DeliveryID) (domain.Delivery, error) {
	cancelled := domain.StatusCancelled
	d, err := e.store.ApplyOptimistic(id, domain.DeliveryMutation{Status: &cancelled})
	if err != nil {
		return domain.Delivery{}, err
	}
	e.queue.Enqueue(ctx, domain.OpCancelDelivery, string(id), json.RawMessage(`{}`))
	return d, nil
}

// UpdateStatus advances the delivery's status optimistically and queues the
// change. An illegal transition is rejected before anything is queued.
func (e *Engine) UpdateStatus(ctx context.Context, id domain.DeliveryID, status domain.Status) (domain.Delivery, error) {
	d, err := e.store.ApplyOptimistic(id, domain.DeliveryMutation{Status: &status})
	if err != nil {
		return domain.Delivery{}, err
	}

	payload, err := json.Marshal(statusPayload{Status: string(status)})
	if err != nil {
		return domain.Delivery{}, err
	}
	e.queue.Enqueue(ctx, domain.OpUpdateStatus, string(id), payload)
	return d, nil
}

// SubmitBid queues a courier's bid on an open delivery. The bid itself is
// not delivery state; acceptance arrives later as a push event.
func (e *Engine) SubmitBid(ctx context.Context, id domain.DeliveryID, amount float64) error {
	payload, err := json.Marshal(bidPayload{Amount: amount})
	if err != nil {
		return err
	}
	e.queue.Enqueue(ctx, domain.OpSubmitBid, string(id), payload)
	return nil
}

// SubmitRating queues a rating for a completed delivery.
func (e *Engine) SubmitRating(ctx context.Context, id domain.DeliveryID, stars int, comment string) error {
	payload, err := json.Marshal(ratingPayload{Stars: stars, Comment: comment})
	if err != nil {
		return err
	}
	e.queue.Enqueue(ctx, domain.OpSubmitRating, string(id), payload)
	return nil
}

// UpdateProfile queues a profile update. Profile writes are last-write-wins
// on the server, so the payload goes through untouched.
func (e *Engine) UpdateProfile(ctx context.Context, payload json.RawMessage) error {
	e.queue.Enqueue(ctx, domain.OpUpdateProfile, "profile", payload)
	return nil
}

// Delivery returns the current local snapshot without touching the network.
func (e *Engine) Delivery(id domain.DeliveryID) (domain.Delivery, bool) {
	return e.store.Snapshot(id)
}

// ObserveDelivery registers fn for every accepted change of the delivery
// and opens its push channel so server-side changes stream in while anyone
// is watching. The returned function releases both.
func (e *Engine) ObserveDelivery(id domain.DeliveryID, fn func(domain.Delivery)) func() {
	if !id.Local() {
		unobserve := e.store.Observe(id, fn)
		sub := e.realtime.Subscribe(realtime.DeliveryStatusChannel(id), e.handleDeliveryEvent)
		return func() {
			unobserve()
			e.realtime.Unsubscribe(sub)
		}
	}

	// a local-only delivery has no server channel yet; open it when the
	// rebind delivers the first server-backed snapshot
	var mu sync.Mutex
	var sub *realtime.Subscription
	released := false
	unobserve := e.store.Observe(id, func(d domain.Delivery) {
		if !d.ID.Local() {
			mu.Lock()
			if sub == nil && !released {
				s := e.realtime.Subscribe(realtime.DeliveryStatusChannel(d.ID), e.handleDeliveryEvent)
				sub = &s
			}
			mu.Unlock()
		}
		fn(d)
	})
	return func() {
		mu.Lock()
		released = true
		s := sub
		sub = nil
		mu.Unlock()
		unobserve()
		if s != nil {
			e.realtime.Unsubscribe(*s)
		}
	}
}

// Refresh pulls the authoritative snapshot over REST and merges it.
func (e *Engine) Refresh(ctx context.Context, id domain.DeliveryID) (domain.Delivery, error) {
	d, err := e.reader.GetDelivery(ctx, id)
	if err != nil {
		return domain.Delivery{}, err
	}
	e.store.ApplyAuthoritative(*d)
	snap, _ := e.store.Snapshot(d.ID)
	return snap, nil
}

// SetOnline flips connectivity. Coming online triggers an immediate flush
// of everything queued while offline.
func (e *Engine) SetOnline(online bool) {
	e.queue.SetOnline(online)
}

// Flush asks the queue to drain now rather than on its next tick.
func (e *Engine) Flush() {
	e.queue.Flush()
}

// DeadLetters lists operations that exhausted their retry budget.
func (e *Engine) DeadLetters(ctx context.Context) ([]domain.PendingOperation, error) {
	return e.queue.DeadLetters(ctx)
}

// RetryDead revives a dead-lettered operation for another delivery attempt.
func (e *Engine) RetryDead(ctx context.Context, id string) error {
	return e.queue.RetryDead(ctx, id)
}

// SetDeadLetterHook installs a callback fired when an operation is moved to
// the dead letter list, so the UI can surface it to the user.
func (e *Engine) SetDeadLetterHook(fn func(domain.PendingOperation, error)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onDead = fn
}

// onFlushed reconciles a successfully delivered operation. A create's
// server reply carries the real ID, so queued operations are retargeted and
// the local entity is rebound; any other delivery-bearing reply is an
// authoritative snapshot to merge.
func (e *Engine) onFlushed(res queue.Result) {
	if res.Delivery == nil {
		return
	}
	if res.Op.Kind == domain.OpCreateDelivery {
		localID := domain.DeliveryID(res.Op.EntityID)
		if localID.Local() {
			// mutations queued while the delivery only had a local ID must
			// go out under the server-assigned one
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := e.queue.RebindEntity(ctx, string(localID), string(res.Delivery.ID)); err != nil {
				e.logger.Error("retargeting queued operations failed",
					logx.String("local_id", string(localID)),
					logx.String("delivery_id", string(res.Delivery.ID)),
					logx.Any("err", err),
				)
			}
			e.store.Rebind(localID, *res.Delivery)
			return
		}
	}
	e.store.ApplyAuthoritative(*res.Delivery)
}

func (e *Engine) onOperationDead(op domain.PendingOperation, cause error) {
	e.mu.Lock()
	fn := e.onDead
	e.mu.Unlock()
	if fn != nil {
		fn(op, cause)
	}
}
