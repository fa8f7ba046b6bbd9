package queue

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"delivery-sync/internal/apperr"
	"delivery-sync/internal/domain"
	"delivery-sync/internal/logx"
)

// Storage is the durable operation log the queue owns.
type Storage interface {
	Insert(ctx context.Context, op domain.PendingOperation) error
	ListReady(ctx context.Context, now time.Time, limit int) ([]domain.PendingOperation, error)
	ListDead(ctx context.Context) ([]domain.PendingOperation, error)
	MarkInFlight(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, attempts int, nextRetryAt time.Time, lastError string) error
	MarkDead(ctx context.Context, id string, attempts int, lastError string) error
	Requeue(ctx context.Context, id string, now time.Time) error
	RebindEntity(ctx context.Context, oldID, newID string) error
	Complete(ctx context.Context, id string) error
	RecoverInFlight(ctx context.Context, now time.Time) (int64, error)
}

// Sender delivers one operation to the server. The returned delivery, when
// non-nil, is the authoritative post-mutation state to reconcile.
type Sender interface {
	Send(ctx context.Context, op domain.PendingOperation) (*domain.Delivery, error)
}

type counter interface {
	Inc()
}

// Metrics groups the queue's counters. Any of them may be nil.
type Metrics struct {
	Retries     counter
	DeadLetters counter
	Flushed     counter
}

// Config describes queue behaviour.
type Config struct {
	Workers       int
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	FlushInterval time.Duration
	BatchSize     int
}

// Result is a successfully delivered operation plus the server's reply.
type Result struct {
	Op       domain.PendingOperation
	Delivery *domain.Delivery
}

// Queue is the durable FIFO of user mutations awaiting network
// availability. Operations for the same entity are serialized relative to
// each other; different entities flush concurrently on a bounded pool.
type Queue struct {
	storage Storage
	sender  Sender
	logger  logx.Logger
	metrics Metrics
	cfg     Config

	now func() time.Time

	online  atomic.Bool
	flushCh chan struct{}

	onResult func(Result)
	onDead   func(domain.PendingOperation, error)

	mu       sync.Mutex
	rng      *rand.Rand
	busy     map[string]struct{}
	overflow []domain.PendingOperation
}

// New creates a Queue over the given durable storage and sender.
func New(storage Storage, sender Sender, logger logx.Logger, metrics Metrics, cfg Config) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = 60 * time.Second
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	return &Queue{
		storage: storage,
		sender:  sender,
		logger:  logger,
		metrics: metrics,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
		flushCh: make(chan struct{}, 1),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		busy:    make(map[string]struct{}),
	}
}

// WithNow sets the clock source.
func (q *Queue) WithNow(now func() time.Time) *Queue {
	if now != nil {
		q.now = now
	}
	return q
}

// WithRand sets the jitter randomness source.
func (q *Queue) WithRand(rng *rand.Rand) *Queue {
	if rng != nil {
		q.rng = rng
	}
	return q
}

// SetHandlers registers the reconcile and dead-letter callbacks. Must be
// called before Run.
func (q *Queue) SetHandlers(onResult func(Result), onDead func(domain.PendingOperation, error)) {
	q.onResult = onResult
	q.onDead = onDead
}

// Enqueue records a mutation for eventual delivery. It never blocks on the
// network and never fails: if the durable insert errors the operation is
// held in memory and re-persisted on the next flush pass.
func (q *Queue) Enqueue(ctx context.Context, kind domain.OperationKind, entityID string, payload json.RawMessage) domain.PendingOperation {
	op := domain.NewPendingOperation(kind, entityID, payload, q.cfg.MaxAttempts, q.now())

	if err := q.storage.Insert(ctx, op); err != nil {
		q.logger.Error("oplog insert failed, holding operation in memory",
			logx.String("op_id", op.ID),
			logx.String("kind", string(op.Kind)),
			logx.Any("err", err),
		)
		q.mu.Lock()
		q.overflow = append(q.overflow, op)
		q.mu.Unlock()
	}

	q.Flush()
	return op
}

// SetOnline records connectivity as reported by the host application.
// Going online triggers a flush.
func (q *Queue) SetOnline(online bool) {
	q.online.Store(online)
	if online {
		q.Flush()
	}
}

// Online reports the last known connectivity state.
func (q *Queue) Online() bool {
	return q.online.Load()
}

// Flush signals the run loop to attempt a flush pass. Safe to call from any
// goroutine, any number of times.
func (q *Queue) Flush() {
	select {
	case q.flushCh <- struct{}{}:
	default:
	}
}

// Run drives the flush loop until ctx is cancelled. Operations left
// in_flight by a previous crash are requeued first; the server dedupes
// replays on the idempotency key.
func (q *Queue) Run(ctx context.Context) error {
	if n, err := q.storage.RecoverInFlight(ctx, q.now()); err != nil {
		q.logger.Error("in-flight recovery failed", logx.Any("err", err))
	} else if n > 0 {
		q.logger.Info("recovered in-flight operations", logx.Int64("count", n))
	}

	ticker := time.NewTicker(q.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.flushCh:
		case <-ticker.C:
		}
		q.FlushOnce(ctx)
	}
}

// FlushOnce runs a single flush pass and waits for it to finish. It is
// idempotent: operations already delivered are gone from storage and a
// repeat pass finds nothing to do.
func (q *Queue) FlushOnce(ctx context.Context) int {
	q.drainOverflow(ctx)

	if !q.online.Load() {
		return 0
	}

	ready, err := q.storage.ListReady(ctx, q.now(), q.cfg.BatchSize)
	if err != nil {
		q.logger.Error("oplog list failed", logx.Any("err", err))
		return 0
	}

	sem := make(chan struct{}, q.cfg.Workers)
	var wg sync.WaitGroup
	dispatched := 0

	for _, op := range ready {
		if ctx.Err() != nil {
			break
		}
		if !q.claimEntity(op.EntityID) {
			// an earlier operation for this entity is in flight; strict
			// per-entity order means this one waits for the next pass
			continue
		}
		sem <- struct{}{}
		wg.Add(1)
		dispatched++
		go func(op domain.PendingOperation) {
			defer wg.Done()
			defer func() { <-sem }()
			defer q.releaseEntity(op.EntityID)
			q.sendOne(ctx, op)
		}(op)
	}

	wg.Wait()
	return dispatched
}

func (q *Queue) sendOne(ctx context.Context, op domain.PendingOperation) {
	if err := q.storage.MarkInFlight(ctx, op.ID); err != nil {
		q.logger.Error("mark in-flight failed", logx.String("op_id", op.ID), logx.Any("err", err))
		return
	}

	d, err := q.sender.Send(ctx, op)
	if err == nil {
		if err := q.storage.Complete(ctx, op.ID); err != nil {
			q.logger.Error("oplog complete failed", logx.String("op_id", op.ID), logx.Any("err", err))
		}
		if q.metrics.Flushed != nil {
			q.metrics.Flushed.Inc()
		}
		if q.onResult != nil {
			q.onResult(Result{Op: op, Delivery: d})
		}
		return
	}

	if !apperr.Retryable(err) {
		q.kill(ctx, op, op.Attempts+1, err)
		return
	}

	attempts := op.Attempts + 1
	if attempts >= op.MaxAttempts {
		q.kill(ctx, op, attempts, apperr.ErrExhausted)
		return
	}

	delay := q.nextDelay(attempts)
	retryAt := q.now().Add(delay)
	if err := q.storage.MarkFailed(ctx, op.ID, attempts, retryAt, err.Error()); err != nil {
		q.logger.Error("mark failed errored", logx.String("op_id", op.ID), logx.Any("err", err))
		return
	}
	if q.metrics.Retries != nil {
		q.metrics.Retries.Inc()
	}
	q.logger.Warn("operation send failed, retry scheduled",
		logx.String("op_id", op.ID),
		logx.String("kind", string(op.Kind)),
		logx.String("entity_id", op.EntityID),
		logx.Int("attempt", attempts),
		logx.Duration("delay", delay),
		logx.Any("err", err),
	)
}

// kill parks an operation in the dead-letter log and surfaces it once.
func (q *Queue) kill(ctx context.Context, op domain.PendingOperation, attempts int, cause error) {
	if err := q.storage.MarkDead(ctx, op.ID, attempts, cause.Error()); err != nil {
		q.logger.Error("mark dead failed", logx.String("op_id", op.ID), logx.Any("err", err))
	}
	if q.metrics.DeadLetters != nil {
		q.metrics.DeadLetters.Inc()
	}
	q.logger.Error("operation moved to dead-letter log",
		logx.String("event", "operation_dead"),
		logx.String("op_id", op.ID),
		logx.String("kind", string(op.Kind)),
		logx.String("entity_id", op.EntityID),
		logx.Int("attempts", attempts),
		logx.Any("err", cause),
	)
	if q.onDead != nil {
		q.onDead(op, cause)
	}
}

// DeadLetters lists operations awaiting manual re-submission.
func (q *Queue) DeadLetters(ctx context.Context) ([]domain.PendingOperation, error) {
	return q.storage.ListDead(ctx)
}

// RetryDead revives a dead operation at the user's request and triggers a
// flush. The retry budget starts over.
func (q *Queue) RetryDead(ctx context.Context, id string) error {
	if err := q.storage.Requeue(ctx, id, q.now()); err != nil {
		return err
	}
	q.Flush()
	return nil
}

// RebindEntity retargets operations queued under a local entity ID at the
// server-assigned one, so mutations recorded before the create reconciled
// still hit a real resource.
func (q *Queue) RebindEntity(ctx context.Context, oldID, newID string) error {
	return q.storage.RebindEntity(ctx, oldID, newID)
}

func (q *Queue) drainOverflow(ctx context.Context) {
	q.mu.Lock()
	pending := q.overflow
	q.overflow = nil
	q.mu.Unlock()

	for i, op := range pending {
		if err := q.storage.Insert(ctx, op); err != nil {
			q.mu.Lock()
			q.overflow = append(q.overflow, pending[i:]...)
			q.mu.Unlock()
			return
		}
	}
}

func (q *Queue) claimEntity(entityID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, busy := q.busy[entityID]; busy {
		return false
	}
	q.busy[entityID] = struct{}{}
	return true
}

func (q *Queue) releaseEntity(entityID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.busy, entityID)
}

func (q *Queue) nextDelay(attempt int) time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	return backoff(q.cfg.BaseDelay, q.cfg.MaxDelay, attempt, q.rng)
}
