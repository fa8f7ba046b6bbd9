package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"delivery-sync/internal/apperr"
	"delivery-sync/internal/domain"
)

// OpLog is the durable pending-operation log. It is the only owner of the
// sqlite storage; other subsystems reach it through method calls.
type OpLog struct {
	db *sql.DB
}

// NewOpLog wraps an opened operation-log database.
func NewOpLog(db *sql.DB) *OpLog {
	return &OpLog{db: db}
}

const opColumns = "id, kind, entity_id, payload, enqueued_at, attempts, max_attempts, next_retry_at, state, last_error"

// Insert persists a new operation.
func (l *OpLog) Insert(ctx context.Context, op domain.PendingOperation) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO pending_operations (`+opColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		op.ID, string(op.Kind), op.EntityID, []byte(op.Payload),
		op.EnqueuedAt.UnixMilli(), op.Attempts, op.MaxAttempts,
		op.NextRetryAt.UnixMilli(), string(op.State), op.LastError,
	)
	if err != nil {
		return fmt.Errorf("insert operation %s: %w", op.ID, err)
	}
	return nil
}

// Get returns a single operation by ID, or (nil, nil) if absent.
func (l *OpLog) Get(ctx context.Context, id string) (*domain.PendingOperation, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT `+opColumns+` FROM pending_operations WHERE id = ?`, id)
	op, err := scanOp(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get operation %s: %w", id, err)
	}
	return &op, nil
}

// ListReady returns operations due for a send attempt at now, in enqueue
// order (the insertion sequence, not the millisecond timestamp). Only the
// head of each entity's line is eligible: while an earlier operation for the
// same entity is backing off or in flight, its successors are held back, so
// per-entity order survives retries across flush passes.
func (l *OpLog) ListReady(ctx context.Context, now time.Time, limit int) ([]domain.PendingOperation, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT `+opColumns+` FROM pending_operations p
		 WHERE p.state IN (?, ?) AND p.next_retry_at <= ?
		   AND p.seq = (SELECT MIN(q.seq) FROM pending_operations q
		                WHERE q.entity_id = p.entity_id AND q.state IN (?, ?, ?))
		 ORDER BY p.seq
		 LIMIT ?`,
		string(domain.OpQueued), string(domain.OpFailed), now.UnixMilli(),
		string(domain.OpQueued), string(domain.OpFailed), string(domain.OpInFlight),
		limit)
	if err != nil {
		return nil, fmt.Errorf("list ready operations: %w", err)
	}
	return collectOps(rows)
}

// ListDead returns the dead-letter log, oldest first.
func (l *OpLog) ListDead(ctx context.Context) ([]domain.PendingOperation, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT `+opColumns+` FROM pending_operations
		 WHERE state = ? ORDER BY seq`,
		string(domain.OpDead))
	if err != nil {
		return nil, fmt.Errorf("list dead operations: %w", err)
	}
	return collectOps(rows)
}

// MarkInFlight transitions an operation to in_flight before a send attempt.
func (l *OpLog) MarkInFlight(ctx context.Context, id string) error {
	return l.setState(ctx, id, domain.OpInFlight, "")
}

// MarkFailed records a failed attempt and schedules the next retry.
func (l *OpLog) MarkFailed(ctx context.Context, id string, attempts int, nextRetryAt time.Time, lastError string) error {
	_, err := l.db.ExecContext(ctx,
		`UPDATE pending_operations
		 SET state = ?, attempts = ?, next_retry_at = ?, last_error = ?
		 WHERE id = ?`,
		string(domain.OpFailed), attempts, nextRetryAt.UnixMilli(), lastError, id)
	if err != nil {
		return fmt.Errorf("mark failed %s: %w", id, err)
	}
	return nil
}

// MarkDead parks an operation in the dead-letter log. Dead operations are
// never retried automatically; only Requeue revives them.
func (l *OpLog) MarkDead(ctx context.Context, id string, attempts int, lastError string) error {
	_, err := l.db.ExecContext(ctx,
		`UPDATE pending_operations
		 SET state = ?, attempts = ?, last_error = ?
		 WHERE id = ?`,
		string(domain.OpDead), attempts, lastError, id)
	if err != nil {
		return fmt.Errorf("mark dead %s: %w", id, err)
	}
	return nil
}

// Requeue resets a dead operation for user-triggered re-submission.
func (l *OpLog) Requeue(ctx context.Context, id string, now time.Time) error {
	res, err := l.db.ExecContext(ctx,
		`UPDATE pending_operations
		 SET state = ?, attempts = 0, next_retry_at = ?, last_error = ''
		 WHERE id = ? AND state = ?`,
		string(domain.OpQueued), now.UnixMilli(), id, string(domain.OpDead))
	if err != nil {
		return fmt.Errorf("requeue %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("requeue %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("requeue %s: operation not dead: %w", id, apperr.ErrNotFound)
	}
	return nil
}

// RebindEntity repoints every operation queued against oldID at newID.
// Called when a create reconciles: operations recorded while the delivery
// only had a local ID must target the server-assigned one on the wire.
func (l *OpLog) RebindEntity(ctx context.Context, oldID, newID string) error {
	_, err := l.db.ExecContext(ctx,
		`UPDATE pending_operations SET entity_id = ? WHERE entity_id = ?`,
		newID, oldID)
	if err != nil {
		return fmt.Errorf("rebind entity %s -> %s: %w", oldID, newID, err)
	}
	return nil
}

// Complete removes a delivered operation. The delete runs in its own
// transaction so a crash can only leave the operation present (replayed
// later, deduped by the server on the idempotency key), never half-gone.
func (l *OpLog) Complete(ctx context.Context, id string) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM pending_operations WHERE id = ?`, id); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("complete %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit complete %s: %w", id, err)
	}
	return nil
}

// RecoverInFlight resets operations stuck in_flight after a crash back to
// queued so the flush loop picks them up again.
func (l *OpLog) RecoverInFlight(ctx context.Context, now time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx,
		`UPDATE pending_operations
		 SET state = ?, next_retry_at = ?
		 WHERE state = ?`,
		string(domain.OpQueued), now.UnixMilli(), string(domain.OpInFlight))
	if err != nil {
		return 0, fmt.Errorf("recover in-flight: %w", err)
	}
	return res.RowsAffected()
}

func (l *OpLog) setState(ctx context.Context, id string, state domain.OperationState, lastError string) error {
	_, err := l.db.ExecContext(ctx,
		`UPDATE pending_operations SET state = ?, last_error = ? WHERE id = ?`,
		string(state), lastError, id)
	if err != nil {
		return fmt.Errorf("set state %s on %s: %w", state, id, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOp(row rowScanner) (domain.PendingOperation, error) {
	var (
		op           domain.PendingOperation
		kind, state  string
		enqueuedMs   int64
		nextRetryMs  int64
	)
	err := row.Scan(&op.ID, &kind, &op.EntityID, (*[]byte)(&op.Payload),
		&enqueuedMs, &op.Attempts, &op.MaxAttempts, &nextRetryMs, &state, &op.LastError)
	if err != nil {
		return domain.PendingOperation{}, err
	}
	op.Kind = domain.OperationKind(kind)
	op.State = domain.OperationState(state)
	op.EnqueuedAt = time.UnixMilli(enqueuedMs).UTC()
	op.NextRetryAt = time.UnixMilli(nextRetryMs).UTC()
	return op, nil
}

func collectOps(rows *sql.Rows) ([]domain.PendingOperation, error) {
	defer rows.Close()

	var ops []domain.PendingOperation
	for rows.Next() {
		op, err := scanOp(rows)
		if err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate operations: %w", err)
	}
	return ops, nil
}
