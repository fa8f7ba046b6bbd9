package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type (
	// OperationKind names a user mutation awaiting delivery to the server.
	OperationKind string
	// OperationState is the lifecycle state of a queued operation.
	OperationState string
)

// List of possible operation kinds
const (
	OpCreateDelivery OperationKind = "create_delivery"
	OpCancelDelivery OperationKind = "cancel_delivery"
	OpUpdateStatus   OperationKind = "update_status"
	OpSubmitBid      OperationKind = "submit_bid"
	OpSubmitRating   OperationKind = "submit_rating"
	OpUpdateProfile  OperationKind = "update_profile"
)

// List of possible operation states. Successful operations are deleted from
// the durable log, so there is no "done" state to observe.
const (
	OpQueued   OperationState = "queued"
	OpInFlight OperationState = "in_flight"
	OpFailed   OperationState = "failed"
	OpDead     OperationState = "dead"
)

var allowedOperationKinds = [...]OperationKind{
	OpCreateDelivery, OpCancelDelivery, OpUpdateStatus,
	OpSubmitBid, OpSubmitRating, OpUpdateProfile,
}

// Valid checks if the OperationKind is valid.
func (k OperationKind) Valid() bool {
	for _, v := range allowedOperationKinds {
		if k == v {
			return true
		}
	}
	return false
}

// PendingOperation is a durable record of a user mutation. The ID doubles
// as the idempotency key the server dedupes on, so replay after a crash is
// at-least-once with no duplicate side effects.
type PendingOperation struct {
	ID          string
	Kind        OperationKind
	EntityID    string
	Payload     json.RawMessage
	EnqueuedAt  time.Time
	Attempts    int
	MaxAttempts int
	NextRetryAt time.Time
	State       OperationState
	LastError   string
}

// NewPendingOperation builds a queued operation with a fresh idempotency key.
func NewPendingOperation(kind OperationKind, entityID string, payload json.RawMessage, maxAttempts int, now time.Time) PendingOperation {
	return PendingOperation{
		ID:          uuid.NewString(),
		Kind:        kind,
		EntityID:    entityID,
		Payload:     payload,
		EnqueuedAt:  now,
		MaxAttempts: maxAttempts,
		NextRetryAt: now,
		State:       OpQueued,
	}
}
