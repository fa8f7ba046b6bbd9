package domain

import (
	"errors"
	"strings"
)

// Status is a delivery lifecycle status.
type Status string

// List of possible delivery statuses
const (
	StatusPending    Status = "pending"
	StatusBidding    Status = "bidding"
	StatusAccepted   Status = "accepted"
	StatusPickedUp   Status = "picked_up"
	StatusInProgress Status = "in_progress"
	StatusDelivered  Status = "delivered"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// ErrInvalidStatus is returned when a status string is not in the table.
var ErrInvalidStatus = errors.New("invalid delivery status")

var allowedStatuses = [...]Status{
	StatusPending, StatusBidding, StatusAccepted, StatusPickedUp,
	StatusInProgress, StatusDelivered, StatusCompleted, StatusCancelled,
}

// ParseStatus normalizes (lowercases+trims) and validates a status string.
func ParseStatus(in string) (Status, error) {
	status := Status(strings.ToLower(strings.TrimSpace(in)))
	if status.Valid() {
		return status, nil
	}
	return "", ErrInvalidStatus
}

// Valid checks if the Status is one of the allowed constants.
func (s Status) Valid() bool {
	for _, v := range allowedStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// String returns the string representation of the Status.
func (s Status) String() string { return string(s) }

// Terminal indicates whether the status ends the delivery lifecycle.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransitionTo reports whether the edge s→next is in the transition
// table. Both the optimistic local path and authoritative merges consult
// this one table, so neither path can introduce drift the other rejects.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusAccepted || next == StatusBidding || next == StatusCancelled

	case StatusBidding:
		return next == StatusAccepted || next == StatusCancelled

	case StatusAccepted:
		return next == StatusPickedUp || next == StatusCancelled

	case StatusPickedUp:
		return next == StatusInProgress || next == StatusCancelled

	case StatusInProgress:
		return next == StatusDelivered || next == StatusCancelled

	case StatusDelivered:
		return next == StatusCompleted

	case StatusCompleted, StatusCancelled:
		return false

	default:
		return false
	}
}

// ordinal positions a status along the forward lifecycle. Cancelled sits
// outside the main track and never counts as "further along".
func (s Status) ordinal() int {
	switch s {
	case StatusPending:
		return 0
	case StatusBidding:
		return 1
	case StatusAccepted:
		return 2
	case StatusPickedUp:
		return 3
	case StatusInProgress:
		return 4
	case StatusDelivered:
		return 5
	case StatusCompleted:
		return 6
	default:
		return -1
	}
}

// Later reports whether s is strictly further along the lifecycle than
// other. An authoritative push may jump forward over states the client
// never observed (server truth wins), but it may never move backwards.
func (s Status) Later(other Status) bool {
	a, b := s.ordinal(), other.ordinal()
	if a < 0 || b < 0 {
		return false
	}
	return a > b
}
