package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type (
	// DeliveryID identifies a delivery. Deliveries created while offline get
	// a local-only ID until the server assigns the real one.
	DeliveryID string
	// CourierID identifies the courier assigned to a delivery.
	CourierID string
)

// localIDPrefix marks delivery IDs minted on-device before server ack.
const localIDPrefix = "local-"

// NewLocalDeliveryID mints a local-only delivery ID for offline creates.
func NewLocalDeliveryID() DeliveryID {
	return DeliveryID(localIDPrefix + uuid.NewString())
}

// Local reports whether the ID was minted on-device and is still awaiting
// reconciliation with the server-assigned ID.
func (id DeliveryID) Local() bool {
	return strings.HasPrefix(string(id), localIDPrefix)
}

// Coordinates is a WGS84 point.
type Coordinates struct {
	Lat float64
	Lng float64
}

// Valid checks lat/lng ranges.
func (c Coordinates) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

// Delivery is the canonical view of a delivery assignment.
// Version is the sole conflict-resolution signal: it increases on every
// accepted mutation and an incoming update only applies if materially newer
// or explicitly authoritative.
type Delivery struct {
	ID               DeliveryID
	Status           Status
	Pickup           Coordinates
	Dropoff          Coordinates
	CourierID        CourierID
	ProposedPrice    float64
	FinalPrice       float64
	Version          int64
	LastServerSyncAt time.Time
}

// DeliveryMutation carries optional fields for an optimistic local update.
// A nil field means "do not change" that attribute.
type DeliveryMutation struct {
	Status        *Status
	CourierID     *CourierID
	ProposedPrice *float64
	FinalPrice    *float64
	Dropoff       *Coordinates
}
