package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"delivery-sync/internal/domain"
)

// Event types delivered over the push stream.
const (
	EventStatus      = "status"
	EventLocation    = "location"
	EventBidAccepted = "bid.accepted"
	// EventStale is synthetic: emitted locally when a location channel goes
	// silent past the stale threshold, never received from the server.
	EventStale = "stale"
)

// Event is one push message as received from the realtime collaborator.
type Event struct {
	Type            string          `json:"type"`
	DeliveryID      string          `json:"deliveryId,omitempty"`
	CourierID       string          `json:"courierId,omitempty"`
	Data            json.RawMessage `json:"data,omitempty"`
	ServerTimestamp time.Time       `json:"serverTimestamp"`

	// Stale marks synthetic staleness events.
	Stale bool `json:"-"`
}

// DeliveryStatusChannel returns the channel key carrying status and bid
// events for one delivery.
func DeliveryStatusChannel(id domain.DeliveryID) string {
	return fmt.Sprintf("delivery.%s.status", id)
}

// CourierLocationChannel returns the channel key carrying GPS pings for
// one courier.
func CourierLocationChannel(id domain.CourierID) string {
	return fmt.Sprintf("courier.%s.location", id)
}

// channelFor routes an incoming event to its channel key.
func channelFor(ev Event) string {
	if ev.Type == EventLocation {
		return CourierLocationChannel(domain.CourierID(ev.CourierID))
	}
	return DeliveryStatusChannel(domain.DeliveryID(ev.DeliveryID))
}

// controlFrame is the subscribe/unsubscribe message sent to the server.
type controlFrame struct {
	Action  string `json:"action"`
	Channel string `json:"channel"`
}
