package engine

import (
	"context"
	"encoding/json"
	"time"

	"delivery-sync/internal/domain"
	"delivery-sync/internal/logx"
	"delivery-sync/internal/realtime"
)

type coordinatesPayload struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type createDeliveryPayload struct {
	Pickup        coordinatesPayload `json:"pickup"`
	Dropoff       coordinatesPayload `json:"dropoff"`
	ProposedPrice float64            `json:"proposedPrice"`
	Bidding       bool               `json:"bidding,omitempty"`
}

type statusPayload struct {
	Status string `json:"status"`
}

type bidPayload struct {
	Amount float64 `json:"amount"`
}

type ratingPayload struct {
	Stars   int    `json:"stars"`
	Comment string `json:"comment,omitempty"`
}

// statusEventData is the partial state carried by status and bid.accepted
// push events. Absent fields keep their local values on merge.
type statusEventData struct {
	Status     string  `json:"status"`
	CourierID  string  `json:"courierId,omitempty"`
	FinalPrice float64 `json:"finalPrice,omitempty"`
	Version    int64   `json:"version"`
}

type locationEventData struct {
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Heading  float64 `json:"heading,omitempty"`
	SpeedKph float64 `json:"speedKph,omitempty"`
}

// handleDeliveryEvent consumes push events on a delivery's status channel.
func (e *Engine) handleDeliveryEvent(ev realtime.Event) {
	switch ev.Type {
	case realtime.EventStatus, realtime.EventBidAccepted:
		e.applyStatusPush(ev)
	default:
		e.logger.Debug("unhandled delivery event",
			logx.String("type", ev.Type),
			logx.String("delivery_id", ev.DeliveryID),
		)
	}
}

// applyStatusPush overlays the event's partial payload onto the current
// snapshot and merges it as an authoritative push. Events are partial by
// design; the overlay keeps untouched fields local so a status ping cannot
// wipe prices or coordinates.
func (e *Engine) applyStatusPush(ev realtime.Event) {
	var data statusEventData
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		e.logger.Warn("malformed push event",
			logx.String("type", ev.Type),
			logx.String("delivery_id", ev.DeliveryID),
			logx.Any("err", err),
		)
		return
	}

	id := domain.DeliveryID(ev.DeliveryID)
	current, ok := e.store.Snapshot(id)
	if !ok {
		// first contact with this delivery: fetch the full state instead of
		// merging a fragment
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := e.Refresh(ctx, id); err != nil {
			e.logger.Warn("push for unknown delivery, refresh failed",
				logx.String("delivery_id", ev.DeliveryID),
				logx.Any("err", err),
			)
		}
		return
	}

	next := current
	next.Status = domain.Status(data.Status)
	next.Version = data.Version
	if data.CourierID != "" {
		next.CourierID = domain.CourierID(data.CourierID)
	}
	if data.FinalPrice != 0 {
		next.FinalPrice = data.FinalPrice
	}
	e.store.ApplyServerPush(next)
}

// TrackingUpdate is one rendered frame of courier movement delivered to a
// tracking subscriber.
type TrackingUpdate struct {
	DeliveryID domain.DeliveryID
	Position   domain.Coordinates
	ETA        time.Duration
	HasETA     bool
	Stale      bool
}

// SubscribeTracking opens the courier's location channel and streams
// smoothed position updates to fn. Raw pings are throttled and animated by
// the interpolator; a silent channel eventually yields one update with
// Stale set. The returned function tears the subscription down and drops
// the ephemeral tracking state.
func (e *Engine) SubscribeTracking(id domain.DeliveryID, courierID domain.CourierID, fn func(TrackingUpdate)) func() {
	if snap, ok := e.store.Snapshot(id); ok {
		e.interp.SetDestination(id, snap.Dropoff)
	}

	sub := e.realtime.Subscribe(realtime.CourierLocationChannel(courierID), func(ev realtime.Event) {
		e.handleTrackingEvent(id, courierID, ev, fn)
	})
	return func() {
		e.realtime.Unsubscribe(sub)
		e.interp.Forget(id)
	}
}

func (e *Engine) handleTrackingEvent(id domain.DeliveryID, courierID domain.CourierID, ev realtime.Event, fn func(TrackingUpdate)) {
	if ev.Type == realtime.EventStale || ev.Stale {
		update := TrackingUpdate{DeliveryID: id, Stale: true}
		if pos, ok := e.interp.CurrentRenderPosition(id, e.now()); ok {
			update.Position = pos
		}
		fn(update)
		return
	}
	if ev.Type != realtime.EventLocation {
		return
	}

	var data locationEventData
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		e.logger.Warn("malformed location event",
			logx.String("delivery_id", string(id)),
			logx.Any("err", err),
		)
		return
	}

	e.logger.Debug("courier location update",
		logx.String("delivery_id", string(id)),
		logx.Float64("lat", data.Lat),
		logx.Float64("lng", data.Lng),
	)

	receivedAt := ev.ServerTimestamp
	if receivedAt.IsZero() {
		receivedAt = e.now()
	}
	e.interp.OnRawUpdate(domain.TrackingPoint{
		DeliveryID: id,
		CourierID:  courierID,
		Lat:        data.Lat,
		Lng:        data.Lng,
		Heading:    data.Heading,
		SpeedKph:   data.SpeedKph,
		ReceivedAt: receivedAt,
	})

	update := TrackingUpdate{DeliveryID: id}
	if pos, ok := e.interp.CurrentRenderPosition(id, e.now()); ok {
		update.Position = pos
	}
	update.ETA, update.HasETA = e.interp.ETA(id)
	fn(update)
}

// RenderPosition returns the smoothed marker position for the delivery's
// courier at the given instant. Render loops call this every frame.
func (e *Engine) RenderPosition(id domain.DeliveryID, at time.Time) (domain.Coordinates, bool) {
	return e.interp.CurrentRenderPosition(id, at)
}

// ETA returns the current arrival estimate, recomputed from source data.
func (e *Engine) ETA(id domain.DeliveryID) (time.Duration, bool) {
	return e.interp.ETA(id)
}
