package domain

import "time"

// TrackingPoint is a single courier GPS ping. Ephemeral: only the last
// known point plus a short interpolation buffer is retained per delivery.
type TrackingPoint struct {
	DeliveryID DeliveryID
	CourierID  CourierID
	Lat        float64
	Lng        float64
	Heading    float64
	SpeedKph   float64
	ReceivedAt time.Time
}

// Coordinates returns the point's position.
func (p TrackingPoint) Coordinates() Coordinates {
	return Coordinates{Lat: p.Lat, Lng: p.Lng}
}
