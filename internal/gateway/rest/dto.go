package rest

import (
	"time"

	"delivery-sync/internal/domain"
)

type coordinatesDTO struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type deliveryDTO struct {
	ID            string         `json:"id"`
	Status        string         `json:"status"`
	Pickup        coordinatesDTO `json:"pickup"`
	Dropoff       coordinatesDTO `json:"dropoff"`
	CourierID     string         `json:"courierId,omitempty"`
	ProposedPrice float64        `json:"proposedPrice"`
	FinalPrice    float64        `json:"finalPrice,omitempty"`
	Version       int64          `json:"version"`
}

type trackingPointDTO struct {
	CourierID  string    `json:"courierId"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Heading    float64   `json:"heading,omitempty"`
	SpeedKph   float64   `json:"speedKph,omitempty"`
	RecordedAt time.Time `json:"recordedAt"`
}

type errorDTO struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (d deliveryDTO) toDomain() *domain.Delivery {
	return &domain.Delivery{
		ID:            domain.DeliveryID(d.ID),
		Status:        domain.Status(d.Status),
		Pickup:        domain.Coordinates{Lat: d.Pickup.Lat, Lng: d.Pickup.Lng},
		Dropoff:       domain.Coordinates{Lat: d.Dropoff.Lat, Lng: d.Dropoff.Lng},
		CourierID:     domain.CourierID(d.CourierID),
		ProposedPrice: d.ProposedPrice,
		FinalPrice:    d.FinalPrice,
		Version:       d.Version,
	}
}

func (p trackingPointDTO) toDomain(id domain.DeliveryID) domain.TrackingPoint {
	return domain.TrackingPoint{
		DeliveryID: id,
		CourierID:  domain.CourierID(p.CourierID),
		Lat:        p.Lat,
		Lng:        p.Lng,
		Heading:    p.Heading,
		SpeedKph:   p.SpeedKph,
		ReceivedAt: p.RecordedAt,
	}
}
