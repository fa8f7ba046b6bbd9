package rest

//go:generate mockgen -source=contracts.go -destination=mock_reader_test.go -package=rest_test

import (
	"context"

	"delivery-sync/internal/domain"
)

// Reader fetches authoritative marketplace state. Writes go through the
// pending-operation queue instead, so this surface is read-only.
type Reader interface {
	GetDelivery(ctx context.Context, id domain.DeliveryID) (*domain.Delivery, error)
	ListTracking(ctx context.Context, id domain.DeliveryID) ([]domain.TrackingPoint, error)
}
