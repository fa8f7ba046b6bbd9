package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"delivery-sync/internal/domain"
)

func TestNewLocalDeliveryID(t *testing.T) {
	t.Parallel()

	id := domain.NewLocalDeliveryID()
	require.True(t, id.Local())
	require.NotEqual(t, id, domain.NewLocalDeliveryID())

	require.False(t, domain.DeliveryID("d-42").Local())
}

func TestCoordinates_Valid(t *testing.T) {
	t.Parallel()

	require.True(t, domain.Coordinates{Lat: 55.75, Lng: 37.61}.Valid())
	require.False(t, domain.Coordinates{Lat: 91, Lng: 0}.Valid())
	require.False(t, domain.Coordinates{Lat: 0, Lng: -181}.Valid())
}

func TestNewPendingOperation(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	op := domain.NewPendingOperation(domain.OpSubmitBid, "d-1", []byte(`{"amount":10}`), 5, now)

	require.NotEmpty(t, op.ID)
	require.Equal(t, domain.OpQueued, op.State)
	require.Equal(t, now, op.EnqueuedAt)
	require.Equal(t, now, op.NextRetryAt)
	require.Equal(t, 5, op.MaxAttempts)
	require.Zero(t, op.Attempts)
	require.True(t, op.Kind.Valid())
	require.False(t, domain.OperationKind("drop_table").Valid())
}
