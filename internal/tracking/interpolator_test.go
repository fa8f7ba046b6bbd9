package tracking

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"delivery-sync/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func point(id domain.DeliveryID, lat, lng float64, at time.Time) domain.TrackingPoint {
	return domain.TrackingPoint{
		DeliveryID: id,
		CourierID:  "c-1",
		Lat:        lat,
		Lng:        lng,
		ReceivedAt: at,
	}
}

func newInterpolator(clock *fakeClock) *Interpolator {
	return New(Config{
		MinInterval:       2 * time.Second,
		AnimationDuration: 2 * time.Second,
	}).WithNow(clock.Now)
}

func TestInterpolator_ConvergesToTarget(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	i := newInterpolator(clock)

	require.True(t, i.OnRawUpdate(point("d-1", 55.0, 37.0, clock.Now())))
	clock.Advance(3 * time.Second)
	require.True(t, i.OnRawUpdate(point("d-1", 55.1, 37.1, clock.Now())))

	start := clock.Now()
	target := domain.Coordinates{Lat: 55.1, Lng: 37.1}

	// converges exactly at t >= animationDuration
	pos, ok := i.CurrentRenderPosition("d-1", start.Add(2*time.Second))
	require.True(t, ok)
	require.Equal(t, target, pos)

	pos, ok = i.CurrentRenderPosition("d-1", start.Add(time.Hour))
	require.True(t, ok)
	require.Equal(t, target, pos)
}

func TestInterpolator_MonotonicallyApproachesTarget(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	i := newInterpolator(clock)

	require.True(t, i.OnRawUpdate(point("d-1", 55.0, 37.0, clock.Now())))
	clock.Advance(3 * time.Second)
	require.True(t, i.OnRawUpdate(point("d-1", 55.1, 37.1, clock.Now())))

	start := clock.Now()
	target := domain.Coordinates{Lat: 55.1, Lng: 37.1}

	lastDist := haversineKm(domain.Coordinates{Lat: 55.0, Lng: 37.0}, target)
	for step := time.Duration(0); step < 2*time.Second; step += 100 * time.Millisecond {
		pos, ok := i.CurrentRenderPosition("d-1", start.Add(step))
		require.True(t, ok)
		d := haversineKm(pos, target)
		require.LessOrEqual(t, d, lastDist+1e-9, "distance to target grew at t=%s", step)
		lastDist = d
	}
}

func TestInterpolator_PureFunctionOfTime(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	i := newInterpolator(clock)

	require.True(t, i.OnRawUpdate(point("d-1", 55.0, 37.0, clock.Now())))
	clock.Advance(3 * time.Second)
	require.True(t, i.OnRawUpdate(point("d-1", 55.2, 37.2, clock.Now())))

	at := clock.Now().Add(700 * time.Millisecond)
	a, ok := i.CurrentRenderPosition("d-1", at)
	require.True(t, ok)
	b, ok := i.CurrentRenderPosition("d-1", at)
	require.True(t, ok)
	require.Equal(t, a, b)
}

func TestInterpolator_CoalescesBursts(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	i := newInterpolator(clock)

	// establish an accepted point, then a burst inside the window
	require.True(t, i.OnRawUpdate(point("d-1", 55.0, 37.0, clock.Now())))

	clock.Advance(500 * time.Millisecond)
	accepted := 0
	for n := 0; n < 10; n++ {
		clock.Advance(100 * time.Millisecond)
		if i.OnRawUpdate(point("d-1", 55.0+float64(n+1)/1000, 37.0, clock.Now())) {
			accepted++
		}
	}
	// the whole 1-second burst coalesced into zero immediate acceptances
	require.Zero(t, accepted)

	// once the window elapses, exactly the latest burst point is promoted
	clock.Advance(2 * time.Second)
	_, ok := i.CurrentRenderPosition("d-1", clock.Now())
	require.True(t, ok)

	pos, ok := i.CurrentRenderPosition("d-1", clock.Now().Add(2*time.Second))
	require.True(t, ok)
	require.InDelta(t, 55.010, pos.Lat, 1e-9)
	require.InDelta(t, 37.0, pos.Lng, 1e-9)

	last, ok := i.LastKnown("d-1")
	require.True(t, ok)
	require.InDelta(t, 55.010, last.Lat, 1e-9)
}

func TestInterpolator_RetargetDoesNotJump(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	i := newInterpolator(clock)

	require.True(t, i.OnRawUpdate(point("d-1", 55.0, 37.0, clock.Now())))
	clock.Advance(3 * time.Second)
	require.True(t, i.OnRawUpdate(point("d-1", 55.1, 37.0, clock.Now())))

	// halfway through the animation a new target arrives
	midway := clock.Now().Add(time.Second)
	before, ok := i.CurrentRenderPosition("d-1", midway)
	require.True(t, ok)

	clock.Advance(2 * time.Second)
	require.True(t, i.OnRawUpdate(point("d-1", 55.2, 37.0, clock.Now())))

	// the new animation starts from the rendered position, so the marker
	// does not teleport
	after, ok := i.CurrentRenderPosition("d-1", clock.Now())
	require.True(t, ok)
	require.InDelta(t, before.Lat, after.Lat, 0.06)
}

func TestInterpolator_ETA(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	i := newInterpolator(clock)

	// ~111km between lat 55 and lat 56 at fixed lng; 60 km/h → about 1.85h
	i.SetDestination("d-1", domain.Coordinates{Lat: 56.0, Lng: 37.0})

	p := point("d-1", 55.0, 37.0, clock.Now())
	p.SpeedKph = 60
	require.True(t, i.OnRawUpdate(p))

	eta, ok := i.ETA("d-1")
	require.True(t, ok)
	require.Greater(t, eta, 90*time.Minute)
	require.Less(t, eta, 130*time.Minute)
}

func TestInterpolator_ETAFloorsAtOneMinute(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	i := newInterpolator(clock)

	i.SetDestination("d-1", domain.Coordinates{Lat: 55.0001, Lng: 37.0})
	p := point("d-1", 55.0, 37.0, clock.Now())
	p.SpeedKph = 60
	require.True(t, i.OnRawUpdate(p))

	eta, ok := i.ETA("d-1")
	require.True(t, ok)
	require.Equal(t, time.Minute, eta)
}

func TestInterpolator_ETADerivedFromLastTwoPoints(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	i := newInterpolator(clock)
	i.SetDestination("d-1", domain.Coordinates{Lat: 56.0, Lng: 37.0})

	// no speed on the pings: derive from consecutive points
	require.True(t, i.OnRawUpdate(point("d-1", 55.0, 37.0, clock.Now())))

	// ~11.1km north in 10 minutes → ~66.7 km/h
	clock.Advance(10 * time.Minute)
	require.True(t, i.OnRawUpdate(point("d-1", 55.1, 37.0, clock.Now())))

	eta, ok := i.ETA("d-1")
	require.True(t, ok)
	require.Greater(t, eta, 60*time.Minute)
	require.Less(t, eta, 120*time.Minute)
}

func TestInterpolator_ETAUnknownWithoutData(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	i := newInterpolator(clock)

	_, ok := i.ETA("d-1")
	require.False(t, ok)

	// point but no destination
	require.True(t, i.OnRawUpdate(point("d-1", 55, 37, clock.Now())))
	_, ok = i.ETA("d-1")
	require.False(t, ok)

	// destination but stationary courier
	i.SetDestination("d-1", domain.Coordinates{Lat: 56, Lng: 37})
	_, ok = i.ETA("d-1")
	require.False(t, ok)
}

func TestInterpolator_Forget(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	i := newInterpolator(clock)

	require.True(t, i.OnRawUpdate(point("d-1", 55, 37, clock.Now())))
	i.Forget("d-1")

	_, ok := i.CurrentRenderPosition("d-1", clock.Now())
	require.False(t, ok)
}

func TestHaversine(t *testing.T) {
	t.Parallel()

	// one degree of latitude is ~111km
	d := haversineKm(domain.Coordinates{Lat: 55, Lng: 37}, domain.Coordinates{Lat: 56, Lng: 37})
	require.InDelta(t, 111.2, d, 1.0)

	require.Zero(t, haversineKm(domain.Coordinates{Lat: 55, Lng: 37}, domain.Coordinates{Lat: 55, Lng: 37}))
}

func TestInterpolate_GreatCircleLongHop(t *testing.T) {
	t.Parallel()

	a := domain.Coordinates{Lat: 40.64, Lng: -73.78} // JFK
	b := domain.Coordinates{Lat: 51.47, Lng: -0.46}  // LHR

	mid := interpolate(a, b, 0.5)
	// the great-circle midpoint arcs well north of the linear midpoint
	require.Greater(t, mid.Lat, 50.0)

	require.Equal(t, a, interpolate(a, b, 0))
	require.Equal(t, b, interpolate(a, b, 1))
}
