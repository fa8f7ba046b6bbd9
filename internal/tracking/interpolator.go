package tracking

import (
	"sync"
	"time"

	"delivery-sync/internal/domain"
)

// Config describes smoothing behaviour.
type Config struct {
	// MinInterval coalesces raw updates arriving faster than this: only the
	// latest is kept, intermediate ones are discarded.
	MinInterval time.Duration
	// AnimationDuration is the fixed window over which the rendered
	// position glides from its previous spot to a newly accepted point.
	AnimationDuration time.Duration
}

// minETA is the floor for derived arrival estimates.
const minETA = time.Minute

// track holds the per-delivery smoothing state: the last two accepted
// points (the whole interpolation buffer) plus at most one coalesced
// pending point.
type track struct {
	prev           *domain.TrackingPoint
	last           *domain.TrackingPoint
	pending        *domain.TrackingPoint
	lastAcceptedAt time.Time
	animFrom       domain.Coordinates
	animStart      time.Time
	destination    *domain.Coordinates
}

// Interpolator smooths and throttles courier position updates and derives
// ETA. The rendered position is a pure function of elapsed time, not a
// stored mutable value, so a render tick can never drift from the model.
type Interpolator struct {
	cfg Config
	now func() time.Time

	mu     sync.Mutex
	tracks map[domain.DeliveryID]*track
}

// New creates an Interpolator.
func New(cfg Config) *Interpolator {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = 2 * time.Second
	}
	if cfg.AnimationDuration <= 0 {
		cfg.AnimationDuration = 2 * time.Second
	}
	return &Interpolator{
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
		tracks: make(map[domain.DeliveryID]*track),
	}
}

// WithNow sets the clock source.
func (i *Interpolator) WithNow(now func() time.Time) *Interpolator {
	if now != nil {
		i.now = now
	}
	return i
}

// SetDestination records the dropoff used for ETA derivation.
func (i *Interpolator) SetDestination(id domain.DeliveryID, dest domain.Coordinates) {
	i.mu.Lock()
	defer i.mu.Unlock()
	tr := i.ensure(id)
	tr.destination = &dest
}

// OnRawUpdate feeds one raw GPS ping. It reports whether the point was
// accepted as a new animation target; coalesced points return false and
// replace any earlier pending point.
func (i *Interpolator) OnRawUpdate(p domain.TrackingPoint) bool {
	now := i.now()

	i.mu.Lock()
	defer i.mu.Unlock()

	tr := i.ensure(p.DeliveryID)
	i.promotePending(tr, now)

	if tr.last == nil || now.Sub(tr.lastAcceptedAt) >= i.cfg.MinInterval {
		i.accept(tr, p, now)
		return true
	}

	tr.pending = &p
	return false
}

// CurrentRenderPosition returns the position to draw at now. It converges
// exactly to the accepted target once the animation window has elapsed and
// approaches it monotonically before that.
func (i *Interpolator) CurrentRenderPosition(id domain.DeliveryID, now time.Time) (domain.Coordinates, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()

	tr, ok := i.tracks[id]
	if !ok {
		return domain.Coordinates{}, false
	}
	i.promotePending(tr, now)
	if tr.last == nil {
		return domain.Coordinates{}, false
	}
	return i.renderPos(tr, now), true
}

// LastKnown returns the latest accepted raw point.
func (i *Interpolator) LastKnown(id domain.DeliveryID) (domain.TrackingPoint, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()

	tr, ok := i.tracks[id]
	if !ok || tr.last == nil {
		return domain.TrackingPoint{}, false
	}
	return *tr.last, true
}

// ETA derives the estimated time to destination from the last two accepted
// points and the remaining great-circle distance, floored at one minute.
// It is recomputed from source data on every call rather than decremented
// by a timer.
func (i *Interpolator) ETA(id domain.DeliveryID) (time.Duration, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()

	tr, ok := i.tracks[id]
	if !ok || tr.last == nil || tr.destination == nil {
		return 0, false
	}

	speedKph := tr.last.SpeedKph
	if speedKph <= 0 && tr.prev != nil {
		dt := tr.last.ReceivedAt.Sub(tr.prev.ReceivedAt)
		if dt > 0 {
			distKm := haversineKm(tr.prev.Coordinates(), tr.last.Coordinates())
			speedKph = distKm / dt.Hours()
		}
	}
	if speedKph <= 0 {
		return 0, false
	}

	remainingKm := haversineKm(tr.last.Coordinates(), *tr.destination)
	eta := time.Duration(remainingKm / speedKph * float64(time.Hour))
	if eta < minETA {
		eta = minETA
	}
	return eta, true
}

// Forget drops all smoothing state for a delivery. Tracking data is
// ephemeral and does not outlive the subscription.
func (i *Interpolator) Forget(id domain.DeliveryID) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.tracks, id)
}

func (i *Interpolator) ensure(id domain.DeliveryID) *track {
	tr, ok := i.tracks[id]
	if !ok {
		tr = &track{}
		i.tracks[id] = tr
	}
	return tr
}

// accept promotes a point to animation target. The animation restarts from
// the currently rendered position, not the previous target, so a target
// change mid-flight never makes the marker jump.
func (i *Interpolator) accept(tr *track, p domain.TrackingPoint, now time.Time) {
	if tr.last != nil {
		tr.animFrom = i.renderPos(tr, now)
		tr.prev = tr.last
	} else {
		tr.animFrom = p.Coordinates()
	}
	tr.last = &p
	tr.pending = nil
	tr.lastAcceptedAt = now
	tr.animStart = now
}

func (i *Interpolator) promotePending(tr *track, now time.Time) {
	if tr.pending != nil && now.Sub(tr.lastAcceptedAt) >= i.cfg.MinInterval {
		i.accept(tr, *tr.pending, now)
	}
}

func (i *Interpolator) renderPos(tr *track, now time.Time) domain.Coordinates {
	target := tr.last.Coordinates()
	elapsed := now.Sub(tr.animStart)
	if elapsed >= i.cfg.AnimationDuration {
		return target
	}
	t := float64(elapsed) / float64(i.cfg.AnimationDuration)
	return interpolate(tr.animFrom, target, t)
}
