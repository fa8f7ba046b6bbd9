package rest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"delivery-sync/internal/apperr"
	"delivery-sync/internal/domain"
)

// Clock provides current time.
type Clock interface {
	Now() time.Time
}

// RealClock is the default clock.
type RealClock struct{}

// Now returns current time.
func (RealClock) Now() time.Time { return time.Now() }

// TokenBucket is a single-flow token bucket for outbound request pacing.
type TokenBucket struct {
	rate  float64
	burst float64

	mu     sync.Mutex
	clock  Clock
	tokens float64
	last   time.Time
}

// NewTokenBucketPerWindow builds a bucket allowing limit requests per window.
func NewTokenBucketPerWindow(clock Clock, limit int, window time.Duration) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	if window <= 0 {
		window = time.Second
	}
	if limit <= 0 {
		limit = 1
	}
	return &TokenBucket{
		rate:   float64(limit) / window.Seconds(),
		burst:  float64(limit),
		clock:  clock,
		tokens: float64(limit),
		last:   clock.Now(),
	}
}

// Allow reports whether one more request may proceed now.
func (b *TokenBucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	if dt := now.Sub(b.last); dt > 0 {
		b.tokens += dt.Seconds() * b.rate
		if b.tokens > b.burst {
			b.tokens = b.burst
		}
		b.last = now
	}

	if b.tokens < 1.0 {
		return false
	}
	b.tokens -= 1.0
	return true
}

type sender interface {
	Send(ctx context.Context, op domain.PendingOperation) (*domain.Delivery, error)
}

// LimitedSender paces outbound mutations so a large backlog flush does not
// hammer the marketplace. A rejected send is a transient failure; the queue
// reschedules it with backoff rather than losing it.
type LimitedSender struct {
	next   sender
	bucket *TokenBucket
}

// NewLimitedSender wraps next with the bucket; returns nil on nil next.
func NewLimitedSender(next sender, bucket *TokenBucket) *LimitedSender {
	if next == nil {
		return nil
	}
	return &LimitedSender{next: next, bucket: bucket}
}

// Send forwards the operation when the bucket permits it.
func (s *LimitedSender) Send(ctx context.Context, op domain.PendingOperation) (*domain.Delivery, error) {
	if s.bucket != nil && !s.bucket.Allow() {
		return nil, fmt.Errorf("rest gateway: outbound rate limit exceeded: %w", apperr.ErrTransient)
	}
	return s.next.Send(ctx, op)
}
