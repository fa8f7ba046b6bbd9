package rest

import (
	"context"
	"time"

	"delivery-sync/internal/apperr"
	"delivery-sync/internal/domain"
	"delivery-sync/internal/logx"
)

type counter interface {
	Inc()
}

// RetryConfig describes RetryingReader behaviour.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// RetryingReader retries transient read failures in place. Mutations are
// not retried here; their retry budget lives in the durable queue.
type RetryingReader struct {
	next    Reader
	logger  logx.Logger
	retries counter
	cfg     RetryConfig
}

// NewRetryingReader wraps next with retry behaviour; returns nil on nil next.
func NewRetryingReader(next Reader, logger logx.Logger, retries counter, cfg RetryConfig) *RetryingReader {
	if next == nil {
		return nil
	}
	return &RetryingReader{next: next, logger: logger, retries: retries, cfg: cfg}
}

// GetDelivery fetches a delivery, retrying transient failures.
func (g *RetryingReader) GetDelivery(ctx context.Context, id domain.DeliveryID) (*domain.Delivery, error) {
	var lastErr error
	for attempt := 1; attempt <= g.cfg.MaxAttempts; attempt++ {
		d, err := g.next.GetDelivery(ctx, id)
		if err == nil {
			return d, nil
		}
		lastErr = err
		if ctx.Err() != nil || attempt == g.cfg.MaxAttempts || !apperr.Retryable(err) {
			break
		}
		delay := retryDelay(g.cfg.BaseDelay, g.cfg.MaxDelay, attempt)
		if g.retries != nil {
			g.retries.Inc()
		}
		g.logger.Warn("rest gateway retry",
			logx.String("method", "GetDelivery"),
			logx.Int("attempt", attempt),
			logx.Duration("delay", delay),
			logx.Any("err", err),
		)
		if !sleepWithContext(ctx, delay) {
			break
		}
	}
	return nil, lastErr
}

// ListTracking fetches a tracking timeline, retrying transient failures.
func (g *RetryingReader) ListTracking(ctx context.Context, id domain.DeliveryID) ([]domain.TrackingPoint, error) {
	var lastErr error
	for attempt := 1; attempt <= g.cfg.MaxAttempts; attempt++ {
		points, err := g.next.ListTracking(ctx, id)
		if err == nil {
			return points, nil
		}
		lastErr = err

		if ctx.Err() != nil || attempt == g.cfg.MaxAttempts || !apperr.Retryable(err) {
			break
		}

		delay := retryDelay(g.cfg.BaseDelay, g.cfg.MaxDelay, attempt)
		if g.retries != nil {
			g.retries.Inc()
		}
		g.logger.Warn("rest gateway retry",
			logx.String("method", "ListTracking"),
			logx.Int("attempt", attempt),
			logx.Duration("delay", delay),
			logx.Any("err", err),
		)
		if !sleepWithContext(ctx, delay) {
			break
		}
	}
	return nil, lastErr
}

func retryDelay(base, max time.Duration, attempt int) time.Duration {
	d := base << (attempt - 1)
	if d > max {
		return max
	}
	return d
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
