package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"delivery-sync/internal/apperr"
	"delivery-sync/internal/domain"
	"delivery-sync/internal/logx"
)

// Client talks to the marketplace REST API. It is the queue's sender for
// mutations and the engine's reader for authoritative fetches.
type Client struct {
	http    *http.Client
	baseURL string
	logger  logx.Logger
}

// NewClient creates a REST client for the given base URL.
func NewClient(httpClient *http.Client, baseURL string, logger logx.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{http: httpClient, baseURL: baseURL, logger: logger}
}

// Send delivers one pending operation. The operation's ID is passed as the
// idempotency key so a replay after a crash cannot duplicate the mutation.
// The returned delivery, when the endpoint yields one, is the authoritative
// post-mutation state.
func (c *Client) Send(ctx context.Context, op domain.PendingOperation) (*domain.Delivery, error) {
	method, path, hasDelivery, err := routeFor(op)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(op.Payload))
	if err != nil {
		return nil, fmt.Errorf("rest gateway: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", op.ID)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rest gateway: %s %s: %v: %w", method, path, err, apperr.ErrTransient)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		return nil, c.statusError(resp, method, path)
	}
	if !hasDelivery {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, nil
	}

	var dto deliveryDTO
	if err := json.NewDecoder(resp.Body).Decode(&dto); err != nil {
		return nil, fmt.Errorf("rest gateway: decode %s response: %v: %w", path, err, apperr.ErrTransient)
	}
	return dto.toDomain(), nil
}

// routeFor maps an operation kind to its endpoint. A create carries no ID
// in its path; operations queued against a locally-created delivery are
// retargeted at the server-assigned ID when the create reconciles.
func routeFor(op domain.PendingOperation) (method, path string, hasDelivery bool, err error) {
	switch op.Kind {
	case domain.OpCreateDelivery:
		return http.MethodPost, "/api/v1/deliveries", true, nil
	case domain.OpCancelDelivery:
		return http.MethodPost, fmt.Sprintf("/api/v1/deliveries/%s/cancel", op.EntityID), true, nil
	case domain.OpUpdateStatus:
		return http.MethodPost, fmt.Sprintf("/api/v1/deliveries/%s/status", op.EntityID), true, nil
	case domain.OpSubmitBid:
		return http.MethodPost, fmt.Sprintf("/api/v1/deliveries/%s/bids", op.EntityID), true, nil
	case domain.OpSubmitRating:
		return http.MethodPost, fmt.Sprintf("/api/v1/deliveries/%s/rating", op.EntityID), false, nil
	case domain.OpUpdateProfile:
		return http.MethodPut, "/api/v1/profile", false, nil
	default:
		return "", "", false, fmt.Errorf("rest gateway: unknown operation kind %q: %w", op.Kind, apperr.ErrTerminal)
	}
}

// GetDelivery fetches the authoritative state of one delivery.
func (c *Client) GetDelivery(ctx context.Context, id domain.DeliveryID) (*domain.Delivery, error) {
	var dto deliveryDTO
	if err := c.getJSON(ctx, fmt.Sprintf("/api/v1/deliveries/%s", id), &dto); err != nil {
		return nil, err
	}
	return dto.toDomain(), nil
}

// ListTracking fetches the recorded tracking timeline of a delivery.
func (c *Client) ListTracking(ctx context.Context, id domain.DeliveryID) ([]domain.TrackingPoint, error) {
	var dtos []trackingPointDTO
	if err := c.getJSON(ctx, fmt.Sprintf("/api/v1/deliveries/%s/tracking", id), &dtos); err != nil {
		return nil, err
	}
	points := make([]domain.TrackingPoint, 0, len(dtos))
	for _, p := range dtos {
		points = append(points, p.toDomain(id))
	}
	return points, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("rest gateway: build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("rest gateway: GET %s: %v: %w", path, err, apperr.ErrTransient)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		return c.statusError(resp, http.MethodGet, path)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("rest gateway: decode %s response: %v: %w", path, err, apperr.ErrTransient)
	}
	return nil
}

// statusError classifies a non-2xx response. Server faults and throttling
// are transient and safe to retry under the idempotency key; the remaining
// client errors are terminal because a retry would fail identically.
func (c *Client) statusError(resp *http.Response, method, path string) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	msg := ""
	var e errorDTO
	if json.Unmarshal(body, &e) == nil && e.Message != "" {
		msg = e.Message
	}

	var sentinel error
	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		sentinel = apperr.ErrTransient
	case resp.StatusCode == http.StatusNotFound:
		sentinel = apperr.ErrNotFound
	case resp.StatusCode == http.StatusConflict:
		sentinel = apperr.ErrConflict
	default:
		sentinel = apperr.ErrTerminal
	}

	c.logger.Warn("marketplace request rejected",
		logx.String("method", method),
		logx.String("path", path),
		logx.Int("status", resp.StatusCode),
		logx.String("message", msg),
	)
	if msg != "" {
		return fmt.Errorf("rest gateway: %s %s: status %d: %s: %w", method, path, resp.StatusCode, msg, sentinel)
	}
	return fmt.Errorf("rest gateway: %s %s: status %d: %w", method, path, resp.StatusCode, sentinel)
}
