package realtime

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"delivery-sync/internal/logx"
)

type counter interface {
	Inc()
}

// Metrics groups the manager's counters. Any of them may be nil.
type Metrics struct {
	Reconnects counter
	Dropped    counter
	Stale      counter
}

// Config describes transport behaviour.
type Config struct {
	URL            string
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	StaleThreshold time.Duration
}

// Handler consumes events for one channel, in arrival order. Ordering
// across different channels is not guaranteed.
type Handler func(Event)

// Subscription identifies one registered handler.
type Subscription struct {
	channel string
	id      int
}

type channelState struct {
	handlers      []handlerEntry
	lastMessageAt time.Time
	staleSent     bool
}

type handlerEntry struct {
	id int
	fn Handler
}

// Manager owns the single transport connection and the per-channel
// subscription table. Duplicate subscriptions to one channel are
// deduplicated by reference counting: the wire sees one subscribe no
// matter how many screens are watching.
type Manager struct {
	dialer  Dialer
	logger  logx.Logger
	metrics Metrics
	cfg     Config
	now     func() time.Time

	mu     sync.Mutex
	rng    *rand.Rand
	subs   map[string]*channelState
	nextID int
	conn   Conn
}

// NewManager creates a Manager; Run must be started for events to flow.
func NewManager(dialer Dialer, logger logx.Logger, metrics Metrics, cfg Config) *Manager {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 2 * time.Second
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = 45 * time.Second
	}
	return &Manager{
		dialer:  dialer,
		logger:  logger,
		metrics: metrics,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		subs:    make(map[string]*channelState),
	}
}

// WithNow sets the clock source.
func (m *Manager) WithNow(now func() time.Time) *Manager {
	if now != nil {
		m.now = now
	}
	return m
}

// Subscribe registers a handler for a channel. The first subscriber of a
// channel opens it on the wire; later ones piggyback.
func (m *Manager) Subscribe(channel string, h Handler) Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	sub := Subscription{channel: channel, id: m.nextID}

	st, ok := m.subs[channel]
	if !ok {
		st = &channelState{lastMessageAt: m.now()}
		m.subs[channel] = st
	}
	st.handlers = append(st.handlers, handlerEntry{id: sub.id, fn: h})

	if len(st.handlers) == 1 && m.conn != nil {
		m.sendControlLocked("subscribe", channel)
	}
	return sub
}

// Unsubscribe drops one handler; the channel closes on the wire when its
// last subscriber leaves. Pending messages for a closed channel are
// dropped, not buffered.
func (m *Manager) Unsubscribe(sub Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.subs[sub.channel]
	if !ok {
		return
	}
	for i, h := range st.handlers {
		if h.id == sub.id {
			st.handlers = append(st.handlers[:i:i], st.handlers[i+1:]...)
			break
		}
	}
	if len(st.handlers) == 0 {
		delete(m.subs, sub.channel)
		if m.conn != nil {
			m.sendControlLocked("unsubscribe", sub.channel)
		}
	}
}

// Run connects and keeps the transport alive until ctx cancels.
// Subscriptions survive disconnects: they are replayed on every reconnect.
// Retries are unbounded; connectivity is assumed to eventually return.
func (m *Manager) Run(ctx context.Context) error {
	go m.staleWatchdog(ctx)

	attempt := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn, err := m.dialer.Dial(ctx, m.cfg.URL)
		if err != nil {
			attempt++
			delay := m.nextDelay(attempt)
			m.logger.Warn("realtime connect failed",
				logx.Int("attempt", attempt),
				logx.Duration("delay", delay),
				logx.Any("err", err),
			)
			if !sleepWithContext(ctx, delay) {
				return ctx.Err()
			}
			continue
		}
		attempt = 0

		m.attach(conn)
		m.logger.Info("realtime connected", logx.String("url", m.cfg.URL))

		// ReadJSON does not watch ctx; closing the connection unblocks it
		stop := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				_ = conn.Close()
			case <-stop:
			}
		}()
		err = m.readLoop(conn)
		close(stop)
		m.detach(conn)
		_ = conn.Close()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if m.metrics.Reconnects != nil {
			m.metrics.Reconnects.Inc()
		}
		attempt++
		delay := m.nextDelay(attempt)
		m.logger.Warn("realtime disconnected, reconnecting",
			logx.Duration("delay", delay),
			logx.Any("err", err),
		)
		if !sleepWithContext(ctx, delay) {
			return ctx.Err()
		}
	}
}

// attach installs the connection and replays every live subscription.
func (m *Manager) attach(conn Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conn = conn
	now := m.now()
	for channel, st := range m.subs {
		st.lastMessageAt = now
		st.staleSent = false
		m.sendControlLocked("subscribe", channel)
	}
}

func (m *Manager) detach(conn Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == conn {
		m.conn = nil
	}
}

func (m *Manager) readLoop(conn Conn) error {
	for {
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			return err
		}
		m.dispatch(ev)
	}
}

// dispatch fans one event out to its channel's handlers. A single reader
// goroutine feeds dispatch, which preserves per-channel arrival order.
func (m *Manager) dispatch(ev Event) {
	channel := channelFor(ev)

	m.mu.Lock()
	st, ok := m.subs[channel]
	if !ok {
		m.mu.Unlock()
		if m.metrics.Dropped != nil {
			m.metrics.Dropped.Inc()
		}
		return
	}
	st.lastMessageAt = m.now()
	st.staleSent = false
	handlers := make([]Handler, len(st.handlers))
	for i, h := range st.handlers {
		handlers[i] = h.fn
	}
	m.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

func (m *Manager) staleWatchdog(ctx context.Context) {
	interval := m.cfg.StaleThreshold / 4
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkStale(m.now())
		}
	}
}

// checkStale emits one synthetic stale event per silent location channel
// so the UI degrades gracefully instead of showing frozen data as fresh.
func (m *Manager) checkStale(now time.Time) {
	type staleHit struct {
		handlers []Handler
		ev       Event
	}
	var hits []staleHit

	m.mu.Lock()
	for channel, st := range m.subs {
		if !strings.HasSuffix(channel, ".location") || st.staleSent {
			continue
		}
		if now.Sub(st.lastMessageAt) <= m.cfg.StaleThreshold {
			continue
		}
		st.staleSent = true
		handlers := make([]Handler, len(st.handlers))
		for i, h := range st.handlers {
			handlers[i] = h.fn
		}
		hits = append(hits, staleHit{
			handlers: handlers,
			ev: Event{
				Type:      EventStale,
				CourierID: courierFromChannel(channel),
				Stale:     true,
			},
		})
	}
	m.mu.Unlock()

	for _, hit := range hits {
		if m.metrics.Stale != nil {
			m.metrics.Stale.Inc()
		}
		m.logger.Warn("location channel went stale",
			logx.String("event", "channel_stale"),
			logx.String("courier_id", hit.ev.CourierID),
		)
		for _, h := range hit.handlers {
			h(hit.ev)
		}
	}
}

// sendControlLocked writes a subscribe/unsubscribe frame; callers hold mu.
func (m *Manager) sendControlLocked(action, channel string) {
	if err := m.conn.WriteJSON(controlFrame{Action: action, Channel: channel}); err != nil {
		m.logger.Warn("control frame write failed",
			logx.String("action", action),
			logx.String("channel", channel),
			logx.Any("err", err),
		)
	}
}

func (m *Manager) nextDelay(attempt int) time.Duration {
	base, max := m.cfg.BaseDelay, m.cfg.MaxDelay

	d := base
	for i := 1; i < attempt; i++ {
		d <<= 1
		if d >= max {
			d = max
			break
		}
	}
	if d > max {
		d = max
	}

	m.mu.Lock()
	jitter := time.Duration(m.rng.Int63n(int64(base) + 1))
	m.mu.Unlock()
	return d + jitter
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

func courierFromChannel(channel string) string {
	trimmed := strings.TrimPrefix(channel, "courier.")
	return strings.TrimSuffix(trimmed, ".location")
}
