package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"delivery-sync/internal/logx"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []controlFrame

	events chan Event
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		events: make(chan Event, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadJSON(v any) error {
	select {
	case ev := <-c.events:
		*(v.(*Event)) = ev
		return nil
	case <-c.closed:
		return errors.New("connection closed")
	}
}

func (c *fakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, v.(controlFrame))
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) sentFrames() []controlFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]controlFrame, len(c.frames))
	copy(out, c.frames)
	return out
}

// fakeDialer hands out scripted connections, then fails.
type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
}

func (d *fakeDialer) Dial(_ context.Context, _ string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil, errors.New("dial refused")
	}
	conn := d.conns[0]
	d.conns = d.conns[1:]
	return conn, nil
}

type countStub struct {
	mu sync.Mutex
	n  int
}

func (c *countStub) Inc() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
}

func (c *countStub) value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func newTestManager(dialer Dialer, metrics Metrics) *Manager {
	return NewManager(dialer, logx.Nop(), metrics, Config{
		URL:            "ws://test/realtime",
		BaseDelay:      time.Millisecond,
		MaxDelay:       5 * time.Millisecond,
		StaleThreshold: 45 * time.Second,
	})
}

func runManager(t *testing.T, m *Manager) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("manager did not stop")
		}
	})
	return cancel
}

func TestManager_RefcountedSubscribe(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	m := newTestManager(&fakeDialer{conns: []*fakeConn{conn}}, Metrics{})
	runManager(t, m)

	channel := DeliveryStatusChannel("d-1")
	s1 := m.Subscribe(channel, func(Event) {})
	s2 := m.Subscribe(channel, func(Event) {})

	require.Eventually(t, func() bool {
		return len(conn.sentFrames()) >= 1
	}, time.Second, time.Millisecond)

	// two subscribers, one wire subscription
	require.Equal(t, []controlFrame{{Action: "subscribe", Channel: channel}}, conn.sentFrames())

	m.Unsubscribe(s1)
	require.Equal(t, []controlFrame{{Action: "subscribe", Channel: channel}}, conn.sentFrames())

	m.Unsubscribe(s2)
	require.Equal(t, []controlFrame{
		{Action: "subscribe", Channel: channel},
		{Action: "unsubscribe", Channel: channel},
	}, conn.sentFrames())
}

func TestManager_DispatchesInOrderPerChannel(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	m := newTestManager(&fakeDialer{conns: []*fakeConn{conn}}, Metrics{})
	runManager(t, m)

	var mu sync.Mutex
	var got []string
	m.Subscribe(DeliveryStatusChannel("d-1"), func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, string(ev.Data))
	})

	require.Eventually(t, func() bool {
		return len(conn.sentFrames()) == 1
	}, time.Second, time.Millisecond)

	for _, payload := range []string{`"a"`, `"b"`, `"c"`} {
		conn.events <- Event{Type: EventStatus, DeliveryID: "d-1", Data: []byte(payload)}
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{`"a"`, `"b"`, `"c"`}, got)
}

func TestManager_FansOutToAllSubscribers(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	m := newTestManager(&fakeDialer{conns: []*fakeConn{conn}}, Metrics{})
	runManager(t, m)

	var hits sync.WaitGroup
	hits.Add(2)
	channel := DeliveryStatusChannel("d-1")
	m.Subscribe(channel, func(Event) { hits.Done() })
	m.Subscribe(channel, func(Event) { hits.Done() })

	require.Eventually(t, func() bool {
		return len(conn.sentFrames()) == 1
	}, time.Second, time.Millisecond)

	conn.events <- Event{Type: EventStatus, DeliveryID: "d-1"}

	done := make(chan struct{})
	go func() {
		hits.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("not all subscribers were notified")
	}
}

func TestManager_DropsEventsWithoutSubscribers(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	dropped := &countStub{}
	m := newTestManager(&fakeDialer{conns: []*fakeConn{conn}}, Metrics{Dropped: dropped})
	runManager(t, m)

	// subscribe to something else so the connection is live
	m.Subscribe(DeliveryStatusChannel("d-1"), func(Event) {})
	require.Eventually(t, func() bool {
		return len(conn.sentFrames()) == 1
	}, time.Second, time.Millisecond)

	conn.events <- Event{Type: EventStatus, DeliveryID: "d-unwatched"}

	require.Eventually(t, func() bool {
		return dropped.value() == 1
	}, time.Second, time.Millisecond)
}

func TestManager_ResubscribesAfterReconnect(t *testing.T) {
	t.Parallel()

	conn1 := newFakeConn()
	conn2 := newFakeConn()
	reconnects := &countStub{}
	m := newTestManager(&fakeDialer{conns: []*fakeConn{conn1, conn2}}, Metrics{Reconnects: reconnects})
	runManager(t, m)

	status := DeliveryStatusChannel("d-1")
	location := CourierLocationChannel("c-1")
	m.Subscribe(status, func(Event) {})
	m.Subscribe(location, func(Event) {})

	require.Eventually(t, func() bool {
		return len(conn1.sentFrames()) == 2
	}, time.Second, time.Millisecond)

	// drop the first connection; the manager must replay both channels
	_ = conn1.Close()

	require.Eventually(t, func() bool {
		return len(conn2.sentFrames()) == 2
	}, time.Second, time.Millisecond)

	channels := map[string]bool{}
	for _, f := range conn2.sentFrames() {
		require.Equal(t, "subscribe", f.Action)
		channels[f.Channel] = true
	}
	require.True(t, channels[status])
	require.True(t, channels[location])
	require.Equal(t, 1, reconnects.value())
}

func TestManager_StaleLocationChannel(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	stale := &countStub{}
	m := NewManager(&fakeDialer{}, logx.Nop(), Metrics{Stale: stale}, Config{
		StaleThreshold: 45 * time.Second,
	}).WithNow(func() time.Time { return now })

	var mu sync.Mutex
	var got []Event
	m.Subscribe(CourierLocationChannel("c-1"), func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev)
	})
	m.Subscribe(DeliveryStatusChannel("d-1"), func(ev Event) {
		t.Errorf("status channel must never go stale, got %+v", ev)
	})

	// within the threshold nothing happens
	m.checkStale(now.Add(45 * time.Second))
	require.Zero(t, stale.value())

	// past the threshold the location channel gets one synthetic event
	m.checkStale(now.Add(46 * time.Second))
	m.checkStale(now.Add(2 * time.Minute))
	require.Equal(t, 1, stale.value())

	mu.Lock()
	require.Len(t, got, 1)
	require.Equal(t, EventStale, got[0].Type)
	require.Equal(t, "c-1", got[0].CourierID)
	require.True(t, got[0].Stale)
	mu.Unlock()

	// a fresh message resets the watchdog
	m.dispatch(Event{Type: EventLocation, CourierID: "c-1"})
	m.checkStale(now.Add(3 * time.Minute))
	require.Equal(t, 2, stale.value())
}

func TestManager_KeepsRetryingWhileDialFails(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	dialer := &fakeDialer{}
	m := newTestManager(dialer, Metrics{})
	runManager(t, m)

	m.Subscribe(DeliveryStatusChannel("d-1"), func(Event) {})

	// let a few failed attempts pass, then make the dialer succeed
	time.Sleep(20 * time.Millisecond)
	dialer.mu.Lock()
	dialer.conns = []*fakeConn{conn}
	dialer.mu.Unlock()

	require.Eventually(t, func() bool {
		return len(conn.sentFrames()) == 1
	}, time.Second, time.Millisecond)
}
