package livechannel

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/q360/livemonitor/internal/metrics"
)

const testEndpoint = "ws://dashboard.local/ws/notifications/"

func newTestClient(t *testing.T, d *fakeDialer, clock clockwork.Clock) *Client {
	t.Helper()
	c := New(testEndpoint, &Options{
		Dialer: d,
		Policy: ReconnectPolicy{
			MaxAttempts: 5,
			Backoff:     Exponential(1000*time.Millisecond, 10000*time.Millisecond),
		},
		Clock: clock,
	})
	t.Cleanup(c.Teardown)
	return c
}

func TestClient_InitialState(t *testing.T) {
	c := newTestClient(t, newFakeDialer(false), clockwork.NewFakeClock())

	if c.State() != Closed {
		t.Errorf("Expected state closed, got %s", c.State())
	}
	if c.Attempt() != 0 {
		t.Errorf("Expected attempt 0, got %d", c.Attempt())
	}
	if c.GaveUp() {
		t.Error("Expected GaveUp to be false")
	}
	if c.Endpoint() != testEndpoint {
		t.Errorf("Expected endpoint %s, got %s", testEndpoint, c.Endpoint())
	}
}

func TestClient_ConnectOpens(t *testing.T) {
	d := newFakeDialer(false)
	c := newTestClient(t, d, clockwork.NewFakeClock())
	rec := record(c)

	c.Connect()
	ev := rec.open(t)

	if ev.From != Connecting {
		t.Errorf("Expected transition from connecting, got %s", ev.From)
	}
	if c.State() != Open {
		t.Errorf("Expected state open, got %s", c.State())
	}

	// Connect while open is a no-op.
	c.Connect()
	c.Connect()
	if d.count() != 1 {
		t.Errorf("Expected 1 dial, got %d", d.count())
	}
}

func TestClient_BackoffScenario(t *testing.T) {
	d := newFakeDialer(true)
	clock := clockwork.NewFakeClock()
	c := newTestClient(t, d, clock)
	rec := record(c)
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()

	c.Connect()
	waitDial(t, d)

	want := []time.Duration{
		2000 * time.Millisecond,
		4000 * time.Millisecond,
		8000 * time.Millisecond,
		10000 * time.Millisecond,
		10000 * time.Millisecond,
	}

	for i, delay := range want {
		ev := rec.scheduled(t)
		if ev.Delay != delay {
			t.Errorf("Reconnect %d: expected delay %v, got %v", i+1, delay, ev.Delay)
		}
		if ev.Attempt != i+1 {
			t.Errorf("Reconnect %d: expected attempt %d, got %d", i+1, i+1, ev.Attempt)
		}
		if !errors.Is(ev.Err, ErrConnectionLost) {
			t.Errorf("Reconnect %d: expected ErrConnectionLost, got %v", i+1, ev.Err)
		}

		if err := clock.BlockUntilContext(ctx, 1); err != nil {
			t.Fatalf("Reconnect timer not armed: %v", err)
		}
		// Nothing fires before the delay elapses.
		clock.Advance(delay - time.Millisecond)
		if d.count() != i+1 {
			t.Fatalf("Expected %d dials before the delay elapsed, got %d", i+1, d.count())
		}
		clock.Advance(time.Millisecond)
		waitDial(t, d)
	}

	ev := rec.gaveUp(t)
	if !errors.Is(ev.Err, ErrMaxRetriesExceeded) {
		t.Errorf("Expected ErrMaxRetriesExceeded, got %v", ev.Err)
	}
	if !c.GaveUp() {
		t.Error("Expected GaveUp to be true")
	}
	if c.State() != Closed {
		t.Errorf("Expected state closed, got %s", c.State())
	}

	clock.Advance(time.Hour)
	c.Connect()
	time.Sleep(20 * time.Millisecond)
	if d.count() != 6 {
		t.Errorf("Expected 6 dials in total, got %d", d.count())
	}
}

func TestClient_ReconnectResetsAttempt(t *testing.T) {
	d := newFakeDialer(false)
	clock := clockwork.NewFakeClock()
	c := newTestClient(t, d, clock)
	rec := record(c)

	c.Connect()
	rec.open(t)
	first := d.last()

	first.drop(io.EOF)
	ev := rec.scheduled(t)
	if ev.Delay != 2000*time.Millisecond {
		t.Errorf("Expected delay 2s, got %v", ev.Delay)
	}
	if c.Attempt() != 1 {
		t.Errorf("Expected attempt 1, got %d", c.Attempt())
	}
	if !first.isClosed() {
		t.Error("Expected the dropped transport to be closed")
	}

	clock.Advance(ev.Delay)
	rec.open(t)

	if c.Attempt() != 0 {
		t.Errorf("Expected attempt reset to 0, got %d", c.Attempt())
	}
	if d.last() == first {
		t.Error("Expected a fresh transport after reconnect")
	}

	// After a successful open the schedule starts over.
	d.last().drop(errors.New("connection reset by peer"))
	ev = rec.scheduled(t)
	if ev.Delay != 2000*time.Millisecond {
		t.Errorf("Expected delay 2s after reset, got %v", ev.Delay)
	}
}

func TestClient_CloseAndErrorTransitions(t *testing.T) {
	tests := []struct {
		name  string
		cause error
		want  []State
	}{
		{"clean close", io.EOF, []State{Closed}},
		{"transport error", errors.New("broken pipe"), []State{Errored, Closed}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newFakeDialer(false)
			c := newTestClient(t, d, clockwork.NewFakeClock())
			rec := record(c)

			c.Connect()
			rec.open(t)
			d.last().drop(tt.cause)

			for _, state := range tt.want {
				state := state
				ev := rec.next(t, state.String(), func(ev StateEvent) bool {
					return ev.To == state && !ev.Scheduled()
				})
				if !errors.Is(ev.Err, ErrConnectionLost) {
					t.Errorf("Expected ErrConnectionLost on %s, got %v", state, ev.Err)
				}
			}
			rec.scheduled(t)
		})
	}
}

func TestClient_SendWhileDisconnected(t *testing.T) {
	d := newFakeDialer(true)
	c := newTestClient(t, d, clockwork.NewFakeClock())

	err := c.Send(NewCommand("get_stats"))
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}
	if d.count() != 0 {
		t.Errorf("Expected Send not to dial, got %d dials", d.count())
	}

	rec := record(c)
	c.Connect()
	rec.scheduled(t)

	if err := c.Send(NewCommand("get_stats")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected while reconnecting, got %v", err)
	}
}

func TestClient_SendWhileOpen(t *testing.T) {
	d := newFakeDialer(false)
	c := newTestClient(t, d, clockwork.NewFakeClock())
	rec := record(c)

	c.Connect()
	rec.open(t)

	if err := c.Send(NewCommand("get_recent_threats").With("hours", 6)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	sent := d.last().sent()
	if len(sent) != 1 {
		t.Fatalf("Expected 1 frame, got %d", len(sent))
	}
	var got map[string]any
	if err := json.Unmarshal([]byte(sent[0]), &got); err != nil {
		t.Fatalf("Invalid frame %q: %v", sent[0], err)
	}
	if got["type"] != "get_recent_threats" || got["hours"] != float64(6) {
		t.Errorf("Unexpected frame %v", got)
	}
}

func TestClient_DispatchNotification(t *testing.T) {
	d := newFakeDialer(false)
	c := newTestClient(t, d, clockwork.NewFakeClock())
	rec := record(c)

	ids := make(chan int, 1)
	c.OnMessage("notification", HandleJSON(func(n struct {
		ID int `json:"id"`
	}) {
		ids <- n.ID
	}))

	c.Connect()
	rec.open(t)
	d.last().push(`{"type":"notification","data":{"id":7}}`)

	select {
	case id := <-ids:
		if id != 7 {
			t.Errorf("Expected id 7, got %d", id)
		}
	case <-time.After(waitTimeout):
		t.Fatal("Handler was not invoked")
	}
	if c.State() != Open {
		t.Errorf("Expected state to stay open, got %s", c.State())
	}
}

func TestClient_DispatchOrderAndLastHandlerWins(t *testing.T) {
	d := newFakeDialer(false)
	c := newTestClient(t, d, clockwork.NewFakeClock())
	rec := record(c)

	var mu sync.Mutex
	var got []string
	done := make(chan struct{})

	c.OnMessage("new_log", func(Envelope) error {
		t.Error("Replaced handler must not be called")
		return nil
	})
	c.OnMessage("new_log", func(env Envelope) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, env.Field("data.action").String())
		if len(got) == 3 {
			close(done)
		}
		return nil
	})

	c.Connect()
	rec.open(t)
	conn := d.last()
	conn.push(`{"type":"new_log","data":{"action":"create"}}`)
	conn.push(`{"type":"unknown_kind","data":{}}`)
	conn.push(`{"type":"new_log","data":{"action":"update"}}`)
	conn.push(`{"type":"new_log","data":{"action":"delete"}}`)

	waitClosed(t, done)

	want := []string{"create", "update", "delete"}
	mu.Lock()
	defer mu.Unlock()
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Message %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestClient_MalformedMessage(t *testing.T) {
	d := newFakeDialer(false)
	m := metrics.New()
	errs := make(chan error, 4)

	c := New(testEndpoint, &Options{
		Dialer:  d,
		Clock:   clockwork.NewFakeClock(),
		Metrics: m,
		OnError: func(err error) { errs <- err },
	})
	t.Cleanup(c.Teardown)
	rec := record(c)

	c.Connect()
	rec.open(t)
	d.last().push(`{not json`)

	select {
	case err := <-errs:
		var malformed *MalformedMessageError
		if !errors.As(err, &malformed) {
			t.Errorf("Expected MalformedMessageError, got %T", err)
		} else if string(malformed.Raw) != `{not json` {
			t.Errorf("Expected raw payload to be kept, got %q", malformed.Raw)
		}
	case <-time.After(waitTimeout):
		t.Fatal("Error callback was not invoked")
	}

	if c.State() != Open {
		t.Errorf("Expected state to stay open, got %s", c.State())
	}
	if got := testutil.ToFloat64(m.MalformedMessages.WithLabelValues(testEndpoint)); got != 1 {
		t.Errorf("Expected 1 malformed message, got %v", got)
	}
}

func TestClient_HandlerDecodeFailureAndPanic(t *testing.T) {
	d := newFakeDialer(false)
	c := newTestClient(t, d, clockwork.NewFakeClock())
	rec := record(c)
	errs := make(chan error, 4)
	c.OnError(func(err error) { errs <- err })

	c.OnMessage("stats_update", HandleJSON(func(struct {
		Total int `json:"total_threats"`
	}) {
	}))
	c.OnMessage("threat_alert", func(Envelope) error {
		panic("boom")
	})

	c.Connect()
	rec.open(t)
	d.last().push(`{"type":"stats_update","data":{"total_threats":"many"}}`)
	d.last().push(`{"type":"threat_alert","data":{}}`)

	for i := 0; i < 2; i++ {
		select {
		case err := <-errs:
			if i == 0 {
				var malformed *MalformedMessageError
				if !errors.As(err, &malformed) {
					t.Errorf("Expected MalformedMessageError, got %v", err)
				}
			}
		case <-time.After(waitTimeout):
			t.Fatalf("Expected error %d", i+1)
		}
	}
	if c.State() != Open {
		t.Errorf("Expected state to stay open, got %s", c.State())
	}
}

func TestClient_OnOpenHookRunsOnEveryOpen(t *testing.T) {
	d := newFakeDialer(false)
	clock := clockwork.NewFakeClock()
	c := newTestClient(t, d, clock)
	rec := record(c)

	opened := make(chan error, 4)
	c.OnOpen(func() { opened <- c.Send(NewCommand("get_stats")) })

	c.Connect()
	rec.open(t)
	if err := <-opened; err != nil {
		t.Fatalf("Send from hook failed: %v", err)
	}

	d.last().drop(io.EOF)
	ev := rec.scheduled(t)
	clock.Advance(ev.Delay)
	rec.open(t)
	if err := <-opened; err != nil {
		t.Fatalf("Send from hook failed: %v", err)
	}

	for _, conn := range d.conns {
		sent := conn.sent()
		if len(sent) != 1 || sent[0] != `{"type":"get_stats"}` {
			t.Errorf("Expected one get_stats per transport, got %v", sent)
		}
	}
}

func TestClient_TeardownCancelsPendingTimer(t *testing.T) {
	d := newFakeDialer(true)
	clock := clockwork.NewFakeClock()
	c := newTestClient(t, d, clock)
	rec := record(c)

	c.Connect()
	rec.scheduled(t)

	c.Teardown()
	waitClosed(t, c.Done())

	clock.Advance(time.Hour)
	c.Connect()
	time.Sleep(20 * time.Millisecond)

	if d.count() != 1 {
		t.Errorf("Expected no dial after teardown, got %d dials", d.count())
	}
	if c.State() != Closed {
		t.Errorf("Expected state closed, got %s", c.State())
	}
	if err := c.Reset(); !errors.Is(err, ErrTornDown) {
		t.Errorf("Expected ErrTornDown from Reset, got %v", err)
	}
	if err := c.Send(NewCommand("get_stats")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected after teardown, got %v", err)
	}
}

func TestClient_TeardownWhileOpen(t *testing.T) {
	d := newFakeDialer(false)
	clock := clockwork.NewFakeClock()
	c := newTestClient(t, d, clock)
	rec := record(c)

	c.Connect()
	rec.open(t)
	conn := d.last()

	c.Teardown()
	ev := rec.next(t, "teardown", func(ev StateEvent) bool { return ev.TornDown })
	if ev.From != Open || ev.To != Closed {
		t.Errorf("Expected open -> closed, got %s -> %s", ev.From, ev.To)
	}
	waitClosed(t, c.Done())

	if !conn.isClosed() {
		t.Error("Expected transport to be closed")
	}

	clock.Advance(time.Hour)
	time.Sleep(20 * time.Millisecond)
	if d.count() != 1 {
		t.Errorf("Expected no reconnect after teardown, got %d dials", d.count())
	}

	select {
	case ev := <-rec.events:
		t.Errorf("Unexpected event after teardown: %+v", ev)
	default:
	}
}

// stallDialer blocks every dial until its context is cancelled, then hands
// back a transport anyway.
type stallDialer struct {
	started chan struct{}
	conns   chan *fakeConn
	dials   int
	mu      sync.Mutex
}

func (d *stallDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	d.mu.Lock()
	d.dials++
	d.mu.Unlock()
	d.started <- struct{}{}
	<-ctx.Done()
	conn := newFakeConn()
	d.conns <- conn
	return conn, nil
}

func (d *stallDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func TestClient_TeardownWhileConnecting(t *testing.T) {
	d := &stallDialer{started: make(chan struct{}, 4), conns: make(chan *fakeConn, 4)}
	clock := clockwork.NewFakeClock()
	c := New(testEndpoint, &Options{Dialer: d, Clock: clock})
	rec := record(c)

	c.Connect()
	select {
	case <-d.started:
	case <-time.After(waitTimeout):
		t.Fatal("Timed out waiting for dial")
	}
	if c.State() != Connecting {
		t.Fatalf("Expected state connecting, got %s", c.State())
	}

	c.Teardown()
	waitClosed(t, c.Done())

	var late *fakeConn
	select {
	case late = <-d.conns:
	case <-time.After(waitTimeout):
		t.Fatal("Expected the dial to be cancelled")
	}
	waitClosed(t, late.closed)

	first := rec.next(t, "connecting", func(ev StateEvent) bool { return true })
	if first.From != Closed || first.To != Connecting {
		t.Errorf("Expected closed -> connecting, got %s -> %s", first.From, first.To)
	}
	last := rec.next(t, "teardown", func(ev StateEvent) bool { return true })
	if !last.TornDown || last.From != Connecting || last.To != Closed {
		t.Errorf("Expected torn down connecting -> closed, got %+v", last)
	}

	clock.Advance(time.Hour)
	time.Sleep(20 * time.Millisecond)

	select {
	case ev := <-rec.events:
		t.Errorf("Unexpected event after teardown: %+v", ev)
	default:
	}
	if d.count() != 1 {
		t.Errorf("Expected a single dial, got %d", d.count())
	}
	if c.State() != Closed {
		t.Errorf("Expected state closed, got %s", c.State())
	}
}

func TestClient_ResetAfterGiveUp(t *testing.T) {
	d := newFakeDialer(true)
	c := New(testEndpoint, &Options{
		Dialer: d,
		Policy: ReconnectPolicy{MaxAttempts: 0, Backoff: Linear(time.Second)},
		Clock:  clockwork.NewFakeClock(),
	})
	t.Cleanup(c.Teardown)
	rec := record(c)

	c.Connect()
	rec.gaveUp(t)

	d.setFail(false)
	if err := c.Reset(); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	rec.open(t)

	if c.GaveUp() {
		t.Error("Expected GaveUp to be cleared")
	}
	if c.Attempt() != 0 {
		t.Errorf("Expected attempt 0, got %d", c.Attempt())
	}
}

func TestClient_Unsubscribe(t *testing.T) {
	d := newFakeDialer(false)
	c := newTestClient(t, d, clockwork.NewFakeClock())
	rec := record(c)

	calls := make(chan StateEvent, 16)
	unsubscribe := c.Subscribe(func(ev StateEvent) { calls <- ev })
	unsubscribe()

	c.Connect()
	rec.open(t)

	if len(calls) != 0 {
		t.Errorf("Expected no events after unsubscribe, got %d", len(calls))
	}
}

func TestClient_Metrics(t *testing.T) {
	d := newFakeDialer(false)
	m := metrics.New()
	clock := clockwork.NewFakeClock()
	c := New(testEndpoint, &Options{Dialer: d, Clock: clock, Metrics: m})
	t.Cleanup(c.Teardown)
	rec := record(c)

	if err := c.Send(NewCommand("get_stats")); err == nil {
		t.Fatal("Expected Send to fail while closed")
	}

	c.Connect()
	rec.open(t)
	d.last().push(`{"type":"stats_update","data":{}}`)
	d.last().drop(io.EOF)
	rec.scheduled(t)

	if got := testutil.ToFloat64(m.ChannelState.WithLabelValues(testEndpoint)); got != float64(Closed) {
		t.Errorf("Expected state gauge %d, got %v", Closed, got)
	}
	if got := testutil.ToFloat64(m.Reconnects.WithLabelValues(testEndpoint)); got != 1 {
		t.Errorf("Expected 1 reconnect, got %v", got)
	}
	if got := testutil.ToFloat64(m.MessagesReceived.WithLabelValues(testEndpoint, "stats_update")); got != 1 {
		t.Errorf("Expected 1 message, got %v", got)
	}
	if got := testutil.ToFloat64(m.SendFailures.WithLabelValues(testEndpoint)); got != 1 {
		t.Errorf("Expected 1 send failure, got %v", got)
	}
}
