package livechannel

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"
)

var errDialRefused = errors.New("connection refused")

type frame struct {
	data []byte
	err  error
}

type fakeConn struct {
	in        chan frame
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	written []string
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan frame, 16),
		closed: make(chan struct{}),
	}
}

func (f *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case fr := <-f.in:
		return fr.data, fr.err
	case <-f.closed:
		return nil, net.ErrClosed
	}
}

func (f *fakeConn) WriteMessage(data []byte) error {
	select {
	case <-f.closed:
		return net.ErrClosed
	default:
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, string(data))
	return nil
}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) push(msg string) {
	f.in <- frame{data: []byte(msg)}
}

func (f *fakeConn) drop(err error) {
	f.in <- frame{err: err}
}

func (f *fakeConn) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeConn) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.written...)
}

// fakeDialer hands out fakeConns, or fails while fail is set.
type fakeDialer struct {
	mu    sync.Mutex
	fail  bool
	dials int
	conns []*fakeConn

	dialed chan int
}

func newFakeDialer(fail bool) *fakeDialer {
	return &fakeDialer{fail: fail, dialed: make(chan int, 64)}
}

func (d *fakeDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	d.mu.Lock()
	d.dials++
	n := d.dials
	fail := d.fail
	var conn *fakeConn
	if !fail {
		conn = newFakeConn()
		d.conns = append(d.conns, conn)
	}
	d.mu.Unlock()

	d.dialed <- n
	if fail {
		return nil, errDialRefused
	}
	return conn, nil
}

func (d *fakeDialer) setFail(fail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = fail
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

const waitTimeout = 2 * time.Second

// recorder collects state events from a subscription.
type recorder struct {
	events chan StateEvent
}

func record(c *Client) *recorder {
	r := &recorder{events: make(chan StateEvent, 256)}
	c.Subscribe(func(ev StateEvent) { r.events <- ev })
	return r
}

// next returns the first event matching match, discarding the others.
func (r *recorder) next(t *testing.T, what string, match func(StateEvent) bool) StateEvent {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case ev := <-r.events:
			if match(ev) {
				return ev
			}
		case <-deadline:
			t.Fatalf("Timed out waiting for %s", what)
			return StateEvent{}
		}
	}
}

func (r *recorder) open(t *testing.T) StateEvent {
	t.Helper()
	return r.next(t, "open", func(ev StateEvent) bool { return ev.To == Open })
}

func (r *recorder) scheduled(t *testing.T) StateEvent {
	t.Helper()
	return r.next(t, "scheduled reconnect", StateEvent.Scheduled)
}

func (r *recorder) gaveUp(t *testing.T) StateEvent {
	t.Helper()
	return r.next(t, "give up", func(ev StateEvent) bool { return ev.GaveUp })
}

func waitDial(t *testing.T, d *fakeDialer) int {
	t.Helper()
	select {
	case n := <-d.dialed:
		return n
	case <-time.After(waitTimeout):
		t.Fatalf("Timed out waiting for dial")
		return 0
	}
}

func waitClosed(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(waitTimeout):
		t.Fatalf("Timed out waiting for close")
	}
}
