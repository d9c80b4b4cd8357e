package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/q360/livemonitor/internal/livechannel"
)

// fakeChannel runs every callback synchronously on the test goroutine.
type fakeChannel struct {
	mu       sync.Mutex
	handlers map[string]livechannel.Handler
	onErr    func(error)
	onOpen   []func()
	subs     []func(livechannel.StateEvent)
	state    livechannel.State
	gaveUp   bool
	sent     []livechannel.Command

	connects, resets, teardowns int
	done                        chan struct{}
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		handlers: make(map[string]livechannel.Handler),
		state:    livechannel.Closed,
		done:     make(chan struct{}),
	}
}

func (f *fakeChannel) Connect()         { f.connects++ }
func (f *fakeChannel) Endpoint() string { return "ws://fake/ws/" }
func (f *fakeChannel) State() livechannel.State {
	return f.state
}
func (f *fakeChannel) GaveUp() bool          { return f.gaveUp }
func (f *fakeChannel) Done() <-chan struct{} { return f.done }

func (f *fakeChannel) Teardown() {
	f.teardowns++
	if f.teardowns == 1 {
		close(f.done)
	}
}

func (f *fakeChannel) Reset() error {
	f.resets++
	f.gaveUp = false
	return nil
}

func (f *fakeChannel) Send(cmd livechannel.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != livechannel.Open {
		return livechannel.ErrNotConnected
	}
	f.sent = append(f.sent, cmd)
	return nil
}

func (f *fakeChannel) OnMessage(kind string, h livechannel.Handler) { f.handlers[kind] = h }
func (f *fakeChannel) OnError(fn func(error))                       { f.onErr = fn }
func (f *fakeChannel) OnOpen(fn func())                             { f.onOpen = append(f.onOpen, fn) }

func (f *fakeChannel) Subscribe(fn func(livechannel.StateEvent)) func() {
	f.subs = append(f.subs, fn)
	return func() {}
}

func (f *fakeChannel) emit(ev livechannel.StateEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	for _, fn := range f.subs {
		fn(ev)
	}
}

func (f *fakeChannel) open() {
	from := f.state
	f.state = livechannel.Open
	f.emit(livechannel.StateEvent{From: from, To: livechannel.Open})
	for _, hook := range f.onOpen {
		hook()
	}
}

// deliver parses raw like the client does and runs the handler. Parse and
// handler errors go to the error callback.
func (f *fakeChannel) deliver(t *testing.T, raw string) {
	t.Helper()
	env, err := livechannel.ParseEnvelope([]byte(raw))
	if err != nil {
		if f.onErr != nil {
			f.onErr(err)
		}
		return
	}
	h, ok := f.handlers[env.Kind]
	if !ok {
		return
	}
	if err := h(env); err != nil && f.onErr != nil {
		f.onErr(err)
	}
}

func (f *fakeChannel) sentCommands() []livechannel.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]livechannel.Command(nil), f.sent...)
}

// fakeAPI is an in-memory NotificationAPI.
type fakeAPI struct {
	mu      sync.Mutex
	count   int
	marked  []int64
	allRead int
	calls   chan string
}

func newFakeAPI(count int) *fakeAPI {
	return &fakeAPI{count: count, calls: make(chan string, 16)}
}

func (a *fakeAPI) UnreadCount(ctx context.Context) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	select {
	case a.calls <- "unread":
	default:
	}
	return a.count, nil
}

func (a *fakeAPI) MarkRead(ctx context.Context, id int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.marked = append(a.marked, id)
	if a.count > 0 {
		a.count--
	}
	return nil
}

func (a *fakeAPI) MarkAllRead(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.allRead++
	a.count = 0
	return nil
}

func waitCall(t *testing.T, api *fakeAPI, name string) {
	t.Helper()
	for {
		select {
		case got := <-api.calls:
			if got == name {
				return
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("Timed out waiting for %s call", name)
		}
	}
}
