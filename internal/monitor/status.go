// Package monitor builds the dashboard's live views on top of livechannel
// clients: the threat monitor, the notification feed and the audit log
// stream.
//
// Each component registers its handlers on a Channel, reconciles inbound
// messages into view state and exposes that state through Snapshot. Updates
// is a coalesced change signal for UIs that redraw on demand.
package monitor

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/q360/livemonitor/internal/livechannel"
)

// Channel is the part of livechannel.Client the components use.
type Channel interface {
	Connect()
	Teardown()
	Reset() error
	Send(cmd livechannel.Command) error
	OnMessage(kind string, h livechannel.Handler)
	OnError(fn func(error))
	OnOpen(fn func())
	Subscribe(fn func(livechannel.StateEvent)) func()
	State() livechannel.State
	GaveUp() bool
	Endpoint() string
	Done() <-chan struct{}
}

// Status is the connection indicator shown to the user.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
	StatusGaveUp       Status = "gave_up"
	StatusClosed       Status = "closed"
)

// Text returns the indicator label.
func (s Status) Text() string {
	switch s {
	case StatusConnecting:
		return "Connecting"
	case StatusConnected:
		return "Connected"
	case StatusDisconnected:
		return "Disconnected"
	case StatusError:
		return "Error"
	case StatusGaveUp:
		return "Live updates paused"
	case StatusClosed:
		return "Closed"
	default:
		return string(s)
	}
}

// StatusFor maps a client state onto the indicator.
func StatusFor(state livechannel.State, gaveUp bool) Status {
	if gaveUp {
		return StatusGaveUp
	}
	switch state {
	case livechannel.Connecting:
		return StatusConnecting
	case livechannel.Open:
		return StatusConnected
	case livechannel.Errored:
		return StatusError
	default:
		return StatusDisconnected
	}
}

// ConnStatus describes the connection of one component.
type ConnStatus struct {
	Endpoint  string
	Status    Status
	Attempt   int
	RetryIn   time.Duration
	LastError string
	Since     time.Time
}

// Activity is one line of a component's activity log.
type Activity struct {
	At      time.Time
	Level   string // info, warn, error
	Source  string
	Message string
}

const (
	maxActivity = 50
	maxHistory  = 200
)

// tracker follows the state events of one channel and keeps the activity
// log and change signal shared by all components.
type tracker struct {
	source string

	mu       sync.Mutex
	conn     ConnStatus
	activity []Activity // newest first
	history  []livechannel.StateEvent

	updates chan struct{}
}

func newTracker(source string, ch Channel) *tracker {
	t := &tracker{
		source:  source,
		conn:    ConnStatus{Endpoint: ch.Endpoint(), Status: StatusFor(ch.State(), ch.GaveUp())},
		updates: make(chan struct{}, 1),
	}
	ch.Subscribe(t.observe)
	return t
}

func (t *tracker) observe(ev livechannel.StateEvent) {
	t.mu.Lock()

	t.history = append(t.history, ev)
	if len(t.history) > maxHistory {
		t.history = t.history[len(t.history)-maxHistory:]
	}

	switch {
	case ev.TornDown:
		t.setStatusLocked(StatusClosed, ev)
		t.addLocked(ev.At, "info", "Channel closed")
	case ev.GaveUp:
		t.conn.RetryIn = 0
		t.conn.Attempt = ev.Attempt
		t.setStatusLocked(StatusGaveUp, ev)
		t.addLocked(ev.At, "error", fmt.Sprintf("Gave up after %d attempts, live updates paused", ev.Attempt-1))
	case ev.Scheduled():
		t.conn.Attempt = ev.Attempt
		t.conn.RetryIn = ev.Delay
		t.addLocked(ev.At, "warn", fmt.Sprintf("Reconnecting in %s (attempt %d)", ev.Delay, ev.Attempt))
	case ev.To == livechannel.Open:
		t.conn.Attempt = 0
		t.conn.RetryIn = 0
		t.conn.LastError = ""
		t.setStatusLocked(StatusConnected, ev)
		t.addLocked(ev.At, "info", "Connected")
	case ev.To == livechannel.Connecting:
		t.setStatusLocked(StatusConnecting, ev)
	case ev.To == livechannel.Errored:
		t.setStatusLocked(StatusError, ev)
	case ev.To == livechannel.Closed:
		t.setStatusLocked(StatusDisconnected, ev)
		t.addLocked(ev.At, "warn", "Disconnected")
	}
	if ev.Err != nil && !errors.Is(ev.Err, livechannel.ErrMaxRetriesExceeded) {
		t.conn.LastError = ev.Err.Error()
	}

	t.mu.Unlock()
	t.signal()
}

func (t *tracker) setStatusLocked(s Status, ev livechannel.StateEvent) {
	if t.conn.Status != s {
		t.conn.Since = ev.At
	}
	t.conn.Status = s
}

func (t *tracker) addLocked(at time.Time, level, msg string) {
	if at.IsZero() {
		at = time.Now()
	}
	t.activity = append([]Activity{{At: at, Level: level, Source: t.source, Message: msg}}, t.activity...)
	if len(t.activity) > maxActivity {
		t.activity = t.activity[:maxActivity]
	}
}

func (t *tracker) note(level, msg string) {
	t.mu.Lock()
	t.addLocked(time.Now(), level, msg)
	t.mu.Unlock()
	t.signal()
}

func (t *tracker) signal() {
	select {
	case t.updates <- struct{}{}:
	default:
	}
}

func (t *tracker) snapshot() (ConnStatus, []Activity) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn, append([]Activity(nil), t.activity...)
}

// History returns the recorded state events, oldest first.
func (t *tracker) History() []livechannel.StateEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]livechannel.StateEvent(nil), t.history...)
}

// Updates signals that the snapshot changed. Signals are coalesced.
func (t *tracker) Updates() <-chan struct{} {
	return t.updates
}
