// Package livechannel implements a client for one persistent live event
// channel of the Q360 dashboard.
//
// A Client owns at most one transport at a time. When the transport closes or
// fails, the client schedules a reconnect after a backoff delay and gives up
// for good once the attempt budget is spent. Inbound envelopes are dispatched
// to the handler registered for their kind.
//
// All callbacks (message handlers, the error callback, OnOpen hooks and state
// subscribers) run one at a time on a single dispatch goroutine, in the order
// the events happened. Callbacks may call back into the client.
package livechannel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/q360/livemonitor/internal/logger"
	"github.com/q360/livemonitor/internal/metrics"
)

// Handler consumes one envelope. A returned error is passed to the error
// callback.
type Handler func(Envelope) error

// HandleJSON adapts fn into a Handler that decodes the payload into T first.
// Decode failures are reported as MalformedMessageError.
func HandleJSON[T any](fn func(T)) Handler {
	return func(env Envelope) error {
		var v T
		if err := env.Decode(&v); err != nil {
			return err
		}
		fn(v)
		return nil
	}
}

// Options configures a Client. Zero values select the defaults.
type Options struct {
	Dialer  Dialer
	Policy  ReconnectPolicy
	Clock   clockwork.Clock
	Logger  *logger.Logger
	Metrics *metrics.Metrics
	OnError func(error)
}

// Client is a reconnecting live channel client.
type Client struct {
	endpoint string
	dialer   Dialer
	policy   ReconnectPolicy
	clock    clockwork.Clock
	log      *logger.Logger
	metrics  *metrics.Metrics

	mu         sync.Mutex
	state      State
	attempt    int
	gaveUp     bool
	tornDown   bool
	conn       Conn
	gen        uint64
	timer      clockwork.Timer
	cancelDial context.CancelFunc
	handlers   map[string]Handler
	onError    func(error)
	onOpen     []func()
	subs       map[int]func(StateEvent)
	nextSub    int

	writeMu sync.Mutex
	queue   *dispatcher
}

// New creates a client bound to endpoint. The client starts Closed; call
// Connect to open the first transport.
func New(endpoint string, opts *Options) *Client {
	if opts == nil {
		opts = &Options{}
	}

	c := &Client{
		endpoint: endpoint,
		dialer:   opts.Dialer,
		policy:   opts.Policy,
		clock:    opts.Clock,
		log:      opts.Logger,
		metrics:  opts.Metrics,
		state:    Closed,
		handlers: make(map[string]Handler),
		onError:  opts.OnError,
		subs:     make(map[int]func(StateEvent)),
		queue:    newDispatcher(),
	}

	if c.dialer == nil {
		c.dialer = &WebSocketDialer{}
	}
	if c.policy.MaxAttempts == 0 && c.policy.Backoff == nil {
		c.policy = DefaultReconnectPolicy()
	} else {
		c.policy = c.policy.withDefaults()
	}
	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}
	if c.log == nil {
		c.log = logger.Nop()
	}
	c.log = c.log.Field("endpoint", endpoint)

	c.observeState(Closed)
	return c
}

// Endpoint returns the URL the client is bound to.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempt returns the consecutive reconnect attempt counter.
func (c *Client) Attempt() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt
}

// GaveUp reports whether the client stopped reconnecting permanently.
func (c *Client) GaveUp() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gaveUp
}

// Done is closed after Teardown once every queued callback has run.
func (c *Client) Done() <-chan struct{} {
	return c.queue.done
}

// OnMessage registers h for kind, replacing any previous handler.
func (c *Client) OnMessage(kind string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h == nil {
		delete(c.handlers, kind)
		return
	}
	c.handlers[kind] = h
}

// OnError sets the callback for malformed messages and handler failures.
func (c *Client) OnError(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = fn
}

// OnOpen adds a hook that runs every time a transport opens.
func (c *Client) OnOpen(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onOpen = append(c.onOpen, fn)
}

// Subscribe registers fn for state events and returns a function that removes
// it again.
func (c *Client) Subscribe(fn func(StateEvent)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// Connect opens a transport unless one is already being opened or is open.
// It is a no-op after Teardown or once the client gave up.
func (c *Client) Connect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectLocked()
}

// Reset re-arms a client that gave up and connects again.
func (c *Client) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tornDown {
		return ErrTornDown
	}
	c.attempt = 0
	c.gaveUp = false
	c.connectLocked()
	return nil
}

// Send transmits cmd. It fails with ErrNotConnected unless the client is
// Open; rejected commands never reach the transport and are not retried.
func (c *Client) Send(cmd Command) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal %s command: %w", cmd.Kind, err)
	}

	c.mu.Lock()
	if c.tornDown {
		c.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrNotConnected, ErrTornDown)
	}
	conn := c.conn
	if c.state != Open || conn == nil {
		state := c.state
		c.mu.Unlock()
		c.countSendFailure()
		c.log.Debug().Str("kind", cmd.Kind).Str("state", state.String()).Msg("Command rejected, channel not open")
		return ErrNotConnected
	}
	c.mu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.WriteMessage(data); err != nil {
		c.countSendFailure()
		return fmt.Errorf("send %s command: %w", cmd.Kind, err)
	}
	return nil
}

// Teardown closes the client for good: the pending reconnect timer is
// stopped, the transport is closed and no further transitions happen.
// Queued callbacks still run; Done is closed afterwards.
func (c *Client) Teardown() {
	c.mu.Lock()
	if c.tornDown {
		c.mu.Unlock()
		return
	}
	c.tornDown = true
	c.gen++
	c.stopTimerLocked()
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}
	conn := c.conn
	c.conn = nil

	from := c.state
	c.state = Closed
	c.observeState(Closed)
	c.emitLocked(StateEvent{From: from, To: Closed, Attempt: c.attempt, TornDown: true})
	c.queue.close()
	c.mu.Unlock()

	c.log.Info().Msg("Live channel torn down")
	if conn != nil {
		_ = conn.Close()
	}
}

func (c *Client) connectLocked() {
	if c.tornDown || c.gaveUp || c.state == Connecting || c.state == Open {
		return
	}
	c.stopTimerLocked()

	c.gen++
	gen := c.gen
	ctx, cancel := context.WithCancel(context.Background())
	c.cancelDial = cancel

	c.setStateLocked(Connecting, nil)
	c.log.Debug().Int("attempt", c.attempt).Msg("Connecting")

	go c.dial(ctx, gen)
}

func (c *Client) dial(ctx context.Context, gen uint64) {
	conn, err := c.dialer.Dial(ctx, c.endpoint)

	c.mu.Lock()
	if c.tornDown || gen != c.gen {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}

	if err != nil {
		var hsErr *HandshakeError
		if errors.As(err, &hsErr) {
			c.log.Warn().Err(err).Int("status", hsErr.StatusCode).Msg("Handshake rejected")
		} else {
			c.log.Warn().Err(err).Msg("Dial failed")
		}
		c.handleCloseLocked(err)
		c.mu.Unlock()
		return
	}

	c.conn = conn
	c.attempt = 0
	c.setStateLocked(Open, nil)
	for _, hook := range c.onOpen {
		c.queue.post(hook)
	}
	c.mu.Unlock()

	c.log.Info().Msg("Live channel open")
	go c.read(conn, gen)
}

func (c *Client) read(conn Conn, gen uint64) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if !c.tornDown && gen == c.gen {
				if errors.Is(err, io.EOF) {
					c.log.Info().Msg("Live channel closed by server")
				} else {
					c.log.Warn().Err(err).Msg("Live channel read failed")
				}
				c.handleCloseLocked(err)
			}
			c.mu.Unlock()
			return
		}
		c.deliver(data, gen)
	}
}

func (c *Client) deliver(data []byte, gen uint64) {
	env, err := ParseEnvelope(data)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tornDown || gen != c.gen {
		return
	}
	if err != nil {
		if c.metrics != nil {
			c.metrics.MalformedMessages.WithLabelValues(c.endpoint).Inc()
		}
		c.log.Warn().Err(err).Int("bytes", len(data)).Msg("Malformed message")
		c.reportLocked(err)
		return
	}

	if c.metrics != nil {
		c.metrics.MessagesReceived.WithLabelValues(c.endpoint, env.Kind).Inc()
	}
	c.queue.post(func() { c.dispatch(env) })
}

func (c *Client) dispatch(env Envelope) {
	c.mu.Lock()
	h, ok := c.handlers[env.Kind]
	c.mu.Unlock()

	if !ok {
		c.log.Debug().Str("kind", env.Kind).Msg("No handler for message kind")
		return
	}

	if err := c.runHandler(h, env); err != nil {
		c.log.Warn().Err(err).Str("kind", env.Kind).Msg("Handler failed")
		c.mu.Lock()
		fn := c.onError
		c.mu.Unlock()
		if fn != nil {
			fn(err)
		}
	}
}

func (c *Client) runHandler(h Handler, env Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler for %q panicked: %v", env.Kind, r)
		}
	}()
	return h(env)
}

// handleCloseLocked is the single path for transport close and transport
// failure, including failed dials.
func (c *Client) handleCloseLocked(cause error) {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.gen++

	lost := fmt.Errorf("%w: %w", ErrConnectionLost, cause)
	if !errors.Is(cause, io.EOF) {
		c.setStateLocked(Errored, lost)
	}
	c.setStateLocked(Closed, lost)

	if c.tornDown {
		return
	}

	c.attempt++
	if c.attempt > c.policy.MaxAttempts {
		c.gaveUp = true
		c.log.Error().Int("attempt", c.attempt).Int("max_attempts", c.policy.MaxAttempts).Msg("Giving up reconnecting")
		c.emitLocked(StateEvent{From: Closed, To: Closed, Attempt: c.attempt, GaveUp: true, Err: ErrMaxRetriesExceeded})
		return
	}

	delay := c.policy.Backoff(c.attempt)
	gen := c.gen
	c.timer = c.clock.AfterFunc(delay, func() { c.fireReconnect(gen) })

	if c.metrics != nil {
		c.metrics.Reconnects.WithLabelValues(c.endpoint).Inc()
	}
	c.log.Info().Int("attempt", c.attempt).Dur("delay", delay).Msg("Reconnect scheduled")
	c.emitLocked(StateEvent{From: Closed, To: Closed, Attempt: c.attempt, Delay: delay, Err: lost})
}

func (c *Client) fireReconnect(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tornDown || gen != c.gen {
		return
	}
	c.timer = nil
	c.connectLocked()
}

func (c *Client) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Client) setStateLocked(to State, err error) {
	from := c.state
	c.state = to
	c.observeState(to)
	c.emitLocked(StateEvent{From: from, To: to, Attempt: c.attempt, Err: err})
}

func (c *Client) emitLocked(ev StateEvent) {
	ev.At = c.clock.Now()
	for _, fn := range c.subs {
		fn := fn
		c.queue.post(func() { fn(ev) })
	}
}

func (c *Client) reportLocked(err error) {
	fn := c.onError
	if fn == nil {
		return
	}
	c.queue.post(func() { fn(err) })
}

func (c *Client) observeState(s State) {
	if c.metrics != nil {
		c.metrics.ChannelState.WithLabelValues(c.endpoint).Set(float64(s))
	}
}

func (c *Client) countSendFailure() {
	if c.metrics != nil {
		c.metrics.SendFailures.WithLabelValues(c.endpoint).Inc()
	}
}
