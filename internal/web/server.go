// Package web provides the Q360 development server: the live channel
// endpoints, the notification REST API and a synthetic audit event source.
package web

import (
	"encoding/json"
	"errors"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/q360/livemonitor/internal/audit"
	"github.com/q360/livemonitor/internal/logger"
	"github.com/q360/livemonitor/internal/metrics"
	"github.com/q360/livemonitor/pkg/types"
)

// Channel names used for hubs and metric labels
const (
	ChannelNotifications = "notifications"
	ChannelThreatMonitor = "threat_monitor"
	ChannelAuditLogs     = "audit_logs"
)

const (
	localPeerID        = "peer_id"
	recentNotifyLimit  = 10
	notificationsEvery = 5
)

// Options configures the server
type Options struct {
	// SessionCookie is the cookie checked on every request.
	SessionCookie string
	// Session is the required cookie value. Empty allows anonymous access.
	Session string

	CommandRate   float64
	CommandBurst  int
	BroadcastPool int

	// EventInterval enables the synthetic event generator when positive.
	EventInterval time.Duration
	Seed          int64

	Clock   clockwork.Clock
	Logger  *logger.Logger
	Metrics *metrics.Metrics
}

// DefaultOptions returns sensible defaults
func DefaultOptions() *Options {
	return &Options{
		SessionCookie: "sessionid",
		CommandRate:   5,
		CommandBurst:  10,
		BroadcastPool: 64,
		EventInterval: 3 * time.Second,
		Seed:          time.Now().UnixNano(),
	}
}

// Server is the development server
type Server struct {
	app  *fiber.App
	opts Options

	store         *audit.Store
	notifications *NotificationStore
	pool          *workerPool
	generator     *Generator

	notify  *Hub
	threats *Hub
	logs    *Hub

	clock   clockwork.Clock
	log     *logger.Logger
	metrics *metrics.Metrics
	threatN atomic.Int64
}

// NewServer creates a new development server
func NewServer(opts *Options) (*Server, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	o := *opts
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.Logger == nil {
		o.Logger = logger.Nop()
	}
	if o.Metrics == nil {
		o.Metrics = metrics.New()
	}
	if o.SessionCookie == "" {
		o.SessionCookie = "sessionid"
	}
	if o.CommandRate <= 0 {
		o.CommandRate = 5
	}
	if o.CommandBurst <= 0 {
		o.CommandBurst = 10
	}

	pool, err := newWorkerPool(o.BroadcastPool)
	if err != nil {
		return nil, err
	}

	log := o.Logger.Component("web")
	s := &Server{
		app: fiber.New(fiber.Config{
			DisableStartupMessage: true,
		}),
		opts:          o,
		store:         audit.NewStore(o.Clock),
		notifications: NewNotificationStore(o.Clock),
		pool:          pool,
		clock:         o.Clock,
		log:           log,
		metrics:       o.Metrics,
	}
	s.notify = newHub(ChannelNotifications, pool, log, o.Metrics)
	s.threats = newHub(ChannelThreatMonitor, pool, log, o.Metrics)
	s.logs = newHub(ChannelAuditLogs, pool, log, o.Metrics)

	if o.EventInterval > 0 {
		s.generator = NewGenerator(o.Clock, o.EventInterval, o.Seed, s, o.Logger, o.Metrics)
	}

	s.setupRoutes()
	return s, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.app.Use(cors.New())

	s.app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":      "ok",
			"connections": s.Connections(),
			"broadcast":   s.pool.Stats(),
		})
	})
	s.app.Get("/metrics", adaptor.HTTPHandler(s.metrics.Handler()))

	// WebSocket channels
	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		if !s.authorized(c) {
			s.log.Info().Str("path", c.Path()).Msg("Rejected anonymous channel connection")
			return fiber.ErrForbidden
		}
		c.Locals(localPeerID, uuid.NewString())
		return c.Next()
	})
	s.app.Get(types.PathNotifications, websocket.New(s.handleNotifications))
	s.app.Get(types.PathThreatMonitor, websocket.New(s.handleThreatMonitor))
	s.app.Get(types.PathAuditLogs, websocket.New(s.handleAuditLogs))

	// REST companion endpoints
	notifications := s.app.Group("/notifications", s.requireSession)
	notifications.Get("/api/unread-count", s.handleUnreadCount)
	notifications.Get("/api/recent", s.handleRecentNotifications)
	notifications.Post("/mark-all-read", s.handleMarkAllRead)
	notifications.Post("/:id<int>/read", s.handleMarkRead)

	s.app.Get("/dashboard/api/realtime-stats", s.requireSession, s.handleRealtimeStats)
}

func (s *Server) authorized(c *fiber.Ctx) bool {
	return s.opts.Session == "" || c.Cookies(s.opts.SessionCookie) == s.opts.Session
}

func (s *Server) requireSession(c *fiber.Ctx) error {
	if !s.authorized(c) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "authentication required"})
	}
	return c.Next()
}

// App exposes the underlying Fiber app
func (s *Server) App() *fiber.App {
	return s.app
}

// Store returns the audit store
func (s *Server) Store() *audit.Store {
	return s.store
}

// Notifications returns the notification store
func (s *Server) Notifications() *NotificationStore {
	return s.notifications
}

// Connections returns the number of peers per channel
func (s *Server) Connections() map[string]int {
	return map[string]int{
		ChannelNotifications: s.notify.Count(),
		ChannelThreatMonitor: s.threats.Count(),
		ChannelAuditLogs:     s.logs.Count(),
	}
}

// RecordEvent stores an audit record and pushes it to the audit log stream.
// Threat records are also broadcast as threat_alert followed by a
// stats_update, and every few threats raise a notification.
func (s *Server) RecordEvent(r audit.Record) audit.Record {
	r = s.store.Add(r)
	s.logs.Broadcast(envelope(types.KindNewLog, r.LogEntry()))

	if !r.IsThreat() {
		return r
	}

	s.threats.Broadcast(envelope(types.KindThreatAlert, r.ThreatEvent()))
	s.threats.Broadcast(envelope(types.KindStatsUpdate, s.store.Stats()))

	if s.threatN.Add(1)%notificationsEvery == 1 {
		kind := "warning"
		if r.Level() == types.ThreatCritical {
			kind = "error"
		}
		s.Notify(types.Notification{
			Title:   "Security alert",
			Message: r.ThreatEvent().User + ": " + r.Action + " (score " + strconv.Itoa(r.ThreatScore) + ")",
			Type:    kind,
			Link:    "/audit/threats/",
		})
	}
	return r
}

// Notify stores a notification and pushes it to every notification peer
func (s *Server) Notify(n types.Notification) types.Notification {
	n = s.notifications.Add(n)
	s.notify.Broadcast(map[string]any{
		"type":      types.KindNotification,
		"message":   n,
		"timestamp": s.clock.Now().Format(time.RFC3339Nano),
	})
	return n
}

func envelope(kind string, data any) map[string]any {
	return map[string]any{"type": kind, "data": data}
}

func encode(v any) []byte {
	data, _ := json.Marshal(v)
	return data
}

func (s *Server) newPeer(c *websocket.Conn) *peer {
	id, _ := c.Locals(localPeerID).(string)
	if id == "" {
		id = uuid.NewString()
	}
	return &peer{
		id:      id,
		conn:    c,
		limiter: rate.NewLimiter(rate.Limit(s.opts.CommandRate), s.opts.CommandBurst),
	}
}

// reply sends one envelope to p. A failed write means the peer is going
// away; the read loop notices on its own.
func (s *Server) reply(p *peer, kind string, data any) {
	if err := p.send(encode(envelope(kind, data))); err != nil {
		s.log.Debug().Err(err).Str("peer", p.id).Str("type", kind).Msg("Reply failed")
	}
}

// readCommands reads inbound frames until the peer disconnects. Malformed
// and unknown commands are ignored; commands beyond the rate limit are
// dropped.
func (s *Server) readCommands(p *peer, channel string, handle func(cmd gjson.Result)) {
	for {
		_, msg, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		if !p.limiter.Allow() {
			s.metrics.ServerRateLimited.WithLabelValues(channel).Inc()
			s.log.Debug().Str("peer", p.id).Str("channel", channel).Msg("Command rate limited")
			continue
		}
		if !gjson.ValidBytes(msg) {
			s.log.Debug().Str("peer", p.id).Msg("Ignoring malformed command")
			continue
		}
		if handle != nil {
			handle(gjson.ParseBytes(msg))
		}
	}
}

// handleThreatMonitor serves /ws/audit/threat-monitor/
func (s *Server) handleThreatMonitor(c *websocket.Conn) {
	p := s.newPeer(c)
	s.threats.join(p)
	defer func() {
		s.threats.leave(p)
		p.close()
	}()

	if err := p.send(encode(envelope(types.KindInitialData, s.store.Stats()))); err != nil {
		return
	}

	s.readCommands(p, ChannelThreatMonitor, func(cmd gjson.Result) {
		switch cmd.Get("type").String() {
		case types.KindGetStats:
			s.reply(p, types.KindStatsUpdate, s.store.Stats())
		case types.KindGetRecent:
			hours := 1
			if h := cmd.Get("hours"); h.Exists() {
				hours = int(h.Int())
			}
			s.reply(p, types.KindRecentThreats, s.store.RecentThreats(hours))
		}
	})
}

// handleNotifications serves /ws/notifications/
func (s *Server) handleNotifications(c *websocket.Conn) {
	p := s.newPeer(c)
	s.notify.join(p)
	defer func() {
		s.notify.leave(p)
		p.close()
	}()

	s.readCommands(p, ChannelNotifications, func(cmd gjson.Result) {
		if cmd.Get("action").String() != types.KindReadNotification && cmd.Get("type").String() != types.KindReadNotification {
			return
		}
		id := cmd.Get("notification_id").Int()
		if !s.notifications.MarkRead(id) {
			s.log.Debug().Int64("notification_id", id).Msg("Unknown notification")
		}
	})
}

// handleAuditLogs serves /ws/audit/logs/
func (s *Server) handleAuditLogs(c *websocket.Conn) {
	p := s.newPeer(c)
	s.logs.join(p)
	defer func() {
		s.logs.leave(p)
		p.close()
	}()

	s.readCommands(p, ChannelAuditLogs, nil)
}

func (s *Server) handleUnreadCount(c *fiber.Ctx) error {
	return c.JSON(types.UnreadCount{Count: s.notifications.Unread()})
}

func (s *Server) handleRecentNotifications(c *fiber.Ctx) error {
	return c.JSON(types.RecentNotifications{Notifications: s.notifications.Recent(recentNotifyLimit)})
}

func (s *Server) handleMarkRead(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if !s.notifications.MarkRead(int64(id)) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "notification not found"})
	}
	return c.JSON(fiber.Map{"status": "success"})
}

func (s *Server) handleMarkAllRead(c *fiber.Ctx) error {
	n := s.notifications.MarkAllRead()
	s.log.Debug().Int("count", n).Msg("Marked all notifications read")
	return c.JSON(fiber.Map{"status": "success"})
}

func (s *Server) handleRealtimeStats(c *fiber.Ctx) error {
	var stats types.RealtimeStats
	stats.Users.Active = s.store.ActiveUsers(24 * time.Hour)
	stats.Notifications.Unread = s.notifications.Unread()
	stats.Security.AlertsLastHour = s.store.ThreatCount(time.Hour)
	stats.GeneratedAt = s.clock.Now()
	return c.JSON(stats)
}

// Listener serves on ln and starts the event generator. It blocks until
// the server stops.
func (s *Server) Listener(ln net.Listener) error {
	if s.generator != nil {
		s.generator.Start()
	}
	s.log.Info().Str("addr", ln.Addr().String()).Msg("Dev server listening")
	return s.app.Listener(ln)
}

// Start listens on addr. It blocks until the server stops.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Listener(ln)
}

// Stop disconnects every peer and shuts the server down
func (s *Server) Stop() error {
	if s.generator != nil {
		s.generator.Stop()
	}
	s.notify.close()
	s.threats.close()
	s.logs.close()
	err := s.app.Shutdown()
	s.pool.Shutdown()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
