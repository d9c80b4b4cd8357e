package web

import (
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/q360/livemonitor/internal/audit"
	"github.com/q360/livemonitor/internal/logger"
	"github.com/q360/livemonitor/internal/metrics"
)

var (
	generatorUsers   = []string{"admin", "hr.manager", "l.aliyeva", "r.mammadov", "n.huseynova", "it.support", "intern01", ""}
	generatorActions = []string{"view", "create", "update", "delete", "export", "login", "login_failure", "permission_change"}
	generatorModels  = []string{"Employee", "Evaluation", "Department", "Report", "User", "Notification"}
)

// Sink receives generated audit records
type Sink interface {
	RecordEvent(r audit.Record) audit.Record
}

// Generator emits synthetic audit events on a fixed interval
type Generator struct {
	clock    clockwork.Clock
	interval time.Duration
	sink     Sink
	log      *logger.Logger
	metrics  *metrics.Metrics

	mu  sync.Mutex
	rnd *rand.Rand

	started atomic.Bool
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// NewGenerator creates a generator. Runs with the same seed produce the same
// event sequence.
func NewGenerator(clock clockwork.Clock, interval time.Duration, seed int64, sink Sink, log *logger.Logger, m *metrics.Metrics) *Generator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Generator{
		clock:    clock,
		interval: interval,
		sink:     sink,
		log:      log.Component("generator"),
		metrics:  m,
		rnd:      rand.New(rand.NewSource(seed)),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Next builds the next synthetic record without emitting it
func (g *Generator) Next() audit.Record {
	g.mu.Lock()
	defer g.mu.Unlock()

	action := generatorActions[g.rnd.Intn(len(generatorActions))]
	score := g.rnd.Intn(40)
	switch action {
	case "login_failure", "permission_change":
		score += 35 + g.rnd.Intn(30)
	case "delete", "export":
		score += 15 + g.rnd.Intn(25)
	}
	if score > 100 {
		score = 100
	}

	severity := "info"
	switch {
	case score >= 80:
		severity = "critical"
	case score >= 60:
		severity = "warning"
	}

	return audit.Record{
		User:        generatorUsers[g.rnd.Intn(len(generatorUsers))],
		Action:      action,
		ModelName:   generatorModels[g.rnd.Intn(len(generatorModels))],
		Severity:    severity,
		ThreatScore: score,
		IPAddress:   fmt.Sprintf("10.0.%d.%d", g.rnd.Intn(8), 1+g.rnd.Intn(254)),
	}
}

// Start emits one record per interval until Stop is called
func (g *Generator) Start() {
	if !g.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(g.done)

		ticker := g.clock.NewTicker(g.interval)
		defer ticker.Stop()

		g.log.Info().Dur("interval", g.interval).Msg("Generating synthetic audit events")
		for {
			select {
			case <-g.stop:
				return
			case <-ticker.Chan():
				r := g.sink.RecordEvent(g.Next())
				if g.metrics != nil {
					g.metrics.GeneratedAuditLogs.Inc()
				}
				g.log.Debug().Int64("id", r.ID).Str("action", r.Action).Int("score", r.ThreatScore).Msg("Audit event generated")
			}
		}
	}()
}

// Stop ends generation and waits for the loop to exit
func (g *Generator) Stop() {
	g.once.Do(func() {
		close(g.stop)
	})
	if g.started.Load() {
		<-g.done
	}
}
