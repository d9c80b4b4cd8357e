package monitor

import (
	"errors"
	"fmt"
	"sync"

	"github.com/q360/livemonitor/internal/livechannel"
	"github.com/q360/livemonitor/internal/logger"
	"github.com/q360/livemonitor/pkg/types"
)

const maxAlerts = 20

// ThreatSnapshot is the view state of the threat monitor.
type ThreatSnapshot struct {
	Conn        ConnStatus
	Stats       *types.ThreatStats
	Alerts      []types.ThreatEvent // newest first
	Recent      []types.ThreatEvent // highest score first
	RecentHours int
	Activity    []Activity
}

// ThreatMonitor follows /ws/audit/threat-monitor/.
type ThreatMonitor struct {
	*tracker
	ch  Channel
	log *logger.Logger

	mu          sync.RWMutex
	stats       *types.ThreatStats
	alerts      []types.ThreatEvent
	recent      []types.ThreatEvent
	recentHours int
}

// NewThreatMonitor wires the threat monitor handlers onto ch. Stats are
// requested on every open.
func NewThreatMonitor(ch Channel, log *logger.Logger) *ThreatMonitor {
	if log == nil {
		log = logger.Nop()
	}
	m := &ThreatMonitor{
		tracker: newTracker("threats", ch),
		ch:      ch,
		log:     log.Component("threat_monitor"),
	}

	ch.OnMessage(types.KindInitialData, livechannel.HandleJSON(m.setStats))
	ch.OnMessage(types.KindStatsUpdate, livechannel.HandleJSON(m.setStats))
	ch.OnMessage(types.KindThreatAlert, livechannel.HandleJSON(m.addAlert))
	ch.OnMessage(types.KindRecentThreats, livechannel.HandleJSON(m.setRecent))
	ch.OnError(m.reportError)
	ch.OnOpen(func() {
		if err := m.RefreshStats(); err != nil {
			m.log.Warn().Err(err).Msg("Failed to request stats")
		}
	})
	return m
}

// Start connects the channel.
func (m *ThreatMonitor) Start() {
	m.ch.Connect()
}

// Stop tears the channel down.
func (m *ThreatMonitor) Stop() {
	m.ch.Teardown()
}

// Reconnect re-arms the channel after it gave up.
func (m *ThreatMonitor) Reconnect() error {
	return m.ch.Reset()
}

// RefreshStats asks the server for a stats_update.
func (m *ThreatMonitor) RefreshStats() error {
	return m.ch.Send(livechannel.NewCommand(types.KindGetStats))
}

// RequestRecentThreats asks for the threats of the last hours.
func (m *ThreatMonitor) RequestRecentThreats(hours int) error {
	if hours < 1 {
		hours = 1
	}
	if err := m.ch.Send(livechannel.NewCommand(types.KindGetRecent).With("hours", hours)); err != nil {
		return err
	}
	m.mu.Lock()
	m.recentHours = hours
	m.mu.Unlock()
	return nil
}

// Snapshot returns a copy of the current view state.
func (m *ThreatMonitor) Snapshot() ThreatSnapshot {
	conn, activity := m.snapshot()

	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := ThreatSnapshot{
		Conn:        conn,
		Alerts:      append([]types.ThreatEvent(nil), m.alerts...),
		Recent:      append([]types.ThreatEvent(nil), m.recent...),
		RecentHours: m.recentHours,
		Activity:    activity,
	}
	if m.stats != nil {
		stats := *m.stats
		snap.Stats = &stats
	}
	return snap
}

func (m *ThreatMonitor) setStats(stats types.ThreatStats) {
	m.mu.Lock()
	m.stats = &stats
	m.mu.Unlock()
	m.signal()
}

func (m *ThreatMonitor) addAlert(ev types.ThreatEvent) {
	if ev.ThreatLevel == "" {
		ev.ThreatLevel = types.ThreatLevelForScore(ev.ThreatScore)
	}

	m.mu.Lock()
	m.alerts = append([]types.ThreatEvent{ev}, m.alerts...)
	if len(m.alerts) > maxAlerts {
		m.alerts = m.alerts[:maxAlerts]
	}
	m.mu.Unlock()

	m.log.Warn().Str("user", ev.User).Int("score", ev.ThreatScore).Str("action", ev.Action).Msg("Threat alert")
	m.note("warn", fmt.Sprintf("Threat alert: %s %s (score %d)", ev.User, ev.Action, ev.ThreatScore))
}

func (m *ThreatMonitor) setRecent(threats []types.ThreatEvent) {
	m.mu.Lock()
	m.recent = threats
	if m.recentHours == 0 {
		m.recentHours = 1
	}
	m.mu.Unlock()
	m.signal()
}

func (m *ThreatMonitor) reportError(err error) {
	var malformed *livechannel.MalformedMessageError
	if errors.As(err, &malformed) {
		m.log.Warn().Err(err).Msg("Dropped malformed message")
	} else {
		m.log.Error().Err(err).Msg("Handler failed")
	}
	m.note("error", err.Error())
}
