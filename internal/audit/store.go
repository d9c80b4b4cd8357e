// Package audit keeps the audit records behind the dev server's threat
// monitor and computes the threat statistics pushed to clients.
package audit

import (
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/q360/livemonitor/pkg/types"
)

const (
	// ActionLoginFailure is counted in the failed-login histogram.
	ActionLoginFailure = "login_failure"

	statsWindow       = 24 * time.Hour
	topThreatUsers    = 5
	maxRecentThreats  = 20
	defaultRetention  = 48 * time.Hour
	defaultMaxRecords = 10000
)

// Record is one audit log entry.
type Record struct {
	ID          int64
	User        string
	Action      string
	ModelName   string
	Severity    string
	ThreatScore int
	IPAddress   string
	CreatedAt   time.Time
}

// Level returns the threat level derived from the score.
func (r Record) Level() types.ThreatLevel {
	return types.ThreatLevelForScore(r.ThreatScore)
}

// IsThreat reports whether the record is broadcast as a threat alert.
func (r Record) IsThreat() bool {
	return r.ThreatScore >= types.HighThreatScore
}

// LogEntry converts the record to the new_log payload.
func (r Record) LogEntry() types.AuditLogEntry {
	return types.AuditLogEntry{
		ID:          r.ID,
		User:        userOrNA(r.User),
		Action:      r.Action,
		ModelName:   r.ModelName,
		Severity:    r.Severity,
		ThreatLevel: r.Level(),
		ThreatScore: r.ThreatScore,
		Timestamp:   r.CreatedAt,
	}
}

// ThreatEvent converts the record to the threat_alert payload.
func (r Record) ThreatEvent() types.ThreatEvent {
	return types.ThreatEvent{
		ID:          r.ID,
		User:        userOrNA(r.User),
		Action:      r.Action,
		ThreatLevel: r.Level(),
		ThreatScore: r.ThreatScore,
		IPAddress:   r.IPAddress,
		Timestamp:   r.CreatedAt,
		Severity:    r.Severity,
	}
}

func userOrNA(u string) string {
	if u == "" {
		return "N/A"
	}
	return u
}

// Store is an in-memory, time-bounded audit log.
type Store struct {
	mu      sync.RWMutex
	records []Record
	nextID  int64

	clock      clockwork.Clock
	retention  time.Duration
	maxRecords int
}

// NewStore creates an empty store. A nil clock means the real clock.
func NewStore(clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{
		clock:      clock,
		retention:  defaultRetention,
		maxRecords: defaultMaxRecords,
		nextID:     1,
	}
}

// Add stores r, assigning an ID and creation time when unset, and returns
// the stored copy.
func (s *Store) Add(r Record) Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == 0 {
		r.ID = s.nextID
	}
	if r.ID >= s.nextID {
		s.nextID = r.ID + 1
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.clock.Now()
	}

	s.records = append(s.records, r)
	s.pruneLocked()
	return r
}

// Len returns the number of retained records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *Store) pruneLocked() {
	cutoff := s.clock.Now().Add(-s.retention)
	drop := 0
	for drop < len(s.records) && s.records[drop].CreatedAt.Before(cutoff) {
		drop++
	}
	if over := len(s.records) - drop - s.maxRecords; over > 0 {
		drop += over
	}
	if drop > 0 {
		s.records = append([]Record(nil), s.records[drop:]...)
	}
}

// Stats computes the threat statistics of the last 24 hours.
func (s *Store) Stats() types.ThreatStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.clock.Now()
	start := now.Add(-statsWindow)

	stats := types.ThreatStats{
		Timestamp:          now,
		FailedLoginsHourly: make([]types.HourlyCount, 24),
		TopThreatUsers:     []types.ThreatUser{},
	}

	// Bucket i covers [now-(i+1)h, now-ih) and is labelled with the hour of
	// its end; the slice is filled oldest first.
	for i := 0; i < 24; i++ {
		end := now.Add(-time.Duration(i) * time.Hour)
		stats.FailedLoginsHourly[23-i] = types.HourlyCount{Hour: end.Format("15") + ":00"}
	}

	users := make(map[string]*types.ThreatUser)
	for _, r := range s.records {
		if r.CreatedAt.Before(start) {
			continue
		}

		switch r.Level() {
		case types.ThreatCritical:
			stats.ThreatDistribution.Critical++
		case types.ThreatHigh:
			stats.ThreatDistribution.High++
		case types.ThreatMedium:
			stats.ThreatDistribution.Medium++
		default:
			stats.ThreatDistribution.Low++
		}

		if r.Action == ActionLoginFailure && r.CreatedAt.Before(now) {
			i := int(now.Sub(r.CreatedAt) / time.Hour)
			if i < 24 {
				stats.FailedLoginsHourly[23-i].Count++
			}
		}

		if r.IsThreat() && r.User != "" {
			u, ok := users[r.User]
			if !ok {
				u = &types.ThreatUser{Username: r.User}
				users[r.User] = u
			}
			u.Count++
			if r.ThreatScore > u.MaxScore {
				u.MaxScore = r.ThreatScore
			}
		}
	}

	for _, u := range users {
		stats.TopThreatUsers = append(stats.TopThreatUsers, *u)
	}
	sort.SliceStable(stats.TopThreatUsers, func(i, j int) bool {
		a, b := stats.TopThreatUsers[i], stats.TopThreatUsers[j]
		if a.MaxScore != b.MaxScore {
			return a.MaxScore > b.MaxScore
		}
		return a.Username < b.Username
	})
	if len(stats.TopThreatUsers) > topThreatUsers {
		stats.TopThreatUsers = stats.TopThreatUsers[:topThreatUsers]
	}

	stats.TotalThreats = stats.ThreatDistribution.Total()
	return stats
}

// RecentThreats returns up to 20 threat records of the last hours, highest
// score first. hours below 1 is treated as 1.
func (s *Store) RecentThreats(hours int) []types.ThreatEvent {
	if hours < 1 {
		hours = 1
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	start := s.clock.Now().Add(-time.Duration(hours) * time.Hour)
	var threats []Record
	for _, r := range s.records {
		if r.IsThreat() && !r.CreatedAt.Before(start) {
			threats = append(threats, r)
		}
	}

	sort.SliceStable(threats, func(i, j int) bool {
		return threats[i].ThreatScore > threats[j].ThreatScore
	})
	if len(threats) > maxRecentThreats {
		threats = threats[:maxRecentThreats]
	}

	events := make([]types.ThreatEvent, 0, len(threats))
	for _, r := range threats {
		events = append(events, r.ThreatEvent())
	}
	return events
}

// ThreatCount counts threat records created within window.
func (s *Store) ThreatCount(window time.Duration) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := s.clock.Now().Add(-window)
	n := 0
	for _, r := range s.records {
		if r.IsThreat() && !r.CreatedAt.Before(start) {
			n++
		}
	}
	return n
}

// ActiveUsers counts distinct named users with a record within window.
func (s *Store) ActiveUsers(window time.Duration) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := s.clock.Now().Add(-window)
	users := make(map[string]struct{})
	for _, r := range s.records {
		if r.User != "" && !r.CreatedAt.Before(start) {
			users[r.User] = struct{}{}
		}
	}
	return len(users)
}
