// Package types defines the wire payloads shared by the live channel clients and the dev server.
package types

import (
	"time"
)

// Message kinds carried in the envelope "type" field
const (
	KindNotification     = "notification"
	KindInitialData      = "initial_data"
	KindStatsUpdate      = "stats_update"
	KindThreatAlert      = "threat_alert"
	KindRecentThreats    = "recent_threats"
	KindNewLog           = "new_log"
	KindGetStats         = "get_stats"
	KindGetRecent        = "get_recent_threats"
	KindReadNotification = "read_notification"
)

// Channel paths served by the Q360 backend
const (
	PathNotifications = "/ws/notifications/"
	PathThreatMonitor = "/ws/audit/threat-monitor/"
	PathAuditLogs     = "/ws/audit/logs/"
)

// ThreatLevel classifies an audit event by its threat score
type ThreatLevel string

const (
	ThreatLow      ThreatLevel = "low"
	ThreatMedium   ThreatLevel = "medium"
	ThreatHigh     ThreatLevel = "high"
	ThreatCritical ThreatLevel = "critical"
)

// HighThreatScore is the score from which an event is broadcast as an alert
const HighThreatScore = 60

// ThreatLevelForScore maps a 0-100 score onto a level
func ThreatLevelForScore(score int) ThreatLevel {
	switch {
	case score >= 80:
		return ThreatCritical
	case score >= HighThreatScore:
		return ThreatHigh
	case score >= 40:
		return ThreatMedium
	default:
		return ThreatLow
	}
}

// Notification is a user notification pushed on the notifications channel
type Notification struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Type      string    `json:"type"` // info, success, warning, error
	IsRead    bool      `json:"is_read"`
	Link      string    `json:"link,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// RecentNotifications is the body of the recent notifications REST endpoint
type RecentNotifications struct {
	Notifications []Notification `json:"notifications"`
}

// ThreatDistribution counts events per threat level
type ThreatDistribution struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
}

// Total returns the sum over all levels
func (d ThreatDistribution) Total() int {
	return d.Critical + d.High + d.Medium + d.Low
}

// HourlyCount is one bucket of the failed-login histogram
type HourlyCount struct {
	Hour  string `json:"hour"` // "15:00"
	Count int    `json:"count"`
}

// ThreatUser aggregates high-threat events of one user
type ThreatUser struct {
	Username string `json:"username"`
	Count    int    `json:"count"`
	MaxScore int    `json:"max_score"`
}

// ThreatStats is the payload of initial_data and stats_update
type ThreatStats struct {
	Timestamp          time.Time          `json:"timestamp"`
	ThreatDistribution ThreatDistribution `json:"threat_distribution"`
	FailedLoginsHourly []HourlyCount      `json:"failed_logins_hourly"`
	TopThreatUsers     []ThreatUser       `json:"top_threat_users"`
	TotalThreats       int                `json:"total_threats"`
}

// ThreatEvent is a single high-threat audit record (threat_alert, recent_threats)
type ThreatEvent struct {
	ID          int64       `json:"id"`
	User        string      `json:"user"`
	Action      string      `json:"action"`
	ThreatLevel ThreatLevel `json:"threat_level"`
	ThreatScore int         `json:"threat_score"`
	IPAddress   string      `json:"ip_address,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
	Severity    string      `json:"severity"`
}

// AuditLogEntry is the payload of new_log on the audit log stream
type AuditLogEntry struct {
	ID          int64       `json:"id"`
	User        string      `json:"user"`
	Action      string      `json:"action"`
	ModelName   string      `json:"model_name"`
	Severity    string      `json:"severity"`
	ThreatLevel ThreatLevel `json:"threat_level"`
	ThreatScore int         `json:"threat_score"`
	Timestamp   time.Time   `json:"timestamp"`
}

// UnreadCount is the body of the unread-count REST endpoint
type UnreadCount struct {
	Count int `json:"count"`
}

// RealtimeStats is the body of the realtime stats REST endpoint
type RealtimeStats struct {
	Users struct {
		Active     int `json:"active"`
		NewLast24h int `json:"new_last_24h"`
	} `json:"users"`
	Onboarding struct {
		ActiveProcesses int `json:"active_processes"`
		PendingTasks    int `json:"pending_tasks"`
	} `json:"onboarding"`
	Notifications struct {
		Unread int `json:"unread"`
	} `json:"notifications"`
	Security struct {
		AlertsLastHour int `json:"alerts_last_hour"`
	} `json:"security"`
	GeneratedAt time.Time `json:"generated_at"`
}
