package report

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/q360/livemonitor/internal/livechannel"
	"github.com/q360/livemonitor/internal/monitor"
	"github.com/q360/livemonitor/pkg/types"
)

var start = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func sampleSession() *Session {
	s := NewSession("Threat monitor session", "ws://localhost:8000/ws/audit/threat-monitor/", start)
	s.Capture(monitor.ThreatSnapshot{
		Stats: &types.ThreatStats{
			ThreatDistribution: types.ThreatDistribution{Critical: 2, High: 3, Medium: 1, Low: 7},
			FailedLoginsHourly: []types.HourlyCount{{Hour: "09:00", Count: 1}, {Hour: "10:00", Count: 3}},
			TopThreatUsers:     []types.ThreatUser{{Username: "mallory", Count: 4, MaxScore: 93}},
			TotalThreats:       13,
		},
		Alerts: []types.ThreatEvent{
			{ID: 2, User: "mallory", Action: "bulk_export", ThreatScore: 93, Timestamp: start.Add(time.Minute)},
			{ID: 1, User: "eve", Action: "permission_change", ThreatScore: 65, ThreatLevel: types.ThreatHigh},
		},
	}, []livechannel.StateEvent{
		{From: livechannel.Closed, To: livechannel.Connecting, At: start},
		{From: livechannel.Connecting, To: livechannel.Open, At: start},
		{From: livechannel.Open, To: livechannel.Closed, At: start.Add(time.Minute), Err: livechannel.ErrConnectionLost},
		{From: livechannel.Closed, To: livechannel.Closed, Attempt: 1, Delay: 2 * time.Second, At: start.Add(time.Minute)},
	})
	s.Finish(start.Add(5 * time.Minute))
	return s
}

func TestNewSession(t *testing.T) {
	s := NewSession("Test", "ws://example.com/ws/", start)

	if s.Title != "Test" {
		t.Errorf("Expected title 'Test', got '%s'", s.Title)
	}
	if s.Version != "1.0" {
		t.Errorf("Expected version '1.0', got '%s'", s.Version)
	}
	if s.Duration() != 0 {
		t.Errorf("Expected zero duration before Finish, got %v", s.Duration())
	}
}

func TestSession_Capture(t *testing.T) {
	s := sampleSession()

	if s.Stats == nil || s.Stats.TotalThreats != 13 {
		t.Fatalf("Expected stats to be captured, got %+v", s.Stats)
	}
	if len(s.Alerts) != 2 {
		t.Errorf("Expected 2 alerts, got %d", len(s.Alerts))
	}
	if s.LevelCounts[types.ThreatCritical] != 1 || s.LevelCounts[types.ThreatHigh] != 1 {
		t.Errorf("Unexpected level counts %v", s.LevelCounts)
	}
	if len(s.Transitions) != 4 {
		t.Errorf("Expected 4 transitions, got %d", len(s.Transitions))
	}
	if s.Reconnects != 1 {
		t.Errorf("Expected 1 reconnect, got %d", s.Reconnects)
	}
	if s.GaveUp {
		t.Error("Expected session not to have given up")
	}
	if s.Duration() != 5*time.Minute {
		t.Errorf("Expected 5m duration, got %v", s.Duration())
	}
	if got := s.FilterByLevel(types.ThreatCritical); len(got) != 1 || got[0].User != "mallory" {
		t.Errorf("Unexpected critical alerts %+v", got)
	}
}

func TestSession_GaveUp(t *testing.T) {
	s := NewSession("Test", "ws://example.com/ws/", start)
	s.AddTransition(livechannel.StateEvent{
		From:    livechannel.Closed,
		To:      livechannel.Closed,
		Attempt: 6,
		GaveUp:  true,
		Err:     livechannel.ErrMaxRetriesExceeded,
	})

	if !s.GaveUp {
		t.Error("Expected GaveUp to be set")
	}
	if s.Transitions[0].Error != livechannel.ErrMaxRetriesExceeded.Error() {
		t.Errorf("Expected the give up error to be recorded, got %q", s.Transitions[0].Error)
	}
}

func TestSession_WriteJSON(t *testing.T) {
	s := sampleSession()

	var buf bytes.Buffer
	if err := s.WriteJSON(&buf); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}

	var parsed map[string]any
	if err := json.Unmarshal(buf.Bytes(), &parsed); err != nil {
		t.Fatalf("Invalid JSON output: %v", err)
	}
	if parsed["title"] != "Threat monitor session" {
		t.Errorf("Unexpected title %v", parsed["title"])
	}
	if !strings.Contains(buf.String(), `"delay": "2s"`) {
		t.Errorf("Expected delay as duration string, got %s", buf.String())
	}
	if !strings.Contains(buf.String(), "  ") {
		t.Error("Expected indented JSON")
	}
}

func TestSession_WriteHTML(t *testing.T) {
	s := sampleSession()

	var buf bytes.Buffer
	if err := s.WriteHTML(&buf); err != nil {
		t.Fatalf("WriteHTML failed: %v", err)
	}

	html := buf.String()
	for _, want := range []string{
		"Threat distribution",
		"Failed logins per hour",
		"Threat monitor session",
		"mallory",
		"bulk_export",
		"retry in 2s",
		"5m0s",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("Expected HTML to contain %q", want)
		}
	}

	idx := strings.LastIndex(html, "</body>")
	if idx >= 0 && strings.Index(html, "q360-summary") > idx {
		t.Error("Expected summary before </body>")
	}
}

func TestSession_WriteHTMLEmpty(t *testing.T) {
	s := NewSession("Empty", "ws://example.com/ws/", start)

	var buf bytes.Buffer
	if err := s.WriteHTML(&buf); err != nil {
		t.Fatalf("WriteHTML failed: %v", err)
	}
	if !strings.Contains(buf.String(), "No alerts during this session") {
		t.Error("Expected empty alerts placeholder")
	}
}

func TestManager_Generate(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)
	m.now = func() time.Time { return start }

	path, err := m.Generate(sampleSession(), "json")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if filepath.Base(path) != "session_20240501_100000.json" {
		t.Errorf("Unexpected file name %s", filepath.Base(path))
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("Report file missing: %v", err)
	}

	if _, err := m.Generate(sampleSession(), "pdf"); err == nil {
		t.Error("Expected error for unknown format")
	}
}

func TestManager_GenerateAll(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(filepath.Join(dir, "reports"))

	paths, err := m.GenerateAll(sampleSession())
	if err != nil {
		t.Fatalf("GenerateAll failed: %v", err)
	}
	if len(paths) != 2 {
		t.Errorf("Expected 2 reports, got %d", len(paths))
	}

	if _, ok := m.GetGenerator("html"); !ok {
		t.Error("Expected html generator to be registered")
	}
}
