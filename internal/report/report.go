// Package report writes the summary of a monitor session.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/q360/livemonitor/internal/livechannel"
	"github.com/q360/livemonitor/internal/monitor"
	"github.com/q360/livemonitor/pkg/types"
)

// Transition is one recorded connection state change
type Transition struct {
	At      time.Time     `json:"at"`
	From    string        `json:"from"`
	To      string        `json:"to"`
	Attempt int           `json:"attempt,omitempty"`
	Delay   time.Duration `json:"delay,omitempty"`
	GaveUp  bool          `json:"gave_up,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// MarshalJSON renders the delay as a duration string
func (t Transition) MarshalJSON() ([]byte, error) {
	type Alias Transition
	delay := ""
	if t.Delay > 0 {
		delay = t.Delay.String()
	}
	return json.Marshal(&struct {
		Alias
		Delay string `json:"delay,omitempty"`
	}{
		Alias: Alias(t),
		Delay: delay,
	})
}

// Session is the summary of one monitor run
type Session struct {
	// Metadata
	Title     string    `json:"title"`
	Version   string    `json:"version"`
	Endpoint  string    `json:"endpoint"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`

	// Last statistics received from the server
	Stats *types.ThreatStats `json:"stats,omitempty"`

	// Alerts received during the session, newest first
	Alerts []types.ThreatEvent `json:"alerts"`

	// Alert counts by level
	LevelCounts map[types.ThreatLevel]int `json:"level_counts"`

	// Connection history
	Transitions []Transition `json:"transitions"`
	Reconnects  int          `json:"reconnects"`
	GaveUp      bool         `json:"gave_up"`
}

// NewSession creates a session report
func NewSession(title, endpoint string, startedAt time.Time) *Session {
	return &Session{
		Title:       title,
		Version:     "1.0",
		Endpoint:    endpoint,
		StartedAt:   startedAt,
		Alerts:      make([]types.ThreatEvent, 0),
		LevelCounts: make(map[types.ThreatLevel]int),
		Transitions: make([]Transition, 0),
	}
}

// AddAlert records an alert
func (s *Session) AddAlert(ev types.ThreatEvent) {
	if ev.ThreatLevel == "" {
		ev.ThreatLevel = types.ThreatLevelForScore(ev.ThreatScore)
	}
	s.Alerts = append(s.Alerts, ev)
	s.LevelCounts[ev.ThreatLevel]++
}

// AddTransition records a state event
func (s *Session) AddTransition(ev livechannel.StateEvent) {
	t := Transition{
		At:      ev.At,
		From:    ev.From.String(),
		To:      ev.To.String(),
		Attempt: ev.Attempt,
		Delay:   ev.Delay,
		GaveUp:  ev.GaveUp,
	}
	if ev.Err != nil {
		t.Error = ev.Err.Error()
	}
	if ev.Scheduled() {
		s.Reconnects++
	}
	if ev.GaveUp {
		s.GaveUp = true
	}
	s.Transitions = append(s.Transitions, t)
}

// Capture copies the final threat monitor state into the report
func (s *Session) Capture(snap monitor.ThreatSnapshot, history []livechannel.StateEvent) {
	s.Stats = snap.Stats
	for _, ev := range snap.Alerts {
		s.AddAlert(ev)
	}
	for _, ev := range history {
		s.AddTransition(ev)
	}
}

// Finish sets the end time
func (s *Session) Finish(at time.Time) {
	s.EndedAt = at
}

// Duration returns how long the session ran
func (s *Session) Duration() time.Duration {
	if s.EndedAt.IsZero() {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt)
}

// FilterByLevel returns the alerts of one level
func (s *Session) FilterByLevel(level types.ThreatLevel) []types.ThreatEvent {
	var filtered []types.ThreatEvent
	for _, ev := range s.Alerts {
		if ev.ThreatLevel == level {
			filtered = append(filtered, ev)
		}
	}
	return filtered
}

// WriteJSON writes the indented JSON report
func (s *Session) WriteJSON(w io.Writer) error {
	return (&JSONGenerator{Indent: true}).Generate(s, w)
}

// WriteHTML writes the HTML report with charts
func (s *Session) WriteHTML(w io.Writer) error {
	return NewHTMLGenerator().Generate(s, w)
}

// Generator is the interface for report generators
type Generator interface {
	Generate(s *Session, w io.Writer) error
	Extension() string
}

// Manager manages report generation
type Manager struct {
	generators map[string]Generator
	outputDir  string
	now        func() time.Time
}

// NewManager creates a new report manager
func NewManager(outputDir string) *Manager {
	m := &Manager{
		generators: make(map[string]Generator),
		outputDir:  outputDir,
		now:        time.Now,
	}

	m.RegisterGenerator("json", &JSONGenerator{Indent: true})
	m.RegisterGenerator("html", NewHTMLGenerator())

	return m
}

// RegisterGenerator registers a generator
func (m *Manager) RegisterGenerator(format string, gen Generator) {
	m.generators[format] = gen
}

// GetGenerator returns a generator by format
func (m *Manager) GetGenerator(format string) (Generator, bool) {
	gen, ok := m.generators[format]
	return gen, ok
}

// Generate writes the report in the given format and returns its path
func (m *Manager) Generate(s *Session, format string) (string, error) {
	gen, ok := m.generators[format]
	if !ok {
		return "", fmt.Errorf("unknown report format: %s", format)
	}

	if err := os.MkdirAll(m.outputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	filename := fmt.Sprintf("session_%s.%s", m.now().Format("20060102_150405"), gen.Extension())
	path := filepath.Join(m.outputDir, filename)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create report file: %w", err)
	}
	defer f.Close()

	if err := gen.Generate(s, f); err != nil {
		return "", fmt.Errorf("failed to generate report: %w", err)
	}

	return path, nil
}

// GenerateAll writes the report in every registered format
func (m *Manager) GenerateAll(s *Session) ([]string, error) {
	var paths []string
	for format := range m.generators {
		path, err := m.Generate(s, format)
		if err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}
