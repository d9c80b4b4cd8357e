package ui

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/q360/livemonitor/internal/monitor"
)

// ThreatSource is the threat monitor as seen by the dashboard
type ThreatSource interface {
	Snapshot() monitor.ThreatSnapshot
	Updates() <-chan struct{}
	RefreshStats() error
	RequestRecentThreats(hours int) error
	Reconnect() error
}

// NotificationSource is the notification feed as seen by the dashboard
type NotificationSource interface {
	Snapshot() monitor.NotificationSnapshot
	Updates() <-chan struct{}
	MarkAllRead(ctx context.Context) error
	Reconnect() error
}

// LogEntry represents a dashboard message
type LogEntry struct {
	Time    time.Time
	Level   string
	Message string
}

// Dashboard is the main TUI model
type Dashboard struct {
	// Dimensions
	width  int
	height int

	threats       ThreatSource
	notifications NotificationSource

	statsView *StatsView
	spinner   *Spinner

	// Logs
	logs    []LogEntry
	maxLogs int

	// showRecent switches the right panel from live alerts to the last
	// recent_threats answer
	showRecent bool

	tickCount int
}

// NewDashboard creates a dashboard over the threat monitor. notifications
// may be nil.
func NewDashboard(threats ThreatSource, notifications NotificationSource) *Dashboard {
	return &Dashboard{
		width:         80,
		height:        24,
		threats:       threats,
		notifications: notifications,
		statsView:     NewStatsView(40, 15),
		spinner:       NewSpinner(),
		logs:          make([]LogEntry, 0, 100),
		maxLogs:       50,
	}
}

// AddLog adds a log entry
func (d *Dashboard) AddLog(level, message string) {
	entry := LogEntry{
		Time:    time.Now(),
		Level:   level,
		Message: message,
	}

	d.logs = append(d.logs, entry)
	if len(d.logs) > d.maxLogs {
		d.logs = d.logs[len(d.logs)-d.maxLogs:]
	}
}

// --- Bubbletea Model interface ---

// TickMsg is sent on each animation tick
type TickMsg time.Time

// UpdateMsg is sent when a source signals a change
type UpdateMsg struct {
	Source string
}

// Init initializes the model
func (d *Dashboard) Init() tea.Cmd {
	cmds := []tea.Cmd{tickCmd(), waitForUpdate("threats", d.threats.Updates())}
	if d.notifications != nil {
		cmds = append(cmds, waitForUpdate("notifications", d.notifications.Updates()))
	}
	return tea.Batch(cmds...)
}

// tickCmd returns a command that ticks periodically
func tickCmd() tea.Cmd {
	return tea.Tick(200*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func waitForUpdate(source string, ch <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		<-ch
		return UpdateMsg{Source: source}
	}
}

// Update handles messages
func (d *Dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return d, d.handleKey(msg.String())

	case tea.WindowSizeMsg:
		d.width = msg.Width
		d.height = msg.Height
		d.statsView.SetSize(d.width/2-2, d.height-10)

	case TickMsg:
		d.tickCount++
		if d.threats.Snapshot().Conn.Status == monitor.StatusConnecting {
			d.spinner.Start()
		} else {
			d.spinner.Stop()
		}
		d.spinner.Tick()
		return d, tickCmd()

	case UpdateMsg:
		switch msg.Source {
		case "notifications":
			return d, waitForUpdate(msg.Source, d.notifications.Updates())
		default:
			return d, waitForUpdate(msg.Source, d.threats.Updates())
		}
	}

	return d, nil
}

func (d *Dashboard) handleKey(key string) tea.Cmd {
	switch key {
	case "q", "ctrl+c":
		return tea.Quit
	case "r":
		d.logResult("Stats refresh requested", d.threats.RefreshStats())
	case "1", "6", "2":
		hours := map[string]int{"1": 1, "6": 6, "2": 24}[key]
		err := d.threats.RequestRecentThreats(hours)
		if err == nil {
			d.showRecent = true
		}
		d.logResult(fmt.Sprintf("Recent threats requested (%dh)", hours), err)
	case "a":
		d.showRecent = false
	case "c":
		d.logResult("Reconnecting threat monitor", d.threats.Reconnect())
		if d.notifications != nil {
			d.logResult("Reconnecting notifications", d.notifications.Reconnect())
		}
	case "m":
		if d.notifications != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			d.logResult("Marked all notifications read", d.notifications.MarkAllRead(ctx))
		}
	}
	return nil
}

func (d *Dashboard) logResult(msg string, err error) {
	if err != nil {
		d.AddLog("ERROR", fmt.Sprintf("%s: %v", msg, err))
		return
	}
	d.AddLog("INFO", msg)
}

// View renders the dashboard
func (d *Dashboard) View() string {
	if d.width == 0 {
		return "Loading..."
	}

	threats := d.threats.Snapshot()

	var b strings.Builder

	b.WriteString(d.renderHeader(threats))
	b.WriteString("\n")

	b.WriteString(lipgloss.JoinHorizontal(
		lipgloss.Top,
		d.statsView.Render(threats.Stats),
		d.renderThreatPanel(threats),
	))
	b.WriteString("\n")

	var bottom []string
	if d.notifications != nil {
		bottom = append(bottom, d.renderNotificationPanel(d.notifications.Snapshot()))
	}
	bottom = append(bottom, d.renderLogPanel(threats))
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, bottom...))
	b.WriteString("\n")

	b.WriteString(d.renderFooter())

	return b.String()
}

// renderHeader renders the title and connection indicators
func (d *Dashboard) renderHeader(threats monitor.ThreatSnapshot) string {
	title := TitleStyle.Render(MiniBanner)

	status := RenderStatus(threats.Conn.Status)
	if spin := d.spinner.Render(); spin != "" {
		status = spin + " " + status
	}
	if threats.Conn.RetryIn > 0 {
		status += HelpStyle.Render(fmt.Sprintf(" retry %d in %s", threats.Conn.Attempt, formatDuration(threats.Conn.RetryIn)))
	}

	rightSide := ""
	if d.notifications != nil {
		n := d.notifications.Snapshot()
		rightSide = "🔔 " + RenderStatus(n.Conn.Status)
		if n.Badge != "" {
			rightSide += " " + BadgeStyle.Render(n.Badge)
		}
	}

	leftSide := title + "  " + status
	padding := d.width - lipgloss.Width(leftSide) - lipgloss.Width(rightSide) - 4
	if padding < 0 {
		padding = 0
	}

	header := leftSide + strings.Repeat(" ", padding) + rightSide
	return BoxStyle.Width(d.width - 2).Render(header)
}

// renderThreatPanel renders live alerts or the last recent threats answer
func (d *Dashboard) renderThreatPanel(threats monitor.ThreatSnapshot) string {
	var b strings.Builder

	events := threats.Alerts
	if d.showRecent {
		b.WriteString(HeaderStyle.Render(fmt.Sprintf("🕑 Recent threats (%dh)", threats.RecentHours)))
		events = threats.Recent
	} else {
		b.WriteString(HeaderStyle.Render("🚨 Live alerts"))
	}
	b.WriteString("\n\n")

	if len(events) == 0 {
		b.WriteString(HelpStyle.Render("Nothing yet"))
	}

	rows := d.height/2 - 4
	if rows < 5 {
		rows = 5
	}
	width := d.width/2 - 8
	for i, ev := range events {
		if i == rows {
			b.WriteString(HelpStyle.Render(fmt.Sprintf("... %d more", len(events)-rows)))
			break
		}
		ts := ""
		if !ev.Timestamp.IsZero() {
			ts = ev.Timestamp.Local().Format("15:04:05") + " "
		}
		line := fmt.Sprintf("%s%s %s", ts, ev.User, ev.Action)
		b.WriteString(LevelStyle(ev.ThreatLevel).Render(fmt.Sprintf("%3d", ev.ThreatScore)))
		b.WriteString(" ")
		b.WriteString(truncate(line, width-4))
		b.WriteString("\n")
	}

	return PanelStyle.Width(d.width/2 - 4).Render(b.String())
}

// renderNotificationPanel renders the latest notifications
func (d *Dashboard) renderNotificationPanel(n monitor.NotificationSnapshot) string {
	var b strings.Builder

	b.WriteString(HeaderStyle.Render("🔔 Notifications"))
	b.WriteString("\n\n")

	if len(n.Items) == 0 {
		b.WriteString(HelpStyle.Render("No notifications"))
	}
	for _, item := range n.Items {
		marker := InfoStyle.Render("●")
		if item.IsRead {
			marker = HelpStyle.Render("○")
		}
		switch item.Type {
		case "error":
			marker = ErrorStyle.Render("●")
		case "warning":
			marker = WarningStyle.Render("●")
		}
		b.WriteString(marker + " " + truncate(item.Title, d.width/2-12))
		b.WriteString("\n")
	}

	return LogPanelStyle.Width(d.width/2 - 4).Render(b.String())
}

// renderLogPanel merges the dashboard messages with the channel activity
func (d *Dashboard) renderLogPanel(threats monitor.ThreatSnapshot) string {
	var b strings.Builder

	b.WriteString(HeaderStyle.Render("📝 Activity Log"))
	b.WriteString("\n\n")

	entries := make([]LogEntry, 0, len(d.logs)+len(threats.Activity))
	entries = append(entries, d.logs...)
	for _, a := range threats.Activity {
		entries = append(entries, LogEntry{Time: a.At, Level: strings.ToUpper(a.Level), Message: a.Message})
	}
	if d.notifications != nil {
		for _, a := range d.notifications.Snapshot().Activity {
			entries = append(entries, LogEntry{Time: a.At, Level: strings.ToUpper(a.Level), Message: a.Message})
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Time.After(entries[j].Time)
	})
	if len(entries) > 8 {
		entries = entries[:8]
	}

	width := d.width/2 - 10
	for _, log := range entries {
		var levelStyle lipgloss.Style
		switch log.Level {
		case "ERROR":
			levelStyle = ErrorStyle
		case "WARN":
			levelStyle = WarningStyle
		case "INFO":
			levelStyle = InfoStyle
		default:
			levelStyle = HelpStyle
		}

		b.WriteString(HelpStyle.Render(log.Time.Format("15:04:05")))
		b.WriteString(" ")
		b.WriteString(levelStyle.Render(fmt.Sprintf("%-5s", log.Level)))
		b.WriteString(" ")
		b.WriteString(truncate(log.Message, width-15))
		b.WriteString("\n")
	}

	return LogPanelStyle.Width(d.width/2 - 4).Render(b.String())
}

// renderFooter renders the footer with help text
func (d *Dashboard) renderFooter() string {
	helps := []string{
		RenderHelp("r", "refresh"),
		RenderHelp("1/6/2", "recent 1h/6h/24h"),
		RenderHelp("a", "alerts"),
		RenderHelp("c", "reconnect"),
	}
	if d.notifications != nil {
		helps = append(helps, RenderHelp("m", "mark all read"))
	}
	helps = append(helps, RenderHelp("q", "quit"))

	return FooterStyle.Render(strings.Join(helps, "  "))
}

// Run starts the TUI application
func Run(d *Dashboard) error {
	p := tea.NewProgram(d, tea.WithAltScreen())
	_, err := p.Run()
	return err
}
