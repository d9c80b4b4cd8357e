package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/q360/livemonitor/pkg/types"
)

// StatsView renders the threat statistics panel
type StatsView struct {
	width  int
	height int
	bars   map[types.ThreatLevel]*Bar
}

// NewStatsView creates a new stats view
func NewStatsView(width, height int) *StatsView {
	v := &StatsView{
		width:  width,
		height: height,
		bars: map[types.ThreatLevel]*Bar{
			types.ThreatCritical: NewBar(0, CriticalStyle),
			types.ThreatHigh:     NewBar(0, HighStyle),
			types.ThreatMedium:   NewBar(0, MediumStyle),
			types.ThreatLow:      NewBar(0, LowStyle),
		},
	}
	v.SetSize(width, height)
	return v
}

// SetSize updates the view size
func (v *StatsView) SetSize(width, height int) {
	v.width = width
	v.height = height
	for _, bar := range v.bars {
		bar.SetWidth(width - 24)
	}
}

// Render renders the stats view. stats is nil until the first
// initial_data or stats_update arrives.
func (v *StatsView) Render(stats *types.ThreatStats) string {
	var b strings.Builder

	b.WriteString(HeaderStyle.Render("📊 Threats (24h)"))
	b.WriteString("\n\n")

	if stats == nil {
		b.WriteString(HelpStyle.Render("Waiting for statistics..."))
		return StatsPanelStyle.Width(v.width).Render(b.String())
	}

	b.WriteString(RenderLabelValue("Total", formatNumber(int64(stats.TotalThreats))))
	b.WriteString("\n\n")

	dist := stats.ThreatDistribution
	total := dist.Total()
	rows := []struct {
		level types.ThreatLevel
		count int
	}{
		{types.ThreatCritical, dist.Critical},
		{types.ThreatHigh, dist.High},
		{types.ThreatMedium, dist.Medium},
		{types.ThreatLow, dist.Low},
	}
	for _, row := range rows {
		bar := v.bars[row.level]
		if total > 0 {
			bar.SetRatio(float64(row.count) / float64(total))
		} else {
			bar.SetRatio(0)
		}
		fmt.Fprintf(&b, "%s %s %s\n",
			LevelStyle(row.level).Render(fmt.Sprintf("%-8s", row.level)),
			bar.Render(),
			HelpStyle.Render(fmt.Sprintf("%5d %s", row.count, percent(row.count, total))),
		)
	}

	b.WriteString("\n")
	b.WriteString(HeaderStyle.Render("🔑 Failed logins"))
	b.WriteString("\n\n")
	if len(stats.FailedLoginsHourly) > 0 {
		counts := make([]int, len(stats.FailedLoginsHourly))
		sum := 0
		for i, h := range stats.FailedLoginsHourly {
			counts[i] = h.Count
			sum += h.Count
		}
		first := stats.FailedLoginsHourly[0].Hour
		last := stats.FailedLoginsHourly[len(stats.FailedLoginsHourly)-1].Hour
		b.WriteString(Sparkline(counts))
		b.WriteString("\n")
		b.WriteString(HelpStyle.Render(fmt.Sprintf("%s to %s, %d total", first, last, sum)))
	} else {
		b.WriteString(HelpStyle.Render("No failed logins"))
	}
	b.WriteString("\n\n")

	b.WriteString(HeaderStyle.Render("👤 Top users"))
	b.WriteString("\n\n")
	if len(stats.TopThreatUsers) == 0 {
		b.WriteString(HelpStyle.Render("No high-threat users"))
	}
	for i, u := range stats.TopThreatUsers {
		level := types.ThreatLevelForScore(u.MaxScore)
		fmt.Fprintf(&b, "%d. %-16s %s %s\n",
			i+1,
			truncate(u.Username, 16),
			ValueStyle.Render(fmt.Sprintf("%3d events", u.Count)),
			LevelStyle(level).Render(fmt.Sprintf("max %d", u.MaxScore)),
		)
	}

	return StatsPanelStyle.Width(v.width).Render(b.String())
}

// Helper functions

func formatNumber(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	return fmt.Sprintf("%.1fM", float64(n)/1000000)
}

func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}

// truncate shortens s to n runes, marking the cut with an ellipsis
func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 {
		return ""
	}
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
