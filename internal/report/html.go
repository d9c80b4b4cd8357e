package report

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"strings"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/q360/livemonitor/pkg/types"
)

var levelColors = map[types.ThreatLevel]string{
	types.ThreatCritical: "#FF0055",
	types.ThreatHigh:     "#FF8800",
	types.ThreatMedium:   "#FFFF00",
	types.ThreatLow:      "#00FFFF",
}

// HTMLGenerator generates HTML reports: an ECharts page with the threat
// distribution and failed login charts, followed by the summary tables.
type HTMLGenerator struct {
	template *template.Template
}

// NewHTMLGenerator creates a new HTML generator
func NewHTMLGenerator() *HTMLGenerator {
	tmpl := template.Must(template.New("report").Funcs(template.FuncMap{
		"levelClass": func(l types.ThreatLevel) string {
			switch l {
			case types.ThreatCritical, types.ThreatHigh, types.ThreatMedium:
				return string(l)
			default:
				return "low"
			}
		},
		"formatTime": func(t time.Time) string {
			if t.IsZero() {
				return "-"
			}
			return t.Format("2006-01-02 15:04:05")
		},
		"formatDuration": func(d time.Duration) string {
			return d.Round(time.Second).String()
		},
	}).Parse(summaryTemplate))

	return &HTMLGenerator{
		template: tmpl,
	}
}

// Generate generates an HTML report
func (g *HTMLGenerator) Generate(s *Session, w io.Writer) error {
	page := components.NewPage()
	page.PageTitle = s.Title
	page.AddCharts(distributionChart(s), failedLoginsChart(s))

	var rendered bytes.Buffer
	if err := page.Render(&rendered); err != nil {
		return fmt.Errorf("failed to render charts: %w", err)
	}

	var summary bytes.Buffer
	if err := g.template.Execute(&summary, s); err != nil {
		return fmt.Errorf("failed to render summary: %w", err)
	}

	// Summary goes before </body> of the chart page
	content := rendered.String()
	if idx := strings.LastIndex(content, "</body>"); idx >= 0 {
		content = content[:idx] + summary.String() + content[idx:]
	} else {
		content += summary.String()
	}

	_, err := io.WriteString(w, content)
	return err
}

// Extension returns the file extension
func (g *HTMLGenerator) Extension() string {
	return "html"
}

// distributionChart is a pie of the last stats, falling back to the
// alerts seen during the session
func distributionChart(s *Session) *charts.Pie {
	counts := map[types.ThreatLevel]int{}
	if s.Stats != nil {
		d := s.Stats.ThreatDistribution
		counts[types.ThreatCritical] = d.Critical
		counts[types.ThreatHigh] = d.High
		counts[types.ThreatMedium] = d.Medium
		counts[types.ThreatLow] = d.Low
	} else {
		for level, n := range s.LevelCounts {
			counts[level] = n
		}
	}

	data := make([]opts.PieData, 0, 4)
	for _, level := range []types.ThreatLevel{types.ThreatCritical, types.ThreatHigh, types.ThreatMedium, types.ThreatLow} {
		data = append(data, opts.PieData{
			Name:      string(level),
			Value:     counts[level],
			ItemStyle: &opts.ItemStyle{Color: levelColors[level]},
		})
	}

	pie := charts.NewPie()
	pie.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Threat distribution",
			Subtitle: "Last 24 hours",
		}),
		charts.WithInitializationOpts(opts.Initialization{
			Width:  "600px",
			Height: "400px",
		}),
		charts.WithTooltipOpts(opts.Tooltip{
			Show: opts.Bool(true),
		}),
		charts.WithLegendOpts(opts.Legend{
			Show: opts.Bool(true),
			Top:  "bottom",
		}),
	)
	pie.AddSeries("threats", data,
		charts.WithLabelOpts(opts.Label{
			Show:      opts.Bool(true),
			Formatter: "{b}: {c}",
		}),
	)
	return pie
}

// failedLoginsChart is a line over the hourly failed login buckets
func failedLoginsChart(s *Session) *charts.Line {
	var hours []string
	var data []opts.LineData
	if s.Stats != nil {
		for _, h := range s.Stats.FailedLoginsHourly {
			hours = append(hours, h.Hour)
			data = append(data, opts.LineData{Value: h.Count})
		}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title: "Failed logins per hour",
		}),
		charts.WithInitializationOpts(opts.Initialization{
			Width:  "900px",
			Height: "400px",
		}),
		charts.WithTooltipOpts(opts.Tooltip{
			Show: opts.Bool(true),
		}),
	)
	line.SetXAxis(hours).AddSeries("failed logins", data,
		charts.WithLineChartOpts(opts.LineChart{
			Smooth: opts.Bool(true),
		}),
	)
	return line
}

const summaryTemplate = `
<style>
    .q360-summary {
        --bg-dark: #0D0D0D;
        --bg-panel: #1A1A2E;
        --bg-header: #16213E;
        --text-primary: #E0E0E0;
        --text-dim: #666666;
        --cyan: #00FFFF;
        --magenta: #FF00FF;
        --yellow: #FFFF00;
        --red: #FF0055;
        --orange: #FF8800;
        font-family: 'Segoe UI', 'Roboto', 'Helvetica Neue', sans-serif;
        background: var(--bg-dark);
        color: var(--text-primary);
        max-width: 1200px;
        margin: 20px auto;
        padding: 20px;
        line-height: 1.6;
    }
    .q360-summary header, .q360-summary .section {
        background: var(--bg-panel);
        border-radius: 10px;
        padding: 20px;
        margin-bottom: 20px;
        border: 1px solid var(--magenta);
    }
    .q360-summary h1 { color: var(--cyan); }
    .q360-summary h2 { color: var(--magenta); margin-bottom: 10px; }
    .q360-summary .meta { color: var(--text-dim); font-size: 0.9em; }
    .q360-summary .meta span { margin-right: 20px; }
    .q360-summary table { width: 100%; border-collapse: collapse; }
    .q360-summary th, .q360-summary td { text-align: left; padding: 6px 10px; border-bottom: 1px solid var(--bg-header); }
    .q360-summary th { color: var(--text-dim); }
    .q360-summary .badge { padding: 2px 10px; border-radius: 12px; font-weight: bold; }
    .q360-summary .badge.critical { background: var(--red); color: white; }
    .q360-summary .badge.high { background: var(--orange); color: white; }
    .q360-summary .badge.medium { background: var(--yellow); color: black; }
    .q360-summary .badge.low { background: var(--cyan); color: black; }
    .q360-summary .empty { color: var(--text-dim); text-align: center; padding: 20px; }
</style>
<div class="q360-summary">
    <header>
        <h1>🛡 {{.Title}}</h1>
        <div class="meta">
            <span>🔌 Endpoint: <strong>{{.Endpoint}}</strong></span>
            <span>▶ Started: {{formatTime .StartedAt}}</span>
            <span>■ Ended: {{formatTime .EndedAt}}</span>
            <span>⏱ Duration: {{formatDuration .Duration}}</span>
            <span>🔁 Reconnects: {{.Reconnects}}{{if .GaveUp}} (gave up){{end}}</span>
        </div>
    </header>

    {{if .Stats}}
    <section class="section">
        <h2>👤 Top threat users</h2>
        {{if .Stats.TopThreatUsers}}
        <table>
            <tr><th>User</th><th>Events</th><th>Max score</th></tr>
            {{range .Stats.TopThreatUsers}}
            <tr><td>{{.Username}}</td><td>{{.Count}}</td><td>{{.MaxScore}}</td></tr>
            {{end}}
        </table>
        {{else}}
        <div class="empty">No high-threat users</div>
        {{end}}
    </section>
    {{end}}

    <section class="section">
        <h2>🚨 Alerts ({{len .Alerts}})</h2>
        {{if .Alerts}}
        <table>
            <tr><th>Time</th><th>Level</th><th>Score</th><th>User</th><th>Action</th><th>IP</th></tr>
            {{range .Alerts}}
            <tr>
                <td>{{formatTime .Timestamp}}</td>
                <td><span class="badge {{levelClass .ThreatLevel}}">{{.ThreatLevel}}</span></td>
                <td>{{.ThreatScore}}</td>
                <td>{{.User}}</td>
                <td>{{.Action}}</td>
                <td>{{.IPAddress}}</td>
            </tr>
            {{end}}
        </table>
        {{else}}
        <div class="empty">No alerts during this session</div>
        {{end}}
    </section>

    <section class="section">
        <h2>🔌 Connection history</h2>
        {{if .Transitions}}
        <table>
            <tr><th>Time</th><th>From</th><th>To</th><th>Attempt</th><th>Error</th></tr>
            {{range .Transitions}}
            <tr>
                <td>{{formatTime .At}}</td>
                <td>{{.From}}</td>
                <td>{{.To}}{{if .Delay}} (retry in {{formatDuration .Delay}}){{end}}{{if .GaveUp}} (gave up){{end}}</td>
                <td>{{.Attempt}}</td>
                <td>{{.Error}}</td>
            </tr>
            {{end}}
        </table>
        {{else}}
        <div class="empty">No state changes recorded</div>
        {{end}}
    </section>
</div>
`
