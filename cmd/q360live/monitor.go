package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/q360/livemonitor/internal/config"
	"github.com/q360/livemonitor/internal/monitor"
	"github.com/q360/livemonitor/internal/report"
	"github.com/q360/livemonitor/internal/ui"
)

func newMonitorCmd() *cobra.Command {
	var (
		noNotifications bool
		reportDir       string
		reportFormat    string
	)

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Open the live threat dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp("monitor", true, func(cfg *config.Config) {
				if reportDir != "" {
					cfg.Report.Path = reportDir
				}
				if reportFormat != "" {
					cfg.Report.Format = reportFormat
				}
			})
			if err != nil {
				return err
			}
			defer a.close()
			a.serveMetrics()

			threatCh, err := a.channel(a.cfg.Channels.ThreatMonitor)
			if err != nil {
				return err
			}
			threats := monitor.NewThreatMonitor(threatCh, a.log)

			var feed *monitor.NotificationFeed
			var notifications ui.NotificationSource
			if !noNotifications {
				ch, err := a.channel(a.cfg.Channels.Notifications)
				if err != nil {
					return err
				}
				api, err := a.restClient()
				if err != nil {
					return err
				}
				feed = monitor.NewNotificationFeed(ch, api, a.log)
				notifications = feed
			}

			session := report.NewSession("Q360 threat monitor", threatCh.Endpoint(), time.Now())

			threats.Start()
			if feed != nil {
				feed.Start()
			}

			runErr := ui.Run(ui.NewDashboard(threats, notifications))

			threats.Stop()
			if feed != nil {
				feed.Stop()
			}

			session.Capture(threats.Snapshot(), threats.History())
			session.Finish(time.Now())
			paths, err := writeReport(a.cfg.Report, session)
			if err != nil {
				a.log.Error().Err(err).Msg("Failed to write session report")
			}
			for _, path := range paths {
				a.log.Info().Str("path", path).Msg("Session report written")
			}
			return runErr
		},
	}

	cmd.Flags().BoolVar(&noNotifications, "no-notifications", false, "Do not follow the notifications channel")
	cmd.Flags().StringVar(&reportDir, "report", "", "Write a session report into this directory on exit")
	cmd.Flags().StringVar(&reportFormat, "report-format", "", "Session report format (json, html, all)")
	return cmd
}

// writeReport writes the session report as configured. An empty path
// disables it.
func writeReport(cfg config.ReportConfig, s *report.Session) ([]string, error) {
	if cfg.Path == "" {
		return nil, nil
	}
	m := report.NewManager(cfg.Path)
	if cfg.Format == "all" {
		return m.GenerateAll(s)
	}
	path, err := m.Generate(s, cfg.Format)
	if err != nil {
		return nil, err
	}
	return []string{path}, nil
}
