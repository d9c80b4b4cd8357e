// q360live - live security monitor for the Q360 dashboard
// Follows the notification, threat monitor and audit log channels from the
// terminal and ships a development server that speaks the same protocol.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0-dev"

	// Global flags
	configFile  string
	serverURL   string
	session     string
	logLevel    string
	metricsAddr string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "q360live",
		Short: "q360live - Live security monitor for Q360",
		Long: `q360live connects to the live channels of a Q360 dashboard and keeps
them open, reconnecting with exponential backoff when the server goes away.

Commands:
  - monitor:       threat dashboard with live alerts and notifications
  - notifications: stream or manage user notifications
  - audit-logs:    stream the audit log
  - stats:         print the realtime dashboard counters
  - serve:         development server with synthetic audit events`,
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configFile, "config", "c", "", "Path to config file (YAML)")
	flags.StringVarP(&serverURL, "url", "u", "", "Dashboard URL, e.g. https://q360.example.com/")
	flags.StringVar(&session, "session", "", "Session cookie value")
	flags.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flags.StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")

	rootCmd.AddCommand(
		newMonitorCmd(),
		newNotificationsCmd(),
		newAuditLogsCmd(),
		newStatsCmd(),
		newServeCmd(),
		newConfigCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Printf("q360live version %s\n", version)
			},
		},
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
