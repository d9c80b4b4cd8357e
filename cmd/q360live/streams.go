package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/q360/livemonitor/internal/monitor"
	"github.com/q360/livemonitor/pkg/types"
)

func newNotificationsCmd() *cobra.Command {
	var (
		list        bool
		markRead    int64
		markAllRead bool
	)

	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "Stream notifications, or list and mark them through the REST API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp("notifications", false)
			if err != nil {
				return err
			}
			defer a.close()

			api, err := a.restClient()
			if err != nil {
				return err
			}

			ctx, stop := signalContext()
			defer stop()

			switch {
			case markAllRead:
				if err := api.MarkAllRead(ctx); err != nil {
					return err
				}
				fmt.Println("All notifications marked as read")
				return nil
			case markRead > 0:
				if err := api.MarkRead(ctx, markRead); err != nil {
					return err
				}
				fmt.Printf("Notification %d marked as read\n", markRead)
				return nil
			case list:
				items, err := api.RecentNotifications(ctx)
				if err != nil {
					return err
				}
				for _, n := range items {
					printNotification(n)
				}
				count, err := api.UnreadCount(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("%s unread\n", orZero(monitor.BadgeText(count)))
				return nil
			}

			a.serveMetrics()
			ch, err := a.channel(a.cfg.Channels.Notifications)
			if err != nil {
				return err
			}
			feed := monitor.NewNotificationFeed(ch, api, a.log)
			feed.OnNotification(printNotification)
			feed.Start()

			<-ctx.Done()
			feed.Stop()
			return nil
		},
	}

	cmd.Flags().BoolVar(&list, "list", false, "Print the recent notifications and exit")
	cmd.Flags().Int64Var(&markRead, "mark-read", 0, "Mark one notification as read and exit")
	cmd.Flags().BoolVar(&markAllRead, "mark-all-read", false, "Mark every notification as read and exit")
	return cmd
}

func newAuditLogsCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "audit-logs",
		Short: "Stream the audit log",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp("audit-logs", false)
			if err != nil {
				return err
			}
			defer a.close()
			a.serveMetrics()

			ch, err := a.channel(a.cfg.Channels.AuditLogs)
			if err != nil {
				return err
			}

			stream := monitor.NewAuditLogStream(ch, 0, a.log)
			enc := json.NewEncoder(os.Stdout)
			stream.OnEntry(func(e types.AuditLogEntry) {
				if asJSON {
					if err := enc.Encode(e); err != nil {
						a.log.Warn().Err(err).Int64("id", e.ID).Msg("Failed to write audit log entry")
					}
					return
				}
				fmt.Printf("%s  %-8s %3d  %-16s %-24s %s\n",
					e.Timestamp.Local().Format(time.DateTime), e.ThreatLevel, e.ThreatScore, e.User, e.Action, e.ModelName)
			})

			ctx, stop := signalContext()
			defer stop()

			stream.Start()
			<-ctx.Done()
			stream.Stop()
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print entries as JSON lines")
	return cmd
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print the realtime dashboard counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp("stats", false)
			if err != nil {
				return err
			}
			defer a.close()

			api, err := a.restClient()
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			stats, err := api.RealtimeStats(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Active users:         %d\n", stats.Users.Active)
			fmt.Printf("New users (24h):      %d\n", stats.Users.NewLast24h)
			fmt.Printf("Onboarding processes: %d\n", stats.Onboarding.ActiveProcesses)
			fmt.Printf("Pending tasks:        %d\n", stats.Onboarding.PendingTasks)
			fmt.Printf("Unread notifications: %d\n", stats.Notifications.Unread)
			fmt.Printf("Alerts (last hour):   %d\n", stats.Security.AlertsLastHour)
			return nil
		},
	}
}

func printNotification(n types.Notification) {
	read := "*"
	if n.IsRead {
		read = " "
	}
	at := ""
	if !n.CreatedAt.IsZero() {
		at = n.CreatedAt.Local().Format(time.DateTime)
	}
	fmt.Printf("%s #%-5d %-19s %-8s %s: %s\n", read, n.ID, at, n.Type, n.Title, n.Message)
}

func orZero(badge string) string {
	if badge == "" {
		return "0"
	}
	return badge
}
