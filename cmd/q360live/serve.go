package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/q360/livemonitor/internal/web"
)

func newServeCmd() *cobra.Command {
	var (
		listen   string
		interval time.Duration
		seed     int64
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the development server with synthetic audit events",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp("serve", false)
			if err != nil {
				return err
			}
			defer a.close()

			s := a.cfg.Serve
			if listen != "" {
				s.Listen = listen
			}
			if interval > 0 {
				s.EventInterval = interval
			}
			if seed == 0 {
				seed = time.Now().UnixNano()
			}

			srv, err := web.NewServer(&web.Options{
				SessionCookie: a.cfg.Server.SessionCookie,
				Session:       s.Session,
				CommandRate:   s.CommandRate,
				CommandBurst:  s.CommandBurst,
				BroadcastPool: s.BroadcastPool,
				EventInterval: s.EventInterval,
				Seed:          seed,
				Logger:        a.log,
				Metrics:       a.metrics,
			})
			if err != nil {
				return err
			}

			ctx, stop := signalContext()
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Start(s.Listen)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
				a.log.Info().Msg("Shutting down gracefully")
				return srv.Stop()
			}
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (default from config)")
	cmd.Flags().DurationVar(&interval, "interval", 0, "Synthetic event interval (default from config)")
	cmd.Flags().Int64Var(&seed, "seed", 0, "Event generator seed (default random)")
	return cmd
}
