package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/q360/livemonitor/internal/config"
	"github.com/q360/livemonitor/internal/livechannel"
	"github.com/q360/livemonitor/internal/logger"
	"github.com/q360/livemonitor/internal/metrics"
	"github.com/q360/livemonitor/internal/restclient"
)

// app holds what every command needs
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	metrics *metrics.Metrics

	closers []io.Closer
}

// newApp loads the configuration and builds the logger. TUI commands log to
// the configured file instead of stderr. overrides apply command flags before
// validation.
func newApp(role string, toFile bool, overrides ...func(*config.Config)) (*app, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	applyFlags(cfg)
	for _, override := range overrides {
		override(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration:\n%w", err)
	}

	a := &app{cfg: cfg, metrics: metrics.New()}
	opts := logger.Options{Role: role, Level: cfg.Log.Level, Pretty: cfg.Log.Pretty}
	if toFile && cfg.Log.File != "" {
		l, closer, err := logger.NewFile(cfg.Log.File, opts)
		if err != nil {
			return nil, err
		}
		a.log = l
		a.closers = append(a.closers, closer)
	} else {
		a.log = logger.New(opts)
	}
	return a, nil
}

func applyFlags(cfg *config.Config) {
	if serverURL != "" {
		cfg.Server.URL = serverURL
	}
	if session != "" {
		cfg.Server.Session = session
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if metricsAddr != "" {
		cfg.Metrics.Addr = metricsAddr
	}
}

// channel builds a live channel client for one of the configured paths
func (a *app) channel(path string) (*livechannel.Client, error) {
	endpoint, err := livechannel.EndpointURL(a.cfg.Server.URL, path)
	if err != nil {
		return nil, err
	}

	var cookies []*http.Cookie
	if a.cfg.Server.Session != "" {
		cookies = append(cookies, &http.Cookie{Name: a.cfg.Server.SessionCookie, Value: a.cfg.Server.Session})
	}

	r := a.cfg.Reconnect
	return livechannel.New(endpoint, &livechannel.Options{
		Dialer: &livechannel.WebSocketDialer{
			HandshakeTimeout:   a.cfg.Server.HandshakeTimeout,
			InsecureSkipVerify: a.cfg.Server.InsecureSkipVerify,
			Cookies:            cookies,
		},
		Policy: livechannel.ReconnectPolicy{
			MaxAttempts: r.MaxAttempts,
			Backoff:     backoff(r),
		},
		Logger:  a.log,
		Metrics: a.metrics,
	}), nil
}

// backoff maps the configured strategy to a schedule
func backoff(r config.ReconnectConfig) livechannel.BackoffFunc {
	if r.Strategy == "linear" {
		return livechannel.Linear(r.BaseDelay)
	}
	return livechannel.Exponential(r.BaseDelay, r.MaxDelay)
}

func (a *app) restClient() (*restclient.Client, error) {
	opts := restclient.DefaultClientOptions()
	opts.BaseURL = a.cfg.Server.URL
	opts.SessionCookie = a.cfg.Server.SessionCookie
	opts.Session = a.cfg.Server.Session
	opts.CSRFToken = a.cfg.Server.CSRFToken
	opts.Timeout = a.cfg.Server.RequestTimeout
	opts.SkipTLSVerify = a.cfg.Server.InsecureSkipVerify
	return restclient.NewClient(opts)
}

// serveMetrics exposes the client metrics when an address is configured
func (a *app) serveMetrics() {
	if a.cfg.Metrics.Addr == "" {
		return
	}

	srv := fiber.New(fiber.Config{DisableStartupMessage: true})
	srv.Get("/metrics", adaptor.HTTPHandler(a.metrics.Handler()))
	go func() {
		if err := srv.Listen(a.cfg.Metrics.Addr); err != nil {
			a.log.Error().Err(err).Msg("Metrics endpoint stopped")
		}
	}()
	a.closers = append(a.closers, closerFunc(srv.Shutdown))
	a.log.Info().Str("addr", a.cfg.Metrics.Addr).Msg("Serving metrics")
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i].Close()
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// signalContext is canceled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
