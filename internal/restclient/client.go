// Package restclient calls the dashboard REST endpoints that accompany the
// live channels: unread badge, mark-as-read and realtime stats.
package restclient

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/valyala/fasthttp"
	"golang.org/x/time/rate"

	"github.com/q360/livemonitor/pkg/types"
)

// REST paths of the dashboard
const (
	PathUnreadCount   = "/notifications/api/unread-count/"
	PathRecent        = "/notifications/api/recent/"
	PathMarkAllRead   = "/notifications/mark-all-read/"
	PathRealtimeStats = "/dashboard/api/realtime-stats/"
)

// StatusError is returned for non-2xx responses
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.Path, e.StatusCode)
}

// Client wraps fasthttp.Client with the session of the dashboard user
type Client struct {
	client    *fasthttp.Client
	baseURL   string
	timeout   time.Duration
	userAgent string
	cookie    string
	session   string
	csrfToken string
	limiter   *rate.Limiter
}

// ClientOptions configures the REST client
type ClientOptions struct {
	BaseURL       string
	SessionCookie string
	Session       string
	CSRFToken     string

	Timeout             time.Duration
	MaxConnsPerHost     int
	MaxIdleConnDuration time.Duration
	UserAgent           string
	SkipTLSVerify       bool
	// RPS paces outgoing calls; zero means unlimited.
	RPS float64
}

// DefaultClientOptions returns sensible defaults
func DefaultClientOptions() *ClientOptions {
	return &ClientOptions{
		SessionCookie:       "sessionid",
		Timeout:             10 * time.Second,
		MaxConnsPerHost:     4,
		MaxIdleConnDuration: 30 * time.Second,
		UserAgent:           "q360live/1.0",
		RPS:                 5,
	}
}

// NewClient creates a REST client for the dashboard at opts.BaseURL
func NewClient(opts *ClientOptions) (*Client, error) {
	if opts == nil {
		opts = DefaultClientOptions()
	}

	u, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
	default:
		return nil, fmt.Errorf("base url %q must be http or https", opts.BaseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("base url %q has no host", opts.BaseURL)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	c := &Client{
		client: &fasthttp.Client{
			MaxConnsPerHost:     opts.MaxConnsPerHost,
			MaxIdleConnDuration: opts.MaxIdleConnDuration,
			ReadTimeout:         timeout,
			WriteTimeout:        timeout,
			TLSConfig: &tls.Config{
				InsecureSkipVerify: opts.SkipTLSVerify,
			},
		},
		baseURL:   u.Scheme + "://" + u.Host,
		timeout:   timeout,
		userAgent: opts.UserAgent,
		cookie:    opts.SessionCookie,
		session:   opts.Session,
		csrfToken: opts.CSRFToken,
	}
	if opts.RPS > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RPS), 1)
	}
	return c, nil
}

// UnreadCount returns the number of unread notifications
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var out types.UnreadCount
	if err := c.do(ctx, fasthttp.MethodGet, PathUnreadCount, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// RecentNotifications returns the latest notifications, newest first
func (c *Client) RecentNotifications(ctx context.Context) ([]types.Notification, error) {
	var out types.RecentNotifications
	if err := c.do(ctx, fasthttp.MethodGet, PathRecent, &out); err != nil {
		return nil, err
	}
	return out.Notifications, nil
}

// MarkRead marks one notification as read
func (c *Client) MarkRead(ctx context.Context, id int64) error {
	return c.doStatus(ctx, "/notifications/"+strconv.FormatInt(id, 10)+"/read/")
}

// MarkAllRead marks every notification as read
func (c *Client) MarkAllRead(ctx context.Context) error {
	return c.doStatus(ctx, PathMarkAllRead)
}

// RealtimeStats fetches the dashboard summary counters
func (c *Client) RealtimeStats(ctx context.Context) (*types.RealtimeStats, error) {
	var out types.RealtimeStats
	if err := c.do(ctx, fasthttp.MethodGet, PathRealtimeStats, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) doStatus(ctx context.Context, path string) error {
	var out struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, fasthttp.MethodPost, path, &out); err != nil {
		return err
	}
	if out.Status != "success" {
		return fmt.Errorf("POST %s: status %q", path, out.Status)
	}
	return nil
}

// do sends one request and decodes the JSON body into out
func (c *Client) do(ctx context.Context, method, path string, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.baseURL + path)
	req.Header.SetMethod(method)
	req.Header.SetUserAgent(c.userAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	if c.csrfToken != "" {
		req.Header.Set("X-CSRFToken", c.csrfToken)
	}
	if c.session != "" {
		req.Header.SetCookie(c.cookie, c.session)
	}

	if err := c.client.DoDeadline(req, resp, deadline); err != nil {
		if errors.Is(err, fasthttp.ErrTimeout) && ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	status := resp.StatusCode()
	if status < 200 || status > 299 {
		return &StatusError{Method: method, Path: path, StatusCode: status, Body: string(resp.Body())}
	}

	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("%s %s: decode body: %w", method, path, err)
	}
	return nil
}
