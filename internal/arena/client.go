// VARBooth - Video Assistant Referee Orchestration for FRC Events
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/varbooth/varbooth

// Package arena maintains the websocket connection to the arena server,
// translates its notification stream into dispatch envelopes, and derives
// the match lifecycle events the controller's state machine runs on.
package arena

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/varbooth/varbooth/internal/dispatch"
	"github.com/varbooth/varbooth/internal/logging"
	"github.com/varbooth/varbooth/internal/metrics"
	"github.com/varbooth/varbooth/internal/model"
	"github.com/varbooth/varbooth/internal/retry"
	"github.com/varbooth/varbooth/internal/store"
)

const (
	// videoRefereePath is the dedicated notification endpoint added for
	// video referee integrations.
	videoRefereePath = "/video_referee/websocket"

	// refereePanelPath is the referee panel endpoint, used in compat mode
	// against arena builds that predate the dedicated one.
	refereePanelPath = "/panels/referee/websocket"

	loginPath      = "/login"
	sessionCookie  = "session_token"
	dialTimeout    = 5 * time.Second
	readLimitBytes = 1 << 20
)

// ErrAuthRequired indicates the arena rejected the current session.
var ErrAuthRequired = errors.New("arena session rejected")

// SessionStore persists the arena login token across restarts.
type SessionStore interface {
	LoadArenaSession() (store.ArenaSession, error)
	SaveArenaSession(store.ArenaSession) error
}

// Config configures the arena client.
type Config struct {
	Address           string
	Password          string
	CompatMode        bool
	ReconnectInterval time.Duration
}

// Client is the arena feed adapter. Run owns the connection; everything
// the client learns is published to the dispatch queue, never returned.
type Client struct {
	cfg      Config
	queue    *dispatch.Queue
	sessions SessionStore
	clock    retry.Clock
	http     *http.Client
	dialer   *websocket.Dialer
	log      zerolog.Logger

	token     string
	lastState model.MatchState
	hasState  bool
}

// New creates an arena client. sessions may be nil; the client then
// logs in fresh on every start.
func New(cfg Config, queue *dispatch.Queue, sessions SessionStore, clock retry.Clock) *Client {
	return &Client{
		cfg:      cfg,
		queue:    queue,
		sessions: sessions,
		clock:    clock,
		http:     &http.Client{Timeout: dialTimeout},
		dialer:   &websocket.Dialer{HandshakeTimeout: dialTimeout},
		log:      logging.Component("arena"),
	}
}

// Serve connects and reconnects until ctx is canceled. Each connection
// failure publishes a disconnected status and waits the configured
// interval before the next attempt.
func (c *Client) Serve(ctx context.Context) error {
	if c.sessions != nil {
		if s, err := c.sessions.LoadArenaSession(); err == nil && s.SessionToken != "" {
			c.token = s.SessionToken
			c.log.Debug().Msg("restored arena session token")
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := c.runOnce(ctx)
		if errors.Is(err, context.Canceled) {
			return err
		}

		c.publishConnection(false)
		metrics.PeerReconnects.WithLabelValues("arena").Inc()
		c.log.Warn().Err(err).
			Dur("retry_in", c.cfg.ReconnectInterval).
			Msg("arena connection lost")

		if err := retry.Sleep(ctx, c.clock, c.cfg.ReconnectInterval); err != nil {
			return err
		}
	}
}

// runOnce performs one full connection cycle: authenticate, dial, resync,
// then pump messages until the connection drops.
func (c *Client) runOnce(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if errors.Is(err, ErrAuthRequired) {
		if err := c.login(ctx); err != nil {
			return fmt.Errorf("arena login: %w", err)
		}
		conn, err = c.dial(ctx)
	}
	if err != nil {
		return err
	}
	defer conn.Close()

	c.hasState = false
	c.publishConnection(true)
	c.log.Info().Str("address", c.cfg.Address).Bool("compat_mode", c.cfg.CompatMode).
		Msg("connected to arena")

	if err := c.refreshMatchResults(ctx); err != nil {
		c.log.Warn().Err(err).Msg("match results refresh failed")
	}

	// Close the socket when ctx ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	conn.SetReadLimit(readLimitBytes)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("arena read: %w", err)
		}
		c.handleMessage(conn, data)
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	path := videoRefereePath
	if c.cfg.CompatMode {
		path = refereePanelPath
	}
	u := url.URL{Scheme: "ws", Host: c.cfg.Address, Path: path}

	header := http.Header{}
	if c.token != "" {
		header.Set("Cookie", sessionCookie+"="+c.token)
	}

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), header)
	if resp != nil && (resp.StatusCode == http.StatusUnauthorized ||
		resp.StatusCode == http.StatusForbidden ||
		resp.StatusCode == http.StatusTemporaryRedirect ||
		resp.StatusCode == http.StatusSeeOther) {
		return nil, ErrAuthRequired
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.String(), err)
	}
	metrics.PeerConnected.WithLabelValues("arena").Set(1)
	return conn, nil
}

// login authenticates against the arena's form login and captures the
// session cookie.
func (c *Client) login(ctx context.Context) error {
	form := url.Values{}
	form.Set("username", "referee")
	form.Set("password", c.cfg.Password)

	loginURL := "http://" + c.cfg.Address + loginPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, loginURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	for _, cookie := range resp.Cookies() {
		if cookie.Name == sessionCookie {
			c.token = cookie.Value
			if c.sessions != nil {
				if err := c.sessions.SaveArenaSession(store.ArenaSession{SessionToken: c.token}); err != nil {
					c.log.Warn().Err(err).Msg("failed to persist arena session")
				}
			}
			c.log.Info().Msg("arena login succeeded")
			return nil
		}
	}
	return fmt.Errorf("arena login: no %s cookie in response (status %d)", sessionCookie, resp.StatusCode)
}

func (c *Client) publishConnection(connected bool) {
	if !connected {
		metrics.PeerConnected.WithLabelValues("arena").Set(0)
	}
	c.publish(dispatch.KindArenaConnection, model.ConnectionStatus{Connected: connected})
}

func (c *Client) publish(kind string, payload any) {
	if err := c.queue.Publish(kind, payload); err != nil {
		c.log.Error().Err(err).Str("kind", kind).Msg("dispatch publish failed")
	}
}

// String identifies the client in the supervision tree.
func (c *Client) String() string {
	return "arena-client"
}
