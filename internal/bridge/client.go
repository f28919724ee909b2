// Package bridge forwards bus events to a Home Assistant session over its
// websocket API.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ayusman/gestalyze/internal/clock"
	"github.com/ayusman/gestalyze/internal/logger"
	"github.com/ayusman/gestalyze/internal/metrics"
)

// Remote service and event names.
const (
	Domain          = "gestalyze"
	Service         = "set_gesture_state"
	EventGesture    = "gestalyze_gesture_recognized"
	EventHandStatus = "gestalyze_hand_status_updated"
)

// DefaultConnectTimeout bounds dialing and the auth handshake.
const DefaultConnectTimeout = 10 * time.Second

var (
	// ErrAuthFailed means the session rejected the access token. It is never retried.
	ErrAuthFailed = errors.New("authentication failed")
	// ErrUnexpectedHandshake means the peer did not open with auth_required.
	ErrUnexpectedHandshake = errors.New("unexpected handshake message")
	// ErrDeliveryFailed means a message was lost after every attempt.
	ErrDeliveryFailed = errors.New("delivery failed")
)

// DeliveryError reports a message dropped after exhausting its attempts.
type DeliveryError struct {
	Attempts int
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s after %d attempts: %v", ErrDeliveryFailed, e.Attempts, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Is matches ErrDeliveryFailed.
func (e *DeliveryError) Is(target error) bool { return target == ErrDeliveryFailed }

// ResultError is a non-success acknowledgement.
type ResultError struct {
	ID      int
	Code    string
	Message string
}

func (e *ResultError) Error() string {
	return fmt.Sprintf("message %d rejected: %s: %s", e.ID, e.Code, e.Message)
}

// Ack error codes that a fresh connection clears.
var connectionCodes = map[string]bool{
	"id_reuse": true,
	"timeout":  true,
}

// Conn is one websocket session. *websocket.Conn satisfies it.
type Conn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	SetReadDeadline(t time.Time) error
	Close() error
}

// Dialer opens websocket sessions.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebsocketDialer dials with gorilla/websocket, bounding the wait by Timeout.
type WebsocketDialer struct {
	Timeout time.Duration
}

// Dial implements Dialer.
func (d WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Options configures a Client.
type Options struct {
	URL            string
	Token          string
	ConnectTimeout time.Duration
	AckTimeout     time.Duration
	MaxAttempts    int
	Backoff        time.Duration
	// Clock paces the retry backoff. Socket deadlines always use wall-clock time.
	Clock          clock.Clock
	Metrics        *metrics.Metrics
}

// Wire messages.
type (
	handshake struct {
		Type    string `json:"type"`
		Message string `json:"message,omitempty"`
	}

	authMessage struct {
		Type        string `json:"type"`
		AccessToken string `json:"access_token"`
	}

	callService struct {
		ID          int    `json:"id"`
		Type        string `json:"type"`
		Domain      string `json:"domain"`
		Service     string `json:"service"`
		ServiceData any    `json:"service_data"`
	}

	fireEvent struct {
		ID        int    `json:"id"`
		Type      string `json:"type"`
		EventType string `json:"event_type"`
		EventData any    `json:"event_data"`
	}

	result struct {
		ID      int    `json:"id"`
		Type    string `json:"type"`
		Success bool   `json:"success"`
		Error   *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error,omitempty"`
	}
)

// Client is a single authenticated session with reconnect and bounded retry.
// It is not safe for concurrent use; Bridge serializes access through one worker.
type Client struct {
	dialer Dialer
	opts   Options
	conn   Conn
	nextID int
}

// NewClient creates a client. It does not connect until first use or Connect.
func NewClient(dialer Dialer, opts Options) *Client {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = opts.ConnectTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	return &Client{dialer: dialer, opts: opts}
}

// Connect opens a fresh session and authenticates. Message ids restart at 0.
func (c *Client) Connect(ctx context.Context) error {
	c.drop()

	conn, err := c.dialer.Dial(ctx, c.opts.URL)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.opts.URL, err)
	}
	if err := c.authenticate(conn); err != nil {
		conn.Close()
		return err
	}

	c.conn = conn
	c.nextID = 0
	logger.Info("HA", "connected to %s", c.opts.URL)
	return nil
}

func (c *Client) authenticate(conn Conn) error {
	if err := conn.SetReadDeadline(time.Now().Add(c.opts.ConnectTimeout)); err != nil {
		return fmt.Errorf("set handshake deadline: %w", err)
	}
	defer conn.SetReadDeadline(time.Time{})

	var hello handshake
	if err := conn.ReadJSON(&hello); err != nil {
		return fmt.Errorf("read handshake: %w", err)
	}
	if hello.Type != "auth_required" {
		return fmt.Errorf("%w: %q", ErrUnexpectedHandshake, hello.Type)
	}

	if err := conn.WriteJSON(authMessage{Type: "auth", AccessToken: c.opts.Token}); err != nil {
		return fmt.Errorf("send auth: %w", err)
	}

	var reply handshake
	if err := conn.ReadJSON(&reply); err != nil {
		return fmt.Errorf("read auth reply: %w", err)
	}
	if reply.Type != "auth_ok" {
		logger.Error("HA", "authentication rejected: %s %s", reply.Type, reply.Message)
		return fmt.Errorf("%w: %s", ErrAuthFailed, reply.Type)
	}
	return nil
}

// CallService sends a state update. State updates are not acknowledged.
func (c *Client) CallService(ctx context.Context, data any) error {
	return c.send(ctx, "call_service", false, func(id int) any {
		return callService{
			ID:          id,
			Type:        "call_service",
			Domain:      Domain,
			Service:     Service,
			ServiceData: data,
		}
	})
}

// FireEvent fires a custom event and waits for its result.
func (c *Client) FireEvent(ctx context.Context, eventType string, data any) error {
	return c.send(ctx, eventType, true, func(id int) any {
		return fireEvent{
			ID:        id,
			Type:      "fire_event",
			EventType: eventType,
			EventData: data,
		}
	})
}

// Close closes the current session, if any.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) drop() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func fatal(err error) bool {
	return errors.Is(err, ErrAuthFailed) || errors.Is(err, ErrUnexpectedHandshake)
}

func (c *Client) send(ctx context.Context, what string, awaitAck bool, build func(id int) any) error {
	var lastErr error

	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.opts.Clock.After(c.opts.Backoff):
			}
		}

		if c.conn == nil {
			if attempt > 1 {
				c.opts.Metrics.BridgeReconnects.Add(1)
				logger.Warn("HA", "reconnecting (attempt %d/%d)", attempt, c.opts.MaxAttempts)
			}
			if err := c.Connect(ctx); err != nil {
				if fatal(err) {
					return err
				}
				logger.Warn("HA", "connect failed: %v", err)
				lastErr = err
				continue
			}
		}

		id := c.nextID
		if err := c.conn.WriteJSON(build(id)); err != nil {
			logger.Warn("HA", "send %s failed: %v", what, err)
			c.drop()
			lastErr = err
			continue
		}
		c.nextID++

		if !awaitAck {
			return nil
		}

		res, err := c.awaitResult(id)
		if err != nil {
			logger.Warn("HA", "waiting for result of %s: %v", what, err)
			c.drop()
			lastErr = err
			continue
		}
		if res.Success {
			return nil
		}

		rerr := &ResultError{ID: id}
		if res.Error != nil {
			rerr.Code = res.Error.Code
			rerr.Message = res.Error.Message
		}
		logger.Warn("HA", "%s not accepted: %v", what, rerr)
		if !connectionCodes[rerr.Code] {
			return nil
		}
		c.drop()
		lastErr = rerr
	}

	c.opts.Metrics.BridgeFailed.Add(1)
	err := &DeliveryError{Attempts: c.opts.MaxAttempts, Err: lastErr}
	logger.Error("HA", "%s: %v", what, err)
	return err
}

// awaitResult reads until the result for id arrives. Results for earlier,
// unacknowledged ids are skipped.
func (c *Client) awaitResult(id int) (result, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.opts.AckTimeout)); err != nil {
		return result{}, err
	}
	defer func() {
		if c.conn != nil {
			c.conn.SetReadDeadline(time.Time{})
		}
	}()

	for {
		var res result
		if err := c.conn.ReadJSON(&res); err != nil {
			return result{}, fmt.Errorf("read result: %w", err)
		}
		if res.Type == "result" && res.ID == id {
			return res, nil
		}
		logger.Debug("HA", "skipping %s message %d while waiting for %d", res.Type, res.ID, id)
	}
}
