package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/gestalyze/internal/clock"
	"github.com/ayusman/gestalyze/internal/metrics"
)

var errBrokenPipe = errors.New("broken pipe")

// fakeConn scripts the remote side of one websocket session.
type fakeConn struct {
	mu      sync.Mutex
	inbound []any
	written []map[string]any
	closed  bool

	// sends counts non-auth writes, failed ones included.
	sends int

	// respond returns frames to queue after a non-auth message is written.
	respond func(msg map[string]any) []any
	// writeErr fails writes of non-auth messages.
	writeErr error
	// deadlines records every read deadline that was set.
	deadlines []time.Time
}

func (c *fakeConn) ReadJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.inbound) == 0 {
		return io.ErrUnexpectedEOF
	}
	frame := c.inbound[0]
	c.inbound = c.inbound[1:]
	if raw, ok := frame.(string); ok {
		return json.Unmarshal([]byte(raw), v)
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func (c *fakeConn) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if msg["type"] != "auth" {
		c.sends++
		if c.writeErr != nil {
			return c.writeErr
		}
	}
	c.written = append(c.written, msg)
	if msg["type"] != "auth" && c.respond != nil {
		c.inbound = append(c.inbound, c.respond(msg)...)
	}
	return nil
}

func (c *fakeConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !t.IsZero() {
		c.deadlines = append(c.deadlines, t)
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) messages(kind string) []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []map[string]any
	for _, m := range c.written {
		if m["type"] == kind {
			out = append(out, m)
		}
	}
	return out
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	next  func(n int) (*fakeConn, error)
}

func (d *fakeDialer) Dial(_ context.Context, _ string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, err := d.next(len(d.conns))
	if err != nil {
		d.conns = append(d.conns, nil)
		return nil, err
	}
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func authOK() []any {
	return []any{
		map[string]any{"type": "auth_required", "ha_version": "2024.3.0"},
		map[string]any{"type": "auth_ok"},
	}
}

func ackAll(msg map[string]any) []any {
	if msg["type"] != "fire_event" {
		return nil
	}
	return []any{map[string]any{"id": msg["id"], "type": "result", "success": true}}
}

func healthyConn(int) (*fakeConn, error) {
	return &fakeConn{inbound: authOK(), respond: ackAll}, nil
}

func newClient(d Dialer) (*Client, *clock.Mock, *metrics.Metrics) {
	clk := clock.NewMock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	m := metrics.New()
	c := NewClient(d, Options{
		URL:         "ws://ha.local:8123/api/websocket",
		Token:       "secret-token",
		AckTimeout:  time.Second,
		MaxAttempts: 3,
		Backoff:     time.Second,
		Clock:       clk,
		Metrics:     m,
	})
	return c, clk, m
}

func TestClient_ConnectAuthenticates(t *testing.T) {
	d := &fakeDialer{next: healthyConn}
	c, _, _ := newClient(d)

	require.NoError(t, c.Connect(context.Background()))

	auth := d.conns[0].messages("auth")
	require.Len(t, auth, 1)
	assert.Equal(t, "secret-token", auth[0]["access_token"])
}

func TestClient_DeadlinesUseWallClock(t *testing.T) {
	d := &fakeDialer{next: healthyConn}
	c, _, _ := newClient(d)

	start := time.Now()
	require.NoError(t, c.FireEvent(context.Background(), EventHandStatus, State{Hand: "left"}))

	conn := d.conns[0]
	conn.mu.Lock()
	defer conn.mu.Unlock()
	require.Len(t, conn.deadlines, 2, "one for the handshake, one for the ack")
	for _, dl := range conn.deadlines {
		assert.True(t, dl.After(start), "deadline %s is not in the future", dl)
		assert.False(t, dl.After(time.Now().Add(DefaultConnectTimeout)), "deadline %s is too far out", dl)
	}
}

func TestClient_RetriesWithFreshAuth(t *testing.T) {
	d := &fakeDialer{next: func(int) (*fakeConn, error) {
		return &fakeConn{inbound: authOK(), writeErr: errBrokenPipe}, nil
	}}
	c, clk, m := newClient(d)
	require.NoError(t, c.Connect(context.Background()))

	err := c.CallService(context.Background(), State{Hand: "left"})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDeliveryFailed)
	assert.ErrorIs(t, err, errBrokenPipe)
	var de *DeliveryError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, 3, de.Attempts)

	require.Equal(t, 3, d.dials(), "one connection per attempt")
	sends := 0
	for i, conn := range d.conns {
		sends += conn.sends
		assert.Len(t, conn.messages("auth"), 1, "connection %d must authenticate before sending", i)
		assert.True(t, conn.closed, "connection %d should be dropped after the failure", i)
	}
	assert.Equal(t, 3, sends, "one original send and two retries")
	assert.Equal(t, []time.Duration{time.Second, time.Second}, clk.Waits())
	assert.Equal(t, uint64(1), m.BridgeFailed.Load())
	assert.Equal(t, uint64(2), m.BridgeReconnects.Load())
}

func TestClient_CountsSendAttempts(t *testing.T) {
	attempts := 0
	d := &fakeDialer{next: func(int) (*fakeConn, error) {
		return &fakeConn{inbound: authOK(), respond: func(map[string]any) []any {
			attempts++
			return nil
		}}, nil
	}}
	c, _, _ := newClient(d)

	// Acks never arrive, so every attempt reads past the end of the stream.
	err := c.FireEvent(context.Background(), EventHandStatus, State{})
	assert.ErrorIs(t, err, ErrDeliveryFailed)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, d.dials())
}

func TestClient_AuthFailureIsFatal(t *testing.T) {
	d := &fakeDialer{next: func(int) (*fakeConn, error) {
		return &fakeConn{inbound: []any{
			map[string]any{"type": "auth_required"},
			map[string]any{"type": "auth_invalid", "message": "Invalid access token"},
		}}, nil
	}}
	c, clk, _ := newClient(d)

	err := c.FireEvent(context.Background(), EventGesture, GestureData{Gesture: "A"})

	assert.ErrorIs(t, err, ErrAuthFailed)
	assert.NotErrorIs(t, err, ErrDeliveryFailed)
	assert.Equal(t, 1, d.dials())
	assert.Empty(t, clk.Waits())
	assert.True(t, d.conns[0].closed)
}

func TestClient_UnexpectedHandshake(t *testing.T) {
	d := &fakeDialer{next: func(int) (*fakeConn, error) {
		return &fakeConn{inbound: []any{map[string]any{"type": "result"}}}, nil
	}}
	c, _, _ := newClient(d)

	err := c.Connect(context.Background())
	assert.ErrorIs(t, err, ErrUnexpectedHandshake)
}

func TestClient_DialFailureIsRetried(t *testing.T) {
	d := &fakeDialer{next: func(n int) (*fakeConn, error) {
		if n == 0 {
			return nil, errors.New("connection refused")
		}
		return healthyConn(n)
	}}
	c, clk, _ := newClient(d)

	require.NoError(t, c.CallService(context.Background(), State{Hand: "right"}))
	assert.Equal(t, 2, d.dials())
	assert.Equal(t, []time.Duration{time.Second}, clk.Waits())
	assert.Len(t, d.conns[1].messages("call_service"), 1)
}

func TestClient_MessageIDs(t *testing.T) {
	d := &fakeDialer{next: healthyConn}
	c, _, _ := newClient(d)
	ctx := context.Background()

	require.NoError(t, c.CallService(ctx, State{}))
	require.NoError(t, c.FireEvent(ctx, EventHandStatus, State{}))
	require.NoError(t, c.CallService(ctx, State{}))

	conn := d.conns[0]
	calls := conn.messages("call_service")
	events := conn.messages("fire_event")
	require.Len(t, calls, 2)
	require.Len(t, events, 1)
	assert.Equal(t, 0.0, calls[0]["id"])
	assert.Equal(t, 1.0, events[0]["id"])
	assert.Equal(t, 2.0, calls[1]["id"])

	// A fresh connection starts counting again.
	require.NoError(t, c.Connect(ctx))
	require.NoError(t, c.CallService(ctx, State{}))
	assert.Equal(t, 0.0, d.conns[1].messages("call_service")[0]["id"])
}

func TestClient_WireFormat(t *testing.T) {
	d := &fakeDialer{next: healthyConn}
	c, _, _ := newClient(d)
	ctx := context.Background()

	state := newState(incoming{Hand: "left", Orientation: "palm", ExtendedFingers: []float64{0, 1, 2}})
	require.NoError(t, c.CallService(ctx, state))
	require.NoError(t, c.FireEvent(ctx, EventHandStatus, state))

	call := d.conns[0].messages("call_service")[0]
	assert.Equal(t, "gestalyze", call["domain"])
	assert.Equal(t, "set_gesture_state", call["service"])
	assert.Equal(t, map[string]any{
		"hand":             "left",
		"orientation":      "palm",
		"fingers":          "0,1,2",
		"extended_fingers": "0,1,2",
		"finger_count":     3.0,
	}, call["service_data"])

	event := d.conns[0].messages("fire_event")[0]
	assert.Equal(t, "gestalyze_hand_status_updated", event["event_type"])
	assert.NotNil(t, event["event_data"])
}

func TestClient_SkipsUnrelatedResults(t *testing.T) {
	d := &fakeDialer{next: func(int) (*fakeConn, error) {
		return &fakeConn{inbound: authOK(), respond: func(msg map[string]any) []any {
			if msg["type"] != "fire_event" {
				return nil
			}
			return []any{
				map[string]any{"id": 0, "type": "result", "success": false},
				map[string]any{"id": msg["id"], "type": "event"},
				map[string]any{"id": msg["id"], "type": "result", "success": true},
			}
		}}, nil
	}}
	c, _, m := newClient(d)
	ctx := context.Background()

	require.NoError(t, c.CallService(ctx, State{}))
	require.NoError(t, c.FireEvent(ctx, EventGesture, GestureData{Gesture: "B"}))
	assert.Equal(t, 1, d.dials())
	assert.Zero(t, m.BridgeFailed.Load())
}

func TestClient_RejectedAck(t *testing.T) {
	t.Run("application error is not retried", func(t *testing.T) {
		d := &fakeDialer{next: func(int) (*fakeConn, error) {
			return &fakeConn{inbound: authOK(), respond: func(msg map[string]any) []any {
				return []any{map[string]any{"id": msg["id"], "type": "result", "success": false,
					"error": map[string]any{"code": "unknown_error", "message": "boom"}}}
			}}, nil
		}}
		c, clk, _ := newClient(d)

		require.NoError(t, c.FireEvent(context.Background(), EventGesture, GestureData{}))
		assert.Equal(t, 1, d.dials())
		assert.Len(t, d.conns[0].messages("fire_event"), 1)
		assert.Empty(t, clk.Waits())
	})

	t.Run("connection error reconnects", func(t *testing.T) {
		d := &fakeDialer{next: func(n int) (*fakeConn, error) {
			if n > 0 {
				return healthyConn(n)
			}
			return &fakeConn{inbound: authOK(), respond: func(msg map[string]any) []any {
				return []any{map[string]any{"id": msg["id"], "type": "result", "success": false,
					"error": map[string]any{"code": "id_reuse", "message": "Identifier values have to increase."}}}
			}}, nil
		}}
		c, _, _ := newClient(d)

		require.NoError(t, c.FireEvent(context.Background(), EventGesture, GestureData{}))
		assert.Equal(t, 2, d.dials())
		assert.Equal(t, 0.0, d.conns[1].messages("fire_event")[0]["id"])
	})
}

func TestClient_UndecodableFrameBreaksConnection(t *testing.T) {
	d := &fakeDialer{next: func(n int) (*fakeConn, error) {
		if n > 0 {
			return healthyConn(n)
		}
		return &fakeConn{inbound: authOK(), respond: func(map[string]any) []any {
			return []any{"{not json"}
		}}, nil
	}}
	c, _, _ := newClient(d)

	require.NoError(t, c.FireEvent(context.Background(), EventHandStatus, State{}))
	assert.Equal(t, 2, d.dials())
	assert.True(t, d.conns[0].closed)
}
