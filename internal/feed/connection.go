package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	// defaultHandshakeTimeout bounds the websocket handshake on each
	// connect attempt.
	defaultHandshakeTimeout = 10 * time.Second

	// defaultReadLimit caps incoming frame size.
	defaultReadLimit = 1 << 20 // 1MB

	// defaultWriteTimeout bounds heartbeat and subscribe writes.
	defaultWriteTimeout = 5 * time.Second
)

// Errors returned by Connection operations.
var (
	// ErrConnectionClosed indicates the connection was explicitly shut
	// down and will not reconnect.
	ErrConnectionClosed = errors.New("connection closed")
)

// State is the connection lifecycle state.
type State int32

// Connection states. Closed is terminal: no reconnect is ever scheduled
// after an explicit Disconnect.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosed
)

// String implements fmt.Stringer for log output.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Transport is the subset of the websocket connection the feed uses,
// abstracted so tests can substitute a fake endpoint.
type Transport interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	Close() error
}

// Dialer establishes a Transport to the feed endpoint.
type Dialer func(ctx context.Context, endpoint string) (Transport, error)

// gorillaDialer is the production Dialer.
func gorillaDialer(ctx context.Context, endpoint string) (Transport, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: defaultHandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, endpoint, make(http.Header))
	if err != nil {
		if resp != nil {
			log.Error().
				Err(err).
				Int("statusCode", resp.StatusCode).
				Str("endpoint", endpoint).
				Msg("websocket handshake failed")
		}
		return nil, err
	}
	return conn, nil
}

// ConnectionConfig defines settings for one logical feed connection.
type ConnectionConfig struct {
	// Endpoint is the websocket URL of the feed. Required.
	Endpoint string

	// Subscriptions are the channels and market codes announced in the
	// subscribe message on every successful connect. Required.
	Subscriptions []Subscription

	// Format is the payload format directive of the subscribe message.
	Format Format

	// HeartbeatPeriod is the interval of the application-level ping.
	HeartbeatPeriod time.Duration

	// BaseReconnectDelay and MaxReconnectDelay bound the exponential
	// backoff between reconnect attempts: delay = min(max, base * 2^attempt).
	BaseReconnectDelay time.Duration
	MaxReconnectDelay  time.Duration

	// Dialer overrides the websocket dialer; nil selects the production
	// gorilla dialer.
	Dialer Dialer
}

// Connection owns one logical connection to the upstream feed.
//
// State machine:
//
//	disconnected -> connecting -> connected
//	connected -> disconnected on transport error or heartbeat failure,
//	  followed by a backoff wait and a new connect attempt
//	any state -> closed on Disconnect (terminal)
//
// A single reconnect is in flight at any time; concurrent schedule requests
// while one is pending are no-ops. The attempt counter is uncapped, the
// delay is capped at MaxReconnectDelay, and a successful connect resets the
// counter to zero.
type Connection struct {
	cfg    ConnectionConfig
	router *Router

	state atomic.Int32

	mu               sync.Mutex
	conn             Transport
	attempt          int
	reconnectPending bool
	reconnectTimer   *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewConnection creates a feed connection in the disconnected state.
// Connect (or Start) establishes it.
func NewConnection(ctx context.Context, cfg ConnectionConfig, router *Router) (*Connection, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("feed endpoint is required")
	}
	if len(cfg.Subscriptions) == 0 {
		return nil, errors.New("at least one subscription is required")
	}
	if router == nil {
		return nil, errors.New("router is required")
	}

	if cfg.HeartbeatPeriod <= 0 {
		cfg.HeartbeatPeriod = 60 * time.Second
	}
	if cfg.BaseReconnectDelay <= 0 {
		cfg.BaseReconnectDelay = 2 * time.Second
	}
	if cfg.MaxReconnectDelay <= 0 {
		cfg.MaxReconnectDelay = 60 * time.Second
	}
	if cfg.Format == "" {
		cfg.Format = FormatSimple
	}
	if cfg.Dialer == nil {
		cfg.Dialer = gorillaDialer
	}

	ctx, cancel := context.WithCancel(ctx)
	c := &Connection{
		cfg:    cfg,
		router: router,
		ctx:    ctx,
		cancel: cancel,
	}
	c.state.Store(int32(StateDisconnected))
	return c, nil
}

// Start connects and begins the heartbeat loop. A failed initial connect is
// not fatal: the backoff reconnect takes over.
func (c *Connection) Start() {
	if err := c.Connect(); err != nil && !errors.Is(err, ErrConnectionClosed) {
		log.Warn().Err(err).Str("endpoint", c.cfg.Endpoint).Msg("initial feed connect failed, reconnect scheduled")
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.heartbeatLoop()
	}()
}

// State returns the current lifecycle state without blocking.
func (c *Connection) State() State {
	return State(c.state.Load())
}

// IsConnected reports whether the connection is established. Non-blocking.
func (c *Connection) IsConnected() bool {
	return c.State() == StateConnected
}

// Connect establishes the feed connection and sends the subscribe message.
//
// Connect is idempotent: it is a no-op while already connected. On failure
// it leaves the connection disconnected and schedules a backoff reconnect.
func (c *Connection) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked()
}

func (c *Connection) connectLocked() error {
	switch State(c.state.Load()) {
	case StateClosed:
		return ErrConnectionClosed
	case StateConnected:
		return nil
	}

	c.state.Store(int32(StateConnecting))
	logger := log.With().Str("endpoint", c.cfg.Endpoint).Int("attempt", c.attempt).Logger()
	logger.Info().Msg("connecting to feed")

	conn, err := c.cfg.Dialer(c.ctx, c.cfg.Endpoint)
	if err != nil {
		c.state.Store(int32(StateDisconnected))
		c.scheduleReconnectLocked()
		return fmt.Errorf("feed dial failed: %w", err)
	}
	conn.SetReadLimit(defaultReadLimit)

	subscribe, err := BuildSubscribeRequest(c.cfg.Subscriptions, c.cfg.Format)
	if err != nil {
		// A request that cannot be built will never succeed; do not
		// retry into the same failure.
		conn.Close()
		c.state.Store(int32(StateDisconnected))
		return fmt.Errorf("building subscribe request: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, subscribe); err != nil {
		conn.Close()
		c.state.Store(int32(StateDisconnected))
		c.scheduleReconnectLocked()
		return fmt.Errorf("sending subscribe request: %w", err)
	}

	c.conn = conn
	c.attempt = 0
	c.state.Store(int32(StateConnected))
	logger.Info().Msg("feed connected, subscription sent")

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.readLoop(conn)
	}()
	return nil
}

// readLoop consumes frames from one established transport and hands them to
// the router. A read error ends the loop, marks the connection lost and
// schedules a reconnect.
func (c *Connection) readLoop(conn Transport) {
	logger := log.With().Str("endpoint", c.cfg.Endpoint).Str("component", "readLoop").Logger()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Info().Err(err).Msg("feed closed the connection")
			} else {
				logger.Warn().Err(err).Msg("feed read error")
			}
			c.handleConnectionLoss(conn)
			return
		}

		c.router.Dispatch(data)
	}
}

// SendHeartbeat sends one application-level ping.
//
// When disconnected it schedules a reconnect instead of sending. A write
// failure on an established transport is treated as connection loss.
func (c *Connection) SendHeartbeat() {
	c.mu.Lock()
	if State(c.state.Load()) == StateClosed {
		c.mu.Unlock()
		return
	}
	if State(c.state.Load()) != StateConnected || c.conn == nil {
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		return
	}
	conn := c.conn
	c.mu.Unlock()

	deadline := time.Now().Add(defaultWriteTimeout)
	if err := conn.WriteControl(websocket.PingMessage, []byte("PING"), deadline); err != nil {
		log.Warn().Err(err).Str("endpoint", c.cfg.Endpoint).Msg("heartbeat failed, treating as connection loss")
		c.handleConnectionLoss(conn)
		return
	}
	log.Debug().Str("endpoint", c.cfg.Endpoint).Msg("heartbeat sent")
}

// heartbeatLoop drives SendHeartbeat on the configured period until the
// connection is closed.
func (c *Connection) heartbeatLoop() {
	ticker := time.NewTicker(c.cfg.HeartbeatPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.SendHeartbeat()
		}
	}
}

// handleConnectionLoss transitions to disconnected and schedules a
// reconnect, but only if the lost transport is still the current one; a
// stale loss report from an already-replaced transport is ignored.
func (c *Connection) handleConnectionLoss(conn Transport) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != conn || State(c.state.Load()) == StateClosed {
		return
	}

	c.conn.Close()
	c.conn = nil
	c.state.Store(int32(StateDisconnected))
	c.scheduleReconnectLocked()
}

// ScheduleReconnect requests a reconnect attempt after the current backoff
// delay. Concurrent requests while one is pending are no-ops.
func (c *Connection) ScheduleReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scheduleReconnectLocked()
}

func (c *Connection) scheduleReconnectLocked() {
	if State(c.state.Load()) == StateClosed || c.reconnectPending {
		return
	}

	delay := backoffDelay(c.cfg.BaseReconnectDelay, c.cfg.MaxReconnectDelay, c.attempt)
	c.attempt++
	c.reconnectPending = true

	log.Info().
		Str("endpoint", c.cfg.Endpoint).
		Dur("delay", delay).
		Int("attempt", c.attempt).
		Msg("reconnect scheduled")

	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		c.reconnectPending = false
		if State(c.state.Load()) == StateClosed {
			c.mu.Unlock()
			return
		}
		err := c.connectLocked()
		c.mu.Unlock()

		if err != nil && !errors.Is(err, ErrConnectionClosed) {
			log.Warn().Err(err).Str("endpoint", c.cfg.Endpoint).Msg("reconnect attempt failed")
		}
	})
}

// backoffDelay computes min(max, base * 2^attempt). The attempt counter is
// uncapped; only the delay saturates.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	// Past 62 doublings any positive base has saturated; avoid the
	// undefined shift.
	if attempt > 62 {
		return max
	}
	delay := base << uint(attempt)
	if delay <= 0 || delay > max {
		return max
	}
	return delay
}

// Disconnect closes the transport and moves the connection to the terminal
// closed state. No further reconnects occur after an explicit disconnect.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	if State(c.state.Load()) == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state.Store(int32(StateClosed))

	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.reconnectPending = false

	if c.conn != nil {
		// Best-effort close frame before tearing down the transport.
		deadline := time.Now().Add(time.Second)
		if err := c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			deadline,
		); err != nil {
			log.Debug().Err(err).Msg("failed to send close frame")
		}
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	log.Info().Str("endpoint", c.cfg.Endpoint).Msg("feed connection closed")
}
