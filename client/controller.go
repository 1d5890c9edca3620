package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/webpad/termbridge/bridge/session"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// State is the Controller's connection state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
)

// ConnectionStatus maps the state onto the four-valued status shown next to a
// tab.
func (s State) ConnectionStatus() string {
	switch s {
	case StateConnecting, StateReconnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "error"
	default:
		return "disconnected"
	}
}

const (
	// DefaultDialTimeout bounds each candidate endpoint attempt.
	DefaultDialTimeout = 3 * time.Second

	// MaxReconnectAttempts is the number of automatic reconnects after an
	// abnormal loss before the Controller gives up and requires Retry.
	MaxReconnectAttempts = 5

	baseReconnectDelay = time.Second
	maxReconnectDelay  = 8 * time.Second

	frameWriteTimeout = 5 * time.Second
)

// reconnectDelay returns the delay before the nth automatic reconnect:
// min(1000 * 2^n, 8000) milliseconds.
func reconnectDelay(attempt int) time.Duration {
	d := baseReconnectDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= maxReconnectDelay {
			return maxReconnectDelay
		}
	}
	return d
}

// Controller is the per-tab connection state machine. A single run-loop
// goroutine owns all state transitions: connection attempt sequencing over
// candidate endpoints, exponential-backoff reconnection, status reporting,
// and feeding output to the terminal buffer. Frames produced while not
// connected are dropped, not queued; the last requested geometry is sticky
// and is flushed after every successful connect.
type Controller struct {
	log        *zap.SugaredLogger
	dial       DialFunc
	candidates []string

	dialTimeout time.Duration
	timeAfter   func(time.Duration) <-chan time.Time

	onOutput func([]byte)
	onStatus func(State)

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	retryCh chan struct{}

	mu         sync.Mutex
	state      State
	conn       Conn
	sessionID  string
	attempts   int
	dropped    int
	lastResize *session.Frame
	started    bool
}

type ControllerOption func(c *Controller)

func WithDialTimeout(d time.Duration) ControllerOption {
	return func(c *Controller) {
		c.dialTimeout = d
	}
}

// WithOnOutput sets the sink for shell output and status banners. The terminal
// buffer is an opaque consumer of these bytes.
func WithOnOutput(f func([]byte)) ControllerOption {
	return func(c *Controller) {
		c.onOutput = f
	}
}

// WithOnStatus sets the callback invoked on every state change.
func WithOnStatus(f func(State)) ControllerOption {
	return func(c *Controller) {
		c.onStatus = f
	}
}

// WithTimeAfter replaces the reconnect timer source. Tests use it to run the
// backoff schedule without sleeping.
func WithTimeAfter(f func(time.Duration) <-chan time.Time) ControllerOption {
	return func(c *Controller) {
		c.timeAfter = f
	}
}

// NewController builds a controller for the given candidate endpoints. Call
// Start to begin connecting.
func NewController(log *zap.SugaredLogger, dial DialFunc, candidates []string, opts ...ControllerOption) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		log:         log.Named("controller"),
		dial:        dial,
		candidates:  candidates,
		dialTimeout: DefaultDialTimeout,
		timeAfter:   time.After,
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		retryCh:     make(chan struct{}, 1),
		state:       StateDisconnected,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Start launches the run loop. It is safe to call once.
func (c *Controller) Start() {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()
	go c.run()
}

func (c *Controller) run() {
	defer close(c.done)
	for {
		if c.ctx.Err() != nil {
			c.setState(StateDisconnected)
			return
		}
		c.setState(StateConnecting)
		conn, err := c.connect()
		if err != nil {
			if c.ctx.Err() != nil {
				c.setState(StateDisconnected)
				return
			}
			if c.reconnecting() {
				// a failed dial during a reconnect cycle counts as another
				// abnormal loss
				if c.scheduleReconnect() {
					continue
				}
			}
			c.banner(fmt.Sprintf("unable to reach terminal bridge: %s", err))
			c.fail()
			if !c.awaitRetry() {
				c.setState(StateDisconnected)
				return
			}
			continue
		}

		c.becomeConnected(conn)
		rerr := c.readLoop(conn)
		c.clearConn(conn)
		if c.ctx.Err() != nil {
			c.setState(StateDisconnected)
			return
		}
		if IsCleanClose(rerr) {
			c.banner("connection closed")
			c.setState(StateDisconnected)
			return
		}
		c.log.Debugf("connection lost: %s", rerr)
		if !c.scheduleReconnect() {
			c.banner("connection lost, retry limit reached")
			c.fail()
			if !c.awaitRetry() {
				c.setState(StateDisconnected)
				return
			}
		}
	}
}

// connect walks the candidate endpoints in order, each attempt bounded by the
// dial timeout, and returns the first connection that opens.
func (c *Controller) connect() (Conn, error) {
	var lastErr error
	for _, endpoint := range c.candidates {
		if err := c.ctx.Err(); err != nil {
			return nil, err
		}
		u := c.endpointURL(endpoint)
		dctx, cancel := context.WithTimeout(c.ctx, c.dialTimeout)
		conn, err := c.dial(dctx, u)
		cancel()
		if err != nil {
			c.log.Debugf("dial %s: %s", u, err)
			lastErr = err
			continue
		}
		return conn, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no candidate endpoints configured")
	}
	return nil, fmt.Errorf("all candidate endpoints failed: %w", lastErr)
}

// endpointURL decorates an endpoint with the session id for reattachment and
// the last known geometry for the initial spawn.
func (c *Controller) endpointURL(endpoint string) string {
	c.mu.Lock()
	sessionID := c.sessionID
	resize := c.lastResize
	c.mu.Unlock()

	u, err := url.Parse(endpoint)
	if err != nil {
		return endpoint
	}
	q := u.Query()
	if sessionID != "" {
		q.Set("session", sessionID)
	}
	if resize != nil {
		q.Set("cols", strconv.Itoa(int(resize.Cols)))
		q.Set("rows", strconv.Itoa(int(resize.Rows)))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *Controller) becomeConnected(conn Conn) {
	c.mu.Lock()
	c.conn = conn
	if id := conn.SessionID(); id != "" {
		c.sessionID = id
	}
	c.attempts = 0
	pending := c.lastResize
	c.mu.Unlock()

	c.setState(StateConnected)
	if pending != nil {
		c.writeFrameOn(conn, *pending)
	}
}

func (c *Controller) clearConn(conn Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
}

func (c *Controller) readLoop(conn Conn) error {
	for {
		f, err := conn.ReadFrame(c.ctx)
		if err != nil {
			if errors.Is(err, session.ErrMalformedFrame) || errors.Is(err, session.ErrUnknownFrameType) {
				c.log.Debugf("dropping inbound frame: %s", err)
				continue
			}
			return err
		}
		switch f.Type {
		case session.FrameOutput:
			c.output([]byte(f.Data))
		case session.FrameError:
			c.banner("bridge error: " + f.Message)
		case session.FrameExit:
			c.banner(fmt.Sprintf("process exited with code %d", f.ExitCode))
		default:
			c.log.Debugf("dropping inbound %q frame", f.Type)
		}
	}
}

// scheduleReconnect counts one abnormal loss and, if the retry budget allows,
// waits out the backoff delay. It returns false once the budget is exhausted.
// Closing the tab cancels the pending delay.
func (c *Controller) scheduleReconnect() bool {
	c.mu.Lock()
	c.attempts++
	attempt := c.attempts
	c.mu.Unlock()

	if attempt > MaxReconnectAttempts {
		return false
	}

	delay := reconnectDelay(attempt)
	c.setState(StateReconnecting)
	c.banner(fmt.Sprintf("reconnecting in %s (attempt %d/%d)", delay, attempt, MaxReconnectAttempts))
	select {
	case <-c.timeAfter(delay):
		return true
	case <-c.ctx.Done():
		return true // the loop head observes the cancellation
	}
}

func (c *Controller) reconnecting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts > 0
}

func (c *Controller) fail() {
	c.setState(StateFailed)
}

// awaitRetry blocks in the Failed state until an explicit Retry or tab close.
func (c *Controller) awaitRetry() bool {
	select {
	case <-c.ctx.Done():
		return false
	case <-c.retryCh:
		c.mu.Lock()
		c.attempts = 0
		c.mu.Unlock()
		return true
	}
}

// Retry restarts connection attempts after the Controller has Failed. It is a
// no-op in any other state.
func (c *Controller) Retry() {
	c.mu.Lock()
	failed := c.state == StateFailed
	c.mu.Unlock()
	if !failed {
		return
	}
	select {
	case c.retryCh <- struct{}{}:
	default:
	}
}

// Send translates one keystroke/paste into an input frame. Frames generated
// while not connected are dropped, an accepted data-loss tradeoff.
func (c *Controller) Send(data string) {
	if data == "" {
		return
	}
	c.mu.Lock()
	conn := c.conn
	connected := c.state == StateConnected
	c.mu.Unlock()
	if !connected || conn == nil {
		c.drop()
		return
	}
	c.writeFrameOn(conn, session.InputFrame(data))
}

// Resize records the terminal geometry and, when connected, sends a resize
// frame. The geometry is sticky: it is replayed after every reconnect and
// passed to the server for the initial spawn.
func (c *Controller) Resize(cols, rows uint16) {
	if cols == 0 || rows == 0 {
		return
	}
	f := session.ResizeFrame(cols, rows)
	c.mu.Lock()
	c.lastResize = &f
	conn := c.conn
	connected := c.state == StateConnected
	c.mu.Unlock()
	if !connected || conn == nil {
		return
	}
	c.writeFrameOn(conn, f)
}

func (c *Controller) writeFrameOn(conn Conn, f session.Frame) {
	ctx, cancel := context.WithTimeout(c.ctx, frameWriteTimeout)
	defer cancel()
	if err := conn.WriteFrame(ctx, f); err != nil {
		// the read loop observes the broken connection and reconnects
		c.log.Debugf("dropping outbound %q frame: %s", f.Type, err)
	}
}

// Close ends the tab's connection with the clean-close code. It cancels any
// pending reconnect timer and dial first, so a cancelled reconnect can never
// resurrect a connection, then waits for the run loop to stop. Close is
// terminal; no reconnection follows it.
func (c *Controller) Close() {
	c.cancel()
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	started := c.started
	c.mu.Unlock()
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "tab closed")
	}
	if started {
		<-c.done
	} else {
		c.setState(StateDisconnected)
	}
}

// State returns the current connection state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the server-assigned session id, once known.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Dropped returns the number of input frames dropped while not connected.
func (c *Controller) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

func (c *Controller) drop() {
	c.mu.Lock()
	c.dropped++
	n := c.dropped
	c.mu.Unlock()
	c.log.Debugf("dropped input frame while disconnected (%d total)", n)
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()
	c.log.Debugw("state change", "State", s)
	if c.onStatus != nil {
		c.onStatus(s)
	}
}

func (c *Controller) output(b []byte) {
	if c.onOutput != nil {
		c.onOutput(b)
	}
}

func (c *Controller) banner(msg string) {
	c.log.Debugf("banner: %s", msg)
	c.output([]byte("\r\n[termbridge] " + msg + "\r\n"))
}
