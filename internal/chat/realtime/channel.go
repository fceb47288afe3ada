// Package realtime keeps the streaming connections of a chat session alive.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/kgellert/hodatay-classroom/internal/errs"
	"github.com/kgellert/hodatay-classroom/internal/lib/logger/handlers/slogdiscard"
	"github.com/kgellert/hodatay-classroom/internal/lib/logger/sl"
	userhandlers "github.com/kgellert/hodatay-classroom/internal/users/handlers"
	"github.com/kgellert/hodatay-classroom/internal/ws"
)

const (
	writeWait    = 10 * time.Second
	helloWait    = 10 * time.Second
	maxFrameSize = 64 << 10

	defaultPingPeriod = 30 * time.Second
	defaultPongWait   = 60 * time.Second

	defaultQueueSize = 64
	eventBuffer      = 256
)

var (
	ErrQueueFull = errs.Transport("outbound_queue_full", "too many messages waiting for the connection")
	ErrClosed    = errs.Transport("connection_closed", "realtime connection is closed")
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Degraded
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Degraded:
		return "degraded"
	}
	return "state(" + strconv.Itoa(int(s)) + ")"
}

// Dialer is satisfied by *websocket.Dialer.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Outbound is a frame waiting for the connection. ClientID, when set, is
// reported back through OnDelivered once the frame is written.
type Outbound struct {
	ClientID string
	Data     []byte
}

type Options struct {
	URL         string
	Header      http.Header
	Backoff     Backoff
	QueueSize   int
	Dialer      Dialer
	Log         *slog.Logger
	OnState     func(State)
	OnDelivered func(clientID string)
	PingPeriod  time.Duration
	// PongWait is how long the connection may stay silent before it is
	// dropped. It must exceed PingPeriod.
	PongWait time.Duration
}

// AuthHeader identifies userID to the chat backend.
func AuthHeader(userID int64) http.Header {
	h := http.Header{}
	h.Set("Cookie", (&http.Cookie{Name: userhandlers.CookieName, Value: strconv.FormatInt(userID, 10)}).String())
	return h
}

// Channel is one streaming connection with reconnects. Frames sent while it
// is not connected wait in a bounded queue and go out after reconnecting.
type Channel struct {
	opts   Options
	log    *slog.Logger
	events chan ws.Event
	queue  chan Outbound

	pending atomic.Int64
	// retry is touched by the writer goroutine only
	retry *Outbound

	mu      sync.Mutex
	state   State
	err     error
	started bool
	closed  bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewChannel(opts Options) *Channel {
	if opts.Backoff == (Backoff{}) {
		opts.Backoff = DefaultBackoff
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = defaultPingPeriod
	}
	if opts.PongWait <= opts.PingPeriod {
		opts.PongWait = max(defaultPongWait, 2*opts.PingPeriod)
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	log := opts.Log
	if log == nil {
		log = slogdiscard.NewDiscardLogger()
	}

	return &Channel{
		opts:   opts,
		log:    log.With(slog.String("url", opts.URL)),
		events: make(chan ws.Event, eventBuffer),
		queue:  make(chan Outbound, opts.QueueSize),
		done:   make(chan struct{}),
	}
}

// Events yields decoded frames. It is closed after the channel stops.
func (c *Channel) Events() <-chan ws.Event {
	return c.events
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the error that stopped the channel for good, if any.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Pending counts frames not yet written to a connection.
func (c *Channel) Pending() int {
	return int(c.pending.Load())
}

func (c *Channel) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started || c.closed {
		return
	}
	c.started = true

	ctx, c.cancel = context.WithCancel(ctx)
	go c.run(ctx)
}

// Send queues a frame. It never blocks; a full queue is reported as
// ErrQueueFull.
func (c *Channel) Send(out Outbound) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}

	c.pending.Add(1)
	select {
	case c.queue <- out:
		return nil
	default:
		c.pending.Add(-1)
		return ErrQueueFull
	}
}

// Close stops the channel and waits for its goroutines.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		<-c.done
		return
	}
	c.closed = true
	started := c.started
	cancel := c.cancel
	c.mu.Unlock()

	if !started {
		close(c.events)
		close(c.done)
		return
	}
	cancel()
	<-c.done
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()

	c.log.Debug("realtime state", slog.String("state", s.String()))
	if c.opts.OnState != nil {
		c.opts.OnState(s)
	}
}

func (c *Channel) fail(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

func (c *Channel) run(ctx context.Context) {
	defer close(c.done)
	defer close(c.events)
	defer c.setState(Disconnected)

	attempt := 0
	for {
		c.setState(Connecting)

		connected, err := c.connect(ctx)
		if ctx.Err() != nil {
			return
		}

		var refused *errs.Error
		if errors.As(err, &refused) && !errors.Is(err, errs.ErrTransport) {
			c.fail(err)
			c.log.Warn("realtime subscription refused", sl.Err(err))
			return
		}

		if connected {
			attempt = 0
		}
		c.log.Warn("realtime connection lost", slog.Int("attempt", attempt), sl.Err(err))
		c.setState(Degraded)
		if !sleep(ctx, c.opts.Backoff.Next(attempt)) {
			return
		}
		attempt++
	}
}

// connect dials, waits for the greeting and serves the connection until it
// breaks. connected reports whether it got as far as Connected.
func (c *Channel) connect(ctx context.Context) (connected bool, err error) {
	const op = "realtime.connect"

	conn, resp, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, c.opts.Header)
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
			// the backend refused us, retrying will not change that
			return false, fmt.Errorf("%s: %w", op, errs.FromStatus(resp.StatusCode, "", ""))
		}
		return false, fmt.Errorf("%s: dial: %w", op, err)
	}

	if err := c.greet(ctx, conn); err != nil {
		_ = conn.Close()
		return false, fmt.Errorf("%s: %w", op, err)
	}

	c.setState(Connected)
	return true, c.serve(ctx, conn)
}

func (c *Channel) serve(ctx context.Context, conn *websocket.Conn) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return c.readLoop(gctx, conn) })
	g.Go(func() error { return c.writeLoop(gctx, conn) })
	g.Go(func() error {
		<-gctx.Done()
		_ = conn.Close()
		return nil
	})

	return g.Wait()
}

// greet waits for the first server frame. The backend sends it once the
// subscription is in place, so Connected means frames will arrive.
func (c *Channel) greet(ctx context.Context, conn *websocket.Conn) error {
	conn.SetReadLimit(maxFrameSize)

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	_ = conn.SetReadDeadline(time.Now().Add(helloWait))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("realtime.greet: %w", err)
	}
	c.keepAlive(conn)
	conn.SetPongHandler(func(string) error {
		c.keepAlive(conn)
		return nil
	})

	return c.deliver(ctx, data)
}

// keepAlive pushes the read deadline out by PongWait. Pongs and frames both
// count as signs of life.
func (c *Channel) keepAlive(conn *websocket.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
}

func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.keepAlive(conn)
		if err := c.deliver(ctx, data); err != nil {
			return err
		}
	}
}

// deliver decodes one frame and hands message events to Events. Malformed,
// unknown and control frames are logged and skipped.
func (c *Channel) deliver(ctx context.Context, data []byte) error {
	evt, err := ws.Decode(data)
	if err != nil {
		c.log.Warn("realtime dropping malformed frame", sl.Err(err))
		return nil
	}

	switch e := evt.(type) {
	case ws.Control:
		c.log.Debug("realtime control frame", slog.String("type", e.Kind))
		return nil
	case ws.Unknown:
		c.log.Warn("realtime ignoring unknown frame", slog.String("type", e.Kind))
		return nil
	}

	select {
	case c.events <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Channel) writeLoop(ctx context.Context, conn *websocket.Conn) error {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer ticker.Stop()

	if c.retry != nil {
		out := *c.retry
		if err := c.write(conn, out); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case out := <-c.queue:
			if err := c.write(conn, out); err != nil {
				return err
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		}
	}
}

// write sends one frame. A frame that failed is kept for the next
// connection so nothing queued is lost.
func (c *Channel) write(conn *websocket.Conn, out Outbound) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, out.Data); err != nil {
		c.retry = &out
		return fmt.Errorf("realtime.write: %w", err)
	}
	c.retry = nil
	c.pending.Add(-1)

	if out.ClientID != "" && c.opts.OnDelivered != nil {
		c.opts.OnDelivered(out.ClientID)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
