// Package channel maintains the dashboard's duplex connections to the
// robot-side process and reconnects them with exponential backoff.
package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
)

var (
	// ErrNotReady is returned by Send when the channel is not connected.
	ErrNotReady = errors.New("channel not connected")
	// ErrClosed is returned by Send after Close.
	ErrClosed = errors.New("channel closed")
)

// State is the connection state of one channel.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Backoff
	// Failed is terminal: the retry budget is exhausted.
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Backoff:
		return "backoff"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// StateChange describes one transition of a channel.
type StateChange struct {
	Channel string
	State   State
	Attempt int
	Retry   time.Duration
	Err     error
}

// Conn is the subset of *websocket.Conn used by a Channel.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Dialer opens connections.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WSDialer dials WebSocket endpoints with gorilla/websocket.
type WSDialer struct {
	HandshakeTimeout time.Duration
}

// Dial implements Dialer.
func (d WSDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := *websocket.DefaultDialer
	if d.HandshakeTimeout > 0 {
		dialer.HandshakeTimeout = d.HandshakeTimeout
	}
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %s)", url, err, resp.Status)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return conn, nil
}

// Policy controls reconnection.
type Policy struct {
	InitialInterval     time.Duration `yaml:"initial_interval"`
	MaxInterval         time.Duration `yaml:"max_interval"`
	Multiplier          float64       `yaml:"multiplier"`
	RandomizationFactor float64       `yaml:"jitter"`
	// MaxRetries caps consecutive failed attempts before the channel fails.
	// Zero retries forever.
	MaxRetries   int           `yaml:"max_retries"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DefaultPolicy returns the reconnect policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{
		InitialInterval:     500 * time.Millisecond,
		MaxInterval:         10 * time.Second,
		Multiplier:          2,
		RandomizationFactor: 0.2,
		MaxRetries:          10,
		WriteTimeout:        5 * time.Second,
	}
}

func (p Policy) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	if p.Multiplier > 0 {
		b.Multiplier = p.Multiplier
	}
	b.RandomizationFactor = p.RandomizationFactor
	b.MaxElapsedTime = 0
	b.Reset()
	if p.MaxRetries > 0 {
		return backoff.WithMaxRetries(b, uint64(p.MaxRetries))
	}
	return b
}

// Options configures a Channel.
type Options struct {
	Policy  Policy
	Logger  *slog.Logger
	OnFrame func(data []byte)
	OnState func(StateChange)
}

// Channel is one named duplex connection. Frames and state changes are
// delivered through the Options callbacks from the channel's own goroutine.
type Channel struct {
	name   string
	url    string
	dialer Dialer
	policy Policy
	log    *slog.Logger

	onFrame func([]byte)
	onState func(StateChange)

	mu      sync.Mutex
	conn    Conn
	state   State
	closed  bool
	cancel  context.CancelFunc
	done    chan struct{}
	writeMu sync.Mutex
}

// New returns a channel in the Disconnected state. Call Start to connect.
func New(name, url string, d Dialer, opts Options) *Channel {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Channel{
		name:    name,
		url:     url,
		dialer:  d,
		policy:  opts.Policy,
		log:     opts.Logger,
		onFrame: opts.OnFrame,
		onState: opts.OnState,
		done:    make(chan struct{}),
	}
}

// Name returns the channel name.
func (c *Channel) Name() string { return c.name }

// URL returns the endpoint the channel dials.
func (c *Channel) URL() string { return c.url }

// Start launches the connect loop. It must be called at most once.
func (c *Channel) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		close(c.done)
		return
	}
	c.cancel = cancel
	c.mu.Unlock()
	go c.run(ctx)
}

// Done is closed when the connect loop has exited.
func (c *Channel) Done() <-chan struct{} { return c.done }

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Ready reports whether Send would attempt a write.
func (c *Channel) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && c.state == Connected && c.conn != nil
}

// Send writes one text frame. Writes are serialized per channel.
func (c *Channel) Send(ctx context.Context, data []byte) error {
	c.mu.Lock()
	conn, state, closed := c.conn, c.state, c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if state != Connected || conn == nil {
		return ErrNotReady
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	deadline := time.Time{}
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	} else if c.policy.WriteTimeout > 0 {
		deadline = time.Now().Add(c.policy.WriteTimeout)
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("%s: set write deadline: %w", c.name, err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("%s: write: %w", c.name, err)
	}
	return nil
}

// Close tears the channel down immediately. No callbacks fire afterwards.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.state = Disconnected
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *Channel) run(ctx context.Context) {
	defer close(c.done)
	b := c.policy.newBackOff()
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		attempt++
		c.setState(StateChange{State: Connecting, Attempt: attempt})
		conn, err := c.dialer.Dial(ctx, c.url)
		if err == nil {
			if !c.attach(conn) {
				conn.Close()
				return
			}
			b.Reset()
			attempt = 0
			c.log.Info("[Channel] connected", "channel", c.name, "url", c.url)
			c.setState(StateChange{State: Connected})
			err = c.readLoop(conn)
			c.detach(conn)
			if ctx.Err() != nil {
				return
			}
			c.log.Warn("[Channel] connection lost", "channel", c.name, "err", err)
			c.setState(StateChange{State: Disconnected, Err: err})
		} else if ctx.Err() != nil {
			return
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			c.log.Error("[Channel] giving up", "channel", c.name, "attempts", attempt, "err", err)
			c.setState(StateChange{State: Failed, Attempt: attempt, Err: err})
			return
		}
		c.log.Info("[Channel] reconnecting", "channel", c.name, "in", wait, "err", err)
		c.setState(StateChange{State: Backoff, Attempt: attempt, Retry: wait, Err: err})

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (c *Channel) readLoop(conn Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.mu.Lock()
		live := !c.closed && c.conn == conn
		c.mu.Unlock()
		if !live {
			return ErrClosed
		}
		if c.onFrame != nil {
			c.onFrame(data)
		}
	}
}

func (c *Channel) attach(conn Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.conn = conn
	return true
}

func (c *Channel) detach(conn Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	conn.Close()
}

func (c *Channel) setState(ev StateChange) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.state = ev.State
	c.mu.Unlock()
	ev.Channel = c.name
	if c.onState != nil {
		c.onState(ev)
	}
}
