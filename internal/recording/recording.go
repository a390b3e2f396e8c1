// Package recording drives the operator's dataset recording session.
package recording

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var (
	// ErrChannelNotReady is returned when the control channel cannot carry a directive.
	ErrChannelNotReady = errors.New("settings channel not connected")
	// ErrAlreadyRecording is returned by Start while a recording is in progress.
	ErrAlreadyRecording = errors.New("recording already in progress")
	// ErrNotRecording is returned by Save and Discard while idle.
	ErrNotRecording = errors.New("no recording in progress")
)

// State is the recording session state.
type State int

const (
	Idle State = iota
	Recording
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Sender carries directives to the robot-side process.
type Sender interface {
	Ready() bool
	Send(ctx context.Context, data []byte) error
}

// Snapshot is an immutable view of the controller.
type Snapshot struct {
	State          State     `json:"state"`
	StartTime      time.Time `json:"start_time,omitempty"`
	ElapsedSeconds int       `json:"elapsed_seconds"`
}

// Controller is the recording state machine. It is driven from a single
// goroutine and is not safe for concurrent use.
type Controller struct {
	sender  Sender
	now     func() time.Time
	log     *slog.Logger
	state   State
	start   time.Time
	elapsed int
}

// NewController returns an idle controller. A nil clock selects time.Now.
func NewController(sender Sender, now func() time.Time, log *slog.Logger) *Controller {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	return &Controller{sender: sender, now: now, log: log}
}

// Start begins a recording.
func (c *Controller) Start(ctx context.Context) error {
	if err := c.guard(); err != nil {
		return err
	}
	if c.state == Recording {
		return ErrAlreadyRecording
	}
	if err := c.send(ctx, DirectiveStart); err != nil {
		return err
	}
	c.state = Recording
	c.start = c.now()
	c.elapsed = 0
	c.log.Info("[Recording] started", "at", c.start.Format(time.RFC3339))
	return nil
}

// Save ends the recording and asks the robot to persist it.
func (c *Controller) Save(ctx context.Context) error {
	return c.stop(ctx, DirectiveSave)
}

// Discard ends the recording and asks the robot to drop it.
func (c *Controller) Discard(ctx context.Context) error {
	return c.stop(ctx, DirectiveDiscard)
}

func (c *Controller) stop(ctx context.Context, kind string) error {
	if err := c.guard(); err != nil {
		return err
	}
	if c.state != Recording {
		return ErrNotRecording
	}
	if err := c.send(ctx, kind); err != nil {
		return err
	}
	c.log.Info("[Recording] stopped", "directive", kind, "elapsed", FormatHMS(c.elapsed))
	c.state = Idle
	c.start = time.Time{}
	c.elapsed = 0
	return nil
}

// SaveSettings sends the dataset configuration. It does not depend on the
// recording state.
func (c *Controller) SaveSettings(ctx context.Context, s DatasetSettings) error {
	if err := c.guard(); err != nil {
		return err
	}
	if err := s.Validate(); err != nil {
		return fmt.Errorf("dataset settings: %w", err)
	}
	data, err := EncodeSettings(s)
	if err != nil {
		return fmt.Errorf("encode dataset settings: %w", err)
	}
	if err := c.sender.Send(ctx, data); err != nil {
		return fmt.Errorf("send dataset settings: %w", err)
	}
	c.log.Info("[Recording] dataset settings sent", "hertz", s.Hertz, "format", s.FileFormat)
	return nil
}

// Tick recomputes the elapsed whole seconds from now. It reports whether the
// elapsed value changed. Ticks while idle are ignored.
func (c *Controller) Tick(now time.Time) bool {
	if c.state != Recording {
		return false
	}
	elapsed := int(now.Sub(c.start) / time.Second)
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed == c.elapsed {
		return false
	}
	c.elapsed = elapsed
	return true
}

// State returns the current state.
func (c *Controller) State() State { return c.state }

// Snapshot returns the current state, start time and elapsed seconds.
func (c *Controller) Snapshot() Snapshot {
	return Snapshot{State: c.state, StartTime: c.start, ElapsedSeconds: c.elapsed}
}

func (c *Controller) guard() error {
	if c.sender == nil || !c.sender.Ready() {
		return ErrChannelNotReady
	}
	return nil
}

func (c *Controller) send(ctx context.Context, kind string) error {
	data, err := EncodeDirective(kind)
	if err != nil {
		return fmt.Errorf("encode %s: %w", kind, err)
	}
	if err := c.sender.Send(ctx, data); err != nil {
		return fmt.Errorf("send %s: %w", kind, err)
	}
	return nil
}

// FormatHMS renders whole seconds as m:ss, or h:mm:ss from one hour up.
func FormatHMS(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
