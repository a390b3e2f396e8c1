// Package session runs one dashboard session: it owns the reconciled view,
// the image bundle, the event log and the recording controller, and is the
// only goroutine that mutates them.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"teleop-dash/internal/channel"
	"teleop-dash/internal/eventlog"
	"teleop-dash/internal/metrics"
	"teleop-dash/internal/recording"
	"teleop-dash/internal/sink"
	"teleop-dash/internal/telemetry"
)

// ErrStopped is returned by commands issued after the session loop exited.
var ErrStopped = errors.New("session stopped")

// NotConnectedWarning is shown when a recording action cannot reach the robot.
const NotConnectedWarning = "Settings channel is not connected. Check the robot connection and try again."

// Options configures a Session.
type Options struct {
	Origin       string
	Dialer       channel.Dialer
	Policy       channel.Policy
	Reconcile    telemetry.ReconcileOptions
	LogCapacity  int
	TickInterval time.Duration
	Settings     recording.DatasetSettings
	Sink         sink.Writer
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
	Now          func() time.Time
}

// Snapshot is an immutable copy of the session state handed to observers.
type Snapshot struct {
	SessionID string                    `json:"session_id"`
	View      telemetry.ViewModel       `json:"view"`
	Images    telemetry.ImageBundle     `json:"-"`
	Log       []eventlog.Entry          `json:"log"`
	Recording recording.Snapshot        `json:"recording"`
	Settings  recording.DatasetSettings `json:"settings"`
	Channels  map[string]channel.State  `json:"channels"`
	Warning   string                    `json:"warning,omitempty"`
	Messages  int                       `json:"messages"`
	UpdatedAt time.Time                 `json:"updated_at"`
}

type eventKind int

const (
	evData eventKind = iota
	evImage
	evSetting
	evState
	evCommand
)

type event struct {
	kind  eventKind
	data  []byte
	state channel.StateChange
	cmd   *command
}

type command struct {
	name     string
	settings recording.DatasetSettings
	reply    chan error
}

// Session is one dashboard session.
type Session struct {
	id      string
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mgr   *channel.Manager
	queue chan event
	done  chan struct{}

	// loop-owned state
	view     telemetry.ViewModel
	images   telemetry.ImageBundle
	log      *eventlog.Buffer
	rec      *recording.Controller
	settings recording.DatasetSettings
	channels map[string]channel.State
	warning  string
	messages int
	ticker   *time.Ticker

	latest atomic.Pointer[Snapshot]

	obsMu     sync.Mutex
	observers []func(Snapshot)
}

// New builds a session for opts.Origin. Nothing connects until Run.
func New(opts Options) (*Session, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	if opts.Settings == (recording.DatasetSettings{}) {
		opts.Settings = recording.DefaultDatasetSettings()
	}

	s := &Session{
		id:       uuid.NewString(),
		opts:     opts,
		metrics:  opts.Metrics,
		now:      opts.Now,
		queue:    make(chan event, 64),
		done:     make(chan struct{}),
		view:     telemetry.DefaultViewModel(),
		images:   telemetry.ImageBundle{},
		log:      eventlog.New(opts.LogCapacity, opts.Now),
		settings: opts.Settings,
		channels: map[string]channel.State{},
	}
	s.logger = opts.Logger.With("session", s.id)

	mgr, err := channel.NewManager(opts.Origin, opts.Dialer, opts.Policy, channel.Handlers{
		OnData:    func(b []byte) { s.post(event{kind: evData, data: b}) },
		OnImage:   func(b []byte) { s.post(event{kind: evImage, data: b}) },
		OnSetting: func(b []byte) { s.post(event{kind: evSetting, data: b}) },
		OnState:   func(ev channel.StateChange) { s.post(event{kind: evState, state: ev}) },
	}, s.logger)
	if err != nil {
		return nil, err
	}
	s.mgr = mgr
	s.rec = recording.NewController(mgr.Setting(), opts.Now, s.logger)
	for name, st := range mgr.States() {
		s.channels[name] = st
	}
	s.publish()
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Endpoint returns the WebSocket base URL the session connects to.
func (s *Session) Endpoint() string { return s.mgr.Base() }

// Subscribe registers fn to receive a snapshot after every handled event.
// fn runs on the session goroutine and must not block.
func (s *Session) Subscribe(fn func(Snapshot)) {
	s.obsMu.Lock()
	s.observers = append(s.observers, fn)
	s.obsMu.Unlock()
}

// Snapshot returns the most recently published snapshot.
func (s *Session) Snapshot() Snapshot {
	return *s.latest.Load()
}

// Done is closed once Run has returned.
func (s *Session) Done() <-chan struct{} { return s.done }

// Run connects the channels and processes events until ctx is cancelled.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)
	s.logger.Info("[Session] starting", "endpoint", s.mgr.Base())
	s.mgr.Start(ctx)
	defer s.teardown()

	for {
		var tick <-chan time.Time
		if s.ticker != nil {
			tick = s.ticker.C
		}
		var reply func()
		select {
		case <-ctx.Done():
			return nil
		case ev := <-s.queue:
			reply = s.handle(ctx, ev)
		case <-tick:
			if s.rec.Tick(s.now()) {
				snap := s.rec.Snapshot()
				s.metrics.Recording(true, snap.ElapsedSeconds)
			}
		}
		s.publish()
		if reply != nil {
			reply()
		}
	}
}

func (s *Session) teardown() {
	s.stopTicker()
	if err := s.mgr.Close(); err != nil {
		s.logger.Warn("[Session] closing channels", "err", err)
	}
	if f, ok := s.opts.Sink.(interface{ Flush() error }); ok {
		if err := f.Flush(); err != nil {
			s.logger.Warn("[Session] flushing sink", "err", err)
		}
	}
	s.logger.Info("[Session] stopped", "messages", s.messages)
}

// post enqueues an event from a channel goroutine. Events arriving after the
// loop exits are dropped.
func (s *Session) post(ev event) {
	select {
	case s.queue <- ev:
	case <-s.done:
	}
}

// handle applies ev. For commands it returns the reply, which is delivered
// after the resulting snapshot is published.
func (s *Session) handle(ctx context.Context, ev event) func() {
	switch ev.kind {
	case evData:
		s.metrics.FrameReceived(channel.Data)
		s.handleData(ev.data)
	case evImage:
		s.metrics.FrameReceived(channel.Image)
		s.handleImage(ev.data)
	case evSetting:
		s.metrics.FrameReceived(channel.Setting)
		s.appendLog(string(ev.data))
	case evState:
		s.handleState(ev.state)
	case evCommand:
		err := s.handleCommand(ctx, ev.cmd)
		s.metrics.Command(ev.cmd.name, err)
		return func() { ev.cmd.reply <- err }
	}
	return nil
}

func (s *Session) handleData(data []byte) {
	msg, err := telemetry.Decode(data)
	if err != nil {
		s.metrics.DecodeError(metrics.KindTelemetry)
		s.logger.Warn("[Session] dropping telemetry frame", "err", err)
		s.appendLog(fmt.Sprintf("telemetry parse error: %v", err))
		return
	}
	if msg.Log != nil {
		s.appendLog(*msg.Log)
	}
	s.view = telemetry.Reconcile(s.view, msg, s.opts.Reconcile)
	s.messages++
	s.appendLog("telemetry received")
	if msg.Battery != nil {
		s.metrics.Battery(s.view.Battery)
	}

	if s.opts.Sink == nil {
		return
	}
	rec := telemetry.Record{SessionID: s.id, Message: msg, View: s.view, Timestamp: s.now()}
	if err := s.opts.Sink.Write(rec); err != nil {
		s.metrics.SinkError()
		s.logger.Warn("[Session] telemetry export failed", "err", err)
	}
}

func (s *Session) handleImage(data []byte) {
	frame, ok, err := telemetry.DecodeImages(data)
	if err != nil {
		s.metrics.DecodeError(metrics.KindImage)
		s.logger.Warn("[Session] dropping image frame", "err", err)
		s.appendLog(fmt.Sprintf("image parse error: %v", err))
		return
	}
	if !ok {
		return
	}
	s.images = telemetry.MergeImages(s.images, frame)
	if lat, ok := frame.Latency(s.now()); ok {
		s.metrics.ImageLatency(lat)
	}
}

func (s *Session) handleState(ev channel.StateChange) {
	s.channels[ev.Channel] = ev.State
	s.metrics.ChannelState(ev.Channel, ev.State.String(), ev.State == channel.Connected)
	switch ev.State {
	case channel.Connected:
		s.appendLog(fmt.Sprintf("%s channel connected", ev.Channel))
	case channel.Disconnected:
		s.appendLog(fmt.Sprintf("%s channel disconnected", ev.Channel))
	case channel.Backoff:
		s.appendLog(fmt.Sprintf("%s channel retrying in %s", ev.Channel, ev.Retry.Round(time.Millisecond)))
	case channel.Failed:
		s.appendLog(fmt.Sprintf("%s channel failed after %d attempts", ev.Channel, ev.Attempt))
	}
}

func (s *Session) handleCommand(ctx context.Context, cmd *command) error {
	var err error
	switch cmd.name {
	case cmdStart:
		if err = s.rec.Start(ctx); err == nil {
			s.startTicker()
			s.appendLog("recording started")
		}
	case cmdSave:
		elapsed := s.rec.Snapshot().ElapsedSeconds
		if err = s.rec.Save(ctx); err == nil {
			s.stopTicker()
			s.appendLog(fmt.Sprintf("recording saved (%s)", recording.FormatHMS(elapsed)))
		}
	case cmdDiscard:
		if err = s.rec.Discard(ctx); err == nil {
			s.stopTicker()
			s.appendLog("recording discarded")
		}
	case cmdSaveSettings:
		if err = s.rec.SaveSettings(ctx, cmd.settings); err == nil {
			s.settings = cmd.settings
			s.appendLog("dataset settings saved")
		}
	case cmdDismiss:
		s.warning = ""
		return nil
	case cmdClearLog:
		s.log.Reset()
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd.name)
	}

	snap := s.rec.Snapshot()
	s.metrics.Recording(snap.State == recording.Recording, snap.ElapsedSeconds)
	switch {
	case err == nil:
	case errors.Is(err, recording.ErrChannelNotReady):
		s.warning = NotConnectedWarning
		s.appendLog(fmt.Sprintf("%s: settings channel not connected", cmd.name))
	default:
		s.appendLog(fmt.Sprintf("%s failed: %v", cmd.name, err))
	}
	return err
}

func (s *Session) startTicker() {
	s.stopTicker()
	s.ticker = time.NewTicker(s.opts.TickInterval)
}

func (s *Session) stopTicker() {
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}
}

func (s *Session) appendLog(msg string) {
	s.log.Append(msg)
	if lw, ok := s.opts.Sink.(sink.LogWriter); ok {
		entries := s.log.Entries()
		if err := lw.WriteLog(entries[0]); err != nil {
			s.logger.Warn("[Session] log export failed", "err", err)
		}
	}
}

func (s *Session) publish() {
	channels := make(map[string]channel.State, len(s.channels))
	for k, v := range s.channels {
		channels[k] = v
	}
	snap := &Snapshot{
		SessionID: s.id,
		View:      s.view,
		Images:    s.images,
		Log:       s.log.Entries(),
		Recording: s.rec.Snapshot(),
		Settings:  s.settings,
		Channels:  channels,
		Warning:   s.warning,
		Messages:  s.messages,
		UpdatedAt: s.now(),
	}
	s.latest.Store(snap)

	s.obsMu.Lock()
	obs := append([]func(Snapshot){}, s.observers...)
	s.obsMu.Unlock()
	for _, fn := range obs {
		fn(*snap)
	}
}
