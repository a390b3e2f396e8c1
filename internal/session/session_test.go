package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"teleop-dash/internal/channel"
	"teleop-dash/internal/eventlog"
	"teleop-dash/internal/metrics"
	"teleop-dash/internal/recording"
	"teleop-dash/internal/telemetry"
)

type fakeConn struct {
	frames    chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	written [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan []byte, 16), closed: make(chan struct{})}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-f.frames:
		return 1, data, nil
	case <-f.closed:
		return 0, nil, io.EOF
	}
}

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, data)
	return nil
}

func (f *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) directives(t *testing.T) []string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, raw := range f.written {
		var d recording.Directive
		if err := json.Unmarshal(raw, &d); err != nil {
			t.Fatalf("invalid directive %q: %v", raw, err)
		}
		out = append(out, d.Type)
	}
	return out
}

func (f *fakeConn) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// pathDialer serves one fake connection per endpoint path; a missing path
// refuses the connection.
type pathDialer struct {
	conns map[string]*fakeConn
}

func (d *pathDialer) Dial(_ context.Context, url string) (channel.Conn, error) {
	for path, c := range d.conns {
		if strings.HasSuffix(url, path) {
			return c, nil
		}
	}
	return nil, errors.New("connection refused")
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type memSink struct {
	mu      sync.Mutex
	records []telemetry.Record
	logs    []eventlog.Entry
	flushed bool
}

func (m *memSink) Write(r telemetry.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
	return nil
}

func (m *memSink) WriteLog(e eventlog.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, e)
	return nil
}

func (m *memSink) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushed = true
	return nil
}

type harness struct {
	s       *Session
	data    *fakeConn
	image   *fakeConn
	setting *fakeConn
	clock   *testClock
	sink    *memSink
	cancel  context.CancelFunc
}

func newHarness(t *testing.T, withSetting bool) *harness {
	t.Helper()
	h := &harness{
		data:    newFakeConn(),
		image:   newFakeConn(),
		setting: newFakeConn(),
		clock:   &testClock{now: time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)},
		sink:    &memSink{},
	}
	conns := map[string]*fakeConn{channel.DataPath: h.data, channel.ImagePath: h.image}
	if withSetting {
		conns[channel.SettingPath] = h.setting
	}
	s, err := New(Options{
		Origin:       "http://robot.local:8080",
		Dialer:       &pathDialer{conns: conns},
		Policy:       channel.Policy{InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond, MaxRetries: 2},
		Reconcile:    telemetry.DefaultReconcileOptions(),
		TickInterval: 5 * time.Millisecond,
		Sink:         h.sink,
		Metrics:      metrics.New(),
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:          h.clock.Now,
	})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	h.s = s
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go s.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-s.Done()
	})
	settled := channel.Failed
	if withSetting {
		settled = channel.Connected
	}
	h.waitFor(t, "channels to settle", func(sn Snapshot) bool {
		return sn.Channels[channel.Data] == channel.Connected &&
			sn.Channels[channel.Image] == channel.Connected &&
			sn.Channels[channel.Setting] == settled
	})
	return h
}

func (h *harness) waitFor(t *testing.T, what string, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if snap := h.s.Snapshot(); cond(snap) {
			return snap
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s; last snapshot %+v", what, h.s.Snapshot())
	return Snapshot{}
}

func TestInitialSnapshot(t *testing.T) {
	s, err := New(Options{Origin: "https://robot", Dialer: &pathDialer{}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	snap := s.Snapshot()
	if snap.View != telemetry.DefaultViewModel() {
		t.Fatalf("unexpected initial view: %+v", snap.View)
	}
	if snap.Recording.State != recording.Idle || len(snap.Log) != 0 {
		t.Fatalf("unexpected initial state: %+v", snap)
	}
	if s.Endpoint() != "wss://robot" {
		t.Fatalf("endpoint = %s", s.Endpoint())
	}
	if snap.SessionID == "" || snap.SessionID != s.ID() {
		t.Fatalf("session id not set")
	}
}

func TestNewRejectsBadOrigin(t *testing.T) {
	if _, err := New(Options{Origin: "file:///tmp"}); err == nil {
		t.Fatalf("expected error for file origin")
	}
}

func TestTelemetryReconciledAndLogged(t *testing.T) {
	h := newHarness(t, true)
	h.data.frames <- []byte(`{"battery": 42.36, "joint_angles": [1,2,3,4,5,6]}`)

	snap := h.waitFor(t, "battery", func(s Snapshot) bool { return s.Messages == 1 })
	if snap.View.Battery != 42.4 || snap.View.JointAngles != (telemetry.Vec6{1, 2, 3, 4, 5, 6}) {
		t.Fatalf("unexpected view: %+v", snap.View)
	}
	if snap.View.GearStatus != telemetry.GearNeutral {
		t.Fatalf("absent field changed: %q", snap.View.GearStatus)
	}
	if snap.Log[0].Message != "telemetry received" || snap.Log[0].Timestamp != "09:00:00" {
		t.Fatalf("unexpected head log entry: %+v", snap.Log[0])
	}

	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()
	if len(h.sink.records) != 1 || h.sink.records[0].View.Battery != 42.4 || h.sink.records[0].SessionID != h.s.ID() {
		t.Fatalf("record not exported: %+v", h.sink.records)
	}
	if len(h.sink.logs) == 0 {
		t.Fatalf("log entries not exported")
	}
}

func TestMalformedTelemetryKeepsView(t *testing.T) {
	h := newHarness(t, true)
	h.data.frames <- []byte(`{"battery": 10}`)
	h.waitFor(t, "first message", func(s Snapshot) bool { return s.Messages == 1 })

	h.data.frames <- []byte(`{"battery": 99, "joint_angles": [1,2]}`)
	snap := h.waitFor(t, "error entry", func(s Snapshot) bool {
		return len(s.Log) > 0 && strings.Contains(s.Log[0].Message, "parse error")
	})
	if snap.View.Battery != 10 || snap.Messages != 1 {
		t.Fatalf("malformed frame changed the view: %+v", snap.View)
	}
}

func TestLogFieldAppendedBeforeReceipt(t *testing.T) {
	h := newHarness(t, true)
	h.data.frames <- []byte(`{"log": "arm homed"}`)
	snap := h.waitFor(t, "message", func(s Snapshot) bool { return s.Messages == 1 })
	if snap.Log[0].Message != "telemetry received" || snap.Log[1].Message != "arm homed" {
		t.Fatalf("unexpected log order: %v", snap.Log)
	}
}

func TestPerChannelOrdering(t *testing.T) {
	h := newHarness(t, true)
	for i := 1; i <= 5; i++ {
		h.data.frames <- []byte(`{"battery": ` + string(rune('0'+i)) + `}`)
	}
	snap := h.waitFor(t, "five messages", func(s Snapshot) bool { return s.Messages == 5 })
	if snap.View.Battery != 5 {
		t.Fatalf("last write should win, battery = %v", snap.View.Battery)
	}
}

func TestImagesMerged(t *testing.T) {
	h := newHarness(t, true)
	h.image.frames <- []byte(`{"images": {"map": "data:uri1"}}`)
	h.image.frames <- []byte(`{"images": {"mobile_rgb": "data:uri2"}, "server_send_timestamp_ms": 1}`)
	snap := h.waitFor(t, "images", func(s Snapshot) bool { return len(s.Images) == 2 })
	if snap.Images[telemetry.SlotMap] != "data:uri1" || snap.Images[telemetry.SlotMobileRGB] != "data:uri2" {
		t.Fatalf("unexpected images: %v", snap.Images)
	}

	h.image.frames <- []byte(`not json`)
	snap = h.waitFor(t, "image error", func(s Snapshot) bool {
		return len(s.Log) > 0 && strings.Contains(s.Log[0].Message, "image parse error")
	})
	if len(snap.Images) != 2 {
		t.Fatalf("malformed image frame changed bundle: %v", snap.Images)
	}
}

func TestSettingRepliesLoggedVerbatim(t *testing.T) {
	h := newHarness(t, true)
	h.setting.frames <- []byte("ACK: dataset settings updated")
	h.waitFor(t, "ack", func(s Snapshot) bool {
		return len(s.Log) > 0 && s.Log[0].Message == "ACK: dataset settings updated"
	})
}

func TestRecordingLifecycle(t *testing.T) {
	h := newHarness(t, true)
	h.waitFor(t, "setting channel", func(s Snapshot) bool { return s.Channels[channel.Setting] == channel.Connected })
	ctx := context.Background()

	if err := h.s.StartRecording(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.clock.Advance(3 * time.Second)
	snap := h.waitFor(t, "elapsed", func(s Snapshot) bool { return s.Recording.ElapsedSeconds == 3 })
	if snap.Recording.State != recording.Recording {
		t.Fatalf("expected recording state")
	}
	if err := h.s.StartRecording(ctx); !errors.Is(err, recording.ErrAlreadyRecording) {
		t.Fatalf("second start: %v", err)
	}
	if err := h.s.SaveRecording(ctx); err != nil {
		t.Fatalf("save: %v", err)
	}
	snap = h.s.Snapshot()
	if snap.Recording.State != recording.Idle || snap.Recording.ElapsedSeconds != 0 {
		t.Fatalf("save did not reset: %+v", snap.Recording)
	}
	if !strings.Contains(snap.Log[0].Message, "recording saved (0:03)") {
		t.Fatalf("unexpected log head: %v", snap.Log[0])
	}

	h.clock.Advance(5 * time.Second)
	time.Sleep(20 * time.Millisecond)
	if h.s.Snapshot().Recording.ElapsedSeconds != 0 {
		t.Fatalf("elapsed advanced while idle")
	}

	if err := h.s.DiscardRecording(ctx); !errors.Is(err, recording.ErrNotRecording) {
		t.Fatalf("discard while idle: %v", err)
	}
	got := h.setting.directives(t)
	if len(got) != 2 || got[0] != recording.DirectiveStart || got[1] != recording.DirectiveSave {
		t.Fatalf("unexpected directives: %v", got)
	}
}

func TestSaveSettings(t *testing.T) {
	h := newHarness(t, true)
	h.waitFor(t, "setting channel", func(s Snapshot) bool { return s.Channels[channel.Setting] == channel.Connected })
	settings := recording.DefaultDatasetSettings()
	settings.FileName = "run_9"
	if err := h.s.SaveSettings(context.Background(), settings); err != nil {
		t.Fatalf("save settings: %v", err)
	}
	if h.s.Snapshot().Settings.FileName != "run_9" {
		t.Fatalf("settings not retained")
	}
	if got := h.setting.directives(t); len(got) != 1 || got[0] != recording.DirectiveDatasetSetting {
		t.Fatalf("unexpected directives: %v", got)
	}
}

func TestRecordingBlockedWithoutSettingChannel(t *testing.T) {
	h := newHarness(t, false)
	err := h.s.StartRecording(context.Background())
	if !errors.Is(err, recording.ErrChannelNotReady) {
		t.Fatalf("expected ErrChannelNotReady, got %v", err)
	}
	snap := h.s.Snapshot()
	if snap.Warning != NotConnectedWarning {
		t.Fatalf("warning not raised: %q", snap.Warning)
	}
	if snap.Recording.State != recording.Idle {
		t.Fatalf("state changed while not connected")
	}
	if err := h.s.DismissWarning(context.Background()); err != nil {
		t.Fatalf("dismiss: %v", err)
	}
	if h.s.Snapshot().Warning != "" {
		t.Fatalf("warning not cleared")
	}
}

func TestChannelStatePublished(t *testing.T) {
	h := newHarness(t, false)
	snap := h.waitFor(t, "setting failure", func(s Snapshot) bool { return s.Channels[channel.Setting] == channel.Failed })
	found := false
	for _, e := range snap.Log {
		if strings.HasPrefix(e.Message, "setting channel") {
			found = true
		}
	}
	if !found {
		t.Fatalf("channel state not logged: %v", snap.Log)
	}
}

func TestClearLog(t *testing.T) {
	h := newHarness(t, true)
	h.data.frames <- []byte(`{}`)
	h.waitFor(t, "message", func(s Snapshot) bool { return s.Messages == 1 })
	if err := h.s.ClearLog(context.Background()); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if n := len(h.s.Snapshot().Log); n != 0 {
		t.Fatalf("log not cleared, %d entries", n)
	}
}

func TestSubscribeAndTeardown(t *testing.T) {
	h := newHarness(t, true)
	var (
		mu   sync.Mutex
		seen int
	)
	h.s.Subscribe(func(Snapshot) {
		mu.Lock()
		seen++
		mu.Unlock()
	})
	h.data.frames <- []byte(`{"battery": 1}`)
	h.waitFor(t, "message", func(s Snapshot) bool { return s.Messages == 1 })

	h.cancel()
	select {
	case <-h.s.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("session did not stop")
	}
	mu.Lock()
	defer mu.Unlock()
	if seen == 0 {
		t.Fatalf("observer never called")
	}
	if !h.data.isClosed() || !h.setting.isClosed() {
		t.Fatalf("channels not closed on teardown")
	}
	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()
	if !h.sink.flushed {
		t.Fatalf("sink not flushed on teardown")
	}
	if err := h.s.StartRecording(context.Background()); !errors.Is(err, ErrStopped) {
		t.Fatalf("command after stop: %v", err)
	}
}
