package channel

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// Channel names and their endpoint paths.
const (
	Data    = "data"
	Image   = "image"
	Setting = "setting"

	DataPath    = "/ws/data"
	ImagePath   = "/ws/image"
	SettingPath = "/ws/setting"
)

// BaseURL derives the WebSocket base from the page or endpoint origin:
// http becomes ws and https becomes wss. Paths, queries and fragments are
// discarded.
func BaseURL(origin string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(origin))
	if err != nil {
		return "", fmt.Errorf("parse origin %q: %w", origin, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("origin %q: unsupported scheme %q", origin, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("origin %q: missing host", origin)
	}
	return u.Scheme + "://" + u.Host, nil
}

// Handlers receive traffic from the three channels. Each callback runs on
// the goroutine of the channel that produced it.
type Handlers struct {
	OnData    func([]byte)
	OnImage   func([]byte)
	OnSetting func([]byte)
	OnState   func(StateChange)
}

// Manager owns the data, image and setting channels of one session.
type Manager struct {
	base    string
	data    *Channel
	image   *Channel
	setting *Channel
}

// NewManager builds the three channels for origin. Nothing is dialed until
// Start.
func NewManager(origin string, d Dialer, policy Policy, h Handlers, log *slog.Logger) (*Manager, error) {
	base, err := BaseURL(origin)
	if err != nil {
		return nil, err
	}
	if d == nil {
		d = WSDialer{}
	}
	mk := func(name, path string, onFrame func([]byte)) *Channel {
		return New(name, base+path, d, Options{
			Policy:  policy,
			Logger:  log,
			OnFrame: onFrame,
			OnState: h.OnState,
		})
	}
	return &Manager{
		base:    base,
		data:    mk(Data, DataPath, h.OnData),
		image:   mk(Image, ImagePath, h.OnImage),
		setting: mk(Setting, SettingPath, h.OnSetting),
	}, nil
}

// Base returns the derived WebSocket base URL.
func (m *Manager) Base() string { return m.base }

// Start connects every channel.
func (m *Manager) Start(ctx context.Context) {
	for _, c := range m.Channels() {
		c.Start(ctx)
	}
}

// Close closes every channel and returns the first error.
func (m *Manager) Close() error {
	var first error
	for _, c := range m.Channels() {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Channels returns the channels in data, image, setting order.
func (m *Manager) Channels() []*Channel {
	return []*Channel{m.data, m.image, m.setting}
}

// Setting returns the control channel used for recording directives.
func (m *Manager) Setting() *Channel { return m.setting }

// States returns the current state of every channel by name.
func (m *Manager) States() map[string]State {
	out := make(map[string]State, 3)
	for _, c := range m.Channels() {
		out[c.Name()] = c.State()
	}
	return out
}
