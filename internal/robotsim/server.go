// Package robotsim is a reference robot-side server speaking the dashboard's
// WebSocket protocol. It backs the mock-robot command and integration tests.
package robotsim

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"teleop-dash/internal/channel"
	"teleop-dash/internal/recording"
)

// Replies sent on /ws/setting.
const (
	ReplySettingsUpdated = "ACK: dataset settings updated"
	ReplyJSONOnly        = "ERROR: Only JSON payloads are supported."
	ReplyUnknownType     = "ERROR: unknown payload type"
)

//go:embed templates/index.html
var content embed.FS

// Options configures the server.
type Options struct {
	Source        Source
	DataInterval  time.Duration
	ImageInterval time.Duration
	Logger        *slog.Logger
	Now           func() time.Time
}

// Status is served on /status.
type Status struct {
	Settings      recording.DatasetSettings `json:"settings"`
	Recording     bool                      `json:"recording"`
	LastDirective string                    `json:"last_directive,omitempty"`
	Clients       map[string]int            `json:"clients"`
	DataFrames    int                       `json:"data_frames"`
	ImageFrames   int                       `json:"image_frames"`
}

// Server serves /ws/data, /ws/image, /ws/setting, /status and a small HTML
// overview on /.
type Server struct {
	opts     Options
	log      *slog.Logger
	tpl      *template.Template
	upgrader websocket.Upgrader

	mu     sync.Mutex
	status Status
}

// NewServer creates a Server. A nil Source selects a RandomSource.
func NewServer(opts Options) *Server {
	if opts.Source == nil {
		opts.Source = NewRandomSource(0)
	}
	if opts.DataInterval <= 0 {
		opts.DataInterval = time.Second
	}
	if opts.ImageInterval <= 0 {
		opts.ImageInterval = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	tpl := template.Must(template.New("index.html").ParseFS(content, "templates/index.html"))
	return &Server{
		opts:     opts,
		log:      opts.Logger,
		tpl:      tpl,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		status: Status{
			Settings: recording.DefaultDatasetSettings(),
			Clients:  map[string]int{channel.Data: 0, channel.Image: 0, channel.Setting: 0},
		},
	}
}

// Handler returns the server routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc(channel.DataPath, s.handleData)
	mux.HandleFunc(channel.ImagePath, s.handleImage)
	mux.HandleFunc(channel.SettingPath, s.handleSetting)
	return mux
}

// Start listens on addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Info("[RobotSim] listening", "addr", addr)
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// Status returns a copy of the server state.
func (s *Server) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	st.Clients = make(map[string]int, len(s.status.Clients))
	for k, v := range s.status.Clients {
		st.Clients[k] = v
	}
	return st
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if err := s.tpl.Execute(w, s.Status()); err != nil {
		s.log.Error("[RobotSim] render index", "err", err)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.Status())
}

func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	s.stream(w, r, channel.Data, s.opts.DataInterval, func(int) (any, error) {
		s.bump(func(st *Status) { st.DataFrames++ })
		return s.opts.Source.Next(), nil
	})
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	s.stream(w, r, channel.Image, s.opts.ImageInterval, func(seq int) (any, error) {
		s.bump(func(st *Status) { st.ImageFrames++ })
		return buildImageFrame(seq, s.opts.Now().UnixMilli())
	})
}

// stream upgrades the request and pushes next() once per interval until the
// client goes away.
func (s *Server) stream(w http.ResponseWriter, r *http.Request, name string, every time.Duration, next func(seq int) (any, error)) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("[RobotSim] upgrade failed", "channel", name, "err", err)
		return
	}
	defer conn.Close()
	s.connected(name, 1)
	defer s.connected(name, -1)

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for seq := 0; ; seq++ {
		payload, err := next(seq)
		if err != nil {
			s.log.Error("[RobotSim] build frame", "channel", name, "err", err)
			return
		}
		if err := conn.WriteJSON(payload); err != nil {
			s.log.Info("[RobotSim] client left", "channel", name, "err", err)
			return
		}
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) handleSetting(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("[RobotSim] upgrade failed", "channel", channel.Setting, "err", err)
		return
	}
	defer conn.Close()
	s.connected(channel.Setting, 1)
	defer s.connected(channel.Setting, -1)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		reply := s.applySetting(msg)
		if err := conn.WriteMessage(websocket.TextMessage, []byte(reply)); err != nil {
			return
		}
	}
}

// applySetting handles one settings-channel payload and returns the reply.
func (s *Server) applySetting(msg []byte) string {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(msg, &head); err != nil {
		return ReplyJSONOnly
	}

	switch head.Type {
	case recording.DirectiveDatasetSetting:
		s.mu.Lock()
		next := s.status.Settings
		err := json.Unmarshal(msg, &next)
		if err == nil {
			s.status.Settings = next
		}
		s.mu.Unlock()
		if err != nil {
			return "ERROR: " + err.Error()
		}
		s.log.Info("[RobotSim] dataset settings updated", "hertz", next.Hertz, "file", next.FileName, "format", next.FileFormat)
		return ReplySettingsUpdated
	case recording.DirectiveStart, recording.DirectiveSave, recording.DirectiveDiscard:
		s.bump(func(st *Status) {
			st.Recording = head.Type == recording.DirectiveStart
			st.LastDirective = head.Type
		})
		s.log.Info("[RobotSim] recording command received", "type", head.Type)
		return "ACK: " + head.Type
	default:
		return ReplyUnknownType
	}
}

func (s *Server) connected(name string, delta int) {
	s.bump(func(st *Status) { st.Clients[name] += delta })
}

func (s *Server) bump(fn func(*Status)) {
	s.mu.Lock()
	fn(&s.status)
	s.mu.Unlock()
}
