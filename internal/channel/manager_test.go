package channel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
)

func TestBaseURL(t *testing.T) {
	cases := []struct {
		in, want string
		err      bool
	}{
		{in: "http://robot.local:8080", want: "ws://robot.local:8080"},
		{in: "https://robot.example.com/dashboard?x=1", want: "wss://robot.example.com"},
		{in: "ws://10.0.0.2:9000", want: "ws://10.0.0.2:9000"},
		{in: "wss://robot", want: "wss://robot"},
		{in: "HTTP://robot", want: "ws://robot"},
		{in: "ftp://robot", err: true},
		{in: "robot:8080", err: true},
		{in: "http://", err: true},
	}
	for _, tc := range cases {
		got, err := BaseURL(tc.in)
		if tc.err {
			if err == nil {
				t.Errorf("BaseURL(%q) = %q, expected error", tc.in, got)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("BaseURL(%q) = %q, %v; want %q", tc.in, got, err, tc.want)
		}
	}
}

func TestManagerEndpoints(t *testing.T) {
	m, err := NewManager("https://robot:8443", &scriptDialer{}, DefaultPolicy(), Handlers{}, discard)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	want := []string{"wss://robot:8443/ws/data", "wss://robot:8443/ws/image", "wss://robot:8443/ws/setting"}
	for i, c := range m.Channels() {
		if c.URL() != want[i] {
			t.Errorf("channel %s url = %s, want %s", c.Name(), c.URL(), want[i])
		}
	}
	if m.Setting().Name() != Setting {
		t.Fatalf("setting channel = %s", m.Setting().Name())
	}
	for name, st := range m.States() {
		if st != Disconnected {
			t.Errorf("%s starts %v", name, st)
		}
	}
}

func TestManagerOverWebSocket(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	mux := http.NewServeMux()
	mux.HandleFunc(DataPath, func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"battery": 50}`))
		conn.ReadMessage()
	})
	mux.HandleFunc(ImagePath, func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.ReadMessage()
	})
	mux.HandleFunc(SettingPath, func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			conn.WriteMessage(websocket.TextMessage, append([]byte("ACK: "), msg...))
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	var (
		mu      sync.Mutex
		data    []string
		replies []string
	)
	m, err := NewManager(srv.URL, nil, fastPolicy(3), Handlers{
		OnData: func(b []byte) {
			mu.Lock()
			data = append(data, string(b))
			mu.Unlock()
		},
		OnSetting: func(b []byte) {
			mu.Lock()
			replies = append(replies, string(b))
			mu.Unlock()
		},
	}, discard)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Close()

	waitFor(t, "all channels connected", func() bool {
		for _, st := range m.States() {
			if st != Connected {
				return false
			}
		}
		return true
	})
	if err := m.Setting().Send(ctx, []byte("ping")); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitFor(t, "data and reply", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(data) == 1 && len(replies) == 1
	})
	if data[0] != `{"battery": 50}` || replies[0] != "ACK: ping" {
		t.Fatalf("unexpected traffic: data=%v replies=%v", data, replies)
	}
}
