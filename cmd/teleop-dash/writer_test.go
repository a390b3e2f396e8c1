package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"teleop-dash/internal/config"
	"teleop-dash/internal/robotsim"
	"teleop-dash/internal/sink"
	"teleop-dash/internal/telemetry"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestNewSinkNothingConfigured(t *testing.T) {
	w, cleanup, err := newSink(config.Default(), nil, discard, nil)
	if err != nil {
		t.Fatalf("newSink returned error: %v", err)
	}
	cleanup()
	if w != nil {
		t.Fatalf("expected no sink, got %T", w)
	}
}

func TestNewSinkStdout(t *testing.T) {
	var buf bytes.Buffer
	w, cleanup, err := newSink(config.Default(), &buf, discard, nil)
	if err != nil {
		t.Fatalf("newSink returned error: %v", err)
	}
	defer cleanup()
	if _, ok := w.(*sink.MultiWriter); !ok {
		t.Fatalf("expected *sink.MultiWriter, got %T", w)
	}
	if err := w.Write(telemetry.Record{SessionID: "s1"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if !strings.Contains(buf.String(), `"session_id":"s1"`) {
		t.Fatalf("record not printed: %s", buf.String())
	}
}

func TestNewSinkLogFile(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Export.File = filepath.Join(dir, "telemetry.jsonl")
	cfg.Export.EventLog = filepath.Join(dir, "events.jsonl")
	w, cleanup, err := newSink(cfg, nil, discard, nil)
	if err != nil {
		t.Fatalf("newSink returned error: %v", err)
	}
	if err := w.Write(telemetry.Record{SessionID: "s1", Timestamp: time.Now()}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	cleanup()
	info, err := os.Stat(cfg.Export.File)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if info.Size() == 0 {
		t.Fatalf("expected log file to be non-empty")
	}
}

func TestReplayWriterFallback(t *testing.T) {
	cfg := config.Default()
	cfg.Export.Greptime.Endpoint = "db:4001"
	w, err := replayWriter(cfg, true, io.Discard, discard)
	if err != nil {
		t.Fatalf("replayWriter returned error: %v", err)
	}
	if _, ok := w.(*sink.JSONStdoutWriter); !ok {
		t.Fatalf("expected *sink.JSONStdoutWriter, got %T", w)
	}
}

func TestRunDashboardHeadless(t *testing.T) {
	srv := robotsim.NewServer(robotsim.Options{
		Source:        robotsim.NewRandomSource(5),
		DataInterval:  10 * time.Millisecond,
		ImageInterval: 10 * time.Millisecond,
		Logger:        discard,
	})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	cfg := config.Default()
	cfg.Endpoint = ts.URL
	cfg.LogLevel = "error"
	cfg.Reconnect.InitialInterval = 5 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	var stdout bytes.Buffer
	if err := runDashboard(ctx, cfg, true, &stdout, io.Discard); err != nil {
		t.Fatalf("runDashboard: %v", err)
	}

	var records, logs int
	for _, line := range strings.Split(strings.TrimSpace(stdout.String()), "\n") {
		var v map[string]any
		if err := json.Unmarshal([]byte(line), &v); err != nil {
			t.Fatalf("not a JSON line: %q", line)
		}
		if _, ok := v["log"]; ok {
			logs++
		}
		if _, ok := v["view"]; ok {
			records++
		}
	}
	if records == 0 || logs == 0 {
		t.Fatalf("expected records and log lines, got %d records, %d logs", records, logs)
	}
}
