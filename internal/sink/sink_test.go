package sink

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	gpb "github.com/GreptimeTeam/greptime-proto/go/greptime/v1"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table"

	"teleop-dash/internal/eventlog"
	"teleop-dash/internal/telemetry"
)

func sampleRecord(ts time.Time) telemetry.Record {
	msg := telemetry.Message{Battery: telemetry.Float(42.4), JointAngles: []float64{1, 2, 3, 4, 5, 6}}
	return telemetry.Record{
		SessionID: "s1",
		Message:   msg,
		View:      telemetry.Reconcile(telemetry.DefaultViewModel(), msg, telemetry.DefaultReconcileOptions()),
		Timestamp: ts,
	}
}

type collectWriter struct{ rows []telemetry.Record }

func (c *collectWriter) Write(r telemetry.Record) error {
	c.rows = append(c.rows, r)
	return nil
}

type failWriter struct{}

func (failWriter) Write(telemetry.Record) error { return errors.New("disk full") }

func TestFileWriter(t *testing.T) {
	dir := t.TempDir()
	recPath := filepath.Join(dir, "telemetry.jsonl")
	logPath := filepath.Join(dir, "events.jsonl")

	fw, err := NewFileWriter(recPath, logPath)
	if err != nil {
		t.Fatalf("NewFileWriter: %v", err)
	}
	ts := time.Unix(100, 0).UTC()
	for _, r := range []telemetry.Record{sampleRecord(ts), sampleRecord(ts.Add(time.Second))} {
		if err := fw.Write(r); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := fw.WriteLog(eventlog.Entry{Timestamp: "10:00:00", Message: "telemetry received"}); err != nil {
		t.Fatalf("write log: %v", err)
	}
	if err := fw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	recs, err := ReadRecords(recPath)
	if err != nil {
		t.Fatalf("read records: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].View.Battery != 42.4 || recs[0].View.JointAngles[5] != 6 || recs[0].SessionID != "s1" {
		t.Fatalf("unexpected record: %+v", recs[0])
	}
	if recs[0].Message.Battery == nil || recs[0].Message.LinearSpeed != nil {
		t.Fatalf("message presence not preserved: %+v", recs[0].Message)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	var e eventlog.Entry
	if err := json.Unmarshal(data, &e); err != nil || e.Message != "telemetry received" {
		t.Fatalf("unexpected log line %q: %v", data, err)
	}
}

func TestMultiWriterFansOutAndJoinsErrors(t *testing.T) {
	a, b := &collectWriter{}, &collectWriter{}
	mw := NewMultiWriter(a, nil, failWriter{}, b)
	err := mw.Write(sampleRecord(time.Now()))
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected joined error, got %v", err)
	}
	if len(a.rows) != 1 || len(b.rows) != 1 {
		t.Fatalf("failing writer blocked fan-out: a=%d b=%d", len(a.rows), len(b.rows))
	}
}

func TestJSONWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONWriter(&buf)
	if err := w.Write(sampleRecord(time.Unix(0, 0).UTC())); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.WriteLog(eventlog.Entry{Timestamp: "01:02:03", Message: "hi"}); err != nil {
		t.Fatalf("write log: %v", err)
	}
	sc := bufio.NewScanner(&buf)
	var lines []string
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], `"session_id":"s1"`) {
		t.Fatalf("record line missing session id: %s", lines[0])
	}
	if lines[1] != `{"log":"[01:02:03] hi"}` {
		t.Fatalf("unexpected log line: %s", lines[1])
	}
}

func TestReplayLog(t *testing.T) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := 0; i < 3; i++ {
		if err := enc.Encode(sampleRecord(time.Unix(int64(i), 0))); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	cw := &collectWriter{}
	if err := ReplayLog(context.Background(), &buf, cw, 0); err != nil {
		t.Fatalf("ReplayLog: %v", err)
	}
	if len(cw.rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(cw.rows))
	}
}

func TestReplayLogHonoursSpeedAndCancel(t *testing.T) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.Encode(sampleRecord(time.Unix(0, 0)))
	enc.Encode(sampleRecord(time.Unix(3600, 0)))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	cw := &collectWriter{}
	err := ReplayLog(ctx, &buf, cw, 1)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if len(cw.rows) != 1 {
		t.Fatalf("expected only first row before cancel, got %d", len(cw.rows))
	}
}

func TestReplayLogMalformed(t *testing.T) {
	err := ReplayLog(context.Background(), strings.NewReader("{not json}\n"), &collectWriter{}, 0)
	if err == nil {
		t.Fatalf("expected decode error")
	}
}

type mockGreptimeClient struct {
	table *table.Table
	err   error
}

func (m *mockGreptimeClient) Write(ctx context.Context, tables ...*table.Table) (*gpb.GreptimeResponse, error) {
	if len(tables) > 0 {
		m.table = tables[0]
	}
	return &gpb.GreptimeResponse{}, m.err
}

func TestGreptimeWriterColumns(t *testing.T) {
	m := &mockGreptimeClient{}
	w := newGreptimeDBWriter(m, "", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if w.Table() != DefaultGreptimeTable {
		t.Fatalf("table = %s", w.Table())
	}
	if err := w.Write(sampleRecord(time.Unix(0, 0).UTC())); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if m.table == nil {
		t.Fatalf("expected table to be captured")
	}

	rows := m.table.GetRows()
	if got, want := len(rows.Schema), len(telemetryColumns)+2; got != want {
		t.Fatalf("schema length = %d, want %d", got, want)
	}
	if rows.Schema[0].ColumnName != "session_id" || rows.Schema[0].SemanticType != gpb.SemanticType_TAG {
		t.Fatalf("first column = %+v, want session_id tag", rows.Schema[0])
	}
	values := rows.Rows[0].Values
	if got := values[0].GetStringValue(); got != "s1" {
		t.Fatalf("session_id = %s, want s1", got)
	}
	if got := values[1].GetStringValue(); got != telemetry.StatusEStop {
		t.Fatalf("robot_status = %s", got)
	}
	if got := values[2].GetF64Value(); got != 42.4 {
		t.Fatalf("battery = %v, want 42.4", got)
	}
}

func TestGreptimeWriterError(t *testing.T) {
	m := &mockGreptimeClient{err: errors.New("unavailable")}
	w := newGreptimeDBWriter(m, "t", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := w.Write(sampleRecord(time.Now())); err == nil {
		t.Fatalf("expected error")
	}
	if err := w.WriteBatch(nil); err != nil {
		t.Fatalf("empty batch: %v", err)
	}
}

func TestColumnNamesFlattenVectors(t *testing.T) {
	names := strings.Join(ColumnNames(), ",")
	for _, want := range []string{"joint_1", "joint_6", "master_joint_3", "cartesian_6", "force_1", "gear_status"} {
		if !strings.Contains(names, want) {
			t.Errorf("missing column %s in %s", want, names)
		}
	}
}

func TestColumnsMarkStringFields(t *testing.T) {
	cols := Columns()
	if len(cols) != len(ColumnNames()) {
		t.Fatalf("columns and names disagree")
	}
	for _, c := range cols {
		wantNumeric := c.Name != "robot_status" && c.Name != "gear_status"
		if c.Numeric != wantNumeric {
			t.Errorf("column %s numeric = %v", c.Name, c.Numeric)
		}
	}
}
