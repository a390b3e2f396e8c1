package sink

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"teleop-dash/internal/eventlog"
	"teleop-dash/internal/telemetry"
)

// JSONStdoutWriter prints records and log entries as JSON lines.
type JSONStdoutWriter struct {
	mu  sync.Mutex
	out io.Writer
}

// NewJSONStdoutWriter creates a JSONStdoutWriter writing to os.Stdout.
func NewJSONStdoutWriter() *JSONStdoutWriter {
	return &JSONStdoutWriter{out: os.Stdout}
}

// NewJSONWriter creates a JSONStdoutWriter writing to out.
func NewJSONWriter(out io.Writer) *JSONStdoutWriter {
	return &JSONStdoutWriter{out: out}
}

// Write outputs a record in JSON format.
func (w *JSONStdoutWriter) Write(r telemetry.Record) error {
	return w.emit(r)
}

// WriteLog outputs a log entry as {"log": "..."}.
func (w *JSONStdoutWriter) WriteLog(e eventlog.Entry) error {
	return w.emit(struct {
		Log string `json:"log"`
	}{e.String()})
}

func (w *JSONStdoutWriter) emit(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err = fmt.Fprintln(w.out, string(data))
	return err
}
