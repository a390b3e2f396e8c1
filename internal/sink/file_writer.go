package sink

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"

	"teleop-dash/internal/eventlog"
	"teleop-dash/internal/telemetry"
)

// FileWriter writes telemetry records, and optionally event log entries, to
// JSONL files.
type FileWriter struct {
	mu      sync.Mutex
	recFile *os.File
	recBuf  *bufio.Writer
	recEnc  *json.Encoder
	logFile *os.File
	logEnc  *json.Encoder
}

// NewFileWriter creates a FileWriter. logPath may be empty to skip the event
// log file.
func NewFileWriter(recordPath, logPath string) (*FileWriter, error) {
	rf, err := os.Create(recordPath)
	if err != nil {
		return nil, err
	}
	buf := bufio.NewWriter(rf)
	fw := &FileWriter{recFile: rf, recBuf: buf, recEnc: json.NewEncoder(buf)}
	if logPath != "" {
		lf, err := os.Create(logPath)
		if err != nil {
			rf.Close()
			return nil, err
		}
		fw.logFile = lf
		fw.logEnc = json.NewEncoder(lf)
	}
	return fw, nil
}

// Write logs a single record.
func (f *FileWriter) Write(r telemetry.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recEnc.Encode(r)
}

// WriteLog logs an event log entry, if enabled.
func (f *FileWriter) WriteLog(e eventlog.Entry) error {
	if f.logEnc == nil {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logEnc.Encode(e)
}

// Flush writes buffered records to disk.
func (f *FileWriter) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recBuf.Flush()
}

// Close flushes and closes any underlying files.
func (f *FileWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	err := f.recBuf.Flush()
	if e := f.recFile.Close(); e != nil && err == nil {
		err = e
	}
	if f.logFile != nil {
		if e := f.logFile.Close(); e != nil && err == nil {
			err = e
		}
	}
	return err
}
