package sink

import (
	"errors"

	"teleop-dash/internal/eventlog"
	"teleop-dash/internal/telemetry"
)

// LogWriter receives event log entries.
type LogWriter interface {
	WriteLog(eventlog.Entry) error
}

// MultiWriter fan-outs records to multiple writers. Every writer sees every
// record; the errors are joined.
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter creates a new MultiWriter. Nil writers are skipped.
func NewMultiWriter(ws ...Writer) *MultiWriter {
	mw := &MultiWriter{}
	for _, w := range ws {
		if w != nil {
			mw.writers = append(mw.writers, w)
		}
	}
	return mw
}

// Write sends a record to all writers.
func (mw *MultiWriter) Write(r telemetry.Record) error {
	var errs []error
	for _, w := range mw.writers {
		if err := w.Write(r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WriteLog forwards an entry to every writer that accepts log entries.
func (mw *MultiWriter) WriteLog(e eventlog.Entry) error {
	var errs []error
	for _, w := range mw.writers {
		if lw, ok := w.(LogWriter); ok {
			if err := lw.WriteLog(e); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Flush flushes every writer that buffers.
func (mw *MultiWriter) Flush() error {
	var errs []error
	for _, w := range mw.writers {
		if f, ok := w.(interface{ Flush() error }); ok {
			if err := f.Flush(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
