// Package sink exports reconciled telemetry records to files, stdout and
// GreptimeDB, and replays recorded files.
package sink

import "teleop-dash/internal/telemetry"

// Writer receives one record per successful reconciliation.
type Writer interface {
	Write(telemetry.Record) error
}

// BatchWriter accepts several records in one call.
type BatchWriter interface {
	WriteBatch([]telemetry.Record) error
}

// WriterFunc adapts a function to Writer.
type WriterFunc func(telemetry.Record) error

// Write calls f(r).
func (f WriterFunc) Write(r telemetry.Record) error { return f(r) }
