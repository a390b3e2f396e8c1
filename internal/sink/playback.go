package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"teleop-dash/internal/telemetry"
)

// ReplayLog replays records from r to writer. A speed >0 scales the original
// spacing between records; if speed <= 0, no artificial delay is inserted.
func ReplayLog(ctx context.Context, r io.Reader, writer Writer, speed float64) error {
	dec := json.NewDecoder(r)
	var prev time.Time
	for line := 1; ; line++ {
		var rec telemetry.Record
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("record %d: %w", line, err)
		}
		if !prev.IsZero() && speed > 0 {
			diff := rec.Timestamp.Sub(prev)
			if speed != 1 {
				diff = time.Duration(float64(diff) / speed)
			}
			if diff > 0 {
				timer := time.NewTimer(diff)
				select {
				case <-ctx.Done():
					timer.Stop()
					return ctx.Err()
				case <-timer.C:
				}
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := writer.Write(rec); err != nil {
			return err
		}
		prev = rec.Timestamp
	}
}

// ReplayLogFile opens a file and replays its records.
func ReplayLogFile(ctx context.Context, path string, writer Writer, speed float64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return ReplayLog(ctx, f, writer, speed)
}

// ReadRecords loads every record of a JSONL file into memory.
func ReadRecords(path string) ([]telemetry.Record, error) {
	var out []telemetry.Record
	err := ReplayLogFile(context.Background(), path, WriterFunc(func(r telemetry.Record) error {
		out = append(out, r)
		return nil
	}), 0)
	return out, err
}
