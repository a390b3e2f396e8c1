package main

import (
	"io"
	"log/slog"

	"teleop-dash/internal/config"
	"teleop-dash/internal/sink"
)

// newSink sets up the telemetry sinks named by cfg.Export. A non-nil stdout
// adds a JSON-lines writer. GreptimeDB exports go through an AsyncWriter and
// onError is called for each failed batch. It returns nil when nothing is
// configured, plus a cleanup function to close any resources.
func newSink(cfg *config.Config, stdout io.Writer, log *slog.Logger, onError func(error)) (sink.Writer, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	var ws []sink.Writer

	if cfg.Export.File != "" || cfg.Export.EventLog != "" {
		fw, err := sink.NewFileWriter(cfg.Export.File, cfg.Export.EventLog)
		if err != nil {
			return nil, nil, err
		}
		ws = append(ws, fw)
		closers = append(closers, func() {
			if err := fw.Close(); err != nil {
				log.Warn("[Main] closing export file", "err", err)
			}
		})
	}
	if g := cfg.Export.Greptime; g.Endpoint != "" {
		gw, err := sink.NewGreptimeDBWriter(g.Endpoint, g.Database, g.Table, log)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		log.Info("[Main] exporting telemetry to GreptimeDB", "endpoint", g.Endpoint, "table", gw.Table())
		aw := sink.NewAsyncWriter(gw, 0, log, onError)
		ws = append(ws, aw)
		closers = append(closers, func() {
			if err := aw.Close(); err != nil {
				log.Warn("[Main] flushing GreptimeDB export", "err", err)
			}
		})
	}
	if stdout != nil {
		ws = append(ws, sink.NewJSONWriter(stdout))
	}

	if len(ws) == 0 {
		return nil, cleanup, nil
	}
	return sink.NewMultiWriter(ws...), cleanup, nil
}

// replayWriter chooses the replay target: GreptimeDB when configured and
// printOnly is unset, STDOUT otherwise.
func replayWriter(cfg *config.Config, printOnly bool, stdout io.Writer, log *slog.Logger) (sink.Writer, error) {
	if printOnly || cfg.Export.Greptime.Endpoint == "" {
		return sink.NewJSONWriter(stdout), nil
	}
	g := cfg.Export.Greptime
	return sink.NewGreptimeDBWriter(g.Endpoint, g.Database, g.Table, log)
}
