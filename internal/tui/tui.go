// Package tui renders a dashboard session in the terminal with bubbletea.
package tui

import (
	"context"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"teleop-dash/internal/recording"
	"teleop-dash/internal/session"
)

// Controller issues user commands to a running session.
type Controller interface {
	StartRecording(ctx context.Context) error
	SaveRecording(ctx context.Context) error
	DiscardRecording(ctx context.Context) error
	SaveSettings(ctx context.Context, settings recording.DatasetSettings) error
	DismissWarning(ctx context.Context) error
	ClearLog(ctx context.Context) error
}

// teaProgram abstracts bubbletea.Program for testing.
type teaProgram interface {
	Send(tea.Msg)
}

// snapshotMsg carries a published session snapshot.
type snapshotMsg struct{ session.Snapshot }

// resultMsg reports the outcome of a command run off the update loop.
type resultMsg struct {
	action string
	err    error
}

const commandTimeout = 5 * time.Second

// Dashboard owns the bubbletea program and feeds it session snapshots.
type Dashboard struct {
	program   teaProgram
	done      chan struct{}
	err       atomic.Value
	onExitRun atomic.Bool
}

// New starts the terminal UI for ctrl. onExit runs once when the user quits,
// typically cancelling the session context.
func New(ctrl Controller, initial session.Snapshot, onExit func(), opts ...tea.ProgramOption) *Dashboard {
	d := &Dashboard{done: make(chan struct{})}
	d.onExitRun.Store(true)
	if len(opts) == 0 {
		opts = []tea.ProgramOption{tea.WithAltScreen()}
	}
	p := tea.NewProgram(newModel(ctrl, initial), opts...)
	d.program = p
	go func() {
		if _, err := p.Run(); err != nil {
			d.err.Store(err)
		}
		close(d.done)
		if onExit != nil && d.onExitRun.Load() {
			onExit()
		}
	}()
	return d
}

// Update forwards a snapshot to the UI. It is meant to be registered with
// session.Subscribe.
func (d *Dashboard) Update(s session.Snapshot) {
	d.program.Send(snapshotMsg{s})
}

// Done is closed when the UI has exited.
func (d *Dashboard) Done() <-chan struct{} { return d.done }

// Err returns the error the program exited with, if any.
func (d *Dashboard) Err() error {
	if err, ok := d.err.Load().(error); ok {
		return err
	}
	return nil
}

// Close shuts down the TUI program and waits for cleanup.
func (d *Dashboard) Close() error {
	d.onExitRun.Store(false)
	if d.program != nil {
		d.program.Send(tea.Quit())
	}
	if d.done != nil {
		<-d.done
	}
	return d.Err()
}

// run executes fn with a bounded context and reports the result as a message.
func run(action string, fn func(context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		return resultMsg{action: action, err: fn(ctx)}
	}
}
