package session

import (
	"context"

	"teleop-dash/internal/recording"
)

const (
	cmdStart        = "start"
	cmdSave         = "save"
	cmdDiscard      = "discard"
	cmdSaveSettings = "save_settings"
	cmdDismiss      = "dismiss_warning"
	cmdClearLog     = "clear_log"
)

// StartRecording asks the robot to begin recording.
func (s *Session) StartRecording(ctx context.Context) error {
	return s.do(ctx, &command{name: cmdStart})
}

// SaveRecording ends the recording and keeps it.
func (s *Session) SaveRecording(ctx context.Context) error {
	return s.do(ctx, &command{name: cmdSave})
}

// DiscardRecording ends the recording and drops it.
func (s *Session) DiscardRecording(ctx context.Context) error {
	return s.do(ctx, &command{name: cmdDiscard})
}

// SaveSettings sends the dataset configuration to the robot.
func (s *Session) SaveSettings(ctx context.Context, settings recording.DatasetSettings) error {
	return s.do(ctx, &command{name: cmdSaveSettings, settings: settings})
}

// DismissWarning clears the blocking warning.
func (s *Session) DismissWarning(ctx context.Context) error {
	return s.do(ctx, &command{name: cmdDismiss})
}

// ClearLog empties the event log.
func (s *Session) ClearLog(ctx context.Context) error {
	return s.do(ctx, &command{name: cmdClearLog})
}

// do posts cmd to the session loop and waits for its result.
func (s *Session) do(ctx context.Context, cmd *command) error {
	cmd.reply = make(chan error, 1)
	select {
	case s.queue <- event{kind: evCommand, cmd: cmd}:
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}
