// ABOUTME: Bubble Tea message types used in the TUI message loop.
// ABOUTME: Each type wraps a session event for the tea.Msg interface (which is interface{}).
package tui

import (
	"time"

	"github.com/2389-research/parley/dialog"
)

// TickResultMsg carries the outcome of one engine tick back into the message
// loop: the actions to execute, whether the transition log grew, and any
// evaluation error.
type TickResultMsg struct {
	Actions []dialog.Action
	Grew    bool
	Err     error
}

// NudgeMsg asks the session loop to run a nil-response tick. Sent by pause
// timers and park polls.
type NudgeMsg struct{}

// ClockMsg refreshes the elapsed-time display.
type ClockMsg struct {
	Time time.Time
}
