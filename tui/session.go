// ABOUTME: Bridge connecting the dialog engine to the Bubble Tea message loop.
// ABOUTME: Provides tea.Cmd factories for engine ticks, pause timers, and the elapsed-time clock.
package tui

import (
	"context"
	"time"

	"github.com/2389-research/parley/dialog"
	tea "github.com/charmbracelet/bubbletea"
)

// pauseSlack pads pause timers so the engine's elapsed check has passed by
// the time the nudge lands.
const pauseSlack = 50 * time.Millisecond

// parkPollDelay is how often a parked pause node is re-nudged when its timer
// fired early.
const parkPollDelay = 250 * time.Millisecond

// ProcessCmd runs one engine tick off the UI goroutine and reports the
// result as a TickResultMsg. Dialogs are single-ticker: the model keeps at
// most one ProcessCmd in flight at a time.
func ProcessCmd(d *dialog.Dialog, response *string, extras map[string]any) tea.Cmd {
	return func() tea.Msg {
		before := len(d.Transitions)
		actions, err := d.Process(context.Background(), response, extras)
		return TickResultMsg{
			Actions: actions,
			Grew:    len(d.Transitions) > before,
			Err:     err,
		}
	}
}

// NudgeAfterCmd schedules a nil-response tick after the given delay, used to
// honor pause durations and to poll parked nodes.
func NudgeAfterCmd(delay time.Duration) tea.Cmd {
	return tea.Tick(delay, func(time.Time) tea.Msg { return NudgeMsg{} })
}

// ClockCmd emits a ClockMsg after one second so the status bar's elapsed
// time stays fresh.
func ClockCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return ClockMsg{Time: t} })
}
