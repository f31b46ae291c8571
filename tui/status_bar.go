// ABOUTME: Implements a single-line status bar for the bottom of the TUI showing session state.
// ABOUTME: Displays the dialog key, script name, current node, elapsed time, and finish reason.
package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// StatusBarModel displays session status in a single line.
type StatusBarModel struct {
	dialogKey   string
	scriptName  string
	startTime   time.Time
	currentNode string
	finish      string
	width       int
}

// NewStatusBarModel creates a StatusBarModel for the given session.
func NewStatusBarModel(dialogKey, scriptName string) StatusBarModel {
	return StatusBarModel{
		dialogKey:  dialogKey,
		scriptName: scriptName,
	}
}

// StartAt records when the session began, for the elapsed display.
func (m *StatusBarModel) StartAt(t time.Time) {
	m.startTime = t
}

// SetCurrentNode updates the node the dialog is parked at.
func (m *StatusBarModel) SetCurrentNode(id string) {
	m.currentNode = id
}

// SetFinish records the session's finish reason.
func (m *StatusBarModel) SetFinish(reason string) {
	m.finish = reason
}

// SetWidth sets the bar width for rendering.
func (m *StatusBarModel) SetWidth(w int) {
	m.width = w
}

// Elapsed returns the time since the session began, or zero if unknown.
func (m StatusBarModel) Elapsed() time.Duration {
	if m.startTime.IsZero() {
		return 0
	}
	return time.Since(m.startTime)
}

// formatElapsed formats a duration as a human-readable string.
// Durations under a minute show as seconds (e.g. "12s").
// Durations of a minute or more show as minutes and seconds (e.g. "2m30s").
func formatElapsed(d time.Duration) string {
	d = d.Truncate(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) - minutes*60
	return fmt.Sprintf("%dm%ds", minutes, seconds)
}

// View renders the status bar as a single styled line.
func (m StatusBarModel) View() string {
	node := m.currentNode
	if node == "" {
		node = "-"
	}

	state := "live"
	if m.finish != "" {
		state = "finished: " + m.finish
	}

	content := fmt.Sprintf("Dialog: %s | Script: %s | Node: %s | Elapsed: %s | %s",
		m.dialogKey, m.scriptName, node, formatElapsed(m.Elapsed()), state)

	style := StatusBarStyle.Width(m.width)

	return lipgloss.PlaceHorizontal(m.width, lipgloss.Left, style.Render(content))
}
