// ABOUTME: Implements the scrolling conversation pane using the bubbles viewport component.
// ABOUTME: Holds everything the dialog said, everything the user answered, and host notices.
package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
)

// TranscriptModel is a scrollable transcript of the conversation so far.
type TranscriptModel struct {
	lines    []string
	max      int
	viewport viewport.Model
	width    int
	height   int
}

// NewTranscriptModel creates a transcript holding at most maxLines lines.
// If maxLines is <= 0, it defaults to 500.
func NewTranscriptModel(maxLines int) TranscriptModel {
	if maxLines <= 0 {
		maxLines = 500
	}
	vp := viewport.New(80, 20)
	return TranscriptModel{
		lines:    make([]string, 0, maxLines),
		max:      maxLines,
		viewport: vp,
	}
}

// AppendBot records a line spoken by the dialog.
func (m *TranscriptModel) AppendBot(text string) {
	m.append(BotStyle.Render(text))
}

// AppendUser records the user's response.
func (m *TranscriptModel) AppendUser(text string) {
	m.append(UserStyle.Render("> " + text))
}

// AppendAlert records an operator alert raised by the dialog.
func (m *TranscriptModel) AppendAlert(text string) {
	m.append(AlertStyle.Render("! " + text))
}

// AppendSystem records a host-level notice.
func (m *TranscriptModel) AppendSystem(text string) {
	m.append(SystemStyle.Render("* " + text))
}

// append adds a line, evicting the oldest entry if at capacity.
func (m *TranscriptModel) append(line string) {
	if len(m.lines) >= m.max {
		m.lines = m.lines[1:]
	}
	m.lines = append(m.lines, line)
	m.syncViewport()
}

// Len returns the number of transcript lines.
func (m TranscriptModel) Len() int {
	return len(m.lines)
}

// Last returns the newest transcript line, or "" for an empty transcript.
func (m TranscriptModel) Last() string {
	if len(m.lines) == 0 {
		return ""
	}
	return m.lines[len(m.lines)-1]
}

// SetSize sets the available dimensions and updates the viewport.
func (m *TranscriptModel) SetSize(w, h int) {
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	m.width = w
	m.height = h
	m.viewport.Width = w
	m.viewport.Height = h
	m.syncViewport()
}

// View renders the transcript pane.
func (m TranscriptModel) View() string {
	if len(m.lines) == 0 {
		return SystemStyle.Render("(no messages yet)")
	}
	return m.viewport.View()
}

// syncViewport rebuilds the viewport content and scrolls to the bottom.
func (m *TranscriptModel) syncViewport() {
	m.viewport.SetContent(strings.Join(m.lines, "\n"))
	m.viewport.GotoBottom()
}
