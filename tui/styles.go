// ABOUTME: Defines lipgloss style constants for the transcript, choice menu, and status bar.
// ABOUTME: Kept in one place so the conversation chrome stays visually consistent.
package tui

import "github.com/charmbracelet/lipgloss"

var (
	// Transcript speakers
	BotStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	UserStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("75")).Bold(true)
	AlertStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	SystemStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	// Choice menu
	ChoiceHeaderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("170")).Bold(true)
	ChoiceStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	ChoiceCursorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)

	// Status bar
	StatusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("252")).
			Padding(0, 1)
)
