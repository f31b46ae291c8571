// ABOUTME: Numbered selection menu for external-choice nodes.
// ABOUTME: Converts choice actions into selectable options and renders the cursor-driven list.
package tui

import (
	"fmt"
	"strings"

	"github.com/2389-research/parley/dialog"
)

// Choice is one selectable option offered by an external-choice node. The
// identifier is what the dialog matches on; the label is what the user sees.
type Choice struct {
	Identifier string
	Label      string
}

// ChoiceMenuModel is the numbered menu shown when the dialog waits on an
// external choice.
type ChoiceMenuModel struct {
	choices []Choice
	cursor  int
}

// NewChoiceMenuModel creates an empty choice menu.
func NewChoiceMenuModel() ChoiceMenuModel {
	return ChoiceMenuModel{}
}

// SetChoices replaces the menu's options and resets the cursor.
func (m *ChoiceMenuModel) SetChoices(choices []Choice) {
	m.choices = choices
	m.cursor = 0
}

// Clear empties the menu.
func (m *ChoiceMenuModel) Clear() {
	m.choices = nil
	m.cursor = 0
}

// Len returns the number of options.
func (m ChoiceMenuModel) Len() int {
	return len(m.choices)
}

// MoveUp moves the cursor up one option, stopping at the top.
func (m *ChoiceMenuModel) MoveUp() {
	if m.cursor > 0 {
		m.cursor--
	}
}

// MoveDown moves the cursor down one option, stopping at the bottom.
func (m *ChoiceMenuModel) MoveDown() {
	if m.cursor < len(m.choices)-1 {
		m.cursor++
	}
}

// Select moves the cursor to index i. Returns false when i is out of range.
func (m *ChoiceMenuModel) Select(i int) bool {
	if i < 0 || i >= len(m.choices) {
		return false
	}
	m.cursor = i
	return true
}

// Selected returns the option under the cursor.
func (m ChoiceMenuModel) Selected() (Choice, bool) {
	if len(m.choices) == 0 {
		return Choice{}, false
	}
	return m.choices[m.cursor], true
}

// View renders the numbered menu with a cursor marker on the selected row.
func (m ChoiceMenuModel) View() string {
	if len(m.choices) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(ChoiceHeaderStyle.Render("Choose one:"))
	for i, choice := range m.choices {
		b.WriteString("\n")
		line := fmt.Sprintf("%d. %s", i+1, choice.Label)
		if i == m.cursor {
			b.WriteString(ChoiceCursorStyle.Render("> " + line))
		} else {
			b.WriteString(ChoiceStyle.Render("  " + line))
		}
	}
	return b.String()
}

// ChoicesFromAction extracts the options from an external-choice action. The
// choices key arrives either as the node's own []map or as []any after a
// JSON round trip; both shapes are handled. A missing label falls back to
// the identifier.
func ChoicesFromAction(action dialog.Action) []Choice {
	var items []map[string]any
	switch list := action["choices"].(type) {
	case []map[string]any:
		items = list
	case []any:
		for _, item := range list {
			if entry, ok := item.(map[string]any); ok {
				items = append(items, entry)
			}
		}
	}

	choices := make([]Choice, 0, len(items))
	for _, item := range items {
		identifier, _ := item["identifier"].(string)
		if identifier == "" {
			continue
		}
		label, _ := item["label"].(string)
		if label == "" {
			label = identifier
		}
		choices = append(choices, Choice{Identifier: identifier, Label: label})
	}
	return choices
}
