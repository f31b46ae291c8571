// ABOUTME: Top-level Bubble Tea Model that runs one interactive dialog session in the terminal.
// ABOUTME: Implements tea.Model (Init, Update, View) and routes tick results, nudges, and keys.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/2389-research/parley/dialog"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// sessionMode indicates what the session is currently waiting on.
type sessionMode int

const (
	modeBusy   sessionMode = iota // a tick is in flight or scheduled
	modeInput                     // waiting for a typed response
	modeChoice                    // waiting for an external choice selection
	modeDone                      // dialog finished
)

// Model is the top-level Bubble Tea model that drives one dialog session. It
// owns the transcript, the input line, the choice menu, and the status bar,
// and keeps at most one engine tick in flight at a time.
type Model struct {
	dialog *dialog.Dialog

	transcript TranscriptModel
	input      textinput.Model
	menu       ChoiceMenuModel
	statusBar  StatusBarModel

	mode     sessionMode
	ticking  bool // a ProcessCmd is in flight
	quitting bool // quit requested while a tick was in flight

	width  int
	height int
	ready  bool
}

// NewModel creates a Model for the given dialog. The dialog may be fresh or
// restored from the store; either way the first tick nudges it forward.
func NewModel(d *dialog.Dialog) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Type a response..."

	scriptName := ""
	if d.Script != nil {
		scriptName = d.Script.Name
	}
	sb := NewStatusBarModel(d.Key, scriptName)
	sb.StartAt(d.Started)

	return Model{
		dialog:     d,
		transcript: NewTranscriptModel(500),
		input:      ti,
		menu:       NewChoiceMenuModel(),
		statusBar:  sb,
		mode:       modeBusy,
		// Init issues the first tick but runs on a value receiver, so the
		// in-flight marker has to be set here rather than there.
		ticking: true,
	}
}

// Init implements tea.Model. Returns a batch of initial commands: the first
// engine tick, the cursor blink, and the once-a-second clock for the
// elapsed display.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		ProcessCmd(m.dialog, nil, nil),
		ClockCmd(),
	)
}

// Update implements tea.Model. Routes incoming messages to the appropriate
// handler and returns the updated model with any follow-up commands.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return m.handleWindowSize(msg)

	case TickResultMsg:
		return m.handleTickResult(msg)

	case NudgeMsg:
		return m.handleNudge(msg)

	case ClockMsg:
		return m.handleClock(msg)

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	// Everything else (cursor blinks and the like) belongs to the input line.
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View implements tea.Model. Renders the transcript, the active input area,
// and the status bar.
func (m Model) View() string {
	if !m.ready {
		return "Initializing..."
	}

	// Minimum terminal size guard to prevent layout overflow
	if m.width < 40 || m.height < 8 {
		return fmt.Sprintf("Terminal too small (%dx%d). Minimum: 40x8.", m.width, m.height)
	}

	var inputView string
	switch m.mode {
	case modeChoice:
		inputView = m.menu.View()
	case modeDone:
		inputView = SystemStyle.Render("press q to exit")
	default:
		inputView = m.input.View()
	}

	var b strings.Builder
	b.WriteString(m.transcript.View())
	b.WriteString("\n")
	b.WriteString(inputView)
	b.WriteString("\n")
	b.WriteString(m.statusBar.View())

	return b.String()
}

// handleWindowSize updates dimensions on all panels.
func (m Model) handleWindowSize(msg tea.WindowSizeMsg) (tea.Model, tea.Cmd) {
	m.width = msg.Width
	m.height = msg.Height
	m.ready = true
	m.resize()
	return m, nil
}

// handleTickResult folds one engine tick into the session: render the
// returned actions, then decide whether to keep ticking, wait for the user,
// or finish.
func (m Model) handleTickResult(msg TickResultMsg) (tea.Model, tea.Cmd) {
	m.ticking = false

	if m.quitting {
		m.dialog.CancelByUser()
		return m, tea.Quit
	}

	if msg.Err != nil {
		m.transcript.AppendSystem(fmt.Sprintf("error: %v", msg.Err))
		return m.finish()
	}

	var (
		waiting  bool
		choosing bool
		pausing  bool
		pause    time.Duration
	)

	for _, action := range msg.Actions {
		switch action.Type() {
		case dialog.ActionEcho:
			if text, ok := action["message"].(string); ok {
				m.transcript.AppendBot(text)
			}
		case dialog.ActionRaiseAlert:
			if text, ok := action["message"].(string); ok {
				m.transcript.AppendAlert(text)
			}
		case dialog.ActionPause:
			if secs, ok := action["duration"].(float64); ok {
				pause = time.Duration(secs * float64(time.Second))
			}
			pausing = true
		case dialog.ActionWaitForInput:
			waiting = true
		case dialog.ActionExternalChoice:
			m.menu.SetChoices(ChoicesFromAction(action))
			choosing = m.menu.Len() > 0
		default:
			dialog.ApplyValueAction(m.dialog, action)
		}
	}

	if id := m.dialog.CurrentStateID(); id != nil {
		m.statusBar.SetCurrentNode(*id)
	}

	if !m.dialog.IsActive() {
		return m.finish()
	}

	switch {
	case choosing:
		m.mode = modeChoice
		m.input.Blur()
		m.resize()
		return m, nil

	case pausing:
		m.mode = modeBusy
		return m, NudgeAfterCmd(pause + pauseSlack)

	case waiting:
		return m.unlockInput()

	case msg.Grew:
		// The dialog moved and may keep moving; tick again immediately.
		m.ticking = true
		return m, ProcessCmd(m.dialog, nil, nil)

	default:
		// Settled without asking for anything. A parked pause gets polled
		// until its clock runs out; anything else is an implicit prompt.
		if m.currentNodeType() == "pause" {
			m.mode = modeBusy
			return m, NudgeAfterCmd(parkPollDelay)
		}
		return m.unlockInput()
	}
}

// handleNudge issues a fresh tick after a scheduled delay. Stale nudges that
// land once the session is waiting on the user are dropped.
func (m Model) handleNudge(_ NudgeMsg) (tea.Model, tea.Cmd) {
	if m.ticking || m.mode != modeBusy {
		return m, nil
	}
	m.ticking = true
	return m, ProcessCmd(m.dialog, nil, nil)
}

// handleClock re-renders for the elapsed display and schedules the next beat.
func (m Model) handleClock(_ ClockMsg) (tea.Model, tea.Cmd) {
	if m.mode == modeDone {
		return m, nil
	}
	return m, ClockCmd()
}

// handleKey processes keyboard input, routing to the input line or the
// choice menu depending on mode.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()

	if key == "ctrl+c" {
		return m.quit()
	}
	if key == "q" && m.mode != modeInput {
		return m.quit()
	}

	switch m.mode {
	case modeInput:
		return m.handleInputKey(msg)
	case modeChoice:
		return m.handleChoiceKey(msg)
	}

	return m, nil
}

// handleInputKey feeds keys to the text input, submitting on enter.
func (m Model) handleInputKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyEnter {
		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			return m, nil
		}
		m.transcript.AppendUser(text)
		m.input.Reset()
		m.input.Blur()
		m.mode = modeBusy
		m.ticking = true
		m.resize()
		return m, ProcessCmd(m.dialog, &text, nil)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// handleChoiceKey moves the menu cursor and submits selections. Digit keys
// select and submit in one stroke.
func (m Model) handleChoiceKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		m.menu.MoveUp()
		return m, nil
	case "down", "j":
		m.menu.MoveDown()
		return m, nil
	case "enter":
		return m.submitChoice()
	case "1", "2", "3", "4", "5", "6", "7", "8", "9":
		n := int(msg.String()[0] - '0')
		if m.menu.Select(n - 1) {
			return m.submitChoice()
		}
		return m, nil
	}

	return m, nil
}

// submitChoice hands the selected choice identifier to the engine as an
// external response.
func (m Model) submitChoice() (tea.Model, tea.Cmd) {
	choice, ok := m.menu.Selected()
	if !ok {
		return m, nil
	}
	m.transcript.AppendUser(choice.Label)
	m.menu.Clear()
	m.mode = modeBusy
	m.ticking = true
	m.resize()
	id := choice.Identifier
	return m, ProcessCmd(m.dialog, &id, map[string]any{"is_external": true})
}

// unlockInput opens the text input for the next response.
func (m Model) unlockInput() (tea.Model, tea.Cmd) {
	m.mode = modeInput
	m.resize()
	return m, m.input.Focus()
}

// finish closes the session view. The dialog itself has already been stamped
// with its finish reason.
func (m Model) finish() (tea.Model, tea.Cmd) {
	m.mode = modeDone
	m.ticking = false
	m.input.Blur()
	m.menu.Clear()
	m.statusBar.SetFinish(string(m.dialog.FinishReason))
	m.transcript.AppendSystem(fmt.Sprintf("dialog finished: %s", m.dialog.FinishReason))
	m.resize()
	return m, nil
}

// quit ends the session at the user's request. A tick in flight is allowed
// to land first; dialogs are not safe for concurrent use.
func (m Model) quit() (tea.Model, tea.Cmd) {
	if m.mode == modeDone {
		return m, tea.Quit
	}
	if m.ticking {
		m.quitting = true
		return m, nil
	}
	m.dialog.CancelByUser()
	return m, tea.Quit
}

// currentNodeType looks up the type of the node the dialog is parked at.
func (m Model) currentNodeType() string {
	id := m.dialog.CurrentStateID()
	if id == nil {
		return ""
	}
	for _, def := range m.dialog.Snapshot {
		if defID, _ := def["id"].(string); defID == *id {
			typ, _ := def["type"].(string)
			return typ
		}
	}
	return ""
}

// resize recomputes panel sizes from the current terminal dimensions and
// input area height. Safe to call before the first WindowSizeMsg.
func (m *Model) resize() {
	if m.width == 0 || m.height == 0 {
		return
	}

	inputArea := 1
	if m.mode == modeChoice {
		inputArea = m.menu.Len() + 1
	}

	transcriptHeight := m.height - 1 - inputArea
	if transcriptHeight < 1 {
		transcriptHeight = 1
	}

	m.transcript.SetSize(m.width, transcriptHeight)
	m.statusBar.SetWidth(m.width)
	m.input.Width = m.width - 4
}
