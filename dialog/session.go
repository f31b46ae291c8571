// ABOUTME: The dialog session: a script snapshot, a metadata map, and an append-only transition log.
// ABOUTME: Process drives one tick through an ephemeral machine; finish reasons record how it ended.
package dialog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"runtime/debug"
	"time"
)

// FinishReason records how a dialog ended.
type FinishReason string

const (
	FinishNotFinished     FinishReason = "not_finished"
	FinishDialogConcluded FinishReason = "dialog_concluded"
	FinishUserCancelled   FinishReason = "user_cancelled"
	FinishDialogCancelled FinishReason = "dialog_cancelled"
	FinishDialogError     FinishReason = "dialog_error"
	FinishTimedOut        FinishReason = "timed_out"
)

// ScriptResolver locates embeddable scripts for the embed expander. The
// store satisfies this over its scripts table; DirSource over a directory.
type ScriptResolver interface {
	// FindScript returns the embeddable script with the given identifier,
	// or (nil, nil) when no such script exists.
	FindScript(identifier string) (*Script, error)
}

// Dialog is one live conversation over a frozen snapshot of a script. It is
// not safe for concurrent use: hosts run at most one tick at a time per
// dialog.
type Dialog struct {
	Key          string
	Script       *Script
	Snapshot     []map[string]any
	Started      time.Time
	Finished     *time.Time
	FinishReason FinishReason
	Metadata     map[string]any
	Transitions  []LogEntry

	resolver ScriptResolver
	renderer *Renderer
	clock    func() time.Time
	rng      *rand.Rand
	logger   *slog.Logger
	parsers  []NodeParser
}

var _ Host = (*Dialog)(nil)

// DialogConfig carries construction inputs. Zero values fall back to
// defaults: wall clock, time-seeded random source, slog.Default(), the
// registered parser set, and a renderer with the default fallback message.
type DialogConfig struct {
	Key      string
	Script   *Script
	Snapshot []map[string]any
	Metadata map[string]any
	Resolver ScriptResolver
	Renderer *Renderer
	Clock    func() time.Time
	Rng      *rand.Rand
	Logger   *slog.Logger
	Parsers  []NodeParser
}

// NewDialog creates a fresh dialog and notifies registered extensions. A
// missing key is filled with a generated ULID.
func NewDialog(cfg DialogConfig) *Dialog {
	d := newDialog(cfg)
	d.Started = d.clock()
	notifyDialogInitialized(d)
	return d
}

// RestoreDialog rebuilds a previously persisted dialog without firing
// creation hooks. The caller assigns Started, Finished, Metadata, and
// Transitions from its records.
func RestoreDialog(cfg DialogConfig) *Dialog {
	return newDialog(cfg)
}

func newDialog(cfg DialogConfig) *Dialog {
	d := &Dialog{
		Key:          cfg.Key,
		Script:       cfg.Script,
		Snapshot:     cfg.Snapshot,
		FinishReason: FinishNotFinished,
		Metadata:     cfg.Metadata,
		resolver:     cfg.Resolver,
		renderer:     cfg.Renderer,
		clock:        cfg.Clock,
		rng:          cfg.Rng,
		logger:       cfg.Logger,
		parsers:      cfg.Parsers,
	}
	if d.Key == "" {
		d.Key = NewULID()
	}
	if d.Metadata == nil {
		d.Metadata = map[string]any{}
	}
	if d.clock == nil {
		d.clock = time.Now
	}
	if d.rng == nil {
		d.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	if d.renderer == nil {
		d.renderer = NewRenderer("", d.logger)
	}
	return d
}

// IsActive reports whether the dialog can still process ticks.
func (d *Dialog) IsActive() bool { return d.Finished == nil }

// IsValid reports whether the dialog has something to run: an existing
// snapshot or a script with a non-empty definition.
func (d *Dialog) IsValid() bool {
	if len(d.Snapshot) > 0 {
		return true
	}
	return d.Script != nil && d.Script.IsValid()
}

// LastTransition returns the newest log entry, or nil for a fresh dialog.
func (d *Dialog) LastTransition() *LogEntry {
	if len(d.Transitions) == 0 {
		return nil
	}
	return &d.Transitions[len(d.Transitions)-1]
}

// CurrentStateID returns the node id the dialog is sitting at, or nil
// before the first transition.
func (d *Dialog) CurrentStateID() *string {
	last := d.LastTransition()
	if last == nil {
		return nil
	}
	return strPtr(last.StateID)
}

// Process runs one tick: scan interrupts, dispatch the current node, append
// at most one log entry, and return the rendered actions the host should
// execute. A nil response is a nudge; extras carry host context into node
// evaluation and template rendering. Finished dialogs return nothing.
//
// A DialogError finishes the dialog with reason dialog_error, records the
// diagnostic under metadata "dialog_error", and is returned to the caller.
func (d *Dialog) Process(ctx context.Context, response *string, extras map[string]any) ([]Action, error) {
	if d.Finished != nil {
		return nil, nil
	}
	if extras == nil {
		extras = map[string]any{}
	}
	if err := d.ensureSnapshot(); err != nil {
		return nil, d.fail(err)
	}
	last := d.LastTransition()
	machine, err := NewMachine(d.Snapshot, d.machineConfig())
	if err != nil {
		return nil, d.fail(err)
	}
	if last != nil {
		machine.AdvanceTo(last.StateID)
	}
	tr, err := machine.Evaluate(ctx, response, last, extras)
	if err != nil {
		return nil, d.fail(err)
	}
	if tr == nil {
		return nil, nil
	}
	stateChanged := last == nil || tr.NewStateID == nil || *tr.NewStateID != last.StateID
	if !stateChanged && !tr.Refresh {
		return nil, nil
	}
	if tr.NewStateID == nil {
		return d.conclude(tr, extras), nil
	}
	entry := LogEntry{
		ID:       NewULID(),
		When:     d.clock(),
		StateID:  *tr.NewStateID,
		Metadata: tr.Metadata,
	}
	if last != nil {
		entry.PriorStateID = strPtr(last.StateID)
	}
	d.Transitions = append(d.Transitions, entry)
	d.logger.Debug("dialog transition",
		slog.String("dialog", d.Key),
		slog.String("state", entry.StateID),
		slog.String("reason", entry.Reason()))
	notifyDialogUpdated(d, entry)
	return d.renderer.RenderActions(entry.Actions(), renderScope(d.Metadata, extras)), nil
}

// conclude finishes the dialog on a nil-destination transition, keeping the
// final transition's details in metadata and handing any exit actions back
// to the host.
func (d *Dialog) conclude(tr *Transition, extras map[string]any) []Action {
	now := d.clock()
	d.Finished = &now
	d.FinishReason = FinishDialogConcluded
	d.Metadata["last_transition_details"] = deepCopyValue(tr.Metadata)
	d.logger.Info("dialog concluded",
		slog.String("dialog", d.Key),
		slog.String("reason", tr.Reason()))
	notifyDialogFinished(d)
	return d.renderer.RenderActions(tr.ExitActions(), renderScope(d.Metadata, extras))
}

// fail finishes the dialog with reason dialog_error and records the
// diagnostic. The typed DialogError is handed back for the host's logs.
func (d *Dialog) fail(err error) error {
	var dialogErr *DialogError
	if !errors.As(err, &dialogErr) {
		dialogErr = &DialogError{Msg: "dialog tick failed", Err: err}
	}
	if dialogErr.Stack == nil {
		dialogErr.Stack = debug.Stack()
	}
	d.Metadata["dialog_error"] = dialogErr.Error() + "\n" + string(dialogErr.Stack)
	now := d.clock()
	d.Finished = &now
	d.FinishReason = FinishDialogError
	d.logger.Error("dialog failed",
		slog.String("dialog", d.Key),
		slog.String("error", dialogErr.Error()))
	notifyDialogFinished(d)
	return dialogErr
}

// ensureSnapshot freezes the script definition on first use, expanding any
// embed-dialog nodes in place when a resolver is attached.
func (d *Dialog) ensureSnapshot() error {
	if len(d.Snapshot) > 0 {
		return nil
	}
	if d.Script == nil || len(d.Script.Definition) == 0 {
		return &DialogError{Msg: "dialog has no script to run"}
	}
	d.Snapshot = ExpandEmbeds(deepCopyDefinition(d.Script.Definition), d.resolver, d.logger)
	return nil
}

func (d *Dialog) machineConfig() MachineConfig {
	name := d.Key
	if d.Script != nil && d.Script.Name != "" {
		name = d.Script.Name
	}
	return MachineConfig{
		Name:     name,
		Metadata: d.Metadata,
		Host:     d,
		Renderer: d.renderer,
		Clock:    d.clock,
		Rng:      d.rng,
		Logger:   d.logger,
		Parsers:  d.parsers,
	}
}

// AdvanceTo forces the dialog to the named node, appending a log entry that
// carries the previous entry's metadata, and returns the destination's
// rendered actions. Normal flow goes through Process; this exists for hosts
// that need to skip ahead.
func (d *Dialog) AdvanceTo(id string) ([]Action, error) {
	if d.Finished != nil {
		return nil, nil
	}
	if err := d.ensureSnapshot(); err != nil {
		return nil, d.fail(err)
	}
	machine, err := NewMachine(d.Snapshot, d.machineConfig())
	if err != nil {
		return nil, d.fail(err)
	}
	node := machine.FetchNode(id)
	if node == nil {
		return nil, fmt.Errorf("advance to unknown node %q", id)
	}
	metadata := map[string]any{}
	last := d.LastTransition()
	if last != nil && last.Metadata != nil {
		metadata, _ = deepCopyValue(last.Metadata).(map[string]any)
	}
	actions := node.Actions()
	if len(actions) == 0 {
		metadata["actions"] = nil
	} else {
		metadata["actions"] = actions
	}
	entry := LogEntry{ID: NewULID(), When: d.clock(), StateID: id, Metadata: metadata}
	if last != nil {
		entry.PriorStateID = strPtr(last.StateID)
	}
	d.Transitions = append(d.Transitions, entry)
	notifyDialogUpdated(d, entry)
	return d.renderer.RenderActions(actions, renderScope(d.Metadata, nil)), nil
}

// Finish stamps the dialog finished with the given reason. Finishing twice
// is a no-op; an empty or not_finished reason records dialog_cancelled.
func (d *Dialog) Finish(reason FinishReason) {
	if d.Finished != nil {
		return
	}
	if reason == "" || reason == FinishNotFinished {
		reason = FinishDialogCancelled
	}
	now := d.clock()
	d.Finished = &now
	d.FinishReason = reason
	d.logger.Info("dialog finished",
		slog.String("dialog", d.Key),
		slog.String("reason", string(reason)))
	notifyDialogFinished(d)
}

// Cancel finishes the dialog on the host's behalf.
func (d *Dialog) Cancel() { d.Finish(FinishDialogCancelled) }

// CancelByUser finishes the dialog at the user's request.
func (d *Dialog) CancelByUser() { d.Finish(FinishUserCancelled) }

// Timeout finishes the dialog after host-side inactivity.
func (d *Dialog) Timeout() { d.Finish(FinishTimedOut) }

// PriorTransitions returns log entries that landed on stateID, optionally
// narrowed by prior state and reason. Empty strings match anything.
func (d *Dialog) PriorTransitions(stateID, priorStateID, reason string) []LogEntry {
	var out []LogEntry
	for _, entry := range d.Transitions {
		if stateID != "" && entry.StateID != stateID {
			continue
		}
		if priorStateID != "" && (entry.PriorStateID == nil || *entry.PriorStateID != priorStateID) {
			continue
		}
		if reason != "" && entry.Reason() != reason {
			continue
		}
		out = append(out, entry)
	}
	return out
}

// StartedAt reports when the dialog started.
func (d *Dialog) StartedAt() time.Time { return d.Started }

// renderScope merges dialog metadata, the variable store, and call-site
// extras into one template scope: stored values shadow metadata keys, and
// extras shadow both.
func renderScope(metadata, extras map[string]any) map[string]any {
	scope := map[string]any{}
	for k, v := range metadata {
		scope[k] = v
	}
	for k, v := range valuesOf(metadata) {
		scope[k] = v
	}
	for k, v := range extras {
		scope[k] = v
	}
	return scope
}
