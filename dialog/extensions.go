// ABOUTME: Process-wide extension registry through which hosts add node parsers, lint checks,
// ABOUTME: custom-node environment bindings, and dialog lifecycle hooks.
package dialog

import (
	"fmt"
	"sync"
)

// Extension is a bundle of host-contributed hooks. Every field is optional;
// nil hooks are skipped.
type Extension struct {
	// Name identifies the extension in logs and diagnostics.
	Name string
	// Parsers are tried after the built-in node parsers.
	Parsers []NodeParser
	// UpdateCustomEnv adds bindings to the scope custom-node scripts
	// evaluate in.
	UpdateCustomEnv func(env map[string]any)
	// IdentifyScriptIssues contributes extra lint checks over a definition.
	IdentifyScriptIssues func(definition []map[string]any) []Issue
	// InitializeDialog runs when a dialog is created.
	InitializeDialog func(d *Dialog)
	// DialogUpdated runs after a dialog appends a transition.
	DialogUpdated func(d *Dialog, entry LogEntry)
	// FinishedDialog runs when a dialog finishes, whatever the reason.
	FinishedDialog func(d *Dialog)
	// CreateDialogFromPath lets an extension take over building a dialog
	// from a script path. Returning a nil dialog and nil error passes.
	CreateDialogFromPath func(path, dialogKey string) (*Dialog, error)
}

var (
	extMu      sync.RWMutex
	extensions []Extension
)

// RegisterExtension adds an extension to the process-wide registry.
// Registration order is hook invocation order.
func RegisterExtension(ext Extension) {
	extMu.Lock()
	defer extMu.Unlock()
	extensions = append(extensions, ext)
}

// ClearExtensions empties the registry. Intended for tests.
func ClearExtensions() {
	extMu.Lock()
	defer extMu.Unlock()
	extensions = nil
}

func snapshotExtensions() []Extension {
	extMu.RLock()
	defer extMu.RUnlock()
	out := make([]Extension, len(extensions))
	copy(out, extensions)
	return out
}

// registeredParsers returns the built-in parsers followed by every
// extension-contributed parser, in registration order.
func registeredParsers() []NodeParser {
	parsers := defaultParsers()
	for _, ext := range snapshotExtensions() {
		parsers = append(parsers, ext.Parsers...)
	}
	return parsers
}

// extensionEnv lets each extension enrich a custom-node evaluation scope.
func extensionEnv(env map[string]any) {
	for _, ext := range snapshotExtensions() {
		if ext.UpdateCustomEnv != nil {
			ext.UpdateCustomEnv(env)
		}
	}
}

// extensionIssues collects lint findings from every registered extension.
func extensionIssues(definition []map[string]any) []Issue {
	var issues []Issue
	for _, ext := range snapshotExtensions() {
		if ext.IdentifyScriptIssues != nil {
			issues = append(issues, ext.IdentifyScriptIssues(definition)...)
		}
	}
	return issues
}

func notifyDialogInitialized(d *Dialog) {
	for _, ext := range snapshotExtensions() {
		if ext.InitializeDialog != nil {
			ext.InitializeDialog(d)
		}
	}
}

func notifyDialogUpdated(d *Dialog, entry LogEntry) {
	for _, ext := range snapshotExtensions() {
		if ext.DialogUpdated != nil {
			ext.DialogUpdated(d, entry)
		}
	}
}

func notifyDialogFinished(d *Dialog) {
	for _, ext := range snapshotExtensions() {
		if ext.FinishedDialog != nil {
			ext.FinishedDialog(d)
		}
	}
}

// CreateDialogFromPath builds a dialog for the script at path, giving
// registered extensions the first chance to construct it. When no extension
// claims the path, the script is loaded by extension (.json, .yaml, .yml)
// and wrapped in a fresh dialog.
func CreateDialogFromPath(path, dialogKey string) (*Dialog, error) {
	for _, ext := range snapshotExtensions() {
		if ext.CreateDialogFromPath == nil {
			continue
		}
		d, err := ext.CreateDialogFromPath(path, dialogKey)
		if err != nil {
			return nil, fmt.Errorf("extension %s: %w", ext.Name, err)
		}
		if d != nil {
			return d, nil
		}
	}
	script, err := LoadScript(path)
	if err != nil {
		return nil, err
	}
	return NewDialog(DialogConfig{Key: dialogKey, Script: script}), nil
}
