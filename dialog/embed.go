// ABOUTME: The embed-dialog node and the expander that inlines embeddable sub-scripts
// ABOUTME: into a parent definition with collision-proof id prefixes.
package dialog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

// maxEmbedPasses bounds expansion so mutually-embedding scripts cannot
// inline each other forever.
const maxEmbedPasses = 10

// parseEmbedDialog builds the placeholder node left behind when expansion
// could not replace it. It only ever evaluates on a failed expansion.
func parseEmbedDialog(def map[string]any) (Node, error) {
	if nodeTypeOf(def) != "embed-dialog" {
		return nil, nil
	}
	base, err := newBaseNode("embed-dialog", def)
	if err != nil {
		return nil, err
	}
	if base.nextID == nil {
		return nil, &MissingNextNodeError{Container: def, Key: "next_id"}
	}
	scriptID, _ := def["script_id"].(string)
	return &embedDialogNode{baseNode: base, scriptID: scriptID}, nil
}

type embedDialogNode struct {
	baseNode
	scriptID string
}

// Evaluate only runs when the expander failed to inline the sub-script; it
// skips ahead so one bad embed cannot strand the dialog.
func (n *embedDialogNode) Evaluate(ctx context.Context, in EvalInput) (*Transition, error) {
	return &Transition{
		NewStateID: strPtr(*n.nextID),
		Metadata: map[string]any{
			"reason": ReasonEmbedDialogContinue,
			"error":  fmt.Sprintf("Unable to replace self with dialog script with ID %q.", n.scriptID),
		},
	}, nil
}

func (n *embedDialogNode) Actions() []Action { return nil }

func (n *embedDialogNode) SearchText() string {
	parts := []string{n.baseNode.SearchText(), "embed-dialog"}
	if n.nextID != nil {
		parts = append(parts, *n.nextID)
	}
	if n.scriptID != "" {
		parts = append(parts, n.scriptID)
	}
	return strings.Join(parts, "\n")
}

// ExpandEmbeds replaces every embed-dialog node in definition with the body
// of the script it names: the sub-script's nodes are inlined under a unique
// prefix, its begin node is dropped in favor of a zero-duration pause at the
// outer node's id, and each of its end nodes becomes a zero-duration pause
// onward to the outer next_id. Nodes that cannot be expanded stay in place
// and explain themselves at evaluation time.
func ExpandEmbeds(definition []map[string]any, resolver ScriptResolver, logger *slog.Logger) []map[string]any {
	if logger == nil {
		logger = slog.Default()
	}
	if resolver == nil {
		return definition
	}
	for pass := 0; pass < maxEmbedPasses; pass++ {
		expanded := false
		next := make([]map[string]any, 0, len(definition))
		for _, def := range definition {
			if nodeTypeOf(def) != "embed-dialog" {
				next = append(next, def)
				continue
			}
			spliced, err := expandEmbed(def, resolver, logger)
			if err != nil {
				id, _ := def["id"].(string)
				logger.Warn("embed expansion failed",
					slog.String("node", id), slog.Any("error", err))
				next = append(next, def)
				continue
			}
			next = append(next, spliced...)
			expanded = true
		}
		definition = next
		if !expanded {
			break
		}
	}
	return definition
}

// expandEmbed resolves and inlines one embed-dialog definition, returning
// the replacement slice: the splice-in pause followed by the prefixed
// sub-script nodes.
func expandEmbed(def map[string]any, resolver ScriptResolver, logger *slog.Logger) ([]map[string]any, error) {
	outerID, _ := def["id"].(string)
	outerNext, _ := def["next_id"].(string)
	if outerNext == "" {
		return nil, fmt.Errorf("embed-dialog node has no next_id")
	}
	scriptID, _ := def["script_id"].(string)
	if scriptID == "" {
		return nil, fmt.Errorf("embed-dialog node has no script_id")
	}

	script, err := resolver.FindScript(scriptID)
	if err != nil {
		return nil, fmt.Errorf("resolve script %q: %w", scriptID, err)
	}
	if script == nil {
		return nil, fmt.Errorf("no embeddable script with identifier %q", scriptID)
	}

	sub, err := NewMachine(script.Definition, MachineConfig{Name: script.Name, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("parse script %q: %w", scriptID, err)
	}
	prefix := fmt.Sprintf("%s_%s__", scriptID, uuid.New().String())
	sub.PrefixNodes(prefix)

	var entryNext string
	for _, subDef := range sub.DialogDefinition() {
		if nodeTypeOf(subDef) == "begin" {
			entryNext, _ = subDef["next_id"].(string)
			break
		}
	}
	if entryNext == "" {
		return nil, fmt.Errorf("script %q has no begin node", scriptID)
	}

	splice := map[string]any{
		"id":       outerID,
		"type":     "pause",
		"duration": 0,
		"next_id":  entryNext,
	}
	if name, ok := def["name"].(string); ok && name != "" {
		splice["name"] = name
	}
	out := []map[string]any{splice}
	for _, subDef := range sub.DialogDefinition() {
		switch nodeTypeOf(subDef) {
		case "begin":
			continue
		case "end":
			id, _ := subDef["id"].(string)
			out = append(out, map[string]any{
				"id":       id,
				"type":     "pause",
				"duration": 0,
				"next_id":  outerNext,
			})
		default:
			out = append(out, subDef)
		}
	}
	return out, nil
}
