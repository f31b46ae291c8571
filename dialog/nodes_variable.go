// ABOUTME: Nodes that write to the dialog variable store by emitting store-value and
// ABOUTME: update-value exit actions for the host's action sink to apply.
package dialog

import (
	"context"
	"fmt"
	"strings"
)

// parseRecordVariable builds a node that stores a fixed value under a key
// and moves on.
func parseRecordVariable(def map[string]any) (Node, error) {
	if nodeTypeOf(def) != "record-variable" {
		return nil, nil
	}
	base, err := newBaseNode("record-variable", def)
	if err != nil {
		return nil, err
	}
	if base.nextID == nil {
		return nil, &MissingNextNodeError{Container: def, Key: "next_id"}
	}
	key, err := requireString(def, "key")
	if err != nil {
		return nil, err
	}
	return &recordVariableNode{baseNode: base, key: key, value: def["value"]}, nil
}

type recordVariableNode struct {
	baseNode
	key   string
	value any
}

func (n *recordVariableNode) Evaluate(ctx context.Context, in EvalInput) (*Transition, error) {
	return &Transition{
		NewStateID: n.nextID,
		Metadata: map[string]any{
			"reason":       ReasonSetVariableContinue,
			"exit_actions": []Action{storeValueAction(n.key, n.value)},
		},
	}, nil
}

func (n *recordVariableNode) Actions() []Action { return nil }

func (n *recordVariableNode) SearchText() string {
	return strings.Join([]string{n.baseNode.SearchText(), "record-variable", n.key, fmt.Sprintf("%v", n.value)}, "\n")
}

// parseUpdateVariable builds a node that mutates an existing slot: append,
// increment, regex replace, or plain overwrite, chosen by operation.
func parseUpdateVariable(def map[string]any) (Node, error) {
	if nodeTypeOf(def) != "update-variable" {
		return nil, nil
	}
	base, err := newBaseNode("update-variable", def)
	if err != nil {
		return nil, err
	}
	if base.nextID == nil {
		return nil, &MissingNextNodeError{Container: def, Key: "next_id"}
	}
	key, err := requireString(def, "key")
	if err != nil {
		return nil, err
	}
	operation, err := requireString(def, "operation")
	if err != nil {
		return nil, err
	}
	replacement, err := optStringPtr(def, "replacement")
	if err != nil {
		return nil, err
	}
	return &updateVariableNode{
		baseNode:    base,
		key:         key,
		value:       def["value"],
		operation:   operation,
		replacement: replacement,
	}, nil
}

type updateVariableNode struct {
	baseNode
	key         string
	value       any
	operation   string
	replacement *string
}

func (n *updateVariableNode) Evaluate(ctx context.Context, in EvalInput) (*Transition, error) {
	action := Action{
		"type":      ActionUpdateValue,
		"key":       n.key,
		"value":     n.value,
		"operation": n.operation,
	}
	if n.replacement != nil {
		action["replacement"] = *n.replacement
	}
	return &Transition{
		NewStateID: n.nextID,
		Metadata: map[string]any{
			"reason":       ReasonSetVariableContinue,
			"exit_actions": []Action{action},
		},
	}, nil
}

func (n *updateVariableNode) Actions() []Action { return nil }

func (n *updateVariableNode) SearchText() string {
	parts := []string{n.baseNode.SearchText(), "update-variable", n.key, n.operation}
	if n.replacement != nil {
		parts = append(parts, *n.replacement)
	}
	return strings.Join(parts, "\n")
}
