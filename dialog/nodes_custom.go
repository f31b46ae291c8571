// ABOUTME: The custom node: host-authored evaluate and actions scripts run in a restricted
// ABOUTME: assignment-expression grammar whose result map drives the transition.
package dialog

import (
	"context"
	"fmt"
	"log/slog"
)

// parseCustom builds a node whose behavior lives in two scripts on the
// definition: "evaluate" decides the transition, "actions" produces the
// entry actions. Both run in the assignment grammar, not arbitrary code.
func parseCustom(def map[string]any) (Node, error) {
	if nodeTypeOf(def) != "custom" {
		return nil, nil
	}
	base, err := newBaseNode("custom", def)
	if err != nil {
		return nil, err
	}
	if _, present := def["definition"]; !present {
		return nil, &ParseError{NodeID: base.id, Detail: "missing required key definition"}
	}
	evaluateScript, err := requireString(def, "evaluate")
	if err != nil {
		return nil, err
	}
	actionsScript, ok := def["actions"].(string)
	if !ok {
		return nil, &ParseError{NodeID: base.id, Detail: "missing required key actions"}
	}
	return &customNode{
		baseNode:       base,
		definition:     def["definition"],
		evaluateScript: evaluateScript,
		actionsScript:  actionsScript,
	}, nil
}

type customNode struct {
	baseNode
	definition     any
	evaluateScript string
	actionsScript  string
}

// Evaluate runs the evaluate script over a scope seeded with the node's
// definition, the tick inputs, and a result map. A script that sets
// result.next_id produces a transition carrying result.details as metadata
// and result.actions as exit actions. Script failures conclude the dialog
// with reason dialog-error.
func (n *customNode) Evaluate(ctx context.Context, in EvalInput) (*Transition, error) {
	var response any
	if in.Response != nil {
		response = *in.Response
	}
	var lastWhen, previousState any
	if in.Last != nil {
		lastWhen = in.Last.When
		previousState = in.Last.StateID
	}
	result := map[string]any{
		"details": map[string]any{},
		"actions": []any{},
		"next_id": nil,
	}
	scope := map[string]any{
		"definition":      n.definition,
		"response":        response,
		"last_transition": lastWhen,
		"previous_state":  previousState,
		"result":          result,
		"extras":          in.Extras,
	}
	extensionEnv(scope)

	if err := runAssignments(n.evaluateScript, scope); err != nil {
		return n.scriptFailure(in.Logger, "evaluate", err), nil
	}
	details, hasDetails := result["details"].(map[string]any)
	nextID, hasNext := result["next_id"].(string)
	if !hasDetails || !hasNext || nextID == "" {
		return nil, nil
	}
	actions, err := customActions(result["actions"])
	if err != nil {
		return n.scriptFailure(in.Logger, "evaluate", err), nil
	}
	metadata := map[string]any{}
	for k, v := range details {
		metadata[k] = v
	}
	metadata["exit_actions"] = actions
	return &Transition{NewStateID: strPtr(nextID), Metadata: metadata}, nil
}

// scriptFailure converts a script error into the concluding transition the
// session records, rather than an engine failure.
func (n *customNode) scriptFailure(logger *slog.Logger, script string, err error) *Transition {
	logger.Warn("custom node script failed",
		slog.String("node", n.id),
		slog.String("script", script),
		slog.String("error", err.Error()))
	return &Transition{
		Metadata: map[string]any{
			"reason": ReasonDialogError,
			"error":  fmt.Sprintf("custom node %s %s script: %s", n.id, script, err.Error()),
		},
	}
}

// Actions runs the actions script, which assembles its output in the
// scope's "actions" slot. Failures log and yield no actions; the Node
// interface gives this path no injected logger.
func (n *customNode) Actions() []Action {
	scope := map[string]any{
		"definition": n.definition,
		"actions":    []any{},
	}
	if err := runAssignments(n.actionsScript, scope); err != nil {
		slog.Default().Warn("custom node actions script failed",
			slog.String("node", n.id), slog.String("error", err.Error()))
		return nil
	}
	actions, err := customActions(scope["actions"])
	if err != nil {
		slog.Default().Warn("custom node produced invalid actions",
			slog.String("node", n.id), slog.String("error", err.Error()))
		return nil
	}
	return actions
}

func (n *customNode) NextNodes() []NextNode { return nil }

func (n *customNode) SearchText() string {
	return n.baseNode.SearchText() + "\ncustom"
}

// customActions validates script output: a list of action objects, each
// with a string type.
func customActions(v any) ([]Action, error) {
	if v == nil {
		return []Action{}, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("actions must be a list, got %T", v)
	}
	out := make([]Action, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%v is not a valid action: not an object", item)
		}
		if _, ok := m["type"].(string); !ok {
			return nil, fmt.Errorf(`%v is not a valid action: verify that the "type" key is present and is a string`, item)
		}
		out = append(out, Action(m))
	}
	return out, nil
}
