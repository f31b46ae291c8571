// ABOUTME: The branching node kinds: if over stored values, branch-conditions over expressions,
// ABOUTME: weighted random branches with optional no-replacement cycling, and bounded loops.
package dialog

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"reflect"
	"strings"
)

// parseIf builds a node that tests stored dialog values. Every condition in
// all_true must pass to take next_id; otherwise the dialog moves to
// false_id.
func parseIf(def map[string]any) (Node, error) {
	if nodeTypeOf(def) != "if" {
		return nil, nil
	}
	base, err := newBaseNode("if", def)
	if err != nil {
		return nil, err
	}
	if base.nextID == nil {
		return nil, &ParseError{NodeID: base.id, Detail: "missing required key next_id"}
	}
	falseID, err := requireString(def, "false_id")
	if err != nil {
		return nil, err
	}
	if def["all_true"] == nil {
		return nil, &ParseError{NodeID: base.id, Detail: "missing required key all_true"}
	}
	conditions, ok := def["all_true"].([]any)
	if !ok {
		return nil, &ParseError{NodeID: base.id, Detail: "all_true must be a list of conditions"}
	}
	node := &ifNode{baseNode: base, falseID: falseID}
	for _, item := range conditions {
		cond, ok := item.(map[string]any)
		if !ok {
			return nil, &ParseError{NodeID: base.id, Detail: "all_true conditions must be objects"}
		}
		node.conditions = append(node.conditions, cond)
	}
	return node, nil
}

type ifNode struct {
	baseNode
	falseID    string
	conditions []map[string]any
}

func (n *ifNode) Evaluate(ctx context.Context, in EvalInput) (*Transition, error) {
	allTrue := true
	for _, cond := range n.conditions {
		key, _ := cond["key"].(string)
		value, present := in.Machine.storedValue(key)
		if !present || value == nil {
			return nil, &DialogError{Msg: fmt.Sprintf("no value for %q in dialog metadata; the ordering of the dialog may be incorrect", key)}
		}
		passed, err := n.test(cond, value)
		if err != nil {
			return nil, err
		}
		if !passed {
			allTrue = false
		}
	}
	if allTrue {
		return &Transition{
			NewStateID: n.nextID,
			Metadata:   map[string]any{"reason": ReasonPassedTest},
		}, nil
	}
	return &Transition{
		NewStateID: strPtr(n.falseID),
		Metadata:   map[string]any{"reason": ReasonFailedTest},
	}, nil
}

// test applies one condition operator to a stored value. Numeric operators
// coerce both sides to floats; contains expects a list of substrings and
// passes when any appears in the stored string.
func (n *ifNode) test(cond map[string]any, value any) (bool, error) {
	op, _ := cond["condition"].(string)
	switch op {
	case "<", ">":
		left, lok := asFloat(value)
		right, rok := asFloat(cond["value"])
		if !lok || !rok {
			return false, &DialogError{Msg: fmt.Sprintf("cannot compare %v %s %v numerically", value, op, cond["value"])}
		}
		if op == "<" {
			return left < right, nil
		}
		return left > right, nil
	case "==":
		return looseEqual(value, cond["value"]), nil
	case "contains":
		text, ok := value.(string)
		if !ok {
			return false, &DialogError{Msg: fmt.Sprintf("contains condition requires a string value, got %T", value)}
		}
		for _, option := range stringList(cond["value"]) {
			if strings.Contains(text, strings.ToLower(option)) {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, &DialogError{Msg: fmt.Sprintf("unknown if condition %q", op)}
	}
}

// looseEqual compares JSON-shaped values directly, treating numbers of
// different widths as equal when their float values match.
func looseEqual(a, b any) bool {
	if isNumber(a) && isNumber(b) {
		fa, _ := asFloat(a)
		fb, _ := asFloat(b)
		return fa == fb
	}
	return reflect.DeepEqual(a, b)
}

func isNumber(v any) bool {
	switch v.(type) {
	case float64, float32, int, int64, json.Number:
		return true
	}
	return false
}

func (n *ifNode) Actions() []Action { return nil }

func (n *ifNode) NextNodes() []NextNode {
	return []NextNode{
		{ID: *n.nextID, Label: "All Conditions Passed"},
		{ID: n.falseID, Label: "Condition Failed"},
	}
}

func (n *ifNode) Prefix(prefix string) {
	n.baseNode.Prefix(prefix)
	n.falseID = prefix + n.falseID
	prefixDefKey(n.def, "false_id", prefix)
}

func (n *ifNode) SearchText() string {
	parts := []string{n.baseNode.SearchText(), "if"}
	for _, cond := range n.conditions {
		if key, ok := cond["key"].(string); ok {
			parts = append(parts, key)
		}
		if op, ok := cond["condition"].(string); ok {
			parts = append(parts, op)
		}
	}
	return strings.Join(parts, "\n")
}

// parseBranchingConditions builds a node that routes on the first truthy
// expression, with optional no-match and error edges.
func parseBranchingConditions(def map[string]any) (Node, error) {
	if nodeTypeOf(def) != "branch-conditions" {
		return nil, nil
	}
	base, err := newBaseNode("branch-conditions", def)
	if err != nil {
		return nil, err
	}
	noMatchID, err := optStringPtr(def, "no_match")
	if err != nil {
		return nil, err
	}
	errorID, err := optStringPtr(def, "error")
	if err != nil {
		return nil, err
	}
	return &branchingConditionsNode{
		baseNode:   base,
		conditions: actionMaps(def["actions"]),
		noMatchID:  noMatchID,
		errorID:    errorID,
	}, nil
}

type branchingConditionsNode struct {
	baseNode
	conditions []map[string]any
	noMatchID  *string
	errorID    *string
}

// Evaluate checks each condition against extras in declaration order; the
// first truthy one wins. An expression naming an undefined symbol falls
// through to the no-match edge; any other evaluation failure routes to the
// error edge with the failure recorded.
func (n *branchingConditionsNode) Evaluate(ctx context.Context, in EvalInput) (*Transition, error) {
	for _, conditional := range n.conditions {
		condition, _ := conditional["condition"].(string)
		matched, err := evalCondition(condition, in.Extras)
		if err != nil {
			if isUndefinedSymbol(err) {
				in.Logger.Debug("condition references undefined symbol",
					"node", n.id, "condition", condition, "error", err.Error())
				break
			}
			in.Logger.Warn("condition evaluation failed",
				"node", n.id, "condition", condition, "error", err.Error())
			return &Transition{
				NewStateID: n.errorID,
				Metadata: map[string]any{
					"reason":    ReasonConditionalError,
					"condition": condition,
					"error":     err.Error(),
				},
			}, nil
		}
		if matched {
			return &Transition{
				NewStateID: actionDest(conditional, "action"),
				Metadata: map[string]any{
					"reason":       ReasonMatchedCondition,
					"condition":    condition,
					"exit_actions": []Action{},
				},
			}, nil
		}
	}
	if n.noMatchID != nil {
		return &Transition{
			NewStateID: n.noMatchID,
			Metadata:   map[string]any{"reason": ReasonNoMatchingConditions},
		}, nil
	}
	return nil, nil
}

func (n *branchingConditionsNode) Actions() []Action { return nil }

func (n *branchingConditionsNode) NextNodes() []NextNode {
	var nodes []NextNode
	if n.errorID != nil {
		nodes = append(nodes, NextNode{ID: *n.errorID, Label: "Evaluation Error"})
	}
	if n.noMatchID != nil {
		nodes = append(nodes, NextNode{ID: *n.noMatchID, Label: "No Matches"})
	}
	for _, conditional := range n.conditions {
		if dest := actionDest(conditional, "action"); dest != nil {
			condition, _ := conditional["condition"].(string)
			nodes = append(nodes, NextNode{ID: *dest, Label: "Condition: " + condition})
		}
	}
	return nodes
}

func (n *branchingConditionsNode) Prefix(prefix string) {
	n.baseNode.Prefix(prefix)
	if n.noMatchID != nil {
		n.noMatchID = strPtr(prefix + *n.noMatchID)
	}
	if n.errorID != nil {
		n.errorID = strPtr(prefix + *n.errorID)
	}
	prefixDefKey(n.def, "no_match", prefix)
	prefixDefKey(n.def, "error", prefix)
	prefixActionDests(n.conditions, "action", prefix)
}

func (n *branchingConditionsNode) SearchText() string {
	parts := []string{n.baseNode.SearchText(), "branch-conditions"}
	for _, conditional := range n.conditions {
		if condition, ok := conditional["condition"].(string); ok {
			parts = append(parts, condition)
		}
	}
	return strings.Join(parts, "\n")
}

// parseRandomBranch builds a weighted random router. Weights are template
// strings rendered per tick, so stored values can steer the odds. With
// without_replacement, destinations already picked are excluded until every
// one has been visited.
func parseRandomBranch(def map[string]any) (Node, error) {
	if nodeTypeOf(def) != "random-branch" {
		return nil, nil
	}
	base, err := newBaseNode("random-branch", def)
	if err != nil {
		return nil, err
	}
	return &randomBranchNode{
		baseNode:           base,
		branches:           actionMaps(def["actions"]),
		withoutReplacement: asBool(def["without_replacement"]),
	}, nil
}

type randomBranchNode struct {
	baseNode
	branches           []map[string]any
	withoutReplacement bool
}

// priorChoicesKey is the extras slot tracking destinations already picked.
func (n *randomBranchNode) priorChoicesKey() string {
	return fmt.Sprintf("__%s_prior_choices", n.id)
}

func (n *randomBranchNode) Evaluate(ctx context.Context, in EvalInput) (*Transition, error) {
	scope := renderScope(in.Machine.Metadata(), in.Extras)

	var choices []string
	var weights []float64
	weightMetadata := map[string]any{}

	for _, branch := range n.branches {
		dest := actionDest(branch, "action")
		if dest == nil {
			continue
		}
		rawWeight := branch["weight"]
		rendered := in.Machine.Renderer().RenderString(fmt.Sprintf("%v", rawWeight), scope)
		weight, ok := asFloat(rendered)
		if !ok {
			weight = 1.0
		}
		if weight > 0 {
			choices = append(choices, *dest)
			weights = append(weights, weight)
			weightMetadata[*dest] = map[string]any{
				"raw_weight":      rawWeight,
				"rendered_weight": weight,
			}
		}
	}

	key := n.priorChoicesKey()
	var prior []any
	if n.withoutReplacement {
		prior = priorChoices(in.Extras[key])
		remainingChoices, remainingWeights := excludePrior(choices, weights, prior)
		if len(remainingChoices) == 0 {
			// Every destination has been visited; start the cycle over.
			prior = nil
		} else {
			choices, weights = remainingChoices, remainingWeights
		}
	}

	var chosen string
	switch {
	case len(choices) > 1:
		chosen = weightedChoice(in.Machine.Rng(), choices, weights)
	case len(choices) == 1:
		chosen = choices[0]
	default:
		var all []string
		for _, branch := range n.branches {
			if dest := actionDest(branch, "action"); dest != nil {
				all = append(all, *dest)
			}
		}
		if len(all) == 0 {
			return nil, &DialogError{Msg: fmt.Sprintf("random-branch %q has no destinations", n.id)}
		}
		chosen = all[in.Machine.Rng().Intn(len(all))]
	}

	metadata := map[string]any{
		"reason":  ReasonRandomBranch,
		"weights": weightMetadata,
	}
	if n.withoutReplacement {
		prior = append(prior, chosen)
		in.Extras[key] = prior
		metadata["prior_choices"] = prior
		encoded, err := json.Marshal(prior)
		if err != nil {
			return nil, &DialogError{Msg: "encode prior choices", Err: err}
		}
		metadata["exit_actions"] = []Action{storeValueAction(key, string(encoded))}
	}
	return &Transition{NewStateID: strPtr(chosen), Metadata: metadata}, nil
}

func (n *randomBranchNode) Actions() []Action { return nil }

func (n *randomBranchNode) NextNodes() []NextNode {
	var nodes []NextNode
	for _, branch := range n.branches {
		if dest := actionDest(branch, "action"); dest != nil {
			nodes = append(nodes, NextNode{ID: *dest, Label: fmt.Sprintf("Weight: %v", branch["weight"])})
		}
	}
	return nodes
}

func (n *randomBranchNode) Prefix(prefix string) {
	n.baseNode.Prefix(prefix)
	prefixActionDests(n.branches, "action", prefix)
}

// priorChoices reads the prior-choice list from extras, tolerating the
// JSON-string form the store-value round trip produces.
func priorChoices(v any) []any {
	switch tv := v.(type) {
	case []any:
		return tv
	case string:
		var out []any
		if err := json.Unmarshal([]byte(tv), &out); err != nil {
			return nil
		}
		return out
	}
	return nil
}

// excludePrior filters out already-picked destinations, keeping choice and
// weight slices aligned.
func excludePrior(choices []string, weights []float64, prior []any) ([]string, []float64) {
	if len(prior) == 0 {
		return choices, weights
	}
	picked := map[string]bool{}
	for _, p := range prior {
		if s, ok := p.(string); ok {
			picked[s] = true
		}
	}
	var outChoices []string
	var outWeights []float64
	for i, choice := range choices {
		if picked[choice] {
			continue
		}
		outChoices = append(outChoices, choice)
		outWeights = append(outWeights, weights[i])
	}
	return outChoices, outWeights
}

// weightedChoice draws one destination in proportion to its weight, falling
// back to a uniform draw when the weights cannot be normalized.
func weightedChoice(rng *rand.Rand, choices []string, weights []float64) string {
	total := 0.0
	for _, w := range weights {
		total += w
	}
	if total <= 0 || math.IsNaN(total) || math.IsInf(total, 0) {
		return choices[rng.Intn(len(choices))]
	}
	target := rng.Float64() * total
	for i, w := range weights {
		target -= w
		if target < 0 {
			return choices[i]
		}
	}
	return choices[len(choices)-1]
}

// parseLoop builds a bounded loop: route to loop_id while the visit count
// is under iterations, then fall through to next_id.
func parseLoop(def map[string]any) (Node, error) {
	if nodeTypeOf(def) != "loop" {
		return nil, nil
	}
	base, err := newBaseNode("loop", def)
	if err != nil {
		return nil, err
	}
	if base.nextID == nil {
		return nil, &ParseError{NodeID: base.id, Detail: "missing required key next_id"}
	}
	loopID, err := requireString(def, "loop_id")
	if err != nil {
		return nil, err
	}
	if def["iterations"] == nil {
		return nil, &ParseError{NodeID: base.id, Detail: "missing required key iterations"}
	}
	iterations, ok := asFloat(def["iterations"])
	if !ok {
		return nil, &ParseError{NodeID: base.id, Detail: "iterations must be a number"}
	}
	return &loopNode{baseNode: base, loopID: loopID, iterations: int(iterations)}, nil
}

type loopNode struct {
	baseNode
	loopID     string
	iterations int
}

func (n *loopNode) Evaluate(ctx context.Context, in EvalInput) (*Transition, error) {
	loopCount := 0
	if in.Last != nil {
		loopCount = len(in.Machine.PriorTransitions(n.id, "", ""))
	}
	metadata := map[string]any{
		"loop_iterations": n.iterations,
		"loop_iteration":  loopCount,
	}
	if loopCount < n.iterations {
		metadata["reason"] = ReasonNextLoop
		return &Transition{NewStateID: strPtr(n.loopID), Metadata: metadata}, nil
	}
	metadata["reason"] = ReasonFinishedLoop
	return &Transition{NewStateID: n.nextID, Metadata: metadata}, nil
}

func (n *loopNode) Actions() []Action { return nil }

func (n *loopNode) NextNodes() []NextNode {
	return []NextNode{
		{ID: n.loopID, Label: fmt.Sprintf("Loop (up to %d times)", n.iterations)},
		{ID: *n.nextID, Label: "Loop Finished"},
	}
}

func (n *loopNode) Prefix(prefix string) {
	n.baseNode.Prefix(prefix)
	n.loopID = prefix + n.loopID
	prefixDefKey(n.def, "loop_id", prefix)
}

func (n *loopNode) SearchText() string {
	return strings.Join([]string{n.baseNode.SearchText(), "loop", n.loopID}, "\n")
}
