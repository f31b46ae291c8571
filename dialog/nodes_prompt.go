// ABOUTME: The response-consuming node kinds: prompt, branch-prompt, and external-choice.
// ABOUTME: Covers validation patterns, timeout escalation with iteration budgets, and choice menus.
package dialog

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
)

// defaultResponseTimeout is the wait budget, in seconds, for nodes that
// expect a response and do not configure their own.
const defaultResponseTimeout = 300

// matchFromStart reports whether the pattern matches at the beginning of
// the response. Unparseable patterns are logged and never match.
func matchFromStart(pattern, response string, logger *slog.Logger) bool {
	re, err := regexp.Compile("^(?:" + pattern + ")")
	if err != nil {
		logger.Warn("invalid response pattern", slog.String("pattern", pattern), slog.Any("error", err))
		return false
	}
	return re.MatchString(response)
}

// searchFold reports whether the pattern matches anywhere in the response,
// case-insensitively. Unparseable patterns are logged and never match.
func searchFold(pattern, response string, logger *slog.Logger) bool {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		logger.Warn("invalid response pattern", slog.String("pattern", pattern), slog.Any("error", err))
		return false
	}
	return re.MatchString(response)
}

// timeoutBudget reads the optional timeout_iterations field.
func timeoutBudget(def map[string]any) (*int, error) {
	v, present := def["timeout_iterations"]
	if !present || v == nil {
		return nil, nil
	}
	f, ok := asFloat(v)
	if !ok {
		id, _ := def["id"].(string)
		return nil, &ParseError{NodeID: id, Detail: "timeout_iterations must be a number"}
	}
	n := int(f)
	return &n, nil
}

type promptNode struct {
	baseNode
	prompt                string
	timeout               float64
	timeoutNodeID         *string
	invalidResponseNodeID *string
	validPatterns         []string
}

// parsePrompt builds a free-text prompt with optional validation patterns
// and timeout escalation.
func parsePrompt(def map[string]any) (Node, error) {
	if nodeTypeOf(def) != "prompt" {
		return nil, nil
	}
	base, err := newBaseNode("prompt", def)
	if err != nil {
		return nil, err
	}
	if base.nextID == nil {
		return nil, &MissingNextNodeError{Container: def, Key: "next_id"}
	}
	prompt, err := requireString(def, "prompt")
	if err != nil {
		return nil, err
	}
	timeoutNodeID, err := optStringPtr(def, "timeout_node_id")
	if err != nil {
		return nil, err
	}
	invalidNodeID, err := optStringPtr(def, "invalid_response_node_id")
	if err != nil {
		return nil, err
	}
	return &promptNode{
		baseNode:              base,
		prompt:                prompt,
		timeout:               optFloat(def, "timeout", defaultResponseTimeout),
		timeoutNodeID:         timeoutNodeID,
		invalidResponseNodeID: invalidNodeID,
		validPatterns:         stringList(def["valid_patterns"]),
	}, nil
}

func (n *promptNode) Evaluate(ctx context.Context, in EvalInput) (*Transition, error) {
	if in.Response == nil && in.Last != nil && n.timeoutNodeID != nil {
		elapsed := in.Machine.Now().Sub(in.Last.When).Seconds()
		if elapsed > n.timeout {
			return &Transition{
				NewStateID: strPtr(*n.timeoutNodeID),
				Metadata: map[string]any{
					"reason":           ReasonTimeout,
					"timeout_duration": n.timeout,
				},
			}, nil
		}
	}

	if in.Response != nil {
		response := *in.Response
		valid := len(n.validPatterns) == 0
		for _, pattern := range n.validPatterns {
			if matchFromStart(pattern, response, in.Logger) {
				valid = true
				break
			}
		}

		if !valid {
			if n.invalidResponseNodeID == nil {
				return nil, nil
			}
			return &Transition{
				NewStateID: strPtr(*n.invalidResponseNodeID),
				Metadata: map[string]any{
					"reason":         ReasonInvalidResponse,
					"response":       response,
					"valid_patterns": n.validPatterns,
				},
			}, nil
		}

		return &Transition{
			NewStateID: strPtr(*n.nextID),
			Metadata: map[string]any{
				"reason":         ReasonValidResponse,
				"response":       response,
				"valid_patterns": n.validPatterns,
				"exit_actions":   []Action{storeValueAction(n.id, response)},
			},
		}, nil
	}

	return &Transition{
		NewStateID: strPtr(n.id),
		Metadata:   map[string]any{"reason": ReasonPromptInit},
	}, nil
}

func (n *promptNode) Actions() []Action {
	return []Action{echoAction(n.prompt), waitForInputAction(n.timeout)}
}

func (n *promptNode) Prefix(prefix string) {
	n.baseNode.Prefix(prefix)
	if n.timeoutNodeID != nil {
		n.timeoutNodeID = strPtr(prefix + *n.timeoutNodeID)
	}
	if n.invalidResponseNodeID != nil {
		n.invalidResponseNodeID = strPtr(prefix + *n.invalidResponseNodeID)
	}
	prefixDefKey(n.def, "timeout_node_id", prefix)
	prefixDefKey(n.def, "invalid_response_node_id", prefix)
}

type branchingPromptNode struct {
	baseNode
	prompt            string
	patternActions    []map[string]any
	noMatchNodeID     *string
	timeout           float64
	timeoutNodeID     *string
	timeoutIterations *int
}

// parseBranchingPrompt builds a prompt that routes on the first pattern
// matching the response, with an optional no-match branch and a bounded
// timeout budget.
func parseBranchingPrompt(def map[string]any) (Node, error) {
	if nodeTypeOf(def) != "branch-prompt" {
		return nil, nil
	}
	base, err := newBaseNode("branch-prompt", def)
	if err != nil {
		return nil, err
	}
	prompt, err := requireString(def, "prompt")
	if err != nil {
		return nil, err
	}
	if _, present := def["actions"]; !present {
		return nil, &ParseError{NodeID: base.id, Detail: "missing required key actions"}
	}
	noMatchNodeID, err := optStringPtr(def, "no_match")
	if err != nil {
		return nil, err
	}
	timeoutNodeID, err := optStringPtr(def, "timeout_node_id")
	if err != nil {
		return nil, err
	}
	iterations, err := timeoutBudget(def)
	if err != nil {
		return nil, err
	}
	return &branchingPromptNode{
		baseNode:          base,
		prompt:            prompt,
		patternActions:    actionMaps(def["actions"]),
		noMatchNodeID:     noMatchNodeID,
		timeout:           optFloat(def, "timeout", defaultResponseTimeout),
		timeoutNodeID:     timeoutNodeID,
		timeoutIterations: iterations,
	}, nil
}

// storageKey strips any embed prefix so responses land under the authored
// node id.
func (n *branchingPromptNode) storageKey() string {
	parts := strings.Split(n.id, "__")
	return parts[len(parts)-1]
}

func (n *branchingPromptNode) Evaluate(ctx context.Context, in EvalInput) (*Transition, error) {
	if in.Response != nil {
		response := *in.Response
		stored := storeValueAction(n.storageKey(), strings.TrimSpace(response))

		var matched map[string]any
		for _, action := range n.patternActions {
			pattern, ok := action["pattern"].(string)
			if !ok {
				continue
			}
			if searchFold(pattern, response, in.Logger) {
				matched = action
				break
			}
		}

		if matched == nil {
			if n.noMatchNodeID == nil {
				return nil, nil
			}
			return &Transition{
				NewStateID: strPtr(*n.noMatchNodeID),
				Refresh:    true,
				Metadata: map[string]any{
					"reason":       ReasonInvalidResponse,
					"response":     response,
					"exit_actions": []Action{stored},
				},
			}, nil
		}

		return &Transition{
			NewStateID: actionDest(matched, "action"),
			Metadata: map[string]any{
				"reason":       ReasonValidResponse,
				"response":     response,
				"exit_actions": []Action{stored},
			},
		}, nil
	}

	if in.Last != nil && n.timeoutNodeID != nil {
		elapsed := in.Machine.Now().Sub(in.Last.When).Seconds()
		if elapsed > n.timeout {
			if n.timeoutIterations != nil {
				prior := in.Machine.PriorTransitions(*n.timeoutNodeID, n.id, ReasonTimeout)
				if len(prior) >= *n.timeoutIterations {
					return nil, nil
				}
			}
			return &Transition{
				NewStateID: strPtr(*n.timeoutNodeID),
				Refresh:    true,
				Metadata: map[string]any{
					"reason":           ReasonTimeout,
					"timeout_duration": n.timeout,
				},
			}, nil
		}
	}

	if in.Last != nil && in.Last.StateID != n.id {
		return &Transition{
			NewStateID: strPtr(n.id),
			Metadata:   map[string]any{"reason": ReasonPromptInit},
		}, nil
	}

	return nil, nil
}

func (n *branchingPromptNode) Actions() []Action {
	return []Action{echoAction(n.prompt)}
}

func (n *branchingPromptNode) NextNodes() []NextNode {
	var nodes []NextNode
	if n.noMatchNodeID != nil {
		nodes = append(nodes, NextNode{ID: *n.noMatchNodeID, Label: "No Match"})
	}
	if n.timeoutNodeID != nil {
		nodes = append(nodes, NextNode{ID: *n.timeoutNodeID, Label: "Response Timed Out"})
	}
	for _, action := range n.patternActions {
		dest := actionDest(action, "action")
		if dest == nil {
			continue
		}
		pattern, _ := action["pattern"].(string)
		nodes = append(nodes, NextNode{ID: *dest, Label: "Response Matched Pattern: " + pattern})
	}
	return nodes
}

func (n *branchingPromptNode) Prefix(prefix string) {
	n.baseNode.Prefix(prefix)
	if n.noMatchNodeID != nil {
		n.noMatchNodeID = strPtr(prefix + *n.noMatchNodeID)
	}
	if n.timeoutNodeID != nil {
		n.timeoutNodeID = strPtr(prefix + *n.timeoutNodeID)
	}
	prefixDefKey(n.def, "no_match", prefix)
	prefixDefKey(n.def, "timeout_node_id", prefix)
	prefixActionDests(n.patternActions, "action", prefix)
}

type externalChoiceNode struct {
	baseNode
	choiceActions []map[string]any
	timeout       float64
	timeoutNodeID *string
}

// parseExternalChoice builds a menu node resolved by the host: the dialog
// waits until a tick arrives with extras.is_external set and a response
// exactly matching a choice identifier.
func parseExternalChoice(def map[string]any) (Node, error) {
	if nodeTypeOf(def) != "external-choice" {
		return nil, nil
	}
	base, err := newBaseNode("external-choice", def)
	if err != nil {
		return nil, err
	}
	if _, present := def["actions"]; !present {
		return nil, &ParseError{NodeID: base.id, Detail: "missing required key actions"}
	}
	node := &externalChoiceNode{
		baseNode:      base,
		choiceActions: actionMaps(def["actions"]),
		timeout:       defaultResponseTimeout,
	}
	timeoutNodeID, err := optStringPtr(def, "timeout_node_id")
	if err != nil {
		return nil, err
	}
	if timeoutNodeID != nil && def["timeout"] != nil {
		node.timeout = optFloat(def, "timeout", defaultResponseTimeout)
		node.timeoutNodeID = timeoutNodeID
	}
	return node, nil
}

func (n *externalChoiceNode) Evaluate(ctx context.Context, in EvalInput) (*Transition, error) {
	if isExternal, _ := in.Extras["is_external"].(bool); isExternal && in.Response != nil {
		response := *in.Response
		for _, action := range n.choiceActions {
			identifier, _ := action["identifier"].(string)
			if identifier != response {
				continue
			}
			return &Transition{
				NewStateID: actionDest(action, "action"),
				Metadata: map[string]any{
					"reason":       ReasonValidChoice,
					"response":     response,
					"exit_actions": []Action{storeValueAction(n.id, response)},
				},
			}, nil
		}
	}

	if in.Response == nil && in.Last != nil && n.timeoutNodeID != nil {
		elapsed := in.Machine.Now().Sub(in.Last.When).Seconds()
		if elapsed > n.timeout {
			return &Transition{
				NewStateID: strPtr(*n.timeoutNodeID),
				Metadata: map[string]any{
					"reason":           ReasonTimeout,
					"timeout_duration": n.timeout,
				},
			}, nil
		}
	}

	if in.Last != nil && in.Last.StateID != n.id {
		return &Transition{
			NewStateID: strPtr(n.id),
			Metadata:   map[string]any{"reason": ReasonChoiceInit},
		}, nil
	}

	return nil, nil
}

func (n *externalChoiceNode) Actions() []Action {
	choices := make([]any, 0, len(n.choiceActions))
	for _, action := range n.choiceActions {
		choices = append(choices, map[string]any{
			"identifier": action["identifier"],
			"label":      action["label"],
		})
	}
	return []Action{{
		"type":    ActionExternalChoice,
		"choices": choices,
	}}
}

func (n *externalChoiceNode) NextNodes() []NextNode {
	var nodes []NextNode
	if n.timeoutNodeID != nil {
		nodes = append(nodes, NextNode{ID: *n.timeoutNodeID, Label: "Response Timed Out"})
	}
	for _, action := range n.choiceActions {
		dest := actionDest(action, "action")
		if dest == nil {
			continue
		}
		identifier, _ := action["identifier"].(string)
		nodes = append(nodes, NextNode{ID: *dest, Label: "Chose: " + identifier})
	}
	return nodes
}

func (n *externalChoiceNode) Prefix(prefix string) {
	n.baseNode.Prefix(prefix)
	if n.timeoutNodeID != nil {
		n.timeoutNodeID = strPtr(prefix + *n.timeoutNodeID)
	}
	prefixDefKey(n.def, "timeout_node_id", prefix)
	prefixActionDests(n.choiceActions, "action", prefix)
}

func (n *externalChoiceNode) SearchText() string {
	parts := []string{n.baseNode.SearchText(), "external-choice"}
	for _, action := range n.choiceActions {
		if identifier, ok := action["identifier"].(string); ok {
			parts = append(parts, identifier)
		}
		if label, ok := action["label"].(string); ok {
			parts = append(parts, label)
		}
	}
	return strings.Join(parts, "\n")
}
