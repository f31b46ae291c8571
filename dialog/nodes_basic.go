// ABOUTME: The plain node kinds: begin, end, echo, alert, and pause.
// ABOUTME: Each pairs a parser with its tick-time transition behavior.
package dialog

import (
	"context"
)

func nodeTypeOf(def map[string]any) string {
	t, _ := def["type"].(string)
	return t
}

type beginNode struct {
	baseNode
}

// parseBegin builds the entry sentinel. The machine starts dispatch at the
// first begin node it parses.
func parseBegin(def map[string]any) (Node, error) {
	if nodeTypeOf(def) != "begin" {
		return nil, nil
	}
	base, err := newBaseNode("begin", def)
	if err != nil {
		return nil, err
	}
	if base.nextID == nil {
		return nil, &MissingNextNodeError{Container: def, Key: "next_id"}
	}
	return &beginNode{baseNode: base}, nil
}

func (n *beginNode) Evaluate(ctx context.Context, in EvalInput) (*Transition, error) {
	return &Transition{
		NewStateID: strPtr(*n.nextID),
		Metadata:   map[string]any{"reason": ReasonBeginDialog},
	}, nil
}

func (n *beginNode) Actions() []Action { return nil }

type endNode struct {
	baseNode
}

// parseEnd builds a terminal node. Any next_id on the definition is
// discarded; evaluating an end node concludes the dialog.
func parseEnd(def map[string]any) (Node, error) {
	if nodeTypeOf(def) != "end" {
		return nil, nil
	}
	base, err := newBaseNode("end", def)
	if err != nil {
		return nil, err
	}
	base.nextID = nil
	delete(def, "next_id")
	return &endNode{baseNode: base}, nil
}

func (n *endNode) Evaluate(ctx context.Context, in EvalInput) (*Transition, error) {
	return &Transition{Metadata: map[string]any{"reason": ReasonEndDialog}}, nil
}

func (n *endNode) Actions() []Action { return nil }

type echoNode struct {
	baseNode
	message string
}

// parseEcho builds a node that emits its message and immediately moves on.
func parseEcho(def map[string]any) (Node, error) {
	if nodeTypeOf(def) != "echo" {
		return nil, nil
	}
	base, err := newBaseNode("echo", def)
	if err != nil {
		return nil, err
	}
	if base.nextID == nil {
		return nil, &MissingNextNodeError{Container: def, Key: "next_id"}
	}
	message, err := requireString(def, "message")
	if err != nil {
		return nil, err
	}
	return &echoNode{baseNode: base, message: message}, nil
}

func (n *echoNode) Evaluate(ctx context.Context, in EvalInput) (*Transition, error) {
	return &Transition{
		NewStateID: strPtr(*n.nextID),
		Metadata:   map[string]any{"reason": ReasonEchoContinue},
	}, nil
}

func (n *echoNode) Actions() []Action {
	return []Action{echoAction(n.message)}
}

type alertNode struct {
	baseNode
	message string
}

// parseAlert builds an echo-shaped node whose message goes to the host's
// alert channel instead of the user.
func parseAlert(def map[string]any) (Node, error) {
	if nodeTypeOf(def) != "alert" {
		return nil, nil
	}
	base, err := newBaseNode("alert", def)
	if err != nil {
		return nil, err
	}
	if base.nextID == nil {
		return nil, &MissingNextNodeError{Container: def, Key: "next_id"}
	}
	message, err := requireString(def, "message")
	if err != nil {
		return nil, err
	}
	return &alertNode{baseNode: base, message: message}, nil
}

func (n *alertNode) Evaluate(ctx context.Context, in EvalInput) (*Transition, error) {
	return &Transition{
		NewStateID: strPtr(*n.nextID),
		Metadata:   map[string]any{"reason": ReasonAlertContinue},
	}, nil
}

func (n *alertNode) Actions() []Action {
	return []Action{alertAction(n.message)}
}

type pauseNode struct {
	baseNode
	duration float64
}

// parsePause builds a timed wait. A pause with no next_id points back at
// itself, which the embed expander uses for zero-duration splice edges.
func parsePause(def map[string]any) (Node, error) {
	if nodeTypeOf(def) != "pause" {
		return nil, nil
	}
	base, err := newBaseNode("pause", def)
	if err != nil {
		return nil, err
	}
	if base.nextID == nil {
		base.nextID = strPtr(base.id)
		def["next_id"] = base.id
	}
	v, present := def["duration"]
	if !present {
		return nil, &ParseError{NodeID: base.id, Detail: "missing required key duration"}
	}
	duration, ok := asFloat(v)
	if !ok {
		return nil, &ParseError{NodeID: base.id, Detail: "duration must be a number"}
	}
	return &pauseNode{baseNode: base, duration: duration}, nil
}

func (n *pauseNode) Evaluate(ctx context.Context, in EvalInput) (*Transition, error) {
	if in.Last == nil {
		return nil, nil
	}
	elapsed := in.Machine.Now().Sub(in.Last.When).Seconds()
	if elapsed < n.duration {
		return nil, nil
	}
	return &Transition{
		NewStateID: strPtr(*n.nextID),
		Metadata: map[string]any{
			"reason":         ReasonPauseElapsed,
			"pause_duration": n.duration,
		},
	}, nil
}

func (n *pauseNode) Actions() []Action {
	return []Action{pauseAction(n.duration)}
}
