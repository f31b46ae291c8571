// ABOUTME: The interrupt family: pattern interrupts, the resume node that unwinds them,
// ABOUTME: and time-elapsed interrupts that fire once per dialog via the pre-dispatch scan.
package dialog

import (
	"context"
	"log/slog"
	"strings"
)

// parseInterrupt builds a pattern interrupt. Interrupts never run as part of
// the normal flow; the machine's pre-dispatch scan routes matching responses
// to them, and evaluating one records where to resume afterwards.
func parseInterrupt(def map[string]any) (Node, error) {
	if nodeTypeOf(def) != "interrupt" {
		return nil, nil
	}
	base, err := newBaseNode("interrupt", def)
	if err != nil {
		return nil, err
	}
	if base.nextID == nil {
		return nil, &MissingNextNodeError{Container: def, Key: "next_id"}
	}
	if def["match_patterns"] == nil {
		return nil, &ParseError{NodeID: base.id, Detail: "missing required key match_patterns"}
	}
	return &interruptNode{baseNode: base, patterns: stringList(def["match_patterns"])}, nil
}

type interruptNode struct {
	baseNode
	patterns []string
}

// matches returns the first pattern that matches the response anywhere,
// case-insensitively, or nil when none do.
func (n *interruptNode) matches(response string, logger *slog.Logger) *string {
	for _, pattern := range n.patterns {
		if searchFold(pattern, response, logger) {
			p := pattern
			return &p
		}
	}
	return nil
}

// Evaluate records the interrupted state on the resume stack, then moves on
// to the interrupt flow. The prior state of the entry that brought us here
// is the node the dialog was sitting at when the interrupt fired.
func (n *interruptNode) Evaluate(ctx context.Context, in EvalInput) (*Transition, error) {
	var resume any
	if in.Last != nil && in.Last.PriorStateID != nil {
		resume = *in.Last.PriorStateID
	}
	in.Machine.PushValue(interruptStackKey, resume)
	return &Transition{
		NewStateID: n.nextID,
		Metadata:   map[string]any{"reason": ReasonInterruptContinue},
	}, nil
}

func (n *interruptNode) Actions() []Action { return nil }

func (n *interruptNode) SearchText() string {
	parts := []string{n.baseNode.SearchText(), "interrupt"}
	parts = append(parts, n.patterns...)
	return strings.Join(parts, "\n")
}

// parseInterruptResume builds the node that pops the resume stack and jumps
// back to the interrupted state. With force_top set it unwinds nested
// interrupts all the way to the outermost one.
func parseInterruptResume(def map[string]any) (Node, error) {
	if nodeTypeOf(def) != "interrupt-resume" {
		return nil, nil
	}
	base, err := newBaseNode("interrupt-resume", def)
	if err != nil {
		return nil, err
	}
	return &interruptResumeNode{baseNode: base, forceTop: asBool(def["force_top"])}, nil
}

type interruptResumeNode struct {
	baseNode
	forceTop bool
}

func (n *interruptResumeNode) Evaluate(ctx context.Context, in EvalInput) (*Transition, error) {
	resume := in.Machine.PopValue(interruptStackKey)
	if n.forceTop {
		for {
			candidate := in.Machine.PopValue(interruptStackKey)
			if candidate == nil {
				break
			}
			resume = candidate
		}
	}
	var dest *string
	if s, ok := resume.(string); ok && s != "" {
		dest = &s
	}
	return &Transition{
		NewStateID: dest,
		Metadata:   map[string]any{"reason": ReasonInterruptResume, "force_top": n.forceTop},
	}, nil
}

func (n *interruptResumeNode) Actions() []Action { return nil }

// NextNodes is empty: the destination only exists on the resume stack.
func (n *interruptResumeNode) NextNodes() []NextNode { return nil }

func (n *interruptResumeNode) SearchText() string {
	return strings.Join([]string{n.baseNode.SearchText(), "interrupt-resume"}, "\n")
}

// parseTimeElapsedInterrupt builds an interrupt that fires once the dialog
// has been running for the configured hours and minutes.
func parseTimeElapsedInterrupt(def map[string]any) (Node, error) {
	if nodeTypeOf(def) != "time-elapsed-interrupt" {
		return nil, nil
	}
	base, err := newBaseNode("time-elapsed-interrupt", def)
	if err != nil {
		return nil, err
	}
	if base.nextID == nil {
		return nil, &MissingNextNodeError{Container: def, Key: "next_id"}
	}
	return &timeElapsedInterruptNode{
		baseNode: base,
		hours:    optFloat(def, "hours_elapsed", 0),
		minutes:  optFloat(def, "minutes_elapsed", 0),
	}, nil
}

type timeElapsedInterruptNode struct {
	baseNode
	hours   float64
	minutes float64
}

func (n *timeElapsedInterruptNode) thresholdSeconds() float64 {
	return n.hours*60*60 + n.minutes*60
}

// shouldFire reports whether the dialog has run long enough. Unless
// ignoreTransitions is set, a node that already appears in the transition
// log never fires again. Negative elapsed times (clock skew) never fire.
func (n *timeElapsedInterruptNode) shouldFire(m *Machine, last *LogEntry, ignoreTransitions bool) bool {
	if last == nil {
		return false
	}
	started, ok := m.StartedAt()
	if !ok {
		return false
	}
	elapsed := m.Now().Sub(started).Seconds()
	if elapsed < 0 || elapsed < n.thresholdSeconds() {
		return false
	}
	if !ignoreTransitions && len(m.PriorTransitions(n.id, "", "")) > 0 {
		return false
	}
	return true
}

func (n *timeElapsedInterruptNode) Evaluate(ctx context.Context, in EvalInput) (*Transition, error) {
	if !n.shouldFire(in.Machine, in.Last, true) {
		return nil, nil
	}
	return &Transition{
		NewStateID: n.nextID,
		Metadata: map[string]any{
			"reason":        ReasonInterruptContinue,
			"time_duration": n.thresholdSeconds(),
		},
	}, nil
}

func (n *timeElapsedInterruptNode) Actions() []Action { return nil }

func (n *timeElapsedInterruptNode) SearchText() string {
	return strings.Join([]string{n.baseNode.SearchText(), "time-elapsed-interrupt"}, "\n")
}
