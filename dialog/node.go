// ABOUTME: Core node contract for the dialog graph: the Node interface, shared base node behavior,
// ABOUTME: transitions, log entries, reason constants, typed errors, and the node parser registry.
package dialog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"
)

// MissingNextNodeKey is the id of the synthetic end node the machine inserts
// when a node references a next node that does not exist in the graph.
const MissingNextNodeKey = "parley-missing-next-node-end"

// interruptStackKey is the reserved dialog value under which interrupt nodes
// stash the state to resume after the interrupt flow completes.
const interruptStackKey = "interrupt-resume-stack"

// Transition reasons recorded in log entry metadata. Hosts can branch on
// these to explain why a dialog moved.
const (
	ReasonBeginDialog          = "begin-dialog"
	ReasonEchoContinue         = "echo-continue"
	ReasonAlertContinue        = "alert-continue"
	ReasonPauseElapsed         = "pause-elapsed"
	ReasonPromptInit           = "prompt-init"
	ReasonValidResponse        = "valid-response"
	ReasonInvalidResponse      = "invalid-response"
	ReasonTimeout              = "timeout"
	ReasonValidChoice          = "valid-choice"
	ReasonChoiceInit           = "choice-init"
	ReasonEndDialog            = "end-dialog"
	ReasonPassedTest           = "passed-test"
	ReasonFailedTest           = "failed-test"
	ReasonMatchedCondition     = "matched-condition"
	ReasonNoMatchingConditions = "no-matching-conditions"
	ReasonConditionalError     = "conditional-error"
	ReasonNextLoop             = "next-loop"
	ReasonFinishedLoop         = "finished-loop"
	ReasonRandomBranch         = "random-branch"
	ReasonInterrupt            = "interrupt"
	ReasonInterruptContinue    = "interrupt-continue"
	ReasonInterruptResume      = "interrupt-resume"
	ReasonInterruptTimeElapsed = "interrupt-time-elapsed"
	ReasonDialogError          = "dialog-error"
	ReasonSetVariableContinue  = "set-variable-continue"
	ReasonEmbedDialogContinue  = "embed-dialog-continue"
	ReasonNoMatch              = "no-match"
	ReasonError                = "error"
)

// ParseError reports a node definition the parser could not accept.
type ParseError struct {
	NodeID string
	Detail string
}

func (e *ParseError) Error() string {
	if e.NodeID == "" {
		return "parse dialog node: " + e.Detail
	}
	return fmt.Sprintf("parse dialog node %q: %s", e.NodeID, e.Detail)
}

// MissingNextNodeError signals that a node points at an id absent from the
// graph. The machine repairs these by splicing in a synthetic end node.
type MissingNextNodeError struct {
	Container map[string]any
	Key       string
}

func (e *MissingNextNodeError) Error() string {
	return fmt.Sprintf("node %v references missing next node via %q", e.Container["id"], e.Key)
}

// DialogError is a runtime evaluation failure: a bad comparison, a broken
// script, or a recovered panic. Sessions finish the dialog when one surfaces.
type DialogError struct {
	Msg   string
	Stack []byte
	Err   error
}

func (e *DialogError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *DialogError) Unwrap() error { return e.Err }

// Transition is the outcome of evaluating one node: where the dialog goes
// next and the metadata to record on the log entry. A nil NewStateID means
// the dialog concluded. Refresh forces the entry to be appended even when
// the state id did not change.
type Transition struct {
	NewStateID *string
	Refresh    bool
	Metadata   map[string]any
}

// Reason returns the transition's metadata reason, or "" when unset.
func (t *Transition) Reason() string {
	r, _ := t.Metadata["reason"].(string)
	return r
}

// ExitActions returns the actions the departing node asked to run before the
// destination's own actions.
func (t *Transition) ExitActions() []Action {
	return toActions(t.Metadata["exit_actions"])
}

// LogEntry is one row of a dialog's append-only transition log.
type LogEntry struct {
	ID           string         `json:"id,omitempty"`
	When         time.Time      `json:"when"`
	StateID      string         `json:"state_id"`
	PriorStateID *string        `json:"prior_state_id,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Reason returns the entry's metadata reason, or "" when unset.
func (e *LogEntry) Reason() string {
	if e.Metadata == nil {
		return ""
	}
	r, _ := e.Metadata["reason"].(string)
	return r
}

// Actions returns the actions recorded on the entry at transition time.
func (e *LogEntry) Actions() []Action {
	if e.Metadata == nil {
		return nil
	}
	return toActions(e.Metadata["actions"])
}

// NextNode is one outgoing edge of a node, with an optional label describing
// the pattern or condition that selects it.
type NextNode struct {
	ID    string
	Label string
}

// EvalInput carries everything a node can consult while evaluating.
type EvalInput struct {
	Machine  *Machine
	Response *string
	Last     *LogEntry
	Extras   map[string]any
	Logger   *slog.Logger
}

// Node is a single state in the dialog graph.
type Node interface {
	// ID returns the node's unique id within the graph.
	ID() string
	// Name returns the dialog name the node belongs to, when known.
	Name() string
	// SetName records the owning dialog's name for log context.
	SetName(name string)
	// NodeType returns the definition's type tag, e.g. "prompt".
	NodeType() string
	// Evaluate decides the next transition. A nil transition with a nil
	// error means the node is waiting and nothing should be recorded.
	Evaluate(ctx context.Context, in EvalInput) (*Transition, error)
	// Actions returns the side effects a host should run when the dialog
	// arrives at this node.
	Actions() []Action
	// NextNodes lists the node's outgoing edges.
	NextNodes() []NextNode
	// Prefix namespaces the node's id and every node reference it holds.
	Prefix(prefix string)
	// Definition returns the node's JSON-shaped definition, kept in sync
	// with any prefixing applied.
	Definition() map[string]any
	// SearchText returns the human-readable text the node would surface,
	// for linting and search.
	SearchText() string
}

// NodeParser inspects a definition and builds a node from it, returning
// (nil, nil) when the definition's type is not the parser's kind.
type NodeParser func(def map[string]any) (Node, error)

// defaultParsers lists the built-in node kinds in their scan order.
func defaultParsers() []NodeParser {
	return []NodeParser{
		parseBegin,
		parseEnd,
		parseEcho,
		parseAlert,
		parsePause,
		parsePrompt,
		parseBranchingPrompt,
		parseExternalChoice,
		parseRandomBranch,
		parseIf,
		parseBranchingConditions,
		parseLoop,
		parseInterrupt,
		parseInterruptResume,
		parseTimeElapsedInterrupt,
		parseRecordVariable,
		parseUpdateVariable,
		parseCustom,
		parseHTTPResponseBranch,
		parseEmbedDialog,
	}
}

// baseNode carries the fields and defaults every node kind shares.
type baseNode struct {
	id       string
	name     string
	nodeType string
	nextID   *string
	def      map[string]any
}

func newBaseNode(nodeType string, def map[string]any) (baseNode, error) {
	id, ok := def["id"].(string)
	if !ok || id == "" {
		return baseNode{}, &ParseError{Detail: fmt.Sprintf("%s node requires a string id", nodeType)}
	}
	b := baseNode{id: id, nodeType: nodeType, def: def}
	if v, present := def["next_id"]; present && v != nil {
		s, ok := v.(string)
		if !ok {
			return baseNode{}, &ParseError{NodeID: id, Detail: "next_id must be a string or null"}
		}
		b.nextID = &s
	}
	return b, nil
}

func (b *baseNode) ID() string       { return b.id }
func (b *baseNode) Name() string     { return b.name }
func (b *baseNode) SetName(n string) { b.name = n }
func (b *baseNode) NodeType() string { return b.nodeType }

func (b *baseNode) NextNodes() []NextNode {
	if b.nextID == nil {
		return nil
	}
	return []NextNode{{ID: *b.nextID}}
}

func (b *baseNode) Actions() []Action {
	return toActions(b.def["actions"])
}

func (b *baseNode) Prefix(prefix string) {
	b.id = prefix + b.id
	b.def["id"] = b.id
	if b.nextID != nil {
		next := prefix + *b.nextID
		b.nextID = &next
		b.def["next_id"] = next
	}
}

func (b *baseNode) Definition() map[string]any { return b.def }

func (b *baseNode) SearchText() string {
	return collectSearchText(b.def)
}

// prefixDefKey rewrites a node-reference field on the definition when the
// node tracks it outside of next_id. Missing or null fields stay untouched.
func prefixDefKey(def map[string]any, key, prefix string) {
	if v, ok := def[key].(string); ok && v != "" {
		def[key] = prefix + v
	}
}

// actionMaps extracts the per-branch action objects from a definition's
// "actions" list, keeping references so prefixing stays in sync.
func actionMaps(v any) []map[string]any {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// prefixActionDests rewrites the destination field on each branch action.
func prefixActionDests(actions []map[string]any, key, prefix string) {
	for _, action := range actions {
		if s, ok := action[key].(string); ok && s != "" {
			action[key] = prefix + s
		}
	}
}

// actionDest reads a branch action's destination as a nullable id.
func actionDest(action map[string]any, key string) *string {
	if s, ok := action[key].(string); ok && s != "" {
		return &s
	}
	return nil
}

// collectSearchText walks a definition and concatenates every string that
// looks like surfaced text, in stable key order.
func collectSearchText(def map[string]any) string {
	var parts []string
	keys := make([]string, 0, len(def))
	for k := range def {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch k {
		case "message", "prompt", "fallback", "label", "title":
			if s, ok := def[k].(string); ok && s != "" {
				parts = append(parts, s)
			}
		case "actions", "choices":
			if list, ok := def[k].([]any); ok {
				for _, item := range list {
					if m, ok := item.(map[string]any); ok {
						for _, textKey := range []string{"message", "label"} {
							if s, ok := m[textKey].(string); ok && s != "" {
								parts = append(parts, s)
							}
						}
					}
				}
			}
		}
	}
	return strings.Join(parts, "\n")
}

// asFloat coerces the numeric shapes JSON and YAML decoders produce.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

// asBool coerces a definition flag that may arrive as bool or string.
func asBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return b == "true" || b == "True"
	}
	return false
}

// optFloat reads an optional numeric field, falling back when absent,
// null, or unparseable.
func optFloat(def map[string]any, key string, fallback float64) float64 {
	v, present := def[key]
	if !present || v == nil {
		return fallback
	}
	if f, ok := asFloat(v); ok {
		return f
	}
	return fallback
}

// optStringPtr reads an optional string field as a pointer, nil when the
// field is absent or null.
func optStringPtr(def map[string]any, key string) (*string, error) {
	v, present := def[key]
	if !present || v == nil {
		return nil, nil
	}
	s, ok := v.(string)
	if !ok {
		id, _ := def["id"].(string)
		return nil, &ParseError{NodeID: id, Detail: key + " must be a string or null"}
	}
	return &s, nil
}

// requireString reads a mandatory string field.
func requireString(def map[string]any, key string) (string, error) {
	v, ok := def[key].(string)
	if !ok || v == "" {
		id, _ := def["id"].(string)
		return "", &ParseError{NodeID: id, Detail: "missing required key " + key}
	}
	return v, nil
}

// stringList coerces a definition field into a []string, dropping non-string
// members.
func stringList(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func strPtr(s string) *string { return &s }
