// ABOUTME: The dialog machine: parses a definition into a node graph, repairs dangling edges,
// ABOUTME: runs the interrupt pre-dispatch scan, dispatches the current node, and composes actions.
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

// Host gives nodes access to session-scoped state the machine does not own:
// the transition log, the variable store, and the dialog start time.
type Host interface {
	// PriorTransitions returns log entries that landed on stateID,
	// optionally narrowed by prior state and reason. Empty strings match
	// anything.
	PriorTransitions(stateID, priorStateID, reason string) []LogEntry
	// PushValue appends a value to the named slot in the variable store.
	PushValue(key string, value any)
	// PopValue removes and returns the most recent value in the named slot.
	PopValue(key string) any
	// GetValue reads a stored dialog value.
	GetValue(key string) any
	// StartedAt reports when the dialog started.
	StartedAt() time.Time
}

// MachineConfig carries the collaborators a machine needs beyond the
// definition. Zero values fall back to defaults: wall clock, time-seeded
// random source, slog.Default(), the registered parser set.
type MachineConfig struct {
	Name     string
	Metadata map[string]any
	Host     Host
	Renderer *Renderer
	Clock    func() time.Time
	Rng      *rand.Rand
	Logger   *slog.Logger
	Parsers  []NodeParser
}

// Machine is an ephemeral interpreter over one dialog definition. Sessions
// rebuild it on every tick; nothing on it outlives the tick except through
// the host.
type Machine struct {
	nodes    map[string]Node
	order    []string
	current  Node
	metadata map[string]any
	host     Host
	renderer *Renderer
	now      func() time.Time
	rng      *rand.Rand
	logger   *slog.Logger
}

// NewMachine parses a definition into a machine. The definition is
// deep-copied first so edge repair never rewrites the caller's copy. A node
// no parser accepts yields a ParseError.
func NewMachine(definition []map[string]any, cfg MachineConfig) (*Machine, error) {
	m := &Machine{
		nodes:    map[string]Node{},
		metadata: cfg.Metadata,
		host:     cfg.Host,
		renderer: cfg.Renderer,
		now:      cfg.Clock,
		rng:      cfg.Rng,
		logger:   cfg.Logger,
	}
	if m.metadata == nil {
		m.metadata = map[string]any{}
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.rng == nil {
		m.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.renderer == nil {
		m.renderer = NewRenderer("", m.logger)
	}
	parsers := cfg.Parsers
	if parsers == nil {
		parsers = registeredParsers()
	}

	for _, raw := range definition {
		def, _ := deepCopyValue(raw).(map[string]any)
		if def == nil {
			return nil, &ParseError{Detail: "node definition is not an object"}
		}
		node, err := m.parseNode(def, parsers)
		if err != nil {
			return nil, err
		}
		if node == nil {
			id, _ := def["id"].(string)
			typ, _ := def["type"].(string)
			return nil, &ParseError{NodeID: id, Detail: fmt.Sprintf("unknown node type %q", typ)}
		}
		if name, ok := def["name"].(string); ok && name != "" {
			node.SetName(name)
		} else if cfg.Name != "" {
			node.SetName(cfg.Name)
		}
		m.addNode(node)
		if m.current == nil && node.NodeType() == "begin" {
			m.current = node
		}
	}
	return m, nil
}

// parseNode tries each parser in order, repairing dangling next-node
// references by splicing in the sentinel end node and retrying.
func (m *Machine) parseNode(def map[string]any, parsers []NodeParser) (Node, error) {
	for _, parse := range parsers {
		for {
			node, err := parse(def)
			if err == nil {
				if node == nil {
					break // not this parser's kind
				}
				return node, nil
			}
			var missing *MissingNextNodeError
			if !errors.As(err, &missing) {
				return nil, err
			}
			m.ensureFallbackEnd()
			missing.Container[missing.Key] = MissingNextNodeKey
		}
	}
	return nil, nil
}

func (m *Machine) ensureFallbackEnd() {
	if _, ok := m.nodes[MissingNextNodeKey]; ok {
		return
	}
	node, err := parseEnd(map[string]any{"type": "end", "id": MissingNextNodeKey})
	if err != nil || node == nil {
		return
	}
	m.addNode(node)
}

func (m *Machine) addNode(n Node) {
	if _, exists := m.nodes[n.ID()]; !exists {
		m.order = append(m.order, n.ID())
	}
	m.nodes[n.ID()] = n
}

// Evaluate runs one tick: the interrupt scan first, then the current node.
// When the resulting transition lands on a node in the graph, the entry's
// actions are composed as exit actions followed by the destination's own.
func (m *Machine) Evaluate(ctx context.Context, response *string, last *LogEntry, extras map[string]any) (*Transition, error) {
	if extras == nil {
		extras = map[string]any{}
	}
	in := EvalInput{Machine: m, Response: response, Last: last, Extras: extras, Logger: m.logger}

	if tr := m.scanInterrupts(in); tr != nil {
		return tr, nil
	}

	if m.current == nil {
		return nil, &DialogError{Msg: "dialog has no begin node"}
	}

	tr, err := m.safeEvaluate(ctx, m.current, in)
	if err != nil {
		return nil, err
	}
	if tr == nil {
		return nil, nil
	}
	if tr.Metadata == nil {
		tr.Metadata = map[string]any{}
	}
	if tr.NewStateID != nil {
		if dest, ok := m.nodes[*tr.NewStateID]; ok {
			actions := append([]Action{}, tr.ExitActions()...)
			actions = append(actions, dest.Actions()...)
			if len(actions) == 0 {
				tr.Metadata["actions"] = nil
			} else {
				tr.Metadata["actions"] = actions
			}
		}
	}
	return tr, nil
}

// scanInterrupts lets interrupt nodes pre-empt the current node: pattern
// interrupts match the incoming response, time-elapsed interrupts fire once
// per dialog when their threshold passes.
func (m *Machine) scanInterrupts(in EvalInput) *Transition {
	if in.Response != nil {
		for _, id := range m.order {
			node, ok := m.nodes[id].(*interruptNode)
			if !ok {
				continue
			}
			pattern := node.matches(*in.Response, m.logger)
			if pattern == nil {
				continue
			}
			m.logger.Debug("interrupt matched", slog.String("node", id), slog.String("pattern", *pattern))
			return &Transition{
				NewStateID: strPtr(id),
				Metadata: map[string]any{
					"reason":   ReasonInterrupt,
					"pattern":  *pattern,
					"response": *in.Response,
					"actions":  []Action{},
				},
			}
		}
	}
	for _, id := range m.order {
		node, ok := m.nodes[id].(*timeElapsedInterruptNode)
		if !ok {
			continue
		}
		if !node.shouldFire(m, in.Last, false) {
			continue
		}
		m.logger.Debug("time-elapsed interrupt fired", slog.String("node", id))
		return &Transition{
			NewStateID: strPtr(id),
			Metadata: map[string]any{
				"reason":  ReasonInterruptTimeElapsed,
				"actions": []Action{},
			},
		}
	}
	return nil
}

// safeEvaluate dispatches one node, converting panics and untyped errors
// into DialogErrors so a broken node cannot take the host down.
func (m *Machine) safeEvaluate(ctx context.Context, node Node, in EvalInput) (tr *Transition, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &DialogError{
				Msg:   fmt.Sprintf("node %s panicked: %v", node.ID(), r),
				Stack: debug.Stack(),
			}
			tr = nil
		}
	}()
	tr, err = node.Evaluate(ctx, in)
	if err != nil {
		var dialogErr *DialogError
		if !errors.As(err, &dialogErr) {
			err = &DialogError{Msg: fmt.Sprintf("node %s failed", node.ID()), Err: err}
		}
	}
	return tr, err
}

// AdvanceTo moves the cursor to the named node. Unknown ids leave the
// cursor in place.
func (m *Machine) AdvanceTo(id string) {
	if node, ok := m.nodes[id]; ok {
		m.current = node
		return
	}
	m.logger.Warn("advance to unknown node", slog.String("node", id))
}

// CurrentNode returns the node the machine will dispatch next.
func (m *Machine) CurrentNode() Node { return m.current }

// FetchNode returns the node with the given id, or nil.
func (m *Machine) FetchNode(id string) Node { return m.nodes[id] }

// Nodes returns the machine's nodes in definition order.
func (m *Machine) Nodes() []Node {
	out := make([]Node, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.nodes[id])
	}
	return out
}

// ActionsForState returns the named node's entry actions, or nil when the
// node does not exist.
func (m *Machine) ActionsForState(id string) []Action {
	if node, ok := m.nodes[id]; ok {
		return node.Actions()
	}
	return nil
}

// PrefixNodes namespaces every node id and node reference with prefix. Used
// by the embed expander to keep sub-script ids from colliding.
func (m *Machine) PrefixNodes(prefix string) {
	nodes := make(map[string]Node, len(m.nodes))
	order := make([]string, 0, len(m.order))
	for _, id := range m.order {
		node := m.nodes[id]
		node.Prefix(prefix)
		nodes[node.ID()] = node
		order = append(order, node.ID())
	}
	m.nodes = nodes
	m.order = order
}

// DialogDefinition returns the machine's node definitions in order,
// reflecting any repairs and prefixing applied since parse.
func (m *Machine) DialogDefinition() []map[string]any {
	defs := make([]map[string]any, 0, len(m.order))
	for _, id := range m.order {
		defs = append(defs, m.nodes[id].Definition())
	}
	return defs
}

// Metadata exposes the owning dialog's metadata map.
func (m *Machine) Metadata() map[string]any { return m.metadata }

// Now reads the machine's clock.
func (m *Machine) Now() time.Time { return m.now() }

// Rng returns the machine's random source.
func (m *Machine) Rng() *rand.Rand { return m.rng }

// Renderer returns the template renderer, used for weight expressions.
func (m *Machine) Renderer() *Renderer { return m.renderer }

// PriorTransitions asks the host for matching log entries; without a host
// there are none.
func (m *Machine) PriorTransitions(stateID, priorStateID, reason string) []LogEntry {
	if m.host == nil {
		return nil
	}
	return m.host.PriorTransitions(stateID, priorStateID, reason)
}

// PushValue forwards to the host's variable store when one is attached.
func (m *Machine) PushValue(key string, value any) {
	if m.host != nil {
		m.host.PushValue(key, value)
	}
}

// PopValue forwards to the host's variable store when one is attached.
func (m *Machine) PopValue(key string) any {
	if m.host == nil {
		return nil
	}
	return m.host.PopValue(key)
}

// GetValue reads from the host's variable store when one is attached.
func (m *Machine) GetValue(key string) any {
	if m.host == nil {
		return nil
	}
	return m.host.GetValue(key)
}

// StartedAt reports the dialog start time; ok is false without a host.
func (m *Machine) StartedAt() (time.Time, bool) {
	if m.host == nil {
		return time.Time{}, false
	}
	return m.host.StartedAt(), true
}

// storedValue reads a key from the metadata variable store directly, for
// nodes that branch on stored values.
func (m *Machine) storedValue(key string) (any, bool) {
	vals := valuesOf(m.metadata)
	if vals == nil {
		return nil, false
	}
	v, ok := vals[key]
	return v, ok
}

// deepCopyValue clones the JSON-shaped value graphs definitions and
// metadata are made of.
func deepCopyValue(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(tv))
		for k, item := range tv {
			out[k] = deepCopyValue(item)
		}
		return out
	case []any:
		out := make([]any, len(tv))
		for i, item := range tv {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return v
	}
}

// deepCopyDefinition clones a whole script definition.
func deepCopyDefinition(definition []map[string]any) []map[string]any {
	out := make([]map[string]any, 0, len(definition))
	for _, def := range definition {
		copied, _ := deepCopyValue(def).(map[string]any)
		out = append(out, copied)
	}
	return out
}
