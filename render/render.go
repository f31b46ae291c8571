// ABOUTME: Renders dialog script graphs as Graphviz DOT text, with an optional
// ABOUTME: session trail overlay, and shells out to graphviz for svg/png output.
package render

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"

	"github.com/2389-research/parley/dialog"
)

// Trail overlay fill colors.
const (
	TrailColorVisited = "#4CAF50" // green
	TrailColorResting = "#FFC107" // yellow
	TrailColorError   = "#F44336" // red
)

// ToDOT serializes a script's node graph into DOT digraph text. Nodes are
// written in definition order so output is reproducible.
func ToDOT(script *dialog.Script) (string, error) {
	if script == nil || len(script.Definition) == 0 {
		return "", fmt.Errorf("script has no definition")
	}
	return graphDOT(script.Definition, script.Name, nil)
}

// ToDOTWithTrail serializes a session's graph with its transition log
// overlaid: visited nodes are filled green, and the resting node yellow
// while the dialog is live or red when it finished on an error. The frozen
// snapshot wins over the script so the drawing matches what the session
// actually ran.
func ToDOTWithTrail(d *dialog.Dialog) (string, error) {
	if d == nil {
		return "", fmt.Errorf("no dialog to render")
	}
	defs := d.Snapshot
	name := ""
	if d.Script != nil {
		name = d.Script.Name
		if defs == nil {
			defs = d.Script.Definition
		}
	}
	if len(defs) == 0 {
		return "", fmt.Errorf("dialog has no definition")
	}

	fills := map[string]string{}
	for _, entry := range d.Transitions {
		fills[entry.StateID] = TrailColorVisited
	}
	if current := d.CurrentStateID(); current != nil {
		switch {
		case d.FinishReason == dialog.FinishDialogError:
			fills[*current] = TrailColorError
		case d.IsActive():
			fills[*current] = TrailColorResting
		}
	}
	return graphDOT(defs, name, fills)
}

// Render produces a script graph in the requested format: "dot" for DOT
// text, "svg" or "png" via the graphviz dot command.
func Render(ctx context.Context, script *dialog.Script, format string) ([]byte, error) {
	dotText, err := ToDOT(script)
	if err != nil {
		return nil, err
	}
	return RenderDOTSource(ctx, dotText, format)
}

// RenderDOTSource converts raw DOT text to the requested format. DOT text
// passes through untouched; svg and png shell out to graphviz.
func RenderDOTSource(ctx context.Context, dotText, format string) ([]byte, error) {
	if dotText == "" {
		return nil, fmt.Errorf("no DOT text to render")
	}
	switch format {
	case "dot":
		return []byte(dotText), nil
	case "svg", "png":
		return renderWithGraphviz(ctx, dotText, format)
	default:
		return nil, fmt.Errorf("unsupported format %q: supported formats are dot, svg, png", format)
	}
}

// GraphvizAvailable reports whether the graphviz dot command is on PATH.
func GraphvizAvailable() bool {
	_, err := exec.LookPath("dot")
	return err == nil
}

// renderWithGraphviz pipes DOT text through the graphviz dot command.
func renderWithGraphviz(ctx context.Context, dotText, format string) ([]byte, error) {
	if !GraphvizAvailable() {
		return nil, fmt.Errorf("graphviz dot command not found: install graphviz to render %s output", format)
	}

	cmd := exec.CommandContext(ctx, "dot", "-T"+format)
	cmd.Stdin = strings.NewReader(dotText)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("graphviz dot command failed: %w: %s", err, stderr.String())
	}
	return stdout.Bytes(), nil
}

// graphDOT builds the digraph text: one node statement per definition in
// order, then every outgoing edge the parsed nodes report.
func graphDOT(defs []map[string]any, name string, fills map[string]string) (string, error) {
	machine, err := dialog.NewMachine(defs, dialog.MachineConfig{Name: name})
	if err != nil {
		return "", fmt.Errorf("parse definition: %w", err)
	}
	if name == "" {
		name = "dialog"
	}

	var buf strings.Builder
	fmt.Fprintf(&buf, "digraph %s {\n", quoteID(name))

	nodes := machine.Nodes()
	for _, node := range nodes {
		writeNode(&buf, node, fills[node.ID()])
	}
	for _, node := range nodes {
		for _, next := range node.NextNodes() {
			writeEdge(&buf, node.ID(), next)
		}
	}
	buf.WriteString("}\n")
	return buf.String(), nil
}

// shapeFor maps node kinds onto graphviz shapes: terminals follow the usual
// Mdiamond/Msquare convention, waiting kinds are boxes, routing kinds are
// diamonds, interrupts hexagons, and embeds box3d. Everything else keeps
// the default ellipse.
func shapeFor(nodeType string) string {
	switch nodeType {
	case "begin":
		return "Mdiamond"
	case "end":
		return "Msquare"
	case "prompt", "branch-prompt", "external-choice":
		return "box"
	case "if", "branch-conditions", "random-branch", "loop", "http-response":
		return "diamond"
	case "interrupt", "interrupt-resume", "time-elapsed-interrupt":
		return "hexagon"
	case "embed-dialog":
		return "box3d"
	}
	return ""
}

// writeNode writes one node statement, merging the kind shape with any
// trail fill.
func writeNode(buf *strings.Builder, node dialog.Node, fill string) {
	attrs := map[string]string{}
	if shape := shapeFor(node.NodeType()); shape != "" {
		attrs["shape"] = shape
	}
	if fill != "" {
		attrs["style"] = "filled"
		attrs["fillcolor"] = fill
	}
	if len(attrs) == 0 {
		fmt.Fprintf(buf, "  %s;\n", quoteID(node.ID()))
		return
	}
	fmt.Fprintf(buf, "  %s [%s]\n", quoteID(node.ID()), formatAttrs(attrs))
}

// writeEdge writes one edge statement with the node's own edge label.
func writeEdge(buf *strings.Builder, from string, next dialog.NextNode) {
	if next.Label == "" {
		fmt.Fprintf(buf, "  %s -> %s\n", quoteID(from), quoteID(next.ID))
		return
	}
	fmt.Fprintf(buf, "  %s -> %s [%s]\n",
		quoteID(from), quoteID(next.ID), formatAttrs(map[string]string{"label": next.Label}))
}

// formatAttrs renders an attribute map as key="value" pairs in sorted order.
func formatAttrs(attrs map[string]string) string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%q", k, attrs[k]))
	}
	return strings.Join(parts, ", ")
}

// quoteID returns a DOT-safe identifier; anything beyond bare alphanumerics
// and underscores gets quoted.
func quoteID(id string) string {
	for _, c := range id {
		if !isIDChar(c) {
			return fmt.Sprintf("%q", id)
		}
	}
	return id
}

// isIDChar reports whether the rune is valid in a bare DOT identifier.
func isIDChar(c rune) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_'
}
