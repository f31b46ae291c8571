// ABOUTME: Renders outgoing action payloads through text/template against dialog values and extras.
// ABOUTME: Failed templates log and fall back to a configured message so a bad script never kills a tick.
package dialog

import (
	"log/slog"
	"strings"
	"text/template"
)

// DefaultRenderFallback replaces a payload whose template failed to parse
// or execute.
const DefaultRenderFallback = "(message unavailable)"

// Renderer expands {{...}} placeholders in action payloads. Strings without
// template syntax pass through untouched.
type Renderer struct {
	fallback string
	logger   *slog.Logger
}

// NewRenderer builds a renderer. An empty fallback uses
// DefaultRenderFallback; a nil logger uses slog.Default().
func NewRenderer(fallback string, logger *slog.Logger) *Renderer {
	if fallback == "" {
		fallback = DefaultRenderFallback
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{fallback: fallback, logger: logger}
}

// RenderString expands one template string against scope, substituting the
// fallback message when the template cannot be parsed or executed.
func (r *Renderer) RenderString(s string, scope map[string]any) string {
	if !strings.Contains(s, "{{") {
		return s
	}
	tmpl, err := template.New("action").Option("missingkey=error").Parse(s)
	if err != nil {
		r.logger.Warn("action template parse failed", slog.String("template", s), slog.Any("error", err))
		return r.fallback
	}
	var buf strings.Builder
	if err := tmpl.Execute(&buf, scope); err != nil {
		r.logger.Warn("action template render failed", slog.String("template", s), slog.Any("error", err))
		return r.fallback
	}
	return buf.String()
}

// RenderActions renders every string payload in a list of actions, walking
// nested lists and maps. The input actions are not mutated.
func (r *Renderer) RenderActions(actions []Action, scope map[string]any) []Action {
	if len(actions) == 0 {
		return actions
	}
	out := make([]Action, 0, len(actions))
	for _, action := range actions {
		rendered, _ := r.renderValue(map[string]any(action), scope).(map[string]any)
		out = append(out, Action(rendered))
	}
	return out
}

func (r *Renderer) renderValue(v any, scope map[string]any) any {
	switch tv := v.(type) {
	case string:
		return r.RenderString(tv, scope)
	case []any:
		out := make([]any, len(tv))
		for i, item := range tv {
			out[i] = r.renderValue(item, scope)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(tv))
		for k, item := range tv {
			out[k] = r.renderValue(item, scope)
		}
		return out
	case Action:
		rendered, _ := r.renderValue(map[string]any(tv), scope).(map[string]any)
		return Action(rendered)
	case []Action:
		out := make([]Action, len(tv))
		for i, item := range tv {
			rendered, _ := r.renderValue(item, scope).(Action)
			out[i] = rendered
		}
		return out
	default:
		return v
	}
}
