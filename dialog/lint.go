// ABOUTME: Static checks over dialog definitions: structural mistakes that parse fine
// ABOUTME: but strand or loop a running dialog.
package dialog

import "fmt"

// Severity ranks a lint finding.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	default:
		return "info"
	}
}

// Issue is one lint finding against a definition.
type Issue struct {
	Severity Severity
	Message  string
	NodeID   string
}

// LintRule checks a definition and reports findings. Extensions contribute
// rules through Extension.IdentifyScriptIssues.
type LintRule func(definition []map[string]any) []Issue

// Lint runs the built-in rules and any extras over definition.
func Lint(definition []map[string]any, extra ...LintRule) []Issue {
	rules := []LintRule{
		lintRandomBranches,
		lintBranchPromptTimeouts,
	}
	rules = append(rules, extra...)

	var issues []Issue
	for _, rule := range rules {
		issues = append(issues, rule(definition)...)
	}
	return issues
}

// lintRandomBranches flags random-branch nodes that cannot pick a valid
// destination: no actions at all, a null destination, or a branch pointing
// back at the node itself.
func lintRandomBranches(definition []map[string]any) []Issue {
	var issues []Issue
	for _, def := range definition {
		if nodeTypeOf(def) != "random-branch" {
			continue
		}
		id, _ := def["id"].(string)
		name, _ := def["name"].(string)
		branches := actionMaps(def["actions"])
		if len(branches) == 0 {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Message:  fmt.Sprintf("Random branch node %q (%s) has no configured actions.", name, id),
				NodeID:   id,
			})
			continue
		}
		for _, branch := range branches {
			dest := actionDest(branch, "action")
			if dest == nil {
				issues = append(issues, Issue{
					Severity: SeverityError,
					Message:  fmt.Sprintf("Random branch node %q (%s) contains branch pointing to a null destination.", name, id),
					NodeID:   id,
				})
				continue
			}
			if *dest == id {
				issues = append(issues, Issue{
					Severity: SeverityError,
					Message:  fmt.Sprintf("Random branch node %q (%s) contains branch pointing back to itself.", name, id),
					NodeID:   id,
				})
			}
		}
	}
	return issues
}

// lintBranchPromptTimeouts flags branch-prompt nodes whose timeout cannot
// fire anywhere: a timeout with no timeout_node_id, or one naming a node
// that does not exist.
func lintBranchPromptTimeouts(definition []map[string]any) []Issue {
	ids := map[string]bool{}
	for _, def := range definition {
		if id, ok := def["id"].(string); ok {
			ids[id] = true
		}
	}

	var issues []Issue
	for _, def := range definition {
		if nodeTypeOf(def) != "branch-prompt" {
			continue
		}
		if _, present := def["timeout"]; !present {
			continue
		}
		id, _ := def["id"].(string)
		name, _ := def["name"].(string)
		timeoutID, _ := def["timeout_node_id"].(string)
		if timeoutID == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Message:  fmt.Sprintf("Branching prompt node %q (%s) has a timeout but no timeout node.", name, id),
				NodeID:   id,
			})
			continue
		}
		if !ids[timeoutID] {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Message:  fmt.Sprintf("Branching prompt node %q (%s) times out to unknown node %q.", name, id, timeoutID),
				NodeID:   id,
			})
		}
	}
	return issues
}
