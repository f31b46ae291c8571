// ABOUTME: Expression evaluation for branch conditions and custom-node scripts, built on gval.
// ABOUTME: Undefined names surface a typed error so branches can treat them as non-matches.
package dialog

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PaesslerAG/gval"
)

// errUndefinedSymbol marks an expression that referenced a name absent from
// its scope. Branch nodes route these to their no-match edge instead of
// failing the dialog.
type errUndefinedSymbol struct {
	name string
}

func (e *errUndefinedSymbol) Error() string {
	return fmt.Sprintf("undefined symbol %q", e.name)
}

func isUndefinedSymbol(err error) bool {
	var undef *errUndefinedSymbol
	return errors.As(err, &undef)
}

// exprLanguage is gval's full expression language over plain map scopes,
// with a selector that reports missing names as typed errors rather than
// silent nils.
var exprLanguage = gval.Full(gval.VariableSelector(selectScopeVariable))

func selectScopeVariable(path gval.Evaluables) gval.Evaluable {
	return func(ctx context.Context, parameter any) (any, error) {
		keys, err := path.EvalStrings(ctx, parameter)
		if err != nil {
			return nil, err
		}
		current := parameter
		for _, key := range keys {
			switch scope := current.(type) {
			case map[string]any:
				next, ok := scope[key]
				if !ok {
					return nil, &errUndefinedSymbol{name: key}
				}
				current = next
			case Action:
				next, ok := scope[key]
				if !ok {
					return nil, &errUndefinedSymbol{name: key}
				}
				current = next
			case []any:
				idx, convErr := strconv.Atoi(key)
				if convErr != nil || idx < 0 || idx >= len(scope) {
					return nil, &errUndefinedSymbol{name: key}
				}
				current = scope[idx]
			default:
				return nil, &errUndefinedSymbol{name: key}
			}
		}
		return current, nil
	}
}

// evalCondition evaluates one expression against scope and reports its
// truthiness: nil, false, zero, empty string, and empty collections are all
// falsy; everything else is truthy.
func evalCondition(expr string, scope map[string]any) (bool, error) {
	value, err := exprLanguage.Evaluate(expr, scope)
	if err != nil {
		return false, err
	}
	return truthy(value), nil
}

func truthy(v any) bool {
	switch tv := v.(type) {
	case nil:
		return false
	case bool:
		return tv
	case string:
		return tv != ""
	case []any:
		return len(tv) > 0
	case map[string]any:
		return len(tv) > 0
	default:
		if f, ok := asFloat(v); ok {
			return f != 0
		}
		return true
	}
}

// assignTarget matches a dotted identifier path on the left of an
// assignment statement.
var assignTarget = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// runAssignments executes a small script against a shared scope: one
// statement per line, either "target = expression" or a bare expression
// evaluated for effect. Blank lines and lines starting with # are skipped.
// Dotted targets write through nested maps, creating them as needed.
func runAssignments(script string, scope map[string]any) error {
	for i, line := range strings.Split(script, "\n") {
		stmt := strings.TrimSpace(line)
		if stmt == "" || strings.HasPrefix(stmt, "#") {
			continue
		}
		target, expr := splitAssignment(stmt)
		value, err := exprLanguage.Evaluate(expr, scope)
		if err != nil {
			return fmt.Errorf("line %d: %w", i+1, err)
		}
		if target == "" {
			continue
		}
		if err := assignPath(scope, target, value); err != nil {
			return fmt.Errorf("line %d: %w", i+1, err)
		}
	}
	return nil
}

// splitAssignment splits "target = expression" at the first assignment
// operator, returning ("", stmt) for bare expressions. Comparison operators
// (==, !=, <=, >=) do not count, and a left side that is not a dotted
// identifier path makes the whole statement a bare expression.
func splitAssignment(stmt string) (target, expr string) {
	for i := 0; i < len(stmt); i++ {
		if stmt[i] != '=' {
			continue
		}
		if i+1 < len(stmt) && stmt[i+1] == '=' {
			i++
			continue
		}
		if i > 0 && strings.ContainsRune("!<>=", rune(stmt[i-1])) {
			continue
		}
		left := strings.TrimSpace(stmt[:i])
		if !assignTarget.MatchString(left) {
			break
		}
		return left, strings.TrimSpace(stmt[i+1:])
	}
	return "", stmt
}

// assignPath writes value at a dotted path inside scope, creating
// intermediate maps for missing segments.
func assignPath(scope map[string]any, path string, value any) error {
	parts := strings.Split(path, ".")
	current := scope
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part]
		if !ok || next == nil {
			child := map[string]any{}
			current[part] = child
			current = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("cannot assign through %q: not an object", part)
		}
		current = child
	}
	current[parts[len(parts)-1]] = value
	return nil
}
