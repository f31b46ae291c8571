// ABOUTME: Tests for script loading: JSON and YAML files in bare-array and object
// ABOUTME: form, metadata fallbacks, validity, and definition search.
package dialog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeScript(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write script file: %v", err)
	}
	return path
}

func TestLoadScriptBareJSONArray(t *testing.T) {
	path := writeScript(t, "intake.json", `[
		{"id": "start", "type": "begin", "next_id": "hello"},
		{"id": "hello", "type": "echo", "message": "Welcome aboard!", "next_id": "done"},
		{"id": "done", "type": "end"}
	]`)

	script, err := LoadScript(path)
	if err != nil {
		t.Fatalf("LoadScript: %v", err)
	}
	if script.Identifier != "intake" {
		t.Errorf("identifier = %q, want %q", script.Identifier, "intake")
	}
	if script.Name != "intake" {
		t.Errorf("name = %q, want %q", script.Name, "intake")
	}
	if len(script.Definition) != 3 {
		t.Errorf("definition has %d nodes, want 3", len(script.Definition))
	}
	if !script.IsValid() {
		t.Error("expected a loadable array script to be valid")
	}
}

func TestLoadScriptJSONObject(t *testing.T) {
	path := writeScript(t, "checkin.json", `{
		"identifier": "daily-checkin",
		"name": "Daily Check-In",
		"labels": ["wellness", "daily"],
		"embeddable": true,
		"definition": [
			{"id": "start", "type": "begin", "next_id": "done"},
			{"id": "done", "type": "end"}
		]
	}`)

	script, err := LoadScript(path)
	if err != nil {
		t.Fatalf("LoadScript: %v", err)
	}
	if script.Identifier != "daily-checkin" {
		t.Errorf("identifier = %q, want %q", script.Identifier, "daily-checkin")
	}
	if script.Name != "Daily Check-In" {
		t.Errorf("name = %q, want %q", script.Name, "Daily Check-In")
	}
	if !equalStrings(script.Labels, []string{"wellness", "daily"}) {
		t.Errorf("labels = %v, want [wellness daily]", script.Labels)
	}
	if !script.Embeddable {
		t.Error("expected the embeddable flag to survive loading")
	}
	if len(script.Definition) != 2 {
		t.Errorf("definition has %d nodes, want 2", len(script.Definition))
	}
}

func TestLoadScriptObjectMetadataFallbacks(t *testing.T) {
	defs := `[{"id": "start", "type": "begin", "next_id": "done"}, {"id": "done", "type": "end"}]`

	// No identifier and no name: both fall back to the file name.
	unnamed, err := LoadScript(writeScript(t, "unnamed.json", `{"definition": `+defs+`}`))
	if err != nil {
		t.Fatalf("LoadScript: %v", err)
	}
	if unnamed.Identifier != "unnamed" || unnamed.Name != "unnamed" {
		t.Errorf("got identifier %q name %q, want both %q", unnamed.Identifier, unnamed.Name, "unnamed")
	}

	// Identifier without a name: the name falls back to the identifier.
	named, err := LoadScript(writeScript(t, "other.json", `{"identifier": "weekly", "definition": `+defs+`}`))
	if err != nil {
		t.Fatalf("LoadScript: %v", err)
	}
	if named.Identifier != "weekly" || named.Name != "weekly" {
		t.Errorf("got identifier %q name %q, want both %q", named.Identifier, named.Name, "weekly")
	}
}

func TestLoadScriptYAMLObject(t *testing.T) {
	path := writeScript(t, "survey.yaml", `identifier: survey
name: Satisfaction Survey
embeddable: true
definition:
  - id: start
    type: begin
    next_id: greet
  - id: greet
    type: echo
    message: Hola
    next_id: done
  - id: done
    type: end
`)

	script, err := LoadScript(path)
	if err != nil {
		t.Fatalf("LoadScript: %v", err)
	}
	if script.Identifier != "survey" {
		t.Errorf("identifier = %q, want %q", script.Identifier, "survey")
	}
	if script.Name != "Satisfaction Survey" {
		t.Errorf("name = %q, want %q", script.Name, "Satisfaction Survey")
	}
	if !script.Embeddable {
		t.Error("expected embeddable to be true")
	}
	if len(script.Definition) != 3 {
		t.Fatalf("definition has %d nodes, want 3", len(script.Definition))
	}
	if got := script.Definition[1]["message"]; got != "Hola" {
		t.Errorf("definition[1].message = %v, want Hola", got)
	}
}

func TestLoadScriptYAMLBareList(t *testing.T) {
	path := writeScript(t, "quick.yml", `- id: start
  type: begin
  next_id: done
- id: done
  type: end
`)

	script, err := LoadScript(path)
	if err != nil {
		t.Fatalf("LoadScript: %v", err)
	}
	if script.Identifier != "quick" {
		t.Errorf("identifier = %q, want %q", script.Identifier, "quick")
	}
	if len(script.Definition) != 2 {
		t.Errorf("definition has %d nodes, want 2", len(script.Definition))
	}
}

func TestLoadScriptRejectsUnknownExtension(t *testing.T) {
	path := writeScript(t, "notes.txt", "[]")

	_, err := LoadScript(path)
	if err == nil {
		t.Fatal("expected an error for a .txt script")
	}
	if !strings.Contains(err.Error(), `unsupported script extension ".txt"`) {
		t.Errorf("error = %v, want it to name the extension", err)
	}
}

func TestLoadScriptMissingFile(t *testing.T) {
	_, err := LoadScript(filepath.Join(t.TempDir(), "ghost.json"))
	if err == nil {
		t.Fatal("expected an error for a missing file")
	}
	if !strings.Contains(err.Error(), "read script") {
		t.Errorf("error = %v, want a read script error", err)
	}
}

func TestLoadScriptObjectWithoutDefinition(t *testing.T) {
	path := writeScript(t, "empty.json", `{"identifier": "empty"}`)

	_, err := LoadScript(path)
	if err == nil {
		t.Fatal("expected an error for a script with no definition")
	}
	if !strings.Contains(err.Error(), "script has no definition") {
		t.Errorf("error = %v, want a no-definition error", err)
	}
}

func TestLoadDefinition(t *testing.T) {
	defs, err := LoadDefinition([]byte(`[{"id": "a", "type": "begin", "next_id": "b"}, {"id": "b", "type": "end"}]`))
	if err != nil {
		t.Fatalf("LoadDefinition: %v", err)
	}
	if len(defs) != 2 {
		t.Fatalf("got %d defs, want 2", len(defs))
	}
	if defs[0]["id"] != "a" {
		t.Errorf("defs[0].id = %v, want a", defs[0]["id"])
	}

	_, err = LoadDefinition([]byte(`{"id": "a"}`))
	if err == nil {
		t.Fatal("expected an error for a non-array definition")
	}
	if !strings.Contains(err.Error(), "parse definition") {
		t.Errorf("error = %v, want a parse definition error", err)
	}
}

func TestScriptIsValid(t *testing.T) {
	var missing *Script
	if missing.IsValid() {
		t.Error("nil script reported valid")
	}
	if (&Script{Identifier: "x"}).IsValid() {
		t.Error("script without a definition reported valid")
	}
	populated := &Script{Definition: []map[string]any{{"id": "start", "type": "begin"}}}
	if !populated.IsValid() {
		t.Error("populated script reported invalid")
	}
}

func TestScriptSearch(t *testing.T) {
	script := &Script{
		Name: "Onboarding",
		Definition: []map[string]any{
			{"id": "start", "type": "begin", "next_id": "welcome"},
			{"id": "welcome", "type": "echo", "message": "Welcome aboard!", "next_id": "ask"},
			{"id": "ask", "type": "echo", "message": "What is your name?", "next_id": "done"},
			{"id": "done", "type": "end"},
		},
	}

	matches := script.Search("welcome")
	if len(matches) != 1 {
		t.Fatalf("Search(welcome) returned %d matches, want 1: %v", len(matches), matches)
	}
	if matches[0].NodeID != "welcome" {
		t.Errorf("match node = %q, want welcome", matches[0].NodeID)
	}
	if !strings.Contains(matches[0].Text, "Welcome aboard!") {
		t.Errorf("match text = %q, want it to carry the message", matches[0].Text)
	}

	// Matching is case-insensitive on both sides.
	matches = script.Search("NAME")
	if len(matches) != 1 || matches[0].NodeID != "ask" {
		t.Errorf("Search(NAME) = %v, want one match on ask", matches)
	}

	if matches := script.Search("zebra"); len(matches) != 0 {
		t.Errorf("Search(zebra) = %v, want none", matches)
	}

	broken := &Script{Definition: []map[string]any{{"id": "x", "type": "mystery-box"}}}
	if matches := broken.Search("x"); matches != nil {
		t.Errorf("search over an unparseable definition = %v, want nil", matches)
	}
}

func TestScriptIssuesIncludesExtensionFindings(t *testing.T) {
	ClearExtensions()
	t.Cleanup(ClearExtensions)
	RegisterExtension(Extension{
		Name: "style",
		IdentifyScriptIssues: func(definition []map[string]any) []Issue {
			return []Issue{{Severity: SeverityInfo, Message: "definition reviewed", NodeID: "start"}}
		},
	})

	script := &Script{
		Name: "Spin",
		Definition: []map[string]any{
			{"id": "start", "type": "begin", "next_id": "spin"},
			{"id": "spin", "name": "Spinner", "type": "random-branch"},
		},
	}

	issues := script.Issues()
	if len(issues) != 2 {
		t.Fatalf("got %d issues, want 2: %v", len(issues), issues)
	}
	if want := `Random branch node "Spinner" (spin) has no configured actions.`; issues[0].Message != want {
		t.Errorf("built-in issue = %q, want %q", issues[0].Message, want)
	}
	if issues[1].Message != "definition reviewed" || issues[1].Severity != SeverityInfo {
		t.Errorf("extension issue = %+v, want the registered finding", issues[1])
	}
}
