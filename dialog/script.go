// ABOUTME: Script: a stored dialog definition with catalog metadata, plus loaders
// ABOUTME: for JSON and YAML script files and definition-level search.
package dialog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Script is a dialog definition plus the catalog metadata the store and CLI
// track alongside it.
type Script struct {
	Identifier string
	Name       string
	Labels     []string
	Embeddable bool
	Definition []map[string]any
	Created    time.Time
	Updated    time.Time
}

// IsValid reports whether the script carries a runnable definition.
func (s *Script) IsValid() bool {
	return s != nil && len(s.Definition) > 0
}

// Issues runs the built-in lint rules and every registered extension check
// over the script's definition.
func (s *Script) Issues() []Issue {
	issues := Lint(s.Definition)
	return append(issues, extensionIssues(s.Definition)...)
}

// SearchMatch is one node whose searchable text contained a search term.
type SearchMatch struct {
	NodeID string
	Text   string
}

// Search reports the nodes whose searchable text contains term,
// case-insensitive. Definitions that fail to parse match nothing.
func (s *Script) Search(term string) []SearchMatch {
	machine, err := NewMachine(s.Definition, MachineConfig{Name: s.Name})
	if err != nil {
		return nil
	}
	needle := strings.ToLower(term)
	var matches []SearchMatch
	for _, node := range machine.Nodes() {
		text := node.SearchText()
		if strings.Contains(strings.ToLower(text), needle) {
			matches = append(matches, SearchMatch{NodeID: node.ID(), Text: text})
		}
	}
	return matches
}

// LoadDefinition parses a JSON array of node definitions.
func LoadDefinition(data []byte) ([]map[string]any, error) {
	var defs []map[string]any
	if err := json.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("parse definition: %w", err)
	}
	return defs, nil
}

// scriptFile is the object form of a script document: catalog metadata
// wrapped around the definition.
type scriptFile struct {
	Identifier string           `json:"identifier" yaml:"identifier"`
	Name       string           `json:"name" yaml:"name"`
	Labels     []string         `json:"labels" yaml:"labels"`
	Embeddable bool             `json:"embeddable" yaml:"embeddable"`
	Definition []map[string]any `json:"definition" yaml:"definition"`
}

// LoadScript reads a script file, JSON or YAML by extension. Both formats
// accept a bare array of node definitions or an object with an identifier,
// name, labels, embeddable flag, and definition. Missing metadata falls back
// to the file name.
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return parseScript(data, scriptName(path), yaml.Unmarshal)
	case ".json":
		return parseScript(data, scriptName(path), json.Unmarshal)
	default:
		return nil, fmt.Errorf("unsupported script extension %q", filepath.Ext(path))
	}
}

func parseScript(data []byte, fallbackName string, unmarshal func([]byte, any) error) (*Script, error) {
	var defs []map[string]any
	if err := unmarshal(data, &defs); err == nil {
		return &Script{Identifier: fallbackName, Name: fallbackName, Definition: defs}, nil
	}

	var file scriptFile
	if err := unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse script: %w", err)
	}
	if len(file.Definition) == 0 {
		return nil, fmt.Errorf("script has no definition")
	}
	script := &Script{
		Identifier: file.Identifier,
		Name:       file.Name,
		Labels:     file.Labels,
		Embeddable: file.Embeddable,
		Definition: file.Definition,
	}
	if script.Identifier == "" {
		script.Identifier = fallbackName
	}
	if script.Name == "" {
		script.Name = script.Identifier
	}
	return script, nil
}

// scriptName derives a script identifier from a file path.
func scriptName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
