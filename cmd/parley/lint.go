// ABOUTME: The lint subcommand: parses scripts and reports definition issues.
// ABOUTME: Walks files or directories, runs the linter plus a machine parse check per script.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/2389-research/parley/dialog"
)

func lintCommand(args []string) int {
	fs := flag.NewFlagSet("parley lint", flag.ContinueOnError)
	fs.Usage = func() { printHelp(os.Stderr, version) }

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "error: at least one script file or directory required")
		return 2
	}

	paths, err := collectScriptPaths(fs.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	if len(paths) == 0 {
		fmt.Fprintln(os.Stderr, "error: no script files found")
		return 1
	}

	clean := true
	for _, path := range paths {
		if !lintScript(path) {
			clean = false
		}
	}
	if !clean {
		return 1
	}

	fmt.Printf("%d script(s) clean.\n", len(paths))
	return 0
}

// lintScript reports whether the script at path parses and lints clean,
// printing every finding to stderr.
func lintScript(path string) bool {
	script, err := dialog.LoadScript(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: error: %v\n", path, err)
		return false
	}

	clean := true
	if _, err := dialog.NewMachine(script.Definition, dialog.MachineConfig{Name: script.Name}); err != nil {
		fmt.Fprintf(os.Stderr, "%s: error: %v\n", path, err)
		clean = false
	}
	for _, issue := range script.Issues() {
		fmt.Fprintf(os.Stderr, "%s: [%s] %s", path, issue.Severity, issue.Message)
		if issue.NodeID != "" {
			fmt.Fprintf(os.Stderr, " (node: %s)", issue.NodeID)
		}
		fmt.Fprintln(os.Stderr)
		clean = false
	}
	return clean
}

// collectScriptPaths expands files and directories into the list of script
// files to inspect. Directories are scanned one level deep for .json, .yaml,
// and .yml entries.
func collectScriptPaths(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}

		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, fmt.Errorf("read script directory: %w", err)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			switch filepath.Ext(entry.Name()) {
			case ".json", ".yaml", ".yml":
				paths = append(paths, filepath.Join(arg, entry.Name()))
			}
		}
	}
	return paths, nil
}
