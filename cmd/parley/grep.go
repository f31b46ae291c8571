// ABOUTME: The grep subcommand: runs gjson path queries against script definitions.
// ABOUTME: Prints one line per matching script and exits non-zero when nothing matches.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/2389-research/parley/dialog"
	"github.com/tidwall/gjson"
)

func grepCommand(args []string) int {
	fs := flag.NewFlagSet("parley grep", flag.ContinueOnError)
	fs.Usage = func() { printHelp(os.Stderr, version) }

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "error: usage: parley grep <query> <script-file-or-dir>...")
		return 2
	}
	query := fs.Arg(0)

	paths, err := collectScriptPaths(fs.Args()[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	matches := 0
	for _, path := range paths {
		result, err := queryScript(path, query)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: error: %v\n", path, err)
			continue
		}
		if result == "" {
			continue
		}
		fmt.Printf("%s: %s\n", path, result)
		matches++
	}
	if matches == 0 {
		return 1
	}
	return 0
}

// queryScript evaluates a gjson path query against the script's definition
// and returns the raw match, or "" when nothing matched. All-match queries
// report misses as an empty array, so that counts as a miss too.
func queryScript(path, query string) (string, error) {
	script, err := dialog.LoadScript(path)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(script.Definition)
	if err != nil {
		return "", fmt.Errorf("encode definition: %w", err)
	}
	result := gjson.GetBytes(raw, query)
	if !result.Exists() || result.Raw == "[]" {
		return "", nil
	}
	return result.Raw, nil
}
