// ABOUTME: The dot subcommand: renders a script graph, or a stored session's
// ABOUTME: transition trail, as Graphviz DOT, SVG, or PNG on stdout.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/2389-research/parley/dialog"
	"github.com/2389-research/parley/render"
	"github.com/2389-research/parley/store"
)

func dotCommand(args []string) int {
	fs := flag.NewFlagSet("parley dot", flag.ContinueOnError)
	fs.Usage = func() { printHelp(os.Stderr, version) }
	dbPath := fs.String("db", "", "sqlite database holding stored sessions")
	key := fs.String("key", "", "render a stored session's trail instead of a script file")
	format := fs.String("format", "dot", "output format: dot, svg, or png")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	var (
		dotText string
		err     error
	)
	switch {
	case *key != "":
		if *dbPath == "" {
			fmt.Fprintln(os.Stderr, "error: -key requires -db")
			return 2
		}
		dotText, err = sessionDOT(*dbPath, *key)
	default:
		if fs.NArg() < 1 {
			fmt.Fprintln(os.Stderr, "error: script file required")
			return 2
		}
		dotText, err = scriptDOT(fs.Arg(0))
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	out, err := render.RenderDOTSource(context.Background(), dotText, *format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	os.Stdout.Write(out)
	return 0
}

// scriptDOT loads a script file and serializes its graph.
func scriptDOT(path string) (string, error) {
	script, err := dialog.LoadScript(path)
	if err != nil {
		return "", err
	}
	return render.ToDOT(script)
}

// sessionDOT loads a stored session and serializes its graph with the
// transition trail overlaid.
func sessionDOT(dbPath, key string) (string, error) {
	st, err := store.Open(dbPath)
	if err != nil {
		return "", err
	}
	defer st.Close()

	d, err := st.LoadDialog(key)
	if err != nil {
		return "", err
	}
	if d == nil {
		return "", fmt.Errorf("no session %q in %s", key, dbPath)
	}
	return render.ToDOTWithTrail(d)
}
