// ABOUTME: The run subcommand: drives a script interactively through the terminal session UI.
// ABOUTME: Handles script loading, optional SQLite persistence, session resume, and seeded randomness.
package main

import (
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/2389-research/parley/dialog"
	"github.com/2389-research/parley/store"
	"github.com/2389-research/parley/tui"

	tea "github.com/charmbracelet/bubbletea"
)

// runConfig holds the run subcommand's configuration parsed from flags and
// positional arguments.
type runConfig struct {
	dbPath     string
	key        string
	seed       int64
	verbose    bool
	scriptPath string
}

func runCommand(args []string) int {
	var cfg runConfig

	fs := flag.NewFlagSet("parley run", flag.ContinueOnError)
	fs.StringVar(&cfg.dbPath, "db", "", "SQLite database for session persistence")
	fs.StringVar(&cfg.key, "key", "", "Session key; resumes the active session when one exists")
	fs.Int64Var(&cfg.seed, "seed", 0, "Seed for random branch selection")
	fs.BoolVar(&cfg.verbose, "verbose", false, "Verbose engine logging")
	fs.Usage = func() { printHelp(os.Stderr, version) }

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "error: script file required (use parley run <script-file>)")
		return 2
	}
	cfg.scriptPath = fs.Arg(0)

	configureLogging(cfg.verbose)

	script, err := dialog.LoadScript(cfg.scriptPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	// Without a database, embeds resolve against sibling script files.
	var st *store.Store
	var resolver dialog.ScriptResolver = store.NewDirSource(filepath.Dir(cfg.scriptPath))
	if cfg.dbPath != "" {
		st, err = store.Open(cfg.dbPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		defer st.Close()
		if err := st.SaveScript(script); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		resolver = st
	}

	d, err := openSession(st, cfg, script, resolver)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	p := tea.NewProgram(tui.NewModel(d), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	if st != nil {
		if err := st.SaveDialog(d); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
	}

	fmt.Printf("session %s: %s\n", d.Key, d.FinishReason)
	return 0
}

// openSession resumes the active dialog for the configured key when the
// store holds one, and creates a fresh session otherwise.
func openSession(st *store.Store, cfg runConfig, script *dialog.Script, resolver dialog.ScriptResolver) (*dialog.Dialog, error) {
	if st != nil && cfg.key != "" {
		existing, err := st.ActiveDialog(cfg.key)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	}

	dcfg := dialog.DialogConfig{
		Key:      cfg.key,
		Script:   script,
		Resolver: resolver,
	}
	if cfg.seed != 0 {
		dcfg.Rng = rand.New(rand.NewSource(cfg.seed))
	}
	return dialog.NewDialog(dcfg), nil
}
