// ABOUTME: The send subcommand: a one-shot non-interactive tick against a persisted session.
// ABOUTME: Loads or creates the dialog for a key, processes the message, and echoes replies to stdout.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/2389-research/parley/dialog"
	"github.com/2389-research/parley/store"
)

// sendConfig holds the send subcommand's configuration parsed from flags.
type sendConfig struct {
	dbPath  string
	dataDir string
	verbose bool
}

// maxTicksPerSend bounds the nudge loop so a script that never waits for
// input cannot spin a one-shot send forever.
const maxTicksPerSend = 256

func sendCommand(args []string) int {
	var cfg sendConfig

	fs := flag.NewFlagSet("parley send", flag.ContinueOnError)
	fs.StringVar(&cfg.dbPath, "db", "", "SQLite database (default: <data-dir>/parley.db)")
	fs.StringVar(&cfg.dataDir, "data-dir", "", "Persistent state directory (default: ~/.parley)")
	fs.BoolVar(&cfg.verbose, "verbose", false, "Verbose engine logging")
	fs.Usage = func() { printHelp(os.Stderr, version) }

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() < 3 {
		fmt.Fprintln(os.Stderr, "error: usage: parley send <key> <script-file> <message>")
		return 2
	}
	key := fs.Arg(0)
	scriptPath := fs.Arg(1)
	message := strings.Join(fs.Args()[2:], " ")

	configureLogging(cfg.verbose)

	dbPath := cfg.dbPath
	if dbPath == "" {
		dataDir, err := resolveDataDir(cfg.dataDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		dbPath = defaultDBPath(dataDir)
	}

	st, err := store.Open(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	defer st.Close()

	d, err := st.ActiveDialog(key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	if d == nil {
		script, err := dialog.LoadScript(scriptPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		if err := st.SaveScript(script); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		// A finished dialog may still hold this key; a new conversation
		// replaces its stored history.
		if err := st.DeleteDialog(key); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		d = dialog.NewDialog(dialog.DialogConfig{Key: key, Script: script, Resolver: st})
	}

	lines, driveErr := drive(context.Background(), d, &message)
	for _, line := range lines {
		fmt.Println(line)
	}

	// Persist whatever happened, error ticks included: the transition log
	// is the record of the failure.
	if err := st.SaveDialog(d); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	if driveErr != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", driveErr)
		return 1
	}

	if !d.IsActive() {
		fmt.Fprintf(os.Stderr, "session %s finished: %s\n", d.Key, d.FinishReason)
	}
	return 0
}

// drive feeds one response into the dialog and then nudges it until it
// waits for input again, finishes, or stops transitioning. Echo and alert
// messages are collected for the caller; value actions apply immediately.
// A pause parks the dialog mid-send; a later send resumes it once the
// duration has elapsed.
func drive(ctx context.Context, d *dialog.Dialog, response *string) ([]string, error) {
	var lines []string
	for ticks := 0; d.IsActive(); ticks++ {
		if ticks >= maxTicksPerSend {
			return lines, fmt.Errorf("dialog did not settle after %d ticks", maxTicksPerSend)
		}

		before := len(d.Transitions)
		actions, err := d.Process(ctx, response, nil)
		if err != nil {
			return lines, err
		}
		response = nil

		waiting := false
		for _, action := range actions {
			switch action.Type() {
			case dialog.ActionEcho:
				if msg, ok := action["message"].(string); ok {
					lines = append(lines, msg)
				}
			case dialog.ActionRaiseAlert:
				if msg, ok := action["message"].(string); ok {
					lines = append(lines, "alert: "+msg)
				}
			case dialog.ActionWaitForInput, dialog.ActionExternalChoice:
				waiting = true
			case dialog.ActionPause:
				// no sleeping here; the settle check below parks the dialog
			default:
				dialog.ApplyValueAction(d, action)
			}
		}
		if waiting || len(d.Transitions) == before {
			break
		}
	}
	return lines, nil
}
