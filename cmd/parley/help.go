// ABOUTME: Help display for the parley CLI with subcommand usage, grouped flags, and examples.
// ABOUTME: Provides printHelp for polished usage output and envStatus for environment detection.
package main

import (
	"fmt"
	"io"
	"os"
)

const parleyASCII = `
     .------------------------.
    (  anyone out there?       )
     '--.---------------------'
         \
          \      .------------------------.
           '----(  one tick at a time...   )
                 '------------------------'
`

// printHelp writes a formatted help message to w, including usage patterns,
// grouped flags, examples, and environment status.
func printHelp(w io.Writer, ver string) {
	fmt.Fprint(w, parleyASCII)
	fmt.Fprintf(w, "parley %s — declarative dialog engine\n", ver)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  parley run [flags] <script-file>              Run a script interactively")
	fmt.Fprintln(w, "  parley send [flags] <key> <script> <message>  Process one message for a session")
	fmt.Fprintln(w, "  parley lint <script-file-or-dir>...           Check scripts for issues")
	fmt.Fprintln(w, "  parley grep <query> <script-file-or-dir>...   Query script definitions (gjson paths)")
	fmt.Fprintln(w, "  parley dot [flags] <script-file>              Render a script graph (graphviz)")
	fmt.Fprintln(w, "  parley version                                Print version and exit")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Run Flags:")
	fmt.Fprintln(w, "  -db <path>       SQLite database for session persistence")
	fmt.Fprintln(w, "  -key <key>       Session key; resumes the active session when one exists")
	fmt.Fprintln(w, "  -seed <n>        Seed for random branch selection")
	fmt.Fprintln(w, "  -verbose         Verbose engine logging")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Send Flags:")
	fmt.Fprintln(w, "  -db <path>       SQLite database (default: <data-dir>/parley.db)")
	fmt.Fprintln(w, "  -data-dir <dir>  Persistent state directory (default: ~/.parley)")
	fmt.Fprintln(w, "  -verbose         Verbose engine logging")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Dot Flags:")
	fmt.Fprintln(w, "  -format <fmt>    Output format: dot, svg, or png (default: dot)")
	fmt.Fprintln(w, "  -db <path>       SQLite database holding stored sessions")
	fmt.Fprintln(w, "  -key <key>       Overlay a stored session's trail (requires -db)")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Examples:")
	fmt.Fprintln(w, "  parley run examples/intake.json")
	fmt.Fprintln(w, "  parley run -db sessions.db -key ana examples/intake.json")
	fmt.Fprintln(w, "  parley send ana examples/intake.json \"my pump is leaking\"")
	fmt.Fprintln(w, "  parley lint scripts/")
	fmt.Fprintln(w, "  parley grep '#(type==\"echo\")#.message' scripts/")
	fmt.Fprintln(w, "  parley dot -format svg examples/intake.json > intake.svg")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Environment:")
	fmt.Fprintf(w, "  PARLEY_DATA_DIR  %s\n", envStatus("PARLEY_DATA_DIR"))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Docs: https://github.com/2389-research/parley")
}

// envStatus returns "[set]" if the named environment variable is non-empty,
// or "[not set]" otherwise.
func envStatus(key string) string {
	if os.Getenv(key) != "" {
		return "[set]"
	}
	return "[not set]"
}
