// ABOUTME: CLI entrypoint for the parley dialog runner with run, send, lint, grep, and dot subcommands.
// ABOUTME: Dispatches to per-subcommand flag sets and wires .env loading, logging, and exit codes.
package main

import (
	"fmt"
	"log/slog"
	"os"
)

var version = "dev"

func main() {
	loadDotEnv(".env")
	os.Exit(run(os.Args[1:]))
}

// run dispatches to a subcommand and returns its exit code: 0 for success,
// 1 for failure, 2 for usage errors.
func run(args []string) int {
	if len(args) == 0 {
		printHelp(os.Stderr, version)
		return 0
	}

	switch args[0] {
	case "run":
		return runCommand(args[1:])
	case "send":
		return sendCommand(args[1:])
	case "lint":
		return lintCommand(args[1:])
	case "grep":
		return grepCommand(args[1:])
	case "dot":
		return dotCommand(args[1:])
	case "version", "-version", "--version":
		fmt.Printf("parley %s\n", version)
		return 0
	case "help", "-h", "-help", "--help":
		printHelp(os.Stdout, version)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n\n", args[0])
		printHelp(os.Stderr, version)
		return 2
	}
}

// configureLogging installs the process-wide slog handler. Engine packages
// log through the injected logger only, so stdout stays clean for command
// output; diagnostics go to stderr at warn level, or debug with -verbose.
func configureLogging(verbose bool) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
