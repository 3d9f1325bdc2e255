package main

import (
	"fmt"
	"os"
	"runtime"

	"golang.org/x/term"
)

// Version information - set via ldflags during build
var (
	version   = "0.1.0-dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		args = []string{"serve"}
	}
	handled, exitCode := dispatchSubcommand(args)
	if !handled {
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n\n", args[0])
		printHelp()
		os.Exit(exitUsage)
	}
	os.Exit(exitCode)
}

func dispatchSubcommand(args []string) (bool, int) {
	if len(args) == 0 {
		return false, 0
	}
	switch args[0] {
	case "--version", "-v", "version":
		printVersion()
		return true, 0
	case "--help", "-h", "help":
		printHelp()
		return true, 0
	case "serve":
		return true, runCommand(runServeCommand, args[1:])
	case "inspect":
		return true, runCommand(runInspectCommand, args[1:])
	case "sign":
		return true, runCommand(runSignCommand, args[1:])
	default:
		return false, 0
	}
}

func runCommand(handler func([]string) error, args []string) int {
	if err := handler(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitCodeForError(err)
	}
	return 0
}

func printVersion() {
	fmt.Printf("scormview %s\n", version)
	if commit != "unknown" {
		fmt.Printf("  Commit:     %s\n", commit)
	}
	if buildDate != "unknown" {
		fmt.Printf("  Built:      %s\n", buildDate)
	}
	fmt.Printf("  Go version: %s\n", runtime.Version())
}

func printHelp() {
	fmt.Println(`scormview - SCORM package viewer

Usage:
  scormview [command] [flags]

Commands:
  serve      Run the viewer HTTP server (default)
  inspect    Fetch or open a package and report its entry point
  sign       Print a signed download URL for a stored package
  version    Show version information
  help       Show this help

Run 'scormview <command> --help' for command flags.`)
}

func isInteractiveTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}
