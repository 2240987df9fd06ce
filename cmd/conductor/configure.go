package main

import (
	"errors"
	"fmt"
	"os"
)

// Config is the result of parsing the command line: the target
// executable and the hooks library to inject into it, plus the
// optional interactive status view.
type Config struct {
	ExecutablePath string
	LibraryPath    string
	TUI            bool
}

// ErrUsage is returned when the arguments don't match the two-positional
// contract; the caller has already had a usage banner printed to stdout.
var ErrUsage = errors.New("conductor: usage error")

// Configure parses os.Args into a Config, printing a usage banner to
// stdout and returning ErrUsage on any mismatch.
func Configure() (Config, error) {
	return configure(os.Args[1:])
}

func configure(args []string) (Config, error) {
	var tui bool
	var positional []string
	for _, arg := range args {
		if arg == "--tui" {
			tui = true
			continue
		}
		positional = append(positional, arg)
	}
	if len(positional) != 2 {
		printUsage()
		return Config{}, ErrUsage
	}
	return Config{ExecutablePath: positional[0], LibraryPath: positional[1], TUI: tui}, nil
}

func printUsage() {
	fmt.Println(`Usage: conductor [--tui] <target-executable> <hooks-library>

  --tui               show an interactive status view instead of plain logs
  target-executable   path to the Win32 executable to run under the harness
  hooks-library       path to the hooks DLL to inject into it`)
}
