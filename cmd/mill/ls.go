package main

import (
	"fmt"
	"io"

	"github.com/laulauland/mill/internal/supervisor"
)

func runLsCmd(args []string, stdout io.Writer, stderr io.Writer) int {
	var runsDir string
	var asJSON bool

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--json":
			asJSON = true
		case "--runs-dir":
			i++
			if i >= len(args) {
				fmt.Fprintln(stderr, "--runs-dir requires a value")
				return 1
			}
			runsDir = args[i]
		default:
			fmt.Fprintf(stderr, "unknown arg: %s\n", args[i])
			return 1
		}
	}

	sup, err := openSupervisor(runsDir, stderr)
	if err != nil {
		return 1
	}
	entries, err := sup.List()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if asJSON {
		if entries == nil {
			entries = []supervisor.ListEntry{}
		}
		return printJSON(stdout, stderr, entries)
	}
	for _, e := range entries {
		fmt.Fprintf(stdout, "%s  %s\n", e.ID, e.Status)
	}
	return 0
}
