package main

import (
	"fmt"
	"io"
)

func runCancelCmd(args []string, stdout io.Writer, stderr io.Writer) int {
	var runID string
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
			if len(args[i]) > 2 && args[i][:2] == "--" {
				fmt.Fprintf(stderr, "unknown arg: %s\n", args[i])
				return 1
			}
			if runID != "" {
				fmt.Fprintf(stderr, "unexpected arg: %s\n", args[i])
				return 1
			}
			runID = args[i]
		}
	}
	if runID == "" {
		usage(stderr)
		return 1
	}

	sup, err := openSupervisor(runsDir, stderr)
	if err != nil {
		return 1
	}
	doc, err := sup.Cancel(runID)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if asJSON {
		return printJSON(stdout, stderr, doc)
	}
	fmt.Fprintf(stdout, "run_id=%s\n", doc.RunID)
	fmt.Fprintf(stdout, "status=%s\n", doc.Status)
	fmt.Fprintf(stdout, "already_terminal=%t\n", doc.AlreadyTerminal)
	return 0
}
