package main

import (
	"fmt"
	"io"

	"github.com/laulauland/mill/internal/worker"
)

// runWorkerCmd is the internal _worker entry point. It exits 0 whenever
// the run reached a terminal status (including failed and cancelled).
func runWorkerCmd(args []string, stderr io.Writer) int {
	var runID string
	var programPath string
	var runsDir string

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--run-id":
			i++
			if i >= len(args) {
				fmt.Fprintln(stderr, "--run-id requires a value")
				return 1
			}
			runID = args[i]
		case "--program":
			i++
			if i >= len(args) {
				fmt.Fprintln(stderr, "--program requires a value")
				return 1
			}
			programPath = args[i]
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
	if runID == "" || runsDir == "" {
		fmt.Fprintln(stderr, "--run-id and --runs-dir are required")
		return 1
	}

	return worker.Run(worker.Options{
		RunID:       runID,
		ProgramPath: programPath,
		RunsDir:     runsDir,
	}, stderr)
}
