package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"
)

func runWaitCmd(args []string, stdout io.Writer, stderr io.Writer) int {
	var runID string
	var runsDir string
	var asJSON bool
	var timeout time.Duration

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--json":
			asJSON = true
		case "--timeout":
			i++
			if i >= len(args) {
				fmt.Fprintln(stderr, "--timeout requires a value")
				return 1
			}
			sec, err := strconv.Atoi(args[i])
			if err != nil || sec < 0 {
				fmt.Fprintf(stderr, "invalid --timeout value: %q\n", args[i])
				return 1
			}
			timeout = time.Duration(sec) * time.Second
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
	doc, timedOut, err := sup.Wait(context.Background(), runID, timeout)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if asJSON {
		if code := printJSON(stdout, stderr, doc); code != 0 {
			return code
		}
	} else {
		fmt.Fprintf(stdout, "run_id=%s\n", doc.ID)
		fmt.Fprintf(stdout, "status=%s\n", doc.Status)
	}
	if timedOut {
		return 2
	}
	return 0
}
