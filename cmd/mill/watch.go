package main

import (
	"context"
	"fmt"
	"io"

	"github.com/laulauland/mill/internal/events"
	"github.com/laulauland/mill/internal/supervisor"
)

func runWatchCmd(args []string, stdout io.Writer, stderr io.Writer) int {
	var runID string
	var channel string
	var runsDir string
	var asJSON bool

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--json":
			asJSON = true
		case "--run":
			i++
			if i >= len(args) {
				fmt.Fprintln(stderr, "--run requires a value")
				return 1
			}
			runID = args[i]
		case "--channel":
			i++
			if i >= len(args) {
				fmt.Fprintln(stderr, "--channel requires a value")
				return 1
			}
			channel = args[i]
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
	if runID == "" {
		fmt.Fprintln(stderr, "--run is required")
		return 1
	}
	if channel == "" {
		channel = supervisor.ChannelEvents
	}

	sup, err := openSupervisor(runsDir, stderr)
	if err != nil {
		return 1
	}
	err = sup.Watch(context.Background(), runID, channel, func(entry supervisor.WatchEntry) error {
		if asJSON {
			if code := printJSON(stdout, stderr, entry); code != 0 {
				return fmt.Errorf("encode watch entry")
			}
			return nil
		}
		fmt.Fprintln(stdout, formatWatchEntry(entry))
		return nil
	})
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	return 0
}

func formatWatchEntry(entry supervisor.WatchEntry) string {
	if entry.Kind == "io" {
		return fmt.Sprintf("%s | io | %s/%s | %s",
			entry.Timestamp.Format("15:04:05"), entry.Source, entry.Stream, entry.Line)
	}
	ev := entry.Event
	line := fmt.Sprintf("%s | %-20s |", ev.Timestamp.Format("15:04:05"), ev.Type)
	if spawnID := payloadStr(ev, "spawnId"); spawnID != "" {
		line += " " + spawnID
	}
	if msg := payloadStr(ev, "errorMessage"); msg != "" {
		line += " " + msg
	}
	return line
}

func payloadStr(ev *events.Event, key string) string {
	if ev == nil || ev.Payload == nil {
		return ""
	}
	s, _ := ev.Payload[key].(string)
	return s
}
