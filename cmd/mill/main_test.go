package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/laulauland/mill/internal/events"
	"github.com/laulauland/mill/internal/runstore"
)

// TestMain lets the test binary stand in for the mill executable when
// the supervisor re-execs it as a detached worker.
func TestMain(m *testing.M) {
	if len(os.Args) > 1 && os.Args[1] == "_worker" {
		os.Exit(dispatch(os.Args[1:], os.Stdout, os.Stderr))
	}
	os.Exit(m.Run())
}

// millEnv points the worker re-exec at the test binary, programs at
// /bin/sh, and the config at an empty location.
func millEnv(t *testing.T) {
	t.Helper()
	exe, err := os.Executable()
	if err != nil {
		t.Fatal(err)
	}
	t.Setenv("MILL_WORKER_EXEC", exe)
	t.Setenv("MILL_PROGRAM_RUNTIME", "/bin/sh")
	t.Setenv("MILL_CONFIG", filepath.Join(t.TempDir(), "config.yaml"))
}

func writeProgram(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "program.ts")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func mill(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := dispatch(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func decodeJSONLine(t *testing.T, out string, v any) {
	t.Helper()
	line := out
	if i := bytes.IndexByte([]byte(out), '\n'); i >= 0 {
		line = out[:i]
	}
	if err := json.Unmarshal([]byte(line), v); err != nil {
		t.Fatalf("decode %q: %v", line, err)
	}
}

// fabricateRunningRun creates a run directory with no worker behind it.
func fabricateRunningRun(t *testing.T, root string, id string) *runstore.Run {
	t.Helper()
	store, err := runstore.Open(root)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now().UTC()
	run := &runstore.Run{
		ID:          id,
		Status:      runstore.StatusPending,
		Driver:      "pi",
		Executor:    "direct",
		ProgramPath: "/tmp/p.ts",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := store.Create(run); err != nil {
		t.Fatal(err)
	}
	w, err := events.OpenWriter(run.Paths.EventsFile, id)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Append(events.TypeRunStart, nil); err != nil {
		t.Fatal(err)
	}
	_ = w.Close()
	if err := store.Transition(run, runstore.StatusRunning); err != nil {
		t.Fatal(err)
	}
	return run
}
