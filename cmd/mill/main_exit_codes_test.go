package main

import (
	"strings"
	"testing"
)

func TestHelpOutput(t *testing.T) {
	code, stdout, _ := mill(t, "--help")
	if code != 0 {
		t.Fatalf("help exit = %d", code)
	}
	if !strings.Contains(stdout, "Usage: mill <command>") {
		t.Errorf("help missing usage line:\n%s", stdout)
	}
	if !strings.Contains(stdout, "run <program.ts>") {
		t.Errorf("help missing run command:\n%s", stdout)
	}
	for _, forbidden := range []string{"discovery", "inspect"} {
		if strings.Contains(stdout, forbidden) {
			t.Errorf("help mentions %q:\n%s", forbidden, stdout)
		}
	}
}

func TestUnknownCommandExits1(t *testing.T) {
	code, _, stderr := mill(t, "discover-everything")
	if code != 1 {
		t.Fatalf("exit = %d, want 1", code)
	}
	if !strings.Contains(stderr, "unknown command") {
		t.Errorf("stderr = %q", stderr)
	}
}

func TestNoCommandExits1(t *testing.T) {
	if code, _, _ := mill(t); code != 1 {
		t.Fatalf("exit = %d, want 1", code)
	}
}

func TestUnknownFlagExits1(t *testing.T) {
	millEnv(t)
	root := t.TempDir()
	cases := [][]string{
		{"status", "run_x", "--bogus", "--runs-dir", root},
		{"wait", "run_x", "--frobnicate", "--runs-dir", root},
		{"ls", "--wat", "--runs-dir", root},
		{"watch", "--run", "run_x", "--nope"},
		{"run", "p.ts", "--shiny"},
	}
	for _, args := range cases {
		if code, _, _ := mill(t, args...); code != 1 {
			t.Errorf("%v exit = %d, want 1", args, code)
		}
	}
}

func TestStatusUnknownRunExits1(t *testing.T) {
	millEnv(t)
	code, _, stderr := mill(t, "status", "run_20240101t000000_nope000000000000", "--runs-dir", t.TempDir())
	if code != 1 {
		t.Fatalf("exit = %d, want 1", code)
	}
	if !strings.Contains(stderr, "unknown run") {
		t.Errorf("stderr = %q", stderr)
	}
}

func TestWaitUnknownRunExits1(t *testing.T) {
	millEnv(t)
	if code, _, _ := mill(t, "wait", "run_20240101t000000_nope000000000000", "--timeout", "1", "--runs-dir", t.TempDir()); code != 1 {
		t.Fatalf("exit = %d, want 1", code)
	}
}

func TestWaitTimeoutExits2(t *testing.T) {
	millEnv(t)
	root := t.TempDir()
	run := fabricateRunningRun(t, root, "run_20240101t000000_9999999999999999")

	code, stdout, _ := mill(t, "wait", run.ID, "--timeout", "1", "--json", "--runs-dir", root)
	if code != 2 {
		t.Fatalf("exit = %d, want 2", code)
	}
	var doc struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	decodeJSONLine(t, stdout, &doc)
	if doc.Status != "running" {
		t.Errorf("status = %q, want running", doc.Status)
	}
}

func TestWaitInvalidTimeoutExits1(t *testing.T) {
	if code, _, _ := mill(t, "wait", "run_x", "--timeout", "soon"); code != 1 {
		t.Fatalf("exit = %d, want 1", code)
	}
}
