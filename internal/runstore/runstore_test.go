package runstore

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/laulauland/mill/internal/driver"
)

func newRun(t *testing.T, s *Store, id string) *Run {
	t.Helper()
	now := time.Now().UTC()
	run := &Run{
		ID:          id,
		Status:      StatusPending,
		Driver:      "pi",
		Executor:    "direct",
		ProgramPath: "/tmp/program.ts",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.Create(run); err != nil {
		t.Fatal(err)
	}
	return run
}

func TestNewRunIDShape(t *testing.T) {
	re := regexp.MustCompile(`^run_\d{8}t\d{6}_[0-9a-z]{16}$`)
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		id, err := NewRunID()
		if err != nil {
			t.Fatal(err)
		}
		if !re.MatchString(id) {
			t.Fatalf("run id %q does not match shape", id)
		}
		if seen[id] {
			t.Fatalf("duplicate run id %q", id)
		}
		seen[id] = true
	}
}

func TestCreateLoadRoundTrip(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	run := newRun(t, s, "run_20240101t000000_aaaaaaaaaaaaaaaa")

	got, err := s.Load(run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != run.ID || got.Status != StatusPending || got.Driver != "pi" {
		t.Errorf("loaded = %+v", got)
	}
	// Paths resolve inside the run directory.
	for _, p := range []string{got.Paths.RunFile, got.Paths.EventsFile, got.Paths.ResultFile} {
		if !strings.HasPrefix(p, got.Paths.RunDir+string(os.PathSeparator)) {
			t.Errorf("path %q escapes run dir %q", p, got.Paths.RunDir)
		}
	}
	if got.Paths.RunDir != filepath.Join(s.Root(), run.ID) {
		t.Errorf("runDir = %q", got.Paths.RunDir)
	}
}

func TestCreateRejectsDuplicate(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	run := newRun(t, s, "run_20240101t000000_bbbbbbbbbbbbbbbb")
	dup := *run
	if err := s.Create(&dup); err == nil {
		t.Fatal("expected duplicate create to fail")
	}
}

func TestSaveLeavesNoTempFile(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	run := newRun(t, s, "run_20240101t000000_cccccccccccccccc")
	if err := s.Save(run); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(run.Paths.RunFile + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("tmp file left behind: %v", err)
	}
}

func TestTransitionRefusesLeavingTerminal(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	run := newRun(t, s, "run_20240101t000000_dddddddddddddddd")
	if err := s.Transition(run, StatusRunning); err != nil {
		t.Fatal(err)
	}
	if err := s.Transition(run, StatusComplete); err != nil {
		t.Fatal(err)
	}
	if err := s.Transition(run, StatusFailed); err == nil {
		t.Fatal("expected terminal transition to be refused")
	}
}

func TestTransitionUpdatedAtMonotonic(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	run := newRun(t, s, "run_20240101t000000_eeeeeeeeeeeeeeee")
	before := run.UpdatedAt
	if err := s.Transition(run, StatusRunning); err != nil {
		t.Fatal(err)
	}
	if run.UpdatedAt.Before(before) {
		t.Errorf("updatedAt went backwards: %s < %s", run.UpdatedAt, before)
	}
}

func TestLoadUnknownRun(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Load("run_20240101t000000_ffffffffffffffff"); err == nil {
		t.Fatal("expected unknown run error")
	}
}

func TestListSortsNewestFirstAndSkipsJunk(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	older := newRun(t, s, "run_20240101t000000_aaaaaaaaaaaaaaaa")
	older.CreatedAt = older.CreatedAt.Add(-time.Hour)
	if err := s.Save(older); err != nil {
		t.Fatal(err)
	}
	newer := newRun(t, s, "run_20240101t000000_bbbbbbbbbbbbbbbb")
	_ = newer

	// A junk directory and a corrupt run.json are both skipped.
	if err := os.MkdirAll(filepath.Join(s.Root(), "not-a-run"), 0o755); err != nil {
		t.Fatal(err)
	}
	junkDir := filepath.Join(s.Root(), "run_20240101t000000_zzzzzzzzzzzzzzzz")
	if err := os.MkdirAll(junkDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(junkDir, "run.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	runs, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("runs = %d, want 2", len(runs))
	}
	if runs[0].ID != newer.ID || runs[1].ID != older.ID {
		t.Errorf("order = [%s, %s]", runs[0].ID, runs[1].ID)
	}
}

func TestSchemaRejectsInvalidDocument(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	run := newRun(t, s, "run_20240101t000000_1111111111111111")
	// Corrupt status in place.
	b, err := os.ReadFile(run.Paths.RunFile)
	if err != nil {
		t.Fatal(err)
	}
	corrupted := strings.Replace(string(b), `"pending"`, `"limbo"`, 1)
	if err := os.WriteFile(run.Paths.RunFile, []byte(corrupted), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Load(run.ID); err == nil {
		t.Fatal("expected schema validation to reject invalid status")
	}
}

func TestResultRoundTrip(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	run := newRun(t, s, "run_20240101t000000_2222222222222222")

	res := &Result{
		RunID:  run.ID,
		Status: StatusComplete,
		Spawns: []driver.SpawnResult{{Text: "hi", Driver: "pi", Agent: "a", Model: "m"}},
	}
	if err := s.WriteResult(run.ID, res); err != nil {
		t.Fatal(err)
	}
	got, err := s.LoadResult(run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusComplete || len(got.Spawns) != 1 || got.Spawns[0].Text != "hi" {
		t.Errorf("result = %+v", got)
	}
}

func TestWriteResultNormalizesNilSpawns(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	run := newRun(t, s, "run_20240101t000000_3333333333333333")
	if err := s.WriteResult(run.ID, &Result{RunID: run.ID, Status: StatusFailed, ErrorMessage: "boom"}); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(run.Paths.ResultFile)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `"spawns": []`) {
		t.Errorf("result.json spawns should be an empty array:\n%s", b)
	}
}

func TestDigestBytesStable(t *testing.T) {
	a := DigestBytes([]byte("program"))
	b := DigestBytes([]byte("program"))
	c := DigestBytes([]byte("program2"))
	if a != b {
		t.Error("digest not deterministic")
	}
	if a == c {
		t.Error("digest collision on different input")
	}
	if len(a) != 64 {
		t.Errorf("digest length = %d, want 64 hex chars", len(a))
	}
}
