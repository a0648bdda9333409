package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestLoadFileMissingYieldsDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Driver() != "pi" {
		t.Errorf("driver = %q, want pi", cfg.Driver())
	}
	if cfg.Executor() != "direct" {
		t.Errorf("executor = %q, want direct", cfg.Executor())
	}
	cmd, args := cfg.ProgramRuntime()
	if cmd != "bun" || len(args) != 0 {
		t.Errorf("program runtime = %q %v", cmd, args)
	}
	if globs := cfg.ArtifactGlobs(); !reflect.DeepEqual(globs, []string{"**"}) {
		t.Errorf("globs = %v", globs)
	}
}

func TestLoadFileParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
runs_dir: /var/mill/runs
default_driver: claude
default_executor: direct
program:
  runtime: deno
  args: ["run", "--allow-all"]
drivers:
  pi:
    command: /usr/local/bin/pi
    args: ["--mode", "json"]
    env:
      PI_LOG: quiet
artifacts:
  allow: ["reports/**", "out/*.json"]
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Driver() != "claude" {
		t.Errorf("driver = %q", cfg.Driver())
	}
	root, err := cfg.RunsRoot("")
	if err != nil {
		t.Fatal(err)
	}
	if root != "/var/mill/runs" {
		t.Errorf("runs root = %q", root)
	}
	cmd, args := cfg.ProgramRuntime()
	if cmd != "deno" || !reflect.DeepEqual(args, []string{"run", "--allow-all"}) {
		t.Errorf("program runtime = %q %v", cmd, args)
	}
	pc, ok := cfg.DriverProcess("pi")
	if !ok || pc.Command != "/usr/local/bin/pi" || pc.Env["PI_LOG"] != "quiet" {
		t.Errorf("driver process = %+v ok=%t", pc, ok)
	}
	if globs := cfg.ArtifactGlobs(); !reflect.DeepEqual(globs, []string{"reports/**", "out/*.json"}) {
		t.Errorf("globs = %v", globs)
	}
}

func TestLoadFileRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("no_such_key: true\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected unknown field error")
	}
}

func TestRunsRootFlagWins(t *testing.T) {
	cfg := &File{RunsDir: "/var/mill/runs"}
	dir := t.TempDir()
	root, err := cfg.RunsRoot(dir)
	if err != nil {
		t.Fatal(err)
	}
	if root != dir {
		t.Errorf("runs root = %q, want %q", root, dir)
	}
}

func TestProgramRuntimeEnvOverride(t *testing.T) {
	t.Setenv("MILL_PROGRAM_RUNTIME", "/bin/sh -e")
	cfg := &File{Program: ProgramConfig{Runtime: "deno"}}
	cmd, args := cfg.ProgramRuntime()
	if cmd != "/bin/sh" || !reflect.DeepEqual(args, []string{"-e"}) {
		t.Errorf("runtime = %q %v", cmd, args)
	}
}
