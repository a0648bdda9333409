package driver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/laulauland/mill/internal/errkind"
)

// Runtime launches one driver process per spawn and feeds its stdout
// through the driver's codec. Cancellation is propagated as SIGTERM to
// the child's process group, escalating to SIGKILL after a grace period.
type Runtime struct {
	registry *Registry
}

func NewRuntime(registry *Registry) *Runtime {
	return &Runtime{registry: registry}
}

// Spawn runs one driver process to completion and decodes its output.
// Launch errors, read errors, codec errors, and a non-zero exit with no
// terminal line all surface as tagged errors; the caller records them
// as a failed spawn.
func (r *Runtime) Spawn(ctx context.Context, in SpawnInput) (*SpawnOutput, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	d, err := r.registry.Lookup(in.driverTag)
	if err != nil {
		return nil, err
	}
	if in.Model != "" {
		if err := CheckModel(d.Name, in.Model); err != nil {
			return nil, err
		}
	}

	args := buildArgv(d, in)
	cmd := exec.Command(d.Process.Command, args...)
	cmd.Dir = workingDir(in)
	cmd.Env = driverEnv(d, cmd.Dir)
	// Stdin stays detached: drivers must never block on interactive reads.
	cmd.Stdin = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, errkind.Wrap(errkind.Runtime, err, "launch driver %q", d.Process.Command)
	}

	waitErr, cancelled := waitWithCancel(ctx, cmd, killGrace())

	if err := writeTranscript(in, stdout.Bytes()); err != nil {
		// Transcripts are observability; losing one must not fail the spawn.
		fmt.Fprintf(os.Stderr, "warning: write session transcript: %v\n", err)
	}

	if cancelled {
		return nil, errkind.New(errkind.Cancelled, "spawn %s cancelled", in.SpawnID)
	}

	out, decodeErr := d.Codec.Decode(stdout.Bytes(), in)
	if decodeErr != nil {
		if waitErr != nil {
			return nil, errkind.Wrap(errkind.Runtime, decodeErr,
				"driver %s exited with %s (stderr: %s)", d.Name, exitString(cmd), truncateStderr(stderr.Bytes()))
		}
		return nil, decodeErr
	}
	return out, nil
}

// SetDriverTag binds the spawn to the run's driver. Unexported field:
// the wire shape of SpawnInput stays limited to program-facing fields.
func (in *SpawnInput) SetDriverTag(tag string) { in.driverTag = tag }

func buildArgv(d *Driver, in SpawnInput) []string {
	args := append([]string{}, d.Process.Args...)
	if m := strings.TrimSpace(in.Model); m != "" {
		model := m
		if d.UnqualifiedModel {
			model = UnqualifiedModelID(m)
		}
		args = append(args, "--model", model)
	}
	if sp := strings.TrimSpace(in.SystemPrompt); sp != "" {
		args = append(args, "--system-prompt", sp)
	}
	args = append(args, in.Prompt)
	return args
}

func workingDir(in SpawnInput) string {
	if strings.TrimSpace(in.Cwd) != "" {
		return in.Cwd
	}
	return in.RunDirectory
}

// driverEnv layers the child environment: inherited, then .env from the
// working directory, then config overrides.
func driverEnv(d *Driver, dir string) []string {
	env := os.Environ()
	if dir != "" {
		if dotenv, err := godotenv.Read(filepath.Join(dir, ".env")); err == nil {
			for k, v := range dotenv {
				env = append(env, k+"="+v)
			}
		}
	}
	for k, v := range d.Process.Env {
		env = append(env, k+"="+v)
	}
	return env
}

// waitWithCancel waits for the child, signalling its process group on
// context cancellation: SIGTERM first, SIGKILL after the grace period.
func waitWithCancel(ctx context.Context, cmd *exec.Cmd, grace time.Duration) (waitErr error, cancelled bool) {
	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	select {
	case err := <-waitCh:
		return err, false
	case <-ctx.Done():
	}

	_ = signalGroup(cmd, syscall.SIGTERM)
	select {
	case <-waitCh:
		return ctx.Err(), true
	case <-time.After(grace):
	}
	_ = signalGroup(cmd, syscall.SIGKILL)
	<-waitCh
	return ctx.Err(), true
}

func signalGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return nil
		}
		return err
	}
	if err := syscall.Kill(-pgid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		return err
	}
	return nil
}

func killGrace() time.Duration {
	v := strings.TrimSpace(os.Getenv("MILL_DRIVER_KILL_GRACE"))
	if v == "" {
		return 2 * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < time.Second {
		return 2 * time.Second
	}
	return d
}

// writeTranscript stores the raw driver stdout under
// sessions/<spawnId>.jsonl in the run directory.
func writeTranscript(in SpawnInput, stdout []byte) error {
	if strings.TrimSpace(in.RunDirectory) == "" {
		return nil
	}
	dir := filepath.Join(in.RunDirectory, "sessions")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, in.SpawnID+".jsonl"), stdout, 0o644)
}

func exitString(cmd *exec.Cmd) string {
	if cmd.ProcessState == nil {
		return "unknown exit"
	}
	return fmt.Sprintf("exit code %d", cmd.ProcessState.ExitCode())
}

func truncateStderr(b []byte) string {
	s := strings.TrimSpace(string(b))
	const max = 400
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
