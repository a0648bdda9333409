package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"

	"github.com/laulauland/mill/internal/runstore"
)

// forkWorker launches `mill _worker` as a detached child of the
// supervisor: its own session, stdout+stderr appended to the run's
// worker log, pid recorded for liveness checks.
func (s *Supervisor) forkWorker(run *runstore.Run) error {
	self, err := workerExecutable()
	if err != nil {
		return err
	}
	args := []string{
		"_worker",
		"--run-id", run.ID,
		"--program", s.store.ProgramFile(run.ID),
		"--runs-dir", s.store.Root(),
	}

	logFile, err := os.OpenFile(s.store.WorkerLogFile(run.ID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer func() { _ = logFile.Close() }()

	cmd := exec.Command(self, args...)
	cmd.Dir = run.Paths.RunDir
	cmd.Stdin = nil
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("fork worker: %w", err)
	}
	pid := cmd.Process.Pid
	if err := os.WriteFile(s.store.WorkerPIDFile(run.ID), []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		return err
	}
	// The worker outlives the supervisor; never reap it here.
	return cmd.Process.Release()
}

// workerExecutable resolves the binary re-executed as the worker.
// MILL_WORKER_EXEC lets tests substitute the test binary.
func workerExecutable() (string, error) {
	if v := strings.TrimSpace(os.Getenv("MILL_WORKER_EXEC")); v != "" {
		return v, nil
	}
	return os.Executable()
}
