// Package worker executes one run: it owns every status transition of
// its run, executes the user program in a sandboxed child, serves the
// ambient factory API, and writes the terminal result.
package worker

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/laulauland/mill/internal/config"
	"github.com/laulauland/mill/internal/driver"
	"github.com/laulauland/mill/internal/errkind"
	"github.com/laulauland/mill/internal/events"
	"github.com/laulauland/mill/internal/log"
	"github.com/laulauland/mill/internal/runstore"
)

// Options are the _worker invocation arguments.
type Options struct {
	RunID       string
	ProgramPath string
	RunsDir     string
	Config      *config.File
}

const programKillGrace = 2 * time.Second

// Run drives one run to a terminal status. It exits 0 whenever a
// terminal state was reached (including failed and cancelled). It exits
// non-zero when bootstrap fails, or when result.json, the terminal event
// or the terminal transition cannot be written.
func Run(opts Options, stderr io.Writer) int {
	cfg := opts.Config
	if cfg == nil {
		loaded, err := config.Load()
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		cfg = loaded
	}
	root, err := cfg.RunsRoot(opts.RunsDir)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	store, err := runstore.Open(root)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	run, err := store.Load(opts.RunID)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	// Reentry on a terminal run is a no-op.
	if run.Status.Terminal() {
		return 0
	}

	logger, err := log.OpenRunLogger(store.WorkerLogFile(run.ID), run.ID)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer func() { _ = logger.Close() }()

	writer, err := events.OpenWriter(run.Paths.EventsFile, run.ID)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer func() { _ = writer.Close() }()

	if run.Status == runstore.StatusPending {
		if err := store.Transition(run, runstore.StatusRunning); err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
	}
	logger.Info("worker started", map[string]any{"program": run.ProgramPath, "driver": run.Driver, "executor": run.Executor})

	w := &runWorker{
		store:  store,
		run:    run,
		writer: writer,
		logger: logger,
		cfg:    cfg,
	}
	return w.execute()
}

type runWorker struct {
	store  *runstore.Store
	run    *runstore.Run
	writer *events.Writer
	logger *log.Logger
	cfg    *config.File

	cancelled     atomic.Bool
	programStatus atomic.Value // string
	programErr    atomic.Value // string
	spawnWG       sync.WaitGroup
}

func (w *runWorker) execute() int {
	if msg, ok := w.verifyProgramCopy(); !ok {
		return w.finishFailed(nil, msg)
	}

	runCtx, cancelSpawns := context.WithCancel(context.Background())
	defer cancelSpawns()

	registry := driver.NewRegistry(w.cfg)
	fac := newFactory(w.run, w.writer, w.logger, driver.NewRuntime(registry), w.cfg.ArtifactGlobs(), runCtx, cancelSpawns)

	runtimeCmd, runtimeArgs := w.cfg.ProgramRuntime()
	prog, err := startProgram(runtimeCmd, runtimeArgs, w.store.ProgramFile(w.run.ID), w.run.Paths.RunDir, programInit{
		RunID:    w.run.ID,
		RunDir:   w.run.Paths.RunDir,
		Driver:   w.run.Driver,
		Executor: w.run.Executor,
	})
	if err != nil {
		return w.finishFailed(fac, err.Error())
	}

	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	go w.watchCancellation(watchCtx, cancelSpawns, prog)

	var pumps sync.WaitGroup
	pumps.Add(2)
	go func() {
		defer pumps.Done()
		if err := prog.frames(func(req programRequest) { w.dispatch(fac, prog, req) }, func(line string) {
			w.appendIO("program", "stdout", line, "")
		}); err != nil {
			w.logger.Warn("program stdout read failed", map[string]any{"error": err.Error()})
		}
	}()
	go func() {
		defer pumps.Done()
		prog.stderrLines(func(line string) {
			w.logger.Info("program stderr", map[string]any{"line": line})
			w.appendIO("program", "stderr", line, "")
		})
	}()

	// Drain both pipes to EOF before reaping the child: Wait closes the
	// pipes and would race the pumps otherwise.
	pumps.Wait()
	exitCode, waitErr := prog.wait()
	stopWatch()

	// A program may exit without awaiting every spawn. Outstanding
	// driver processes are aborted so no event lands after the terminal.
	cancelSpawns()
	w.spawnWG.Wait()

	if w.cancelled.Load() {
		return w.finishCancelled(fac)
	}
	if waitErr != nil {
		return w.finishFailed(fac, fmt.Sprintf("wait for program: %v", waitErr))
	}
	if msg, _ := w.programErr.Load().(string); msg != "" {
		return w.finishFailed(fac, msg)
	}
	if st, _ := w.programStatus.Load().(string); st == "failed" {
		return w.finishFailed(fac, "program reported failure")
	}
	if exitCode != 0 {
		return w.finishFailed(fac, fmt.Sprintf("program exited with code %d", exitCode))
	}
	return w.finishComplete(fac)
}

// verifyProgramCopy refuses to execute a program copy whose digest no
// longer matches the one recorded at submit.
func (w *runWorker) verifyProgramCopy() (string, bool) {
	if strings.TrimSpace(w.run.ProgramDigest) == "" {
		return "", true
	}
	b, err := os.ReadFile(w.store.ProgramFile(w.run.ID))
	if err != nil {
		return fmt.Sprintf("read program copy: %v", err), false
	}
	if got := runstore.DigestBytes(b); got != w.run.ProgramDigest {
		return "program copy digest mismatch", false
	}
	return "", true
}

// watchCancellation tails the event log for run:cancelRequested. On
// observation it cancels outstanding spawns and kills the program.
func (w *runWorker) watchCancellation(ctx context.Context, cancelSpawns context.CancelFunc, prog *programProcess) {
	observed := fmt.Errorf("cancel observed")
	t := events.NewTailer(w.run.Paths.EventsFile)
	err := t.Tail(ctx, func(ev events.Event) error {
		if ev.Type == events.TypeRunCancelReq {
			return observed
		}
		return nil
	})
	if err != observed {
		return
	}
	w.cancelled.Store(true)
	w.logger.Info("cancel requested", nil)
	cancelSpawns()
	if err := prog.kill(programKillGrace); err != nil {
		w.logger.Warn("kill program after cancel", map[string]any{"error": err.Error()})
	}
}

// dispatch answers one program request frame. Spawns run concurrently;
// everything else is handled inline.
func (w *runWorker) dispatch(fac *factory, prog *programProcess, req programRequest) {
	switch req.Type {
	case "spawn":
		w.spawnWG.Add(1)
		go func() {
			defer w.spawnWG.Done()
			res, err := fac.spawn(req.Input)
			if err != nil {
				_ = prog.respond(programResponse{ID: req.ID, Error: &responseError{
					Kind:    string(errkind.KindOf(err)),
					Message: err.Error(),
				}})
				return
			}
			_ = prog.respond(programResponse{ID: req.ID, Result: res})
		}()

	case "log":
		fac.observeLog(req.Level, req.Message, req.Data)

	case "artifact":
		path, ok := fac.observeArtifact(req.Path, req.Content)
		var result any
		if ok {
			result = path
		}
		_ = prog.respond(programResponse{ID: req.ID, Result: result})

	case "shutdown":
		fac.doShutdown(req.CancelRunning)
		if req.ID != "" {
			_ = prog.respond(programResponse{ID: req.ID, Result: "ok"})
		}

	case "result":
		w.programStatus.Store(strings.TrimSpace(req.Status))
		if msg := strings.TrimSpace(req.ErrorMessage); msg != "" {
			w.programErr.Store(msg)
		}

	default:
		w.logger.Warn("unknown program frame", map[string]any{"type": req.Type})
	}
}

func (w *runWorker) appendIO(source string, stream string, line string, spawnID string) {
	payload := map[string]any{"source": source, "stream": stream, "line": line}
	if spawnID != "" {
		payload["spawnId"] = spawnID
	}
	if _, err := w.writer.Append(events.TypeIO, payload); err != nil {
		w.logger.Warn("append io event failed", map[string]any{"error": err.Error()})
	}
}

func (w *runWorker) finishComplete(fac *factory) int {
	return w.finish(fac, runstore.StatusComplete, events.TypeRunComplete, "")
}

func (w *runWorker) finishFailed(fac *factory, errorMessage string) int {
	return w.finish(fac, runstore.StatusFailed, events.TypeRunFailed, errorMessage)
}

func (w *runWorker) finishCancelled(fac *factory) int {
	return w.finish(fac, runstore.StatusCancelled, events.TypeRunCancelled, "")
}

// finish writes result.json, appends the single terminal event, and
// transitions the run document. Exit is 0 for every terminal outcome.
func (w *runWorker) finish(fac *factory, status runstore.Status, eventType string, errorMessage string) int {
	res := &runstore.Result{
		RunID:        w.run.ID,
		Status:       status,
		ErrorMessage: errorMessage,
	}
	if fac != nil {
		res.Spawns = fac.spawnResults()
	}
	if err := w.store.WriteResult(w.run.ID, res); err != nil {
		w.logger.Error("write result failed", map[string]any{"error": err.Error()})
		return 1
	}
	payload := map[string]any{"status": string(status)}
	if errorMessage != "" {
		payload["errorMessage"] = errorMessage
	}
	if _, err := w.writer.Append(eventType, payload); err != nil {
		w.logger.Error("append terminal event failed", map[string]any{"error": err.Error()})
		return 1
	}
	if err := w.store.Transition(w.run, status); err != nil {
		w.logger.Error("terminal transition failed", map[string]any{"error": err.Error()})
		return 1
	}
	w.logger.Info("run finished", map[string]any{"status": string(status)})
	return 0
}
