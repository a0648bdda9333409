package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"

	"github.com/laulauland/mill/internal/driver"
	"github.com/laulauland/mill/internal/errkind"
	"github.com/laulauland/mill/internal/events"
	"github.com/laulauland/mill/internal/log"
	"github.com/laulauland/mill/internal/runstore"
)

// factory implements the ambient API the program sees: spawn, observe,
// shutdown. One factory exists per run; all event appends flow through
// the run's single event writer.
type factory struct {
	run     *runstore.Run
	writer  *events.Writer
	logger  *log.Logger
	runtime *driver.Runtime
	globs   []string

	mu        sync.Mutex
	spawnSeq  int
	spawnIDs  map[string]bool
	results   []driver.SpawnResult
	shutdown  bool
	cancelAll context.CancelFunc
	runCtx    context.Context
}

func newFactory(run *runstore.Run, writer *events.Writer, logger *log.Logger, rt *driver.Runtime, globs []string, runCtx context.Context, cancelAll context.CancelFunc) *factory {
	return &factory{
		run:       run,
		writer:    writer,
		logger:    logger,
		runtime:   rt,
		globs:     globs,
		spawnIDs:  map[string]bool{},
		runCtx:    runCtx,
		cancelAll: cancelAll,
	}
}

// executionResult is the program-facing shape of a finished spawn.
type executionResult struct {
	SpawnID string `json:"spawnId"`
	driver.SpawnResult
}

// spawn runs one driver process for the program. Driver and codec
// failures become a failed spawn result rather than failing the run.
func (f *factory) spawn(rawInput json.RawMessage) (*executionResult, error) {
	var in driver.SpawnInput
	if len(rawInput) > 0 {
		if err := json.Unmarshal(rawInput, &in); err != nil {
			return nil, errkind.Wrap(errkind.InvalidInput, err, "decode spawn input")
		}
	}
	if strings.TrimSpace(in.Prompt) == "" {
		return nil, errkind.New(errkind.InvalidInput, "spawn input missing prompt")
	}

	f.mu.Lock()
	if f.shutdown {
		f.mu.Unlock()
		return nil, errkind.New(errkind.InvalidInput, "factory is shut down")
	}
	f.spawnSeq++
	if strings.TrimSpace(in.SpawnID) == "" {
		in.SpawnID = fmt.Sprintf("spawn_%d", f.spawnSeq)
	}
	if f.spawnIDs[in.SpawnID] {
		f.mu.Unlock()
		return nil, errkind.New(errkind.InvalidInput, "duplicate spawn id %q", in.SpawnID)
	}
	f.spawnIDs[in.SpawnID] = true
	f.mu.Unlock()

	in.RunID = f.run.ID
	in.RunDirectory = f.run.Paths.RunDir
	in.SetDriverTag(f.run.Driver)

	if _, err := f.writer.Append(events.TypeSpawnStart, map[string]any{
		"spawnId": in.SpawnID,
		"agent":   in.Agent,
		"model":   in.Model,
		"driver":  f.run.Driver,
	}); err != nil {
		return nil, err
	}

	out, err := f.runtime.Spawn(f.runCtx, in)
	var res driver.SpawnResult
	if err != nil {
		res = driver.SpawnResult{
			Agent:        in.Agent,
			Model:        in.Model,
			Driver:       f.run.Driver,
			ExitCode:     1,
			ErrorMessage: err.Error(),
		}
		if errkind.Is(err, errkind.Cancelled) {
			res.StopReason = "cancelled"
		}
		f.logger.Error("spawn failed", map[string]any{"spawnId": in.SpawnID, "kind": string(errkind.KindOf(err)), "error": err.Error()})
	} else {
		res = out.Result
		if res.SessionRef == "" {
			// Not every dialect reports a session handle; mint an opaque
			// one so spawn:result and result.json always carry a ref.
			res.SessionRef = uuid.NewString()
		}
		for _, line := range out.Raw {
			if _, aerr := f.writer.Append(events.TypeIO, map[string]any{
				"source":  "driver",
				"stream":  "stdout",
				"line":    line,
				"spawnId": in.SpawnID,
			}); aerr != nil {
				return nil, aerr
			}
		}
		for _, ev := range out.Events {
			payload := map[string]any{"spawnId": in.SpawnID, "event": ev.Type}
			for k, v := range ev.Payload {
				payload[k] = v
			}
			if _, aerr := f.writer.Append(events.TypeSpawnEvent, payload); aerr != nil {
				return nil, aerr
			}
		}
	}

	resultPayload := map[string]any{
		"spawnId":    in.SpawnID,
		"text":       res.Text,
		"sessionRef": res.SessionRef,
		"agent":      res.Agent,
		"model":      res.Model,
		"driver":     res.Driver,
		"exitCode":   res.ExitCode,
	}
	if res.StopReason != "" {
		resultPayload["stopReason"] = res.StopReason
	}
	if res.ErrorMessage != "" {
		resultPayload["errorMessage"] = res.ErrorMessage
	}
	if _, aerr := f.writer.Append(events.TypeSpawnResult, resultPayload); aerr != nil {
		return nil, aerr
	}

	f.mu.Lock()
	f.results = append(f.results, res)
	f.mu.Unlock()

	return &executionResult{SpawnID: in.SpawnID, SpawnResult: res}, nil
}

// observeLog handles factory.observe.log.
func (f *factory) observeLog(level string, message string, data map[string]any) {
	f.logger.Level(level, message, data)
}

// observeArtifact handles factory.observe.artifact: writes content at
// relPath inside the run directory when it stays inside and matches
// the allow globs, otherwise reports nil.
func (f *factory) observeArtifact(relPath string, content string) (string, bool) {
	relPath = strings.TrimSpace(relPath)
	if relPath == "" || filepath.IsAbs(relPath) || !filepath.IsLocal(relPath) {
		return "", false
	}
	matched := false
	for _, glob := range f.globs {
		if ok, err := doublestar.Match(glob, filepath.ToSlash(relPath)); err == nil && ok {
			matched = true
			break
		}
	}
	if !matched {
		return "", false
	}
	abs := filepath.Join(f.run.Paths.RunDir, relPath)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		f.logger.Warn("artifact mkdir failed", map[string]any{"path": relPath, "error": err.Error()})
		return "", false
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		f.logger.Warn("artifact write failed", map[string]any{"path": relPath, "error": err.Error()})
		return "", false
	}
	return abs, true
}

// doShutdown handles factory.shutdown.
func (f *factory) doShutdown(cancelRunning bool) {
	f.mu.Lock()
	f.shutdown = true
	f.mu.Unlock()
	if cancelRunning {
		f.cancelAll()
	}
}

// spawnResults snapshots the recorded results in completion order.
func (f *factory) spawnResults() []driver.SpawnResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]driver.SpawnResult{}, f.results...)
}
