// Package supervisor implements the run-facing operations behind the
// CLI: submit, status, wait, cancel, watch, list. The supervisor never
// transitions run status itself — it creates runs and writes
// cancellation requests; the worker owns every other transition.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/laulauland/mill/internal/config"
	"github.com/laulauland/mill/internal/errkind"
	"github.com/laulauland/mill/internal/events"
	"github.com/laulauland/mill/internal/procutil"
	"github.com/laulauland/mill/internal/runstore"
)

type Supervisor struct {
	cfg   *config.File
	store *runstore.Store
}

// New opens a supervisor over the resolved runs root.
func New(cfg *config.File, runsDirFlag string) (*Supervisor, error) {
	root, err := cfg.RunsRoot(runsDirFlag)
	if err != nil {
		return nil, err
	}
	store, err := runstore.Open(root)
	if err != nil {
		return nil, err
	}
	return &Supervisor{cfg: cfg, store: store}, nil
}

func (s *Supervisor) Store() *runstore.Store { return s.store }

// SubmitOptions configure one submission.
type SubmitOptions struct {
	Driver   string
	Executor string
}

// SubmitReceipt is the async submit envelope.
type SubmitReceipt struct {
	RunID  string          `json:"runId"`
	Status runstore.Status `json:"status"`
	Paths  runstore.Paths  `json:"paths"`
}

// Submit creates the run, copies the program into the run directory,
// appends run:start, and forks a detached worker. The returned status
// is pending or running depending on the race with the worker.
func (s *Supervisor) Submit(programPath string, opts SubmitOptions) (*SubmitReceipt, error) {
	programPath = strings.TrimSpace(programPath)
	if programPath == "" {
		return nil, errkind.New(errkind.InvalidInput, "program path is required")
	}
	programBytes, err := os.ReadFile(programPath)
	if err != nil {
		return nil, errkind.Wrap(errkind.InvalidInput, err, "read program %s", programPath)
	}

	runID, err := runstore.NewRunID()
	if err != nil {
		return nil, err
	}
	drv := strings.TrimSpace(opts.Driver)
	if drv == "" {
		drv = s.cfg.Driver()
	}
	executor := strings.TrimSpace(opts.Executor)
	if executor == "" {
		executor = s.cfg.Executor()
	}

	now := time.Now().UTC()
	run := &runstore.Run{
		ID:            runID,
		Status:        runstore.StatusPending,
		Driver:        drv,
		Executor:      executor,
		ProgramPath:   programPath,
		ProgramDigest: runstore.DigestBytes(programBytes),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.Create(run); err != nil {
		return nil, err
	}
	if err := os.WriteFile(s.store.ProgramFile(runID), programBytes, 0o644); err != nil {
		return nil, err
	}

	writer, err := events.OpenWriter(run.Paths.EventsFile, runID)
	if err != nil {
		return nil, err
	}
	_, appendErr := writer.Append(events.TypeRunStart, map[string]any{"programPath": programPath})
	closeErr := writer.Close()
	if appendErr != nil {
		return nil, appendErr
	}
	if closeErr != nil {
		return nil, closeErr
	}

	if err := s.forkWorker(run); err != nil {
		return nil, err
	}

	// The worker may already have flipped the status.
	current, err := s.store.Load(runID)
	if err != nil {
		current = run
	}
	return &SubmitReceipt{RunID: runID, Status: current.Status, Paths: run.Paths}, nil
}

// StatusDoc is the status/wait envelope.
type StatusDoc struct {
	ID     string          `json:"id"`
	Status runstore.Status `json:"status"`
}

func (s *Supervisor) Status(runID string) (*StatusDoc, error) {
	run, err := s.store.Load(runID)
	if err != nil {
		return nil, err
	}
	return &StatusDoc{ID: run.ID, Status: run.Status}, nil
}

// Wait blocks until the run is terminal or the timeout elapses. When
// the deadline wins, the current non-terminal status is returned with
// timedOut=true; waiting never mutates run state.
func (s *Supervisor) Wait(ctx context.Context, runID string, timeout time.Duration) (*StatusDoc, bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		run, err := s.store.Load(runID)
		if err != nil {
			return nil, false, err
		}
		if run.Status.Terminal() {
			return &StatusDoc{ID: run.ID, Status: run.Status}, false, nil
		}
		if timeout > 0 && !time.Now().Before(deadline) {
			return &StatusDoc{ID: run.ID, Status: run.Status}, true, nil
		}
		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// CancelDoc is the cancel envelope. Status communicates intent; the
// actual transition is the worker's and becomes visible on later reads.
type CancelDoc struct {
	RunID           string          `json:"runId"`
	Status          runstore.Status `json:"status"`
	AlreadyTerminal bool            `json:"alreadyTerminal"`
}

// Cancel is idempotent and safe after terminal.
func (s *Supervisor) Cancel(runID string) (*CancelDoc, error) {
	run, err := s.store.Load(runID)
	if err != nil {
		return nil, err
	}
	if run.Status.Terminal() {
		return &CancelDoc{RunID: run.ID, Status: run.Status, AlreadyTerminal: true}, nil
	}
	writer, err := events.OpenWriter(run.Paths.EventsFile, run.ID)
	if err != nil {
		return nil, err
	}
	_, appendErr := writer.Append(events.TypeRunCancelReq, nil)
	closeErr := writer.Close()
	if appendErr != nil {
		return nil, appendErr
	}
	if closeErr != nil {
		return nil, closeErr
	}
	return &CancelDoc{RunID: run.ID, Status: runstore.StatusCancelled, AlreadyTerminal: false}, nil
}

// Watch channels.
const (
	ChannelEvents = "events"
	ChannelIO     = "io"
	ChannelAll    = "all"
)

// WatchEntry is one streamed envelope: kind "event" or "io".
type WatchEntry struct {
	Kind  string `json:"kind"`
	RunID string `json:"runId"`

	Event *events.Event `json:"event,omitempty"`

	Source    string    `json:"source,omitempty"`
	Stream    string    `json:"stream,omitempty"`
	Line      string    `json:"line,omitempty"`
	Timestamp time.Time `json:"timestamp,omitzero"`
	SpawnID   string    `json:"spawnId,omitempty"`
}

// Watch streams envelopes for a run until its terminal event, then
// returns. A dead worker with no terminal event ends the stream with
// events.ErrWriterGone.
func (s *Supervisor) Watch(ctx context.Context, runID string, channel string, fn func(WatchEntry) error) error {
	switch channel {
	case ChannelEvents, ChannelIO, ChannelAll:
	default:
		return errkind.New(errkind.InvalidInput, "unknown watch channel %q", channel)
	}
	run, err := s.store.Load(runID)
	if err != nil {
		return err
	}

	t := events.NewTailer(run.Paths.EventsFile)
	pidFile := s.store.WorkerPIDFile(run.ID)
	t.AliveCheck = func() bool {
		pid := procutil.ReadPIDFile(pidFile)
		if pid == 0 {
			// No pid recorded yet (or synchronous worker); keep polling.
			return true
		}
		return procutil.PIDAlive(pid)
	}

	return t.Tail(ctx, func(ev events.Event) error {
		if ev.Type == events.TypeIO {
			if channel == ChannelEvents {
				return nil
			}
			entry := WatchEntry{
				Kind:      "io",
				RunID:     run.ID,
				Source:    payloadString(ev.Payload, "source"),
				Stream:    payloadString(ev.Payload, "stream"),
				Line:      payloadString(ev.Payload, "line"),
				SpawnID:   payloadString(ev.Payload, "spawnId"),
				Timestamp: ev.Timestamp,
			}
			return fn(entry)
		}
		if channel == ChannelIO && !ev.IsTerminal() {
			return nil
		}
		e := ev
		return fn(WatchEntry{Kind: "event", RunID: run.ID, Event: &e})
	})
}

// ListEntry is one ls row.
type ListEntry struct {
	ID     string          `json:"id"`
	Status runstore.Status `json:"status"`
}

// List returns runs newest-first.
func (s *Supervisor) List() ([]ListEntry, error) {
	runs, err := s.store.List()
	if err != nil {
		return nil, err
	}
	out := make([]ListEntry, 0, len(runs))
	for _, r := range runs {
		out = append(out, ListEntry{ID: r.ID, Status: r.Status})
	}
	return out, nil
}

func payloadString(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return fmt.Sprint(v)
	}
	return s
}
