// Package driver adapts LLM agent backends to mill: a process config to
// launch one driver CLI per spawn, and a codec that turns the process's
// line-delimited stdout into normalized events and a terminal result.
package driver

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/laulauland/mill/internal/config"
	"github.com/laulauland/mill/internal/errkind"
)

// SpawnInput is one factory.spawn request, bound to a run.
type SpawnInput struct {
	RunID        string   `json:"runId"`
	SpawnID      string   `json:"spawnId"`
	Agent        string   `json:"agent"`
	SystemPrompt string   `json:"systemPrompt"`
	Prompt       string   `json:"prompt"`
	Model        string   `json:"model"`
	RunDirectory string   `json:"runDirectory,omitempty"`
	Cwd          string   `json:"cwd,omitempty"`
	Tools        []string `json:"tools,omitempty"`

	// driverTag is the run's driver binding, set by the worker rather
	// than the program.
	driverTag string
}

// Validate enforces the spawn input contract before any process starts.
func (in SpawnInput) Validate() error {
	if strings.TrimSpace(in.RunID) == "" {
		return errkind.New(errkind.InvalidInput, "spawn input missing runId")
	}
	if strings.TrimSpace(in.SpawnID) == "" {
		return errkind.New(errkind.InvalidInput, "spawn input missing spawnId")
	}
	if strings.TrimSpace(in.Prompt) == "" {
		return errkind.New(errkind.InvalidInput, "spawn input missing prompt")
	}
	return nil
}

// SpawnResult is the normalized terminal document of one spawn.
type SpawnResult struct {
	Text         string `json:"text"`
	SessionRef   string `json:"sessionRef"`
	Agent        string `json:"agent"`
	Model        string `json:"model"`
	Driver       string `json:"driver"`
	ExitCode     int    `json:"exitCode"`
	StopReason   string `json:"stopReason,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// Event is a normalized driver event before it is wrapped into the
// run's event log (the worker assigns run id, sequence, and timestamp).
type Event struct {
	Type    string
	Payload map[string]any
}

// Normalized event types emitted by codecs.
const (
	EventMilestone = "milestone"
	EventToolCall  = "tool_call"
	EventIO        = "io"
)

// SpawnOutput is what a codec produces from a driver's stdout.
type SpawnOutput struct {
	Events []Event
	Result SpawnResult
	Raw    []string
}

// Codec decodes one driver dialect. Implementations are small state
// machines over the line stream; all of them enforce the universal
// rules in decodeLines.
type Codec interface {
	Name() string
	Decode(stdout []byte, in SpawnInput) (*SpawnOutput, error)
}

// SessionPointer is the introspection answer for a session ref.
type SessionPointer struct {
	Driver     string `json:"driver"`
	SessionRef string `json:"sessionRef"`
	Pointer    string `json:"pointer"`
}

// Driver bundles a codec with its process invocation.
type Driver struct {
	Name    string
	Process config.DriverProcessConfig
	Codec   Codec

	// UnqualifiedModel strips the provider prefix ("anthropic/claude-x"
	// -> "claude-x") before passing --model, for CLIs that expect bare ids.
	UnqualifiedModel bool
}

// Registry maps driver tags to drivers. Built from the config file; the
// builtin drivers are always present.
type Registry struct {
	drivers map[string]*Driver
}

// NewRegistry builds the registry, applying per-driver process
// overrides from the config file.
func NewRegistry(cfg *config.File) *Registry {
	r := &Registry{drivers: map[string]*Driver{}}
	for _, d := range builtinDrivers() {
		if pc, ok := cfg.DriverProcess(d.Name); ok {
			d.Process = pc
		}
		r.drivers[d.Name] = d
	}
	return r
}

// Lookup resolves a driver tag.
func (r *Registry) Lookup(tag string) (*Driver, error) {
	d, ok := r.drivers[strings.TrimSpace(tag)]
	if !ok {
		return nil, errkind.New(errkind.InvalidInput, "unknown driver %q", tag)
	}
	return d, nil
}

// Tags lists registered driver tags, sorted.
func (r *Registry) Tags() []string {
	out := make([]string, 0, len(r.drivers))
	for tag := range r.drivers {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

func builtinDrivers() []*Driver {
	return []*Driver{
		{
			Name:             "claude",
			Process:          config.DriverProcessConfig{Command: "claude", Args: []string{"-p", "--output-format", "stream-json", "--verbose"}},
			Codec:            &ClaudeCodec{},
			UnqualifiedModel: true,
		},
		{
			Name:    "pi",
			Process: config.DriverProcessConfig{Command: "pi", Args: []string{"--mode", "json"}},
			Codec:   &PICodec{},
		},
		{
			Name:    "codex",
			Process: config.DriverProcessConfig{Command: "codex", Args: []string{"exec", "--json"}},
			Codec:   &CodexCodec{},
		},
	}
}

// ResolveSession answers introspection queries for a session ref by
// naming the driver-specific handle it points at.
func (r *Registry) ResolveSession(ctx context.Context, tag string, sessionRef string) (*SessionPointer, error) {
	d, err := r.Lookup(tag)
	if err != nil {
		return nil, err
	}
	ref := strings.TrimSpace(sessionRef)
	if ref == "" {
		return nil, errkind.New(errkind.InvalidInput, "empty session ref")
	}
	pointer := ref
	if d.Name == "claude" || d.Name == "codex" {
		pointer = fmt.Sprintf("%s session %s", d.Name, ref)
	}
	return &SessionPointer{Driver: d.Name, SessionRef: ref, Pointer: pointer}, nil
}
