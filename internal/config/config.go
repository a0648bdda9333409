// Package config loads the mill configuration file. Every field is
// optional; zero values fall back to built-in defaults so a missing
// config file is never an error.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DriverProcessConfig describes how to launch one driver CLI.
type DriverProcessConfig struct {
	Command string            `json:"command" yaml:"command"`
	Args    []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
}

// ProgramConfig describes the external runtime used to execute user
// programs inside the worker.
type ProgramConfig struct {
	Runtime string   `json:"runtime,omitempty" yaml:"runtime,omitempty"`
	Args    []string `json:"args,omitempty" yaml:"args,omitempty"`
}

// ArtifactConfig limits where factory.observe.artifact may write.
type ArtifactConfig struct {
	Allow []string `json:"allow,omitempty" yaml:"allow,omitempty"`
}

type File struct {
	RunsDir         string                         `json:"runs_dir,omitempty" yaml:"runs_dir,omitempty"`
	DefaultDriver   string                         `json:"default_driver,omitempty" yaml:"default_driver,omitempty"`
	DefaultExecutor string                         `json:"default_executor,omitempty" yaml:"default_executor,omitempty"`
	Program         ProgramConfig                  `json:"program,omitempty" yaml:"program,omitempty"`
	Drivers         map[string]DriverProcessConfig `json:"drivers,omitempty" yaml:"drivers,omitempty"`
	Artifacts       ArtifactConfig                 `json:"artifacts,omitempty" yaml:"artifacts,omitempty"`
}

const (
	defaultDriver   = "pi"
	defaultExecutor = "direct"
	defaultRuntime  = "bun"
)

// Load reads the config file from MILL_CONFIG or ~/.mill/config.yaml.
// A missing file yields the zero config.
func Load() (*File, error) {
	path := strings.TrimSpace(os.Getenv("MILL_CONFIG"))
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return &File{}, nil
		}
		path = filepath.Join(home, ".mill", "config.yaml")
	}
	return LoadFile(path)
}

// LoadFile reads a config file from an explicit path. A missing file
// yields the zero config; a malformed file is an error.
func LoadFile(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &File{}, nil
		}
		return nil, err
	}
	var cfg File
	dec := yaml.NewDecoder(strings.NewReader(string(b)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

// Driver returns the configured default driver tag.
func (f *File) Driver() string {
	if f != nil && strings.TrimSpace(f.DefaultDriver) != "" {
		return strings.TrimSpace(f.DefaultDriver)
	}
	return defaultDriver
}

// Executor returns the configured default executor tag.
func (f *File) Executor() string {
	if f != nil && strings.TrimSpace(f.DefaultExecutor) != "" {
		return strings.TrimSpace(f.DefaultExecutor)
	}
	return defaultExecutor
}

// RunsRoot resolves the runs root: explicit flag > config > ~/.mill/runs.
func (f *File) RunsRoot(flagValue string) (string, error) {
	if v := strings.TrimSpace(flagValue); v != "" {
		return filepath.Abs(v)
	}
	if f != nil && strings.TrimSpace(f.RunsDir) != "" {
		return filepath.Abs(strings.TrimSpace(f.RunsDir))
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".mill", "runs"), nil
}

// ProgramRuntime resolves the program interpreter command and its
// leading args. MILL_PROGRAM_RUNTIME overrides the config; its value is
// split on whitespace.
func (f *File) ProgramRuntime() (string, []string) {
	if v := strings.TrimSpace(os.Getenv("MILL_PROGRAM_RUNTIME")); v != "" {
		parts := strings.Fields(v)
		return parts[0], parts[1:]
	}
	if f != nil && strings.TrimSpace(f.Program.Runtime) != "" {
		return strings.TrimSpace(f.Program.Runtime), append([]string{}, f.Program.Args...)
	}
	return defaultRuntime, nil
}

// DriverProcess returns the configured process config for a driver tag.
// It reports false, with an empty config, when the config has no entry
// with a command for that tag.
func (f *File) DriverProcess(tag string) (DriverProcessConfig, bool) {
	if f == nil || f.Drivers == nil {
		return DriverProcessConfig{}, false
	}
	pc, ok := f.Drivers[strings.TrimSpace(tag)]
	if !ok || strings.TrimSpace(pc.Command) == "" {
		return DriverProcessConfig{}, false
	}
	return pc, true
}

// ArtifactGlobs returns the artifact allow globs, defaulting to
// everything inside the run directory.
func (f *File) ArtifactGlobs() []string {
	if f == nil || len(f.Artifacts.Allow) == 0 {
		return []string{"**"}
	}
	return append([]string{}, f.Artifacts.Allow...)
}
